package score

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mselvam/inboxzero/internal/model"
)

func TestScoreBuckets(t *testing.T) {
	tests := []struct {
		name     string
		subject  string
		category model.Category
		hint     model.PriorityHint
		want     model.Priority
	}{
		{
			// 30 + 40 + 30 = 100
			name:     "important deadline with high hint",
			subject:  "Project deadline tomorrow",
			category: model.CategoryImportant,
			hint:     model.HintHigh,
			want:     model.PriorityHigh,
		},
		{
			// 20 + 15 = 35
			name:     "personal medium hint",
			subject:  "Coffee next week?",
			category: model.CategoryPersonal,
			hint:     model.HintMedium,
			want:     model.PriorityMedium,
		},
		{
			// 0 + 0 = 0
			name:     "newsletter low hint",
			subject:  "Weekly Updates",
			category: model.CategoryNewsletter,
			hint:     model.HintLow,
			want:     model.PriorityLow,
		},
		{
			// -50 + 30 (keyword) + 30 (hint) = 10: spam never climbs out
			name:     "spam with urgency bait",
			subject:  "URGENT: verify your password",
			category: model.CategorySpam,
			hint:     model.HintHigh,
			want:     model.PriorityLow,
		},
		{
			// 40 exactly: below the 50 floor, above the 25 floor
			name:     "important with no hint",
			subject:  "Quarterly planning",
			category: model.CategoryImportant,
			hint:     model.HintLow,
			want:     model.PriorityMedium,
		},
		{
			// 20 + 15 = 35 vs 30 + 20 + 15 = 65 with keyword
			name:     "personal with urgency keyword",
			subject:  "Security question about the house",
			category: model.CategoryPersonal,
			hint:     model.HintMedium,
			want:     model.PriorityHigh,
		},
		{
			// keyword bonus applies once regardless of keyword count
			name:     "multiple keywords count once",
			subject:  "urgent critical overdue deadline",
			category: model.CategoryNewsletter,
			hint:     model.HintLow,
			want:     model.PriorityMedium, // 30
		},
		{
			name:     "keyword match is case-insensitive",
			subject:  "DEADLINE approaching",
			category: model.CategoryNewsletter,
			hint:     model.HintLow,
			want:     model.PriorityMedium,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Score(tt.subject, tt.category, tt.hint))
		})
	}
}

func TestScoreDeterminism(t *testing.T) {
	first := Score("Deadline reminder", model.CategoryImportant, model.HintHigh)
	for i := 0; i < 100; i++ {
		assert.Equal(t, first,
			Score("Deadline reminder", model.CategoryImportant, model.HintHigh))
	}
}

func TestMediumFloorIsTwentyFive(t *testing.T) {
	// Personal with no hint scores exactly 20, which sits below the
	// canonical MEDIUM floor of 25.
	assert.Equal(t, model.PriorityLow,
		Score("hello", model.CategoryPersonal, model.HintLow))
}

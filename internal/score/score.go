// Package score computes the deterministic priority bucket for a
// classified message.
package score

import (
	"strings"

	"github.com/mselvam/inboxzero/internal/model"
)

// urgencyKeywords trigger the subject bonus. Caseless substring match.
var urgencyKeywords = []string{
	"urgent", "asap", "immediate", "deadline", "critical", "overdue",
	"security", "alert", "verify", "password", "login",
}

const (
	urgencyBonus = 30

	importantBonus = 40
	personalBonus  = 20
	spamPenalty    = -50

	hintHighBonus   = 30
	hintMediumBonus = 15

	highFloor   = 50
	mediumFloor = 25
)

// Score maps a subject line, category, and the classifier's priority
// hint to a priority bucket. It is a pure function: identical inputs
// always produce the identical bucket.
func Score(subject string, category model.Category, hint model.PriorityHint) model.Priority {
	total := 0
	subjectLower := strings.ToLower(subject)

	for _, kw := range urgencyKeywords {
		if strings.Contains(subjectLower, kw) {
			total += urgencyBonus
			break
		}
	}

	switch category {
	case model.CategoryImportant:
		total += importantBonus
	case model.CategoryPersonal:
		total += personalBonus
	case model.CategorySpam:
		total += spamPenalty
	}

	switch hint {
	case model.HintHigh:
		total += hintHighBonus
	case model.HintMedium:
		total += hintMediumBonus
	}

	switch {
	case total >= highFloor:
		return model.PriorityHigh
	case total >= mediumFloor:
		return model.PriorityMedium
	default:
		return model.PriorityLow
	}
}

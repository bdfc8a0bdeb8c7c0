package classify

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mselvam/inboxzero/internal/model"
	"github.com/mselvam/inboxzero/internal/ratelimit"
)

type stubClassifier struct {
	calls   atomic.Int64
	verdict model.Verdict
	err     error
}

func (s *stubClassifier) Classify(_ context.Context, _, _, _ string) (model.Verdict, error) {
	s.calls.Add(1)
	if s.err != nil {
		return model.Verdict{}, s.err
	}
	return s.verdict, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNoReplyShortcut(t *testing.T) {
	senders := []string{
		"no-reply@newsletter.com",
		"NoReply@shop.example",
		"donotreply@bank.example",
		"Do-Not-Reply <do-not-reply@corp.example>",
		"notifications@github.com",
		"automated@ci.example",
		"MAILER-DAEMON@mx.example",
	}

	stub := &stubClassifier{}
	a := NewAnalyzer(stub, nil, "Mariselvam M", discardLogger())

	for _, sender := range senders {
		v, err := a.Analyze(context.Background(),
			model.Message{ID: "m1", Sender: sender, Subject: "Weekly Updates"},
			"Check out our updates")
		require.NoError(t, err, sender)
		assert.Equal(t, model.CategoryNewsletter, v.Category, sender)
		assert.Equal(t, model.HintLow, v.PriorityHint, sender)
		assert.Equal(t, "No reply needed", v.Reply, sender)
		assert.False(t, v.NeedsReply, sender)
		assert.False(t, v.IsFallback, sender)
	}

	assert.Zero(t, stub.calls.Load(), "classifier must not be called for no-reply senders")
}

func TestNoReplyShortcutSkipsLimiter(t *testing.T) {
	limiter := ratelimit.New(1, time.Hour, discardLogger())
	require.NoError(t, limiter.Acquire(context.Background())) // saturate

	a := NewAnalyzer(&stubClassifier{}, limiter, "", discardLogger())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := a.Analyze(ctx,
		model.Message{Sender: "noreply@x.com", Subject: "hi"}, "")
	require.NoError(t, err, "shortcut must not block on the saturated limiter")
}

func TestFallbackNewsletterHeuristic(t *testing.T) {
	stub := &stubClassifier{err: &TransientError{Op: "call API", Err: errors.New("timeout")}}
	a := NewAnalyzer(stub, nil, "Mariselvam M", discardLogger())

	for _, subject := range []string{
		"Our Newsletter for June",
		"Click to UNSUBSCRIBE",
		"Summer promotion inside",
	} {
		v, err := a.Analyze(context.Background(),
			model.Message{ID: "m2", Sender: "news@brand.com", Subject: subject}, "body")
		require.NoError(t, err)
		assert.Equal(t, model.CategoryNewsletter, v.Category, subject)
		assert.False(t, v.NeedsReply, subject)
		assert.True(t, v.IsFallback, subject)
	}
}

func TestFallbackPersonalAcknowledgment(t *testing.T) {
	stub := &stubClassifier{err: errors.New("boom")}
	a := NewAnalyzer(stub, nil, "Mariselvam M", discardLogger())

	v, err := a.Analyze(context.Background(), model.Message{
		ID:      "m3",
		Sender:  "John Doe <john.doe@company.com>",
		Subject: "Project status",
	}, "How is it going?")
	require.NoError(t, err)

	assert.Equal(t, model.CategoryPersonal, v.Category)
	assert.True(t, v.NeedsReply)
	assert.True(t, v.IsFallback)
	assert.Contains(t, v.Reply, "Dear John Doe")
	assert.Contains(t, v.Reply, `"Project status"`)
	assert.Contains(t, v.Reply, "Mariselvam M")
}

func TestAnalyzeAcquiresLimiter(t *testing.T) {
	limiter := ratelimit.New(10, time.Minute, discardLogger())
	stub := &stubClassifier{verdict: model.Verdict{
		Category:     model.CategoryImportant,
		PriorityHint: model.HintHigh,
		Reply:        "On it.",
		NeedsReply:   true,
	}}
	a := NewAnalyzer(stub, limiter, "", discardLogger())

	_, err := a.Analyze(context.Background(), model.Message{
		Sender:  "boss@corp.example",
		Subject: "deadline",
	}, "now")
	require.NoError(t, err)
	assert.Equal(t, 1, limiter.InFlight())
	assert.Equal(t, int64(1), stub.calls.Load())
}

func TestParseVerdictJSON(t *testing.T) {
	text := "Here is my analysis:\n" +
		`{"category": "Important", "priority": "High", "reply": "Hi Sarah!",` +
		` "reasoning": "work request", "needs_reply": true}` + "\nDone."

	v := parseVerdict(text)
	assert.Equal(t, model.CategoryImportant, v.Category)
	assert.Equal(t, model.HintHigh, v.PriorityHint)
	assert.Equal(t, "Hi Sarah!", v.Reply)
	assert.True(t, v.NeedsReply)
}

func TestParseVerdictInfersNeedsReply(t *testing.T) {
	v := parseVerdict(`{"category": "Newsletter", "priority": "Low", "reply": "No reply needed"}`)
	assert.False(t, v.NeedsReply)

	v = parseVerdict(`{"category": "Personal", "priority": "Medium", "reply": "Sounds great!"}`)
	assert.True(t, v.NeedsReply)
}

func TestParseVerdictTextFallback(t *testing.T) {
	v := parseVerdict("Category: Spam\nPriority: Low\nReply: No reply needed")
	assert.Equal(t, model.CategorySpam, v.Category)
	assert.Equal(t, model.HintLow, v.PriorityHint)
	assert.False(t, v.NeedsReply)
}

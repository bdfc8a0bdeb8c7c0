package scan

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mselvam/inboxzero/internal/automation"
	"github.com/mselvam/inboxzero/internal/classify"
	"github.com/mselvam/inboxzero/internal/model"
	"github.com/mselvam/inboxzero/internal/ratelimit"
	"github.com/mselvam/inboxzero/internal/store"
	"github.com/mselvam/inboxzero/tests/testutil"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type stubClassifier struct {
	mu      sync.Mutex
	calls   int
	verdict model.Verdict
	err     error
}

func (s *stubClassifier) Classify(_ context.Context, _, _, _ string) (model.Verdict, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return s.verdict, s.err
}

func (s *stubClassifier) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// fakeGateway records side effects and optionally blocks FetchUnseen
// so single-flight behavior can be observed.
type fakeGateway struct {
	mu       sync.Mutex
	messages []model.Message
	fetchErr error
	block    chan struct{}

	archived []string
	deleted  []string
	marked   []string
	drafts   []string
	sent     []string
}

func (f *fakeGateway) FetchUnseen(ctx context.Context, maxResults int) ([]model.Message, error) {
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	if len(f.messages) > maxResults {
		return f.messages[:maxResults], nil
	}
	return f.messages, nil
}

func (f *fakeGateway) Archive(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.archived = append(f.archived, id)
	return nil
}

func (f *fakeGateway) Delete(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakeGateway) CreateDraft(_ context.Context, to, _, _, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.drafts = append(f.drafts, to)
	return nil
}

func (f *fakeGateway) Send(_ context.Context, to, _, _, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, to)
	return nil
}

func (f *fakeGateway) MarkRead(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.marked = append(f.marked, id)
	return nil
}

func (f *fakeGateway) markedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.marked)
}

// failingStore wraps a real store but refuses to persist one message.
type failingStore struct {
	store.Store
	failID string
}

func (f *failingStore) CreateRecord(ctx context.Context, rec model.Record) error {
	if rec.MessageID == f.failID {
		return errors.New("disk full")
	}
	return f.Store.CreateRecord(ctx, rec)
}

func newScanner(t *testing.T, gw *fakeGateway, stub *stubClassifier, st store.Store, rules model.RuleSet) *Scanner {
	t.Helper()
	logger := discardLogger()
	limiter := ratelimit.New(1000, time.Minute, logger)
	analyzer := classify.NewAnalyzer(stub, limiter, "Magesh", logger)
	engine := automation.New(gw, automation.StaticRules(rules), logger)
	return New(gw, analyzer, engine, st, logger, Options{Workers: 4})
}

func personalVerdict() model.Verdict {
	return model.Verdict{
		Category:     model.CategoryPersonal,
		PriorityHint: model.HintMedium,
		Reply:        "Thanks, I will take a look.",
		Reasoning:    "direct question from a colleague",
		NeedsReply:   true,
	}
}

func messages(ids ...string) []model.Message {
	out := make([]model.Message, 0, len(ids))
	for _, id := range ids {
		out = append(out, model.Message{
			ID:      id,
			Sender:  "Alice <alice@example.com>",
			Subject: "project update",
			Snippet: "quick question about the rollout",
			Body:    "quick question about the rollout, can you confirm?",
		})
	}
	return out
}

func TestScanProcessesBatch(t *testing.T) {
	st := testutil.NewTestStore(t)
	gw := &fakeGateway{messages: messages("m1", "m2", "m3")}
	stub := &stubClassifier{verdict: personalVerdict()}
	s := newScanner(t, gw, stub, st, model.RuleSet{})

	report, err := s.Scan(context.Background(), 20, true)
	require.NoError(t, err)

	assert.Equal(t, 3, report.Total)
	assert.Equal(t, 3, report.Processed)
	assert.Zero(t, report.Cached)
	assert.Zero(t, report.Errors)
	assert.NotEmpty(t, report.RunID)

	for _, id := range []string{"m1", "m2", "m3"} {
		rec, err := st.GetRecord(context.Background(), id)
		require.NoError(t, err)
		require.NotNil(t, rec)
		assert.Equal(t, model.CategoryPersonal, rec.Category)
		assert.True(t, rec.NeedsReply)
		assert.Nil(t, rec.AutomationAction)
	}

	assert.Equal(t, 3, gw.markedCount())
	assert.Len(t, gw.drafts, 3)
}

func TestScanLargeBatchAllProcessed(t *testing.T) {
	ids := make([]string, 20)
	for i := range ids {
		ids[i] = "m" + string(rune('a'+i))
	}

	st := testutil.NewTestStore(t)
	gw := &fakeGateway{messages: messages(ids...)}
	stub := &stubClassifier{verdict: personalVerdict()}

	logger := discardLogger()
	limiter := ratelimit.New(1000, time.Minute, logger)
	analyzer := classify.NewAnalyzer(stub, limiter, "Magesh", logger)
	engine := automation.New(gw, automation.StaticRules(model.RuleSet{}), logger)
	s := New(gw, analyzer, engine, st, logger, Options{Workers: 10})

	report, err := s.Scan(context.Background(), 20, false)
	require.NoError(t, err)

	assert.Equal(t, 20, report.Total)
	assert.Equal(t, 20, report.Processed)
	assert.Zero(t, report.Cached)
	assert.Zero(t, report.Errors)
	assert.Equal(t, 20, gw.markedCount())
}

func TestScanSecondPassIsAllCached(t *testing.T) {
	st := testutil.NewTestStore(t)
	gw := &fakeGateway{messages: messages("m1", "m2")}
	stub := &stubClassifier{verdict: personalVerdict()}
	s := newScanner(t, gw, stub, st, model.RuleSet{})

	_, err := s.Scan(context.Background(), 20, false)
	require.NoError(t, err)
	firstCalls := stub.callCount()
	assert.Equal(t, 2, firstCalls)

	report, err := s.Scan(context.Background(), 20, false)
	require.NoError(t, err)

	assert.Equal(t, 2, report.Cached)
	assert.Zero(t, report.Processed)
	assert.Equal(t, firstCalls, stub.callCount(), "cached messages must not be re-classified")
}

func TestScanSingleFlight(t *testing.T) {
	st := testutil.NewTestStore(t)
	gw := &fakeGateway{messages: messages("m1"), block: make(chan struct{})}
	stub := &stubClassifier{verdict: personalVerdict()}
	s := newScanner(t, gw, stub, st, model.RuleSet{})

	var firstErr atomic.Value
	done := make(chan struct{})
	go func() {
		defer close(done)
		if _, err := s.Scan(context.Background(), 20, false); err != nil {
			firstErr.Store(err)
		}
	}()

	// Wait for the first scan to claim the flag.
	require.Eventually(t, s.InProgress, time.Second, time.Millisecond)

	_, err := s.Scan(context.Background(), 20, false)
	assert.ErrorIs(t, err, ErrScanInProgress)

	close(gw.block)
	<-done
	assert.Nil(t, firstErr.Load())
	assert.False(t, s.InProgress())

	// The flag is released, a new scan may start.
	_, err = s.Scan(context.Background(), 20, false)
	assert.NoError(t, err)
}

func TestStartClaimsFlagBeforeReturning(t *testing.T) {
	st := testutil.NewTestStore(t)
	gw := &fakeGateway{messages: messages("m1"), block: make(chan struct{})}
	stub := &stubClassifier{verdict: personalVerdict()}
	s := newScanner(t, gw, stub, st, model.RuleSet{})

	done := make(chan struct{})
	err := s.Start(context.Background(), 20, false, func(*model.ScanReport, error) {
		close(done)
	})
	require.NoError(t, err)

	// No settling window: the flag is already held when Start returns.
	assert.True(t, s.InProgress())
	assert.ErrorIs(t, s.Start(context.Background(), 20, false, nil), ErrScanInProgress)

	close(gw.block)
	<-done
}

func TestScanOutcomeConservation(t *testing.T) {
	st := testutil.NewTestStore(t)
	require.NoError(t, st.CreateRecord(context.Background(), model.Record{
		MessageID:   "m1",
		Sender:      "alice@example.com",
		Subject:     "already seen",
		Category:    model.CategoryPersonal,
		Priority:    model.PriorityLow,
		ProcessedAt: time.Now(),
	}))

	gw := &fakeGateway{messages: messages("m1", "m2", "m3", "m4")}
	stub := &stubClassifier{verdict: personalVerdict()}
	s := newScanner(t, gw, stub, &failingStore{Store: st, failID: "m3"}, model.RuleSet{})

	report, err := s.Scan(context.Background(), 20, false)
	require.NoError(t, err)

	assert.Equal(t, 4, report.Total)
	assert.Equal(t, 1, report.Cached)
	assert.Equal(t, 1, report.Errors)
	assert.Equal(t, 2, report.Processed)
	assert.Equal(t, report.Total, report.Processed+report.Cached+report.Errors)
}

func TestScanAutomationSuppressesDraft(t *testing.T) {
	st := testutil.NewTestStore(t)
	gw := &fakeGateway{messages: []model.Message{{
		ID:      "n1",
		Sender:  "Weekly Digest <editor@weekly.example.com>",
		Subject: "your monday roundup",
		Body:    "all the news that fits",
	}}}
	stub := &stubClassifier{verdict: model.Verdict{
		Category:     model.CategoryNewsletter,
		PriorityHint: model.HintLow,
		Reply:        "Thanks for the roundup!",
		NeedsReply:   true,
	}}
	rules := model.RuleSet{Enabled: true, ArchiveNewsletters: true}
	s := newScanner(t, gw, stub, st, rules)

	report, err := s.Scan(context.Background(), 20, true)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Processed)

	rec, err := st.GetRecord(context.Background(), "n1")
	require.NoError(t, err)
	require.NotNil(t, rec)
	require.NotNil(t, rec.AutomationAction)
	assert.Equal(t, model.ActionArchivedNewsletter, *rec.AutomationAction)
	assert.True(t, rec.Archived)

	assert.Equal(t, []string{"n1"}, gw.archived)
	assert.Empty(t, gw.drafts, "an automated message must not also get a draft")
}

func TestScanDeletedSpamFlagsRecord(t *testing.T) {
	st := testutil.NewTestStore(t)
	gw := &fakeGateway{messages: []model.Message{{
		ID:      "s1",
		Sender:  "winner@lottery.example.com",
		Subject: "you won",
		Body:    "claim your prize now",
	}}}
	stub := &stubClassifier{verdict: model.Verdict{
		Category:     model.CategorySpam,
		PriorityHint: model.HintLow,
		Reply:        "No reply needed",
	}}
	rules := model.RuleSet{Enabled: true, DeleteSpam: true}
	s := newScanner(t, gw, stub, st, rules)

	_, err := s.Scan(context.Background(), 20, false)
	require.NoError(t, err)

	rec, err := st.GetRecord(context.Background(), "s1")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.True(t, rec.Deleted)
	assert.False(t, rec.Archived)
	assert.Equal(t, []string{"s1"}, gw.deleted)
}

func TestScanSnoozedMessageSkipped(t *testing.T) {
	st := testutil.NewTestStore(t)
	require.NoError(t, st.Snooze(context.Background(), "m1", time.Now().Add(time.Hour)))

	gw := &fakeGateway{messages: messages("m1", "m2")}
	stub := &stubClassifier{verdict: personalVerdict()}
	s := newScanner(t, gw, stub, st, model.RuleSet{})

	report, err := s.Scan(context.Background(), 20, false)
	require.NoError(t, err)

	assert.Equal(t, 1, report.Cached)
	assert.Equal(t, 1, report.Processed)
	assert.Equal(t, 1, stub.callCount())

	rec, err := st.GetRecord(context.Background(), "m1")
	require.NoError(t, err)
	assert.Nil(t, rec, "snoozed message must not be classified or persisted")
}

func TestScanWakesDueSnoozes(t *testing.T) {
	st := testutil.NewTestStore(t)
	require.NoError(t, st.Snooze(context.Background(), "m1", time.Now().Add(-time.Minute)))

	gw := &fakeGateway{messages: messages("m1")}
	stub := &stubClassifier{verdict: personalVerdict()}
	s := newScanner(t, gw, stub, st, model.RuleSet{})

	report, err := s.Scan(context.Background(), 20, false)
	require.NoError(t, err)

	assert.Equal(t, 1, report.Processed, "an expired snooze must not block processing")
}

func TestBodyPreviewRespectsRuneBoundaries(t *testing.T) {
	st := testutil.NewTestStore(t)
	gw := &fakeGateway{}
	stub := &stubClassifier{verdict: personalVerdict()}

	logger := discardLogger()
	limiter := ratelimit.New(1000, time.Minute, logger)
	analyzer := classify.NewAnalyzer(stub, limiter, "Magesh", logger)
	engine := automation.New(gw, automation.StaticRules(model.RuleSet{}), logger)
	s := New(gw, analyzer, engine, st, logger, Options{Workers: 1, BodyPreviewLen: 5})

	// the é spans bytes 4-5, so a naive byte-5 cut would split it
	preview := s.bodyPreview(model.Message{Body: "abcdé and more"})
	assert.True(t, utf8.ValidString(preview), "preview must never split a rune: %q", preview)
	assert.Equal(t, "abcd", preview)

	// ascii bodies cut exactly at the limit
	assert.Equal(t, "abcde", s.bodyPreview(model.Message{Body: "abcdefgh"}))

	// short bodies and snippet fallback are untouched
	assert.Equal(t, "hi", s.bodyPreview(model.Message{Body: "hi"}))
	assert.Equal(t, "snip", s.bodyPreview(model.Message{Snippet: "snip"}))
}

func TestScanEmptyInbox(t *testing.T) {
	st := testutil.NewTestStore(t)
	gw := &fakeGateway{}
	stub := &stubClassifier{verdict: personalVerdict()}
	s := newScanner(t, gw, stub, st, model.RuleSet{})

	report, err := s.Scan(context.Background(), 20, false)
	require.NoError(t, err)
	assert.Zero(t, report.Total)
	assert.Zero(t, report.Processed)
	assert.Zero(t, stub.callCount())
}

func TestScanFetchFailure(t *testing.T) {
	st := testutil.NewTestStore(t)
	gw := &fakeGateway{fetchErr: errors.New("connection reset")}
	stub := &stubClassifier{}
	s := newScanner(t, gw, stub, st, model.RuleSet{})

	_, err := s.Scan(context.Background(), 20, false)
	require.Error(t, err)
	assert.False(t, s.InProgress(), "a failed scan must release the flag")
}

func TestScanProgressReported(t *testing.T) {
	st := testutil.NewTestStore(t)
	gw := &fakeGateway{messages: messages("m1", "m2", "m3")}
	stub := &stubClassifier{verdict: personalVerdict()}

	var mu sync.Mutex
	var seen []int
	logger := discardLogger()
	limiter := ratelimit.New(1000, time.Minute, logger)
	analyzer := classify.NewAnalyzer(stub, limiter, "Magesh", logger)
	engine := automation.New(gw, automation.StaticRules(model.RuleSet{}), logger)
	s := New(gw, analyzer, engine, st, logger, Options{
		Workers: 2,
		OnProgress: func(done, total int) {
			mu.Lock()
			defer mu.Unlock()
			seen = append(seen, done)
			assert.Equal(t, 3, total)
		},
	})

	_, err := s.Scan(context.Background(), 20, false)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, seen)
}

// Package scan orchestrates the triage pipeline: fetch a batch of
// unseen messages, drive each through classification, scoring,
// automation, and persistence on a bounded worker pool, and aggregate
// the outcomes into a scan report.
package scan

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/mselvam/inboxzero/internal/automation"
	"github.com/mselvam/inboxzero/internal/classify"
	"github.com/mselvam/inboxzero/internal/gateway"
	"github.com/mselvam/inboxzero/internal/model"
	"github.com/mselvam/inboxzero/internal/score"
	"github.com/mselvam/inboxzero/internal/store"
)

// ErrScanInProgress is returned when a scan is requested while another
// is active. Concurrent requests are rejected, never queued.
var ErrScanInProgress = errors.New("scan already in progress")

const (
	defaultWorkers    = 10
	defaultPreviewLen = 1500
)

// taskOutcome is the terminal state of one message's pipeline run.
type taskOutcome int

const (
	outcomeProcessed taskOutcome = iota
	outcomeCached
	outcomeError
)

// Options tunes scanner behavior beyond its collaborators.
type Options struct {
	// Workers caps the number of concurrent pipeline tasks.
	Workers int

	// BodyPreviewLen truncates message bodies before classification.
	BodyPreviewLen int

	// OnProgress, when set, receives (done, total) after each task.
	OnProgress func(done, total int)
}

// Scanner coordinates one scan at a time over the shared store.
type Scanner struct {
	gw       gateway.MailGateway
	analyzer *classify.Analyzer
	engine   *automation.Engine
	store    store.Store
	logger   *slog.Logger
	opts     Options

	inProgress atomic.Bool
}

// New creates a Scanner. logger may be nil.
func New(
	gw gateway.MailGateway,
	analyzer *classify.Analyzer,
	engine *automation.Engine,
	st store.Store,
	logger *slog.Logger,
	opts Options,
) *Scanner {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Workers <= 0 {
		opts.Workers = defaultWorkers
	}
	if opts.BodyPreviewLen <= 0 {
		opts.BodyPreviewLen = defaultPreviewLen
	}
	return &Scanner{
		gw:       gw,
		analyzer: analyzer,
		engine:   engine,
		store:    st,
		logger:   logger,
		opts:     opts,
	}
}

// InProgress reports whether a scan is currently active.
func (s *Scanner) InProgress() bool {
	return s.inProgress.Load()
}

// Scan fetches up to maxEmails unseen messages and drives each through
// the pipeline on a bounded worker pool. The scan runs to completion
// of its batch; a single task's failure never discards the rest. A
// second call while a scan is active returns ErrScanInProgress.
func (s *Scanner) Scan(ctx context.Context, maxEmails int, autoDraft bool) (*model.ScanReport, error) {
	if !s.inProgress.CompareAndSwap(false, true) {
		return nil, ErrScanInProgress
	}
	defer s.inProgress.Store(false)

	return s.run(ctx, maxEmails, autoDraft)
}

// Start claims the in-progress flag synchronously and runs the scan
// in the background, so a concurrent caller is told ErrScanInProgress
// before this call returns. done, when set, receives the report or
// the scan error.
func (s *Scanner) Start(ctx context.Context, maxEmails int, autoDraft bool, done func(*model.ScanReport, error)) error {
	if !s.inProgress.CompareAndSwap(false, true) {
		return ErrScanInProgress
	}

	go func() {
		defer s.inProgress.Store(false)
		report, err := s.run(ctx, maxEmails, autoDraft)
		if done != nil {
			done(report, err)
		}
	}()
	return nil
}

func (s *Scanner) run(ctx context.Context, maxEmails int, autoDraft bool) (*model.ScanReport, error) {
	report := &model.ScanReport{
		RunID:   uuid.New().String(),
		Started: time.Now(),
	}

	if woken, err := s.store.WakeDue(ctx, time.Now()); err != nil {
		s.logger.Warn("waking snoozes failed", "err", err)
	} else if woken > 0 {
		s.logger.Info("snoozed messages woken", "count", woken)
	}

	messages, err := s.gw.FetchUnseen(ctx, maxEmails)
	if err != nil {
		return nil, err
	}

	report.Total = len(messages)
	if len(messages) == 0 {
		// Inbox zero: the normal terminal case.
		report.Duration = time.Since(report.Started)
		return report, nil
	}

	s.logger.Info("scan started",
		"run_id", report.RunID, "found", report.Total, "workers", s.opts.Workers)

	jobs := make(chan model.Message)
	outcomes := make(chan taskOutcome, len(messages))

	var wg sync.WaitGroup
	workers := s.opts.Workers
	if workers > len(messages) {
		workers = len(messages)
	}
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for msg := range jobs {
				outcomes <- s.processMessage(ctx, msg, autoDraft)
			}
		}()
	}

	for _, msg := range messages {
		jobs <- msg
	}
	close(jobs)
	wg.Wait()
	close(outcomes)

	// Counters are aggregated here, after the pool barrier, from
	// per-task outcome values; workers never share mutable counters.
	done := 0
	for outcome := range outcomes {
		switch outcome {
		case outcomeProcessed:
			report.Processed++
		case outcomeCached:
			report.Cached++
		case outcomeError:
			report.Errors++
		}
		done++
		if s.opts.OnProgress != nil {
			s.opts.OnProgress(done, report.Total)
		}
	}

	report.Duration = time.Since(report.Started)
	s.logger.Info("scan completed",
		"run_id", report.RunID,
		"found", report.Total,
		"processed", report.Processed,
		"cached", report.Cached,
		"errors", report.Errors,
		"duration", report.Duration.Round(time.Millisecond))

	return report, nil
}

// processMessage runs the full pipeline for one message. Errors are
// isolated to the message; siblings are unaffected.
func (s *Scanner) processMessage(ctx context.Context, msg model.Message, autoDraft bool) taskOutcome {
	if until, err := s.store.SnoozedUntil(ctx, msg.ID); err != nil {
		s.logger.Warn("snooze lookup failed", "id", msg.ID, "err", err)
	} else if until != nil {
		s.logger.Info("message snoozed, skipping", "id", msg.ID, "wake_at", until)
		return outcomeCached
	}

	existing, err := s.store.GetRecord(ctx, msg.ID)
	if err != nil {
		s.logger.Error("record lookup failed", "id", msg.ID, "err", err)
		return outcomeError
	}
	if existing != nil {
		return outcomeCached
	}

	verdict, err := s.analyzer.Analyze(ctx, msg, s.bodyPreview(msg))
	if err != nil {
		s.logger.Error("analysis failed", "id", msg.ID, "err", err)
		return outcomeError
	}

	priority := score.Score(msg.Subject, verdict.Category, verdict.PriorityHint)

	action, taken := s.engine.Apply(ctx, msg.ID, verdict.Category, priority)

	rec := model.Record{
		MessageID:   msg.ID,
		Sender:      msg.Sender,
		Subject:     msg.Subject,
		Snippet:     msg.Snippet,
		ThreadID:    msg.ThreadID,
		Category:    verdict.Category,
		Priority:    priority,
		ReplyText:   verdict.Reply,
		Reasoning:   verdict.Reasoning,
		NeedsReply:  verdict.NeedsReply,
		IsFallback:  verdict.IsFallback,
		ProcessedAt: time.Now(),
	}
	if taken {
		rec.AutomationAction = &action
		switch action {
		case model.ActionDeletedSpam:
			rec.Deleted = true
		default:
			rec.Archived = true
		}
	}

	if err := s.store.CreateRecord(ctx, rec); err != nil {
		s.logger.Error("persisting record failed", "id", msg.ID, "err", err)
		return outcomeError
	}

	if err := s.store.BumpAnalytics(ctx, verdict.Category); err != nil {
		s.logger.Warn("analytics update failed", "id", msg.ID, "err", err)
	}

	// An automation action suppresses draft creation; an archived or
	// deleted message is not also drafted a reply.
	if autoDraft && verdict.NeedsReply && !taken && !strings.Contains(verdict.Reply, "No reply needed") {
		if err := s.gw.CreateDraft(ctx, msg.Sender, msg.Subject, verdict.Reply, msg.ThreadID); err != nil {
			s.logger.Warn("draft creation failed", "id", msg.ID, "err", err)
		} else {
			s.logger.Info("draft created", "id", msg.ID)
		}
	}

	if err := s.gw.MarkRead(ctx, msg.ID); err != nil {
		s.logger.Warn("mark read failed", "id", msg.ID, "err", err)
	}

	return outcomeProcessed
}

func (s *Scanner) bodyPreview(msg model.Message) string {
	body := msg.Body
	if body == "" {
		body = msg.Snippet
	}
	if len(body) > s.opts.BodyPreviewLen {
		cut := s.opts.BodyPreviewLen
		// back off to a rune boundary so the preview never ends in a
		// split UTF-8 sequence
		for cut > 0 && !utf8.RuneStart(body[cut]) {
			cut--
		}
		body = body[:cut]
	}
	return body
}

// Stats proxies aggregated store counts for the presentation layer.
func (s *Scanner) Stats(ctx context.Context) (*model.Stats, error) {
	return s.store.Stats(ctx)
}

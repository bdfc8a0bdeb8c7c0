// Package api exposes the triage pipeline over HTTP: scan control,
// stats and analytics readouts, per-message actions, and autopilot
// rule management.
package api

import (
	"context"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/mselvam/inboxzero/internal/automation"
	"github.com/mselvam/inboxzero/internal/gateway"
	"github.com/mselvam/inboxzero/internal/model"
	"github.com/mselvam/inboxzero/internal/scan"
	"github.com/mselvam/inboxzero/internal/store"
)

// Server wires the pipeline into a fiber application.
type Server struct {
	app     *fiber.App
	scanner *scan.Scanner
	gw      gateway.MailGateway
	st      store.Store
	rules   *automation.StoredRules
	logger  *slog.Logger

	maxEmails  int
	autoDraft  bool
	lastReport atomic.Pointer[model.ScanReport]
}

// Options tunes server behavior.
type Options struct {
	// MaxEmails is the batch size passed to triggered scans.
	MaxEmails int

	// AutoDraft enables reply draft creation during scans.
	AutoDraft bool
}

// NewServer builds the fiber app and registers all routes.
func NewServer(
	scanner *scan.Scanner,
	gw gateway.MailGateway,
	st store.Store,
	rules *automation.StoredRules,
	logger *slog.Logger,
	opts Options,
) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.MaxEmails <= 0 {
		opts.MaxEmails = 20
	}

	s := &Server{
		app: fiber.New(fiber.Config{
			AppName:               "inboxzero",
			DisableStartupMessage: true,
		}),
		scanner:   scanner,
		gw:        gw,
		st:        st,
		rules:     rules,
		logger:    logger,
		maxEmails: opts.MaxEmails,
		autoDraft: opts.AutoDraft,
	}
	s.registerRoutes()
	return s
}

// Listen blocks serving HTTP on addr.
func (s *Server) Listen(addr string) error {
	s.logger.Info("http server listening", "addr", addr)
	return s.app.Listen(addr)
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}

// App exposes the fiber app for tests.
func (s *Server) App() *fiber.App {
	return s.app
}

func (s *Server) registerRoutes() {
	api := s.app.Group("/api")

	api.Get("/health", s.handleHealth)

	api.Post("/scan", s.handleScan)
	api.Get("/scan/status", s.handleScanStatus)

	api.Get("/stats", s.handleStats)
	api.Get("/analytics", s.handleAnalytics)

	api.Get("/emails", s.handleListEmails)
	api.Post("/emails/:id/archive", s.handleArchive)
	api.Post("/emails/:id/delete", s.handleDelete)
	api.Post("/emails/:id/send", s.handleSend)
	api.Post("/emails/:id/snooze", s.handleSnooze)

	api.Get("/autopilot", s.handleGetAutopilot)
	api.Post("/autopilot", s.handleSetAutopilot)
}

func (s *Server) handleHealth(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":     "ok",
		"processing": s.scanner.InProgress(),
	})
}

type scanRequest struct {
	MaxEmails *int  `json:"max_emails"`
	AutoDraft *bool `json:"auto_draft"`
}

// handleScan kicks off a scan in the background. The request body may
// override the configured batch size and draft behavior for this scan
// only. The flag is claimed before responding, so concurrent callers
// always see the conflict.
func (s *Server) handleScan(c *fiber.Ctx) error {
	maxEmails := s.maxEmails
	autoDraft := s.autoDraft

	if len(c.Body()) > 0 {
		var req scanRequest
		if err := c.BodyParser(&req); err != nil {
			return badRequest(c, "invalid request body")
		}
		if req.MaxEmails != nil {
			if *req.MaxEmails < 1 || *req.MaxEmails > 500 {
				return badRequest(c, "max_emails must be between 1 and 500")
			}
			maxEmails = *req.MaxEmails
		}
		if req.AutoDraft != nil {
			autoDraft = *req.AutoDraft
		}
	}

	err := s.scanner.Start(context.Background(), maxEmails, autoDraft, func(report *model.ScanReport, err error) {
		if err != nil {
			s.logger.Error("background scan failed", "err", err)
			return
		}
		s.lastReport.Store(report)
	})
	if err != nil {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"status": "already_processing",
		})
	}

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"status": "started",
	})
}

func (s *Server) handleScanStatus(c *fiber.Ctx) error {
	resp := fiber.Map{
		"processing": s.scanner.InProgress(),
	}
	if report := s.lastReport.Load(); report != nil {
		resp["last_report"] = report
	}
	return c.JSON(resp)
}

func (s *Server) handleStats(c *fiber.Ctx) error {
	stats, err := s.st.Stats(c.Context())
	if err != nil {
		return s.internalError(c, "loading stats", err)
	}
	return c.JSON(stats)
}

func (s *Server) handleAnalytics(c *fiber.Ctx) error {
	days := c.QueryInt("days", 7)
	if days < 1 || days > 90 {
		return badRequest(c, "days must be between 1 and 90")
	}

	rows, err := s.st.Analytics(c.Context(), days)
	if err != nil {
		return s.internalError(c, "loading analytics", err)
	}
	return c.JSON(fiber.Map{"days": rows})
}

func (s *Server) handleListEmails(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 50)
	if limit < 1 || limit > 500 {
		return badRequest(c, "limit must be between 1 and 500")
	}
	includeDeleted := c.QueryBool("include_deleted", false)

	records, err := s.st.Recent(c.Context(), limit, includeDeleted)
	if err != nil {
		return s.internalError(c, "listing emails", err)
	}

	if category := c.Query("category"); category != "" {
		records = filterRecords(records, func(r model.Record) bool {
			return strings.EqualFold(string(r.Category), category)
		})
	}
	if priority := c.Query("priority"); priority != "" {
		records = filterRecords(records, func(r model.Record) bool {
			return strings.EqualFold(string(r.Priority), priority)
		})
	}
	if c.QueryBool("needs_reply", false) {
		records = filterRecords(records, func(r model.Record) bool {
			return r.NeedsReply && !r.Sent
		})
	}

	return c.JSON(fiber.Map{
		"emails": records,
		"count":  len(records),
	})
}

func filterRecords(records []model.Record, keep func(model.Record) bool) []model.Record {
	out := records[:0]
	for _, r := range records {
		if keep(r) {
			out = append(out, r)
		}
	}
	return out
}

// loadRecord fetches the record for the path id, translating absence
// into a 404. The returned bool reports whether the handler should
// continue.
func (s *Server) loadRecord(c *fiber.Ctx) (*model.Record, bool) {
	id := c.Params("id")
	rec, err := s.st.GetRecord(c.Context(), id)
	if err != nil {
		_ = s.internalError(c, "loading record", err)
		return nil, false
	}
	if rec == nil {
		_ = c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "email not found",
		})
		return nil, false
	}
	return rec, true
}

func (s *Server) handleArchive(c *fiber.Ctx) error {
	rec, ok := s.loadRecord(c)
	if !ok {
		return nil
	}

	if err := s.gw.Archive(c.Context(), rec.MessageID); err != nil {
		return s.internalError(c, "archiving email", err)
	}
	if err := s.st.MarkArchived(c.Context(), rec.MessageID); err != nil {
		return s.internalError(c, "recording archive", err)
	}
	if err := s.st.BumpAnalyticsField(c.Context(), store.FieldEmailsArchived); err != nil {
		s.logger.Warn("analytics update failed", "err", err)
	}

	return c.JSON(fiber.Map{"status": "archived", "id": rec.MessageID})
}

func (s *Server) handleDelete(c *fiber.Ctx) error {
	rec, ok := s.loadRecord(c)
	if !ok {
		return nil
	}

	if err := s.gw.Delete(c.Context(), rec.MessageID); err != nil {
		return s.internalError(c, "deleting email", err)
	}
	if err := s.st.MarkDeleted(c.Context(), rec.MessageID); err != nil {
		return s.internalError(c, "recording delete", err)
	}
	if err := s.st.BumpAnalyticsField(c.Context(), store.FieldEmailsDeleted); err != nil {
		s.logger.Warn("analytics update failed", "err", err)
	}

	return c.JSON(fiber.Map{"status": "deleted", "id": rec.MessageID})
}

type sendRequest struct {
	// Body, when set, replaces the drafted reply text.
	Body string `json:"body"`
}

func (s *Server) handleSend(c *fiber.Ctx) error {
	rec, ok := s.loadRecord(c)
	if !ok {
		return nil
	}

	if rec.Sent {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error": "reply already sent",
		})
	}

	var req sendRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return badRequest(c, "invalid request body")
		}
	}

	body := rec.ReplyText
	if req.Body != "" {
		body = req.Body
	}
	if body == "" || strings.Contains(body, "No reply needed") {
		return badRequest(c, "no reply text available for this email")
	}

	if err := s.gw.Send(c.Context(), rec.Sender, rec.Subject, body, rec.ThreadID); err != nil {
		return s.internalError(c, "sending reply", err)
	}
	if err := s.st.MarkSent(c.Context(), rec.MessageID); err != nil {
		return s.internalError(c, "recording send", err)
	}
	if err := s.st.BumpAnalyticsField(c.Context(), store.FieldRepliesSent); err != nil {
		s.logger.Warn("analytics update failed", "err", err)
	}

	return c.JSON(fiber.Map{"status": "sent", "id": rec.MessageID})
}

type snoozeRequest struct {
	Hours int    `json:"hours"`
	Until string `json:"until"`
}

func (s *Server) handleSnooze(c *fiber.Ctx) error {
	id := c.Params("id")

	var req snoozeRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}

	var until time.Time
	switch {
	case req.Until != "":
		t, err := time.Parse(time.RFC3339, req.Until)
		if err != nil {
			return badRequest(c, "until must be RFC 3339")
		}
		until = t
	case req.Hours > 0:
		until = time.Now().Add(time.Duration(req.Hours) * time.Hour)
	default:
		return badRequest(c, "hours or until is required")
	}

	if !until.After(time.Now()) {
		return badRequest(c, "snooze time must be in the future")
	}

	if err := s.st.Snooze(c.Context(), id, until); err != nil {
		return s.internalError(c, "saving snooze", err)
	}

	return c.JSON(fiber.Map{
		"status":  "snoozed",
		"id":      id,
		"wake_at": until.UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleGetAutopilot(c *fiber.Ctx) error {
	return c.JSON(s.rules.Rules())
}

func (s *Server) handleSetAutopilot(c *fiber.Ctx) error {
	var rules model.RuleSet
	if err := c.BodyParser(&rules); err != nil {
		return badRequest(c, "invalid request body")
	}

	if err := s.rules.Update(c.Context(), rules); err != nil {
		return s.internalError(c, "saving autopilot rules", err)
	}

	s.logger.Info("autopilot rules updated",
		"enabled", rules.Enabled,
		"archive_newsletters", rules.ArchiveNewsletters,
		"delete_spam", rules.DeleteSpam,
		"archive_low_priority", rules.ArchiveLowPriority)

	return c.JSON(rules)
}

func badRequest(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": msg})
}

func (s *Server) internalError(c *fiber.Ctx, op string, err error) error {
	s.logger.Error(op+" failed", "err", err)
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
		"error": op + " failed",
	})
}

package store

import (
	"context"
	"time"

	"github.com/mselvam/inboxzero/internal/model"
)

// Analytics counter fields that can be bumped independently of a
// classification (replies sent, archive/delete actions).
const (
	FieldRepliesSent    = "replies_sent"
	FieldEmailsArchived = "emails_archived"
	FieldEmailsDeleted  = "emails_deleted"
)

// Store defines idempotent, concurrency-safe persistence of
// per-message triage outcomes plus the small supporting records
// (daily analytics, preferences, snoozes).
type Store interface {
	// === Records ===

	// GetRecord returns the record for id, or (nil, nil) when absent.
	GetRecord(ctx context.Context, id string) (*model.Record, error)

	// CreateRecord persists a record at most once per message id.
	// A record that already exists is left untouched. Transient
	// write-lock contention is retried with bounded backoff before
	// the error is surfaced.
	CreateRecord(ctx context.Context, rec model.Record) error

	// MarkSent, MarkArchived, and MarkDeleted flip their respective
	// flags. Each is idempotent and never touches the write-once
	// classification fields.
	MarkSent(ctx context.Context, id string) error
	MarkArchived(ctx context.Context, id string) error
	MarkDeleted(ctx context.Context, id string) error

	// Recent returns up to limit records ordered by processing time
	// descending. Deleted records are excluded unless includeDeleted.
	Recent(ctx context.Context, limit int, includeDeleted bool) ([]model.Record, error)

	// Stats aggregates counts by category, priority, and flags.
	Stats(ctx context.Context) (*model.Stats, error)

	// === Analytics ===

	BumpAnalytics(ctx context.Context, category model.Category) error
	BumpAnalyticsField(ctx context.Context, field string) error
	Analytics(ctx context.Context, days int) ([]model.AnalyticsDay, error)

	// === Preferences ===

	Preference(ctx context.Context, key, fallback string) (string, error)
	SetPreference(ctx context.Context, key, value string) error

	// === Snoozes ===

	Snooze(ctx context.Context, id string, until time.Time) error
	SnoozedUntil(ctx context.Context, id string) (*time.Time, error)
	WakeDue(ctx context.Context, now time.Time) (int, error)
}

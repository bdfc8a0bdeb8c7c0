package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/mselvam/inboxzero/internal/model"
)

const (
	createAttempts = 3
	backoffUnit    = 500 * time.Millisecond
)

// SQLiteStore implements the Store interface using a local SQLite database.
type SQLiteStore struct {
	db *sqlx.DB

	// sleep is replaceable for tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath,
// enables WAL mode, and runs any pending schema migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	s := &SQLiteStore{db: db, sleep: sleepCtx}
	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// runMigrations checks the current schema version and applies any
// outstanding migrations in order.
func (s *SQLiteStore) runMigrations() error {
	currentVersion := 0

	var tableCount int
	err := s.db.Get(
		&tableCount,
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	)
	if err != nil {
		return fmt.Errorf("checking schema_version table: %w", err)
	}

	if tableCount > 0 {
		err = s.db.Get(&currentVersion, "SELECT COALESCE(MAX(version), 0) FROM schema_version")
		if err != nil {
			return fmt.Errorf("reading schema version: %w", err)
		}
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		if _, err := s.db.Exec(m.sql); err != nil {
			return fmt.Errorf("applying migration v%d: %w", m.version, err)
		}
	}

	return nil
}

// GetRecord retrieves the record for a message id, or (nil, nil) when
// no record exists.
func (s *SQLiteStore) GetRecord(ctx context.Context, id string) (*model.Record, error) {
	row := s.db.QueryRowxContext(ctx,
		"SELECT * FROM email_history WHERE message_id = ?", id,
	)

	rec, err := scanRecordRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting record %s: %w", id, err)
	}

	return &rec, nil
}

// CreateRecord inserts the record for rec.MessageID at most once. An
// existing record is left untouched. Transient lock contention is
// retried up to 3 attempts with increasing backoff; the last error is
// surfaced so the caller can count the message as a per-scan failure.
func (s *SQLiteStore) CreateRecord(ctx context.Context, rec model.Record) error {
	if rec.ProcessedAt.IsZero() {
		rec.ProcessedAt = time.Now()
	}

	var action sql.NullString
	if rec.AutomationAction != nil {
		action = sql.NullString{String: string(*rec.AutomationAction), Valid: true}
	}
	var sentAt sql.NullTime
	if rec.SentAt != nil {
		sentAt = sql.NullTime{Time: rec.SentAt.UTC(), Valid: true}
	}

	const query = `
		INSERT OR IGNORE INTO email_history (
			message_id, sender, subject, snippet, thread_id,
			category, priority, reply_text, reasoning, needs_reply,
			automation_action, sent, sent_at, archived, deleted,
			is_fallback, processed_at
		) VALUES (
			?, ?, ?, ?, ?,
			?, ?, ?, ?, ?,
			?, ?, ?, ?, ?,
			?, ?
		)`

	var lastErr error
	for attempt := 1; attempt <= createAttempts; attempt++ {
		_, err := s.db.ExecContext(ctx, query,
			rec.MessageID, rec.Sender, rec.Subject, rec.Snippet, rec.ThreadID,
			string(rec.Category), string(rec.Priority), rec.ReplyText,
			rec.Reasoning, boolToInt(rec.NeedsReply),
			action, boolToInt(rec.Sent), sentAt,
			boolToInt(rec.Archived), boolToInt(rec.Deleted),
			boolToInt(rec.IsFallback), rec.ProcessedAt.UTC(),
		)
		if err == nil {
			return nil
		}
		if !isBusy(err) {
			return fmt.Errorf("creating record %s: %w", rec.MessageID, err)
		}

		lastErr = err
		if attempt < createAttempts {
			if serr := s.sleep(ctx, backoffUnit*time.Duration(attempt)); serr != nil {
				return serr
			}
		}
	}

	return fmt.Errorf("creating record %s after %d attempts: %w",
		rec.MessageID, createAttempts, lastErr)
}

// MarkSent flips the sent flag and stamps sent_at. Idempotent; the
// classification fields are untouched.
func (s *SQLiteStore) MarkSent(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE email_history SET sent = 1, sent_at = CURRENT_TIMESTAMP WHERE message_id = ?",
		id,
	)
	if err != nil {
		return fmt.Errorf("marking record %s sent: %w", id, err)
	}
	return nil
}

// MarkArchived flips the archived flag. Idempotent.
func (s *SQLiteStore) MarkArchived(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE email_history SET archived = 1 WHERE message_id = ?", id,
	)
	if err != nil {
		return fmt.Errorf("marking record %s archived: %w", id, err)
	}
	return nil
}

// MarkDeleted flips the deleted flag. Idempotent.
func (s *SQLiteStore) MarkDeleted(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE email_history SET deleted = 1 WHERE message_id = ?", id,
	)
	if err != nil {
		return fmt.Errorf("marking record %s deleted: %w", id, err)
	}
	return nil
}

// Recent retrieves up to limit records, newest first. Deleted records
// are excluded unless includeDeleted.
func (s *SQLiteStore) Recent(ctx context.Context, limit int, includeDeleted bool) ([]model.Record, error) {
	if limit <= 0 {
		limit = 50
	}

	query := "SELECT * FROM email_history"
	if !includeDeleted {
		query += " WHERE deleted = 0"
	}
	query += " ORDER BY processed_at DESC LIMIT ?"

	rows, err := s.db.QueryxContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("querying recent records: %w", err)
	}
	defer rows.Close()

	var records []model.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}

	return records, rows.Err()
}

// Stats aggregates persisted outcomes by category, priority, and flags.
func (s *SQLiteStore) Stats(ctx context.Context) (*model.Stats, error) {
	stats := &model.Stats{
		ByCategory: make(map[model.Category]int),
		ByPriority: make(map[model.Priority]int),
	}

	rows, err := s.db.QueryxContext(ctx,
		"SELECT category, COUNT(*) FROM email_history WHERE deleted = 0 GROUP BY category",
	)
	if err != nil {
		return nil, fmt.Errorf("querying category counts: %w", err)
	}
	for rows.Next() {
		var cat string
		var count int
		if err := rows.Scan(&cat, &count); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scanning category count: %w", err)
		}
		stats.ByCategory[model.Category(cat)] = count
		stats.Total += count
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = s.db.QueryxContext(ctx,
		"SELECT priority, COUNT(*) FROM email_history WHERE deleted = 0 GROUP BY priority",
	)
	if err != nil {
		return nil, fmt.Errorf("querying priority counts: %w", err)
	}
	for rows.Next() {
		var pri string
		var count int
		if err := rows.Scan(&pri, &count); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scanning priority count: %w", err)
		}
		stats.ByPriority[model.Priority(pri)] = count
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	err = s.db.QueryRowxContext(ctx, `
		SELECT
			COALESCE(SUM(CASE WHEN needs_reply = 1 AND deleted = 0 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(sent), 0),
			COALESCE(SUM(archived), 0),
			COALESCE(SUM(deleted), 0)
		FROM email_history`,
	).Scan(&stats.NeedsReply, &stats.Sent, &stats.Archived, &stats.Deleted)
	if err != nil {
		return nil, fmt.Errorf("querying flag counts: %w", err)
	}

	return stats, nil
}

// BumpAnalytics increments today's total and the per-category counter.
func (s *SQLiteStore) BumpAnalytics(ctx context.Context, category model.Category) error {
	field, ok := categoryField(category)
	if !ok {
		return fmt.Errorf("bumping analytics: unknown category %q", category)
	}

	query := fmt.Sprintf(`
		INSERT INTO analytics (date, total_emails, %s)
		VALUES (?, 1, 1)
		ON CONFLICT(date) DO UPDATE SET
			total_emails = total_emails + 1,
			%s = %s + 1`, field, field, field)

	if _, err := s.db.ExecContext(ctx, query, today()); err != nil {
		return fmt.Errorf("bumping analytics for %s: %w", category, err)
	}
	return nil
}

// BumpAnalyticsField increments one of the action counters for today.
func (s *SQLiteStore) BumpAnalyticsField(ctx context.Context, field string) error {
	switch field {
	case FieldRepliesSent, FieldEmailsArchived, FieldEmailsDeleted:
	default:
		return fmt.Errorf("bumping analytics: unknown field %q", field)
	}

	query := fmt.Sprintf(`
		INSERT INTO analytics (date, %s)
		VALUES (?, 1)
		ON CONFLICT(date) DO UPDATE SET %s = %s + 1`, field, field, field)

	if _, err := s.db.ExecContext(ctx, query, today()); err != nil {
		return fmt.Errorf("bumping analytics field %s: %w", field, err)
	}
	return nil
}

// Analytics returns the per-day counters for the last days days,
// newest first.
func (s *SQLiteStore) Analytics(ctx context.Context, days int) ([]model.AnalyticsDay, error) {
	if days <= 0 {
		days = 30
	}

	cutoff := time.Now().AddDate(0, 0, -days).Format("2006-01-02")

	var out []model.AnalyticsDay
	err := s.db.SelectContext(ctx, &out,
		"SELECT * FROM analytics WHERE date >= ? ORDER BY date DESC", cutoff,
	)
	if err != nil {
		return nil, fmt.Errorf("querying analytics: %w", err)
	}
	return out, nil
}

// Preference returns the stored value for key, or fallback when unset.
func (s *SQLiteStore) Preference(ctx context.Context, key, fallback string) (string, error) {
	var value string
	err := s.db.GetContext(ctx, &value,
		"SELECT value FROM preferences WHERE key = ?", key,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return fallback, nil
	}
	if err != nil {
		return "", fmt.Errorf("getting preference %q: %w", key, err)
	}
	return value, nil
}

// SetPreference stores a preference value, replacing any existing one.
func (s *SQLiteStore) SetPreference(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO preferences (key, value, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)`,
		key, value,
	)
	if err != nil {
		return fmt.Errorf("setting preference %q: %w", key, err)
	}
	return nil
}

// Snooze hides a message id until the given wake time.
func (s *SQLiteStore) Snooze(ctx context.Context, id string, until time.Time) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO snoozes (message_id, wake_at) VALUES (?, ?)",
		id, until.UTC(),
	)
	if err != nil {
		return fmt.Errorf("snoozing %s: %w", id, err)
	}
	return nil
}

// SnoozedUntil returns the wake time for id, or nil when not snoozed.
func (s *SQLiteStore) SnoozedUntil(ctx context.Context, id string) (*time.Time, error) {
	var wakeAt time.Time
	err := s.db.GetContext(ctx, &wakeAt,
		"SELECT wake_at FROM snoozes WHERE message_id = ?", id,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading snooze for %s: %w", id, err)
	}
	return &wakeAt, nil
}

// WakeDue removes snoozes whose wake time has passed and returns how
// many were woken.
func (s *SQLiteStore) WakeDue(ctx context.Context, now time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM snoozes WHERE wake_at <= ?", now.UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("waking snoozes: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("counting woken snoozes: %w", err)
	}
	return int(n), nil
}

// isBusy reports whether err looks like transient SQLite write-lock
// contention rather than a permanent failure.
func isBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") ||
		strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked")
}

// scanRecord scans a record from a sqlx.Rows result set.
func scanRecord(rows *sqlx.Rows) (model.Record, error) {
	return scanRecordFields(rows.Scan)
}

// scanRecordRow scans a single record from a sqlx.Row.
func scanRecordRow(row *sqlx.Row) (model.Record, error) {
	return scanRecordFields(row.Scan)
}

func scanRecordFields(scan func(dest ...interface{}) error) (model.Record, error) {
	var (
		rec         model.Record
		category    string
		priority    string
		needsReply  int
		action      sql.NullString
		sent        int
		sentAt      sql.NullTime
		archived    int
		deleted     int
		isFallback  int
		processedAt time.Time
	)

	err := scan(
		&rec.MessageID, &rec.Sender, &rec.Subject, &rec.Snippet, &rec.ThreadID,
		&category, &priority, &rec.ReplyText, &rec.Reasoning, &needsReply,
		&action, &sent, &sentAt, &archived, &deleted,
		&isFallback, &processedAt,
	)
	if err != nil {
		return model.Record{}, err
	}

	rec.Category = model.Category(category)
	rec.Priority = model.Priority(priority)
	rec.NeedsReply = needsReply != 0
	rec.Sent = sent != 0
	rec.Archived = archived != 0
	rec.Deleted = deleted != 0
	rec.IsFallback = isFallback != 0
	rec.ProcessedAt = processedAt

	if action.Valid {
		a := model.Action(action.String)
		rec.AutomationAction = &a
	}
	if sentAt.Valid {
		t := sentAt.Time
		rec.SentAt = &t
	}

	return rec, nil
}

// categoryField maps a category to its analytics counter column.
func categoryField(c model.Category) (string, bool) {
	switch c {
	case model.CategoryImportant:
		return "important_count", true
	case model.CategoryPersonal:
		return "personal_count", true
	case model.CategoryNewsletter:
		return "newsletter_count", true
	case model.CategorySpam:
		return "spam_count", true
	default:
		return "", false
	}
}

func today() string {
	return time.Now().Format("2006-01-02")
}

// boolToInt converts a boolean to 0 or 1 for SQLite storage.
func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

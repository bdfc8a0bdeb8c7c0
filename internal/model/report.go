package model

import "time"

// ScanReport summarizes one scan invocation. For every report,
// Processed + Cached + Errors == Total.
type ScanReport struct {
	// RunID uniquely identifies this scan invocation.
	RunID string `json:"run_id"`

	// Total is the number of messages fetched for the batch.
	Total int `json:"found"`

	// Processed counts messages classified and persisted this scan.
	Processed int `json:"processed"`

	// Cached counts messages skipped because a record already existed.
	Cached int `json:"cached"`

	// Errors counts messages whose task failed.
	Errors int `json:"errors"`

	// Started and Duration cover the whole batch including the
	// worker-pool barrier.
	Started  time.Time     `json:"started"`
	Duration time.Duration `json:"duration"`
}

// Stats aggregates persisted outcomes for the dashboard surface.
type Stats struct {
	Total      int              `json:"total_emails"`
	ByCategory map[Category]int `json:"categories"`
	ByPriority map[Priority]int `json:"priorities"`
	NeedsReply int              `json:"needs_reply"`
	Sent       int              `json:"replies_sent"`
	Archived   int              `json:"archived"`
	Deleted    int              `json:"deleted"`
}

// AnalyticsDay is one row of the per-day analytics counters.
type AnalyticsDay struct {
	Date        string `json:"date" db:"date"`
	Total       int    `json:"total_emails" db:"total_emails"`
	Important   int    `json:"important_count" db:"important_count"`
	Personal    int    `json:"personal_count" db:"personal_count"`
	Newsletter  int    `json:"newsletter_count" db:"newsletter_count"`
	Spam        int    `json:"spam_count" db:"spam_count"`
	RepliesSent int    `json:"replies_sent" db:"replies_sent"`
	Archived    int    `json:"emails_archived" db:"emails_archived"`
	Deleted     int    `json:"emails_deleted" db:"emails_deleted"`
}

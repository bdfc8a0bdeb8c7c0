package model

import (
	"strings"
	"time"
)

// Category is the classification assigned to a message.
type Category string

const (
	CategoryImportant  Category = "Important"
	CategoryPersonal   Category = "Personal"
	CategoryNewsletter Category = "Newsletter"
	CategorySpam       Category = "Spam"
)

// PriorityHint is the classifier's own priority suggestion, one input
// to the deterministic scorer.
type PriorityHint string

const (
	HintHigh   PriorityHint = "High"
	HintMedium PriorityHint = "Medium"
	HintLow    PriorityHint = "Low"
)

// Priority is the final computed priority bucket.
type Priority string

const (
	PriorityHigh   Priority = "HIGH"
	PriorityMedium Priority = "MEDIUM"
	PriorityLow    Priority = "LOW"
)

// Action identifies an automation side effect applied to a message.
type Action string

const (
	ActionArchivedNewsletter  Action = "ArchivedNewsletter"
	ActionDeletedSpam         Action = "DeletedSpam"
	ActionArchivedLowPriority Action = "ArchivedLowPriority"
)

// Message is an inbound mail item as read from the mail gateway.
// Messages are transient; only the derived Record is persisted.
type Message struct {
	// ID is the gateway's identifier for the message.
	ID string `json:"id"`

	// Sender is the From header, usually "Display Name <addr>".
	Sender string `json:"sender"`

	// Subject is the subject line.
	Subject string `json:"subject"`

	// Snippet is a short preview of the body.
	Snippet string `json:"snippet"`

	// Body is the plain-text body, best effort.
	Body string `json:"body"`

	// ThreadID groups the message with its conversation thread.
	ThreadID string `json:"thread_id"`

	// Labels are the gateway labels attached to the message.
	Labels []string `json:"labels,omitempty"`
}

// SenderName extracts the display-name part of the Sender header,
// falling back to the raw sender when no display name is present.
func (m Message) SenderName() string {
	name, _, found := strings.Cut(m.Sender, "<")
	name = strings.TrimSpace(name)
	if !found || name == "" {
		return strings.TrimSpace(m.Sender)
	}
	return name
}

// Verdict is the classifier's structured output for one message.
type Verdict struct {
	// Category is the assigned classification.
	Category Category `json:"category"`

	// PriorityHint is the classifier's suggested priority level.
	PriorityHint PriorityHint `json:"priority"`

	// Reply is the drafted reply text, or "No reply needed".
	Reply string `json:"reply"`

	// Reasoning is a short explanation of the classification.
	Reasoning string `json:"reasoning"`

	// NeedsReply reports whether a reply should be drafted.
	NeedsReply bool `json:"needs_reply"`

	// IsFallback is set when the verdict came from the local heuristic
	// instead of the classifier.
	IsFallback bool `json:"is_fallback,omitempty"`
}

// Record is the persisted outcome for one message id. The
// classification fields (Category, Priority, ReplyText, NeedsReply,
// IsFallback) are written once at creation; only Sent, Archived,
// Deleted, and AutomationAction change afterwards.
type Record struct {
	MessageID        string     `json:"message_id" db:"message_id"`
	Sender           string     `json:"sender" db:"sender"`
	Subject          string     `json:"subject" db:"subject"`
	Snippet          string     `json:"snippet" db:"snippet"`
	ThreadID         string     `json:"thread_id" db:"thread_id"`
	Category         Category   `json:"category" db:"category"`
	Priority         Priority   `json:"priority" db:"priority"`
	ReplyText        string     `json:"reply_text" db:"reply_text"`
	Reasoning        string     `json:"reasoning" db:"reasoning"`
	NeedsReply       bool       `json:"needs_reply" db:"needs_reply"`
	AutomationAction *Action    `json:"automation_action,omitempty" db:"automation_action"`
	Sent             bool       `json:"sent" db:"sent"`
	SentAt           *time.Time `json:"sent_at,omitempty" db:"sent_at"`
	Archived         bool       `json:"archived" db:"archived"`
	Deleted          bool       `json:"deleted" db:"deleted"`
	IsFallback       bool       `json:"is_fallback" db:"is_fallback"`
	ProcessedAt      time.Time  `json:"processed_at" db:"processed_at"`
}

// RuleSet is the externally configured automation rule set. The
// pipeline only reads it; the API layer persists changes.
type RuleSet struct {
	Enabled            bool `json:"enabled" mapstructure:"enabled" yaml:"enabled"`
	ArchiveNewsletters bool `json:"archive_newsletters" mapstructure:"archive_newsletters" yaml:"archive_newsletters"`
	DeleteSpam         bool `json:"delete_spam" mapstructure:"delete_spam" yaml:"delete_spam"`
	ArchiveLowPriority bool `json:"archive_low_priority" mapstructure:"archive_low_priority" yaml:"archive_low_priority"`
}

// Package gateway defines the mail source/sink contract consumed by
// the triage pipeline. Implementations live in subpackages.
package gateway

import (
	"context"
	"errors"
	"fmt"

	"github.com/mselvam/inboxzero/internal/model"
)

// ActionError wraps a failed side-effecting gateway operation
// (archive, delete, draft, send, mark-read). Callers log it and treat
// the action as not taken; it never aborts the pipeline.
type ActionError struct {
	Op        string
	MessageID string
	Err       error
}

func (e *ActionError) Error() string {
	return fmt.Sprintf("gateway %s %s: %v", e.Op, e.MessageID, e.Err)
}

func (e *ActionError) Unwrap() error { return e.Err }

// IsActionError reports whether err (or any error in its chain) is an
// ActionError.
func IsActionError(err error) bool {
	var ae *ActionError
	return errors.As(err, &ae)
}

// MailGateway is the wire-level mail service. Operational failures
// come back as errors; implementations never panic across the
// boundary.
type MailGateway interface {
	// FetchUnseen returns up to maxResults unseen inbox messages.
	FetchUnseen(ctx context.Context, maxResults int) ([]model.Message, error)

	// Archive removes the message from the inbox without deleting it.
	Archive(ctx context.Context, id string) error

	// Delete moves the message to trash.
	Delete(ctx context.Context, id string) error

	// CreateDraft saves a reply draft, threaded when threadID is set.
	CreateDraft(ctx context.Context, to, subject, body, threadID string) error

	// Send sends a reply, threaded when threadID is set.
	Send(ctx context.Context, to, subject, body, threadID string) error

	// MarkRead clears the unseen flag on the message.
	MarkRead(ctx context.Context, id string) error
}

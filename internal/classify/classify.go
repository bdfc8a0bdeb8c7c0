// Package classify turns inbound messages into structured verdicts
// using an AI model, with a local heuristic fallback when the model
// is unavailable.
package classify

import (
	"context"
	"errors"
	"fmt"

	"github.com/mselvam/inboxzero/internal/model"
)

// TransientError indicates a classification attempt failed for a
// reason that does not implicate the message itself (network trouble,
// rate limiting upstream, malformed model output). Callers degrade to
// the heuristic fallback instead of surfacing it.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("classify %s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// IsTransient reports whether err (or any error in its chain) is a
// TransientError.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// Classifier produces a verdict for one message. Implementations may
// fail transiently; they never panic across the boundary.
type Classifier interface {
	Classify(ctx context.Context, sender, subject, body string) (model.Verdict, error)
}

package classify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mselvam/inboxzero/internal/model"
	"github.com/mselvam/inboxzero/internal/ratelimit"
)

// noReplyPatterns identify automated senders that never warrant a
// classifier call. Caseless substring match against the sender.
var noReplyPatterns = []string{
	"no-reply", "noreply", "donotreply", "do-not-reply",
	"notifications", "automated", "mailer-daemon",
}

// newsletterKeywords drive the heuristic fallback when the classifier
// is unavailable.
var newsletterKeywords = []string{"newsletter", "unsubscribe", "promotion"}

// Analyzer wraps a Classifier with the no-reply shortcut, the shared
// rate limiter, and the heuristic fallback. It is safe for concurrent
// use by scan workers.
type Analyzer struct {
	classifier Classifier
	limiter    *ratelimit.Limiter
	userName   string
	logger     *slog.Logger
}

// NewAnalyzer creates an Analyzer. limiter may be nil, in which case
// classification calls are unthrottled.
func NewAnalyzer(c Classifier, limiter *ratelimit.Limiter, userName string, logger *slog.Logger) *Analyzer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Analyzer{
		classifier: c,
		limiter:    limiter,
		userName:   userName,
		logger:     logger,
	}
}

// IsNoReplySender reports whether sender matches a known automated
// sender pattern.
func IsNoReplySender(sender string) bool {
	senderLower := strings.ToLower(sender)
	for _, p := range noReplyPatterns {
		if strings.Contains(senderLower, p) {
			return true
		}
	}
	return false
}

// Analyze produces a verdict for one message. Automated senders are
// short-circuited without touching the classifier or the limiter; a
// classifier failure degrades to the heuristic fallback and never
// surfaces as an error.
func (a *Analyzer) Analyze(ctx context.Context, msg model.Message, body string) (model.Verdict, error) {
	if IsNoReplySender(msg.Sender) {
		a.logger.Info("no-reply sender detected", "sender", msg.Sender)
		return model.Verdict{
			Category:     model.CategoryNewsletter,
			PriorityHint: model.HintLow,
			Reply:        "No reply needed",
			Reasoning:    "Automated no-reply sender",
			NeedsReply:   false,
		}, nil
	}

	if a.limiter != nil {
		if err := a.limiter.Acquire(ctx); err != nil {
			return model.Verdict{}, err
		}
	}

	verdict, err := a.classifier.Classify(ctx, msg.Sender, msg.Subject, body)
	if err != nil {
		a.logger.Warn("classifier failed, using heuristic fallback",
			"id", msg.ID, "err", err)
		return a.fallback(msg), nil
	}

	return verdict, nil
}

// fallback classifies locally when the classifier is unreachable.
func (a *Analyzer) fallback(msg model.Message) model.Verdict {
	subjectLower := strings.ToLower(msg.Subject)
	for _, kw := range newsletterKeywords {
		if strings.Contains(subjectLower, kw) {
			return model.Verdict{
				Category:     model.CategoryNewsletter,
				PriorityHint: model.HintMedium,
				Reply:        "No reply needed",
				Reasoning:    "Fallback due to API unavailability",
				NeedsReply:   false,
				IsFallback:   true,
			}
		}
	}

	signature := a.userName
	if signature == "" {
		signature = "Me"
	}

	reply := fmt.Sprintf(
		"Dear %s,\n\nThank you for your email regarding %q. I have received your "+
			"message and will review it shortly.\n\n(Note: This is an automated "+
			"acknowledgment. A detailed response will follow.)\n\nBest regards,\n%s",
		msg.SenderName(), msg.Subject, signature,
	)

	return model.Verdict{
		Category:     model.CategoryPersonal,
		PriorityHint: model.HintMedium,
		Reply:        reply,
		Reasoning:    "Fallback due to API unavailability",
		NeedsReply:   true,
		IsFallback:   true,
	}
}

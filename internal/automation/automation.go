// Package automation applies at most one side-effecting rule action
// per message, in fixed precedence order.
package automation

import (
	"context"
	"log/slog"

	"github.com/mselvam/inboxzero/internal/gateway"
	"github.com/mselvam/inboxzero/internal/model"
)

// RuleSource supplies the current rule set. The pipeline reads rules;
// it never writes them.
type RuleSource interface {
	Rules() model.RuleSet
}

// StaticRules is a RuleSource backed by a fixed rule set.
type StaticRules model.RuleSet

func (s StaticRules) Rules() model.RuleSet { return model.RuleSet(s) }

// Engine evaluates the rule set against a classified message and
// performs at most one gateway action per message per pass.
type Engine struct {
	gw     gateway.MailGateway
	rules  RuleSource
	logger *slog.Logger
}

// New creates an Engine driving the given gateway.
func New(gw gateway.MailGateway, rules RuleSource, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{gw: gw, rules: rules, logger: logger}
}

// Apply evaluates rules in precedence order and performs the first
// matching action. It returns the action taken and true, or zero and
// false when no action applies. A failed gateway call is logged and
// treated as no action taken; the message still proceeds to be
// persisted.
func (e *Engine) Apply(
	ctx context.Context,
	id string,
	category model.Category,
	priority model.Priority,
) (model.Action, bool) {
	rules := e.rules.Rules()
	if !rules.Enabled {
		return "", false
	}

	switch {
	case rules.ArchiveNewsletters && category == model.CategoryNewsletter:
		if err := e.archive(ctx, id); err != nil {
			return "", false
		}
		return model.ActionArchivedNewsletter, true

	case rules.DeleteSpam && category == model.CategorySpam:
		if err := e.gw.Delete(ctx, id); err != nil {
			e.logger.Error("automation delete failed", "id", id, "err", err)
			return "", false
		}
		e.logger.Info("automation deleted spam", "id", id)
		return model.ActionDeletedSpam, true

	case rules.ArchiveLowPriority && priority == model.PriorityLow &&
		category != model.CategoryImportant && category != model.CategoryPersonal:
		if err := e.archive(ctx, id); err != nil {
			return "", false
		}
		return model.ActionArchivedLowPriority, true
	}

	return "", false
}

func (e *Engine) archive(ctx context.Context, id string) error {
	if err := e.gw.Archive(ctx, id); err != nil {
		e.logger.Error("automation archive failed", "id", id, "err", err)
		return err
	}
	e.logger.Info("automation archived message", "id", id)
	return nil
}

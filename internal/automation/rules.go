package automation

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/mselvam/inboxzero/internal/model"
	"github.com/mselvam/inboxzero/internal/store"
)

const rulesPreferenceKey = "autopilot_rules"

// StoredRules is a RuleSource persisted in the store's preference
// table, so rule changes survive restarts. Reads come from an
// in-memory copy; Update writes through.
type StoredRules struct {
	st store.Store

	mu    sync.RWMutex
	rules model.RuleSet
}

// LoadRules builds a StoredRules seeded from the store, falling back
// to defaults when no rules were ever saved.
func LoadRules(ctx context.Context, st store.Store, defaults model.RuleSet) (*StoredRules, error) {
	fallback, err := json.Marshal(defaults)
	if err != nil {
		return nil, fmt.Errorf("encoding default rules: %w", err)
	}

	raw, err := st.Preference(ctx, rulesPreferenceKey, string(fallback))
	if err != nil {
		return nil, fmt.Errorf("loading autopilot rules: %w", err)
	}

	var rules model.RuleSet
	if err := json.Unmarshal([]byte(raw), &rules); err != nil {
		return nil, fmt.Errorf("decoding autopilot rules: %w", err)
	}

	return &StoredRules{st: st, rules: rules}, nil
}

// Rules returns the current rule set.
func (s *StoredRules) Rules() model.RuleSet {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rules
}

// Update persists the new rule set and makes it visible to the
// engine. The in-memory copy changes only after the write succeeds.
func (s *StoredRules) Update(ctx context.Context, rules model.RuleSet) error {
	raw, err := json.Marshal(rules)
	if err != nil {
		return fmt.Errorf("encoding autopilot rules: %w", err)
	}
	if err := s.st.SetPreference(ctx, rulesPreferenceKey, string(raw)); err != nil {
		return fmt.Errorf("saving autopilot rules: %w", err)
	}

	s.mu.Lock()
	s.rules = rules
	s.mu.Unlock()
	return nil
}

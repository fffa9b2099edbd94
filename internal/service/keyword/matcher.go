package keyword

import (
	"context"
	"fmt"
	"strings"

	"github.com/zhouzirui/shopbot/backend/internal/model/rule"
)

// Match is the rule that fired for a message.
type Match struct {
	RuleID  string
	Keyword string
	Reply   string
}

// Matcher resolves canned replies from the rule store.
type Matcher struct {
	rules   rule.Store
	enabled bool
}

// NewMatcher returns a Matcher over rules. When enabled is false Match never fires.
func NewMatcher(rules rule.Store, enabled bool) *Matcher {
	return &Matcher{rules: rules, enabled: enabled}
}

// Enabled reports whether keyword replies are switched on.
func (m *Matcher) Enabled() bool {
	return m != nil && m.enabled
}

// Match returns the first enabled rule, in store order, with a keyword that is
// a case-insensitive substring of text.
func (m *Matcher) Match(ctx context.Context, text string) (Match, bool, error) {
	if !m.Enabled() {
		return Match{}, false, nil
	}

	normalized := strings.ToLower(strings.TrimSpace(text))
	if normalized == "" {
		return Match{}, false, nil
	}

	rules, err := m.rules.List(ctx)
	if err != nil {
		return Match{}, false, fmt.Errorf("list keyword rules: %w", err)
	}

	for _, r := range rules {
		if !r.Enabled {
			continue
		}
		for _, kw := range r.Keywords {
			needle := strings.ToLower(strings.TrimSpace(kw))
			if needle == "" {
				continue
			}
			if strings.Contains(normalized, needle) {
				return Match{RuleID: r.ID, Keyword: kw, Reply: r.Reply}, true, nil
			}
		}
	}
	return Match{}, false, nil
}

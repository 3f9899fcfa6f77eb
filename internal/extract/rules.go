package extract

import (
	"errors"
	"fmt"
	"strings"
	"sync"
)

// Rule errors.
var (
	ErrInvalidRule   = errors.New("invalid rule")
	ErrDuplicateRule = errors.New("rule already registered")
)

// MatchFunc returns every raw match of a rule family in text.
type MatchFunc func(text string) []string

// Rule is one independent pattern family feeding a single slot.
type Rule struct {
	Name  string
	Slot  Slot
	Match MatchFunc
}

// Rules is a registry of pattern families. Families never see each other's
// output; adding or removing one does not change what the others produce.
type Rules struct {
	mu    sync.RWMutex
	rules []Rule
}

// NewRules builds a registry from rules, rejecting duplicates.
func NewRules(rules ...Rule) (*Rules, error) {
	r := &Rules{}
	for _, rule := range rules {
		if err := r.Register(rule); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// DefaultRules returns the built-in families plus a weapon keyword family for
// the given languages (English when none are given).
func DefaultRules(weaponLanguages ...string) *Rules {
	if len(weaponLanguages) == 0 {
		weaponLanguages = []string{"en"}
	}
	rules := append(builtinRules(), WeaponKeywordRule(weaponLanguages...))
	r, err := NewRules(rules...)
	if err != nil {
		panic(fmt.Sprintf("extract: default rules: %v", err))
	}
	return r
}

// Register adds rule to the registry.
func (r *Rules) Register(rule Rule) error {
	rule.Name = strings.TrimSpace(rule.Name)
	if rule.Name == "" || rule.Match == nil {
		return fmt.Errorf("%w: name and match func are required", ErrInvalidRule)
	}
	if !validSlot(rule.Slot) {
		return fmt.Errorf("%w: unknown slot %q", ErrInvalidRule, rule.Slot)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, have := range r.rules {
		if have.Name == rule.Name {
			return fmt.Errorf("%w: %s", ErrDuplicateRule, rule.Name)
		}
	}
	r.rules = append(r.rules, rule)
	return nil
}

// Remove drops the family called name.
func (r *Rules) Remove(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, have := range r.rules {
		if have.Name == name {
			r.rules = append(r.rules[:i:i], r.rules[i+1:]...)
			return true
		}
	}
	return false
}

// Names lists the registered families in registration order.
func (r *Rules) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, len(r.rules))
	for i, rule := range r.rules {
		names[i] = rule.Name
	}
	return names
}

// Apply runs every family against text.
func (r *Rules) Apply(text string) Candidates {
	r.mu.RLock()
	rules := append([]Rule(nil), r.rules...)
	r.mu.RUnlock()

	out := NewCandidates()
	for _, rule := range rules {
		out.Add(rule.Slot, rule.Match(text)...)
	}
	return out
}

func validSlot(s Slot) bool {
	for _, have := range Slots {
		if have == s {
			return true
		}
	}
	return false
}

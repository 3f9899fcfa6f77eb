package extract

import (
	"sort"
	"strings"

	"police_call_analytics/internal/formatting"
)

// Slot names one entity category of an extraction result.
type Slot string

const (
	SlotLocations     Slot = "locations"
	SlotTimes         Slot = "times"
	SlotSuspects      Slot = "suspects"
	SlotWeapons       Slot = "weapons"
	SlotOrganizations Slot = "organizations"
)

// Slots lists every slot in display order.
var Slots = []Slot{SlotLocations, SlotTimes, SlotSuspects, SlotWeapons, SlotOrganizations}

// Set is a case-insensitive string set that remembers the first-seen display
// form of each value.
type Set struct {
	keys   map[string]struct{}
	values []string
}

// Add normalizes v and inserts it unless an equal value is already present.
func (s *Set) Add(v string) bool {
	display := formatting.CollapseWhitespace(v)
	if display == "" {
		return false
	}
	key := strings.ToLower(display)
	if s.keys == nil {
		s.keys = make(map[string]struct{})
	}
	if _, ok := s.keys[key]; ok {
		return false
	}
	s.keys[key] = struct{}{}
	s.values = append(s.values, display)
	return true
}

// Len reports the number of distinct values.
func (s *Set) Len() int { return len(s.values) }

// Values returns the display forms sorted case-insensitively.
func (s *Set) Values() []string {
	out := append([]string{}, s.values...)
	sort.Slice(out, func(i, j int) bool {
		a, b := strings.ToLower(out[i]), strings.ToLower(out[j])
		if a == b {
			return out[i] < out[j]
		}
		return a < b
	})
	return out
}

// Candidates collects raw entity strings per slot before aggregation.
type Candidates map[Slot]*Set

// NewCandidates returns an empty collector.
func NewCandidates() Candidates {
	return make(Candidates, len(Slots))
}

// Add inserts values into slot.
func (c Candidates) Add(slot Slot, values ...string) {
	set, ok := c[slot]
	if !ok {
		set = &Set{}
		c[slot] = set
	}
	for _, v := range values {
		set.Add(v)
	}
}

// Merge folds other into c. Values already present keep their casing.
func (c Candidates) Merge(other Candidates) {
	for _, slot := range Slots {
		if set, ok := other[slot]; ok {
			c.Add(slot, set.values...)
		}
	}
}

// Result converts the collector into an immutable extraction result.
func (c Candidates) Result() Result {
	values := func(slot Slot) []string {
		if set, ok := c[slot]; ok {
			return set.Values()
		}
		return []string{}
	}
	return Result{
		Locations:     values(SlotLocations),
		Times:         values(SlotTimes),
		Suspects:      values(SlotSuspects),
		Weapons:       values(SlotWeapons),
		Organizations: values(SlotOrganizations),
	}
}

// Aggregate unions several extractor outputs slot by slot. Earlier inputs win
// the display casing for values that compare equal.
func Aggregate(parts ...Candidates) Result {
	merged := NewCandidates()
	for _, p := range parts {
		merged.Merge(p)
	}
	return merged.Result()
}

// Result is the entity payload of an analysis. Every list is non-nil, free of
// case-insensitive duplicates and sorted.
type Result struct {
	Locations     []string `json:"locations"`
	Times         []string `json:"times"`
	Suspects      []string `json:"suspects"`
	Weapons       []string `json:"weapons"`
	Organizations []string `json:"organizations"`
}

// EmptyResult returns a result with every slot present and empty.
func EmptyResult() Result {
	return NewCandidates().Result()
}

// Slot returns the values for slot.
func (r Result) Slot(slot Slot) []string {
	switch slot {
	case SlotLocations:
		return r.Locations
	case SlotTimes:
		return r.Times
	case SlotSuspects:
		return r.Suspects
	case SlotWeapons:
		return r.Weapons
	case SlotOrganizations:
		return r.Organizations
	default:
		return nil
	}
}

// Empty reports whether no slot holds a value.
func (r Result) Empty() bool {
	for _, slot := range Slots {
		if len(r.Slot(slot)) > 0 {
			return false
		}
	}
	return true
}

// Contains reports whether slot holds v, compared case-insensitively.
func (r Result) Contains(slot Slot, v string) bool {
	key := formatting.FoldKey(v)
	for _, have := range r.Slot(slot) {
		if formatting.FoldKey(have) == key {
			return true
		}
	}
	return false
}

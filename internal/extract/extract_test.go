package extract

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"police_call_analytics/internal/inference"
)

const exampleTranscript = "Suspect is John, a white male about 30, pulled out a knife at Pete's coffee at 3:45 PM"

type fakeNER struct {
	entities []inference.Entity
	err      error
	block    bool
	calls    atomic.Int32
}

func (f *fakeNER) RecognizeEntities(ctx context.Context, text string) ([]inference.Entity, error) {
	f.calls.Add(1)
	if f.block {
		<-ctx.Done()
		return nil, inference.Unavailable("ner", ctx.Err())
	}
	return f.entities, f.err
}

type fakeZeroShot struct {
	result inference.ZeroShotResult
	err    error
	calls  atomic.Int32

	mu     sync.Mutex
	labels []string
	multi  bool
}

func (f *fakeZeroShot) ClassifyZeroShot(ctx context.Context, text string, labels []string, multiLabel bool) (inference.ZeroShotResult, error) {
	f.calls.Add(1)
	f.mu.Lock()
	f.labels = labels
	f.multi = multiLabel
	f.mu.Unlock()
	return f.result, f.err
}

type countingFailures struct {
	mu  sync.Mutex
	ops []string
}

func (c *countingFailures) RecordCollaboratorFailure(op string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ops = append(c.ops, op)
}

func applyRule(t *testing.T, name, text string, weaponLanguages ...string) []string {
	t.Helper()
	rules := DefaultRules(weaponLanguages...)
	for _, n := range rules.Names() {
		if n != name {
			rules.Remove(n)
		}
	}
	if len(rules.Names()) != 1 {
		t.Fatalf("rule %q not registered", name)
	}
	res := rules.Apply(text).Result()
	var out []string
	for _, slot := range Slots {
		out = append(out, res.Slot(slot)...)
	}
	return out
}

func TestRuleFamilies(t *testing.T) {
	cases := []struct {
		rule string
		text string
		want []string
	}{
		{"address", "Shots fired near 1330 Alpha Sayo Day and 221 Baker street.", []string{"1330 Alpha Sayo Day", "221 Baker street"}},
		{"address", "break in at 4500 Main Street Suspect Bob ran off", []string{"4500 Main Street"}},
		{"business", "He ran in the Corner Market and then at Pete's coffee.", []string{"Corner Market", "Pete's coffee"}},
		{"relative-time", "He is there Right Now, just  now he left", []string{"just now", "right now"}},
		{"clock-time", "first call at 3:45 PM and again at 11:05", []string{"11:05", "3:45 PM"}},
		{"suspect-description", "a Hispanic female approximately 25 and a black male", []string{"black male", "hispanic female ~25"}},
		{"suspect-name", "the shooter Marcus fled; suspect is he", []string{"Marcus"}},
		{"clothing", "wearing red hat and has a blue jacket", []string{"wearing blue jacket", "wearing red hat"}},
		{"weapon-phrase", "he was brandishing a pistol, shot with a rifle", []string{"pistol", "rifle"}},
		{"weapon-keyword", "dropped the Knives and a crowbar", []string{"crowbar", "knives"}},
	}
	for _, tc := range cases {
		t.Run(tc.rule, func(t *testing.T) {
			got := applyRule(t, tc.rule, tc.text)
			if diff := cmp.Diff(tc.want, got); diff != "" {
				t.Fatalf("%s matches mismatch (-want +got):\n%s", tc.rule, diff)
			}
		})
	}
}

func TestWeaponKeywordLanguages(t *testing.T) {
	got := applyRule(t, "weapon-keyword", "tiene un cuchillo y un pistolet", "es", "fr")
	if diff := cmp.Diff([]string{"cuchillo", "pistolet"}, got); diff != "" {
		t.Fatalf("keyword matches mismatch (-want +got):\n%s", diff)
	}
}

func TestSuspectNameRequiresCapitalizedName(t *testing.T) {
	if got := applyRule(t, "suspect-name", "the suspect fled on foot"); len(got) != 0 {
		t.Fatalf("expected no names, got %v", got)
	}
}

func TestExampleTranscriptPatternsOnly(t *testing.T) {
	got := New(nil, nil, nil).Extract(context.Background(), exampleTranscript)
	want := Result{
		Locations:     []string{"Pete's coffee"},
		Times:         []string{"3:45 PM"},
		Suspects:      []string{"John", "white male ~30"},
		Weapons:       []string{"knife"},
		Organizations: []string{},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("extraction mismatch (-want +got):\n%s", diff)
	}
}

func TestUnicodeSpacesReachRules(t *testing.T) {
	got := New(nil, nil, nil).Extract(context.Background(), "Suspect\u00a0is John")
	if diff := cmp.Diff([]string{"John"}, got.Suspects); diff != "" {
		t.Fatalf("suspects mismatch (-want +got):\n%s", diff)
	}
}

func TestRulesAreDeterministic(t *testing.T) {
	rules := DefaultRules()
	first := rules.Apply(exampleTranscript).Result()
	for i := 0; i < 5; i++ {
		if diff := cmp.Diff(first, rules.Apply(exampleTranscript).Result()); diff != "" {
			t.Fatalf("run %d differs (-first +run):\n%s", i, diff)
		}
	}
}

func TestRemovingFamilyOnlyDropsItsContribution(t *testing.T) {
	text := "suspect is John wearing red hat at 3:45 PM"
	full := DefaultRules().Apply(text).Result()

	rules := DefaultRules()
	if !rules.Remove("clothing") {
		t.Fatalf("expected clothing rule to be removed")
	}
	reduced := rules.Apply(text).Result()

	if diff := cmp.Diff(full.Times, reduced.Times); diff != "" {
		t.Fatalf("times changed (-full +reduced):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"John", "wearing red hat"}, full.Suspects); diff != "" {
		t.Fatalf("full suspects mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"John"}, reduced.Suspects); diff != "" {
		t.Fatalf("reduced suspects mismatch (-want +got):\n%s", diff)
	}
}

func TestRegisterValidation(t *testing.T) {
	rules := DefaultRules()
	err := rules.Register(Rule{Name: "address", Slot: SlotLocations, Match: func(string) []string { return nil }})
	if !errors.Is(err, ErrDuplicateRule) {
		t.Fatalf("expected ErrDuplicateRule, got %v", err)
	}
	err = rules.Register(Rule{Name: "plates", Slot: "vehicles", Match: func(string) []string { return nil }})
	if !errors.Is(err, ErrInvalidRule) {
		t.Fatalf("expected ErrInvalidRule, got %v", err)
	}
	err = rules.Register(Rule{Name: "unit", Slot: SlotOrganizations, Match: func(string) []string { return []string{"Unit 12"} }})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if got := rules.Apply("anything").Result().Organizations; len(got) != 1 || got[0] != "Unit 12" {
		t.Fatalf("custom rule output missing: %v", got)
	}
}

func TestEmptyInputSkipsCollaborators(t *testing.T) {
	ner := &fakeNER{}
	zs := &fakeZeroShot{}
	models := NewModelExtractor(ner, zs, ModelConfig{WeaponLabels: []string{"gun"}, WeaponThreshold: 0.4}, nil, nil)
	ex := New(nil, models, nil)

	for _, text := range []string{"", "   \n\t "} {
		got := ex.Extract(context.Background(), text)
		if diff := cmp.Diff(EmptyResult(), got); diff != "" {
			t.Fatalf("expected empty result (-want +got):\n%s", diff)
		}
	}
	if ner.calls.Load() != 0 || zs.calls.Load() != 0 {
		t.Fatalf("collaborators must not be called for empty input")
	}
}

func TestModelExtractorMapsGroupsAndThresholds(t *testing.T) {
	ner := &fakeNER{entities: []inference.Entity{
		{Group: "PER", Word: "John", Score: 0.99},
		{Group: "B-GPE", Word: "Springfield", Score: 0.9},
		{Group: "FAC", Word: "Union Station", Score: 0.8},
		{Group: "DATE", Word: "last night", Score: 0.7},
		{Group: "ORG", Word: "Acme Corp", Score: 0.95},
		{Group: "ORG", Word: "Maybe Inc", Score: 0.2},
		{Group: "MISC", Word: "French", Score: 0.99},
	}}
	zs := &fakeZeroShot{result: inference.ZeroShotResult{
		Labels: []string{"knife", "blunt object", "gun"},
		Scores: []float64{0.81, 0.4, 0.39},
	}}
	models := NewModelExtractor(ner, zs, ModelConfig{
		WeaponLabels:    []string{"gun", "knife", "blunt object"},
		WeaponThreshold: 0.4,
		NERMinScore:     0.5,
	}, nil, nil)

	got := models.Extract(context.Background(), "irrelevant").Result()
	want := Result{
		Locations:     []string{"Springfield", "Union Station"},
		Times:         []string{"last night"},
		Suspects:      []string{"John"},
		Weapons:       []string{"blunt object", "knife"},
		Organizations: []string{"Acme Corp"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("model extraction mismatch (-want +got):\n%s", diff)
	}
	zs.mu.Lock()
	defer zs.mu.Unlock()
	if !zs.multi {
		t.Fatalf("weapon detection must run multi-label")
	}
}

func TestSetWeaponLabels(t *testing.T) {
	zs := &fakeZeroShot{}
	models := NewModelExtractor(nil, zs, ModelConfig{WeaponLabels: []string{"gun"}}, nil, nil)
	models.SetWeaponLabels([]string{" taser ", "Taser", "machete", ""})
	if diff := cmp.Diff([]string{"taser", "machete"}, models.WeaponLabels()); diff != "" {
		t.Fatalf("labels mismatch (-want +got):\n%s", diff)
	}
	models.Extract(context.Background(), "x")
	zs.mu.Lock()
	defer zs.mu.Unlock()
	if diff := cmp.Diff([]string{"taser", "machete"}, zs.labels); diff != "" {
		t.Fatalf("zero-shot got wrong labels (-want +got):\n%s", diff)
	}
}

func TestCollaboratorFailureDegrades(t *testing.T) {
	failures := &countingFailures{}
	ner := &fakeNER{err: inference.Unavailable("ner", errors.New("connection refused"))}
	zs := &fakeZeroShot{err: inference.Unavailable("zero-shot", errors.New("503"))}
	models := NewModelExtractor(ner, zs, ModelConfig{WeaponLabels: []string{"gun"}, WeaponThreshold: 0.4}, failures, nil)
	ex := New(nil, models, nil)

	got := ex.Extract(context.Background(), exampleTranscript)
	if !got.Contains(SlotSuspects, "John") || !got.Contains(SlotWeapons, "knife") {
		t.Fatalf("pattern results must survive collaborator failure, got %+v", got)
	}
	failures.mu.Lock()
	defer failures.mu.Unlock()
	if len(failures.ops) != 2 {
		t.Fatalf("expected 2 recorded failures, got %v", failures.ops)
	}
}

func TestCollaboratorTimeoutIsBounded(t *testing.T) {
	ner := &fakeNER{block: true}
	models := NewModelExtractor(ner, nil, ModelConfig{Timeout: 20 * time.Millisecond}, nil, nil)
	ex := New(nil, models, nil)

	start := time.Now()
	got := ex.Extract(context.Background(), exampleTranscript)
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("extraction blocked for %s", elapsed)
	}
	if !got.Contains(SlotTimes, "3:45 PM") {
		t.Fatalf("expected pattern times despite NER timeout, got %+v", got)
	}
}

func TestAggregateIsCaseInsensitiveSuperset(t *testing.T) {
	ner := &fakeNER{entities: []inference.Entity{
		{Group: "LOC", Word: "pete's   coffee", Score: 0.9},
		{Group: "PER", Word: "JOHN", Score: 0.9},
		{Group: "LOC", Word: "Main Street", Score: 0.9},
	}}
	models := NewModelExtractor(ner, nil, ModelConfig{NERMinScore: 0.5}, nil, nil)
	ex := New(nil, models, nil)

	got := ex.Extract(context.Background(), exampleTranscript)
	if diff := cmp.Diff([]string{"Main Street", "Pete's coffee"}, got.Locations); diff != "" {
		t.Fatalf("locations mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"John", "white male ~30"}, got.Suspects); diff != "" {
		t.Fatalf("suspects mismatch (-want +got):\n%s", diff)
	}

	patterns := DefaultRules().Apply(exampleTranscript).Result()
	modelOnly := models.Extract(context.Background(), exampleTranscript).Result()
	for _, slot := range Slots {
		for _, v := range append(patterns.Slot(slot), modelOnly.Slot(slot)...) {
			if !got.Contains(slot, v) {
				t.Fatalf("merged %s missing %q", slot, v)
			}
		}
	}
}

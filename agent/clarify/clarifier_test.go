package clarify

import (
	"context"
	"errors"
	"testing"

	contractx "github.com/voyagent/voyagent/agent/contract"
	registryx "github.com/voyagent/voyagent/agent/registry"
	statex "github.com/voyagent/voyagent/agent/state"
)

type memStore struct {
	states map[string]*contractx.SuspendState
}

func newMemStore() *memStore {
	return &memStore{states: make(map[string]*contractx.SuspendState)}
}

func (m *memStore) Load(_ context.Context, sessionID string) (*contractx.SuspendState, error) {
	st, ok := m.states[sessionID]
	if !ok {
		return nil, statex.ErrStateNotFound
	}
	return st, nil
}

func (m *memStore) Save(_ context.Context, st *contractx.SuspendState) error {
	m.states[st.SessionID] = st
	return nil
}

func (m *memStore) Delete(_ context.Context, sessionID string) error {
	delete(m.states, sessionID)
	return nil
}

// fakeExtractor returns a scripted value set and records the fields it
// was asked for.
type fakeExtractor struct {
	values map[string]any
	err    error
	calls  int
	asked  [][]string
}

func (f *fakeExtractor) Extract(_ context.Context, req contractx.ExtractRequest) (map[string]any, error) {
	f.calls++
	f.asked = append(f.asked, req.Fields)
	if f.err != nil {
		return nil, f.err
	}
	out := make(map[string]any)
	for _, field := range req.Fields {
		if v, ok := f.values[field]; ok {
			out[field] = v
		}
	}
	return out, nil
}

type fakeComposer struct {
	err error
}

func (f *fakeComposer) Compose(_ context.Context, _ string, fields []string) (map[string]string, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make(map[string]string, len(fields))
	for _, field := range fields {
		out[field] = "Please tell me your " + field + "."
	}
	return out, nil
}

func singleStepPlan(caps ...string) contractx.Plan {
	steps := make([]contractx.Step, 0, len(caps))
	for i, name := range caps {
		steps = append(steps, contractx.Step{ID: "step-" + string(rune('1'+i)), Capabilities: []string{name}})
	}
	return contractx.Plan{Steps: steps}
}

func travelRegistry(t *testing.T) *registryx.Registry {
	t.Helper()
	reg := registryx.New()
	reg.MustRegister(registryx.TravelCatalog()...)
	return reg
}

func newTestClarifier(t *testing.T, store statex.Store, ex contractx.Extractor, reg *registryx.Registry, opts ...Option) *Clarifier {
	t.Helper()
	c, err := New(statex.NewCache(store), ex, reg, opts...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return c
}

func TestResolveSuspendsOnMissingRequired(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	// destination is satisfied through its "city" alias.
	ex := &fakeExtractor{values: map[string]any{"city": "Lisbon"}}
	c := newTestClarifier(t, store, ex, travelRegistry(t), WithQuestionComposer(&fakeComposer{}))

	out, err := c.Resolve(context.Background(), Request{
		SessionID: "s1",
		Intent:    registryx.IntentTripPlan,
		Utterance: "Plan me a trip to Lisbon",
		Plan:      singleStepPlan("destination.resolve", "hotel.search"),
	})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if out.Proceed {
		t.Fatal("Resolve().Proceed = true, want suspension")
	}
	if len(out.Questions) != 2 || out.Questions[0].Field != "check_in" || out.Questions[1].Field != "check_out" {
		t.Fatalf("Resolve().Questions = %#v, want check_in then check_out", out.Questions)
	}
	if ex.calls != 1 {
		t.Fatalf("extractor calls = %d, want exactly 1", ex.calls)
	}

	st, ok := store.states["s1"]
	if !ok {
		t.Fatal("suspend state not persisted")
	}
	if !st.Suspended() {
		t.Fatalf("persisted state = %#v, want outstanding questions", st)
	}
	if v, _ := st.Fields.Get("destination"); v != "Lisbon" {
		t.Fatalf("persisted destination = %v, want Lisbon", v)
	}
}

func TestResolveAliasSatisfiesRequired(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	ex := &fakeExtractor{values: map[string]any{"city": "Paris"}}
	c := newTestClarifier(t, store, ex, travelRegistry(t))

	out, err := c.Resolve(context.Background(), Request{
		SessionID: "s2",
		Intent:    registryx.IntentTripPlan,
		Utterance: "I want a city break in Paris",
		Plan:      singleStepPlan("destination.resolve"),
	})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if !out.Proceed {
		t.Fatalf("Resolve() = %#v, want Proceed via alias", out)
	}

	v, ok := out.Fields.Get("destination")
	if !ok || v != "Paris" {
		t.Fatalf("destination = %v, want Paris copied from alias", v)
	}
	if fv := out.Fields.Values["destination"]; fv.Source != contractx.SourceAlias {
		t.Fatalf("destination provenance = %q, want %q", fv.Source, contractx.SourceAlias)
	}
	if len(store.states) != 0 {
		t.Fatal("no suspend state should persist on a resolved turn")
	}
}

func TestResolveInjectsIntentDefaults(t *testing.T) {
	t.Parallel()

	reg := registryx.New()
	reg.MustRegister(contractx.Contract{
		Name:     "package.quote",
		Intent:   "i",
		Required: []string{"destination", "party_size"},
	})
	store := newMemStore()
	ex := &fakeExtractor{values: map[string]any{"destination": "Rome"}}
	c := newTestClarifier(t, store, ex, reg,
		WithDefaults(map[string]map[string]any{"i": {"party_size": 2}}),
	)

	out, err := c.Resolve(context.Background(), Request{
		SessionID: "s3",
		Intent:    "i",
		Utterance: "Rome please",
		Plan:      singleStepPlan("package.quote"),
	})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if !out.Proceed {
		t.Fatalf("Resolve() = %#v, want Proceed via defaults", out)
	}
	if fv := out.Fields.Values["party_size"]; fv.Value != 2 || fv.Source != contractx.SourceDefault {
		t.Fatalf("party_size = %#v, want 2 with default provenance", fv)
	}
}

func TestResolveInjectsOptionalDefaults(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	ex := &fakeExtractor{values: map[string]any{
		"destination": "Rome",
		"check_in":    "2026-09-10",
		"check_out":   "2026-09-14",
	}}
	c := newTestClarifier(t, store, ex, travelRegistry(t),
		WithDefaults(registryx.TravelDefaults()),
	)

	out, err := c.Resolve(context.Background(), Request{
		SessionID: "s3b",
		Intent:    registryx.IntentTripPlan,
		Utterance: "Rome, sept 10 to 14",
		Plan:      singleStepPlan("destination.resolve", "hotel.search", "itinerary.compose"),
	})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if !out.Proceed {
		t.Fatalf("Resolve() = %#v, want Proceed", out)
	}
	// Optional slots with a declared default are filled too, not just
	// the required ones.
	if fv := out.Fields.Values["trip_length"]; fv.Value != 3 || fv.Source != contractx.SourceDefault {
		t.Fatalf("trip_length = %#v, want 3 with default provenance", fv)
	}
	if fv := out.Fields.Values["party_size"]; fv.Value != 2 || fv.Source != contractx.SourceDefault {
		t.Fatalf("party_size = %#v, want 2 with default provenance", fv)
	}
}

func TestResolveBuildsPlanLazily(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	ex := &fakeExtractor{values: map[string]any{"city": "Lisbon"}}
	c := newTestClarifier(t, store, ex, travelRegistry(t))

	builds := 0
	out, err := c.Resolve(context.Background(), Request{
		SessionID: "s3c",
		Intent:    registryx.IntentTripPlan,
		Utterance: "Plan me a trip to Lisbon",
		PlanFunc: func() (contractx.Plan, error) {
			builds++
			return singleStepPlan("destination.resolve", "hotel.search"), nil
		},
	})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if builds != 1 {
		t.Fatalf("plan builds = %d, want exactly 1", builds)
	}
	if out.Plan.Empty() {
		t.Fatal("Resolve().Plan is empty, want the lazily built plan")
	}
	st := store.states["s3c"]
	if st == nil || st.Plan.Empty() {
		t.Fatalf("persisted state = %#v, want the built plan snapshot", st)
	}
}

func TestResolvePlanErrorIsFatal(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	ex := &fakeExtractor{}
	c := newTestClarifier(t, store, ex, travelRegistry(t))

	_, err := c.Resolve(context.Background(), Request{
		SessionID: "s3d",
		Intent:    registryx.IntentTripPlan,
		Utterance: "anything",
		PlanFunc: func() (contractx.Plan, error) {
			return contractx.Plan{}, contractx.ErrPlanning
		},
	})
	if !errors.Is(err, contractx.ErrPlanning) {
		t.Fatalf("Resolve() error = %v, want planning failure surfaced", err)
	}
}

func TestResolveResumeAnswersEverything(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	seedFields := contractx.NewFieldSet()
	seedFields.Set("destination", "Lisbon", contractx.SourceExtracted)
	store.states["s4"] = &contractx.SuspendState{
		SessionID: "s4",
		Intent:    registryx.IntentTripPlan,
		Fields:    seedFields,
		Outstanding: []contractx.Question{
			{Field: "check_in", Text: "When do you arrive?"},
			{Field: "check_out", Text: "When do you leave?"},
		},
		Plan: singleStepPlan("destination.resolve", "hotel.search"),
	}

	ex := &fakeExtractor{values: map[string]any{
		"check_in":  "2026-09-10",
		"check_out": "2026-09-14",
	}}
	c := newTestClarifier(t, store, ex, travelRegistry(t))

	out, err := c.Resolve(context.Background(), Request{
		SessionID: "s4",
		Intent:    registryx.IntentTripPlan,
		Utterance: "arriving sept 10, leaving the 14th",
	})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if !out.Proceed || !out.Resumed {
		t.Fatalf("Resolve() = %#v, want Proceed and Resumed", out)
	}
	if v, _ := out.Fields.Get("destination"); v != "Lisbon" {
		t.Fatalf("destination = %v, earlier answers must survive the resume", v)
	}
	if out.Plan.Empty() {
		t.Fatal("Resolve().Plan is empty, want restored snapshot")
	}
	if len(store.states) != 0 {
		t.Fatal("suspend state must be cleared once resolved")
	}
}

func TestResolveResumeSkipsPlanBuild(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	store.states["s4b"] = &contractx.SuspendState{
		SessionID: "s4b",
		Intent:    registryx.IntentTripPlan,
		Fields:    contractx.NewFieldSet(),
		Outstanding: []contractx.Question{
			{Field: "check_in", Text: "When do you arrive?"},
		},
		Plan: singleStepPlan("hotel.search"),
	}

	ex := &fakeExtractor{values: map[string]any{"check_in": "2026-09-10"}}
	c := newTestClarifier(t, store, ex, travelRegistry(t))

	// A resumed turn runs against the snapshotted plan; planning must
	// not be re-entered even if a planner is wired in.
	out, err := c.Resolve(context.Background(), Request{
		SessionID: "s4b",
		Intent:    registryx.IntentTripPlan,
		Utterance: "the 10th",
		PlanFunc: func() (contractx.Plan, error) {
			return contractx.Plan{}, errors.New("planner must not run on resume")
		},
	})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if !out.Resumed {
		t.Fatalf("Resolve() = %#v, want a resumed turn", out)
	}
}

func TestResolveResumeKeepsUnansweredRequired(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	store.states["s5"] = &contractx.SuspendState{
		SessionID: "s5",
		Intent:    registryx.IntentTripPlan,
		Fields:    contractx.NewFieldSet(),
		Outstanding: []contractx.Question{
			{Field: "check_in", Text: "When do you arrive?"},
			{Field: "check_out", Text: "When do you leave?"},
		},
		Plan: singleStepPlan("hotel.search"),
	}

	ex := &fakeExtractor{values: map[string]any{"check_in": "2026-09-10"}}
	c := newTestClarifier(t, store, ex, travelRegistry(t))

	out, err := c.Resolve(context.Background(), Request{
		SessionID: "s5",
		Intent:    registryx.IntentTripPlan,
		Utterance: "the 10th",
	})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if out.Proceed {
		t.Fatal("Resolve().Proceed = true, check_out is still unanswered")
	}
	if len(out.Questions) != 1 || out.Questions[0].Field != "check_out" {
		t.Fatalf("Resolve().Questions = %#v, want only check_out", out.Questions)
	}

	st := store.states["s5"]
	if st == nil || len(st.Outstanding) != 1 {
		t.Fatalf("persisted state = %#v, want one outstanding question", st)
	}
}

func TestResolveStaleStateIsDiscarded(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	// No outstanding questions: this state suspends nothing.
	store.states["s6"] = &contractx.SuspendState{
		SessionID: "s6",
		Intent:    registryx.IntentTripPlan,
		Fields:    contractx.NewFieldSet(),
	}

	ex := &fakeExtractor{values: map[string]any{"city": "Porto"}}
	c := newTestClarifier(t, store, ex, travelRegistry(t))

	out, err := c.Resolve(context.Background(), Request{
		SessionID: "s6",
		Intent:    registryx.IntentTripPlan,
		Utterance: "Porto",
		Plan:      singleStepPlan("destination.resolve"),
	})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if !out.Proceed || out.Resumed {
		t.Fatalf("Resolve() = %#v, want a fresh collecting turn", out)
	}
}

func TestResolveFailsOpenOnExtractorError(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	ex := &fakeExtractor{err: errors.New("model unavailable")}
	c := newTestClarifier(t, store, ex, travelRegistry(t))

	out, err := c.Resolve(context.Background(), Request{
		SessionID: "s7",
		Intent:    registryx.IntentTripPlan,
		Utterance: "anything",
		Plan:      singleStepPlan("destination.resolve"),
	})
	if err != nil {
		t.Fatalf("Resolve() error = %v, want fail-open nil", err)
	}
	if !out.Proceed {
		t.Fatal("Resolve().Proceed = false, want fail-open proceed")
	}
	if out.Fields == nil {
		t.Fatal("Resolve().Fields is nil, want empty set")
	}
}

func TestResolveUnknownCapabilityIsFatal(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	ex := &fakeExtractor{}
	c := newTestClarifier(t, store, ex, travelRegistry(t))

	_, err := c.Resolve(context.Background(), Request{
		SessionID: "s8",
		Intent:    registryx.IntentTripPlan,
		Utterance: "anything",
		Plan:      singleStepPlan("not.registered"),
	})
	if !errors.Is(err, contractx.ErrUnknownCapability) {
		t.Fatalf("Resolve() error = %v, want ErrUnknownCapability", err)
	}
}

func TestResolveFallbackQuestionText(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	ex := &fakeExtractor{}
	c := newTestClarifier(t, store, ex, travelRegistry(t),
		WithQuestionComposer(&fakeComposer{err: errors.New("composer down")}),
	)

	out, err := c.Resolve(context.Background(), Request{
		SessionID: "s9",
		Intent:    registryx.IntentTripPlan,
		Utterance: "hmm",
		Plan:      singleStepPlan("hotel.search"),
	})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if out.Proceed {
		t.Fatal("Resolve().Proceed = true, want suspension")
	}
	for _, q := range out.Questions {
		if q.Text == "" {
			t.Fatalf("question for %s has empty text, want humanized fallback", q.Field)
		}
	}
}

package contract

import "time"

// Contract is the static description of one capability: the inputs it
// needs and where it sits relative to other capabilities. Contracts are
// registered once at startup and never mutated afterwards.
type Contract struct {
	Name         string            `json:"name"`
	Purpose      string            `json:"purpose"`
	Required     []string          `json:"required_fields,omitempty"`
	Optional     []string          `json:"optional_fields,omitempty"`
	Aliases      map[string]string `json:"field_aliases,omitempty"` // canonical field -> alternate field that satisfies it
	Predecessors []string          `json:"predecessors,omitempty"`
	Successors   []string          `json:"successors,omitempty"`
	OrderHint    *int              `json:"order_hint,omitempty"`
	Intent       string            `json:"intent"`
	IsDefault    bool              `json:"is_default,omitempty"`  // pulled in once all predecessors are present
	IsRequired   bool              `json:"is_required,omitempty"` // always included for its intent
}

// Step is one unit of the execution plan. Capabilities within a
// parallel step fan out concurrently and join before the next step.
type Step struct {
	ID           string   `json:"id"`
	Capabilities []string `json:"capabilities"`
	Parallel     bool     `json:"parallel,omitempty"`
}

// Plan is an ordered list of steps satisfying every predecessor and
// successor constraint of the capabilities it contains.
type Plan struct {
	Steps []Step `json:"steps"`
}

// Capabilities returns every capability name in step order.
func (p Plan) Capabilities() []string {
	out := make([]string, 0, len(p.Steps))
	for _, s := range p.Steps {
		out = append(out, s.Capabilities...)
	}
	return out
}

// StepIndexOf returns the index of the step containing the capability,
// or -1 when the plan does not include it.
func (p Plan) StepIndexOf(capability string) int {
	for i, s := range p.Steps {
		for _, c := range s.Capabilities {
			if c == capability {
				return i
			}
		}
	}
	return -1
}

// Empty reports whether the plan has no steps.
func (p Plan) Empty() bool {
	return len(p.Steps) == 0
}

// Provenance records how a field value entered the field set.
type Provenance string

const (
	SourceExtracted Provenance = "extracted"
	SourceUser      Provenance = "user-supplied"
	SourceDefault   Provenance = "default-injected"
	SourceAlias     Provenance = "alias-copied"
)

// FieldValue is one slot value plus its provenance tag.
type FieldValue struct {
	Value  any        `json:"value"`
	Source Provenance `json:"source"`
}

// FieldSet is the mutable slot map for one conversational turn.
// Single writer at a time by convention (the active turn); it is not
// protected by a lock.
type FieldSet struct {
	Values map[string]FieldValue `json:"values,omitempty"`
}

func NewFieldSet() *FieldSet {
	return &FieldSet{Values: make(map[string]FieldValue, 8)}
}

func (f *FieldSet) ensure() {
	if f.Values == nil {
		f.Values = make(map[string]FieldValue, 8)
	}
}

// Set stores a value with its provenance.
func (f *FieldSet) Set(name string, value any, source Provenance) {
	f.ensure()
	f.Values[name] = FieldValue{Value: value, Source: source}
}

// Get returns the raw value for a field.
func (f *FieldSet) Get(name string) (any, bool) {
	if f == nil || f.Values == nil {
		return nil, false
	}
	v, ok := f.Values[name]
	if !ok {
		return nil, false
	}
	return v.Value, true
}

// Has reports whether the field is filled.
func (f *FieldSet) Has(name string) bool {
	_, ok := f.Get(name)
	return ok
}

// Clone returns a copy safe to hand to another turn.
func (f *FieldSet) Clone() *FieldSet {
	out := NewFieldSet()
	if f == nil {
		return out
	}
	for k, v := range f.Values {
		out.Values[k] = v
	}
	return out
}

// Len returns the number of filled fields.
func (f *FieldSet) Len() int {
	if f == nil {
		return 0
	}
	return len(f.Values)
}

// Question is one follow-up question the user must answer before the
// plan can execute.
type Question struct {
	Field string `json:"field"`
	Text  string `json:"text"`
}

// SuspendState is the persisted snapshot that lets a multi-turn
// clarification resume on a later, independent request.
type SuspendState struct {
	SessionID   string              `json:"session_id"`
	Intent      string              `json:"intent"`
	Fields      *FieldSet           `json:"field_set"`
	Outstanding []Question          `json:"outstanding_questions,omitempty"`
	Plan        Plan                `json:"plan_snapshot"`
	FieldOwners map[string][]string `json:"field_owners,omitempty"`
	UpdatedAt   time.Time           `json:"updated_at"`
}

// Suspended reports whether this state actually suspends the
// conversation. A state without outstanding questions is stale and
// must be treated as no suspension at all.
func (s *SuspendState) Suspended() bool {
	return s != nil && len(s.Outstanding) > 0
}

// ExtractRequest is the input to the extraction service: the fields to
// pull out of the utterance plus a bounded window of prior turns.
type ExtractRequest struct {
	Intent    string   `json:"intent"`
	Fields    []string `json:"fields"`
	Utterance string   `json:"utterance"`
	History   []string `json:"history,omitempty"` // oldest first
}

// RouteRequest asks the escalation router to gather results for an
// intent, starting at tier 1.
type RouteRequest struct {
	Intent    string       `json:"intent"`
	Query     string       `json:"query"`
	SessionID string       `json:"session_id"`
	ActorID   string       `json:"actor_id"`
	Consent   ConsentFlags `json:"consent"`
}

// ConsentFlags carries the two ways a caller can authorize gated
// tiers: a standing account-level opt-in or a per-query flag.
type ConsentFlags struct {
	Standing bool `json:"standing,omitempty"`
	PerQuery bool `json:"per_query,omitempty"`
}

// Granted reports whether either consent form is present.
func (c ConsentFlags) Granted() bool {
	return c.Standing || c.PerQuery
}

// Item is one structured result row from an external source.
type Item struct {
	Name     string         `json:"name"`
	Price    float64        `json:"price"`
	Source   string         `json:"source,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// SourceResult is what a single external source returns for one fetch.
type SourceResult struct {
	Items    []Item   `json:"items,omitempty"`
	Snippets []string `json:"snippets,omitempty"`
}

type RouterStatus string

const (
	RouterSuccess         RouterStatus = "success"
	RouterConsentRequired RouterStatus = "consent_required"
	RouterPartial         RouterStatus = "partial"
)

// ConsentPrompt is surfaced to the user when a gated tier needs
// explicit authorization before it can be fetched.
type ConsentPrompt struct {
	Tier    int    `json:"tier"`
	Message string `json:"message"`
}

// RouterResult is the aggregated outcome of a tiered escalation run.
type RouterResult struct {
	Status             RouterStatus   `json:"status"`
	Items              []Item         `json:"items,omitempty"`
	Snippets           []string       `json:"snippets,omitempty"`
	SourcesUsed        []string       `json:"sources_used,omitempty"`
	SourcesUnavailable []string       `json:"sources_unavailable,omitempty"`
	ConsentPrompt      *ConsentPrompt `json:"consent_prompt,omitempty"`
	TierReached        int            `json:"tier_reached"`
}

// VerdictKind classifies a sufficiency check.
type VerdictKind string

const (
	VerdictSufficient      VerdictKind = "sufficient"
	VerdictEscalate        VerdictKind = "escalate"
	VerdictConsentRequired VerdictKind = "consent_required"
	VerdictMaxTierReached  VerdictKind = "max_tier_reached"
)

// Verdict is the sufficiency validator's decision after a tier.
type Verdict struct {
	Kind     VerdictKind `json:"kind"`
	NextTier int         `json:"next_tier,omitempty"`
	Message  string      `json:"message,omitempty"`
}

func Sufficient() Verdict {
	return Verdict{Kind: VerdictSufficient}
}

func Escalate(nextTier int) Verdict {
	return Verdict{Kind: VerdictEscalate, NextTier: nextTier}
}

func ConsentRequired(nextTier int, message string) Verdict {
	return Verdict{Kind: VerdictConsentRequired, NextTier: nextTier, Message: message}
}

func MaxTierReached() Verdict {
	return Verdict{Kind: VerdictMaxTierReached}
}

// ConsentRecord is one append-only audit entry, written whenever an
// escalation to a gated tier actually occurs.
type ConsentRecord struct {
	ID        string    `json:"id"`
	ActorID   string    `json:"actor_id"`
	SessionID string    `json:"session_id"`
	Tier      int       `json:"tier_requested"`
	CreatedAt time.Time `json:"timestamp"`
}

// CapabilityResult is the outcome of invoking one capability in a
// plan step.
type CapabilityResult struct {
	Capability string        `json:"capability"`
	Output     any           `json:"output,omitempty"`
	Router     *RouterResult `json:"router,omitempty"`
	Error      string        `json:"error,omitempty"`
}

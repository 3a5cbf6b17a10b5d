// Package clarify decides whether a plan has every required input and
// suspends the conversation with follow-up questions when it does not.
package clarify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	contractx "github.com/voyagent/voyagent/agent/contract"
	registryx "github.com/voyagent/voyagent/agent/registry"
	statex "github.com/voyagent/voyagent/agent/state"
)

const defaultHistoryWindow = 6

// Request is one clarification attempt for the active turn. Plan may
// be supplied directly or lazily through PlanFunc; the lazy form is
// only invoked on a fresh turn, never when resuming from a suspended
// state, which carries its own plan snapshot.
type Request struct {
	SessionID string
	Intent    string
	Utterance string
	History   []string // prior turns, oldest first
	Plan      contractx.Plan
	PlanFunc  func() (contractx.Plan, error)
}

// Outcome reports whether the turn may proceed to execution. When
// Proceed is false the questions must be surfaced and the turn ends.
type Outcome struct {
	Proceed   bool
	Resumed   bool
	Fields    *contractx.FieldSet
	Questions []contractx.Question
	Plan      contractx.Plan
}

// Clarifier is the slot-filling state machine: COLLECTING on a fresh
// plan, SUSPENDED while questions are outstanding, RESOLVED when the
// required set is satisfied.
type Clarifier struct {
	cache     *statex.Cache
	extractor contractx.Extractor
	questions contractx.QuestionComposer
	reg       *registryx.Registry
	defaults  map[string]map[string]any
	window    int
	now       func() time.Time
}

type Option func(*Clarifier)

// WithQuestionComposer installs a generator for follow-up question
// text. Without one, humanized field names are used.
func WithQuestionComposer(qc contractx.QuestionComposer) Option {
	return func(c *Clarifier) { c.questions = qc }
}

// WithDefaults installs intent-specific slot defaults injected when
// extraction leaves a declared field unset.
func WithDefaults(defaults map[string]map[string]any) Option {
	return func(c *Clarifier) { c.defaults = defaults }
}

// WithHistoryWindow bounds how many prior turns reach the extractor.
func WithHistoryWindow(n int) Option {
	return func(c *Clarifier) {
		if n > 0 {
			c.window = n
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Clarifier) {
		if now != nil {
			c.now = now
		}
	}
}

func New(cache *statex.Cache, extractor contractx.Extractor, reg *registryx.Registry, opts ...Option) (*Clarifier, error) {
	if cache == nil {
		return nil, errors.New("suspend cache is required")
	}
	if extractor == nil {
		return nil, errors.New("extractor is required")
	}
	if reg == nil {
		return nil, errors.New("capability registry is required")
	}
	c := &Clarifier{
		cache:     cache,
		extractor: extractor,
		reg:       reg,
		window:    defaultHistoryWindow,
		now:       time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c, nil
}

// Resolve runs one turn of the state machine. Unknown capabilities in
// the plan surface as errors; every other internal failure fails open
// so the turn proceeds with whatever fields exist.
func (c *Clarifier) Resolve(ctx context.Context, req Request) (Outcome, error) {
	st, err := c.cache.Load(ctx, req.SessionID)
	if err != nil && !errors.Is(err, statex.ErrStateNotFound) {
		log.Warn().Err(err).Str("session_id", req.SessionID).Msg("suspend state load failed, treating as absent")
		st = nil
	}

	var out Outcome
	if st.Suspended() {
		out, err = c.resume(ctx, req, st)
	} else {
		out, err = c.collect(ctx, req, st != nil)
	}
	if err == nil {
		return out, nil
	}
	if errors.Is(err, contractx.ErrUnknownCapability) || errors.Is(err, contractx.ErrPlanning) {
		return Outcome{}, err
	}

	// Fail open: better to execute with partial fields than to wedge
	// the conversation.
	log.Warn().Err(err).Str("session_id", req.SessionID).Msg("clarifier failed open")
	fields := out.Fields
	if fields == nil {
		fields = contractx.NewFieldSet()
	}
	plan := out.Plan
	if plan.Empty() {
		plan = req.Plan
	}
	return Outcome{Proceed: true, Fields: fields, Plan: plan}, nil
}

// fieldUnion is the per-plan view of every input the capabilities
// declare, in plan order.
type fieldUnion struct {
	required []string
	optional []string
	owners   map[string][]string
	aliases  map[string]string
}

func (c *Clarifier) union(plan contractx.Plan) (fieldUnion, error) {
	u := fieldUnion{
		owners:  make(map[string][]string),
		aliases: make(map[string]string),
	}
	seenReq := make(map[string]bool)
	seenOpt := make(map[string]bool)

	for _, name := range plan.Capabilities() {
		contract, ok := c.reg.Get(name)
		if !ok {
			return fieldUnion{}, fmt.Errorf("%w: %s", contractx.ErrUnknownCapability, name)
		}
		for _, f := range contract.Required {
			if !seenReq[f] {
				seenReq[f] = true
				u.required = append(u.required, f)
			}
			u.owners[f] = append(u.owners[f], name)
		}
		for _, f := range contract.Optional {
			if !seenOpt[f] {
				seenOpt[f] = true
				u.optional = append(u.optional, f)
			}
			u.owners[f] = append(u.owners[f], name)
		}
		// Later contracts overwrite earlier alias mappings for the
		// same canonical field.
		for field, alias := range contract.Aliases {
			u.aliases[field] = alias
		}
	}
	return u, nil
}

// copyAliases satisfies required fields from already-filled aliases.
func copyAliases(fields *contractx.FieldSet, u fieldUnion) {
	for _, f := range u.required {
		if fields.Has(f) {
			continue
		}
		alias, ok := u.aliases[f]
		if !ok {
			continue
		}
		if v, filled := fields.Get(alias); filled {
			fields.Set(f, v, contractx.SourceAlias)
		}
	}
}

// missingRequired returns required fields satisfied neither directly
// nor through a filled alias.
func missingRequired(fields *contractx.FieldSet, u fieldUnion) []string {
	var missing []string
	for _, f := range u.required {
		if fields.Has(f) {
			continue
		}
		if alias, ok := u.aliases[f]; ok && fields.Has(alias) {
			continue
		}
		missing = append(missing, f)
	}
	return missing
}

func (c *Clarifier) collect(ctx context.Context, req Request, stale bool) (Outcome, error) {
	fields := contractx.NewFieldSet()
	out := Outcome{Fields: fields, Plan: req.Plan}

	plan := req.Plan
	if plan.Empty() && req.PlanFunc != nil {
		built, err := req.PlanFunc()
		if err != nil {
			return out, err
		}
		plan = built
		out.Plan = plan
	}

	u, err := c.union(plan)
	if err != nil {
		return out, err
	}

	if stale {
		// A suspend state with no outstanding questions means no
		// suspension; drop it so it cannot shadow this turn's write.
		if err := c.cache.Delete(ctx, req.SessionID); err != nil {
			log.Warn().Err(err).Str("session_id", req.SessionID).Msg("stale suspend state delete failed")
		}
	}

	copyAliases(fields, u)

	toExtract := c.extractTargets(fields, u)
	if err := c.extractInto(ctx, req, toExtract, fields); err != nil {
		return out, err
	}
	copyAliases(fields, u)

	// Intent defaults fill any declared field still unset, required or
	// optional, so optional slots like trip length do not fall back to
	// per-capability hardcoding downstream.
	for f, v := range c.defaults[req.Intent] {
		if _, declared := u.owners[f]; !declared {
			continue
		}
		if fields.Has(f) {
			continue
		}
		if alias, ok := u.aliases[f]; ok && fields.Has(alias) {
			continue
		}
		fields.Set(f, v, contractx.SourceDefault)
	}
	missing := missingRequired(fields, u)

	if len(missing) == 0 {
		if err := c.cache.Delete(ctx, req.SessionID); err != nil {
			log.Warn().Err(err).Str("session_id", req.SessionID).Msg("suspend state clear failed")
		}
		out.Proceed = true
		return out, nil
	}

	questions := c.compose(ctx, req.Intent, missing)
	st := &contractx.SuspendState{
		SessionID:   req.SessionID,
		Intent:      req.Intent,
		Fields:      fields,
		Outstanding: questions,
		Plan:        plan,
		FieldOwners: u.owners,
		UpdatedAt:   c.now().UTC(),
	}
	if err := c.cache.Save(ctx, st); err != nil {
		return out, fmt.Errorf("persist suspend state: %w", err)
	}
	out.Questions = questions
	return out, nil
}

func (c *Clarifier) resume(ctx context.Context, req Request, st *contractx.SuspendState) (Outcome, error) {
	fields := st.Fields
	if fields == nil {
		fields = contractx.NewFieldSet()
		st.Fields = fields
	}
	out := Outcome{Resumed: true, Fields: fields, Plan: st.Plan}

	u, err := c.union(st.Plan)
	if err != nil {
		return out, err
	}

	// Ask the extractor for exactly the outstanding answers, plus any
	// optional fields it may pick up in passing.
	targets := make([]string, 0, len(st.Outstanding))
	for _, q := range st.Outstanding {
		targets = append(targets, q.Field)
	}
	for _, f := range u.optional {
		if !fields.Has(f) && !contains(targets, f) {
			targets = append(targets, f)
		}
	}
	if err := c.extractInto(ctx, Request{
		SessionID: req.SessionID,
		Intent:    st.Intent,
		Utterance: req.Utterance,
		History:   req.History,
	}, targets, fields); err != nil {
		return out, err
	}
	copyAliases(fields, u)

	// Required outstanding fields stay on the list until answered;
	// optional ones are dropped silently and never re-asked.
	var stillMissing []string
	for _, q := range st.Outstanding {
		if fields.Has(q.Field) {
			continue
		}
		if alias, ok := u.aliases[q.Field]; ok && fields.Has(alias) {
			continue
		}
		stillMissing = append(stillMissing, q.Field)
	}

	if len(stillMissing) == 0 {
		if err := c.cache.Delete(ctx, req.SessionID); err != nil {
			log.Warn().Err(err).Str("session_id", req.SessionID).Msg("suspend state clear failed")
		}
		out.Proceed = true
		return out, nil
	}

	questions := c.compose(ctx, st.Intent, stillMissing)
	st.Outstanding = questions
	st.Fields = fields
	st.UpdatedAt = c.now().UTC()
	if err := c.cache.Save(ctx, st); err != nil {
		return out, fmt.Errorf("persist suspend state: %w", err)
	}
	out.Questions = questions
	return out, nil
}

// extractTargets builds the to-extract set: unfilled required fields
// (swapped for their alias when one is mapped), then unfilled
// optional fields.
func (c *Clarifier) extractTargets(fields *contractx.FieldSet, u fieldUnion) []string {
	var targets []string
	for _, f := range u.required {
		if fields.Has(f) {
			continue
		}
		if alias, ok := u.aliases[f]; ok {
			if !fields.Has(alias) && !contains(targets, alias) {
				targets = append(targets, alias)
			}
			continue
		}
		if !contains(targets, f) {
			targets = append(targets, f)
		}
	}
	for _, f := range u.optional {
		if !fields.Has(f) && !contains(targets, f) {
			targets = append(targets, f)
		}
	}
	return targets
}

// extractInto issues one extraction call and merges non-null values
// for fields that are still unfilled.
func (c *Clarifier) extractInto(ctx context.Context, req Request, targets []string, fields *contractx.FieldSet) error {
	if len(targets) == 0 {
		return nil
	}
	history := req.History
	if len(history) > c.window {
		history = history[len(history)-c.window:]
	}
	values, err := c.extractor.Extract(ctx, contractx.ExtractRequest{
		Intent:    req.Intent,
		Fields:    targets,
		Utterance: req.Utterance,
		History:   history,
	})
	if err != nil {
		return fmt.Errorf("%w: extract fields: %v", contractx.ErrModelInvoke, err)
	}
	for _, f := range targets {
		v, ok := values[f]
		if !ok || v == nil {
			continue
		}
		if fields.Has(f) {
			continue
		}
		fields.Set(f, v, contractx.SourceExtracted)
	}
	return nil
}

// compose builds one question per missing field, falling back to the
// humanized field name whenever generation fails.
func (c *Clarifier) compose(ctx context.Context, intent string, missing []string) []contractx.Question {
	var generated map[string]string
	if c.questions != nil {
		var err error
		generated, err = c.questions.Compose(ctx, intent, missing)
		if err != nil {
			log.Warn().Err(err).Str("intent", intent).Msg("question generation failed, using field names")
			generated = nil
		}
	}

	questions := make([]contractx.Question, 0, len(missing))
	for _, f := range missing {
		text := strings.TrimSpace(generated[f])
		if text == "" {
			text = humanize(f)
		}
		questions = append(questions, contractx.Question{Field: f, Text: text})
	}
	return questions
}

func humanize(field string) string {
	replaced := strings.NewReplacer("_", " ", ".", " ").Replace(field)
	return strings.TrimSpace(replaced)
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

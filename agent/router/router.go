// Package router escalates a request through ranked tiers of external
// sources, fetching each tier's sources concurrently behind per-source
// circuit breakers, and gating high tiers behind explicit consent.
package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"

	contractx "github.com/voyagent/voyagent/agent/contract"
	cachex "github.com/voyagent/voyagent/pkg/cache"
)

// Config tunes the router's resilience behavior.
type Config struct {
	FailureThreshold int           `envconfig:"FAILURE_THRESHOLD" split_words:"true" default:"3"`
	ResetTimeout     time.Duration `envconfig:"RESET_TIMEOUT" split_words:"true" default:"30s"`
	SourceTimeout    time.Duration `envconfig:"SOURCE_TIMEOUT" split_words:"true" default:"5s"`
	MaxConcurrent    int           `envconfig:"MAX_CONCURRENT" split_words:"true" default:"4"`
	ConsentTier      int           `envconfig:"CONSENT_TIER" split_words:"true" default:"3"`
	CacheTTL         time.Duration `envconfig:"CACHE_TTL" split_words:"true" default:"2m"`
}

func (c *Config) normalize() {
	if c.FailureThreshold < 1 {
		c.FailureThreshold = 3
	}
	if c.ResetTimeout <= 0 {
		c.ResetTimeout = 30 * time.Second
	}
	if c.SourceTimeout <= 0 {
		c.SourceTimeout = 5 * time.Second
	}
	if c.MaxConcurrent < 1 {
		c.MaxConcurrent = 4
	}
	if c.ConsentTier < 1 {
		c.ConsentTier = 3
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = 2 * time.Minute
	}
}

// Router fans requests out per tier and decides, with the sufficiency
// validator, when to stop, escalate, or ask for consent.
type Router struct {
	table     contractx.RoutingTable
	validator contractx.SufficiencyValidator
	sources   map[string]contractx.Source
	flags     contractx.FeatureFlags
	consent   contractx.ConsentLog
	cache     *cachex.Cache
	breakers  *breakerSet
	pool      *semaphore.Weighted
	cfg       Config
	newID     func() string
	now       func() time.Time
}

type Option func(*Router)

// WithFeatureFlags gates individual sources. Without flags every
// registered source is considered enabled.
func WithFeatureFlags(flags contractx.FeatureFlags) Option {
	return func(r *Router) { r.flags = flags }
}

// WithConsentLog installs the audit trail appended to before any
// gated-tier fetch.
func WithConsentLog(consent contractx.ConsentLog) Option {
	return func(r *Router) { r.consent = consent }
}

// WithCache memoizes per-source fetch results. Best effort.
func WithCache(c *cachex.Cache) Option {
	return func(r *Router) { r.cache = c }
}

// WithClock overrides the breaker time source.
func WithClock(now func() time.Time) Option {
	return func(r *Router) {
		if now != nil {
			r.now = now
		}
	}
}

func New(table contractx.RoutingTable, validator contractx.SufficiencyValidator, sources []contractx.Source, cfg Config, opts ...Option) (*Router, error) {
	if table == nil {
		return nil, errors.New("routing table is required")
	}
	if validator == nil {
		return nil, errors.New("sufficiency validator is required")
	}
	cfg.normalize()

	byName := make(map[string]contractx.Source, len(sources))
	for _, src := range sources {
		if src == nil || strings.TrimSpace(src.Name()) == "" {
			return nil, errors.New("source with empty name")
		}
		byName[src.Name()] = src
	}

	r := &Router{
		table:     table,
		validator: validator,
		sources:   byName,
		cfg:       cfg,
		pool:      semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		newID:     uuid.NewString,
		now:       time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	r.breakers = newBreakerSet(cfg.FailureThreshold, cfg.ResetTimeout, r.now)
	return r, nil
}

// Route walks tiers starting at 1 until the validator is satisfied,
// consent is missing for a gated tier, or the last tier is exhausted.
func (r *Router) Route(ctx context.Context, req contractx.RouteRequest) (contractx.RouterResult, error) {
	agg := contractx.RouterResult{Status: contractx.RouterSuccess}
	seen := make(map[string]bool)
	recorded := make(map[int]bool)

	maxTier := r.table.MaxTier(req.Intent)
	if maxTier < 1 {
		maxTier = 1
	}

	tier := 1
	for tier <= maxTier {
		agg.TierReached = tier
		fetched := r.fetchTier(ctx, req, tier, &agg, seen)
		if !fetched {
			next, stop := r.escalate(ctx, req, &agg, recorded, tier+1, "")
			if stop {
				return agg, nil
			}
			tier = next
			continue
		}

		verdict := r.validator.Assess(ctx, req, agg, tier)
		switch verdict.Kind {
		case contractx.VerdictSufficient:
			agg.Status = contractx.RouterSuccess
			return agg, nil
		case contractx.VerdictEscalate, contractx.VerdictConsentRequired:
			next := verdict.NextTier
			if next <= tier {
				next = tier + 1
			}
			next, stop := r.escalate(ctx, req, &agg, recorded, next, verdict.Message)
			if stop {
				return agg, nil
			}
			tier = next
		case contractx.VerdictMaxTierReached:
			agg.Status = contractx.RouterPartial
			return agg, nil
		default:
			return agg, fmt.Errorf("%w: unknown verdict kind %q", contractx.ErrValidation, verdict.Kind)
		}
	}

	agg.Status = contractx.RouterPartial
	return agg, nil
}

// escalate moves to the next tier, enforcing the consent gate. It
// returns the tier to fetch next, or stop=true when the route ends
// here (consent missing or tiers exhausted).
func (r *Router) escalate(ctx context.Context, req contractx.RouteRequest, agg *contractx.RouterResult, recorded map[int]bool, next int, message string) (int, bool) {
	if next > r.table.MaxTier(req.Intent) {
		agg.Status = contractx.RouterPartial
		return 0, true
	}
	if next < r.cfg.ConsentTier {
		return next, false
	}

	if !req.Consent.Granted() {
		if strings.TrimSpace(message) == "" {
			message = fmt.Sprintf("Broader tier %d sources carry extra cost and data exposure. Reply with consent to continue.", next)
		}
		agg.Status = contractx.RouterConsentRequired
		agg.ConsentPrompt = &contractx.ConsentPrompt{Tier: next, Message: message}
		return 0, true
	}

	// Consent is present: leave an audit record before any gated
	// fetch happens.
	if r.consent != nil && !recorded[next] {
		rec := contractx.ConsentRecord{
			ID:        r.newID(),
			ActorID:   req.ActorID,
			SessionID: req.SessionID,
			Tier:      next,
			CreatedAt: r.now().UTC(),
		}
		if err := r.consent.Append(ctx, rec); err != nil {
			log.Error().Err(err).Str("session_id", req.SessionID).Int("tier", next).Msg("consent record append failed")
			agg.Status = contractx.RouterPartial
			return 0, true
		}
		recorded[next] = true
	}
	return next, false
}

type fetchOutcome struct {
	name   string
	result contractx.SourceResult
	err    error
}

// fetchTier resolves the tier's candidates, drops disabled sources and
// sources with an open circuit, and fetches the rest concurrently.
// Returns false when the tier had no fetchable candidates.
func (r *Router) fetchTier(ctx context.Context, req contractx.RouteRequest, tier int, agg *contractx.RouterResult, seen map[string]bool) bool {
	names := r.table.SourcesFor(req.Intent, tier)

	var candidates []contractx.Source
	for _, name := range names {
		src, ok := r.sources[name]
		if !ok {
			log.Warn().Str("source", name).Int("tier", tier).Msg("routing table names unregistered source")
			continue
		}
		if r.flags != nil && !r.flags.SourceEnabled(name) {
			continue
		}
		if r.breakers.forSource(name).rejecting() {
			appendUnique(&agg.SourcesUnavailable, name)
			continue
		}
		candidates = append(candidates, src)
	}
	if len(candidates) == 0 {
		return false
	}

	outcomes := make([]fetchOutcome, len(candidates))
	var wg sync.WaitGroup
	for i, src := range candidates {
		wg.Add(1)
		go func(i int, src contractx.Source) {
			defer wg.Done()
			outcomes[i] = r.fetchOne(ctx, src, req)
		}(i, src)
	}
	wg.Wait()

	for _, out := range outcomes {
		if out.err != nil {
			appendUnique(&agg.SourcesUnavailable, out.name)
			if !errors.Is(out.err, ErrCircuitOpen) {
				log.Warn().Err(out.err).Str("source", out.name).Int("tier", tier).Msg("source fetch failed")
			}
			continue
		}
		appendUnique(&agg.SourcesUsed, out.name)
		mergeResult(agg, out.name, out.result, seen)
	}
	return true
}

// fetchOne runs a single source fetch under the worker pool, its own
// timeout, and the source's circuit breaker.
func (r *Router) fetchOne(ctx context.Context, src contractx.Source, req contractx.RouteRequest) fetchOutcome {
	name := src.Name()

	if cached, ok := r.cacheGet(ctx, name, req); ok {
		return fetchOutcome{name: name, result: cached}
	}

	if err := r.pool.Acquire(ctx, 1); err != nil {
		return fetchOutcome{name: name, err: err}
	}
	defer r.pool.Release(1)

	fetchCtx, cancel := context.WithTimeout(ctx, r.cfg.SourceTimeout)
	defer cancel()

	var result contractx.SourceResult
	err := r.breakers.forSource(name).execute(func() error {
		var fetchErr error
		result, fetchErr = src.Fetch(fetchCtx, req)
		return fetchErr
	})
	if err != nil {
		return fetchOutcome{name: name, err: err}
	}

	r.cacheSet(ctx, name, req, result)
	return fetchOutcome{name: name, result: result}
}

func (r *Router) cacheKey(source string, req contractx.RouteRequest) string {
	return "route:" + source + ":" + req.Intent + ":" + req.Query
}

func (r *Router) cacheGet(ctx context.Context, source string, req contractx.RouteRequest) (contractx.SourceResult, bool) {
	if r.cache == nil {
		return contractx.SourceResult{}, false
	}
	raw, ok := r.cache.Get(ctx, r.cacheKey(source, req))
	if !ok {
		return contractx.SourceResult{}, false
	}
	var result contractx.SourceResult
	if err := json.Unmarshal(raw, &result); err != nil {
		r.cache.Delete(ctx, r.cacheKey(source, req))
		return contractx.SourceResult{}, false
	}
	return result, true
}

func (r *Router) cacheSet(ctx context.Context, source string, req contractx.RouteRequest, result contractx.SourceResult) {
	if r.cache == nil {
		return
	}
	raw, err := json.Marshal(result)
	if err != nil {
		return
	}
	r.cache.Set(ctx, r.cacheKey(source, req), raw, r.cfg.CacheTTL)
}

// mergeResult folds a source's result into the aggregate: items are
// deduplicated across sources by normalized name plus price, snippets
// are concatenated as-is.
func mergeResult(agg *contractx.RouterResult, source string, result contractx.SourceResult, seen map[string]bool) {
	for _, item := range result.Items {
		key := itemKey(item)
		if seen[key] {
			continue
		}
		seen[key] = true
		if item.Source == "" {
			item.Source = source
		}
		agg.Items = append(agg.Items, item)
	}
	agg.Snippets = append(agg.Snippets, result.Snippets...)
}

func itemKey(item contractx.Item) string {
	name := strings.ToLower(strings.Join(strings.Fields(item.Name), " "))
	return name + "|" + strconv.FormatFloat(item.Price, 'f', 2, 64)
}

func appendUnique(list *[]string, v string) {
	for _, item := range *list {
		if item == v {
			return
		}
	}
	*list = append(*list, v)
}

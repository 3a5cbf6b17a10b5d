package contract

import "context"

// Extractor pulls structured field values out of conversation text.
// Missing fields are absent from the returned map, never nil-valued.
type Extractor interface {
	Extract(ctx context.Context, req ExtractRequest) (map[string]any, error)
}

// QuestionComposer writes one follow-up question per missing field.
// Callers fall back to a humanized field name when it fails.
type QuestionComposer interface {
	Compose(ctx context.Context, intent string, fields []string) (map[string]string, error)
}

// Source is one external data source behind the escalation router.
type Source interface {
	Name() string
	Fetch(ctx context.Context, req RouteRequest) (SourceResult, error)
}

// RoutingTable resolves the source names backing a tier for an intent.
type RoutingTable interface {
	SourcesFor(intent string, tier int) []string
	MaxTier(intent string) int
}

// FeatureFlags gates individual sources on and off.
type FeatureFlags interface {
	SourceEnabled(name string) bool
}

// SufficiencyValidator decides, after each tier, whether the
// aggregated results cover the request or escalation is needed.
type SufficiencyValidator interface {
	Assess(ctx context.Context, req RouteRequest, agg RouterResult, tier int) Verdict
}

// ConsentLog is the append-only audit trail for gated escalations.
type ConsentLog interface {
	Append(ctx context.Context, rec ConsentRecord) error
}

// CapabilityGateway invokes one named capability with the resolved
// field set. Implementations decide whether the capability runs
// locally or delegates to the escalation router.
type CapabilityGateway interface {
	Execute(ctx context.Context, capability string, fields *FieldSet, route RouteRequest) (CapabilityResult, error)
}

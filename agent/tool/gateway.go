// Package tool maps capability names to runnable implementations.
// Capabilities either run locally or delegate to the escalation
// router for multi-source data gathering.
package tool

import (
	"context"
	"fmt"

	contractx "github.com/voyagent/voyagent/agent/contract"
)

// Runner executes one capability against the resolved field set.
type Runner func(ctx context.Context, fields *contractx.FieldSet, route contractx.RouteRequest) (contractx.CapabilityResult, error)

// TierRouter is the slice of the escalation router the gateway needs.
type TierRouter interface {
	Route(ctx context.Context, req contractx.RouteRequest) (contractx.RouterResult, error)
}

// Gateway dispatches capability names to runners. Unknown names fall
// through to an "unavailable" result rather than an error so a single
// misconfigured capability does not sink the whole plan step.
type Gateway struct {
	router  TierRouter
	runners map[string]Runner
}

type Option func(*Gateway)

// WithRunner registers or overrides one capability runner.
func WithRunner(capability string, run Runner) Option {
	return func(g *Gateway) { g.runners[capability] = run }
}

// NewGateway builds the travel capability catalog. Router-backed
// capabilities require a non-nil router.
func NewGateway(tr TierRouter, opts ...Option) *Gateway {
	g := &Gateway{
		router:  tr,
		runners: make(map[string]Runner, 8),
	}
	for name := range routedCapabilities {
		g.runners[name] = g.routed(name)
	}
	g.runners[CapDestinationResolve] = runDestinationResolve
	g.runners[CapAffiliateLinks] = runAffiliateLinks
	g.runners[CapItineraryCompose] = runItineraryCompose
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}
	return g
}

// Execute runs one capability. A missing runner yields a result with
// Error set and a nil error: the plan keeps going.
func (g *Gateway) Execute(ctx context.Context, capability string, fields *contractx.FieldSet, route contractx.RouteRequest) (contractx.CapabilityResult, error) {
	run, ok := g.runners[capability]
	if !ok {
		return contractx.CapabilityResult{
			Capability: capability,
			Error:      fmt.Sprintf("capability=%s is unavailable", capability),
		}, nil
	}
	return run(ctx, fields, route)
}

// routed wraps the escalation router as a capability runner.
func (g *Gateway) routed(capability string) Runner {
	return func(ctx context.Context, fields *contractx.FieldSet, route contractx.RouteRequest) (contractx.CapabilityResult, error) {
		if g.router == nil {
			return contractx.CapabilityResult{
				Capability: capability,
				Error:      fmt.Sprintf("capability=%s has no router configured", capability),
			}, nil
		}
		if route.Query == "" {
			route.Query = queryFromFields(capability, fields)
		}
		result, err := g.router.Route(ctx, route)
		if err != nil {
			return contractx.CapabilityResult{Capability: capability}, fmt.Errorf("route %s: %w", capability, err)
		}
		return contractx.CapabilityResult{
			Capability: capability,
			Router:     &result,
		}, nil
	}
}

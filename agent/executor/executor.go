// Package executor runs a resolved plan step by step: capabilities
// inside a parallel step fan out concurrently and join before the
// next step starts.
package executor

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	contractx "github.com/voyagent/voyagent/agent/contract"
	registryx "github.com/voyagent/voyagent/agent/registry"
)

// Result is the outcome of one plan run, in step order.
type Result struct {
	Results []contractx.CapabilityResult
}

// ByCapability indexes the results by capability name.
func (r Result) ByCapability() map[string]contractx.CapabilityResult {
	out := make(map[string]contractx.CapabilityResult, len(r.Results))
	for _, res := range r.Results {
		out[res.Capability] = res
	}
	return out
}

// Executor dispatches plan steps to the capability gateway.
type Executor struct {
	reg     *registryx.Registry
	gateway contractx.CapabilityGateway
}

func New(reg *registryx.Registry, gateway contractx.CapabilityGateway) (*Executor, error) {
	if reg == nil {
		return nil, errors.New("registry is required")
	}
	if gateway == nil {
		return nil, errors.New("capability gateway is required")
	}
	return &Executor{reg: reg, gateway: gateway}, nil
}

// Run executes the plan against the resolved field set. A capability
// the registry does not know is fatal: the plan was built against a
// different catalog and nothing downstream can be trusted.
func (e *Executor) Run(ctx context.Context, plan contractx.Plan, fields *contractx.FieldSet, route contractx.RouteRequest) (Result, error) {
	if fields == nil {
		fields = contractx.NewFieldSet()
	}

	for _, step := range plan.Steps {
		for _, name := range step.Capabilities {
			if _, ok := e.reg.Get(name); !ok {
				return Result{}, fmt.Errorf("%w: plan step %s names %q", contractx.ErrUnknownCapability, step.ID, name)
			}
		}
	}

	var out Result
	for _, step := range plan.Steps {
		if step.Parallel && len(step.Capabilities) > 1 {
			results, err := e.runParallel(ctx, step, fields, route)
			if err != nil {
				return out, err
			}
			out.Results = append(out.Results, results...)
			continue
		}
		for _, name := range step.Capabilities {
			res, err := e.gateway.Execute(ctx, name, fields, route)
			if err != nil {
				return out, fmt.Errorf("step %s: %w", step.ID, err)
			}
			if res.Error != "" {
				log.Warn().Str("step", step.ID).Str("capability", name).Str("reason", res.Error).Msg("capability degraded")
			}
			out.Results = append(out.Results, res)
		}
	}
	return out, nil
}

// runParallel fans a step's capabilities out concurrently. Each
// goroutine gets its own field-set snapshot so concurrent runners
// never write into a shared map; slot writes only stick in sequential
// steps.
func (e *Executor) runParallel(ctx context.Context, step contractx.Step, fields *contractx.FieldSet, route contractx.RouteRequest) ([]contractx.CapabilityResult, error) {
	results := make([]contractx.CapabilityResult, len(step.Capabilities))

	g, gctx := errgroup.WithContext(ctx)
	for i, name := range step.Capabilities {
		i, name := i, name
		g.Go(func() error {
			res, err := e.gateway.Execute(gctx, name, fields.Clone(), route)
			if err != nil {
				return fmt.Errorf("step %s capability %s: %w", step.ID, name, err)
			}
			if res.Error != "" {
				log.Warn().Str("step", step.ID).Str("capability", name).Str("reason", res.Error).Msg("capability degraded")
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

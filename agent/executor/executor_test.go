package executor

import (
	"context"
	"errors"
	"sync"
	"testing"

	contractx "github.com/voyagent/voyagent/agent/contract"
	registryx "github.com/voyagent/voyagent/agent/registry"
)

type fakeGateway struct {
	mu       sync.Mutex
	executed []string
	fail     map[string]error
	degraded map[string]string
}

func (f *fakeGateway) Execute(_ context.Context, capability string, _ *contractx.FieldSet, _ contractx.RouteRequest) (contractx.CapabilityResult, error) {
	f.mu.Lock()
	f.executed = append(f.executed, capability)
	f.mu.Unlock()

	if err := f.fail[capability]; err != nil {
		return contractx.CapabilityResult{}, err
	}
	return contractx.CapabilityResult{
		Capability: capability,
		Output:     "ok",
		Error:      f.degraded[capability],
	}, nil
}

func testRegistry(t *testing.T, names ...string) *registryx.Registry {
	t.Helper()
	reg := registryx.New()
	for _, name := range names {
		reg.MustRegister(contractx.Contract{Name: name, Intent: "i"})
	}
	return reg
}

func TestRunSequentialOrder(t *testing.T) {
	t.Parallel()

	gw := &fakeGateway{}
	exec, err := New(testRegistry(t, "a", "b", "c"), gw)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	plan := contractx.Plan{Steps: []contractx.Step{
		{ID: "step-1", Capabilities: []string{"a"}},
		{ID: "step-2", Capabilities: []string{"b"}},
		{ID: "step-3", Capabilities: []string{"c"}},
	}}
	got, err := exec.Run(context.Background(), plan, contractx.NewFieldSet(), contractx.RouteRequest{})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(got.Results) != 3 {
		t.Fatalf("Run() results = %d, want 3", len(got.Results))
	}
	for i, want := range []string{"a", "b", "c"} {
		if gw.executed[i] != want {
			t.Fatalf("executed = %v, want strict step order [a b c]", gw.executed)
		}
	}
}

func TestRunParallelStepJoins(t *testing.T) {
	t.Parallel()

	gw := &fakeGateway{}
	exec, err := New(testRegistry(t, "a", "b", "c", "d"), gw)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	plan := contractx.Plan{Steps: []contractx.Step{
		{ID: "step-1", Capabilities: []string{"a"}},
		{ID: "step-2", Capabilities: []string{"b", "c"}, Parallel: true},
		{ID: "step-3", Capabilities: []string{"d"}},
	}}
	got, err := exec.Run(context.Background(), plan, contractx.NewFieldSet(), contractx.RouteRequest{})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(got.Results) != 4 {
		t.Fatalf("Run() results = %d, want 4", len(got.Results))
	}
	// Parallel members land in declaration order regardless of
	// completion order.
	if got.Results[1].Capability != "b" || got.Results[2].Capability != "c" {
		t.Fatalf("Run() results = %#v, want b then c in the parallel slots", got.Results)
	}
	if gw.executed[0] != "a" || gw.executed[len(gw.executed)-1] != "d" {
		t.Fatalf("executed = %v, parallel step must join before the next step", gw.executed)
	}
}

func TestRunUnknownCapabilityIsFatal(t *testing.T) {
	t.Parallel()

	gw := &fakeGateway{}
	exec, err := New(testRegistry(t, "a"), gw)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	plan := contractx.Plan{Steps: []contractx.Step{
		{ID: "step-1", Capabilities: []string{"a"}},
		{ID: "step-2", Capabilities: []string{"ghost"}},
	}}
	_, err = exec.Run(context.Background(), plan, contractx.NewFieldSet(), contractx.RouteRequest{})
	if !errors.Is(err, contractx.ErrUnknownCapability) {
		t.Fatalf("Run() error = %v, want ErrUnknownCapability", err)
	}
	if len(gw.executed) != 0 {
		t.Fatalf("executed = %v, plan must be rejected before any step runs", gw.executed)
	}
}

func TestRunDegradedCapabilityContinues(t *testing.T) {
	t.Parallel()

	gw := &fakeGateway{degraded: map[string]string{"a": "capability=a is unavailable"}}
	exec, err := New(testRegistry(t, "a", "b"), gw)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	plan := contractx.Plan{Steps: []contractx.Step{
		{ID: "step-1", Capabilities: []string{"a"}},
		{ID: "step-2", Capabilities: []string{"b"}},
	}}
	got, err := exec.Run(context.Background(), plan, contractx.NewFieldSet(), contractx.RouteRequest{})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(got.Results) != 2 {
		t.Fatalf("Run() results = %d, want degraded step plus the next one", len(got.Results))
	}
	if got.Results[0].Error == "" {
		t.Fatal("Run() degraded result lost its error message")
	}
}

func TestRunGatewayErrorStops(t *testing.T) {
	t.Parallel()

	gw := &fakeGateway{fail: map[string]error{"a": errors.New("router exploded")}}
	exec, err := New(testRegistry(t, "a", "b"), gw)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	plan := contractx.Plan{Steps: []contractx.Step{
		{ID: "step-1", Capabilities: []string{"a"}},
		{ID: "step-2", Capabilities: []string{"b"}},
	}}
	_, err = exec.Run(context.Background(), plan, contractx.NewFieldSet(), contractx.RouteRequest{})
	if err == nil {
		t.Fatal("Run() error = nil, want gateway failure surfaced")
	}
	if len(gw.executed) != 1 {
		t.Fatalf("executed = %v, want execution stopped after the failure", gw.executed)
	}
}

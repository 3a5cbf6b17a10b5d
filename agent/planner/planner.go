// Package planner turns a set of selected capabilities into a
// dependency-ordered execution plan.
package planner

import (
	"fmt"
	"sort"
	"strings"

	contractx "github.com/voyagent/voyagent/agent/contract"
	registryx "github.com/voyagent/voyagent/agent/registry"
)

// PlanningError reports an unresolvable dependency graph. Unresolved
// holds every capability left in the cyclic subset.
type PlanningError struct {
	Unresolved []string
}

func (e *PlanningError) Error() string {
	return fmt.Sprintf("planning failed: dependency cycle among capabilities: %s", strings.Join(e.Unresolved, ", "))
}

func (e *PlanningError) Unwrap() error {
	return contractx.ErrPlanning
}

// Planner expands entry capabilities through contract dependencies and
// topologically orders the result.
type Planner struct {
	reg       *registryx.Registry
	templates map[string][]contractx.Step
}

type Option func(*Planner)

// WithTemplate installs a pre-authored plan for an intent. Templates
// may declare explicit multi-capability parallel steps; the planner
// validates them against the ordering constraints instead of computing
// parallel grouping itself.
func WithTemplate(intent string, steps []contractx.Step) Option {
	return func(p *Planner) {
		p.templates[intent] = steps
	}
}

func New(reg *registryx.Registry, opts ...Option) *Planner {
	p := &Planner{
		reg:       reg,
		templates: make(map[string][]contractx.Step),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

// Build produces an execution plan for the entry capabilities of an
// intent. A registered template for the intent takes precedence over
// the computed sequential ordering. Fails closed on cycles and on any
// unknown capability name.
func (p *Planner) Build(intent string, entry []string) (contractx.Plan, error) {
	if steps, ok := p.templates[intent]; ok {
		return p.fromTemplate(steps)
	}

	selected, order, err := p.expand(intent, entry)
	if err != nil {
		return contractx.Plan{}, err
	}
	if len(order) == 0 {
		return contractx.Plan{}, fmt.Errorf("%w: no capabilities selected for intent %s", contractx.ErrPlanning, intent)
	}

	sorted, err := p.sort(selected, order)
	if err != nil {
		return contractx.Plan{}, err
	}

	plan := contractx.Plan{Steps: make([]contractx.Step, 0, len(sorted))}
	for i, name := range sorted {
		plan.Steps = append(plan.Steps, contractx.Step{
			ID:           fmt.Sprintf("step-%d", i+1),
			Capabilities: []string{name},
		})
	}
	return plan, nil
}

// expand computes the dependency closure. It returns the selected
// contracts plus the order in which names were first discovered; the
// discovery order is the tie-break baseline for the topological sort.
func (p *Planner) expand(intent string, entry []string) (map[string]contractx.Contract, []string, error) {
	selected := make(map[string]contractx.Contract)
	var order []string

	add := func(name string) error {
		if _, ok := selected[name]; ok {
			return nil
		}
		c, ok := p.reg.Get(name)
		if !ok {
			return fmt.Errorf("%w: %s", contractx.ErrUnknownCapability, name)
		}
		selected[name] = c
		order = append(order, name)
		return nil
	}

	// Breadth-first closure over predecessors and successors.
	closure := func(seed []string) error {
		queue := append([]string(nil), seed...)
		for len(queue) > 0 {
			name := queue[0]
			queue = queue[1:]
			before := len(order)
			if err := add(name); err != nil {
				return err
			}
			if len(order) == before {
				continue // already known, neighbors were enqueued earlier
			}
			c := selected[name]
			queue = append(queue, c.Predecessors...)
			queue = append(queue, c.Successors...)
		}
		return nil
	}

	if err := closure(entry); err != nil {
		return nil, nil, err
	}

	intentContracts := p.reg.ForIntent(intent)
	for _, c := range intentContracts {
		if c.IsRequired {
			if err := closure([]string{c.Name}); err != nil {
				return nil, nil, err
			}
		}
	}

	// Defaults join once all of their predecessors made it in. Adding
	// one can satisfy another, so run to fixpoint.
	for {
		added := false
		for _, c := range intentContracts {
			if !c.IsDefault {
				continue
			}
			if _, ok := selected[c.Name]; ok {
				continue
			}
			ready := true
			for _, pred := range c.Predecessors {
				if _, ok := selected[pred]; !ok {
					ready = false
					break
				}
			}
			if !ready {
				continue
			}
			if err := closure([]string{c.Name}); err != nil {
				return nil, nil, err
			}
			added = true
		}
		if !added {
			break
		}
	}

	return selected, order, nil
}

// sort runs Kahn's algorithm. Predecessors and successors are two
// spellings of the same edge: P before C, and C before S. Among
// simultaneously-ready nodes, hint-less capabilities go first in
// discovery order; hinted ones follow in ascending hint order, which
// clusters epilogue capabilities at the end.
func (p *Planner) sort(selected map[string]contractx.Contract, discovery []string) ([]string, error) {
	discoveryIdx := make(map[string]int, len(discovery))
	for i, name := range discovery {
		discoveryIdx[name] = i
	}

	indegree := make(map[string]int, len(selected))
	adjacent := make(map[string][]string, len(selected))
	for name := range selected {
		indegree[name] = 0
	}
	addEdge := func(from, to string) {
		if _, ok := selected[from]; !ok {
			return
		}
		if _, ok := selected[to]; !ok {
			return
		}
		adjacent[from] = append(adjacent[from], to)
		indegree[to]++
	}
	for name, c := range selected {
		for _, pred := range c.Predecessors {
			addEdge(pred, name)
		}
		for _, succ := range c.Successors {
			addEdge(name, succ)
		}
	}

	var ready []string
	for name, deg := range indegree {
		if deg == 0 {
			ready = append(ready, name)
		}
	}

	less := func(a, b string) bool {
		ca, cb := selected[a], selected[b]
		switch {
		case ca.OrderHint == nil && cb.OrderHint != nil:
			return true
		case ca.OrderHint != nil && cb.OrderHint == nil:
			return false
		case ca.OrderHint != nil && cb.OrderHint != nil && *ca.OrderHint != *cb.OrderHint:
			return *ca.OrderHint < *cb.OrderHint
		default:
			return discoveryIdx[a] < discoveryIdx[b]
		}
	}

	ordered := make([]string, 0, len(selected))
	for len(ready) > 0 {
		best := 0
		for i := 1; i < len(ready); i++ {
			if less(ready[i], ready[best]) {
				best = i
			}
		}
		name := ready[best]
		ready = append(ready[:best], ready[best+1:]...)
		ordered = append(ordered, name)
		for _, next := range adjacent[name] {
			indegree[next]--
			if indegree[next] == 0 {
				ready = append(ready, next)
			}
		}
	}

	if len(ordered) < len(selected) {
		var unresolved []string
		for name := range selected {
			if !contains(ordered, name) {
				unresolved = append(unresolved, name)
			}
		}
		sort.Strings(unresolved)
		return nil, &PlanningError{Unresolved: unresolved}
	}
	return ordered, nil
}

// fromTemplate validates a pre-authored plan: every capability must be
// registered and every predecessor/successor pair present in the plan
// must respect step ordering.
func (p *Planner) fromTemplate(steps []contractx.Step) (contractx.Plan, error) {
	plan := contractx.Plan{Steps: append([]contractx.Step(nil), steps...)}
	for _, step := range plan.Steps {
		if len(step.Capabilities) == 0 {
			return contractx.Plan{}, fmt.Errorf("%w: template step %s has no capabilities", contractx.ErrPlanning, step.ID)
		}
		for _, name := range step.Capabilities {
			if _, ok := p.reg.Get(name); !ok {
				return contractx.Plan{}, fmt.Errorf("%w: %s", contractx.ErrUnknownCapability, name)
			}
		}
	}
	if err := Validate(plan, p.reg); err != nil {
		return contractx.Plan{}, err
	}
	return plan, nil
}

// Validate checks the ordering invariant: for any predecessor A and
// successor B both present, A's step index must not exceed B's.
func Validate(plan contractx.Plan, reg *registryx.Registry) error {
	for _, name := range plan.Capabilities() {
		c, ok := reg.Get(name)
		if !ok {
			return fmt.Errorf("%w: %s", contractx.ErrUnknownCapability, name)
		}
		idx := plan.StepIndexOf(name)
		for _, pred := range c.Predecessors {
			if pi := plan.StepIndexOf(pred); pi >= 0 && pi > idx {
				return fmt.Errorf("%w: %s must not run before %s", contractx.ErrPlanning, name, pred)
			}
		}
		for _, succ := range c.Successors {
			if si := plan.StepIndexOf(succ); si >= 0 && si < idx {
				return fmt.Errorf("%w: %s must not run after %s", contractx.ErrPlanning, name, succ)
			}
		}
	}
	return nil
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

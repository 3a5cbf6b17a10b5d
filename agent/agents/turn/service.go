// Package turn wires planning, clarification, and execution into the
// per-message pipeline of the assistant.
package turn

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/cloudwego/eino/compose"

	clarifyx "github.com/voyagent/voyagent/agent/clarify"
	contractx "github.com/voyagent/voyagent/agent/contract"
	executorx "github.com/voyagent/voyagent/agent/executor"
	registryx "github.com/voyagent/voyagent/agent/registry"
)

var (
	ErrInvalidMessage = errors.New("message is empty")
	ErrInvalidSession = errors.New("session id is empty")
	ErrInvalidIntent  = errors.New("intent is empty")
)

// PlanBuilder produces the execution plan for an intent.
type PlanBuilder interface {
	Build(intent string, entry []string) (contractx.Plan, error)
}

// Resolver is the clarification state machine.
type Resolver interface {
	Resolve(ctx context.Context, req clarifyx.Request) (clarifyx.Outcome, error)
}

// PlanRunner executes a resolved plan.
type PlanRunner interface {
	Run(ctx context.Context, plan contractx.Plan, fields *contractx.FieldSet, route contractx.RouteRequest) (executorx.Result, error)
}

// Request is one inbound user message.
type Request struct {
	SessionID string
	ActorID   string
	Intent    string
	Text      string
	History   []string // prior turns, oldest first
	Consent   contractx.ConsentFlags
}

// Response is what the channel layer renders back to the user.
type Response struct {
	Reply         string
	Suspended     bool
	Questions     []contractx.Question
	Results       []contractx.CapabilityResult
	ConsentPrompt *contractx.ConsentPrompt
}

// Turn runs the full message pipeline as a compiled graph.
type Turn struct {
	planner   PlanBuilder
	clarifier Resolver
	executor  PlanRunner
	reg       *registryx.Registry

	graphRunner compose.Runnable[Request, Response]

	now func() time.Time
}

func New(planner PlanBuilder, clarifier Resolver, executor PlanRunner, reg *registryx.Registry) (*Turn, error) {
	if planner == nil {
		return nil, errors.New("planner is required")
	}
	if clarifier == nil {
		return nil, errors.New("clarifier is required")
	}
	if executor == nil {
		return nil, errors.New("executor is required")
	}
	if reg == nil {
		return nil, errors.New("capability registry is required")
	}

	t := &Turn{
		planner:   planner,
		clarifier: clarifier,
		executor:  executor,
		reg:       reg,
		now:       time.Now,
	}

	graphRunner, err := t.compileHandleMessageGraph(context.Background())
	if err != nil {
		return nil, err
	}
	t.graphRunner = graphRunner

	return t, nil
}

// HandleMessage runs one turn end to end.
func (t *Turn) HandleMessage(ctx context.Context, req Request) (Response, error) {
	return t.graphRunner.Invoke(ctx, req)
}

// entryCapabilities seeds the plan: the intent's core contracts,
// excluding defaults and epilogue capabilities the planner pulls in on
// its own.
func (t *Turn) entryCapabilities(intent string) []string {
	var entry []string
	for _, c := range t.reg.ForIntent(intent) {
		if c.IsDefault || c.IsRequired {
			continue
		}
		entry = append(entry, c.Name)
	}
	return entry
}

func validateRequest(in Request) (Request, error) {
	in.SessionID = strings.TrimSpace(in.SessionID)
	if in.SessionID == "" {
		return Request{}, ErrInvalidSession
	}
	in.Text = strings.TrimSpace(in.Text)
	if in.Text == "" {
		return Request{}, ErrInvalidMessage
	}
	in.Intent = strings.TrimSpace(in.Intent)
	if in.Intent == "" {
		return Request{}, ErrInvalidIntent
	}
	return in, nil
}

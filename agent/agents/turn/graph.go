package turn

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/compose"

	clarifyx "github.com/voyagent/voyagent/agent/clarify"
	contractx "github.com/voyagent/voyagent/agent/contract"
	executorx "github.com/voyagent/voyagent/agent/executor"
	toolx "github.com/voyagent/voyagent/agent/tool"
)

type graphState struct {
	Req     Request
	Outcome clarifyx.Outcome
	Exec    executorx.Result
}

func (t *Turn) compileHandleMessageGraph(
	ctx context.Context,
) (compose.Runnable[Request, Response], error) {
	graph := compose.NewGraph[Request, Response]()

	if err := graph.AddLambdaNode("validate_request",
		compose.InvokableLambda(func(ctx context.Context, in Request) (*graphState, error) {
			req, err := validateRequest(in)
			if err != nil {
				return nil, err
			}
			return &graphState{Req: req}, nil
		}),
	); err != nil {
		return nil, fmt.Errorf("add node validate_request: %w", err)
	}

	if err := graph.AddLambdaNode("clarify",
		compose.InvokableLambda(func(ctx context.Context, in *graphState) (*graphState, error) {
			// Planning is deferred to the clarifier: a resumed turn
			// reuses the plan snapshotted at suspend time and never
			// pays for (or fails on) a fresh planner run.
			outcome, err := t.clarifier.Resolve(ctx, clarifyx.Request{
				SessionID: in.Req.SessionID,
				Intent:    in.Req.Intent,
				Utterance: in.Req.Text,
				History:   in.Req.History,
				PlanFunc: func() (contractx.Plan, error) {
					return t.planner.Build(in.Req.Intent, t.entryCapabilities(in.Req.Intent))
				},
			})
			if err != nil {
				return nil, err
			}
			in.Outcome = outcome
			return in, nil
		}),
	); err != nil {
		return nil, fmt.Errorf("add node clarify: %w", err)
	}

	if err := graph.AddLambdaNode("execute",
		compose.InvokableLambda(func(ctx context.Context, in *graphState) (*graphState, error) {
			result, err := t.executor.Run(ctx, in.Outcome.Plan, in.Outcome.Fields, contractx.RouteRequest{
				Intent:    in.Req.Intent,
				Query:     in.Req.Text,
				SessionID: in.Req.SessionID,
				ActorID:   in.Req.ActorID,
				Consent:   in.Req.Consent,
			})
			if err != nil {
				return nil, err
			}
			in.Exec = result
			return in, nil
		}),
	); err != nil {
		return nil, fmt.Errorf("add node execute: %w", err)
	}

	if err := graph.AddLambdaNode("suspend_reply",
		compose.InvokableLambda(func(ctx context.Context, in *graphState) (Response, error) {
			return suspendReply(in), nil
		}),
	); err != nil {
		return nil, fmt.Errorf("add node suspend_reply: %w", err)
	}

	if err := graph.AddLambdaNode("finalize_reply",
		compose.InvokableLambda(func(ctx context.Context, in *graphState) (Response, error) {
			return finalizeReply(in), nil
		}),
	); err != nil {
		return nil, fmt.Errorf("add node finalize_reply: %w", err)
	}

	branch := compose.NewGraphBranch(
		func(ctx context.Context, in *graphState) (string, error) {
			if in == nil {
				return "", fmt.Errorf("%w: turn graph state is nil", contractx.ErrValidation)
			}
			if !in.Outcome.Proceed {
				return "suspend_reply", nil
			}
			return "execute", nil
		},
		map[string]bool{
			"suspend_reply": true,
			"execute":       true,
		},
	)

	if err := graph.AddBranch("clarify", branch); err != nil {
		return nil, fmt.Errorf("add turn branch: %w", err)
	}

	edges := [][2]string{
		{compose.START, "validate_request"},
		{"validate_request", "clarify"},
		{"execute", "finalize_reply"},
		{"suspend_reply", compose.END},
		{"finalize_reply", compose.END},
	}
	for _, edge := range edges {
		if err := graph.AddEdge(edge[0], edge[1]); err != nil {
			return nil, fmt.Errorf("add edge %s->%s: %w", edge[0], edge[1], err)
		}
	}

	runner, err := graph.Compile(ctx, compose.WithGraphName("turn.handle_message"))
	if err != nil {
		return nil, fmt.Errorf("compile turn graph: %w", err)
	}
	return runner, nil
}

// suspendReply renders the outstanding questions as one reply.
func suspendReply(in *graphState) Response {
	var lines []string
	for _, q := range in.Outcome.Questions {
		lines = append(lines, q.Text)
	}
	return Response{
		Reply:     strings.Join(lines, "\n"),
		Suspended: true,
		Questions: in.Outcome.Questions,
	}
}

// finalizeReply prefers the composed itinerary, surfaces any pending
// consent prompt, and falls back to a result count. Partial router
// results carry a note naming the sources that were unavailable.
func finalizeReply(in *graphState) Response {
	resp := Response{Results: in.Exec.Results}

	items := 0
	var unavailable []string
	partial := false
	for _, res := range in.Exec.Results {
		if res.Router != nil {
			items += len(res.Router.Items)
			if res.Router.ConsentPrompt != nil && resp.ConsentPrompt == nil {
				resp.ConsentPrompt = res.Router.ConsentPrompt
			}
			if res.Router.Status == contractx.RouterPartial {
				partial = true
			}
			for _, name := range res.Router.SourcesUnavailable {
				if !contains(unavailable, name) {
					unavailable = append(unavailable, name)
				}
			}
		}
		if res.Capability == toolx.CapItineraryCompose && res.Error == "" {
			if text, ok := res.Output.(string); ok {
				resp.Reply = text
			}
		}
	}

	if resp.ConsentPrompt != nil {
		resp.Reply = resp.ConsentPrompt.Message
		return resp
	}
	if resp.Reply == "" {
		resp.Reply = fmt.Sprintf("Found %d options across %d steps.", items, len(in.Exec.Results))
	}
	if partial && len(unavailable) > 0 {
		resp.Reply += fmt.Sprintf("\nSome results are missing: %s could not be reached.", strings.Join(unavailable, ", "))
	}
	return resp
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

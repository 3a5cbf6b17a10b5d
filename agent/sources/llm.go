package sources

import (
	"context"
	"fmt"
	"strings"

	openaisdk "github.com/openai/openai-go"

	contractx "github.com/voyagent/voyagent/agent/contract"
)

// LLMSource answers a query with model-written snippets. It backs the
// broad web.search capability when no dedicated search API is wired.
type LLMSource struct {
	name   string
	model  string
	client *openaisdk.Client
}

func NewLLMSource(name, model string, client *openaisdk.Client) (*LLMSource, error) {
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("source name is required")
	}
	if client == nil {
		return nil, fmt.Errorf("source %s: client is required", name)
	}
	if strings.TrimSpace(model) == "" {
		return nil, fmt.Errorf("source %s: model is required", name)
	}
	return &LLMSource{name: name, model: model, client: client}, nil
}

func (s *LLMSource) Name() string { return s.name }

func (s *LLMSource) Fetch(ctx context.Context, req contractx.RouteRequest) (contractx.SourceResult, error) {
	resp, err := s.client.Chat.Completions.New(ctx, openaisdk.ChatCompletionNewParams{
		Model: openaisdk.ChatModel(s.model),
		Messages: []openaisdk.ChatCompletionMessageParamUnion{
			openaisdk.SystemMessage("You answer travel queries with short factual snippets, one per line. No preamble."),
			openaisdk.UserMessage(req.Query),
		},
	})
	if err != nil {
		return contractx.SourceResult{}, fmt.Errorf("source %s: completion: %w", s.name, err)
	}
	if len(resp.Choices) == 0 {
		return contractx.SourceResult{}, fmt.Errorf("source %s: empty completion", s.name)
	}

	var snippets []string
	for _, line := range strings.Split(resp.Choices[0].Message.Content, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			snippets = append(snippets, line)
		}
	}
	return contractx.SourceResult{Snippets: snippets}, nil
}

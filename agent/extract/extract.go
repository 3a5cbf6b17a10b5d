// Package extract runs the single structured-output model call that
// pulls slot values out of an utterance, and the companion call that
// writes follow-up questions for the slots still missing.
package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/compose"

	contractx "github.com/voyagent/voyagent/agent/contract"
	promptx "github.com/voyagent/voyagent/agent/prompt"
	openrouterx "github.com/voyagent/voyagent/pkg/openrouter"
)

type extractorLLMOutput struct {
	Fields map[string]any `json:"fields"`
}

type questionLLMOutput struct {
	Questions map[string]string `json:"questions"`
}

// Service is the model-backed extractor and question composer.
type Service struct {
	extractRunner  compose.Runnable[map[string]any, extractorLLMOutput]
	questionRunner compose.Runnable[map[string]any, questionLLMOutput]
}

var (
	_ contractx.Extractor        = (*Service)(nil)
	_ contractx.QuestionComposer = (*Service)(nil)
)

// New compiles both graphs. Extractor and composer may run on
// different models.
func New(ctx context.Context, extractorLLM, composerLLM openrouterx.LLMBuilder, prompts promptx.PromptSet) (*Service, error) {
	extractorModel, err := extractorLLM.New(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: build extractor model: %v", contractx.ErrModelInvoke, err)
	}
	composerModel, err := composerLLM.New(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: build composer model: %v", contractx.ErrModelInvoke, err)
	}

	if strings.TrimSpace(prompts.Extractor) == "" || strings.TrimSpace(prompts.Question) == "" {
		return nil, fmt.Errorf("%w: extractor and question prompts are required", contractx.ErrPromptMissing)
	}

	extractRunner, err := compileStructuredLLMGraph[extractorLLMOutput](ctx, extractorModel, prompts.Extractor, "extract.field_graph")
	if err != nil {
		return nil, fmt.Errorf("%w: compile extractor graph: %v", contractx.ErrModelInvoke, err)
	}
	questionRunner, err := compileStructuredLLMGraph[questionLLMOutput](ctx, composerModel, prompts.Question, "extract.question_graph")
	if err != nil {
		return nil, fmt.Errorf("%w: compile question graph: %v", contractx.ErrModelInvoke, err)
	}

	return &Service{
		extractRunner:  extractRunner,
		questionRunner: questionRunner,
	}, nil
}

// Extract pulls values for the requested fields out of the utterance.
// Fields the model did not find, returned as null, or invented beyond
// the request are dropped.
func (s *Service) Extract(ctx context.Context, req contractx.ExtractRequest) (map[string]any, error) {
	if len(req.Fields) == 0 {
		return map[string]any{}, nil
	}

	payload := map[string]any{
		"intent":    req.Intent,
		"fields":    req.Fields,
		"utterance": req.Utterance,
		"history":   req.History,
	}
	input, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: marshal extract payload: %v", contractx.ErrValidation, err)
	}

	out, err := s.extractRunner.Invoke(ctx, map[string]any{
		"input": string(input),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: extractor invoke: %v", contractx.ErrModelInvoke, err)
	}
	if out.Fields == nil {
		return nil, fmt.Errorf("%w: extractor response has no fields object", contractx.ErrSchemaViolation)
	}

	requested := make(map[string]bool, len(req.Fields))
	for _, f := range req.Fields {
		requested[f] = true
	}

	values := make(map[string]any, len(out.Fields))
	for name, v := range out.Fields {
		if v == nil || !requested[name] {
			continue
		}
		if str, ok := v.(string); ok && strings.TrimSpace(str) == "" {
			continue
		}
		values[name] = v
	}
	return values, nil
}

// Compose writes one question per missing field. Fields the model
// skipped are absent from the map; the caller falls back to a plain
// question for those.
func (s *Service) Compose(ctx context.Context, intent string, fields []string) (map[string]string, error) {
	if len(fields) == 0 {
		return map[string]string{}, nil
	}

	payload := map[string]any{
		"intent": intent,
		"fields": fields,
	}
	input, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: marshal question payload: %v", contractx.ErrValidation, err)
	}

	out, err := s.questionRunner.Invoke(ctx, map[string]any{
		"input": string(input),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: question invoke: %v", contractx.ErrModelInvoke, err)
	}
	if out.Questions == nil {
		return nil, fmt.Errorf("%w: composer response has no questions object", contractx.ErrSchemaViolation)
	}

	questions := make(map[string]string, len(out.Questions))
	for name, text := range out.Questions {
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		questions[name] = text
	}
	return questions, nil
}

package prompt

import (
	_ "embed"
	"strings"
)

var (
	//go:embed template/extractor.txt
	extractorRaw string

	//go:embed template/question.txt
	questionRaw string
)

// PromptSet holds loaded prompt content.
type PromptSet struct {
	Extractor string
	Question  string
}

// LoadPromptSet returns a PromptSet with trimmed prompt strings.
// Safe to call concurrently; the embed is compile-time.
func LoadPromptSet() PromptSet {
	return PromptSet{
		Extractor: strings.TrimSpace(extractorRaw),
		Question:  strings.TrimSpace(questionRaw),
	}
}

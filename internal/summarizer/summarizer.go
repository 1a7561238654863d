// Package summarizer wraps the LLM used for per-block summaries and the
// daily digest.
package summarizer

import (
	"context"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/FreeBandoLano/echobot-sub000/internal/domain"
)

// Provider selects which LLM backend to use.
type Provider string

const (
	ProviderOpenAI    Provider = "openai"
	ProviderAnthropic Provider = "anthropic"
	ProviderOllama    Provider = "ollama"
)

// Config holds LLM connection details.
type Config struct {
	Provider   Provider
	Model      string
	APIKey     string
	OllamaHost string
}

// Summarizer generates block summaries and the aggregated daily digest.
type Summarizer struct {
	llm       llms.Model
	modelName string
}

// New creates a Summarizer for the configured provider.
func New(cfg Config) (*Summarizer, error) {
	var model llms.Model
	var err error

	switch cfg.Provider {
	case ProviderOpenAI:
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("OpenAI API key required")
		}
		model, err = openai.New(
			openai.WithToken(cfg.APIKey),
			openai.WithModel(cfg.Model),
		)
		if err != nil {
			return nil, fmt.Errorf("create openai model: %w", err)
		}

	case ProviderAnthropic:
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("Anthropic API key required")
		}
		model, err = anthropic.New(
			anthropic.WithToken(cfg.APIKey),
			anthropic.WithModel(cfg.Model),
		)
		if err != nil {
			return nil, fmt.Errorf("create anthropic model: %w", err)
		}

	case ProviderOllama:
		model, err = ollama.New(
			ollama.WithModel(cfg.Model),
			ollama.WithServerURL(cfg.OllamaHost),
		)
		if err != nil {
			return nil, fmt.Errorf("create ollama model: %w", err)
		}

	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", cfg.Provider)
	}

	return &Summarizer{llm: model, modelName: cfg.Model}, nil
}

// Model returns the configured model name.
func (s *Summarizer) Model() string { return s.modelName }

func (s *Summarizer) generate(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, systemPrompt),
		llms.TextParts(llms.ChatMessageTypeHuman, userPrompt),
	}
	response, err := s.llm.GenerateContent(ctx, messages)
	if err != nil {
		return "", fmt.Errorf("generate: %w", err)
	}
	if len(response.Choices) == 0 {
		return "", fmt.Errorf("no response choices")
	}
	return response.Choices[0].Content, nil
}

// SummarizeBlock condenses one block's transcript into a monitoring summary.
func (s *Summarizer) SummarizeBlock(ctx context.Context, code, transcript string) (string, error) {
	systemPrompt := `You are a broadcast-monitoring analyst. Summarize the radio transcript segment.
- Lead with the main topics discussed, in order
- Name every speaker, organization, and place mentioned
- Quote short key statements verbatim where they matter
- Keep it under 300 words`

	userPrompt := fmt.Sprintf("Program block %s transcript:\n\n%s\n\nSummary:", code, transcript)
	return s.generate(ctx, systemPrompt, userPrompt)
}

// BlockSummary pairs a block code with its summary for digest assembly.
type BlockSummary struct {
	Code    string
	Summary string
}

// BuildDigest aggregates a date's block summaries into the daily digest.
func (s *Summarizer) BuildDigest(ctx context.Context, showDate string, summaries []BlockSummary) (string, error) {
	if len(summaries) == 0 {
		return "", fmt.Errorf("no block summaries for %s: %w", showDate, domain.ErrNotReady)
	}

	var sb strings.Builder
	for _, bs := range summaries {
		fmt.Fprintf(&sb, "=== Block %s ===\n%s\n\n", bs.Code, bs.Summary)
	}

	systemPrompt := `You are a broadcast-monitoring analyst producing a daily digest for subscribers.
Merge the per-block summaries into one coherent briefing:
- Open with a 3-5 sentence overview of the day
- Then a section per block, keeping each block's key statements
- Close with a short list of follow-up items worth watching
Plain text only, no markdown.`

	userPrompt := fmt.Sprintf("Broadcast date: %s\n\nPer-block summaries:\n\n%s\nDaily digest:",
		showDate, sb.String())
	return s.generate(ctx, systemPrompt, userPrompt)
}

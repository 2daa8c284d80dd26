package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/quarrydocs/quarry/llm"
)

// Reasoning markers some models wrap their intermediate thinking in.
const (
	reasoningOpen  = "<think>"
	reasoningClose = "</think>"
)

const reasoningInstruction = "First, explain your reasoning step-by-step in a <think> section. Then, provide the answer as specified below."

// Generator invokes the generation provider with a templated prompt.
type Generator struct {
	client llm.Client
}

func NewGenerator(client llm.Client) *Generator {
	return &Generator{client: client}
}

// GenerateOptions shape a single generation call.
type GenerateOptions struct {
	Instructions  string
	Temperature   float32
	MaxTokens     int
	ShowReasoning bool
}

// Generate builds the prompt from context, query, and instructions,
// calls the provider exactly once, and strips any reasoning section
// unless ShowReasoning is set.
func (g *Generator) Generate(ctx context.Context, query, contextText string, opts GenerateOptions) (string, error) {
	if g.client == nil {
		return "", fmt.Errorf("llm client is not configured")
	}

	prompt := buildPrompt(query, contextText, opts.Instructions, opts.ShowReasoning)

	answer, err := g.client.Generate(ctx, prompt, llm.Params{
		Temperature: opts.Temperature,
		MaxTokens:   opts.MaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("llm generate: %w", err)
	}

	answer = strings.TrimSpace(answer)
	if !opts.ShowReasoning {
		answer = StripReasoning(answer)
	}
	return answer, nil
}

func buildPrompt(query, contextText, instructions string, showReasoning bool) string {
	var sb strings.Builder
	sb.WriteString("Context:\n")
	sb.WriteString(contextText)
	sb.WriteString("\n\nQuery:\n")
	sb.WriteString(query)
	sb.WriteString("\n\nAnswer:\n")
	if showReasoning {
		sb.WriteString(reasoningInstruction)
		sb.WriteString("\n\n")
	}
	sb.WriteString(instructions)
	sb.WriteString("\n")
	return sb.String()
}

// StripReasoning removes every complete <think>...</think> block,
// including trailing whitespace after the closing marker. An opening
// marker with no close leaves the text unmodified from the marker
// onward: a malformed block is surfaced rather than silently truncated.
func StripReasoning(text string) string {
	var sb strings.Builder
	for {
		open := strings.Index(text, reasoningOpen)
		if open < 0 {
			sb.WriteString(text)
			break
		}
		rest := text[open+len(reasoningOpen):]
		end := strings.Index(rest, reasoningClose)
		if end < 0 {
			sb.WriteString(text)
			break
		}
		sb.WriteString(text[:open])
		text = strings.TrimLeft(rest[end+len(reasoningClose):], " \t\r\n")
	}
	return sb.String()
}

// Package pipeline is the retrieval-augmented generation core: it
// retrieves candidate chunks, assembles bounded contexts, drives
// depth-many generation rounds, and deduplicates the evidence lines the
// model emits.
package pipeline

import (
	"context"
	"fmt"
	"log"
	"strings"
)

// NoEvidence is returned when no batch produced any evidence line.
const NoEvidence = "No relevant evidence found."

const (
	defaultTopK             = 5
	defaultMaxContextLength = 3000
)

// RunOptions parameterize a single pipeline invocation. Zero values fall
// back to the documented defaults.
type RunOptions struct {
	// K is the number of chunks per generation batch.
	K int
	// Depth is the number of batches: K*Depth chunks are retrieved in
	// one search and processed K at a time. Clamped to a minimum of 1.
	Depth int
	// MaxContextLength bounds the assembled context in characters.
	// Clamped to the default budget when not positive; there is no
	// "unlimited" setting.
	MaxContextLength int
	// Instructions are appended to the generation prompt.
	Instructions string

	Temperature   float32
	MaxTokens     int
	ShowReasoning bool
}

// Service drives the full retrieve-generate-dedup loop. One Run is a
// single sequential unit of work; independent queries may run as
// parallel Service invocations against the same read-only store.
type Service struct {
	retriever *Retriever
	generator *Generator
	evidence  EvidenceExtractor
	logger    *log.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithEvidenceExtractor replaces the default line-based evidence
// strategy.
func WithEvidenceExtractor(extractor EvidenceExtractor) Option {
	return func(s *Service) {
		if extractor != nil {
			s.evidence = extractor
		}
	}
}

func NewService(retriever *Retriever, generator *Generator, logger *log.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = log.Default()
	}
	s := &Service{
		retriever: retriever,
		generator: generator,
		evidence:  LineEvidence{},
		logger:    logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run executes the pipeline for one query and returns the deduplicated
// evidence lines joined by newlines, or NoEvidence when every batch came
// back empty.
func (s *Service) Run(ctx context.Context, query string, opts RunOptions) (string, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return "", fmt.Errorf("query cannot be empty")
	}
	if s.retriever == nil {
		return "", fmt.Errorf("retriever is not configured")
	}
	if s.generator == nil {
		return "", fmt.Errorf("generator is not configured")
	}

	k := opts.K
	if k <= 0 {
		k = defaultTopK
	}
	depth := opts.Depth
	if depth < 1 {
		depth = 1
	}
	maxContext := opts.MaxContextLength
	if maxContext <= 0 {
		maxContext = defaultMaxContextLength
	}

	// One retrieval for the whole run; the ranked list is then processed
	// in consecutive batches of k.
	chunks, err := s.retriever.Retrieve(ctx, query, k*depth)
	if err != nil {
		return "", fmt.Errorf("retrieve for %q: %w", query, err)
	}
	s.logger.Printf("retrieved %d chunks for query %q", len(chunks), query)

	genOpts := GenerateOptions{
		Instructions:  opts.Instructions,
		Temperature:   opts.Temperature,
		MaxTokens:     opts.MaxTokens,
		ShowReasoning: opts.ShowReasoning,
	}

	seen := make(map[string]struct{})
	var emitted []string

	for start := 0; start < len(chunks); start += k {
		end := start + k
		if end > len(chunks) {
			end = len(chunks)
		}
		batch := chunks[start:end]

		contextText := AssembleContext(batch, maxContext)
		answer, err := s.generator.Generate(ctx, query, contextText, genOpts)
		if err != nil {
			return "", fmt.Errorf("generate batch %d for %q: %w", start/k+1, query, err)
		}

		for _, ev := range s.evidence.Extract(answer) {
			if _, ok := seen[ev.Key]; ok {
				continue
			}
			seen[ev.Key] = struct{}{}
			emitted = append(emitted, ev.Line)
		}
	}

	if len(emitted) == 0 {
		return NoEvidence, nil
	}
	return strings.Join(emitted, "\n"), nil
}

// Answer runs the pipeline and parses the result into a structured
// record.
func (s *Service) Answer(ctx context.Context, query string, opts RunOptions) (AnswerRecord, error) {
	raw, err := s.Run(ctx, query, opts)
	if err != nil {
		return AnswerRecord{}, err
	}
	return Structure(query, raw), nil
}

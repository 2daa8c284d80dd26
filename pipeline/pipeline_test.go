package pipeline

import (
	"context"
	"errors"
	"io"
	"log"
	"strings"
	"testing"

	"github.com/quarrydocs/quarry/embeddings"
	"github.com/quarrydocs/quarry/index"
	"github.com/quarrydocs/quarry/llm"
)

type stubEmbedder struct {
	err error
}

func (s *stubEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if s.err != nil {
		return nil, s.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0, 0}
	}
	return out, nil
}

func (s *stubEmbedder) Identity() embeddings.Identity {
	return embeddings.Identity{Provider: "stub", Model: "stub-3d", Dimension: 3}
}

var _ embeddings.Embedder = (*stubEmbedder)(nil)

type stubStore struct {
	chunks []index.Chunk
	err    error
}

func (s *stubStore) Upsert(ctx context.Context, records []index.Record) error { return nil }

func (s *stubStore) Search(ctx context.Context, vector []float32, k int) ([]index.Chunk, error) {
	if s.err != nil {
		return nil, s.err
	}
	if k > len(s.chunks) {
		k = len(s.chunks)
	}
	return s.chunks[:k], nil
}

func (s *stubStore) Clear(ctx context.Context) error { return nil }

var _ index.Store = (*stubStore)(nil)

// stubLLM replays one scripted answer per call and records the prompts
// it saw.
type stubLLM struct {
	answers []string
	prompts []string
	err     error
}

func (s *stubLLM) Generate(ctx context.Context, prompt string, params llm.Params) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	s.prompts = append(s.prompts, prompt)
	idx := len(s.prompts) - 1
	if idx >= len(s.answers) {
		return "", nil
	}
	return s.answers[idx], nil
}

var _ llm.Client = (*stubLLM)(nil)

func discard() *log.Logger { return log.New(io.Discard, "", 0) }

func makeChunks(n int) []index.Chunk {
	chunks := make([]index.Chunk, n)
	for i := range chunks {
		chunks[i] = index.Chunk{Text: strings.Repeat("x", 10), Source: "doc.txt"}
	}
	return chunks
}

func TestAssembleContextFormatsAndJoins(t *testing.T) {
	chunks := []index.Chunk{
		{Text: "first passage", Source: "a.txt"},
		{Text: "second passage", Source: "b.txt"},
	}

	got := AssembleContext(chunks, 1000)
	want := "[Source: a.txt] first passage\n\n[Source: b.txt] second passage"
	if got != want {
		t.Fatalf("unexpected context:\n%q\nwant:\n%q", got, want)
	}
}

func TestAssembleContextHardTruncation(t *testing.T) {
	chunks := []index.Chunk{
		{Text: strings.Repeat("A", 100), Source: "d1"},
		{Text: strings.Repeat("B", 100), Source: "d2"},
	}

	got := AssembleContext(chunks, 80)
	if len(got) != 80 {
		t.Fatalf("expected exactly 80 characters, got %d", len(got))
	}
	if !strings.HasPrefix(got, "[Source: d1] AAAA") {
		t.Fatalf("truncated context should start with the first formatted chunk, got %q", got[:20])
	}
}

func TestAssembleContextPreservesSupplyOrder(t *testing.T) {
	chunks := []index.Chunk{
		{Text: "zulu", Source: "z"},
		{Text: "alpha", Source: "a"},
	}
	got := AssembleContext(chunks, 1000)
	if strings.Index(got, "zulu") > strings.Index(got, "alpha") {
		t.Fatal("assembler must not re-sort chunks")
	}
}

func TestStripReasoningRemovesCompleteBlocks(t *testing.T) {
	in := "<think>step one\nstep two</think>\nThe answer is 42."
	if got := StripReasoning(in); got != "The answer is 42." {
		t.Fatalf("unexpected result: %q", got)
	}

	in = "a<think>x</think>b<think>y</think>c"
	if got := StripReasoning(in); got != "abc" {
		t.Fatalf("expected all blocks removed, got %q", got)
	}
}

func TestStripReasoningLeavesUnterminatedMarker(t *testing.T) {
	in := "Before.\n<think>never closed..."
	if got := StripReasoning(in); got != in {
		t.Fatalf("unterminated marker must leave text unmodified, got %q", got)
	}

	// A complete block followed by an unterminated one: only the
	// complete block is removed.
	in = "<think>done</think>answer <think>dangling"
	if got := StripReasoning(in); got != "answer <think>dangling" {
		t.Fatalf("unexpected result: %q", got)
	}
}

func TestStripReasoningNoMarkers(t *testing.T) {
	in := "Plain answer with no markers."
	if got := StripReasoning(in); got != in {
		t.Fatalf("unexpected result: %q", got)
	}
}

func TestGeneratorPromptAndReasoningInstruction(t *testing.T) {
	client := &stubLLM{answers: []string{"fine"}}
	gen := NewGenerator(client)

	_, err := gen.Generate(context.Background(), "why?", "[Source: a] text", GenerateOptions{
		Instructions:  "Cite your sources.",
		ShowReasoning: true,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	prompt := client.prompts[0]
	for _, fragment := range []string{"Context:\n[Source: a] text", "Query:\nwhy?", "Answer:", "Cite your sources.", "<think>"} {
		if !strings.Contains(prompt, fragment) {
			t.Fatalf("prompt missing %q:\n%s", fragment, prompt)
		}
	}

	client = &stubLLM{answers: []string{"fine"}}
	gen = NewGenerator(client)
	if _, err := gen.Generate(context.Background(), "why?", "ctx", GenerateOptions{Instructions: "i"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.Contains(client.prompts[0], "<think>") {
		t.Fatal("reasoning instruction must be absent by default")
	}
}

func TestLineEvidenceKeys(t *testing.T) {
	evidence := LineEvidence{}.Extract("- The budget doubled. [Source: report.pdf]\n\n* The budget doubled. [Source: notes.txt]\nPlain statement.")
	if len(evidence) != 3 {
		t.Fatalf("expected 3 evidence lines, got %d", len(evidence))
	}
	if evidence[0].Key != "The budget doubled." {
		t.Fatalf("unexpected key: %q", evidence[0].Key)
	}
	if evidence[0].Key != evidence[1].Key {
		t.Fatal("same statement with different sources must share a dedup key")
	}
	if evidence[2].Key != "Plain statement." {
		t.Fatalf("unexpected key: %q", evidence[2].Key)
	}
}

func TestLineEvidenceKeyTrimsTrailingDashes(t *testing.T) {
	evidence := LineEvidence{}.Extract("- evidence -\nevidence")
	if len(evidence) != 2 {
		t.Fatalf("expected 2 evidence lines, got %d", len(evidence))
	}
	if evidence[0].Key != evidence[1].Key {
		t.Fatalf("trailing dash must not change the dedup key: %q vs %q", evidence[0].Key, evidence[1].Key)
	}
	if evidence[0].Key != "evidence" {
		t.Fatalf("unexpected key: %q", evidence[0].Key)
	}
}

func TestRunBatchesByDepth(t *testing.T) {
	client := &stubLLM{answers: []string{
		"- Fact one. [Source: doc.txt]",
		"- Fact two. [Source: doc.txt]",
	}}
	svc := NewService(
		NewRetriever(&stubEmbedder{}, &stubStore{chunks: makeChunks(4)}),
		NewGenerator(client),
		discard(),
	)

	out, err := svc.Run(context.Background(), "question", RunOptions{K: 2, Depth: 2, MaxContextLength: 3000})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(client.prompts) != 2 {
		t.Fatalf("expected one generation call per batch, got %d", len(client.prompts))
	}
	want := "- Fact one. [Source: doc.txt]\n- Fact two. [Source: doc.txt]"
	if out != want {
		t.Fatalf("unexpected output:\n%q", out)
	}
}

func TestRunShortFinalBatch(t *testing.T) {
	client := &stubLLM{answers: []string{"- a", "- b"}}
	svc := NewService(
		NewRetriever(&stubEmbedder{}, &stubStore{chunks: makeChunks(3)}),
		NewGenerator(client),
		discard(),
	)

	// k=2, depth=2 asks for 4 chunks but the index holds 3: the second
	// batch is short, not skipped.
	if _, err := svc.Run(context.Background(), "question", RunOptions{K: 2, Depth: 2}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(client.prompts) != 2 {
		t.Fatalf("expected 2 batches, got %d", len(client.prompts))
	}
}

func TestRunDeduplicatesAcrossBatches(t *testing.T) {
	client := &stubLLM{answers: []string{
		"- The deadline slipped. [Source: a.txt]\n- Costs rose.",
		"- The deadline slipped. [Source: b.txt]\n- A new risk emerged.",
	}}
	svc := NewService(
		NewRetriever(&stubEmbedder{}, &stubStore{chunks: makeChunks(4)}),
		NewGenerator(client),
		discard(),
	)

	out, err := svc.Run(context.Background(), "question", RunOptions{K: 2, Depth: 2})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if strings.Count(out, "The deadline slipped.") != 1 {
		t.Fatalf("duplicate evidence not collapsed:\n%s", out)
	}
	// The first occurrence's original line, source tag included, is the
	// one that survives.
	if !strings.Contains(out, "[Source: a.txt]") || strings.Contains(out, "[Source: b.txt]") {
		t.Fatalf("expected the first occurrence to be kept verbatim:\n%s", out)
	}
	if !strings.Contains(out, "Costs rose.") || !strings.Contains(out, "A new risk emerged.") {
		t.Fatalf("distinct lines missing:\n%s", out)
	}
}

func TestRunReturnsSentinelWhenNoEvidence(t *testing.T) {
	svc := NewService(
		NewRetriever(&stubEmbedder{}, &stubStore{}),
		NewGenerator(&stubLLM{}),
		discard(),
	)

	out, err := svc.Run(context.Background(), "question", RunOptions{K: 5, Depth: 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != NoEvidence {
		t.Fatalf("expected sentinel %q, got %q", NoEvidence, out)
	}

	// Same when batches exist but the model emits nothing.
	svc = NewService(
		NewRetriever(&stubEmbedder{}, &stubStore{chunks: makeChunks(2)}),
		NewGenerator(&stubLLM{answers: []string{"\n\n"}}),
		discard(),
	)
	out, err = svc.Run(context.Background(), "question", RunOptions{K: 5})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != NoEvidence {
		t.Fatalf("expected sentinel %q, got %q", NoEvidence, out)
	}
}

func TestRunAppliesDefaultContextBudget(t *testing.T) {
	chunks := make([]index.Chunk, 5)
	for i := range chunks {
		chunks[i] = index.Chunk{Text: strings.Repeat("x", 2000), Source: "doc.txt"}
	}
	client := &stubLLM{answers: []string{"- fine"}}
	svc := NewService(
		NewRetriever(&stubEmbedder{}, &stubStore{chunks: chunks}),
		NewGenerator(client),
		discard(),
	)

	// MaxContextLength left at its zero value must still bound the
	// context, not pass the full 10k characters through.
	if _, err := svc.Run(context.Background(), "question", RunOptions{K: 5}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	prompt := client.prompts[0]
	start := strings.Index(prompt, "Context:\n")
	end := strings.Index(prompt, "\n\nQuery:")
	if start < 0 || end < 0 {
		t.Fatalf("prompt missing template markers:\n%s", prompt[:60])
	}
	contextLen := end - (start + len("Context:\n"))
	if contextLen != 3000 {
		t.Fatalf("expected context truncated to the 3000-character default, got %d", contextLen)
	}
}

func TestRunClampsDepth(t *testing.T) {
	client := &stubLLM{answers: []string{"- only"}}
	svc := NewService(
		NewRetriever(&stubEmbedder{}, &stubStore{chunks: makeChunks(6)}),
		NewGenerator(client),
		discard(),
	)

	if _, err := svc.Run(context.Background(), "question", RunOptions{K: 3, Depth: -2}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(client.prompts) != 1 {
		t.Fatalf("depth must clamp to 1, got %d batches", len(client.prompts))
	}
}

func TestRunValidatesQuery(t *testing.T) {
	svc := NewService(NewRetriever(&stubEmbedder{}, &stubStore{}), NewGenerator(&stubLLM{}), discard())
	if _, err := svc.Run(context.Background(), "   ", RunOptions{}); err == nil {
		t.Fatal("expected error for empty query")
	}
}

func TestRunPropagatesProviderFailure(t *testing.T) {
	svc := NewService(
		NewRetriever(&stubEmbedder{}, &stubStore{chunks: makeChunks(2)}),
		NewGenerator(&stubLLM{err: errors.New("model offline")}),
		discard(),
	)
	_, err := svc.Run(context.Background(), "question", RunOptions{K: 2})
	if err == nil || !strings.Contains(err.Error(), "model offline") {
		t.Fatalf("expected provider failure to propagate with context, got %v", err)
	}
}

func TestRetrieveNeverExceedsK(t *testing.T) {
	r := NewRetriever(&stubEmbedder{}, &stubStore{chunks: makeChunks(3)})

	chunks, err := r.Retrieve(context.Background(), "q", 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(chunks))
	}

	chunks, err = r.Retrieve(context.Background(), "q", 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(chunks) != 3 {
		t.Fatalf("under-supply must not error, got %d chunks", len(chunks))
	}
}

type jsonEvidence struct{}

func (jsonEvidence) Extract(answer string) []Evidence {
	return []Evidence{{Line: "structured: " + answer, Key: answer}}
}

func TestEvidenceExtractorIsPluggable(t *testing.T) {
	svc := NewService(
		NewRetriever(&stubEmbedder{}, &stubStore{chunks: makeChunks(1)}),
		NewGenerator(&stubLLM{answers: []string{"raw"}}),
		discard(),
		WithEvidenceExtractor(jsonEvidence{}),
	)

	out, err := svc.Run(context.Background(), "question", RunOptions{K: 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "structured: raw" {
		t.Fatalf("custom extractor not used: %q", out)
	}
}

package pipeline

import "strings"

// Evidence is one candidate evidence line from a generated answer, with
// the key it is deduplicated by across batches.
type Evidence struct {
	Line string
	Key  string
}

// EvidenceExtractor pulls evidence candidates out of a raw generated
// answer. It is a seam: the default line-based heuristic can be swapped
// for a stricter structured-output contract without touching the
// orchestrator's batching and dedup loop.
type EvidenceExtractor interface {
	Extract(answer string) []Evidence
}

// LineEvidence treats each non-empty line of the answer as one evidence
// statement with an optional trailing "[Source: ...]" annotation. The
// dedup key is the line's text before the first source tag, with bullet
// and dash characters trimmed from both ends.
type LineEvidence struct{}

func (LineEvidence) Extract(answer string) []Evidence {
	lines := strings.Split(answer, "\n")
	out := make([]Evidence, 0, len(lines))
	for _, raw := range lines {
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}
		out = append(out, Evidence{Line: line, Key: dedupKey(line)})
	}
	return out
}

func dedupKey(line string) string {
	if idx := strings.Index(line, "[Source:"); idx >= 0 {
		line = line[:idx]
	}
	line = strings.TrimSpace(line)
	line = strings.Trim(line, "-*•")
	return strings.TrimSpace(line)
}

var _ EvidenceExtractor = LineEvidence{}

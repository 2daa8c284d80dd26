package pipeline

import (
	"regexp"
	"strconv"
	"strings"
)

// NoQuote is the placeholder used when an answer carries no Quote:
// marker, keeping tabular export total.
const NoQuote = "no quote found"

// AnswerRecord is the structured form of one generated answer. It is
// built once per query and never mutated afterward.
type AnswerRecord struct {
	Question   string
	Answer     string
	Confidence *float64
	Quote      string
	Sources    []string
}

var (
	confidencePercentRe = regexp.MustCompile(`(?i)\[?confidence:\s*(\d+)\s*%`)
	confidenceLevelRe   = regexp.MustCompile(`(?i)\[?confidence:\s*(high|medium|low)\b`)
	quoteRe             = regexp.MustCompile(`(?i)quote:\s*([^\n]+)`)
	sourceRe            = regexp.MustCompile(`\[Source:\s*([^\]]+)\]`)
)

// Qualitative confidence levels mapped to representative percentages.
var confidenceLevels = map[string]float64{
	"high":   90,
	"medium": 60,
	"low":    30,
}

// Structure parses a raw generated answer into an AnswerRecord. It is
// pure text scanning: missing markers degrade to documented placeholders
// and never raise, so every query yields a structured row.
func Structure(question, rawAnswer string) AnswerRecord {
	answer := strings.TrimSpace(rawAnswer)
	return AnswerRecord{
		Question:   question,
		Answer:     answer,
		Confidence: extractConfidence(answer),
		Quote:      extractQuote(answer),
		Sources:    extractSources(answer),
	}
}

// extractConfidence scans for "Confidence: NN%" markers and qualitative
// "Confidence: high|medium|low" levels; the maximum value wins. No
// marker yields nil.
func extractConfidence(answer string) *float64 {
	var best *float64
	keep := func(v float64) {
		if best == nil || v > *best {
			value := v
			best = &value
		}
	}

	for _, match := range confidencePercentRe.FindAllStringSubmatch(answer, -1) {
		if v, err := strconv.ParseFloat(match[1], 64); err == nil {
			keep(v)
		}
	}
	for _, match := range confidenceLevelRe.FindAllStringSubmatch(answer, -1) {
		if v, ok := confidenceLevels[strings.ToLower(match[1])]; ok {
			keep(v)
		}
	}

	return best
}

// extractQuote captures the remainder of the first "Quote:" line with
// surrounding quotation characters stripped.
func extractQuote(answer string) string {
	match := quoteRe.FindStringSubmatch(answer)
	if match == nil {
		return NoQuote
	}
	quote := strings.TrimSpace(match[1])
	quote = strings.Trim(quote, `"'“”‘’`)
	quote = strings.TrimSpace(quote)
	if quote == "" {
		return NoQuote
	}
	return quote
}

// extractSources collects the distinct "[Source: name]" tags in order of
// first appearance.
func extractSources(answer string) []string {
	matches := sourceRe.FindAllStringSubmatch(answer, -1)
	if len(matches) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(matches))
	sources := make([]string, 0, len(matches))
	for _, match := range matches {
		name := strings.TrimSpace(match[1])
		if name == "" {
			continue
		}
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		sources = append(sources, name)
	}
	return sources
}

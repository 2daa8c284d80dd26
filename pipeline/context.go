package pipeline

import (
	"fmt"
	"strings"

	"github.com/quarrydocs/quarry/index"
)

// AssembleContext merges chunks into one prompt context. Each chunk is
// rendered as "[Source: name] text", joined by blank lines, in the order
// supplied (the retriever's ranking is preserved). A context longer than
// maxLength is cut hard at maxLength characters, which may land
// mid-sentence or mid-source-tag; callers must not assume per-chunk
// integrity near the boundary.
func AssembleContext(chunks []index.Chunk, maxLength int) string {
	formatted := make([]string, 0, len(chunks))
	for _, ch := range chunks {
		formatted = append(formatted, fmt.Sprintf("[Source: %s] %s", ch.Source, ch.Text))
	}

	context := strings.Join(formatted, "\n\n")
	if maxLength > 0 && len(context) > maxLength {
		context = context[:maxLength]
	}
	return context
}

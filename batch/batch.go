// Package batch answers an ordered list of questions through the
// pipeline and emits one structured row per (question, run) pair for
// tabular export.
package batch

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/quarrydocs/quarry/pipeline"
)

// Question is one input row: the question text plus caller-supplied
// metadata columns carried through to the output verbatim.
type Question struct {
	Text     string
	Metadata []string
}

// Row is one output row. Err is set when that row's pipeline invocation
// failed; sibling rows are unaffected.
type Row struct {
	Question string
	Run      int
	Record   pipeline.AnswerRecord
	Metadata []string
	Err      error
}

// Answerer is the slice of the pipeline service the runner needs.
type Answerer interface {
	Answer(ctx context.Context, query string, opts pipeline.RunOptions) (pipeline.AnswerRecord, error)
}

// Runner fans questions out over a bounded worker pool. Output order is
// fixed by input position and run number, never by completion time, so
// repeated batch runs over identical answers are reproducible.
type Runner struct {
	service Answerer
	opts    pipeline.RunOptions
	workers int
	logger  *log.Logger
}

func NewRunner(service Answerer, opts pipeline.RunOptions, workers int, logger *log.Logger) *Runner {
	if workers < 1 {
		workers = 1
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Runner{service: service, opts: opts, workers: workers, logger: logger}
}

// Run answers every question `runs` times. A provider failure marks its
// own row and does not abort the rest of the batch; only context
// cancellation stops the pool early.
func (r *Runner) Run(ctx context.Context, questions []Question, runs int) []Row {
	if runs < 1 {
		runs = 1
	}

	rows := make([]Row, len(questions)*runs)

	group, ctx := errgroup.WithContext(ctx)
	group.SetLimit(r.workers)

	for qi, question := range questions {
		qi, question := qi, question
		for run := 0; run < runs; run++ {
			run := run
			idx := qi*runs + run

			rows[idx] = Row{Question: question.Text, Run: run + 1, Metadata: question.Metadata}

			group.Go(func() error {
				if err := ctx.Err(); err != nil {
					rows[idx].Err = err
					return nil
				}
				record, err := r.service.Answer(ctx, question.Text, r.opts)
				if err != nil {
					r.logger.Printf("question %d run %d failed: %v", qi+1, run+1, err)
					rows[idx].Err = err
					return nil
				}
				rows[idx].Record = record
				return nil
			})
		}
	}

	// Workers never return errors; Wait only orders completion.
	_ = group.Wait()
	return rows
}

// ReadQuestions parses a CSV with a header row. questionColumn names the
// column holding the question text; every other column becomes metadata
// carried into the output. The returned headers are the metadata column
// names in input order.
func ReadQuestions(reader io.Reader, questionColumn string) ([]Question, []string, error) {
	cr := csv.NewReader(reader)
	cr.FieldsPerRecord = -1
	records, err := cr.ReadAll()
	if err != nil {
		return nil, nil, fmt.Errorf("parse questions csv: %w", err)
	}
	if len(records) == 0 {
		return nil, nil, fmt.Errorf("questions csv is empty")
	}

	header := records[0]
	questionIdx := -1
	metaIdx := make([]int, 0, len(header))
	metaHeaders := make([]string, 0, len(header))
	for i, name := range header {
		if strings.EqualFold(strings.TrimSpace(name), questionColumn) && questionIdx < 0 {
			questionIdx = i
			continue
		}
		metaIdx = append(metaIdx, i)
		metaHeaders = append(metaHeaders, name)
	}
	if questionIdx < 0 {
		return nil, nil, fmt.Errorf("question column %q not found in header", questionColumn)
	}

	questions := make([]Question, 0, len(records)-1)
	for _, record := range records[1:] {
		if questionIdx >= len(record) {
			continue
		}
		text := strings.TrimSpace(record[questionIdx])
		if text == "" {
			continue
		}
		meta := make([]string, len(metaIdx))
		for mi, col := range metaIdx {
			if col < len(record) {
				meta[mi] = record[col]
			}
		}
		questions = append(questions, Question{Text: text, Metadata: meta})
	}

	return questions, metaHeaders, nil
}

// WriteRows emits rows as CSV: Question, Run, Answer, Confidence, Quote,
// Sources, then the metadata columns verbatim.
func WriteRows(writer io.Writer, metaHeaders []string, rows []Row) error {
	cw := csv.NewWriter(writer)

	header := append([]string{"Question", "Run", "Answer", "Confidence", "Quote", "Sources"}, metaHeaders...)
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}

	for _, row := range rows {
		answer := row.Record.Answer
		if row.Err != nil {
			answer = fmt.Sprintf("ERROR: %v", row.Err)
		}

		confidence := ""
		if row.Record.Confidence != nil {
			confidence = strconv.FormatFloat(*row.Record.Confidence, 'f', -1, 64)
		}

		quote := row.Record.Quote
		if row.Err != nil {
			quote = ""
		}

		record := []string{
			row.Question,
			strconv.Itoa(row.Run),
			answer,
			confidence,
			quote,
			strings.Join(row.Record.Sources, ", "),
		}
		record = append(record, row.Metadata...)
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	return nil
}

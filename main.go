package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/quarrydocs/quarry/batch"
	"github.com/quarrydocs/quarry/config"
	"github.com/quarrydocs/quarry/embeddings"
	"github.com/quarrydocs/quarry/extraction"
	"github.com/quarrydocs/quarry/index"
	"github.com/quarrydocs/quarry/llm"
	"github.com/quarrydocs/quarry/pipeline"
	"github.com/quarrydocs/quarry/segment"
)

func main() {
	logger := log.New(os.Stdout, "", log.LstdFlags)

	configPath := flag.String("config", os.Getenv("QUARRY_CONFIG"), "path to a quarry.yaml config file")
	flag.Usage = printUsage
	flag.Parse()

	args := flag.Args()
	if len(args) < 1 {
		printUsage()
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}

	switch args[0] {
	case "index":
		indexCmd(cfg, logger, args[1:])
	case "query":
		queryCmd(cfg, logger, args[1:])
	case "batch":
		batchCmd(cfg, logger, args[1:])
	case "clear":
		clearCmd(cfg, logger, args[1:])
	default:
		logger.Printf("unknown command: %s", args[0])
		printUsage()
		os.Exit(1)
	}
}

func indexCmd(cfg config.Config, logger *log.Logger, args []string) {
	flags := flag.NewFlagSet("index", flag.ExitOnError)
	dataDir := flags.String("dir", cfg.DataDir, "path to directory containing source documents")
	indexDir := flags.String("out", cfg.Index.Dir, "directory to save the index to (local backend)")
	if err := flags.Parse(args); err != nil {
		logger.Fatalf("parse index flags: %v", err)
	}
	cfg.Index.Dir = *indexDir

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	embedder, err := embeddings.New(cfg)
	if err != nil {
		logger.Fatalf("embedder setup: %v", err)
	}

	docs, err := extraction.ExtractDirectory(ctx, *dataDir, logger)
	if err != nil {
		logger.Fatalf("extract documents: %v", err)
	}

	splitter := segment.New(cfg.Pipeline.ChunkSize, cfg.Pipeline.ChunkOverlap)
	var chunks []index.Chunk
	for _, doc := range docs {
		for _, ch := range splitter.Split(doc.Text, doc.Source) {
			chunks = append(chunks, index.Chunk{Text: ch.Text, Source: ch.Source})
		}
	}
	logger.Printf("segmented %d documents into %d chunks", len(docs), len(chunks))

	store, cleanup, err := newStore(ctx, cfg, embedder)
	if err != nil {
		logger.Fatalf("index store setup: %v", err)
	}
	defer cleanup()

	mgr := index.NewManager(embedder, store, logger)
	if err := mgr.Build(ctx, chunks); err != nil {
		if errors.Is(err, index.ErrNoChunks) {
			logger.Printf("nothing to index in %s", *dataDir)
			return
		}
		logger.Fatalf("build index: %v", err)
	}

	if local, ok := store.(*index.LocalStore); ok {
		if err := local.Save(cfg.Index.Dir); err != nil {
			logger.Fatalf("save index: %v", err)
		}
		logger.Printf("index saved to %s", cfg.Index.Dir)
	}
}

func queryCmd(cfg config.Config, logger *log.Logger, args []string) {
	flags := flag.NewFlagSet("query", flag.ExitOnError)
	question := flags.String("q", "", "question to answer from the indexed corpus")
	topK := flags.Int("k", cfg.Pipeline.TopK, "number of chunks per generation batch")
	depth := flags.Int("depth", cfg.Pipeline.Depth, "number of generation batches")
	maxContext := flags.Int("max-context", cfg.Pipeline.MaxContextLength, "maximum assembled context length in characters")
	reasoning := flags.Bool("reasoning", false, "keep the model's <think> sections in the output")
	structured := flags.Bool("structured", false, "print the parsed answer record instead of raw evidence")
	indexDir := flags.String("index", cfg.Index.Dir, "directory holding the persisted index (local backend)")
	if err := flags.Parse(args); err != nil {
		logger.Fatalf("parse query flags: %v", err)
	}
	cfg.Index.Dir = *indexDir

	if strings.TrimSpace(*question) == "" {
		fmt.Print("Enter your question: ")
		scanner := bufio.NewScanner(os.Stdin)
		if scanner.Scan() {
			*question = scanner.Text()
		}
		if err := scanner.Err(); err != nil {
			logger.Fatalf("read question: %v", err)
		}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	svc, cleanup, err := newService(ctx, cfg, logger)
	if err != nil {
		logger.Fatalf("pipeline setup: %v", err)
	}
	defer cleanup()

	opts := pipeline.RunOptions{
		K:                *topK,
		Depth:            *depth,
		MaxContextLength: *maxContext,
		Instructions:     cfg.Pipeline.Instructions,
		Temperature:      cfg.Pipeline.Temperature,
		MaxTokens:        cfg.Pipeline.MaxTokens,
		ShowReasoning:    *reasoning,
	}

	if *structured {
		record, err := svc.Answer(ctx, *question, opts)
		if err != nil {
			logger.Fatalf("query failed: %v", err)
		}
		printRecord(record)
		return
	}

	answer, err := svc.Run(ctx, *question, opts)
	if err != nil {
		logger.Fatalf("query failed: %v", err)
	}
	fmt.Println(answer)
}

func batchCmd(cfg config.Config, logger *log.Logger, args []string) {
	flags := flag.NewFlagSet("batch", flag.ExitOnError)
	inPath := flags.String("in", "", "CSV file of questions (required)")
	outPath := flags.String("out", "answers.csv", "CSV file to write answers to")
	column := flags.String("column", "question", "name of the question column in the input CSV")
	runs := flags.Int("runs", 1, "times to answer each question")
	workers := flags.Int("workers", 4, "concurrent pipeline invocations")
	indexDir := flags.String("index", cfg.Index.Dir, "directory holding the persisted index (local backend)")
	if err := flags.Parse(args); err != nil {
		logger.Fatalf("parse batch flags: %v", err)
	}
	cfg.Index.Dir = *indexDir

	if *inPath == "" {
		logger.Fatal("batch requires -in pointing at a questions CSV")
	}

	in, err := os.Open(*inPath)
	if err != nil {
		logger.Fatalf("open questions file: %v", err)
	}
	defer in.Close()

	questions, metaHeaders, err := batch.ReadQuestions(in, *column)
	if err != nil {
		logger.Fatalf("read questions: %v", err)
	}
	if len(questions) == 0 {
		logger.Println("no questions to answer")
		return
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	svc, cleanup, err := newService(ctx, cfg, logger)
	if err != nil {
		logger.Fatalf("pipeline setup: %v", err)
	}
	defer cleanup()

	opts := pipeline.RunOptions{
		K:                cfg.Pipeline.TopK,
		Depth:            cfg.Pipeline.Depth,
		MaxContextLength: cfg.Pipeline.MaxContextLength,
		Instructions:     cfg.Pipeline.Instructions,
		Temperature:      cfg.Pipeline.Temperature,
		MaxTokens:        cfg.Pipeline.MaxTokens,
	}

	runner := batch.NewRunner(svc, opts, *workers, logger)
	logger.Printf("answering %d questions x %d runs with %d workers", len(questions), *runs, *workers)
	rows := runner.Run(ctx, questions, *runs)

	out, err := os.Create(*outPath)
	if err != nil {
		logger.Fatalf("create output file: %v", err)
	}
	defer out.Close()

	if err := batch.WriteRows(out, metaHeaders, rows); err != nil {
		logger.Fatalf("write answers: %v", err)
	}
	logger.Printf("wrote %d rows to %s", len(rows), *outPath)
}

func clearCmd(cfg config.Config, logger *log.Logger, args []string) {
	flags := flag.NewFlagSet("clear", flag.ExitOnError)
	confirmed := flags.Bool("confirm", false, "skip confirmation prompt")
	indexDir := flags.String("index", cfg.Index.Dir, "directory holding the persisted index (local backend)")
	if err := flags.Parse(args); err != nil {
		logger.Fatalf("parse clear flags: %v", err)
	}
	cfg.Index.Dir = *indexDir

	if !*confirmed {
		fmt.Printf("This will permanently delete the %s index. Continue? [y/N]: ", cfg.Index.Backend)
		scanner := bufio.NewScanner(os.Stdin)
		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				logger.Fatalf("read confirmation: %v", err)
			}
			logger.Println("clear aborted")
			return
		}
		answer := strings.ToLower(strings.TrimSpace(scanner.Text()))
		if answer != "y" && answer != "yes" {
			logger.Println("clear aborted")
			return
		}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	switch cfg.Index.Backend {
	case config.BackendLocal:
		if err := os.RemoveAll(cfg.Index.Dir); err != nil {
			logger.Fatalf("remove index dir: %v", err)
		}
		logger.Printf("removed %s", cfg.Index.Dir)
	case config.BackendPgvector:
		pool, err := index.NewPostgresPool(ctx, cfg.PostgresDSN)
		if err != nil {
			logger.Fatalf("postgres connection: %v", err)
		}
		defer pool.Close()
		if err := index.NewPostgresStore(pool).Clear(ctx); err != nil {
			logger.Fatalf("clear postgres index: %v", err)
		}
		logger.Println("cleared quarry_chunks")
	default:
		logger.Fatalf("unknown index backend: %s", cfg.Index.Backend)
	}
}

// newStore builds the write-side store for index construction. The
// cleanup func closes backend connections and is safe to call always.
func newStore(ctx context.Context, cfg config.Config, embedder embeddings.Embedder) (index.Store, func(), error) {
	switch cfg.Index.Backend {
	case config.BackendLocal:
		return index.NewLocalStore(embedder.Identity()), func() {}, nil
	case config.BackendPgvector:
		pool, err := index.NewPostgresPool(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("postgres connection: %w", err)
		}
		store := index.NewPostgresStore(pool)
		if err := store.EnsureSchema(ctx, cfg.Embeddings.Dimension); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("ensure schema (set EMBEDDINGS_DIMENSION for pgvector): %w", err)
		}
		return store, pool.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown index backend: %s", cfg.Index.Backend)
	}
}

// openStore opens the read-side store for querying.
func openStore(ctx context.Context, cfg config.Config, embedder embeddings.Embedder, logger *log.Logger) (index.Store, func(), error) {
	switch cfg.Index.Backend {
	case config.BackendLocal:
		store, err := index.OpenLocal(cfg.Index.Dir, embedder.Identity(), logger)
		if err != nil {
			if errors.Is(err, index.ErrNotFound) {
				return nil, nil, fmt.Errorf("no index at %s; run `quarry index` first", cfg.Index.Dir)
			}
			return nil, nil, err
		}
		return store, func() {}, nil
	case config.BackendPgvector:
		pool, err := index.NewPostgresPool(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("postgres connection: %w", err)
		}
		return index.NewPostgresStore(pool), pool.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown index backend: %s", cfg.Index.Backend)
	}
}

// newService wires the full query-side pipeline.
func newService(ctx context.Context, cfg config.Config, logger *log.Logger) (*pipeline.Service, func(), error) {
	embedder, err := embeddings.New(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("embedder setup: %w", err)
	}
	llmClient, err := llm.New(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("llm setup: %w", err)
	}

	store, cleanup, err := openStore(ctx, cfg, embedder, logger)
	if err != nil {
		return nil, nil, err
	}

	retriever := pipeline.NewRetriever(embedder, store)
	generator := pipeline.NewGenerator(llmClient)
	return pipeline.NewService(retriever, generator, logger), cleanup, nil
}

func printRecord(record pipeline.AnswerRecord) {
	fmt.Println(record.Answer)
	fmt.Println()
	if record.Confidence != nil {
		fmt.Printf("Confidence: %.0f%%\n", *record.Confidence)
	} else {
		fmt.Println("Confidence: unknown")
	}
	fmt.Printf("Quote: %s\n", record.Quote)
	if len(record.Sources) > 0 {
		fmt.Printf("Sources: %s\n", strings.Join(record.Sources, ", "))
	}
}

func printUsage() {
	fmt.Println("Usage: quarry [-config FILE] <command> [options]")
	fmt.Println("Commands:")
	fmt.Println("  index    Extract, segment, embed, and index documents (use -dir to override the data directory)")
	fmt.Println("  query    Answer a question from the indexed corpus (-q, -k, -depth, -structured)")
	fmt.Println("  batch    Answer a CSV of questions and write a CSV of structured answers (-in, -out, -runs, -workers)")
	fmt.Println("  clear    Remove the vector index (-confirm to skip the prompt)")
}

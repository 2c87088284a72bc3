// Package ingest splits Python sources into functions, optionally
// summarizes them with a model and stores them in the embedding index.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	sitter "github.com/smacker/go-tree-sitter"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/phobologic/apdev/internal/discover"
	"github.com/phobologic/apdev/internal/index"
	"github.com/phobologic/apdev/internal/lang"
	"github.com/phobologic/apdev/internal/llm"
	"github.com/phobologic/apdev/internal/model"
	"github.com/phobologic/apdev/internal/parse"
	"github.com/phobologic/apdev/internal/prompt"
)

// StageSummarize labels summarization calls.
const StageSummarize = "summarize"

// Indexer stores documents. *index.SQLiteIndex implements it.
// ReplaceFiles must leave the previous entries in place when it fails.
type Indexer interface {
	ReplaceFiles(ctx context.Context, files []string, docs []index.Document) error
	DeleteFile(ctx context.Context, file string) (int64, error)
}

// Options tunes an Agent.
type Options struct {
	// Summarize asks the model for a signature and summary per function.
	// Otherwise the function code is embedded as is.
	Summarize bool
	// Concurrency bounds parse workers and in-flight summaries.
	Concurrency int
	// StripPrefix is a dotted prefix removed from module paths.
	StripPrefix string
	Discover    discover.Options
}

// Report describes one ingestion batch.
type Report struct {
	BatchID    string
	Files      int
	Functions  int
	Summarized int
	// Skipped lists files that could not be read.
	Skipped []string
	Elapsed time.Duration
}

// Agent ingests source trees into an index.
type Agent struct {
	indexer Indexer
	client  llm.Client
	store   *prompt.Store
	opts    Options
	logger  *zap.Logger
}

// NewAgent returns an agent. client and store are only used when
// opts.Summarize is set.
func NewAgent(indexer Indexer, client llm.Client, store *prompt.Store, opts Options, logger *zap.Logger) (*Agent, error) {
	if opts.Summarize && (client == nil || store == nil) {
		return nil, errors.New("ingest: summarization needs a model client and a prompt store")
	}
	if opts.Concurrency < 1 {
		opts.Concurrency = runtime.GOMAXPROCS(0)
	}
	opts.Discover.Languages = []string{"python"}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Agent{indexer: indexer, client: client, store: store, opts: opts, logger: logger}, nil
}

// Ingest indexes every Python file under root.
func (a *Agent) Ingest(ctx context.Context, root string) (*Report, error) {
	entries, err := discover.Files(root, a.opts.Discover)
	if err != nil {
		return nil, fmt.Errorf("discovering files: %w", err)
	}
	rel := make([]string, len(entries))
	for i, e := range entries {
		rel[i] = e.Path
	}
	return a.IngestFiles(ctx, root, rel)
}

// IngestFiles indexes the given files, relative to root. Entries
// previously stored for a file are replaced. Files that are not Python are
// ignored.
func (a *Agent) IngestFiles(ctx context.Context, root string, rel []string) (*Report, error) {
	start := time.Now()
	report := &Report{BatchID: uuid.NewString()}
	log := a.logger.With(zap.String("batch_id", report.BatchID))

	var files []string
	for _, r := range rel {
		if lang.ForExtension(filepath.Ext(r)) == "python" {
			files = append(files, filepath.ToSlash(r))
		}
	}
	sort.Strings(files)
	report.Files = len(files)

	extracted, skipped, err := a.extract(root, files)
	if err != nil {
		return nil, err
	}
	report.Skipped = skipped
	for _, s := range skipped {
		log.Warn("skipping unreadable file", zap.String("file", s))
	}

	var funcs []model.FunctionSource
	for _, fs := range extracted {
		funcs = append(funcs, fs...)
	}
	report.Functions = len(funcs)

	docs, summarized, err := a.documents(ctx, funcs)
	if err != nil {
		return nil, err
	}
	report.Summarized = summarized

	var replaced []string
	for _, file := range files {
		if !contains(skipped, file) {
			replaced = append(replaced, file)
		}
	}
	if err := a.indexer.ReplaceFiles(ctx, replaced, docs); err != nil {
		return nil, fmt.Errorf("indexing: %w", err)
	}

	report.Elapsed = time.Since(start)
	log.Info("ingested",
		zap.Int("files", report.Files),
		zap.Int("functions", report.Functions),
		zap.Int("summarized", report.Summarized),
		zap.Duration("elapsed", report.Elapsed))
	return report, nil
}

// extract parses files with a pool of workers, each owning a parser. The
// result is indexed like files; unreadable files are returned separately.
func (a *Agent) extract(root string, files []string) ([][]model.FunctionSource, []string, error) {
	type result struct {
		index int
		funcs []model.FunctionSource
		err   error
	}

	out := make([][]model.FunctionSource, len(files))
	if len(files) == 0 {
		return out, nil, nil
	}
	l := lang.Languages["python"]
	query, err := l.GetDefinitionQuery()
	if err != nil {
		return nil, nil, fmt.Errorf("compiling python definition query: %w", err)
	}

	numWorkers := min(a.opts.Concurrency, len(files))
	work := make(chan int, len(files))
	results := make(chan result, len(files))

	var wg sync.WaitGroup
	for range numWorkers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var parser *sitter.Parser
			for idx := range work {
				if parser == nil {
					parser = l.NewParser()
				}
				rel := files[idx]
				source, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(rel)))
				if err != nil {
					results <- result{index: idx, err: err}
					continue
				}
				modulePath := parse.ModulePath(rel, a.opts.StripPrefix)
				results <- result{index: idx, funcs: parse.ExtractFunctions(l, parser, query, source, rel, modulePath)}
			}
		}()
	}

	for i := range files {
		work <- i
	}
	close(work)

	go func() {
		wg.Wait()
		close(results)
	}()

	var skipped []string
	for r := range results {
		if r.err != nil {
			skipped = append(skipped, files[r.index])
			continue
		}
		out[r.index] = r.funcs
	}
	sort.Strings(skipped)
	return out, skipped, nil
}

// documents turns functions into index documents, summarizing them when
// enabled. It returns the number of model summaries used.
func (a *Agent) documents(ctx context.Context, funcs []model.FunctionSource) ([]index.Document, int, error) {
	docs := make([]index.Document, len(funcs))
	for i, f := range funcs {
		docs[i] = index.Document{Path: f.Path, Signature: f.Signature, Summary: f.Code, File: f.File}
	}
	if !a.opts.Summarize || len(funcs) == 0 {
		return docs, 0, nil
	}

	summarized := make([]bool, len(funcs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.opts.Concurrency)
	for i, f := range funcs {
		g.Go(func() error {
			desc, err := a.summarize(gctx, f)
			if err != nil {
				var ve *llm.ValidationError
				if errors.As(err, &ve) {
					a.logger.Warn("summary rejected, embedding code", zap.String("path", f.Path), zap.Error(err))
					return nil
				}
				return fmt.Errorf("summarizing %s: %w", f.Path, err)
			}
			if desc.FunctionSignature != "" {
				docs[i].Signature = desc.FunctionSignature
			}
			docs[i].Summary = desc.Summary
			summarized[i] = true
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, 0, err
	}

	n := 0
	for _, ok := range summarized {
		if ok {
			n++
		}
	}
	return docs, n, nil
}

func (a *Agent) summarize(ctx context.Context, f model.FunctionSource) (model.FunctionDescription, error) {
	user, err := prompt.FunctionSummary(a.store, "python", f.Code)
	if err != nil {
		return model.FunctionDescription{}, err
	}
	return llm.Complete[model.FunctionDescription](llm.WithStage(ctx, StageSummarize), a.client, []llm.Message{
		{Role: llm.RoleUser, Content: user},
	})
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

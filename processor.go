// Copyright © 2026, Taggedpdf Project Contributors. All Rights Reserved.
// SPDX-License-Identifier: BSD-3-Clause

package tagtree

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/taggedpdf/tagtree/logger"
	"golang.org/x/sync/semaphore"
)

// Result is one document's outcome from a batch structure-tree extraction.
// At most one of Tree or Err is set; Tree is nil (not an error) for a
// well-formed PDF that has no /StructTreeRoot.
type Result struct {
	Path string
	Tree *StructTreeRoot
	Err  error
}

// processor bounds how many documents GetStructureTree opens and walks at
// once. The structure-tree assembly itself stays synchronous per spec.md §5;
// this only parallelizes across independent documents, the way the teacher's
// semaphore-gated worker pool parallelized across independent pages.
type processor struct {
	cfg *Config
	sem *semaphore.Weighted
}

// NewProcessor validates the config and creates a new processor.
func NewProcessor(cfg *Config) *processor {
	if err := cfg.Validate(); err != nil {
		panic(err)
	}

	if cfg.Logger != nil {
		logger.SetLogger(cfg.Logger)
	}

	logger.Debug(fmt.Sprintf("Processor initialized: parsing_mode=%v, max_concurrent_pdfs=%d",
		cfg.ParsingMode, cfg.MaxConcurrentPDFs), true)

	return &processor{
		cfg: cfg,
		sem: semaphore.NewWeighted(int64(cfg.MaxConcurrentPDFs)),
	}
}

// ExtractTrees opens every path, bounded by MaxConcurrentPDFs concurrent
// documents, and assembles each one's structure tree. In Strict mode the
// first document-level error cancels the rest of the batch; in BestEffort
// mode a failing document is recorded in its own Result and the batch
// continues. Results are returned in the same order as paths regardless of
// completion order.
func (p *processor) ExtractTrees(ctx context.Context, paths []string) ([]Result, error) {
	logger.Debug(fmt.Sprintf("Starting batch structure-tree extraction: documents=%d", len(paths)), true)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make([]Result, len(paths))
	var wg sync.WaitGroup
	var mu sync.Mutex
	var firstErr error

	for i, path := range paths {
		if err := p.sem.Acquire(ctx, 1); err != nil {
			logger.Debug(fmt.Sprintf("Failed to acquire slot: path=%s err=%v", path, err), true)
			mu.Lock()
			if firstErr == nil {
				firstErr = err
			}
			mu.Unlock()
			for j := i; j < len(paths); j++ {
				results[j] = Result{Path: paths[j], Err: err}
			}
			break
		}

		wg.Add(1)
		go func(i int, path string) {
			defer wg.Done()
			defer p.sem.Release(1)

			res := p.extractOne(ctx, path)
			results[i] = res

			if res.Err != nil && p.cfg.ParsingMode == Strict {
				logger.Debug(fmt.Sprintf("Strict mode error — cancelling batch: path=%s err=%v", path, res.Err), true)
				mu.Lock()
				if firstErr == nil {
					firstErr = fmt.Errorf("strict mode failed on %s: %w", path, res.Err)
				}
				mu.Unlock()
				cancel()
			}
		}(i, path)
	}

	wg.Wait()
	if firstErr != nil {
		return results, firstErr
	}

	logger.Debug(fmt.Sprintf("Batch structure-tree extraction completed: documents=%d", len(paths)), true)
	return results, nil
}

// extractOne opens a single document, with retry on open/assembly failure up
// to cfg.MaxRetries. Each attempt gets a DocumentTimeout deadline, which
// assembleTree checks once, after the file is open and before the tree is
// assembled; a GetStructureTree call already running is not interrupted.
func (p *processor) extractOne(ctx context.Context, path string) Result {
	logger.Debug(fmt.Sprintf("Opening document: path=%s", path), true)

	var tree *StructTreeRoot
	var err error
	for attempt := 0; attempt <= p.cfg.MaxRetries; attempt++ {
		select {
		case <-ctx.Done():
			return Result{Path: path, Err: ctx.Err()}
		default:
		}

		attemptCtx, cancel := context.WithTimeout(ctx, p.cfg.DocumentTimeout)
		tree, err = p.assembleTree(attemptCtx, path)
		cancel()
		if err == nil {
			break
		}
		logger.Debug(fmt.Sprintf("Retrying document: path=%s attempt=%d err=%v", path, attempt, err), true)
	}
	if err != nil {
		logger.Debug(fmt.Sprintf("Document failed: path=%s err=%v", path, err), true)
		return Result{Path: path, Err: err}
	}
	logger.Debug(fmt.Sprintf("Document succeeded: path=%s", path), true)
	return Result{Path: path, Tree: tree}
}

func (p *processor) assembleTree(ctx context.Context, path string) (*StructTreeRoot, error) {
	_, r, err := Open(path)
	if err != nil {
		return nil, err
	}
	defer func() {
		if closer, ok := r.f.(io.Closer); ok {
			_ = closer.Close()
		}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	return r.GetStructureTree()
}

// Info reads a document's /Info dictionary without assembling its structure
// tree, bounded by the same document-concurrency slot as ExtractTrees.
func (p *processor) Info(ctx context.Context, path string) (PDFInfo, error) {
	logger.Debug(fmt.Sprintf("Reading document info: path=%s", path), true)

	if err := p.sem.Acquire(ctx, 1); err != nil {
		return PDFInfo{}, fmt.Errorf("acquire slot: %w", err)
	}
	defer p.sem.Release(1)

	_, r, err := Open(path)
	if err != nil {
		logger.Error("failed to open PDF for info")
		return PDFInfo{}, err
	}
	defer func() {
		if closer, ok := r.f.(io.Closer); ok {
			_ = closer.Close()
		}
	}()

	return r.Info(), nil
}

package analysis

import (
	"context"
	"fmt"
	"sort"

	"golang.org/x/sync/errgroup"
)

// DefaultConcurrency is the in-flight ceiling of frame-analysis requests.
const DefaultConcurrency = 5

// WindowFunc analyses a single window.
type WindowFunc func(ctx context.Context, w WindowSpec) (WindowFinding, error)

// Batch is the outcome of a dispatch. Findings are ordered by window index.
type Batch struct {
	Findings []WindowFinding
	Failures []*WindowError
}

// Dispatch runs fn for every window with at most limit calls outstanding. A
// failing or panicking window is recorded in Batch.Failures and does not
// affect its siblings. The returned error is non-nil only when ctx ends before
// every window has finished; the partial batch is discarded then.
func Dispatch(ctx context.Context, windows []WindowSpec, limit int, fn WindowFunc) (*Batch, error) {
	if limit < 1 {
		return nil, fmt.Errorf("%w: concurrency limit must be at least 1, got %d", ErrInvalidParameter, limit)
	}
	seen := make(map[int]bool, len(windows))
	for _, w := range windows {
		if seen[w.Index] {
			return nil, fmt.Errorf("%w: duplicate window index %d", ErrInvalidParameter, w.Index)
		}
		seen[w.Index] = true
	}

	type outcome struct {
		finding WindowFinding
		err     error
	}
	results := make([]outcome, len(windows))

	// A plain Group: one window's error must not cancel the others.
	var g errgroup.Group
	g.SetLimit(limit)
	for i, w := range windows {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			f, err := runWindow(ctx, w, fn)
			results[i] = outcome{finding: f, err: err}
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	batch := &Batch{
		Findings: make([]WindowFinding, 0, len(windows)),
	}
	for i, r := range results {
		if r.err != nil {
			batch.Failures = append(batch.Failures, &WindowError{Index: windows[i].Index, Err: r.err})
			continue
		}
		r.finding.WindowIndex = windows[i].Index
		batch.Findings = append(batch.Findings, r.finding)
	}
	sort.Slice(batch.Findings, func(i, j int) bool {
		return batch.Findings[i].WindowIndex < batch.Findings[j].WindowIndex
	})
	sort.Slice(batch.Failures, func(i, j int) bool {
		return batch.Failures[i].Index < batch.Failures[j].Index
	})
	return batch, nil
}

func runWindow(ctx context.Context, w WindowSpec, fn WindowFunc) (f WindowFinding, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn(ctx, w)
}

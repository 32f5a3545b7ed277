// Package batch runs a worker over a list of items in fixed-size windows.
//
// Items are split into consecutive windows of Concurrency items. All items of
// a window run concurrently and the runner waits for the whole window before
// starting the next one, so at most Concurrency workers are ever in flight.
// Every item ends up in exactly one of Outcome.Succeeded or Outcome.Failed,
// both in input order, and a failing item never stops its siblings.
package batch

import (
	"context"
	"fmt"
	"math"
	"sync"
)

// Progress is reported after every item completes.
type Progress struct {
	Loaded  int
	Total   int
	Percent int
	Label   string
}

// Options configures a batch run.
type Options struct {
	// Concurrency is the window size. Values below 1 are treated as 1.
	Concurrency int
	// OnProgress, when set, is called once per completed item. Calls are
	// serialized.
	OnProgress func(Progress)
	// Label is copied into every Progress report.
	Label string
}

// Success pairs an input with the worker's result.
type Success[T, R any] struct {
	Index  int
	Item   T
	Result R
}

// Failure pairs an input with the worker's error.
type Failure[T any] struct {
	Index int
	Item  T
	Err   error
}

// Outcome partitions a run's items into successes and failures.
type Outcome[T, R any] struct {
	Succeeded []Success[T, R]
	Failed    []Failure[T]
}

// Total returns the number of items accounted for.
func (o Outcome[T, R]) Total() int {
	return len(o.Succeeded) + len(o.Failed)
}

// Results returns the successful results in input order.
func (o Outcome[T, R]) Results() []R {
	out := make([]R, 0, len(o.Succeeded))
	for _, s := range o.Succeeded {
		out = append(out, s.Result)
	}
	return out
}

// Worker processes a single item.
type Worker[T, R any] func(ctx context.Context, item T) (R, error)

type slot[R any] struct {
	result R
	err    error
}

// Run processes items with worker. Once ctx is done, items of windows not yet
// started are recorded as failed with the context error.
func Run[T, R any](ctx context.Context, items []T, worker Worker[T, R], opts Options) Outcome[T, R] {
	var outcome Outcome[T, R]
	total := len(items)
	if total == 0 {
		return outcome
	}

	window := opts.Concurrency
	if window < 1 {
		window = 1
	}

	slots := make([]slot[R], total)
	tracker := &progressTracker{total: total, label: opts.Label, report: opts.OnProgress}

	for start := 0; start < total; start += window {
		end := min(start+window, total)

		if err := ctx.Err(); err != nil {
			for i := start; i < total; i++ {
				slots[i].err = err
				tracker.done()
			}
			break
		}

		var wg sync.WaitGroup
		for i := start; i < end; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				defer tracker.done()
				slots[i].result, slots[i].err = invoke(ctx, worker, items[i])
			}(i)
		}
		wg.Wait()
	}

	for i, s := range slots {
		if s.err != nil {
			outcome.Failed = append(outcome.Failed, Failure[T]{Index: i, Item: items[i], Err: s.err})
			continue
		}
		outcome.Succeeded = append(outcome.Succeeded, Success[T, R]{Index: i, Item: items[i], Result: s.result})
	}
	return outcome
}

func invoke[T, R any](ctx context.Context, worker Worker[T, R], item T) (result R, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("worker panic: %v", r)
		}
	}()
	return worker(ctx, item)
}

type progressTracker struct {
	mu     sync.Mutex
	loaded int
	total  int
	label  string
	report func(Progress)
}

func (p *progressTracker) done() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.loaded++
	if p.report == nil {
		return
	}
	p.report(Progress{
		Loaded:  p.loaded,
		Total:   p.total,
		Percent: int(math.Round(float64(p.loaded) / float64(p.total) * 100)),
		Label:   p.label,
	})
}

package engine

import (
	"context"
	"sync"
)

// DefaultMaxParallel bounds a batch when BatchOptions.MaxParallel is unset.
const DefaultMaxParallel = 10

// BatchOptions controls ExecuteTransactions and ExecuteQueries.
type BatchOptions struct {
	// MaxParallel is the number of concurrent executions.
	MaxParallel int

	// FailFast cancels the rest of the batch after the first error.
	// Executions already in flight end with a cancelled error; ones not
	// yet started get ctx.Err().
	FailFast bool
}

// BatchResult is the outcome of one batch element. Results keep input order.
type BatchResult[T any] struct {
	Index    int
	Response T
	Err      error
}

// ExecuteTransactions executes independent transactions concurrently.
func (e *Engine) ExecuteTransactions(ctx context.Context, txs []*Transaction, opts BatchOptions) []BatchResult[*TransactionResponse] {
	return runBatch(ctx, len(txs), opts, func(ctx context.Context, i int) (*TransactionResponse, error) {
		return e.ExecuteTransaction(ctx, txs[i])
	})
}

// ExecuteQueries executes independent queries concurrently.
func (e *Engine) ExecuteQueries(ctx context.Context, qs []*Query, opts BatchOptions) []BatchResult[*QueryResponse] {
	return runBatch(ctx, len(qs), opts, func(ctx context.Context, i int) (*QueryResponse, error) {
		return e.ExecuteQuery(ctx, qs[i])
	})
}

// runBatch feeds indexes 0..n-1 to a fixed pool of workers.
func runBatch[T any](ctx context.Context, n int, opts BatchOptions, exec func(context.Context, int) (T, error)) []BatchResult[T] {
	results := make([]BatchResult[T], n)
	if n == 0 {
		return results
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	workerCount := opts.MaxParallel
	if workerCount <= 0 {
		workerCount = DefaultMaxParallel
	}
	if n < workerCount {
		workerCount = n
	}

	workQueue := make(chan int, n)
	for i := range n {
		workQueue <- i
	}
	close(workQueue)

	var wg sync.WaitGroup
	for range workerCount {
		wg.Add(1)
		go func() {
			defer wg.Done()

			for i := range workQueue {
				results[i].Index = i
				if err := ctx.Err(); err != nil {
					results[i].Err = err
					continue
				}
				results[i].Response, results[i].Err = exec(ctx, i)
				if results[i].Err != nil && opts.FailFast {
					cancel()
				}
			}
		}()
	}

	wg.Wait()
	return results
}

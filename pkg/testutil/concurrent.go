package testutil

import (
	"errors"
	"sync"
	"sync/atomic"

	"acsadmin/internal/sentinel"
)

// ConcurrentResult counts outcomes of a concurrent run by sentinel category.
type ConcurrentResult struct {
	Successes int32
	Conflicts int32
	NotFounds int32
	Errors    int32
}

func (r *ConcurrentResult) Total() int32 {
	return r.Successes + r.Conflicts + r.NotFounds + r.Errors
}

// RunConcurrent starts n goroutines behind a shared gate so they race as
// closely as possible, then classifies each returned error.
func RunConcurrent(n int, fn func(idx int) error) *ConcurrentResult {
	var (
		wg                                  sync.WaitGroup
		successes, conflicts, missing, errs atomic.Int32
	)
	gate := make(chan struct{})

	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-gate
			switch err := fn(i); {
			case err == nil:
				successes.Add(1)
			case errors.Is(err, sentinel.ErrConflict):
				conflicts.Add(1)
			case errors.Is(err, sentinel.ErrNotFound):
				missing.Add(1)
			default:
				errs.Add(1)
			}
		}()
	}
	close(gate)
	wg.Wait()

	return &ConcurrentResult{
		Successes: successes.Load(),
		Conflicts: conflicts.Load(),
		NotFounds: missing.Load(),
		Errors:    errs.Load(),
	}
}

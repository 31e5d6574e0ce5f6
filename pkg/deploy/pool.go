package deploy

import (
	"context"
	"sync"
)

// DefaultConcurrency bounds how many policies reconcile at once. Each
// policy owns disjoint remote resources, so passes never contend with
// each other; the bound exists to keep provider throttling at bay.
const DefaultConcurrency = 4

// Result is the per-policy outcome of a batch deploy. One failing policy
// never aborts the others.
type Result struct {
	// Policy is the derived function name.
	Policy string

	// Record is the observed state after the pass, valid when Err is nil.
	Record FunctionRecord

	// Err is the pass failure, if any.
	Err error
}

// DeployAll reconciles every spec through a bounded worker pool and
// returns one result per spec, in input order.
func (r *Reconciler) DeployAll(ctx context.Context, specs []FunctionSpec, opts ReconcileOptions, concurrency int) []Result {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}

	results := make([]Result, len(specs))
	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup

	for i, spec := range specs {
		wg.Add(1)
		go func(i int, spec FunctionSpec) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			if err := ctx.Err(); err != nil {
				results[i] = Result{Policy: spec.Name(), Err: err}
				return
			}
			rec, err := r.Reconcile(ctx, spec, opts)
			results[i] = Result{Policy: spec.Name(), Record: rec, Err: err}
		}(i, spec)
	}

	wg.Wait()
	return results
}

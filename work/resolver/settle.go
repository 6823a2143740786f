package resolver

import (
	"aonline-proxy/work/logger"

	"github.com/sourcegraph/conc/pool"
)

// settleAll runs every task concurrently, at most limit at a time, and
// concatenates their results. A task that panics contributes nothing and
// does not affect its siblings.
func settleAll[T any](name string, limit int, tasks []func() []T) []T {
	if len(tasks) == 0 {
		return nil
	}
	if limit <= 0 || limit > len(tasks) {
		limit = len(tasks)
	}

	p := pool.NewWithResults[[]T]().WithMaxGoroutines(limit)
	for _, task := range tasks {
		p.Go(func() (out []T) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("{resolver/settle - settleAll} %s task panicked: %v", name, rec)
					out = nil
				}
			}()
			return task()
		})
	}

	var merged []T
	for _, part := range p.Wait() {
		merged = append(merged, part...)
	}
	return merged
}

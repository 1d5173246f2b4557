package workflow

import (
	"context"
	"sync"
)

// Pool runs a bounded number of workflow runs concurrently (§4.K: "a
// bounded worker pool" drives multiple servers' backup/retention
// workflows without unbounded goroutine fan-out).
type Pool struct {
	sem chan struct{}
}

// NewPool builds a Pool allowing at most width concurrent runs.
func NewPool(width int) *Pool {
	if width < 1 {
		width = 1
	}
	return &Pool{sem: make(chan struct{}, width)}
}

// Job is one unit of work submitted to the pool: typically a closure
// calling (*Workflow).Run with its own Nodes map.
type Job struct {
	Name string
	Run  func(ctx context.Context) Outcome
}

// RunAll runs every job, blocking until all have completed, returning
// their outcomes in submission order. At most the pool's width run
// concurrently.
func (p *Pool) RunAll(ctx context.Context, jobs []Job) []Outcome {
	outcomes := make([]Outcome, len(jobs))
	var wg sync.WaitGroup
	for i, j := range jobs {
		wg.Add(1)
		go func(i int, j Job) {
			defer wg.Done()
			p.sem <- struct{}{}
			defer func() { <-p.sem }()
			select {
			case <-ctx.Done():
				outcomes[i] = Outcome{WorkflowName: j.Name, Err: ctx.Err()}
			default:
				outcomes[i] = j.Run(ctx)
			}
		}(i, j)
	}
	wg.Wait()
	return outcomes
}

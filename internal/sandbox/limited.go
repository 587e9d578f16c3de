package sandbox

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// Limited bounds the number of concurrently running jobs.
type Limited struct {
	runner Runner
	sem    *semaphore.Weighted
}

func NewLimited(runner Runner, maxConcurrent int) *Limited {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &Limited{runner: runner, sem: semaphore.NewWeighted(int64(maxConcurrent))}
}

func (l *Limited) Run(ctx context.Context, job Job) (Output, error) {
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return Output{}, err
	}
	defer l.sem.Release(1)
	return l.runner.Run(ctx, job)
}

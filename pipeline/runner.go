// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sync"

	"github.com/panjf2000/ants/v2"

	"github.com/poiesic/finpipe/core"
)

// Task identifies one unit of stage work. The fingerprint is empty for
// extraction tasks, where it only exists after the fetch.
type Task struct {
	Fingerprint core.Fingerprint
	SourceID    string
}

// TaskFunc executes one task by index into the submitted slice and returns
// the fingerprint the item resolved to.
type TaskFunc func(ctx context.Context, index int) (core.Fingerprint, error)

type taskState int

const (
	taskNotRun taskState = iota
	taskSucceeded
	taskFailed
	taskSkipped
)

type taskResult struct {
	state       taskState
	fingerprint core.Fingerprint
	err         error
}

// Runner executes one stage's tasks concurrently on a worker pool and
// assembles the stage report in input order.
type Runner struct {
	poolSize int
	logger   *slog.Logger
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithPoolSize sets the worker pool size for concurrent processing.
// Default is runtime.NumCPU() / 2, with a minimum of 1.
func WithPoolSize(size int) RunnerOption {
	return func(r *Runner) {
		if size < 1 {
			size = 1
		}
		r.poolSize = size
	}
}

// WithRunnerLogger sets a custom logger.
func WithRunnerLogger(logger *slog.Logger) RunnerOption {
	return func(r *Runner) {
		if logger == nil {
			logger = slog.Default()
		}
		r.logger = logger
	}
}

// NewRunner creates a stage runner.
func NewRunner(opts ...RunnerOption) *Runner {
	poolSize := runtime.NumCPU() / 2
	if poolSize < 1 {
		poolSize = 1
	}
	r := &Runner{
		poolSize: poolSize,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes fn for every task whose fingerprint is not in the skip set.
// Items run concurrently but the report preserves input order. A canceled
// context stops further scheduling; tasks that never ran are left out of
// the report entirely so they don't distort the stage's failure rate.
func (r *Runner) Run(ctx context.Context, stage core.Stage, tasks []Task, skip map[core.Fingerprint]struct{}, fn TaskFunc) (*core.StageReport, error) {
	pool, err := ants.NewPool(r.poolSize)
	if err != nil {
		return nil, err
	}
	defer pool.Release()

	results := make([]taskResult, len(tasks))
	var wg sync.WaitGroup

	for i, task := range tasks {
		if task.Fingerprint != "" {
			if _, done := skip[task.Fingerprint]; done {
				results[i] = taskResult{state: taskSkipped, fingerprint: task.Fingerprint}
				continue
			}
		}
		if ctx.Err() != nil {
			break
		}

		index := i
		wg.Add(1)
		submitErr := pool.Submit(func() {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					results[index] = taskResult{state: taskFailed, err: fmt.Errorf("task panicked: %v", r)}
				}
			}()
			fingerprint, taskErr := fn(ctx, index)
			if taskErr != nil {
				results[index] = taskResult{state: taskFailed, fingerprint: fingerprint, err: taskErr}
				return
			}
			results[index] = taskResult{state: taskSucceeded, fingerprint: fingerprint}
		})
		if submitErr != nil {
			wg.Done()
			results[index] = taskResult{state: taskFailed, err: submitErr}
		}
	}
	wg.Wait()

	report := &core.StageReport{Stage: stage}
	for i, result := range results {
		switch result.state {
		case taskSucceeded:
			report.Succeeded = append(report.Succeeded, result.fingerprint)
		case taskSkipped:
			report.Skipped = append(report.Skipped, result.fingerprint)
		case taskFailed:
			fingerprint := result.fingerprint
			if fingerprint == "" {
				fingerprint = tasks[i].Fingerprint
			}
			report.Failed = append(report.Failed, core.ItemFailure{
				Fingerprint: fingerprint,
				SourceID:    tasks[i].SourceID,
				Err:         result.err,
			})
		}
	}

	r.logger.Debug("stage finished",
		slog.String("stage", stage.String()),
		slog.Int("succeeded", len(report.Succeeded)),
		slog.Int("failed", len(report.Failed)),
		slog.Int("skipped", len(report.Skipped)))
	return report, nil
}

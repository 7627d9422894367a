// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package workerspool runs independent compilation tasks with bounded parallelism.
package workerspool

import (
	"runtime"
	"sync"

	"github.com/pkg/errors"
)

// Pool limits the number of tasks running at the same time.
type Pool struct {
	// maxParallelism is the limit of tasks running in parallel: 0 runs tasks inline, and
	// a negative value means unlimited.
	maxParallelism int

	mu         sync.Mutex
	cond       sync.Cond // Signaled whenever numRunning is decreased.
	numRunning int
}

// New returns a new Pool with the given parallelism, see SetMaxParallelism.
func New(maxParallelism int) *Pool {
	w := &Pool{maxParallelism: maxParallelism}
	w.cond = sync.Cond{L: &w.mu}
	return w
}

// NewDefault returns a new Pool with the parallelism set to runtime.NumCPU().
func NewDefault() *Pool {
	return New(runtime.NumCPU())
}

// IsEnabled returns whether parallelism is enabled (maxParallelism != 0).
func (w *Pool) IsEnabled() bool {
	return w.maxParallelism != 0
}

// IsUnlimited returns whether parallelism is unlimited (maxParallelism < 0).
func (w *Pool) IsUnlimited() bool {
	return w.maxParallelism < 0
}

// MaxParallelism returns the limit of tasks running in parallel.
func (w *Pool) MaxParallelism() int {
	return w.maxParallelism
}

// SetMaxParallelism sets the limit of tasks running in parallel. If 0, tasks are run inline, in order.
// If negative, parallelism is unlimited.
//
// It must not be changed while tasks are running.
func (w *Pool) SetMaxParallelism(maxParallelism int) {
	w.maxParallelism = maxParallelism
}

// lockedIsFull returns whether all available workers are in use.
//
// It must be called with w.mu acquired.
func (w *Pool) lockedIsFull() bool {
	if w.maxParallelism < 0 {
		return false
	}
	return w.numRunning >= w.maxParallelism
}

// WaitToStart waits until there is a worker available and runs task in a goroutine.
// If parallelism is disabled it runs the task inline and returns when it is finished.
func (w *Pool) WaitToStart(task func()) {
	if w.IsUnlimited() {
		go task()
		return
	} else if !w.IsEnabled() {
		task()
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	for w.lockedIsFull() {
		w.cond.Wait()
	}
	w.numRunning++
	go func() {
		defer func() {
			w.mu.Lock()
			w.numRunning--
			w.cond.Signal()
			w.mu.Unlock()
		}()
		task()
	}()
}

// Run runs numTasks calls to fn, fn(0) to fn(numTasks-1), and waits for all of them to finish.
// It returns the error of the lowest-indexed failing task, if any.
//
// All tasks are run even if some fail.
func (w *Pool) Run(numTasks int, fn func(taskIdx int) error) error {
	errs := make([]error, numTasks)
	var wg sync.WaitGroup
	for taskIdx := range numTasks {
		wg.Add(1)
		w.WaitToStart(func() {
			defer wg.Done()
			errs[taskIdx] = fn(taskIdx)
		})
	}
	wg.Wait()
	for taskIdx, err := range errs {
		if err != nil {
			return errors.WithMessagef(err, "task #%d", taskIdx)
		}
	}
	return nil
}

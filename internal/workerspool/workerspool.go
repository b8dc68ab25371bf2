/*
 *	Copyright 2023 Jan Pfeifer
 *
 *	Licensed under the Apache License, Version 2.0 (the "License");
 *	you may not use this file except in compliance with the License.
 *	You may obtain a copy of the License at
 *
 *	http://www.apache.org/licenses/LICENSE-2.0
 *
 *	Unless required by applicable law or agreed to in writing, software
 *	distributed under the License is distributed on an "AS IS" BASIS,
 *	WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 *	See the License for the specific language governing permissions and
 *	limitations under the License.
 */

// Package workerspool runs kernel work in parallel goroutines, with a soft limit on the parallelism.
package workerspool

import (
	"runtime"
	"sync"
)

// Pool of workers. A nil *Pool runs everything inline.
type Pool struct {
	// maxParallelism is a soft target on the limit of parallel work to do.
	maxParallelism int
	mu             sync.Mutex
	numRunning     int
}

// New returns a new Pool of workers with the default parallelism (runtime.NumCPU()).
func New() *Pool {
	return &Pool{maxParallelism: runtime.NumCPU()}
}

// MaxParallelism is a soft-target for parallelism.
// If set to 0 parallelism is disabled.
// If set to -1 parallelism is unlimited.
func (w *Pool) MaxParallelism() int {
	if w == nil {
		return 0
	}
	return w.maxParallelism
}

// SetMaxParallelism sets the maxParallelism and returns the pool.
//
// It should only be changed before any workers start running.
func (w *Pool) SetMaxParallelism(maxParallelism int) *Pool {
	w.maxParallelism = maxParallelism
	return w
}

// lockedIsFull returns whether all available workers are in use.
//
// It must be called with w.mu acquired.
func (w *Pool) lockedIsFull() bool {
	if w.maxParallelism == 0 {
		return true
	} else if w.maxParallelism < 0 {
		return false
	}
	return w.numRunning >= w.maxParallelism
}

// StartIfAvailable runs the task in a separate goroutine, if there are workers left.
// It returns true if it found a worker to run the task, false otherwise.
//
// It's up to the caller to synchronize the end of the task.
func (w *Pool) StartIfAvailable(task func()) bool {
	if w == nil {
		return false
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.lockedIsFull() {
		return false
	}
	w.numRunning++
	go func() {
		defer func() {
			w.mu.Lock()
			w.numRunning--
			w.mu.Unlock()
		}()
		task()
	}()
	return true
}

// ParallelFor splits the range [0, n) into chunks of at least minChunk elements and calls fn on each
// of them, in parallel where workers are available. Chunks without an available worker are run inline.
//
// It returns when all chunks are done. If any call to fn panics, ParallelFor re-panics with the
// first recovered value, in the caller's goroutine.
func (w *Pool) ParallelFor(n, minChunk int, fn func(start, end int)) {
	if n <= 0 {
		return
	}
	minChunk = max(minChunk, 1)
	numChunks := w.MaxParallelism()
	if numChunks < 0 {
		numChunks = (n + minChunk - 1) / minChunk
	}
	if numChunks <= 1 || n <= minChunk {
		fn(0, n)
		return
	}
	chunkSize := max(minChunk, (n+numChunks-1)/numChunks)

	var (
		wg         sync.WaitGroup
		panicOnce  sync.Once
		panicValue any
	)
	run := func(start, end int) {
		defer func() {
			if r := recover(); r != nil {
				panicOnce.Do(func() { panicValue = r })
			}
		}()
		fn(start, end)
	}
	lastStart := 0
	for start := 0; start+chunkSize < n; start += chunkSize {
		end := start + chunkSize
		lastStart = end
		wg.Add(1)
		if !w.StartIfAvailable(func() {
			defer wg.Done()
			run(start, end)
		}) {
			run(start, end)
			wg.Done()
		}
	}
	// Last chunk runs in the caller's goroutine.
	run(lastStart, n)
	wg.Wait()
	if panicValue != nil {
		panic(panicValue)
	}
}

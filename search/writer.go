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

package search

import (
	"log/slog"
	"runtime"
	"sync"

	"github.com/panjf2000/ants/v2"
)

// writer runs background cache work on a bounded, non-blocking pool.
// When the pool is saturated the task runs inline on the caller.
type writer struct {
	pool   *ants.Pool
	wg     sync.WaitGroup
	logger *slog.Logger
}

// defaultPoolSize is the background worker count when none is configured.
func defaultPoolSize() int {
	size := runtime.NumCPU() / 2
	if size < 1 {
		size = 1
	}
	return size
}

func newWriter(size int, logger *slog.Logger) (*writer, error) {
	if size < 1 {
		size = 1
	}
	pool, err := ants.NewPool(size, ants.WithNonblocking(true))
	if err != nil {
		return nil, err
	}
	return &writer{pool: pool, logger: logger}, nil
}

// submit schedules task. It never drops the task.
func (w *writer) submit(task func()) {
	w.wg.Add(1)
	run := func() {
		defer w.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				w.logger.Error("background task panicked", "panic", r)
			}
		}()
		task()
	}
	if err := w.pool.Submit(run); err != nil {
		w.logger.Debug("worker pool unavailable, running task inline", "err", err)
		run()
	}
}

// wait blocks until every submitted task has finished.
func (w *writer) wait() {
	w.wg.Wait()
}

// release drains pending tasks and stops the pool.
func (w *writer) release() {
	w.wg.Wait()
	w.pool.Release()
}

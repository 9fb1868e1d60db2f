// Copyright 2024 The Kudu-Go Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or
// implied. See the License for the specific language governing
// permissions and limitations under the License.

// Package threadpool is a bounded worker pool with a variable number of
// goroutines (component J): it grows from MinThreads to MaxThreads as work
// arrives, lets idle workers beyond MinThreads time out, and rejects new
// work once MaxQueueSize is reached. syscatalog.Table runs the
// write-transaction driver's (§4.G/H) leader-side and replica-side Apply
// phases on two such pools (ldr-apply, repl-apply) so a burst of writes never blocks indefinitely
// behind an unbounded goroutine fan-out.
package threadpool

import (
	"container/list"
	"runtime"
	"sync"
	"time"

	"github.com/kudu-go/master/status"
)

// Builder configures a ThreadPool before Build creates it, mirroring the
// name/min/max/queue/idle-timeout knobs of the pool this package translates.
type Builder struct {
	name          string
	minThreads    int
	maxThreads    int
	maxQueueSize  int
	idleTimeout   time.Duration
}

// NewBuilder starts a Builder with the same defaults as the pool this one is
// modeled on: no minimum threads, max_threads defaulting to the detected CPU
// count, an unbounded-looking but finite queue, and a 500ms idle timeout.
func NewBuilder(name string) *Builder {
	return &Builder{
		name:         name,
		minThreads:   0,
		maxThreads:   runtime.NumCPU(),
		maxQueueSize: 1 << 30,
		idleTimeout:  500 * time.Millisecond,
	}
}

func (b *Builder) SetMinThreads(n int) *Builder { b.minThreads = n; return b }
func (b *Builder) SetMaxThreads(n int) *Builder { b.maxThreads = n; return b }
func (b *Builder) SetMaxQueueSize(n int) *Builder { b.maxQueueSize = n; return b }
func (b *Builder) SetIdleTimeout(d time.Duration) *Builder { b.idleTimeout = d; return b }

// Build instantiates a ThreadPool with the builder's current settings and
// starts its minimum thread count.
func (b *Builder) Build() (*ThreadPool, error) {
	if b.minThreads > b.maxThreads {
		return nil, status.Configurationf("threadpool %q: min_threads (%d) > max_threads (%d)", b.name, b.minThreads, b.maxThreads)
	}
	tp := &ThreadPool{
		name:         b.name,
		minThreads:   b.minThreads,
		maxThreads:   b.maxThreads,
		maxQueueSize: b.maxQueueSize,
		idleTimeout:  b.idleTimeout,
		queue:        list.New(),
	}
	tp.notEmpty = sync.NewCond(&tp.mu)
	tp.noThreads = sync.NewCond(&tp.mu)
	tp.idle = sync.NewCond(&tp.mu)
	tp.mu.Lock()
	defer tp.mu.Unlock()
	for i := 0; i < tp.minThreads; i++ {
		if err := tp.createThreadLocked(true); err != nil {
			return nil, err
		}
	}
	return tp, nil
}

// ThreadPool is a bounded, elastic pool of worker goroutines.
type ThreadPool struct {
	name         string
	minThreads   int
	maxThreads   int
	maxQueueSize int
	idleTimeout  time.Duration

	mu         sync.Mutex
	notEmpty   *sync.Cond
	noThreads  *sync.Cond
	idle       *sync.Cond
	numThreads int
	active     int
	queue      *list.List // of func()
	shutdown   bool
	waitGen    int
}

// Submit enqueues fn for execution by a worker goroutine. It returns
// ServiceUnavailable if the queue is at capacity and Configuration if the
// pool has already been shut down.
func (tp *ThreadPool) Submit(fn func()) error {
	tp.mu.Lock()
	defer tp.mu.Unlock()

	if tp.shutdown {
		return status.Configurationf("threadpool %q: pool is shut down", tp.name)
	}
	if tp.queue.Len() >= tp.maxQueueSize {
		return status.ServiceUnavailablef("threadpool %q: queue full (max %d)", tp.name, tp.maxQueueSize)
	}

	tp.queue.PushBack(fn)

	if tp.active == tp.numThreads && tp.numThreads < tp.maxThreads {
		if err := tp.createThreadLocked(false); err != nil && tp.numThreads == 0 {
			tp.queue.Remove(tp.queue.Back())
			return err
		}
	}
	tp.notEmpty.Signal()
	return nil
}

// createThreadLocked starts a new worker. permanent workers (created up to
// minThreads at Build time) never time out; the rest exit after sitting
// idle for longer than idleTimeout.
func (tp *ThreadPool) createThreadLocked(permanent bool) error {
	tp.numThreads++
	go tp.dispatch(permanent)
	return nil
}

func (tp *ThreadPool) dispatch(permanent bool) {
	tp.mu.Lock()
	for {
		for tp.queue.Len() == 0 && !tp.shutdown {
			if !permanent && tp.numThreads > tp.minThreads {
				if tp.waitTimeoutLocked() {
					// Woke on the timer with nothing to do: exit, unless
					// another worker already brought the count down to the
					// minimum while we were waiting.
					if tp.queue.Len() == 0 && !tp.shutdown && tp.numThreads > tp.minThreads {
						tp.numThreads--
						tp.maybeSignalNoThreadsLocked()
						tp.mu.Unlock()
						return
					}
				}
				continue
			}
			tp.notEmpty.Wait()
		}
		if tp.shutdown && tp.queue.Len() == 0 {
			tp.numThreads--
			tp.maybeSignalNoThreadsLocked()
			tp.mu.Unlock()
			return
		}

		front := tp.queue.Front()
		tp.queue.Remove(front)
		fn := front.Value.(func())
		tp.active++
		tp.mu.Unlock()

		fn()

		tp.mu.Lock()
		tp.active--
		if tp.active == 0 && tp.queue.Len() == 0 {
			tp.idle.Broadcast()
		}
	}
}

// waitTimeoutLocked waits on notEmpty for up to idleTimeout, reporting
// whether the wait ended via the timer (true) rather than a genuine signal
// (false). Must be called with tp.mu held; re-acquires it before returning.
func (tp *ThreadPool) waitTimeoutLocked() (timedOut bool) {
	gen := tp.waitGen
	timer := time.AfterFunc(tp.idleTimeout, func() {
		tp.mu.Lock()
		tp.waitGen++
		tp.notEmpty.Broadcast()
		tp.mu.Unlock()
	})
	defer timer.Stop()

	tp.notEmpty.Wait()
	return tp.waitGen != gen
}

func (tp *ThreadPool) maybeSignalNoThreadsLocked() {
	if tp.numThreads == 0 {
		tp.noThreads.Broadcast()
	}
}

// Wait blocks until every submitted task has completed and the queue is
// empty.
func (tp *ThreadPool) Wait() {
	tp.mu.Lock()
	defer tp.mu.Unlock()
	for tp.queue.Len() > 0 || tp.active > 0 {
		tp.idle.Wait()
	}
}

// TimedWait blocks until idle or until d elapses, whichever comes first,
// reporting which occurred.
func (tp *ThreadPool) TimedWait(d time.Duration) bool {
	done := make(chan struct{})
	go func() {
		tp.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(d):
		return false
	}
}

// Shutdown stops accepting work, drops everything still queued, waits for
// in-flight tasks to finish, and blocks until every worker has exited.
func (tp *ThreadPool) Shutdown() {
	tp.mu.Lock()
	tp.shutdown = true
	tp.queue.Init()
	tp.notEmpty.Broadcast()
	for tp.numThreads > 0 {
		tp.noThreads.Wait()
	}
	tp.mu.Unlock()
}

// ActiveCount returns the number of tasks currently executing.
func (tp *ThreadPool) ActiveCount() int {
	tp.mu.Lock()
	defer tp.mu.Unlock()
	return tp.active
}

// QueueLength returns the number of tasks waiting to be picked up.
func (tp *ThreadPool) QueueLength() int {
	tp.mu.Lock()
	defer tp.mu.Unlock()
	return tp.queue.Len()
}

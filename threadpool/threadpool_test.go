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

package threadpool

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestSubmitRunsAllTasks(t *testing.T) {
	tp, err := NewBuilder("test").SetMinThreads(0).SetMaxThreads(4).Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	defer tp.Shutdown()

	var n int64
	const tasks = 50
	for i := 0; i < tasks; i++ {
		if err := tp.Submit(func() { atomic.AddInt64(&n, 1) }); err != nil {
			t.Fatalf("Submit: %v", err)
		}
	}
	tp.Wait()
	if got := atomic.LoadInt64(&n); got != tasks {
		t.Fatalf("expected %d tasks to run, got %d", tasks, got)
	}
}

func TestSubmitRejectsWhenQueueFull(t *testing.T) {
	tp, err := NewBuilder("test").SetMinThreads(1).SetMaxThreads(1).SetMaxQueueSize(1).Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	defer tp.Shutdown()

	block := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	if err := tp.Submit(func() { wg.Done(); <-block }); err != nil {
		t.Fatalf("Submit first: %v", err)
	}
	wg.Wait() // ensure the first task is actually running, occupying the one thread

	if err := tp.Submit(func() {}); err != nil {
		t.Fatalf("Submit second (should queue): %v", err)
	}
	if err := tp.Submit(func() {}); err == nil {
		t.Fatalf("expected third Submit to be rejected once queue is full")
	}
	close(block)
}

func TestSubmitAfterShutdownFails(t *testing.T) {
	tp, err := NewBuilder("test").Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	tp.Shutdown()
	if err := tp.Submit(func() {}); err == nil {
		t.Fatalf("expected Submit after Shutdown to fail")
	}
}

func TestIdleWorkersTimeOutAboveMinimum(t *testing.T) {
	tp, err := NewBuilder("test").SetMinThreads(1).SetMaxThreads(4).SetIdleTimeout(10 * time.Millisecond).Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	defer tp.Shutdown()

	var wg sync.WaitGroup
	wg.Add(3)
	for i := 0; i < 3; i++ {
		if err := tp.Submit(func() { wg.Done() }); err != nil {
			t.Fatalf("Submit: %v", err)
		}
	}
	wg.Wait()
	tp.Wait()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		tp.mu.Lock()
		n := tp.numThreads
		tp.mu.Unlock()
		if n == 1 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("expected pool to shrink back to min_threads=1")
}

func TestTimedWait(t *testing.T) {
	tp, err := NewBuilder("test").Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	defer tp.Shutdown()

	block := make(chan struct{})
	if err := tp.Submit(func() { <-block }); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if tp.TimedWait(20 * time.Millisecond) {
		t.Fatalf("expected TimedWait to time out while task is blocked")
	}
	close(block)
	if !tp.TimedWait(time.Second) {
		t.Fatalf("expected TimedWait to succeed once task unblocks")
	}
}

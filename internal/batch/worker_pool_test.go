package batch

import (
	"runtime"
	"sort"
	"sync"
	"testing"
)

func TestNewWorkerPool_WorkerCount(t *testing.T) {
	tests := []struct {
		name    string
		workers int
		want    int
	}{
		{"explicit", 3, 3},
		{"zero uses cpu count", 0, runtime.NumCPU()},
		{"negative uses cpu count", -2, runtime.NumCPU()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pool := NewWorkerPool(tt.workers)
			defer pool.Close()
			if got := pool.GetStats().Workers; got != tt.want {
				t.Errorf("Expected %d workers, got %d", tt.want, got)
			}
		})
	}
}

func TestWorkerPool_MarksEveryStudent(t *testing.T) {
	students := []string{"alice", "bob", "carol", "dan", "erin", "frank", "grace"}

	for _, workers := range []int{1, 3, 8} {
		pool := NewWorkerPool(workers)
		pool.Start()

		var mu sync.Mutex
		var marked []string
		for _, name := range students {
			name := name
			if !pool.Submit(func() {
				mu.Lock()
				marked = append(marked, name)
				mu.Unlock()
			}) {
				t.Fatalf("workers=%d: submit %s rejected", workers, name)
			}
		}
		pool.Wait()
		pool.Close()

		sort.Strings(marked)
		want := append([]string(nil), students...)
		sort.Strings(want)
		if len(marked) != len(want) {
			t.Fatalf("workers=%d: expected %d students, got %d", workers, len(want), len(marked))
		}
		for i := range want {
			if marked[i] != want[i] {
				t.Errorf("workers=%d: expected %s at %d, got %s", workers, want[i], i, marked[i])
			}
		}

		stats := pool.GetStats()
		if stats.TotalJobs != int64(len(students)) || stats.CompletedJobs != int64(len(students)) {
			t.Errorf("workers=%d: expected %d total and completed, got %+v", workers, len(students), stats)
		}
		if stats.ActiveWorkers != 0 {
			t.Errorf("workers=%d: expected no active workers, got %d", workers, stats.ActiveWorkers)
		}
	}
}

func TestWorkerPool_StartTwice(t *testing.T) {
	pool := NewWorkerPool(2)
	pool.Start()
	pool.Start()
	defer pool.Close()

	done := make(chan struct{})
	pool.Submit(func() { close(done) })
	pool.Wait()

	select {
	case <-done:
	default:
		t.Error("Expected job to run after a repeated Start")
	}
}

func TestWorkerPool_WaitBetweenRounds(t *testing.T) {
	pool := NewWorkerPool(2)
	pool.Start()
	defer pool.Close()

	var mu sync.Mutex
	count := 0
	for round := 1; round <= 3; round++ {
		for i := 0; i < 4; i++ {
			pool.Submit(func() {
				mu.Lock()
				count++
				mu.Unlock()
			})
		}
		pool.Wait()

		mu.Lock()
		got := count
		mu.Unlock()
		if got != round*4 {
			t.Fatalf("round %d: expected %d jobs done after Wait, got %d", round, round*4, got)
		}
	}
}

func TestWorkerPool_StatsUnderLoad(t *testing.T) {
	pool := NewWorkerPool(2)
	pool.Start()
	defer pool.Close()

	const jobs = 20
	for i := 0; i < jobs; i++ {
		pool.Submit(func() {
			sum := 0
			for j := 0; j < 5000; j++ {
				sum += j
			}
			_ = sum
		})
	}

	var readers sync.WaitGroup
	for i := 0; i < 8; i++ {
		readers.Add(1)
		go func() {
			defer readers.Done()
			for j := 0; j < 10; j++ {
				s := pool.GetStats()
				if s.CompletedJobs > s.TotalJobs {
					t.Errorf("completed %d exceeds total %d", s.CompletedJobs, s.TotalJobs)
				}
			}
		}()
	}
	readers.Wait()
	pool.Wait()

	if s := pool.GetStats(); s.TotalJobs != jobs || s.CompletedJobs != jobs {
		t.Errorf("Expected %d jobs total and completed, got %+v", jobs, s)
	}
}

func TestWorkerPool_SubmitAfterClose(t *testing.T) {
	pool := NewWorkerPool(1)
	pool.Start()
	pool.Close()
	pool.Close()

	if pool.Submit(func() {}) {
		t.Error("Expected Submit to fail on a closed pool")
	}
	if stats := pool.GetStats(); stats.TotalJobs != 0 {
		t.Errorf("Expected rejected job not to be counted, got %d", stats.TotalJobs)
	}
}

func TestWorkerPool_RecoversPanics(t *testing.T) {
	pool := NewWorkerPool(1)
	pool.Start()
	defer pool.Close()

	var ran bool
	pool.Submit(func() { panic("boom") })
	pool.Submit(func() { ran = true })
	pool.Wait()

	if !ran {
		t.Error("Expected the worker to survive a panicking job")
	}
	if stats := pool.GetStats(); stats.CompletedJobs != 2 {
		t.Errorf("Expected 2 completed jobs, got %d", stats.CompletedJobs)
	}
}

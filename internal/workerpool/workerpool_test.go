package workerpool

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
)

func TestRunAttemptsEveryJob(t *testing.T) {
	jobs := make([]int, 100)
	for i := range jobs {
		jobs[i] = i
	}

	var attempted atomic.Int64
	var mu sync.Mutex
	seen := make(map[int]bool)

	err := Run(4, jobs, func(j int) error {
		attempted.Add(1)
		mu.Lock()
		seen[j] = true
		mu.Unlock()
		return nil
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if attempted.Load() != int64(len(jobs)) {
		t.Fatalf("attempted %d jobs, want %d", attempted.Load(), len(jobs))
	}
	for _, j := range jobs {
		if !seen[j] {
			t.Fatalf("job %d was never run", j)
		}
	}
}

func TestRunReturnsFirstErrorButDrainsQueue(t *testing.T) {
	jobs := []int{0, 1, 2, 3, 4, 5, 6, 7}
	boom := errors.New("boom")

	var attempted atomic.Int64
	err := Run(2, jobs, func(j int) error {
		attempted.Add(1)
		if j == 3 {
			return boom
		}
		return nil
	})
	if !errors.Is(err, boom) {
		t.Fatalf("Run returned %v, want %v", err, boom)
	}
	// One failing job must not strand the rest of the queue.
	if attempted.Load() != int64(len(jobs)) {
		t.Fatalf("attempted %d jobs after an error, want all %d", attempted.Load(), len(jobs))
	}
}

func TestRunClampsWorkerCount(t *testing.T) {
	// More workers than jobs, and a non-positive worker count, must both
	// still run everything exactly once.
	for _, n := range []int{0, -1, 100} {
		var attempted atomic.Int64
		err := Run(n, []string{"a", "b", "c"}, func(string) error {
			attempted.Add(1)
			return nil
		})
		if err != nil {
			t.Fatalf("Run(n=%d): %v", n, err)
		}
		if attempted.Load() != 3 {
			t.Fatalf("Run(n=%d) attempted %d jobs, want 3", n, attempted.Load())
		}
	}
}

func TestRunNoJobs(t *testing.T) {
	if err := Run(4, nil, func(int) error { return nil }); err != nil {
		t.Fatalf("Run with no jobs: %v", err)
	}
}

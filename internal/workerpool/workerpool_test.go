package workerpool

import (
	"sort"
	"sync/atomic"
	"testing"
	"time"
)

func TestWorkerPool_ProcessesEveryJob(t *testing.T) {
	pool := New[int, int](4, 100)
	pool.Start(func(n int) int { return n * n })
	for i := 0; i < 100; i++ {
		pool.Submit(i)
	}
	pool.Close()

	var got []int
	for r := range pool.Results() {
		got = append(got, r)
	}
	if len(got) != 100 {
		t.Fatalf("got %d results, want 100", len(got))
	}
	sort.Ints(got)
	for i, v := range got {
		if v != i*i {
			t.Fatalf("result[%d] = %d, want %d", i, v, i*i)
		}
	}
}

func TestNew_Sizing(t *testing.T) {
	tests := []struct {
		name       string
		numWorkers int
		numJobs    int
		want       int
	}{
		{"explicit", 8, 100, 8},
		{"capped by jobs", 8, 3, 3},
		{"default", 0, 1000, min(DefaultWorkers, 1000)},
		{"negative uses default", -1, 1000, min(DefaultWorkers, 1000)},
		{"no jobs keeps workers", 5, 0, 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := New[int, int](tt.numWorkers, tt.numJobs).Workers(); got != tt.want {
				t.Errorf("Workers() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestMap_PreservesInputOrder(t *testing.T) {
	inputs := []int{5, 1, 4, 2, 3}
	got := Map(3, inputs, func(n int) int {
		// Finish in the reverse order of the delay so completion order
		// differs from input order.
		time.Sleep(time.Duration(n) * time.Millisecond)
		return n * 10
	})

	want := []int{50, 10, 40, 20, 30}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Map = %v, want %v", got, want)
		}
	}
}

func TestMap_Empty(t *testing.T) {
	got := Map(4, []string(nil), func(s string) int { return len(s) })
	if len(got) != 0 {
		t.Errorf("Map(nil) = %v", got)
	}
}

func TestMap_RunsConcurrently(t *testing.T) {
	var inFlight, peak atomic.Int32
	inputs := make([]int, 16)
	Map(4, inputs, func(int) struct{} {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		inFlight.Add(-1)
		return struct{}{}
	})

	if p := peak.Load(); p < 2 || p > 4 {
		t.Errorf("peak concurrency = %d, want between 2 and 4", p)
	}
}

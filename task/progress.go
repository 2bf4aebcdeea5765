package task

import (
	"math"
	"sync"
)

// Tracker records per-format completion percentages for each task.
type Tracker struct {
	mu      sync.RWMutex
	entries map[string][]int
}

func NewTracker() *Tracker {
	return &Tracker{entries: make(map[string][]int)}
}

// Init sets n entries of taskID to 0, replacing any earlier state.
func (t *Tracker) Init(taskID string, n int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries[taskID] = make([]int, n)
}

// SetAll sets every entry of taskID to percent.
func (t *Tracker) SetAll(taskID string, percent int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range t.entries[taskID] {
		t.entries[taskID][i] = percent
	}
}

// Overall is the mean of the entries of taskID rounded to an integer.
// Unknown tasks and tasks without entries report 0.
func (t *Tracker) Overall(taskID string) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	entries := t.entries[taskID]
	if len(entries) == 0 {
		return 0
	}
	sum := 0
	for _, p := range entries {
		sum += p
	}
	return int(math.Round(float64(sum) / float64(len(entries))))
}

package agentrt

import (
	"sync"
	"time"
)

// Stats accumulates per-worker counters (spec.md §4.4 step 7).
type Stats struct {
	mu               sync.Mutex
	messagesReceived int
	tasksCompleted   int
	tasksFailed      int
	totalProcessing  time.Duration
}

// Snapshot is a point-in-time read of Stats' derived metrics.
type Snapshot struct {
	MessagesReceived int
	TasksCompleted   int
	TasksFailed      int
	TotalProcessing  time.Duration
	AvgProcessing    time.Duration
	SuccessRate      float64
}

func (s *Stats) recordReceived() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messagesReceived++
}

func (s *Stats) recordSuccess(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasksCompleted++
	s.totalProcessing += d
}

func (s *Stats) recordFailure(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasksFailed++
	s.totalProcessing += d
}

// Snapshot returns a consistent copy of the counters plus their derived
// averages.
func (s *Stats) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	total := s.tasksCompleted + s.tasksFailed
	snap := Snapshot{
		MessagesReceived: s.messagesReceived,
		TasksCompleted:   s.tasksCompleted,
		TasksFailed:      s.tasksFailed,
		TotalProcessing:  s.totalProcessing,
	}
	if total > 0 {
		snap.AvgProcessing = s.totalProcessing / time.Duration(total)
		snap.SuccessRate = float64(s.tasksCompleted) / float64(total)
	}
	return snap
}

package observability

import (
	"sync"
	"time"
)

// StatusSnapshot is a copy of the live agent status.
type StatusSnapshot struct {
	Phase     string
	Step      int
	Task      string
	UpdatedAt time.Time
}

type systemStatus struct {
	mu   sync.RWMutex
	snap StatusSnapshot
}

var globalStatus = &systemStatus{
	snap: StatusSnapshot{Phase: "idle", Step: -1, UpdatedAt: time.Now()},
}

// SetStatus updates the global status. step is -1 when no step is running.
func SetStatus(phase string, step int, task string) {
	globalStatus.mu.Lock()
	defer globalStatus.mu.Unlock()
	globalStatus.snap = StatusSnapshot{
		Phase:     phase,
		Step:      step,
		Task:      task,
		UpdatedAt: time.Now(),
	}
}

// GetStatus retrieves a copy of the global status.
func GetStatus() StatusSnapshot {
	globalStatus.mu.RLock()
	defer globalStatus.mu.RUnlock()
	return globalStatus.snap
}

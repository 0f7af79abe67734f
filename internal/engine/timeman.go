package engine

import "time"

// Limits bounds a search.
type Limits struct {
	MoveTime time.Duration // Wall-clock budget for this move
	Depth    int           // Maximum depth (0 = no limit)
	Infinite bool          // Ignore MoveTime and search until stopped or Depth is reached
}

// TimeManager tracks the deadline of a single search.
type TimeManager struct {
	budget    time.Duration
	startTime time.Time
	deadline  time.Time
	infinite  bool
}

// NewTimeManager creates a new time manager.
func NewTimeManager() *TimeManager {
	return &TimeManager{}
}

// Init starts the clock for a new search.
func (tm *TimeManager) Init(limits Limits) {
	tm.startTime = time.Now()
	tm.infinite = limits.Infinite
	tm.budget = max(limits.MoveTime, 0)
	tm.deadline = tm.startTime.Add(tm.budget)
}

// Deadline returns the instant the search must stop. The second result is
// false when the search has no deadline.
func (tm *TimeManager) Deadline() (time.Time, bool) {
	return tm.deadline, !tm.infinite
}

// Elapsed returns the time since the search started.
func (tm *TimeManager) Elapsed() time.Duration {
	return time.Since(tm.startTime)
}

// ShouldStop reports whether the deadline has passed.
func (tm *TimeManager) ShouldStop() bool {
	return !tm.infinite && !time.Now().Before(tm.deadline)
}

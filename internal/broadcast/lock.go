package broadcast

import (
	"sync"
)

// ScreenLock serializes state-changing operations per screen. A manual stop
// racing a scheduler-driven start for the same screen would otherwise flap
// state; operations on different screens proceed in parallel.
type ScreenLock struct {
	mu      sync.Mutex
	mutexes map[string]*screenMutex
}

type screenMutex struct {
	mu     sync.Mutex
	locked bool
}

// NewScreenLock creates a new ScreenLock.
func NewScreenLock() *ScreenLock {
	return &ScreenLock{
		mutexes: make(map[string]*screenMutex),
	}
}

// WithLock executes fn while holding the lock for a screen. Coordinator
// operations are short single-row writes, so acquisition blocks rather than
// timing out.
func (sl *ScreenLock) WithLock(screenID string, fn func() error) error {
	sm := sl.getOrCreate(screenID)

	sm.mu.Lock()
	sm.locked = true
	defer func() {
		sm.locked = false
		sm.mu.Unlock()
	}()

	return fn()
}

// IsLocked reports whether a screen currently has an operation in flight.
// Non-blocking; used for status introspection only.
func (sl *ScreenLock) IsLocked(screenID string) bool {
	sl.mu.Lock()
	sm, exists := sl.mutexes[screenID]
	sl.mu.Unlock()

	if !exists {
		return false
	}
	return sm.locked
}

func (sl *ScreenLock) getOrCreate(screenID string) *screenMutex {
	sl.mu.Lock()
	defer sl.mu.Unlock()

	sm, exists := sl.mutexes[screenID]
	if !exists {
		sm = &screenMutex{}
		sl.mutexes[screenID] = sm
	}
	return sm
}

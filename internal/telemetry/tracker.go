// Package telemetry times pipeline stages and keeps a per-project run history.
package telemetry

import (
	"sync"
	"time"
)

// Tracker records wall-clock milliseconds per named stage. A stage that runs
// more than once accumulates.
type Tracker struct {
	mu        sync.Mutex
	durations map[string]int64
	now       func() time.Time
}

func NewTracker() *Tracker {
	return &Tracker{durations: map[string]int64{}, now: time.Now}
}

// Track runs fn and records its duration whether or not it fails.
func (t *Tracker) Track(name string, fn func() error) error {
	start := t.now()
	err := fn()
	t.add(name, t.now().Sub(start))
	return err
}

// Stage is Track for stages that produce a value.
func Stage[T any](t *Tracker, name string, fn func() (T, error)) (T, error) {
	var out T
	err := t.Track(name, func() error {
		var err error
		out, err = fn()
		return err
	})
	return out, err
}

func (t *Tracker) add(name string, d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.durations[name] += d.Milliseconds()
}

// Durations returns a copy of the recorded stage durations.
func (t *Tracker) Durations() map[string]int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]int64, len(t.durations))
	for k, v := range t.durations {
		out[k] = v
	}
	return out
}

package tasks

import "sync"

// Tracker reports weighted hierarchical progress in [0, 1]. A tracker
// covers a slice of its parent's range: a child created while the parent
// stands at progress P with N remaining steps covers [P, P+scale/N), so
// finishing the child advances the overall figure exactly as far as
// finishing the parent step it replaces.
//
// Trackers are safe for concurrent use; the whole tree shares one report
// callback.
type Tracker struct {
	mu    sync.Mutex
	total int
	step  int
	base  float64
	scale float64

	onChange func(total float64)
}

// NewTracker creates a root tracker with the given number of steps
// covering the whole [0, 1] range.
func NewTracker(total int) *Tracker {
	if total < 1 {
		total = 1
	}
	return &Tracker{total: total, scale: 1}
}

// OnChange installs the report callback, invoked with the overall
// progress after every step. Children inherit it.
func (t *Tracker) OnChange(fn func(total float64)) *Tracker {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onChange = fn
	return t
}

// Child creates a sub-tracker covering the parent's next step: its base is
// the parent's overall progress at creation and its full range equals one
// parent step. The caller still advances the parent after the child
// completes.
func (t *Tracker) Child(total int) *Tracker {
	if total < 1 {
		total = 1
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return &Tracker{
		total:    total,
		base:     t.totalLocked(),
		scale:    t.scale / float64(t.total),
		onChange: t.onChange,
	}
}

// NextStep advances one step and reports the new overall progress.
// Advancing past the last step is a no-op.
func (t *Tracker) NextStep() {
	t.mu.Lock()
	if t.step < t.total {
		t.step++
	}
	total := t.totalLocked()
	fn := t.onChange
	t.mu.Unlock()

	if fn != nil {
		fn(total)
	}
}

// CurrentProgress returns the tracker's own completion in [0, 1].
func (t *Tracker) CurrentProgress() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return float64(t.step) / float64(t.total)
}

// TotalProgress returns the overall completion in [0, 1], including the
// contribution of ancestors completed before this tracker started.
func (t *Tracker) TotalProgress() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.totalLocked()
}

func (t *Tracker) totalLocked() float64 {
	return t.base + float64(t.step)/float64(t.total)*t.scale
}

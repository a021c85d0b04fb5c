// Package clock abstracts time for components that schedule work:
// the debounce commit timer and the health recovery sweep.
//
// Production code uses System. Tests drive a Manual clock so that
// debounce intervals and sweep periods elapse deterministically.
package clock

import (
	"sort"
	"sync"
	"time"
)

// Timer is a cancellable scheduled callback.
type Timer interface {
	// Stop cancels the timer. Returns false if it already fired or was stopped.
	Stop() bool
}

// Ticker delivers ticks on C until stopped.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// Clock provides the current time and scheduling primitives.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, fn func()) Timer
	NewTicker(d time.Duration) Ticker
}

// System is the real clock backed by the time package.
type System struct{}

func (System) Now() time.Time { return time.Now() }

func (System) AfterFunc(d time.Duration, fn func()) Timer {
	return systemTimer{time.AfterFunc(d, fn)}
}

func (System) NewTicker(d time.Duration) Ticker {
	return &systemTicker{time.NewTicker(d)}
}

type systemTimer struct{ t *time.Timer }

func (s systemTimer) Stop() bool { return s.t.Stop() }

type systemTicker struct{ t *time.Ticker }

func (s *systemTicker) C() <-chan time.Time { return s.t.C }
func (s *systemTicker) Stop()               { s.t.Stop() }

// Manual is a test clock advanced explicitly with Advance.
// Timers and tickers fire synchronously during Advance, in deadline order.
type Manual struct {
	mu      sync.Mutex
	now     time.Time
	timers  []*manualTimer
	tickers []*manualTicker
}

// NewManual creates a Manual clock starting at the given time.
func NewManual(start time.Time) *Manual {
	return &Manual{now: start}
}

func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

func (m *Manual) AfterFunc(d time.Duration, fn func()) Timer {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := &manualTimer{clock: m, at: m.now.Add(d), fn: fn}
	m.timers = append(m.timers, t)
	return t
}

func (m *Manual) NewTicker(d time.Duration) Ticker {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := &manualTicker{clock: m, period: d, next: m.now.Add(d), ch: make(chan time.Time, 64)}
	m.tickers = append(m.tickers, t)
	return t
}

// Advance moves the clock forward, firing due timers and tickers.
// Callbacks run on the calling goroutine without the clock lock held,
// so they may schedule new timers.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	target := m.now.Add(d)
	m.mu.Unlock()

	for {
		fn := m.nextDue(target)
		if fn == nil {
			break
		}
		fn()
	}

	m.mu.Lock()
	m.now = target
	m.mu.Unlock()
}

// nextDue advances to the earliest pending deadline at or before target and
// returns the callback to run, or nil when nothing is due.
func (m *Manual) nextDue(target time.Time) func() {
	m.mu.Lock()
	defer m.mu.Unlock()

	type due struct {
		at    time.Time
		timer *manualTimer
		tick  *manualTicker
	}
	var candidates []due

	for _, t := range m.timers {
		if !t.stopped && !t.fired && !t.at.After(target) {
			candidates = append(candidates, due{at: t.at, timer: t})
		}
	}
	for _, tk := range m.tickers {
		if !tk.stopped && !tk.next.After(target) {
			candidates = append(candidates, due{at: tk.next, tick: tk})
		}
	}
	if len(candidates) == 0 {
		return nil
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].at.Before(candidates[j].at) })
	earliest := candidates[0]
	if earliest.at.After(m.now) {
		m.now = earliest.at
	}

	if earliest.timer != nil {
		earliest.timer.fired = true
		return earliest.timer.fn
	}
	tk := earliest.tick
	at := tk.next
	tk.next = at.Add(tk.period)
	ch := tk.ch
	return func() {
		select {
		case ch <- at:
		default:
		}
	}
}

type manualTimer struct {
	clock   *Manual
	at      time.Time
	fn      func()
	fired   bool
	stopped bool
}

func (t *manualTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.fired || t.stopped {
		return false
	}
	t.stopped = true
	return true
}

type manualTicker struct {
	clock   *Manual
	period  time.Duration
	next    time.Time
	ch      chan time.Time
	stopped bool
}

func (t *manualTicker) C() <-chan time.Time { return t.ch }

func (t *manualTicker) Stop() {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	t.stopped = true
}

// Package health tracks the runtime health of the fetch path and decides
// when tag filtering should degrade from server-side to client-side.
//
// The Monitor is a continuously-running estimator, not a finite-state
// machine: it has no terminal state and lives for the session. Counters are
// identity-agnostic by design; outcomes from different concurrent queries
// all feed the same global record.
package health

import (
	"sync"
	"time"

	"github.com/zapidan/newsletter-hub-sub001/internal/clock"
	"github.com/zapidan/newsletter-hub-sub001/internal/otel"
)

const (
	// responseWindow is the rolling-buffer capacity for successful
	// response times.
	responseWindow = 10

	// fallbackFailureThreshold trips fallback outright.
	fallbackFailureThreshold = 3

	// slowResponseMs trips fallback when combined with a heavy tag filter.
	slowResponseMs = 5000
	slowTagCount   = 2

	// recentFailureWindow trips fallback when more than one failure
	// happened this recently.
	recentFailureWindow = 30 * time.Second

	// healthyMaxFailures / healthyMaxAvgMs bound the healthy state.
	healthyMaxFailures = 2
	healthyMaxAvgMs    = 3000

	// sweepInterval is how often the recovery sweep checks for decay;
	// sweepCooldown is how long after the last failure a decrement is earned.
	sweepInterval = 30 * time.Second
	sweepCooldown = 60 * time.Second
)

// Record is a snapshot of the health state. Derived fields are pure
// functions of the counters.
type Record struct {
	FailureCount      int
	LastFailureTime   time.Time // zero when no failure has occurred
	AvgResponseTime   float64   // ms, arithmetic mean over the rolling window
	IsHealthy         bool
	ShouldUseFallback bool
}

// Monitor owns the health record. Construct one per session and share it
// between the pager (writer) and derivation (reader).
type Monitor struct {
	mu          sync.Mutex
	clk         clock.Clock
	log         *otel.Logger
	failures    int
	lastFailure time.Time

	// rolling buffer of the last responseWindow successful response times
	rtts    [responseWindow]float64
	rttLen  int
	rttHead int

	tagCount   int  // committed tag count, set by the pager on derivation
	forceLocal bool // explicit user/config opt-in

	sweepStop chan struct{} // non-nil while the recovery sweep is armed
	wg        sync.WaitGroup
}

// NewMonitor creates a Monitor with healthy defaults.
func NewMonitor(clk clock.Clock, logger *otel.Logger) *Monitor {
	if clk == nil {
		clk = clock.System{}
	}
	if logger == nil {
		logger = otel.NewNullLogger()
	}
	return &Monitor{clk: clk, log: logger}
}

// ReportOutcome records one fetch attempt. On success the response time
// enters the rolling window and a pending failure is forgiven; on failure
// the failure counter and timestamp advance. The recovery sweep is armed or
// disarmed according to the resulting health.
func (m *Monitor) ReportOutcome(success bool, responseTimeMs float64) {
	m.mu.Lock()
	wasFallback := m.shouldUseFallbackLocked()

	if success {
		m.rtts[m.rttHead] = responseTimeMs
		m.rttHead = (m.rttHead + 1) % responseWindow
		if m.rttLen < responseWindow {
			m.rttLen++
		}
		if m.failures > 0 {
			m.failures--
		}
	} else {
		m.failures++
		m.lastFailure = m.clk.Now()
	}

	nowFallback := m.shouldUseFallbackLocked()
	healthy := m.isHealthyLocked()
	m.mu.Unlock()

	m.log.Emit(otel.Event{
		Kind:  otel.KindHealthOutcome,
		Level: levelFor(success),
		Comp:  "health",
		Dur:   time.Duration(responseTimeMs * float64(time.Millisecond)),
		Msg:   outcomeMsg(success),
	})
	if nowFallback && !wasFallback {
		m.log.Emit(otel.Event{Kind: otel.KindHealthFallback, Level: otel.LevelWarn, Comp: "health", Msg: "client-side tag filtering engaged"})
	}
	if !nowFallback && wasFallback {
		m.log.Emit(otel.Event{Kind: otel.KindHealthRecover, Comp: "health", Msg: "server-side tag filtering restored"})
	}

	if healthy {
		m.disarmSweep()
	} else {
		m.armSweep()
	}
}

// SetTagCount updates the committed tag count used by the slow-response
// fallback rule. Called by the pager whenever the query is re-derived.
func (m *Monitor) SetTagCount(n int) {
	m.mu.Lock()
	m.tagCount = n
	m.mu.Unlock()
}

// SetLocalFiltering sets the explicit opt-in that forces fallback mode
// regardless of measured health.
func (m *Monitor) SetLocalFiltering(on bool) {
	m.mu.Lock()
	m.forceLocal = on
	m.mu.Unlock()
}

// Snapshot returns the current health record.
func (m *Monitor) Snapshot() Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Record{
		FailureCount:      m.failures,
		LastFailureTime:   m.lastFailure,
		AvgResponseTime:   m.avgLocked(),
		IsHealthy:         m.isHealthyLocked(),
		ShouldUseFallback: m.shouldUseFallbackLocked(),
	}
}

// EffectiveFallback reports whether tag filtering must run client-side:
// the user opt-in always wins, otherwise the measured health decides.
func (m *Monitor) EffectiveFallback() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.forceLocal || m.shouldUseFallbackLocked()
}

// Close stops the recovery sweep if armed.
func (m *Monitor) Close() {
	m.disarmSweep()
	m.wg.Wait()
}

func (m *Monitor) avgLocked() float64 {
	if m.rttLen == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < m.rttLen; i++ {
		sum += m.rtts[i]
	}
	return sum / float64(m.rttLen)
}

func (m *Monitor) shouldUseFallbackLocked() bool {
	if m.failures >= fallbackFailureThreshold {
		return true
	}
	if m.avgLocked() > slowResponseMs && m.tagCount > slowTagCount {
		return true
	}
	if m.failures > 1 && !m.lastFailure.IsZero() &&
		m.clk.Now().Sub(m.lastFailure) < recentFailureWindow {
		return true
	}
	return false
}

func (m *Monitor) isHealthyLocked() bool {
	return m.failures < healthyMaxFailures && m.avgLocked() < healthyMaxAvgMs
}

// armSweep starts the periodic recovery sweep if not already running.
// The sweep decrements the failure counter once per interval when the last
// failure is old enough, and disarms itself when health is restored.
func (m *Monitor) armSweep() {
	m.mu.Lock()
	if m.sweepStop != nil {
		m.mu.Unlock()
		return
	}
	stop := make(chan struct{})
	m.sweepStop = stop
	m.mu.Unlock()

	ticker := m.clk.NewTicker(sweepInterval)
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C():
				if m.sweepOnce() {
					return
				}
			}
		}
	}()
}

// sweepOnce runs one recovery check. Returns true when the sweep should
// stop because health has been restored.
func (m *Monitor) sweepOnce() bool {
	m.mu.Lock()
	if !m.lastFailure.IsZero() && m.failures > 0 &&
		m.clk.Now().Sub(m.lastFailure) > sweepCooldown {
		m.failures--
		m.log.Emit(otel.Event{Kind: otel.KindHealthSweep, Comp: "health", Count: m.failures})
	}
	healthy := m.isHealthyLocked()
	if healthy {
		// Disarm from inside: clear the stop channel so a later
		// degradation re-arms a fresh sweep.
		m.sweepStop = nil
	}
	m.mu.Unlock()
	return healthy
}

// disarmSweep cancels the sweep goroutine if armed.
func (m *Monitor) disarmSweep() {
	m.mu.Lock()
	stop := m.sweepStop
	m.sweepStop = nil
	m.mu.Unlock()
	if stop != nil {
		close(stop)
	}
}

func levelFor(success bool) otel.Level {
	if success {
		return otel.LevelInfo
	}
	return otel.LevelWarn
}

func outcomeMsg(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}

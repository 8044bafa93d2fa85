// Package admission implements the priority-queue admission gate that
// enforces a tunable concurrency limit while honoring emergency bypass
// and the "never shrink below active work" invariant (spec.md §4.8).
package admission

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/threadctl/threadctl/internal/log"
	"github.com/threadctl/threadctl/internal/metrics"
)

// maxGoroutines is a structural backstop on the number of operation
// goroutines the manager will ever have in flight, independent of the
// tunable business limit. It exists to bound worst-case resource usage if
// a caller runs with an unbounded maxThreads autotune; the day-to-day
// admission policy below is the real gate.
const maxGoroutines = 4096

// defaultMaxHistorySize mirrors spec.md §4.8's default of 100.
const defaultMaxHistorySize = 100

// ScalingUpdateFunc is invoked whenever the effective limit changes,
// excluding transient emergency-bypass raises (spec.md §4.8).
type ScalingUpdateFunc func(newLimit, oldLimit int)

// Config configures a Manager.
type Config struct {
	InitialLimit   int
	MaxHistorySize int
	OnScalingUpdate ScalingUpdateFunc
}

// Manager is the admission gate: a priority queue plus active-request
// bookkeeping, serialized by a single mutex per spec.md §5's concurrency
// model.
type Manager struct {
	mu sync.Mutex

	limit                 int
	desiredLimit          *int
	emergencyBypassActive bool
	isDispatching         bool

	queue   []*Request
	active  map[string]*Request
	history []*Request

	maxHistorySize int
	seq            uint64

	onScalingUpdate ScalingUpdateFunc
	goroutineGate   *semaphore.Weighted
	logger          zerolog.Logger

	closed bool
}

// New constructs a Manager with the given initial limit.
func New(cfg Config) *Manager {
	limit := cfg.InitialLimit
	if limit < 1 {
		limit = 1
	}
	maxHist := cfg.MaxHistorySize
	if maxHist <= 0 {
		maxHist = defaultMaxHistorySize
	}
	m := &Manager{
		limit:           limit,
		active:          make(map[string]*Request),
		maxHistorySize:  maxHist,
		onScalingUpdate: cfg.OnScalingUpdate,
		goroutineGate:   semaphore.NewWeighted(maxGoroutines),
		logger:          log.WithComponent("admission"),
	}
	metrics.ConcurrencyLimit.Set(float64(limit))
	return m
}

// Submit is the type-erased entry point used internally; Submit[T] (in
// submit.go) is the ergonomic generic wrapper callers should use.
func (m *Manager) submit(op Operation, opts SubmitOptions) (*Future, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrShuttingDown
	}

	opType := opts.OperationType
	if opType == "" {
		opType = "default"
	}

	m.seq++
	req := &Request{
		ID:            uuid.NewString(),
		op:            op,
		priority:      opts.Priority,
		emergency:     opts.Emergency,
		timeoutMs:     opts.TimeoutMs,
		cancelToken:   opts.CancelToken,
		operationType: opType,
		state:         StateQueued,
		queuedAt:      time.Now(),
		future:        newFuture(),
		seq:           m.seq,
	}
	m.insertQueued(req)
	m.updateQueueGauges()
	m.mu.Unlock()

	m.watchQueuedCancellation(req)
	m.dispatch()
	return req.future, nil
}

// insertQueued inserts req into the priority queue, maintaining
// emergency-first, then higher-priority-first, then FIFO ordering.
// Caller must hold m.mu.
func (m *Manager) insertQueued(req *Request) {
	idx := len(m.queue)
	for i, q := range m.queue {
		if less(req, q) {
			idx = i
			break
		}
	}
	m.queue = append(m.queue, nil)
	copy(m.queue[idx+1:], m.queue[idx:])
	m.queue[idx] = req
}

// less reports whether a should be dispatched before b.
func less(a, b *Request) bool {
	if a.emergency != b.emergency {
		return a.emergency
	}
	if a.priority != b.priority {
		return a.priority > b.priority
	}
	return a.seq < b.seq
}

// watchQueuedCancellation fails a request immediately if its timeout or
// cancel token fires while it is still queued, without ever starting it.
func (m *Manager) watchQueuedCancellation(req *Request) {
	var timeoutCh <-chan time.Time
	if req.timeoutMs > 0 {
		timer := time.NewTimer(time.Duration(req.timeoutMs) * time.Millisecond)
		timeoutCh = timer.C
		go func() {
			defer timer.Stop()
			var cancelCh <-chan struct{}
			if req.cancelToken != nil {
				cancelCh = req.cancelToken.Done()
			}
			select {
			case <-req.future.done:
				return
			case <-timeoutCh:
				m.failIfQueued(req, ErrRequestTimeout, "timeout")
			case <-cancelCh:
				m.failIfQueued(req, ErrRequestCanceled, "canceled")
			}
		}()
		return
	}
	if req.cancelToken != nil {
		go func() {
			select {
			case <-req.future.done:
				return
			case <-req.cancelToken.Done():
				m.failIfQueued(req, ErrRequestCanceled, "canceled")
			}
		}()
	}
}

func (m *Manager) failIfQueued(req *Request, err error, outcome string) {
	m.mu.Lock()
	if req.state != StateQueued {
		m.mu.Unlock()
		return
	}
	m.removeFromQueue(req)
	req.state = StateFailed
	req.err = err
	req.endedAt = time.Now()
	m.pushHistory(req)
	m.updateQueueGauges()
	m.mu.Unlock()

	metrics.RequestsTotal.WithLabelValues(outcome).Inc()
	req.future.settle(nil, err)
}

func (m *Manager) removeFromQueue(req *Request) {
	for i, q := range m.queue {
		if q == req {
			m.queue = append(m.queue[:i], m.queue[i+1:]...)
			return
		}
	}
}

// dispatch drains the queue while active < effective limit, honoring the
// emergency-bypass allowance (spec.md §4.8). Re-entrancy guarded.
func (m *Manager) dispatch() {
	m.mu.Lock()
	if m.isDispatching {
		m.mu.Unlock()
		return
	}
	m.isDispatching = true
	defer func() {
		m.mu.Lock()
		m.isDispatching = false
		m.mu.Unlock()
	}()

	for {
		if len(m.queue) == 0 {
			m.mu.Unlock()
			return
		}

		effectiveLimit := m.limit
		var bypassed *Request
		if len(m.active) >= effectiveLimit {
			// Emergency bypass exceeds the current limit by exactly one
			// (spec.md §4.8 and glossary: "permits exceeding the current
			// limit by one").
			if idx := m.findEmergencyCandidate(); idx >= 0 {
				bypassed = m.queue[idx]
				effectiveLimit = m.limit + 1
			}
		}
		if len(m.active) >= effectiveLimit {
			m.mu.Unlock()
			return
		}

		var next *Request
		if bypassed != nil {
			next = bypassed
			m.removeFromQueue(next)
			m.emergencyBypassActive = true
			metrics.EmergencyBypassTotal.Inc()
		} else {
			next = m.queue[0]
			m.queue = m.queue[1:]
		}

		next.state = StateActive
		next.startedAt = time.Now()
		m.active[next.ID] = next
		m.updateQueueGauges()
		metrics.QueueWaitSeconds.Observe(next.startedAt.Sub(next.queuedAt).Seconds())
		m.mu.Unlock()

		m.run(next)

		m.mu.Lock()
	}
}

// findEmergencyCandidate returns the queue index of the first emergency
// request, capping the transient raise at limit+1 (spec.md §4.8: "capped
// at 2" in the original source maps here to "+1 over the current limit").
// Caller must hold m.mu.
func (m *Manager) findEmergencyCandidate() int {
	for i, q := range m.queue {
		if q.emergency {
			return i
		}
	}
	return -1
}

// run executes a request's operation with a timeout/cancel race, settling
// the first of {success, timeout, cancel, failure} to occur.
func (m *Manager) run(req *Request) {
	if !m.goroutineGate.TryAcquire(1) {
		// Structural backstop exhausted: fail fast rather than block the
		// dispatch loop indefinitely.
		m.terminal(req, nil, ErrShuttingDown, "failed")
		return
	}

	ctx, cancel := context.WithCancel(context.Background())

	var cancelCh <-chan struct{}
	if req.cancelToken != nil {
		cancelCh = req.cancelToken.Done()
	}

	resultCh := make(chan struct {
		val any
		err error
	}, 1)
	go func() {
		defer m.goroutineGate.Release(1)
		val, err := req.op(ctx)
		resultCh <- struct {
			val any
			err error
		}{val, err}
	}()

	go func() {
		var timeoutCh <-chan time.Time
		if req.timeoutMs > 0 {
			timer := time.NewTimer(time.Duration(req.timeoutMs) * time.Millisecond)
			defer timer.Stop()
			timeoutCh = timer.C
		}

		select {
		case r := <-resultCh:
			cancel()
			if r.err != nil {
				m.terminal(req, nil, r.err, "failed")
			} else {
				m.terminal(req, r.val, nil, "completed")
			}
		case <-timeoutCh:
			cancel()
			m.terminal(req, nil, ErrRequestTimeout, "timeout")
		case <-cancelCh:
			cancel()
			m.terminal(req, nil, ErrRequestCanceled, "canceled")
		}
	}()
}

// terminal moves an active request to its terminal state and performs the
// bookkeeping spec.md §4.8 requires: decrement active, clear the bypass
// flag if this was the last active emergency, apply a deferred downscale,
// and kick the dispatch loop again.
func (m *Manager) terminal(req *Request, result any, err error, outcome string) {
	m.mu.Lock()
	if req.state != StateActive {
		m.mu.Unlock()
		return
	}
	delete(m.active, req.ID)
	req.endedAt = time.Now()
	req.result = result
	req.err = err
	if err != nil {
		switch err {
		case ErrRequestTimeout, ErrRequestCanceled:
			req.state = StateFailed
		default:
			req.state = StateFailed
		}
	} else {
		req.state = StateCompleted
	}
	m.pushHistory(req)

	if m.emergencyBypassActive && !m.anyActiveEmergency() {
		m.emergencyBypassActive = false
	}

	applied := false
	oldLimit, newLimit := m.limit, m.limit
	if m.desiredLimit != nil && len(m.active) <= *m.desiredLimit {
		oldLimit = m.limit
		m.limit = *m.desiredLimit
		m.desiredLimit = nil
		newLimit = m.limit
		applied = oldLimit != newLimit
	}
	m.updateQueueGauges()
	onUpdate := m.onScalingUpdate
	m.mu.Unlock()

	metrics.RequestsTotal.WithLabelValues(outcome).Inc()
	req.future.settle(result, err)

	if applied && onUpdate != nil {
		onUpdate(newLimit, oldLimit)
	}
	m.dispatch()
}

func (m *Manager) anyActiveEmergency() bool {
	for _, r := range m.active {
		if r.emergency {
			return true
		}
	}
	return false
}

func (m *Manager) pushHistory(req *Request) {
	m.history = append(m.history, req)
	if over := len(m.history) - m.maxHistorySize; over > 0 {
		m.history = m.history[over:]
	}
}

func (m *Manager) updateQueueGauges() {
	var emergencyCount, normalCount float64
	for _, q := range m.queue {
		if q.emergency {
			emergencyCount++
		} else {
			normalCount++
		}
	}
	metrics.QueueSize.WithLabelValues("true").Set(emergencyCount)
	metrics.QueueSize.WithLabelValues("false").Set(normalCount)
	metrics.ActiveRequests.Set(float64(len(m.active)))
	metrics.ConcurrencyLimit.Set(float64(m.limit))
}

// UpdateLimit applies a new recommended concurrency limit, deferring the
// shrink below active work and accounting for a live emergency bypass
// (spec.md §4.8).
func (m *Manager) UpdateLimit(n int) {
	if math.IsNaN(float64(n)) || n < 1 {
		m.logger.Warn().Int("requested", n).Msg("illegal concurrency limit, coercing to 1")
		n = 1
	}

	m.mu.Lock()
	if m.emergencyBypassActive {
		queuedEmergencies, activeEmergencies := m.countEmergencies()
		floor := queuedEmergencies + activeEmergencies
		if floor > 2 {
			floor = 2
		}
		if floor < 1 {
			floor = 1
		}
		if n < floor {
			n = floor
		}
	}

	old := m.limit
	activeCount := len(m.active)
	var changed bool
	if n < activeCount {
		m.desiredLimit = &n
		if m.limit != activeCount {
			m.limit = activeCount
			changed = m.limit != old
		}
	} else {
		m.desiredLimit = nil
		if n != m.limit {
			m.limit = n
			changed = true
		}
	}
	newLimit := m.limit
	onUpdate := m.onScalingUpdate
	m.updateQueueGauges()
	m.mu.Unlock()

	if changed {
		if onUpdate != nil {
			onUpdate(newLimit, old)
		}
		if newLimit > old {
			m.dispatch()
		}
	}
}

func (m *Manager) countEmergencies() (queued, active int) {
	for _, q := range m.queue {
		if q.emergency {
			queued++
		}
	}
	for _, r := range m.active {
		if r.emergency {
			active++
		}
	}
	return
}

// QueueStats summarizes current queue/active state.
type QueueStats struct {
	QueueLength    int
	ActiveRequests int
	Limit          int
	DesiredLimit   *int
	EmergencyQueued int
	EmergencyActive int
}

// QueueStats returns a snapshot of the manager's current state.
func (m *Manager) QueueStats() QueueStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	eq, ea := m.countEmergencies()
	var desired *int
	if m.desiredLimit != nil {
		d := *m.desiredLimit
		desired = &d
	}
	return QueueStats{
		QueueLength:     len(m.queue),
		ActiveRequests:  len(m.active),
		Limit:           m.limit,
		DesiredLimit:    desired,
		EmergencyQueued: eq,
		EmergencyActive: ea,
	}
}

// RecentPerformance reports the throughput (completions/sec) and mean
// latency (ms) of requests that completed within the last window,
// drawn from the bounded completed-request history (spec.md §4.6 feeds
// PerformanceByThreadCount from exactly this kind of measurement). ok is
// false when no request completed within the window.
func (m *Manager) RecentPerformance(window time.Duration) (throughputPerSec, avgLatencyMs float64, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := time.Now().Add(-window)
	var n int
	var sumLatencyMs float64
	for _, r := range m.history {
		if r.state != StateCompleted || r.endedAt.Before(cutoff) {
			continue
		}
		n++
		sumLatencyMs += float64(r.endedAt.Sub(r.startedAt).Milliseconds())
	}
	if n == 0 {
		return 0, 0, false
	}
	return float64(n) / window.Seconds(), sumLatencyMs / float64(n), true
}

// CompletedRequest is one completed request's operation type and wall
// duration, as reported by CompletedSince.
type CompletedRequest struct {
	OperationType string
	DurationMs    float64
}

// CompletedSince returns every completed request that finished at or
// after cutoff, drawn from the same bounded history ring RecentPerformance
// reads (spec.md §6's operation_profiles relation). A request that left
// the bounded history before the caller's next scan is silently missed,
// same as RecentPerformance's windowed average.
func (m *Manager) CompletedSince(cutoff time.Time) []CompletedRequest {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []CompletedRequest
	for _, r := range m.history {
		if r.state != StateCompleted || r.endedAt.Before(cutoff) {
			continue
		}
		out = append(out, CompletedRequest{
			OperationType: r.operationType,
			DurationMs:    float64(r.endedAt.Sub(r.startedAt).Milliseconds()),
		})
	}
	return out
}

// OperationMixSnapshot returns the proportion of queued-plus-active
// requests by OperationType, for the TrendAnalyzer's operationMixDiff
// (spec.md §4.3). Returns nil when there is no work in flight.
func (m *Manager) OperationMixSnapshot() map[string]float64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	counts := make(map[string]int)
	total := 0
	for _, r := range m.queue {
		counts[r.operationType]++
		total++
	}
	for _, r := range m.active {
		counts[r.operationType]++
		total++
	}
	if total == 0 {
		return nil
	}

	mix := make(map[string]float64, len(counts))
	for t, c := range counts {
		mix[t] = float64(c) / float64(total)
	}
	return mix
}

// State returns snapshots of every request still tracked: active requests
// first, in no defined order, then the bounded history oldest-to-newest.
// Queued requests are not included.
func (m *Manager) State() []Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Snapshot, 0, len(m.active)+len(m.history))
	for _, r := range m.active {
		out = append(out, r.snapshot())
	}
	for _, r := range m.history {
		out = append(out, r.snapshot())
	}
	return out
}

// findRequest searches both the queue and the bounded history for a
// request, resolving spec.md §9's open question in favor of the broader
// search: completion of a queued-then-canceled request is never a no-op.
func (m *Manager) findRequest(id string) *Request {
	if r, ok := m.active[id]; ok {
		return r
	}
	for _, q := range m.queue {
		if q.ID == id {
			return q
		}
	}
	for _, h := range m.history {
		if h.ID == id {
			return h
		}
	}
	return nil
}

// FindRequest looks up a request's snapshot by ID across the queue,
// active set, and bounded history.
func (m *Manager) FindRequest(id string) (Snapshot, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.findRequest(id)
	if r == nil {
		return Snapshot{}, false
	}
	return r.snapshot(), true
}

// Shutdown marks the manager closed; new submissions are rejected. It does
// not cancel in-flight requests — callers still await their futures.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
}

package chain

import (
	"sync"
	"time"
)

// Circuit-breaker tuning, unchanged from the endpoint health tracker this
// package's failover logic is modeled on: three consecutive failures open
// the circuit, two consecutive successes close it, and an open circuit
// stays closed to traffic for a fixed cool-down window.
const (
	failureThreshold  = 3
	successThreshold  = 2
	circuitOpenWindow = 30 * time.Second
)

type endpointHealth struct {
	mu sync.Mutex

	totalCalls      int64
	successfulCalls int64
	failedCalls     int64

	consecutiveFailures  int
	consecutiveSuccesses int

	avgLatencyMs int64

	lastSuccess time.Time
	lastFailure time.Time

	circuitOpenedAt time.Time
	circuitOpen     bool
}

// simpleHealthTracker is a circuit-breaker HealthTracker, one endpointHealth
// per endpoint, created lazily on first use.
type simpleHealthTracker struct {
	mu      sync.RWMutex
	byEndpoint map[string]*endpointHealth
}

func NewHealthTracker() HealthTracker {
	return &simpleHealthTracker{byEndpoint: make(map[string]*endpointHealth)}
}

func (t *simpleHealthTracker) getOrCreate(endpoint string) *endpointHealth {
	t.mu.RLock()
	h, ok := t.byEndpoint[endpoint]
	t.mu.RUnlock()
	if ok {
		return h
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if h, ok := t.byEndpoint[endpoint]; ok {
		return h
	}
	h = &endpointHealth{}
	t.byEndpoint[endpoint] = h
	return h
}

func (t *simpleHealthTracker) RecordSuccess(endpoint string, latencyMs int64) {
	h := t.getOrCreate(endpoint)
	h.mu.Lock()
	defer h.mu.Unlock()

	h.totalCalls++
	h.successfulCalls++
	h.lastSuccess = time.Now()
	h.consecutiveFailures = 0
	h.consecutiveSuccesses++

	if h.avgLatencyMs == 0 {
		h.avgLatencyMs = latencyMs
	} else {
		h.avgLatencyMs = (h.avgLatencyMs + latencyMs) / 2
	}

	if h.circuitOpen && h.consecutiveSuccesses >= successThreshold {
		h.circuitOpen = false
	}
}

func (t *simpleHealthTracker) RecordFailure(endpoint string, _ error) {
	h := t.getOrCreate(endpoint)
	h.mu.Lock()
	defer h.mu.Unlock()

	h.totalCalls++
	h.failedCalls++
	h.lastFailure = time.Now()
	h.consecutiveSuccesses = 0
	h.consecutiveFailures++

	if h.consecutiveFailures >= failureThreshold && !h.circuitOpen {
		h.circuitOpen = true
		h.circuitOpenedAt = time.Now()
	}
}

func (t *simpleHealthTracker) IsHealthy(endpoint string) bool {
	h := t.getOrCreate(endpoint)
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.circuitOpen {
		return true
	}
	if time.Since(h.circuitOpenedAt) >= circuitOpenWindow {
		// half-open: let traffic back in so RecordSuccess can close the circuit.
		return true
	}
	return false
}

func (t *simpleHealthTracker) GetBestEndpoint(endpoints []string) string {
	best := ""
	bestScore := -1.0
	for _, e := range endpoints {
		h := t.getOrCreate(e)
		h.mu.Lock()
		score := score(h)
		h.mu.Unlock()
		if score > bestScore {
			bestScore = score
			best = e
		}
	}
	return best
}

func score(h *endpointHealth) float64 {
	if h.totalCalls == 0 {
		return 0.5
	}
	successRate := float64(h.successfulCalls) / float64(h.totalCalls)
	latencyFactor := 1.0
	if h.avgLatencyMs > 0 {
		latencyFactor = 1.0 / (1.0 + float64(h.avgLatencyMs)/1000.0)
	}
	return successRate*0.7 + latencyFactor*0.3
}

func (t *simpleHealthTracker) Reset(endpoint string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.byEndpoint, endpoint)
}

var _ HealthTracker = (*simpleHealthTracker)(nil)

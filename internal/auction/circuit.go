package auction

import (
	"sort"
	"sync"
	"time"
)

// CircuitState is the state of one adapter's circuit.
type CircuitState string

const (
	CircuitClosed   CircuitState = "closed"
	CircuitOpen     CircuitState = "open"
	CircuitHalfOpen CircuitState = "half_open"
)

// CircuitBreaker stops calling adapters that keep failing. Each adapter opens
// after maxFailures consecutive errors and is retried once resetTimeout has
// passed since its last failure. A success closes the circuit again.
//
//	breaker := NewCircuitBreaker(5, 30*time.Second)
//	if !breaker.Allow("applovin") {
//	    // treat the adapter as unavailable for this auction
//	}
type CircuitBreaker struct {
	mu           sync.Mutex
	circuits     map[string]*circuit
	maxFailures  int
	resetTimeout time.Duration
	now          func() time.Time
}

type circuit struct {
	state       CircuitState
	failures    int
	lastFailure time.Time
}

// CircuitStatus describes one adapter's circuit.
type CircuitStatus struct {
	AdapterID   string       `json:"adapter_id"`
	State       CircuitState `json:"state"`
	Failures    int          `json:"failures"`
	LastFailure *time.Time   `json:"last_failure,omitempty"`
}

// NewCircuitBreaker returns a breaker. maxFailures below one is treated as one.
func NewCircuitBreaker(maxFailures int, resetTimeout time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		circuits:     make(map[string]*circuit),
		maxFailures:  max(maxFailures, 1),
		resetTimeout: resetTimeout,
		now:          time.Now,
	}
}

// Allow reports whether adapterID may be called. An open circuit whose reset
// timeout has elapsed moves to half-open and admits the call. A nil breaker
// allows everything.
func (b *CircuitBreaker) Allow(adapterID string) bool {
	if b == nil {
		return true
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	c, ok := b.circuits[adapterID]
	if !ok || c.state != CircuitOpen {
		return true
	}
	if b.now().Sub(c.lastFailure) > b.resetTimeout {
		c.state = CircuitHalfOpen
		return true
	}
	return false
}

// Record feeds the result of a call back into adapterID's circuit.
func (b *CircuitBreaker) Record(adapterID string, failed bool) {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	c, ok := b.circuits[adapterID]
	if !ok {
		if !failed {
			return
		}
		c = &circuit{state: CircuitClosed}
		b.circuits[adapterID] = c
	}
	if !failed {
		c.state = CircuitClosed
		c.failures = 0
		return
	}
	c.failures++
	c.lastFailure = b.now()
	if c.state == CircuitHalfOpen || c.failures >= b.maxFailures {
		c.state = CircuitOpen
	}
}

// State returns the current state of adapterID's circuit.
func (b *CircuitBreaker) State(adapterID string) CircuitState {
	if b == nil {
		return CircuitClosed
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if c, ok := b.circuits[adapterID]; ok {
		return c.state
	}
	return CircuitClosed
}

// Reset closes adapterID's circuit and clears its failure count.
func (b *CircuitBreaker) Reset(adapterID string) {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.circuits, adapterID)
}

// Snapshot returns every adapter that has failed at least once since its last
// reset, sorted by adapter ID.
func (b *CircuitBreaker) Snapshot() []CircuitStatus {
	if b == nil {
		return []CircuitStatus{}
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]CircuitStatus, 0, len(b.circuits))
	for id, c := range b.circuits {
		st := CircuitStatus{AdapterID: id, State: c.state, Failures: c.failures}
		if !c.lastFailure.IsZero() {
			last := c.lastFailure
			st.LastFailure = &last
		}
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AdapterID < out[j].AdapterID })
	return out
}

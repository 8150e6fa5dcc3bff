package auction

import (
	"sync"
	"time"
)

// DebugEvent is one adapter call as seen by the mediation debugger.
type DebugEvent struct {
	RequestID string    `json:"request_id"`
	AdapterID string    `json:"adapter_id"`
	Outcome   string    `json:"outcome"`
	Reason    string    `json:"reason,omitempty"`
	LatencyMS float64   `json:"latency_ms"`
	Hedged    bool      `json:"hedged,omitempty"`
	TraceID   string    `json:"trace_id,omitempty"`
	SpanID    string    `json:"span_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Debugger keeps the most recent adapter calls per adapter in fixed-size
// rings. A nil Debugger discards everything.
type Debugger struct {
	mu       sync.Mutex
	capacity int
	rings    map[string]*ring
}

type ring struct {
	events []DebugEvent
	next   int
	full   bool
}

// NewDebugger returns a Debugger holding up to capacity events per adapter.
// A non-positive capacity defaults to 100.
func NewDebugger(capacity int) *Debugger {
	if capacity <= 0 {
		capacity = 100
	}
	return &Debugger{capacity: capacity, rings: make(map[string]*ring)}
}

// Capture stores ev, evicting the oldest event of the adapter when its ring is full.
func (d *Debugger) Capture(ev DebugEvent) {
	if d == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	r, ok := d.rings[ev.AdapterID]
	if !ok {
		r = &ring{events: make([]DebugEvent, d.capacity)}
		d.rings[ev.AdapterID] = r
	}
	r.events[r.next] = ev
	r.next = (r.next + 1) % d.capacity
	if r.next == 0 {
		r.full = true
	}
}

// Last returns up to n of adapterID's most recent events, newest first. A
// non-positive n returns every stored event.
func (d *Debugger) Last(adapterID string, n int) []DebugEvent {
	if d == nil {
		return []DebugEvent{}
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	r, ok := d.rings[adapterID]
	if !ok {
		return []DebugEvent{}
	}
	size := r.next
	if r.full {
		size = d.capacity
	}
	if n <= 0 || n > size {
		n = size
	}
	out := make([]DebugEvent, 0, n)
	for i := 1; i <= n; i++ {
		out = append(out, r.events[(r.next-i+d.capacity)%d.capacity])
	}
	return out
}

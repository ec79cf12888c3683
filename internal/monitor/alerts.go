package monitor

import (
	"sync"
	"time"
)

// Alert is an immutable record of a rate above the suspicious threshold.
type Alert struct {
	ID          string    `json:"id"`
	Identity    string    `json:"identity"`
	Timestamp   time.Time `json:"timestamp"`
	RequestRate float64   `json:"requestRate"`
	Severity    Severity  `json:"severity"`
	Reason      string    `json:"reason"`
	Endpoint    string    `json:"endpoint,omitempty"`
	Method      string    `json:"method,omitempty"`
	Violations  int       `json:"violations"`
	Escalated   bool      `json:"escalated"`
}

// ring is a fixed capacity alert buffer that evicts the oldest entry on overflow.
type ring struct {
	mu    sync.Mutex
	buf   []Alert
	start int
	size  int
}

func newRing(capacity int) *ring {
	return &ring{buf: make([]Alert, capacity)}
}

func (r *ring) push(a Alert) {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx := (r.start + r.size) % len(r.buf)
	r.buf[idx] = a
	if r.size < len(r.buf) {
		r.size++
		return
	}
	r.start = (r.start + 1) % len(r.buf)
}

// recent returns up to limit alerts, newest first.
func (r *ring) recent(limit int) []Alert {
	r.mu.Lock()
	defer r.mu.Unlock()

	if limit > r.size {
		limit = r.size
	}
	if limit <= 0 {
		return []Alert{}
	}

	out := make([]Alert, 0, limit)
	for i := 0; i < limit; i++ {
		idx := (r.start + r.size - 1 - i) % len(r.buf)
		out = append(out, r.buf[idx])
	}
	return out
}

func (r *ring) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.size
}

func (r *ring) capacity() int {
	return len(r.buf)
}

func (r *ring) clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	clear(r.buf)
	r.start = 0
	r.size = 0
}

package depth

import "github.com/alanyoungcy/depthfeed/internal/domain"

// DefaultHistoryCapacity is the number of snapshots kept per instrument.
const DefaultHistoryCapacity = 100

// History is a fixed-capacity FIFO of snapshots. When full, Push evicts the
// oldest entry. It is not safe for concurrent use.
type History struct {
	buf   []domain.DepthSnapshot
	start int
	n     int
}

// NewHistory creates a history holding up to capacity snapshots.
func NewHistory(capacity int) *History {
	if capacity <= 0 {
		capacity = DefaultHistoryCapacity
	}
	return &History{buf: make([]domain.DepthSnapshot, capacity)}
}

// Push appends s, evicting the oldest snapshot when full.
func (h *History) Push(s domain.DepthSnapshot) {
	if h.n < len(h.buf) {
		h.buf[(h.start+h.n)%len(h.buf)] = s
		h.n++
		return
	}
	h.buf[h.start] = s
	h.start = (h.start + 1) % len(h.buf)
}

// Len returns the number of stored snapshots.
func (h *History) Len() int { return h.n }

// Cap returns the capacity.
func (h *History) Cap() int { return len(h.buf) }

// Snapshots returns a copy of the stored snapshots, oldest first.
func (h *History) Snapshots() []domain.DepthSnapshot {
	out := make([]domain.DepthSnapshot, h.n)
	for i := 0; i < h.n; i++ {
		out[i] = h.buf[(h.start+i)%len(h.buf)]
	}
	return out
}

// Last returns up to n of the newest snapshots, oldest first.
func (h *History) Last(n int) []domain.DepthSnapshot {
	if n > h.n {
		n = h.n
	}
	if n <= 0 {
		return nil
	}
	out := make([]domain.DepthSnapshot, n)
	skip := h.n - n
	for i := 0; i < n; i++ {
		out[i] = h.buf[(h.start+skip+i)%len(h.buf)]
	}
	return out
}

package monitor

import (
	"fmt"

	"golang.org/x/exp/constraints"
)

type Number interface {
	constraints.Integer | constraints.Float
}

// History is a fixed-capacity FIFO ring. Appending to a full history evicts
// the oldest value. It is not safe for concurrent use.
type History[T Number] struct {
	buf   []T
	start int
	n     int
}

func NewHistory[T Number](capacity int) (*History[T], error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("history capacity must be positive: %d", capacity)
	}
	return &History[T]{buf: make([]T, capacity)}, nil
}

func (h *History[T]) Append(v T) {
	if h.n < len(h.buf) {
		h.buf[(h.start+h.n)%len(h.buf)] = v
		h.n++
		return
	}
	h.buf[h.start] = v
	h.start = (h.start + 1) % len(h.buf)
}

func (h *History[T]) Len() int { return h.n }
func (h *History[T]) Cap() int { return len(h.buf) }

// Values returns a copy of the history, oldest first.
func (h *History[T]) Values() []T {
	out := make([]T, h.n)
	for i := range out {
		out[i] = h.buf[(h.start+i)%len(h.buf)]
	}
	return out
}

// Last returns the newest value.
func (h *History[T]) Last() (T, bool) {
	if h.n == 0 {
		var zero T
		return zero, false
	}
	return h.buf[(h.start+h.n-1)%len(h.buf)], true
}

// Max returns the largest retained value.
func (h *History[T]) Max() (T, bool) {
	if h.n == 0 {
		var zero T
		return zero, false
	}
	best := h.buf[h.start]
	for i := 1; i < h.n; i++ {
		if v := h.buf[(h.start+i)%len(h.buf)]; v > best {
			best = v
		}
	}
	return best, true
}

package game

// history is a fixed-capacity ring of price points. Once full, each push evicts the oldest point.
type history struct {
	points []HistoryPoint
	head   int
	size   int
}

func newHistory(capacity int) *history {
	if capacity <= 0 {
		capacity = 1
	}
	return &history{points: make([]HistoryPoint, capacity)}
}

func (h *history) push(p HistoryPoint) {
	idx := (h.head + h.size) % len(h.points)
	h.points[idx] = p
	if h.size < len(h.points) {
		h.size++
		return
	}
	h.head = (h.head + 1) % len(h.points)
}

func (h *history) len() int { return h.size }

// last copies the most recent n points, oldest first.
func (h *history) last(n int) []HistoryPoint {
	if n > h.size || n < 0 {
		n = h.size
	}
	out := make([]HistoryPoint, n)
	start := h.size - n
	for i := 0; i < n; i++ {
		out[i] = h.points[(h.head+start+i)%len(h.points)]
	}
	return out
}

func (h *history) reset(initial HistoryPoint) {
	h.head = 0
	h.size = 0
	h.push(initial)
}

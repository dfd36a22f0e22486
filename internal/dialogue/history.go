package dialogue

// DefaultHistoryLimit is the number of raw turns kept for prompt building
const DefaultHistoryLimit = 20

// History is a bounded, ordered turn log. When more than limit turns have
// been appended the oldest ones are dropped; nothing is summarized.
//
// History is not safe for concurrent use; its owner serializes access.
type History struct {
	limit int
	turns []Turn
}

// NewHistory creates a history retaining at most limit turns
func NewHistory(limit int) *History {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	return &History{
		limit: limit,
		turns: make([]Turn, 0, limit),
	}
}

// Append adds a turn, evicting the oldest one when the window is full
func (h *History) Append(turn Turn) {
	if len(h.turns) == h.limit {
		copy(h.turns, h.turns[1:])
		h.turns = h.turns[:h.limit-1]
	}
	h.turns = append(h.turns, turn)
}

// Snapshot returns a copy of the retained turns in insertion order
func (h *History) Snapshot() []Turn {
	out := make([]Turn, len(h.turns))
	copy(out, h.turns)
	return out
}

// SnapshotWith returns the window as it would look after appending pending,
// without modifying the history. Used to build a prompt for turns that are
// only committed once the provider call succeeds.
func (h *History) SnapshotWith(pending ...Turn) []Turn {
	out := make([]Turn, 0, len(h.turns)+len(pending))
	out = append(out, h.turns...)
	out = append(out, pending...)
	if len(out) > h.limit {
		out = out[len(out)-h.limit:]
	}
	return out
}

// Len returns the number of retained turns
func (h *History) Len() int {
	return len(h.turns)
}

// Limit returns the window size
func (h *History) Limit() int {
	return h.limit
}

package annotate

import "slices"

// HistoryLimit bounds the number of undo snapshots kept per canvas.
const HistoryLimit = 50

// History keeps full snapshots of the object list. The oldest snapshot is
// dropped once the limit is reached.
type History struct {
	limit     int
	past      [][]Object
	future    [][]Object
	replaying bool
}

func NewHistory(limit int) *History {
	if limit <= 0 {
		limit = HistoryLimit
	}
	return &History{limit: limit}
}

// Record saves the state a mutation is about to replace and forgets any
// redo states. It does nothing while a snapshot is being replayed.
func (h *History) Record(current []Object) {
	if h.replaying {
		return
	}
	h.push(&h.past, current)
	h.future = nil
}

// Undo hands back the previous state and keeps current for Redo.
func (h *History) Undo(current []Object) ([]Object, bool) {
	previous, ok := pop(&h.past)
	if !ok {
		return nil, false
	}
	h.push(&h.future, current)
	return previous, true
}

// Redo hands back the last undone state and keeps current for Undo.
func (h *History) Redo(current []Object) ([]Object, bool) {
	next, ok := pop(&h.future)
	if !ok {
		return nil, false
	}
	h.push(&h.past, current)
	return next, true
}

// Replay runs apply with recording suspended.
func (h *History) Replay(apply func()) {
	h.replaying = true
	defer func() { h.replaying = false }()
	apply()
}

func (h *History) CanUndo() bool { return len(h.past) > 0 }
func (h *History) CanRedo() bool { return len(h.future) > 0 }

// Depth is the number of undo steps available.
func (h *History) Depth() int { return len(h.past) }

func (h *History) push(stack *[][]Object, state []Object) {
	*stack = append(*stack, slices.Clone(state))
	if overflow := len(*stack) - h.limit; overflow > 0 {
		*stack = slices.Delete(*stack, 0, overflow)
	}
}

func pop(stack *[][]Object) ([]Object, bool) {
	if len(*stack) == 0 {
		return nil, false
	}
	last := len(*stack) - 1
	state := (*stack)[last]
	*stack = (*stack)[:last]
	return state, true
}

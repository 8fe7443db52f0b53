package gallery

// Selection tracks the set of selected row ids over the visible list. It does
// no eager pruning: ids can go stale when the underlying item disappears, and
// any consumer deriving a batch action must intersect with the current list
// first (Resolve).
type Selection struct {
	ids         map[string]struct{}
	lastClicked int
}

// NewSelection returns an empty selection.
func NewSelection() *Selection {
	return &Selection{ids: make(map[string]struct{}), lastClicked: -1}
}

// Toggle handles one click against the current list ordering. With shift held
// and a previous anchor, every id in the contiguous index range between the
// anchor and the clicked row is selected, in either direction. A click on an
// id not present in the ordering is inert.
func (s *Selection) Toggle(order []string, id string, shift bool) {
	idx := indexOf(order, id)
	if idx < 0 {
		return
	}

	if shift && s.lastClicked >= 0 {
		anchor := s.lastClicked
		if anchor >= len(order) {
			anchor = len(order) - 1
		}
		lo, hi := anchor, idx
		if lo > hi {
			lo, hi = hi, lo
		}
		for i := lo; i <= hi; i++ {
			s.ids[order[i]] = struct{}{}
		}
		s.lastClicked = idx
		return
	}

	if _, ok := s.ids[id]; ok {
		delete(s.ids, id)
	} else {
		s.ids[id] = struct{}{}
	}
	s.lastClicked = idx
}

// SelectAll sets the selection to every id currently in the list.
func (s *Selection) SelectAll(order []string) {
	s.ids = make(map[string]struct{}, len(order))
	for _, id := range order {
		s.ids[id] = struct{}{}
	}
}

// Clear empties the selection and resets the click anchor.
func (s *Selection) Clear() {
	s.ids = make(map[string]struct{})
	s.lastClicked = -1
}

// Has reports membership of a single id.
func (s *Selection) Has(id string) bool {
	_, ok := s.ids[id]
	return ok
}

// Count returns the number of selected ids, stale ones included.
func (s *Selection) Count() int {
	return len(s.ids)
}

// Resolve intersects the selection with the current list ordering, silently
// skipping ids that no longer exist. This is the helper batch operations must
// go through.
func (s *Selection) Resolve(current []string) []string {
	out := make([]string, 0, len(s.ids))
	for _, id := range current {
		if _, ok := s.ids[id]; ok {
			out = append(out, id)
		}
	}
	return out
}

func indexOf(order []string, id string) int {
	for i, v := range order {
		if v == id {
			return i
		}
	}
	return -1
}

package audit

// AnalyzedIndex answers "was this handle already analyzed" for a progress
// record. It is append-only: handles are never removed, and it keeps the
// insertion order so the record can be persisted as a sequence.
type AnalyzedIndex struct {
	seen  map[string]struct{}
	order []string
}

// NewAnalyzedIndex builds an index from a persisted handle sequence.
// Duplicates in the input are collapsed.
func NewAnalyzedIndex(handles []string) *AnalyzedIndex {
	idx := &AnalyzedIndex{
		seen:  make(map[string]struct{}, len(handles)),
		order: make([]string, 0, len(handles)),
	}
	for _, h := range handles {
		idx.Add(h)
	}
	return idx
}

// Add marks handle as analyzed. It reports whether the handle was new.
func (i *AnalyzedIndex) Add(handle string) bool {
	if handle == "" {
		return false
	}
	if _, ok := i.seen[handle]; ok {
		return false
	}
	i.seen[handle] = struct{}{}
	i.order = append(i.order, handle)
	return true
}

// Has reports whether handle was analyzed.
func (i *AnalyzedIndex) Has(handle string) bool {
	_, ok := i.seen[handle]
	return ok
}

// Len returns the number of analyzed handles.
func (i *AnalyzedIndex) Len() int {
	return len(i.order)
}

// Handles returns a copy of the analyzed handles in insertion order.
func (i *AnalyzedIndex) Handles() []string {
	out := make([]string, len(i.order))
	copy(out, i.order)
	return out
}

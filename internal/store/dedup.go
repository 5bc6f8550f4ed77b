package store

// DedupWindow is a bounded set of recently-applied realtime event
// fingerprints. It is a ring over insertion order, not a full history:
// once capacity is exceeded the oldest fingerprint is forgotten and a
// redelivery of that event would be applied again.
type DedupWindow struct {
	capacity int
	order    []string
	seen     map[string]struct{}
}

const DefaultDedupCapacity = 500

func NewDedupWindow(capacity int) *DedupWindow {
	if capacity <= 0 {
		capacity = DefaultDedupCapacity
	}
	return &DedupWindow{
		capacity: capacity,
		seen:     make(map[string]struct{}, capacity),
	}
}

// Seen records the key and reports whether it was already present.
// Recording evicts the oldest key once the window exceeds capacity.
func (w *DedupWindow) Seen(key string) bool {
	if key == "" {
		return false
	}
	if _, ok := w.seen[key]; ok {
		return true
	}
	w.order = append(w.order, key)
	w.seen[key] = struct{}{}
	for len(w.order) > w.capacity {
		oldest := w.order[0]
		w.order = w.order[1:]
		delete(w.seen, oldest)
	}
	return false
}

func (w *DedupWindow) Len() int {
	return len(w.order)
}

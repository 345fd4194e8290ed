package buffer

// Ring is a fixed-capacity ring buffer. Once full, new entries overwrite the
// oldest ones.
type Ring[T any] struct {
	entries []T
	next    int
	full    bool
}

func NewRing[T any](capacity int) *Ring[T] {
	if capacity <= 0 {
		capacity = 1
	}
	return &Ring[T]{
		entries: make([]T, capacity),
	}
}

func (r *Ring[T]) Add(entry T) {
	if r == nil || len(r.entries) == 0 {
		return
	}
	r.entries[r.next] = entry
	r.next = (r.next + 1) % len(r.entries)
	if r.next == 0 {
		r.full = true
	}
}

func (r *Ring[T]) Len() int {
	if r == nil {
		return 0
	}
	if r.full {
		return len(r.entries)
	}
	return r.next
}

func (r *Ring[T]) Cap() int {
	if r == nil {
		return 0
	}
	return len(r.entries)
}

// List returns the stored entries oldest-first.
func (r *Ring[T]) List() []T {
	count := r.Len()
	if count == 0 {
		return nil
	}
	start := 0
	if r.full {
		start = r.next
	}
	out := make([]T, count)
	for i := 0; i < count; i++ {
		out[i] = r.entries[(start+i)%len(r.entries)]
	}
	return out
}

package recognizer

import "sync"

// orderBuffer turns out-of-order segment completions back into segment
// order. Failed segments still occupy their slot, so a single bad segment
// never stalls delivery of everything behind it.
type orderBuffer struct {
	mu      sync.Mutex
	next    uint64
	pending map[uint64]Result
}

func newOrderBuffer(start uint64) *orderBuffer {
	return &orderBuffer{next: start, pending: make(map[uint64]Result)}
}

// Add stores res and returns the run of results that became deliverable, in
// segment order. Results for sequences already released are dropped.
func (b *orderBuffer) Add(res Result) []Result {
	b.mu.Lock()
	defer b.mu.Unlock()

	if res.SegmentSeq < b.next {
		return nil
	}
	b.pending[res.SegmentSeq] = res

	var ready []Result
	for {
		r, ok := b.pending[b.next]
		if !ok {
			break
		}
		delete(b.pending, b.next)
		ready = append(ready, r)
		b.next++
	}
	return ready
}

// Len reports how many results are parked waiting for earlier segments.
func (b *orderBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

package word2vec

import "sync/atomic"

// Random is a linear congruential generator whose state
// may be advanced from many Goroutines at once.
//
// Every call to Next observes a distinct state.
type Random struct {
	state atomic.Uint64
}

// NewRandom creates a generator with the given state.
func NewRandom(seed uint64) *Random {
	r := &Random{}
	r.state.Store(seed)
	return r
}

// Next advances the state and returns the new value.
func (r *Random) Next() uint64 {
	for {
		old := r.state.Load()
		next := old*25214903917 + 11
		if r.state.CompareAndSwap(old, next) {
			return next
		}
	}
}

// WordCounter is a monotonically increasing count of
// words trained, shared by every worker in a process.
type WordCounter struct {
	n atomic.Int64
}

// Add adds n words and returns the new total.
func (w *WordCounter) Add(n int64) int64 {
	return w.n.Add(n)
}

// Load returns the current total.
func (w *WordCounter) Load() int64 {
	return w.n.Load()
}

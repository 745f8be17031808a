package ring

import "sync"

// SlotPool is a keyed slot pool: the callback context merges successive
// entries for the same key into one slot (batching frames of the same
// exchange), claims a free slot for a new key, or drops when full. The
// main-loop drain empties used slots one at a time.
//
// Multi-writer claims are protected by a plain mutex rather than a CAS loop;
// the critical section is a few fixed-size copies.
type SlotPool[K comparable, V any] struct {
	mu    sync.Mutex
	used  []bool
	keys  []K
	vals  []V
	write int
}

// NewSlotPool creates a pool with the given fixed slot count.
func NewSlotPool[K comparable, V any](slots int) *SlotPool[K, V] {
	if slots < 1 {
		slots = 1
	}
	return &SlotPool[K, V]{
		used: make([]bool, slots),
		keys: make([]K, slots),
		vals: make([]V, slots),
	}
}

// UpdateForKey finds the slot already claimed for key, or claims a free one,
// and runs fn on it under the lock. fresh is true when the slot was newly
// claimed and fn must initialize it. Returns false when the pool is full and
// no slot holds the key: the entry is dropped, existing slots stay intact.
func (p *SlotPool[K, V]) UpdateForKey(key K, fn func(v *V, fresh bool)) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	// Prefer the existing slot for the same key
	for i := range p.used {
		if p.used[i] && p.keys[i] == key {
			fn(&p.vals[i], false)
			return true
		}
	}

	// Otherwise claim a free slot, scanning from the write cursor
	for i := range p.used {
		idx := (p.write + i) % len(p.used)
		if !p.used[idx] {
			p.write = (idx + 1) % len(p.used)
			p.keys[idx] = key
			p.used[idx] = true
			fn(&p.vals[idx], true)
			return true
		}
	}
	return false
}

// DrainOne pops one used slot by value. The copy happens under the lock; the
// caller processes it outside.
func (p *SlotPool[K, V]) DrainOne() (K, V, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	var zeroK K
	var zeroV V
	for i := range p.used {
		if p.used[i] {
			k, v := p.keys[i], p.vals[i]
			p.used[i] = false
			p.keys[i] = zeroK
			p.vals[i] = zeroV
			return k, v, true
		}
	}
	return zeroK, zeroV, false
}

// Len returns the number of used slots.
func (p *SlotPool[K, V]) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, u := range p.used {
		if u {
			n++
		}
	}
	return n
}

// Reset frees every slot.
func (p *SlotPool[K, V]) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	var zeroK K
	var zeroV V
	for i := range p.used {
		p.used[i] = false
		p.keys[i] = zeroK
		p.vals[i] = zeroV
	}
	p.write = 0
}

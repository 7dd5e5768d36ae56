// Package systems provides the algorithmic building blocks of the simulation:
// the entity pool, the quadtree spatial index, the columnar batch store, the
// memory-pressure monitor, and the population predictor.
package systems

import (
	"vivarium/components"
)

// Handle identifies a pool slot. The generation counter makes stale
// handles detectable: a handle from a released slot never aliases the
// slot's next occupant.
type Handle struct {
	index uint32
	gen   uint32
}

// Index returns the slot index. Exposed for stable ordering in tests and
// deterministic tie-breaks; do not use it to bypass the pool.
func (h Handle) Index() uint32 { return h.index }

// PoolStats holds pool metrics used for tuning and tests.
type PoolStats struct {
	Size       int     // current slot count (live + free)
	Live       int     // currently acquired slots
	Peak       int     // high-water live count
	Created    uint64  // slots created by allocation
	Reused     uint64  // acquisitions served from the free list
	ReuseRatio float64 // Reused / (Reused + Created)
}

// Pool owns every entity record. Acquire hands out reused or newly grown
// slots; Release returns them to the free list. Records are never
// deallocated individually, only reused, so steady-state ticks allocate
// nothing.
type Pool struct {
	slots []components.Entity
	gens  []uint32
	free  []uint32

	maxSlots int // 0 = unbounded
	live     int
	peak     int
	created  uint64
	reused   uint64
}

// NewPool creates a pool. maxSlots bounds total slot count (0 = unbounded).
func NewPool(maxSlots int) *Pool {
	return &Pool{maxSlots: maxSlots}
}

// Prefill eagerly allocates n free slots so the first n acquisitions do
// not grow the backing storage.
func (p *Pool) Prefill(n int) {
	for len(p.slots) < n {
		if p.maxSlots > 0 && len(p.slots) >= p.maxSlots {
			return
		}
		p.slots = append(p.slots, components.Entity{})
		p.gens = append(p.gens, 0)
		p.free = append(p.free, uint32(len(p.slots)-1))
		p.created++
	}
}

// Acquire returns an initialized slot for a new entity, reusing a freed
// slot when one exists. Returns ok=false only when the pool is at its
// configured slot limit; callers treat that as "skip this birth".
func (p *Pool) Acquire(x, y float32, kind components.Kind) (Handle, bool) {
	var idx uint32
	if n := len(p.free); n > 0 {
		idx = p.free[n-1]
		p.free = p.free[:n-1]
		p.reused++
	} else {
		if p.maxSlots > 0 && len(p.slots) >= p.maxSlots {
			return Handle{}, false
		}
		// Append growth doubles capacity amortized, preserving locality
		// of the backing array.
		p.slots = append(p.slots, components.Entity{})
		p.gens = append(p.gens, 0)
		idx = uint32(len(p.slots) - 1)
		p.created++
	}

	p.slots[idx] = components.Entity{X: x, Y: y, Kind: kind, Alive: true}
	p.live++
	if p.live > p.peak {
		p.peak = p.live
	}
	return Handle{index: idx, gen: p.gens[idx]}, true
}

// Get returns the entity for a handle, or nil if the handle is stale or
// the slot is free.
func (p *Pool) Get(h Handle) *components.Entity {
	if int(h.index) >= len(p.slots) || p.gens[h.index] != h.gen {
		return nil
	}
	e := &p.slots[h.index]
	if !e.Alive {
		return nil
	}
	return e
}

// Release marks the slot dead and returns it to the free list. Releasing
// a stale or already-freed handle is a no-op; the free-list bookkeeping
// is never corrupted by double release.
func (p *Pool) Release(h Handle) bool {
	if int(h.index) >= len(p.slots) || p.gens[h.index] != h.gen {
		return false
	}
	e := &p.slots[h.index]
	if !e.Alive {
		return false
	}
	e.Alive = false
	p.gens[h.index]++
	p.free = append(p.free, h.index)
	p.live--
	return true
}

// Live returns the number of currently acquired slots.
func (p *Pool) Live() int { return p.live }

// ForEachAlive calls fn for every alive entity. fn may mutate the record
// but must not Acquire or Release during iteration.
func (p *Pool) ForEachAlive(fn func(Handle, *components.Entity)) {
	for i := range p.slots {
		if p.slots[i].Alive {
			fn(Handle{index: uint32(i), gen: p.gens[i]}, &p.slots[i])
		}
	}
}

// Compact trims trailing free slots so peak memory is bounded after a
// population crash. Live slots are never moved, so existing handles stay
// valid.
func (p *Pool) Compact() {
	hi := len(p.slots)
	for hi > 0 && !p.slots[hi-1].Alive {
		hi--
	}
	if hi == len(p.slots) {
		return
	}

	trimmed := p.slots[:hi]
	newSlots := make([]components.Entity, hi)
	copy(newSlots, trimmed)
	p.slots = newSlots
	newGens := make([]uint32, hi)
	copy(newGens, p.gens[:hi])
	p.gens = newGens

	// Rebuild the free list without the trimmed indices.
	newFree := p.free[:0]
	for _, idx := range p.free {
		if int(idx) < hi {
			newFree = append(newFree, idx)
		}
	}
	p.free = newFree
}

// Stats returns current pool metrics.
func (p *Pool) Stats() PoolStats {
	total := p.reused + p.created
	var ratio float64
	if total > 0 {
		ratio = float64(p.reused) / float64(total)
	}
	return PoolStats{
		Size:       len(p.slots),
		Live:       p.live,
		Peak:       p.peak,
		Created:    p.created,
		Reused:     p.reused,
		ReuseRatio: ratio,
	}
}

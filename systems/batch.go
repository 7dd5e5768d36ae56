package systems

import (
	"vivarium/components"
)

// Advance integrates one entity's motion by dt inside [0,w) x [0,h),
// reflecting off the walls, and returns the new state. Both the
// per-entity and the columnar update paths use this kernel, so the two
// paths stay numerically identical by construction.
func Advance(x, y, vx, vy, dt, w, h float32) (nx, ny, nvx, nvy float32) {
	nx = x + vx*dt
	ny = y + vy*dt
	nvx, nvy = vx, vy

	if nx < 0 {
		nx = -nx
		nvx = -nvx
	} else if nx >= w {
		nx = 2*w - nx
		nvx = -nvx
		if nx >= w { // more than one width out; clamp just inside
			nx = w - 1e-3
		}
	}
	if ny < 0 {
		ny = -ny
		nvy = -nvy
	} else if ny >= h {
		ny = 2*h - ny
		nvy = -nvy
		if ny >= h {
			ny = h - 1e-3
		}
	}
	return nx, ny, nvx, nvy
}

// BatchStore is the columnar projection of the alive set: one parallel
// array per attribute, so the per-tick numeric update walks contiguous
// memory instead of dispatching per record. It is a derived view; the
// pool remains the source of truth and SyncFrom/SyncTo bracket every use.
type BatchStore struct {
	X, Y    []float32
	VX, VY  []float32
	Age     []uint32
	Kind    []uint8
	handles []Handle
	n       int
}

// NewBatchStore creates an empty batch store with the given initial capacity.
func NewBatchStore(capacity int) *BatchStore {
	return &BatchStore{
		X:       make([]float32, 0, capacity),
		Y:       make([]float32, 0, capacity),
		VX:      make([]float32, 0, capacity),
		VY:      make([]float32, 0, capacity),
		Age:     make([]uint32, 0, capacity),
		Kind:    make([]uint8, 0, capacity),
		handles: make([]Handle, 0, capacity),
	}
}

// Len returns the number of entities currently staged.
func (b *BatchStore) Len() int { return b.n }

// Cap returns the column capacity (for compaction decisions and tests).
func (b *BatchStore) Cap() int { return cap(b.X) }

// SyncFrom copies the pool's alive set into the columns. Growth is
// amortized doubling via append; steady-state syncs allocate nothing.
func (b *BatchStore) SyncFrom(p *Pool) {
	b.X = b.X[:0]
	b.Y = b.Y[:0]
	b.VX = b.VX[:0]
	b.VY = b.VY[:0]
	b.Age = b.Age[:0]
	b.Kind = b.Kind[:0]
	b.handles = b.handles[:0]

	p.ForEachAlive(func(h Handle, e *components.Entity) {
		b.X = append(b.X, e.X)
		b.Y = append(b.Y, e.Y)
		b.VX = append(b.VX, e.VX)
		b.VY = append(b.VY, e.VY)
		b.Age = append(b.Age, e.Age)
		b.Kind = append(b.Kind, uint8(e.Kind))
		b.handles = append(b.handles, h)
	})
	b.n = len(b.X)
}

// Update advances positions by dt and ages by ageStep across all columns.
func (b *BatchStore) Update(dt, w, h float32, ageStep uint32) {
	for i := 0; i < b.n; i++ {
		b.X[i], b.Y[i], b.VX[i], b.VY[i] = Advance(b.X[i], b.Y[i], b.VX[i], b.VY[i], dt, w, h)
	}
	for i := 0; i < b.n; i++ {
		b.Age[i] += ageStep
	}
}

// SyncTo writes the updated columns back to the pool. Entities released
// since SyncFrom are skipped via stale-handle detection.
func (b *BatchStore) SyncTo(p *Pool) {
	for i := 0; i < b.n; i++ {
		e := p.Get(b.handles[i])
		if e == nil {
			continue
		}
		e.X = b.X[i]
		e.Y = b.Y[i]
		e.VX = b.VX[i]
		e.VY = b.VY[i]
		e.Age = b.Age[i]
	}
}

// compactFactor controls shrink-to-fit: columns are reallocated when the
// population drops below capacity/compactFactor, bounding peak memory
// after a population crash.
const compactFactor = 4

// Compact shrinks column capacity toward the current population. Returns
// true if a reallocation happened.
func (b *BatchStore) Compact() bool {
	if cap(b.X) <= 64 || b.n*compactFactor > cap(b.X) {
		return false
	}
	target := b.n * 2
	if target < 64 {
		target = 64
	}

	b.X = append(make([]float32, 0, target), b.X...)
	b.Y = append(make([]float32, 0, target), b.Y...)
	b.VX = append(make([]float32, 0, target), b.VX...)
	b.VY = append(make([]float32, 0, target), b.VY...)
	b.Age = append(make([]uint32, 0, target), b.Age...)
	b.Kind = append(make([]uint8, 0, target), b.Kind...)
	b.handles = append(make([]Handle, 0, target), b.handles...)
	return true
}

package systems

import (
	"vivarium/components"
)

// QueryHit holds a nearby entity with its precomputed squared distance,
// so callers never recompute it in the hot path.
type QueryHit struct {
	H      Handle
	X, Y   float32
	DistSq float32
}

type qpoint struct {
	x, y float32
	h    Handle
}

// qnode is one quadtree cell. Nodes live in the tree's arena and are
// referenced by index; children are four consecutive arena slots.
type qnode struct {
	cx, cy   float32 // center
	hw, hh   float32 // half extents
	children int32   // arena index of first child, -1 for leaf
	pts      []qpoint
}

// Quadtree is a region-subdividing index over entity positions. It is
// rebuilt from the pool's alive set each tick; nodes are recycled across
// rebuilds so steady-state rebuilds allocate nothing.
type Quadtree struct {
	width, height float32
	capacity      int // entities per node before subdividing
	maxDepth      int // bounds subdivision when many entities coincide

	nodes []qnode
	stack []int32 // reusable traversal stack
}

// NewQuadtree creates a quadtree covering [0,width) x [0,height).
func NewQuadtree(width, height float32, capacity, maxDepth int) *Quadtree {
	t := &Quadtree{
		width:    width,
		height:   height,
		capacity: capacity,
		maxDepth: maxDepth,
		nodes:    make([]qnode, 0, 64),
		stack:    make([]int32, 0, 64),
	}
	t.reset()
	return t
}

func (t *Quadtree) reset() {
	t.nodes = t.nodes[:0]
	root := t.grabNode()
	root.cx = t.width / 2
	root.cy = t.height / 2
	root.hw = t.width / 2
	root.hh = t.height / 2
}

// grabNode extends the arena by one slot, keeping any point slice the
// slot held before a previous reset so rebuilds recycle storage.
func (t *Quadtree) grabNode() *qnode {
	if len(t.nodes) < cap(t.nodes) {
		t.nodes = t.nodes[:len(t.nodes)+1]
	} else {
		t.nodes = append(t.nodes, qnode{})
	}
	n := &t.nodes[len(t.nodes)-1]
	n.children = -1
	n.pts = n.pts[:0]
	return n
}

// Rebuild discards the prior structure and reinserts every alive entity.
// The tree is a derived view: rebuilding from the pool at any time must
// yield identical query results.
func (t *Quadtree) Rebuild(p *Pool) {
	t.reset()
	p.ForEachAlive(func(h Handle, e *components.Entity) {
		t.Insert(h, e.X, e.Y)
	})
}

// Insert adds one entity position. Positions outside the arena are a
// programming error upstream; they are clamped into the root so the
// index never silently drops a live entity.
func (t *Quadtree) Insert(h Handle, x, y float32) {
	if x < 0 {
		x = 0
	} else if x >= t.width {
		x = t.width
	}
	if y < 0 {
		y = 0
	} else if y >= t.height {
		y = t.height
	}
	t.insert(0, 1, qpoint{x: x, y: y, h: h})
}

// Clear empties the tree without inserting anything.
func (t *Quadtree) Clear() {
	t.reset()
}

func (t *Quadtree) insert(ni int32, depth int, pt qpoint) {
	for {
		n := &t.nodes[ni]
		if n.children < 0 {
			if len(n.pts) < t.capacity || depth >= t.maxDepth {
				n.pts = append(n.pts, pt)
				return
			}
			t.subdivide(ni)
			n = &t.nodes[ni] // subdivide may have grown the arena
		}
		ni = n.children + t.childIndex(n, pt.x, pt.y)
		depth++
	}
}

// childIndex picks the quadrant for a point. Points exactly on a split
// boundary go to the lower-coordinate child, so every point has exactly
// one owner.
func (t *Quadtree) childIndex(n *qnode, x, y float32) int32 {
	var i int32
	if x > n.cx {
		i |= 1
	}
	if y > n.cy {
		i |= 2
	}
	return i
}

func (t *Quadtree) subdivide(ni int32) {
	first := int32(len(t.nodes))

	cx, cy := t.nodes[ni].cx, t.nodes[ni].cy
	hw, hh := t.nodes[ni].hw/2, t.nodes[ni].hh/2
	// Child order: (low x, low y), (high x, low y), (low x, high y), (high x, high y).
	centers := [4][2]float32{
		{cx - hw, cy - hh},
		{cx + hw, cy - hh},
		{cx - hw, cy + hh},
		{cx + hw, cy + hh},
	}
	for _, c := range centers {
		n := t.grabNode()
		n.cx, n.cy = c[0], c[1]
		n.hw, n.hh = hw, hh
	}

	n := &t.nodes[ni]
	n.children = first
	for _, pt := range n.pts {
		ci := first + t.childIndex(n, pt.x, pt.y)
		t.nodes[ci].pts = append(t.nodes[ci].pts, pt)
	}
	n.pts = n.pts[:0]
}

// QueryRadiusInto appends every indexed entity within Euclidean distance
// r of (x, y) to dst and returns the updated slice. Reuse dst across
// calls to avoid allocations. Children overlapping the query circle are
// all visited, so results are correct across split boundaries.
func (t *Quadtree) QueryRadiusInto(dst []QueryHit, x, y, r float32) []QueryHit {
	rsq := r * r
	t.stack = t.stack[:0]
	t.stack = append(t.stack, 0)

	for len(t.stack) > 0 {
		ni := t.stack[len(t.stack)-1]
		t.stack = t.stack[:len(t.stack)-1]
		n := &t.nodes[ni]

		if !circleIntersectsRect(x, y, r, n.cx, n.cy, n.hw, n.hh) {
			continue
		}
		if n.children >= 0 {
			t.stack = append(t.stack, n.children, n.children+1, n.children+2, n.children+3)
			continue
		}
		for _, pt := range n.pts {
			dx := pt.x - x
			dy := pt.y - y
			dsq := dx*dx + dy*dy
			if dsq <= rsq {
				dst = append(dst, QueryHit{H: pt.h, X: pt.x, Y: pt.y, DistSq: dsq})
			}
		}
	}
	return dst
}

// CountRadius returns the number of indexed entities within r of (x, y),
// excluding the entity identified by self.
func (t *Quadtree) CountRadius(x, y, r float32, self Handle) int {
	rsq := r * r
	count := 0
	t.stack = t.stack[:0]
	t.stack = append(t.stack, 0)

	for len(t.stack) > 0 {
		ni := t.stack[len(t.stack)-1]
		t.stack = t.stack[:len(t.stack)-1]
		n := &t.nodes[ni]

		if !circleIntersectsRect(x, y, r, n.cx, n.cy, n.hw, n.hh) {
			continue
		}
		if n.children >= 0 {
			t.stack = append(t.stack, n.children, n.children+1, n.children+2, n.children+3)
			continue
		}
		for _, pt := range n.pts {
			if pt.h == self {
				continue
			}
			dx := pt.x - x
			dy := pt.y - y
			if dx*dx+dy*dy <= rsq {
				count++
			}
		}
	}
	return count
}

// Len returns the number of indexed points.
func (t *Quadtree) Len() int {
	total := 0
	for i := range t.nodes {
		total += len(t.nodes[i].pts)
	}
	return total
}

// NodeCount returns the number of allocated tree nodes (for tuning).
func (t *Quadtree) NodeCount() int {
	return len(t.nodes)
}

func circleIntersectsRect(x, y, r, cx, cy, hw, hh float32) bool {
	dx := absf32(x - cx)
	dy := absf32(y - cy)
	if dx > hw+r || dy > hh+r {
		return false
	}
	if dx <= hw || dy <= hh {
		return true
	}
	ex := dx - hw
	ey := dy - hh
	return ex*ex+ey*ey <= r*r
}

func absf32(v float32) float32 {
	if v < 0 {
		return -v
	}
	return v
}

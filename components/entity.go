// Package components provides the plain data types shared by the simulation systems.
package components

// Kind identifies an organism category. It is immutable for an entity's
// lifetime; per-kind parameters live in a Table, never inline.
type Kind uint8

// Entity is one organism's record. It is owned exclusively by the pool
// while alive; the spatial index and batch store reference it, never own it.
type Entity struct {
	X, Y   float32 // position, within [0,width) x [0,height)
	VX, VY float32 // drift velocity, distance per unit simulated time
	Age    uint32  // simulated time units; monotone while alive, reset on reuse
	Energy float32 // bounded [0, max_energy] for the kind
	Kind   Kind
	Alive  bool
}

package catalog

import "sync/atomic"

// Holder publishes the current catalog snapshot. Readers take one snapshot
// per request and never observe a partially refreshed catalog.
type Holder struct {
	current atomic.Pointer[Catalog]
	version atomic.Uint64
}

// NewHolder creates a holder seeded with c, which may be nil.
func NewHolder(c *Catalog) *Holder {
	h := &Holder{}
	if c != nil {
		h.Store(c)
	}
	return h
}

// Snapshot returns the current catalog. It never returns nil.
func (h *Holder) Snapshot() *Catalog {
	if c := h.current.Load(); c != nil {
		return c
	}
	empty, _ := New(nil, nil)
	return empty
}

// Store swaps in a new snapshot and returns its version number.
func (h *Holder) Store(c *Catalog) uint64 {
	h.current.Store(c)
	return h.version.Add(1)
}

// Version counts how many snapshots have been stored.
func (h *Holder) Version() uint64 {
	return h.version.Load()
}

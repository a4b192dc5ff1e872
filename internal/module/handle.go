package module

import "sync/atomic"

// Handle is the atomically swappable reference to the active instance.
// A reader sees either nothing or an instance that finished Instantiate.
type Handle struct {
	p atomic.Pointer[slot]
}

type slot struct {
	inst Instance
}

// Load returns the active instance or nil.
func (h *Handle) Load() Instance {
	if s := h.p.Load(); s != nil {
		return s.inst
	}
	return nil
}

// Swap publishes inst (nil for none) and returns the previous instance.
func (h *Handle) Swap(inst Instance) Instance {
	var next *slot
	if inst != nil {
		next = &slot{inst: inst}
	}
	if prev := h.p.Swap(next); prev != nil {
		return prev.inst
	}
	return nil
}

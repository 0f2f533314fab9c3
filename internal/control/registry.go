// Package control implements the ControlRegistry called for by spec §9's
// redesign notes: the source's static mutable maps keyed by transfer id
// (s_pausedUploads, s_canceledUploads) are replaced here by a registry owned
// by the Orchestrator and passed by shared reference to the engines.
package control

import "sync"

// Flags is the per-transfer control state sampled by workers at chunk
// boundaries (spec §4.5/§4.6, §5 "Cancellation semantics").
type Flags struct {
	Paused   bool
	Canceled bool
	Stopped  bool
}

// Registry holds Flags per active transfer id, cleaned up when the transfer
// leaves the registry (spec §9).
type Registry struct {
	mu    sync.RWMutex
	flags map[string]*Flags
}

func NewRegistry() *Registry {
	return &Registry{flags: make(map[string]*Flags)}
}

// Start registers a fresh, unset Flags entry for id.
func (r *Registry) Start(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.flags[id] = &Flags{}
}

// Snapshot returns a copy of the current flags for id (zero value if the
// transfer isn't registered, i.e. not paused/canceled/stopped).
func (r *Registry) Snapshot(id string) Flags {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if f, ok := r.flags[id]; ok {
		return *f
	}
	return Flags{}
}

func (r *Registry) Pause(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if f, ok := r.flags[id]; ok {
		f.Paused = true
	}
}

func (r *Registry) Stop(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if f, ok := r.flags[id]; ok {
		f.Paused = true
		f.Stopped = true
	}
}

func (r *Registry) Cancel(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if f, ok := r.flags[id]; ok {
		f.Canceled = true
	}
}

// Remove evicts id from the registry, e.g. once a transfer reaches a
// terminal state.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.flags, id)
}

package vxlan

import (
	"errors"
	"fmt"
	"slices"
	"sync"
)

// ErrDuplicateVNI indicates an instance already exists for the VNI.
var ErrDuplicateVNI = errors.New("duplicate VNI")

// Registry maps VNIs to their instances. It is the only place a VNI is
// resolved to an instance; the packet path and the control plane both go
// through it.
//
// Lookups take the read lock only long enough to find the instance and
// count the borrow. Remove unpublishes under the write lock, after which
// no new borrow of the instance can start.
type Registry struct {
	mu        sync.RWMutex
	instances map[VNI]*Instance
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{instances: make(map[VNI]*Instance)}
}

// Insert publishes a fully constructed instance.
func (r *Registry) Insert(inst *Instance) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.instances[inst.vni]; ok {
		return fmt.Errorf("insert vni %d: %w", inst.vni, ErrDuplicateVNI)
	}
	r.instances[inst.vni] = inst
	return nil
}

// Remove unpublishes the instance for vni and hands it to the caller,
// who must wait for outstanding borrows before tearing it down. An absent
// VNI is not an error.
func (r *Registry) Remove(vni VNI) (*Instance, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	inst, ok := r.instances[vni]
	if !ok {
		return nil, false
	}
	delete(r.instances, vni)
	return inst, true
}

// Lookup borrows the instance for vni. The caller must call Release on
// the returned instance when it is done with it.
func (r *Registry) Lookup(vni VNI) (*Instance, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	inst, ok := r.instances[vni]
	if !ok {
		return nil, false
	}
	// Counted under the read lock so it is ordered before any Remove.
	inst.acquire()
	return inst, true
}

// Contains reports whether vni is registered.
func (r *Registry) Contains(vni VNI) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.instances[vni]
	return ok
}

// List returns the registered VNIs in ascending order.
func (r *Registry) List() []VNI {
	r.mu.RLock()
	vnis := make([]VNI, 0, len(r.instances))
	for vni := range r.instances {
		vnis = append(vnis, vni)
	}
	r.mu.RUnlock()

	slices.Sort(vnis)
	return vnis
}

// Len returns the number of registered instances.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.instances)
}

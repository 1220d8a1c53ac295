package escrow

import "sync"

// ArbitratorRegistry reports the live set of registered dispute arbitrators.
// The ledger itself owns arbitrator registration/removal (out of scope per
// spec.md §1); the protocol only needs to read the live count and check
// membership when a vote is cast.
type ArbitratorRegistry interface {
	Count() int
	IsArbitrator(addr string) bool
}

// StaticRegistry is an in-memory ArbitratorRegistry for the demo/test
// harness; arbitrators can be removed at runtime to exercise the quorum
// shrink path (spec.md §4.3, scenario S4/S5).
type StaticRegistry struct {
	mu   sync.RWMutex
	addr map[string]bool
}

func NewStaticRegistry(addrs ...string) *StaticRegistry {
	r := &StaticRegistry{addr: make(map[string]bool, len(addrs))}
	for _, a := range addrs {
		r.addr[a] = true
	}
	return r
}

func (r *StaticRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.addr)
}

func (r *StaticRegistry) IsArbitrator(addr string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.addr[addr]
}

// Remove drops an arbitrator from the live set, shrinking Count().
func (r *StaticRegistry) Remove(addr string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.addr, addr)
}

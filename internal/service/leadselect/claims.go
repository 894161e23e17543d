package leadselect

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// claimRegistry reserves leads for in-flight dial attempts. A claim is a
// compare-and-set distinct from the lead's persisted status, so a crash
// mid-call only parks the lead until the claim expires.
type claimRegistry struct {
	mu     sync.Mutex
	claims map[uuid.UUID]time.Time // lead ID -> expiry
	ttl    time.Duration
	now    func() time.Time
}

func newClaimRegistry(ttl time.Duration, now func() time.Time) *claimRegistry {
	return &claimRegistry{
		claims: make(map[uuid.UUID]time.Time),
		ttl:    ttl,
		now:    now,
	}
}

// Claim reserves a lead. Returns false if a live claim already exists.
func (r *claimRegistry) Claim(leadID uuid.UUID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	if expiry, ok := r.claims[leadID]; ok && expiry.After(now) {
		return false
	}
	r.claims[leadID] = now.Add(r.ttl)
	return true
}

// Release frees a claim immediately
func (r *claimRegistry) Release(leadID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.claims, leadID)
}

// Held reports whether a live claim exists for the lead
func (r *claimRegistry) Held(leadID uuid.UUID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	expiry, ok := r.claims[leadID]
	return ok && expiry.After(r.now())
}

// Sweep drops expired claims and returns how many were removed
func (r *claimRegistry) Sweep() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	removed := 0
	for id, expiry := range r.claims {
		if !expiry.After(now) {
			delete(r.claims, id)
			removed++
		}
	}
	return removed
}

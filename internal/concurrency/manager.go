// Package concurrency implements the Concurrency Manager (§4.1): the single
// gate through which a queued call becomes an active one, enforcing both a
// system-wide cap and a per-tenant cap with one atomic reservation.
package concurrency

import (
	"fmt"

	"github.com/sddhantjaiii/callorch/internal/config"
	"github.com/sddhantjaiii/callorch/internal/database"
)

// Manager reserves and releases ActiveSlots on behalf of the Queue
// Processor, following apicall's lock-free ChannelPool in spirit but backed
// by a transactional row count rather than an in-memory atomic, since slots
// must survive a process restart (§4.1).
type Manager struct {
	repo *database.Repository
	cfg  config.QueueConfig
}

// New constructs a Manager bound to repo and cfg.
func New(repo *database.Repository, cfg config.QueueConfig) *Manager {
	return &Manager{repo: repo, cfg: cfg}
}

// ReservationResult is a tagged outcome rather than a sentinel error (§9):
// "no slot available" is an expected, frequent result, not a failure. CallID
// is the id the reservation was made under (invariant 3, §8: the eventual
// Call row must be created with this same id), valid only when OK is true.
type ReservationResult struct {
	OK     bool
	Reason string
	CallID int64
}

// Reserve attempts to claim one ActiveSlot, honoring both the global cap and
// the tenant's own cap (falling back to the configured default when
// tenantLimit is zero, see DESIGN.md open question 3). On success the returned CallID must
// be used as the id of the Call placed for this reservation.
func (m *Manager) Reserve(tenantID int64, kind string, tenantLimit int) (ReservationResult, error) {
	cap := m.cfg.TenantCap(tenantLimit)
	callID, ok, err := m.repo.ReserveSlot(tenantID, kind, m.cfg.GlobalConcurrencyCap, cap)
	if err != nil {
		return ReservationResult{}, fmt.Errorf("reserving slot for tenant %d: %w", tenantID, err)
	}
	if !ok {
		return ReservationResult{OK: false, Reason: "no concurrency slot available"}, nil
	}
	return ReservationResult{OK: true, CallID: callID}, nil
}

// Release frees the ActiveSlot held for callID. Idempotent: releasing a
// call whose slot was already released (or never reserved) is a no-op
// (invariant 3, §8).
func (m *Manager) Release(callID int64) error {
	if err := m.repo.ReleaseSlot(callID); err != nil {
		return fmt.Errorf("releasing slot for call %d: %w", callID, err)
	}
	return nil
}

// SystemLoad returns the current count of system-wide ActiveSlots, for
// operator dashboards and the reconciler's sanity checks.
func (m *Manager) SystemLoad() (int, error) {
	n, err := m.repo.CountSystemSlots()
	if err != nil {
		return 0, fmt.Errorf("reading system load: %w", err)
	}
	return n, nil
}

// TenantLoad returns the current count of ActiveSlots held by tenantID, used
// to compute the per-tenant dispatch budget within one processor pass
// (§4.4 step 4a).
func (m *Manager) TenantLoad(tenantID int64) (int, error) {
	n, err := m.repo.CountTenantSlots(tenantID)
	if err != nil {
		return 0, fmt.Errorf("reading tenant %d load: %w", tenantID, err)
	}
	return n, nil
}

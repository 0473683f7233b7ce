package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// ErrSlotUnavailable is returned by ReserveSlot when neither the system nor
// the tenant cap has room (§4.1 step 3, "else: leave item queued").
var ErrSlotUnavailable = errors.New("no concurrency slot available")

// maxReserveAttempts bounds retries of a reservation that loses a
// serialization race, rather than looping forever under sustained
// contention.
const maxReserveAttempts = 5

// serializationFailureCode is the Postgres SQLSTATE for "could not
// serialize access due to concurrent update" (§4.1).
const serializationFailureCode = "40001"

// ReserveSlot implements the §4.1 atomic reservation algorithm: within a
// single SERIALIZABLE transaction, count active slots against both caps
// and, if room exists, mint the call id the reservation is for (drawn from
// calls_id_seq, ahead of the Call row itself) and insert the ActiveSlot
// keyed on it, per invariant 3 (§8: "ActiveSlot.id = Call.id"). SERIALIZABLE
// closes the check-then-insert race a plain read-committed transaction
// leaves open: two concurrent reservations can no longer both observe
// count < cap and both commit past it. A transaction that loses that race
// is retried, not failed outward.
func (r *Repository) ReserveSlot(tenantID int64, kind string, systemCap, tenantCap int) (callID int64, reserved bool, err error) {
	for attempt := 0; attempt < maxReserveAttempts; attempt++ {
		callID, reserved, err = r.reserveSlotOnce(tenantID, kind, systemCap, tenantCap)
		if err == nil || !isSerializationFailure(err) {
			return callID, reserved, err
		}
	}
	return 0, false, fmt.Errorf("reserving slot for tenant %d: exhausted retries under serialization conflicts: %w", tenantID, err)
}

func (r *Repository) reserveSlotOnce(tenantID int64, kind string, systemCap, tenantCap int) (int64, bool, error) {
	tx, err := r.conn.DB.BeginTx(context.Background(), &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return 0, false, fmt.Errorf("beginning reservation tx: %w", err)
	}
	defer tx.Rollback()

	var systemCount, tenantCount int
	if err := tx.QueryRow(`SELECT count(*) FROM active_slots`).Scan(&systemCount); err != nil {
		return 0, false, fmt.Errorf("counting system slots: %w", err)
	}
	if systemCount >= systemCap {
		return 0, false, nil
	}

	if err := tx.QueryRow(`SELECT count(*) FROM active_slots WHERE tenant_id = $1`, tenantID).Scan(&tenantCount); err != nil {
		return 0, false, fmt.Errorf("counting tenant slots: %w", err)
	}
	if tenantCount >= tenantCap {
		return 0, false, nil
	}

	var callID int64
	if err := tx.QueryRow(`SELECT nextval('calls_id_seq')`).Scan(&callID); err != nil {
		return 0, false, fmt.Errorf("minting reserved call id: %w", err)
	}
	if _, err := tx.Exec(`INSERT INTO active_slots (id, tenant_id, kind) VALUES ($1, $2, $3)`, callID, tenantID, kind); err != nil {
		return 0, false, fmt.Errorf("inserting active slot: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, false, fmt.Errorf("committing reservation tx: %w", err)
	}
	return callID, true, nil
}

func isSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == serializationFailureCode
	}
	return false
}

// ReleaseSlot removes the ActiveSlot held for callID, idempotent if it was
// already released or never reserved (invariant 3, §8).
func (r *Repository) ReleaseSlot(callID int64) error {
	if _, err := r.conn.DB.Exec(`DELETE FROM active_slots WHERE id = $1`, callID); err != nil {
		return fmt.Errorf("releasing slot for call %d: %w", callID, err)
	}
	return nil
}

// CountSystemSlots returns the total number of currently-held ActiveSlots.
func (r *Repository) CountSystemSlots() (int, error) {
	var n int
	err := r.conn.DB.QueryRow(`SELECT count(*) FROM active_slots`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting system slots: %w", err)
	}
	return n, nil
}

// CountTenantSlots returns the number of ActiveSlots currently held by
// tenantID, the basis for each tenant's per-pass dispatch budget (§4.4 step
// 4a: avail = min(T(tenant)-own, G-sys)).
func (r *Repository) CountTenantSlots(tenantID int64) (int, error) {
	var n int
	err := r.conn.DB.QueryRow(`SELECT count(*) FROM active_slots WHERE tenant_id = $1`, tenantID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting tenant %d slots: %w", tenantID, err)
	}
	return n, nil
}

// HasQueuedDirectItems reports whether any direct-kind QueueItem is
// currently queued. Direct work is always eligible regardless of campaign
// windows, so its presence alone pins the Campaign Schedule Cache's next
// wake to now (§4.3 step 4).
func (r *Repository) HasQueuedDirectItems() (bool, error) {
	var exists bool
	err := r.conn.DB.QueryRow(`
		SELECT EXISTS(SELECT 1 FROM queue_items WHERE status = 'queued' AND kind = 'direct')
	`).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("checking queued direct items: %w", err)
	}
	return exists, nil
}

// --- Call Queue (§4.2) ---

// EnqueueDirect inserts a direct-call queue item at priority 100.
func (r *Repository) EnqueueDirect(item *QueueItem) (*QueueItem, error) {
	item.Kind = KindDirect
	item.Priority = 100
	return r.insertQueueItem(item)
}

// EnqueueCampaign inserts a campaign-call queue item at priority 0, applying
// the named-contact boost when the contact carries a display name (§4.2).
func (r *Repository) EnqueueCampaign(item *QueueItem, namedContactBoost int, hasName bool) (*QueueItem, error) {
	item.Kind = KindCampaign
	item.Priority = 0
	if hasName {
		item.Priority += namedContactBoost
	}
	return r.insertQueueItem(item)
}

func (r *Repository) insertQueueItem(item *QueueItem) (*QueueItem, error) {
	const q = `
		INSERT INTO queue_items (tenant_id, campaign_id, contact_id, agent_id, phone, kind, priority, scheduled_for, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, position, created_at, updated_at
	`
	if item.ScheduledFor.IsZero() {
		item.ScheduledFor = time.Now()
	}
	item.Status = QueueStatusQueued
	err := r.conn.DB.QueryRow(q,
		item.TenantID, item.CampaignID, item.ContactID, item.AgentID, item.Phone,
		item.Kind, item.Priority, item.ScheduledFor, item.Status,
	).Scan(&item.ID, &item.Position, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("enqueuing %s item for tenant %d: %w", item.Kind, item.TenantID, err)
	}
	return item, nil
}

// NextEligible returns the highest-priority, earliest-enqueued queued item
// for a tenant whose scheduled_for has arrived (§4.2: priority DESC,
// position ASC — the FIFO tie-break). Returns ErrNotFound when nothing is
// eligible.
func (r *Repository) NextEligible(tenantID int64, now time.Time) (*QueueItem, error) {
	const q = `
		SELECT id, tenant_id, campaign_id, contact_id, agent_id, phone, kind, priority,
		       position, scheduled_for, status, attempts, last_error, call_id, created_at, updated_at
		FROM queue_items
		WHERE tenant_id = $1 AND status = 'queued' AND scheduled_for <= $2
		ORDER BY priority DESC, position ASC
		LIMIT 1
	`
	var qi QueueItem
	err := r.conn.DB.QueryRow(q, tenantID, now).Scan(
		&qi.ID, &qi.TenantID, &qi.CampaignID, &qi.ContactID, &qi.AgentID, &qi.Phone, &qi.Kind, &qi.Priority,
		&qi.Position, &qi.ScheduledFor, &qi.Status, &qi.Attempts, &qi.LastError, &qi.CallID, &qi.CreatedAt, &qi.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("selecting next eligible item for tenant %d: %w", tenantID, err)
	}
	return &qi, nil
}

// DistinctQueuedTenants lists tenant ids with at least one eligible queued
// item, the round-robin candidate set for one processor pass (§4.4).
func (r *Repository) DistinctQueuedTenants(now time.Time) ([]int64, error) {
	rows, err := r.conn.DB.Query(`
		SELECT DISTINCT tenant_id FROM queue_items WHERE status = 'queued' AND scheduled_for <= $1
	`, now)
	if err != nil {
		return nil, fmt.Errorf("listing queued tenants: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning tenant id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// UpdateQueueItemStatus transitions a queue item, recording the bound call
// id and/or failure reason.
func (r *Repository) UpdateQueueItemStatus(id int64, status string, callID *int64, lastError string) error {
	const q = `
		UPDATE queue_items SET status = $1, call_id = $2, last_error = $3, attempts = attempts + 1, updated_at = now()
		WHERE id = $4
	`
	if _, err := r.conn.DB.Exec(q, status, callID, lastError, id); err != nil {
		return fmt.Errorf("updating queue item %d: %w", id, err)
	}
	return nil
}

// CancelQueueItem marks a queued item cancelled, used when a campaign is
// paused or a contact becomes blacklisted mid-queue.
func (r *Repository) CancelQueueItem(id int64) error {
	const q = `UPDATE queue_items SET status = 'cancelled', updated_at = now() WHERE id = $1 AND status = 'queued'`
	if _, err := r.conn.DB.Exec(q, id); err != nil {
		return fmt.Errorf("cancelling queue item %d: %w", id, err)
	}
	return nil
}

// PositionOf returns a 1-based rank of item among queued items of equal or
// higher precedence for its tenant, the basis for the queue-position
// estimate in §12.
func (r *Repository) PositionOf(item *QueueItem) (int, error) {
	const q = `
		SELECT count(*) FROM queue_items
		WHERE tenant_id = $1 AND status = 'queued'
		  AND (priority > $2 OR (priority = $2 AND position <= $3))
	`
	var n int
	err := r.conn.DB.QueryRow(q, item.TenantID, item.Priority, item.Position).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("computing position for item %d: %w", item.ID, err)
	}
	return n, nil
}

// StatsForTenant returns queue depth per status, for operator dashboards.
func (r *Repository) StatsForTenant(tenantID int64) (map[string]int, error) {
	rows, err := r.conn.DB.Query(`
		SELECT status, count(*) FROM queue_items WHERE tenant_id = $1 GROUP BY status
	`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("loading queue stats for tenant %d: %w", tenantID, err)
	}
	defer rows.Close()

	stats := map[string]int{}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scanning queue stats: %w", err)
		}
		stats[status] = n
	}
	return stats, rows.Err()
}

// --- Campaign Schedule Cache support (§4.3) ---

// ListActiveCampaignsWithQueuedItems returns every active campaign that
// still has queued items, the refill set for the schedule cache.
func (r *Repository) ListActiveCampaignsWithQueuedItems() ([]*Campaign, error) {
	const q = `
		SELECT DISTINCT c.id, c.tenant_id, c.agent_id, c.name, c.status, c.first_call_time,
		       c.last_call_time, c.timezone, c.start_date, c.total_contacts, c.completed_calls,
		       c.created_at, c.updated_at
		FROM campaigns c
		JOIN queue_items q ON q.campaign_id = c.id AND q.status = 'queued'
		WHERE c.status = 'active'
	`
	rows, err := r.conn.DB.Query(q)
	if err != nil {
		return nil, fmt.Errorf("listing active campaigns: %w", err)
	}
	defer rows.Close()

	var campaigns []*Campaign
	for rows.Next() {
		var c Campaign
		if err := rows.Scan(
			&c.ID, &c.TenantID, &c.AgentID, &c.Name, &c.Status, &c.FirstCallTime,
			&c.LastCallTime, &c.Timezone, &c.StartDate, &c.TotalContacts, &c.CompletedCalls,
			&c.CreatedAt, &c.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scanning campaign: %w", err)
		}
		campaigns = append(campaigns, &c)
	}
	return campaigns, rows.Err()
}

// GetCampaign loads a Campaign by id, scoped to tenant.
func (r *Repository) GetCampaign(tenantID, campaignID int64) (*Campaign, error) {
	const q = `
		SELECT id, tenant_id, agent_id, name, status, first_call_time, last_call_time,
		       timezone, start_date, total_contacts, completed_calls, created_at, updated_at
		FROM campaigns WHERE id = $1 AND tenant_id = $2
	`
	var c Campaign
	err := r.conn.DB.QueryRow(q, campaignID, tenantID).Scan(
		&c.ID, &c.TenantID, &c.AgentID, &c.Name, &c.Status, &c.FirstCallTime, &c.LastCallTime,
		&c.Timezone, &c.StartDate, &c.TotalContacts, &c.CompletedCalls, &c.CreatedAt, &c.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading campaign %d: %w", campaignID, err)
	}
	return &c, nil
}

// IncrementCampaignCompleted bumps completed_calls by one and returns the
// refreshed row, used to detect campaign completion (§4.8).
func (r *Repository) IncrementCampaignCompleted(campaignID int64) (*Campaign, error) {
	const q = `
		UPDATE campaigns SET completed_calls = completed_calls + 1, updated_at = now()
		WHERE id = $1
		RETURNING id, tenant_id, agent_id, name, status, first_call_time, last_call_time,
		          timezone, start_date, total_contacts, completed_calls, created_at, updated_at
	`
	var c Campaign
	err := r.conn.DB.QueryRow(q, campaignID).Scan(
		&c.ID, &c.TenantID, &c.AgentID, &c.Name, &c.Status, &c.FirstCallTime, &c.LastCallTime,
		&c.Timezone, &c.StartDate, &c.TotalContacts, &c.CompletedCalls, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("incrementing completed calls for campaign %d: %w", campaignID, err)
	}
	return &c, nil
}

// --- Blacklist (§12) ---

// IsBlacklisted reports whether a phone number is blocked for a tenant,
// checked before dispatching any queue item regardless of kind.
func (r *Repository) IsBlacklisted(tenantID int64, phone string) (bool, error) {
	var exists bool
	err := r.conn.DB.QueryRow(`
		SELECT EXISTS(SELECT 1 FROM blacklist_entries WHERE tenant_id = $1 AND phone = $2)
	`, tenantID, phone).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("checking blacklist for %s/%d: %w", phone, tenantID, err)
	}
	return exists, nil
}

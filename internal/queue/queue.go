// Package queue implements the Call Queue (§4.2): priority-ordered pending
// call requests, direct calls always outranking campaign calls, FIFO within
// a priority tier.
package queue

import (
	"fmt"
	"time"

	"github.com/sddhantjaiii/callorch/internal/config"
	"github.com/sddhantjaiii/callorch/internal/database"
)

// Queue wraps the repository's queue_items access with the priority and
// boost rules of §4.2.
type Queue struct {
	repo *database.Repository
	cfg  config.QueueConfig
}

// New constructs a Queue bound to repo and cfg.
func New(repo *database.Repository, cfg config.QueueConfig) *Queue {
	return &Queue{repo: repo, cfg: cfg}
}

// EnqueueDirectRequest is the parameter set for a direct (non-campaign) call
// request (§6.2).
type EnqueueDirectRequest struct {
	TenantID  int64
	AgentID   int64
	ContactID *int64
	Phone     string
}

// EnqueueDirect places a direct-call item at priority 100, the top of the
// queue ahead of all campaign traffic.
func (q *Queue) EnqueueDirect(req EnqueueDirectRequest) (*database.QueueItem, error) {
	item := &database.QueueItem{
		TenantID:  req.TenantID,
		AgentID:   req.AgentID,
		ContactID: req.ContactID,
		Phone:     req.Phone,
	}
	inserted, err := q.repo.EnqueueDirect(item)
	if err != nil {
		return nil, fmt.Errorf("enqueuing direct call for tenant %d: %w", req.TenantID, err)
	}
	return inserted, nil
}

// EnqueueCampaignRequest is the parameter set for one campaign contact's
// call request.
type EnqueueCampaignRequest struct {
	TenantID     int64
	CampaignID   int64
	AgentID      int64
	ContactID    int64
	Phone        string
	HasName      bool
	ScheduledFor time.Time
}

// EnqueueCampaign places a campaign-call item at priority 0, boosted when
// the contact carries a display name (§4.2).
func (q *Queue) EnqueueCampaign(req EnqueueCampaignRequest) (*database.QueueItem, error) {
	campaignID := req.CampaignID
	contactID := req.ContactID
	item := &database.QueueItem{
		TenantID:     req.TenantID,
		CampaignID:   &campaignID,
		ContactID:    &contactID,
		AgentID:      req.AgentID,
		Phone:        req.Phone,
		ScheduledFor: req.ScheduledFor,
	}
	inserted, err := q.repo.EnqueueCampaign(item, q.cfg.NamedContactBoost, req.HasName)
	if err != nil {
		return nil, fmt.Errorf("enqueuing campaign call for tenant %d: %w", req.TenantID, err)
	}
	return inserted, nil
}

// NextEligible returns the highest-precedence queued item for tenantID that
// is due now, or database.ErrNotFound if none is eligible.
func (q *Queue) NextEligible(tenantID int64, now time.Time) (*database.QueueItem, error) {
	return q.repo.NextEligible(tenantID, now)
}

// DistinctQueuedTenants lists tenants with at least one eligible item, the
// candidate set for one processor pass (§4.4).
func (q *Queue) DistinctQueuedTenants(now time.Time) ([]int64, error) {
	return q.repo.DistinctQueuedTenants(now)
}

// MarkProcessing transitions an item to processing, binding the call id
// that was minted for it.
func (q *Queue) MarkProcessing(itemID, callID int64) error {
	return q.repo.UpdateQueueItemStatus(itemID, database.QueueStatusProcessing, &callID, "")
}

// MarkCompleted transitions an item to completed.
func (q *Queue) MarkCompleted(itemID int64) error {
	return q.repo.UpdateQueueItemStatus(itemID, database.QueueStatusCompleted, nil, "")
}

// MarkFailed transitions an item to failed, recording why.
func (q *Queue) MarkFailed(itemID int64, reason string) error {
	return q.repo.UpdateQueueItemStatus(itemID, database.QueueStatusFailed, nil, reason)
}

// Cancel marks a still-queued item cancelled (campaign paused, contact
// blacklisted mid-queue).
func (q *Queue) Cancel(itemID int64) error {
	return q.repo.CancelQueueItem(itemID)
}

// Position reports item's 1-based rank among its tenant's queued items.
func (q *Queue) Position(item *database.QueueItem) (int, error) {
	return q.repo.PositionOf(item)
}

// EstimatedWaitMinutes is a supplemented feature (§12): a rough wait
// estimate derived from queue position and the system's global concurrency
// cap, assuming each active slot turns over roughly once per
// AverageCallMinutes.
func EstimatedWaitMinutes(position, globalConcurrencyCap, averageCallMinutes int) int {
	if globalConcurrencyCap <= 0 {
		globalConcurrencyCap = 1
	}
	if averageCallMinutes <= 0 {
		averageCallMinutes = 3
	}
	rounds := (position + globalConcurrencyCap - 1) / globalConcurrencyCap
	return rounds * averageCallMinutes
}

// Stats returns queue depth by status for a tenant, for operator dashboards.
func (q *Queue) Stats(tenantID int64) (map[string]int, error) {
	return q.repo.StatsForTenant(tenantID)
}

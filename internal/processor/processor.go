// Package processor implements the Queue Processor (§4.4): one pass over
// every tenant with eligible queued work, serialized across replicas by a
// Postgres advisory lock, dispatching up to each tenant's available
// concurrency slots per pass in round-robin, least-recently-served order.
// ProcessSmart is triggered by an external HTTP call (an orchestration
// cron) and gated by the Campaign Schedule Cache so it can no-op without
// touching Postgres; ProcessImmediate bypasses that gate for request paths
// that just created dispatchable work (§9: anti-polling design note).
package processor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sddhantjaiii/callorch/internal/billing"
	"github.com/sddhantjaiii/callorch/internal/concurrency"
	"github.com/sddhantjaiii/callorch/internal/config"
	"github.com/sddhantjaiii/callorch/internal/database"
	"github.com/sddhantjaiii/callorch/internal/queue"
	"github.com/sddhantjaiii/callorch/internal/schedule"
	"github.com/sddhantjaiii/callorch/internal/voiceprovider"
)

// Processor drives one queue-processing pass, adapted from apicall's
// asterisk/spool.go acquire→dispatch→track flow: acquire a slot, create the
// call row, call the provider, and only then consider the item dispatched.
type Processor struct {
	repo      *database.Repository
	queue     *queue.Queue
	conc      *concurrency.Manager
	schedule  *schedule.Cache
	voice     *voiceprovider.Client
	billing   *billing.Hook
	cfg       config.QueueConfig
	lastServe map[int64]time.Time
}

// New constructs a Processor.
func New(repo *database.Repository, q *queue.Queue, conc *concurrency.Manager, sched *schedule.Cache, voice *voiceprovider.Client, billingHook *billing.Hook, cfg config.QueueConfig) *Processor {
	return &Processor{
		repo: repo, queue: q, conc: conc, schedule: sched, voice: voice,
		billing: billingHook, cfg: cfg, lastServe: map[int64]time.Time{},
	}
}

// PassResult summarizes one processing pass, returned to the HTTP trigger
// handler for observability.
type PassResult struct {
	Processed  bool     `json:"processed"`
	Reason     string   `json:"reason,omitempty"`
	Dispatched int      `json:"dispatched"`
	Skipped    int      `json:"skipped"`
	Errors     []string `json:"errors,omitempty"`
}

// ProcessSmart is the cron-facing entry point (§4.4): it does nothing,
// without issuing a single query against queue_items or active_slots, when
// the Campaign Schedule Cache reports no eligible work yet. This is what
// keeps a pay-per-compute database asleep outside calling hours.
func (p *Processor) ProcessSmart(ctx context.Context) (*PassResult, error) {
	if !p.schedule.ShouldProcess(time.Now()) {
		return &PassResult{Processed: false, Reason: "not due"}, nil
	}
	return p.runPass(ctx)
}

// ProcessImmediate is called synchronously from request handlers that just
// created dispatchable work — a direct-call enqueue, a completed call
// freeing a slot, a campaign create/resume — and bypasses the schedule
// cache gate entirely (§4.4).
func (p *Processor) ProcessImmediate(ctx context.Context) (*PassResult, error) {
	return p.runPass(ctx)
}

// runPass executes a single bounded pass over all tenants with eligible
// work, holding the "queue-processor" advisory lock for the duration. If
// another replica already holds the lock, runPass returns immediately with
// Processed=false rather than blocking (§4.4, §9).
func (p *Processor) runPass(ctx context.Context) (*PassResult, error) {
	conn, err := p.repo.DB().Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquiring db connection for advisory lock: %w", err)
	}
	defer conn.Close()

	var locked bool
	if err := conn.QueryRowContext(ctx, `SELECT pg_try_advisory_lock(hashtext($1))`, p.cfg.AdvisoryLockName).Scan(&locked); err != nil {
		return nil, fmt.Errorf("acquiring advisory lock: %w", err)
	}
	if !locked {
		return &PassResult{Processed: false, Reason: "busy"}, nil
	}
	defer func() {
		if _, err := conn.ExecContext(ctx, `SELECT pg_advisory_unlock(hashtext($1))`, p.cfg.AdvisoryLockName); err != nil {
			log.Error().Err(err).Msg("failed to release queue processor advisory lock")
		}
		p.schedule.Invalidate()
	}()

	result := &PassResult{Processed: true}
	deadline := time.Now().Add(p.cfg.PassBudget)
	now := time.Now()

	sys, err := p.conc.SystemLoad()
	if err != nil {
		return nil, fmt.Errorf("reading system load: %w", err)
	}
	if sys >= p.cfg.GlobalConcurrencyCap {
		return result, nil
	}

	tenants, err := p.queue.DistinctQueuedTenants(now)
	if err != nil {
		return nil, fmt.Errorf("listing queued tenants: %w", err)
	}
	orderByFairness(tenants, p.lastServe)

tenantLoop:
	for _, tenantID := range tenants {
		if time.Now().After(deadline) {
			log.Warn().Str("lock", p.cfg.AdvisoryLockName).Msg("pass budget exceeded, ending pass early")
			break
		}

		own, err := p.conc.TenantLoad(tenantID)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("tenant %d: %v", tenantID, err))
			continue
		}
		tenant, err := p.repo.GetTenant(tenantID)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("tenant %d: %v", tenantID, err))
			continue
		}
		avail := p.cfg.TenantCap(tenant.ConcurrentCallsLimit) - own
		if remaining := p.cfg.GlobalConcurrencyCap - sys; remaining < avail {
			avail = remaining
		}

		servedThisTenant := false
		for i := 0; i < avail; i++ {
			dispatched, _, _, reason, err := p.dispatchNext(ctx, tenantID)
			if err != nil {
				result.Errors = append(result.Errors, fmt.Sprintf("tenant %d: %v", tenantID, err))
				break
			}
			if !dispatched {
				if i == 0 {
					log.Debug().Int64("tenant_id", tenantID).Str("reason", reason).Msg("tenant skipped this pass")
					result.Skipped++
				}
				break
			}
			result.Dispatched++
			servedThisTenant = true
			sys++
			if sys >= p.cfg.GlobalConcurrencyCap {
				break tenantLoop
			}
		}
		if servedThisTenant {
			p.lastServe[tenantID] = time.Now()
		}
	}

	return result, nil
}

// dispatchNext applies §4.4's per-tenant dispatch check: blacklist, credit
// balance, campaign schedule window, then concurrency reservation, in that
// order, short-circuiting on the first check that fails: a blacklisted item
// is cancelled, an item whose tenant has no credits is marked failed, and an
// item outside its window or without a free slot stays queued. It
// dispatches at most one item and is repeated by runPass's avail-bounded
// inner loop.
func (p *Processor) dispatchNext(ctx context.Context, tenantID int64) (dispatched bool, itemID, callID int64, reason string, err error) {
	item, err := p.queue.NextEligible(tenantID, time.Now())
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return false, 0, 0, "no eligible item", nil
		}
		return false, 0, 0, "", err
	}

	blacklisted, err := p.repo.IsBlacklisted(tenantID, item.Phone)
	if err != nil {
		return false, 0, 0, "", fmt.Errorf("checking blacklist: %w", err)
	}
	if blacklisted {
		_ = p.queue.Cancel(item.ID)
		return false, item.ID, 0, "blacklisted", nil
	}

	tenant, err := p.repo.GetTenant(tenantID)
	if err != nil {
		return false, 0, 0, "", fmt.Errorf("loading tenant: %w", err)
	}
	if tenant.Credits <= 0 {
		_ = p.queue.MarkFailed(item.ID, "insufficient credits")
		return false, item.ID, 0, "no credits", nil
	}

	if item.CampaignID != nil {
		within, err := p.schedule.IsWithinWindow(*item.CampaignID, time.Now())
		if err != nil {
			return false, 0, 0, "", fmt.Errorf("checking campaign window: %w", err)
		}
		if !within {
			return false, item.ID, 0, "outside campaign window", nil
		}
	}

	reservation, err := p.conc.Reserve(tenantID, item.Kind, tenant.ConcurrentCallsLimit)
	if err != nil {
		return false, 0, 0, "", fmt.Errorf("reserving slot: %w", err)
	}
	if !reservation.OK {
		return false, item.ID, 0, reservation.Reason, nil
	}

	call, err := p.placeCall(ctx, tenant, item, reservation.CallID)
	if err != nil {
		_ = p.conc.Release(reservation.CallID)
		_ = p.queue.MarkFailed(item.ID, err.Error())
		return false, item.ID, 0, "", fmt.Errorf("placing call: %w", err)
	}

	if err := p.queue.MarkProcessing(item.ID, call.ID); err != nil {
		return false, item.ID, call.ID, "", fmt.Errorf("marking item processing: %w", err)
	}

	return true, item.ID, call.ID, "", nil
}

// DispatchDirect attempts one immediate dispatch for tenantID, for the
// synchronous "200 if reserved immediately, else 202" branch of
// POST /calls/initiate (§6.2). It is the same code path runPass uses for
// its inner per-tenant loop, so it honors the same blacklist, credit, and
// concurrency rules — it is not a separate fast path.
func (p *Processor) DispatchDirect(ctx context.Context, tenantID int64) (dispatched bool, itemID, callID int64, err error) {
	dispatched, itemID, callID, _, err = p.dispatchNext(ctx, tenantID)
	return dispatched, itemID, callID, err
}

// placeCall creates the Call placeholder under the id the concurrency
// reservation was made for (invariant 3, §8: ActiveSlot.id = Call.id) and
// invokes the voice provider, mirroring apicall's generateCallFile-then-
// ReleaseChannel ordering: register the tracked state before the
// irreversible external action.
func (p *Processor) placeCall(ctx context.Context, tenant *database.Tenant, item *database.QueueItem, callID int64) (*database.Call, error) {
	call := &database.Call{
		ID:              callID,
		TenantID:        tenant.ID,
		AgentID:         item.AgentID,
		ContactID:       item.ContactID,
		Direction:       "outbound",
		Phone:           item.Phone,
		LifecycleStatus: database.LifecycleInitiated,
		CampaignID:      item.CampaignID,
	}
	call, err := p.repo.CreatePlaceholderCall(call)
	if err != nil {
		return nil, fmt.Errorf("creating call placeholder: %w", err)
	}

	resp, err := p.voice.CreateCall(ctx, voiceprovider.CreateCallRequest{
		CallID:  call.ID,
		AgentID: fmt.Sprintf("%d", item.AgentID),
		Phone:   item.Phone,
	})
	if err != nil {
		return nil, fmt.Errorf("invoking voice provider: %w", err)
	}

	call.ExecutionID = resp.ExecutionID
	if err := p.repo.AttachExecutionID(call.ID, resp.ExecutionID, resp.Status); err != nil {
		log.Warn().Err(err).Int64("call_id", call.ID).Msg("failed to apply provider ack status")
	}
	return call, nil
}

// orderByFairness sorts tenants by least-recently-served first (§4.4
// round-robin fairness), tenants never served sorting ahead of any that
// have been.
func orderByFairness(tenants []int64, lastServe map[int64]time.Time) {
	for i := 1; i < len(tenants); i++ {
		for j := i; j > 0; j-- {
			if lastServe[tenants[j]].Before(lastServe[tenants[j-1]]) {
				tenants[j], tenants[j-1] = tenants[j-1], tenants[j]
			} else {
				break
			}
		}
	}
}

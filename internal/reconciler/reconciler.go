// Package reconciler implements the out-of-band stuck-call sweep
// supplemented in §12, adapted from apicall's OrphanCallCleaner
// (internal/database/orphan_cleaner.go): calls that never received a
// completion webhook within a grace period are confirmed against the voice
// provider directly rather than assumed dead.
package reconciler

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sddhantjaiii/callorch/internal/concurrency"
	"github.com/sddhantjaiii/callorch/internal/database"
	"github.com/sddhantjaiii/callorch/internal/voiceprovider"
)

// StuckGrace is how long a call may sit in a non-terminal lifecycle state
// before the reconciler investigates it.
const StuckGrace = 10 * time.Minute

// Reconciler confirms and repairs calls the normal webhook path missed.
type Reconciler struct {
	repo  *database.Repository
	conc  *concurrency.Manager
	voice *voiceprovider.Client
}

// New constructs a Reconciler.
func New(repo *database.Repository, conc *concurrency.Manager, voice *voiceprovider.Client) *Reconciler {
	return &Reconciler{repo: repo, conc: conc, voice: voice}
}

// SweepResult summarizes one reconciliation sweep.
type SweepResult struct {
	Inspected int
	Repaired  int
	Errors    []string
}

// Sweep is triggered the same way as the Queue Processor's pass: an
// external HTTP-driven cron, never an in-process timer (§9). It is run
// less frequently than the processor since it only needs to catch webhooks
// that were truly lost, not ordinary in-flight calls.
func (r *Reconciler) Sweep(ctx context.Context) (*SweepResult, error) {
	stuckIDs, err := r.repo.ListStuckCalls(time.Now().Add(-StuckGrace))
	if err != nil {
		return nil, fmt.Errorf("listing stuck calls: %w", err)
	}

	result := &SweepResult{}
	for _, callID := range stuckIDs {
		result.Inspected++
		if err := r.reconcileOne(ctx, callID); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("call %d: %v", callID, err))
			continue
		}
		result.Repaired++
	}
	return result, nil
}

func (r *Reconciler) reconcileOne(ctx context.Context, callID int64) error {
	call, err := r.repo.GetCall(callID)
	if err != nil {
		return fmt.Errorf("loading call: %w", err)
	}
	if call.IsTerminal() {
		return nil
	}
	if call.ExecutionID == "" {
		return r.markFailed(call, "never reached provider")
	}

	status, err := r.voice.GetCallStatus(ctx, call.ExecutionID)
	if err != nil {
		log.Warn().Err(err).Int64("call_id", callID).Msg("reconciler could not confirm status with provider")
		return nil
	}

	if !status.Terminal {
		log.Debug().Int64("call_id", callID).Str("status", status.Status).Msg("provider still reports call active, leaving in place")
		return nil
	}

	return r.markFailed(call, fmt.Sprintf("provider reported terminal status %q with no webhook delivered", status.Status))
}

func (r *Reconciler) markFailed(call *database.Call, reason string) error {
	call.LifecycleStatus = database.LifecycleFailed
	call.HangupReason = reason
	if err := r.repo.CompleteCall(call); err != nil {
		return fmt.Errorf("marking call failed: %w", err)
	}
	if err := r.conc.Release(call.ID); err != nil {
		return fmt.Errorf("releasing slot for reconciled call: %w", err)
	}
	log.Warn().Int64("call_id", call.ID).Str("reason", reason).Msg("reconciled stuck call")
	return nil
}

// Package webhook implements the Webhook Ingestion Pipeline (§4.6): the
// external voice provider's sole channel for reporting what happened to a
// call, replacing apicall's AMI event stream (internal/ami/call_status_handler.go)
// now that the dialer lives outside the process.
package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sddhantjaiii/callorch/internal/billing"
	"github.com/sddhantjaiii/callorch/internal/concurrency"
	"github.com/sddhantjaiii/callorch/internal/database"
	"github.com/sddhantjaiii/callorch/internal/llm"
	"github.com/sddhantjaiii/callorch/internal/notify"
	"github.com/sddhantjaiii/callorch/internal/processor"
)

// EventType enumerates the provider's webhook event taxonomy (§4.6).
const (
	EventRinging      = "ringing"
	EventAnswered     = "answered"
	EventDisconnected = "disconnected"
	EventCompleted    = "completed"
)

// LifecycleEvent is a single in-flight status update.
type LifecycleEvent struct {
	ExecutionID string          `json:"execution_id" validate:"required"`
	Type        string          `json:"type" validate:"required,oneof=ringing answered disconnected"`
	Timestamp   time.Time       `json:"timestamp"`
	Raw         json.RawMessage `json:"raw,omitempty"`
}

// CompletionEvent carries the final outcome, duration, transcript, and a
// handoff flag for LLM extraction (§4.6).
type CompletionEvent struct {
	ExecutionID    string                        `json:"execution_id" validate:"required"`
	DurationSecs   int                           `json:"duration_seconds"`
	HangupBy       string                        `json:"hangup_by"`
	HangupReason   string                        `json:"hangup_reason"`
	ProviderCode   string                        `json:"provider_code"`
	Transcript     string                        `json:"transcript"`
	Segments       []database.TranscriptSegment  `json:"segments,omitempty"`
	ContactName    string                        `json:"contact_name,omitempty"`
	ContactEmail   string                        `json:"contact_email,omitempty"`
	AnalyzeWithLLM bool                          `json:"analyze_with_llm"`
	Raw            json.RawMessage               `json:"raw,omitempty"`
}

// Ingestor processes webhook payloads, each handler idempotent under
// at-least-once delivery (§8 idempotence laws).
type Ingestor struct {
	repo      *database.Repository
	conc      *concurrency.Manager
	billing   *billing.Hook
	llm       *llm.Orchestrator
	notify    *notify.Dispatcher
	processor *processor.Processor
}

// New constructs an Ingestor wiring every downstream collaborator a
// completion event fans out to.
func New(repo *database.Repository, conc *concurrency.Manager, billingHook *billing.Hook, llmOrch *llm.Orchestrator, notifyDispatcher *notify.Dispatcher, proc *processor.Processor) *Ingestor {
	return &Ingestor{repo: repo, conc: conc, billing: billingHook, llm: llmOrch, notify: notifyDispatcher, processor: proc}
}

// mapLifecycleStatus maps a provider lifecycle event type to the internal
// Call.LifecycleStatus vocabulary (§4.6), in the spirit of apicall's
// Asterisk-hangup-cause-to-disposition table.
func mapLifecycleStatus(eventType string) string {
	switch eventType {
	case EventRinging:
		return database.LifecycleRinging
	case EventAnswered:
		return database.LifecycleInProgress
	case EventDisconnected:
		return database.LifecycleCallDisconnected
	default:
		return database.LifecycleInitiated
	}
}

// HandleLifecycle applies a single lifecycle transition. If no Call exists
// yet for the execution id (the webhook raced ahead of the dispatch write),
// a placeholder is created so later events still have a row to update
// (§4.6 step: "if absent, create a placeholder").
func (in *Ingestor) HandleLifecycle(evt LifecycleEvent) error {
	call, err := in.repo.GetCallByExecutionID(evt.ExecutionID)
	if err != nil {
		if !errors.Is(err, database.ErrNotFound) {
			return fmt.Errorf("loading call %s: %w", evt.ExecutionID, err)
		}
		call, err = in.repo.CreatePlaceholderCall(&database.Call{
			ExecutionID:     evt.ExecutionID,
			LifecycleStatus: database.LifecycleInitiated,
		})
		if err != nil {
			return fmt.Errorf("creating placeholder call for %s: %w", evt.ExecutionID, err)
		}
	}

	fields := map[string]interface{}{"lifecycle_status": mapLifecycleStatus(evt.Type)}
	switch evt.Type {
	case EventRinging:
		fields["ringing_started_at"] = evt.Timestamp
	case EventAnswered:
		fields["call_answered_at"] = evt.Timestamp
	case EventDisconnected:
		fields["call_disconnected_at"] = evt.Timestamp
	}

	if err := in.repo.UpdateCallLifecycle(call.ExecutionID, fields); err != nil {
		return fmt.Errorf("applying lifecycle event to %s: %w", evt.ExecutionID, err)
	}
	return nil
}

// HandleCompletion applies the terminal update: releases the concurrency
// slot, persists duration/transcript, bills credits, advances campaign
// progress, and optionally hands off to the LLM extraction orchestrator
// (§4.6, §4.9). Every step here must tolerate re-delivery: a completion
// webhook seen twice must not double-release a slot or double-bill.
func (in *Ingestor) HandleCompletion(ctx context.Context, evt CompletionEvent) error {
	call, err := in.repo.GetCallByExecutionID(evt.ExecutionID)
	if err != nil {
		if !errors.Is(err, database.ErrNotFound) {
			return fmt.Errorf("loading call %s: %w", evt.ExecutionID, err)
		}
		call, err = in.repo.CreatePlaceholderCall(&database.Call{
			ExecutionID:     evt.ExecutionID,
			LifecycleStatus: database.LifecycleInitiated,
		})
		if err != nil {
			return fmt.Errorf("creating placeholder call for %s: %w", evt.ExecutionID, err)
		}
	}

	alreadyTerminal := call.IsTerminal()

	billedMinutes := database.BilledMinutes(evt.DurationSecs)
	call.LifecycleStatus = database.LifecycleCompleted
	call.DurationSeconds = evt.DurationSecs
	call.DurationMinutes = billedMinutes
	call.CreditsUsed = billedMinutes
	call.HangupBy = evt.HangupBy
	call.HangupReason = evt.HangupReason
	call.HangupProviderCode = evt.ProviderCode
	if evt.Raw != nil {
		call.ProviderPayload = evt.Raw
	}

	if err := in.repo.CompleteCall(call); err != nil {
		return fmt.Errorf("completing call %s: %w", evt.ExecutionID, err)
	}

	if evt.Transcript != "" || len(evt.Segments) > 0 {
		has, err := in.repo.HasTranscript(call.ID)
		if err != nil {
			return fmt.Errorf("checking transcript for call %d: %w", call.ID, err)
		}
		if !has {
			if err := in.repo.CreateTranscript(&database.Transcript{
				CallID: call.ID, TenantID: call.TenantID, Content: evt.Transcript, Segments: evt.Segments,
			}); err != nil {
				return fmt.Errorf("storing transcript for call %d: %w", call.ID, err)
			}
		}
	}

	if alreadyTerminal {
		log.Debug().Int64("call_id", call.ID).Msg("completion webhook re-delivered, slot already released")
		return nil
	}

	if err := in.conc.Release(call.ID); err != nil {
		return fmt.Errorf("releasing concurrency slot for call %d: %w", call.ID, err)
	}

	if _, err := in.findOrCreateContact(call, evt); err != nil {
		return fmt.Errorf("upserting contact for call %d: %w", call.ID, err)
	}

	if call.CreditsUsed > 0 {
		if err := in.billing.ChargeForCall(call); err != nil {
			return fmt.Errorf("billing call %d: %w", call.ID, err)
		}
	}

	if call.CampaignID != nil {
		if err := in.advanceCampaign(*call.CampaignID, call.TenantID); err != nil {
			return fmt.Errorf("advancing campaign %d: %w", *call.CampaignID, err)
		}
	}

	if evt.AnalyzeWithLLM && in.llm != nil {
		if err := in.llm.AnalyzeCall(call); err != nil {
			log.Error().Err(err).Int64("call_id", call.ID).Msg("llm extraction failed for completed call")
		}
	}

	if in.processor != nil {
		if _, err := in.processor.ProcessImmediate(ctx); err != nil {
			log.Error().Err(err).Int64("call_id", call.ID).Msg("immediate processor pass after completion failed")
		}
	}

	return nil
}

func (in *Ingestor) findOrCreateContact(call *database.Call, evt CompletionEvent) (*database.Contact, error) {
	contact, _, err := in.repo.FindOrCreateContact(&database.Contact{
		TenantID:              call.TenantID,
		Phone:                 call.Phone,
		Name:                  evt.ContactName,
		Email:                 evt.ContactEmail,
		IsAutoCreated:         true,
		AutoCreationSource:    "webhook_completion",
		AutoCreatedFromCallID: &call.ID,
	})
	return contact, err
}

func (in *Ingestor) advanceCampaign(campaignID, tenantID int64) error {
	camp, err := in.repo.IncrementCampaignCompleted(campaignID)
	if err != nil {
		return err
	}
	if camp.IsComplete() {
		if err := in.notify.NotifyCampaignSummary(tenantID, camp); err != nil {
			log.Error().Err(err).Int64("campaign_id", campaignID).Msg("campaign summary notification failed")
		}
	}
	return nil
}

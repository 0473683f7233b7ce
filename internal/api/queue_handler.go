package api

import (
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sddhantjaiii/callorch/internal/queue"
)

// handleQueueProcess triggers one cache-gated Queue Processor pass
// (processSmart, §4.4): it is the endpoint the external cron hits every
// ~15 minutes, and does nothing but report {processed:false,
// reason:"not due"} when the Campaign Schedule Cache has nothing eligible
// yet. It is also idempotent under concurrent firing: if another replica
// already holds the advisory lock, it returns {processed:false,
// reason:"busy"} rather than blocking (§6.2, §9).
func (s *Server) handleQueueProcess(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	result, err := s.processor.ProcessSmart(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("queue processor pass failed")
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleQueueProcessImmediate runs a pass that bypasses the schedule cache
// gate entirely (processImmediate, §4.4), for callers that just created
// dispatchable work and don't want to wait for the next cron tick.
func (s *Server) handleQueueProcessImmediate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	result, err := s.processor.ProcessImmediate(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("immediate queue processor pass failed")
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleQueueSchedule reports the Campaign Schedule Cache's computed
// next-wake instant for operator visibility (§6.2, §4.3).
func (s *Server) handleQueueSchedule(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	now := time.Now()
	wake, ok, err := s.schedule.NextWake(now)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	campaignCount, err := s.schedule.CampaignCount(now)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	resp := map[string]interface{}{"currentTime": now, "campaignCount": campaignCount}
	if ok {
		resp["nextWakeTime"] = wake
		resp["minutesUntilWake"] = int(wake.Sub(now).Round(time.Minute) / time.Minute)
	} else {
		resp["nextWakeTime"] = nil
		resp["minutesUntilWake"] = nil
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleQueueScheduleRefresh forces the Campaign Schedule Cache to reload on
// its next read, used after a campaign is created, paused, or rescheduled
// (§4.3, §6.2).
func (s *Server) handleQueueScheduleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	s.schedule.Invalidate()
	writeJSON(w, http.StatusOK, map[string]bool{"refreshed": true})
}

// handleReconcile triggers a stuck-call reconciliation sweep (§12
// supplemented feature), driven by the same external-cron pattern as the
// queue processor.
func (s *Server) handleReconcile(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	result, err := s.reconciler.Sweep(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleQueueStatus returns per-tenant queue depth by status (§6.2).
func (s *Server) handleQueueStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	tenantID, err := tenantIDFromQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	stats, err := s.queue.Stats(tenantID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// callsInitiateRequest is the user-initiated direct-call request body.
type callsInitiateRequest struct {
	TenantID  int64  `json:"tenant_id" validate:"required"`
	AgentID   int64  `json:"agent_id" validate:"required"`
	Phone     string `json:"phone" validate:"required"`
	ContactID *int64 `json:"contact_id,omitempty"`
}

// handleCallsInitiate enqueues a direct call at top priority, then attempts
// one immediate dispatch for the tenant before replying: if a concurrency
// slot was free, the call is placed synchronously and this returns 200 with
// its callId; otherwise it falls back to 202 with the queue position. It
// never returns 429 — a tenant at their concurrency cap simply waits longer
// in queue (§6.2: "returns 200 with callId if slot reserved immediately,
// else 202", "Never 429").
func (s *Server) handleCallsInitiate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req callsInitiateRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	item, err := s.queue.EnqueueDirect(queue.EnqueueDirectRequest{
		TenantID: req.TenantID, AgentID: req.AgentID, ContactID: req.ContactID, Phone: req.Phone,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.schedule.Invalidate()

	dispatched, dispatchedItemID, callID, err := s.processor.DispatchDirect(r.Context(), req.TenantID)
	if err != nil {
		log.Error().Err(err).Int64("tenant_id", req.TenantID).Msg("immediate dispatch attempt failed, call remains queued")
	}
	if dispatched && dispatchedItemID == item.ID {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"callId": callID,
			"status": "dispatched",
		})
		return
	}

	position, err := s.queue.Position(item)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	stats, err := s.queue.Stats(req.TenantID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	estimate := queue.EstimatedWaitMinutes(position, 100, 3)

	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"queue": map[string]interface{}{
			"id":                     item.ID,
			"position":               position,
			"total_in_queue":         stats[item.Status],
			"estimated_wait_minutes": estimate,
		},
	})
}

package api

import (
	"net/http"
	"strconv"

	"github.com/sddhantjaiii/callorch/internal/database"
)

// handleNotificationPreferences serves both GET (read the five boolean
// buckets) and PUT (partial update) for a tenant's notification
// preferences (§6.3).
func (s *Server) handleNotificationPreferences(w http.ResponseWriter, r *http.Request) {
	tenantID, err := tenantIDFromQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	switch r.Method {
	case http.MethodGet:
		pref, err := s.repo.GetNotificationPreference(tenantID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, pref)

	case http.MethodPut:
		current, err := s.repo.GetNotificationPreference(tenantID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}

		var patch struct {
			LowCreditAlerts            *bool `json:"low_credit_alerts"`
			CreditsAddedEmails         *bool `json:"credits_added_emails"`
			CampaignSummaryEmails      *bool `json:"campaign_summary_emails"`
			EmailVerificationReminders *bool `json:"email_verification_reminders"`
			MarketingEmails            *bool `json:"marketing_emails"`
		}
		if err := decodeAndValidate(r, &patch); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		applyBoolPatch(&current.LowCreditAlerts, patch.LowCreditAlerts)
		applyBoolPatch(&current.CreditsAddedEmails, patch.CreditsAddedEmails)
		applyBoolPatch(&current.CampaignSummaryEmails, patch.CampaignSummaryEmails)
		applyBoolPatch(&current.EmailVerificationReminders, patch.EmailVerificationReminders)
		applyBoolPatch(&current.MarketingEmails, patch.MarketingEmails)
		current.TenantID = tenantID

		if err := s.repo.UpsertNotificationPreference(current); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, current)

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func applyBoolPatch(field *bool, patch *bool) {
	if patch != nil {
		*field = *patch
	}
}

// handleNotificationHistory returns a tenant's paginated notification
// history (§6.3). Offset is accepted for API-shape compatibility but the
// repository layer (§4.8) only needs a limit since history is read
// newest-first for dashboard display, not deep pagination.
func (s *Server) handleNotificationHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	tenantID, err := tenantIDFromQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}

	history, err := s.repo.ListNotifications(tenantID, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if history == nil {
		history = []*database.Notification{}
	}
	writeJSON(w, http.StatusOK, history)
}

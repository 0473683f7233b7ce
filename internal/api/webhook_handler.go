package api

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sddhantjaiii/callorch/internal/webhook"
)

// inboundEvent peeks at the discriminator field shared by every shape the
// provider sends (§6.1): lifecycle events carry "event", completion events
// either omit it or set it to "completed".
type inboundEvent struct {
	Event          string          `json:"event"`
	ExecutionID    string          `json:"execution_id"`
	Status         string          `json:"status"`
	DurationSecs   int             `json:"duration_seconds"`
	HangupBy       string          `json:"hangup_by"`
	HangupReason   string          `json:"hangup_reason"`
	ProviderCode   string          `json:"hangup_provider_code"`
	PhoneNumber    string          `json:"phone_number"`
	ContactName    string          `json:"contact_name"`
	ContactEmail   string          `json:"contact_email"`
	Transcript     json.RawMessage `json:"transcript"`
	Timestamp      time.Time       `json:"timestamp"`
	AnalyzeWithLLM bool            `json:"analyze_with_llm"`
}

var lifecycleEvents = map[string]bool{
	"initiated": true, "ringing": true, "in-progress": true,
	"no-answer": true, "busy": true, "call-disconnected": true,
}

// handleCallWebhook ingests every provider callback. The signature header
// is verified against a shared secret before the body is parsed; failure
// returns 401 with no body (§6.1). A non-POST request gets 405, and an
// unreadable body or invalid JSON gets 400. Every other outcome is persisted
// and acknowledged with 200 — at-least-once delivery is expected, and dedup
// is internal to the Ingestor (§8 idempotence laws).
func (s *Server) handleCallWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	if !s.verifySignature(r, body) {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	var evt inboundEvent
	if err := json.Unmarshal(body, &evt); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}

	if lifecycleEvents[evt.Event] {
		err = s.ingestor.HandleLifecycle(webhook.LifecycleEvent{
			ExecutionID: evt.ExecutionID,
			Type:        mapInboundLifecycleType(evt.Event),
			Timestamp:   evt.Timestamp,
			Raw:         json.RawMessage(body),
		})
	} else {
		err = s.ingestor.HandleCompletion(r.Context(), webhook.CompletionEvent{
			ExecutionID:    evt.ExecutionID,
			DurationSecs:   evt.DurationSecs,
			HangupBy:       evt.HangupBy,
			HangupReason:   evt.HangupReason,
			ProviderCode:   evt.ProviderCode,
			Transcript:     string(evt.Transcript),
			ContactName:    evt.ContactName,
			ContactEmail:   evt.ContactEmail,
			AnalyzeWithLLM: evt.AnalyzeWithLLM,
			Raw:            json.RawMessage(body),
		})
	}

	if err != nil {
		log.Error().Err(err).Str("execution_id", evt.ExecutionID).Msg("webhook ingestion failed")
	}

	// Always 200 after persisting: the provider's retry policy assumes
	// delivery succeeded once it reaches us, regardless of downstream errors.
	w.WriteHeader(http.StatusOK)
}

// mapInboundLifecycleType collapses the provider's wire vocabulary onto the
// Ingestor's narrower internal one; "initiated" needs no transition since
// every call starts there.
func mapInboundLifecycleType(event string) string {
	switch event {
	case "ringing":
		return webhook.EventRinging
	case "in-progress":
		return webhook.EventAnswered
	case "no-answer", "busy", "call-disconnected":
		return webhook.EventDisconnected
	default:
		return event
	}
}

// verifySignature checks the X-Signature header against an HMAC-SHA256 of
// the raw body using the configured shared secret. An unconfigured secret
// disables verification, for local development against a provider sandbox.
func (s *Server) verifySignature(r *http.Request, body []byte) bool {
	secret := s.cfg.Webhook.Secret
	if secret == "" {
		return true
	}
	sig := r.Header.Get("X-Signature")
	if sig == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return subtle.ConstantTimeCompare([]byte(sig), []byte(expected)) == 1
}

// Package notify implements the Unified Notification Dispatcher (§4.8): a
// single fire-and-forget delivery path for every tenant-facing
// notification, deduplicated solely by an idempotency-key unique
// constraint, gated by a per-tenant preference bucket.
package notify

import (
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sddhantjaiii/callorch/internal/config"
	"github.com/sddhantjaiii/callorch/internal/database"
)

// Mailer is the outbound email boundary; SMTPMailer is its only
// implementation (§13).
type Mailer interface {
	Send(to, subject, body string) error
}

// Dispatcher sends notifications, recording each attempt for idempotence
// and auditing (§4.8).
type Dispatcher struct {
	repo   *database.Repository
	mailer Mailer
	cfg    config.EmailConfig
}

// New constructs a Dispatcher.
func New(repo *database.Repository, mailer Mailer, cfg config.EmailConfig) *Dispatcher {
	return &Dispatcher{repo: repo, mailer: mailer, cfg: cfg}
}

// SendResult is a tagged outcome (§9): "skipped" is an expected result when
// a tenant has muted a bucket or the notification was already delivered,
// never an error.
type SendResult struct {
	Delivered bool
	Reason    string
}

// Request is the parameter set for one notification attempt.
type Request struct {
	TenantID             int64
	Type                 string
	Recipient            string
	Subject              string
	Body                 string
	IdempotencyKey       string
	RelatedCampaignID    *int64
	RelatedTransactionID *int64
}

// Send attempts one notification delivery, single attempt, no retry queue
// (§4.8: fire-and-forget). Dedup is entirely the idempotency-key unique
// constraint; the preference check runs first only to avoid sending mail
// the tenant doesn't want.
func (d *Dispatcher) Send(req Request) (SendResult, error) {
	pref, err := d.repo.GetNotificationPreference(req.TenantID)
	if err != nil {
		return SendResult{}, fmt.Errorf("loading preference for tenant %d: %w", req.TenantID, err)
	}
	if !pref.Enabled(req.Type) {
		d.record(req, database.NotificationSkipped, "User preference disabled")
		return SendResult{Delivered: false, Reason: "preference disabled"}, nil
	}

	exists, err := d.repo.NotificationExists(req.IdempotencyKey)
	if err != nil {
		return SendResult{}, fmt.Errorf("checking notification existence: %w", err)
	}
	if exists {
		return SendResult{Delivered: false, Reason: "already delivered"}, nil
	}

	sendErr := d.mailer.Send(req.Recipient, req.Subject, req.Body)
	status := database.NotificationSent
	reason := ""
	if sendErr != nil {
		status = database.NotificationFailed
		reason = sendErr.Error()
	}

	n := &database.Notification{
		TenantID: req.TenantID, Type: req.Type, Recipient: req.Recipient, Status: status,
		RelatedCampaignID: req.RelatedCampaignID, RelatedTransactionID: req.RelatedTransactionID,
		IdempotencyKey: req.IdempotencyKey, Error: reason,
	}
	inserted, err := d.repo.InsertNotification(n)
	if err != nil {
		return SendResult{}, fmt.Errorf("recording notification %s: %w", req.IdempotencyKey, err)
	}
	if !inserted {
		// Lost the race to a concurrent writer with the same idempotency key.
		return SendResult{Delivered: false, Reason: "already delivered"}, nil
	}

	if sendErr != nil {
		log.Error().Err(sendErr).Str("type", req.Type).Int64("tenant_id", req.TenantID).Msg("notification delivery failed")
		return SendResult{Delivered: false, Reason: reason}, nil
	}
	return SendResult{Delivered: true}, nil
}

func (d *Dispatcher) record(req Request, status, reason string) {
	_, err := d.repo.InsertNotification(&database.Notification{
		TenantID: req.TenantID, Type: req.Type, Recipient: req.Recipient, Status: status,
		RelatedCampaignID: req.RelatedCampaignID, IdempotencyKey: req.IdempotencyKey, Error: reason,
	})
	if err != nil {
		log.Error().Err(err).Str("idempotency_key", req.IdempotencyKey).Msg("failed to record skipped notification")
	}
}

// NotifyCampaignSummary sends the campaign-completion email, keyed so a
// re-delivered completion event can't double-send it (§4.8).
func (d *Dispatcher) NotifyCampaignSummary(tenantID int64, camp *database.Campaign) error {
	key := fmt.Sprintf("campaign_summary:%d", camp.ID)
	_, err := d.Send(Request{
		TenantID:          tenantID,
		Type:              database.NotifyCampaignSummary,
		Subject:           fmt.Sprintf("Campaign %q complete", camp.Name),
		Body:              fmt.Sprintf("Campaign %q finished: %d/%d calls completed.", camp.Name, camp.CompletedCalls, camp.TotalContacts),
		IdempotencyKey:    key,
		RelatedCampaignID: &camp.ID,
	})
	return err
}

// NotifyLowCredit sends a threshold-crossing low-credit alert, keyed per
// tenant per threshold per UTC day so crossing 15 then 5 sends two distinct
// emails but repeated dips below the same threshold send at most one a day
// (§4.8).
func (d *Dispatcher) NotifyLowCredit(tenantID int64, notifyType string, remaining int) error {
	key := fmt.Sprintf("%d:%s:%s", tenantID, notifyType, time.Now().UTC().Format("2006-01-02"))
	_, err := d.Send(Request{
		TenantID:       tenantID,
		Type:           notifyType,
		Subject:        "Your call credits are running low",
		Body:           fmt.Sprintf("You have %d credits remaining.", remaining),
		IdempotencyKey: key,
	})
	return err
}

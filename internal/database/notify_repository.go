package database

import (
	"database/sql"
	"errors"
	"fmt"
)

// InsertNotification records a delivery attempt. It relies on a unique
// constraint on idempotency_key (§4.8, §8 idempotence laws): a conflict
// means another writer already recorded this exact notification, which the
// caller treats as an already-delivered no-op rather than an error.
func (r *Repository) InsertNotification(n *Notification) (inserted bool, err error) {
	const q = `
		INSERT INTO notifications (tenant_id, type, recipient, status, related_campaign_id, related_transaction_id, payload, idempotency_key, error, sent_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now())
		ON CONFLICT (idempotency_key) DO NOTHING
		RETURNING id
	`
	err = r.conn.DB.QueryRow(q,
		n.TenantID, n.Type, n.Recipient, n.Status, n.RelatedCampaignID, n.RelatedTransactionID,
		[]byte(n.Payload), n.IdempotencyKey, n.Error,
	).Scan(&n.ID)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("inserting notification %s: %w", n.IdempotencyKey, err)
	}
	return true, nil
}

// NotificationExists reports whether a notification with this idempotency
// key has already been recorded, used by the dispatcher as a fast
// pre-check before attempting delivery (§4.8).
func (r *Repository) NotificationExists(idempotencyKey string) (bool, error) {
	var exists bool
	err := r.conn.DB.QueryRow(`SELECT EXISTS(SELECT 1 FROM notifications WHERE idempotency_key = $1)`, idempotencyKey).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("checking notification existence for %s: %w", idempotencyKey, err)
	}
	return exists, nil
}

// ListNotifications returns a tenant's notification history, most recent
// first, for the operator-facing API.
func (r *Repository) ListNotifications(tenantID int64, limit int) ([]*Notification, error) {
	const q = `
		SELECT id, tenant_id, type, recipient, status, related_campaign_id, related_transaction_id,
		       payload, idempotency_key, error, sent_at
		FROM notifications WHERE tenant_id = $1 ORDER BY sent_at DESC LIMIT $2
	`
	rows, err := r.conn.DB.Query(q, tenantID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing notifications for tenant %d: %w", tenantID, err)
	}
	defer rows.Close()

	var out []*Notification
	for rows.Next() {
		var n Notification
		var payload []byte
		if err := rows.Scan(
			&n.ID, &n.TenantID, &n.Type, &n.Recipient, &n.Status, &n.RelatedCampaignID, &n.RelatedTransactionID,
			&payload, &n.IdempotencyKey, &n.Error, &n.SentAt,
		); err != nil {
			return nil, fmt.Errorf("scanning notification: %w", err)
		}
		if len(payload) > 0 {
			n.Payload = payload
		}
		out = append(out, &n)
	}
	return out, rows.Err()
}

// GetNotificationPreference loads a tenant's preference bucket, defaulting
// every bucket to enabled when no row exists yet.
func (r *Repository) GetNotificationPreference(tenantID int64) (*NotificationPreference, error) {
	const q = `
		SELECT tenant_id, low_credit_alerts, credits_added_emails, campaign_summary_emails,
		       email_verification_reminders, marketing_emails
		FROM notification_preferences WHERE tenant_id = $1
	`
	var p NotificationPreference
	err := r.conn.DB.QueryRow(q, tenantID).Scan(
		&p.TenantID, &p.LowCreditAlerts, &p.CreditsAddedEmails, &p.CampaignSummaryEmails,
		&p.EmailVerificationReminders, &p.MarketingEmails,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return &NotificationPreference{
			TenantID: tenantID, LowCreditAlerts: true, CreditsAddedEmails: true,
			CampaignSummaryEmails: true, EmailVerificationReminders: true, MarketingEmails: true,
		}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading notification preference for tenant %d: %w", tenantID, err)
	}
	return &p, nil
}

// UpsertNotificationPreference writes a tenant's full preference row.
func (r *Repository) UpsertNotificationPreference(p *NotificationPreference) error {
	const q = `
		INSERT INTO notification_preferences (tenant_id, low_credit_alerts, credits_added_emails, campaign_summary_emails, email_verification_reminders, marketing_emails)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (tenant_id) DO UPDATE SET
			low_credit_alerts = EXCLUDED.low_credit_alerts,
			credits_added_emails = EXCLUDED.credits_added_emails,
			campaign_summary_emails = EXCLUDED.campaign_summary_emails,
			email_verification_reminders = EXCLUDED.email_verification_reminders,
			marketing_emails = EXCLUDED.marketing_emails
	`
	_, err := r.conn.DB.Exec(q, p.TenantID, p.LowCreditAlerts, p.CreditsAddedEmails, p.CampaignSummaryEmails, p.EmailVerificationReminders, p.MarketingEmails)
	if err != nil {
		return fmt.Errorf("upserting notification preference for tenant %d: %w", p.TenantID, err)
	}
	return nil
}

// --- Billing (§4.9) ---

// DecrementCredits atomically reduces a tenant's credit balance by exactly
// amount and returns the resulting balance, used by the Billing Hook after
// each completed call (invariant 7, §8: the balance moves by the same amount
// the CreditTransaction records). The balance may go negative; a balance at
// or below zero stops further dispatch at the processor's credit check.
func (r *Repository) DecrementCredits(tenantID int64, amount int) (balanceAfter int, err error) {
	const q = `
		UPDATE tenants SET credits = credits - $1, updated_at = now()
		WHERE id = $2
		RETURNING credits
	`
	err = r.conn.DB.QueryRow(q, amount, tenantID).Scan(&balanceAfter)
	if err != nil {
		return 0, fmt.Errorf("decrementing credits for tenant %d: %w", tenantID, err)
	}
	return balanceAfter, nil
}

// InsertCreditTransaction appends an audit-trail row (invariant 7, §8: the
// sum of CreditTransaction.Amount always reconciles to the tenant's
// Credits).
func (r *Repository) InsertCreditTransaction(t *CreditTransaction) error {
	const q = `
		INSERT INTO credit_transactions (tenant_id, type, amount, balance_after, call_id)
		VALUES ($1, $2, $3, $4, $5)
	`
	if _, err := r.conn.DB.Exec(q, t.TenantID, t.Type, t.Amount, t.BalanceAfter, t.CallID); err != nil {
		return fmt.Errorf("inserting credit transaction for tenant %d: %w", t.TenantID, err)
	}
	return nil
}

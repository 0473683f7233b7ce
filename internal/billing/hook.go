// Package billing implements the Billing Hook (§4.9): the single path by
// which a completed call's duration becomes a credit deduction and an
// audit-trail row, and the threshold crossings that drive low-credit
// notifications.
package billing

import (
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/sddhantjaiii/callorch/internal/database"
)

// lowCreditNotifier is the narrow slice of notify.Dispatcher the Billing
// Hook needs, broken out as an interface to avoid an import cycle (notify
// depends on database only; billing stays the caller).
type lowCreditNotifier interface {
	NotifyLowCredit(tenantID int64, notifyType string, remaining int) error
}

// Hook charges tenants for completed calls (§4.9).
type Hook struct {
	repo   *database.Repository
	notify lowCreditNotifier
}

// New constructs a Hook.
func New(repo *database.Repository, notify lowCreditNotifier) *Hook {
	return &Hook{repo: repo, notify: notify}
}

// thresholds are checked tightest-first so a call that crosses two
// thresholds at once (e.g. 20 -> 3) fires the most urgent one that applies,
// matching the tenant's actual remaining balance (§4.9 supplemented
// feature).
var thresholds = []struct {
	ceiling int
	notify  string
}{
	{0, database.NotifyCreditExhausted0},
	{5, database.NotifyCreditLow5},
	{15, database.NotifyCreditLow15},
}

// ChargeForCall deducts call.CreditsUsed from the tenant's balance,
// appends a CreditTransaction audit row, and fires a low-credit
// notification if the new balance crosses a threshold (invariant 7, §8).
func (h *Hook) ChargeForCall(call *database.Call) error {
	if call.CreditsUsed <= 0 {
		return nil
	}

	balanceAfter, err := h.repo.DecrementCredits(call.TenantID, call.CreditsUsed)
	if err != nil {
		return fmt.Errorf("decrementing credits for tenant %d: %w", call.TenantID, err)
	}

	txn := &database.CreditTransaction{
		TenantID: call.TenantID, Type: "usage", Amount: -call.CreditsUsed,
		BalanceAfter: balanceAfter, CallID: &call.ID,
	}
	if err := h.repo.InsertCreditTransaction(txn); err != nil {
		return fmt.Errorf("recording credit transaction for tenant %d: %w", call.TenantID, err)
	}

	for _, t := range thresholds {
		if balanceAfter <= t.ceiling {
			if h.notify != nil {
				if err := h.notify.NotifyLowCredit(call.TenantID, t.notify, balanceAfter); err != nil {
					log.Error().Err(err).Int64("tenant_id", call.TenantID).Msg("low credit notification failed")
				}
			}
			break
		}
	}

	return nil
}

// AddCredits records a top-up, used by the tenant-facing billing API.
func (h *Hook) AddCredits(tenantID int64, amount int) error {
	balanceAfter, err := h.repo.DecrementCredits(tenantID, -amount)
	if err != nil {
		return fmt.Errorf("crediting tenant %d: %w", tenantID, err)
	}
	txn := &database.CreditTransaction{TenantID: tenantID, Type: "top_up", Amount: amount, BalanceAfter: balanceAfter}
	if err := h.repo.InsertCreditTransaction(txn); err != nil {
		return fmt.Errorf("recording top-up transaction for tenant %d: %w", tenantID, err)
	}
	if h.notify != nil {
		if err := h.notify.NotifyLowCredit(tenantID, database.NotifyCreditsAdded, balanceAfter); err != nil {
			log.Error().Err(err).Int64("tenant_id", tenantID).Msg("credits-added notification failed")
		}
	}
	return nil
}

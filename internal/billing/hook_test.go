package billing

import (
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/sddhantjaiii/callorch/internal/database"
)

type fakeNotifier struct {
	calls []struct {
		tenantID   int64
		notifyType string
		remaining  int
	}
}

func (f *fakeNotifier) NotifyLowCredit(tenantID int64, notifyType string, remaining int) error {
	f.calls = append(f.calls, struct {
		tenantID   int64
		notifyType string
		remaining  int
	}{tenantID, notifyType, remaining})
	return nil
}

func newTestHook(t *testing.T) (*Hook, sqlmock.Sqlmock, *fakeNotifier) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	repo := database.NewRepository(&database.Connection{DB: db})
	t.Cleanup(repo.Close)

	notifier := &fakeNotifier{}
	return New(repo, notifier), mock, notifier
}

func TestChargeForCallSkipsZeroCredits(t *testing.T) {
	hook, mock, notifier := newTestHook(t)

	require.NoError(t, hook.ChargeForCall(&database.Call{ID: 1, TenantID: 7, CreditsUsed: 0}))
	require.Empty(t, notifier.calls)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestChargeForCallFiresLowestCrossedThreshold(t *testing.T) {
	hook, mock, notifier := newTestHook(t)

	mock.ExpectQuery("UPDATE tenants SET credits").
		WithArgs(5, int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"credits"}).AddRow(3))

	mock.ExpectExec("INSERT INTO credit_transactions").
		WithArgs(int64(7), "usage", -5, 3, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	callID := int64(100)
	err := hook.ChargeForCall(&database.Call{ID: callID, TenantID: 7, CreditsUsed: 5})
	require.NoError(t, err)

	require.Len(t, notifier.calls, 1)
	require.Equal(t, database.NotifyCreditLow5, notifier.calls[0].notifyType)
	require.Equal(t, 3, notifier.calls[0].remaining)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestChargeForCallNoNotificationAboveThresholds(t *testing.T) {
	hook, mock, notifier := newTestHook(t)

	mock.ExpectQuery("UPDATE tenants SET credits").
		WithArgs(5, int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"credits"}).AddRow(50))

	mock.ExpectExec("INSERT INTO credit_transactions").
		WithArgs(int64(7), "usage", -5, 50, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := hook.ChargeForCall(&database.Call{ID: 101, TenantID: 7, CreditsUsed: 5})
	require.NoError(t, err)
	require.Empty(t, notifier.calls)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAddCreditsRecordsTopUp(t *testing.T) {
	hook, mock, notifier := newTestHook(t)

	mock.ExpectQuery("UPDATE tenants SET credits").
		WithArgs(-20, int64(3)).
		WillReturnRows(sqlmock.NewRows([]string{"credits"}).AddRow(40))

	mock.ExpectExec("INSERT INTO credit_transactions").
		WithArgs(int64(3), "top_up", 20, 40, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, hook.AddCredits(3, 20))
	require.Len(t, notifier.calls, 1)
	require.Equal(t, database.NotifyCreditsAdded, notifier.calls[0].notifyType)

	require.NoError(t, mock.ExpectationsWereMet())
}

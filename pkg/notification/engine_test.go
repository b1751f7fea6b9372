package notification_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/amirasaad/ecclesia/infra/repository/memory"
	"github.com/amirasaad/ecclesia/pkg/domain/notification"
	"github.com/amirasaad/ecclesia/pkg/domain/payer"
	"github.com/amirasaad/ecclesia/pkg/domain/transaction"
	engine "github.com/amirasaad/ecclesia/pkg/notification"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func saoPaulo(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("America/Sao_Paulo")
	require.NoError(t, err)
	return loc
}

type world struct {
	tenant *payer.Tenant
	payers *memory.Payers
	txs    *memory.Transactions
	engine *engine.Engine
}

func newWorld(t *testing.T) *world {
	t.Helper()
	w := &world{
		tenant: &payer.Tenant{
			ID:       uuid.New(),
			Name:     "Igreja Central",
			Timezone: "America/Sao_Paulo",
			Locale:   "pt-BR",
			Currency: "BRL",
		},
		payers: memory.NewPayers(),
		txs:    memory.NewTransactions(),
	}
	w.payers.AddTenant(*w.tenant)
	w.engine = engine.NewEngine(w.payers, w.txs, discard)
	return w
}

func (w *world) addPayer(name string, dueDay int, active bool) payer.Payer {
	p := payer.Payer{
		ID:       uuid.New(),
		TenantID: w.tenant.ID,
		Name:     name,
		Email:    name + "@example.com",
		Phone:    "+5511999990000",
		DueDay:   dueDay,
		Active:   active,
	}
	w.payers.AddPayer(p)
	return p
}

func rule(trigger notification.Trigger, offset int) *notification.Rule {
	return &notification.Rule{
		ID:         uuid.New(),
		Name:       string(trigger),
		Trigger:    trigger,
		DaysOffset: offset,
		Template:   "Olá {{name}}",
		Email:      true,
		Active:     true,
	}
}

func names(rs []engine.Recipient) []string {
	var out []string
	for _, r := range rs {
		out = append(out, r.Payer.Name)
	}
	return out
}

// Reminder three days before day 10 fires on the 7th and only then.
func TestDue_ReminderThreeDaysBefore(t *testing.T) {
	w := newWorld(t)
	loc := saoPaulo(t)
	w.addPayer("ana", 10, true)
	w.addPayer("bruno", 15, true)
	w.addPayer("carla", 10, false)
	r := rule(notification.TriggerPaymentDueReminder, -3)

	got, err := w.engine.Due(context.Background(), w.tenant, r, time.Date(2024, 6, 7, 9, 0, 0, 0, loc))
	require.NoError(t, err)
	assert.Equal(t, []string{"ana"}, names(got))
	assert.True(t, time.Date(2024, 6, 10, 0, 0, 0, 0, loc).Equal(got[0].DueDate))

	for _, day := range []int{6, 8, 10} {
		got, err := w.engine.Due(context.Background(), w.tenant, r, time.Date(2024, 6, day, 9, 0, 0, 0, loc))
		require.NoError(t, err)
		assert.Empty(t, got, "day %d", day)
	}
}

// 01:30 UTC on the 7th is still the 6th in São Paulo.
func TestDue_UsesTenantCalendar(t *testing.T) {
	w := newWorld(t)
	w.addPayer("ana", 10, true)
	r := rule(notification.TriggerPaymentDueReminder, -3)

	got, err := w.engine.Due(context.Background(), w.tenant, r, time.Date(2024, 6, 7, 1, 30, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Empty(t, got)

	got, err = w.engine.Due(context.Background(), w.tenant, r, time.Date(2024, 6, 8, 1, 30, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, []string{"ana"}, names(got))
}

func TestDue_CrossesMonthBoundaries(t *testing.T) {
	w := newWorld(t)
	loc := saoPaulo(t)
	w.addPayer("ana", 2, true)
	w.addPayer("bruno", 28, true)
	w.addPayer("carla", 31, true)

	got, err := w.engine.Due(context.Background(), w.tenant, rule(notification.TriggerPaymentDueReminder, -3), time.Date(2024, 5, 30, 9, 0, 0, 0, loc))
	require.NoError(t, err)
	assert.Equal(t, []string{"ana"}, names(got), "reminder for June 2nd")

	got, err = w.engine.Due(context.Background(), w.tenant, rule(notification.TriggerPaymentOverdue, 3), time.Date(2024, 3, 2, 9, 0, 0, 0, loc))
	require.NoError(t, err)
	assert.Equal(t, []string{"bruno"}, names(got), "overdue since February 28th")

	got, err = w.engine.Due(context.Background(), w.tenant, rule(notification.TriggerPaymentOverdue, 1), time.Date(2024, 3, 1, 9, 0, 0, 0, loc))
	require.NoError(t, err)
	assert.Equal(t, []string{"carla"}, names(got), "day 31 clamps to February 29th")
}

func TestDueDate_Clamps(t *testing.T) {
	assert.Equal(t, time.Date(2023, 2, 28, 0, 0, 0, 0, time.UTC), engine.DueDate(2023, time.February, 31, time.UTC))
	assert.Equal(t, time.Date(2024, 4, 30, 0, 0, 0, 0, time.UTC), engine.DueDate(2024, time.April, 31, time.UTC))
	assert.Equal(t, time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC), engine.DueDate(2024, time.Month(13), 15, time.UTC))
}

func TestDue_UserRegistered(t *testing.T) {
	w := newWorld(t)
	loc := saoPaulo(t)
	p := w.addPayer("ana", 10, true)
	p.RegisteredAt = time.Date(2024, 6, 1, 22, 0, 0, 0, loc)
	w.payers.AddPayer(p)
	w.addPayer("bruno", 10, true)

	got, err := w.engine.Due(context.Background(), w.tenant, rule(notification.TriggerUserRegistered, 2), time.Date(2024, 6, 3, 8, 0, 0, 0, loc))
	require.NoError(t, err)
	assert.Equal(t, []string{"ana"}, names(got))
}

func TestDue_PaymentReceived(t *testing.T) {
	w := newWorld(t)
	loc := saoPaulo(t)
	p := w.addPayer("ana", 10, true)
	approvedAt := time.Date(2024, 6, 5, 14, 0, 0, 0, loc)
	w.txs.SetClock(func() time.Time { return approvedAt })
	require.NoError(t, w.txs.Create(context.Background(), &transaction.Transaction{
		ID:       uuid.New(),
		TenantID: w.tenant.ID,
		PayerID:  p.ID,
		Amount:   decimal.RequireFromString("75.00"),
		Method:   transaction.MethodPix,
		Status:   transaction.StatusApproved,
		Gateway:  "stripe",
	}))

	got, err := w.engine.Due(context.Background(), w.tenant, rule(notification.TriggerPaymentReceived, 0), time.Date(2024, 6, 5, 20, 0, 0, 0, loc))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.True(t, got[0].Amount.Equal(decimal.RequireFromString("75.00")))

	got, err = w.engine.Due(context.Background(), w.tenant, rule(notification.TriggerPaymentReceived, 1), time.Date(2024, 6, 6, 8, 0, 0, 0, loc))
	require.NoError(t, err)
	assert.Len(t, got, 1)

	got, err = w.engine.Due(context.Background(), w.tenant, rule(notification.TriggerPaymentReceived, 0), time.Date(2024, 6, 6, 8, 0, 0, 0, loc))
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestDue_InactiveRule(t *testing.T) {
	w := newWorld(t)
	w.addPayer("ana", 10, true)
	r := rule(notification.TriggerPaymentDueReminder, -3)
	r.Active = false

	got, err := w.engine.Due(context.Background(), w.tenant, r, time.Date(2024, 6, 7, 12, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Empty(t, got)
}

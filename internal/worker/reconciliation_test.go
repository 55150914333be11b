package worker

import (
	"context"
	"database/sql"
	"encoding/json"
	"testing"
	"time"

	"school-payments/internal/domain"
	"school-payments/internal/infrastructure/payment"
	"school-payments/internal/repo"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type tableGateway map[string]payment.StatusView

func (g tableGateway) CreateCollectRequest(context.Context, string, float64, string) payment.CollectRequest {
	return payment.CollectRequest{}
}

func (g tableGateway) CheckStatus(_ context.Context, _ string, collectRequestID string) payment.StatusView {
	if v, ok := g[collectRequestID]; ok {
		return v
	}
	return payment.PendingFallback("not found")
}

// racingStatusRepo lands a competing write right before each sweep update.
type racingStatusRepo struct {
	*repo.MemoryStore
}

func (r racingStatusRepo) UpdateStatus(ctx context.Context, tx *sql.Tx, orderID uuid.UUID, u domain.StatusUpdate) (bool, error) {
	if _, err := r.MemoryStore.UpdateStatus(ctx, tx, orderID, domain.StatusUpdate{
		Status: domain.PaymentFailed, PaymentTime: time.Now(),
	}); err != nil {
		return false, err
	}
	return r.MemoryStore.UpdateStatus(ctx, tx, orderID, u)
}

func seed(t *testing.T, m *repo.MemoryStore, collectID string, degraded bool, status domain.PaymentStatus) uuid.UUID {
	t.Helper()
	past := time.Now().Add(-time.Hour)
	order := &domain.Order{ID: uuid.New(), SchoolID: "S1", TrusteeID: "T1",
		StudentInfo: domain.DefaultStudentInfo, GatewayName: "edviron", CreatedAt: past, UpdatedAt: past}
	st := &domain.OrderStatus{ID: uuid.New(), OrderID: order.ID, CollectRequestID: &collectID, Degraded: degraded,
		OrderAmount: 100, TransactionAmount: 100, PaymentMode: domain.PaymentModeNotInitiated,
		Status: status, PaymentTime: past, Version: 1, CreatedAt: past, UpdatedAt: past}
	require.NoError(t, m.CreateOrder(context.Background(), nil, order))
	require.NoError(t, m.CreateStatus(context.Background(), nil, st))
	return order.ID
}

func TestSweep_AppliesLiveStatus(t *testing.T) {
	store := repo.NewMemoryStore()
	paid := seed(t, store, "cr-paid", false, domain.PaymentPending)
	waiting := seed(t, store, "cr-waiting", false, domain.PaymentNotInitiated)
	fallback := seed(t, store, "fallback-1", true, domain.PaymentNotInitiated)
	unreachable := seed(t, store, "cr-unreachable", false, domain.PaymentPending)

	gw := tableGateway{
		"cr-paid":    {Status: domain.PaymentSuccess, Amount: 99.5, Details: json.RawMessage(`{"mode":"upi"}`), Source: payment.SourceLive},
		"cr-waiting": {Status: domain.PaymentNotInitiated, Source: payment.SourceLive},
		"fallback-1": {Status: domain.PaymentSuccess, Source: payment.SourceLive},
	}
	rw := NewReconciliationWorker(store, store, gw, Options{StaleAfter: time.Minute}, zap.NewNop())

	res, err := rw.Sweep(context.Background())
	require.NoError(t, err)

	assert.Equal(t, SweepResult{Checked: 3, Updated: 1, Skipped: 2}, res)

	st, err := store.FindByOrderId(context.Background(), paid)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentSuccess, st.Status)
	assert.Equal(t, 99.5, st.TransactionAmount)
	assert.JSONEq(t, `{"mode":"upi"}`, *st.PaymentDetails)
	assert.Equal(t, 2, st.Version)

	for _, id := range []uuid.UUID{waiting, fallback, unreachable} {
		st, err := store.FindByOrderId(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, 1, st.Version, "untouched")
	}
}

func TestSweep_RespectsStaleness(t *testing.T) {
	store := repo.NewMemoryStore()
	seed(t, store, "cr-1", false, domain.PaymentPending)
	gw := tableGateway{"cr-1": {Status: domain.PaymentSuccess, Source: payment.SourceLive}}

	rw := NewReconciliationWorker(store, store, gw, Options{StaleAfter: 2 * time.Hour}, zap.NewNop())
	res, err := rw.Sweep(context.Background())

	require.NoError(t, err)
	assert.Zero(t, res.Checked)
}

func TestSweep_ConcurrentWriteWins(t *testing.T) {
	store := repo.NewMemoryStore()
	id := seed(t, store, "cr-1", false, domain.PaymentPending)
	gw := tableGateway{"cr-1": {Status: domain.PaymentSuccess, Source: payment.SourceLive}}

	rw := NewReconciliationWorker(store, racingStatusRepo{store}, gw, Options{StaleAfter: time.Minute}, zap.NewNop())
	res, err := rw.Sweep(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, res.Conflict)
	st, err := store.FindByOrderId(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentFailed, st.Status)
}

func TestSweep_CanceledContext(t *testing.T) {
	store := repo.NewMemoryStore()
	seed(t, store, "cr-1", false, domain.PaymentPending)
	seed(t, store, "cr-2", false, domain.PaymentPending)
	gw := tableGateway{}

	rw := NewReconciliationWorker(store, store, gw, Options{StaleAfter: time.Minute, RPS: 0.001}, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := rw.Sweep(ctx)
	assert.Error(t, err)
}

func TestRun_DisabledReturnsImmediately(t *testing.T) {
	rw := NewReconciliationWorker(repo.NewMemoryStore(), repo.NewMemoryStore(), tableGateway{}, Options{}, zap.NewNop())

	done := make(chan struct{})
	go func() {
		rw.Run(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return with a zero interval")
	}
}

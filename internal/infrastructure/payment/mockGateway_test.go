package payment

import (
	"context"
	"testing"

	"school-payments/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockGateway_SettleLifecycle(t *testing.T) {
	g := NewMockGateway(0, 100, 0)
	ctx := context.Background()

	req := g.CreateCollectRequest(ctx, "S1", 250, "https://cb")
	require.False(t, req.Degraded())

	view := g.CheckStatus(ctx, "S1", req.ID)
	assert.Equal(t, domain.PaymentPending, view.Status)
	assert.Zero(t, view.Amount)

	status, ok := g.Settle(req.ID)
	require.True(t, ok)
	assert.Equal(t, domain.PaymentSuccess, status)

	view = g.CheckStatus(ctx, "S1", req.ID)
	assert.False(t, view.Degraded())
	assert.Equal(t, domain.PaymentSuccess, view.Status)
	assert.Equal(t, 250.0, view.Amount)
}

func TestMockGateway_UnknownOrForeignSchool(t *testing.T) {
	g := NewMockGateway(0, 0, 0)
	ctx := context.Background()
	req := g.CreateCollectRequest(ctx, "S1", 250, "https://cb")

	assert.True(t, g.CheckStatus(ctx, "S2", req.ID).Degraded())
	assert.True(t, g.CheckStatus(ctx, "S1", "nope").Degraded())

	_, ok := g.Settle("nope")
	assert.False(t, ok)
}

func TestMockGateway_AlwaysDegrade(t *testing.T) {
	g := NewMockGateway(100, 0, 0)

	req := g.CreateCollectRequest(context.Background(), "S1", 250, "https://cb")

	assert.True(t, req.Degraded())
	assert.Contains(t, req.ID, "fallback-")
	assert.Len(t, g.requests, 1, "the gateway still registered a request the caller never learned about")
}

func TestMockGateway_CanceledContext(t *testing.T) {
	g := NewMockGateway(0, 0, 0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.True(t, g.CreateCollectRequest(ctx, "S1", 1, "https://cb").Degraded())
	assert.True(t, g.CheckStatus(ctx, "S1", "x").Degraded())
}

package payment

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"school-payments/internal/domain"

	"github.com/google/uuid"
)

type mockRequest struct {
	schoolID string
	amount   float64
	status   domain.PaymentStatus
	outcome  domain.PaymentStatus
}

// MockGateway is an in-process gateway for simulations. A share of create
// calls "time out": the gateway registers the request, but the caller only
// gets a degraded fallback and never learns the real id.
type MockGateway struct {
	mu          sync.RWMutex
	requests    map[string]*mockRequest
	degradePct  int
	successPct  int
	latency     time.Duration
	fallbackURL string
}

func NewMockGateway(degradePct, successPct int, latency time.Duration) *MockGateway {
	return &MockGateway{
		requests:    make(map[string]*mockRequest),
		degradePct:  degradePct,
		successPct:  successPct,
		latency:     latency,
		fallbackURL: "https://example.com/payment-fallback",
	}
}

func (g *MockGateway) CreateCollectRequest(ctx context.Context, schoolID string, amount float64, callbackURL string) CollectRequest {
	if err := g.wait(ctx); err != nil {
		return g.fallback(err.Error())
	}

	id := uuid.NewString()
	outcome := domain.PaymentFailed
	if rand.IntN(100) < g.successPct {
		outcome = domain.PaymentSuccess
	}

	g.mu.Lock()
	g.requests[id] = &mockRequest{schoolID: schoolID, amount: amount, status: domain.PaymentPending, outcome: outcome}
	g.mu.Unlock()

	if rand.IntN(100) < g.degradePct {
		return g.fallback("connection timeout")
	}
	return CollectRequest{
		ID:     id,
		URL:    "https://mock-gateway.local/pay/" + id,
		Sign:   "mock-sign-" + id,
		Source: SourceLive,
	}
}

func (g *MockGateway) CheckStatus(ctx context.Context, schoolID, collectRequestID string) StatusView {
	if err := g.wait(ctx); err != nil {
		return PendingFallback(err.Error())
	}

	g.mu.RLock()
	defer g.mu.RUnlock()

	req, ok := g.requests[collectRequestID]
	if !ok || req.schoolID != schoolID {
		return PendingFallback("collect request not found")
	}
	amount := 0.0
	if req.status != domain.PaymentPending {
		amount = req.amount
	}
	return StatusView{Status: req.status, Amount: amount, Source: SourceLive}
}

// Settle completes a pending request with its predetermined outcome and returns it.
func (g *MockGateway) Settle(collectRequestID string) (domain.PaymentStatus, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	req, ok := g.requests[collectRequestID]
	if !ok {
		return "", false
	}
	req.status = req.outcome
	return req.status, true
}

func (g *MockGateway) fallback(cause string) CollectRequest {
	return CollectRequest{
		ID:     "fallback-" + uuid.NewString(),
		URL:    g.fallbackURL,
		Source: SourceDegraded,
		Cause:  cause,
	}
}

func (g *MockGateway) wait(ctx context.Context) error {
	if g.latency <= 0 {
		return ctx.Err()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(g.latency):
		return nil
	}
}

package payment

import (
	"context"
	"encoding/json"

	"school-payments/internal/domain"
)

// Source tells whether a gateway result came from the gateway or was
// synthesized locally after the gateway could not be reached.
type Source string

const (
	SourceLive     Source = "live"
	SourceDegraded Source = "degraded"
)

// CollectRequest is the result of creating a collection request.
type CollectRequest struct {
	ID     string `json:"collect_request_id"`
	URL    string `json:"collect_request_url"`
	Sign   string `json:"sign"`
	Source Source `json:"source"`
	Cause  string `json:"cause,omitempty"`
}

func (c CollectRequest) Degraded() bool { return c.Source == SourceDegraded }

// StatusView is the gateway's view of a collection request.
type StatusView struct {
	Status  domain.PaymentStatus `json:"status"`
	Amount  float64              `json:"amount"`
	Details json.RawMessage      `json:"details"`
	Source  Source               `json:"source"`
	Cause   string               `json:"cause,omitempty"`
}

func (s StatusView) Degraded() bool { return s.Source == SourceDegraded }

// Gateway never fails: when the remote side is unavailable it returns a
// degraded result carrying the cause.
type Gateway interface {
	CreateCollectRequest(ctx context.Context, schoolID string, amount float64, callbackURL string) CollectRequest
	CheckStatus(ctx context.Context, schoolID, collectRequestID string) StatusView
}

// PendingFallback is the status view returned when the gateway cannot be queried.
func PendingFallback(cause string) StatusView {
	return StatusView{
		Status: domain.PaymentPending,
		Amount: 0,
		Source: SourceDegraded,
		Cause:  cause,
	}
}

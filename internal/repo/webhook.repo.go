package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"school-payments/internal/domain"

	"github.com/google/uuid"
)

// WebhookRepo is append-only.
type WebhookRepo interface {
	Append(ctx context.Context, webhook *domain.Webhook) error
	ListByCollectRequestId(ctx context.Context, collectRequestID string) ([]domain.Webhook, error)
}

type webhookRepo struct {
	db *sql.DB
}

func NewWebhookRepo(db *sql.DB) WebhookRepo {
	return &webhookRepo{db: db}
}

const webhookColumns = `id, event_type, payload, status, response, error, source, attempts, processed_at, created_at, updated_at`

func (r *webhookRepo) Append(ctx context.Context, w *domain.Webhook) error {
	prepareWebhook(w)
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO webhooks (`+webhookColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		w.ID,
		w.EventType,
		string(w.Payload),
		w.Status,
		nullableJSON(w.Response),
		w.Error,
		w.Source,
		w.Attempts,
		w.ProcessedAt,
		w.CreatedAt,
		w.UpdatedAt,
	)
	return err
}

func (r *webhookRepo) ListByCollectRequestId(ctx context.Context, collectRequestID string) ([]domain.Webhook, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+webhookColumns+` FROM webhooks WHERE payload->>'collect_request_id' = $1 ORDER BY created_at`,
		collectRequestID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var webhooks []domain.Webhook
	for rows.Next() {
		var (
			w        domain.Webhook
			payload  []byte
			response []byte
		)
		if err := rows.Scan(
			&w.ID,
			&w.EventType,
			&payload,
			&w.Status,
			&response,
			&w.Error,
			&w.Source,
			&w.Attempts,
			&w.ProcessedAt,
			&w.CreatedAt,
			&w.UpdatedAt,
		); err != nil {
			return nil, err
		}
		w.Payload = payload
		w.Response = response
		webhooks = append(webhooks, w)
	}
	return webhooks, rows.Err()
}

func prepareWebhook(w *domain.Webhook) {
	if w.ID == uuid.Nil {
		w.ID = uuid.New()
	}
	now := time.Now()
	if w.CreatedAt.IsZero() {
		w.CreatedAt = now
	}
	w.UpdatedAt = w.CreatedAt
	if len(w.Payload) == 0 {
		w.Payload = json.RawMessage("{}")
	}
}

func nullableJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

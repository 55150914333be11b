package repo

import (
	"context"
	"encoding/json"
	"regexp"
	"testing"
	"time"

	"school-payments/internal/domain"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWebhookRepo_Append(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO webhooks")).
		WithArgs(
			sqlmock.AnyArg(),
			domain.EventPaymentCallback,
			`{"collect_request_id":"cr-1"}`,
			"success",
			`{"updated":true}`,
			nil,
			"edviron",
			int64(1),
			sqlmock.AnyArg(),
			sqlmock.AnyArg(),
			sqlmock.AnyArg(),
		).
		WillReturnResult(sqlmock.NewResult(0, 1))

	w := &domain.Webhook{
		EventType: domain.EventPaymentCallback,
		Payload:   json.RawMessage(`{"collect_request_id":"cr-1"}`),
		Status:    domain.WebhookSuccess,
		Response:  json.RawMessage(`{"updated":true}`),
		Source:    "edviron",
		Attempts:  1,
	}
	require.NoError(t, NewWebhookRepo(db).Append(context.Background(), w))

	assert.NotEqual(t, uuid.Nil, w.ID)
	assert.False(t, w.CreatedAt.IsZero())
	assert.Equal(t, w.CreatedAt, w.UpdatedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWebhookRepo_AppendEmptyPayload(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO webhooks")).
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), "{}", sqlmock.AnyArg(), nil,
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	w := &domain.Webhook{EventType: domain.EventPaymentCallback, Status: domain.WebhookFailed, Source: "edviron", Attempts: 1}
	require.NoError(t, NewWebhookRepo(db).Append(context.Background(), w))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWebhookRepo_ListByCollectRequestId(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	now := time.Now().UTC()
	id := uuid.New()
	mock.ExpectQuery(regexp.QuoteMeta("FROM webhooks WHERE payload->>'collect_request_id' = $1")).
		WithArgs("cr-1").
		WillReturnRows(mock.NewRows([]string{
			"id", "event_type", "payload", "status", "response", "error", "source", "attempts",
			"processed_at", "created_at", "updated_at",
		}).AddRow(id.String(), "payment_callback", []byte(`{"collect_request_id":"cr-1"}`), "failed", nil,
			"boom", "edviron", int64(1), now, now, now))

	got, err := NewWebhookRepo(db).ListByCollectRequestId(context.Background(), "cr-1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, id, got[0].ID)
	assert.Equal(t, domain.WebhookFailed, got[0].Status)
	assert.JSONEq(t, `{"collect_request_id":"cr-1"}`, string(got[0].Payload))
	assert.Empty(t, got[0].Response)
	require.NotNil(t, got[0].Error)
	assert.Equal(t, "boom", *got[0].Error)
	assert.NoError(t, mock.ExpectationsWereMet())
}

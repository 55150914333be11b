package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"school-payments/internal/database"
	"school-payments/internal/domain"
	"school-payments/internal/infrastructure/payment"
	"school-payments/internal/infrastructure/signing"
	"school-payments/internal/repo"
	"school-payments/internal/server"
	"school-payments/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// ---- concrete mock implementing service.PaymentService ----

type mockPaymentSvc struct {
	created   *service.CreatePaymentResult
	createErr error
	report    *service.StatusReport
	statusErr error
	callback  *service.CallbackResult
	cbErr     error

	gotInput    service.CreatePaymentInput
	gotSchool   string
	gotID       string
	gotRaw      json.RawMessage
	gotCallback domain.CallbackPayload
}

func (m *mockPaymentSvc) CreatePayment(ctx context.Context, in service.CreatePaymentInput) (*service.CreatePaymentResult, error) {
	m.gotInput = in
	return m.created, m.createErr
}

func (m *mockPaymentSvc) CheckStatus(ctx context.Context, schoolID, identifier string) (*service.StatusReport, error) {
	m.gotSchool, m.gotID = schoolID, identifier
	return m.report, m.statusErr
}

func (m *mockPaymentSvc) HandleCallback(ctx context.Context, p domain.CallbackPayload, raw json.RawMessage) (*service.CallbackResult, error) {
	m.gotCallback, m.gotRaw = p, raw
	return m.callback, m.cbErr
}

type staticHealth map[string]string

func (h staticHealth) Health(context.Context) map[string]string { return h }

// ---- helpers ----

func setupRouter(svc service.PaymentService, health server.HealthChecker) *gin.Engine {
	gin.SetMode(gin.TestMode)
	return server.NewRouter(server.NewPaymentHandler(svc, zap.NewNop()), health, []string{"*"}, zap.NewNop())
}

func do(r http.Handler, method, target, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

// ---- create-payment ----

func TestCreatePayment_JSON(t *testing.T) {
	svc := &mockPaymentSvc{created: &service.CreatePaymentResult{
		CollectRequestID:  "cr-1",
		CollectRequestURL: "https://gw.test/pay/cr-1",
		Sign:              "sig",
		OrderID:           uuid.New(),
		OrderStatusID:     uuid.New(),
	}}
	r := setupRouter(svc, nil)

	w := do(r, http.MethodPost, "/create-payment",
		`{"school_id":"S1","amount":500,"callback_url":"https://cb","student_info":{"name":"A","id":"1","email":"a@b.c"}}`)

	assert.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "cr-1", body["collect_request_id"])
	assert.Equal(t, "https://gw.test/pay/cr-1", body["collect_request_url"])
	assert.Equal(t, false, body["degraded"])
	assert.Equal(t, svc.created.OrderID.String(), body["order_id"])
	assert.Equal(t, 500.0, svc.gotInput.Amount)
	require.NotNil(t, svc.gotInput.StudentInfo)
	assert.Equal(t, "A", svc.gotInput.StudentInfo.Name)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestCreatePayment_Redirect(t *testing.T) {
	svc := &mockPaymentSvc{created: &service.CreatePaymentResult{CollectRequestURL: "https://gw.test/pay/cr-1"}}
	r := setupRouter(svc, nil)

	w := do(r, http.MethodPost, "/create-payment?redirect=true", `{"school_id":"S1","amount":500,"callback_url":"https://cb"}`)

	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "https://gw.test/pay/cr-1", w.Header().Get("Location"))
}

func TestCreatePayment_Errors(t *testing.T) {
	tests := []struct {
		name string
		body string
		err  error
		code int
		msg  string
	}{
		{"malformed body", `{"school_id":`, nil, http.StatusBadRequest, "invalid request body"},
		{"validation", `{}`, domain.Validation("missing required fields: school_id, amount, or callback_url"),
			http.StatusBadRequest, "missing required fields: school_id, amount, or callback_url"},
		{"persistence", `{}`, domain.Persistence("failed to create payment", errors.New("db down")),
			http.StatusInternalServerError, "failed to create payment"},
		{"duplicate custom order id", `{}`, domain.Conflict("custom_order_id already exists", domain.ErrDuplicate),
			http.StatusConflict, "custom_order_id already exists"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := setupRouter(&mockPaymentSvc{createErr: tt.err}, nil)

			w := do(r, http.MethodPost, "/create-payment", tt.body)

			assert.Equal(t, tt.code, w.Code)
			assert.Equal(t, tt.msg, decode(t, w)["error"])
		})
	}
}

// ---- check-status ----

func TestCheckStatus(t *testing.T) {
	svc := &mockPaymentSvc{report: &service.StatusReport{
		GatewayStatus: payment.StatusView{Status: domain.PaymentSuccess, Amount: 500, Source: payment.SourceLive},
	}}
	r := setupRouter(svc, nil)

	w := do(r, http.MethodGet, "/check-status/cr-1?school_id=S1", "")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "S1", svc.gotSchool)
	assert.Equal(t, "cr-1", svc.gotID)
	body := decode(t, w)
	assert.Nil(t, body["db_status"])
	gateway := body["gateway_status"].(map[string]any)
	assert.Equal(t, "SUCCESS", gateway["status"])
	assert.Equal(t, "live", gateway["source"])
}

func TestCheckStatus_MissingIdentifier(t *testing.T) {
	svc := &mockPaymentSvc{statusErr: domain.Validation("missing required fields: collect_request_id or school_id")}
	r := setupRouter(svc, nil)

	w := do(r, http.MethodGet, "/check-status?school_id=S1", "")

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, svc.gotID)
}

// ---- payment-callback ----

func TestPaymentCallback_Acknowledged(t *testing.T) {
	svc := &mockPaymentSvc{callback: &service.CallbackResult{Updated: true, Logged: true}}
	r := setupRouter(svc, nil)
	raw := `{"payment_status":"SUCCESS","collect_request_id":"cr-1","vendor_field":42}`

	w := do(r, http.MethodPost, "/payment-callback", raw)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"updated":true}`, w.Body.String())
	assert.JSONEq(t, raw, string(svc.gotRaw))
	assert.Equal(t, "cr-1", svc.gotCallback.CollectRequestID)
	assert.Contains(t, svc.gotCallback.Extra, "vendor_field")
}

func TestPaymentCallback_Unrecorded(t *testing.T) {
	r := setupRouter(&mockPaymentSvc{callback: &service.CallbackResult{}}, nil)

	w := do(r, http.MethodPost, "/payment-callback", `{"payment_status":"SUCCESS","collect_request_id":"cr-1"}`)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestPaymentCallback_Rejected(t *testing.T) {
	tests := []struct {
		name string
		body string
		err  error
		code int
	}{
		{"not json", `payment_status=SUCCESS`, nil, http.StatusBadRequest},
		{"missing fields", `{}`, domain.Validation("missing required callback data: payment_status or collect_request_id"), http.StatusBadRequest},
		{"bad signature", `{"payment_status":"SUCCESS","collect_request_id":"cr-1"}`, domain.Unauthorized("invalid callback signature"), http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := setupRouter(&mockPaymentSvc{cbErr: tt.err}, nil)

			w := do(r, http.MethodPost, "/payment-callback", tt.body)

			assert.Equal(t, tt.code, w.Code)
		})
	}
}

// ---- end to end over the in-memory store ----

func setupEngine(t *testing.T) (*gin.Engine, *repo.MemoryStore) {
	t.Helper()
	store := repo.NewMemoryStore()
	svc := service.NewPaymentService(
		database.NoTx{}, store, store, store,
		payment.NewMockGateway(0, 100, 0),
		signing.NewSigner("pg-key"),
		service.Options{GatewayName: "edviron", DefaultTrusteeID: "trustee-1"},
		zap.NewNop(),
	)
	return setupRouter(svc, nil), store
}

func TestEngine_CreateCallbackCheckStatus(t *testing.T) {
	r, store := setupEngine(t)

	w := do(r, http.MethodPost, "/create-payment", `{"school_id":"S1","amount":"500","callback_url":"https://cb"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	collectID := decode(t, w)["collect_request_id"].(string)

	w = do(r, http.MethodPost, "/payment-callback",
		`{"payment_status":"SUCCESS","collect_request_id":"`+collectID+`","bank_reference":12345,"payment_mode":"upi"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.JSONEq(t, `{"updated":true}`, w.Body.String())

	w = do(r, http.MethodGet, "/check-status/"+collectID+"?school_id=S1", "")
	require.Equal(t, http.StatusOK, w.Code)
	db := decode(t, w)["db_status"].(map[string]any)
	assert.Equal(t, "SUCCESS", db["status"])
	assert.Equal(t, "12345", db["bank_reference"])
	assert.Equal(t, "upi", db["payment_mode"])
	assert.Equal(t, 500.0, db["order_amount"])

	_, _, webhooks := store.Counts()
	assert.Equal(t, 1, webhooks)
}

func TestEngine_CallbackForUnknownCollectRequest(t *testing.T) {
	r, store := setupEngine(t)

	w := do(r, http.MethodPost, "/payment-callback", `{"payment_status":"SUCCESS","collect_request_id":"nope"}`)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"updated":false}`, w.Body.String())
	orders, statuses, webhooks := store.Counts()
	assert.Zero(t, orders+statuses)
	assert.Equal(t, 1, webhooks)
}

func TestEngine_CallbackOptionalFieldsOfAnyShape(t *testing.T) {
	bodies := map[string]string{
		"numeric bank reference": `{"payment_status":"SUCCESS","collect_request_id":"X","bank_reference":12345}`,
		"non rfc3339 time":       `{"payment_status":"SUCCESS","collect_request_id":"X","payment_time":"01/01/2024 10:00"}`,
		"object payment mode":    `{"payment_status":"SUCCESS","collect_request_id":"X","payment_mode":{"type":"upi"}}`,
		"array error message":    `{"payment_status":"FAILED","collect_request_id":"X","error_message":["a","b"]}`,
		"numeric sign":           `{"payment_status":"SUCCESS","collect_request_id":"X","sign":7}`,
		"null optional fields":   `{"payment_status":"SUCCESS","collect_request_id":"X","payment_time":null,"bank_reference":null}`,
	}
	for name, body := range bodies {
		t.Run(name, func(t *testing.T) {
			r, store := setupEngine(t)

			w := do(r, http.MethodPost, "/payment-callback", body)

			assert.Equal(t, http.StatusOK, w.Code, w.Body.String())
			hooks, err := store.ListByCollectRequestId(context.Background(), "X")
			require.NoError(t, err)
			require.Len(t, hooks, 1)
			assert.Equal(t, domain.WebhookSuccess, hooks[0].Status)
			assert.JSONEq(t, body, string(hooks[0].Payload))
		})
	}
}

func TestEngine_CallbackMissingRequiredFields(t *testing.T) {
	for _, body := range []string{
		`{"collect_request_id":"X"}`,
		`{"payment_status":"SUCCESS","collect_request_id":42}`,
		`null`,
	} {
		r, store := setupEngine(t)

		w := do(r, http.MethodPost, "/payment-callback", body)

		assert.Equal(t, http.StatusBadRequest, w.Code, body)
		_, _, webhooks := store.Counts()
		assert.Zero(t, webhooks, body)
	}
}

func TestEngine_DuplicateCustomOrderID(t *testing.T) {
	r, _ := setupEngine(t)
	body := `{"school_id":"S1","amount":500,"callback_url":"https://cb","custom_order_id":"INV-1"}`

	require.Equal(t, http.StatusOK, do(r, http.MethodPost, "/create-payment", body).Code)
	w := do(r, http.MethodPost, "/create-payment", body)

	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "custom_order_id already exists", decode(t, w)["error"])
}

// ---- health ----

func TestHealth(t *testing.T) {
	w := do(setupRouter(&mockPaymentSvc{}, nil), http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(setupRouter(&mockPaymentSvc{}, staticHealth{"status": "down"}), http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "down", decode(t, w)["status"])
}

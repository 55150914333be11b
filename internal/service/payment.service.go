package service

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"school-payments/internal/database"
	"school-payments/internal/domain"
	"school-payments/internal/infrastructure/payment"
	"school-payments/internal/infrastructure/signing"
	"school-payments/internal/repo"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefaultPaymentDetails is stored when a callback carries no payment details.
const DefaultPaymentDetails = "No payment details provided"

// PaymentService keeps the gateway, the Order/OrderStatus pair and the webhook
// log consistent enough to answer "what is the status of this payment".
type PaymentService interface {
	CreatePayment(ctx context.Context, in CreatePaymentInput) (*CreatePaymentResult, error)
	CheckStatus(ctx context.Context, schoolID, identifier string) (*StatusReport, error)
	// HandleCallback ingests a gateway notification. raw is the body as
	// received and is logged verbatim.
	HandleCallback(ctx context.Context, payload domain.CallbackPayload, raw json.RawMessage) (*CallbackResult, error)
}

type Options struct {
	GatewayName      string
	DefaultTrusteeID string
	// StrictOrdering rejects callbacks whose payment_time is older than the stored one.
	StrictOrdering bool
	// VerifySignature requires callbacks to carry a valid sign.
	VerifySignature bool
}

type CreatePaymentInput struct {
	SchoolID      string              `json:"school_id"`
	Amount        float64             `json:"amount"`
	CallbackURL   string              `json:"callback_url"`
	StudentInfo   *domain.StudentInfo `json:"student_info,omitempty"`
	TrusteeID     string              `json:"trustee_id,omitempty"`
	GatewayName   string              `json:"gateway_name,omitempty"`
	CustomOrderID string              `json:"custom_order_id,omitempty"`
}

// UnmarshalJSON accepts amount as a JSON number or a numeric string.
func (in *CreatePaymentInput) UnmarshalJSON(data []byte) error {
	type plain CreatePaymentInput
	aux := struct {
		*plain
		Amount json.RawMessage `json:"amount"`
	}{plain: (*plain)(in)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	amount, err := parseAmount(aux.Amount)
	if err != nil {
		return err
	}
	in.Amount = amount
	return nil
}

// parseAmount yields 0 for an absent, null or blank amount so validation
// reports it as missing.
func parseAmount(raw json.RawMessage) (float64, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return 0, nil
	}
	var n float64
	if err := json.Unmarshal(raw, &n); err == nil {
		return n, nil
	}
	var text string
	if err := json.Unmarshal(raw, &text); err != nil {
		return 0, fmt.Errorf("amount: %w", err)
	}
	if text = strings.TrimSpace(text); text == "" {
		return 0, nil
	}
	n, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return 0, fmt.Errorf("amount %q is not a number", text)
	}
	return n, nil
}

type CreatePaymentResult struct {
	CollectRequestID  string    `json:"collect_request_id"`
	CollectRequestURL string    `json:"collect_request_url"`
	Sign              string    `json:"sign"`
	Degraded          bool      `json:"degraded"`
	DegradedCause     string    `json:"degraded_cause,omitempty"`
	OrderID           uuid.UUID `json:"order_id"`
	OrderStatusID     uuid.UUID `json:"order_status_id"`
}

// StatusReport holds both views side by side; they are not reconciled.
type StatusReport struct {
	GatewayStatus payment.StatusView        `json:"gateway_status"`
	DBStatus      *domain.OrderStatusDetail `json:"db_status"`
}

type CallbackResult struct {
	Updated bool `json:"updated"`
	// Logged is false only when no webhook record could be written at all.
	Logged bool `json:"-"`
}

type paymentService struct {
	tx          database.Transactor
	orderRepo   repo.OrderRepo
	statusRepo  repo.StatusRepo
	webhookRepo repo.WebhookRepo
	gateway     payment.Gateway
	signer      signing.Signer
	opts        Options
	logger      *zap.Logger
}

func NewPaymentService(
	tx database.Transactor,
	orderRepo repo.OrderRepo,
	statusRepo repo.StatusRepo,
	webhookRepo repo.WebhookRepo,
	gateway payment.Gateway,
	signer signing.Signer,
	opts Options,
	logger *zap.Logger,
) PaymentService {
	return &paymentService{
		tx:          tx,
		orderRepo:   orderRepo,
		statusRepo:  statusRepo,
		webhookRepo: webhookRepo,
		gateway:     gateway,
		signer:      signer,
		opts:        opts,
		logger:      logger,
	}
}

func (s *paymentService) CreatePayment(ctx context.Context, in CreatePaymentInput) (*CreatePaymentResult, error) {
	in.SchoolID = strings.TrimSpace(in.SchoolID)
	in.CallbackURL = strings.TrimSpace(in.CallbackURL)
	if in.SchoolID == "" || in.Amount <= 0 || in.CallbackURL == "" {
		return nil, domain.Validation("missing required fields: school_id, amount, or callback_url")
	}

	student := domain.DefaultStudentInfo
	if in.StudentInfo != nil && !in.StudentInfo.IsZero() {
		if !in.StudentInfo.Complete() {
			return nil, domain.Validation("student_info requires name, id and email")
		}
		student = *in.StudentInfo
	}

	now := time.Now().UTC()
	order := &domain.Order{
		ID:          uuid.New(),
		SchoolID:    in.SchoolID,
		TrusteeID:   firstNonEmpty(in.TrusteeID, s.opts.DefaultTrusteeID),
		StudentInfo: student,
		GatewayName: firstNonEmpty(in.GatewayName, s.opts.GatewayName),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if custom := strings.TrimSpace(in.CustomOrderID); custom != "" {
		order.CustomOrderID = &custom
	}
	status := &domain.OrderStatus{
		ID:                uuid.New(),
		OrderID:           order.ID,
		OrderAmount:       in.Amount,
		TransactionAmount: in.Amount,
		PaymentMode:       domain.PaymentModeNotInitiated,
		Status:            domain.PaymentNotInitiated,
		PaymentTime:       now,
		Version:           1,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	// Order and OrderStatus are written together, before the gateway call.
	err := s.tx.WithinTx(ctx, func(tx *sql.Tx) error {
		if err := s.orderRepo.CreateOrder(ctx, tx, order); err != nil {
			return fmt.Errorf("create order: %w", err)
		}
		if err := s.statusRepo.CreateStatus(ctx, tx, status); err != nil {
			return fmt.Errorf("create order status: %w", err)
		}
		return nil
	})
	if errors.Is(err, domain.ErrDuplicate) {
		return nil, domain.Conflict("custom_order_id already exists", err)
	}
	if err != nil {
		return nil, domain.Persistence("failed to create payment", err)
	}

	gw := s.gateway.CreateCollectRequest(ctx, in.SchoolID, in.Amount, in.CallbackURL)
	if gw.Degraded() {
		s.logger.Warn("payment created with degraded gateway result",
			zap.String("order_id", order.ID.String()),
			zap.String("collect_request_id", gw.ID),
			zap.String("cause", gw.Cause),
		)
	}

	if err := s.statusRepo.AttachCollectRequest(ctx, nil, order.ID, gw.ID, gw.Degraded()); err != nil {
		return nil, domain.Persistence("failed to record collect request", err)
	}

	s.logger.Info("payment created",
		zap.String("order_id", order.ID.String()),
		zap.String("school_id", order.SchoolID),
		zap.String("collect_request_id", gw.ID),
		zap.Bool("degraded", gw.Degraded()),
	)

	return &CreatePaymentResult{
		CollectRequestID:  gw.ID,
		CollectRequestURL: gw.URL,
		Sign:              gw.Sign,
		Degraded:          gw.Degraded(),
		DegradedCause:     gw.Cause,
		OrderID:           order.ID,
		OrderStatusID:     status.ID,
	}, nil
}

func (s *paymentService) CheckStatus(ctx context.Context, schoolID, identifier string) (*StatusReport, error) {
	schoolID = strings.TrimSpace(schoolID)
	identifier = strings.TrimSpace(identifier)
	if schoolID == "" || identifier == "" {
		return nil, domain.Validation("missing required fields: collect_request_id or school_id")
	}

	detail, err := s.resolveDetail(ctx, identifier)
	if err != nil {
		return nil, domain.Persistence("failed to load order status", err)
	}
	if detail != nil && detail.Order != nil && detail.Order.SchoolID != schoolID {
		detail = nil
	}

	// The gateway only knows collect request ids; map order ids when we can.
	gatewayID := identifier
	if detail != nil && detail.CollectRequestID != nil {
		gatewayID = *detail.CollectRequestID
	}

	return &StatusReport{
		GatewayStatus: s.gateway.CheckStatus(ctx, schoolID, gatewayID),
		DBStatus:      detail,
	}, nil
}

func (s *paymentService) HandleCallback(ctx context.Context, p domain.CallbackPayload, raw json.RawMessage) (*CallbackResult, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		var err error
		if raw, err = json.Marshal(p); err != nil {
			return nil, domain.Validation("callback payload is not valid JSON")
		}
	}

	if s.opts.VerifySignature {
		if err := s.verify(p); err != nil {
			s.logger.Warn("callback signature rejected",
				zap.String("collect_request_id", p.CollectRequestID),
				zap.Error(err),
			)
			s.recordFailure(ctx, raw, err)
			return nil, domain.Unauthorized("invalid callback signature")
		}
	}

	result := &CallbackResult{}
	err := s.ingest(ctx, p, raw, result)
	if err == nil {
		return result, nil
	}

	// Once acknowledged the sender will not redeliver, so a local failure is
	// recorded for out-of-band reconciliation instead of being surfaced.
	s.logger.Error("callback processing failed",
		zap.String("collect_request_id", p.CollectRequestID),
		zap.String("payment_status", string(p.PaymentStatus)),
		zap.Error(err),
	)
	if s.recordFailure(ctx, raw, err) {
		result.Logged = true
	}
	return result, nil
}

func (s *paymentService) ingest(ctx context.Context, p domain.CallbackPayload, raw json.RawMessage, result *CallbackResult) error {
	now := time.Now().UTC()
	received := &domain.Webhook{
		EventType:   domain.EventPaymentCallback,
		Payload:     raw,
		Status:      domain.WebhookSuccess,
		Source:      s.opts.GatewayName,
		Attempts:    1,
		ProcessedAt: &now,
	}
	if err := s.webhookRepo.Append(ctx, received); err != nil {
		return fmt.Errorf("append webhook: %w", err)
	}
	result.Logged = true

	status, err := s.resolveStatus(ctx, p.CollectRequestID)
	if err != nil {
		return fmt.Errorf("resolve order status: %w", err)
	}
	if status == nil {
		s.logger.Info("callback for unknown collect request acknowledged",
			zap.String("collect_request_id", p.CollectRequestID),
		)
		return nil
	}

	updated, err := s.statusRepo.UpdateStatus(ctx, nil, status.OrderID, s.callbackUpdate(p, now))
	if err != nil {
		return fmt.Errorf("update order status: %w", err)
	}
	if !updated {
		s.logger.Info("stale callback not applied",
			zap.String("collect_request_id", p.CollectRequestID),
			zap.String("payment_status", string(p.PaymentStatus)),
		)
	}
	result.Updated = updated
	return nil
}

// callbackUpdate overwrites every field it touches, so applying the same
// payload twice yields the same record.
func (s *paymentService) callbackUpdate(p domain.CallbackPayload, now time.Time) domain.StatusUpdate {
	u := domain.StatusUpdate{
		Status:         p.PaymentStatus,
		PaymentTime:    now,
		PaymentDetails: p.DetailsText(),
	}
	if u.PaymentDetails == nil {
		details := DefaultPaymentDetails
		u.PaymentDetails = &details
	}
	if s.opts.StrictOrdering && p.PaymentTime != nil {
		at := p.PaymentTime.UTC()
		u.PaymentTime = at
		u.NotAfter = &at
	}

	if p.PaymentStatus == domain.PaymentSuccess {
		bankRef := ""
		if p.BankReference != nil {
			bankRef = *p.BankReference
		}
		message := "Payment successful"
		if p.PaymentMessage != nil {
			message = *p.PaymentMessage
		}
		u.BankReference = &bankRef
		u.PaymentMode = p.PaymentMode
		u.PaymentMessage = &message
		return u
	}

	errMsg := "Payment not successful: " + string(p.PaymentStatus)
	if p.ErrorMessage != nil && *p.ErrorMessage != "" {
		errMsg = *p.ErrorMessage
	}
	u.ErrorMessage = &errMsg
	return u
}

// recordFailure appends the secondary failure record. Its own failure is only
// logged at debug level.
func (s *paymentService) recordFailure(ctx context.Context, raw json.RawMessage, cause error) bool {
	errText := cause.Error()
	failed := &domain.Webhook{
		EventType: domain.EventPaymentCallback,
		Payload:   raw,
		Status:    domain.WebhookFailed,
		Error:     &errText,
		Source:    s.opts.GatewayName,
		Attempts:  1,
	}
	if err := s.webhookRepo.Append(ctx, failed); err != nil {
		s.logger.Debug("failed to record webhook failure", zap.Error(err), zap.NamedError("cause", cause))
		return false
	}
	return true
}

func (s *paymentService) verify(p domain.CallbackPayload) error {
	if p.Sign == "" {
		return fmt.Errorf("%w: missing sign", signing.ErrInvalidSign)
	}
	claims, err := s.signer.Verify(p.Sign)
	if err != nil {
		return err
	}
	if claims["collect_request_id"] != p.CollectRequestID || claims["payment_status"] != string(p.PaymentStatus) {
		return fmt.Errorf("%w: claims do not match payload", signing.ErrInvalidSign)
	}
	return nil
}

// resolveStatus treats identifier as a collect request id first, then as an
// order id or custom order id.
func (s *paymentService) resolveStatus(ctx context.Context, identifier string) (*domain.OrderStatus, error) {
	status, err := s.statusRepo.FindByCollectRequestId(ctx, identifier)
	if err != nil || status != nil {
		return status, err
	}
	order, err := s.orderRepo.FindById(ctx, identifier)
	if err != nil || order == nil {
		return nil, err
	}
	return s.statusRepo.FindByOrderId(ctx, order.ID)
}

func (s *paymentService) resolveDetail(ctx context.Context, identifier string) (*domain.OrderStatusDetail, error) {
	status, err := s.resolveStatus(ctx, identifier)
	if err != nil || status == nil {
		return nil, err
	}
	order, err := s.orderRepo.FindById(ctx, status.OrderID.String())
	if err != nil {
		return nil, err
	}
	return &domain.OrderStatusDetail{OrderStatus: *status, Order: order}, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

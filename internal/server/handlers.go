package server

import (
	"encoding/json"
	"net/http"

	"school-payments/internal/domain"
	"school-payments/internal/service"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type PaymentHandler struct {
	svc    service.PaymentService
	logger *zap.Logger
}

func NewPaymentHandler(svc service.PaymentService, logger *zap.Logger) *PaymentHandler {
	return &PaymentHandler{svc: svc, logger: logger}
}

// CreatePayment handles POST /create-payment. With ?redirect=true the client
// is sent to the gateway payment page instead of getting JSON.
func (h *PaymentHandler) CreatePayment(c *gin.Context) {
	var in service.CreatePaymentInput
	if err := c.ShouldBindJSON(&in); err != nil {
		h.respondError(c, domain.Validation("invalid request body"))
		return
	}

	res, err := h.svc.CreatePayment(c.Request.Context(), in)
	if err != nil {
		h.respondError(c, err)
		return
	}

	if c.Query("redirect") == "true" && res.CollectRequestURL != "" {
		c.Redirect(http.StatusFound, res.CollectRequestURL)
		return
	}
	c.JSON(http.StatusOK, res)
}

// CheckStatus handles GET /check-status/:collect_request_id?school_id=...
func (h *PaymentHandler) CheckStatus(c *gin.Context) {
	report, err := h.svc.CheckStatus(c.Request.Context(), c.Query("school_id"), c.Param("collect_request_id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

// PaymentCallback handles POST /payment-callback.
func (h *PaymentHandler) PaymentCallback(c *gin.Context) {
	raw, err := c.GetRawData()
	if err != nil {
		h.respondError(c, domain.Validation("invalid request body"))
		return
	}
	var payload domain.CallbackPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		h.respondError(c, domain.Validation("invalid request body"))
		return
	}

	res, err := h.svc.HandleCallback(c.Request.Context(), payload, raw)
	if err != nil {
		h.respondError(c, err)
		return
	}
	if !res.Logged {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "callback could not be recorded"})
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *PaymentHandler) respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch domain.KindOf(err) {
	case domain.KindValidation:
		status = http.StatusBadRequest
	case domain.KindUnauthorized:
		status = http.StatusUnauthorized
	case domain.KindConflict:
		status = http.StatusConflict
	}

	if status >= 500 {
		h.logger.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
	} else {
		h.logger.Warn("request rejected", zap.String("path", c.FullPath()), zap.Error(err))
	}
	c.JSON(status, gin.H{"error": domain.Message(err)})
}

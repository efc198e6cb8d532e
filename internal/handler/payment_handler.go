package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"payment-orchestration/internal/models"
	"payment-orchestration/internal/service"
)

type PaymentHandler struct {
	initiation     *service.InitiationService
	reconciliation *service.ReconciliationService
	logger         *zap.Logger
}

func NewPaymentHandler(initiation *service.InitiationService, reconciliation *service.ReconciliationService, logger *zap.Logger) *PaymentHandler {
	return &PaymentHandler{
		initiation:     initiation,
		reconciliation: reconciliation,
		logger:         logger,
	}
}

type initiatePaymentRequest struct {
	Reference      string          `json:"reference" binding:"required"`
	OrderRef       string          `json:"order_ref" binding:"required"`
	CustomerRef    string          `json:"customer_ref" binding:"required"`
	PaymentMethod  string          `json:"payment_method" binding:"required"`
	PaymentVariant string          `json:"payment_variant"`
	AccountNumber  string          `json:"account_number" binding:"required"`
	Amount         decimal.Decimal `json:"amount"`
	Currency       string          `json:"currency" binding:"required,len=3"`
}

type confirmPaymentRequest struct {
	OTP string `json:"otp" binding:"required"`
}

type paymentResponse struct {
	Payment models.PaymentRecord     `json:"payment"`
	Outcome models.InitiationOutcome `json:"outcome"`
	Error   string                   `json:"error,omitempty"`
}

// respond writes the outcome of an initiation or confirmation. A stored record
// is always returned, also for declines and provider failures.
func (h *PaymentHandler) respond(c *gin.Context, res service.InitiationResult, err error, okStatus int) {
	if err == nil {
		c.JSON(okStatus, paymentResponse{Payment: res.Record, Outcome: res.Outcome})
		return
	}

	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.logger.Error("payment request failed", zap.Error(err), zap.String("request_id", c.GetString("request_id")))
	}
	if res.Record.Reference == "" || status == http.StatusConflict {
		c.JSON(status, errorBody(err, status))
		return
	}
	c.JSON(status, paymentResponse{Payment: res.Record, Outcome: res.Outcome, Error: errorBody(err, status)["error"].(string)})
}

// InitiatePayment handles POST /api/v1/payments
func (h *PaymentHandler) InitiatePayment(c *gin.Context) {
	var req initiatePaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	rec := models.NewPaymentRecord(req.Reference, req.OrderRef, req.CustomerRef, req.AccountNumber, req.Amount, req.Currency, time.Now().UTC())
	res, err := h.initiation.Initiate(c.Request.Context(), rec, req.PaymentMethod, req.PaymentVariant)
	h.respond(c, res, err, http.StatusCreated)
}

// ConfirmPayment handles POST /api/v1/payments/:reference/confirm
func (h *PaymentHandler) ConfirmPayment(c *gin.Context) {
	var req confirmPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	res, err := h.initiation.Confirm(c.Request.Context(), c.Param("reference"), req.OTP)
	h.respond(c, res, err, http.StatusOK)
}

// RetryPayment handles POST /api/v1/payments/:reference/retry
func (h *PaymentHandler) RetryPayment(c *gin.Context) {
	res, err := h.initiation.Retry(c.Request.Context(), c.Param("reference"))
	h.respond(c, res, err, http.StatusOK)
}

// GetPayment handles GET /api/v1/payments/:reference
func (h *PaymentHandler) GetPayment(c *gin.Context) {
	rec, snaps, err := h.reconciliation.Payment(c.Request.Context(), c.Param("reference"))
	if err != nil {
		status := statusFor(err)
		c.JSON(status, errorBody(err, status))
		return
	}

	c.JSON(http.StatusOK, gin.H{"payment": rec, "snapshots": snaps})
}

// VerifyPayment handles POST /api/v1/payments/:reference/verify
func (h *PaymentHandler) VerifyPayment(c *gin.Context) {
	rec, d, err := h.reconciliation.Verify(c.Request.Context(), c.Param("reference"))
	if err != nil {
		status := statusFor(err)
		if status == http.StatusInternalServerError {
			h.logger.Error("payment verification failed", zap.Error(err))
		}
		c.JSON(status, errorBody(err, status))
		return
	}

	c.JSON(http.StatusOK, gin.H{"payment": rec, "result": d})
}

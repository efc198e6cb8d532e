package handler

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"payment-orchestration/internal/gateway"
	"payment-orchestration/internal/service"
)

const maxCallbackBody = 1 << 20

type CallbackHandler struct {
	reconciliation *service.ReconciliationService
	logger         *zap.Logger
}

func NewCallbackHandler(reconciliation *service.ReconciliationService, logger *zap.Logger) *CallbackHandler {
	return &CallbackHandler{reconciliation: reconciliation, logger: logger}
}

// Register mounts POST /<lower-case code> for every gateway that sends
// notifications.
func (h *CallbackHandler) Register(group *gin.RouterGroup, registry *gateway.Registry) {
	for _, code := range registry.CallbackCodes() {
		group.POST("/"+strings.ToLower(code), h.Handle(code))
	}
}

// Handle answers a provider notification with the exact bytes that provider
// expects. Processing failures return 500 so the provider redelivers.
func (h *CallbackHandler) Handle(gatewayCode string) gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxCallbackBody))
		if err != nil {
			c.String(http.StatusBadRequest, "unreadable body")
			return
		}

		res, err := h.reconciliation.HandleCallback(c.Request.Context(), gatewayCode, gateway.CallbackRequest{
			Body:   body,
			Header: c.Request.Header.Clone(),
		})
		if errors.Is(err, service.ErrUnsupportedGateway) {
			c.String(http.StatusNotFound, "unknown gateway")
			return
		}
		if err != nil {
			h.logger.Error("callback processing failed",
				zap.String("gateway", gatewayCode),
				zap.String("reference", res.Reference),
				zap.String("request_id", c.GetString("request_id")),
				zap.Error(err),
			)
			c.String(http.StatusInternalServerError, "retry later")
			return
		}

		h.logger.Info("callback handled",
			zap.String("gateway", gatewayCode),
			zap.String("reference", res.Reference),
			zap.String("disposition", string(res.Disposition)),
		)
		c.Data(res.Ack.Status, res.Ack.ContentType, res.Ack.Body)
	}
}

package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"payment-orchestration/internal/models"
)

// statusFor maps the error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	var (
		verr *models.ValidationError
		berr *models.BusinessError
		cerr *models.CommunicationError
	)
	switch {
	case errors.As(err, &verr):
		return http.StatusBadRequest
	case errors.As(err, &berr):
		return http.StatusPaymentRequired
	case errors.As(err, &cerr):
		return http.StatusBadGateway
	case errors.Is(err, models.ErrPaymentNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrTerminalState), errors.Is(err, models.ErrConcurrentUpdate):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func errorBody(err error, status int) gin.H {
	body := gin.H{"error": err.Error()}

	var verr *models.ValidationError
	var berr *models.BusinessError
	switch {
	case errors.As(err, &verr):
		body["field"] = verr.Field
	case errors.As(err, &berr):
		body["error"] = berr.Message
		body["provider_code"] = berr.Code
	case status == http.StatusInternalServerError:
		body["error"] = "internal error"
	}
	return body
}

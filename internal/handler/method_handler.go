package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"payment-orchestration/internal/catalog"
)

// MethodLister is the read side of the payment-method catalog.
type MethodLister interface {
	Active() []catalog.Method
}

type MethodHandler struct {
	methods MethodLister
}

func NewMethodHandler(methods MethodLister) *MethodHandler {
	return &MethodHandler{methods: methods}
}

type methodResponse struct {
	Code           string   `json:"code"`
	Name           string   `json:"name"`
	Currencies     []string `json:"currencies"`
	Variants       []string `json:"variants,omitempty"`
	DefaultVariant string   `json:"default_variant,omitempty"`
}

// ListMethods handles GET /api/v1/payment-methods
func (h *MethodHandler) ListMethods(c *gin.Context) {
	active := h.methods.Active()
	out := make([]methodResponse, 0, len(active))
	for _, m := range active {
		out = append(out, methodResponse{
			Code:           m.Code,
			Name:           m.Name,
			Currencies:     m.Currencies,
			Variants:       m.VariantCodes(),
			DefaultVariant: m.DefaultVariant,
		})
	}
	c.JSON(http.StatusOK, gin.H{"methods": out})
}

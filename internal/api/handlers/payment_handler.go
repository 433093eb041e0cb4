package handlers

import (
	"crypto/subtle"
	"net/http"

	"example.com/backstage/services/keygate/internal/services"

	"github.com/gin-gonic/gin"
)

// PaymentSecretHeader carries the shared secret of the payment provider
const PaymentSecretHeader = "X-Payment-Secret"

// PaymentHandler receives confirmed payments
type PaymentHandler struct {
	payments *services.Payments
	secret   string
}

// NewPaymentHandler creates a new payment handler. An empty secret disables the hook.
func NewPaymentHandler(payments *services.Payments, secret string) *PaymentHandler {
	return &PaymentHandler{
		payments: payments,
		secret:   secret,
	}
}

// PaymentRequest is a confirmed payment
type PaymentRequest struct {
	Payer string `json:"payer" binding:"required"`
	// Hours is the key lifetime; zero buys a permanent key
	Hours int `json:"hours" binding:"min=0"`
}

// HandleConfirm issues a key for a payment the provider has already verified
func (h *PaymentHandler) HandleConfirm(c *gin.Context) {
	if h.secret == "" {
		respondError(c, &APIError{Message: "Payment hook disabled", StatusCode: http.StatusNotFound, Code: "NOT_FOUND"})
		return
	}
	if subtle.ConstantTimeCompare([]byte(c.GetHeader(PaymentSecretHeader)), []byte(h.secret)) != 1 {
		respondError(c, services.ErrUnauthorized)
		return
	}

	var req PaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, NewValidationError(err.Error()))
		return
	}

	key, err := h.payments.OnPaymentConfirmed(c.Request.Context(), req.Payer, req.Hours)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, key)
}

// RegisterRoutes registers the handler's routes
func (h *PaymentHandler) RegisterRoutes(router gin.IRoutes) {
	router.POST("/payments/confirm", h.HandleConfirm)
}

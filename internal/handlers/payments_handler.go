package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	validatorv10 "github.com/go-playground/validator/v10"

	"github.com/imrishuroy/shop-orderflow/internal/payments"
	"github.com/imrishuroy/shop-orderflow/internal/validation"
)

// RegisterPaymentsRoutes registers POST /create-payment-intent.
func RegisterPaymentsRoutes(r *gin.Engine, deps Dependencies, v *validatorv10.Validate) {
	r.POST("/create-payment-intent", func(c *gin.Context) {
		var req validation.PaymentIntentRequest
		if err := validation.BindAndValidate(c, &req, v); err != nil {
			return
		}
		currency := req.Currency
		if currency == "" {
			currency = deps.Currency
		}
		amount, err := payments.ToMinorUnits(req.Amount, currency)
		if err != nil {
			writeError(c, deps.Logger, err)
			return
		}
		secret, err := deps.Payments.CreateIntent(c.Request.Context(), amount, currency)
		if err != nil {
			writeError(c, deps.Logger, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"clientSecret": secret})
	})
}

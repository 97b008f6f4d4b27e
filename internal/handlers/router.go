package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/imrishuroy/shop-orderflow/internal/catalog"
	"github.com/imrishuroy/shop-orderflow/internal/idempotency"
	"github.com/imrishuroy/shop-orderflow/internal/metrics"
	"github.com/imrishuroy/shop-orderflow/internal/orders"
	"github.com/imrishuroy/shop-orderflow/internal/payments"
	"github.com/imrishuroy/shop-orderflow/internal/users"
	"github.com/imrishuroy/shop-orderflow/internal/validation"
)

// Dependencies groups the stores and collaborators the routes call.
// Idempotency may be nil, in which case Idempotency-Key headers are ignored.
// Currency is used when a payment intent request names none.
type Dependencies struct {
	Orders      *orders.Store
	Lifecycle   *orders.Lifecycle
	Idempotency *idempotency.Store
	Products    *catalog.Store
	Users       *users.Store
	Payments    payments.Gateway
	Currency    string
	MetricsPath string
	Logger      *zap.SugaredLogger
}

// RegisterRoutes registers every route on r.
func RegisterRoutes(r *gin.Engine, deps Dependencies) {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop().Sugar()
	}
	v := validation.New()

	r.GET("/", func(c *gin.Context) {
		c.String(http.StatusOK, "Server is running fine!")
	})
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if deps.MetricsPath != "" {
		r.GET(deps.MetricsPath, gin.WrapH(metrics.Handler()))
	}

	RegisterOrdersRoutes(r, deps, v)
	RegisterCatalogRoutes(r, deps)
	RegisterUsersRoutes(r, deps, v)
	RegisterPaymentsRoutes(r, deps, v)
}

package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/imrishuroy/shop-orderflow/internal/apperr"
)

// RegisterCatalogRoutes registers the read-only product routes.
func RegisterCatalogRoutes(r *gin.Engine, deps Dependencies) {
	r.GET("/products", func(c *gin.Context) {
		products, err := deps.Products.Featured(c.Request.Context())
		if err != nil {
			writeError(c, deps.Logger, err)
			return
		}
		c.JSON(http.StatusOK, products)
	})

	r.GET("/all-products", func(c *gin.Context) {
		products, err := deps.Products.ListAll(c.Request.Context())
		if err != nil {
			writeError(c, deps.Logger, err)
			return
		}
		c.JSON(http.StatusOK, products)
	})

	r.GET("/products/:id", func(c *gin.Context) {
		p, err := deps.Products.Get(c.Request.Context(), c.Param("id"))
		if err != nil {
			writeError(c, deps.Logger, err)
			return
		}
		if p == nil {
			writeError(c, deps.Logger, apperr.NotFound("Product not found"))
			return
		}
		c.JSON(http.StatusOK, p)
	})

	r.GET("/manager-products", func(c *gin.Context) {
		email := c.Query("email")
		if email == "" {
			writeError(c, deps.Logger, apperr.Validation("email query parameter is required", nil))
			return
		}
		products, err := deps.Products.ListByManager(c.Request.Context(), email)
		if err != nil {
			writeError(c, deps.Logger, err)
			return
		}
		c.JSON(http.StatusOK, products)
	})
}

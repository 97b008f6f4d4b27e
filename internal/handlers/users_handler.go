package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	validatorv10 "github.com/go-playground/validator/v10"

	"github.com/imrishuroy/shop-orderflow/internal/users"
	"github.com/imrishuroy/shop-orderflow/internal/validation"
)

// RegisterUsersRoutes registers login, registration and user admin routes.
func RegisterUsersRoutes(r *gin.Engine, deps Dependencies, v *validatorv10.Validate) {
	r.POST("/login", func(c *gin.Context) {
		var req validation.UserRequest
		if err := validation.BindAndValidate(c, &req, v); err != nil {
			return
		}
		u, err := deps.Users.Upsert(c.Request.Context(), req.Email, req.Role)
		if err != nil {
			writeError(c, deps.Logger, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"email": u.Email, "role": u.Role})
	})

	r.POST("/register", func(c *gin.Context) {
		var req validation.UserRequest
		if err := validation.BindAndValidate(c, &req, v); err != nil {
			return
		}
		u, err := deps.Users.Register(c.Request.Context(), req.Email, req.Role)
		if err != nil {
			writeError(c, deps.Logger, err)
			return
		}
		c.JSON(http.StatusCreated, gin.H{"email": u.Email, "role": u.Role})
	})

	r.GET("/users", func(c *gin.Context) {
		all, err := deps.Users.List(c.Request.Context())
		if err != nil {
			writeError(c, deps.Logger, err)
			return
		}
		c.JSON(http.StatusOK, all)
	})

	r.PATCH("/users/:id", func(c *gin.Context) {
		var req validation.UserUpdateRequest
		if err := validation.BindAndValidate(c, &req, v); err != nil {
			return
		}
		u, err := deps.Users.Update(c.Request.Context(), c.Param("id"), users.Changes{Role: req.Role, Status: req.Status})
		if err != nil {
			writeError(c, deps.Logger, err)
			return
		}
		c.JSON(http.StatusOK, u)
	})
}

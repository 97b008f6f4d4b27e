package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	validatorv10 "github.com/go-playground/validator/v10"

	"github.com/imrishuroy/shop-orderflow/internal/apperr"
	"github.com/imrishuroy/shop-orderflow/internal/idempotency"
	"github.com/imrishuroy/shop-orderflow/internal/orders"
	"github.com/imrishuroy/shop-orderflow/internal/validation"
)

const jsonContentType = "application/json; charset=utf-8"

// RegisterOrdersRoutes registers the order routes. Every mutation goes
// through the lifecycle; reads go straight to the store.
func RegisterOrdersRoutes(r *gin.Engine, deps Dependencies, v *validatorv10.Validate) {
	h := ordersHandler{deps: deps, v: v}

	r.POST("/orders", h.create)
	r.GET("/orders/:id", h.get)
	r.GET("/my-orders/:id", h.get)
	r.GET("/my-orders", h.listMine)
	r.DELETE("/my-orders/:id", h.delete)

	r.GET("/all-orders", h.listAll)
	r.PATCH("/all-orders/:id", h.applyStatus(true))
	r.GET("/pending-orders", h.listByStatus(orders.StatusPending))
	r.PATCH("/pending-orders/:id", h.applyStatus(false))
	r.GET("/approved-orders", h.listByStatus(orders.StatusApproved))
	r.PATCH("/approved-orders/:id/tracking", h.appendTracking)
}

type ordersHandler struct {
	deps Dependencies
	v    *validatorv10.Validate
}

func (h ordersHandler) create(c *gin.Context) {
	ctx := c.Request.Context()

	req, err := validation.BindOrder(c, h.v)
	if err != nil {
		// BindOrder already wrote a 400
		return
	}

	key := c.GetHeader("Idempotency-Key")
	if key == "" || h.deps.Idempotency == nil {
		o, err := h.deps.Lifecycle.Submit(ctx, req.Email, req.Payload)
		if err != nil {
			writeError(c, h.deps.Logger, err)
			return
		}
		c.Header("Location", fmt.Sprintf("/orders/%s", o.ID))
		c.JSON(http.StatusCreated, gin.H{"success": true, "insertedId": o.ID})
		return
	}

	fingerprint, err := req.Fingerprint()
	if err != nil {
		writeError(c, h.deps.Logger, apperr.Validation("order content cannot be encoded", err))
		return
	}
	o, err := h.deps.Lifecycle.SubmitIdempotent(ctx, key, fingerprint, req.Email, req.Payload, h.deps.Idempotency)
	if errors.Is(err, orders.ErrDuplicateSubmission) {
		h.replay(c, key, fingerprint)
		return
	}
	if err != nil {
		writeError(c, h.deps.Logger, err)
		return
	}

	resp := gin.H{"success": true, "insertedId": o.ID}
	if body, err := json.Marshal(resp); err != nil {
		h.deps.Logger.Errorw("encode idempotent response", "idempotency_key", key, "order_id", o.ID, "error", err)
	} else if err := h.deps.Idempotency.MarkDone(ctx, key, string(body), http.StatusCreated); err != nil {
		// the order exists; a later duplicate will see IN_PROGRESS instead of a replay
		h.deps.Logger.Warnw("mark idempotency key done", "idempotency_key", key, "order_id", o.ID, "error", err)
	}
	c.Header("Location", fmt.Sprintf("/orders/%s", o.ID))
	c.JSON(http.StatusCreated, resp)
}

// replay answers a duplicate submission from the stored idempotency record.
// A key reused with different content is refused rather than replayed.
func (h ordersHandler) replay(c *gin.Context, key, fingerprint string) {
	rec, err := h.deps.Idempotency.Get(c.Request.Context(), key)
	if err != nil {
		writeError(c, h.deps.Logger, err)
		return
	}
	if rec == nil {
		writeError(c, h.deps.Logger, apperr.Storage("could not resolve duplicate submission", errors.New("claim vanished after cancelled transaction")))
		return
	}
	if rec.RequestHash != "" && rec.RequestHash != fingerprint {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"message": "idempotency key was already used with a different request"})
		return
	}
	switch rec.Status {
	case idempotency.StatusDone:
		if rec.ResponseBody != "" && json.Valid([]byte(rec.ResponseBody)) {
			c.Data(rec.ResponseStatus, jsonContentType, []byte(rec.ResponseBody))
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "insertedId": rec.OrderID})
	case idempotency.StatusInProgress:
		c.JSON(http.StatusAccepted, gin.H{"message": "request already in progress", "insertedId": rec.OrderID})
	case idempotency.StatusFailed:
		c.JSON(http.StatusConflict, gin.H{"message": "previous attempt with this idempotency key failed"})
	default:
		c.JSON(http.StatusConflict, gin.H{"message": "idempotency key is in an unknown state"})
	}
}

func (h ordersHandler) get(c *gin.Context) {
	o, err := h.deps.Orders.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, h.deps.Logger, err)
		return
	}
	if o == nil {
		writeError(c, h.deps.Logger, apperr.NotFound("Order not found"))
		return
	}
	c.JSON(http.StatusOK, o)
}

func (h ordersHandler) listMine(c *gin.Context) {
	email := c.Query("email")
	if email == "" {
		writeError(c, h.deps.Logger, apperr.Validation("email query parameter is required", nil))
		return
	}
	h.respondList(c, func(ctx context.Context) ([]orders.Order, error) {
		return h.deps.Orders.ListByEmail(ctx, email)
	})
}

func (h ordersHandler) listAll(c *gin.Context) {
	h.respondList(c, h.deps.Orders.ListAll)
}

func (h ordersHandler) listByStatus(status orders.Status) gin.HandlerFunc {
	return func(c *gin.Context) {
		h.respondList(c, func(ctx context.Context) ([]orders.Order, error) {
			return h.deps.Orders.ListByStatus(ctx, status)
		})
	}
}

func (h ordersHandler) respondList(c *gin.Context, list func(context.Context) ([]orders.Order, error)) {
	result, err := list(c.Request.Context())
	if err != nil {
		writeError(c, h.deps.Logger, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h ordersHandler) delete(c *gin.Context) {
	deleted, err := h.deps.Orders.Delete(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, h.deps.Logger, err)
		return
	}
	if !deleted {
		writeError(c, h.deps.Logger, apperr.NotFound("Order not found"))
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "deletedCount": 1})
}

// applyStatus serves both status routes. The admin route answers with the
// updated order, the manager route with {success: true}.
func (h ordersHandler) applyStatus(returnOrder bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req validation.StatusRequest
		if err := validation.BindAndValidate(c, &req, h.v); err != nil {
			return
		}
		next, err := orders.ParseStatus(req.Status)
		if err != nil {
			writeError(c, h.deps.Logger, apperr.Validation("unknown status", err))
			return
		}
		updated, err := h.deps.Lifecycle.ApplyStatus(c.Request.Context(), c.Param("id"), next)
		if err != nil {
			writeError(c, h.deps.Logger, err)
			return
		}
		if returnOrder {
			c.JSON(http.StatusOK, updated)
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true})
	}
}

func (h ordersHandler) appendTracking(c *gin.Context) {
	var req validation.TrackingRequest
	if err := validation.BindAndValidate(c, &req, h.v); err != nil {
		return
	}
	detail := orders.TrackingDetail{
		Location: strings.TrimSpace(req.Location),
		Note:     strings.TrimSpace(req.Note),
		Label:    strings.TrimSpace(req.Status),
	}
	if _, err := h.deps.Lifecycle.AppendTrackingDetail(c.Request.Context(), c.Param("id"), detail); err != nil {
		writeError(c, h.deps.Logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

package validation

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
)

// reservedOrderKeys are owned by the order lifecycle and are dropped from
// client-supplied order content.
var reservedOrderKeys = []string{"_id", "id", "email", "status", "tracking", "createdAt", "updatedAt", "approvedAt"}

// CreateOrderRequest is the payload for POST /orders: a free-form booking
// form that must carry the customer's email.
type CreateOrderRequest struct {
	Email   string                 `validate:"required,email"`
	Payload map[string]interface{} `validate:"-"`
}

// NewCreateOrderRequest splits a decoded JSON body into the customer email
// and the opaque order payload.
func NewCreateOrderRequest(body map[string]interface{}) CreateOrderRequest {
	req := CreateOrderRequest{Payload: map[string]interface{}{}}
	if email, ok := body["email"].(string); ok {
		req.Email = strings.TrimSpace(email)
	}
	for k, v := range body {
		req.Payload[k] = v
	}
	for _, k := range reservedOrderKeys {
		delete(req.Payload, k)
	}
	return req
}

// Fingerprint hashes the email and payload. Map keys marshal in sorted
// order, so the same content always yields the same fingerprint.
func (r CreateOrderRequest) Fingerprint() (string, error) {
	b, err := json.Marshal(struct {
		Email   string                 `json:"email"`
		Payload map[string]interface{} `json:"payload"`
	}{r.Email, r.Payload})
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

// StatusRequest is the body of the status-changing PATCH routes.
type StatusRequest struct {
	Status string `json:"status" validate:"required,oneof=Pending Approved Rejected"`
}

// TrackingRequest is the body of PATCH /approved-orders/:id/tracking.
type TrackingRequest struct {
	Location string `json:"location" validate:"required_without_all=Note Status,max=200"`
	Note     string `json:"note" validate:"max=1000"`
	// Status is a logistics label ("Shipped", "Out for delivery"), not an
	// order status.
	Status   string `json:"status" validate:"max=64"`
}

// PaymentIntentRequest carries the amount in major units (e.g. 19.99).
type PaymentIntentRequest struct {
	Amount   float64 `json:"amount" validate:"required,gt=0"`
	Currency string  `json:"currency" validate:"omitempty,len=3,alpha"`
}

// UserRequest is the body of POST /login and POST /register.
type UserRequest struct {
	Email string `json:"email" validate:"required,email"`
	Role  string `json:"role" validate:"omitempty,max=32"`
}

// UserUpdateRequest is the body of PATCH /users/:id.
type UserUpdateRequest struct {
	Role   string `json:"role" validate:"omitempty,max=32"`
	Status string `json:"status" validate:"required_without=Role,max=32"`
}

package validation

import (
	"fmt"
	"math"

	validatorv10 "github.com/go-playground/validator/v10"
)

// New returns a validator with the order payload checks registered.
func New() *validatorv10.Validate {
	v := validatorv10.New()

	// quantity and price are optional in an order payload, but when the
	// booking form sends them they must be sane.
	v.RegisterStructValidation(createOrderStructValidation, CreateOrderRequest{})

	return v
}

func createOrderStructValidation(sl validatorv10.StructLevel) {
	req := sl.Current().Interface().(CreateOrderRequest)

	if raw, ok := req.Payload["quantity"]; ok {
		q, isNum := raw.(float64)
		if !isNum || q < 1 || q != math.Trunc(q) {
			sl.ReportError(raw, "quantity", "Quantity", "positive_whole", fmt.Sprintf("%v", raw))
		}
	}
	if raw, ok := req.Payload["price"]; ok {
		p, isNum := raw.(float64)
		if !isNum || p < 0 {
			sl.ReportError(raw, "price", "Price", "non_negative", fmt.Sprintf("%v", raw))
		}
	}
}

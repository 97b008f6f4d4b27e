// Package payments creates payment intents with the payment provider. It
// never reads or writes order state.
package payments

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/Rhymond/go-money"
	"github.com/go-faster/errors"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"go.uber.org/zap"

	"github.com/imrishuroy/shop-orderflow/internal/apperr"
)

// Gateway creates a payment intent and returns its client secret.
type Gateway interface {
	CreateIntent(ctx context.Context, amountMinor int64, currency string) (string, error)
}

// intentCreator is satisfied by the stripe client's PaymentIntents.
type intentCreator interface {
	New(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
}

type StripeGateway struct {
	intents intentCreator
	timeout time.Duration
	logger  *zap.SugaredLogger
}

func NewStripeGateway(secretKey string, timeout time.Duration, logger *zap.SugaredLogger) *StripeGateway {
	sc := &client.API{}
	sc.Init(secretKey, nil)
	return newGateway(sc.PaymentIntents, timeout, logger)
}

func newGateway(intents intentCreator, timeout time.Duration, logger *zap.SugaredLogger) *StripeGateway {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &StripeGateway{intents: intents, timeout: timeout, logger: logger}
}

// CreateIntent asks the provider for a card payment intent of amountMinor
// in currency (ISO 4217, any case).
func (g *StripeGateway) CreateIntent(ctx context.Context, amountMinor int64, currency string) (string, error) {
	if amountMinor <= 0 {
		return "", apperr.Validation("amount must be positive", nil)
	}
	cur := money.GetCurrency(strings.ToUpper(currency))
	if cur == nil {
		return "", apperr.Validation(fmt.Sprintf("unsupported currency %q", currency), nil)
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(amountMinor),
		Currency: stripe.String(strings.ToLower(cur.Code)),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	params.Context = ctx

	pi, err := g.intents.New(params)
	if err != nil {
		return "", apperr.PaymentGateway("could not create payment intent", errors.Wrap(err, "stripe payment intent"))
	}
	g.logger.Infow("payment intent created",
		"payment_intent", pi.ID,
		"amount", money.New(amountMinor, cur.Code).Display())
	return pi.ClientSecret, nil
}

// ToMinorUnits converts an amount in major units (e.g. 19.99) into the
// currency's smallest unit (1999), rounding to the nearest unit.
func ToMinorUnits(amount float64, currency string) (int64, error) {
	cur := money.GetCurrency(strings.ToUpper(currency))
	if cur == nil {
		return 0, apperr.Validation(fmt.Sprintf("unsupported currency %q", currency), nil)
	}
	return int64(math.Round(amount * math.Pow10(cur.Fraction))), nil
}

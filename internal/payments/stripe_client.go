package payments

import (
	"context"

	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/paymentintent"

	pkgstripe "github.com/selimbenhamida/revend-backend/pkg/stripe"
)

// StripeIntentClient exposes the subset of Stripe operations the payment
// adapter needs, so the service can be tested against a stub.
type StripeIntentClient interface {
	Create(ctx context.Context, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
	Get(ctx context.Context, id string, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
}

type stripeClientWrapper struct{}

// NewStripeClient wraps the initialized Stripe client for intent operations.
func NewStripeClient(api *pkgstripe.Client) StripeIntentClient {
	if api == nil {
		return nil
	}
	return &stripeClientWrapper{}
}

func (w *stripeClientWrapper) Create(ctx context.Context, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error) {
	if params != nil {
		params.Context = ctx
	}
	return paymentintent.New(params)
}

func (w *stripeClientWrapper) Get(ctx context.Context, id string, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error) {
	if params == nil {
		params = &stripe.PaymentIntentParams{}
	}
	params.Context = ctx
	return paymentintent.Get(id, params)
}

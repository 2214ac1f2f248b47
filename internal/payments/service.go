package payments

import (
	"context"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v84"

	"github.com/selimbenhamida/revend-backend/internal/orders"
	"github.com/selimbenhamida/revend-backend/pkg/enums"
	pkgerrors "github.com/selimbenhamida/revend-backend/pkg/errors"
	"github.com/selimbenhamida/revend-backend/pkg/logger"
	"github.com/selimbenhamida/revend-backend/pkg/metrics"
)

// MetadataOrderIDKey is the intent metadata key correlating the async
// confirmation back to the order without trusting client-supplied identifiers.
const MetadataOrderIDKey = "orderId"

// IntentResult is the client-facing handle for completing a payment.
type IntentResult struct {
	PaymentIntentID string `json:"paymentIntentId"`
	ClientSecret    string `json:"clientSecret"`
}

// Service creates payment intents from persisted order totals.
type Service interface {
	CreateIntent(ctx context.Context, orderID, userID uuid.UUID) (*IntentResult, error)
}

type service struct {
	ordersSvc orders.Service
	client    StripeIntentClient
	metrics   *metrics.PipelineMetrics
	logg      *logger.Logger
}

// NewService wires the payment gateway adapter.
func NewService(ordersSvc orders.Service, client StripeIntentClient, pipelineMetrics *metrics.PipelineMetrics, logg *logger.Logger) (Service, error) {
	if ordersSvc == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "orders service required")
	}
	if client == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "stripe client required")
	}
	if logg == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "logger required")
	}
	return &service{ordersSvc: ordersSvc, client: client, metrics: pipelineMetrics, logg: logg}, nil
}

// CreateIntent charges the frozen order total. The amount always comes from
// the persisted order, never from the request body.
func (s *service) CreateIntent(ctx context.Context, orderID, userID uuid.UUID) (*IntentResult, error) {
	order, err := s.ordersSvc.Get(ctx, orderID, userID)
	if err != nil {
		return nil, err
	}
	if order.Status != enums.OrderStatusPending {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "order is not awaiting payment")
	}

	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(order.GrandTotalCents),
		Currency: stripe.String(order.Currency),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	params.AddMetadata(MetadataOrderIDKey, order.ID.String())

	intent, err := s.client.Create(ctx, params)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create payment intent")
	}

	s.metrics.IncIntentCreated()
	logCtx := s.logg.WithFields(ctx, map[string]any{
		"order_id":          order.ID.String(),
		"payment_intent_id": intent.ID,
		"amount_cents":      order.GrandTotalCents,
	})
	s.logg.Info(logCtx, "payment intent created")

	return &IntentResult{PaymentIntentID: intent.ID, ClientSecret: intent.ClientSecret}, nil
}

package stripewebhook

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v84"
	"gorm.io/gorm"

	"github.com/selimbenhamida/revend-backend/internal/notifications"
	"github.com/selimbenhamida/revend-backend/internal/orders"
	"github.com/selimbenhamida/revend-backend/internal/payments"
	"github.com/selimbenhamida/revend-backend/internal/stock"
	"github.com/selimbenhamida/revend-backend/pkg/enums"
	pkgerrors "github.com/selimbenhamida/revend-backend/pkg/errors"
	"github.com/selimbenhamida/revend-backend/pkg/logger"
	"github.com/selimbenhamida/revend-backend/pkg/metrics"
	"github.com/selimbenhamida/revend-backend/pkg/outbox"
	"github.com/selimbenhamida/revend-backend/pkg/outbox/payloads"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type stockCommitter interface {
	Apply(ctx context.Context, orderID uuid.UUID) (stock.CommitResult, error)
}

type ServiceParams struct {
	Orders            orders.Service
	Stripe            payments.StripeIntentClient
	Committer         stockCommitter
	Dispatcher        notifications.Dispatcher
	TransactionRunner txRunner
	Events            *outbox.Service
	Metrics           *metrics.PipelineMetrics
	Logger            *logger.Logger
}

// Service reconciles Stripe payment confirmations against pending orders.
// The whole pipeline is driven from here: the order flips to paid exactly
// once, stock is decremented on that first transition only, and the buyer is
// notified.
type Service struct {
	orders     orders.Service
	stripe     payments.StripeIntentClient
	committer  stockCommitter
	dispatcher notifications.Dispatcher
	txRunner   txRunner
	events     *outbox.Service
	metrics    *metrics.PipelineMetrics
	logg       *logger.Logger
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Orders == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "orders service required")
	}
	if params.Stripe == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "stripe client required")
	}
	if params.Committer == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "stock committer required")
	}
	if params.Dispatcher == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "notification dispatcher required")
	}
	if params.TransactionRunner == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "transaction runner required")
	}
	if params.Events == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "outbox service required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "logger required")
	}
	return &Service{
		orders:     params.Orders,
		stripe:     params.Stripe,
		committer:  params.Committer,
		dispatcher: params.Dispatcher,
		txRunner:   params.TransactionRunner,
		events:     params.Events,
		metrics:    params.Metrics,
		logg:       params.Logger,
	}, nil
}

// HandleEvent processes one verified Stripe event. Unhandled event types are
// acknowledged without side effects so Stripe stops redelivering them.
func (s *Service) HandleEvent(ctx context.Context, event *stripe.Event) error {
	if event == nil || event.Data == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "stripe event data required")
	}

	start := time.Now()
	switch event.Type {
	case stripe.EventTypePaymentIntentSucceeded:
		outcome, err := s.reconcileSucceededIntent(ctx, event)
		s.metrics.ObserveWebhook(outcome, time.Since(start))
		return err
	case stripe.EventTypePaymentIntentPaymentFailed:
		var intent stripe.PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &intent); err == nil {
			logCtx := s.logg.WithFields(ctx, map[string]any{
				"payment_intent_id": intent.ID,
			})
			s.logg.Warn(logCtx, "payment intent failed")
		}
		s.metrics.ObserveWebhook(metrics.WebhookOutcomeIgnored, time.Since(start))
		return nil
	default:
		s.metrics.ObserveWebhook(metrics.WebhookOutcomeIgnored, time.Since(start))
		return nil
	}
}

func (s *Service) reconcileSucceededIntent(ctx context.Context, event *stripe.Event) (string, error) {
	var delivered stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &delivered); err != nil {
		return metrics.WebhookOutcomeRejected, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode payment intent event")
	}
	if delivered.ID == "" {
		return metrics.WebhookOutcomeRejected, pkgerrors.New(pkgerrors.CodeValidation, "payment intent id missing")
	}

	// The delivered payload is not trusted for money fields. The intent is
	// re-fetched from Stripe and the authoritative copy drives reconciliation.
	params := &stripe.PaymentIntentParams{}
	params.AddExpand("latest_charge")
	intent, err := s.stripe.Get(ctx, delivered.ID, params)
	if err != nil {
		return metrics.WebhookOutcomeRejected, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "fetch payment intent")
	}
	if intent.Status != stripe.PaymentIntentStatusSucceeded {
		return metrics.WebhookOutcomeRejected, pkgerrors.New(pkgerrors.CodeConflict, "payment intent not succeeded")
	}

	orderID, err := orderIDFromIntent(intent)
	if err != nil {
		return metrics.WebhookOutcomeRejected, err
	}

	confirm := orders.ConfirmPaymentParams{
		OrderID:     orderID,
		PaymentID:   intent.ID,
		AmountCents: intent.Amount,
		Currency:    string(intent.Currency),
		PaidAt:      eventTime(event),
	}
	if charge := intent.LatestCharge; charge != nil {
		confirm.PaymentMethod = chargeMethodType(charge)
		if card := chargeCard(charge); card != nil {
			confirm.CardBrand = string(card.Brand)
			confirm.CardLast4 = card.Last4
		}
	}

	result, err := s.orders.ConfirmPayment(ctx, confirm)
	if err != nil {
		return metrics.WebhookOutcomeRejected, err
	}
	if !result.FirstTime {
		logCtx := s.logg.WithFields(ctx, map[string]any{
			"order_id":          orderID.String(),
			"payment_intent_id": intent.ID,
		})
		s.logg.Info(logCtx, "duplicate payment confirmation acknowledged")
		return metrics.WebhookOutcomeDuplicate, nil
	}

	if err := s.settleFirstConfirmation(ctx, result, intent.ID); err != nil {
		return metrics.WebhookOutcomeRejected, err
	}
	return metrics.WebhookOutcomeProcessed, nil
}

// settleFirstConfirmation runs the side effects that belong to the single
// pending-to-paid transition: stock decrement, shortfall reporting and the
// buyer notification.
func (s *Service) settleFirstConfirmation(ctx context.Context, result *orders.ConfirmResult, paymentIntentID string) error {
	order := result.Order
	commit, err := s.committer.Apply(ctx, order.ID)
	if err != nil {
		return err
	}

	if !commit.FullyApplied() {
		short := payloads.StockShortEvent{
			OrderID:    order.ID,
			ReportedAt: time.Now(),
		}
		for _, line := range commit.Shortfalls {
			short.Shortfalls = append(short.Shortfalls, payloads.ShortLine{
				ProductID: line.ProductID,
				Requested: line.Requested,
				Available: line.Available,
			})
		}
		err := s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
			return s.events.Emit(ctx, tx, outbox.DomainEvent{
				EventType:     enums.EventStockShort,
				AggregateType: enums.AggregateOrder,
				AggregateID:   order.ID,
				Data:          short,
			})
		})
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record stock shortfall")
		}
	}

	if err := s.dispatcher.NotifyOrderPaid(ctx, order.UserID, order.ID); err != nil {
		// The payment is already reconciled; a failed notification must not
		// make Stripe redeliver and is only logged.
		s.logg.Error(ctx, "order paid notification failed", err)
	}

	logCtx := s.logg.WithFields(ctx, map[string]any{
		"order_id":          order.ID.String(),
		"payment_intent_id": paymentIntentID,
		"stock_committed":   commit.FullyApplied(),
		"shortfalls":        len(commit.Shortfalls),
	})
	s.logg.Info(logCtx, "payment confirmation reconciled")
	return nil
}

func orderIDFromIntent(intent *stripe.PaymentIntent) (uuid.UUID, error) {
	raw, ok := intent.Metadata[payments.MetadataOrderIDKey]
	if !ok || raw == "" {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeValidation, "order id metadata missing")
	}
	orderID, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "parse order id metadata")
	}
	return orderID, nil
}

func eventTime(event *stripe.Event) time.Time {
	if event.Created > 0 {
		return time.Unix(event.Created, 0).UTC()
	}
	return time.Now().UTC()
}

func chargeMethodType(charge *stripe.Charge) string {
	if charge.PaymentMethodDetails == nil {
		return ""
	}
	return string(charge.PaymentMethodDetails.Type)
}

func chargeCard(charge *stripe.Charge) *stripe.ChargePaymentMethodDetailsCard {
	if charge.PaymentMethodDetails == nil {
		return nil
	}
	return charge.PaymentMethodDetails.Card
}

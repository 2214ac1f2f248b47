package stripewebhook

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v84"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/selimbenhamida/revend-backend/internal/notifications"
	"github.com/selimbenhamida/revend-backend/internal/orders"
	"github.com/selimbenhamida/revend-backend/internal/stock"
	dbpkg "github.com/selimbenhamida/revend-backend/pkg/db"
	"github.com/selimbenhamida/revend-backend/pkg/db/models"
	"github.com/selimbenhamida/revend-backend/pkg/enums"
	pkgerrors "github.com/selimbenhamida/revend-backend/pkg/errors"
	"github.com/selimbenhamida/revend-backend/pkg/logger"
	"github.com/selimbenhamida/revend-backend/pkg/outbox"
)

type stubOrders struct {
	order     *models.Order
	confirms  []orders.ConfirmPaymentParams
	firstTime bool
	err       error
}

func (s *stubOrders) Create(ctx context.Context, userID uuid.UUID, address orders.AddressInput) (*models.Order, error) {
	return nil, errors.New("not implemented")
}

func (s *stubOrders) Get(ctx context.Context, orderID, userID uuid.UUID) (*models.Order, error) {
	return s.order, nil
}

func (s *stubOrders) Status(ctx context.Context, orderID, userID uuid.UUID) (*orders.StatusView, error) {
	return nil, errors.New("not implemented")
}

func (s *stubOrders) ConfirmPayment(ctx context.Context, params orders.ConfirmPaymentParams) (*orders.ConfirmResult, error) {
	s.confirms = append(s.confirms, params)
	if s.err != nil {
		return nil, s.err
	}
	return &orders.ConfirmResult{Order: s.order, FirstTime: s.firstTime}, nil
}

type stubStripe struct {
	intent *stripe.PaymentIntent
	err    error
	gets   []string
}

func (s *stubStripe) Create(ctx context.Context, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error) {
	return nil, errors.New("not implemented")
}

func (s *stubStripe) Get(ctx context.Context, id string, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error) {
	s.gets = append(s.gets, id)
	return s.intent, s.err
}

type stubCommitter struct {
	result stock.CommitResult
	err    error
	calls  []uuid.UUID
}

func (s *stubCommitter) Apply(ctx context.Context, orderID uuid.UUID) (stock.CommitResult, error) {
	s.calls = append(s.calls, orderID)
	return s.result, s.err
}

type stubDispatcher struct {
	paid []uuid.UUID
	err  error
}

func (s *stubDispatcher) Notify(ctx context.Context, recipientID uuid.UUID, kind enums.NotificationType, title, message string, orderID *uuid.UUID) error {
	return nil
}

func (s *stubDispatcher) NotifyOrderPaid(ctx context.Context, recipientID, orderID uuid.UUID) error {
	s.paid = append(s.paid, orderID)
	return s.err
}

func (s *stubDispatcher) NotifyPromotion(ctx context.Context, title, message string) (int, error) {
	return 0, nil
}

var _ notifications.Dispatcher = (*stubDispatcher)(nil)

func newWebhookTestClient(t *testing.T) *dbpkg.Client {
	t.Helper()
	dsn := "file:webhooks_" + uuid.NewString() + "?mode=memory&cache=shared"
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	ddl := `CREATE TABLE IF NOT EXISTS outbox_events (
  id TEXT PRIMARY KEY DEFAULT (lower(hex(randomblob(16)))),
  event_type TEXT NOT NULL,
  aggregate_type TEXT NOT NULL,
  aggregate_id TEXT NOT NULL,
  payload TEXT NOT NULL,
  created_at DATETIME,
  published_at DATETIME,
  attempt_count INTEGER NOT NULL DEFAULT 0,
  last_error TEXT
);`
	if err := conn.Exec(ddl).Error; err != nil {
		t.Fatalf("create outbox table: %v", err)
	}
	return dbpkg.FromConn(conn, 5*time.Second)
}

type fixture struct {
	service    *Service
	orders     *stubOrders
	stripe     *stubStripe
	committer  *stubCommitter
	dispatcher *stubDispatcher
	client     *dbpkg.Client
}

func newFixture(t *testing.T, ordersStub *stubOrders, stripeStub *stubStripe, committer *stubCommitter) *fixture {
	t.Helper()
	client := newWebhookTestClient(t)
	logg := logger.New(logger.Options{ServiceName: "test"})
	dispatcher := &stubDispatcher{}
	service, err := NewService(ServiceParams{
		Orders:            ordersStub,
		Stripe:            stripeStub,
		Committer:         committer,
		Dispatcher:        dispatcher,
		TransactionRunner: client,
		Events:            outbox.NewService(outbox.NewRepository(client.DB()), logg),
		Logger:            logg,
	})
	if err != nil {
		t.Fatalf("setup service: %v", err)
	}
	return &fixture{
		service:    service,
		orders:     ordersStub,
		stripe:     stripeStub,
		committer:  committer,
		dispatcher: dispatcher,
		client:     client,
	}
}

func succeededEvent(t *testing.T, intentID string) *stripe.Event {
	t.Helper()
	raw, err := json.Marshal(&stripe.PaymentIntent{ID: intentID})
	if err != nil {
		t.Fatalf("marshal intent: %v", err)
	}
	return &stripe.Event{
		ID:      "evt_" + uuid.NewString(),
		Type:    stripe.EventTypePaymentIntentSucceeded,
		Created: time.Now().Unix(),
		Data:    &stripe.EventData{Raw: raw},
	}
}

func paidIntent(id string, orderID uuid.UUID, amount int64) *stripe.PaymentIntent {
	return &stripe.PaymentIntent{
		ID:       id,
		Amount:   amount,
		Currency: stripe.CurrencyUSD,
		Status:   stripe.PaymentIntentStatusSucceeded,
		Metadata: map[string]string{"orderId": orderID.String()},
	}
}

func TestHandleEventFirstConfirmationRunsPipeline(t *testing.T) {
	orderID := uuid.New()
	userID := uuid.New()
	order := &models.Order{ID: orderID, UserID: userID, GrandTotalCents: 35000, Currency: "usd"}

	ordersStub := &stubOrders{order: order, firstTime: true}
	stripeStub := &stubStripe{intent: paidIntent("pi_test", orderID, 35000)}
	committer := &stubCommitter{result: stock.CommitResult{
		Applied: []stock.Line{{ProductID: uuid.New(), Qty: 1}},
	}}
	fx := newFixture(t, ordersStub, stripeStub, committer)

	if err := fx.service.HandleEvent(context.Background(), succeededEvent(t, "pi_test")); err != nil {
		t.Fatalf("handle event: %v", err)
	}

	if len(stripeStub.gets) != 1 || stripeStub.gets[0] != "pi_test" {
		t.Fatalf("expected intent re-fetch, got %v", stripeStub.gets)
	}
	if len(ordersStub.confirms) != 1 {
		t.Fatalf("expected one confirmation, got %d", len(ordersStub.confirms))
	}
	confirm := ordersStub.confirms[0]
	if confirm.OrderID != orderID || confirm.AmountCents != 35000 || confirm.PaymentID != "pi_test" {
		t.Fatalf("unexpected confirmation %+v", confirm)
	}
	if len(committer.calls) != 1 || committer.calls[0] != orderID {
		t.Fatalf("expected one stock commit, got %v", committer.calls)
	}
	if len(fx.dispatcher.paid) != 1 || fx.dispatcher.paid[0] != orderID {
		t.Fatalf("expected buyer notification, got %v", fx.dispatcher.paid)
	}

	var shortEvents int64
	if err := fx.client.DB().Model(&models.OutboxEvent{}).
		Where("event_type = ?", enums.EventStockShort).
		Count(&shortEvents).Error; err != nil {
		t.Fatalf("count events: %v", err)
	}
	if shortEvents != 0 {
		t.Fatal("fully applied commit must not report a shortfall")
	}
}

func TestHandleEventDuplicateDeliveryIsAcknowledged(t *testing.T) {
	orderID := uuid.New()
	order := &models.Order{ID: orderID, UserID: uuid.New(), GrandTotalCents: 35000, Currency: "usd"}

	ordersStub := &stubOrders{order: order, firstTime: false}
	stripeStub := &stubStripe{intent: paidIntent("pi_dup", orderID, 35000)}
	committer := &stubCommitter{}
	fx := newFixture(t, ordersStub, stripeStub, committer)

	if err := fx.service.HandleEvent(context.Background(), succeededEvent(t, "pi_dup")); err != nil {
		t.Fatalf("duplicate delivery must ack: %v", err)
	}
	if len(committer.calls) != 0 {
		t.Fatal("duplicate delivery must not touch stock")
	}
	if len(fx.dispatcher.paid) != 0 {
		t.Fatal("duplicate delivery must not notify again")
	}
}

func TestHandleEventShortfallEmitsReport(t *testing.T) {
	orderID := uuid.New()
	productID := uuid.New()
	order := &models.Order{ID: orderID, UserID: uuid.New(), GrandTotalCents: 12000, Currency: "usd"}

	ordersStub := &stubOrders{order: order, firstTime: true}
	stripeStub := &stubStripe{intent: paidIntent("pi_short", orderID, 12000)}
	committer := &stubCommitter{result: stock.CommitResult{
		Shortfalls: []stock.Shortfall{{ProductID: productID, Requested: 2, Available: 1}},
	}}
	fx := newFixture(t, ordersStub, stripeStub, committer)

	if err := fx.service.HandleEvent(context.Background(), succeededEvent(t, "pi_short")); err != nil {
		t.Fatalf("handle event: %v", err)
	}

	var row models.OutboxEvent
	if err := fx.client.DB().
		Where("event_type = ?", enums.EventStockShort).
		First(&row).Error; err != nil {
		t.Fatalf("load shortfall event: %v", err)
	}
	if row.AggregateID != orderID {
		t.Fatalf("unexpected aggregate %s", row.AggregateID)
	}
	if len(fx.dispatcher.paid) != 1 {
		t.Fatal("buyer is still notified when some lines are short")
	}
}

func TestHandleEventRejectsMismatchedAmount(t *testing.T) {
	orderID := uuid.New()
	order := &models.Order{ID: orderID, UserID: uuid.New(), GrandTotalCents: 35000, Currency: "usd"}

	conflict := pkgerrors.New(pkgerrors.CodeConflict, "payment amount does not match order total")
	ordersStub := &stubOrders{order: order, err: conflict}
	stripeStub := &stubStripe{intent: paidIntent("pi_bad", orderID, 99)}
	committer := &stubCommitter{}
	fx := newFixture(t, ordersStub, stripeStub, committer)

	err := fx.service.HandleEvent(context.Background(), succeededEvent(t, "pi_bad"))
	if appErr := pkgerrors.As(err); appErr == nil || appErr.Code() != pkgerrors.CodeConflict {
		t.Fatalf("expected conflict, got %v", err)
	}
	if len(committer.calls) != 0 {
		t.Fatal("mismatched amount must not touch stock")
	}
}

func TestHandleEventIgnoresUnrelatedTypes(t *testing.T) {
	ordersStub := &stubOrders{}
	stripeStub := &stubStripe{}
	committer := &stubCommitter{}
	fx := newFixture(t, ordersStub, stripeStub, committer)

	event := &stripe.Event{
		Type: stripe.EventTypeChargeRefunded,
		Data: &stripe.EventData{Raw: []byte(`{}`)},
	}
	if err := fx.service.HandleEvent(context.Background(), event); err != nil {
		t.Fatalf("unrelated event must ack: %v", err)
	}
	if len(stripeStub.gets) != 0 {
		t.Fatal("unrelated event must not reach the gateway")
	}
}

func TestHandleEventMissingOrderMetadata(t *testing.T) {
	ordersStub := &stubOrders{}
	stripeStub := &stubStripe{intent: &stripe.PaymentIntent{
		ID:     "pi_naked",
		Status: stripe.PaymentIntentStatusSucceeded,
	}}
	committer := &stubCommitter{}
	fx := newFixture(t, ordersStub, stripeStub, committer)

	err := fx.service.HandleEvent(context.Background(), succeededEvent(t, "pi_naked"))
	if appErr := pkgerrors.As(err); appErr == nil || appErr.Code() != pkgerrors.CodeValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
}

type fakeIdemStore struct {
	keys map[string]bool
}

func (f *fakeIdemStore) SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error) {
	if f.keys == nil {
		f.keys = map[string]bool{}
	}
	if f.keys[key] {
		return false, nil
	}
	f.keys[key] = true
	return true, nil
}

func (f *fakeIdemStore) IdempotencyKey(scope, id string) string {
	return "rv:idempotency:" + scope + ":" + id
}

func (f *fakeIdemStore) Del(ctx context.Context, keys ...string) error {
	for _, key := range keys {
		delete(f.keys, key)
	}
	return nil
}

func TestIdempotencyGuardClaimsOnce(t *testing.T) {
	guard, err := NewIdempotencyGuard(&fakeIdemStore{}, time.Minute, "stripe")
	if err != nil {
		t.Fatalf("new guard: %v", err)
	}
	ctx := context.Background()

	seen, err := guard.CheckAndMark(ctx, "evt_1")
	if err != nil {
		t.Fatalf("first claim: %v", err)
	}
	if seen {
		t.Fatal("first delivery must not be marked as seen")
	}

	seen, err = guard.CheckAndMark(ctx, "evt_1")
	if err != nil {
		t.Fatalf("second claim: %v", err)
	}
	if !seen {
		t.Fatal("second delivery must be marked as seen")
	}

	if err := guard.Delete(ctx, "evt_1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	seen, err = guard.CheckAndMark(ctx, "evt_1")
	if err != nil || seen {
		t.Fatalf("released event must be claimable again, seen=%v err=%v", seen, err)
	}
}

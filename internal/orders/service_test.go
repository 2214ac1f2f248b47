package orders

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/selimbenhamida/revend-backend/internal/cart"
	"github.com/selimbenhamida/revend-backend/pkg/config"
	dbpkg "github.com/selimbenhamida/revend-backend/pkg/db"
	"github.com/selimbenhamida/revend-backend/pkg/db/models"
	"github.com/selimbenhamida/revend-backend/pkg/enums"
	pkgerrors "github.com/selimbenhamida/revend-backend/pkg/errors"
	"github.com/selimbenhamida/revend-backend/pkg/logger"
	"github.com/selimbenhamida/revend-backend/pkg/outbox"
)

var testSchema = []string{
	`CREATE TABLE IF NOT EXISTS products (
  id TEXT PRIMARY KEY,
  sku TEXT NOT NULL UNIQUE,
  title TEXT NOT NULL,
  price NUMERIC NOT NULL,
  active INTEGER NOT NULL DEFAULT 1,
  created_at DATETIME,
  updated_at DATETIME
);`,
	`CREATE TABLE IF NOT EXISTS inventory_items (
  product_id TEXT PRIMARY KEY,
  available_qty INTEGER NOT NULL DEFAULT 0,
  updated_at DATETIME
);`,
	`CREATE TABLE IF NOT EXISTS cart_items (
  id TEXT PRIMARY KEY,
  user_id TEXT NOT NULL,
  product_id TEXT NOT NULL,
  qty INTEGER NOT NULL,
  created_at DATETIME,
  updated_at DATETIME,
  UNIQUE (user_id, product_id)
);`,
	`CREATE TABLE IF NOT EXISTS addresses (
  id TEXT PRIMARY KEY,
  user_id TEXT NOT NULL,
  street TEXT NOT NULL,
  postal_code TEXT NOT NULL,
  city TEXT NOT NULL,
  country TEXT NOT NULL,
  created_at DATETIME
);`,
	`CREATE TABLE IF NOT EXISTS orders (
  id TEXT PRIMARY KEY,
  user_id TEXT NOT NULL,
  status TEXT NOT NULL DEFAULT 'pending',
  subtotal_cents INTEGER NOT NULL,
  shipping_cents INTEGER NOT NULL,
  grand_total_cents INTEGER NOT NULL,
  currency TEXT NOT NULL DEFAULT 'usd',
  address_id TEXT NOT NULL,
  payment_id TEXT UNIQUE,
  payment_method TEXT,
  card_brand TEXT,
  card_last4 TEXT,
  paid_at DATETIME,
  created_at DATETIME,
  updated_at DATETIME
);`,
	`CREATE TABLE IF NOT EXISTS order_details (
  id TEXT PRIMARY KEY,
  order_id TEXT NOT NULL,
  product_id TEXT NOT NULL,
  qty INTEGER NOT NULL,
  unit_price_cents INTEGER NOT NULL,
  created_at DATETIME
);`,
	`CREATE TABLE IF NOT EXISTS outbox_events (
  id TEXT PRIMARY KEY DEFAULT (lower(hex(randomblob(16)))),
  event_type TEXT NOT NULL,
  aggregate_type TEXT NOT NULL,
  aggregate_id TEXT NOT NULL,
  payload TEXT NOT NULL,
  created_at DATETIME,
  published_at DATETIME,
  attempt_count INTEGER NOT NULL DEFAULT 0,
  last_error TEXT
);`,
}

type testStack struct {
	client  *dbpkg.Client
	service Service
	cart    cart.Repository
}

func newTestStack(t *testing.T) *testStack {
	t.Helper()
	dsn := "file:orders_" + uuid.NewString() + "?mode=memory&cache=shared"
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	for _, stmt := range testSchema {
		if err := conn.Exec(stmt).Error; err != nil {
			t.Fatalf("create tables: %v", err)
		}
	}

	client := dbpkg.FromConn(conn, 0)
	cartRepo := cart.NewRepository(conn)
	events := outbox.NewService(outbox.NewRepository(conn), nil)
	logg := logger.New(logger.Options{ServiceName: "test"})

	svc, err := NewService(NewRepository(conn), cartRepo, client, conn, events, nil, logg, config.CheckoutConfig{
		ShippingFeeCents: 15000,
		Currency:         "usd",
	})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return &testStack{client: client, service: svc, cart: cartRepo}
}

func (s *testStack) db() *gorm.DB {
	return s.client.DB()
}

func (s *testStack) seedProduct(t *testing.T, price string, available int) uuid.UUID {
	t.Helper()
	id := uuid.New()
	product := models.Product{
		ID:     id,
		SKU:    "sku-" + id.String()[:8],
		Title:  "Product " + id.String()[:8],
		Price:  decimal.RequireFromString(price),
		Active: true,
	}
	if err := s.db().Create(&product).Error; err != nil {
		t.Fatalf("seed product: %v", err)
	}
	if err := s.db().Create(&models.InventoryItem{ProductID: id, AvailableQty: available}).Error; err != nil {
		t.Fatalf("seed inventory: %v", err)
	}
	return id
}

func (s *testStack) seedCartLine(t *testing.T, userID, productID uuid.UUID, qty int) {
	t.Helper()
	item := models.CartItem{ID: uuid.New(), UserID: userID, ProductID: productID, Qty: qty}
	if err := s.db().Create(&item).Error; err != nil {
		t.Fatalf("seed cart line: %v", err)
	}
}

func validAddress() AddressInput {
	return AddressInput{
		Street:     "12 Rue des Lilas",
		PostalCode: "75011",
		City:       "Paris",
		Country:    "FR",
	}
}

func TestCreateFreezesTotals(t *testing.T) {
	t.Parallel()

	stack := newTestStack(t)
	ctx := context.Background()
	userID := uuid.New()
	productID := stack.seedProduct(t, "100.00", 5)
	stack.seedCartLine(t, userID, productID, 2)

	order, err := stack.service.Create(ctx, userID, validAddress())
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	if order.Status != enums.OrderStatusPending {
		t.Fatalf("expected pending, got %s", order.Status)
	}
	if order.SubtotalCents != 20000 {
		t.Fatalf("expected subtotal 20000, got %d", order.SubtotalCents)
	}
	if order.GrandTotalCents != 35000 {
		t.Fatalf("expected grand total 35000, got %d", order.GrandTotalCents)
	}
	if len(order.Details) != 1 || order.Details[0].UnitPriceCents != 10000 {
		t.Fatalf("expected frozen unit price 10000, got %+v", order.Details)
	}

	// A later catalog price change must not affect the frozen totals.
	if err := stack.db().Model(&models.Product{}).
		Where("id = ?", productID).
		Update("price", decimal.RequireFromString("999.99")).Error; err != nil {
		t.Fatalf("bump price: %v", err)
	}
	reloaded, err := stack.service.Get(ctx, order.ID, userID)
	if err != nil {
		t.Fatalf("reload order: %v", err)
	}
	if reloaded.GrandTotalCents != 35000 || reloaded.Details[0].UnitPriceCents != 10000 {
		t.Fatalf("totals must stay frozen, got %+v", reloaded)
	}

	// Cart is cleared once the order exists.
	items, err := stack.cart.ListByUser(ctx, userID)
	if err != nil {
		t.Fatalf("list cart: %v", err)
	}
	if len(items) != 0 {
		t.Fatalf("expected cleared cart, got %d lines", len(items))
	}

	// Stock is not decremented at order time.
	var inv models.InventoryItem
	if err := stack.db().First(&inv, "product_id = ?", productID).Error; err != nil {
		t.Fatalf("load inventory: %v", err)
	}
	if inv.AvailableQty != 5 {
		t.Fatalf("stock must be untouched at order time, got %d", inv.AvailableQty)
	}

	var eventCount int64
	if err := stack.db().Model(&models.OutboxEvent{}).
		Where("event_type = ?", enums.EventOrderCreated).
		Count(&eventCount).Error; err != nil {
		t.Fatalf("count events: %v", err)
	}
	if eventCount != 1 {
		t.Fatalf("expected one order created event, got %d", eventCount)
	}
}

func TestCreateShortfallLeavesNothingBehind(t *testing.T) {
	t.Parallel()

	stack := newTestStack(t)
	ctx := context.Background()
	userID := uuid.New()
	productID := stack.seedProduct(t, "50.00", 2)
	stack.seedCartLine(t, userID, productID, 3)

	_, err := stack.service.Create(ctx, userID, validAddress())
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeStockShort {
		t.Fatalf("expected stock shortfall error, got %v", err)
	}
	details, ok := typed.Details().(map[string]any)
	if !ok || details["shortfalls"] == nil {
		t.Fatalf("expected itemized shortfalls, got %+v", typed.Details())
	}

	var orderCount, detailCount, addressCount, cartCount int64
	stack.db().Model(&models.Order{}).Count(&orderCount)
	stack.db().Model(&models.OrderDetail{}).Count(&detailCount)
	stack.db().Model(&models.Address{}).Count(&addressCount)
	stack.db().Model(&models.CartItem{}).Count(&cartCount)
	if orderCount != 0 || detailCount != 0 || addressCount != 0 {
		t.Fatalf("expected no rows created, got orders=%d details=%d addresses=%d", orderCount, detailCount, addressCount)
	}
	if cartCount != 1 {
		t.Fatalf("cart must be untouched on failure, got %d lines", cartCount)
	}
}

func TestCreateValidation(t *testing.T) {
	t.Parallel()

	stack := newTestStack(t)
	ctx := context.Background()
	userID := uuid.New()

	_, err := stack.service.Create(ctx, userID, validAddress())
	if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodeValidation {
		t.Fatalf("expected validation error for empty cart, got %v", err)
	}

	address := validAddress()
	address.City = "  "
	_, err = stack.service.Create(ctx, userID, address)
	if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodeValidation {
		t.Fatalf("expected validation error for missing city, got %v", err)
	}
}

func TestConfirmPaymentAppliesOnce(t *testing.T) {
	t.Parallel()

	stack := newTestStack(t)
	ctx := context.Background()
	userID := uuid.New()
	productID := stack.seedProduct(t, "100.00", 5)
	stack.seedCartLine(t, userID, productID, 2)

	order, err := stack.service.Create(ctx, userID, validAddress())
	if err != nil {
		t.Fatalf("create order: %v", err)
	}

	params := ConfirmPaymentParams{
		OrderID:       order.ID,
		PaymentID:     "pi_test_123",
		PaymentMethod: "card",
		CardBrand:     "visa",
		CardLast4:     "4242",
		AmountCents:   35000,
		Currency:      "usd",
		PaidAt:        time.Now(),
	}

	first, err := stack.service.ConfirmPayment(ctx, params)
	if err != nil {
		t.Fatalf("first confirm: %v", err)
	}
	if !first.FirstTime {
		t.Fatal("expected first confirmation to apply")
	}
	if first.Order.Status != enums.OrderStatusPaid {
		t.Fatalf("expected paid, got %s", first.Order.Status)
	}
	if first.Order.PaymentID == nil || *first.Order.PaymentID != "pi_test_123" {
		t.Fatalf("payment id not persisted: %+v", first.Order)
	}

	second, err := stack.service.ConfirmPayment(ctx, params)
	if err != nil {
		t.Fatalf("second confirm: %v", err)
	}
	if second.FirstTime {
		t.Fatal("duplicate confirmation must not apply again")
	}

	var paidEvents int64
	if err := stack.db().Model(&models.OutboxEvent{}).
		Where("event_type = ?", enums.EventOrderPaid).
		Count(&paidEvents).Error; err != nil {
		t.Fatalf("count events: %v", err)
	}
	if paidEvents != 1 {
		t.Fatalf("expected exactly one paid event, got %d", paidEvents)
	}
}

func TestConfirmPaymentAmountMismatch(t *testing.T) {
	t.Parallel()

	stack := newTestStack(t)
	ctx := context.Background()
	userID := uuid.New()
	productID := stack.seedProduct(t, "100.00", 5)
	stack.seedCartLine(t, userID, productID, 2)

	order, err := stack.service.Create(ctx, userID, validAddress())
	if err != nil {
		t.Fatalf("create order: %v", err)
	}

	_, err = stack.service.ConfirmPayment(ctx, ConfirmPaymentParams{
		OrderID:     order.ID,
		PaymentID:   "pi_bad_amount",
		AmountCents: 100,
	})
	if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodeConflict {
		t.Fatalf("expected conflict on amount mismatch, got %v", err)
	}

	reloaded, err := stack.service.Status(ctx, order.ID, userID)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if reloaded.Status != enums.OrderStatusPending {
		t.Fatalf("order must stay pending on mismatch, got %s", reloaded.Status)
	}
}

func TestStatusView(t *testing.T) {
	t.Parallel()

	stack := newTestStack(t)
	ctx := context.Background()
	userID := uuid.New()
	productID := stack.seedProduct(t, "20.00", 5)
	stack.seedCartLine(t, userID, productID, 1)

	order, err := stack.service.Create(ctx, userID, validAddress())
	if err != nil {
		t.Fatalf("create order: %v", err)
	}

	view, err := stack.service.Status(ctx, order.ID, userID)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if view.Status != enums.OrderStatusPending || view.Total != 17000 || view.ShippingTotal != 15000 {
		t.Fatalf("unexpected status view: %+v", view)
	}

	_, err = stack.service.Status(ctx, order.ID, uuid.New())
	if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodeNotFound {
		t.Fatalf("expected not found for another user, got %v", err)
	}
}

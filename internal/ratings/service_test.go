package ratings

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/selimbenhamida/revend-backend/internal/orders"
	"github.com/selimbenhamida/revend-backend/pkg/db/models"
	"github.com/selimbenhamida/revend-backend/pkg/enums"
	pkgerrors "github.com/selimbenhamida/revend-backend/pkg/errors"
	"github.com/selimbenhamida/revend-backend/pkg/logger"
)

func newRatingsTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:ratings_" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	ddl := []string{
		`CREATE TABLE IF NOT EXISTS orders (
  id TEXT PRIMARY KEY,
  user_id TEXT NOT NULL,
  status TEXT NOT NULL DEFAULT 'pending',
  subtotal_cents INTEGER NOT NULL DEFAULT 0,
  shipping_cents INTEGER NOT NULL DEFAULT 0,
  grand_total_cents INTEGER NOT NULL DEFAULT 0,
  currency TEXT NOT NULL DEFAULT 'usd',
  address_id TEXT NOT NULL DEFAULT '',
  payment_id TEXT,
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
		`CREATE TABLE IF NOT EXISTS ratings (
  id TEXT PRIMARY KEY,
  order_id TEXT NOT NULL,
  user_id TEXT NOT NULL,
  score INTEGER NOT NULL,
  comment TEXT NOT NULL DEFAULT '',
  created_at DATETIME,
  CONSTRAINT ux_ratings_order_user UNIQUE (order_id, user_id)
);`,
	}
	for _, stmt := range ddl {
		if err := db.Exec(stmt).Error; err != nil {
			t.Fatalf("create tables: %v", err)
		}
	}
	return db
}

func newTestLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "test"})
}

func seedOrder(t *testing.T, db *gorm.DB, userID uuid.UUID, status enums.OrderStatus) uuid.UUID {
	t.Helper()
	order := models.Order{
		ID:        uuid.New(),
		UserID:    userID,
		Status:    status,
		AddressID: uuid.New(),
	}
	if err := db.Omit("Details", "Address").Create(&order).Error; err != nil {
		t.Fatalf("seed order: %v", err)
	}
	return order.ID
}

func newRatingsService(t *testing.T, db *gorm.DB) Service {
	t.Helper()
	svc, err := NewService(NewRepository(db), orders.NewRepository(db), newTestLogger())
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc
}

func TestSubmitRecordsRating(t *testing.T) {
	t.Parallel()

	db := newRatingsTestDB(t)
	svc := newRatingsService(t, db)
	ctx := context.Background()

	userID := uuid.New()
	orderID := seedOrder(t, db, userID, enums.OrderStatusPaid)

	rating, err := svc.Submit(ctx, SubmitParams{
		UserID:  userID,
		OrderID: orderID,
		Score:   4,
		Comment: "  arrived quickly  ",
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if rating.Comment != "arrived quickly" {
		t.Fatalf("expected trimmed comment, got %q", rating.Comment)
	}

	var stored models.Rating
	if err := db.First(&stored, "order_id = ?", orderID).Error; err != nil {
		t.Fatalf("load rating: %v", err)
	}
	if stored.Score != 4 {
		t.Fatalf("unexpected score %d", stored.Score)
	}
}

func TestSubmitLockedUntilPaid(t *testing.T) {
	t.Parallel()

	db := newRatingsTestDB(t)
	svc := newRatingsService(t, db)
	ctx := context.Background()

	userID := uuid.New()
	orderID := seedOrder(t, db, userID, enums.OrderStatusPending)

	eligibility, err := svc.CanRate(ctx, userID, orderID)
	if err != nil {
		t.Fatalf("can rate: %v", err)
	}
	if eligibility.Allowed {
		t.Fatal("pending order must not be rateable")
	}

	_, err = svc.Submit(ctx, SubmitParams{UserID: userID, OrderID: orderID, Score: 5})
	if appErr := pkgerrors.As(err); appErr == nil || appErr.Code() != pkgerrors.CodeValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestSubmitDuplicateConflicts(t *testing.T) {
	t.Parallel()

	db := newRatingsTestDB(t)
	svc := newRatingsService(t, db)
	ctx := context.Background()

	userID := uuid.New()
	orderID := seedOrder(t, db, userID, enums.OrderStatusPaid)

	params := SubmitParams{UserID: userID, OrderID: orderID, Score: 5}
	if _, err := svc.Submit(ctx, params); err != nil {
		t.Fatalf("first submit: %v", err)
	}

	_, err := svc.Submit(ctx, params)
	if appErr := pkgerrors.As(err); appErr == nil || appErr.Code() != pkgerrors.CodeConflict {
		t.Fatalf("expected conflict, got %v", err)
	}

	var count int64
	if err := db.Model(&models.Rating{}).Where("order_id = ?", orderID).Count(&count).Error; err != nil {
		t.Fatalf("count ratings: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected one rating row, got %d", count)
	}
}

// blindRepo never sees existing rows, so the eligibility check passes and the
// insert has to rely on the unique index. This is the shape of two concurrent
// submissions that both read "no rating yet".
type blindRepo struct {
	Repository
}

func (b *blindRepo) FindByOrderAndUser(ctx context.Context, orderID, userID uuid.UUID) (*models.Rating, error) {
	return nil, nil
}

func TestSubmitRaceFallsBackToUniqueIndex(t *testing.T) {
	t.Parallel()

	db := newRatingsTestDB(t)
	svc, err := NewService(&blindRepo{Repository: NewRepository(db)}, orders.NewRepository(db), newTestLogger())
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	ctx := context.Background()

	userID := uuid.New()
	orderID := seedOrder(t, db, userID, enums.OrderStatusPaid)

	params := SubmitParams{UserID: userID, OrderID: orderID, Score: 3}
	if _, err := svc.Submit(ctx, params); err != nil {
		t.Fatalf("first submit: %v", err)
	}

	_, err = svc.Submit(ctx, params)
	if appErr := pkgerrors.As(err); appErr == nil || appErr.Code() != pkgerrors.CodeConflict {
		t.Fatalf("expected conflict from unique index, got %v", err)
	}
}

func TestSubmitValidation(t *testing.T) {
	t.Parallel()

	db := newRatingsTestDB(t)
	svc := newRatingsService(t, db)
	ctx := context.Background()

	userID := uuid.New()
	orderID := seedOrder(t, db, userID, enums.OrderStatusPaid)

	cases := []SubmitParams{
		{UserID: userID, OrderID: orderID, Score: 0},
		{UserID: userID, OrderID: orderID, Score: 6},
		{UserID: uuid.Nil, OrderID: orderID, Score: 3},
		{UserID: userID, OrderID: uuid.Nil, Score: 3},
	}
	for _, params := range cases {
		_, err := svc.Submit(ctx, params)
		if appErr := pkgerrors.As(err); appErr == nil || appErr.Code() != pkgerrors.CodeValidation {
			t.Fatalf("params %+v: expected validation error, got %v", params, err)
		}
	}
}

func TestCanRateForeignOrder(t *testing.T) {
	t.Parallel()

	db := newRatingsTestDB(t)
	svc := newRatingsService(t, db)
	ctx := context.Background()

	ownerID := uuid.New()
	orderID := seedOrder(t, db, ownerID, enums.OrderStatusPaid)

	_, err := svc.CanRate(ctx, uuid.New(), orderID)
	if appErr := pkgerrors.As(err); appErr == nil || appErr.Code() != pkgerrors.CodeNotFound {
		t.Fatalf("expected not found for another user, got %v", err)
	}
}

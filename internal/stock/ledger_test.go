package stock

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/selimbenhamida/revend-backend/pkg/db/models"
	pkgerrors "github.com/selimbenhamida/revend-backend/pkg/errors"
)

func newLedgerTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:ledger_" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.AutoMigrate(&models.InventoryItem{}); err != nil {
		t.Fatalf("migrate inventory: %v", err)
	}
	return db
}

func TestCheckAvailabilityReportsShortfalls(t *testing.T) {
	t.Parallel()

	db := newLedgerTestDB(t)
	ctx := context.Background()
	productA := uuid.New()
	productB := uuid.New()
	unknown := uuid.New()

	for _, item := range []models.InventoryItem{
		{ProductID: productA, AvailableQty: 2},
		{ProductID: productB, AvailableQty: 5},
	} {
		if err := db.Create(&item).Error; err != nil {
			t.Fatalf("seed inventory: %v", err)
		}
	}

	shortfalls, err := CheckAvailability(ctx, db, []Line{
		{ProductID: productA, Qty: 3},
		{ProductID: productB, Qty: 5},
		{ProductID: unknown, Qty: 1},
	})
	if err != nil {
		t.Fatalf("check availability: %v", err)
	}
	if len(shortfalls) != 2 {
		t.Fatalf("expected 2 shortfalls, got %d", len(shortfalls))
	}
	if shortfalls[0].ProductID != productA || shortfalls[0].Available != 2 || shortfalls[0].Requested != 3 {
		t.Fatalf("unexpected first shortfall: %+v", shortfalls[0])
	}
	if shortfalls[1].ProductID != unknown || shortfalls[1].Available != 0 {
		t.Fatalf("unexpected second shortfall: %+v", shortfalls[1])
	}
}

func TestCheckAvailabilityAggregatesDuplicateLines(t *testing.T) {
	t.Parallel()

	db := newLedgerTestDB(t)
	product := uuid.New()
	if err := db.Create(&models.InventoryItem{ProductID: product, AvailableQty: 5}).Error; err != nil {
		t.Fatalf("seed inventory: %v", err)
	}

	shortfalls, err := CheckAvailability(context.Background(), db, []Line{
		{ProductID: product, Qty: 3},
		{ProductID: product, Qty: 3},
	})
	if err != nil {
		t.Fatalf("check availability: %v", err)
	}
	if len(shortfalls) != 1 {
		t.Fatalf("expected aggregated shortfall, got %d", len(shortfalls))
	}
	if shortfalls[0].Requested != 6 || shortfalls[0].Available != 5 {
		t.Fatalf("unexpected shortfall: %+v", shortfalls[0])
	}
}

func TestCheckAvailabilityValidatesInput(t *testing.T) {
	t.Parallel()

	db := newLedgerTestDB(t)

	_, err := CheckAvailability(context.Background(), db, nil)
	if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodeValidation {
		t.Fatalf("expected validation error for empty lines, got %v", err)
	}

	_, err = CheckAvailability(context.Background(), db, []Line{{ProductID: uuid.New(), Qty: 0}})
	if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodeValidation {
		t.Fatalf("expected validation error for zero qty, got %v", err)
	}
}

func TestCommitDecrementGuardsAvailableQuantity(t *testing.T) {
	t.Parallel()

	db := newLedgerTestDB(t)
	ctx := context.Background()
	product := uuid.New()
	if err := db.Create(&models.InventoryItem{ProductID: product, AvailableQty: 2}).Error; err != nil {
		t.Fatalf("seed inventory: %v", err)
	}

	applied, err := CommitDecrement(ctx, db, product, 2)
	if err != nil {
		t.Fatalf("commit decrement: %v", err)
	}
	if !applied {
		t.Fatal("expected first decrement to apply")
	}

	applied, err = CommitDecrement(ctx, db, product, 1)
	if err != nil {
		t.Fatalf("commit decrement: %v", err)
	}
	if applied {
		t.Fatal("expected guard to reject decrement below zero")
	}

	var row models.InventoryItem
	if err := db.First(&row, "product_id = ?", product).Error; err != nil {
		t.Fatalf("load inventory: %v", err)
	}
	if row.AvailableQty != 0 {
		t.Fatalf("expected available 0, got %d", row.AvailableQty)
	}
}

func TestCommitDecrementRepeatedNeverNegative(t *testing.T) {
	t.Parallel()

	db := newLedgerTestDB(t)
	ctx := context.Background()
	product := uuid.New()
	if err := db.Create(&models.InventoryItem{ProductID: product, AvailableQty: 3}).Error; err != nil {
		t.Fatalf("seed inventory: %v", err)
	}

	appliedCount := 0
	for i := 0; i < 8; i++ {
		applied, err := CommitDecrement(ctx, db, product, 1)
		if err != nil {
			t.Fatalf("commit decrement: %v", err)
		}
		if applied {
			appliedCount++
		}
	}
	if appliedCount != 3 {
		t.Fatalf("expected exactly 3 applied decrements, got %d", appliedCount)
	}

	var row models.InventoryItem
	if err := db.First(&row, "product_id = ?", product).Error; err != nil {
		t.Fatalf("load inventory: %v", err)
	}
	if row.AvailableQty != 0 {
		t.Fatalf("expected available 0, got %d", row.AvailableQty)
	}
}

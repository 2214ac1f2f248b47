package stock

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/selimbenhamida/revend-backend/pkg/db/models"
	pkgerrors "github.com/selimbenhamida/revend-backend/pkg/errors"
)

// Line is one requested quantity for a product.
type Line struct {
	ProductID uuid.UUID
	Qty       int
}

// Shortfall reports a line whose requested quantity exceeds available stock.
type Shortfall struct {
	ProductID uuid.UUID `json:"productId"`
	Requested int       `json:"requested"`
	Available int       `json:"available"`
}

// CheckAvailability returns one Shortfall per line that cannot be satisfied by
// current stock. An empty result means every line is satisfiable right now;
// the answer can be stale by payment time, which is why CommitDecrement guards
// again at commit time.
func CheckAvailability(ctx context.Context, db *gorm.DB, lines []Line) ([]Shortfall, error) {
	if db == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "database handle required")
	}
	if len(lines) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "at least one line required")
	}

	requested := make(map[uuid.UUID]int, len(lines))
	ids := make([]uuid.UUID, 0, len(lines))
	for _, line := range lines {
		if line.ProductID == uuid.Nil {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "product id required")
		}
		if line.Qty < 1 {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "quantity must be at least 1")
		}
		if _, seen := requested[line.ProductID]; !seen {
			ids = append(ids, line.ProductID)
		}
		requested[line.ProductID] += line.Qty
	}

	var rows []models.InventoryItem
	if err := db.WithContext(ctx).Where("product_id IN ?", ids).Find(&rows).Error; err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load inventory")
	}

	available := make(map[uuid.UUID]int, len(rows))
	for _, row := range rows {
		available[row.ProductID] = row.AvailableQty
	}

	shortfalls := make([]Shortfall, 0)
	for _, id := range ids {
		if want := requested[id]; want > available[id] {
			shortfalls = append(shortfalls, Shortfall{
				ProductID: id,
				Requested: want,
				Available: available[id],
			})
		}
	}
	return shortfalls, nil
}

// CommitDecrement subtracts qty from the product's available quantity only if
// enough stock remains at commit time. It reports false when the guard fails;
// the row is never driven negative.
func CommitDecrement(ctx context.Context, tx *gorm.DB, productID uuid.UUID, qty int) (bool, error) {
	if tx == nil {
		return false, pkgerrors.New(pkgerrors.CodeDependency, "database handle required")
	}
	if productID == uuid.Nil {
		return false, pkgerrors.New(pkgerrors.CodeValidation, "product id required")
	}
	if qty < 1 {
		return false, pkgerrors.New(pkgerrors.CodeValidation, "quantity must be at least 1")
	}

	result := tx.WithContext(ctx).
		Model(&models.InventoryItem{}).
		Where("product_id = ? AND available_qty >= ?", productID, qty).
		Updates(map[string]any{
			"available_qty": gorm.Expr("available_qty - ?", qty),
			"updated_at":    time.Now(),
		})
	if result.Error != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, result.Error, "decrement stock")
	}
	return result.RowsAffected == 1, nil
}

// Availability returns the current available quantity, zero for unknown products.
func Availability(ctx context.Context, db *gorm.DB, productID uuid.UUID) (int, error) {
	if db == nil {
		return 0, pkgerrors.New(pkgerrors.CodeDependency, "database handle required")
	}
	var row models.InventoryItem
	err := db.WithContext(ctx).Where("product_id = ?", productID).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, nil
		}
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load inventory")
	}
	return row.AvailableQty, nil
}

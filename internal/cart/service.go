package cart

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	dbpkg "github.com/selimbenhamida/revend-backend/pkg/db"
	"github.com/selimbenhamida/revend-backend/pkg/db/models"
	pkgerrors "github.com/selimbenhamida/revend-backend/pkg/errors"
)

// SnapshotLine is one cart line joined with the live catalog and stock state.
type SnapshotLine struct {
	ProductID    uuid.UUID       `json:"productId"`
	SKU          string          `json:"sku"`
	Title        string          `json:"title"`
	Qty          int             `json:"qty"`
	UnitPrice    decimal.Decimal `json:"unitPrice"`
	AvailableQty int             `json:"availableQty"`
}

// Snapshot is the user's cart as priced right now. Prices here are live and
// only become binding once an order freezes them.
type Snapshot struct {
	UserID   uuid.UUID       `json:"userId"`
	Lines    []SnapshotLine  `json:"lines"`
	Subtotal decimal.Decimal `json:"subtotal"`
}

// Service exposes cart reads and mutations.
type Service interface {
	Snapshot(ctx context.Context, userID uuid.UUID) (*Snapshot, error)
	AddItem(ctx context.Context, userID, productID uuid.UUID, qty int) error
	SetItemQty(ctx context.Context, userID, productID uuid.UUID, qty int) error
	RemoveItem(ctx context.Context, userID, productID uuid.UUID) error
	Clear(ctx context.Context, userID uuid.UUID) error
}

type service struct {
	repo Repository
	db   *gorm.DB
}

// NewService builds a cart service backed by the provided stack.
func NewService(repo Repository, db *gorm.DB) (Service, error) {
	if repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "cart repository required")
	}
	if db == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "database handle required")
	}
	return &service{repo: repo, db: db}, nil
}

type snapshotRow struct {
	ProductID    uuid.UUID
	SKU          string
	Title        string
	Qty          int
	Price        decimal.Decimal
	AvailableQty int
}

func (s *service) Snapshot(ctx context.Context, userID uuid.UUID) (*Snapshot, error) {
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id required")
	}

	var rows []snapshotRow
	err := s.db.WithContext(ctx).
		Table("cart_items").
		Select(`cart_items.product_id,
			products.sku,
			products.title,
			cart_items.qty,
			products.price,
			COALESCE(inventory_items.available_qty, 0) AS available_qty`).
		Joins("JOIN products ON products.id = cart_items.product_id").
		Joins("LEFT JOIN inventory_items ON inventory_items.product_id = cart_items.product_id").
		Where("cart_items.user_id = ?", userID).
		Order("cart_items.created_at ASC").
		Scan(&rows).Error
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load cart snapshot")
	}

	snapshot := &Snapshot{UserID: userID, Lines: make([]SnapshotLine, 0, len(rows)), Subtotal: decimal.Zero}
	for _, row := range rows {
		line := SnapshotLine{
			ProductID:    row.ProductID,
			SKU:          row.SKU,
			Title:        row.Title,
			Qty:          row.Qty,
			UnitPrice:    row.Price,
			AvailableQty: row.AvailableQty,
		}
		snapshot.Lines = append(snapshot.Lines, line)
		snapshot.Subtotal = snapshot.Subtotal.Add(row.Price.Mul(decimal.NewFromInt(int64(row.Qty))))
	}
	return snapshot, nil
}

func (s *service) AddItem(ctx context.Context, userID, productID uuid.UUID, qty int) error {
	if userID == uuid.Nil || productID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "user id and product id required")
	}
	if qty < 1 {
		return pkgerrors.New(pkgerrors.CodeValidation, "quantity must be at least 1")
	}

	var product models.Product
	err := s.db.WithContext(ctx).Where("id = ? AND active = ?", productID, true).First(&product).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return pkgerrors.New(pkgerrors.CodeNotFound, "product not found")
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load product")
	}

	item := models.CartItem{ID: uuid.New(), UserID: userID, ProductID: productID, Qty: qty}
	if err := s.repo.Insert(ctx, &item); err != nil {
		if dbpkg.IsUniqueViolation(err, "ux_cart_items_user_product") {
			// Line already exists; treat add as an increment.
			if _, incrErr := s.repo.IncrementQty(ctx, userID, productID, qty); incrErr != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, incrErr, "increment cart line")
			}
			return nil
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "insert cart line")
	}
	return nil
}

func (s *service) SetItemQty(ctx context.Context, userID, productID uuid.UUID, qty int) error {
	if qty < 1 {
		return pkgerrors.New(pkgerrors.CodeValidation, "quantity must be at least 1")
	}
	updated, err := s.repo.SetQty(ctx, userID, productID, qty)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update cart line")
	}
	if !updated {
		return pkgerrors.New(pkgerrors.CodeNotFound, "cart line not found")
	}
	return nil
}

func (s *service) RemoveItem(ctx context.Context, userID, productID uuid.UUID) error {
	removed, err := s.repo.Remove(ctx, userID, productID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "remove cart line")
	}
	if !removed {
		return pkgerrors.New(pkgerrors.CodeNotFound, "cart line not found")
	}
	return nil
}

func (s *service) Clear(ctx context.Context, userID uuid.UUID) error {
	if userID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "user id required")
	}
	if err := s.repo.ClearForUser(ctx, userID); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "clear cart")
	}
	return nil
}

package orders

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/selimbenhamida/revend-backend/internal/cart"
	"github.com/selimbenhamida/revend-backend/internal/stock"
	"github.com/selimbenhamida/revend-backend/pkg/config"
	dbpkg "github.com/selimbenhamida/revend-backend/pkg/db"
	"github.com/selimbenhamida/revend-backend/pkg/db/models"
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

// AddressInput is the delivery address captured with a new order.
type AddressInput struct {
	Street     string
	PostalCode string
	City       string
	Country    string
}

func (a AddressInput) validate() error {
	for _, field := range []struct {
		name  string
		value string
	}{
		{"street", a.Street},
		{"postal code", a.PostalCode},
		{"city", a.City},
		{"country", a.Country},
	} {
		if strings.TrimSpace(field.value) == "" {
			return pkgerrors.New(pkgerrors.CodeValidation, field.name+" is required")
		}
	}
	return nil
}

// ConfirmPaymentParams carries the provider-verified payment confirmation.
type ConfirmPaymentParams struct {
	OrderID       uuid.UUID
	PaymentID     string
	PaymentMethod string
	CardBrand     string
	CardLast4     string
	AmountCents   int64
	Currency      string
	PaidAt        time.Time
}

// ConfirmResult reports whether the confirmation was applied for the first time.
type ConfirmResult struct {
	Order     *models.Order
	FirstTime bool
}

// StatusView is the public shape of an order's progress.
type StatusView struct {
	Status        enums.OrderStatus `json:"status"`
	Total         int64             `json:"total"`
	ShippingTotal int64             `json:"shippingTotal"`
	CreatedAt     time.Time         `json:"createdAt"`
}

// Service builds orders with frozen totals and applies payment confirmations.
type Service interface {
	Create(ctx context.Context, userID uuid.UUID, address AddressInput) (*models.Order, error)
	Get(ctx context.Context, orderID, userID uuid.UUID) (*models.Order, error)
	Status(ctx context.Context, orderID, userID uuid.UUID) (*StatusView, error)
	ConfirmPayment(ctx context.Context, params ConfirmPaymentParams) (*ConfirmResult, error)
}

type service struct {
	repo     Repository
	cartRepo cart.Repository
	tx       txRunner
	db       *gorm.DB
	events   *outbox.Service
	metrics  *metrics.PipelineMetrics
	logg     *logger.Logger
	checkout config.CheckoutConfig
}

// NewService wires the order builder dependencies.
func NewService(
	repo Repository,
	cartRepo cart.Repository,
	tx txRunner,
	db *gorm.DB,
	events *outbox.Service,
	pipelineMetrics *metrics.PipelineMetrics,
	logg *logger.Logger,
	checkout config.CheckoutConfig,
) (Service, error) {
	if repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "orders repository required")
	}
	if cartRepo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "cart repository required")
	}
	if tx == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "transaction runner required")
	}
	if db == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "database handle required")
	}
	if events == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "outbox service required")
	}
	if logg == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "logger required")
	}
	return &service{
		repo:     repo,
		cartRepo: cartRepo,
		tx:       tx,
		db:       db,
		events:   events,
		metrics:  pipelineMetrics,
		logg:     logg,
		checkout: checkout,
	}, nil
}

// Create turns the user's cart into a pending order inside one transaction:
// stock check, address insert, order plus detail inserts with frozen unit
// prices, cart cleanup. A shortfall on any line aborts the whole thing.
func (s *service) Create(ctx context.Context, userID uuid.UUID, address AddressInput) (*models.Order, error) {
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id required")
	}
	if err := address.validate(); err != nil {
		return nil, err
	}

	var created *models.Order
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		cartRepo := s.cartRepo.WithTx(tx)
		repo := s.repo.WithTx(tx)

		items, err := cartRepo.ListByUser(ctx, userID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load cart")
		}
		if len(items) == 0 {
			return pkgerrors.New(pkgerrors.CodeValidation, "cart is empty")
		}

		lines := make([]stock.Line, 0, len(items))
		productIDs := make([]uuid.UUID, 0, len(items))
		for _, item := range items {
			lines = append(lines, stock.Line{ProductID: item.ProductID, Qty: item.Qty})
			productIDs = append(productIDs, item.ProductID)
		}

		shortfalls, err := stock.CheckAvailability(ctx, tx, lines)
		if err != nil {
			return err
		}
		if len(shortfalls) > 0 {
			return pkgerrors.New(pkgerrors.CodeStockShort, "insufficient stock for one or more lines").
				WithDetails(map[string]any{"shortfalls": shortfalls})
		}

		var products []models.Product
		if err := tx.WithContext(ctx).Where("id IN ?", productIDs).Find(&products).Error; err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load products")
		}
		priceByProduct := make(map[uuid.UUID]decimal.Decimal, len(products))
		for _, product := range products {
			priceByProduct[product.ID] = product.Price
		}

		addressRow := models.Address{
			ID:         uuid.New(),
			UserID:     userID,
			Street:     strings.TrimSpace(address.Street),
			PostalCode: strings.TrimSpace(address.PostalCode),
			City:       strings.TrimSpace(address.City),
			Country:    strings.TrimSpace(address.Country),
		}
		if err := repo.InsertAddress(ctx, &addressRow); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "persist address")
		}

		orderID := uuid.New()
		var subtotalCents int64
		details := make([]models.OrderDetail, 0, len(items))
		eventLines := make([]payloads.OrderLine, 0, len(items))
		for _, item := range items {
			price, ok := priceByProduct[item.ProductID]
			if !ok {
				return pkgerrors.New(pkgerrors.CodeNotFound, "cart references unknown product")
			}
			unitCents := price.Shift(2).Round(0).IntPart()
			subtotalCents += unitCents * int64(item.Qty)
			details = append(details, models.OrderDetail{
				ID:             uuid.New(),
				OrderID:        orderID,
				ProductID:      item.ProductID,
				Qty:            item.Qty,
				UnitPriceCents: unitCents,
			})
			eventLines = append(eventLines, payloads.OrderLine{
				ProductID:      item.ProductID,
				Qty:            item.Qty,
				UnitPriceCents: unitCents,
			})
		}

		shippingCents := int64(s.checkout.ShippingFeeCents)
		order := models.Order{
			ID:              orderID,
			UserID:          userID,
			Status:          enums.OrderStatusPending,
			SubtotalCents:   subtotalCents,
			ShippingCents:   shippingCents,
			GrandTotalCents: subtotalCents + shippingCents,
			Currency:        s.checkout.Currency,
			AddressID:       addressRow.ID,
		}
		if err := repo.Insert(ctx, &order); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "persist order")
		}
		if err := repo.InsertDetails(ctx, details); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "persist order details")
		}
		if err := cartRepo.ClearForUser(ctx, userID); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "clear cart")
		}

		if err := s.events.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderCreated,
			AggregateType: enums.AggregateOrder,
			AggregateID:   orderID,
			Actor:         &outbox.ActorRef{UserID: userID},
			Data: payloads.OrderCreatedEvent{
				OrderID:         orderID,
				UserID:          userID,
				GrandTotalCents: order.GrandTotalCents,
				Currency:        order.Currency,
				Lines:           eventLines,
			},
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "emit order created event")
		}

		order.Details = details
		created = &order
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.IncOrderCreated()
	logCtx := s.logg.WithOrderID(ctx, created.ID.String())
	s.logg.Info(logCtx, "order created with frozen totals")
	return created, nil
}

func (s *service) Get(ctx context.Context, orderID, userID uuid.UUID) (*models.Order, error) {
	if orderID == uuid.Nil || userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id and user id required")
	}
	order, err := s.repo.FindByIDForUser(ctx, orderID, userID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}
	if order == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	}
	return order, nil
}

func (s *service) Status(ctx context.Context, orderID, userID uuid.UUID) (*StatusView, error) {
	order, err := s.Get(ctx, orderID, userID)
	if err != nil {
		return nil, err
	}
	return &StatusView{
		Status:        order.Status,
		Total:         order.GrandTotalCents,
		ShippingTotal: order.ShippingCents,
		CreatedAt:     order.CreatedAt,
	}, nil
}

// ConfirmPayment applies the pending to paid transition at most once. The
// conditional update keyed on status is the primary guard; the unique index on
// payment_id is the storage backstop when two deliveries race.
func (s *service) ConfirmPayment(ctx context.Context, params ConfirmPaymentParams) (*ConfirmResult, error) {
	if params.OrderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	if strings.TrimSpace(params.PaymentID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment id required")
	}

	order, err := s.repo.FindByID(ctx, params.OrderID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}
	if order == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	}
	if params.AmountCents > 0 && params.AmountCents != order.GrandTotalCents {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "payment amount does not match frozen order total").
			WithDetails(map[string]any{
				"expected": order.GrandTotalCents,
				"received": params.AmountCents,
			})
	}

	if params.PaidAt.IsZero() {
		params.PaidAt = time.Now()
	}

	var firstTime bool
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		applied, err := repo.MarkPaid(ctx, MarkPaidParams{
			OrderID:       params.OrderID,
			PaymentID:     params.PaymentID,
			PaymentMethod: params.PaymentMethod,
			CardBrand:     params.CardBrand,
			CardLast4:     params.CardLast4,
			PaidAt:        params.PaidAt,
		})
		if err != nil {
			if dbpkg.IsUniqueViolation(err, "ux_orders_payment_id") {
				applied = false
			} else {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark order paid")
			}
		}
		firstTime = applied
		if !applied {
			return nil
		}
		return s.events.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderPaid,
			AggregateType: enums.AggregateOrder,
			AggregateID:   params.OrderID,
			Data: payloads.OrderPaidEvent{
				OrderID:     params.OrderID,
				UserID:      order.UserID,
				PaymentID:   params.PaymentID,
				AmountCents: order.GrandTotalCents,
				Currency:    order.Currency,
				PaidAt:      params.PaidAt,
			},
		})
	})
	if err != nil {
		return nil, err
	}

	refreshed, err := s.repo.FindByID(ctx, params.OrderID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reload order")
	}
	return &ConfirmResult{Order: refreshed, FirstTime: firstTime}, nil
}

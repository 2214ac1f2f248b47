package ratings

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/selimbenhamida/revend-backend/pkg/db"
	"github.com/selimbenhamida/revend-backend/pkg/db/models"
	pkgerrors "github.com/selimbenhamida/revend-backend/pkg/errors"
	"github.com/selimbenhamida/revend-backend/pkg/logger"
)

const maxCommentLength = 2000

// orderFinder is the slice of the orders repository this package needs.
type orderFinder interface {
	FindByIDForUser(ctx context.Context, id, userID uuid.UUID) (*models.Order, error)
}

// SubmitParams carries one rating submission.
type SubmitParams struct {
	UserID  uuid.UUID
	OrderID uuid.UUID
	Score   int
	Comment string
}

func (p SubmitParams) validate() error {
	if p.UserID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "user id required")
	}
	if p.OrderID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	if p.Score < 1 || p.Score > 5 {
		return pkgerrors.New(pkgerrors.CodeValidation, "score must be between 1 and 5")
	}
	if len(p.Comment) > maxCommentLength {
		return pkgerrors.New(pkgerrors.CodeValidation, "comment too long")
	}
	return nil
}

// Eligibility reports whether a user may rate an order and, when not, why.
type Eligibility struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}

// Service gates and records order ratings. A rating unlocks only once the
// order has been paid, and each (order, user) pair rates at most once.
type Service interface {
	CanRate(ctx context.Context, userID, orderID uuid.UUID) (Eligibility, error)
	Submit(ctx context.Context, params SubmitParams) (*models.Rating, error)
}

type service struct {
	repo   Repository
	orders orderFinder
	logg   *logger.Logger
}

// NewService wires ratings dependencies.
func NewService(repo Repository, orders orderFinder, logg *logger.Logger) (Service, error) {
	if repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "ratings repository required")
	}
	if orders == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "order finder required")
	}
	if logg == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "logger required")
	}
	return &service{repo: repo, orders: orders, logg: logg}, nil
}

func (s *service) CanRate(ctx context.Context, userID, orderID uuid.UUID) (Eligibility, error) {
	if userID == uuid.Nil || orderID == uuid.Nil {
		return Eligibility{}, pkgerrors.New(pkgerrors.CodeValidation, "user id and order id required")
	}

	order, err := s.orders.FindByIDForUser(ctx, orderID, userID)
	if err != nil {
		return Eligibility{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}
	if order == nil {
		return Eligibility{}, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	}
	if !order.Status.Rateable() {
		return Eligibility{Reason: "order not paid yet"}, nil
	}

	existing, err := s.repo.FindByOrderAndUser(ctx, orderID, userID)
	if err != nil {
		return Eligibility{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check existing rating")
	}
	if existing != nil {
		return Eligibility{Reason: "order already rated"}, nil
	}
	return Eligibility{Allowed: true}, nil
}

func (s *service) Submit(ctx context.Context, params SubmitParams) (*models.Rating, error) {
	if err := params.validate(); err != nil {
		return nil, err
	}

	eligibility, err := s.CanRate(ctx, params.UserID, params.OrderID)
	if err != nil {
		return nil, err
	}
	if !eligibility.Allowed {
		if eligibility.Reason == "order already rated" {
			return nil, pkgerrors.New(pkgerrors.CodeConflict, "order already rated")
		}
		return nil, pkgerrors.New(pkgerrors.CodeValidation, eligibility.Reason)
	}

	rating := models.Rating{
		ID:      uuid.New(),
		OrderID: params.OrderID,
		UserID:  params.UserID,
		Score:   params.Score,
		Comment: strings.TrimSpace(params.Comment),
	}
	if err := s.repo.Insert(ctx, &rating); err != nil {
		// The unique index catches the race between two concurrent submissions
		// that both passed the eligibility check.
		if db.IsUniqueViolation(err, "ux_ratings_order_user") {
			return nil, pkgerrors.New(pkgerrors.CodeConflict, "order already rated")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "persist rating")
	}

	logCtx := s.logg.WithFields(ctx, map[string]any{
		"order_id": params.OrderID.String(),
		"score":    params.Score,
	})
	s.logg.Info(logCtx, "rating recorded")
	return &rating, nil
}

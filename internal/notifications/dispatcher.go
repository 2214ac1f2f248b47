package notifications

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/selimbenhamida/revend-backend/pkg/db/models"
	"github.com/selimbenhamida/revend-backend/pkg/enums"
	pkgerrors "github.com/selimbenhamida/revend-backend/pkg/errors"
	"github.com/selimbenhamida/revend-backend/pkg/logger"
)

// Dispatcher fans out in-app notifications: targeted for a single recipient,
// broadcast for every known customer.
type Dispatcher interface {
	Notify(ctx context.Context, recipientID uuid.UUID, kind enums.NotificationType, title, message string, orderID *uuid.UUID) error
	NotifyOrderPaid(ctx context.Context, recipientID, orderID uuid.UUID) error
	NotifyPromotion(ctx context.Context, title, message string) (int, error)
}

type dispatcher struct {
	repo Repository
	logg *logger.Logger
}

// NewDispatcher wires the notification fan-out.
func NewDispatcher(repo Repository, logg *logger.Logger) (Dispatcher, error) {
	if repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "notifications repository required")
	}
	if logg == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "logger required")
	}
	return &dispatcher{repo: repo, logg: logg}, nil
}

func (d *dispatcher) Notify(ctx context.Context, recipientID uuid.UUID, kind enums.NotificationType, title, message string, orderID *uuid.UUID) error {
	if recipientID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "recipient id required")
	}
	if !kind.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, "unknown notification type")
	}
	row := models.Notification{
		ID:      uuid.New(),
		UserID:  recipientID,
		Type:    kind,
		Title:   title,
		Message: message,
		OrderID: orderID,
	}
	if err := d.repo.Create(ctx, &row); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "persist notification")
	}
	return nil
}

func (d *dispatcher) NotifyOrderPaid(ctx context.Context, recipientID, orderID uuid.UUID) error {
	return d.Notify(ctx, recipientID, enums.NotificationTypeOrderPaid,
		"Payment received",
		"Your payment was confirmed and your order is being prepared.",
		&orderID)
}

// NotifyPromotion delivers the message to every known recipient. One failed
// insert does not stop the rest; errors are collected and returned together.
func (d *dispatcher) NotifyPromotion(ctx context.Context, title, message string) (int, error) {
	recipients, err := d.repo.BroadcastRecipients(ctx)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load broadcast recipients")
	}

	delivered := 0
	var errs error
	for _, recipientID := range recipients {
		if err := d.Notify(ctx, recipientID, enums.NotificationTypePromotion, title, message, nil); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("recipient %s: %w", recipientID, err))
			continue
		}
		delivered++
	}
	if errs != nil {
		logCtx := d.logg.WithFields(ctx, map[string]any{
			"delivered": delivered,
			"failed":    len(multierr.Errors(errs)),
		})
		d.logg.Error(logCtx, "promotion broadcast partially failed", errs)
	}
	return delivered, errs
}

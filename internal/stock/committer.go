package stock

import (
	"context"

	"github.com/google/uuid"

	"github.com/selimbenhamida/revend-backend/pkg/db"
	"github.com/selimbenhamida/revend-backend/pkg/db/models"
	pkgerrors "github.com/selimbenhamida/revend-backend/pkg/errors"
	"github.com/selimbenhamida/revend-backend/pkg/logger"
	"github.com/selimbenhamida/revend-backend/pkg/metrics"
)

// CommitResult summarizes one commit pass over an order's lines.
type CommitResult struct {
	Applied    []Line
	Shortfalls []Shortfall
}

// FullyApplied reports whether every line was decremented.
func (r CommitResult) FullyApplied() bool {
	return len(r.Shortfalls) == 0
}

// Committer decrements stock for a paid order, one guarded update per line.
// It is only ever invoked from the reconciler's first-time transition branch,
// which is what keeps repeated webhook deliveries from double-decrementing.
type Committer struct {
	client  *db.Client
	metrics *metrics.PipelineMetrics
	logg    *logger.Logger
}

// NewCommitter wires the stock committer dependencies.
func NewCommitter(client *db.Client, pipelineMetrics *metrics.PipelineMetrics, logg *logger.Logger) (*Committer, error) {
	if client == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "db client required")
	}
	if logg == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "logger required")
	}
	return &Committer{client: client, metrics: pipelineMetrics, logg: logg}, nil
}

// Apply decrements stock for every detail line of the order. Lines that fail
// the commit-time guard are reported as shortfalls instead of failing the
// whole pass; the payment has already been confirmed at this point.
func (c *Committer) Apply(ctx context.Context, orderID uuid.UUID) (CommitResult, error) {
	if orderID == uuid.Nil {
		return CommitResult{}, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}

	ctx, cancel := c.client.BoundContext(ctx)
	defer cancel()

	var details []models.OrderDetail
	if err := c.client.DB().WithContext(ctx).
		Where("order_id = ?", orderID).
		Find(&details).Error; err != nil {
		return CommitResult{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order details")
	}
	if len(details) == 0 {
		return CommitResult{}, pkgerrors.New(pkgerrors.CodeNotFound, "order has no detail lines")
	}

	result := CommitResult{}
	for _, detail := range details {
		applied, err := CommitDecrement(ctx, c.client.DB(), detail.ProductID, detail.Qty)
		if err != nil {
			c.metrics.IncStockCommit(metrics.StockCommitFailed)
			return result, err
		}
		if !applied {
			available, availErr := Availability(ctx, c.client.DB(), detail.ProductID)
			if availErr != nil {
				available = 0
			}
			result.Shortfalls = append(result.Shortfalls, Shortfall{
				ProductID: detail.ProductID,
				Requested: detail.Qty,
				Available: available,
			})
			c.metrics.IncStockCommit(metrics.StockCommitShort)
			logCtx := c.logg.WithFields(ctx, map[string]any{
				"order_id":   orderID.String(),
				"product_id": detail.ProductID.String(),
				"requested":  detail.Qty,
				"available":  available,
			})
			c.logg.Warn(logCtx, "stock commit short after payment confirmation")
			continue
		}
		result.Applied = append(result.Applied, Line{ProductID: detail.ProductID, Qty: detail.Qty})
		c.metrics.IncStockCommit(metrics.StockCommitApplied)
	}
	return result, nil
}

package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/storefront/storefront/internal/inventory"
	jobmetrics "github.com/storefront/storefront/internal/jobs"
	"github.com/storefront/storefront/internal/shared"
)

// LowStockLister is the inventory read used by the scan.
type LowStockLister interface {
	ListLowStock(ctx context.Context, threshold, limit int) ([]inventory.Variant, error)
}

// LowStockGauge receives the number of variants currently below threshold.
type LowStockGauge interface {
	SetLowStock(n int)
}

// LowStockScanJob reports active variants whose stock fell below the threshold.
type LowStockScanJob struct {
	Inventory LowStockLister
	Gauge     LowStockGauge
	Logger    *slog.Logger
	Metrics   *jobmetrics.Metrics
}

// NewLowStockScanJob initialises the low-stock scan handler.
func NewLowStockScanJob(inv LowStockLister, gauge LowStockGauge, logger *slog.Logger, metrics *jobmetrics.Metrics) *LowStockScanJob {
	return &LowStockScanJob{Inventory: inv, Gauge: gauge, Logger: logger, Metrics: metrics}
}

// Handle executes the scan.
func (j *LowStockScanJob) Handle(ctx context.Context, t *asynq.Task) (resultErr error) {
	if j == nil || j.Inventory == nil {
		return errors.New("low stock scan: handler not configured")
	}
	var payload LowStockScanPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}

	start := time.Now()
	tracker := j.Metrics.Track(TaskLowStockScan)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := jobLogger(j.Logger, TaskLowStockScan)
	variants, err := j.Inventory.ListLowStock(ctx, payload.Threshold, shared.MaxLimit)
	if err != nil {
		logger.Error("scan failed", slog.Any("error", err))
		return err
	}
	for _, v := range variants {
		logger.Warn("variant low on stock",
			slog.Int64("variant_id", v.ID),
			slog.Int64("product_id", v.ProductID),
			slog.String("sku", v.SKU),
			slog.Int("stock_quantity", v.StockQuantity),
		)
	}
	if j.Gauge != nil {
		j.Gauge.SetLowStock(len(variants))
	}
	logger.Info("completed low stock scan",
		slog.Int("variants", len(variants)),
		slog.Duration("duration", time.Since(start)),
	)
	return nil
}

func jobLogger(logger *slog.Logger, job string) *slog.Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return logger.With(slog.String("job", job))
}

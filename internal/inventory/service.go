package inventory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/storefront/storefront/internal/observability"
	"github.com/storefront/storefront/internal/shared"
)

const (
	defaultLowStockThreshold = 5
	defaultListLimit         = 100
	maxListLimit             = 500
)

// InsufficientStockError reports a subtract larger than the stock on hand.
type InsufficientStockError struct {
	VariantID int64
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("variant %d: requested %d, available %d: %s", e.VariantID, e.Requested, e.Available, shared.ErrInsufficientStock)
}

// Is makes errors.Is(err, shared.ErrInsufficientStock) succeed.
func (e *InsufficientStockError) Is(target error) bool {
	return target == shared.ErrInsufficientStock
}

// ServiceConfig groups optional settings.
type ServiceConfig struct {
	LowStockThreshold int
}

// Service coordinates variant and stock operations.
type Service struct {
	repo     RepositoryPort
	audit    shared.AuditPort
	metrics  *observability.Metrics
	logger   *slog.Logger
	lowStock int
}

// NewService builds Service. audit and metrics may be nil.
func NewService(repo RepositoryPort, audit shared.AuditPort, metrics *observability.Metrics, logger *slog.Logger, cfg ServiceConfig) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.LowStockThreshold <= 0 {
		cfg.LowStockThreshold = defaultLowStockThreshold
	}
	return &Service{repo: repo, audit: audit, metrics: metrics, logger: logger, lowStock: cfg.LowStockThreshold}
}

// LowStockThreshold returns the configured default threshold.
func (s *Service) LowStockThreshold() int {
	return s.lowStock
}

// NextQuantity computes the stock after applying adj to current. Subtracting more than is
// on hand fails instead of clamping.
func NextQuantity(current int, adj Adjustment) (int, error) {
	if adj.Delta < 0 {
		return 0, shared.NewValidationError("delta", "must be at least 0")
	}
	switch adj.Mode {
	case ModeSet:
		return adj.Delta, nil
	case ModeAdd:
		if adj.Delta == 0 {
			return 0, shared.NewValidationError("delta", "must be greater than 0")
		}
		return current + adj.Delta, nil
	case ModeSubtract:
		if adj.Delta == 0 {
			return 0, shared.NewValidationError("delta", "must be greater than 0")
		}
		if adj.Delta > current {
			return 0, &InsufficientStockError{VariantID: adj.VariantID, Requested: adj.Delta, Available: current}
		}
		return current - adj.Delta, nil
	}
	return 0, shared.NewValidationError("mode", "must be one of set add subtract")
}

// ApplyLocked writes adj against a variant already locked by tx.GetVariantForUpdate and
// records the movement in the same transaction.
func ApplyLocked(ctx context.Context, tx TxRepository, v Variant, actorID int64, adj Adjustment) (Variant, Movement, error) {
	next, err := NextQuantity(v.StockQuantity, adj)
	if err != nil {
		return Variant{}, Movement{}, err
	}
	if err := tx.SetStock(ctx, v.ID, next); err != nil {
		return Variant{}, Movement{}, err
	}
	movement, err := tx.InsertMovement(ctx, Movement{
		VariantID: v.ID,
		Mode:      adj.Mode,
		Delta:     adj.Delta,
		QtyBefore: v.StockQuantity,
		QtyAfter:  next,
		ActorID:   actorID,
		Ref:       adj.Ref,
	})
	if err != nil {
		return Variant{}, Movement{}, err
	}
	v.StockQuantity = next
	return v, movement, nil
}

// AdjustStock applies a set, add or subtract to one variant. Concurrent adjustments of the
// same variant are serialised by the row lock.
func (s *Service) AdjustStock(ctx context.Context, adj Adjustment) (Movement, error) {
	actor, err := shared.RequireStaff(ctx)
	if err != nil {
		return Movement{}, err
	}
	if err := shared.ValidateStruct(adj); err != nil {
		return Movement{}, err
	}
	var movement Movement
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		v, err := tx.GetVariantForUpdate(ctx, adj.VariantID)
		if err != nil {
			return err
		}
		_, movement, err = ApplyLocked(ctx, tx, v, actor.ID, adj)
		return err
	})
	if err != nil {
		s.metrics.StockAdjusted(string(adj.Mode), outcome(err))
		return Movement{}, fmt.Errorf("inventory: adjust variant %d: %w", adj.VariantID, err)
	}
	s.metrics.StockAdjusted(string(adj.Mode), observability.OutcomeOK)
	s.record(ctx, actor.ID, "inventory:"+string(adj.Mode), adj.VariantID, map[string]any{
		"delta":      adj.Delta,
		"qty_before": movement.QtyBefore,
		"qty_after":  movement.QtyAfter,
		"ref":        adj.Ref,
	})
	return movement, nil
}

// CreateVariant adds a variant to an existing product.
func (s *Service) CreateVariant(ctx context.Context, productID int64, input VariantInput) (Variant, error) {
	actor, err := shared.RequireStaff(ctx)
	if err != nil {
		return Variant{}, err
	}
	if productID <= 0 {
		return Variant{}, shared.NewValidationError("product_id", "must be a positive integer")
	}
	if err := shared.ValidateStruct(input); err != nil {
		return Variant{}, err
	}
	if input.PriceOverride.Valid && input.PriceOverride.Decimal.IsNegative() {
		return Variant{}, shared.NewValidationError("price_override", "must be at least 0")
	}
	var created Variant
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if _, err := tx.LockProduct(ctx, productID); err != nil {
			return err
		}
		exists, err := tx.SKUExists(ctx, input.SKU)
		if err != nil {
			return err
		}
		if exists {
			return fmt.Errorf("variant sku %q: %w", input.SKU, shared.ErrDuplicateKey)
		}
		created, err = tx.InsertVariant(ctx, Variant{
			ProductID:     productID,
			Size:          input.Size,
			Color:         input.Color,
			SKU:           input.SKU,
			StockQuantity: input.StockQuantity,
			PriceOverride: input.PriceOverride,
		})
		return err
	})
	if err != nil {
		return Variant{}, fmt.Errorf("inventory: create variant for product %d: %w", productID, err)
	}
	s.record(ctx, actor.ID, "inventory:variant:create", created.ID, map[string]any{"sku": created.SKU, "product_id": productID})
	return created, nil
}

// DeactivateVariant hides a variant from sale. It is idempotent.
func (s *Service) DeactivateVariant(ctx context.Context, id int64) error {
	actor, err := shared.RequireStaff(ctx)
	if err != nil {
		return err
	}
	changed := false
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		v, err := tx.GetVariantForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if !v.IsActive {
			return nil
		}
		changed = true
		return tx.SetVariantActive(ctx, id, false)
	})
	if err != nil {
		return fmt.Errorf("inventory: deactivate variant %d: %w", id, err)
	}
	if changed {
		s.record(ctx, actor.ID, "inventory:variant:deactivate", id, nil)
	}
	return nil
}

// GetVariant returns a variant by id.
func (s *Service) GetVariant(ctx context.Context, id int64) (Variant, error) {
	return s.repo.GetVariant(ctx, id)
}

// ListVariants returns every variant of a product.
func (s *Service) ListVariants(ctx context.Context, productID int64) ([]Variant, error) {
	return s.repo.ListVariants(ctx, productID)
}

// ListLowStock returns active variants with stock below threshold, lowest first. A
// non-positive threshold uses the configured default.
func (s *Service) ListLowStock(ctx context.Context, threshold, limit int) ([]Variant, error) {
	if threshold <= 0 {
		threshold = s.lowStock
	}
	return s.repo.ListLowStock(ctx, threshold, clampLimit(limit))
}

// ListMovements returns the most recent stock movements of a variant.
func (s *Service) ListMovements(ctx context.Context, variantID int64, limit int) ([]Movement, error) {
	if _, err := s.repo.GetVariant(ctx, variantID); err != nil {
		return nil, err
	}
	return s.repo.ListMovements(ctx, variantID, clampLimit(limit))
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultListLimit
	}
	if limit > maxListLimit {
		return maxListLimit
	}
	return limit
}

func outcome(err error) string {
	if errors.Is(err, shared.ErrInsufficientStock) || errors.Is(err, shared.ErrValidation) || errors.Is(err, shared.ErrNotFound) {
		return observability.OutcomeRejected
	}
	return observability.OutcomeError
}

func (s *Service) record(ctx context.Context, actorID int64, action string, variantID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "variant",
		EntityID: strconv.FormatInt(variantID, 10),
		Meta:     meta,
	}); err != nil {
		s.logger.Warn("inventory audit failed", slog.String("action", action), slog.Any("error", err))
	}
}

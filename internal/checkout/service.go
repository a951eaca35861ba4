package checkout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/storefront/storefront/internal/coupons"
	"github.com/storefront/storefront/internal/inventory"
	"github.com/storefront/storefront/internal/observability"
	"github.com/storefront/storefront/internal/shared"
)

const idempotencyModule = "checkout"

// ServiceConfig groups optional settings.
type ServiceConfig struct {
	Mode Mode
}

// Service coordinates order intents across the stock ledger and the coupon engine.
type Service struct {
	store   Store
	idem    shared.IdempotencyPort
	metrics *observability.Metrics
	logger  *slog.Logger
	mode    Mode
	now     func() time.Time
	newID   func() uuid.UUID
}

// NewService builds Service. idem and metrics may be nil. An empty mode means transactional.
func NewService(store Store, idem shared.IdempotencyPort, metrics *observability.Metrics, logger *slog.Logger, cfg ServiceConfig) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Mode == "" {
		cfg.Mode = ModeTransactional
	}
	return &Service{
		store:   store,
		idem:    idem,
		metrics: metrics,
		logger:  logger,
		mode:    cfg.Mode,
		now:     time.Now,
		newID:   uuid.New,
	}
}

// Mode reports how intents are made atomic.
func (s *Service) Mode() Mode {
	return s.mode
}

// PlaceOrderIntent reserves stock for every line, applies the optional coupon and records
// the intent. Either every step takes effect or none does.
func (s *Service) PlaceOrderIntent(ctx context.Context, req Request) (Result, error) {
	actor, err := shared.RequireActor(ctx)
	if err != nil {
		return Result{}, err
	}
	if err := shared.ValidateStruct(req); err != nil {
		return Result{}, err
	}
	lines, err := mergeLines(req.Lines)
	if err != nil {
		return Result{}, err
	}
	idemKey := ""
	if req.IdempotencyKey != "" {
		idemKey = shared.IntentIdempotencyKey(actor.ID, req.IdempotencyKey)
	}
	if idemKey != "" && s.idem != nil {
		if err := s.idem.CheckAndInsert(ctx, idemKey, idempotencyModule); err != nil {
			return Result{}, fmt.Errorf("checkout: idempotency key: %w", err)
		}
	}

	intent := Intent{
		ID:         s.newID(),
		ActorID:    actor.ID,
		CouponCode: coupons.NormalizeCode(req.CouponCode),
		Mode:       s.mode,
		CreatedAt:  s.now().UTC(),
	}
	if s.mode == ModeCompensating {
		intent, err = s.placeCompensating(ctx, intent, lines)
	} else {
		intent, err = s.placeTransactional(ctx, intent, lines)
	}
	if err != nil {
		s.metrics.OrderIntent(string(s.mode), outcome(err))
		s.releaseKey(ctx, idemKey)
		return Result{}, fmt.Errorf("checkout: intent %s: %w", intent.ID, err)
	}
	s.metrics.OrderIntent(string(s.mode), observability.OutcomeOK)
	s.logger.Info("order intent placed",
		slog.String("intent_id", intent.ID.String()),
		slog.Int64("actor_id", actor.ID),
		slog.Int("lines", len(intent.Lines)),
		slog.String("total", intent.Total.StringFixed(2)),
		slog.String("mode", string(s.mode)))
	return resultOf(intent), nil
}

// GetIntent returns a committed intent. Customers only see their own.
func (s *Service) GetIntent(ctx context.Context, id uuid.UUID) (Intent, error) {
	actor, err := shared.RequireActor(ctx)
	if err != nil {
		return Intent{}, err
	}
	intent, err := s.store.GetIntent(ctx, id)
	if err != nil {
		return Intent{}, err
	}
	if !actor.Role.Privileged() && intent.ActorID != actor.ID {
		return Intent{}, shared.ErrNotFound
	}
	return intent, nil
}

func (s *Service) placeTransactional(ctx context.Context, intent Intent, lines []Line) (Intent, error) {
	err := s.store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		intent.Lines = make([]IntentLine, 0, len(lines))
		for _, line := range lines {
			reserved, err := reserve(ctx, tx.Stock, intent, line)
			if err != nil {
				return err
			}
			intent.Lines = append(intent.Lines, reserved)
		}
		if err := s.applyCoupon(ctx, tx.Coupons, &intent); err != nil {
			return err
		}
		return tx.Intents.InsertIntent(ctx, intent)
	})
	return intent, err
}

// placeCompensating commits each stock reservation separately. The coupon redemption and
// the intent row commit together as the final step, so only stock ever needs undoing.
func (s *Service) placeCompensating(ctx context.Context, intent Intent, lines []Line) (Intent, error) {
	intent.Lines = make([]IntentLine, 0, len(lines))
	for _, line := range lines {
		var reserved IntentLine
		err := s.store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
			var err error
			reserved, err = reserve(ctx, tx.Stock, intent, line)
			return err
		})
		if err != nil {
			return intent, s.compensate(ctx, intent, err)
		}
		intent.Lines = append(intent.Lines, reserved)
	}
	err := s.store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		if err := s.applyCoupon(ctx, tx.Coupons, &intent); err != nil {
			return err
		}
		return tx.Intents.InsertIntent(ctx, intent)
	})
	if err != nil {
		return intent, s.compensate(ctx, intent, err)
	}
	return intent, nil
}

// compensate returns every reserved line to stock. It runs on a context detached from the
// caller so an aborted request still restores stock.
func (s *Service) compensate(ctx context.Context, intent Intent, cause error) error {
	ctx = context.WithoutCancel(ctx)
	for i := len(intent.Lines) - 1; i >= 0; i-- {
		line := intent.Lines[i]
		err := s.store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
			v, err := tx.Stock.GetVariantForUpdate(ctx, line.VariantID)
			if err != nil {
				return err
			}
			_, _, err = inventory.ApplyLocked(ctx, tx.Stock, v, intent.ActorID, inventory.Adjustment{
				VariantID: line.VariantID,
				Delta:     line.Quantity,
				Mode:      inventory.ModeAdd,
				Ref:       "intent:" + intent.ID.String() + ":rollback",
			})
			return err
		})
		if err != nil {
			s.logger.Error("order intent rollback failed, manual reconciliation required",
				slog.String("intent_id", intent.ID.String()),
				slog.Any("cause", cause),
				slog.Any("rollback_error", err),
				slog.Any("unreleased_lines", intent.Lines[:i+1]))
			return fmt.Errorf("rollback after %v failed: %v: %w", cause, err, shared.ErrStorageUnavailable)
		}
	}
	return cause
}

func reserve(ctx context.Context, stock inventory.TxRepository, intent Intent, line Line) (IntentLine, error) {
	v, err := stock.GetVariantForUpdate(ctx, line.VariantID)
	if err != nil {
		return IntentLine{}, fmt.Errorf("variant %d: %w", line.VariantID, err)
	}
	if !v.Sellable() {
		return IntentLine{}, fmt.Errorf("variant %d not for sale: %w", line.VariantID, shared.ErrNotFound)
	}
	_, _, err = inventory.ApplyLocked(ctx, stock, v, intent.ActorID, inventory.Adjustment{
		VariantID: v.ID,
		Delta:     line.Quantity,
		Mode:      inventory.ModeSubtract,
		Ref:       "intent:" + intent.ID.String(),
	})
	if err != nil {
		return IntentLine{}, err
	}
	price := v.UnitPrice()
	return IntentLine{
		VariantID: v.ID,
		Quantity:  line.Quantity,
		UnitPrice: price,
		LineTotal: price.Mul(decimal.NewFromInt(int64(line.Quantity))),
	}, nil
}

// applyCoupon prices the intent and, when a code is present, validates it against the
// subtotal and redeems it for this intent.
func (s *Service) applyCoupon(ctx context.Context, tx coupons.TxRepository, intent *Intent) error {
	intent.Subtotal = subtotal(intent.Lines)
	intent.Discount = decimal.Zero
	intent.Total = intent.Subtotal
	if intent.CouponCode == "" {
		return nil
	}
	c, err := tx.GetByCode(ctx, intent.CouponCode)
	if errors.Is(err, shared.ErrNotFound) {
		return shared.ErrCouponNotFound
	}
	if err != nil {
		return err
	}
	now := s.now()
	if verdict := coupons.Evaluate(c, intent.Subtotal, now); !verdict.Valid {
		return verdict.Err()
	}
	redeemed, err := coupons.Redeem(ctx, tx, c.ID, intent.ID.String(), now)
	if err != nil {
		return err
	}
	quote := coupons.Discount(redeemed, intent.Subtotal)
	id := redeemed.ID
	intent.CouponID = &id
	intent.Discount = quote.Discount
	intent.Total = quote.Total
	intent.FreeShipping = quote.FreeShipping
	return nil
}

func (s *Service) releaseKey(ctx context.Context, key string) {
	if key == "" || s.idem == nil {
		return
	}
	if err := s.idem.Delete(context.WithoutCancel(ctx), key); err != nil {
		s.logger.Warn("release idempotency key failed", slog.String("key", key), slog.Any("error", err))
	}
}

func outcome(err error) string {
	for _, rejected := range []error{
		shared.ErrInsufficientStock, shared.ErrNotFound, shared.ErrValidation, shared.ErrDuplicateKey,
		shared.ErrCouponNotFound, shared.ErrCouponExpired, shared.ErrCouponMinimumNotMet, shared.ErrCouponLimitReached,
	} {
		if errors.Is(err, rejected) {
			return observability.OutcomeRejected
		}
	}
	return observability.OutcomeError
}

package inventory

import (
	"time"

	"github.com/shopspring/decimal"
)

// AdjustMode selects how a delta is applied to stock_quantity.
type AdjustMode string

const (
	// ModeSet replaces the stock quantity with delta.
	ModeSet AdjustMode = "set"
	// ModeAdd increases stock by delta.
	ModeAdd AdjustMode = "add"
	// ModeSubtract decreases stock by delta and never goes below zero.
	ModeSubtract AdjustMode = "subtract"
)

// Valid reports whether the mode is known.
func (m AdjustMode) Valid() bool {
	switch m {
	case ModeSet, ModeAdd, ModeSubtract:
		return true
	}
	return false
}

// Variant is a purchasable size/color combination of a product.
type Variant struct {
	ID            int64               `json:"id"`
	ProductID     int64               `json:"product_id"`
	Size          string              `json:"size"`
	Color         string              `json:"color"`
	SKU           string              `json:"sku"`
	StockQuantity int                 `json:"stock_quantity"`
	PriceOverride decimal.NullDecimal `json:"price_override"`
	IsActive      bool                `json:"is_active"`
	CreatedAt     time.Time           `json:"created_at"`
	UpdatedAt     time.Time           `json:"updated_at"`

	// Populated from the owning product on reads.
	ProductActive bool            `json:"product_active"`
	BasePrice     decimal.Decimal `json:"base_price"`
}

// UnitPrice is the price a buyer pays for one unit.
func (v Variant) UnitPrice() decimal.Decimal {
	if v.PriceOverride.Valid {
		return v.PriceOverride.Decimal
	}
	return v.BasePrice
}

// Sellable reports whether the variant and its product are both active.
func (v Variant) Sellable() bool {
	return v.IsActive && v.ProductActive
}

// VariantInput creates a variant.
type VariantInput struct {
	Size          string              `json:"size" validate:"max=32"`
	Color         string              `json:"color" validate:"max=32"`
	SKU           string              `json:"sku" validate:"required,max=64"`
	StockQuantity int                 `json:"stock_quantity" validate:"gte=0"`
	PriceOverride decimal.NullDecimal `json:"price_override"`
}

// Adjustment describes one stock mutation.
type Adjustment struct {
	VariantID int64      `json:"variant_id" validate:"required,gt=0"`
	Delta     int        `json:"delta" validate:"gte=0"`
	Mode      AdjustMode `json:"mode" validate:"required,oneof=set add subtract"`
	Ref       string     `json:"ref" validate:"max=120"`
}

// Movement is one stock card row written alongside every adjustment.
type Movement struct {
	ID        int64      `json:"id"`
	VariantID int64      `json:"variant_id"`
	Mode      AdjustMode `json:"mode"`
	Delta     int        `json:"delta"`
	QtyBefore int        `json:"qty_before"`
	QtyAfter  int        `json:"qty_after"`
	ActorID   int64      `json:"actor_id"`
	Ref       string     `json:"ref,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

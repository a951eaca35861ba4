// Package checkout places order intents: it reserves stock for every line and redeems an
// optional coupon as one all-or-nothing unit.
package checkout

import (
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/storefront/storefront/internal/shared"
)

// Mode selects how a multi-step intent is made atomic.
type Mode string

const (
	// ModeTransactional runs every step inside one database transaction.
	ModeTransactional Mode = "transactional"
	// ModeCompensating commits each step on its own and undoes applied stock on failure.
	ModeCompensating Mode = "compensating"
)

// Line is one requested variant and quantity.
type Line struct {
	VariantID int64 `json:"variant_id" validate:"required,gt=0"`
	Quantity  int   `json:"quantity" validate:"required,gt=0"`
}

// Request is the input of PlaceOrderIntent.
type Request struct {
	Lines          []Line `json:"lines" validate:"required,min=1,max=100,dive"`
	CouponCode     string `json:"coupon_code" validate:"max=32"`
	IdempotencyKey string `json:"-"`
}

// IntentLine is a reserved line priced at reservation time.
type IntentLine struct {
	VariantID int64           `json:"variant_id"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	LineTotal decimal.Decimal `json:"line_total"`
}

// Intent is a committed order intent.
type Intent struct {
	ID           uuid.UUID       `json:"id"`
	ActorID      int64           `json:"actor_id"`
	CouponID     *int64          `json:"coupon_id,omitempty"`
	CouponCode   string          `json:"coupon_code,omitempty"`
	Subtotal     decimal.Decimal `json:"subtotal"`
	Discount     decimal.Decimal `json:"discount"`
	Total        decimal.Decimal `json:"total"`
	FreeShipping bool            `json:"free_shipping"`
	Mode         Mode            `json:"mode"`
	CreatedAt    time.Time       `json:"created_at"`
	Lines        []IntentLine    `json:"lines"`
}

// Result is what callers receive once an intent commits.
type Result struct {
	IntentID     uuid.UUID       `json:"intent_id"`
	Subtotal     decimal.Decimal `json:"subtotal"`
	Discount     decimal.Decimal `json:"discount"`
	Total        decimal.Decimal `json:"total"`
	FreeShipping bool            `json:"free_shipping"`
	Lines        []IntentLine    `json:"lines"`
}

func resultOf(in Intent) Result {
	return Result{
		IntentID:     in.ID,
		Subtotal:     in.Subtotal,
		Discount:     in.Discount,
		Total:        in.Total,
		FreeShipping: in.FreeShipping,
		Lines:        in.Lines,
	}
}

// mergeLines folds duplicate variants together and orders lines by variant id, so
// concurrent intents always lock rows in the same order.
func mergeLines(lines []Line) ([]Line, error) {
	totals := make(map[int64]int, len(lines))
	for i, line := range lines {
		if line.VariantID <= 0 || line.Quantity <= 0 {
			return nil, shared.NewValidationError("lines", "line "+strconv.Itoa(i)+" needs a positive variant_id and quantity")
		}
		totals[line.VariantID] += line.Quantity
	}
	merged := make([]Line, 0, len(totals))
	for id, qty := range totals {
		merged = append(merged, Line{VariantID: id, Quantity: qty})
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].VariantID < merged[j].VariantID })
	return merged, nil
}

func subtotal(lines []IntentLine) decimal.Decimal {
	sum := decimal.Zero
	for _, l := range lines {
		sum = sum.Add(l.LineTotal)
	}
	return sum
}

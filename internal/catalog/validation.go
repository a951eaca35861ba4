package catalog

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/storefront/storefront/internal/shared"
)

// resolveSlug returns the explicit slug when given, otherwise one derived from name.
func resolveSlug(explicit, name string) (string, error) {
	explicit = strings.TrimSpace(explicit)
	if explicit != "" {
		if !ValidSlug(explicit) {
			return "", shared.NewValidationError("slug", "must contain only lowercase letters, digits and single hyphens")
		}
		return explicit, nil
	}
	slug := GenerateSlug(name)
	if slug == "" {
		return "", shared.NewValidationError("slug", "cannot be derived from name; provide one explicitly")
	}
	return slug, nil
}

func validatePrices(regular decimal.Decimal, sale decimal.NullDecimal) error {
	verr := &shared.ValidationError{}
	if regular.IsNegative() {
		verr.Add("price_regular", "must be at least 0")
	}
	if sale.Valid {
		switch {
		case sale.Decimal.IsNegative():
			verr.Add("price_sale", "must be at least 0")
		case sale.Decimal.GreaterThan(regular):
			verr.Add("price_sale", "must not exceed price_regular")
		}
	}
	return verr.OrNil()
}

func requireName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", shared.NewValidationError("name", "is required")
	}
	return name, nil
}

package catalog

import (
	"time"

	"github.com/shopspring/decimal"
)

// Category groups products for navigation.
type Category struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Slug      string    `json:"slug"`
	SortOrder int       `json:"sort_order"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Brand is a manufacturer label shared by many products.
type Brand struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Slug      string    `json:"slug"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Product is a sellable catalog entry. Stock lives on its variants.
type Product struct {
	ID           int64               `json:"id"`
	Slug         string              `json:"slug"`
	SKU          string              `json:"sku"`
	Name         string              `json:"name"`
	Description  string              `json:"description"`
	PriceRegular decimal.Decimal     `json:"price_regular"`
	PriceSale    decimal.NullDecimal `json:"price_sale"`
	IsActive     bool                `json:"is_active"`
	IsFeatured   bool                `json:"is_featured"`
	CategoryID   int64               `json:"category_id"`
	BrandID      *int64              `json:"brand_id,omitempty"`
	CreatedAt    time.Time           `json:"created_at"`
	UpdatedAt    time.Time           `json:"updated_at"`
}

// EffectivePrice returns the sale price when set, otherwise the regular price.
func (p Product) EffectivePrice() decimal.Decimal {
	if p.PriceSale.Valid {
		return p.PriceSale.Decimal
	}
	return p.PriceRegular
}

// Image references externally stored bytes for a product.
type Image struct {
	ID        int64     `json:"id"`
	ProductID int64     `json:"product_id"`
	URL       string    `json:"url"`
	SortOrder int       `json:"sort_order"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}

// ProductDetail is the storefront view of a product.
type ProductDetail struct {
	Product
	Cover  *Image  `json:"cover,omitempty"`
	Images []Image `json:"images"`
}

// CategoryInput creates a category. Slug is derived from Name when empty.
type CategoryInput struct {
	Name      string `json:"name" validate:"required,max=120"`
	Slug      string `json:"slug" validate:"omitempty,max=140"`
	SortOrder int    `json:"sort_order" validate:"gte=0"`
}

// CategoryUpdate lists every mutable category field; nil means unchanged.
type CategoryUpdate struct {
	Name      *string `json:"name" validate:"omitempty,max=120"`
	Slug      *string `json:"slug" validate:"omitempty,max=140"`
	SortOrder *int    `json:"sort_order" validate:"omitempty,gte=0"`
	IsActive  *bool   `json:"is_active"`
}

// BrandInput creates a brand.
type BrandInput struct {
	Name string `json:"name" validate:"required,max=120"`
	Slug string `json:"slug" validate:"omitempty,max=140"`
}

// BrandUpdate lists every mutable brand field; nil means unchanged.
type BrandUpdate struct {
	Name     *string `json:"name" validate:"omitempty,max=120"`
	Slug     *string `json:"slug" validate:"omitempty,max=140"`
	IsActive *bool   `json:"is_active"`
}

// ProductInput creates a product.
type ProductInput struct {
	Name         string              `json:"name" validate:"required,max=200"`
	Slug         string              `json:"slug" validate:"omitempty,max=220"`
	SKU          string              `json:"sku" validate:"required,max=64"`
	Description  string              `json:"description" validate:"max=10000"`
	PriceRegular decimal.Decimal     `json:"price_regular"`
	PriceSale    decimal.NullDecimal `json:"price_sale"`
	IsActive     *bool               `json:"is_active"`
	IsFeatured   bool                `json:"is_featured"`
	CategoryID   int64               `json:"category_id" validate:"required,gt=0"`
	BrandID      *int64              `json:"brand_id" validate:"omitempty,gt=0"`
}

// ProductUpdate lists every mutable product field; nil means unchanged.
// ClearPriceSale and ClearBrand remove the optional values.
type ProductUpdate struct {
	Name           *string          `json:"name" validate:"omitempty,max=200"`
	Slug           *string          `json:"slug" validate:"omitempty,max=220"`
	SKU            *string          `json:"sku" validate:"omitempty,max=64"`
	Description    *string          `json:"description" validate:"omitempty,max=10000"`
	PriceRegular   *decimal.Decimal `json:"price_regular"`
	PriceSale      *decimal.Decimal `json:"price_sale"`
	ClearPriceSale bool             `json:"clear_price_sale"`
	IsActive       *bool            `json:"is_active"`
	IsFeatured     *bool            `json:"is_featured"`
	CategoryID     *int64           `json:"category_id" validate:"omitempty,gt=0"`
	BrandID        *int64           `json:"brand_id" validate:"omitempty,gt=0"`
	ClearBrand     bool             `json:"clear_brand"`
}

// ImageInput attaches an image URL to a product. A nil SortOrder appends.
type ImageInput struct {
	URL       string `json:"url" validate:"required,url,max=2048"`
	SortOrder *int   `json:"sort_order" validate:"omitempty,gte=0"`
}

// DeactivationResult reports what a product deactivation cascaded to.
type DeactivationResult struct {
	VariantsDeactivated int64 `json:"variants_deactivated"`
	ImagesDeactivated   int64 `json:"images_deactivated"`
}

// Table names a catalog table for uniqueness lookups.
type Table string

const (
	TableCategories Table = "categories"
	TableBrands     Table = "brands"
	TableProducts   Table = "products"
)

// ProductRefColumn names a product column that references a parent.
type ProductRefColumn string

const (
	RefCategory ProductRefColumn = "category_id"
	RefBrand    ProductRefColumn = "brand_id"
)

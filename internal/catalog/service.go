package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/storefront/storefront/internal/guard"
	"github.com/storefront/storefront/internal/platform/cache"
	"github.com/storefront/storefront/internal/shared"
)

// NewGuard registers the catalog dependents that block a soft delete.
func NewGuard() *guard.Guard[TxRepository] {
	g := guard.New[TxRepository]()
	g.Register(guard.EntityCategory, "products", func(ctx context.Context, tx TxRepository, id int64) (int, error) {
		return tx.CountActiveProducts(ctx, RefCategory, id)
	})
	g.Register(guard.EntityBrand, "products", func(ctx context.Context, tx TxRepository, id int64) (int, error) {
		return tx.CountActiveProducts(ctx, RefBrand, id)
	})
	return g
}

// Service coordinates catalog operations.
type Service struct {
	repo   RepositoryPort
	guard  *guard.Guard[TxRepository]
	cache  *cache.Versioned
	audit  shared.AuditPort
	logger *slog.Logger
}

// NewService builds Service. cache and audit may be nil.
func NewService(repo RepositoryPort, cache *cache.Versioned, audit shared.AuditPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, guard: NewGuard(), cache: cache, audit: audit, logger: logger}
}

// Guard exposes the referential guard for read-only checks.
func (s *Service) Guard() *guard.Guard[TxRepository] {
	return s.guard
}

// CreateCategory inserts an active category.
func (s *Service) CreateCategory(ctx context.Context, input CategoryInput) (Category, error) {
	actor, err := shared.RequireStaff(ctx)
	if err != nil {
		return Category{}, err
	}
	if err := shared.ValidateStruct(input); err != nil {
		return Category{}, err
	}
	name, err := requireName(input.Name)
	if err != nil {
		return Category{}, err
	}
	slug, err := resolveSlug(input.Slug, name)
	if err != nil {
		return Category{}, err
	}
	var created Category
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := ensureUnique(ctx, tx, TableCategories, 0, "name", name, "slug", slug); err != nil {
			return err
		}
		created, err = tx.InsertCategory(ctx, Category{Name: name, Slug: slug, SortOrder: input.SortOrder, IsActive: true})
		return err
	})
	if err != nil {
		return Category{}, fmt.Errorf("catalog: create category: %w", err)
	}
	s.afterWrite(ctx, actor, "catalog:category:create", "category", created.ID, map[string]any{"slug": created.Slug})
	return created, nil
}

// UpdateCategory applies the provided fields. Setting is_active to false goes through the guard.
func (s *Service) UpdateCategory(ctx context.Context, id int64, input CategoryUpdate) (Category, error) {
	actor, err := shared.RequireStaff(ctx)
	if err != nil {
		return Category{}, err
	}
	if err := shared.ValidateStruct(input); err != nil {
		return Category{}, err
	}
	var updated Category
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.LockCategory(ctx, id, LockUpdate)
		if err != nil {
			return err
		}
		next := current
		if input.Name != nil {
			if next.Name, err = requireName(*input.Name); err != nil {
				return err
			}
		}
		if input.Slug != nil {
			if next.Slug, err = resolveSlug(*input.Slug, next.Name); err != nil {
				return err
			}
		}
		if input.SortOrder != nil {
			next.SortOrder = *input.SortOrder
		}
		if input.IsActive != nil {
			next.IsActive = *input.IsActive
		}
		if err := ensureUnique(ctx, tx, TableCategories, id, "name", next.Name, "slug", next.Slug); err != nil {
			return err
		}
		write := func(ctx context.Context, tx TxRepository) error {
			updated, err = tx.UpdateCategory(ctx, next)
			return err
		}
		if current.IsActive && !next.IsActive {
			return s.guard.Deactivate(ctx, tx, guard.EntityCategory, id, write)
		}
		return write(ctx, tx)
	})
	if err != nil {
		return Category{}, fmt.Errorf("catalog: update category %d: %w", id, err)
	}
	s.afterWrite(ctx, actor, "catalog:category:update", "category", id, map[string]any{"slug": updated.Slug, "is_active": updated.IsActive})
	return updated, nil
}

// DeactivateCategory soft deletes a category with no active products. It is idempotent.
func (s *Service) DeactivateCategory(ctx context.Context, id int64) error {
	actor, err := shared.RequireStaff(ctx)
	if err != nil {
		return err
	}
	changed := false
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.LockCategory(ctx, id, LockUpdate)
		if err != nil {
			return err
		}
		if !current.IsActive {
			return nil
		}
		changed = true
		return s.guard.Deactivate(ctx, tx, guard.EntityCategory, id, func(ctx context.Context, tx TxRepository) error {
			return tx.SetActive(ctx, TableCategories, id, false)
		})
	})
	if err != nil {
		return fmt.Errorf("catalog: deactivate category %d: %w", id, err)
	}
	if changed {
		s.afterWrite(ctx, actor, "catalog:category:deactivate", "category", id, nil)
	}
	return nil
}

// GetCategory returns a category by id.
func (s *Service) GetCategory(ctx context.Context, id int64) (Category, error) {
	return s.repo.GetCategory(ctx, id)
}

// ListCategories returns a page of categories.
func (s *Service) ListCategories(ctx context.Context, filters shared.ListFilters) ([]Category, shared.Pagination, error) {
	filters = filters.Normalize()
	items, total, err := s.repo.ListCategories(ctx, filters)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	return items, shared.NewPagination(filters.Page, filters.Limit, total), nil
}

// CreateBrand inserts an active brand.
func (s *Service) CreateBrand(ctx context.Context, input BrandInput) (Brand, error) {
	actor, err := shared.RequireStaff(ctx)
	if err != nil {
		return Brand{}, err
	}
	if err := shared.ValidateStruct(input); err != nil {
		return Brand{}, err
	}
	name, err := requireName(input.Name)
	if err != nil {
		return Brand{}, err
	}
	slug, err := resolveSlug(input.Slug, name)
	if err != nil {
		return Brand{}, err
	}
	var created Brand
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := ensureUnique(ctx, tx, TableBrands, 0, "name", name, "slug", slug); err != nil {
			return err
		}
		created, err = tx.InsertBrand(ctx, Brand{Name: name, Slug: slug, IsActive: true})
		return err
	})
	if err != nil {
		return Brand{}, fmt.Errorf("catalog: create brand: %w", err)
	}
	s.afterWrite(ctx, actor, "catalog:brand:create", "brand", created.ID, map[string]any{"slug": created.Slug})
	return created, nil
}

// UpdateBrand applies the provided fields. Setting is_active to false goes through the guard.
func (s *Service) UpdateBrand(ctx context.Context, id int64, input BrandUpdate) (Brand, error) {
	actor, err := shared.RequireStaff(ctx)
	if err != nil {
		return Brand{}, err
	}
	if err := shared.ValidateStruct(input); err != nil {
		return Brand{}, err
	}
	var updated Brand
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.LockBrand(ctx, id, LockUpdate)
		if err != nil {
			return err
		}
		next := current
		if input.Name != nil {
			if next.Name, err = requireName(*input.Name); err != nil {
				return err
			}
		}
		if input.Slug != nil {
			if next.Slug, err = resolveSlug(*input.Slug, next.Name); err != nil {
				return err
			}
		}
		if input.IsActive != nil {
			next.IsActive = *input.IsActive
		}
		if err := ensureUnique(ctx, tx, TableBrands, id, "name", next.Name, "slug", next.Slug); err != nil {
			return err
		}
		write := func(ctx context.Context, tx TxRepository) error {
			updated, err = tx.UpdateBrand(ctx, next)
			return err
		}
		if current.IsActive && !next.IsActive {
			return s.guard.Deactivate(ctx, tx, guard.EntityBrand, id, write)
		}
		return write(ctx, tx)
	})
	if err != nil {
		return Brand{}, fmt.Errorf("catalog: update brand %d: %w", id, err)
	}
	s.afterWrite(ctx, actor, "catalog:brand:update", "brand", id, map[string]any{"slug": updated.Slug, "is_active": updated.IsActive})
	return updated, nil
}

// DeactivateBrand soft deletes a brand with no active products. It is idempotent.
func (s *Service) DeactivateBrand(ctx context.Context, id int64) error {
	actor, err := shared.RequireStaff(ctx)
	if err != nil {
		return err
	}
	changed := false
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.LockBrand(ctx, id, LockUpdate)
		if err != nil {
			return err
		}
		if !current.IsActive {
			return nil
		}
		changed = true
		return s.guard.Deactivate(ctx, tx, guard.EntityBrand, id, func(ctx context.Context, tx TxRepository) error {
			return tx.SetActive(ctx, TableBrands, id, false)
		})
	})
	if err != nil {
		return fmt.Errorf("catalog: deactivate brand %d: %w", id, err)
	}
	if changed {
		s.afterWrite(ctx, actor, "catalog:brand:deactivate", "brand", id, nil)
	}
	return nil
}

// GetBrand returns a brand by id.
func (s *Service) GetBrand(ctx context.Context, id int64) (Brand, error) {
	return s.repo.GetBrand(ctx, id)
}

// ListBrands returns a page of brands.
func (s *Service) ListBrands(ctx context.Context, filters shared.ListFilters) ([]Brand, shared.Pagination, error) {
	filters = filters.Normalize()
	items, total, err := s.repo.ListBrands(ctx, filters)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	return items, shared.NewPagination(filters.Page, filters.Limit, total), nil
}

// CreateProduct inserts a product. Active products must reference an active category and brand.
func (s *Service) CreateProduct(ctx context.Context, input ProductInput) (Product, error) {
	actor, err := shared.RequireStaff(ctx)
	if err != nil {
		return Product{}, err
	}
	if err := shared.ValidateStruct(input); err != nil {
		return Product{}, err
	}
	if err := validatePrices(input.PriceRegular, input.PriceSale); err != nil {
		return Product{}, err
	}
	name, err := requireName(input.Name)
	if err != nil {
		return Product{}, err
	}
	slug, err := resolveSlug(input.Slug, name)
	if err != nil {
		return Product{}, err
	}
	product := Product{
		Slug:         slug,
		SKU:          input.SKU,
		Name:         name,
		Description:  input.Description,
		PriceRegular: input.PriceRegular,
		PriceSale:    input.PriceSale,
		IsActive:     input.IsActive == nil || *input.IsActive,
		IsFeatured:   input.IsFeatured,
		CategoryID:   input.CategoryID,
		BrandID:      input.BrandID,
	}
	var created Product
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := ensureUnique(ctx, tx, TableProducts, 0, "slug", product.Slug, "sku", product.SKU); err != nil {
			return err
		}
		if err := checkParents(ctx, tx, product); err != nil {
			return err
		}
		created, err = tx.InsertProduct(ctx, product)
		return err
	})
	if err != nil {
		return Product{}, fmt.Errorf("catalog: create product: %w", err)
	}
	s.afterWrite(ctx, actor, "catalog:product:create", "product", created.ID, map[string]any{"slug": created.Slug, "sku": created.SKU})
	return created, nil
}

// UpdateProduct applies the provided fields. Setting is_active to false cascades like DeactivateProduct.
func (s *Service) UpdateProduct(ctx context.Context, id int64, input ProductUpdate) (Product, error) {
	actor, err := shared.RequireStaff(ctx)
	if err != nil {
		return Product{}, err
	}
	if err := shared.ValidateStruct(input); err != nil {
		return Product{}, err
	}
	var updated Product
	var cascade DeactivationResult
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.LockProduct(ctx, id, LockUpdate)
		if err != nil {
			return err
		}
		next, err := applyProductUpdate(current, input)
		if err != nil {
			return err
		}
		if err := validatePrices(next.PriceRegular, next.PriceSale); err != nil {
			return err
		}
		if err := ensureUnique(ctx, tx, TableProducts, id, "slug", next.Slug, "sku", next.SKU); err != nil {
			return err
		}
		if err := checkParents(ctx, tx, next); err != nil {
			return err
		}
		write := func(ctx context.Context, tx TxRepository) error {
			updated, err = tx.UpdateProduct(ctx, next)
			return err
		}
		if current.IsActive && !next.IsActive {
			return s.guard.Deactivate(ctx, tx, guard.EntityProduct, id, func(ctx context.Context, tx TxRepository) error {
				if err := write(ctx, tx); err != nil {
					return err
				}
				cascade, err = tx.DeactivateProductChildren(ctx, id)
				return err
			})
		}
		return write(ctx, tx)
	})
	if err != nil {
		return Product{}, fmt.Errorf("catalog: update product %d: %w", id, err)
	}
	s.afterWrite(ctx, actor, "catalog:product:update", "product", id, map[string]any{
		"slug":                 updated.Slug,
		"is_active":            updated.IsActive,
		"variants_deactivated": cascade.VariantsDeactivated,
	})
	return updated, nil
}

func applyProductUpdate(current Product, input ProductUpdate) (Product, error) {
	next := current
	var err error
	if input.Name != nil {
		if next.Name, err = requireName(*input.Name); err != nil {
			return Product{}, err
		}
	}
	if input.Slug != nil {
		if next.Slug, err = resolveSlug(*input.Slug, next.Name); err != nil {
			return Product{}, err
		}
	}
	if input.SKU != nil {
		if *input.SKU == "" {
			return Product{}, shared.NewValidationError("sku", "is required")
		}
		next.SKU = *input.SKU
	}
	if input.Description != nil {
		next.Description = *input.Description
	}
	if input.PriceRegular != nil {
		next.PriceRegular = *input.PriceRegular
	}
	switch {
	case input.ClearPriceSale && input.PriceSale != nil:
		return Product{}, shared.NewValidationError("price_sale", "cannot be set and cleared together")
	case input.ClearPriceSale:
		next.PriceSale = decimal.NullDecimal{}
	case input.PriceSale != nil:
		next.PriceSale = decimal.NewNullDecimal(*input.PriceSale)
	}
	if input.IsActive != nil {
		next.IsActive = *input.IsActive
	}
	if input.IsFeatured != nil {
		next.IsFeatured = *input.IsFeatured
	}
	if input.CategoryID != nil {
		next.CategoryID = *input.CategoryID
	}
	switch {
	case input.ClearBrand && input.BrandID != nil:
		return Product{}, shared.NewValidationError("brand_id", "cannot be set and cleared together")
	case input.ClearBrand:
		next.BrandID = nil
	case input.BrandID != nil:
		brandID := *input.BrandID
		next.BrandID = &brandID
	}
	return next, nil
}

// checkParents locks the referenced category and brand so a concurrent deactivation either
// waits for this transaction or is observed by it.
func checkParents(ctx context.Context, tx TxRepository, p Product) error {
	category, err := tx.LockCategory(ctx, p.CategoryID, LockShare)
	if errors.Is(err, shared.ErrNotFound) {
		return shared.NewValidationError("category_id", "does not exist")
	}
	if err != nil {
		return err
	}
	if p.IsActive && !category.IsActive {
		return shared.NewValidationError("category_id", "category is inactive")
	}
	if p.BrandID == nil {
		return nil
	}
	brand, err := tx.LockBrand(ctx, *p.BrandID, LockShare)
	if errors.Is(err, shared.ErrNotFound) {
		return shared.NewValidationError("brand_id", "does not exist")
	}
	if err != nil {
		return err
	}
	if p.IsActive && !brand.IsActive {
		return shared.NewValidationError("brand_id", "brand is inactive")
	}
	return nil
}

// DeactivateProduct soft deletes a product and its variants and images in one transaction.
func (s *Service) DeactivateProduct(ctx context.Context, id int64) (DeactivationResult, error) {
	actor, err := shared.RequireStaff(ctx)
	if err != nil {
		return DeactivationResult{}, err
	}
	var result DeactivationResult
	changed := false
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.LockProduct(ctx, id, LockUpdate)
		if err != nil {
			return err
		}
		if !current.IsActive {
			return nil
		}
		changed = true
		return s.guard.Deactivate(ctx, tx, guard.EntityProduct, id, func(ctx context.Context, tx TxRepository) error {
			if err := tx.SetActive(ctx, TableProducts, id, false); err != nil {
				return err
			}
			result, err = tx.DeactivateProductChildren(ctx, id)
			return err
		})
	})
	if err != nil {
		return DeactivationResult{}, fmt.Errorf("catalog: deactivate product %d: %w", id, err)
	}
	if changed {
		s.afterWrite(ctx, actor, "catalog:product:deactivate", "product", id, map[string]any{
			"variants_deactivated": result.VariantsDeactivated,
			"images_deactivated":   result.ImagesDeactivated,
		})
	}
	return result, nil
}

// GetProduct returns a product with its active images, regardless of its own status.
func (s *Service) GetProduct(ctx context.Context, id int64) (ProductDetail, error) {
	product, err := s.repo.GetProduct(ctx, id)
	if err != nil {
		return ProductDetail{}, err
	}
	return s.detail(ctx, product)
}

// GetProductBySlug returns an active product for the storefront, served from cache when possible.
func (s *Service) GetProductBySlug(ctx context.Context, slug string) (ProductDetail, error) {
	if slug == "" {
		return ProductDetail{}, shared.NewValidationError("slug", "is required")
	}
	load := func(ctx context.Context) (any, error) {
		product, err := s.repo.GetProductBySlug(ctx, slug)
		if err != nil {
			return nil, err
		}
		if !product.IsActive {
			return nil, shared.ErrNotFound
		}
		return s.detail(ctx, product)
	}
	key, err := s.cache.BuildKey(ctx, "product", slug)
	if err != nil {
		s.logger.Warn("catalog cache unavailable", slog.String("slug", slug), slog.Any("error", err))
		value, err := load(ctx)
		if err != nil {
			return ProductDetail{}, err
		}
		return value.(ProductDetail), nil
	}
	var detail ProductDetail
	if err := s.cache.FetchJSON(ctx, key, &detail, load); err != nil {
		return ProductDetail{}, err
	}
	return detail, nil
}

// ListProducts returns a page of products.
func (s *Service) ListProducts(ctx context.Context, filters shared.ListFilters) ([]Product, shared.Pagination, error) {
	filters = filters.Normalize()
	items, total, err := s.repo.ListProducts(ctx, filters)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	return items, shared.NewPagination(filters.Page, filters.Limit, total), nil
}

func (s *Service) detail(ctx context.Context, product Product) (ProductDetail, error) {
	images, err := s.repo.ListImages(ctx, product.ID, true)
	if err != nil {
		return ProductDetail{}, err
	}
	return ProductDetail{Product: product, Cover: Cover(images), Images: images}, nil
}

// AddImage attaches an image. Without an explicit sort order it is appended after the last one.
func (s *Service) AddImage(ctx context.Context, productID int64, input ImageInput) (Image, error) {
	actor, err := shared.RequireStaff(ctx)
	if err != nil {
		return Image{}, err
	}
	if err := shared.ValidateStruct(input); err != nil {
		return Image{}, err
	}
	var created Image
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if _, err := tx.LockProduct(ctx, productID, LockShare); err != nil {
			return err
		}
		img := Image{ProductID: productID, URL: input.URL}
		if input.SortOrder != nil {
			img.SortOrder = *input.SortOrder
		} else if img.SortOrder, err = tx.NextImageSortOrder(ctx, productID); err != nil {
			return err
		}
		created, err = tx.InsertImage(ctx, img)
		return err
	})
	if err != nil {
		return Image{}, fmt.Errorf("catalog: add image to product %d: %w", productID, err)
	}
	s.afterWrite(ctx, actor, "catalog:image:create", "product_image", created.ID, map[string]any{"product_id": productID})
	return created, nil
}

// ListImages returns the active images of a product ordered by sort order.
func (s *Service) ListImages(ctx context.Context, productID int64) ([]Image, error) {
	if _, err := s.repo.GetProduct(ctx, productID); err != nil {
		return nil, err
	}
	return s.repo.ListImages(ctx, productID, true)
}

// CoverImage returns the active image with the lowest sort order.
func (s *Service) CoverImage(ctx context.Context, productID int64) (Image, error) {
	images, err := s.ListImages(ctx, productID)
	if err != nil {
		return Image{}, err
	}
	cover := Cover(images)
	if cover == nil {
		return Image{}, fmt.Errorf("catalog: product %d has no active image: %w", productID, shared.ErrNotFound)
	}
	return *cover, nil
}

// DeactivateImage hides an image. It is idempotent.
func (s *Service) DeactivateImage(ctx context.Context, imageID int64) error {
	actor, err := shared.RequireStaff(ctx)
	if err != nil {
		return err
	}
	changed := false
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		img, err := tx.LockImage(ctx, imageID)
		if err != nil {
			return err
		}
		if !img.IsActive {
			return nil
		}
		changed = true
		return tx.SetImageActive(ctx, imageID, false)
	})
	if err != nil {
		return fmt.Errorf("catalog: deactivate image %d: %w", imageID, err)
	}
	if changed {
		s.afterWrite(ctx, actor, "catalog:image:deactivate", "product_image", imageID, nil)
	}
	return nil
}

// Cover picks the active image with the lowest sort order, ties broken by id.
func Cover(images []Image) *Image {
	active := make([]Image, 0, len(images))
	for _, img := range images {
		if img.IsActive {
			active = append(active, img)
		}
	}
	if len(active) == 0 {
		return nil
	}
	sort.SliceStable(active, func(i, j int) bool {
		if active[i].SortOrder != active[j].SortOrder {
			return active[i].SortOrder < active[j].SortOrder
		}
		return active[i].ID < active[j].ID
	})
	cover := active[0]
	return &cover
}

// ensureUnique checks column/value pairs against every row except excludeID.
func ensureUnique(ctx context.Context, tx TxRepository, table Table, excludeID int64, pairs ...string) error {
	for i := 0; i+1 < len(pairs); i += 2 {
		column, value := pairs[i], pairs[i+1]
		exists, err := tx.Exists(ctx, table, column, value, excludeID)
		if err != nil {
			return err
		}
		if exists {
			return fmt.Errorf("%s %s %q: %w", table, column, value, shared.ErrDuplicateKey)
		}
	}
	return nil
}

// afterWrite records audit and invalidates cached reads once the transaction has committed.
func (s *Service) afterWrite(ctx context.Context, actor shared.Actor, action, entity string, id int64, meta map[string]any) {
	if s.audit != nil {
		if err := s.audit.Record(ctx, shared.AuditLog{
			ActorID:  actor.ID,
			Action:   action,
			Entity:   entity,
			EntityID: strconv.FormatInt(id, 10),
			Meta:     meta,
		}); err != nil {
			s.logger.Warn("catalog audit failed", slog.String("action", action), slog.Any("error", err))
		}
	}
	if err := s.cache.Bump(ctx); err != nil {
		s.logger.Warn("catalog cache bump failed", slog.String("action", action), slog.Any("error", err))
	}
}

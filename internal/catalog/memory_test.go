package catalog

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/storefront/storefront/internal/shared"
)

type memoryVariant struct {
	productID int64
	active    bool
}

// memoryRepo serialises transactions with one mutex and restores a snapshot on error,
// which is enough to emulate row locks and rollback for service tests.
type memoryRepo struct {
	mu         sync.Mutex
	categories map[int64]Category
	brands     map[int64]Brand
	products   map[int64]Product
	images     map[int64]Image
	variants   map[int64]memoryVariant
	nextID     int64
}

type memoryTx struct {
	repo *memoryRepo
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		categories: make(map[int64]Category),
		brands:     make(map[int64]Brand),
		products:   make(map[int64]Product),
		images:     make(map[int64]Image),
		variants:   make(map[int64]memoryVariant),
	}
}

func (r *memoryRepo) id() int64 {
	r.nextID++
	return r.nextID
}

func (r *memoryRepo) addVariant(productID int64) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.id()
	r.variants[id] = memoryVariant{productID: productID, active: true}
	return id
}

func cloneMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	categories, brands, products := cloneMap(r.categories), cloneMap(r.brands), cloneMap(r.products)
	images, variants, nextID := cloneMap(r.images), cloneMap(r.variants), r.nextID
	if err := fn(ctx, &memoryTx{repo: r}); err != nil {
		r.categories, r.brands, r.products = categories, brands, products
		r.images, r.variants, r.nextID = images, variants, nextID
		return err
	}
	return nil
}

func (r *memoryRepo) GetCategory(_ context.Context, id int64) (Category, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.categories[id]
	if !ok {
		return Category{}, shared.ErrNotFound
	}
	return c, nil
}

func (r *memoryRepo) ListCategories(_ context.Context, filters shared.ListFilters) ([]Category, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Category
	for _, c := range r.categories {
		if filters.IsActive != nil && c.IsActive != *filters.IsActive {
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return page(out, filters), len(out), nil
}

func (r *memoryRepo) GetBrand(_ context.Context, id int64) (Brand, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.brands[id]
	if !ok {
		return Brand{}, shared.ErrNotFound
	}
	return b, nil
}

func (r *memoryRepo) ListBrands(_ context.Context, filters shared.ListFilters) ([]Brand, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Brand
	for _, b := range r.brands {
		if filters.IsActive != nil && b.IsActive != *filters.IsActive {
			continue
		}
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return page(out, filters), len(out), nil
}

func (r *memoryRepo) GetProduct(_ context.Context, id int64) (Product, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.products[id]
	if !ok {
		return Product{}, shared.ErrNotFound
	}
	return p, nil
}

func (r *memoryRepo) GetProductBySlug(_ context.Context, slug string) (Product, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.products {
		if p.Slug == slug {
			return p, nil
		}
	}
	return Product{}, shared.ErrNotFound
}

func (r *memoryRepo) ListProducts(_ context.Context, filters shared.ListFilters) ([]Product, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Product
	for _, p := range r.products {
		if filters.IsActive != nil && p.IsActive != *filters.IsActive {
			continue
		}
		if filters.CategoryID != nil && p.CategoryID != *filters.CategoryID {
			continue
		}
		if filters.Search != "" && !strings.Contains(strings.ToLower(p.Name), strings.ToLower(filters.Search)) {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return page(out, filters), len(out), nil
}

func (r *memoryRepo) ListImages(_ context.Context, productID int64, activeOnly bool) ([]Image, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []Image{}
	for _, img := range r.images {
		if img.ProductID != productID || (activeOnly && !img.IsActive) {
			continue
		}
		out = append(out, img)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SortOrder != out[j].SortOrder {
			return out[i].SortOrder < out[j].SortOrder
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func page[T any](items []T, filters shared.ListFilters) []T {
	start := filters.Offset()
	if start >= len(items) {
		return nil
	}
	end := start + filters.Limit
	if filters.Limit <= 0 || end > len(items) {
		end = len(items)
	}
	return items[start:end]
}

func (tx *memoryTx) Exists(_ context.Context, table Table, column, value string, excludeID int64) (bool, error) {
	r := tx.repo
	match := func(id int64, fields map[string]string) bool {
		return id != excludeID && fields[column] == value
	}
	switch table {
	case TableCategories:
		for id, c := range r.categories {
			if match(id, map[string]string{"name": c.Name, "slug": c.Slug}) {
				return true, nil
			}
		}
	case TableBrands:
		for id, b := range r.brands {
			if match(id, map[string]string{"name": b.Name, "slug": b.Slug}) {
				return true, nil
			}
		}
	case TableProducts:
		for id, p := range r.products {
			if match(id, map[string]string{"slug": p.Slug, "sku": p.SKU}) {
				return true, nil
			}
		}
	default:
		return false, fmt.Errorf("unknown table %s", table)
	}
	return false, nil
}

func (tx *memoryTx) LockCategory(_ context.Context, id int64, _ LockMode) (Category, error) {
	c, ok := tx.repo.categories[id]
	if !ok {
		return Category{}, shared.ErrNotFound
	}
	return c, nil
}

func (tx *memoryTx) LockBrand(_ context.Context, id int64, _ LockMode) (Brand, error) {
	b, ok := tx.repo.brands[id]
	if !ok {
		return Brand{}, shared.ErrNotFound
	}
	return b, nil
}

func (tx *memoryTx) LockProduct(_ context.Context, id int64, _ LockMode) (Product, error) {
	p, ok := tx.repo.products[id]
	if !ok {
		return Product{}, shared.ErrNotFound
	}
	return p, nil
}

func (tx *memoryTx) InsertCategory(_ context.Context, c Category) (Category, error) {
	c.ID = tx.repo.id()
	c.CreatedAt, c.UpdatedAt = time.Now(), time.Now()
	tx.repo.categories[c.ID] = c
	return c, nil
}

func (tx *memoryTx) UpdateCategory(_ context.Context, c Category) (Category, error) {
	if _, ok := tx.repo.categories[c.ID]; !ok {
		return Category{}, shared.ErrNotFound
	}
	c.UpdatedAt = time.Now()
	tx.repo.categories[c.ID] = c
	return c, nil
}

func (tx *memoryTx) InsertBrand(_ context.Context, b Brand) (Brand, error) {
	b.ID = tx.repo.id()
	b.CreatedAt, b.UpdatedAt = time.Now(), time.Now()
	tx.repo.brands[b.ID] = b
	return b, nil
}

func (tx *memoryTx) UpdateBrand(_ context.Context, b Brand) (Brand, error) {
	if _, ok := tx.repo.brands[b.ID]; !ok {
		return Brand{}, shared.ErrNotFound
	}
	b.UpdatedAt = time.Now()
	tx.repo.brands[b.ID] = b
	return b, nil
}

func (tx *memoryTx) InsertProduct(_ context.Context, p Product) (Product, error) {
	p.ID = tx.repo.id()
	p.CreatedAt, p.UpdatedAt = time.Now(), time.Now()
	tx.repo.products[p.ID] = p
	return p, nil
}

func (tx *memoryTx) UpdateProduct(_ context.Context, p Product) (Product, error) {
	if _, ok := tx.repo.products[p.ID]; !ok {
		return Product{}, shared.ErrNotFound
	}
	p.UpdatedAt = time.Now()
	tx.repo.products[p.ID] = p
	return p, nil
}

func (tx *memoryTx) SetActive(_ context.Context, table Table, id int64, active bool) error {
	r := tx.repo
	switch table {
	case TableCategories:
		c, ok := r.categories[id]
		if !ok {
			return shared.ErrNotFound
		}
		c.IsActive = active
		r.categories[id] = c
	case TableBrands:
		b, ok := r.brands[id]
		if !ok {
			return shared.ErrNotFound
		}
		b.IsActive = active
		r.brands[id] = b
	case TableProducts:
		p, ok := r.products[id]
		if !ok {
			return shared.ErrNotFound
		}
		p.IsActive = active
		r.products[id] = p
	default:
		return fmt.Errorf("unknown table %s", table)
	}
	return nil
}

func (tx *memoryTx) CountActiveProducts(_ context.Context, column ProductRefColumn, id int64) (int, error) {
	n := 0
	for _, p := range tx.repo.products {
		if !p.IsActive {
			continue
		}
		switch column {
		case RefCategory:
			if p.CategoryID == id {
				n++
			}
		case RefBrand:
			if p.BrandID != nil && *p.BrandID == id {
				n++
			}
		}
	}
	return n, nil
}

func (tx *memoryTx) DeactivateProductChildren(_ context.Context, productID int64) (DeactivationResult, error) {
	var res DeactivationResult
	for id, v := range tx.repo.variants {
		if v.productID == productID && v.active {
			v.active = false
			tx.repo.variants[id] = v
			res.VariantsDeactivated++
		}
	}
	for id, img := range tx.repo.images {
		if img.ProductID == productID && img.IsActive {
			img.IsActive = false
			tx.repo.images[id] = img
			res.ImagesDeactivated++
		}
	}
	return res, nil
}

func (tx *memoryTx) NextImageSortOrder(_ context.Context, productID int64) (int, error) {
	next := 0
	for _, img := range tx.repo.images {
		if img.ProductID == productID && img.SortOrder >= next {
			next = img.SortOrder + 1
		}
	}
	return next, nil
}

func (tx *memoryTx) InsertImage(_ context.Context, img Image) (Image, error) {
	img.ID = tx.repo.id()
	img.IsActive = true
	img.CreatedAt = time.Now()
	tx.repo.images[img.ID] = img
	return img, nil
}

func (tx *memoryTx) LockImage(_ context.Context, id int64) (Image, error) {
	img, ok := tx.repo.images[id]
	if !ok {
		return Image{}, shared.ErrNotFound
	}
	return img, nil
}

func (tx *memoryTx) SetImageActive(_ context.Context, id int64, active bool) error {
	img, ok := tx.repo.images[id]
	if !ok {
		return shared.ErrNotFound
	}
	img.IsActive = active
	tx.repo.images[id] = img
	return nil
}

package catalog

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/storefront/storefront/internal/platform/db"
	"github.com/storefront/storefront/internal/shared"
)

// LockMode selects the row lock taken by Lock* reads.
type LockMode int

const (
	// LockShare blocks writers but not other readers; used when referencing a parent.
	LockShare LockMode = iota
	// LockUpdate serialises writers on the row.
	LockUpdate
)

func (m LockMode) clause() string {
	if m == LockUpdate {
		return "FOR UPDATE"
	}
	return "FOR SHARE"
}

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetCategory(ctx context.Context, id int64) (Category, error)
	ListCategories(ctx context.Context, filters shared.ListFilters) ([]Category, int, error)
	GetBrand(ctx context.Context, id int64) (Brand, error)
	ListBrands(ctx context.Context, filters shared.ListFilters) ([]Brand, int, error)
	GetProduct(ctx context.Context, id int64) (Product, error)
	GetProductBySlug(ctx context.Context, slug string) (Product, error)
	ListProducts(ctx context.Context, filters shared.ListFilters) ([]Product, int, error)
	ListImages(ctx context.Context, productID int64, activeOnly bool) ([]Image, error)
}

// TxRepository exposes transactional operations used by service.
type TxRepository interface {
	Exists(ctx context.Context, table Table, column, value string, excludeID int64) (bool, error)
	LockCategory(ctx context.Context, id int64, mode LockMode) (Category, error)
	LockBrand(ctx context.Context, id int64, mode LockMode) (Brand, error)
	LockProduct(ctx context.Context, id int64, mode LockMode) (Product, error)
	InsertCategory(ctx context.Context, c Category) (Category, error)
	UpdateCategory(ctx context.Context, c Category) (Category, error)
	InsertBrand(ctx context.Context, b Brand) (Brand, error)
	UpdateBrand(ctx context.Context, b Brand) (Brand, error)
	InsertProduct(ctx context.Context, p Product) (Product, error)
	UpdateProduct(ctx context.Context, p Product) (Product, error)
	SetActive(ctx context.Context, table Table, id int64, active bool) error
	CountActiveProducts(ctx context.Context, column ProductRefColumn, id int64) (int, error)
	DeactivateProductChildren(ctx context.Context, productID int64) (DeactivationResult, error)
	NextImageSortOrder(ctx context.Context, productID int64) (int, error)
	InsertImage(ctx context.Context, img Image) (Image, error)
	LockImage(ctx context.Context, id int64) (Image, error)
	SetImageActive(ctx context.Context, id int64, active bool) error
}

// Repository persists catalog data in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type txRepository struct {
	tx pgx.Tx
}

// WithTx executes the callback inside a read-committed transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("catalog repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

const (
	categoryColumns = `id, name, slug, sort_order, is_active, created_at, updated_at`
	brandColumns    = `id, name, slug, is_active, created_at, updated_at`
	productColumns  = `id, slug, sku, name, description, price_regular, price_sale, is_active, is_featured, category_id, brand_id, created_at, updated_at`
	imageColumns    = `id, product_id, url, sort_order, is_active, created_at`
)

func scanCategory(row pgx.Row) (Category, error) {
	var c Category
	err := row.Scan(&c.ID, &c.Name, &c.Slug, &c.SortOrder, &c.IsActive, &c.CreatedAt, &c.UpdatedAt)
	return c, db.Classify(err)
}

func scanBrand(row pgx.Row) (Brand, error) {
	var b Brand
	err := row.Scan(&b.ID, &b.Name, &b.Slug, &b.IsActive, &b.CreatedAt, &b.UpdatedAt)
	return b, db.Classify(err)
}

func scanProduct(row pgx.Row) (Product, error) {
	var p Product
	err := row.Scan(&p.ID, &p.Slug, &p.SKU, &p.Name, &p.Description, &p.PriceRegular, &p.PriceSale,
		&p.IsActive, &p.IsFeatured, &p.CategoryID, &p.BrandID, &p.CreatedAt, &p.UpdatedAt)
	return p, db.Classify(err)
}

func scanImage(row pgx.Row) (Image, error) {
	var img Image
	err := row.Scan(&img.ID, &img.ProductID, &img.URL, &img.SortOrder, &img.IsActive, &img.CreatedAt)
	return img, db.Classify(err)
}

func (r *Repository) GetCategory(ctx context.Context, id int64) (Category, error) {
	return scanCategory(r.pool.QueryRow(ctx, `SELECT `+categoryColumns+` FROM categories WHERE id = $1`, id))
}

func (r *Repository) GetBrand(ctx context.Context, id int64) (Brand, error) {
	return scanBrand(r.pool.QueryRow(ctx, `SELECT `+brandColumns+` FROM brands WHERE id = $1`, id))
}

func (r *Repository) GetProduct(ctx context.Context, id int64) (Product, error) {
	return scanProduct(r.pool.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, id))
}

func (r *Repository) GetProductBySlug(ctx context.Context, slug string) (Product, error) {
	return scanProduct(r.pool.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE slug = $1`, slug))
}

// ListCategories uses a dynamic query due to filter complexity.
func (r *Repository) ListCategories(ctx context.Context, filters shared.ListFilters) ([]Category, int, error) {
	where, args := listWhere(filters, "name ILIKE $%d OR slug ILIKE $%d")
	total, err := r.count(ctx, "categories", where, args)
	if err != nil {
		return nil, 0, err
	}
	query := `SELECT ` + categoryColumns + ` FROM categories` + where +
		` ORDER BY ` + sortOrder(filters, map[string]string{"name": "name", "sort_order": "sort_order", "created_at": "created_at"}, "sort_order") +
		pageClause(filters, &args)
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, db.Classify(err)
	}
	categories, err := collectRows(rows, scanCategory)
	if err != nil {
		return nil, 0, err
	}
	return categories, total, nil
}

func (r *Repository) ListBrands(ctx context.Context, filters shared.ListFilters) ([]Brand, int, error) {
	where, args := listWhere(filters, "name ILIKE $%d OR slug ILIKE $%d")
	total, err := r.count(ctx, "brands", where, args)
	if err != nil {
		return nil, 0, err
	}
	query := `SELECT ` + brandColumns + ` FROM brands` + where +
		` ORDER BY ` + sortOrder(filters, map[string]string{"name": "name", "created_at": "created_at"}, "name") +
		pageClause(filters, &args)
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, db.Classify(err)
	}
	brands, err := collectRows(rows, scanBrand)
	if err != nil {
		return nil, 0, err
	}
	return brands, total, nil
}

func (r *Repository) ListProducts(ctx context.Context, filters shared.ListFilters) ([]Product, int, error) {
	where, args := listWhere(filters, "name ILIKE $%d OR sku ILIKE $%d")
	total, err := r.count(ctx, "products", where, args)
	if err != nil {
		return nil, 0, err
	}
	query := `SELECT ` + productColumns + ` FROM products` + where +
		` ORDER BY ` + sortOrder(filters, map[string]string{"name": "name", "sku": "sku", "price": "COALESCE(price_sale, price_regular)", "created_at": "created_at"}, "created_at") +
		pageClause(filters, &args)
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, db.Classify(err)
	}
	products, err := collectRows(rows, scanProduct)
	if err != nil {
		return nil, 0, err
	}
	return products, total, nil
}

func (r *Repository) ListImages(ctx context.Context, productID int64, activeOnly bool) ([]Image, error) {
	query := `SELECT ` + imageColumns + ` FROM product_images WHERE product_id = $1`
	if activeOnly {
		query += ` AND is_active`
	}
	query += ` ORDER BY sort_order ASC, id ASC`
	rows, err := r.pool.Query(ctx, query, productID)
	if err != nil {
		return nil, db.Classify(err)
	}
	return collectRows(rows, scanImage)
}

// collectRows scans every row and closes rows. An empty result is a non-nil slice so pages
// encode as [] rather than null.
func collectRows[T any](rows pgx.Rows, scan func(pgx.Row) (T, error)) ([]T, error) {
	defer rows.Close()
	items := []T{}
	for rows.Next() {
		item, err := scan(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, db.Classify(rows.Err())
}

func (r *Repository) count(ctx context.Context, table, where string, args []any) (int, error) {
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM `+table+where, args...).Scan(&total); err != nil {
		return 0, db.Classify(err)
	}
	return total, nil
}

func listWhere(filters shared.ListFilters, searchExpr string) (string, []any) {
	var conditions []string
	var args []any
	if filters.Search != "" {
		args = append(args, "%"+filters.Search+"%")
		conditions = append(conditions, "("+fmt.Sprintf(searchExpr, len(args), len(args))+")")
	}
	if filters.IsActive != nil {
		args = append(args, *filters.IsActive)
		conditions = append(conditions, "is_active = $"+strconv.Itoa(len(args)))
	}
	if filters.CategoryID != nil {
		args = append(args, *filters.CategoryID)
		conditions = append(conditions, "category_id = $"+strconv.Itoa(len(args)))
	}
	if filters.BrandID != nil {
		args = append(args, *filters.BrandID)
		conditions = append(conditions, "brand_id = $"+strconv.Itoa(len(args)))
	}
	if len(conditions) == 0 {
		return "", args
	}
	where := " WHERE " + conditions[0]
	for _, c := range conditions[1:] {
		where += " AND " + c
	}
	return where, args
}

func pageClause(filters shared.ListFilters, args *[]any) string {
	if filters.Limit <= 0 {
		return ""
	}
	*args = append(*args, filters.Limit, filters.Offset())
	return fmt.Sprintf(" LIMIT $%d OFFSET $%d", len(*args)-1, len(*args))
}

func sortOrder(filters shared.ListFilters, allowed map[string]string, fallback string) string {
	dir := "ASC"
	if filters.SortDir == "desc" {
		dir = "DESC"
	}
	column, ok := allowed[filters.SortBy]
	if !ok {
		column = allowed[fallback]
	}
	return column + " " + dir + ", id " + dir
}

var uniqueColumns = map[Table]map[string]bool{
	TableCategories: {"name": true, "slug": true},
	TableBrands:     {"name": true, "slug": true},
	TableProducts:   {"slug": true, "sku": true},
}

// Exists looks up a candidate value among active and inactive rows, skipping excludeID.
func (r *txRepository) Exists(ctx context.Context, table Table, column, value string, excludeID int64) (bool, error) {
	if !uniqueColumns[table][column] {
		return false, fmt.Errorf("catalog: %s.%s is not a unique column", table, column)
	}
	var exists bool
	err := r.tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM `+string(table)+` WHERE `+column+` = $1 AND id <> $2)`, value, excludeID).Scan(&exists)
	return exists, db.Classify(err)
}

func (r *txRepository) LockCategory(ctx context.Context, id int64, mode LockMode) (Category, error) {
	return scanCategory(r.tx.QueryRow(ctx, `SELECT `+categoryColumns+` FROM categories WHERE id = $1 `+mode.clause(), id))
}

func (r *txRepository) LockBrand(ctx context.Context, id int64, mode LockMode) (Brand, error) {
	return scanBrand(r.tx.QueryRow(ctx, `SELECT `+brandColumns+` FROM brands WHERE id = $1 `+mode.clause(), id))
}

func (r *txRepository) LockProduct(ctx context.Context, id int64, mode LockMode) (Product, error) {
	return scanProduct(r.tx.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1 `+mode.clause(), id))
}

func (r *txRepository) InsertCategory(ctx context.Context, c Category) (Category, error) {
	return scanCategory(r.tx.QueryRow(ctx, `INSERT INTO categories (name, slug, sort_order, is_active, created_at, updated_at)
VALUES ($1, $2, $3, $4, NOW(), NOW()) RETURNING `+categoryColumns, c.Name, c.Slug, c.SortOrder, c.IsActive))
}

func (r *txRepository) UpdateCategory(ctx context.Context, c Category) (Category, error) {
	return scanCategory(r.tx.QueryRow(ctx, `UPDATE categories SET name = $2, slug = $3, sort_order = $4, is_active = $5, updated_at = NOW()
WHERE id = $1 RETURNING `+categoryColumns, c.ID, c.Name, c.Slug, c.SortOrder, c.IsActive))
}

func (r *txRepository) InsertBrand(ctx context.Context, b Brand) (Brand, error) {
	return scanBrand(r.tx.QueryRow(ctx, `INSERT INTO brands (name, slug, is_active, created_at, updated_at)
VALUES ($1, $2, $3, NOW(), NOW()) RETURNING `+brandColumns, b.Name, b.Slug, b.IsActive))
}

func (r *txRepository) UpdateBrand(ctx context.Context, b Brand) (Brand, error) {
	return scanBrand(r.tx.QueryRow(ctx, `UPDATE brands SET name = $2, slug = $3, is_active = $4, updated_at = NOW()
WHERE id = $1 RETURNING `+brandColumns, b.ID, b.Name, b.Slug, b.IsActive))
}

func (r *txRepository) InsertProduct(ctx context.Context, p Product) (Product, error) {
	return scanProduct(r.tx.QueryRow(ctx, `INSERT INTO products (slug, sku, name, description, price_regular, price_sale, is_active, is_featured, category_id, brand_id, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW(), NOW()) RETURNING `+productColumns,
		p.Slug, p.SKU, p.Name, p.Description, p.PriceRegular, p.PriceSale, p.IsActive, p.IsFeatured, p.CategoryID, p.BrandID))
}

func (r *txRepository) UpdateProduct(ctx context.Context, p Product) (Product, error) {
	return scanProduct(r.tx.QueryRow(ctx, `UPDATE products SET slug = $2, sku = $3, name = $4, description = $5, price_regular = $6, price_sale = $7,
is_active = $8, is_featured = $9, category_id = $10, brand_id = $11, updated_at = NOW()
WHERE id = $1 RETURNING `+productColumns,
		p.ID, p.Slug, p.SKU, p.Name, p.Description, p.PriceRegular, p.PriceSale, p.IsActive, p.IsFeatured, p.CategoryID, p.BrandID))
}

func (r *txRepository) SetActive(ctx context.Context, table Table, id int64, active bool) error {
	if _, ok := uniqueColumns[table]; !ok {
		return fmt.Errorf("catalog: unknown table %s", table)
	}
	tag, err := r.tx.Exec(ctx, `UPDATE `+string(table)+` SET is_active = $2, updated_at = NOW() WHERE id = $1`, id, active)
	if err != nil {
		return db.Classify(err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func (r *txRepository) CountActiveProducts(ctx context.Context, column ProductRefColumn, id int64) (int, error) {
	if column != RefCategory && column != RefBrand {
		return 0, fmt.Errorf("catalog: unknown product reference %s", column)
	}
	var n int
	err := r.tx.QueryRow(ctx, `SELECT COUNT(*) FROM products WHERE `+string(column)+` = $1 AND is_active`, id).Scan(&n)
	return n, db.Classify(err)
}

func (r *txRepository) DeactivateProductChildren(ctx context.Context, productID int64) (DeactivationResult, error) {
	var res DeactivationResult
	tag, err := r.tx.Exec(ctx, `UPDATE variants SET is_active = FALSE, updated_at = NOW() WHERE product_id = $1 AND is_active`, productID)
	if err != nil {
		return res, db.Classify(err)
	}
	res.VariantsDeactivated = tag.RowsAffected()
	tag, err = r.tx.Exec(ctx, `UPDATE product_images SET is_active = FALSE WHERE product_id = $1 AND is_active`, productID)
	if err != nil {
		return res, db.Classify(err)
	}
	res.ImagesDeactivated = tag.RowsAffected()
	return res, nil
}

func (r *txRepository) NextImageSortOrder(ctx context.Context, productID int64) (int, error) {
	var next int
	err := r.tx.QueryRow(ctx, `SELECT COALESCE(MAX(sort_order) + 1, 0) FROM product_images WHERE product_id = $1`, productID).Scan(&next)
	return next, db.Classify(err)
}

func (r *txRepository) InsertImage(ctx context.Context, img Image) (Image, error) {
	return scanImage(r.tx.QueryRow(ctx, `INSERT INTO product_images (product_id, url, sort_order, is_active, created_at)
VALUES ($1, $2, $3, TRUE, NOW()) RETURNING `+imageColumns, img.ProductID, img.URL, img.SortOrder))
}

func (r *txRepository) LockImage(ctx context.Context, id int64) (Image, error) {
	return scanImage(r.tx.QueryRow(ctx, `SELECT `+imageColumns+` FROM product_images WHERE id = $1 FOR UPDATE`, id))
}

func (r *txRepository) SetImageActive(ctx context.Context, id int64, active bool) error {
	tag, err := r.tx.Exec(ctx, `UPDATE product_images SET is_active = $2 WHERE id = $1`, id, active)
	if err != nil {
		return db.Classify(err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

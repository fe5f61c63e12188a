package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/maltedev/nursery-importer/internal/models"
)

const productColumns = `
	id, name, slug, description, price, availability, category_id,
	source_id, source_url, botanical_name, common_name,
	image_url, images, metadata, created_at, updated_at`

func (db *DB) FindCategoryBySlug(ctx context.Context, slug string) (*models.Category, error) {
	c := &models.Category{}
	err := db.pool.QueryRow(ctx,
		`SELECT id, name, slug, parent_id FROM categories WHERE slug = $1`, slug,
	).Scan(&c.ID, &c.Name, &c.Slug, &c.ParentID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find category %q: %w", slug, err)
	}
	return c, nil
}

func (db *DB) CreateCategory(ctx context.Context, c *models.Category) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}

	_, err := db.pool.Exec(ctx,
		`INSERT INTO categories (id, name, slug, parent_id) VALUES ($1, $2, $3, $4)`,
		c.ID, c.Name, c.Slug, c.ParentID)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: category slug %q", models.ErrConflict, c.Slug)
	}
	if err != nil {
		return fmt.Errorf("failed to create category: %w", err)
	}
	return nil
}

func (db *DB) FindProductBySourceID(ctx context.Context, sourceID string) (*models.Product, error) {
	if sourceID == "" {
		return nil, nil
	}
	return db.findProduct(ctx, "source_id = $1", sourceID)
}

func (db *DB) FindProductBySourceURL(ctx context.Context, sourceURL string) (*models.Product, error) {
	if sourceURL == "" {
		return nil, nil
	}
	return db.findProduct(ctx, "source_url = $1", sourceURL)
}

func (db *DB) FindProductBySlug(ctx context.Context, slug string) (*models.Product, error) {
	return db.findProduct(ctx, "slug = $1", slug)
}

func (db *DB) findProduct(ctx context.Context, where string, arg any) (*models.Product, error) {
	query := `SELECT` + productColumns + ` FROM products WHERE ` + where + ` ORDER BY created_at LIMIT 1`

	p, err := scanProduct(db.pool.QueryRow(ctx, query, arg))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find product: %w", err)
	}
	return p, nil
}

func (db *DB) CreateProduct(ctx context.Context, p *models.Product) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	now := time.Now()
	p.CreatedAt = now
	p.UpdatedAt = now

	query := `
		INSERT INTO products (` + productColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`

	_, err := db.pool.Exec(ctx, query,
		p.ID, p.Name, p.Slug, p.Description, p.Price, string(p.Availability), p.CategoryID,
		p.SourceID, p.SourceURL, p.BotanicalName, p.CommonName,
		p.ImageURL, jsonList(p.Images), jsonMap(p.Metadata), p.CreatedAt, p.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: product slug %q", models.ErrConflict, p.Slug)
	}
	if err != nil {
		return fmt.Errorf("failed to insert product: %w", err)
	}
	return nil
}

func (db *DB) UpdateProduct(ctx context.Context, p *models.Product) error {
	p.UpdatedAt = time.Now()

	query := `
		UPDATE products SET
			name = $2, slug = $3, description = $4, price = $5, availability = $6,
			category_id = $7, source_id = $8, source_url = $9, botanical_name = $10,
			common_name = $11, image_url = $12, images = $13, metadata = $14, updated_at = $15
		WHERE id = $1
		RETURNING created_at`

	err := db.pool.QueryRow(ctx, query,
		p.ID, p.Name, p.Slug, p.Description, p.Price, string(p.Availability),
		p.CategoryID, p.SourceID, p.SourceURL, p.BotanicalName,
		p.CommonName, p.ImageURL, jsonList(p.Images), jsonMap(p.Metadata), p.UpdatedAt,
	).Scan(&p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: %s", models.ErrProductNotFound, p.ID)
	}
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: product slug %q", models.ErrConflict, p.Slug)
	}
	if err != nil {
		return fmt.Errorf("failed to update product: %w", err)
	}
	return nil
}

// ProductsWithRemoteImages returns products whose main image or gallery still
// points at an http(s) URL, oldest first. limit <= 0 means no limit.
func (db *DB) ProductsWithRemoteImages(ctx context.Context, limit int) ([]*models.Product, error) {
	var limitArg any
	if limit > 0 {
		limitArg = limit
	}

	query := `SELECT` + productColumns + `
		FROM products
		WHERE image_url ~ '^https?://'
		   OR EXISTS (
				SELECT 1 FROM jsonb_array_elements_text(images) AS img
				WHERE img ~ '^https?://'
		   )
		ORDER BY created_at
		LIMIT $1`

	rows, err := db.pool.Query(ctx, query, limitArg)
	if err != nil {
		return nil, fmt.Errorf("failed to list products with remote images: %w", err)
	}
	defer rows.Close()

	var products []*models.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan product: %w", err)
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return products, nil
}

func (db *DB) UpdateProductImages(ctx context.Context, productID, imageURL string, images []string) error {
	result, err := db.pool.Exec(ctx,
		`UPDATE products SET image_url = $2, images = $3, updated_at = NOW() WHERE id = $1`,
		productID, imageURL, jsonList(images))
	if err != nil {
		return fmt.Errorf("failed to update product images: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", models.ErrProductNotFound, productID)
	}
	return nil
}

// NormalizeCategoryRoots points every product at the root ancestor of its
// category and returns the number of products changed.
func (db *DB) NormalizeCategoryRoots(ctx context.Context) (int, error) {
	query := `
		WITH RECURSIVE tree AS (
			SELECT id, id AS root_id FROM categories WHERE parent_id IS NULL
			UNION ALL
			SELECT c.id, t.root_id FROM categories c JOIN tree t ON c.parent_id = t.id
		)
		UPDATE products p
		SET category_id = tree.root_id, updated_at = NOW()
		FROM tree
		WHERE p.category_id = tree.id AND tree.id <> tree.root_id`

	result, err := db.pool.Exec(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("failed to normalize categories: %w", err)
	}
	return int(result.RowsAffected()), nil
}

func (db *DB) CatalogStats(ctx context.Context) (models.CatalogStats, error) {
	var stats models.CatalogStats

	query := `
		SELECT
			COUNT(*),
			COUNT(CASE WHEN price > 0 THEN 1 END),
			COUNT(CASE WHEN image_url ~ '^https?://' THEN 1 END),
			(SELECT COUNT(*) FROM categories)
		FROM products`

	err := db.pool.QueryRow(ctx, query).Scan(
		&stats.TotalProducts, &stats.ProductsWithPrice, &stats.RemoteImages, &stats.TotalCategories)
	if err != nil {
		return stats, fmt.Errorf("failed to get catalog stats: %w", err)
	}
	return stats, nil
}

func scanProduct(row pgx.Row) (*models.Product, error) {
	p := &models.Product{}
	var availability string
	err := row.Scan(
		&p.ID, &p.Name, &p.Slug, &p.Description, &p.Price, &availability, &p.CategoryID,
		&p.SourceID, &p.SourceURL, &p.BotanicalName, &p.CommonName,
		&p.ImageURL, &p.Images, &p.Metadata, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	p.Availability = models.Availability(availability)
	return p, nil
}

// jsonList keeps NOT NULL jsonb columns from receiving SQL NULL for a nil slice.
func jsonList(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}

func jsonMap(v map[string]any) map[string]any {
	if v == nil {
		return map[string]any{}
	}
	return v
}

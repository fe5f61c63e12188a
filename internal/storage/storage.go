// Package storage is a JSON-file implementation of the importer's catalog and job
// stores, used for development runs and as the persistence fake in tests.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/maltedev/nursery-importer/internal/models"
)

type snapshot struct {
	Categories map[string]*models.Category  `json:"categories"`
	Products   map[string]*models.Product   `json:"products"`
	Jobs       map[string]*models.ImportJob `json:"jobs"`
}

// FileStore keeps the whole catalog in memory and rewrites the file after every
// mutation. An empty filename keeps everything in memory only.
type FileStore struct {
	mu       sync.RWMutex
	data     snapshot
	filename string
}

func NewFileStore(filename string) (*FileStore, error) {
	fs := &FileStore{
		data: snapshot{
			Categories: make(map[string]*models.Category),
			Products:   make(map[string]*models.Product),
			Jobs:       make(map[string]*models.ImportJob),
		},
		filename: filename,
	}

	if filename == "" {
		return fs, nil
	}
	if err := fs.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	return fs, nil
}

// NewMemoryStore returns a store that never touches the disk.
func NewMemoryStore() *FileStore {
	fs, _ := NewFileStore("")
	return fs
}

func (fs *FileStore) Load() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	data, err := os.ReadFile(fs.filename)
	if err != nil {
		return err
	}

	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("failed to decode %s: %w", fs.filename, err)
	}
	if snap.Categories != nil {
		fs.data.Categories = snap.Categories
	}
	if snap.Products != nil {
		fs.data.Products = snap.Products
	}
	if snap.Jobs != nil {
		fs.data.Jobs = snap.Jobs
	}
	return nil
}

func (fs *FileStore) save() error {
	if fs.filename == "" {
		return nil
	}

	data, err := json.MarshalIndent(fs.data, "", "  ")
	if err != nil {
		return err
	}

	if dir := filepath.Dir(fs.filename); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}

	tmpFile := fs.filename + ".tmp"
	if err := os.WriteFile(tmpFile, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmpFile, fs.filename)
}

// Categories

func (fs *FileStore) FindCategoryBySlug(ctx context.Context, slug string) (*models.Category, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	for _, c := range fs.data.Categories {
		if c.Slug == slug {
			cp := *c
			return &cp, nil
		}
	}
	return nil, nil
}

func (fs *FileStore) CreateCategory(ctx context.Context, c *models.Category) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if c.Slug == "" {
		return fmt.Errorf("category slug is required")
	}
	for _, existing := range fs.data.Categories {
		if existing.Slug == c.Slug {
			return fmt.Errorf("%w: category slug %q", models.ErrConflict, c.Slug)
		}
	}
	if c.ID == "" {
		c.ID = uuid.New().String()
	}

	cp := *c
	fs.data.Categories[c.ID] = &cp
	return fs.save()
}

// Products

func (fs *FileStore) FindProductBySourceID(ctx context.Context, sourceID string) (*models.Product, error) {
	return fs.findProduct(func(p *models.Product) bool { return p.SourceID == sourceID })
}

func (fs *FileStore) FindProductBySourceURL(ctx context.Context, sourceURL string) (*models.Product, error) {
	return fs.findProduct(func(p *models.Product) bool { return p.SourceURL == sourceURL })
}

func (fs *FileStore) FindProductBySlug(ctx context.Context, slug string) (*models.Product, error) {
	return fs.findProduct(func(p *models.Product) bool { return p.Slug == slug })
}

func (fs *FileStore) findProduct(match func(*models.Product) bool) (*models.Product, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	for _, p := range fs.sortedProducts() {
		if match(p) {
			return cloneProduct(p), nil
		}
	}
	return nil, nil
}

func (fs *FileStore) CreateProduct(ctx context.Context, p *models.Product) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if _, exists := fs.data.Products[p.ID]; exists {
		return fmt.Errorf("product %s: %w", p.ID, models.ErrConflict)
	}
	if fs.slugTaken(p.Slug, p.ID) {
		return fmt.Errorf("product slug %q: %w", p.Slug, models.ErrConflict)
	}
	now := time.Now()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now

	fs.data.Products[p.ID] = cloneProduct(p)
	return fs.save()
}

func (fs *FileStore) UpdateProduct(ctx context.Context, p *models.Product) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	existing, ok := fs.data.Products[p.ID]
	if !ok {
		return fmt.Errorf("%w: %s", models.ErrProductNotFound, p.ID)
	}
	if fs.slugTaken(p.Slug, p.ID) {
		return fmt.Errorf("product slug %q: %w", p.Slug, models.ErrConflict)
	}
	p.CreatedAt = existing.CreatedAt
	p.UpdatedAt = time.Now()

	fs.data.Products[p.ID] = cloneProduct(p)
	return fs.save()
}

func (fs *FileStore) slugTaken(slug, exceptID string) bool {
	if slug == "" {
		return false
	}
	for id, p := range fs.data.Products {
		if id != exceptID && p.Slug == slug {
			return true
		}
	}
	return false
}

// GetProduct returns ErrProductNotFound for an unknown id.
func (fs *FileStore) GetProduct(ctx context.Context, id string) (*models.Product, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	p, ok := fs.data.Products[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", models.ErrProductNotFound, id)
	}
	return cloneProduct(p), nil
}

func (fs *FileStore) ListProducts(ctx context.Context) ([]*models.Product, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	var out []*models.Product
	for _, p := range fs.sortedProducts() {
		out = append(out, cloneProduct(p))
	}
	return out, nil
}

// ProductsWithRemoteImages returns products whose main image or gallery still
// points at an http(s) URL, oldest first. limit <= 0 means no limit.
func (fs *FileStore) ProductsWithRemoteImages(ctx context.Context, limit int) ([]*models.Product, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	var out []*models.Product
	for _, p := range fs.sortedProducts() {
		if !hasRemoteImage(p) {
			continue
		}
		out = append(out, cloneProduct(p))
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (fs *FileStore) UpdateProductImages(ctx context.Context, productID, imageURL string, images []string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	p, ok := fs.data.Products[productID]
	if !ok {
		return fmt.Errorf("%w: %s", models.ErrProductNotFound, productID)
	}
	p.ImageURL = imageURL
	p.Images = append([]string(nil), images...)
	p.UpdatedAt = time.Now()
	return fs.save()
}

// NormalizeCategoryRoots points every product at the root ancestor of its
// category and returns the number of products changed.
func (fs *FileStore) NormalizeCategoryRoots(ctx context.Context) (int, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	changed := 0
	for _, p := range fs.data.Products {
		if p.CategoryID == nil {
			continue
		}
		root := fs.rootOf(*p.CategoryID)
		if root == *p.CategoryID {
			continue
		}
		p.CategoryID = &root
		p.UpdatedAt = time.Now()
		changed++
	}

	if changed == 0 {
		return 0, nil
	}
	return changed, fs.save()
}

func (fs *FileStore) rootOf(id string) string {
	seen := map[string]bool{}
	for !seen[id] {
		seen[id] = true
		c, ok := fs.data.Categories[id]
		if !ok || c.ParentID == nil || *c.ParentID == "" {
			return id
		}
		id = *c.ParentID
	}
	return id
}

func (fs *FileStore) CatalogStats(ctx context.Context) (models.CatalogStats, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	stats := models.CatalogStats{
		TotalProducts:   len(fs.data.Products),
		TotalCategories: len(fs.data.Categories),
	}
	for _, p := range fs.data.Products {
		if p.Price > 0 {
			stats.ProductsWithPrice++
		}
		if hasRemoteImage(p) {
			stats.RemoteImages++
		}
	}
	return stats, nil
}

// sortedProducts orders products by creation time so lookups that match more
// than one row are deterministic. Caller holds the lock.
func (fs *FileStore) sortedProducts() []*models.Product {
	out := make([]*models.Product, 0, len(fs.data.Products))
	for _, p := range fs.data.Products {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func hasRemoteImage(p *models.Product) bool {
	if isRemote(p.ImageURL) {
		return true
	}
	for _, img := range p.Images {
		if isRemote(img) {
			return true
		}
	}
	return false
}

func isRemote(u string) bool {
	return strings.HasPrefix(u, "http://") || strings.HasPrefix(u, "https://")
}

func cloneProduct(p *models.Product) *models.Product {
	cp := *p
	if p.CategoryID != nil {
		id := *p.CategoryID
		cp.CategoryID = &id
	}
	if p.Images != nil {
		cp.Images = append([]string(nil), p.Images...)
	}
	if p.Metadata != nil {
		cp.Metadata = make(map[string]any, len(p.Metadata))
		for k, v := range p.Metadata {
			cp.Metadata[k] = v
		}
	}
	return &cp
}

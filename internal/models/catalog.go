package models

import "time"

// Category is a node of the storefront's category tree.
type Category struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	Slug     string  `json:"slug"`
	ParentID *string `json:"parentId,omitempty"`
}

// Product is a persisted catalog row as the importer reads and writes it.
type Product struct {
	ID            string         `json:"id"`
	Name          string         `json:"name"`
	Slug          string         `json:"slug"`
	Description   string         `json:"description,omitempty"`
	Price         float64        `json:"price"`
	Availability  Availability   `json:"availability"`
	CategoryID    *string        `json:"categoryId,omitempty"`
	SourceID      string         `json:"sourceId,omitempty"`
	SourceURL     string         `json:"sourceUrl,omitempty"`
	BotanicalName string         `json:"botanicalName,omitempty"`
	CommonName    string         `json:"commonName,omitempty"`
	ImageURL      string         `json:"imageUrl,omitempty"`
	Images        []string       `json:"images,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	CreatedAt     time.Time      `json:"createdAt"`
	UpdatedAt     time.Time      `json:"updatedAt"`
}

// CatalogStats summarizes catalog size for the admin surface.
type CatalogStats struct {
	TotalProducts     int `json:"total_products"`
	ProductsWithPrice int `json:"products_with_price"`
	RemoteImages      int `json:"remote_images"`
	TotalCategories   int `json:"total_categories"`
}

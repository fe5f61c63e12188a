// Package events turns catalog changes into outbox events for the redis relay.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/maltedev/nursery-importer/internal/database"
	"github.com/maltedev/nursery-importer/internal/models"
)

type EventType string

const (
	// EventTypeProductImported is published when an import creates or updates a product.
	EventTypeProductImported EventType = "PRODUCT_IMPORTED"
)

// ProductImportedPayload is what storefront consumers receive on the catalog stream.
type ProductImportedPayload struct {
	EventID      string              `json:"event_id"`
	EventType    string              `json:"event_type"`
	Timestamp    time.Time           `json:"timestamp"`
	JobID        string              `json:"job_id,omitempty"`
	ProductID    string              `json:"product_id"`
	Slug         string              `json:"slug"`
	Name         string              `json:"name"`
	Price        float64             `json:"price"`
	Availability models.Availability `json:"availability"`
	CategoryID   *string             `json:"category_id,omitempty"`
	ImageURL     string              `json:"image_url,omitempty"`
	SourceURL    string              `json:"source_url,omitempty"`
	Created      bool                `json:"created"`
	Source       string              `json:"source"`
}

// OutboxWriter stores an event for the relay to publish.
type OutboxWriter interface {
	Insert(ctx context.Context, event *database.OutboxEvent) error
}

// Publisher writes catalog events through the transactional outbox.
type Publisher struct {
	outbox OutboxWriter
	logger *slog.Logger
}

func NewPublisher(outbox OutboxWriter, logger *slog.Logger) *Publisher {
	return &Publisher{
		outbox: outbox,
		logger: logger.With("component", "event_publisher"),
	}
}

// NewProductImportedPayload builds the payload for a stored product.
func NewProductImportedPayload(p *models.Product, jobID string, created bool) *ProductImportedPayload {
	return &ProductImportedPayload{
		JobID:        jobID,
		ProductID:    p.ID,
		Slug:         p.Slug,
		Name:         p.Name,
		Price:        p.Price,
		Availability: p.Availability,
		CategoryID:   p.CategoryID,
		ImageURL:     p.ImageURL,
		SourceURL:    p.SourceURL,
		Created:      created,
	}
}

func (p *Publisher) PublishProductImported(ctx context.Context, product *models.Product, jobID string, created bool) error {
	payload := NewProductImportedPayload(product, jobID, created)
	payload.EventID = uuid.New().String()
	payload.EventType = string(EventTypeProductImported)
	payload.Timestamp = time.Now()
	payload.Source = "importer"

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	outboxEvent := &database.OutboxEvent{
		AggregateType: "product",
		AggregateID:   product.ID,
		EventType:     string(EventTypeProductImported),
		Payload:       data,
		TargetStream:  database.CatalogStream,
	}

	if err := p.outbox.Insert(ctx, outboxEvent); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	p.logger.Debug("event written to outbox",
		"type", payload.EventType,
		"event_id", payload.EventID,
		"product", product.ID,
		"outbox_id", outboxEvent.ID,
	)
	return nil
}

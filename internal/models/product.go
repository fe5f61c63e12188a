package models

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Availability is the stock state reported by the source for a product or variant.
type Availability string

const (
	AvailabilityInStock      Availability = "IN_STOCK"
	AvailabilityOutOfStock   Availability = "OUT_OF_STOCK"
	AvailabilityPreOrder     Availability = "PRE_ORDER"
	AvailabilityDiscontinued Availability = "DISCONTINUED"
)

// Valid reports whether a is one of the known availability values.
func (a Availability) Valid() bool {
	switch a {
	case AvailabilityInStock, AvailabilityOutOfStock, AvailabilityPreOrder, AvailabilityDiscontinued:
		return true
	}
	return false
}

// ScrapedProduct is a transient record produced by the scraper or the API client.
// Only SourceURL is a stable identity; ID occasionally repeats across listings.
type ScrapedProduct struct {
	ID               string               `json:"id"`
	Name             string               `json:"name"`
	Slug             string               `json:"slug,omitempty"`
	Description      string               `json:"description,omitempty"`
	BotanicalName    string               `json:"botanicalName,omitempty"`
	CommonName       string               `json:"commonName,omitempty"`
	Price            *float64             `json:"price,omitempty"`
	Availability     Availability         `json:"availability,omitempty"`
	Variants         []Variant            `json:"variants,omitempty"`
	Category         string               `json:"category,omitempty"`
	ImageURL         string               `json:"imageUrl,omitempty"`
	Images           []string             `json:"images,omitempty"`
	SourceURL        string               `json:"sourceUrl"`
	SourceID         string               `json:"sourceId,omitempty"`
	Specifications   map[string]SpecValue `json:"specifications,omitempty"`
	CareInstructions string               `json:"careInstructions,omitempty"`
}

// Variant is one size/price/stock combination of a product.
type Variant struct {
	CombinationID string       `json:"combinationId"`
	Label         string       `json:"label,omitempty"`
	Price         *float64     `json:"price,omitempty"`
	Availability  Availability `json:"availability,omitempty"`
	Stock         *int         `json:"stock,omitempty"`
}

// SpecValue holds one or more values of a specification entry. Source pages are
// inconsistent, so a single value encodes as a plain JSON string.
type SpecValue []string

// MarshalJSON encodes a single value as a string and anything else as an array.
func (v SpecValue) MarshalJSON() ([]byte, error) {
	if len(v) == 1 {
		return json.Marshal(v[0])
	}
	return json.Marshal([]string(v))
}

// UnmarshalJSON accepts both a string and an array of strings.
func (v *SpecValue) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		*v = SpecValue{single}
		return nil
	}

	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return fmt.Errorf("spec value must be a string or list of strings: %w", err)
	}
	*v = SpecValue(many)
	return nil
}

// String joins multiple values with ", ".
func (v SpecValue) String() string {
	return strings.Join(v, ", ")
}

// Float64 returns a pointer to f.
func Float64(f float64) *float64 {
	return &f
}

// Int returns a pointer to i.
func Int(i int) *int {
	return &i
}

// Package types holds the normalized warehouse records shared across the
// pipeline stages.
package types

import "time"

// Product is one catalog entry, keyed by the seller-assigned offer id.
type Product struct {
	OfferID  string
	Name     string
	Barcode  string
	Category string
	Price    string
}

// NaturalKey returns the conflict-resolution key for catalog upserts.
func (p Product) NaturalKey() string { return p.OfferID }

// Stock is a point-in-time inventory snapshot row for one SKU in one warehouse.
type Stock struct {
	SKU       string
	Warehouse string
	Present   int
	Reserved  int
	Available int
}

// NaturalKey identifies a stock row within a snapshot.
func (s Stock) NaturalKey() string { return s.SKU + "\x1f" + s.Warehouse }

// Sale is one posting line: a single offer sold within a posting.
type Sale struct {
	PostingNumber string
	OfferID       string
	Status        string
	Quantity      int
	Price         string
	CreatedAt     time.Time
}

// NaturalKey is the composite posting+offer pair used for deduplication.
func (s Sale) NaturalKey() string { return s.PostingNumber + "\x1f" + s.OfferID }

package domain

import "time"

// Message is a single persisted session turn. Messages are immutable once written.
type Message struct {
	SessionID string
	Role      string
	Content   string
	CreatedAt time.Time
}

// CatalogEntry is a product row owned by the catalog.
type CatalogEntry struct {
	ID        int64
	Name      string
	Price     float64
	Image     string
	CreatedAt time.Time
}

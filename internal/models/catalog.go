package models

import "time"

// CatalogService is an academic-assistance service offered to students.
type CatalogService struct {
	ID          string    `db:"id" json:"id"`
	Title       string    `db:"title" json:"title"`
	Description string    `db:"description" json:"description"`
	Price       float64   `db:"price" json:"price"`
	Currency    string    `db:"currency" json:"currency"`
	Active      bool      `db:"active" json:"active"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

// CatalogFilter captures listing criteria for the service catalog.
type CatalogFilter struct {
	Active   *bool
	Search   string
	Page     int
	PageSize int
}

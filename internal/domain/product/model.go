package product

import (
	"database/sql"
	"time"
)

type Status string

const (
	StatusDraft     Status = "draft"
	StatusPublished Status = "published"
	StatusArchived  Status = "archived"
)

// Product is a purchasable downloadable app. Price is stored in cents; a zero
// price marks a free product whose purchases are approved without a processor
// round-trip.
type Product struct {
	ID               int64          `db:"id"`
	Name             string         `db:"name"`
	Version          sql.NullString `db:"version"`
	ShortDescription sql.NullString `db:"short_description"`
	Price            int64          `db:"price"`
	Status           Status         `db:"status"`
	DownloadURL      sql.NullString `db:"download_url"`
	ThumbURL         sql.NullString `db:"thumb_url"`
	DownloadCount    int64          `db:"download_count"`
	CreatedAt        time.Time      `db:"created_at"`
	UpdatedAt        time.Time      `db:"updated_at"`
}

package model

import "time"

// Document is an ingested paper. The raw PDF bytes are kept so that the
// ingest worker can re-run the full pipeline on redelivery without any
// external storage reference. Immutable once ingested; a re-ingestion with
// the same content replaces its chunk set atomically.
type Document struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	UserID    uint      `gorm:"not null;index" json:"user_id"`
	Title     string    `gorm:"size:256;not null" json:"title"`
	Filename  string    `gorm:"size:256;not null" json:"filename"`
	Data      []byte    `gorm:"type:longblob" json:"-"`
	PageCount int       `json:"page_count"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

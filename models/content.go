package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	ContentTypeMovie = "movie"
	ContentTypeTV    = "tv"
)

// Content caches one TMDB title. Metadata holds the full snapshot used to
// build generation prompts; the denormalized columns serve listings.
type Content struct {
	ID            uuid.UUID      `json:"id" gorm:"type:uuid;primaryKey"`
	TMDBID        int            `json:"tmdb_id" gorm:"column:tmdb_id;not null;uniqueIndex:idx_contents_tmdb_type"`
	ContentType   string         `json:"content_type" gorm:"size:10;not null;uniqueIndex:idx_contents_tmdb_type"`
	Title         string         `json:"title" gorm:"not null"`
	Overview      string         `json:"overview"`
	ReleaseDate   string         `json:"release_date"`
	PosterPath    string         `json:"poster_path"`
	Genres        datatypes.JSON `json:"genres"`
	Cast          datatypes.JSON `json:"cast"`
	Metadata      datatypes.JSON `json:"-"`
	LastFetchedAt time.Time      `json:"last_fetched_at" gorm:"not null"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

func (Content) TableName() string { return "contents" }

func (c *Content) BeforeCreate(tx *gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return nil
}

// IsStale reports whether the cached metadata is older than maxAge.
func (c *Content) IsStale(now time.Time, maxAge time.Duration) bool {
	return now.Sub(c.LastFetchedAt) > maxAge
}

func ValidContentType(t string) bool {
	return t == ContentTypeMovie || t == ContentTypeTV
}

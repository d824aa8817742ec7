package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"cinecheck/models"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type ContentService struct {
	db         *gorm.DB
	metadata   MetadataProvider
	staleAfter time.Duration
	now        func() time.Time
}

func NewContentService(db *gorm.DB, metadata MetadataProvider, staleAfter time.Duration) *ContentService {
	return &ContentService{
		db:         db,
		metadata:   metadata,
		staleAfter: staleAfter,
		now:        time.Now,
	}
}

// Find returns the cached content row without touching the metadata provider.
func (s *ContentService) Find(ctx context.Context, tmdbID int, contentType string) (*models.Content, error) {
	if !models.ValidContentType(contentType) {
		return nil, ErrInvalidContentType
	}

	var content models.Content
	err := s.db.WithContext(ctx).
		Where("tmdb_id = ? AND content_type = ?", tmdbID, contentType).
		First(&content).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrContentNotFound
	}
	if err != nil {
		return nil, err
	}
	return &content, nil
}

// Resolve returns the content row and its metadata, creating the row on first
// use and refreshing it once it is older than the staleness window. A stale row
// is still served when the refresh fails.
func (s *ContentService) Resolve(ctx context.Context, tmdbID int, contentType string) (*models.Content, *Metadata, error) {
	content, err := s.Find(ctx, tmdbID, contentType)
	if err != nil && !errors.Is(err, ErrContentNotFound) {
		return nil, nil, err
	}

	if content != nil && !content.IsStale(s.now(), s.staleAfter) {
		md, decodeErr := decodeMetadata(content)
		if decodeErr == nil {
			return content, md, nil
		}
		log.Printf("Cached metadata for content %s is unreadable, refetching: %v", content.ID, decodeErr)
	}

	md, fetchErr := s.metadata.GetDetails(ctx, tmdbID, contentType)
	if fetchErr != nil {
		if content != nil {
			if cached, decodeErr := decodeMetadata(content); decodeErr == nil {
				log.Printf("Metadata refresh for %s/%d failed, serving stale copy: %v", contentType, tmdbID, fetchErr)
				return content, cached, nil
			}
		}
		return nil, nil, fmt.Errorf("%w: %w", ErrMetadataUnavailable, fetchErr)
	}

	if content == nil {
		content = &models.Content{TMDBID: tmdbID, ContentType: contentType}
		if err := applyMetadata(content, md, s.now()); err != nil {
			return nil, nil, err
		}
		if err := s.db.WithContext(ctx).Create(content).Error; err != nil {
			// A concurrent request may have created the row first.
			if existing, findErr := s.Find(ctx, tmdbID, contentType); findErr == nil {
				return existing, md, nil
			}
			return nil, nil, fmt.Errorf("failed to save content: %w", err)
		}
		return content, md, nil
	}

	if err := applyMetadata(content, md, s.now()); err != nil {
		return nil, nil, err
	}
	if err := s.db.WithContext(ctx).Save(content).Error; err != nil {
		return nil, nil, fmt.Errorf("failed to save content: %w", err)
	}

	return content, md, nil
}

func applyMetadata(content *models.Content, md *Metadata, fetchedAt time.Time) error {
	snapshot, err := json.Marshal(md)
	if err != nil {
		return err
	}
	genres, err := json.Marshal(md.Genres)
	if err != nil {
		return err
	}
	cast, err := json.Marshal(md.Cast)
	if err != nil {
		return err
	}

	content.Title = md.Title
	content.Overview = md.Overview
	content.ReleaseDate = md.ReleaseDate
	content.PosterPath = md.PosterPath
	content.Genres = datatypes.JSON(genres)
	content.Cast = datatypes.JSON(cast)
	content.Metadata = datatypes.JSON(snapshot)
	content.LastFetchedAt = fetchedAt
	return nil
}

func decodeMetadata(content *models.Content) (*Metadata, error) {
	if len(content.Metadata) == 0 {
		return nil, errors.New("empty metadata snapshot")
	}
	var md Metadata
	if err := json.Unmarshal(content.Metadata, &md); err != nil {
		return nil, err
	}
	return &md, nil
}

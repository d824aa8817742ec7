package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"cinecheck/models"

	"github.com/redis/go-redis/v9"
)

const (
	maxCastMembers     = 10
	tmdbCacheKeyPrefix = "tmdb:"
)

// Metadata is the normalized view of a TMDB movie or series.
type Metadata struct {
	TMDBID        int          `json:"tmdb_id"`
	ContentType   string       `json:"content_type"`
	Title         string       `json:"title"`
	OriginalTitle string       `json:"original_title,omitempty"`
	Overview      string       `json:"overview"`
	Tagline       string       `json:"tagline,omitempty"`
	ReleaseDate   string       `json:"release_date,omitempty"`
	Runtime       int          `json:"runtime,omitempty"`
	PosterPath    string       `json:"poster_path,omitempty"`
	Genres        []string     `json:"genres"`
	Cast          []CastMember `json:"cast"`
	Directors     []string     `json:"directors,omitempty"`
	Writers       []string     `json:"writers,omitempty"`
	Creators      []string     `json:"creators,omitempty"`
	Keywords      []string     `json:"keywords,omitempty"`
}

type CastMember struct {
	Name      string `json:"name"`
	Character string `json:"character"`
}

func (m *Metadata) Year() string {
	if len(m.ReleaseDate) >= 4 {
		return m.ReleaseDate[:4]
	}
	return ""
}

// MetadataProvider fetches content details from an external catalogue.
type MetadataProvider interface {
	GetDetails(ctx context.Context, tmdbID int, contentType string) (*Metadata, error)
}

type TMDBClient struct {
	httpClient *http.Client
	apiKey     string
	baseURL    string
	cache      *redis.Client
	cacheTTL   time.Duration
}

// NewTMDBClient creates a TMDB client. cache may be nil.
func NewTMDBClient(apiKey, baseURL string, cache *redis.Client, cacheTTL time.Duration) *TMDBClient {
	return &TMDBClient{
		httpClient: &http.Client{Timeout: 15 * time.Second},
		apiKey:     apiKey,
		baseURL:    strings.TrimRight(baseURL, "/"),
		cache:      cache,
		cacheTTL:   cacheTTL,
	}
}

type tmdbNamed struct {
	Name string `json:"name"`
}

type tmdbDetails struct {
	ID             int         `json:"id"`
	Title          string      `json:"title"`
	Name           string      `json:"name"`
	OriginalTitle  string      `json:"original_title"`
	OriginalName   string      `json:"original_name"`
	Overview       string      `json:"overview"`
	Tagline        string      `json:"tagline"`
	ReleaseDate    string      `json:"release_date"`
	FirstAirDate   string      `json:"first_air_date"`
	Runtime        int         `json:"runtime"`
	EpisodeRunTime []int       `json:"episode_run_time"`
	PosterPath     string      `json:"poster_path"`
	Genres         []tmdbNamed `json:"genres"`
	CreatedBy      []tmdbNamed `json:"created_by"`
	Credits        struct {
		Cast []struct {
			Name      string `json:"name"`
			Character string `json:"character"`
			Order     int    `json:"order"`
		} `json:"cast"`
		Crew []struct {
			Name string `json:"name"`
			Job  string `json:"job"`
		} `json:"crew"`
	} `json:"credits"`
	Keywords struct {
		Keywords []tmdbNamed `json:"keywords"` // movies
		Results  []tmdbNamed `json:"results"`  // series
	} `json:"keywords"`
}

func (c *TMDBClient) GetDetails(ctx context.Context, tmdbID int, contentType string) (*Metadata, error) {
	if !models.ValidContentType(contentType) {
		return nil, ErrInvalidContentType
	}

	cacheKey := tmdbCacheKeyPrefix + contentType + ":" + strconv.Itoa(tmdbID)
	if md := c.cached(ctx, cacheKey); md != nil {
		return md, nil
	}

	endpoint := fmt.Sprintf("%s/%s/%d", c.baseURL, contentType, tmdbID)
	query := url.Values{}
	query.Set("append_to_response", "credits,keywords")
	query.Set("language", "en-US")
	if c.apiKey != "" {
		query.Set("api_key", c.apiKey)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+query.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// The request URL carries the api key; keep it out of the error.
		var urlErr *url.Error
		if errors.As(err, &urlErr) {
			err = urlErr.Err
		}
		return nil, fmt.Errorf("TMDB request for %s/%d failed: %w", contentType, tmdbID, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read TMDB response: %w", err)
	}

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrMetadataNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("TMDB returned status %d: %s", resp.StatusCode, string(body))
	}

	var details tmdbDetails
	if err := json.Unmarshal(body, &details); err != nil {
		return nil, fmt.Errorf("failed to parse TMDB response: %w", err)
	}

	md := toMetadata(&details, contentType)
	c.store(ctx, cacheKey, md)
	return md, nil
}

func (c *TMDBClient) cached(ctx context.Context, key string) *Metadata {
	if c.cache == nil {
		return nil
	}
	data, err := c.cache.Get(ctx, key).Result()
	if err != nil {
		if err != redis.Nil {
			log.Printf("Redis error reading %s: %v", key, err)
		}
		return nil
	}
	var md Metadata
	if err := json.Unmarshal([]byte(data), &md); err != nil {
		log.Printf("Discarding malformed cache entry %s: %v", key, err)
		return nil
	}
	return &md
}

func (c *TMDBClient) store(ctx context.Context, key string, md *Metadata) {
	if c.cache == nil {
		return
	}
	data, err := json.Marshal(md)
	if err != nil {
		return
	}
	if err := c.cache.Set(ctx, key, data, c.cacheTTL).Err(); err != nil {
		log.Printf("Failed to cache %s: %v", key, err)
	}
}

func toMetadata(d *tmdbDetails, contentType string) *Metadata {
	md := &Metadata{
		TMDBID:      d.ID,
		ContentType: contentType,
		Overview:    d.Overview,
		Tagline:     d.Tagline,
		PosterPath:  d.PosterPath,
		Genres:      []string{},
		Cast:        []CastMember{},
	}

	if contentType == models.ContentTypeTV {
		md.Title = d.Name
		md.OriginalTitle = d.OriginalName
		md.ReleaseDate = d.FirstAirDate
		if len(d.EpisodeRunTime) > 0 {
			md.Runtime = d.EpisodeRunTime[0]
		}
		for _, c := range d.CreatedBy {
			md.Creators = append(md.Creators, c.Name)
		}
		for _, k := range d.Keywords.Results {
			md.Keywords = append(md.Keywords, k.Name)
		}
	} else {
		md.Title = d.Title
		md.OriginalTitle = d.OriginalTitle
		md.ReleaseDate = d.ReleaseDate
		md.Runtime = d.Runtime
		for _, k := range d.Keywords.Keywords {
			md.Keywords = append(md.Keywords, k.Name)
		}
	}
	if md.OriginalTitle == md.Title {
		md.OriginalTitle = ""
	}

	for _, g := range d.Genres {
		md.Genres = append(md.Genres, g.Name)
	}
	for i, member := range d.Credits.Cast {
		if i >= maxCastMembers {
			break
		}
		md.Cast = append(md.Cast, CastMember{Name: member.Name, Character: member.Character})
	}
	for _, member := range d.Credits.Crew {
		switch member.Job {
		case "Director":
			md.Directors = append(md.Directors, member.Name)
		case "Screenplay", "Writer":
			md.Writers = append(md.Writers, member.Name)
		}
	}

	return md
}

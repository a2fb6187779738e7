// Package tmdb resolves content metadata from The Movie Database. When the
// API key is missing or the upstream fails, results come from a small built-in
// catalog so callers always get something to display.
package tmdb

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/immxrtalbeast/watchparty/internal/cache"
	"github.com/immxrtalbeast/watchparty/internal/domain"
	"github.com/immxrtalbeast/watchparty/internal/metrics"
	"github.com/immxrtalbeast/watchparty/lib/logger/sl"
)

const (
	DefaultBaseURL = "https://api.themoviedb.org/3"
	CacheTTL       = time.Hour
)

type Genre struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

type Movie struct {
	ID           int     `json:"id"`
	Title        string  `json:"title"`
	Overview     string  `json:"overview"`
	PosterPath   string  `json:"poster_path"`
	BackdropPath string  `json:"backdrop_path"`
	ReleaseDate  string  `json:"release_date"`
	VoteAverage  float64 `json:"vote_average"`
	VoteCount    int     `json:"vote_count"`
	Popularity   float64 `json:"popularity"`
	GenreIDs     []int   `json:"genre_ids,omitempty"`
}

type MovieDetails struct {
	Movie
	Genres  []Genre `json:"genres"`
	Runtime int     `json:"runtime"`
	Tagline string  `json:"tagline"`
	Status  string  `json:"status"`
	Budget  int64   `json:"budget"`
	Revenue int64   `json:"revenue"`
}

type MovieResponse struct {
	Page         int     `json:"page"`
	Results      []Movie `json:"results"`
	TotalPages   int     `json:"total_pages"`
	TotalResults int     `json:"total_results"`
}

type Client struct {
	apiKey  string
	baseURL string
	http    *http.Client
	cache   cache.Cache
	log     *slog.Logger
}

func NewClient(apiKey, baseURL string, c cache.Cache, log *slog.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		http: &http.Client{
			Timeout: 10 * time.Second,
		},
		cache: c,
		log:   log,
	}
}

// GetDetails returns metadata for a numeric content ID. Upstream failures
// fall back to the built-in catalog; only a malformed ID is an error.
func (c *Client) GetDetails(ctx context.Context, contentID string) (MovieDetails, error) {
	const op = "provider.tmdb.GetDetails"
	log := c.log.With(slog.String("op", op), slog.String("content_id", contentID))

	id, err := strconv.Atoi(strings.TrimSpace(contentID))
	if err != nil || id <= 0 {
		return MovieDetails{}, fmt.Errorf("%w: content id %q is not numeric", domain.ErrInvalidArgument, contentID)
	}

	key := "tmdb_movie_" + strconv.Itoa(id)
	var details MovieDetails
	if ok, err := cache.GetJSON(ctx, c.cache, key, &details); err != nil {
		log.Warn("cache read failed", sl.Err(err))
	} else if ok {
		return details, nil
	}

	if c.apiKey == "" {
		return catalogDetails(id), nil
	}

	if err := c.get(ctx, "/movie/"+strconv.Itoa(id), url.Values{}, &details); err != nil {
		log.Warn("falling back to catalog", sl.Err(err))
		metrics.ProviderFallbacks.WithLabelValues("tmdb").Inc()
		return catalogDetails(id), nil
	}

	if err := cache.SetJSON(ctx, c.cache, key, details, CacheTTL); err != nil {
		log.Warn("cache write failed", sl.Err(err))
	}
	return details, nil
}

// Title is a best-effort lookup used to label sessions.
func (c *Client) Title(ctx context.Context, contentID string) string {
	details, err := c.GetDetails(ctx, contentID)
	if err != nil {
		return ""
	}
	return details.Title
}

func (c *Client) Search(ctx context.Context, query string, page int) (MovieResponse, error) {
	const op = "provider.tmdb.Search"
	log := c.log.With(slog.String("op", op), slog.String("query", query))

	query = strings.TrimSpace(query)
	if query == "" {
		return MovieResponse{}, fmt.Errorf("%w: query is required", domain.ErrInvalidArgument)
	}
	if page <= 0 {
		page = 1
	}

	if c.apiKey == "" {
		return catalogSearch(query), nil
	}

	val := url.Values{}
	val.Set("query", query)
	val.Set("page", strconv.Itoa(page))

	key := "tmdb_search_" + strings.ToLower(query) + "_" + strconv.Itoa(page)
	return c.list(ctx, log, key, "/search/movie", val, func() MovieResponse {
		return catalogSearch(query)
	}), nil
}

// GetSimilar lists titles similar to contentID.
func (c *Client) GetSimilar(ctx context.Context, contentID string, page int) (MovieResponse, error) {
	return c.related(ctx, "provider.tmdb.GetSimilar", "similar", contentID, page)
}

// GetRecommendations lists titles recommended for viewers of contentID.
func (c *Client) GetRecommendations(ctx context.Context, contentID string, page int) (MovieResponse, error) {
	return c.related(ctx, "provider.tmdb.GetRecommendations", "recommendations", contentID, page)
}

func (c *Client) related(ctx context.Context, op, kind, contentID string, page int) (MovieResponse, error) {
	log := c.log.With(slog.String("op", op), slog.String("content_id", contentID))

	id, err := strconv.Atoi(strings.TrimSpace(contentID))
	if err != nil || id <= 0 {
		return MovieResponse{}, fmt.Errorf("%w: content id %q is not numeric", domain.ErrInvalidArgument, contentID)
	}
	if page <= 0 {
		page = 1
	}

	if c.apiKey == "" {
		return catalogRelated(id), nil
	}

	val := url.Values{}
	val.Set("page", strconv.Itoa(page))

	key := "tmdb_" + kind + "_" + strconv.Itoa(id) + "_" + strconv.Itoa(page)
	path := "/movie/" + strconv.Itoa(id) + "/" + kind
	return c.list(ctx, log, key, path, val, func() MovieResponse {
		return catalogRelated(id)
	}), nil
}

// list serves a cached listing, fetching it on a miss and falling back to
// the catalog when the upstream fails. Fallbacks are not cached.
func (c *Client) list(ctx context.Context, log *slog.Logger, key, path string, val url.Values, fallback func() MovieResponse) MovieResponse {
	var resp MovieResponse
	if ok, err := cache.GetJSON(ctx, c.cache, key, &resp); err != nil {
		log.Warn("cache read failed", sl.Err(err))
	} else if ok {
		return resp
	}

	if err := c.get(ctx, path, val, &resp); err != nil {
		log.Warn("falling back to catalog", sl.Err(err))
		metrics.ProviderFallbacks.WithLabelValues("tmdb").Inc()
		return fallback()
	}
	if resp.Results == nil {
		resp.Results = []Movie{}
	}

	if err := cache.SetJSON(ctx, c.cache, key, resp, CacheTTL); err != nil {
		log.Warn("cache write failed", sl.Err(err))
	}
	return resp
}

func (c *Client) get(ctx context.Context, path string, val url.Values, dst any) error {
	val.Set("api_key", c.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+val.Encode(), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrUpstreamFetch, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: tmdb status %d", domain.ErrUpstreamFetch, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrUpstreamFetch, err)
	}
	return nil
}

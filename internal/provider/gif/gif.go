// Package gif searches reaction media. Tenor is queried first and GIPHY
// serves as the fallback; both failing yields an empty result.
package gif

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/immxrtalbeast/watchparty/internal/cache"
	"github.com/immxrtalbeast/watchparty/internal/metrics"
	"github.com/immxrtalbeast/watchparty/lib/logger/sl"
)

const (
	DefaultLimit = 8
	MaxLimit     = 50
	CacheTTL     = time.Hour
)

var movieContexts = []string{"movie reaction", "movie scene", "film reaction", "cinema reaction"}

type Item struct {
	ID         string `json:"id"`
	Title      string `json:"title"`
	URL        string `json:"url"`
	PreviewURL string `json:"preview_url"`
	Width      int    `json:"width"`
	Height     int    `json:"height"`
}

type Response struct {
	Gifs []Item `json:"gifs"`
	Next string `json:"next"`
}

func emptyResponse() Response {
	return Response{Gifs: []Item{}}
}

// Source is one upstream media API.
type Source interface {
	Name() string
	Search(ctx context.Context, query string, limit int) (Response, error)
	Trending(ctx context.Context, limit int) (Response, error)
}

type Service struct {
	log     *slog.Logger
	sources []Source
	cache   cache.Cache
	ttl     time.Duration
}

// NewService queries sources in order. Nil sources are skipped so an
// unconfigured provider costs nothing.
func NewService(log *slog.Logger, c cache.Cache, sources ...Source) *Service {
	active := make([]Source, 0, len(sources))
	for _, s := range sources {
		if s != nil {
			active = append(active, s)
		}
	}
	return &Service{
		log:     log,
		sources: active,
		cache:   c,
		ttl:     CacheTTL,
	}
}

// Search never fails; upstream errors are logged and an empty result is
// returned.
func (s *Service) Search(ctx context.Context, query string, limit int) Response {
	query = strings.TrimSpace(query)
	if query == "" {
		return s.Trending(ctx, limit)
	}
	if !strings.Contains(query, "movie") {
		query += " movie"
	}
	limit = normalizeLimit(limit)

	key := fmt.Sprintf("gifs_%s_%d", strings.ToLower(query), limit)
	return s.lookup(ctx, "service.gif.Search", key, func(src Source) (Response, error) {
		return src.Search(ctx, query, limit)
	})
}

func (s *Service) Trending(ctx context.Context, limit int) Response {
	limit = normalizeLimit(limit)
	key := fmt.Sprintf("gifs_trending_%d", limit)
	return s.lookup(ctx, "service.gif.Trending", key, func(src Source) (Response, error) {
		return src.Trending(ctx, limit)
	})
}

// MovieReaction searches for an emotion in a randomly chosen film context.
func (s *Service) MovieReaction(ctx context.Context, emotion string, limit int) Response {
	c := movieContexts[rand.IntN(len(movieContexts))]
	return s.Search(ctx, strings.TrimSpace(emotion)+" "+c, limit)
}

func (s *Service) lookup(ctx context.Context, op, key string, fetch func(Source) (Response, error)) Response {
	log := s.log.With(slog.String("op", op), slog.String("key", key))

	var cached Response
	if ok, err := cache.GetJSON(ctx, s.cache, key, &cached); err != nil {
		log.Warn("cache read failed", sl.Err(err))
	} else if ok {
		log.Debug("serving cached gifs")
		return cached
	}

	for i, src := range s.sources {
		resp, err := fetch(src)
		if err != nil {
			log.Warn("gif source failed", slog.String("source", src.Name()), sl.Err(err))
			if i < len(s.sources)-1 {
				metrics.ProviderFallbacks.WithLabelValues(src.Name()).Inc()
			}
			continue
		}
		if resp.Gifs == nil {
			resp.Gifs = []Item{}
		}
		if err := cache.SetJSON(ctx, s.cache, key, resp, s.ttl); err != nil {
			log.Warn("cache write failed", sl.Err(err))
		}
		return resp
	}

	log.Error("all gif sources failed")
	return emptyResponse()
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	if limit > MaxLimit {
		return MaxLimit
	}
	return limit
}

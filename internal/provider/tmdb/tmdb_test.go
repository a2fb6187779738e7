package tmdb

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/immxrtalbeast/watchparty/internal/cache"
	"github.com/immxrtalbeast/watchparty/internal/domain"
	"github.com/immxrtalbeast/watchparty/lib/logger/handlers/slogdiscard"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTMDB(t *testing.T, handler http.HandlerFunc) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		handler(w, r)
	}))
	t.Cleanup(server.Close)
	return server, &hits
}

func TestGetDetails_FromUpstreamAndCached(t *testing.T) {
	server, hits := newTMDB(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/movie/550", r.URL.Path)
		assert.Equal(t, "secret", r.URL.Query().Get("api_key"))
		_, _ = w.Write([]byte(`{"id":550,"title":"Fight Club","runtime":139,"genres":[{"id":18,"name":"Drama"}]}`))
	})
	c := NewClient("secret", server.URL, cache.NewMemoryCache(), slogdiscard.NewDiscardLogger())

	details, err := c.GetDetails(context.Background(), "550")
	require.NoError(t, err)
	assert.Equal(t, "Fight Club", details.Title)
	assert.Equal(t, 139, details.Runtime)

	assert.Equal(t, "Fight Club", c.Title(context.Background(), "550"))
	assert.Equal(t, int32(1), hits.Load())
}

func TestGetDetails_UpstreamFailureFallsBack(t *testing.T) {
	server, _ := newTMDB(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	c := NewClient("secret", server.URL, cache.NewMemoryCache(), slogdiscard.NewDiscardLogger())

	details, err := c.GetDetails(context.Background(), "13")

	require.NoError(t, err)
	assert.Equal(t, 13, details.ID)
	assert.Equal(t, "Interstellar", details.Title)
}

func TestGetDetails_NoKeyUsesCatalog(t *testing.T) {
	c := NewClient("", "http://127.0.0.1:1", cache.NewMemoryCache(), slogdiscard.NewDiscardLogger())

	details, err := c.GetDetails(context.Background(), "1")

	require.NoError(t, err)
	assert.Equal(t, "Inception", details.Title)
}

func TestGetDetails_InvalidID(t *testing.T) {
	c := NewClient("", "", cache.NewMemoryCache(), slogdiscard.NewDiscardLogger())

	_, err := c.GetDetails(context.Background(), "abc")

	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
	assert.Empty(t, c.Title(context.Background(), "abc"))
}

func TestSearch(t *testing.T) {
	server, hits := newTMDB(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/search/movie", r.URL.Path)
		assert.Equal(t, "matrix", r.URL.Query().Get("query"))
		assert.Equal(t, "2", r.URL.Query().Get("page"))
		_, _ = w.Write([]byte(`{"page":2,"results":[{"id":603,"title":"The Matrix"}],"total_pages":3,"total_results":41}`))
	})
	c := NewClient("secret", server.URL, cache.NewMemoryCache(), slogdiscard.NewDiscardLogger())

	resp, err := c.Search(context.Background(), "matrix", 2)

	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, 603, resp.Results[0].ID)
	assert.Equal(t, 41, resp.TotalResults)

	again, err := c.Search(context.Background(), "Matrix", 2)
	require.NoError(t, err)
	assert.Equal(t, resp, again)
	assert.Equal(t, int32(1), hits.Load())
}

func TestSearch_FallbackFiltersCatalog(t *testing.T) {
	server, _ := newTMDB(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{broken`))
	})
	c := NewClient("secret", server.URL, cache.NewMemoryCache(), slogdiscard.NewDiscardLogger())

	resp, err := c.Search(context.Background(), "dark", 1)

	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "The Dark Knight", resp.Results[0].Title)

	_, err = c.Search(context.Background(), "  ", 1)
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestRelated_FromUpstreamAndCached(t *testing.T) {
	server, hits := newTMDB(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "secret", r.URL.Query().Get("api_key"))
		assert.Equal(t, "3", r.URL.Query().Get("page"))
		switch r.URL.Path {
		case "/movie/550/similar":
			_, _ = w.Write([]byte(`{"page":3,"results":[{"id":807,"title":"Se7en"}],"total_pages":4,"total_results":80}`))
		case "/movie/550/recommendations":
			_, _ = w.Write([]byte(`{"page":3,"results":[{"id":680,"title":"Pulp Fiction"}],"total_pages":2,"total_results":40}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
	c := NewClient("secret", server.URL, cache.NewMemoryCache(), slogdiscard.NewDiscardLogger())
	ctx := context.Background()

	similar, err := c.GetSimilar(ctx, "550", 3)
	require.NoError(t, err)
	require.Len(t, similar.Results, 1)
	assert.Equal(t, "Se7en", similar.Results[0].Title)

	recommended, err := c.GetRecommendations(ctx, "550", 3)
	require.NoError(t, err)
	require.Len(t, recommended.Results, 1)
	assert.Equal(t, "Pulp Fiction", recommended.Results[0].Title)

	_, err = c.GetSimilar(ctx, "550", 3)
	require.NoError(t, err)
	assert.Equal(t, int32(2), hits.Load())
}

func TestRelated_FallsBackToCatalog(t *testing.T) {
	server, hits := newTMDB(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	c := NewClient("secret", server.URL, cache.NewMemoryCache(), slogdiscard.NewDiscardLogger())
	ctx := context.Background()

	similar, err := c.GetSimilar(ctx, "1", 1)
	require.NoError(t, err)
	require.Len(t, similar.Results, len(catalogTitles)-1)
	for _, m := range similar.Results {
		assert.NotEqual(t, "Inception", m.Title)
		assert.Greater(t, m.ID, 100)
	}

	_, err = c.GetRecommendations(ctx, "1", 1)
	require.NoError(t, err)
	_, err = c.GetSimilar(ctx, "1", 1)
	require.NoError(t, err)
	assert.Equal(t, int32(3), hits.Load())

	_, err = c.GetRecommendations(ctx, "x1", 1)
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestRelated_NoKeyUsesCatalog(t *testing.T) {
	c := NewClient("", "http://127.0.0.1:1", cache.NewMemoryCache(), slogdiscard.NewDiscardLogger())

	resp, err := c.GetRecommendations(context.Background(), "2", 1)

	require.NoError(t, err)
	assert.Len(t, resp.Results, len(catalogTitles)-1)
	assert.Equal(t, len(resp.Results), resp.TotalResults)
}

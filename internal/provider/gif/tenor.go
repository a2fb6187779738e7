package gif

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/immxrtalbeast/watchparty/internal/domain"
)

const DefaultTenorURL = "https://tenor.googleapis.com/v2"

type TenorClient struct {
	apiKey    string
	clientKey string
	baseURL   string
	http      *http.Client
}

func NewTenorClient(apiKey, clientKey, baseURL string) *TenorClient {
	if baseURL == "" {
		baseURL = DefaultTenorURL
	}
	return &TenorClient{
		apiKey:    apiKey,
		clientKey: clientKey,
		baseURL:   baseURL,
		http: &http.Client{
			Timeout: 5 * time.Second,
		},
	}
}

type tenorMedia struct {
	URL  string `json:"url"`
	Dims []int  `json:"dims"`
}

type tenorResponse struct {
	Results []struct {
		ID           string                `json:"id"`
		Title        string                `json:"title"`
		MediaFormats map[string]tenorMedia `json:"media_formats"`
	} `json:"results"`
	Next string `json:"next"`
}

func (c *TenorClient) Name() string { return "tenor" }

func (c *TenorClient) Search(ctx context.Context, query string, limit int) (Response, error) {
	val := url.Values{}
	val.Set("q", query)
	return c.get(ctx, "/search", val, limit, "Reaction GIF")
}

func (c *TenorClient) Trending(ctx context.Context, limit int) (Response, error) {
	return c.get(ctx, "/featured", url.Values{}, limit, "Trending GIF")
}

func (c *TenorClient) get(ctx context.Context, path string, val url.Values, limit int, defaultTitle string) (Response, error) {
	val.Set("key", c.apiKey)
	if c.clientKey != "" {
		val.Set("client_key", c.clientKey)
	}
	val.Set("limit", strconv.Itoa(limit))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+val.Encode(), nil)
	if err != nil {
		return Response{}, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return Response{}, fmt.Errorf("%w: tenor: %v", domain.ErrUpstreamFetch, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Response{}, fmt.Errorf("%w: tenor status %d", domain.ErrUpstreamFetch, resp.StatusCode)
	}

	var body tenorResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return Response{}, fmt.Errorf("%w: tenor: %v", domain.ErrUpstreamFetch, err)
	}

	out := Response{Gifs: make([]Item, 0, len(body.Results)), Next: body.Next}
	for _, r := range body.Results {
		gif := r.MediaFormats["gif"]
		item := Item{
			ID:         r.ID,
			Title:      r.Title,
			URL:        firstNonEmpty(gif.URL, r.MediaFormats["mediumgif"].URL),
			PreviewURL: firstNonEmpty(r.MediaFormats["tinygif"].URL, r.MediaFormats["nanogif"].URL),
			Width:      300,
			Height:     200,
		}
		if item.Title == "" {
			item.Title = defaultTitle
		}
		if len(gif.Dims) == 2 && gif.Dims[0] > 0 && gif.Dims[1] > 0 {
			item.Width, item.Height = gif.Dims[0], gif.Dims[1]
		}
		out.Gifs = append(out.Gifs, item)
	}
	return out, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

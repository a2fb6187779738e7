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

const DefaultGiphyURL = "https://api.giphy.com/v1/gifs"

type GiphyClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
}

func NewGiphyClient(apiKey, baseURL string) *GiphyClient {
	if baseURL == "" {
		baseURL = DefaultGiphyURL
	}
	return &GiphyClient{
		apiKey:  apiKey,
		baseURL: baseURL,
		http: &http.Client{
			Timeout: 5 * time.Second,
		},
	}
}

type giphyImage struct {
	URL    string `json:"url"`
	Width  string `json:"width"`
	Height string `json:"height"`
}

type giphyResponse struct {
	Data []struct {
		ID     string `json:"id"`
		Title  string `json:"title"`
		Images struct {
			FixedHeight            giphyImage `json:"fixed_height"`
			Original               giphyImage `json:"original"`
			FixedHeightSmall       giphyImage `json:"fixed_height_small"`
			FixedHeightDownsampled giphyImage `json:"fixed_height_downsampled"`
		} `json:"images"`
	} `json:"data"`
	Pagination struct {
		TotalCount int `json:"total_count"`
	} `json:"pagination"`
}

func (c *GiphyClient) Name() string { return "giphy" }

func (c *GiphyClient) Search(ctx context.Context, query string, limit int) (Response, error) {
	val := url.Values{}
	val.Set("q", query)
	return c.get(ctx, "/search", val, limit, "Reaction GIF")
}

func (c *GiphyClient) Trending(ctx context.Context, limit int) (Response, error) {
	return c.get(ctx, "/trending", url.Values{}, limit, "Trending GIF")
}

func (c *GiphyClient) get(ctx context.Context, path string, val url.Values, limit int, defaultTitle string) (Response, error) {
	val.Set("api_key", c.apiKey)
	val.Set("limit", strconv.Itoa(limit))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+val.Encode(), nil)
	if err != nil {
		return Response{}, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return Response{}, fmt.Errorf("%w: giphy: %v", domain.ErrUpstreamFetch, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Response{}, fmt.Errorf("%w: giphy status %d", domain.ErrUpstreamFetch, resp.StatusCode)
	}

	var body giphyResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return Response{}, fmt.Errorf("%w: giphy: %v", domain.ErrUpstreamFetch, err)
	}

	out := Response{Gifs: make([]Item, 0, len(body.Data))}
	if body.Pagination.TotalCount > limit {
		out.Next = "more"
	}
	for _, d := range body.Data {
		img := d.Images
		item := Item{
			ID:         d.ID,
			Title:      d.Title,
			URL:        firstNonEmpty(img.FixedHeight.URL, img.Original.URL),
			PreviewURL: firstNonEmpty(img.FixedHeightSmall.URL, img.FixedHeightDownsampled.URL),
			Width:      atoiOr(img.FixedHeight.Width, 300),
			Height:     atoiOr(img.FixedHeight.Height, 200),
		}
		if item.Title == "" {
			item.Title = defaultTitle
		}
		out.Gifs = append(out.Gifs, item)
	}
	return out, nil
}

func atoiOr(s string, def int) int {
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

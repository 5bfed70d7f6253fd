package imagefix

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"time"

	"github.com/pkg/errors"
)

// SearchClient finds a replacement image URL for a keyword query.
type SearchClient interface {
	Search(ctx context.Context, query string) (string, error)
}

// httpSearchClient queries the external image-search provider: a GET with
// the keyword query returning a JSON list of candidate URLs. The first valid
// URL wins.
type httpSearchClient struct {
	endpoint string
	apiKey   string
	client   *http.Client
}

func NewSearchClient(endpoint, apiKey string, timeout time.Duration) SearchClient {
	return &httpSearchClient{
		endpoint: endpoint,
		apiKey:   apiKey,
		client:   &http.Client{Timeout: timeout},
	}
}

type searchResponse struct {
	Images []struct {
		URL string `json:"url"`
	} `json:"images"`
}

func (c *httpSearchClient) Search(ctx context.Context, query string) (string, error) {
	u, err := url.Parse(c.endpoint)
	if err != nil {
		return "", errors.Wrapf(err, "invalid search endpoint %s", c.endpoint)
	}
	q := u.Query()
	q.Set("q", query)
	if c.apiKey != "" {
		q.Set("key", c.apiKey)
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", errors.Wrap(err, "build search request")
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return "", errors.Wrap(err, "image search request failed")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", errors.Errorf("image search returned status %d", resp.StatusCode)
	}

	var decoded searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", errors.Wrap(err, "decode search response")
	}
	for _, hit := range decoded.Images {
		if hit.URL == "" {
			continue
		}
		if parsed, err := url.Parse(hit.URL); err == nil && (parsed.Scheme == "http" || parsed.Scheme == "https") {
			return hit.URL, nil
		}
	}
	return "", errors.New("image search returned no usable result")
}

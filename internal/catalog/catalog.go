package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ErrMalformedCatalog is returned when the listing response is not the
// expected shape (missing or non-array images field, non-string entries).
var ErrMalformedCatalog = errors.New("malformed catalog response")

// ImageRecord describes one remote catalog entry.
type ImageRecord struct {
	Filename     string
	DownloadLink string
}

// Credentials is an optional basic-auth pair attached to every request.
type Credentials struct {
	User     string
	Password string
}

// Client provides access to the remote image catalog
type Client interface {
	// Fetch returns one fresh snapshot of the remote catalog.
	Fetch(ctx context.Context) ([]ImageRecord, error)
	// Download opens the content of a catalog entry for reading.
	// The caller must close the returned reader.
	Download(ctx context.Context, rec ImageRecord) (io.ReadCloser, error)
}

// HTTPClient implements Client against the server's HTTP listing endpoint
type HTTPClient struct {
	endpoint string
	creds    *Credentials
	client   *http.Client
}

// NewHTTPClient creates a catalog client for the given base endpoint.
// creds may be nil for unauthenticated servers.
func NewHTTPClient(endpoint string, creds *Credentials, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		endpoint: strings.TrimRight(endpoint, "/"),
		creds:    creds,
		client:   &http.Client{Timeout: timeout},
	}
}

// Fetch retrieves the remote file list from {endpoint}/images and derives a
// download locator for every entry. Any transport or shape failure aborts
// the whole sync cycle; there are no retries.
func (c *HTTPClient) Fetch(ctx context.Context) ([]ImageRecord, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"/images", nil)
	if err != nil {
		return nil, fmt.Errorf("building catalog request: %w", err)
	}
	c.authorize(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching catalog: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("catalog request failed: %s", resp.Status)
	}

	var payload struct {
		Images json.RawMessage `json:"images"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedCatalog, err)
	}
	if payload.Images == nil {
		return nil, fmt.Errorf("%w: missing images field", ErrMalformedCatalog)
	}

	var filenames []string
	if err := json.Unmarshal(payload.Images, &filenames); err != nil {
		return nil, fmt.Errorf("%w: images is not an array of strings", ErrMalformedCatalog)
	}

	records := make([]ImageRecord, 0, len(filenames))
	for _, name := range filenames {
		records = append(records, ImageRecord{
			Filename:     name,
			DownloadLink: c.endpoint + "/images/" + url.PathEscape(name),
		})
	}
	return records, nil
}

// Download opens rec's content. Non-200 responses are reported as errors.
func (c *HTTPClient) Download(ctx context.Context, rec ImageRecord) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rec.DownloadLink, nil)
	if err != nil {
		return nil, fmt.Errorf("building download request for %s: %w", rec.Filename, err)
	}
	c.authorize(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("downloading %s: %w", rec.Filename, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("downloading %s: unexpected status %s", rec.Filename, resp.Status)
	}
	return resp.Body, nil
}

func (c *HTTPClient) authorize(req *http.Request) {
	if c.creds != nil {
		req.SetBasicAuth(c.creds.User, c.creds.Password)
	}
}

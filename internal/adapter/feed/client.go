// Package feed downloads source feeds over HTTP or reads them from disk, and
// keeps a copy of every raw download in a cache directory.
package feed

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/couchcryptid/covid-state-etl/internal/domain"
	"github.com/couchcryptid/covid-state-etl/internal/observability"
)

// maxPages bounds a paged download so a misbehaving server cannot loop forever.
const maxPages = 10000

// Client implements source.Fetcher and source.PagedFetcher.
type Client struct {
	httpClient *http.Client
	cacheDir   string
	logger     *slog.Logger
	metrics    *observability.Metrics
}

// NewClient creates a feed client. An empty cacheDir disables raw caching.
func NewClient(timeout time.Duration, cacheDir string, logger *slog.Logger, metrics *observability.Metrics) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: timeout,
		},
		cacheDir: cacheDir,
		logger:   logger,
		metrics:  metrics,
	}
}

// Fetch returns the bytes at location, which is either an http(s) URL or a
// local file path.
func (c *Client) Fetch(ctx context.Context, name, location string) ([]byte, error) {
	if !isRemote(location) {
		data, err := os.ReadFile(location)
		if err != nil {
			return nil, fmt.Errorf("read %s feed: %w", name, err)
		}
		return data, nil
	}

	start := time.Now()
	data, err := c.doRequest(ctx, location, name)
	c.metrics.FetchDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, err
	}
	c.cacheRaw(name+path.Ext(pathOf(location)), data)
	return data, nil
}

// FetchPages downloads a Socrata CSV resource page by page using $limit and
// $offset until a page comes back with fewer than pageSize rows. Local files
// are returned as a single page.
func (c *Client) FetchPages(ctx context.Context, name, location string, pageSize int) ([][]byte, error) {
	if !isRemote(location) {
		data, err := c.Fetch(ctx, name, location)
		if err != nil {
			return nil, err
		}
		return [][]byte{data}, nil
	}

	base, err := url.Parse(location)
	if err != nil {
		return nil, fmt.Errorf("parse %s url: %w", name, err)
	}

	start := time.Now()
	defer func() {
		c.metrics.FetchDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
	}()

	var pages [][]byte
	offset := 0
	for page := 0; page < maxPages; page++ {
		u := *base
		q := u.Query()
		q.Set("$limit", strconv.Itoa(pageSize))
		q.Set("$offset", strconv.Itoa(offset))
		q.Set("$order", ":id")
		u.RawQuery = q.Encode()

		data, err := c.doRequest(ctx, u.String(), name)
		if err != nil {
			return nil, fmt.Errorf("page %d (offset %d): %w", page, offset, err)
		}

		rows, err := countRows(data)
		if err != nil {
			return nil, fmt.Errorf("%s page %d: %w", name, page, err)
		}
		c.logger.Debug("fetched page", "source", name, "page", page, "offset", offset, "rows", rows)

		if rows > 0 || page == 0 {
			pages = append(pages, data)
			c.cacheRaw(fmt.Sprintf("%s-%04d.csv", name, page), data)
		}
		if rows < pageSize {
			return pages, nil
		}
		offset += rows
	}
	return nil, fmt.Errorf("%s: exceeded %d pages", name, maxPages)
}

func (c *Client) doRequest(ctx context.Context, fullURL, source string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s request: %w: %w", source, domain.ErrNetworkFailure, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%s request: %w: status %d: %s", source, domain.ErrNetworkFailure, resp.StatusCode, bytes.TrimSpace(body))
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s read body: %w: %w", source, domain.ErrNetworkFailure, err)
	}
	return data, nil
}

// cacheRaw writes a raw download into the cache directory. Failures are logged
// only; the cache is never read back during a refresh.
func (c *Client) cacheRaw(file string, data []byte) {
	if c.cacheDir == "" {
		return
	}
	if err := os.MkdirAll(c.cacheDir, 0o755); err != nil {
		c.logger.Warn("raw cache unavailable", "dir", c.cacheDir, "error", err)
		return
	}
	dst := filepath.Join(c.cacheDir, file)
	tmp := dst + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		c.logger.Warn("raw cache write failed", "file", dst, "error", err)
		return
	}
	if err := os.Rename(tmp, dst); err != nil {
		c.logger.Warn("raw cache rename failed", "file", dst, "error", err)
	}
}

func isRemote(location string) bool {
	return strings.HasPrefix(location, "http://") || strings.HasPrefix(location, "https://")
}

func pathOf(location string) string {
	u, err := url.Parse(location)
	if err != nil {
		return location
	}
	return u.Path
}

// countRows returns the number of CSV records after the header.
func countRows(data []byte) (int, error) {
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	n := 0
	for {
		_, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return 0, fmt.Errorf("count rows: %w", err)
		}
		n++
	}
	if n == 0 {
		return 0, nil
	}
	return n - 1, nil
}

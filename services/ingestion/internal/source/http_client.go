package source

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"jobwatch/common/cache"
	"jobwatch/common/telemetry"
	"jobwatch/services/ingestion/internal/errors"
	"jobwatch/services/ingestion/internal/models"
	"jobwatch/services/ingestion/internal/proxy"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

var tracer = telemetry.GetTracer("jobwatch/ingestion/source")

// HTTPClient talks to a scrape service that runs the multi-site search and
// answers with JSON.
type HTTPClient struct {
	url      string
	viaProxy bool
	clients  *clientPool
	limiter  *rate.Limiter
	cache    cache.Cache
	cacheTTL time.Duration
	logger   *zap.Logger
}

type HTTPClientOptions struct {
	URL     string
	Timeout time.Duration
	// RPS bounds requests per second to the service; <= 0 disables limiting.
	RPS float64
	// ViaProxy routes the request itself through the query's proxy. The
	// proxy is always forwarded in the request body.
	ViaProxy bool
	Cache    cache.Cache
	CacheTTL time.Duration
}

func NewHTTPClient(logger *zap.Logger, opts HTTPClientOptions) *HTTPClient {
	limit := rate.Inf
	if opts.RPS > 0 {
		limit = rate.Limit(opts.RPS)
	}
	return &HTTPClient{
		url:      strings.TrimRight(opts.URL, "/"),
		viaProxy: opts.ViaProxy,
		clients:  newClientPool(opts.Timeout),
		limiter:  rate.NewLimiter(limit, 1),
		cache:    opts.Cache,
		cacheTTL: opts.CacheTTL,
		logger:   logger,
	}
}

// CloseIdleConnections releases pooled connections to the service and proxies.
func (c *HTTPClient) CloseIdleConnections() {
	c.clients.CloseIdleConnections()
}

type scrapeRequest struct {
	Query
	Proxies   []string `json:"proxies,omitempty"`
	ProxyType string   `json:"proxy_type,omitempty"`
}

type scrapeResponse struct {
	Count int              `json:"count"`
	Jobs  []map[string]any `json:"jobs"`
}

func (c *HTTPClient) Fetch(ctx context.Context, q Query) ([]models.Listing, error) {
	ctx, span := tracer.Start(ctx, "HTTPClient.Fetch")
	defer span.End()
	span.SetAttributes(
		telemetry.String("search.term", q.SearchTerm),
		telemetry.String("proxy.address", q.Proxy.Address),
	)

	body := scrapeRequest{Query: q}
	if q.Proxy.Address != "" {
		body.Proxies = []string{q.Proxy.Address}
		body.ProxyType = string(q.Proxy.Protocol)
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, errors.Internal("encoding scrape request", err)
	}

	cacheKey := cache.Key("fetch", digest(payload))
	if c.cache != nil && c.cacheTTL > 0 {
		var cached models.Listings
		err := cache.Load(ctx, c.cache, cacheKey, &cached)
		switch {
		case err == nil:
			span.SetAttributes(telemetry.String("cache.result", "hit"))
			c.logger.Debug("cache hit for search", zap.String("search_term", q.SearchTerm))
			return cached, nil
		case !errors.Is(err, cache.ErrNotFound):
			span.SetAttributes(telemetry.String("cache.result", "error"))
			c.logger.Warn("cache error for search", zap.Error(err))
		default:
			span.SetAttributes(telemetry.String("cache.result", "miss"))
		}
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, errors.Fetch("waiting for rate limiter", err)
	}

	var ep proxy.Endpoint
	if c.viaProxy {
		ep = q.Proxy
	}
	client, err := c.clients.get(ep)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return nil, errors.Internal("creating request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, errors.Fetch("executing scrape request", err)
	}
	defer func() {
		// Drain what the decoder left so the connection can be reused.
		if _, derr := io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10)); derr != nil {
			c.logger.Debug("failed to drain response body", zap.Error(derr))
		}
		if cerr := resp.Body.Close(); cerr != nil {
			c.logger.Warn("failed to close response body", zap.Error(cerr))
		}
	}()

	span.SetAttributes(telemetry.Int("http.status_code", resp.StatusCode))
	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		err := errors.Fetch(fmt.Sprintf("unexpected status code %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet))), nil)
		telemetry.RecordError(span, err)
		return nil, err
	}

	var result scrapeResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		telemetry.RecordError(span, err)
		return nil, errors.Fetch("decoding scrape response", err)
	}

	listings := make(models.Listings, 0, len(result.Jobs))
	for _, job := range result.Jobs {
		l := listingFromJob(job)
		l.SearchTerm = q.SearchTerm
		listings = append(listings, l)
	}

	c.logger.Debug("fetched listings",
		zap.String("search_term", q.SearchTerm),
		zap.Int("count", len(listings)))
	span.SetAttributes(telemetry.Int("listings.count", len(listings)))

	if c.cache != nil && c.cacheTTL > 0 {
		if err := cache.Store(ctx, c.cache, cacheKey, listings, c.cacheTTL); err != nil {
			c.logger.Warn("failed to cache search results", zap.Error(err))
		}
	}

	return listings, nil
}

var knownJobKeys = map[string]bool{
	"title": true, "company": true, "location": true, "date_posted": true,
	"job_url": true, "job_type": true, "is_remote": true, "site": true,
}

// listingFromJob maps one scrape result row. Unknown columns are kept as
// strings in Extra.
func listingFromJob(job map[string]any) models.Listing {
	l := models.Listing{
		Title:      stringField(job["title"]),
		Company:    stringField(job["company"]),
		Location:   stringField(job["location"]),
		DatePosted: stringField(job["date_posted"]),
		JobURL:     stringField(job["job_url"]),
		JobType:    stringField(job["job_type"]),
		IsRemote:   boolField(job["is_remote"]),
		Site:       stringField(job["site"]),
	}

	for k, v := range job {
		if knownJobKeys[k] || v == nil {
			continue
		}
		if l.Extra == nil {
			l.Extra = make(map[string]string)
		}
		l.Extra[k] = stringField(v)
	}
	return l
}

func stringField(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(b)
	}
}

func boolField(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		b, _ := strconv.ParseBool(t)
		return b
	case float64:
		return t != 0
	}
	return false
}

func digest(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

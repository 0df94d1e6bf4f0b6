package source

import (
	"context"
	"net/url"
	"strings"
	"time"

	"jobwatch/common/telemetry"
	"jobwatch/services/ingestion/internal/errors"
	"jobwatch/services/ingestion/internal/models"

	"github.com/mmcdole/gofeed"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// FeedClient turns RSS/Atom job boards into listings. Each template may
// contain {term} and {location}, which are replaced query-escaped.
type FeedClient struct {
	templates []string
	clients   *clientPool
	limiter   *rate.Limiter
	logger    *zap.Logger
	now       func() time.Time
}

func NewFeedClient(logger *zap.Logger, templates []string, timeout time.Duration, rps float64) *FeedClient {
	limit := rate.Inf
	if rps > 0 {
		limit = rate.Limit(rps)
	}
	return &FeedClient{
		templates: templates,
		clients:   newClientPool(timeout),
		limiter:   rate.NewLimiter(limit, 1),
		logger:    logger,
		now:       time.Now,
	}
}

func (c *FeedClient) CloseIdleConnections() {
	c.clients.CloseIdleConnections()
}

func (c *FeedClient) Fetch(ctx context.Context, q Query) ([]models.Listing, error) {
	ctx, span := tracer.Start(ctx, "FeedClient.Fetch")
	defer span.End()
	span.SetAttributes(telemetry.String("search.term", q.SearchTerm))

	client, err := c.clients.get(q.Proxy)
	if err != nil {
		return nil, err
	}

	parser := gofeed.NewParser()
	parser.Client = client

	var (
		out  []models.Listing
		errs error
		ok   int
	)
	for _, tmpl := range c.templates {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, errors.Fetch("waiting for rate limiter", err)
		}

		feedURL := expandTemplate(tmpl, q)
		feed, err := parser.ParseURLWithContext(feedURL, ctx)
		if err != nil {
			c.logger.Warn("failed to read feed", zap.String("url", feedURL), zap.Error(err))
			errs = multierr.Append(errs, err)
			continue
		}
		ok++
		out = append(out, c.listingsFromFeed(feed, q)...)
	}

	if ok == 0 && len(c.templates) > 0 {
		telemetry.RecordError(span, errs)
		return nil, errors.Fetch("reading feeds", errs)
	}

	if q.ResultsWanted > 0 && len(out) > q.ResultsWanted {
		out = out[:q.ResultsWanted]
	}
	span.SetAttributes(telemetry.Int("listings.count", len(out)))
	return out, nil
}

func (c *FeedClient) listingsFromFeed(feed *gofeed.Feed, q Query) []models.Listing {
	var cutoff time.Time
	if q.HoursOld > 0 {
		cutoff = c.now().Add(-time.Duration(q.HoursOld) * time.Hour)
	}

	out := make([]models.Listing, 0, len(feed.Items))
	for _, item := range feed.Items {
		published := item.PublishedParsed
		if published == nil {
			published = item.UpdatedParsed
		}
		if published != nil && !cutoff.IsZero() && published.Before(cutoff) {
			continue
		}

		l := models.Listing{
			Title:      strings.TrimSpace(item.Title),
			Company:    feed.Title,
			Location:   q.Location,
			JobURL:     item.Link,
			Site:       feedSite(feed),
			SearchTerm: q.SearchTerm,
		}
		if len(item.Authors) > 0 && item.Authors[0].Name != "" {
			l.Company = item.Authors[0].Name
		}
		if published != nil {
			l.DatePosted = published.Format("2006-01-02")
		}
		if item.GUID != "" {
			l.Extra = map[string]string{"guid": item.GUID}
		}
		out = append(out, l)
	}
	return out
}

func feedSite(feed *gofeed.Feed) string {
	if u, err := url.Parse(feed.Link); err == nil && u.Host != "" {
		return u.Host
	}
	return feed.Title
}

func expandTemplate(tmpl string, q Query) string {
	r := strings.NewReplacer(
		"{term}", url.QueryEscape(q.SearchTerm),
		"{location}", url.QueryEscape(q.Location),
	)
	return r.Replace(tmpl)
}

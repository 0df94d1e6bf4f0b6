package source

import (
	"context"

	"jobwatch/services/ingestion/internal/errors"
	"jobwatch/services/ingestion/internal/models"
	"jobwatch/services/ingestion/internal/proxy"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Query is everything a source needs to run one search.
type Query struct {
	Sites         []string       `json:"site_name"`
	SearchTerm    string         `json:"search_term"`
	Location      string         `json:"location"`
	ResultsWanted int            `json:"results_wanted"`
	HoursOld      int            `json:"hours_old"`
	Country       string         `json:"country_indeed"`
	Proxy         proxy.Endpoint `json:"-"`
}

// Fetcher is the external listing fetch capability.
type Fetcher interface {
	Fetch(ctx context.Context, q Query) ([]models.Listing, error)
}

// Multi queries several fetchers concurrently and concatenates their results
// in fetcher order. It fails only when every fetcher fails.
type Multi struct {
	fetchers []Fetcher
	logger   *zap.Logger
}

func NewMulti(logger *zap.Logger, fetchers ...Fetcher) *Multi {
	return &Multi{fetchers: fetchers, logger: logger}
}

// IdleCloser is implemented by fetchers that pool connections.
type IdleCloser interface {
	CloseIdleConnections()
}

func (m *Multi) CloseIdleConnections() {
	for _, f := range m.fetchers {
		if c, ok := f.(IdleCloser); ok {
			c.CloseIdleConnections()
		}
	}
}

func (m *Multi) Fetch(ctx context.Context, q Query) ([]models.Listing, error) {
	if len(m.fetchers) == 0 {
		return nil, errors.Config("no listing sources configured", nil)
	}

	results := make([][]models.Listing, len(m.fetchers))
	errs := make([]error, len(m.fetchers))

	var g errgroup.Group
	for i, f := range m.fetchers {
		g.Go(func() error {
			listings, err := f.Fetch(ctx, q)
			if err != nil {
				m.logger.Warn("listing source failed",
					zap.Int("source", i),
					zap.String("search_term", q.SearchTerm),
					zap.Error(err))
				errs[i] = err
				return nil
			}
			results[i] = listings
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, errors.Internal("joining listing sources", err)
	}

	var out []models.Listing
	ok := 0
	for i := range m.fetchers {
		if errs[i] != nil {
			continue
		}
		ok++
		out = append(out, results[i]...)
	}
	if ok == 0 {
		return nil, errors.Fetch("all listing sources failed", multierr.Combine(errs...))
	}
	return out, nil
}

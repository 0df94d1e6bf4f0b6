package fetch

import (
	"context"
	"fmt"
	"time"

	"jobwatch/common/telemetry"
	"jobwatch/services/ingestion/internal/errors"
	"jobwatch/services/ingestion/internal/models"
	"jobwatch/services/ingestion/internal/proxy"
	"jobwatch/services/ingestion/internal/source"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

var tracer = telemetry.GetTracer("jobwatch/ingestion/fetch")

type Options struct {
	MaxAttempts   int
	Cooldown      time.Duration
	Sites         []string
	ResultsWanted int
	HoursOld      int
	Country       string
}

func DefaultOptions() Options {
	return Options{
		MaxAttempts:   5,
		Cooldown:      60 * time.Second,
		Sites:         []string{"indeed", "linkedin", "zip_recruiter", "glassdoor"},
		ResultsWanted: 100,
		HoursOld:      72,
		Country:       "USA",
	}
}

// Retrier runs one search against the fetch capability, retrying on the
// same proxy with a fixed cooldown between failed attempts.
type Retrier struct {
	source source.Fetcher
	opts   Options
	logger *zap.Logger
}

func NewRetrier(logger *zap.Logger, src source.Fetcher, opts Options) *Retrier {
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}
	return &Retrier{source: src, opts: opts, logger: logger}
}

func (r *Retrier) query(spec models.SearchSpec, ep proxy.Endpoint) source.Query {
	return source.Query{
		Sites:         r.opts.Sites,
		SearchTerm:    spec.SearchTerm,
		Location:      spec.Location,
		ResultsWanted: r.opts.ResultsWanted,
		HoursOld:      r.opts.HoursOld,
		Country:       r.opts.Country,
		Proxy:         ep,
	}
}

// Fetch returns the listings for spec or a FETCH error once every attempt
// has failed. Cancelling ctx during a cooldown aborts the wait.
func (r *Retrier) Fetch(ctx context.Context, spec models.SearchSpec, ep proxy.Endpoint) ([]models.Listing, error) {
	ctx, span := tracer.Start(ctx, "Retrier.Fetch")
	defer span.End()
	span.SetAttributes(
		telemetry.String("search.term", spec.SearchTerm),
		telemetry.String("proxy.address", ep.Address),
	)

	q := r.query(spec, ep)
	attempts := 0

	op := func() ([]models.Listing, error) {
		attempts++
		listings, err := r.source.Fetch(ctx, q)
		if err != nil {
			if ctx.Err() != nil {
				return nil, backoff.Permanent(err)
			}
			return nil, err
		}
		return listings, nil
	}

	notify := func(err error, wait time.Duration) {
		r.logger.Warn("fetch attempt failed",
			zap.String("search_term", spec.SearchTerm),
			zap.String("proxy", ep.String()),
			zap.Int("attempt", attempts),
			zap.Int("max_attempts", r.opts.MaxAttempts),
			zap.Duration("cooldown", wait),
			zap.Error(err))
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(r.opts.Cooldown), uint64(r.opts.MaxAttempts-1)),
		ctx,
	)

	listings, err := backoff.RetryNotifyWithData(op, policy, notify)
	span.SetAttributes(telemetry.Int("fetch.attempts", attempts))
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && err != ctxErr {
			err = fmt.Errorf("%w (last cause: %v)", ctxErr, err)
		}
		ferr := errors.Fetch(fmt.Sprintf("fetching %q via %s failed after %d attempt(s)", spec.SearchTerm, ep.Address, attempts), err)
		telemetry.RecordError(span, ferr)
		r.logger.Error("fetch gave up",
			zap.String("search_term", spec.SearchTerm),
			zap.String("proxy", ep.String()),
			zap.Int("attempts", attempts),
			zap.Error(err))
		return nil, ferr
	}

	r.logger.Info("fetched listings",
		zap.String("search_term", spec.SearchTerm),
		zap.String("proxy", ep.String()),
		zap.Int("count", len(listings)),
		zap.Int("attempts", attempts))
	span.SetAttributes(telemetry.Int("listings.count", len(listings)))
	return listings, nil
}

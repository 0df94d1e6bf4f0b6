package ingest

import (
	"context"
	"time"

	"jobwatch/common/telemetry"
	"jobwatch/services/ingestion/internal/config"
	"jobwatch/services/ingestion/internal/errors"
	"jobwatch/services/ingestion/internal/filter"
	"jobwatch/services/ingestion/internal/models"
	"jobwatch/services/ingestion/internal/notify"
	"jobwatch/services/ingestion/internal/proxy"

	"go.uber.org/zap"
)

var tracer = telemetry.GetTracer("jobwatch/ingestion/ingest")

// Fetcher fetches one term through one proxy, retrying internally.
type Fetcher interface {
	Fetch(ctx context.Context, spec models.SearchSpec, ep proxy.Endpoint) ([]models.Listing, error)
}

// Ledger records seen listings.
type Ledger interface {
	EnsureLoaded(ctx context.Context) error
	Merge(ctx context.Context, listings []models.Listing) ([]models.Listing, error)
}

// Cycle runs one pass over every configured search term.
type Cycle struct {
	fetcher  Fetcher
	ledger   Ledger
	notifier notify.Notifier
	logger   *zap.Logger
	now      func() time.Time
}

func NewCycle(logger *zap.Logger, fetcher Fetcher, ledger Ledger, notifier notify.Notifier) *Cycle {
	return &Cycle{
		fetcher:  fetcher,
		ledger:   ledger,
		notifier: notifier,
		logger:   logger,
		now:      time.Now,
	}
}

// Run processes the document's terms in order. A failure in one term is
// recorded in its result and never stops the others. The returned error is
// non-nil only when no term could start (bad document) or ctx was
// cancelled part way.
func (c *Cycle) Run(ctx context.Context, doc config.Document) ([]models.CycleResult, error) {
	ctx, span := tracer.Start(ctx, "Cycle.Run")
	defer span.End()

	doc = doc.Normalized()
	specs := doc.Specs()
	if len(specs) == 0 {
		err := errors.Config("no search terms configured", nil)
		telemetry.RecordError(span, err)
		return nil, err
	}
	rotator, err := proxy.NewRotator(doc.Proxies)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	if err := c.ledger.EnsureLoaded(ctx); err != nil {
		c.logger.Warn("ledger unavailable, new listings will not be notified this cycle", zap.Error(err))
	}

	rules := filter.NewRules(doc.FilterCompanies, doc.FilterWords)
	span.SetAttributes(
		telemetry.Int("cycle.terms", len(specs)),
		telemetry.Int("cycle.proxies", rotator.Len()),
	)
	c.logger.Info("starting ingestion cycle",
		zap.Int("terms", len(specs)),
		zap.Int("proxies", rotator.Len()))

	results := make([]models.CycleResult, 0, len(specs))
	for _, spec := range specs {
		if err := ctx.Err(); err != nil {
			c.logger.Warn("ingestion cycle interrupted", zap.Int("completed_terms", len(results)), zap.Error(err))
			return results, err
		}
		results = append(results, c.runTerm(ctx, spec, rotator.Next(), rules))
	}

	var failed, fresh int
	for _, r := range results {
		if r.Failed() {
			failed++
		}
		fresh += r.NewCount
	}
	span.SetAttributes(
		telemetry.Int("cycle.failed_terms", failed),
		telemetry.Int("cycle.new_listings", fresh),
	)
	c.logger.Info("ingestion cycle finished",
		zap.Int("terms", len(results)),
		zap.Int("failed_terms", failed),
		zap.Int("new_listings", fresh))
	return results, nil
}

func (c *Cycle) runTerm(ctx context.Context, spec models.SearchSpec, ep proxy.Endpoint, rules filter.Rules) (res models.CycleResult) {
	ctx, span := tracer.Start(ctx, "Cycle.Term")
	defer span.End()
	span.SetAttributes(
		telemetry.String("search.term", spec.SearchTerm),
		telemetry.String("proxy.address", ep.Address),
		telemetry.String("proxy.protocol", string(ep.Protocol)),
	)

	start := c.now()
	res = models.CycleResult{SearchTerm: spec.SearchTerm, Proxy: ep.String()}
	log := c.logger.With(zap.String("search_term", spec.SearchTerm), zap.String("proxy", ep.String()))
	defer func() {
		res.Duration = c.now().Sub(start)
		if res.Err != nil {
			telemetry.RecordError(span, res.Err)
		}
	}()

	log.Info("searching")
	listings, err := c.fetcher.Fetch(ctx, spec, ep)
	if err != nil {
		log.Error("fetch failed, skipping term", zap.Error(err))
		res.SetError(err)
		return res
	}
	res.FetchedCount = len(listings)

	kept, dropped := filter.Partition(listings, rules)
	res.FilteredCount = len(dropped)
	for _, d := range dropped {
		log.Debug("listing filtered",
			zap.String("title", d.Listing.Title),
			zap.String("company", d.Listing.Company),
			zap.String("reason", string(d.Reason)),
			zap.String("match", d.Match))
	}

	fresh, err := c.ledger.Merge(ctx, kept)
	if err != nil {
		log.Warn("ledger merge failed, not notifying", zap.Error(err))
		res.SetError(err)
		return res
	}
	res.NewCount = len(fresh)
	span.SetAttributes(
		telemetry.Int("listings.fetched", res.FetchedCount),
		telemetry.Int("listings.filtered", res.FilteredCount),
		telemetry.Int("listings.new", res.NewCount),
	)

	if len(fresh) == 0 {
		log.Info("no new listings", zap.Int("fetched", res.FetchedCount), zap.Int("filtered", res.FilteredCount))
		return res
	}

	if err := c.notifier.Notify(ctx, spec.SearchTerm, fresh); err != nil {
		// The ledger already holds these listings; they are not retried.
		log.Error("notification failed", zap.Int("new", len(fresh)), zap.Error(err))
		res.NotifyError = err.Error()
		telemetry.RecordError(span, err)
		return res
	}
	res.Notified = true
	log.Info("new listings notified",
		zap.Int("fetched", res.FetchedCount),
		zap.Int("filtered", res.FilteredCount),
		zap.Int("new", res.NewCount))
	return res
}

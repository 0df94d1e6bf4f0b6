package processor

import (
	"context"
	"time"

	"jobwatch/common/telemetry"
	"jobwatch/services/processing/internal/config"
	"jobwatch/services/processing/internal/errors"
	"jobwatch/services/processing/internal/parser"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type ListingArchiver struct {
	logger *zap.Logger
	store  ListingStore
	tracer trace.Tracer
	config *config.Config
	now    func() time.Time
}

func NewListingArchiver(logger *zap.Logger, store ListingStore, config *config.Config) *ListingArchiver {
	return &ListingArchiver{
		logger: logger,
		store:  store,
		tracer: telemetry.GetTracer("jobwatch/processing/processor"),
		config: config,
		now:    time.Now,
	}
}

// ArchiveListings stores every valid listing of one event. Inserts are split
// into BatchSize chunks and each chunk is retried up to MaxRetries times;
// malformed events fail immediately.
func (p *ListingArchiver) ArchiveListings(ctx context.Context, data []byte) (int, error) {
	ctx, span := p.tracer.Start(ctx, "ArchiveListings")
	defer span.End()

	rows, skipped, err := parser.ParseListingsFound(data, p.now())
	if err != nil {
		telemetry.RecordError(span, err)
		return 0, err
	}
	if skipped > 0 {
		p.logger.Warn("Skipped invalid listing records", zap.Int("skipped", skipped))
	}
	span.SetAttributes(telemetry.Int("listings", len(rows)))

	size := p.config.BatchSize
	if size <= 0 {
		size = len(rows)
	}

	stored := 0
	for start := 0; start < len(rows); start += size {
		end := min(start+size, len(rows))
		chunk := rows[start:end]

		policy := backoff.WithContext(
			backoff.WithMaxRetries(backoff.NewConstantBackOff(p.config.RetryDelay), uint64(max(p.config.MaxRetries, 0))),
			ctx,
		)
		err := backoff.RetryNotify(func() error {
			err := p.store.InsertListings(ctx, chunk)
			if errors.IsType(err, errors.ErrTypeInvalidInput) {
				return backoff.Permanent(err)
			}
			return err
		}, policy, func(err error, wait time.Duration) {
			p.logger.Warn("Listing insert failed, retrying",
				zap.Error(err),
				zap.Duration("wait", wait),
				zap.Int("rows", len(chunk)))
		})
		if err != nil {
			telemetry.RecordError(span, err)
			return stored, errors.Storage("archiving listings", err)
		}
		stored += len(chunk)
	}

	return stored, nil
}

package notify

import (
	"context"

	"jobwatch/services/ingestion/internal/errors"
	"jobwatch/services/ingestion/internal/models"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Notifier delivers the new listings found for one search term.
type Notifier interface {
	Notify(ctx context.Context, term string, listings []models.Listing) error
}

// Multi delivers to every notifier and reports all failures together.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, term string, listings []models.Listing) error {
	var errs error
	for _, n := range m {
		errs = multierr.Append(errs, n.Notify(ctx, term, listings))
	}
	if errs != nil {
		return errors.Notification("delivering notifications for "+term, errs)
	}
	return nil
}

// Log writes new listings to the logger. It is the fallback when no
// delivery channel is configured.
type Log struct {
	Logger *zap.Logger
}

func (n Log) Notify(ctx context.Context, term string, listings []models.Listing) error {
	n.Logger.Info("new listings",
		zap.String("search_term", term),
		zap.Int("count", len(listings)))
	for _, l := range listings {
		n.Logger.Info("new listing",
			zap.String("search_term", term),
			zap.String("title", l.Title),
			zap.String("company", l.Company),
			zap.String("job_url", l.JobURL))
	}
	return nil
}

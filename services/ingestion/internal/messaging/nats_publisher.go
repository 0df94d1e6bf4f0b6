package messaging

import (
	"context"
	"time"

	"jobwatch/common/events"
	"jobwatch/common/telemetry"
	"jobwatch/services/ingestion/internal/config"
	"jobwatch/services/ingestion/internal/errors"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

var tracer = telemetry.GetTracer("jobwatch/ingestion/messaging")

type Publisher interface {
	PublishListings(ctx context.Context, event events.ListingsFound) error
	Close()
}

// Conn is the subset of *nats.Conn the publisher needs.
type Conn interface {
	Publish(subject string, data []byte) error
	FlushWithContext(ctx context.Context) error
	Close()
}

type natsPublisher struct {
	conn   Conn
	logger *zap.Logger
}

func NewPublisher(logger *zap.Logger, config *config.Config) (Publisher, error) {
	opts := []nats.Option{
		nats.Name("jobwatch-ingestion"),
		nats.Timeout(config.NATSConnTimeout),
		nats.ReconnectWait(time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected", zap.String("url", c.ConnectedUrl()))
		}),
	}

	conn, err := nats.Connect(config.NATSURL, opts...)
	if err != nil {
		return nil, errors.Internal("connecting to NATS", err)
	}

	return NewPublisherWithConn(logger, conn), nil
}

func NewPublisherWithConn(logger *zap.Logger, conn Conn) Publisher {
	return &natsPublisher{
		conn:   conn,
		logger: logger,
	}
}

// PublishListings publishes the event and flushes so delivery to the server
// is confirmed before the ledger entry counts as notified.
func (p *natsPublisher) PublishListings(ctx context.Context, event events.ListingsFound) error {
	ctx, span := tracer.Start(ctx, "PublishListings")
	defer span.End()

	data, err := event.Encode()
	if err != nil {
		telemetry.RecordError(span, err)
		return errors.Internal("marshaling listings event", err)
	}

	span.SetAttributes(
		telemetry.String("nats.subject", events.ListingsFoundSubject),
		telemetry.Int("message.size", len(data)),
		telemetry.Int("listings.count", len(event.Listings)),
	)

	if err := p.conn.Publish(events.ListingsFoundSubject, data); err != nil {
		telemetry.RecordError(span, err)
		p.logger.Error("failed to publish listings",
			zap.String("search_term", event.SearchTerm),
			zap.Error(err))
		return errors.Notification("publishing to NATS", err)
	}

	flushCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := p.conn.FlushWithContext(flushCtx); err != nil {
		telemetry.RecordError(span, err)
		return errors.Notification("flushing NATS connection", err)
	}

	p.logger.Debug("published listings",
		zap.String("search_term", event.SearchTerm),
		zap.Int("count", len(event.Listings)),
		zap.String("subject", events.ListingsFoundSubject))
	return nil
}

func (p *natsPublisher) Close() {
	if p.conn != nil {
		p.conn.Close()
	}
}

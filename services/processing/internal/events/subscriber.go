package events

import (
	"context"
	"fmt"

	"jobwatch/common/events"
	"jobwatch/services/processing/internal/config"
	"jobwatch/services/processing/internal/errors"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Archiver interface {
	ArchiveListings(ctx context.Context, data []byte) (int, error)
}

type QueueSubscriber interface {
	QueueSubscribe(subject, queue string, cb nats.MsgHandler) (*nats.Subscription, error)
}

type Handler struct {
	logger   *zap.Logger
	nc       QueueSubscriber
	tracer   trace.Tracer
	archiver Archiver
	config   *config.Config
	sub      *nats.Subscription
}

func NewHandler(logger *zap.Logger, nc *nats.Conn, tracer trace.Tracer, archiver Archiver, cfg *config.Config) *Handler {
	return newHandler(logger, nc, tracer, archiver, cfg)
}

func newHandler(logger *zap.Logger, nc QueueSubscriber, tracer trace.Tracer, archiver Archiver, cfg *config.Config) *Handler {
	return &Handler{
		logger:   logger,
		nc:       nc,
		tracer:   tracer,
		archiver: archiver,
		config:   cfg,
	}
}

func (h *Handler) RegisterSubscriptions(lc fx.Lifecycle) error {
	sub, err := h.nc.QueueSubscribe(events.ListingsFoundSubject, events.ArchiveQueue, h.handleListingsFound)
	if err != nil {
		return fmt.Errorf("subscribe to %s: %w", events.ListingsFoundSubject, err)
	}

	h.sub = sub
	h.logger.Info("Registered NATS subscriptions", zap.String("subject", events.ListingsFoundSubject))

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return h.sub.Drain()
		},
	})

	return nil
}

func (h *Handler) handleListingsFound(msg *nats.Msg) {
	ctx := context.Background()
	if h.config.ProcessingTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.config.ProcessingTimeout)
		defer cancel()
	}
	ctx, span := h.tracer.Start(ctx, "handleListingsFound")
	defer span.End()

	stored, err := h.archiver.ArchiveListings(ctx, msg.Data)
	if err != nil {
		level := h.logger.Error
		if errors.IsType(err, errors.ErrTypeInvalidInput) {
			level = h.logger.Warn
		}
		level("Failed to archive listings",
			zap.Error(err),
			zap.String("subject", msg.Subject),
			zap.Int("stored", stored),
		)
		return
	}

	h.logger.Info("Archived listings",
		zap.String("subject", msg.Subject),
		zap.Int("stored", stored),
	)
}

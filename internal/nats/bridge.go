package nats

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/capitalize-ai/chatdesk/internal/model"
	"github.com/capitalize-ai/chatdesk/pkg/logger"
	"github.com/capitalize-ai/chatdesk/pkg/metrics"
)

// ChangePublisher publishes change events.
type ChangePublisher interface {
	PublishChange(ctx context.Context, ev *model.ChangeEvent) (uint64, error)
}

// Bridge forwards controller snapshots to JetStream as change events.
type Bridge struct {
	publisher ChangePublisher
	timeout   time.Duration
	logger    *logger.Logger
}

// NewBridge creates a bridge.
func NewBridge(publisher ChangePublisher, log *logger.Logger) *Bridge {
	return &Bridge{
		publisher: publisher,
		timeout:   5 * time.Second,
		logger:    log,
	}
}

// Run publishes every snapshot received on snapshots until the channel
// closes or ctx is done. Publish failures are logged and skipped.
func (b *Bridge) Run(ctx context.Context, snapshots <-chan model.Snapshot) {
	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-snapshots:
			if !ok {
				return
			}
			b.publish(ctx, snap)
		}
	}
}

func (b *Bridge) publish(ctx context.Context, snap model.Snapshot) {
	ev := snap.Event()

	pubCtx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	seq, err := b.publisher.PublishChange(pubCtx, &ev)
	if err != nil {
		metrics.NATSPublishedTotal.WithLabelValues("error").Inc()
		b.logger.Warn("failed to publish change event",
			zap.Uint64("revision", ev.Revision),
			zap.String("change", string(ev.Change)),
			zap.Error(err),
		)
		return
	}
	metrics.NATSPublishedTotal.WithLabelValues("ok").Inc()
	b.logger.Debug("change event published",
		zap.Uint64("revision", ev.Revision),
		zap.Uint64("sequence", seq),
	)
}

package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"miniurl/internal/models"
)

// broker is the subset of the redis client used by Publisher.
type broker interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// Publisher serializes link snapshots and publishes them on the status
// change channels. Publishing is strictly best-effort: every failure is
// logged and swallowed so a broker outage never surfaces into the
// state transition that triggered the event.
type Publisher struct {
	rdb      broker
	basePath string
	logger   *slog.Logger
}

// NewPublisher takes the public base path under which short codes are
// served, so event payloads carry full shortened URLs instead of bare
// codes.
func NewPublisher(rdb broker, basePath string, logger *slog.Logger) *Publisher {
	return &Publisher{
		rdb:      rdb,
		basePath: basePath,
		logger:   logger,
	}
}

func (p *Publisher) PublishCreated(ctx context.Context, link *models.Link) {
	p.publish(ctx, ChannelCreated, link)
}

func (p *Publisher) PublishApproved(ctx context.Context, link *models.Link) {
	p.publish(ctx, ChannelApproved, link)
}

func (p *Publisher) PublishRejected(ctx context.Context, link *models.Link) {
	p.publish(ctx, ChannelRejected, link)
}

func (p *Publisher) publish(ctx context.Context, channel string, link *models.Link) {
	receivers, err := p.serializeAndPublish(ctx, channel, link)
	if err != nil {
		p.logger.Error("failed to publish status change event",
			slog.String("channel", channel),
			slog.Any("err", err))
		return
	}

	// zero receivers just means nobody is subscribed right now
	p.logger.Info("published status change event",
		slog.String("channel", channel),
		slog.String("link_id", link.ID.String()),
		slog.Int64("receivers", receivers))
}

// serializeAndPublish returns the broker-reported number of subscribers
// that received the message.
func (p *Publisher) serializeAndPublish(ctx context.Context, channel string, link *models.Link) (int64, error) {
	const op = "pubsub.Publisher.serializeAndPublish"

	payload, err := json.Marshal(NewStatusChangeEvent(link, ShortURL(p.basePath, link.ShortCode)))
	if err != nil {
		return 0, fmt.Errorf("%s: failed to serialize event: %w", op, err)
	}

	receivers, err := p.rdb.Publish(ctx, channel, payload).Result()
	if err != nil {
		return 0, fmt.Errorf("%s: failed to publish event: %w", op, err)
	}

	return receivers, nil
}

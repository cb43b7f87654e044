package pubsub

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Dispatcher delivers a message to live websocket connections. Implemented
// by ws.Manager.
type Dispatcher interface {
	SendToAllAdmins(ctx context.Context, message []byte)
	SendToUser(ctx context.Context, userID uuid.UUID, message []byte)
}

// subscriber is the subset of the redis client used by Receiver.
type subscriber interface {
	Subscribe(ctx context.Context, channels ...string) *redis.PubSub
}

// Receiver subscribes to the status change channels and routes each
// message to the connections that care about it: created events go to
// every administrator, approval outcomes go to the submitting user.
type Receiver struct {
	rdb        subscriber
	dispatcher Dispatcher
	logger     *slog.Logger
}

func NewReceiver(rdb subscriber, dispatcher Dispatcher, logger *slog.Logger) *Receiver {
	return &Receiver{
		rdb:        rdb,
		dispatcher: dispatcher,
		logger:     logger,
	}
}

// Run subscribes and consumes messages until ctx is cancelled, then
// unsubscribes before returning.
func (r *Receiver) Run(ctx context.Context) error {
	sub := r.rdb.Subscribe(ctx, ChannelCreated, ChannelApproved, ChannelRejected)
	defer sub.Close()

	r.logger.Info("status change receiver started")

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			if err := sub.Unsubscribe(context.Background(),
				ChannelCreated, ChannelApproved, ChannelRejected); err != nil {
				r.logger.Error("failed to unsubscribe status change channels", slog.Any("err", err))
			}
			r.logger.Info("status change receiver stopped")
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			r.handle(ctx, msg.Channel, msg.Payload)
		}
	}
}

// handle validates one broker message and dispatches it on a detached
// goroutine so a slow websocket send never blocks the subscription loop.
// Malformed messages are dropped; the broker does not re-queue.
func (r *Receiver) handle(ctx context.Context, channel, payload string) {
	if payload == "" {
		r.logger.Warn("ignoring empty status change message", slog.String("channel", channel))
		return
	}

	var event StatusChangeEvent
	if err := json.Unmarshal([]byte(payload), &event); err != nil {
		r.logger.Error("dropping undecodable status change message",
			slog.String("channel", channel),
			slog.Any("err", err))
		return
	}

	message := []byte(payload)

	switch channel {
	case ChannelCreated:
		// administrators review new pending links
		go r.dispatcher.SendToAllAdmins(ctx, message)
	case ChannelApproved, ChannelRejected:
		// the submitter learns the outcome
		go r.dispatcher.SendToUser(ctx, event.CreatorID, message)
	default:
		r.logger.Warn("received message on unexpected channel", slog.String("channel", channel))
	}
}

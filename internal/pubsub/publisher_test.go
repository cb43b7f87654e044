package pubsub

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"miniurl/internal/models"
)

type fakeBroker struct {
	channel   string
	payload   []byte
	receivers int64
	err       error
}

func (f *fakeBroker) Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd {
	cmd := redis.NewIntCmd(ctx, "publish", channel)
	if f.err != nil {
		cmd.SetErr(f.err)
		return cmd
	}
	f.channel = channel
	f.payload = message.([]byte)
	cmd.SetVal(f.receivers)
	return cmd
}

func testLink() *models.Link {
	now := time.Date(2025, time.March, 1, 12, 0, 0, 0, time.UTC)
	return &models.Link{
		ID:          uuid.New(),
		OriginalURL: "https://example.com/very/long/path",
		ShortCode:   "1Xz",
		Description: "example",
		Status:      models.StatusPending,
		CreatorID:   uuid.New(),
		CreatedAt:   now,
		UpdatedAt:   now,
		ExpiresAt:   now.AddDate(0, 5, 0),
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestPublisher_PublishCreated(t *testing.T) {
	t.Run("broker error is swallowed", func(t *testing.T) {
		broker := &fakeBroker{err: errors.New("connection refused")}
		p := NewPublisher(broker, "http://localhost:8080", discardLogger())

		p.PublishCreated(context.TODO(), testLink())

		assert.Empty(t, broker.payload)
	})

	t.Run("success", func(t *testing.T) {
		broker := &fakeBroker{receivers: 2}
		p := NewPublisher(broker, "http://localhost:8080/", discardLogger())
		link := testLink()

		p.PublishCreated(context.TODO(), link)

		assert.Equal(t, ChannelCreated, broker.channel)

		var event StatusChangeEvent
		require.NoError(t, json.Unmarshal(broker.payload, &event))
		assert.Equal(t, link.ID, event.ID)
		assert.Equal(t, link.OriginalURL, event.URL)
		assert.Equal(t, "http://localhost:8080/1Xz", event.ShortenedURL)
		assert.Equal(t, link.Status, event.Status)
		assert.Equal(t, link.CreatorID, event.CreatorID)
	})
}

func TestPublisher_ChannelPerTransition(t *testing.T) {
	broker := &fakeBroker{}
	p := NewPublisher(broker, "http://localhost:8080", discardLogger())
	link := testLink()

	p.PublishApproved(context.TODO(), link)
	assert.Equal(t, ChannelApproved, broker.channel)

	p.PublishRejected(context.TODO(), link)
	assert.Equal(t, ChannelRejected, broker.channel)
}

func TestStatusChangeEvent_NoApproverID(t *testing.T) {
	link := testLink()
	link.ApproverID = uuid.NullUUID{UUID: uuid.New(), Valid: true}

	payload, err := json.Marshal(NewStatusChangeEvent(link, ShortURL("http://localhost:8080", link.ShortCode)))
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(payload, &raw))
	assert.NotContains(t, raw, "approverId")
}

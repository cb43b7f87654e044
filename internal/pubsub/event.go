// Package pubsub carries link status changes over Redis pub/sub channels.
// Delivery is at-most-once and best-effort: a message published while no
// receiver is subscribed is simply lost, which is acceptable because
// notifications are advisory.
package pubsub

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"miniurl/internal/models"
)

// Channel names are part of the wire contract with other consumers.
const (
	ChannelCreated  = "tinyurl.created"
	ChannelApproved = "tinyurl.approved"
	ChannelRejected = "tinyurl.rejected"
)

// StatusChangeEvent is the payload published on every link state change
// and forwarded verbatim to websocket clients. The approver id is
// deliberately absent; recipients don't need it.
type StatusChangeEvent struct {
	ID           uuid.UUID         `json:"id"`
	URL          string            `json:"url,omitempty"`
	ShortenedURL string            `json:"shortenedUrl,omitempty"`
	Status       models.LinkStatus `json:"status,omitempty"`
	CreatorID    uuid.UUID         `json:"creatorId"`
	CreatedAt    time.Time         `json:"createdAt"`
	UpdatedAt    time.Time         `json:"updatedAt"`
	ExpiresAt    time.Time         `json:"expiresAt"`
}

func NewStatusChangeEvent(link *models.Link, shortURL string) StatusChangeEvent {
	return StatusChangeEvent{
		ID:           link.ID,
		URL:          link.OriginalURL,
		ShortenedURL: shortURL,
		Status:       link.Status,
		CreatorID:    link.CreatorID,
		CreatedAt:    link.CreatedAt,
		UpdatedAt:    link.UpdatedAt,
		ExpiresAt:    link.ExpiresAt,
	}
}

// ShortURL joins the service's public base path with a short code into
// the absolute shortened URL carried in event payloads.
func ShortURL(basePath, shortCode string) string {
	return strings.TrimSuffix(basePath, "/") + "/" + shortCode
}

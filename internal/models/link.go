package models

import (
	"time"

	"github.com/google/uuid"
)

// LinkStatus is the approval state of a link. Every link starts Pending
// and is moved to Approved or Rejected by an administrator.
type LinkStatus string

const (
	StatusPending  LinkStatus = "Pending"
	StatusApproved LinkStatus = "Approved"
	StatusRejected LinkStatus = "Rejected"
)

// Link represents a shortened URL with its approval lifecycle.
type Link struct {
	ID          uuid.UUID
	OriginalURL string
	ShortCode   string
	Description string
	Status      LinkStatus
	CreatorID   uuid.UUID
	ApproverID  uuid.NullUUID
	CreatedAt   time.Time
	UpdatedAt   time.Time
	ExpiresAt   time.Time
}

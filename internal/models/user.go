package models

import (
	"time"

	"github.com/google/uuid"
)

// Role determines which websocket partition a connection is admitted into
// and which API routes an identity may call.
type Role string

const (
	RoleAdmin Role = "admin"
	RoleUser  Role = "user"
)

type User struct {
	ID           uuid.UUID
	Username     string
	PasswordHash string
	Role         Role
	CreatedAt    time.Time
}

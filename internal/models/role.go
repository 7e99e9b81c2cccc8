package models

import (
	"time"

	"github.com/google/uuid"
)

// Role is a named group of permissions, e.g. "admin" or "user".
type Role struct {
	RoleID      uuid.UUID
	Name        string
	Description string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Permission is a single grant row. (Action, Entity, Access) is unique.
type Permission struct {
	PermissionID uuid.UUID
	Action       string // create, read, update, delete
	Entity       string // user, note
	Access       string // own, any
	Description  string

	CreatedAt time.Time
	UpdatedAt time.Time
}

package authz

import (
	"time"

	"github.com/google/uuid"
)

// Permission is an atomic capability identified by its Name.
type Permission struct {
	ID          uuid.UUID
	Name        Name
	DisplayName string
	Description string
	// Module optionally overrides the module the permission is grouped under
	// for display; the Name's module segment remains authoritative for
	// matching.
	Module    string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// RoleType is the closed classification of a role.
type RoleType string

// Role classifications.
const (
	RoleTypeAdmin     RoleType = "admin"
	RoleTypeDeveloper RoleType = "developer"
	RoleTypeUser      RoleType = "user"
	RoleTypeCustom    RoleType = "custom"
)

// Valid reports whether t is one of the closed role types.
func (t RoleType) Valid() bool {
	switch t {
	case RoleTypeAdmin, RoleTypeDeveloper, RoleTypeUser, RoleTypeCustom:
		return true
	}
	return false
}

// Role bundles permissions under a name. System roles are protected: their
// permission set cannot be mutated and they cannot be deleted.
type Role struct {
	ID          uuid.UUID
	Name        string
	DisplayName string
	Description string
	Type        RoleType
	IsSystem    bool
	Permissions []Permission
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Principal describes the authenticated actor as seen by the engine.
type Principal interface {
	PrincipalID() int64
	Active() bool
	SuperAdmin() bool
}

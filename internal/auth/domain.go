package auth

import "time"

// User represents an authenticated user account. KeyVersion is the sole
// token revocation mechanism: it starts at 1, only ever advances, and every
// access token is bound to the version current at issuance.
type User struct {
	ID           int64
	Email        string
	Name         string
	PasswordHash string
	IsActive     bool
	IsSuperAdmin bool
	KeyVersion   int64
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// PrincipalID implements authz.Principal.
func (u *User) PrincipalID() int64 { return u.ID }

// Active implements authz.Principal.
func (u *User) Active() bool { return u.IsActive }

// SuperAdmin implements authz.Principal.
func (u *User) SuperAdmin() bool { return u.IsSuperAdmin }

package domain

import "time"

// Role partitions accounts into the two supported privilege levels.
type Role string

const (
	RoleAdmin  Role = "admin"
	RoleNormal Role = "normal"
)

// Valid reports whether the role is one of the supported values.
func (r Role) Valid() bool {
	return r == RoleAdmin || r == RoleNormal
}

// User represents a registered account. Usernames are globally unique and
// immutable after registration.
type User struct {
	ID           string
	Username     string
	PasswordHash []byte
	FullName     string
	Role         Role
	CreatedAt    time.Time
}

package domain

import "time"

// Session is the snapshot captured at login and held server-side under an
// opaque token. It is not live-linked to the user record; roles are
// immutable so the snapshot cannot go stale.
type Session struct {
	UserID    string    `json:"user_id"`
	Username  string    `json:"username"`
	FullName  string    `json:"full_name"`
	Role      Role      `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

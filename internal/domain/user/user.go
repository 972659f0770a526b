package user

import "time"

// DefaultSystemRole is the persona used for users that never set one.
const DefaultSystemRole = "helpful assistant"

type User struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"` // never expose hash in JSON
	SystemRole   string    `json:"systemRole"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// MirrorRecord is the secondary store's copy of a user. It is never used for
// authentication decisions, only for uniqueness checks and listing.
type MirrorRecord struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

package models

import "time"

type User struct {
	ID         string `json:"id"`
	Username   string `json:"username"`
	Email      string `json:"email"`
	FullName   string `json:"fullName"`
	PassHash   []byte `json:"-"`
	Avatar     string `json:"avatar"`
	CoverImage string `json:"coverImage"`
	// RefreshToken is the only refresh token currently honored for the user.
	// Nil after logout or before the first login.
	RefreshToken *string   `json:"-"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Public returns a copy of the user with secrets stripped.
func (u User) Public() *User {
	u.PassHash = nil
	u.RefreshToken = nil
	return &u
}

package model

import "time"

// User is an actor that can hold sessions, own timers and play in them
type User struct {
	ID          UserID    `json:"id"`
	DisplayName string    `json:"display_name"`
	IsGuest     bool      `json:"is_guest"`
	CreatedAt   time.Time `json:"created_at"`
}

// Credentials is the login record of a registered user
type Credentials struct {
	UserID       UserID
	Username     string
	PasswordHash string
	CreatedAt    time.Time
}

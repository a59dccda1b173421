// Package model defines the data structures shared by the repository,
// service and handler layers.
package model

import "time"

// User is a registered account. Username and Email are each unique across
// all users. PasswordHash holds a bcrypt hash and is never serialized.
type User struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

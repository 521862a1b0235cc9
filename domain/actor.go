package domain

import (
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// PasswordCost is the bcrypt cost used when hashing actor passwords.
var PasswordCost = bcrypt.DefaultCost

// Actor is a user account, admin or not.
type Actor struct {
	ID           string    `json:"id"`
	FirstName    *string   `json:"first_name"`
	LastName     *string   `json:"last_name"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	IsAdmin      bool      `json:"is_admin"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// NewActor carries the attributes needed to create an actor. Password is the
// plain text secret; the directory hashes it.
type NewActor struct {
	FirstName *string
	LastName  *string
	Email     string
	Password  string
	IsAdmin   bool
}

// ActorUpdate replaces the mutable profile fields of an actor.
type ActorUpdate struct {
	FirstName *string
	LastName  *string
	Email     string
}

// PasswordMatches reports whether password is the actor's secret.
func (a Actor) PasswordMatches(password string) bool {
	if a.PasswordHash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(a.PasswordHash), []byte(password)) == nil
}

// HashPassword returns the bcrypt hash of password.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), PasswordCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// NormalizeEmail trims and lower-cases an email address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

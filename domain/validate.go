package domain

import (
	"net/mail"
	"strings"
)

// ValidEmail reports whether s is a bare email address.
func ValidEmail(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" {
		return false
	}
	addr, err := mail.ParseAddress(s)
	if err != nil {
		return false
	}
	return addr.Address == s && strings.Contains(addr.Address, "@")
}

// Registration is the input for self-service admin sign-up.
type Registration struct {
	FirstName *string `json:"first_name"`
	LastName  *string `json:"last_name"`
	Email     string  `json:"email"`
	Password  string  `json:"password"`
}

// Validate checks required fields and the email format.
func (r Registration) Validate() error {
	verr := &ValidationError{}
	switch {
	case strings.TrimSpace(r.Email) == "":
		verr.Add("email", "The email field is required.")
	case !ValidEmail(r.Email):
		verr.Add("email", "The email must be a valid email address.")
	}
	if r.Password == "" {
		verr.Add("password", "The password field is required.")
	}
	return verr.OrNil()
}

// Credentials is the input for login.
type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Validate checks that both fields are present.
func (c Credentials) Validate() error {
	verr := &ValidationError{}
	switch {
	case strings.TrimSpace(c.Email) == "":
		verr.Add("email", "The email field is required.")
	case !ValidEmail(c.Email):
		verr.Add("email", "The email must be a valid email address.")
	}
	if c.Password == "" {
		verr.Add("password", "The password field is required.")
	}
	return verr.OrNil()
}

package domain

import (
	"net/mail"
	"strings"
	"time"
)

// User is a member of one tenant. Its ID is the user_id claim of the caller's
// token; credentials are managed by the identity provider.
type User struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	Role      Role      `json:"role"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// UserChanges is a partial user update
type UserChanges struct {
	Username *string `json:"username,omitempty"`
	Email    *string `json:"email,omitempty"`
	Role     *Role   `json:"role,omitempty"`
}

// Rank orders roles by privilege, higher is more privileged. Unknown roles
// rank zero.
func (r Role) Rank() int {
	switch r {
	case RoleAdmin:
		return 3
	case RoleManager:
		return 2
	case RoleMember:
		return 1
	default:
		return 0
	}
}

// NormalizeEmail trims and lowercases an address and checks it parses as a
// bare addr-spec
func NormalizeEmail(s string) (string, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return "", Required("email")
	}
	addr, err := mail.ParseAddress(s)
	if err != nil || addr.Address != s {
		return "", &ValidationError{Field: "email", Message: "is not a valid address"}
	}
	return s, nil
}

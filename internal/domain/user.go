package domain

import "time"

// UserRole enumerates account roles.
type UserRole string

const (
	UserRoleUser      UserRole = "user"
	UserRoleModerator UserRole = "moderator"
	UserRoleAdmin     UserRole = "admin"
)

// User is the domain model for accounts. Moderators and admins carry
// a skill set used by triage assignment.
type User struct {
	ID           string
	Name         string
	Email        string
	PasswordHash string
	Role         UserRole
	Skills       []string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

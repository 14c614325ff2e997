package models

import "strings"

// Role is a staff role assigned by the external user directory.
type Role string

const (
	RoleAdmin       Role = "admin"
	RoleCoordinator Role = "coordinator"
	RoleGuide       Role = "guide"
	RoleSecurity    Role = "security"
	RoleVisitor     Role = "visitor"
)

// IsValid reports whether r is a known role.
func (r Role) IsValid() bool {
	switch r {
	case RoleAdmin, RoleCoordinator, RoleGuide, RoleSecurity, RoleVisitor:
		return true
	}
	return false
}

// ChatEligible reports whether users with this role may take part in chat.
func (r Role) ChatEligible() bool {
	switch r {
	case RoleAdmin, RoleCoordinator, RoleGuide, RoleSecurity:
		return true
	}
	return false
}

// UnknownUserName is shown for participants missing from the directory.
const UnknownUserName = "Unknown user"

// User is a read-only view of a directory entry.
type User struct {
	ID              string  `json:"id"`
	FirstName       string  `json:"first_name"`
	LastName        string  `json:"last_name"`
	Email           string  `json:"email,omitempty"`
	Role            Role    `json:"role"`
	ProfileImageURL *string `json:"profile_image_url,omitempty"`
}

// DisplayName returns "First Last", falling back to the email or id.
func (u User) DisplayName() string {
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name != "" {
		return name
	}
	if u.Email != "" {
		return u.Email
	}
	return u.ID
}

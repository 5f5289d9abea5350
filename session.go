package docgate

import "time"

// Roles known to the default permission table.
const (
	RoleAdmin   = "admin"
	RoleProUser = "proUser"
	RoleTeacher = "teacher"
	RoleStudent = "student"
	RoleUser    = "user"
)

// UserProfile is the stored profile of a signed-in user.
type UserProfile struct {
	ID          string         `json:"id" yaml:"id"`
	Email       string         `json:"email,omitempty" yaml:"email,omitempty"`
	DisplayName string         `json:"displayName,omitempty" yaml:"display_name,omitempty"`
	Role        string         `json:"role" yaml:"role"`
	CreatedAt   time.Time      `json:"createdAt,omitempty" yaml:"created_at,omitempty"`
	Attrs       map[string]any `json:"attrs,omitempty" yaml:"attrs,omitempty"`
}

// Session is the authenticated identity the gateway authorizes against.
type Session struct {
	UID     string       `json:"uid"`
	Profile *UserProfile `json:"profile,omitempty"`
}

// NewSession builds a session for uid with the given role.
func NewSession(uid, role string) *Session {
	return &Session{UID: uid, Profile: &UserProfile{ID: uid, Role: role}}
}

// Role returns the profile role, or "" when the profile is not loaded.
func (s *Session) Role() string {
	if s == nil || s.Profile == nil {
		return ""
	}
	return s.Profile.Role
}

// IsAdmin reports whether the session carries the admin role.
func (s *Session) IsAdmin() bool { return s.Role() == RoleAdmin }

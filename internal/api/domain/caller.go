package domain

// Role is the coarse permission level carried in the token
type Role string

const (
	RoleWorker Role = "worker"
	RoleAdmin  Role = "admin"
	RoleOwner  Role = "owner"
)

// Caller is the authenticated principal of a request
type Caller struct {
	UserID    string
	CompanyID string
	Role      Role
}

// IsAdmin reports whether the caller may review and edit entries
func (c Caller) IsAdmin() bool {
	return c.Role == RoleAdmin || c.Role == RoleOwner
}

// CanOverride reports whether the caller may edit approved entries
func (c Caller) CanOverride() bool {
	return c.Role == RoleOwner
}

package model

type Role string

const (
	RoleAdmin      Role = "admin"
	RoleDispatcher Role = "dispatcher"
	RoleTechnician Role = "technician"
	RoleViewer     Role = "viewer"
)

type Principal struct {
	UserID       string
	Role         Role
	TechnicianID *uint
}

func (p Principal) IsAdmin() bool {
	return p.Role == RoleAdmin
}

func (p Principal) IsDispatcher() bool {
	return p.Role == RoleDispatcher
}

func (p Principal) IsTechnician() bool {
	return p.Role == RoleTechnician && p.TechnicianID != nil
}

// CanDispatch covers ticket creation and every roster mutation.
func (p Principal) CanDispatch() bool {
	return p.IsAdmin() || p.IsDispatcher()
}

// ActorID is recorded as assigned_by / created_by on writes.
func (p Principal) ActorID() *string {
	if p.UserID == "" {
		return nil
	}
	id := p.UserID
	return &id
}

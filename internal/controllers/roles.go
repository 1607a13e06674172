package controllers

const (
	RoleAdmin   = "admin"
	RoleProctor = "proctor"
)

var allowedRoles = map[string]struct{}{
	RoleAdmin:   {},
	RoleProctor: {},
}

func IsValidRole(role string) bool {
	_, ok := allowedRoles[role]
	return ok
}

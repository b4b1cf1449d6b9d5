package rbac

import "strings"

// Role names. Keep these stable; they are part of auth/RBAC contracts.
const (
	RoleMember = "member"
	RoleAdmin  = "admin"
)

func IsAdmin(role string) bool { return role == RoleAdmin }

// RoleFor decides the role embedded in an access token at issuance.
func RoleFor(mobile string, adminMobiles []string) string {
	for _, m := range adminMobiles {
		if strings.TrimSpace(m) == mobile {
			return RoleAdmin
		}
	}
	return RoleMember
}

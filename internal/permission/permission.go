// Package permission decides what each role may do.
package permission

import (
	"strings"

	"github.com/territorios-app/territorios/internal/model"
)

const (
	PhonesRead         = "phones.read"
	PhonesWrite        = "phones.write"
	PhonesUpdateStatus = "phones.update_status"
	PhonesExport       = "phones.export"
	PhonesImport       = "phones.import"
	PhonesReset        = "phones.reset"

	TerritoriesRead   = "territories.read"
	TerritoriesAssign = "territories.assign"
	TerritoriesReturn = "territories.return"
	TerritoriesDelete = "territories.delete"

	UsersRead   = "users.read"
	UsersCreate = "users.create"
	UsersManage = "users.manage"
)

var rolePermissions = map[model.Role][]string{
	model.RoleSuperAdmin: {"*"},
	model.RoleAdmin: {
		"phones.*",
		"territories.*",
		UsersRead,
		UsersCreate,
		UsersManage,
	},
	model.RoleConductor: {
		PhonesRead,
		PhonesUpdateStatus,
		PhonesExport,
		TerritoriesRead,
		TerritoriesAssign,
		TerritoriesReturn,
	},
	model.RolePublisher: {
		PhonesRead,
		PhonesUpdateStatus,
		TerritoriesRead,
	},
}

// HasPermission reports whether role grants perm. A grant of "*" matches
// everything and "resource.*" matches every action on resource.
func HasPermission(role model.Role, perm string) bool {
	for _, grant := range rolePermissions[role] {
		if matches(grant, perm) {
			return true
		}
	}
	return false
}

func matches(grant, perm string) bool {
	if grant == "*" || grant == perm {
		return true
	}
	prefix, ok := strings.CutSuffix(grant, ".*")
	return ok && strings.HasPrefix(perm, prefix+".")
}

// CanPromote reports whether actor may create or promote a user to target.
func CanPromote(actor, target model.Role) bool {
	switch target {
	case model.RoleAdmin, model.RoleSuperAdmin:
		return actor == model.RoleSuperAdmin
	case model.RoleConductor, model.RolePublisher:
		return actor == model.RoleSuperAdmin || actor == model.RoleAdmin
	}
	return false
}

// SuperAdmin is the single identity that always holds the super-admin role.
type SuperAdmin struct {
	Phone string
	UID   string
	Email string
}

// IsSuperAdmin matches on any one of phone, uid or email. Phones are compared
// by digits only; empty values never match.
func (s SuperAdmin) IsSuperAdmin(phone, uid, email string) bool {
	if p := model.NormalizeNumber(phone); p != "" && p == model.NormalizeNumber(s.Phone) {
		return true
	}
	if uid != "" && uid == s.UID {
		return true
	}
	return email != "" && strings.EqualFold(email, s.Email)
}

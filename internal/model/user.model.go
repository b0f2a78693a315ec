package model

import (
	"errors"
	"time"
)

type Role string

const (
	RoleConductor  Role = "conductor"
	RoleAdmin      Role = "admin"
	RoleSuperAdmin Role = "super-admin"
	RolePublisher  Role = "publicador"
)

func (r Role) Valid() bool {
	switch r {
	case RoleConductor, RoleAdmin, RoleSuperAdmin, RolePublisher:
		return true
	}
	return false
}

type AppUser struct {
	UID             string     `json:"uid"`
	PhoneNumber     string     `json:"phone_number"`
	Email           string     `json:"email,omitempty"`
	FullName        string     `json:"full_name"`
	Role            Role       `json:"role"`
	IsActive        bool       `json:"is_active"`
	ServiceGroup    string     `json:"service_group,omitempty"`
	Notes           string     `json:"notes,omitempty"`
	LinkedProviders []string   `json:"linked_providers"`
	LoginCount      int        `json:"login_count"`
	CreatedBy       string     `json:"created_by,omitempty"`
	LastLogin       *time.Time `json:"last_login,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// Identity is what the identity provider vouches for after sign-in.
type Identity struct {
	UID      string `json:"uid"`
	Phone    string `json:"phone"`
	Email    string `json:"email"`
	Provider string `json:"provider"`
}

type UserCreateRequest struct {
	PhoneNumber  string `json:"phone_number"`
	Email        string `json:"email"`
	FullName     string `json:"full_name"`
	Role         Role   `json:"role"`
	ServiceGroup string `json:"service_group"`
	Notes        string `json:"notes"`
}

func (r UserCreateRequest) Validate() error {
	if NormalizeNumber(r.PhoneNumber) == "" {
		return errors.New("phone_number is required")
	}
	if r.FullName == "" {
		return errors.New("full_name is required")
	}
	if !r.Role.Valid() {
		return errors.New("role is invalid")
	}
	return nil
}

// Session is the authenticated caller attached to a request.
type Session struct {
	UID   string `json:"uid"`
	Role  Role   `json:"role"`
	Phone string `json:"phone"`
	Email string `json:"email,omitempty"`
}

package repository

import (
	"encoding/json"
	"time"

	"github.com/territorios-app/territorios/internal/model"
	"gorm.io/datatypes"
)

type UserEntity struct {
	UID             string         `db:"uid"              gorm:"primaryKey;column:uid;type:varchar(128)"`
	PhoneNumber     string         `db:"phone_number"     gorm:"column:phone_number;not null;index"`
	Email           string         `db:"email"            gorm:"column:email;not null;default:''"`
	FullName        string         `db:"full_name"        gorm:"column:full_name;not null;default:''"`
	Role            string         `db:"role"             gorm:"column:role;not null"`
	IsActive        bool           `db:"is_active"        gorm:"column:is_active;not null"`
	ServiceGroup    string         `db:"service_group"    gorm:"column:service_group;not null;default:''"`
	Notes           string         `db:"notes"            gorm:"column:notes;not null;default:''"`
	LinkedProviders datatypes.JSON `db:"linked_providers" gorm:"column:linked_providers"`
	LoginCount      int            `db:"login_count"      gorm:"column:login_count;not null;default:0"`
	CreatedBy       string         `db:"created_by"       gorm:"column:created_by;not null;default:''"`
	LastLogin       *time.Time     `db:"last_login"       gorm:"column:last_login"`
	CreatedAt       time.Time      `db:"created_at"       gorm:"column:created_at"`
	UpdatedAt       time.Time      `db:"updated_at"       gorm:"column:updated_at"`
}

func (UserEntity) TableName() string {
	return "app_users"
}

func toUserEntity(m *model.AppUser) *UserEntity {
	if m == nil {
		return nil
	}
	providers := m.LinkedProviders
	if providers == nil {
		providers = []string{}
	}
	raw, _ := json.Marshal(providers)
	return &UserEntity{
		UID:             m.UID,
		PhoneNumber:     m.PhoneNumber,
		Email:           m.Email,
		FullName:        m.FullName,
		Role:            string(m.Role),
		IsActive:        m.IsActive,
		ServiceGroup:    m.ServiceGroup,
		Notes:           m.Notes,
		LinkedProviders: datatypes.JSON(raw),
		LoginCount:      m.LoginCount,
		CreatedBy:       m.CreatedBy,
		LastLogin:       m.LastLogin,
		CreatedAt:       m.CreatedAt,
		UpdatedAt:       m.UpdatedAt,
	}
}

func toUserModel(e *UserEntity) *model.AppUser {
	if e == nil {
		return nil
	}
	providers := []string{}
	if len(e.LinkedProviders) > 0 {
		_ = json.Unmarshal(e.LinkedProviders, &providers)
	}
	return &model.AppUser{
		UID:             e.UID,
		PhoneNumber:     e.PhoneNumber,
		Email:           e.Email,
		FullName:        e.FullName,
		Role:            model.Role(e.Role),
		IsActive:        e.IsActive,
		ServiceGroup:    e.ServiceGroup,
		Notes:           e.Notes,
		LinkedProviders: providers,
		LoginCount:      e.LoginCount,
		CreatedBy:       e.CreatedBy,
		LastLogin:       e.LastLogin,
		CreatedAt:       e.CreatedAt,
		UpdatedAt:       e.UpdatedAt,
	}
}

func toUserModels(entities []*UserEntity) []*model.AppUser {
	if entities == nil {
		return nil
	}
	models := make([]*model.AppUser, len(entities))
	for i, e := range entities {
		models[i] = toUserModel(e)
	}
	return models
}

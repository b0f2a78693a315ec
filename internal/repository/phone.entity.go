package repository

import (
	"time"

	"github.com/google/uuid"
	"github.com/territorios-app/territorios/internal/model"
	"github.com/territorios-app/territorios/pkg/pg"
	"gorm.io/gorm"
)

type PhoneEntity struct {
	ID              string     `db:"id"                gorm:"primaryKey;column:id;type:varchar(36)"`
	Owner           string     `db:"owner"             gorm:"column:owner;not null;default:''"`
	Address         string     `db:"address"           gorm:"column:address;not null;default:''"`
	Number          string     `db:"number"            gorm:"column:number;not null;index"`
	AssignedTo      string     `db:"assigned_to"       gorm:"column:assigned_to;not null;default:''"`
	CallStatus      string     `db:"call_status"       gorm:"column:call_status;not null;default:'';index"`
	Comments        string     `db:"comments"          gorm:"column:comments;not null;default:''"`
	AssignedAt      *time.Time `db:"assigned_at"       gorm:"column:assigned_at"`
	StatusChangedAt *time.Time `db:"status_changed_at" gorm:"column:status_changed_at"`
	IsAssigned      bool       `db:"is_assigned"       gorm:"column:is_assigned;not null;default:false"`
	Version         int64      `db:"version"           gorm:"column:version;not null;default:1"`
	pg.Model
}

func (PhoneEntity) TableName() string {
	return "phones"
}

func (e *PhoneEntity) BeforeCreate(*gorm.DB) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Version == 0 {
		e.Version = 1
	}
	return nil
}

func toPhoneEntity(m *model.PhoneRecord) *PhoneEntity {
	if m == nil {
		return nil
	}
	return &PhoneEntity{
		ID:              m.ID,
		Owner:           m.Owner,
		Address:         m.Address,
		Number:          m.Number,
		AssignedTo:      m.AssignedTo,
		CallStatus:      string(m.CallStatus),
		Comments:        m.Comments,
		AssignedAt:      m.AssignedAt,
		StatusChangedAt: m.StatusChangedAt,
		IsAssigned:      m.IsAssigned,
		Version:         m.Version,
		Model: pg.Model{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
	}
}

func toPhoneModel(e *PhoneEntity) *model.PhoneRecord {
	if e == nil {
		return nil
	}
	return &model.PhoneRecord{
		ID:              e.ID,
		Owner:           e.Owner,
		Address:         e.Address,
		Number:          e.Number,
		AssignedTo:      e.AssignedTo,
		CallStatus:      model.CallStatus(e.CallStatus),
		Comments:        e.Comments,
		AssignedAt:      e.AssignedAt,
		StatusChangedAt: e.StatusChangedAt,
		IsAssigned:      e.IsAssigned,
		Version:         e.Version,
		CreatedAt:       e.CreatedAt,
		UpdatedAt:       e.UpdatedAt,
	}
}

func toPhoneModels(entities []*PhoneEntity) []*model.PhoneRecord {
	if entities == nil {
		return nil
	}
	models := make([]*model.PhoneRecord, len(entities))
	for i, e := range entities {
		models[i] = toPhoneModel(e)
	}
	return models
}

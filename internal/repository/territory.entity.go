package repository

import (
	"encoding/json"
	"time"

	"github.com/territorios-app/territorios/internal/model"
	"gorm.io/datatypes"
)

type TerritoryEntity struct {
	Number            int            `db:"number"             gorm:"primaryKey;autoIncrement:false;column:number"`
	TotalBlocks       int            `db:"total_blocks"       gorm:"column:total_blocks;not null"`
	ActiveAssignments datatypes.JSON `db:"active_assignments" gorm:"column:active_assignments"`
	History           datatypes.JSON `db:"history"            gorm:"column:history"`
	Version           int64          `db:"version"            gorm:"column:version;not null;default:1"`
	LastModified      time.Time      `db:"last_modified"      gorm:"column:last_modified"`
	CreatedAt         time.Time      `db:"created_at"         gorm:"column:created_at"`
	UpdatedAt         time.Time      `db:"updated_at"         gorm:"column:updated_at"`
}

func (TerritoryEntity) TableName() string {
	return "territories"
}

func toTerritoryEntity(m *model.Territory) (*TerritoryEntity, error) {
	active := m.ActiveAssignments
	if active == nil {
		active = []model.Assignment{}
	}
	history := m.History
	if history == nil {
		history = []model.HistoryEntry{}
	}

	activeJSON, err := json.Marshal(active)
	if err != nil {
		return nil, err
	}
	historyJSON, err := json.Marshal(history)
	if err != nil {
		return nil, err
	}

	return &TerritoryEntity{
		Number:            m.Number,
		TotalBlocks:       m.TotalBlocks,
		ActiveAssignments: datatypes.JSON(activeJSON),
		History:           datatypes.JSON(historyJSON),
		Version:           m.Version,
		LastModified:      m.LastModified,
	}, nil
}

func toTerritoryModel(e *TerritoryEntity) (*model.Territory, error) {
	m := &model.Territory{
		Number:            e.Number,
		TotalBlocks:       e.TotalBlocks,
		ActiveAssignments: []model.Assignment{},
		History:           []model.HistoryEntry{},
		Version:           e.Version,
		LastModified:      e.LastModified,
	}
	if len(e.ActiveAssignments) > 0 {
		if err := json.Unmarshal(e.ActiveAssignments, &m.ActiveAssignments); err != nil {
			return nil, err
		}
	}
	if len(e.History) > 0 {
		if err := json.Unmarshal(e.History, &m.History); err != nil {
			return nil, err
		}
	}
	return m, nil
}

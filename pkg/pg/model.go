package pg

import (
	"time"

	"gorm.io/gorm"
)

// Model is embedded by entities that are soft deleted. gorm filters rows with
// a deleted_at value out of every query issued through it.
type Model struct {
	CreatedAt time.Time      `gorm:"column:created_at"`
	UpdatedAt time.Time      `gorm:"column:updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"column:deleted_at;index"`
}

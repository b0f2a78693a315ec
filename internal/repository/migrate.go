package repository

import "gorm.io/gorm"

// AutoMigrate creates the schema straight from the entities. The goose
// migrations under migrations/ remain the source of truth for postgres.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&PhoneEntity{}, &TerritoryEntity{}, &UserEntity{})
}

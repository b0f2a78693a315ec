package repository

import (
	"context"
	"errors"
	"time"

	"github.com/territorios-app/territorios/internal/model"
	"github.com/territorios-app/territorios/pkg/pg"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrTerritoryNotFound = errors.New("territory not found")
)

type TerritoryRepository struct {
	*pg.DB
	now func() time.Time
}

func NewTerritoryRepository(db *pg.DB) *TerritoryRepository {
	return &TerritoryRepository{
		DB:  db,
		now: func() time.Time { return time.Now().UTC() },
	}
}

func (r *TerritoryRepository) Get(ctx context.Context, number int) (*model.Territory, error) {
	var entity TerritoryEntity
	err := r.Read(ctx).Where("number = ?", number).First(&entity).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTerritoryNotFound
		}
		return nil, err
	}
	return toTerritoryModel(&entity)
}

func (r *TerritoryRepository) List(ctx context.Context) ([]*model.Territory, error) {
	var entities []*TerritoryEntity
	if err := r.Read(ctx).Order("number").Find(&entities).Error; err != nil {
		return nil, err
	}
	out := make([]*model.Territory, 0, len(entities))
	for _, e := range entities {
		t, err := toTerritoryModel(e)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

// Mutate loads territory number, lets fn change it and writes it back as one
// document update. A missing territory is created from the block table when
// create is set. Lost races are retried; errors returned by fn are not.
func (r *TerritoryRepository) Mutate(ctx context.Context, number int, create bool, fn func(t *model.Territory) error) (*model.Territory, error) {
	var result *model.Territory
	err := pg.RetryOnConflict(ctx, func() error {
		t, err := r.Get(ctx, number)
		if errors.Is(err, ErrTerritoryNotFound) && create {
			t, err = model.NewTerritory(number)
		}
		if err != nil {
			return err
		}

		if err := fn(t); err != nil {
			return err
		}

		if err := r.save(ctx, t); err != nil {
			return err
		}
		result = t
		return nil
	})
	return result, err
}

// save inserts a new document (Version 0) or swaps the stored one if its
// version is unchanged.
func (r *TerritoryRepository) save(ctx context.Context, t *model.Territory) error {
	now := r.now()
	t.LastModified = now

	entity, err := toTerritoryEntity(t)
	if err != nil {
		return err
	}

	if t.Version == 0 {
		entity.Version = 1
		result := r.Write(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(entity)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return pg.ErrConcurrentUpdate
		}
		t.Version = 1
		return nil
	}

	result := r.Write(ctx).Model(&TerritoryEntity{}).
		Where("number = ? AND version = ?", t.Number, t.Version).
		Updates(map[string]interface{}{
			"active_assignments": entity.ActiveAssignments,
			"history":            entity.History,
			"last_modified":      now,
			"version":            gorm.Expr("version + 1"),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return pg.ErrConcurrentUpdate
	}
	t.Version++
	return nil
}

func (r *TerritoryRepository) Delete(ctx context.Context, number int) error {
	result := r.Write(ctx).Where("number = ?", number).Delete(&TerritoryEntity{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrTerritoryNotFound
	}
	return nil
}

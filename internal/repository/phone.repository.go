package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/territorios-app/territorios/internal/model"
	"github.com/territorios-app/territorios/pkg/pg"
	"gorm.io/gorm"
)

var (
	ErrPhoneNotFound = errors.New("phone record not found")
)

type PhoneRepository struct {
	*pg.DB
}

func NewPhoneRepository(db *pg.DB) *PhoneRepository {
	return &PhoneRepository{
		db,
	}
}

func (r *PhoneRepository) Create(ctx context.Context, rec *model.PhoneRecord) (*model.PhoneRecord, error) {
	entity := toPhoneEntity(rec)

	if err := r.Write(ctx).Create(entity).Error; err != nil {
		return nil, err
	}

	return toPhoneModel(entity), nil
}

// CreateBatch inserts every record with a single statement. Callers bound the
// slice size and provide the transaction through ctx.
func (r *PhoneRepository) CreateBatch(ctx context.Context, recs []*model.PhoneRecord) error {
	if len(recs) == 0 {
		return nil
	}
	entities := make([]*PhoneEntity, len(recs))
	for i, rec := range recs {
		entities[i] = toPhoneEntity(rec)
	}
	if err := r.Write(ctx).Create(&entities).Error; err != nil {
		return err
	}
	for i, e := range entities {
		recs[i].ID = e.ID
		recs[i].Version = e.Version
	}
	return nil
}

func (r *PhoneRepository) GetByID(ctx context.Context, id string) (*model.PhoneRecord, error) {
	var entity PhoneEntity
	err := r.Read(ctx).Where("id = ?", id).First(&entity).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPhoneNotFound
		}
		return nil, err
	}
	return toPhoneModel(&entity), nil
}

// ExistsByNumber looks for a live record with the normalized number.
func (r *PhoneRepository) ExistsByNumber(ctx context.Context, number string) (bool, error) {
	var count int64
	err := r.Read(ctx).Model(&PhoneEntity{}).Where("number = ?", number).Limit(1).Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *PhoneRepository) List(ctx context.Context, f model.PhoneFilter) ([]*model.PhoneRecord, int64, error) {
	q := r.Read(ctx).Model(&PhoneEntity{})

	if f.CallStatus != nil {
		q = q.Where("call_status = ?", string(*f.CallStatus))
	}
	if f.AssignedTo != nil {
		q = q.Where("assigned_to = ?", *f.AssignedTo)
	}
	if s := strings.TrimSpace(f.Search); s != "" {
		like := "%" + strings.ToLower(s) + "%"
		q = q.Where("LOWER(owner) LIKE ? OR LOWER(address) LIKE ? OR number LIKE ?", like, like, like)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}

	var entities []*PhoneEntity
	err := q.Order("created_at DESC").Order("id").
		Limit(limit).
		Offset(f.Offset).
		Find(&entities).Error
	if err != nil {
		return nil, 0, err
	}

	return toPhoneModels(entities), total, nil
}

// ListWithoutStatus returns every live record whose call status is empty.
// Cooldown is applied by the caller.
func (r *PhoneRepository) ListWithoutStatus(ctx context.Context) ([]*model.PhoneRecord, error) {
	var entities []*PhoneEntity
	err := r.Read(ctx).
		Where("call_status = ? OR call_status IS NULL", "").
		Order("id").
		Find(&entities).Error
	if err != nil {
		return nil, err
	}
	return toPhoneModels(entities), nil
}

func (r *PhoneRepository) ListAll(ctx context.Context) ([]*model.PhoneRecord, error) {
	var entities []*PhoneEntity
	if err := r.Read(ctx).Order("id").Find(&entities).Error; err != nil {
		return nil, err
	}
	return toPhoneModels(entities), nil
}

// Update applies fields only if the record still has the given version.
func (r *PhoneRepository) Update(ctx context.Context, id string, version int64, fields map[string]interface{}) error {
	updates := make(map[string]interface{}, len(fields)+1)
	for k, v := range fields {
		updates[k] = v
	}
	updates["version"] = gorm.Expr("version + 1")

	result := r.Write(ctx).Model(&PhoneEntity{}).
		Where("id = ? AND version = ?", id, version).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		if _, err := r.GetByID(ctx, id); err != nil {
			return err
		}
		return pg.ErrConcurrentUpdate
	}
	return nil
}

// MarkAssigned flags every record as handed out at the given time. It fails
// with pg.ErrConcurrentUpdate as soon as one record changed since it was read,
// so callers run it inside a transaction and roll back.
func (r *PhoneRepository) MarkAssigned(ctx context.Context, recs []*model.PhoneRecord, at time.Time) error {
	for _, rec := range recs {
		result := r.Write(ctx).Model(&PhoneEntity{}).
			Where("id = ? AND version = ?", rec.ID, rec.Version).
			Updates(map[string]interface{}{
				"is_assigned": true,
				"assigned_at": at,
				"version":     gorm.Expr("version + 1"),
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return pg.ErrConcurrentUpdate
		}
	}
	for _, rec := range recs {
		rec.IsAssigned = true
		rec.AssignedAt = &at
		rec.Version++
	}
	return nil
}

// ClearRotation wipes status, assignment and comments from every record whose
// version still matches. Records changed since they were read are counted as
// skipped.
func (r *PhoneRepository) ClearRotation(ctx context.Context, recs []*model.PhoneRecord) (cleared, skipped int, err error) {
	for _, rec := range recs {
		result := r.Write(ctx).Model(&PhoneEntity{}).
			Where("id = ? AND version = ?", rec.ID, rec.Version).
			Updates(map[string]interface{}{
				"call_status":       "",
				"assigned_to":       "",
				"comments":          "",
				"is_assigned":       false,
				"assigned_at":       nil,
				"status_changed_at": nil,
				"version":           gorm.Expr("version + 1"),
			})
		if result.Error != nil {
			return cleared, skipped, result.Error
		}
		if result.RowsAffected == 0 {
			skipped++
			continue
		}
		cleared++
	}
	return cleared, skipped, nil
}

func (r *PhoneRepository) Delete(ctx context.Context, id string) error {
	result := r.Write(ctx).Where("id = ?", id).Delete(&PhoneEntity{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrPhoneNotFound
	}
	return nil
}

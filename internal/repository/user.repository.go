package repository

import (
	"context"
	"errors"
	"slices"
	"time"

	"github.com/territorios-app/territorios/internal/model"
	"github.com/territorios-app/territorios/pkg/pg"
	"gorm.io/gorm"
)

var (
	ErrUserNotFound = errors.New("user not found")
	ErrUserExists   = errors.New("user already exists")
)

type UserRepository struct {
	*pg.DB
}

func NewUserRepository(db *pg.DB) *UserRepository {
	return &UserRepository{
		db,
	}
}

func (r *UserRepository) Create(ctx context.Context, u *model.AppUser) (*model.AppUser, error) {
	entity := toUserEntity(u)

	var count int64
	if err := r.Read(ctx).Model(&UserEntity{}).Where("uid = ?", u.UID).Count(&count).Error; err != nil {
		return nil, err
	}
	if count > 0 {
		return nil, ErrUserExists
	}

	if err := r.Write(ctx).Create(entity).Error; err != nil {
		return nil, err
	}
	return toUserModel(entity), nil
}

func (r *UserRepository) GetByUID(ctx context.Context, uid string) (*model.AppUser, error) {
	var entity UserEntity
	err := r.Read(ctx).Where("uid = ?", uid).First(&entity).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return toUserModel(&entity), nil
}

// GetActiveByPhone finds the active user owning the normalized phone number.
func (r *UserRepository) GetActiveByPhone(ctx context.Context, phone string) (*model.AppUser, error) {
	var entity UserEntity
	err := r.Read(ctx).
		Where("phone_number = ? AND is_active = ?", phone, true).
		First(&entity).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return toUserModel(&entity), nil
}

func (r *UserRepository) List(ctx context.Context, role *model.Role, activeOnly bool) ([]*model.AppUser, error) {
	q := r.Read(ctx).Model(&UserEntity{})
	if role != nil {
		q = q.Where("role = ?", string(*role))
	}
	if activeOnly {
		q = q.Where("is_active = ?", true)
	}

	var entities []*UserEntity
	if err := q.Order("full_name").Order("uid").Find(&entities).Error; err != nil {
		return nil, err
	}
	return toUserModels(entities), nil
}

func (r *UserRepository) Update(ctx context.Context, uid string, fields map[string]interface{}) error {
	result := r.Write(ctx).Model(&UserEntity{}).Where("uid = ?", uid).Updates(fields)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrUserNotFound
	}
	return nil
}

// RecordLogin bumps the login counter and links provider to the account.
func (r *UserRepository) RecordLogin(ctx context.Context, uid, provider string, at time.Time) (*model.AppUser, error) {
	var out *model.AppUser
	err := r.WithinTransaction(ctx, func(ctx context.Context) error {
		u, err := r.GetByUID(ctx, uid)
		if err != nil {
			return err
		}

		fields := map[string]interface{}{
			"login_count": gorm.Expr("login_count + 1"),
			"last_login":  at,
		}
		if provider != "" && !slices.Contains(u.LinkedProviders, provider) {
			u.LinkedProviders = append(u.LinkedProviders, provider)
			fields["linked_providers"] = toUserEntity(u).LinkedProviders
		}
		if err := r.Update(ctx, uid, fields); err != nil {
			return err
		}

		u.LoginCount++
		u.LastLogin = &at
		out = u
		return nil
	})
	return out, err
}

package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/territorios-app/territorios/internal/model"
	"github.com/territorios-app/territorios/internal/permission"
	"github.com/territorios-app/territorios/internal/repository"
	"github.com/territorios-app/territorios/pkg/logger"
)

type UserRepository interface {
	Create(ctx context.Context, u *model.AppUser) (*model.AppUser, error)
	GetByUID(ctx context.Context, uid string) (*model.AppUser, error)
	GetActiveByPhone(ctx context.Context, phone string) (*model.AppUser, error)
	List(ctx context.Context, role *model.Role, activeOnly bool) ([]*model.AppUser, error)
	Update(ctx context.Context, uid string, fields map[string]interface{}) error
	RecordLogin(ctx context.Context, uid, provider string, at time.Time) (*model.AppUser, error)
}

type UserService struct {
	repo       UserRepository
	superAdmin permission.SuperAdmin
	now        func() time.Time
}

func NewUserService(repo UserRepository, superAdmin permission.SuperAdmin) *UserService {
	return &UserService{
		repo:       repo,
		superAdmin: superAdmin,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Login resolves the account behind a verified identity. Accounts are found
// by uid first, then by an active user with the same phone, whose uid is
// relinked. Only the seed super-admin gets an account created on first login.
func (s *UserService) Login(ctx context.Context, id model.Identity) (*model.AppUser, error) {
	if id.UID == "" {
		return nil, fmt.Errorf("%w: identity has no uid", ErrInvalidInput)
	}
	seed := s.superAdmin.IsSuperAdmin(id.Phone, id.UID, id.Email)

	u, err := s.resolve(ctx, id, seed)
	if err != nil {
		return nil, err
	}
	if !u.IsActive {
		return nil, ErrUserInactive
	}

	if seed && u.Role != model.RoleSuperAdmin {
		if err := s.repo.Update(ctx, u.UID, map[string]interface{}{"role": string(model.RoleSuperAdmin)}); err != nil {
			logger.Error("force super-admin role", "uid", u.UID, "error", err)
			return nil, ErrUserUpdate
		}
	}

	logged, err := s.repo.RecordLogin(ctx, u.UID, id.Provider, s.now())
	if err != nil {
		logger.Error("record login", "uid", u.UID, "error", err)
		return nil, ErrUserUpdate
	}
	return logged, nil
}

func (s *UserService) resolve(ctx context.Context, id model.Identity, seed bool) (*model.AppUser, error) {
	u, err := s.repo.GetByUID(ctx, id.UID)
	if err == nil {
		return u, nil
	}
	if !errors.Is(err, repository.ErrUserNotFound) {
		logger.Error("get user", "uid", id.UID, "error", err)
		return nil, ErrUserFetch
	}

	if phone := model.NormalizeNumber(id.Phone); phone != "" {
		u, err = s.repo.GetActiveByPhone(ctx, phone)
		switch {
		case err == nil:
			if err := s.repo.Update(ctx, u.UID, map[string]interface{}{"uid": id.UID}); err != nil {
				logger.Error("relink user uid", "old_uid", u.UID, "uid", id.UID, "error", err)
				return nil, ErrUserUpdate
			}
			logger.Info("user uid relinked", "old_uid", u.UID, "uid", id.UID)
			u.UID = id.UID
			return u, nil
		case !errors.Is(err, repository.ErrUserNotFound):
			logger.Error("get user by phone", "error", err)
			return nil, ErrUserFetch
		}
	}

	if !seed {
		return nil, fmt.Errorf("%w: account not registered", ErrForbidden)
	}

	created, err := s.repo.Create(ctx, &model.AppUser{
		UID:         id.UID,
		PhoneNumber: model.NormalizeNumber(id.Phone),
		Email:       id.Email,
		FullName:    "Super Admin",
		Role:        model.RoleSuperAdmin,
		IsActive:    true,
	})
	if err != nil {
		logger.Error("create super-admin", "uid", id.UID, "error", err)
		return nil, ErrUserUpdate
	}
	logger.Info("super-admin account created", "uid", id.UID)
	return created, nil
}

// Create registers a new account on behalf of actor. The account is linked to
// a real identity the first time its owner signs in with the same phone.
func (s *UserService) Create(ctx context.Context, actor model.Session, req model.UserCreateRequest) (*model.AppUser, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if !permission.CanPromote(actor.Role, req.Role) {
		return nil, fmt.Errorf("%w: %s cannot create %s accounts", ErrForbidden, actor.Role, req.Role)
	}

	phone := model.NormalizeNumber(req.PhoneNumber)
	if err := s.ensurePhoneFree(ctx, phone); err != nil {
		return nil, err
	}

	u, err := s.repo.Create(ctx, &model.AppUser{
		UID:          uuid.NewString(),
		PhoneNumber:  phone,
		Email:        strings.TrimSpace(req.Email),
		FullName:     strings.TrimSpace(req.FullName),
		Role:         req.Role,
		IsActive:     true,
		ServiceGroup: strings.TrimSpace(req.ServiceGroup),
		Notes:        strings.TrimSpace(req.Notes),
		CreatedBy:    actor.UID,
	})
	if err != nil {
		logger.Error("create user", "error", err)
		return nil, ErrUserUpdate
	}
	return u, nil
}

func (s *UserService) ensurePhoneFree(ctx context.Context, phone string) error {
	_, err := s.repo.GetActiveByPhone(ctx, phone)
	switch {
	case err == nil:
		return fmt.Errorf("%w: %s", ErrPhoneInUse, phone)
	case errors.Is(err, repository.ErrUserNotFound):
		return nil
	}
	logger.Error("check user phone", "error", err)
	return ErrUserFetch
}

func (s *UserService) UpdateRole(ctx context.Context, actor model.Session, uid string, role model.Role) (*model.AppUser, error) {
	if !role.Valid() {
		return nil, fmt.Errorf("%w: role is invalid", ErrInvalidInput)
	}
	target, err := s.Get(ctx, uid)
	if err != nil {
		return nil, err
	}
	if s.isSeed(target) {
		return nil, fmt.Errorf("%w: the super-admin role cannot be changed", ErrForbidden)
	}
	if !permission.CanPromote(actor.Role, role) || !permission.CanPromote(actor.Role, target.Role) {
		return nil, fmt.Errorf("%w: %s cannot change %s to %s", ErrForbidden, actor.Role, target.Role, role)
	}

	if err := s.repo.Update(ctx, uid, map[string]interface{}{"role": string(role)}); err != nil {
		return nil, s.updateError(err, uid)
	}
	target.Role = role
	return target, nil
}

// Deactivate disables an account. Nobody can deactivate themselves or the
// seed super-admin.
func (s *UserService) Deactivate(ctx context.Context, actor model.Session, uid string) error {
	if actor.UID == uid {
		return fmt.Errorf("%w: cannot deactivate your own account", ErrForbidden)
	}
	target, err := s.Get(ctx, uid)
	if err != nil {
		return err
	}
	if s.isSeed(target) {
		return fmt.Errorf("%w: the super-admin cannot be deactivated", ErrForbidden)
	}
	if !permission.CanPromote(actor.Role, target.Role) {
		return fmt.Errorf("%w: %s cannot deactivate %s accounts", ErrForbidden, actor.Role, target.Role)
	}

	if err := s.repo.Update(ctx, uid, map[string]interface{}{"is_active": false}); err != nil {
		return s.updateError(err, uid)
	}
	logger.Info("user deactivated", "uid", uid, "by", actor.UID)
	return nil
}

func (s *UserService) Get(ctx context.Context, uid string) (*model.AppUser, error) {
	u, err := s.repo.GetByUID(ctx, uid)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, fmt.Errorf("%w: user %s", ErrNotFound, uid)
		}
		logger.Error("get user", "uid", uid, "error", err)
		return nil, ErrUserFetch
	}
	return u, nil
}

func (s *UserService) List(ctx context.Context, role *model.Role, activeOnly bool) ([]*model.AppUser, error) {
	if role != nil && !role.Valid() {
		return nil, fmt.Errorf("%w: role is invalid", ErrInvalidInput)
	}
	users, err := s.repo.List(ctx, role, activeOnly)
	if err != nil {
		logger.Error("list users", "error", err)
		return nil, ErrUserFetch
	}
	return users, nil
}

func (s *UserService) isSeed(u *model.AppUser) bool {
	return s.superAdmin.IsSuperAdmin(u.PhoneNumber, u.UID, u.Email)
}

func (s *UserService) updateError(err error, uid string) error {
	if errors.Is(err, repository.ErrUserNotFound) {
		return fmt.Errorf("%w: user %s", ErrNotFound, uid)
	}
	logger.Error("update user", "uid", uid, "error", err)
	return ErrUserUpdate
}

package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/eduforge/eduforge-api/internal/models"
	"github.com/eduforge/eduforge-api/internal/repository"
	appErrors "github.com/eduforge/eduforge-api/pkg/errors"
)

type userRepository interface {
	List(ctx context.Context, filter models.UserFilter) ([]models.User, int, error)
	FindByID(ctx context.Context, id string) (*models.User, error)
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	Create(ctx context.Context, user *models.User) error
	Update(ctx context.Context, user *models.User) error
	RevokeUserRefreshTokens(ctx context.Context, userID string) error
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

type suspensionWorkflow interface {
	SetUserSuspension(ctx context.Context, params repository.SetUserSuspensionParams) error
}

// CreateUserRequest holds payload for creating accounts.
type CreateUserRequest struct {
	Email    string          `json:"email" validate:"required,email"`
	Password string          `json:"password" validate:"required,min=6"`
	FullName string          `json:"full_name" validate:"required"`
	Role     models.UserRole `json:"role" validate:"required,oneof=ADMIN STUDENT"`
}

// UpdateUserRequest holds payload for updating accounts.
type UpdateUserRequest struct {
	Email    string          `json:"email" validate:"required,email"`
	FullName string          `json:"full_name" validate:"required"`
	Role     models.UserRole `json:"role" validate:"required,oneof=ADMIN STUDENT"`
}

// SuspendUserRequest holds payload for suspending an account.
type SuspendUserRequest struct {
	Reason string `json:"reason" validate:"required"`
}

// UserService handles account management use-cases.
type UserService struct {
	repo      userRepository
	workflow  suspensionWorkflow
	validator *validator.Validate
	logger    *zap.Logger
}

// NewUserService constructs the user service.
func NewUserService(repo userRepository, workflow suspensionWorkflow, validate *validator.Validate, logger *zap.Logger) *UserService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &UserService{repo: repo, workflow: workflow, validator: validate, logger: logger}
}

// List returns users and pagination metadata.
func (s *UserService) List(ctx context.Context, actor models.Actor, filter models.UserFilter) ([]models.User, *models.Pagination, error) {
	if err := Authorize(actor, ActionUserManage); err != nil {
		return nil, nil, err
	}
	users, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list users")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = 20
	}
	return users, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// Get returns one account. Students may only read their own account.
func (s *UserService) Get(ctx context.Context, actor models.Actor, id string) (*models.User, error) {
	if !actor.IsAdmin() && actor.ID != id {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "cannot read another user's account")
	}
	user, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "user not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load user")
	}
	return user, nil
}

// Create registers a new account.
func (s *UserService) Create(ctx context.Context, actor models.Actor, req CreateUserRequest, meta models.RequestMeta) (*models.User, error) {
	if err := Authorize(actor, ActionUserManage); err != nil {
		return nil, err
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid user payload")
	}

	if _, err := s.repo.FindByEmail(ctx, req.Email); err == nil {
		return nil, appErrors.Clone(appErrors.ErrConflict, "email is already registered")
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check email")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to hash password")
	}

	now := time.Now().UTC()
	user := &models.User{
		ID:           uuid.NewString(),
		Email:        req.Email,
		PasswordHash: string(hash),
		FullName:     req.FullName,
		Role:         req.Role,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.repo.Create(ctx, user); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create user")
	}

	s.audit(ctx, actor, models.AuditActionUserCreate, user.ID, map[string]interface{}{"email": user.Email, "role": user.Role}, meta)
	return user, nil
}

// Update changes account profile fields.
func (s *UserService) Update(ctx context.Context, actor models.Actor, id string, req UpdateUserRequest, meta models.RequestMeta) (*models.User, error) {
	if err := Authorize(actor, ActionUserManage); err != nil {
		return nil, err
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid user payload")
	}

	user, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "user not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load user")
	}

	user.Email = req.Email
	user.FullName = req.FullName
	user.Role = req.Role
	user.UpdatedAt = time.Now().UTC()
	if err := s.repo.Update(ctx, user); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update user")
	}

	s.audit(ctx, actor, models.AuditActionUserUpdate, user.ID, map[string]interface{}{"email": user.Email, "role": user.Role}, meta)
	return user, nil
}

// Suspend blocks an account. In-flight sessions are revoked and the user is
// notified; the audit row and notification land with the flag atomically.
func (s *UserService) Suspend(ctx context.Context, actor models.Actor, id string, req SuspendUserRequest, meta models.RequestMeta) error {
	if err := Authorize(actor, ActionUserManage); err != nil {
		return err
	}
	if err := s.validator.Struct(req); err != nil {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid suspension payload")
	}
	if actor.ID == id {
		return appErrors.Clone(appErrors.ErrConflict, "cannot suspend own account")
	}

	user, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "user not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load user")
	}
	if user.Suspended {
		return appErrors.Clone(appErrors.ErrConflict, "account is already suspended")
	}

	reason := req.Reason
	newValues, _ := json.Marshal(map[string]interface{}{"suspended": true, "reason": reason})
	err = s.workflow.SetUserSuspension(ctx, repository.SetUserSuspensionParams{
		UserID:    id,
		Suspended: true,
		Reason:    &reason,
		Effects: repository.SideEffects{
			Audit: &models.AuditLog{
				UserID:     &actor.ID,
				Action:     models.AuditActionUserSuspend,
				Resource:   "user",
				ResourceID: &id,
				NewValues:  newValues,
				IPAddress:  meta.IP,
				UserAgent:  meta.UserAgent,
			},
			Notifications: []models.Notification{{
				UserID:  id,
				Type:    models.NotificationTypeAccount,
				Title:   "Account suspended",
				Message: reason,
				Link:    "/account",
			}},
		},
	})
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to suspend user")
	}

	if err := s.repo.RevokeUserRefreshTokens(ctx, id); err != nil {
		s.logger.Warn("failed to revoke sessions for suspended user", zap.String("user_id", id), zap.Error(err))
	}
	return nil
}

// Unsuspend restores a suspended account.
func (s *UserService) Unsuspend(ctx context.Context, actor models.Actor, id string, meta models.RequestMeta) error {
	if err := Authorize(actor, ActionUserManage); err != nil {
		return err
	}

	user, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "user not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load user")
	}
	if !user.Suspended {
		return appErrors.Clone(appErrors.ErrConflict, "account is not suspended")
	}

	newValues, _ := json.Marshal(map[string]interface{}{"suspended": false})
	err = s.workflow.SetUserSuspension(ctx, repository.SetUserSuspensionParams{
		UserID:    id,
		Suspended: false,
		Reason:    nil,
		Effects: repository.SideEffects{
			Audit: &models.AuditLog{
				UserID:     &actor.ID,
				Action:     models.AuditActionUserUnsuspend,
				Resource:   "user",
				ResourceID: &id,
				NewValues:  newValues,
				IPAddress:  meta.IP,
				UserAgent:  meta.UserAgent,
			},
			Notifications: []models.Notification{{
				UserID:  id,
				Type:    models.NotificationTypeAccount,
				Title:   "Account restored",
				Message: "Your account has been restored. You can sign in again.",
				Link:    "/account",
			}},
		},
	})
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to unsuspend user")
	}
	return nil
}

func (s *UserService) audit(ctx context.Context, actor models.Actor, action, resourceID string, values map[string]interface{}, meta models.RequestMeta) {
	payload, _ := json.Marshal(values)
	if err := s.repo.CreateAuditLog(ctx, &models.AuditLog{
		UserID:     &actor.ID,
		Action:     action,
		Resource:   "user",
		ResourceID: &resourceID,
		NewValues:  payload,
		IPAddress:  meta.IP,
		UserAgent:  meta.UserAgent,
	}); err != nil {
		s.logger.Warn("failed to record user audit log", zap.String("action", action), zap.Error(err))
	}
}

package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/eduforge/eduforge-api/internal/models"
	appErrors "github.com/eduforge/eduforge-api/pkg/errors"
)

type notificationRepository interface {
	FindByID(ctx context.Context, id string) (*models.Notification, error)
	List(ctx context.Context, filter models.NotificationFilter) ([]models.Notification, int, error)
	CountUnread(ctx context.Context, userID string) (int, error)
	MarkRead(ctx context.Context, id string, readAt time.Time) error
	MarkAllRead(ctx context.Context, userID string, readAt time.Time) error
	Delete(ctx context.Context, id string) error
}

// NotificationService exposes a user's notification inbox. Creation happens
// only as workflow side effects, so this service is read-and-ack only.
type NotificationService struct {
	repo   notificationRepository
	logger *zap.Logger
}

// NewNotificationService constructs the notification service.
func NewNotificationService(repo notificationRepository, logger *zap.Logger) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotificationService{repo: repo, logger: logger}
}

// List returns the actor's notifications and pagination metadata.
func (s *NotificationService) List(ctx context.Context, actor models.Actor, filter models.NotificationFilter) ([]models.Notification, *models.Pagination, error) {
	filter.UserID = actor.ID
	notifications, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list notifications")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = 20
	}
	return notifications, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// UnreadCount returns the actor's unread badge count.
func (s *NotificationService) UnreadCount(ctx context.Context, actor models.Actor) (int, error) {
	count, err := s.repo.CountUnread(ctx, actor.ID)
	if err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count unread notifications")
	}
	return count, nil
}

// MarkRead flags one of the actor's notifications as read. Marking an
// already-read notification succeeds without effect.
func (s *NotificationService) MarkRead(ctx context.Context, actor models.Actor, id string) error {
	n, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "notification not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load notification")
	}
	if n.UserID != actor.ID {
		return appErrors.Clone(appErrors.ErrForbidden, "cannot modify another user's notification")
	}
	if err := s.repo.MarkRead(ctx, id, time.Now().UTC()); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to mark notification read")
	}
	return nil
}

// MarkAllRead flags every unread notification for the actor. Calling it again
// immediately is a no-op.
func (s *NotificationService) MarkAllRead(ctx context.Context, actor models.Actor) error {
	if err := s.repo.MarkAllRead(ctx, actor.ID, time.Now().UTC()); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to mark notifications read")
	}
	return nil
}

// Delete removes one of the actor's notifications.
func (s *NotificationService) Delete(ctx context.Context, actor models.Actor, id string) error {
	n, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "notification not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load notification")
	}
	if n.UserID != actor.ID {
		return appErrors.Clone(appErrors.ErrForbidden, "cannot delete another user's notification")
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete notification")
	}
	return nil
}

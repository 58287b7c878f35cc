package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eduforge/eduforge-api/internal/models"
	appErrors "github.com/eduforge/eduforge-api/pkg/errors"
)

type mockNotificationRepo struct {
	items      map[string]*models.Notification
	lastFilter models.NotificationFilter
	markedRead []string
	markedAll  []string
	deleted    []string
	unread     int
}

func (m *mockNotificationRepo) FindByID(ctx context.Context, id string) (*models.Notification, error) {
	n, ok := m.items[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copied := *n
	return &copied, nil
}

func (m *mockNotificationRepo) List(ctx context.Context, filter models.NotificationFilter) ([]models.Notification, int, error) {
	m.lastFilter = filter
	return nil, 0, nil
}

func (m *mockNotificationRepo) CountUnread(ctx context.Context, userID string) (int, error) {
	return m.unread, nil
}

func (m *mockNotificationRepo) MarkRead(ctx context.Context, id string, readAt time.Time) error {
	m.markedRead = append(m.markedRead, id)
	return nil
}

func (m *mockNotificationRepo) MarkAllRead(ctx context.Context, userID string, readAt time.Time) error {
	m.markedAll = append(m.markedAll, userID)
	return nil
}

func (m *mockNotificationRepo) Delete(ctx context.Context, id string) error {
	m.deleted = append(m.deleted, id)
	return nil
}

func TestNotificationServiceListForcesOwner(t *testing.T) {
	repo := &mockNotificationRepo{}
	service := NewNotificationService(repo, nil)

	_, _, err := service.List(context.Background(), models.Actor{ID: "stu-1", Role: models.RoleStudent},
		models.NotificationFilter{UserID: "someone-else"})
	require.NoError(t, err)
	assert.Equal(t, "stu-1", repo.lastFilter.UserID)
}

func TestNotificationServiceUnreadCount(t *testing.T) {
	repo := &mockNotificationRepo{unread: 4}
	service := NewNotificationService(repo, nil)

	count, err := service.UnreadCount(context.Background(), models.Actor{ID: "stu-1", Role: models.RoleStudent})
	require.NoError(t, err)
	assert.Equal(t, 4, count)
}

func TestNotificationServiceMarkReadOwnership(t *testing.T) {
	repo := &mockNotificationRepo{items: map[string]*models.Notification{
		"not-1": {ID: "not-1", UserID: "stu-1"},
	}}
	service := NewNotificationService(repo, nil)

	err := service.MarkRead(context.Background(), models.Actor{ID: "stu-2", Role: models.RoleStudent}, "not-1")
	assertErrorCode(t, err, appErrors.ErrForbidden.Code)
	assert.Empty(t, repo.markedRead)

	err = service.MarkRead(context.Background(), models.Actor{ID: "stu-1", Role: models.RoleStudent}, "not-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"not-1"}, repo.markedRead)
}

func TestNotificationServiceMarkReadMissing(t *testing.T) {
	service := NewNotificationService(&mockNotificationRepo{}, nil)

	err := service.MarkRead(context.Background(), models.Actor{ID: "stu-1", Role: models.RoleStudent}, "not-404")
	assertErrorCode(t, err, appErrors.ErrNotFound.Code)
}

func TestNotificationServiceMarkAllRead(t *testing.T) {
	repo := &mockNotificationRepo{}
	service := NewNotificationService(repo, nil)

	require.NoError(t, service.MarkAllRead(context.Background(), models.Actor{ID: "stu-1", Role: models.RoleStudent}))
	assert.Equal(t, []string{"stu-1"}, repo.markedAll)
}

func TestNotificationServiceDeleteOwnership(t *testing.T) {
	repo := &mockNotificationRepo{items: map[string]*models.Notification{
		"not-1": {ID: "not-1", UserID: "stu-1"},
	}}
	service := NewNotificationService(repo, nil)

	err := service.Delete(context.Background(), models.Actor{ID: "stu-2", Role: models.RoleStudent}, "not-1")
	assertErrorCode(t, err, appErrors.ErrForbidden.Code)
	assert.Empty(t, repo.deleted)

	require.NoError(t, service.Delete(context.Background(), models.Actor{ID: "stu-1", Role: models.RoleStudent}, "not-1"))
	assert.Equal(t, []string{"not-1"}, repo.deleted)
}

package service

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/eduforge/eduforge-api/internal/models"
	"github.com/eduforge/eduforge-api/internal/repository"
	appErrors "github.com/eduforge/eduforge-api/pkg/errors"
)

type mockUserRepo struct {
	items      map[string]*models.User
	byEmail    map[string]*models.User
	listResult []models.User
	listTotal  int
	revoked    []string
	logs       []*models.AuditLog
}

func (m *mockUserRepo) List(ctx context.Context, filter models.UserFilter) ([]models.User, int, error) {
	return m.listResult, m.listTotal, nil
}

func (m *mockUserRepo) FindByID(ctx context.Context, id string) (*models.User, error) {
	user, ok := m.items[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copied := *user
	return &copied, nil
}

func (m *mockUserRepo) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	user, ok := m.byEmail[email]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copied := *user
	return &copied, nil
}

func (m *mockUserRepo) Create(ctx context.Context, user *models.User) error {
	if m.items == nil {
		m.items = map[string]*models.User{}
	}
	m.items[user.ID] = user
	return nil
}

func (m *mockUserRepo) Update(ctx context.Context, user *models.User) error {
	m.items[user.ID] = user
	return nil
}

func (m *mockUserRepo) RevokeUserRefreshTokens(ctx context.Context, userID string) error {
	m.revoked = append(m.revoked, userID)
	return nil
}

func (m *mockUserRepo) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	m.logs = append(m.logs, log)
	return nil
}

type mockSuspensionWorkflow struct {
	calls []repository.SetUserSuspensionParams
}

func (m *mockSuspensionWorkflow) SetUserSuspension(ctx context.Context, params repository.SetUserSuspensionParams) error {
	m.calls = append(m.calls, params)
	return nil
}

func newUserService(repo *mockUserRepo, workflow *mockSuspensionWorkflow) *UserService {
	return NewUserService(repo, workflow, nil, nil)
}

func TestUserServiceCreate(t *testing.T) {
	repo := &mockUserRepo{}
	service := newUserService(repo, &mockSuspensionWorkflow{})

	user, err := service.Create(context.Background(), models.Actor{ID: "adm-1", Role: models.RoleAdmin},
		CreateUserRequest{Email: "new@eduforge.io", Password: "secret1", FullName: "New Student", Role: models.RoleStudent},
		models.RequestMeta{})
	require.NoError(t, err)
	assert.NotEmpty(t, user.ID)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte("secret1")))

	require.Len(t, repo.logs, 1)
	assert.Equal(t, models.AuditActionUserCreate, repo.logs[0].Action)
}

func TestUserServiceCreateDuplicateEmail(t *testing.T) {
	repo := &mockUserRepo{byEmail: map[string]*models.User{
		"taken@eduforge.io": {ID: "usr-1", Email: "taken@eduforge.io"},
	}}
	service := newUserService(repo, &mockSuspensionWorkflow{})

	_, err := service.Create(context.Background(), models.Actor{ID: "adm-1", Role: models.RoleAdmin},
		CreateUserRequest{Email: "taken@eduforge.io", Password: "secret1", FullName: "Dup", Role: models.RoleStudent},
		models.RequestMeta{})
	assertErrorCode(t, err, appErrors.ErrConflict.Code)
}

func TestUserServiceCreateForbiddenForStudents(t *testing.T) {
	service := newUserService(&mockUserRepo{}, &mockSuspensionWorkflow{})

	_, err := service.Create(context.Background(), models.Actor{ID: "stu-1", Role: models.RoleStudent},
		CreateUserRequest{Email: "x@eduforge.io", Password: "secret1", FullName: "X", Role: models.RoleStudent},
		models.RequestMeta{})
	assertErrorCode(t, err, appErrors.ErrForbidden.Code)
}

func TestUserServiceGetOwnership(t *testing.T) {
	repo := &mockUserRepo{items: map[string]*models.User{
		"usr-1": {ID: "usr-1", Email: "a@eduforge.io"},
	}}
	service := newUserService(repo, &mockSuspensionWorkflow{})

	_, err := service.Get(context.Background(), models.Actor{ID: "usr-2", Role: models.RoleStudent}, "usr-1")
	assertErrorCode(t, err, appErrors.ErrForbidden.Code)

	user, err := service.Get(context.Background(), models.Actor{ID: "usr-1", Role: models.RoleStudent}, "usr-1")
	require.NoError(t, err)
	assert.Equal(t, "usr-1", user.ID)
}

func TestUserServiceSuspend(t *testing.T) {
	repo := &mockUserRepo{items: map[string]*models.User{
		"usr-1": {ID: "usr-1", Email: "a@eduforge.io"},
	}}
	workflow := &mockSuspensionWorkflow{}
	service := newUserService(repo, workflow)

	err := service.Suspend(context.Background(), models.Actor{ID: "adm-1", Role: models.RoleAdmin}, "usr-1",
		SuspendUserRequest{Reason: "Chargeback fraud"}, models.RequestMeta{})
	require.NoError(t, err)

	require.Len(t, workflow.calls, 1)
	params := workflow.calls[0]
	assert.True(t, params.Suspended)
	require.NotNil(t, params.Reason)
	assert.Equal(t, "Chargeback fraud", *params.Reason)
	require.NotNil(t, params.Effects.Audit)
	assert.Equal(t, models.AuditActionUserSuspend, params.Effects.Audit.Action)
	require.Len(t, params.Effects.Notifications, 1)
	assert.Equal(t, "usr-1", params.Effects.Notifications[0].UserID)

	assert.Equal(t, []string{"usr-1"}, repo.revoked)
}

func TestUserServiceSuspendSelf(t *testing.T) {
	service := newUserService(&mockUserRepo{}, &mockSuspensionWorkflow{})

	err := service.Suspend(context.Background(), models.Actor{ID: "adm-1", Role: models.RoleAdmin}, "adm-1",
		SuspendUserRequest{Reason: "Oops"}, models.RequestMeta{})
	assertErrorCode(t, err, appErrors.ErrConflict.Code)
}

func TestUserServiceSuspendAlreadySuspended(t *testing.T) {
	repo := &mockUserRepo{items: map[string]*models.User{
		"usr-1": {ID: "usr-1", Suspended: true},
	}}
	service := newUserService(repo, &mockSuspensionWorkflow{})

	err := service.Suspend(context.Background(), models.Actor{ID: "adm-1", Role: models.RoleAdmin}, "usr-1",
		SuspendUserRequest{Reason: "Again"}, models.RequestMeta{})
	assertErrorCode(t, err, appErrors.ErrConflict.Code)
}

func TestUserServiceUnsuspend(t *testing.T) {
	repo := &mockUserRepo{items: map[string]*models.User{
		"usr-1": {ID: "usr-1", Suspended: true},
	}}
	workflow := &mockSuspensionWorkflow{}
	service := newUserService(repo, workflow)

	err := service.Unsuspend(context.Background(), models.Actor{ID: "adm-1", Role: models.RoleAdmin}, "usr-1", models.RequestMeta{})
	require.NoError(t, err)

	require.Len(t, workflow.calls, 1)
	params := workflow.calls[0]
	assert.False(t, params.Suspended)
	assert.Nil(t, params.Reason)
	assert.Equal(t, models.AuditActionUserUnsuspend, params.Effects.Audit.Action)
}

func TestUserServiceUnsuspendNotSuspended(t *testing.T) {
	repo := &mockUserRepo{items: map[string]*models.User{
		"usr-1": {ID: "usr-1"},
	}}
	service := newUserService(repo, &mockSuspensionWorkflow{})

	err := service.Unsuspend(context.Background(), models.Actor{ID: "adm-1", Role: models.RoleAdmin}, "usr-1", models.RequestMeta{})
	assertErrorCode(t, err, appErrors.ErrConflict.Code)
}

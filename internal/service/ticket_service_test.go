package service

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eduforge/eduforge-api/internal/models"
	"github.com/eduforge/eduforge-api/internal/repository"
	appErrors "github.com/eduforge/eduforge-api/pkg/errors"
)

type mockTicketRepo struct {
	items      map[string]*models.Ticket
	replies    map[string][]models.TicketReply
	listResult []models.Ticket
	listTotal  int
	lastFilter models.TicketFilter
}

func (m *mockTicketRepo) List(ctx context.Context, filter models.TicketFilter) ([]models.Ticket, int, error) {
	m.lastFilter = filter
	return m.listResult, m.listTotal, nil
}

func (m *mockTicketRepo) FindByID(ctx context.Context, id string) (*models.Ticket, error) {
	ticket, ok := m.items[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copied := *ticket
	return &copied, nil
}

func (m *mockTicketRepo) Create(ctx context.Context, ticket *models.Ticket) error {
	if m.items == nil {
		m.items = map[string]*models.Ticket{}
	}
	m.items[ticket.ID] = ticket
	return nil
}

func (m *mockTicketRepo) ListReplies(ctx context.Context, ticketID string) ([]models.TicketReply, error) {
	return m.replies[ticketID], nil
}

type mockTicketWorkflow struct {
	statusUpdates []repository.UpdateTicketStatusParams
	replies       []repository.CreateTicketReplyParams
	replyErr      error
}

func (m *mockTicketWorkflow) UpdateTicketStatus(ctx context.Context, params repository.UpdateTicketStatusParams) error {
	m.statusUpdates = append(m.statusUpdates, params)
	return nil
}

func (m *mockTicketWorkflow) CreateTicketReply(ctx context.Context, params repository.CreateTicketReplyParams) error {
	if m.replyErr != nil {
		return m.replyErr
	}
	m.replies = append(m.replies, params)
	return nil
}

type mockAuditWriter struct {
	logs []*models.AuditLog
}

func (m *mockAuditWriter) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	m.logs = append(m.logs, log)
	return nil
}

func newTicketService(repo *mockTicketRepo, requests *mockRequestRepo, workflow *mockTicketWorkflow) *TicketService {
	return NewTicketService(repo, requests, workflow, nil, nil)
}

func TestTicketServiceCreate(t *testing.T) {
	repo := &mockTicketRepo{}
	workflow := &mockTicketWorkflow{}
	service := newTicketService(repo, &mockRequestRepo{}, workflow)

	ticket, err := service.Create(context.Background(), models.Actor{ID: "stu-1", Role: models.RoleStudent},
		CreateTicketRequest{Subject: "Missing files", Message: "The delivery archive is empty."}, models.RequestMeta{})
	require.NoError(t, err)
	assert.Equal(t, models.TicketStatusOpen, ticket.Status)
	assert.Equal(t, models.TicketPriorityNormal, ticket.Priority)
	assert.Equal(t, "stu-1", ticket.UserID)

	require.Len(t, workflow.replies, 1)
	opening := workflow.replies[0]
	assert.Equal(t, ticket.ID, opening.Reply.TicketID)
	assert.Equal(t, "The delivery archive is empty.", opening.Reply.Message)
	assert.False(t, opening.Reply.AdminAuthor)
	assert.Nil(t, opening.TicketStatus)
	require.NotNil(t, opening.Effects.Audit)
	assert.Equal(t, models.AuditActionTicketCreate, opening.Effects.Audit.Action)
	require.NotNil(t, opening.Effects.AdminBroadcast)
	assert.Equal(t, "New support ticket", opening.Effects.AdminBroadcast.Title)
}

func TestTicketServiceCreateAdminSkipsBroadcast(t *testing.T) {
	workflow := &mockTicketWorkflow{}
	service := newTicketService(&mockTicketRepo{}, &mockRequestRepo{}, workflow)

	_, err := service.Create(context.Background(), models.Actor{ID: "adm-1", Role: models.RoleAdmin},
		CreateTicketRequest{Subject: "Internal note", Message: "Tracking a refund."}, models.RequestMeta{})
	require.NoError(t, err)
	require.Len(t, workflow.replies, 1)
	assert.True(t, workflow.replies[0].Reply.AdminAuthor)
	assert.Nil(t, workflow.replies[0].Effects.AdminBroadcast)
}

func TestTicketServiceCreateUnknownPriority(t *testing.T) {
	service := newTicketService(&mockTicketRepo{}, &mockRequestRepo{}, &mockTicketWorkflow{})

	_, err := service.Create(context.Background(), models.Actor{ID: "stu-1", Role: models.RoleStudent},
		CreateTicketRequest{Subject: "Hello", Message: "World", Priority: "BLOCKER"}, models.RequestMeta{})
	assertErrorCode(t, err, appErrors.ErrValidation.Code)
}

func TestTicketServiceCreateRequestOwnership(t *testing.T) {
	requests := &mockRequestRepo{items: map[string]*models.Request{
		"req-1": {ID: "req-1", StudentID: "stu-2", Status: models.RequestStatusInProgress},
	}}
	service := newTicketService(&mockTicketRepo{}, requests, &mockTicketWorkflow{})

	reqID := "req-1"
	_, err := service.Create(context.Background(), models.Actor{ID: "stu-1", Role: models.RoleStudent},
		CreateTicketRequest{Subject: "Progress?", Message: "Any update?", RequestID: &reqID}, models.RequestMeta{})
	assertErrorCode(t, err, appErrors.ErrForbidden.Code)

	missing := "req-404"
	_, err = service.Create(context.Background(), models.Actor{ID: "stu-1", Role: models.RoleStudent},
		CreateTicketRequest{Subject: "Progress?", Message: "Any update?", RequestID: &missing}, models.RequestMeta{})
	assertErrorCode(t, err, appErrors.ErrNotFound.Code)
}

func TestTicketServiceGetOwnership(t *testing.T) {
	repo := &mockTicketRepo{items: map[string]*models.Ticket{
		"tic-1": {ID: "tic-1", UserID: "stu-1", Status: models.TicketStatusOpen},
	}}
	service := newTicketService(repo, &mockRequestRepo{}, &mockTicketWorkflow{})

	_, err := service.Get(context.Background(), models.Actor{ID: "stu-2", Role: models.RoleStudent}, "tic-1")
	assertErrorCode(t, err, appErrors.ErrForbidden.Code)

	ticket, err := service.Get(context.Background(), models.Actor{ID: "adm-1", Role: models.RoleAdmin}, "tic-1")
	require.NoError(t, err)
	assert.Equal(t, "tic-1", ticket.ID)
}

func TestTicketServiceListScopesStudents(t *testing.T) {
	repo := &mockTicketRepo{}
	service := newTicketService(repo, &mockRequestRepo{}, &mockTicketWorkflow{})

	_, _, err := service.List(context.Background(), models.Actor{ID: "stu-1", Role: models.RoleStudent},
		models.TicketFilter{UserID: "someone-else"})
	require.NoError(t, err)
	assert.Equal(t, "stu-1", repo.lastFilter.UserID)
}

func TestTicketServiceUpdateStatusForbiddenForStudents(t *testing.T) {
	service := newTicketService(&mockTicketRepo{}, &mockRequestRepo{}, &mockTicketWorkflow{})

	_, err := service.UpdateStatus(context.Background(), models.Actor{ID: "stu-1", Role: models.RoleStudent}, "tic-1",
		UpdateTicketStatusRequest{Status: models.TicketStatusResolved}, models.RequestMeta{})
	assertErrorCode(t, err, appErrors.ErrForbidden.Code)
}

func TestTicketServiceUpdateStatus(t *testing.T) {
	repo := &mockTicketRepo{items: map[string]*models.Ticket{
		"tic-1": {ID: "tic-1", UserID: "stu-1", Subject: "Missing files", Status: models.TicketStatusOpen},
	}}
	workflow := &mockTicketWorkflow{}
	service := newTicketService(repo, &mockRequestRepo{}, workflow)

	ticket, err := service.UpdateStatus(context.Background(), models.Actor{ID: "adm-1", Role: models.RoleAdmin}, "tic-1",
		UpdateTicketStatusRequest{Status: models.TicketStatusInProgress}, models.RequestMeta{})
	require.NoError(t, err)
	assert.Equal(t, models.TicketStatusInProgress, ticket.Status)

	require.Len(t, workflow.statusUpdates, 1)
	update := workflow.statusUpdates[0]
	assert.Equal(t, models.TicketStatusInProgress, update.Status)
	require.NotNil(t, update.Effects.Audit)
	assert.Equal(t, "UPDATE_TICKET_STATUS_IN_PROGRESS", update.Effects.Audit.Action)
	require.Len(t, update.Effects.Notifications, 1)
	assert.Equal(t, "stu-1", update.Effects.Notifications[0].UserID)
}

func TestTicketServiceUpdateStatusInvalidTransition(t *testing.T) {
	repo := &mockTicketRepo{items: map[string]*models.Ticket{
		"tic-1": {ID: "tic-1", UserID: "stu-1", Status: models.TicketStatusClosed},
	}}
	service := newTicketService(repo, &mockRequestRepo{}, &mockTicketWorkflow{})

	_, err := service.UpdateStatus(context.Background(), models.Actor{ID: "adm-1", Role: models.RoleAdmin}, "tic-1",
		UpdateTicketStatusRequest{Status: models.TicketStatusResolved}, models.RequestMeta{})
	assertErrorCode(t, err, appErrors.ErrInvalidTransition.Code)
}

func TestTicketServiceUpdateStatusSameStatusNoop(t *testing.T) {
	repo := &mockTicketRepo{items: map[string]*models.Ticket{
		"tic-1": {ID: "tic-1", UserID: "stu-1", Status: models.TicketStatusOpen},
	}}
	workflow := &mockTicketWorkflow{}
	service := newTicketService(repo, &mockRequestRepo{}, workflow)

	ticket, err := service.UpdateStatus(context.Background(), models.Actor{ID: "adm-1", Role: models.RoleAdmin}, "tic-1",
		UpdateTicketStatusRequest{Status: models.TicketStatusOpen}, models.RequestMeta{})
	require.NoError(t, err)
	assert.Equal(t, models.TicketStatusOpen, ticket.Status)
	assert.Empty(t, workflow.statusUpdates)
}

func TestTicketServiceStudentReplyReopens(t *testing.T) {
	repo := &mockTicketRepo{items: map[string]*models.Ticket{
		"tic-1": {ID: "tic-1", UserID: "stu-1", Subject: "Missing files", Status: models.TicketStatusResolved},
	}}
	workflow := &mockTicketWorkflow{}
	service := newTicketService(repo, &mockRequestRepo{}, workflow)

	reply, err := service.AddReply(context.Background(), models.Actor{ID: "stu-1", Role: models.RoleStudent}, "tic-1",
		AddTicketReplyRequest{Message: "Still broken."}, models.RequestMeta{})
	require.NoError(t, err)
	assert.False(t, reply.AdminAuthor)

	require.Len(t, workflow.replies, 1)
	params := workflow.replies[0]
	require.NotNil(t, params.TicketStatus)
	assert.Equal(t, models.TicketStatusInProgress, *params.TicketStatus)
	require.NotNil(t, params.Effects.Audit)
	assert.Contains(t, string(params.Effects.Audit.NewValues), `"reopened":true`)
	require.NotNil(t, params.Effects.AdminBroadcast)
	assert.Equal(t, "Ticket reopened", params.Effects.AdminBroadcast.Title)
}

func TestTicketServiceStudentReplyToOpenTicket(t *testing.T) {
	repo := &mockTicketRepo{items: map[string]*models.Ticket{
		"tic-1": {ID: "tic-1", UserID: "stu-1", Subject: "Missing files", Status: models.TicketStatusOpen},
	}}
	workflow := &mockTicketWorkflow{}
	service := newTicketService(repo, &mockRequestRepo{}, workflow)

	_, err := service.AddReply(context.Background(), models.Actor{ID: "stu-1", Role: models.RoleStudent}, "tic-1",
		AddTicketReplyRequest{Message: "Adding details."}, models.RequestMeta{})
	require.NoError(t, err)

	require.Len(t, workflow.replies, 1)
	params := workflow.replies[0]
	assert.Nil(t, params.TicketStatus)
	require.NotNil(t, params.Effects.AdminBroadcast)
	assert.Equal(t, "New reply", params.Effects.AdminBroadcast.Title)
}

func TestTicketServiceAdminReplyReopens(t *testing.T) {
	repo := &mockTicketRepo{items: map[string]*models.Ticket{
		"tic-1": {ID: "tic-1", UserID: "stu-1", Subject: "Missing files", Status: models.TicketStatusClosed},
	}}
	workflow := &mockTicketWorkflow{}
	service := newTicketService(repo, &mockRequestRepo{}, workflow)

	reply, err := service.AddReply(context.Background(), models.Actor{ID: "adm-1", Role: models.RoleAdmin}, "tic-1",
		AddTicketReplyRequest{Message: "This was fixed in the latest delivery."}, models.RequestMeta{})
	require.NoError(t, err)
	assert.True(t, reply.AdminAuthor)

	require.Len(t, workflow.replies, 1)
	params := workflow.replies[0]
	require.NotNil(t, params.TicketStatus, "a reply from either party reopens a settled ticket")
	assert.Equal(t, models.TicketStatusInProgress, *params.TicketStatus)
	require.NotNil(t, params.Effects.Audit)
	assert.Contains(t, string(params.Effects.Audit.NewValues), `"reopened":true`)
	assert.Nil(t, params.Effects.AdminBroadcast)
	require.Len(t, params.Effects.Notifications, 1)
	assert.Equal(t, "stu-1", params.Effects.Notifications[0].UserID)
	assert.Equal(t, "Ticket reopened", params.Effects.Notifications[0].Title)
}

func TestTicketServiceAdminReplyToOpenTicket(t *testing.T) {
	repo := &mockTicketRepo{items: map[string]*models.Ticket{
		"tic-1": {ID: "tic-1", UserID: "stu-1", Subject: "Missing files", Status: models.TicketStatusInProgress},
	}}
	workflow := &mockTicketWorkflow{}
	service := newTicketService(repo, &mockRequestRepo{}, workflow)

	_, err := service.AddReply(context.Background(), models.Actor{ID: "adm-1", Role: models.RoleAdmin}, "tic-1",
		AddTicketReplyRequest{Message: "Working on it."}, models.RequestMeta{})
	require.NoError(t, err)

	require.Len(t, workflow.replies, 1)
	params := workflow.replies[0]
	assert.Nil(t, params.TicketStatus)
	require.Len(t, params.Effects.Notifications, 1)
	assert.Equal(t, "New reply", params.Effects.Notifications[0].Title)
}

func TestTicketServiceReplyOwnership(t *testing.T) {
	repo := &mockTicketRepo{items: map[string]*models.Ticket{
		"tic-1": {ID: "tic-1", UserID: "stu-1", Status: models.TicketStatusOpen},
	}}
	service := newTicketService(repo, &mockRequestRepo{}, &mockTicketWorkflow{})

	_, err := service.AddReply(context.Background(), models.Actor{ID: "stu-2", Role: models.RoleStudent}, "tic-1",
		AddTicketReplyRequest{Message: "Hello"}, models.RequestMeta{})
	assertErrorCode(t, err, appErrors.ErrForbidden.Code)
}

func TestTicketServiceReplies(t *testing.T) {
	repo := &mockTicketRepo{
		items: map[string]*models.Ticket{
			"tic-1": {ID: "tic-1", UserID: "stu-1", Status: models.TicketStatusOpen},
		},
		replies: map[string][]models.TicketReply{
			"tic-1": {{ID: "rep-1", TicketID: "tic-1", Message: "Opening"}},
		},
	}
	service := newTicketService(repo, &mockRequestRepo{}, &mockTicketWorkflow{})

	replies, err := service.Replies(context.Background(), models.Actor{ID: "stu-1", Role: models.RoleStudent}, "tic-1")
	require.NoError(t, err)
	require.Len(t, replies, 1)

	_, err = service.Replies(context.Background(), models.Actor{ID: "stu-2", Role: models.RoleStudent}, "tic-1")
	assertErrorCode(t, err, appErrors.ErrForbidden.Code)
}

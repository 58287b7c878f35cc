package repository

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/eduforge/eduforge-api/internal/models"
)

func newWorkflowRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

type recordedMetrics struct {
	transitions []string
	notified    int
}

func (m *recordedMetrics) RecordTransition(entity, status string) {
	m.transitions = append(m.transitions, entity+":"+status)
}

func (m *recordedMetrics) RecordNotifications(n int) {
	m.notified += n
}

func TestWorkflowRepositoryCreateRequest(t *testing.T) {
	db, mock, cleanup := newWorkflowRepoMock(t)
	defer cleanup()

	metrics := &recordedMetrics{}
	repo := NewWorkflowRepository(db).WithMetrics(metrics)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO requests")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO audit_logs")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO notifications")).
		WillReturnResult(sqlmock.NewResult(1, 2))
	mock.ExpectCommit()

	studentID := "stu-1"
	err := repo.CreateRequest(context.Background(), CreateRequestParams{
		Request: &models.Request{
			StudentID: studentID,
			ServiceID: "svc-1",
			Title:     "Essay review",
			Status:    models.RequestStatusCreated,
		},
		Effects: SideEffects{
			Audit: &models.AuditLog{
				UserID:   &studentID,
				Action:   models.AuditActionRequestCreate,
				Resource: "request",
			},
			AdminBroadcast: &models.Notification{
				Type:    models.NotificationTypeRequest,
				Title:   "New request",
				Message: "A new request was submitted.",
			},
		},
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
	require.Equal(t, []string{"request:CREATED"}, metrics.transitions)
	require.Equal(t, 2, metrics.notified)
}

func TestWorkflowRepositoryUpdateRequestStatusRollsBackOnAuditFailure(t *testing.T) {
	db, mock, cleanup := newWorkflowRepoMock(t)
	defer cleanup()

	repo := NewWorkflowRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE requests SET")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO audit_logs")).
		WillReturnError(errors.New("audit insert failed"))
	mock.ExpectRollback()

	adminID := "adm-1"
	err := repo.UpdateRequestStatus(context.Background(), UpdateRequestStatusParams{
		RequestID: "req-1",
		Status:    models.RequestStatusPaymentApproved,
		Effects: SideEffects{
			Audit: &models.AuditLog{UserID: &adminID, Action: "UPDATE_REQUEST_STATUS_APPROVED", Resource: "request"},
		},
	})
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWorkflowRepositoryUpdateRequestStatusOptionalColumns(t *testing.T) {
	db, mock, cleanup := newWorkflowRepoMock(t)
	defer cleanup()

	repo := NewWorkflowRepository(db)
	closedAt := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE requests SET status = $2, updated_at = $3, closed_at = $4 WHERE id = $1")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := repo.UpdateRequestStatus(context.Background(), UpdateRequestStatusParams{
		RequestID: "req-1",
		Status:    models.RequestStatusClosed,
		ClosedAt:  &closedAt,
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWorkflowRepositoryCreateTicketReplyReopens(t *testing.T) {
	db, mock, cleanup := newWorkflowRepoMock(t)
	defer cleanup()

	metrics := &recordedMetrics{}
	repo := NewWorkflowRepository(db).WithMetrics(metrics)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO ticket_replies")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE tickets SET status = $2, updated_at = $3 WHERE id = $1")).
		WithArgs("tic-1", models.TicketStatusInProgress, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO notifications")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	inProgress := models.TicketStatusInProgress
	err := repo.CreateTicketReply(context.Background(), CreateTicketReplyParams{
		Reply: &models.TicketReply{
			TicketID: "tic-1",
			AuthorID: "stu-1",
			Message:  "Still broken.",
		},
		TicketStatus: &inProgress,
		Effects: SideEffects{
			AdminBroadcast: &models.Notification{
				Type:  models.NotificationTypeTicket,
				Title: "Ticket reopened",
			},
		},
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
	require.Equal(t, []string{"ticket:IN_PROGRESS"}, metrics.transitions)
}

func TestWorkflowRepositoryCreateTicketReplyTouchesTicket(t *testing.T) {
	db, mock, cleanup := newWorkflowRepoMock(t)
	defer cleanup()

	repo := NewWorkflowRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO ticket_replies")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE tickets SET updated_at = $2 WHERE id = $1")).
		WithArgs("tic-1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := repo.CreateTicketReply(context.Background(), CreateTicketReplyParams{
		Reply: &models.TicketReply{TicketID: "tic-1", AuthorID: "adm-1", AdminAuthor: true, Message: "Fixed."},
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWorkflowRepositorySetUserSuspension(t *testing.T) {
	db, mock, cleanup := newWorkflowRepoMock(t)
	defer cleanup()

	repo := NewWorkflowRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE users SET")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO audit_logs")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO notifications")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	adminID := "adm-1"
	reason := "Chargeback fraud"
	err := repo.SetUserSuspension(context.Background(), SetUserSuspensionParams{
		UserID:    "usr-1",
		Suspended: true,
		Reason:    &reason,
		Effects: SideEffects{
			Audit: &models.AuditLog{UserID: &adminID, Action: models.AuditActionUserSuspend, Resource: "user"},
			Notifications: []models.Notification{{
				UserID: "usr-1", Type: models.NotificationTypeAccount, Title: "Account suspended",
			}},
		},
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

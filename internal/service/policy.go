package service

import (
	"github.com/eduforge/eduforge-api/internal/models"
	appErrors "github.com/eduforge/eduforge-api/pkg/errors"
)

// Action names a guarded operation. Every workflow entry point authorizes the
// acting user against this table before touching any entity, so a caller
// without the capability receives 403 regardless of whether the target exists.
type Action string

const (
	ActionRequestCreate       Action = "request.create"
	ActionRequestUpdateStatus Action = "request.update_status"
	ActionPaymentSubmit       Action = "payment.submit"
	ActionPaymentReview       Action = "payment.review"
	ActionDisputeFile         Action = "dispute.file"
	ActionDisputeResolve      Action = "dispute.resolve"
	ActionTicketCreate        Action = "ticket.create"
	ActionTicketUpdateStatus  Action = "ticket.update_status"
	ActionTicketReply         Action = "ticket.reply"
	ActionUserManage          Action = "user.manage"
	ActionCatalogManage       Action = "catalog.manage"
	ActionSettingManage       Action = "setting.manage"
	ActionAuditView           Action = "audit.view"
	ActionAuditExport         Action = "audit.export"
	ActionFileUpload          Action = "file.upload"
)

var actionRoles = map[Action][]models.UserRole{
	ActionRequestCreate:       {models.RoleStudent},
	ActionRequestUpdateStatus: {models.RoleAdmin},
	ActionPaymentSubmit:       {models.RoleStudent},
	ActionPaymentReview:       {models.RoleAdmin},
	ActionDisputeFile:         {models.RoleStudent, models.RoleAdmin},
	ActionDisputeResolve:      {models.RoleAdmin},
	ActionTicketCreate:        {models.RoleStudent, models.RoleAdmin},
	ActionTicketUpdateStatus:  {models.RoleAdmin},
	ActionTicketReply:         {models.RoleStudent, models.RoleAdmin},
	ActionUserManage:          {models.RoleAdmin},
	ActionCatalogManage:       {models.RoleAdmin},
	ActionSettingManage:       {models.RoleAdmin},
	ActionAuditView:           {models.RoleAdmin},
	ActionAuditExport:         {models.RoleAdmin},
	ActionFileUpload:          {models.RoleStudent, models.RoleAdmin},
}

// Authorize checks the actor's role against the action table. Ownership checks
// on specific entities remain the caller's responsibility.
func Authorize(actor models.Actor, action Action) error {
	roles, ok := actionRoles[action]
	if !ok {
		return appErrors.Clone(appErrors.ErrForbidden, "unknown action")
	}
	for _, role := range roles {
		if actor.Role == role {
			return nil
		}
	}
	return appErrors.Clone(appErrors.ErrForbidden, "role does not permit this action")
}

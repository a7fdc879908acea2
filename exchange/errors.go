package exchange

import (
	"skillbarter/apperr"
	"skillbarter/auth"
)

var (
	ErrNotFound              = apperr.New(apperr.KindNotFound, "exchange: not found")
	ErrRecipientNotFound     = apperr.New(apperr.KindNotFound, "exchange: recipient not found")
	ErrUnauthenticated       = apperr.New(apperr.KindUnauthorized, "exchange: caller identity required")
	ErrNotParticipant        = apperr.New(apperr.KindForbidden, "exchange: caller is not a participant")
	ErrAlreadyAccepted       = apperr.New(apperr.KindPreconditionFailed, "exchange: already accepted")
	ErrNegotiationIncomplete = apperr.New(apperr.KindPreconditionFailed, "exchange: negotiation is not fully agreed")
	ErrProtocolStatus        = apperr.New(apperr.KindPreconditionFailed, "exchange: status is reached through agreement, acceptance or confirmation")
	ErrSelfExchange          = apperr.New(apperr.KindValidation, "exchange: cannot open an exchange with yourself")
	ErrMissingRecipient      = apperr.New(apperr.KindValidation, "exchange: recipientId is required")
	ErrUnknownStatus         = apperr.New(apperr.KindValidation, "exchange: unknown status")
)

// Authorize resolves the caller's slot on ex. Administrators pass when
// adminOK is set and get an empty role back.
func Authorize(ex *Exchange, caller auth.Identity, adminOK bool) (Role, error) {
	if caller.UserID == "" {
		return "", ErrUnauthenticated
	}
	if role, ok := ex.RoleOf(caller.UserID); ok {
		return role, nil
	}
	if adminOK && caller.IsAdmin() {
		return "", nil
	}
	return "", ErrNotParticipant
}

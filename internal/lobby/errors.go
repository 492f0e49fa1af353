package lobby

import "errors"

// Rejection is a validation failure that is reported to the requester as
// success:false plus a machine readable reason.
type Rejection struct {
	reason string
}

func (r *Rejection) Error() string {
	return "lobby: " + r.reason
}

// Reason is the wire value carried by the failed ack.
func (r *Rejection) Reason() string {
	return r.reason
}

var (
	ErrLobbyNotFound       = &Rejection{"lobby_not_found"}
	ErrLobbyFull           = &Rejection{"lobby_full"}
	ErrLobbyInGame         = &Rejection{"lobby_in_game"}
	ErrAlreadyInLobby      = &Rejection{"already_in_lobby"}
	ErrNotHost             = &Rejection{"not_host"}
	ErrNotMember           = &Rejection{"not_member"}
	ErrInvalidPhase        = &Rejection{"invalid_phase"}
	ErrPlayersNotReady     = &Rejection{"players_not_ready"}
	ErrNotEnoughPlayers    = &Rejection{"not_enough_players"}
	ErrCannotKickSelf      = &Rejection{"cannot_kick_self"}
	ErrTargetNotFound      = &Rejection{"target_not_found"}
	ErrInvitationExpired   = &Rejection{"invitation_expired"}
	ErrInvitationNotFound  = &Rejection{"invitation_not_found"}
	ErrInvalidPayload      = &Rejection{"invalid_payload"}
	ErrUnknownType         = &Rejection{"unknown_type"}
	ErrNotAuthenticated    = &Rejection{"not_authenticated"}
	ErrInvitationForbidden = &Rejection{"invitation_forbidden"}
)

// ErrNoChange is returned when a request would not alter the lobby. It is
// not reported to clients.
var ErrNoChange = errors.New("lobby: no change")

// ReasonOf maps err to a wire reason. Errors that are not rejections are
// reported as internal_error so storage failures never leak to clients.
func ReasonOf(err error) string {
	if err == nil {
		return ""
	}
	var rej *Rejection
	if errors.As(err, &rej) {
		return rej.reason
	}
	return "internal_error"
}

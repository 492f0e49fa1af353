package lobbyview

var reasonText = map[string]string{
	"lobby_not_found":      "That lobby no longer exists.",
	"lobby_full":           "That lobby is full.",
	"lobby_in_game":        "That lobby has already started its game.",
	"already_in_lobby":     "You are already in a lobby. Leave it first.",
	"not_host":             "Only the host can do that.",
	"not_member":           "You are not in that lobby.",
	"invalid_phase":        "That is not possible right now.",
	"players_not_ready":    "Every player must be ready before the game can start.",
	"not_enough_players":   "At least two players are needed to start.",
	"cannot_kick_self":     "You cannot remove yourself. Leave the lobby instead.",
	"target_not_found":     "That player is not in the lobby.",
	"invitation_expired":   "This invitation has expired.",
	"invitation_not_found": "This invitation is no longer valid.",
	"invitation_forbidden": "You cannot invite players to this lobby.",
	"invalid_payload":      "The request was malformed.",
	"unknown_type":         "The server did not understand the request.",
	"not_authenticated":    "Your session has expired. Please log in again.",
	"internal_error":       "The server ran into a problem. Try again.",
}

// DescribeReason maps a rejection reason from an ack to a message for the
// user.
func DescribeReason(reason string) string {
	if text, ok := reasonText[reason]; ok {
		return text
	}
	if reason == "" {
		return "The request failed."
	}
	return "The request failed (" + reason + ")."
}

package protocol

// Client -> server commands
const (
	TypeLobbyCreate       = "lobby:create"
	TypeLobbyJoin         = "lobby:join"
	TypeLobbyLeave        = "lobby:leave"
	TypeLobbyReady        = "lobby:ready"
	TypeLobbyCustomize    = "lobby:customize"
	TypeLobbyKick         = "lobby:kick"
	TypeLobbyStart        = "lobby:start"
	TypeLobbyChat         = "lobby:chat"
	TypeLobbyAddAI        = "lobby:ai:add"
	TypeLobbyRemoveAI     = "lobby:ai:remove"
	TypeLobbySync         = "lobby:sync"
	TypeLobbyInvite       = "lobby:invite"
	TypeInvitationRespond = "lobby:invitation:respond"
	TypeFriendRespond     = "friend:request:respond"
)

// Server -> client broadcasts and direct messages
const (
	TypePlayerJoin      = "lobby:player:join"
	TypePlayerLeave     = "lobby:player:leave"
	TypePlayerReady     = "lobby:player:ready"
	TypePlayerKicked    = "lobby:player:kicked"
	TypePlayerCustomize = "lobby:player:customize"
	TypePlayerOffline   = "lobby:player:offline"
	TypePlayerOnline    = "lobby:player:online"
	TypeKicked          = "lobby:kicked"
	TypeGameStarting    = "lobby:game:starting"
	TypeGameStarted     = "lobby:game:started"
	TypeLobbyFinished   = "lobby:finished"
	TypeInvitation      = "lobby:invitation"
	TypeNotificationNew = "notification:new"
	TypeFriendStatus    = "friend:status"
	TypeChatMessage     = "chat:message"
	TypeError           = "error:protocol"
)

// Synthetic lifecycle types dispatched locally by the client transport
const (
	TypeTransportConnect    = "transport:connect"
	TypeTransportDisconnect = "transport:disconnect"
)

// Wildcard subscribes a transport handler to every envelope type.
const Wildcard = "*"

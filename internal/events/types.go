// Package events defines the lobby events produced by connections and the
// bus that fans them out to the application's consumers.
package events

import (
	"time"

	"github.com/LeonardBesson/lobby-client-lib/internal/protocol"
)

// EventType identifies the kind of lobby event.
type EventType string

const (
	// Connection lifecycle
	EventConnectionEstablished EventType = "connection_established"
	EventDisconnected          EventType = "disconnected"

	// Authentication
	EventAuthSuccess EventType = "auth_success"
	EventAuthFailure EventType = "auth_failure"

	// Friends
	EventAddFriendResponse           EventType = "add_friend_response"
	EventFriendRequestActionResponse EventType = "friend_request_action_response"
	EventFriendRequestsUpdated       EventType = "friend_requests_updated"
	EventFriendListUpdated           EventType = "friend_list_updated"
	EventRemoveFriendResponse        EventType = "remove_friend_response"

	// Messaging
	EventNewPrivateMessage  EventType = "new_private_message"
	EventSystemNotification EventType = "system_notification"

	// Lobby
	EventLobbyInvite       EventType = "lobby_invite"
	EventLobbyJoined       EventType = "lobby_joined"
	EventLobbyMemberUpdate EventType = "lobby_member_update"
	EventLobbyLeft         EventType = "lobby_left"
	EventNewLobbyMessage   EventType = "new_lobby_message"

	// EventAny subscribes a bus handler to every event type.
	EventAny EventType = "*"
)

// AllTypes lists every concrete event type in declaration order.
var AllTypes = []EventType{
	EventConnectionEstablished,
	EventDisconnected,
	EventAuthSuccess,
	EventAuthFailure,
	EventAddFriendResponse,
	EventFriendRequestActionResponse,
	EventFriendRequestsUpdated,
	EventFriendListUpdated,
	EventRemoveFriendResponse,
	EventNewPrivateMessage,
	EventSystemNotification,
	EventLobbyInvite,
	EventLobbyJoined,
	EventLobbyMemberUpdate,
	EventLobbyLeft,
	EventNewLobbyMessage,
}

// Event is a single occurrence on a connection. Source is the peer address.
type Event struct {
	Type    EventType   `json:"type"`
	Source  string      `json:"source"`
	Time    time.Time   `json:"time"`
	Payload interface{} `json:"payload"`
}

// New stamps an event with the current time.
func New(t EventType, source string, payload interface{}) Event {
	return Event{Type: t, Source: source, Time: time.Now(), Payload: payload}
}

// ConnectionEstablishedPayload is sent once the version handshake succeeds.
type ConnectionEstablishedPayload struct {
	ProtocolVersion uint16 `json:"protocol_version"`
	AppVersion      uint16 `json:"app_version"`
}

// DisconnectedPayload carries the reason a connection was closed.
type DisconnectedPayload struct {
	Reason string `json:"reason"`
}

type AuthSuccessPayload struct {
	SessionToken string               `json:"session_token"`
	Profile      protocol.UserProfile `json:"profile"`
}

type AuthFailurePayload struct {
	ErrorCode protocol.ErrorCode `json:"error_code"`
}

// AddFriendResponsePayload reports the outcome of a friend request. A nil
// ErrorCode means success.
type AddFriendResponsePayload struct {
	UserTag   string              `json:"user_tag"`
	ErrorCode *protocol.ErrorCode `json:"error_code,omitempty"`
}

type FriendRequestActionResponsePayload struct {
	RequestID string              `json:"request_id"`
	ErrorCode *protocol.ErrorCode `json:"error_code,omitempty"`
}

type FriendRequestsUpdatedPayload struct {
	AsInviter []protocol.FriendRequest `json:"as_inviter"`
	AsInvitee []protocol.FriendRequest `json:"as_invitee"`
}

type FriendListUpdatedPayload struct {
	Friends []protocol.Friend `json:"friends"`
}

type RemoveFriendResponsePayload struct {
	ErrorCode *protocol.ErrorCode `json:"error_code,omitempty"`
}

type NewPrivateMessagePayload struct {
	Profile protocol.UserProfile `json:"profile"`
	Content string               `json:"content"`
	IsSelf  bool                 `json:"is_self"`
}

type SystemNotificationPayload struct {
	Content string `json:"content"`
}

type LobbyInvitePayload struct {
	InviteID string               `json:"invite_id"`
	Inviter  protocol.UserProfile `json:"inviter"`
}

type LobbyJoinedPayload struct {
	LobbyID string `json:"lobby_id"`
}

type LobbyMemberUpdatePayload struct {
	LobbyID string                 `json:"lobby_id"`
	Members []protocol.LobbyMember `json:"members"`
}

type LobbyLeftPayload struct {
	LobbyID string `json:"lobby_id"`
}

// NewLobbyMessagePayload is a lobby chat line. A nil Profile marks a message
// from the lobby itself.
type NewLobbyMessagePayload struct {
	LobbyID string                `json:"lobby_id"`
	Profile *protocol.UserProfile `json:"profile,omitempty"`
	Content string                `json:"content"`
}

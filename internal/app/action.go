package app

import (
	"github.com/LeonardBesson/lobby-client-lib/internal/protocol"
)

// ActionKind names a request submitted to the runner.
type ActionKind string

const (
	ActionLogin          ActionKind = "login"
	ActionAddFriend      ActionKind = "add_friend"
	ActionRemoveFriend   ActionKind = "remove_friend"
	ActionFriendRequest  ActionKind = "friend_request"  // accept or decline a friend request
	ActionPrivateMessage ActionKind = "private_message" // whisper to a user
	ActionInviteUser     ActionKind = "invite_user"
	ActionLobbyInvite    ActionKind = "lobby_invite" // accept or decline a lobby invite
	ActionLobbyMessage   ActionKind = "lobby_message"
	ActionRefresh        ActionKind = "refresh"
	ActionConnect        ActionKind = "connect"
	ActionDisconnect     ActionKind = "disconnect"
	ActionExit           ActionKind = "exit"
)

// Action is a request executed on the runner goroutine. Only the fields
// relevant to Kind are read.
type Action struct {
	Kind ActionKind `json:"kind"`

	Email    string `json:"email,omitempty"`
	Password string `json:"-"`

	UserTag  string                `json:"user_tag,omitempty"`
	TargetID string                `json:"target_id,omitempty"` // friend request or lobby invite ID
	Choice   protocol.ActionChoice `json:"choice"`
	Content  string                `json:"content,omitempty"`

	result chan error
}

func (a Action) reply(err error) {
	if a.result != nil {
		a.result <- err
	}
}

func Login(email, password string) Action {
	return Action{Kind: ActionLogin, Email: email, Password: password}
}

func AddFriend(userTag string) Action {
	return Action{Kind: ActionAddFriend, UserTag: userTag}
}

func RemoveFriend(userTag string) Action {
	return Action{Kind: ActionRemoveFriend, UserTag: userTag}
}

func AnswerFriendRequest(requestID string, choice protocol.ActionChoice) Action {
	return Action{Kind: ActionFriendRequest, TargetID: requestID, Choice: choice}
}

func PrivateMessage(userTag, content string) Action {
	return Action{Kind: ActionPrivateMessage, UserTag: userTag, Content: content}
}

func InviteUser(userTag string) Action {
	return Action{Kind: ActionInviteUser, UserTag: userTag}
}

func AnswerLobbyInvite(inviteID string, choice protocol.ActionChoice) Action {
	return Action{Kind: ActionLobbyInvite, TargetID: inviteID, Choice: choice}
}

func LobbyMessage(content string) Action {
	return Action{Kind: ActionLobbyMessage, Content: content}
}

func Refresh() Action    { return Action{Kind: ActionRefresh} }
func Connect() Action    { return Action{Kind: ActionConnect} }
func Disconnect() Action { return Action{Kind: ActionDisconnect} }
func Exit() Action       { return Action{Kind: ActionExit} }

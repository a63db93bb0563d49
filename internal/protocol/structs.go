package protocol

import (
	"fmt"

	bstd "github.com/deneonet/benc/std"
)

// UserProfile is the public identity of a user.
type UserProfile struct {
	UserTag     string  `json:"user_tag"`
	DisplayName string  `json:"display_name"`
	AvatarURL   *string `json:"avatar_url,omitempty"`
}

func (p *UserProfile) size() int {
	return bstd.SizeString(p.UserTag) + bstd.SizeString(p.DisplayName) + sizeOptString(p.AvatarURL)
}

func (p *UserProfile) marshal(n int, b []byte) int {
	n = bstd.MarshalString(n, b, p.UserTag)
	n = bstd.MarshalString(n, b, p.DisplayName)
	return marshalOptString(n, b, p.AvatarURL)
}

func (p *UserProfile) unmarshal(n int, b []byte) (int, error) {
	var err error
	if n, p.UserTag, err = bstd.UnmarshalString(n, b); err != nil {
		return n, err
	}
	if n, p.DisplayName, err = bstd.UnmarshalString(n, b); err != nil {
		return n, err
	}
	n, p.AvatarURL, err = unmarshalOptString(n, b)
	return n, err
}

// FriendRequest is a pending friend request seen from either side.
type FriendRequest struct {
	ID          string      `json:"id"`
	State       string      `json:"state"`
	UserProfile UserProfile `json:"user_profile"`
}

func (r *FriendRequest) size() int {
	return bstd.SizeString(r.ID) + bstd.SizeString(r.State) + r.UserProfile.size()
}

func (r *FriendRequest) marshal(n int, b []byte) int {
	n = bstd.MarshalString(n, b, r.ID)
	n = bstd.MarshalString(n, b, r.State)
	return r.UserProfile.marshal(n, b)
}

func (r *FriendRequest) unmarshal(n int, b []byte) (int, error) {
	var err error
	if n, r.ID, err = bstd.UnmarshalString(n, b); err != nil {
		return n, err
	}
	if n, r.State, err = bstd.UnmarshalString(n, b); err != nil {
		return n, err
	}
	return r.UserProfile.unmarshal(n, b)
}

// Friend is an entry of the friend list.
type Friend struct {
	UserProfile UserProfile `json:"user_profile"`
	IsOnline    bool        `json:"is_online"`
}

func (f *Friend) size() int {
	return f.UserProfile.size() + bstd.SizeBool()
}

func (f *Friend) marshal(n int, b []byte) int {
	n = f.UserProfile.marshal(n, b)
	return bstd.MarshalBool(n, b, f.IsOnline)
}

func (f *Friend) unmarshal(n int, b []byte) (int, error) {
	n, err := f.UserProfile.unmarshal(n, b)
	if err != nil {
		return n, err
	}
	n, f.IsOnline, err = bstd.UnmarshalBool(n, b)
	return n, err
}

// LobbyMember is one seat of a lobby roster.
type LobbyMember struct {
	UserProfile UserProfile `json:"user_profile"`
	IsOnline    bool        `json:"is_online"`
	IsOwner     bool        `json:"is_owner"`
}

func (m *LobbyMember) size() int {
	return m.UserProfile.size() + 2*bstd.SizeBool()
}

func (m *LobbyMember) marshal(n int, b []byte) int {
	n = m.UserProfile.marshal(n, b)
	n = bstd.MarshalBool(n, b, m.IsOnline)
	return bstd.MarshalBool(n, b, m.IsOwner)
}

func (m *LobbyMember) unmarshal(n int, b []byte) (int, error) {
	n, err := m.UserProfile.unmarshal(n, b)
	if err != nil {
		return n, err
	}
	if n, m.IsOnline, err = bstd.UnmarshalBool(n, b); err != nil {
		return n, err
	}
	n, m.IsOwner, err = bstd.UnmarshalBool(n, b)
	return n, err
}

// ActionChoice answers a friend request or a lobby invite.
type ActionChoice byte

const (
	ActionAccept  ActionChoice = 0
	ActionDecline ActionChoice = 1
)

func (c ActionChoice) String() string {
	switch c {
	case ActionAccept:
		return "accept"
	case ActionDecline:
		return "decline"
	default:
		return fmt.Sprintf("ActionChoice(%d)", byte(c))
	}
}

// ParseActionChoice parses "accept" or "decline".
func ParseActionChoice(s string) (ActionChoice, error) {
	switch s {
	case "accept":
		return ActionAccept, nil
	case "decline":
		return ActionDecline, nil
	default:
		return 0, fmt.Errorf("invalid action %q (expected accept or decline)", s)
	}
}

func unmarshalChoice(n int, b []byte) (int, ActionChoice, error) {
	n, v, err := bstd.UnmarshalByte(n, b)
	if err != nil {
		return n, 0, err
	}
	if v > byte(ActionDecline) {
		return n, 0, fmt.Errorf("invalid action choice %d", v)
	}
	return n, ActionChoice(v), nil
}

// ErrorCode is a failure reason reported by the lobby server.
type ErrorCode string

const (
	ErrorInvalidCredentials ErrorCode = "InvalidCredentials"
	ErrorUserNotFound       ErrorCode = "UserNotFound"
	ErrorAlreadyFriends     ErrorCode = "AlreadyFriends"
	ErrorRequestNotFound    ErrorCode = "RequestNotFound"
	ErrorNotFriends         ErrorCode = "NotFriends"
	ErrorSelfRequest        ErrorCode = "SelfRequest"
	ErrorInviteNotFound     ErrorCode = "InviteNotFound"
	ErrorNotInLobby         ErrorCode = "NotInLobby"
	ErrorUnauthorized       ErrorCode = "Unauthorized"
	ErrorInternal           ErrorCode = "InternalError"
)

var knownErrorCodes = map[ErrorCode]struct{}{
	ErrorInvalidCredentials: {},
	ErrorUserNotFound:       {},
	ErrorAlreadyFriends:     {},
	ErrorRequestNotFound:    {},
	ErrorNotFriends:         {},
	ErrorSelfRequest:        {},
	ErrorInviteNotFound:     {},
	ErrorNotInLobby:         {},
	ErrorUnauthorized:       {},
	ErrorInternal:           {},
}

// ParseErrorCode maps a wire string to a known ErrorCode. Unknown strings
// are an error: the peer speaks a protocol we do not understand.
func ParseErrorCode(s string) (ErrorCode, error) {
	code := ErrorCode(s)
	if _, ok := knownErrorCodes[code]; !ok {
		return "", fmt.Errorf("unknown error code %q", s)
	}
	return code, nil
}

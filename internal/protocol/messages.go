package protocol

import (
	bstd "github.com/deneonet/benc/std"
)

// FatalError announces that the sender is closing the connection.
type FatalError struct {
	Message string
}

func (m *FatalError) Type() PacketType { return PacketTypeFatalError }
func (m *FatalError) Size() int { return bstd.SizeString(m.Message) }
func (m *FatalError) Marshal(b []byte) { bstd.MarshalString(0, b, m.Message) }
func (m *FatalError) Unmarshal(b []byte) error {
	n, v, err := bstd.UnmarshalString(0, b)
	m.Message = v
	return expectEnd(n, b, err)
}

// PacketInit is the handshake both sides send on connect.
type PacketInit struct {
	ProtocolVersion uint16
	AppVersion      uint16
}

func (m *PacketInit) Type() PacketType { return PacketTypeInit }
func (m *PacketInit) Size() int { return 2 * bstd.SizeUint16() }
func (m *PacketInit) Marshal(b []byte) {
	n := bstd.MarshalUint16(0, b, m.ProtocolVersion)
	bstd.MarshalUint16(n, b, m.AppVersion)
}
func (m *PacketInit) Unmarshal(b []byte) error {
	n, pv, err := bstd.UnmarshalUint16(0, b)
	if err != nil {
		return err
	}
	n, av, err := bstd.UnmarshalUint16(n, b)
	m.ProtocolVersion, m.AppVersion = pv, av
	return expectEnd(n, b, err)
}

// AuthenticationRequest carries login credentials.
type AuthenticationRequest struct {
	Email    string
	Password string
}

func (m *AuthenticationRequest) Type() PacketType { return PacketTypeAuthenticationRequest }
func (m *AuthenticationRequest) Size() int {
	return bstd.SizeString(m.Email) + bstd.SizeString(m.Password)
}
func (m *AuthenticationRequest) Marshal(b []byte) {
	n := bstd.MarshalString(0, b, m.Email)
	bstd.MarshalString(n, b, m.Password)
}
func (m *AuthenticationRequest) Unmarshal(b []byte) error {
	n, email, err := bstd.UnmarshalString(0, b)
	if err != nil {
		return err
	}
	n, password, err := bstd.UnmarshalString(n, b)
	m.Email, m.Password = email, password
	return expectEnd(n, b, err)
}

// AuthenticationResponse holds either ErrorCode or both SessionToken and
// UserProfile. Any other combination is a protocol violation.
type AuthenticationResponse struct {
	ErrorCode    *string
	SessionToken *string
	UserProfile  *UserProfile
}

func (m *AuthenticationResponse) Type() PacketType { return PacketTypeAuthenticationResponse }
func (m *AuthenticationResponse) Size() int {
	return sizeOptString(m.ErrorCode) + sizeOptString(m.SessionToken) + sizeOptProfile(m.UserProfile)
}
func (m *AuthenticationResponse) Marshal(b []byte) {
	n := marshalOptString(0, b, m.ErrorCode)
	n = marshalOptString(n, b, m.SessionToken)
	marshalOptProfile(n, b, m.UserProfile)
}
func (m *AuthenticationResponse) Unmarshal(b []byte) error {
	n, code, err := unmarshalOptString(0, b)
	if err != nil {
		return err
	}
	n, token, err := unmarshalOptString(n, b)
	if err != nil {
		return err
	}
	n, profile, err := unmarshalOptProfile(n, b)
	m.ErrorCode, m.SessionToken, m.UserProfile = code, token, profile
	return expectEnd(n, b, err)
}

// Ping is a latency probe. PeerTime is the sender's unix time in millis.
type Ping struct {
	ID       string
	PeerTime uint64
}

func (m *Ping) Type() PacketType { return PacketTypePing }
func (m *Ping) Size() int { return bstd.SizeString(m.ID) + bstd.SizeUint64() }
func (m *Ping) Marshal(b []byte) {
	n := bstd.MarshalString(0, b, m.ID)
	bstd.MarshalUint64(n, b, m.PeerTime)
}
func (m *Ping) Unmarshal(b []byte) error {
	n, id, t, err := unmarshalProbe(b)
	m.ID, m.PeerTime = id, t
	return expectEnd(n, b, err)
}

// Pong answers a Ping with the same ID and the responder's clock.
type Pong struct {
	ID       string
	PeerTime uint64
}

func (m *Pong) Type() PacketType { return PacketTypePong }
func (m *Pong) Size() int { return bstd.SizeString(m.ID) + bstd.SizeUint64() }
func (m *Pong) Marshal(b []byte) {
	n := bstd.MarshalString(0, b, m.ID)
	bstd.MarshalUint64(n, b, m.PeerTime)
}
func (m *Pong) Unmarshal(b []byte) error {
	n, id, t, err := unmarshalProbe(b)
	m.ID, m.PeerTime = id, t
	return expectEnd(n, b, err)
}

func unmarshalProbe(b []byte) (int, string, uint64, error) {
	n, id, err := bstd.UnmarshalString(0, b)
	if err != nil {
		return n, "", 0, err
	}
	n, t, err := bstd.UnmarshalUint64(n, b)
	return n, id, t, err
}

// AddFriendRequest asks the server to send a friend request to UserTag.
type AddFriendRequest struct {
	UserTag string
}

func (m *AddFriendRequest) Type() PacketType { return PacketTypeAddFriendRequest }
func (m *AddFriendRequest) Size() int { return bstd.SizeString(m.UserTag) }
func (m *AddFriendRequest) Marshal(b []byte) { bstd.MarshalString(0, b, m.UserTag) }
func (m *AddFriendRequest) Unmarshal(b []byte) error {
	n, v, err := bstd.UnmarshalString(0, b)
	m.UserTag = v
	return expectEnd(n, b, err)
}

// AddFriendRequestResponse reports the outcome of AddFriendRequest.
type AddFriendRequestResponse struct {
	UserTag   string
	ErrorCode *string
}

func (m *AddFriendRequestResponse) Type() PacketType { return PacketTypeAddFriendRequestResponse }
func (m *AddFriendRequestResponse) Size() int {
	return bstd.SizeString(m.UserTag) + sizeOptString(m.ErrorCode)
}
func (m *AddFriendRequestResponse) Marshal(b []byte) {
	n := bstd.MarshalString(0, b, m.UserTag)
	marshalOptString(n, b, m.ErrorCode)
}
func (m *AddFriendRequestResponse) Unmarshal(b []byte) error {
	n, tag, err := bstd.UnmarshalString(0, b)
	if err != nil {
		return err
	}
	n, code, err := unmarshalOptString(n, b)
	m.UserTag, m.ErrorCode = tag, code
	return expectEnd(n, b, err)
}

// FriendRequestAction accepts or declines a pending request.
type FriendRequestAction struct {
	RequestID string
	Action    ActionChoice
}

func (m *FriendRequestAction) Type() PacketType { return PacketTypeFriendRequestAction }
func (m *FriendRequestAction) Size() int {
	return bstd.SizeString(m.RequestID) + bstd.SizeByte()
}
func (m *FriendRequestAction) Marshal(b []byte) {
	n := bstd.MarshalString(0, b, m.RequestID)
	bstd.MarshalByte(n, b, byte(m.Action))
}
func (m *FriendRequestAction) Unmarshal(b []byte) error {
	n, id, err := bstd.UnmarshalString(0, b)
	if err != nil {
		return err
	}
	n, action, err := unmarshalChoice(n, b)
	m.RequestID, m.Action = id, action
	return expectEnd(n, b, err)
}

// FriendRequestActionResponse reports the outcome of FriendRequestAction.
type FriendRequestActionResponse struct {
	RequestID string
	ErrorCode *string
}

func (m *FriendRequestActionResponse) Type() PacketType {
	return PacketTypeFriendRequestActionResponse
}
func (m *FriendRequestActionResponse) Size() int {
	return bstd.SizeString(m.RequestID) + sizeOptString(m.ErrorCode)
}
func (m *FriendRequestActionResponse) Marshal(b []byte) {
	n := bstd.MarshalString(0, b, m.RequestID)
	marshalOptString(n, b, m.ErrorCode)
}
func (m *FriendRequestActionResponse) Unmarshal(b []byte) error {
	n, id, err := bstd.UnmarshalString(0, b)
	if err != nil {
		return err
	}
	n, code, err := unmarshalOptString(n, b)
	m.RequestID, m.ErrorCode = id, code
	return expectEnd(n, b, err)
}

// FetchPendingFriendRequests is a fixed-size (empty) request.
type FetchPendingFriendRequests struct{}

func (m *FetchPendingFriendRequests) Type() PacketType { return PacketTypeFetchPendingFriendRequests }
func (m *FetchPendingFriendRequests) Size() int { return 0 }
func (m *FetchPendingFriendRequests) Marshal([]byte) {}
func (m *FetchPendingFriendRequests) Unmarshal(b []byte) error {
	return expectEnd(0, b, nil)
}

// FetchPendingFriendRequestsResponse lists requests we sent and received.
type FetchPendingFriendRequestsResponse struct {
	PendingAsInviter []FriendRequest
	PendingAsInvitee []FriendRequest
}

func (m *FetchPendingFriendRequestsResponse) Type() PacketType {
	return PacketTypeFetchPendingFriendRequestsResponse
}
func (m *FetchPendingFriendRequestsResponse) Size() int {
	return sizeSlice(m.PendingAsInviter) + sizeSlice(m.PendingAsInvitee)
}
func (m *FetchPendingFriendRequestsResponse) Marshal(b []byte) {
	n := marshalSlice(0, b, m.PendingAsInviter)
	marshalSlice(n, b, m.PendingAsInvitee)
}
func (m *FetchPendingFriendRequestsResponse) Unmarshal(b []byte) error {
	n, inviter, err := unmarshalSlice[FriendRequest](0, b)
	if err != nil {
		return err
	}
	n, invitee, err := unmarshalSlice[FriendRequest](n, b)
	m.PendingAsInviter, m.PendingAsInvitee = inviter, invitee
	return expectEnd(n, b, err)
}

// FetchFriendList is a fixed-size (empty) request.
type FetchFriendList struct{}

func (m *FetchFriendList) Type() PacketType { return PacketTypeFetchFriendList }
func (m *FetchFriendList) Size() int { return 0 }
func (m *FetchFriendList) Marshal([]byte) {}
func (m *FetchFriendList) Unmarshal(b []byte) error {
	return expectEnd(0, b, nil)
}

// FetchFriendListResponse carries the full friend list.
type FetchFriendListResponse struct {
	FriendList []Friend
}

func (m *FetchFriendListResponse) Type() PacketType { return PacketTypeFetchFriendListResponse }
func (m *FetchFriendListResponse) Size() int { return sizeSlice(m.FriendList) }
func (m *FetchFriendListResponse) Marshal(b []byte) { marshalSlice(0, b, m.FriendList) }
func (m *FetchFriendListResponse) Unmarshal(b []byte) error {
	n, list, err := unmarshalSlice[Friend](0, b)
	m.FriendList = list
	return expectEnd(n, b, err)
}

// RemoveFriend removes UserTag from the friend list.
type RemoveFriend struct {
	UserTag string
}

func (m *RemoveFriend) Type() PacketType { return PacketTypeRemoveFriend }
func (m *RemoveFriend) Size() int { return bstd.SizeString(m.UserTag) }
func (m *RemoveFriend) Marshal(b []byte) { bstd.MarshalString(0, b, m.UserTag) }
func (m *RemoveFriend) Unmarshal(b []byte) error {
	n, v, err := bstd.UnmarshalString(0, b)
	m.UserTag = v
	return expectEnd(n, b, err)
}

// RemoveFriendResponse reports the outcome of RemoveFriend.
type RemoveFriendResponse struct {
	ErrorCode *string
}

func (m *RemoveFriendResponse) Type() PacketType { return PacketTypeRemoveFriendResponse }
func (m *RemoveFriendResponse) Size() int { return sizeOptString(m.ErrorCode) }
func (m *RemoveFriendResponse) Marshal(b []byte) { marshalOptString(0, b, m.ErrorCode) }
func (m *RemoveFriendResponse) Unmarshal(b []byte) error {
	n, code, err := unmarshalOptString(0, b)
	m.ErrorCode = code
	return expectEnd(n, b, err)
}

// SendPrivateMessage whispers Content to UserTag.
type SendPrivateMessage struct {
	UserTag string
	Content string
}

func (m *SendPrivateMessage) Type() PacketType { return PacketTypeSendPrivateMessage }
func (m *SendPrivateMessage) Size() int {
	return bstd.SizeString(m.UserTag) + bstd.SizeString(m.Content)
}
func (m *SendPrivateMessage) Marshal(b []byte) {
	n := bstd.MarshalString(0, b, m.UserTag)
	bstd.MarshalString(n, b, m.Content)
}
func (m *SendPrivateMessage) Unmarshal(b []byte) error {
	n, tag, err := bstd.UnmarshalString(0, b)
	if err != nil {
		return err
	}
	n, content, err := bstd.UnmarshalString(n, b)
	m.UserTag, m.Content = tag, content
	return expectEnd(n, b, err)
}

// NewPrivateMessage delivers a whisper. IsSelf marks the echo of our own.
type NewPrivateMessage struct {
	Profile UserProfile
	Content string
	IsSelf  bool
}

func (m *NewPrivateMessage) Type() PacketType { return PacketTypeNewPrivateMessage }
func (m *NewPrivateMessage) Size() int {
	return m.Profile.size() + bstd.SizeString(m.Content) + bstd.SizeBool()
}
func (m *NewPrivateMessage) Marshal(b []byte) {
	n := m.Profile.marshal(0, b)
	n = bstd.MarshalString(n, b, m.Content)
	bstd.MarshalBool(n, b, m.IsSelf)
}
func (m *NewPrivateMessage) Unmarshal(b []byte) error {
	n, err := m.Profile.unmarshal(0, b)
	if err != nil {
		return err
	}
	if n, m.Content, err = bstd.UnmarshalString(n, b); err != nil {
		return err
	}
	n, m.IsSelf, err = bstd.UnmarshalBool(n, b)
	return expectEnd(n, b, err)
}

// SystemNotification is a server-wide broadcast.
type SystemNotification struct {
	Content string
}

func (m *SystemNotification) Type() PacketType { return PacketTypeSystemNotification }
func (m *SystemNotification) Size() int { return bstd.SizeString(m.Content) }
func (m *SystemNotification) Marshal(b []byte) { bstd.MarshalString(0, b, m.Content) }
func (m *SystemNotification) Unmarshal(b []byte) error {
	n, v, err := bstd.UnmarshalString(0, b)
	m.Content = v
	return expectEnd(n, b, err)
}

// InviteUser invites UserTag to the current lobby.
type InviteUser struct {
	UserTag string
}

func (m *InviteUser) Type() PacketType { return PacketTypeInviteUser }
func (m *InviteUser) Size() int { return bstd.SizeString(m.UserTag) }
func (m *InviteUser) Marshal(b []byte) { bstd.MarshalString(0, b, m.UserTag) }
func (m *InviteUser) Unmarshal(b []byte) error {
	n, v, err := bstd.UnmarshalString(0, b)
	m.UserTag = v
	return expectEnd(n, b, err)
}

// LobbyInvite tells us Inviter wants us in their lobby.
type LobbyInvite struct {
	ID      string
	Inviter UserProfile
}

func (m *LobbyInvite) Type() PacketType { return PacketTypeLobbyInvite }
func (m *LobbyInvite) Size() int { return bstd.SizeString(m.ID) + m.Inviter.size() }
func (m *LobbyInvite) Marshal(b []byte) {
	n := bstd.MarshalString(0, b, m.ID)
	m.Inviter.marshal(n, b)
}
func (m *LobbyInvite) Unmarshal(b []byte) error {
	n, id, err := bstd.UnmarshalString(0, b)
	if err != nil {
		return err
	}
	m.ID = id
	n, err = m.Inviter.unmarshal(n, b)
	return expectEnd(n, b, err)
}

// LobbyInviteAction accepts or declines a lobby invite.
type LobbyInviteAction struct {
	InviteID string
	Action   ActionChoice
}

func (m *LobbyInviteAction) Type() PacketType { return PacketTypeLobbyInviteAction }
func (m *LobbyInviteAction) Size() int {
	return bstd.SizeString(m.InviteID) + bstd.SizeByte()
}
func (m *LobbyInviteAction) Marshal(b []byte) {
	n := bstd.MarshalString(0, b, m.InviteID)
	bstd.MarshalByte(n, b, byte(m.Action))
}
func (m *LobbyInviteAction) Unmarshal(b []byte) error {
	n, id, err := bstd.UnmarshalString(0, b)
	if err != nil {
		return err
	}
	n, action, err := unmarshalChoice(n, b)
	m.InviteID, m.Action = id, action
	return expectEnd(n, b, err)
}

// LobbyJoined confirms we are now a member of LobbyID.
type LobbyJoined struct {
	LobbyID string
}

func (m *LobbyJoined) Type() PacketType { return PacketTypeLobbyJoined }
func (m *LobbyJoined) Size() int { return bstd.SizeString(m.LobbyID) }
func (m *LobbyJoined) Marshal(b []byte) { bstd.MarshalString(0, b, m.LobbyID) }
func (m *LobbyJoined) Unmarshal(b []byte) error {
	n, v, err := bstd.UnmarshalString(0, b)
	m.LobbyID = v
	return expectEnd(n, b, err)
}

// LobbyMemberUpdate carries the full roster of LobbyID.
type LobbyMemberUpdate struct {
	LobbyID string
	Members []LobbyMember
}

func (m *LobbyMemberUpdate) Type() PacketType { return PacketTypeLobbyMemberUpdate }
func (m *LobbyMemberUpdate) Size() int {
	return bstd.SizeString(m.LobbyID) + sizeSlice(m.Members)
}
func (m *LobbyMemberUpdate) Marshal(b []byte) {
	n := bstd.MarshalString(0, b, m.LobbyID)
	marshalSlice(n, b, m.Members)
}
func (m *LobbyMemberUpdate) Unmarshal(b []byte) error {
	n, id, err := bstd.UnmarshalString(0, b)
	if err != nil {
		return err
	}
	n, members, err := unmarshalSlice[LobbyMember](n, b)
	m.LobbyID, m.Members = id, members
	return expectEnd(n, b, err)
}

// LobbyLeft confirms we are no longer a member of LobbyID.
type LobbyLeft struct {
	LobbyID string
}

func (m *LobbyLeft) Type() PacketType { return PacketTypeLobbyLeft }
func (m *LobbyLeft) Size() int { return bstd.SizeString(m.LobbyID) }
func (m *LobbyLeft) Marshal(b []byte) { bstd.MarshalString(0, b, m.LobbyID) }
func (m *LobbyLeft) Unmarshal(b []byte) error {
	n, v, err := bstd.UnmarshalString(0, b)
	m.LobbyID = v
	return expectEnd(n, b, err)
}

// SendLobbyMessage posts Content to the current lobby.
type SendLobbyMessage struct {
	Content string
}

func (m *SendLobbyMessage) Type() PacketType { return PacketTypeSendLobbyMessage }
func (m *SendLobbyMessage) Size() int { return bstd.SizeString(m.Content) }
func (m *SendLobbyMessage) Marshal(b []byte) { bstd.MarshalString(0, b, m.Content) }
func (m *SendLobbyMessage) Unmarshal(b []byte) error {
	n, v, err := bstd.UnmarshalString(0, b)
	m.Content = v
	return expectEnd(n, b, err)
}

// NewLobbyMessage delivers lobby chat. A nil Profile is a system line.
type NewLobbyMessage struct {
	LobbyID string
	Profile *UserProfile
	Content string
}

func (m *NewLobbyMessage) Type() PacketType { return PacketTypeNewLobbyMessage }
func (m *NewLobbyMessage) Size() int {
	return bstd.SizeString(m.LobbyID) + sizeOptProfile(m.Profile) + bstd.SizeString(m.Content)
}
func (m *NewLobbyMessage) Marshal(b []byte) {
	n := bstd.MarshalString(0, b, m.LobbyID)
	n = marshalOptProfile(n, b, m.Profile)
	bstd.MarshalString(n, b, m.Content)
}
func (m *NewLobbyMessage) Unmarshal(b []byte) error {
	n, id, err := bstd.UnmarshalString(0, b)
	if err != nil {
		return err
	}
	n, profile, err := unmarshalOptProfile(n, b)
	if err != nil {
		return err
	}
	n, content, err := bstd.UnmarshalString(n, b)
	m.LobbyID, m.Profile, m.Content = id, profile, content
	return expectEnd(n, b, err)
}

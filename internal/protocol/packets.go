// Package protocol implements the lobby wire format: the variable-length
// packet header, the packet type registry and the message catalogue.
// Header integers are big-endian; payloads are benc-encoded messages.
package protocol

import "fmt"

// Protocol versions exchanged in the PacketInit handshake. Both must match
// the peer exactly or the connection is rejected.
const (
	ProtocolVersion uint16 = 1
	AppVersion      uint16 = 1
)

// Header flag bits (byte 0 of every packet).
const (
	FlagFixedHeader byte = 0x80 // Always set, marks the start of a header
	FlagShortType   byte = 0x40 // Type field is 1 byte instead of 2
	FlagShortSize   byte = 0x20 // Size field is 1 byte instead of 3
)

const (
	// MaxPacketTypes bounds the registry array.
	MaxPacketTypes = 500

	// MaxHeaderSize is flags + 2-byte type + 3-byte size.
	MaxHeaderSize = 6

	// MaxPayloadSize is the largest payload a 24-bit size field can carry.
	MaxPayloadSize = 1<<24 - 1
)

// PacketType is the wire discriminant of a message kind. Values are
// transmitted on the wire and must never be renumbered.
type PacketType uint16

const (
	PacketTypeFatalError                         PacketType = 0  // Peer is closing with a reason
	PacketTypeInit                               PacketType = 1  // Handshake: protocol + app versions
	PacketTypeAuthenticationRequest              PacketType = 2  // Email + password
	PacketTypeAuthenticationResponse             PacketType = 3  // Error code, or session token + profile
	PacketTypePing                               PacketType = 4  // Latency probe
	PacketTypePong                               PacketType = 5  // Latency probe reply
	PacketTypeAddFriendRequest                   PacketType = 6  // Send a friend request
	PacketTypeAddFriendRequestResponse           PacketType = 7  // Result of a friend request
	PacketTypeFriendRequestAction                PacketType = 8  // Accept / decline a request
	PacketTypeFriendRequestActionResponse        PacketType = 9  // Result of accept / decline
	PacketTypeFetchPendingFriendRequests         PacketType = 10 // Ask for pending requests
	PacketTypeFetchPendingFriendRequestsResponse PacketType = 11 // Pending requests, both directions
	PacketTypeFetchFriendList                    PacketType = 12 // Ask for the friend list
	PacketTypeFetchFriendListResponse            PacketType = 13 // Friend list
	PacketTypeRemoveFriend                       PacketType = 14 // Remove a friend
	PacketTypeRemoveFriendResponse               PacketType = 15 // Result of a removal
	PacketTypeSendPrivateMessage                 PacketType = 16 // Outgoing whisper
	PacketTypeNewPrivateMessage                  PacketType = 17 // Incoming (or echoed) whisper
	PacketTypeSystemNotification                 PacketType = 18 // Server broadcast
	PacketTypeInviteUser                         PacketType = 19 // Invite a user to our lobby
	PacketTypeLobbyInvite                        PacketType = 20 // We were invited to a lobby
	PacketTypeLobbyInviteAction                  PacketType = 21 // Accept / decline a lobby invite
	PacketTypeLobbyJoined                        PacketType = 22 // We joined a lobby
	PacketTypeLobbyMemberUpdate                  PacketType = 23 // Lobby roster changed
	PacketTypeLobbyLeft                          PacketType = 24 // We left a lobby
	PacketTypeSendLobbyMessage                   PacketType = 25 // Outgoing lobby chat
	PacketTypeNewLobbyMessage                    PacketType = 26 // Incoming lobby chat

	PacketTypeLast // Sentinel, not a real packet
)

// String returns the registered name of well-known types, or the number.
func (t PacketType) String() string {
	if int(t) < len(packetTable) {
		return packetTable[t].name
	}
	return fmt.Sprintf("PacketType(%d)", uint16(t))
}

// packetEntry is one row of the declarative packet table.
type packetEntry struct {
	typ       PacketType
	name      string
	fixedSize int // -1 when the size is transmitted
	newFn     func() Message
}

// packetTable drives DefaultRegistry. Row index must equal the type value.
var packetTable = [...]packetEntry{
	{PacketTypeFatalError, "FatalError", -1, func() Message { return &FatalError{} }},
	{PacketTypeInit, "PacketInit", -1, func() Message { return &PacketInit{} }},
	{PacketTypeAuthenticationRequest, "AuthenticationRequest", -1, func() Message { return &AuthenticationRequest{} }},
	{PacketTypeAuthenticationResponse, "AuthenticationResponse", -1, func() Message { return &AuthenticationResponse{} }},
	{PacketTypePing, "PacketPing", -1, func() Message { return &Ping{} }},
	{PacketTypePong, "PacketPong", -1, func() Message { return &Pong{} }},
	{PacketTypeAddFriendRequest, "AddFriendRequest", -1, func() Message { return &AddFriendRequest{} }},
	{PacketTypeAddFriendRequestResponse, "AddFriendRequestResponse", -1, func() Message { return &AddFriendRequestResponse{} }},
	{PacketTypeFriendRequestAction, "FriendRequestAction", -1, func() Message { return &FriendRequestAction{} }},
	{PacketTypeFriendRequestActionResponse, "FriendRequestActionResponse", -1, func() Message { return &FriendRequestActionResponse{} }},
	{PacketTypeFetchPendingFriendRequests, "FetchPendingFriendRequests", 0, func() Message { return &FetchPendingFriendRequests{} }},
	{PacketTypeFetchPendingFriendRequestsResponse, "FetchPendingFriendRequestsResponse", -1, func() Message { return &FetchPendingFriendRequestsResponse{} }},
	{PacketTypeFetchFriendList, "FetchFriendList", 0, func() Message { return &FetchFriendList{} }},
	{PacketTypeFetchFriendListResponse, "FetchFriendListResponse", -1, func() Message { return &FetchFriendListResponse{} }},
	{PacketTypeRemoveFriend, "RemoveFriend", -1, func() Message { return &RemoveFriend{} }},
	{PacketTypeRemoveFriendResponse, "RemoveFriendResponse", -1, func() Message { return &RemoveFriendResponse{} }},
	{PacketTypeSendPrivateMessage, "SendPrivateMessage", -1, func() Message { return &SendPrivateMessage{} }},
	{PacketTypeNewPrivateMessage, "NewPrivateMessage", -1, func() Message { return &NewPrivateMessage{} }},
	{PacketTypeSystemNotification, "SystemNotification", -1, func() Message { return &SystemNotification{} }},
	{PacketTypeInviteUser, "InviteUser", -1, func() Message { return &InviteUser{} }},
	{PacketTypeLobbyInvite, "LobbyInvite", -1, func() Message { return &LobbyInvite{} }},
	{PacketTypeLobbyInviteAction, "LobbyInviteAction", -1, func() Message { return &LobbyInviteAction{} }},
	{PacketTypeLobbyJoined, "LobbyJoined", -1, func() Message { return &LobbyJoined{} }},
	{PacketTypeLobbyMemberUpdate, "LobbyMemberUpdate", -1, func() Message { return &LobbyMemberUpdate{} }},
	{PacketTypeLobbyLeft, "LobbyLeft", -1, func() Message { return &LobbyLeft{} }},
	{PacketTypeSendLobbyMessage, "SendLobbyMessage", -1, func() Message { return &SendLobbyMessage{} }},
	{PacketTypeNewLobbyMessage, "NewLobbyMessage", -1, func() Message { return &NewLobbyMessage{} }},
}

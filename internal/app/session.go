package app

import (
	"time"

	"github.com/LeonardBesson/lobby-client-lib/internal/events"
	"github.com/LeonardBesson/lobby-client-lib/internal/network"
	"github.com/LeonardBesson/lobby-client-lib/internal/protocol"
)

// Session is what the client currently knows about its user, built from
// the event stream.
type Session struct {
	State         network.ConnState     `json:"state"`
	Authenticated bool                  `json:"authenticated"`
	Profile       *protocol.UserProfile `json:"profile,omitempty"`

	Friends           []protocol.Friend        `json:"friends"`
	RequestsAsInviter []protocol.FriendRequest `json:"requests_as_inviter"`
	RequestsAsInvitee []protocol.FriendRequest `json:"requests_as_invitee"`

	LobbyID        string                      `json:"lobby_id,omitempty"`
	LobbyMembers   []protocol.LobbyMember      `json:"lobby_members"`
	PendingInvites []events.LobbyInvitePayload `json:"pending_invites"`

	LastError      string    `json:"last_error,omitempty"`
	LastDisconnect string    `json:"last_disconnect,omitempty"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Status is the runner snapshot served to the API, the CLI and telemetry.
type Status struct {
	Server      string                     `json:"server"`
	Session     Session                    `json:"session"`
	Connections []network.ConnectionStatus `json:"connections"`
	StartedAt   time.Time                  `json:"started_at"`
	Uptime      string                     `json:"uptime"`
}

func (s *Session) apply(e events.Event) {
	switch p := e.Payload.(type) {
	case events.ConnectionEstablishedPayload:
		s.State = network.StateAuthenticating
		s.LastError = ""
	case events.AuthSuccessPayload:
		profile := p.Profile
		s.Profile = &profile
		s.Authenticated = true
		s.State = network.StateRunning
	case events.AuthFailurePayload:
		s.LastError = string(p.ErrorCode)
	case events.DisconnectedPayload:
		s.State = network.StateClosed
		s.Authenticated = false
		s.LastDisconnect = p.Reason
		s.LobbyID = ""
		s.LobbyMembers = nil
		s.PendingInvites = nil
	case events.FriendRequestsUpdatedPayload:
		s.RequestsAsInviter = p.AsInviter
		s.RequestsAsInvitee = p.AsInvitee
	case events.FriendListUpdatedPayload:
		s.Friends = p.Friends
	case events.AddFriendResponsePayload:
		s.recordError(p.ErrorCode)
	case events.FriendRequestActionResponsePayload:
		s.recordError(p.ErrorCode)
	case events.RemoveFriendResponsePayload:
		s.recordError(p.ErrorCode)
	case events.LobbyInvitePayload:
		s.dropInvite(p.InviteID)
		s.PendingInvites = append(s.PendingInvites, p)
	case events.LobbyJoinedPayload:
		s.LobbyID = p.LobbyID
		s.LobbyMembers = nil
	case events.LobbyMemberUpdatePayload:
		if s.LobbyID == "" || s.LobbyID == p.LobbyID {
			s.LobbyID = p.LobbyID
			s.LobbyMembers = p.Members
		}
	case events.LobbyLeftPayload:
		if s.LobbyID == p.LobbyID {
			s.LobbyID = ""
			s.LobbyMembers = nil
		}
	}
}

func (s *Session) recordError(code *protocol.ErrorCode) {
	if code != nil {
		s.LastError = string(*code)
	}
}

func (s *Session) dropInvite(id string) {
	kept := s.PendingInvites[:0]
	for _, inv := range s.PendingInvites {
		if inv.InviteID != id {
			kept = append(kept, inv)
		}
	}
	s.PendingInvites = kept
}

// clone copies the slices so callers can read the snapshot without locks.
func (s Session) clone() Session {
	out := s
	if s.Profile != nil {
		p := *s.Profile
		out.Profile = &p
	}
	out.Friends = append([]protocol.Friend(nil), s.Friends...)
	out.RequestsAsInviter = append([]protocol.FriendRequest(nil), s.RequestsAsInviter...)
	out.RequestsAsInvitee = append([]protocol.FriendRequest(nil), s.RequestsAsInvitee...)
	out.LobbyMembers = append([]protocol.LobbyMember(nil), s.LobbyMembers...)
	out.PendingInvites = append([]events.LobbyInvitePayload(nil), s.PendingInvites...)
	return out
}

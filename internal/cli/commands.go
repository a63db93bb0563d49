// Package cli implements the interactive command line of the lobby client.
// Commands are turned into runner actions; tables are rendered with
// tablewriter.
package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/rs/zerolog/log"

	"github.com/LeonardBesson/lobby-client-lib/internal/app"
	"github.com/LeonardBesson/lobby-client-lib/internal/db"
	"github.com/LeonardBesson/lobby-client-lib/internal/protocol"
)

const actionTimeout = 5 * time.Second

// Backend is the part of the runner the CLI drives.
type Backend interface {
	Snapshot() app.Status
	Submit(ctx context.Context, a app.Action) error
}

// HistoryReader serves stored history.
type HistoryReader interface {
	Recent(kind string, limit int) ([]db.Entry, error)
}

// CLI provides an interactive command-line interface.
type CLI struct {
	backend Backend
	history HistoryReader
	in      io.Reader
	out     io.Writer
}

// NewCLI creates a CLI reading commands from in and writing to out.
// history may be nil.
func NewCLI(backend Backend, history HistoryReader, in io.Reader, out io.Writer) *CLI {
	return &CLI{
		backend: backend,
		history: history,
		in:      in,
		out:     out,
	}
}

// Start runs the command loop until ctx is cancelled or input ends.
func (c *CLI) Start(ctx context.Context) {
	fmt.Fprintln(c.out, "\nLobby client ready. Type 'help' for available commands.")
	fmt.Fprintln(c.out, "─────────────────────────────────────────────────────")

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(c.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		if err := scanner.Err(); err != nil {
			log.Warn().Err(err).Str("component", "cli").Msg("failed to read input")
		}
	}()

	for {
		fmt.Fprint(c.out, "lobby> ")
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			c.Exec(ctx, line)
		}
	}
}

// Exec runs a single command line and prints any error.
func (c *CLI) Exec(ctx context.Context, line string) {
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return
	}
	if err := c.execute(ctx, strings.ToLower(parts[0]), parts[1:]); err != nil {
		fmt.Fprintf(c.out, "Error: %v\n", err)
	}
}

// execute processes a single CLI command.
func (c *CLI) execute(ctx context.Context, cmd string, args []string) error {
	switch cmd {
	case "help", "h", "?":
		c.printHelp()
	case "status", "s":
		c.printStatus()
	case "connections", "conns":
		c.printConnections()
	case "friends", "f":
		c.printFriends()
	case "requests":
		c.printRequests()
	case "invites":
		c.printInvites()
	case "lobby":
		c.printLobby()
	case "history":
		return c.printHistory(args)
	case "login":
		return c.cmdLogin(ctx, args)
	case "add":
		return c.withTag(ctx, args, "add", app.AddFriend)
	case "remove":
		return c.withTag(ctx, args, "remove", app.RemoveFriend)
	case "invite":
		return c.withTag(ctx, args, "invite", app.InviteUser)
	case "accept":
		return c.withID(ctx, args, "accept", func(id string) app.Action {
			return app.AnswerFriendRequest(id, protocol.ActionAccept)
		})
	case "decline":
		return c.withID(ctx, args, "decline", func(id string) app.Action {
			return app.AnswerFriendRequest(id, protocol.ActionDecline)
		})
	case "join":
		return c.withID(ctx, args, "join", func(id string) app.Action {
			return app.AnswerLobbyInvite(id, protocol.ActionAccept)
		})
	case "reject":
		return c.withID(ctx, args, "reject", func(id string) app.Action {
			return app.AnswerLobbyInvite(id, protocol.ActionDecline)
		})
	case "message", "msg":
		if len(args) < 2 {
			return errors.New("usage: msg <user_tag> <message>")
		}
		return c.submit(ctx, app.PrivateMessage(args[0], strings.Join(args[1:], " ")), "Message sent to "+args[0])
	case "say":
		if len(args) < 1 {
			return errors.New("usage: say <message>")
		}
		return c.submit(ctx, app.LobbyMessage(strings.Join(args, " ")), "Message sent to lobby")
	case "refresh":
		return c.submit(ctx, app.Refresh(), "Refresh requested")
	case "connect":
		return c.submit(ctx, app.Connect(), "Connecting")
	case "disconnect":
		return c.submit(ctx, app.Disconnect(), "Disconnected")
	case "quit", "exit", "q":
		fmt.Fprintln(c.out, "Shutting down lobby client...")
		return c.submit(ctx, app.Exit(), "")
	default:
		fmt.Fprintf(c.out, "Unknown command: '%s'. Type 'help' for available commands.\n", cmd)
	}
	return nil
}

// printHelp displays available commands.
func (c *CLI) printHelp() {
	fmt.Fprintln(c.out, "\n╔══════════════════════════════════════════════════════════════╗")
	fmt.Fprintln(c.out, "║                    Lobby Client Commands                     ║")
	fmt.Fprintln(c.out, "╠══════════════════════════════════════════════════════════════╣")
	fmt.Fprintln(c.out, "║  status              Show session status                     ║")
	fmt.Fprintln(c.out, "║  connections         Show connection table                   ║")
	fmt.Fprintln(c.out, "║  login [email pw]    Log in (configured credentials if none) ║")
	fmt.Fprintln(c.out, "║  friends             List friends                            ║")
	fmt.Fprintln(c.out, "║  requests            List pending friend requests            ║")
	fmt.Fprintln(c.out, "║  add <tag>           Send a friend request                   ║")
	fmt.Fprintln(c.out, "║  remove <tag>        Remove a friend                         ║")
	fmt.Fprintln(c.out, "║  accept <id>         Accept a friend request                 ║")
	fmt.Fprintln(c.out, "║  decline <id>        Decline a friend request                ║")
	fmt.Fprintln(c.out, "║  msg <tag> <text>    Send a private message                  ║")
	fmt.Fprintln(c.out, "║  invite <tag>        Invite a user to your lobby             ║")
	fmt.Fprintln(c.out, "║  invites             List pending lobby invites              ║")
	fmt.Fprintln(c.out, "║  join <id>           Accept a lobby invite                   ║")
	fmt.Fprintln(c.out, "║  reject <id>         Decline a lobby invite                  ║")
	fmt.Fprintln(c.out, "║  lobby               Show current lobby members              ║")
	fmt.Fprintln(c.out, "║  say <text>          Send a lobby message                    ║")
	fmt.Fprintln(c.out, "║  history [kind] [n]  Show stored messages                    ║")
	fmt.Fprintln(c.out, "║  refresh             Refresh friends and requests            ║")
	fmt.Fprintln(c.out, "║  connect/disconnect  Open or close the server connection     ║")
	fmt.Fprintln(c.out, "║  quit                Shut down the client                    ║")
	fmt.Fprintln(c.out, "╚══════════════════════════════════════════════════════════════╝")
	fmt.Fprintln(c.out)
}

func (c *CLI) printStatus() {
	status := c.backend.Snapshot()
	s := status.Session

	user := "-"
	if s.Profile != nil {
		user = fmt.Sprintf("%s (%s)", s.Profile.DisplayName, s.Profile.UserTag)
	}
	lobby := s.LobbyID
	if lobby == "" {
		lobby = "-"
	}

	fmt.Fprintf(c.out, "\n  Server:        %s\n", status.Server)
	fmt.Fprintf(c.out, "  State:         %s\n", s.State)
	fmt.Fprintf(c.out, "  Authenticated: %v\n", s.Authenticated)
	fmt.Fprintf(c.out, "  User:          %s\n", user)
	fmt.Fprintf(c.out, "  Friends:       %d\n", len(s.Friends))
	fmt.Fprintf(c.out, "  Requests:      %d in / %d out\n", len(s.RequestsAsInvitee), len(s.RequestsAsInviter))
	fmt.Fprintf(c.out, "  Lobby:         %s (%d members)\n", lobby, len(s.LobbyMembers))
	fmt.Fprintf(c.out, "  Uptime:        %s\n", status.Uptime)
	if s.LastError != "" {
		fmt.Fprintf(c.out, "  Last error:    %s\n", s.LastError)
	}
	if s.LastDisconnect != "" {
		fmt.Fprintf(c.out, "  Disconnected:  %s\n", s.LastDisconnect)
	}
	fmt.Fprintln(c.out)
}

func (c *CLI) printConnections() {
	conns := c.backend.Snapshot().Connections
	if len(conns) == 0 {
		fmt.Fprintln(c.out, "No connections")
		return
	}

	tw := c.table([]string{"Token", "Address", "State", "Queued Bytes", "Queued Packets", "Opened"})
	for _, conn := range conns {
		tw.Append([]string{
			strconv.FormatUint(uint64(conn.Token), 10),
			conn.Addr,
			conn.State.String(),
			strconv.Itoa(conn.QueuedBytes),
			strconv.Itoa(conn.QueuedPackets),
			formatTime(conn.OpenedAt),
		})
	}
	tw.Render()
}

func (c *CLI) printFriends() {
	friends := c.backend.Snapshot().Session.Friends
	if len(friends) == 0 {
		fmt.Fprintln(c.out, "No friends")
		return
	}

	tw := c.table([]string{"User Tag", "Name", "Online"})
	for _, f := range friends {
		tw.Append([]string{f.UserProfile.UserTag, f.UserProfile.DisplayName, yesNo(f.IsOnline)})
	}
	tw.Render()
}

func (c *CLI) printRequests() {
	s := c.backend.Snapshot().Session
	if len(s.RequestsAsInvitee)+len(s.RequestsAsInviter) == 0 {
		fmt.Fprintln(c.out, "No pending friend requests")
		return
	}

	tw := c.table([]string{"ID", "Direction", "User Tag", "Name", "State"})
	for _, r := range s.RequestsAsInvitee {
		tw.Append([]string{r.ID, "incoming", r.UserProfile.UserTag, r.UserProfile.DisplayName, r.State})
	}
	for _, r := range s.RequestsAsInviter {
		tw.Append([]string{r.ID, "outgoing", r.UserProfile.UserTag, r.UserProfile.DisplayName, r.State})
	}
	tw.Render()
}

func (c *CLI) printInvites() {
	invites := c.backend.Snapshot().Session.PendingInvites
	if len(invites) == 0 {
		fmt.Fprintln(c.out, "No pending lobby invites")
		return
	}

	tw := c.table([]string{"ID", "From", "Name"})
	for _, inv := range invites {
		tw.Append([]string{inv.InviteID, inv.Inviter.UserTag, inv.Inviter.DisplayName})
	}
	tw.Render()
}

func (c *CLI) printLobby() {
	s := c.backend.Snapshot().Session
	if s.LobbyID == "" {
		fmt.Fprintln(c.out, "Not in a lobby")
		return
	}

	fmt.Fprintf(c.out, "Lobby %s\n", s.LobbyID)
	tw := c.table([]string{"User Tag", "Name", "Online", "Owner"})
	for _, m := range s.LobbyMembers {
		tw.Append([]string{m.UserProfile.UserTag, m.UserProfile.DisplayName, yesNo(m.IsOnline), yesNo(m.IsOwner)})
	}
	tw.Render()
}

// printHistory shows stored history. Arguments are an optional kind and an
// optional limit, in any order.
func (c *CLI) printHistory(args []string) error {
	if c.history == nil {
		return errors.New("history is disabled")
	}

	kind, limit := "", 20
	for _, arg := range args {
		if n, err := strconv.Atoi(arg); err == nil {
			if n < 1 {
				return fmt.Errorf("invalid limit: %s", arg)
			}
			limit = n
			continue
		}
		kind = arg
	}

	entries, err := c.history.Recent(kind, limit)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Fprintln(c.out, "No history")
		return nil
	}

	tw := c.table([]string{"Time", "Kind", "Peer", "Content"})
	for _, e := range entries {
		tw.Append([]string{formatTime(e.CreatedAt), e.Kind, e.Peer, e.Content})
	}
	tw.Render()
	return nil
}

func (c *CLI) cmdLogin(ctx context.Context, args []string) error {
	switch len(args) {
	case 0:
		return c.submit(ctx, app.Login("", ""), "Login requested")
	case 2:
		return c.submit(ctx, app.Login(args[0], args[1]), "Login requested")
	default:
		return errors.New("usage: login [email password]")
	}
}

func (c *CLI) withTag(ctx context.Context, args []string, name string, build func(string) app.Action) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: %s <user_tag>", name)
	}
	return c.submit(ctx, build(args[0]), fmt.Sprintf("%s: %s", name, args[0]))
}

func (c *CLI) withID(ctx context.Context, args []string, name string, build func(string) app.Action) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: %s <id>", name)
	}
	return c.submit(ctx, build(args[0]), fmt.Sprintf("%s: %s", name, args[0]))
}

func (c *CLI) submit(ctx context.Context, a app.Action, done string) error {
	ctx, cancel := context.WithTimeout(ctx, actionTimeout)
	defer cancel()

	if err := c.backend.Submit(ctx, a); err != nil {
		return err
	}
	if done != "" {
		fmt.Fprintln(c.out, done)
	}
	return nil
}

func (c *CLI) table(header []string) *tablewriter.Table {
	tw := tablewriter.NewWriter(c.out)
	tw.SetHeader(header)
	tw.SetBorder(true)
	tw.SetAutoWrapText(false)
	return tw
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

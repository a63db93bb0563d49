// Package app drives a lobby client: it owns the network loop, executes
// actions submitted from other goroutines, keeps a session snapshot and fans
// events out to the application's event bus.
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/LeonardBesson/lobby-client-lib/internal/client"
	"github.com/LeonardBesson/lobby-client-lib/internal/events"
	"github.com/LeonardBesson/lobby-client-lib/internal/metrics"
	"github.com/LeonardBesson/lobby-client-lib/internal/network"
)

const (
	// ActionBuffer is the capacity of the action channel.
	ActionBuffer = 64

	// pollBatch is the number of events moved per PollEvents call.
	pollBatch = 128
)

var (
	// ErrStopped is returned by Submit once the runner has exited.
	ErrStopped = errors.New("runner stopped")

	// ErrNoCredentials is returned by a login action without credentials
	// when none are configured either.
	ErrNoCredentials = errors.New("no credentials")

	errExit = errors.New("exit requested")
)

// Options configures a Runner.
type Options struct {
	Client *client.Client
	Bus    *events.EventBus

	// TickRate is the number of network ticks per second.
	TickRate int

	// Email and Password enable automatic login after the handshake.
	Email     string
	Password  string
	AutoLogin bool

	// Clock defaults to time.Now.
	Clock func() time.Time
}

// Runner owns a client.Client. The client is only touched from the Run
// goroutine; everything else goes through Submit and Snapshot.
type Runner struct {
	client   *client.Client
	bus      *events.EventBus
	actions  chan Action
	done     chan struct{}
	interval time.Duration
	deadline time.Time
	clock    func() time.Time

	email     string
	password  string
	autoLogin bool

	mu          sync.RWMutex
	session     Session
	connections []network.ConnectionStatus
	startedAt   time.Time

	sink   []events.Event
	logger zerolog.Logger
}

// NewRunner creates a runner. Run starts it.
func NewRunner(opts Options) *Runner {
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	rate := opts.TickRate
	if rate <= 0 {
		rate = 60
	}
	return &Runner{
		client:    opts.Client,
		bus:       opts.Bus,
		actions:   make(chan Action, ActionBuffer),
		done:      make(chan struct{}),
		interval:  time.Second / time.Duration(rate),
		clock:     clock,
		email:     opts.Email,
		password:  opts.Password,
		autoLogin: opts.AutoLogin,
		session:   Session{State: network.StateClosed},
		startedAt: clock(),
		sink:      make([]events.Event, 0, pollBatch),
		logger:    log.With().Str("component", "runner").Str("server", opts.Client.Addr()).Logger(),
	}
}

// Run connects and loops until ctx is cancelled, an Exit action arrives or
// the network layer fails. The connection is disconnected and freed on the
// way out.
func (r *Runner) Run(ctx context.Context) error {
	defer close(r.done)

	r.logger.Info().Dur("tick", r.interval).Msg("runner started")
	r.client.Connect()

	for {
		select {
		case <-ctx.Done():
			r.shutdown()
			return nil
		default:
		}

		if err := r.step(); err != nil {
			r.shutdown()
			if errors.Is(err, errExit) {
				return nil
			}
			return err
		}
	}
}

// Done is closed when Run returns.
func (r *Runner) Done() <-chan struct{} {
	return r.done
}

// step runs one loop iteration: pending actions, one network tick, then
// event fan-out.
func (r *Runner) step() error {
	if err := r.drainActions(); err != nil {
		return err
	}

	if err := r.client.Tick(r.tickTimeout(r.clock())); err != nil {
		return fmt.Errorf("network tick failed: %w", err)
	}

	r.pump()
	r.refresh()
	return nil
}

// tickTimeout returns the time left until the next tick is due, starting a
// new tick period when the previous one has elapsed.
func (r *Runner) tickTimeout(now time.Time) time.Duration {
	if !now.Before(r.deadline) {
		r.deadline = now.Add(r.interval)
	}
	return r.deadline.Sub(now)
}

func (r *Runner) drainActions() error {
	for {
		select {
		case a := <-r.actions:
			err := r.perform(a)
			status := "ok"
			if err != nil && !errors.Is(err, errExit) {
				status = "error"
				r.logger.Warn().Err(err).Str("action", string(a.Kind)).Msg("action failed")
			}
			metrics.ActionsTotal.WithLabelValues(string(a.Kind), status).Inc()
			if errors.Is(err, errExit) {
				a.reply(nil)
				return err
			}
			a.reply(err)
		default:
			return nil
		}
	}
}

// pump moves every pending client event through the session and onto the bus.
func (r *Runner) pump() {
	for r.client.PollEvents(&r.sink, pollBatch) > 0 {
		for _, e := range r.sink {
			r.apply(e)
			if r.bus != nil {
				r.bus.Emit(e)
			}
		}
	}
}

func (r *Runner) refresh() {
	conns := r.client.Connections()
	state := r.client.State()

	r.mu.Lock()
	r.connections = conns
	r.session.State = state
	r.mu.Unlock()
}

func (r *Runner) shutdown() {
	r.logger.Info().Msg("runner stopping")
	r.client.Disconnect(true)
	r.pump()
	r.refresh()
	if err := r.client.Close(); err != nil {
		r.logger.Warn().Err(err).Msg("failed to close client")
	}

	// Fail whatever was submitted after the loop stopped reading.
	for {
		select {
		case a := <-r.actions:
			a.reply(ErrStopped)
		default:
			return
		}
	}
}

// Submit queues an action for the loop and waits for its result.
func (r *Runner) Submit(ctx context.Context, a Action) error {
	a.result = make(chan error, 1)

	select {
	case r.actions <- a:
	case <-ctx.Done():
		return ctx.Err()
	case <-r.done:
		return ErrStopped
	}

	select {
	case err := <-a.result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-r.done:
		select {
		case err := <-a.result:
			return err
		default:
			return ErrStopped
		}
	}
}

// Snapshot returns a copy of the current status.
func (r *Runner) Snapshot() Status {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return Status{
		Server:      r.client.Addr(),
		Session:     r.session.clone(),
		Connections: append([]network.ConnectionStatus(nil), r.connections...),
		StartedAt:   r.startedAt,
		Uptime:      r.clock().Sub(r.startedAt).Truncate(time.Second).String(),
	}
}

// perform executes an action on the loop goroutine.
func (r *Runner) perform(a Action) error {
	c := r.client
	switch a.Kind {
	case ActionLogin:
		email, password := a.Email, a.Password
		if email == "" {
			email, password = r.email, r.password
		}
		if email == "" || password == "" {
			return ErrNoCredentials
		}
		if err := c.Authenticate(email, password); err != nil {
			return err
		}
		// Reused by auto-login after a reconnect.
		r.email, r.password = email, password
		return nil
	case ActionAddFriend:
		return c.AddFriend(a.UserTag)
	case ActionRemoveFriend:
		return c.RemoveFriend(a.UserTag)
	case ActionFriendRequest:
		return c.FriendRequestAction(a.TargetID, a.Choice)
	case ActionPrivateMessage:
		return c.SendPrivateMessage(a.UserTag, a.Content)
	case ActionInviteUser:
		return c.InviteUser(a.UserTag)
	case ActionLobbyInvite:
		if err := c.LobbyInviteAction(a.TargetID, a.Choice); err != nil {
			return err
		}
		r.mu.Lock()
		r.session.dropInvite(a.TargetID)
		r.mu.Unlock()
		return nil
	case ActionLobbyMessage:
		return c.SendLobbyMessage(a.Content)
	case ActionRefresh:
		if err := c.RefreshFriendRequests(); err != nil {
			return err
		}
		return c.RefreshFriendList()
	case ActionConnect:
		c.Connect()
		return nil
	case ActionDisconnect:
		c.Disconnect(false)
		return nil
	case ActionExit:
		return errExit
	}
	return fmt.Errorf("unknown action %q", a.Kind)
}

// apply folds an event into the session and runs the automatic follow-ups.
func (r *Runner) apply(e events.Event) {
	r.mu.Lock()
	r.session.apply(e)
	r.session.UpdatedAt = e.Time
	r.mu.Unlock()

	switch p := e.Payload.(type) {
	case events.ConnectionEstablishedPayload:
		if r.autoLogin && r.email != "" && r.password != "" {
			r.logger.Info().Msg("logging in")
			if err := r.client.Authenticate(r.email, r.password); err != nil {
				r.logger.Warn().Err(err).Msg("automatic login failed")
			}
		}
	case events.AuthSuccessPayload:
		r.logger.Info().Str("user", p.Profile.UserTag).Msg("authenticated")
		r.refreshLists(true, true)
	case events.AuthFailurePayload:
		r.logger.Warn().Str("code", string(p.ErrorCode)).Msg("authentication failed")
	case events.AddFriendResponsePayload:
		if p.ErrorCode == nil {
			r.refreshLists(true, false)
		}
	case events.FriendRequestActionResponsePayload:
		if p.ErrorCode == nil {
			r.refreshLists(true, true)
		}
	case events.RemoveFriendResponsePayload:
		if p.ErrorCode == nil {
			r.refreshLists(false, true)
		}
	case events.DisconnectedPayload:
		r.logger.Info().Str("reason", p.Reason).Msg("disconnected")
	}
}

func (r *Runner) refreshLists(requests, friends bool) {
	if requests {
		if err := r.client.RefreshFriendRequests(); err != nil {
			r.logger.Warn().Err(err).Msg("failed to refresh friend requests")
		}
	}
	if friends {
		if err := r.client.RefreshFriendList(); err != nil {
			r.logger.Warn().Err(err).Msg("failed to refresh friend list")
		}
	}
}

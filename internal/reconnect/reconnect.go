// Baytrack - Live Regatta Tracking and Safety Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/baytrack

// Package reconnect is the client-side agent that keeps a relay
// connection alive across network failures.
//
// The agent is an explicit state machine: Disconnected -> Connecting ->
// Connected, falling back to Disconnected on any transport error. Each
// failed connect consumes one unit of the retry budget with a linearly
// increasing delay; when the budget is exhausted the agent enters the
// terminal Degraded state and diverts every outbound message to a local
// fallback sink instead of silently dropping it.
//
// While not connected, outbound messages queue in FIFO order and are
// flushed exactly once on the next successful connect, after the agent
// re-identifies itself (the server holds no session affinity across
// reconnects beyond the participant id).
//
// Observers consume a typed event channel rather than callback slots.
package reconnect

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/tomtom215/baytrack/internal/logging"
	"github.com/tomtom215/baytrack/internal/models"
)

// State is the agent's connection state.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	// StateDegraded is terminal: the retry budget is spent and sends
	// divert to the fallback sink.
	StateDegraded State = "degraded"
)

// ErrBudgetExhausted is returned by Run when the agent enters Degraded.
var ErrBudgetExhausted = errors.New("reconnect retry budget exhausted")

// Event is a typed notification from the agent. Implementations:
// StateChange, Inbound.
type Event interface{ isEvent() }

// StateChange reports a state transition. Attempt is the number of
// consecutive failed connect attempts so far.
type StateChange struct {
	From    State
	To      State
	Attempt int
}

func (StateChange) isEvent() {}

// Inbound carries a message received from the relay.
type Inbound struct {
	Msg models.Message
}

func (Inbound) isEvent() {}

// Conn is one established relay connection.
type Conn interface {
	WriteMessage(msg models.Message) error
	ReadMessage() (models.Message, error)
	Close() error
}

// Dialer establishes relay connections. The websocket implementation
// lives in this package; tests substitute a scripted dialer.
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// Fallback receives outbound messages the agent can no longer deliver.
type Fallback interface {
	Store(msg models.Message) error
}

// Config configures an Agent.
type Config struct {
	// URL of the relay websocket endpoint.
	URL string

	// Dialer defaults to the gorilla websocket dialer.
	Dialer Dialer

	// Fallback receives diverted messages in Degraded. Required.
	Fallback Fallback

	// MaxAttempts is the consecutive-failure budget. Default 5.
	MaxAttempts int

	// BaseDelay scales the linear backoff: the delay before attempt
	// n+1 is BaseDelay * n. Default 2s.
	BaseDelay time.Duration

	// Auth identifies this client on every fresh connect. When
	// Register is also set and no participant id is known yet, the
	// register frame is sent instead and the assigned id is kept for
	// subsequent reconnects.
	Auth     models.AuthPayload
	Register *models.RegisterParticipantPayload

	// EventBuffer sizes the event channel. Default 64.
	EventBuffer int
}

// Agent maintains the connection. Create with New, drive with Run,
// publish with Send, observe with Events.
type Agent struct {
	cfg Config

	mu            sync.Mutex
	state         State
	attempt       int
	queue         []models.Message
	conn          Conn
	participantID string

	events chan Event

	// sleep is injectable so tests control the backoff clock.
	sleep func(ctx context.Context, d time.Duration) error
}

// Option customizes an Agent.
type Option func(*Agent)

// WithSleeper overrides the backoff delay, for tests.
func WithSleeper(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(a *Agent) { a.sleep = sleep }
}

// New creates an Agent in the Disconnected state.
func New(cfg Config, opts ...Option) *Agent {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 2 * time.Second
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = 64
	}
	if cfg.Dialer == nil {
		cfg.Dialer = &WebsocketDialer{}
	}

	a := &Agent{
		cfg:           cfg,
		state:         StateDisconnected,
		participantID: cfg.Auth.ParticipantID,
		events:        make(chan Event, cfg.EventBuffer),
		sleep: func(ctx context.Context, d time.Duration) error {
			if d <= 0 {
				return ctx.Err()
			}
			timer := time.NewTimer(d)
			defer timer.Stop()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-timer.C:
				return nil
			}
		},
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Events returns the typed event stream. Events are dropped, with a
// log line, if the consumer falls more than the buffer behind.
func (a *Agent) Events() <-chan Event {
	return a.events
}

// State returns the current state.
func (a *Agent) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Send publishes a message to the relay. Connected: written directly.
// Disconnected or Connecting: queued FIFO for the next flush. Degraded:
// diverted to the fallback sink. The returned error is non-nil only
// when a fallback write fails; delivery failures on a live connection
// surface through the reconnect cycle, not here.
func (a *Agent) Send(msg models.Message) error {
	a.mu.Lock()

	switch a.state {
	case StateConnected:
		conn := a.conn
		if conn == nil {
			// The transport dropped between the state check and here;
			// queue for the next flush like any disconnected send.
			a.queue = append(a.queue, msg)
			a.mu.Unlock()
			return nil
		}
		a.mu.Unlock()
		if err := conn.WriteMessage(msg); err != nil {
			// The read loop will observe the broken transport; queue
			// the message so it is not lost in the gap.
			a.mu.Lock()
			a.queue = append(a.queue, msg)
			a.mu.Unlock()
		}
		return nil

	case StateDegraded:
		a.mu.Unlock()
		return a.cfg.Fallback.Store(msg)

	default:
		a.queue = append(a.queue, msg)
		a.mu.Unlock()
		return nil
	}
}

// Run drives the state machine until the context is canceled or the
// retry budget is exhausted. Returns ErrBudgetExhausted on Degraded.
func (a *Agent) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		a.transition(StateConnecting)
		conn, err := a.cfg.Dialer.Dial(ctx, a.cfg.URL)
		if err != nil {
			if degraded, rErr := a.connectFailed(ctx, err); degraded {
				return rErr
			}
			continue
		}

		a.establish(conn)

		// Close the transport on cancellation so the read loop cannot
		// outlive the context.
		watchDone := make(chan struct{})
		go func() {
			select {
			case <-ctx.Done():
				_ = conn.Close()
			case <-watchDone:
			}
		}()

		a.readLoop(ctx, conn)
		close(watchDone)
		_ = conn.Close()
		a.disconnected()

		if err := ctx.Err(); err != nil {
			return err
		}
		if degraded, rErr := a.maybeDegrade(ctx); degraded {
			return rErr
		}
	}
}

// connectFailed books one failed attempt, sleeping out the linear
// backoff. Returns true when the budget is spent.
func (a *Agent) connectFailed(ctx context.Context, dialErr error) (bool, error) {
	a.mu.Lock()
	a.attempt++
	attempt := a.attempt
	a.mu.Unlock()

	logging.Warn().
		Err(dialErr).
		Int("attempt", attempt).
		Int("budget", a.cfg.MaxAttempts).
		Msg("relay connect failed")

	a.transition(StateDisconnected)

	if attempt >= a.cfg.MaxAttempts {
		a.degrade()
		return true, ErrBudgetExhausted
	}

	if err := a.sleep(ctx, a.cfg.BaseDelay*time.Duration(attempt)); err != nil {
		return true, err
	}
	return false, nil
}

// maybeDegrade checks the budget after a dropped connection; a drop
// does not itself consume budget, only failed connects do.
func (a *Agent) maybeDegrade(_ context.Context) (bool, error) {
	a.mu.Lock()
	spent := a.attempt >= a.cfg.MaxAttempts
	a.mu.Unlock()
	if spent {
		a.degrade()
		return true, ErrBudgetExhausted
	}
	return false, nil
}

// establish turns a freshly dialed transport into the Connected state.
// The agent stays in Connecting, queuing concurrent sends, until the
// identity frame and the whole backlog are on the wire; only then are
// the connection and the Connected state installed, in one critical
// section, so Send never observes one without the other.
func (a *Agent) establish(conn Conn) {
	a.mu.Lock()
	a.attempt = 0
	a.mu.Unlock()

	a.identify(conn)

	for {
		a.mu.Lock()
		if len(a.queue) == 0 {
			from := a.state
			a.state = StateConnected
			a.conn = conn
			a.mu.Unlock()
			a.emit(StateChange{From: from, To: StateConnected})
			return
		}
		pending := a.queue
		a.queue = nil
		a.mu.Unlock()

		if !a.flush(conn, pending) {
			// The transport broke mid-flush; the read loop will fail on
			// the same connection and drive the next reconnect.
			return
		}
	}
}

// disconnected clears the connection and leaves Connected in the same
// critical section; a racing Send sees either a live connection or a
// state that queues.
func (a *Agent) disconnected() {
	a.mu.Lock()
	a.conn = nil
	from := a.state
	if from == StateDisconnected {
		a.mu.Unlock()
		return
	}
	a.state = StateDisconnected
	attempt := a.attempt
	a.mu.Unlock()

	a.emit(StateChange{From: from, To: StateDisconnected, Attempt: attempt})
}

// degrade drains the queue into the fallback sink and parks the agent
// in the terminal state.
func (a *Agent) degrade() {
	a.mu.Lock()
	pending := a.queue
	a.queue = nil
	a.mu.Unlock()

	for _, msg := range pending {
		if err := a.cfg.Fallback.Store(msg); err != nil {
			logging.Error().Err(err).Str("message_type", msg.Type).Msg("fallback store failed")
		}
	}
	a.transition(StateDegraded)
	logging.Error().
		Int("diverted", len(pending)).
		Msg("relay unreachable, entering degraded mode")
}

// identify re-sends the client's identity on a fresh connection: the
// stored participant id when known, the registration frame otherwise.
func (a *Agent) identify(conn Conn) {
	a.mu.Lock()
	id := a.participantID
	a.mu.Unlock()

	var hello models.Message
	switch {
	case id == "" && a.cfg.Register != nil:
		hello = models.Message{Type: models.MessageTypeRegisterParticipant, Data: *a.cfg.Register}
	default:
		auth := a.cfg.Auth
		auth.ParticipantID = id
		hello = models.Message{Type: models.MessageTypeAuth, Data: auth}
	}

	if err := conn.WriteMessage(hello); err != nil {
		logging.Warn().Err(err).Msg("identify frame write failed")
	}
}

// flush delivers pending messages in FIFO order, exactly once. Messages
// that fail to write are requeued ahead of anything enqueued meanwhile.
// Returns false when the write failed.
func (a *Agent) flush(conn Conn, pending []models.Message) bool {
	for i, msg := range pending {
		if err := conn.WriteMessage(msg); err != nil {
			a.mu.Lock()
			a.queue = append(pending[i:], a.queue...)
			a.mu.Unlock()
			logging.Warn().Err(err).Int("requeued", len(pending)-i).Msg("queue flush interrupted")
			return false
		}
	}
	logging.Info().Int("flushed", len(pending)).Msg("reconnect queue flushed")
	return true
}

// readLoop consumes inbound messages until the transport fails or the
// context is canceled, learning the assigned participant id from
// registration and auth responses.
func (a *Agent) readLoop(ctx context.Context, conn Conn) {
	for {
		if ctx.Err() != nil {
			return
		}
		msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		a.learnParticipantID(msg)
		a.emit(Inbound{Msg: msg})
	}
}

func (a *Agent) learnParticipantID(msg models.Message) {
	var profile *models.ParticipantProfile
	switch data := msg.Data.(type) {
	case models.RegistrationResponse:
		if data.Success {
			profile = data.Profile
		}
	case models.AuthResponse:
		if data.Success {
			profile = data.Profile
		}
	}
	if profile == nil || profile.ID == "" {
		return
	}

	a.mu.Lock()
	a.participantID = profile.ID
	a.mu.Unlock()
}

func (a *Agent) transition(to State) {
	a.mu.Lock()
	from := a.state
	if from == to {
		a.mu.Unlock()
		return
	}
	a.state = to
	attempt := a.attempt
	a.mu.Unlock()

	a.emit(StateChange{From: from, To: to, Attempt: attempt})
}

func (a *Agent) emit(e Event) {
	select {
	case a.events <- e:
	default:
		logging.Warn().Msg("dropping reconnect event, consumer too slow")
	}
}

// Baytrack - Live Regatta Tracking and Safety Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/baytrack

// Package registry tracks live WebSocket connections and their attached
// identity: role, participant binding, and liveness state.
//
// The registry is the single source of truth for "who is connected".
// The relay registers a connection on upgrade, promotes its role after
// authentication or registration, and removes it on disconnect. The
// liveness sweeper uses the two-cycle suspect mechanism to evict peers
// that have stopped responding.
package registry

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/tomtom215/baytrack/internal/models"
)

// Role classifies a connection's privilege level.
type Role string

const (
	// RoleAnonymous is the initial role of every connection. Anonymous
	// connections receive broadcasts but cannot publish updates.
	RoleAnonymous Role = "anonymous"

	// RoleParticipant is granted after a successful registration or
	// participant authentication.
	RoleParticipant Role = "participant"

	// RoleOrganizer is granted after organizer password authentication.
	RoleOrganizer Role = "organizer"
)

// Sender is the outbound half of a connection. The relay's client type
// implements it; tests substitute an in-memory recorder.
//
// Send must not block: implementations enqueue onto a buffered channel
// and report false when the buffer is full or the connection is closed.
type Sender interface {
	Send(msg models.Message) bool
}

// connSeq assigns monotonically increasing sequence numbers to
// connections. Broadcast fan-out iterates connections sorted by this
// sequence so delivery order is stable across runs.
var connSeq atomic.Uint64

// Connection is the registry's record for one live WebSocket peer.
//
// Identity fields (ID, Seq, ConnectedAt, Sender) are immutable after
// creation. Mutable fields (role, participant binding, liveness) are
// guarded by the owning Registry's mutex and must only be read through
// Registry methods or the snapshot returned by Info.
type Connection struct {
	// ID is a unique opaque identifier, used in logs and error frames.
	ID string

	// Seq orders connections for deterministic broadcast fan-out.
	Seq uint64

	// ConnectedAt records when the connection was registered.
	ConnectedAt time.Time

	// Sender delivers outbound messages to the peer.
	Sender Sender

	role          Role
	participantID string
	alive         bool
}

// Info is a point-in-time copy of a connection's mutable state.
type Info struct {
	ID            string
	Seq           uint64
	ConnectedAt   time.Time
	Role          Role
	ParticipantID string
	Alive         bool
}

// Registry is a mutex-guarded index of live connections keyed by their
// Sender. All methods are safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	conns map[Sender]*Connection
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{
		conns: make(map[Sender]*Connection),
	}
}

// Add registers a new connection with an anonymous role and a fresh
// liveness mark, returning its record. Re-adding an already registered
// sender returns the existing record unchanged.
func (r *Registry) Add(s Sender) *Connection {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.conns[s]; ok {
		return existing
	}

	conn := &Connection{
		ID:          uuid.NewString(),
		Seq:         connSeq.Add(1),
		ConnectedAt: time.Now().UTC(),
		Sender:      s,
		role:        RoleAnonymous,
		alive:       true,
	}
	r.conns[s] = conn
	return conn
}

// Remove deletes the connection for s, returning its final snapshot.
// The second return is false when s was not registered.
func (r *Registry) Remove(s Sender) (Info, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, ok := r.conns[s]
	if !ok {
		return Info{}, false
	}
	delete(r.conns, s)
	return snapshot(conn), true
}

// Get returns the current snapshot for s.
func (r *Registry) Get(s Sender) (Info, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conn, ok := r.conns[s]
	if !ok {
		return Info{}, false
	}
	return snapshot(conn), true
}

// SetRole promotes (or demotes) the connection's role. For participant
// roles, participantID binds the connection to a registered participant;
// it is ignored for other roles.
func (r *Registry) SetRole(s Sender, role Role, participantID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, ok := r.conns[s]
	if !ok {
		return false
	}
	conn.role = role
	if role == RoleParticipant {
		conn.participantID = participantID
	} else {
		conn.participantID = ""
	}
	return true
}

// MarkAlive refreshes the liveness mark for s. Called on every inbound
// frame, so any traffic from a peer counts as proof of life.
func (r *Registry) MarkAlive(s Sender) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if conn, ok := r.conns[s]; ok {
		conn.alive = true
	}
}

// Evicted pairs a removed connection's final snapshot with its Sender
// so the caller can close the underlying transport.
type Evicted struct {
	Info
	Sender Sender
}

// Sweep implements the two-cycle eviction used by the liveness
// supervisor. Connections whose liveness mark was not refreshed since
// the previous sweep are removed and returned for closing; every
// remaining connection is marked suspect for the next cycle.
//
// A connection is therefore never evicted on its first silent cycle:
// it takes two consecutive sweeps without inbound traffic.
func (r *Registry) Sweep() []Evicted {
	r.mu.Lock()
	defer r.mu.Unlock()

	var evicted []Evicted
	for s, conn := range r.conns {
		if !conn.alive {
			evicted = append(evicted, Evicted{Info: snapshot(conn), Sender: s})
			delete(r.conns, s)
			continue
		}
		conn.alive = false
	}

	sort.Slice(evicted, func(i, j int) bool {
		return evicted[i].Seq < evicted[j].Seq
	})
	return evicted
}

// SenderFor returns the Sender bound to participantID, if any
// participant connection carries that binding.
func (r *Registry) SenderFor(participantID string) (Sender, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for s, conn := range r.conns {
		if conn.role == RoleParticipant && conn.participantID == participantID {
			return s, true
		}
	}
	return nil, false
}

// List returns snapshots of all connections ordered by registration
// sequence. The ordering makes broadcast fan-out deterministic.
func (r *Registry) List() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.listLocked(func(*Connection) bool { return true })
}

// ListByRole returns snapshots of connections holding role, ordered by
// registration sequence.
func (r *Registry) ListByRole(role Role) []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.listLocked(func(c *Connection) bool { return c.role == role })
}

// Senders returns the Sender of every connection ordered by
// registration sequence.
func (r *Registry) Senders() []Sender {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sendersLocked(func(*Connection) bool { return true })
}

// SendersByRole returns the Sender of every connection holding role,
// ordered by registration sequence. Broadcast fan-out uses this so
// delivery order is stable.
func (r *Registry) SendersByRole(role Role) []Sender {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sendersLocked(func(c *Connection) bool { return c.role == role })
}

func (r *Registry) sendersLocked(keep func(*Connection) bool) []Sender {
	type entry struct {
		seq uint64
		s   Sender
	}
	entries := make([]entry, 0, len(r.conns))
	for s, conn := range r.conns {
		if keep(conn) {
			entries = append(entries, entry{seq: conn.Seq, s: s})
		}
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].seq < entries[j].seq
	})

	senders := make([]Sender, len(entries))
	for i, e := range entries {
		senders[i] = e.s
	}
	return senders
}

// Count returns the number of live connections.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// CountByRole returns the number of live connections holding role.
func (r *Registry) CountByRole(role Role) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, conn := range r.conns {
		if conn.role == role {
			n++
		}
	}
	return n
}

func (r *Registry) listLocked(keep func(*Connection) bool) []Info {
	infos := make([]Info, 0, len(r.conns))
	for _, conn := range r.conns {
		if keep(conn) {
			infos = append(infos, snapshot(conn))
		}
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].Seq < infos[j].Seq
	})
	return infos
}

func snapshot(c *Connection) Info {
	return Info{
		ID:            c.ID,
		Seq:           c.Seq,
		ConnectedAt:   c.ConnectedAt,
		Role:          c.role,
		ParticipantID: c.participantID,
		Alive:         c.alive,
	}
}

// Package session implements the rendezvous primitive at the heart of the
// proxy: pairing two clients under one session id and exchanging one
// utterance per turn between them.
//
// Each Session owns two single-slot delivery channels, one per direction.
// An Exchange call deposits the caller's utterance for the peer (except the
// handshake, which is discarded) and then suspends until the peer's next
// utterance arrives or the budget elapses. Deposit and receive are separate
// legs: a timeout on the receive leg never rescinds an utterance that was
// already delivered.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/motiveproxy/motiveproxy/internal/apierr"
)

// State is the lifecycle phase of a session.
type State string

const (
	// StateEmpty: created but no request has touched it yet.
	StateEmpty State = "empty"
	// StateAwaitingPeer: side A's handshake is suspended, waiting for B.
	StateAwaitingPeer State = "awaiting_peer"
	// StateActive: both sides have arrived; turns alternate.
	StateActive State = "active"
	// StateClosed: terminal. Closed sessions never transition out.
	StateClosed State = "closed"
)

// CloseReason records why a session was closed and determines what error
// its suspended callers observe.
type CloseReason string

const (
	// ReasonHandshakeTimeout: side B never arrived within the handshake budget.
	ReasonHandshakeTimeout CloseReason = "handshake_timeout"
	// ReasonTTLExpired: the sweep loop found the session idle past its TTL.
	ReasonTTLExpired CloseReason = "ttl_expired"
	// ReasonEvicted: removed by admission control to make room.
	ReasonEvicted CloseReason = "evicted"
	// ReasonAdminClosed: closed through the admin endpoint.
	ReasonAdminClosed CloseReason = "admin_closed"
	// ReasonShutdown: the manager is shutting down.
	ReasonShutdown CloseReason = "shutdown"
)

// errKind maps a close reason to the error kind suspended callers see:
// timeout for the time-driven closes, session_gone for everything else.
func (r CloseReason) errKind() apierr.Kind {
	switch r {
	case ReasonHandshakeTimeout, ReasonTTLExpired:
		return apierr.KindTimeout
	default:
		return apierr.KindSessionGone
	}
}

// Session pairs two clients by session id. All fields behind mu; the two
// delivery channels are capacity-1 so a sender can deposit without a
// receiver present, but never stack two undelivered utterances (the second
// sender gets session_conflict instead).
type Session struct {
	id              string
	handshakeBudget time.Duration
	turnBudget      time.Duration

	mu           sync.Mutex
	state        State
	sideAPresent bool
	sideBPresent bool
	// toA carries deliveries destined for side A (deposited by B);
	// toB the reverse. Each side receives on its own channel.
	toA chan string
	toB chan string
	// recvA/recvB: a request is currently suspended receiving on that
	// side. At most one per side at any instant.
	recvA bool
	recvB bool

	closed      chan struct{}
	closeReason CloseReason

	createdAt    time.Time
	lastActivity time.Time
}

// New creates an empty session with the given per-call wait budgets.
func New(id string, handshakeBudget, turnBudget time.Duration) *Session {
	now := time.Now()
	return &Session{
		id:              id,
		handshakeBudget: handshakeBudget,
		turnBudget:      turnBudget,
		state:           StateEmpty,
		toA:             make(chan string, 1),
		toB:             make(chan string, 1),
		closed:          make(chan struct{}),
		createdAt:       now,
		lastActivity:    now,
	}
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// State returns the current lifecycle phase.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Age returns the time since the session was created.
func (s *Session) Age() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return time.Since(s.createdAt)
}

// IdleFor returns the time since the last accepted request or delivery.
func (s *Session) IdleFor() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return time.Since(s.lastActivity)
}

// Exchange performs one atomic half-turn: deliver the caller's utterance to
// the peer side and suspend until the peer's utterance arrives.
//
// The first call on a fresh session is the handshake: the caller becomes
// side A, its utterance is discarded, and it waits (under the handshake
// budget) for B's first message. Every later call resolves the caller's
// side from queue occupancy, deposits, and waits under the turn budget.
//
// Exchange returns apierr errors only: timeout, session_conflict, or
// session_gone.
func (s *Session) Exchange(ctx context.Context, utterance string) (string, error) {
	s.mu.Lock()
	if s.state == StateClosed {
		reason := s.closeReason
		s.mu.Unlock()
		return "", closedErr(reason)
	}
	s.lastActivity = time.Now()

	var (
		deposit   chan string
		recv      chan string
		recvFlag  *bool
		budget    time.Duration
		handshake bool
	)

	switch {
	case !s.sideAPresent:
		// First arrival: handshake. The ping is consumed here and never
		// forwarded to B.
		s.sideAPresent = true
		s.state = StateAwaitingPeer
		recv, recvFlag = s.toA, &s.recvA
		budget = s.handshakeBudget
		handshake = true

	case !s.sideBPresent:
		// Second arrival claims the B slot. Its utterance answers A's
		// pending handshake.
		s.sideBPresent = true
		s.state = StateActive
		deposit, recv, recvFlag = s.toA, s.toB, &s.recvB
		budget = s.turnBudget

	default:
		side, err := s.resolveSideLocked()
		if err != nil {
			s.mu.Unlock()
			return "", err
		}
		if side == sideA {
			deposit, recv, recvFlag = s.toB, s.toA, &s.recvA
		} else {
			deposit, recv, recvFlag = s.toA, s.toB, &s.recvB
		}
		budget = s.turnBudget
	}

	if *recvFlag {
		s.mu.Unlock()
		return "", apierr.E(apierr.KindSessionConflict, "request_in_flight",
			"this side already has a request in flight")
	}

	if deposit != nil {
		select {
		case deposit <- utterance:
		default:
			// Peer has not consumed the previous delivery; backpressure.
			s.mu.Unlock()
			return "", apierr.E(apierr.KindSessionConflict, "delivery_pending",
				"previous utterance has not been consumed by the peer")
		}
	}

	*recvFlag = true
	s.mu.Unlock()

	timer := time.NewTimer(budget)
	defer timer.Stop()

	select {
	case msg := <-recv:
		s.mu.Lock()
		*recvFlag = false
		s.lastActivity = time.Now()
		s.mu.Unlock()
		return msg, nil

	case <-timer.C:
		// The expired waiter just stops watching; queue state is intact
		// and an already-deposited utterance stays deliverable.
		s.mu.Lock()
		*recvFlag = false
		s.lastActivity = time.Now()
		s.mu.Unlock()
		if handshake {
			s.Close(ReasonHandshakeTimeout)
			return "", apierr.E(apierr.KindTimeout, "handshake_timeout",
				"no peer arrived within the handshake budget")
		}
		return "", apierr.E(apierr.KindTimeout, "turn_timeout",
			"peer did not respond within the turn budget")

	case <-ctx.Done():
		// Caller's connection dropped. Detach, and drop a delivery that
		// was already matched to this waiter: no live consumer remains.
		s.mu.Lock()
		*recvFlag = false
		select {
		case <-recv:
		default:
		}
		s.mu.Unlock()
		return "", apierr.E(apierr.KindTimeout, "request_cancelled",
			"request cancelled by the caller")

	case <-s.closed:
		s.mu.Lock()
		*recvFlag = false
		reason := s.closeReason
		s.mu.Unlock()
		return "", closedErr(reason)
	}
}

type side int

const (
	sideA side = iota
	sideB
)

// resolveSideLocked recovers the caller's identity from queue state once
// both sides have been assigned. The rule is total:
//
//   - exactly one side has a suspended receiver → the caller is the other
//     side (its deposit will wake that receiver);
//   - both sides suspended → a third participant; conflict;
//   - neither suspended → the caller is the side whose delivery queue is
//     empty (A checked first), so its utterance can be deposited;
//   - both delivery queues full → conflict.
//
// Caller must hold s.mu.
func (s *Session) resolveSideLocked() (side, error) {
	switch {
	case s.recvA && s.recvB:
		return 0, apierr.E(apierr.KindSessionConflict, "third_participant",
			"both sides of this session already have requests in flight")
	case s.recvB:
		return sideA, nil
	case s.recvA:
		return sideB, nil
	case len(s.toB) == 0:
		return sideA, nil
	case len(s.toA) == 0:
		return sideB, nil
	default:
		return 0, apierr.E(apierr.KindSessionConflict, "queues_full",
			"both delivery slots are occupied")
	}
}

// Close transitions the session to Closed and wakes every suspended caller.
// Idempotent; the first reason wins.
func (s *Session) Close(reason CloseReason) {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	s.state = StateClosed
	s.closeReason = reason
	close(s.closed)
	s.mu.Unlock()
}

// closedErr builds the error suspended or late callers observe for a
// session closed with the given reason.
func closedErr(reason CloseReason) error {
	kind := reason.errKind()
	if kind == apierr.KindTimeout {
		return apierr.E(kind, string(reason), "session closed: "+string(reason))
	}
	return apierr.E(apierr.KindSessionGone, string(reason),
		"session is gone: "+string(reason))
}

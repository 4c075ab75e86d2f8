// Package session implements the lifecycle state machine for game
// sessions, independent of storage and generation.
//
// Statuses move along:
//
//	waiting -> active <-> paused -> completed -> archived
//
// Every transition checks its source status first and mutates nothing on
// failure.
package session

import (
	"errors"
	"fmt"
	"time"

	"storyforge/server/internal/models"
)

var (
	// ErrInvalidSessionState signals a transition attempted from the
	// wrong source status.
	ErrInvalidSessionState = errors.New("invalid session state")
	// ErrSessionFull signals a join attempt against a full session.
	ErrSessionFull = errors.New("session is full")
	// ErrAlreadyJoined signals a join attempt by a current member.
	ErrAlreadyJoined = errors.New("already joined this session")
	// ErrNotHost signals a host-only transition requested by a non-host.
	ErrNotHost = errors.New("only the host may perform this action")
)

// Start moves a waiting session to active and stamps StartedAt once.
// Only the host may start a session.
func Start(s *models.Session, callerID string, now time.Time) error {
	if callerID != s.HostID {
		return ErrNotHost
	}
	if s.Status != models.SessionStatusWaiting {
		return transitionError("start", s.Status)
	}
	s.Status = models.SessionStatusActive
	if s.StartedAt == nil {
		t := now.UTC()
		s.StartedAt = &t
	}
	return nil
}

// Pause suspends an active session.
func Pause(s *models.Session) error {
	if s.Status != models.SessionStatusActive {
		return transitionError("pause", s.Status)
	}
	s.Status = models.SessionStatusPaused
	return nil
}

// Resume reactivates a paused session.
func Resume(s *models.Session) error {
	if s.Status != models.SessionStatusPaused {
		return transitionError("resume", s.Status)
	}
	s.Status = models.SessionStatusActive
	return nil
}

// End completes an active or paused session and stamps EndedAt once.
func End(s *models.Session, now time.Time) error {
	if s.Status != models.SessionStatusActive && s.Status != models.SessionStatusPaused {
		return transitionError("end", s.Status)
	}
	s.Status = models.SessionStatusCompleted
	if s.EndedAt == nil {
		t := now.UTC()
		s.EndedAt = &t
	}
	return nil
}

// Archive retires a completed session.
func Archive(s *models.Session) error {
	if s.Status != models.SessionStatusCompleted {
		return transitionError("archive", s.Status)
	}
	s.Status = models.SessionStatusArchived
	return nil
}

// CanJoin checks whether a new participant may join the session given
// its status, the current member count, and the joiner's identity.
// currentPlayers must count members who have not left.
func CanJoin(s *models.Session, userID string, currentPlayers int, alreadyMember bool) error {
	if s.Status != models.SessionStatusWaiting && s.Status != models.SessionStatusActive {
		return transitionError("join", s.Status)
	}
	if alreadyMember {
		return ErrAlreadyJoined
	}
	if currentPlayers >= s.MaxPlayers {
		return ErrSessionFull
	}
	return nil
}

func transitionError(op, status string) error {
	return fmt.Errorf("%w: cannot %s session with status %q", ErrInvalidSessionState, op, status)
}

package session

import (
	"errors"
	"testing"
	"time"

	"storyforge/server/internal/models"
)

func newSession(status string) *models.Session {
	return &models.Session{
		ID:         "sess-1",
		HostID:     "host-1",
		Status:     status,
		MaxPlayers: 4,
	}
}

func TestStartFromWaiting(t *testing.T) {
	s := newSession(models.SessionStatusWaiting)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	if err := Start(s, "host-1", now); err != nil {
		t.Fatalf("start: %v", err)
	}
	if s.Status != models.SessionStatusActive {
		t.Fatalf("status = %q, want active", s.Status)
	}
	if s.StartedAt == nil || !s.StartedAt.Equal(now) {
		t.Fatalf("started_at = %v, want %v", s.StartedAt, now)
	}
}

func TestStartSetsStartedAtOnce(t *testing.T) {
	first := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s := newSession(models.SessionStatusWaiting)
	s.StartedAt = &first

	if err := Start(s, "host-1", first.Add(time.Hour)); err != nil {
		t.Fatalf("start: %v", err)
	}
	if !s.StartedAt.Equal(first) {
		t.Fatalf("started_at overwritten: %v", s.StartedAt)
	}
}

func TestStartRequiresHost(t *testing.T) {
	s := newSession(models.SessionStatusWaiting)
	if err := Start(s, "player-2", time.Now()); !errors.Is(err, ErrNotHost) {
		t.Fatalf("err = %v, want ErrNotHost", err)
	}
	if s.Status != models.SessionStatusWaiting {
		t.Fatalf("session mutated on rejected start: %q", s.Status)
	}
}

func TestIllegalTransitions(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name   string
		status string
		op     func(*models.Session) error
	}{
		{"start from paused", models.SessionStatusPaused, func(s *models.Session) error { return Start(s, "host-1", now) }},
		{"start from active", models.SessionStatusActive, func(s *models.Session) error { return Start(s, "host-1", now) }},
		{"start from completed", models.SessionStatusCompleted, func(s *models.Session) error { return Start(s, "host-1", now) }},
		{"pause from waiting", models.SessionStatusWaiting, Pause},
		{"pause from completed", models.SessionStatusCompleted, Pause},
		{"resume from active", models.SessionStatusActive, Resume},
		{"resume from completed", models.SessionStatusCompleted, Resume},
		{"end from waiting", models.SessionStatusWaiting, func(s *models.Session) error { return End(s, now) }},
		{"end from completed", models.SessionStatusCompleted, func(s *models.Session) error { return End(s, now) }},
		{"archive from active", models.SessionStatusActive, Archive},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newSession(tt.status)
			err := tt.op(s)
			if !errors.Is(err, ErrInvalidSessionState) {
				t.Fatalf("err = %v, want ErrInvalidSessionState", err)
			}
			if s.Status != tt.status {
				t.Fatalf("session mutated on rejected transition: %q -> %q", tt.status, s.Status)
			}
			if s.StartedAt != nil || s.EndedAt != nil {
				t.Fatalf("timestamps mutated on rejected transition")
			}
		})
	}
}

func TestPauseResumeRoundTrip(t *testing.T) {
	s := newSession(models.SessionStatusActive)
	if err := Pause(s); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if err := Resume(s); err != nil {
		t.Fatalf("resume: %v", err)
	}
	if s.Status != models.SessionStatusActive {
		t.Fatalf("status = %q after pause/resume", s.Status)
	}
}

func TestEndFromPausedSetsEndedAt(t *testing.T) {
	now := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	s := newSession(models.SessionStatusPaused)
	if err := End(s, now); err != nil {
		t.Fatalf("end: %v", err)
	}
	if s.Status != models.SessionStatusCompleted {
		t.Fatalf("status = %q, want completed", s.Status)
	}
	if s.EndedAt == nil || !s.EndedAt.Equal(now) {
		t.Fatalf("ended_at = %v, want %v", s.EndedAt, now)
	}
}

func TestArchiveFromCompleted(t *testing.T) {
	s := newSession(models.SessionStatusCompleted)
	if err := Archive(s); err != nil {
		t.Fatalf("archive: %v", err)
	}
	if s.Status != models.SessionStatusArchived {
		t.Fatalf("status = %q, want archived", s.Status)
	}
}

func TestCanJoin(t *testing.T) {
	tests := []struct {
		name          string
		status        string
		players       int
		alreadyMember bool
		wantErr       error
	}{
		{"waiting with room", models.SessionStatusWaiting, 1, false, nil},
		{"active with room", models.SessionStatusActive, 2, false, nil},
		{"full", models.SessionStatusActive, 4, false, ErrSessionFull},
		{"over capacity", models.SessionStatusWaiting, 5, false, ErrSessionFull},
		{"already joined", models.SessionStatusActive, 2, true, ErrAlreadyJoined},
		{"completed", models.SessionStatusCompleted, 0, false, ErrInvalidSessionState},
		{"paused", models.SessionStatusPaused, 0, false, ErrInvalidSessionState},
		{"archived", models.SessionStatusArchived, 0, false, ErrInvalidSessionState},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newSession(tt.status)
			err := CanJoin(s, "user-9", tt.players, tt.alreadyMember)
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("join rejected: %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

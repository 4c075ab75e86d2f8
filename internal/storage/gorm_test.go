package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"storyforge/server/internal/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open("sqlite", filepath.Join(t.TempDir(), "storage_test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func seedSession(t *testing.T, store *Store) *models.Session {
	t.Helper()
	ctx := context.Background()
	story := &models.Story{ID: "story-1", Title: "Ashfall"}
	if err := store.CreateStory(ctx, story); err != nil {
		t.Fatalf("create story: %v", err)
	}
	sess := &models.Session{
		ID:         "sess-1",
		StoryID:    story.ID,
		HostID:     "host-1",
		Status:     models.SessionStatusActive,
		MaxPlayers: 4,
	}
	host := &models.SessionPlayer{ID: "sp-1", SessionID: sess.ID, UserID: "host-1", Role: models.RoleHost}
	if err := store.CreateSession(ctx, sess, host); err != nil {
		t.Fatalf("create session: %v", err)
	}
	return sess
}

func turnEvents(sessionID string, base time.Time, turn int) (*models.StoryEvent, *models.StoryEvent) {
	at := base.Add(time.Duration(turn) * time.Second)
	action := &models.StoryEvent{
		ID:        sessionID + "-a" + string(rune('0'+turn)),
		SessionID: sessionID,
		EventType: models.EventTypeAction,
		Content:   "action",
		CreatedAt: at,
	}
	narration := &models.StoryEvent{
		ID:            sessionID + "-n" + string(rune('0'+turn)),
		SessionID:     sessionID,
		EventType:     models.EventTypeNarration,
		Content:       "narration",
		IsAIGenerated: true,
		CreatedAt:     at.Add(time.Microsecond),
	}
	return action, narration
}

func TestCommitTurnPersistsEventsAndCounters(t *testing.T) {
	store := newTestStore(t)
	sess := seedSession(t, store)
	ctx := context.Background()

	action, narration := turnEvents(sess.ID, time.Now().UTC(), 1)
	sess.TurnCount++
	sess.EventCount += 2
	if err := store.CommitTurn(ctx, sess, action, narration); err != nil {
		t.Fatalf("CommitTurn: %v", err)
	}

	reloaded, err := store.GetSession(ctx, sess.ID)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if reloaded.TurnCount != 1 || reloaded.EventCount != 2 {
		t.Errorf("counters = %d/%d, want 1/2", reloaded.TurnCount, reloaded.EventCount)
	}

	n, err := store.CountEvents(ctx, sess.ID)
	if err != nil {
		t.Fatalf("CountEvents: %v", err)
	}
	if n != 2 {
		t.Errorf("event count = %d, want 2", n)
	}
}

func TestCommitTurnRollsBackOnConflict(t *testing.T) {
	store := newTestStore(t)
	sess := seedSession(t, store)
	ctx := context.Background()

	action, narration := turnEvents(sess.ID, time.Now().UTC(), 1)
	if err := store.CommitTurn(ctx, sess, action, narration); err != nil {
		t.Fatalf("first CommitTurn: %v", err)
	}

	// Re-inserting the same event ids must fail and roll back the
	// counter update along with both inserts.
	sess.TurnCount = 99
	if err := store.CommitTurn(ctx, sess, action, narration); err == nil {
		t.Fatal("duplicate commit succeeded")
	}

	reloaded, _ := store.GetSession(ctx, sess.ID)
	if reloaded.TurnCount == 99 {
		t.Error("counter update survived a failed commit")
	}
	n, _ := store.CountEvents(ctx, sess.ID)
	if n != 2 {
		t.Errorf("event count = %d after failed commit, want 2", n)
	}
}

func TestEventOrderingAndPaging(t *testing.T) {
	store := newTestStore(t)
	sess := seedSession(t, store)
	ctx := context.Background()
	base := time.Now().UTC()

	for turn := 1; turn <= 3; turn++ {
		action, narration := turnEvents(sess.ID, base, turn)
		if err := store.CommitTurn(ctx, sess, action, narration); err != nil {
			t.Fatalf("turn %d: %v", turn, err)
		}
	}

	events, err := store.ListEvents(ctx, sess.ID, 0, 0)
	if err != nil {
		t.Fatalf("ListEvents: %v", err)
	}
	if len(events) != 6 {
		t.Fatalf("got %d events, want 6", len(events))
	}
	for i := 1; i < len(events); i++ {
		if events[i].CreatedAt.Before(events[i-1].CreatedAt) {
			t.Fatalf("events out of order at %d", i)
		}
	}
	for i := 0; i < len(events); i += 2 {
		if events[i].EventType != models.EventTypeAction || events[i+1].EventType != models.EventTypeNarration {
			t.Errorf("pair %d = %s/%s, want action/narration", i/2, events[i].EventType, events[i+1].EventType)
		}
	}

	page, err := store.ListEvents(ctx, sess.ID, 2, 2)
	if err != nil {
		t.Fatalf("paged ListEvents: %v", err)
	}
	if len(page) != 2 || page[0].ID != events[2].ID {
		t.Errorf("page = %+v", page)
	}

	recent, err := store.RecentEvents(ctx, sess.ID, 4)
	if err != nil {
		t.Fatalf("RecentEvents: %v", err)
	}
	if len(recent) != 4 {
		t.Fatalf("recent = %d events, want 4", len(recent))
	}
	if recent[0].ID != events[2].ID || recent[3].ID != events[5].ID {
		t.Errorf("recent window = %s..%s, want %s..%s", recent[0].ID, recent[3].ID, events[2].ID, events[5].ID)
	}
}

func TestEventMetadataRoundTrip(t *testing.T) {
	store := newTestStore(t)
	sess := seedSession(t, store)
	ctx := context.Background()

	event := &models.StoryEvent{
		ID:        "ev-meta",
		SessionID: sess.ID,
		EventType: models.EventTypeNarration,
		Content:   "raw",
		Metadata: models.EventMetadata{
			Narration: &models.NarrationMeta{
				Narration: "The gate creaks open.",
				Dialogue:  []models.DialogueLine{{Speaker: "Guard", Text: "Who goes there?"}},
				Actions:   []string{"Answer", "Hide"},
			},
		},
		IsAIGenerated: true,
		CreatedAt:     time.Now().UTC(),
	}
	if err := store.CommitTurn(ctx, sess, event); err != nil {
		t.Fatalf("CommitTurn: %v", err)
	}

	events, _ := store.ListEvents(ctx, sess.ID, 0, 0)
	if len(events) != 1 {
		t.Fatalf("got %d events", len(events))
	}
	meta := events[0].Metadata.Narration
	if meta == nil {
		t.Fatal("narration metadata lost")
	}
	if meta.Narration != "The gate creaks open." || len(meta.Dialogue) != 1 || len(meta.Actions) != 2 {
		t.Errorf("metadata = %+v", meta)
	}
	if meta.Dialogue[0].Speaker != "Guard" {
		t.Errorf("speaker = %q", meta.Dialogue[0].Speaker)
	}
}

func TestGetSessionNotFound(t *testing.T) {
	store := newTestStore(t)
	if _, err := store.GetSession(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestListSessionsFilters(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	if err := store.CreateStory(ctx, &models.Story{ID: "story-1", Title: "Ashfall"}); err != nil {
		t.Fatalf("create story: %v", err)
	}

	statuses := []string{
		models.SessionStatusWaiting,
		models.SessionStatusActive,
		models.SessionStatusActive,
		models.SessionStatusCompleted,
	}
	for i, status := range statuses {
		sess := &models.Session{
			ID:       "s-" + string(rune('0'+i)),
			StoryID:  "story-1",
			Status:   status,
			IsPublic: i%2 == 0,
		}
		if err := store.CreateSession(ctx, sess); err != nil {
			t.Fatalf("create session %d: %v", i, err)
		}
	}

	_, total, err := store.ListSessions(ctx, SessionFilter{Status: models.SessionStatusActive})
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if total != 2 {
		t.Errorf("active total = %d, want 2", total)
	}

	pub := true
	_, total, err = store.ListSessions(ctx, SessionFilter{IsPublic: &pub})
	if err != nil {
		t.Fatalf("ListSessions public: %v", err)
	}
	if total != 2 {
		t.Errorf("public total = %d, want 2", total)
	}

	page, total, err := store.ListSessions(ctx, SessionFilter{StoryID: "story-1", Limit: 3})
	if err != nil {
		t.Fatalf("ListSessions paged: %v", err)
	}
	if total != 4 || len(page) != 3 {
		t.Errorf("paged = %d of %d, want 3 of 4", len(page), total)
	}
}

func TestPlayerMembership(t *testing.T) {
	store := newTestStore(t)
	sess := seedSession(t, store)
	ctx := context.Background()

	if n, _ := store.CountActivePlayers(ctx, sess.ID); n != 1 {
		t.Fatalf("initial active players = %d, want 1", n)
	}

	p := &models.SessionPlayer{ID: "sp-2", SessionID: sess.ID, UserID: "u-2", Role: models.RolePlayer}
	if err := store.AddPlayer(ctx, p); err != nil {
		t.Fatalf("AddPlayer: %v", err)
	}
	if n, _ := store.CountActivePlayers(ctx, sess.ID); n != 2 {
		t.Errorf("active players = %d, want 2", n)
	}

	if err := store.MarkPlayerLeft(ctx, sess.ID, "u-2", time.Now()); err != nil {
		t.Fatalf("MarkPlayerLeft: %v", err)
	}
	if n, _ := store.CountActivePlayers(ctx, sess.ID); n != 1 {
		t.Errorf("active players after leave = %d, want 1", n)
	}

	left, err := store.GetPlayer(ctx, sess.ID, "u-2")
	if err != nil {
		t.Fatalf("GetPlayer after leave: %v", err)
	}
	if left.LeftAt == nil {
		t.Error("LeftAt not stamped")
	}

	if err := store.MarkPlayerLeft(ctx, sess.ID, "u-2", time.Now()); !errors.Is(err, ErrNotFound) {
		t.Errorf("double leave err = %v, want ErrNotFound", err)
	}
	if _, err := store.GetPlayer(ctx, sess.ID, "nobody"); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown player err = %v, want ErrNotFound", err)
	}
}

func TestDeleteSessionCascades(t *testing.T) {
	store := newTestStore(t)
	sess := seedSession(t, store)
	ctx := context.Background()

	action, narration := turnEvents(sess.ID, time.Now().UTC(), 1)
	if err := store.CommitTurn(ctx, sess, action, narration); err != nil {
		t.Fatalf("CommitTurn: %v", err)
	}

	if err := store.DeleteSession(ctx, sess.ID); err != nil {
		t.Fatalf("DeleteSession: %v", err)
	}
	if _, err := store.GetSession(ctx, sess.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("session survived delete: %v", err)
	}
	if n, _ := store.CountEvents(ctx, sess.ID); n != 0 {
		t.Errorf("%d events survived delete", n)
	}
	if n, _ := store.CountActivePlayers(ctx, sess.ID); n != 0 {
		t.Errorf("%d players survived delete", n)
	}

	if err := store.DeleteSession(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("delete missing err = %v, want ErrNotFound", err)
	}
}

// Package engine drives turn generation: it assembles story context,
// calls the configured provider, parses the response, and commits the
// resulting events and session counters in one transaction.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/atomic"

	"storyforge/server/internal/models"
	"storyforge/server/internal/prompts"
	"storyforge/server/internal/quota"
	"storyforge/server/internal/session"
	"storyforge/server/internal/storage"
)

const (
	defaultMaxPlayers = 4

	// Degraded-mode placeholder when no provider is configured.
	degradedNarrationFmt = "You %s. The story continues..."

	// How long a turn waits on the cross-instance lock before giving up,
	// and how often it re-polls.
	turnLockWait = 30 * time.Second
	turnLockPoll = 100 * time.Millisecond

	memoryWriteTimeout = 10 * time.Second
	recallLimit        = 3
)

// TurnLocker serializes turns across service instances. The in-process
// mutex already serializes turns within one instance; this guards
// multi-instance deployments.
type TurnLocker interface {
	AcquireTurnLock(ctx context.Context, sessionID, owner string) (bool, error)
	ReleaseTurnLock(ctx context.Context, sessionID, owner string) error
}

// Recaller persists and retrieves long-term story memories.
type Recaller interface {
	Remember(ctx context.Context, sessionID, kind, content string) error
	Recall(ctx context.Context, sessionID, query string, limit int) ([]string, error)
}

// Config wires an Engine. Store is required; everything else degrades
// gracefully when absent: a nil Provider puts the engine in degraded
// mode, a nil Ledger means unlimited credits, a nil Memories disables
// long-term recall, a nil Locks disables cross-instance locking.
type Config struct {
	Store    *storage.Store
	Provider Provider
	Ledger   quota.Ledger
	Memories Recaller
	Prompts  *prompts.Library
	Locks    TurnLocker
}

// Engine is the turn orchestrator. It owns all session counter and
// state mutation; everything else reads.
type Engine struct {
	store    *storage.Store
	provider Provider
	ledger   quota.Ledger
	memories Recaller
	prompts  *prompts.Library
	locks    TurnLocker

	mu        sync.Mutex
	turnLocks map[string]*sync.Mutex

	inFlight atomic.Int64

	now   func() time.Time
	newID func() string
}

// NewEngine builds an Engine from its dependencies.
func NewEngine(cfg Config) *Engine {
	ledger := cfg.Ledger
	if ledger == nil {
		ledger = quota.Unlimited{}
	}
	lib := cfg.Prompts
	if lib == nil {
		lib = prompts.NewLibrary()
	}
	return &Engine{
		store:     cfg.Store,
		provider:  cfg.Provider,
		ledger:    ledger,
		memories:  cfg.Memories,
		prompts:   lib,
		locks:     cfg.Locks,
		turnLocks: make(map[string]*sync.Mutex),
		now:       time.Now,
		newID:     uuid.NewString,
	}
}

// Degraded reports whether the engine runs without a generation
// backend.
func (e *Engine) Degraded() bool { return e.provider == nil }

// InFlightTurns reports how many turns are currently being processed.
func (e *Engine) InFlightTurns() int64 { return e.inFlight.Load() }

func (e *Engine) sessionLock(sessionID string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.turnLocks[sessionID]
	if !ok {
		l = &sync.Mutex{}
		e.turnLocks[sessionID] = l
	}
	return l
}

// ActionInput names an action submission.
type ActionInput struct {
	SessionID   string
	PlayerID    string
	CharacterID string
	Action      string
}

// TurnResult is the outcome of one committed turn.
type TurnResult struct {
	Session        *models.Session    `json:"session"`
	ActionEvent    *models.StoryEvent `json:"action_event"`
	NarrationEvent *models.StoryEvent `json:"narration_event"`

	Narration  string                `json:"narration"`
	Dialogue   []models.DialogueLine `json:"dialogue,omitempty"`
	Actions    []string              `json:"suggested_actions,omitempty"`
	TokensUsed int                   `json:"tokens_used"`
	Degraded   bool                  `json:"degraded,omitempty"`
}

// ProcessPlayerAction runs one full turn: validate, assemble context,
// generate, parse, and commit the action/narration event pair together
// with the session counters. Turns for the same session run one at a
// time; concurrent submissions queue.
func (e *Engine) ProcessPlayerAction(ctx context.Context, in ActionInput) (*TurnResult, error) {
	lock := e.sessionLock(in.SessionID)
	lock.Lock()
	defer lock.Unlock()

	e.inFlight.Inc()
	defer e.inFlight.Dec()

	release, err := e.acquireTurnLock(ctx, in.SessionID)
	if err != nil {
		return nil, err
	}
	defer release()

	st, err := e.prepareTurn(ctx, in)
	if err != nil {
		return nil, err
	}

	if e.provider == nil {
		return e.commitDegradedTurn(ctx, st, in)
	}

	msgs := []ChatMessage{
		{Role: RoleSystem, Content: prompts.SystemPrompt(prompts.ModeDefault)},
		{Role: RoleUser, Content: in.Action},
	}
	result, err := e.provider.Generate(ctx, msgs, st.storyCtx, st.opts)
	if err != nil {
		return nil, err
	}
	return e.commitTurn(ctx, st, in, result)
}

// StreamPlayerAction runs the same pipeline as ProcessPlayerAction but
// delivers the narration incrementally through onChunk. The turn is
// committed only once the stream completes; an abandoned stream leaves
// the session untouched.
func (e *Engine) StreamPlayerAction(ctx context.Context, in ActionInput, onChunk func(StreamChunk)) (*TurnResult, error) {
	lock := e.sessionLock(in.SessionID)
	lock.Lock()
	defer lock.Unlock()

	e.inFlight.Inc()
	defer e.inFlight.Dec()

	release, err := e.acquireTurnLock(ctx, in.SessionID)
	if err != nil {
		return nil, err
	}
	defer release()

	st, err := e.prepareTurn(ctx, in)
	if err != nil {
		return nil, err
	}

	if e.provider == nil {
		res, err := e.commitDegradedTurn(ctx, st, in)
		if err != nil {
			return nil, err
		}
		if onChunk != nil {
			onChunk(StreamChunk{Text: res.Narration})
		}
		return res, nil
	}

	msgs := []ChatMessage{
		{Role: RoleSystem, Content: prompts.SystemPrompt(prompts.ModeDefault)},
		{Role: RoleUser, Content: in.Action},
	}
	chunks, err := e.provider.GenerateStream(ctx, msgs, st.storyCtx, st.opts)
	if err != nil {
		return nil, err
	}

	var (
		content   string
		streamErr error
	)
	for chunk := range chunks {
		if chunk.Err != nil {
			streamErr = chunk.Err
			continue
		}
		content += chunk.Text
		if onChunk != nil {
			onChunk(chunk)
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	// A mid-stream backend failure must fail the turn; committing the
	// partial text would record truncated narration as a finished turn.
	if streamErr != nil {
		return nil, fmt.Errorf("%w: stream aborted: %v", ErrGenerationFailure, streamErr)
	}
	if content == "" {
		return nil, fmt.Errorf("%w: stream produced no content", ErrGenerationFailure)
	}

	result := &GenerationResult{
		Content:    content,
		TokensUsed: EstimateTokens(content),
		Model:      st.opts.Model,
		Provider:   e.provider.Name(),
		Parsed:     ParseNarrative(content),
	}
	return e.commitTurn(ctx, st, in, result)
}

// turnState carries everything prepareTurn loads for one turn.
type turnState struct {
	sess     *models.Session
	story    *models.Story
	player   *models.SessionPlayer
	storyCtx *StoryContext
	opts     GenerateOptions
}

// prepareTurn loads and validates everything a turn needs without
// mutating anything. All failure paths leave the store untouched.
func (e *Engine) prepareTurn(ctx context.Context, in ActionInput) (*turnState, error) {
	sess, err := e.loadSession(ctx, in.SessionID)
	if err != nil {
		return nil, err
	}
	if sess.Status != models.SessionStatusActive {
		return nil, fmt.Errorf("%w: session is %s", ErrSessionNotActive, sess.Status)
	}

	player, err := e.store.GetPlayer(ctx, in.SessionID, in.PlayerID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrNotAMember
		}
		return nil, err
	}
	if player.LeftAt != nil || player.Role == models.RoleSpectator {
		return nil, ErrNotAMember
	}

	story, err := e.store.GetStory(ctx, sess.StoryID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%w: owning story %s missing", ErrSessionNotFound, sess.StoryID)
		}
		return nil, err
	}

	characters, err := e.store.ListCharacters(ctx, story.ID)
	if err != nil {
		return nil, err
	}
	events, err := e.store.RecentEvents(ctx, sess.ID, contextEventLimit)
	if err != nil {
		return nil, err
	}

	storyCtx := BuildStoryContext(story, sess, characters, events)

	st := &turnState{
		sess:     sess,
		story:    story,
		player:   player,
		storyCtx: storyCtx,
		opts: GenerateOptions{
			Model:       story.AISettings.Model,
			Temperature: story.AISettings.Temperature,
			MaxTokens:   story.AISettings.MaxTokens,
		},
	}

	if e.provider != nil {
		cost := EstimateTokens(storyCtx.SystemPrompt() + in.Action)
		ok, err := e.ledger.HasCredits(ctx, in.PlayerID, cost)
		if err != nil {
			return nil, fmt.Errorf("check credits: %w", err)
		}
		if !ok {
			return nil, ErrInsufficientCredits
		}
		e.recallMemories(ctx, st, in.Action)
	}
	return st, nil
}

// recallMemories folds long-term memories matching the action into the
// context bundle. Recall failures degrade to no highlights.
func (e *Engine) recallMemories(ctx context.Context, st *turnState, query string) {
	if e.memories == nil {
		return
	}
	highlights, err := e.memories.Recall(ctx, st.sess.ID, query, recallLimit)
	if err != nil {
		log.Printf("[Engine] memory recall failed for session %s: %v", st.sess.ID, err)
		return
	}
	if len(highlights) > 0 {
		st.storyCtx.MemoryHighlights = append(st.storyCtx.MemoryHighlights, highlights...)
	}
}

// commitTurn persists the action/narration pair and advances the
// counters atomically: turn_count +1, event_count +2.
func (e *Engine) commitTurn(ctx context.Context, st *turnState, in ActionInput, result *GenerationResult) (*TurnResult, error) {
	now := e.now().UTC()

	actionEvent := &models.StoryEvent{
		ID:          e.newID(),
		SessionID:   st.sess.ID,
		PlayerID:    in.PlayerID,
		CharacterID: in.CharacterID,
		EventType:   models.EventTypeAction,
		Content:     in.Action,
		CreatedAt:   now,
	}

	narration := result.Parsed.Narration
	if narration == "" {
		narration = result.Content
	}
	narrationEvent := &models.StoryEvent{
		ID:        e.newID(),
		SessionID: st.sess.ID,
		EventType: models.EventTypeNarration,
		Content:   result.Content,
		Metadata: models.EventMetadata{
			Narration: &models.NarrationMeta{
				Narration: narration,
				Dialogue:  result.Parsed.Dialogue,
				Actions:   result.Parsed.Actions,
			},
		},
		IsAIGenerated: true,
		AIModel:       result.Model,
		TokensUsed:    result.TokensUsed,
		// Strictly after the action so creation-order reads keep the
		// pair in submission order.
		CreatedAt: now.Add(time.Microsecond),
	}

	st.sess.TurnCount++
	st.sess.EventCount += 2
	st.sess.LastActivityAt = now

	if err := e.store.CommitTurn(ctx, st.sess, actionEvent, narrationEvent); err != nil {
		return nil, err
	}

	if _, err := e.ledger.UseCredits(ctx, in.PlayerID, result.TokensUsed); err != nil {
		log.Printf("[Engine] credit debit failed for player %s: %v", in.PlayerID, err)
	}
	e.rememberAsync(st.sess.ID, narration)

	log.Printf("[Engine] session %s turn %d committed (%d tokens)", st.sess.ID, st.sess.TurnCount, result.TokensUsed)
	return &TurnResult{
		Session:        st.sess,
		ActionEvent:    actionEvent,
		NarrationEvent: narrationEvent,
		Narration:      narration,
		Dialogue:       result.Parsed.Dialogue,
		Actions:        result.Parsed.Actions,
		TokensUsed:     result.TokensUsed,
	}, nil
}

// commitDegradedTurn records the player action with a canned
// acknowledgement when no provider is configured: one event,
// turn_count +1, event_count +1, no credits spent.
func (e *Engine) commitDegradedTurn(ctx context.Context, st *turnState, in ActionInput) (*TurnResult, error) {
	now := e.now().UTC()

	actionEvent := &models.StoryEvent{
		ID:          e.newID(),
		SessionID:   st.sess.ID,
		PlayerID:    in.PlayerID,
		CharacterID: in.CharacterID,
		EventType:   models.EventTypeAction,
		Content:     in.Action,
		CreatedAt:   now,
	}

	st.sess.TurnCount++
	st.sess.EventCount++
	st.sess.LastActivityAt = now

	if err := e.store.CommitTurn(ctx, st.sess, actionEvent); err != nil {
		return nil, err
	}

	log.Printf("[Engine] session %s turn %d committed in degraded mode", st.sess.ID, st.sess.TurnCount)
	return &TurnResult{
		Session:     st.sess,
		ActionEvent: actionEvent,
		Narration:   fmt.Sprintf(degradedNarrationFmt, in.Action),
		Degraded:    true,
	}, nil
}

func (e *Engine) rememberAsync(sessionID, narration string) {
	if e.memories == nil || narration == "" {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), memoryWriteTimeout)
		defer cancel()
		if err := e.memories.Remember(ctx, sessionID, models.EventTypeNarration, narration); err != nil {
			log.Printf("[Engine] memory write failed for session %s: %v", sessionID, err)
		}
	}()
}

// acquireTurnLock takes the cross-instance lock, waiting briefly when
// another instance holds it. The returned release is always safe to
// call.
func (e *Engine) acquireTurnLock(ctx context.Context, sessionID string) (func(), error) {
	if e.locks == nil {
		return func() {}, nil
	}
	owner := e.newID()
	deadline := e.now().Add(turnLockWait)
	for {
		ok, err := e.locks.AcquireTurnLock(ctx, sessionID, owner)
		if err != nil {
			return nil, fmt.Errorf("acquire turn lock: %w", err)
		}
		if ok {
			return func() {
				if err := e.locks.ReleaseTurnLock(context.Background(), sessionID, owner); err != nil {
					log.Printf("[Engine] release turn lock for session %s: %v", sessionID, err)
				}
			}, nil
		}
		if e.now().After(deadline) {
			return nil, fmt.Errorf("session %s: turn lock busy", sessionID)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(turnLockPoll):
		}
	}
}

// StartStoryInput names a session bootstrap request.
type StartStoryInput struct {
	StoryID    string
	HostID     string
	Title      string
	MaxPlayers int
	IsPublic   bool
}

// StartResult is the outcome of bootstrapping a story session.
type StartResult struct {
	Session *models.Session    `json:"session"`
	Opening *models.StoryEvent `json:"opening_event"`

	Narration  string   `json:"narration"`
	Actions    []string `json:"suggested_actions,omitempty"`
	TokensUsed int      `json:"tokens_used"`
}

// StartStory creates a session already in play: an active session with
// the host as first member, an AI-generated opening scene persisted as
// the first narration event, turn_count 1 and event_count 1. Requires a
// configured provider; nothing is persisted when generation fails.
func (e *Engine) StartStory(ctx context.Context, in StartStoryInput) (*StartResult, error) {
	if e.provider == nil {
		return nil, fmt.Errorf("%w: cannot open a story without a generation backend", ErrProviderUnavailable)
	}

	story, err := e.store.GetStory(ctx, in.StoryID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrStoryNotFound
		}
		return nil, err
	}

	opening, err := e.prompts.Render("story_start", map[string]string{
		"title":   story.Title,
		"setting": story.WorldConfig.Setting,
		"themes":  joinThemes(story.WorldConfig.Themes),
		"tone":    story.WorldConfig.Tone,
	})
	if err != nil {
		return nil, err
	}

	now := e.now().UTC()
	sess := &models.Session{
		ID:          e.newID(),
		StoryID:     story.ID,
		HostID:      in.HostID,
		Title:       sessionTitle(in.Title, story.Title),
		Status:      models.SessionStatusActive,
		MaxPlayers:  maxPlayersOrDefault(in.MaxPlayers),
		IsPublic:    in.IsPublic,
		CurrentState: models.SessionState{
			Scene: defaultSceneText,
		},
		StartedAt:      &now,
		LastActivityAt: now,
	}

	characters, err := e.store.ListCharacters(ctx, story.ID)
	if err != nil {
		return nil, err
	}
	storyCtx := BuildStoryContext(story, sess, characters, nil)

	msgs := []ChatMessage{
		{Role: RoleSystem, Content: prompts.SystemPrompt(prompts.ModeDefault)},
		{Role: RoleUser, Content: opening},
	}
	result, err := e.provider.Generate(ctx, msgs, storyCtx, GenerateOptions{
		Model:       story.AISettings.Model,
		Temperature: story.AISettings.Temperature,
		MaxTokens:   story.AISettings.MaxTokens,
	})
	if err != nil {
		return nil, err
	}

	narration := result.Parsed.Narration
	if narration == "" {
		narration = result.Content
	}
	sess.CurrentState.Scene = truncateRunes(narration, openingSceneSeedLength)
	sess.TurnCount = 1
	sess.EventCount = 1

	host := &models.SessionPlayer{
		ID:        e.newID(),
		SessionID: sess.ID,
		UserID:    in.HostID,
		Role:      models.RoleHost,
		JoinedAt:  now,
	}
	event := &models.StoryEvent{
		ID:        e.newID(),
		SessionID: sess.ID,
		EventType: models.EventTypeNarration,
		Content:   result.Content,
		Metadata: models.EventMetadata{
			Narration: &models.NarrationMeta{
				Narration: narration,
				Dialogue:  result.Parsed.Dialogue,
				Actions:   result.Parsed.Actions,
			},
		},
		IsAIGenerated: true,
		AIModel:       result.Model,
		TokensUsed:    result.TokensUsed,
		CreatedAt:     now,
	}

	if err := e.store.CreateSessionWithOpening(ctx, sess, host, event); err != nil {
		return nil, err
	}
	e.rememberAsync(sess.ID, narration)

	log.Printf("[Engine] story %s opened as session %s", story.ID, sess.ID)
	return &StartResult{
		Session:    sess,
		Opening:    event,
		Narration:  narration,
		Actions:    result.Parsed.Actions,
		TokensUsed: result.TokensUsed,
	}, nil
}

// CreateSessionInput names a lobby-style session creation request.
type CreateSessionInput struct {
	StoryID         string
	HostID          string
	Title           string
	Description     string
	MaxPlayers      int
	IsPublic        bool
	AllowSpectators bool
}

// CreateSession creates a waiting session with the host as its first
// member. Play begins when the host starts it.
func (e *Engine) CreateSession(ctx context.Context, in CreateSessionInput) (*models.Session, error) {
	story, err := e.store.GetStory(ctx, in.StoryID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrStoryNotFound
		}
		return nil, err
	}

	now := e.now().UTC()
	sess := &models.Session{
		ID:              e.newID(),
		StoryID:         story.ID,
		HostID:          in.HostID,
		Title:           sessionTitle(in.Title, story.Title),
		Description:     in.Description,
		Status:          models.SessionStatusWaiting,
		MaxPlayers:      maxPlayersOrDefault(in.MaxPlayers),
		IsPublic:        in.IsPublic,
		AllowSpectators: in.AllowSpectators,
		LastActivityAt:  now,
	}
	host := &models.SessionPlayer{
		ID:        e.newID(),
		SessionID: sess.ID,
		UserID:    in.HostID,
		Role:      models.RoleHost,
		JoinedAt:  now,
	}
	if err := e.store.CreateSession(ctx, sess, host); err != nil {
		return nil, err
	}
	log.Printf("[Engine] session %s created for story %s", sess.ID, story.ID)
	return sess, nil
}

// GetSession fetches a session, mapping missing rows to
// ErrSessionNotFound.
func (e *Engine) GetSession(ctx context.Context, sessionID string) (*models.Session, error) {
	return e.loadSession(ctx, sessionID)
}

// ListSessions proxies session listing.
func (e *Engine) ListSessions(ctx context.Context, f storage.SessionFilter) ([]models.Session, int64, error) {
	return e.store.ListSessions(ctx, f)
}

// SessionHistory returns the session's event log in creation order.
func (e *Engine) SessionHistory(ctx context.Context, sessionID string, limit, offset int) ([]models.StoryEvent, error) {
	if _, err := e.loadSession(ctx, sessionID); err != nil {
		return nil, err
	}
	return e.store.ListEvents(ctx, sessionID, limit, offset)
}

// StartSession moves a waiting session to active. Host only.
func (e *Engine) StartSession(ctx context.Context, sessionID, callerID string) (*models.Session, error) {
	return e.transition(ctx, sessionID, func(s *models.Session) error {
		return session.Start(s, callerID, e.now())
	})
}

// PauseSession suspends an active session. Host only.
func (e *Engine) PauseSession(ctx context.Context, sessionID, callerID string) (*models.Session, error) {
	return e.transition(ctx, sessionID, func(s *models.Session) error {
		if callerID != s.HostID {
			return session.ErrNotHost
		}
		return session.Pause(s)
	})
}

// ResumeSession reactivates a paused session. Host only.
func (e *Engine) ResumeSession(ctx context.Context, sessionID, callerID string) (*models.Session, error) {
	return e.transition(ctx, sessionID, func(s *models.Session) error {
		if callerID != s.HostID {
			return session.ErrNotHost
		}
		return session.Resume(s)
	})
}

// EndSession completes an active or paused session. Host only.
func (e *Engine) EndSession(ctx context.Context, sessionID, callerID string) (*models.Session, error) {
	return e.transition(ctx, sessionID, func(s *models.Session) error {
		if callerID != s.HostID {
			return session.ErrNotHost
		}
		return session.End(s, e.now())
	})
}

// ArchiveSession retires a completed session. Host only.
func (e *Engine) ArchiveSession(ctx context.Context, sessionID, callerID string) (*models.Session, error) {
	return e.transition(ctx, sessionID, func(s *models.Session) error {
		if callerID != s.HostID {
			return session.ErrNotHost
		}
		return session.Archive(s)
	})
}

// JoinSession adds a participant to a waiting or active session. The
// capacity check and the membership insert run under the session's
// lock so concurrent joins cannot both claim the last free slot.
func (e *Engine) JoinSession(ctx context.Context, sessionID, userID, characterID, role string) (*models.SessionPlayer, error) {
	lock := e.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	sess, err := e.loadSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	member := false
	if p, err := e.store.GetPlayer(ctx, sessionID, userID); err == nil {
		member = p.LeftAt == nil
	} else if !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}
	count, err := e.store.CountActivePlayers(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if err := session.CanJoin(sess, userID, count, member); err != nil {
		return nil, err
	}
	if role == models.RoleSpectator && !sess.AllowSpectators {
		return nil, fmt.Errorf("%w: spectators are not allowed", session.ErrInvalidSessionState)
	}
	if role == "" {
		role = models.RolePlayer
	}

	player := &models.SessionPlayer{
		ID:          e.newID(),
		SessionID:   sessionID,
		UserID:      userID,
		CharacterID: characterID,
		Role:        role,
		JoinedAt:    e.now().UTC(),
	}
	if err := e.store.AddPlayer(ctx, player); err != nil {
		return nil, err
	}
	return player, nil
}

// LeaveSession records a participant's departure.
func (e *Engine) LeaveSession(ctx context.Context, sessionID, userID string) error {
	if _, err := e.loadSession(ctx, sessionID); err != nil {
		return err
	}
	if _, err := e.store.GetPlayer(ctx, sessionID, userID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return ErrNotAMember
		}
		return err
	}
	return e.store.MarkPlayerLeft(ctx, sessionID, userID, e.now().UTC())
}

func (e *Engine) transition(ctx context.Context, sessionID string, apply func(*models.Session) error) (*models.Session, error) {
	sess, err := e.loadSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if err := apply(sess); err != nil {
		return nil, err
	}
	if err := e.store.SaveSession(ctx, sess); err != nil {
		return nil, err
	}
	log.Printf("[Engine] session %s is now %s", sess.ID, sess.Status)
	return sess, nil
}

func (e *Engine) loadSession(ctx context.Context, sessionID string) (*models.Session, error) {
	sess, err := e.store.GetSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	return sess, nil
}

func maxPlayersOrDefault(n int) int {
	if n <= 0 {
		return defaultMaxPlayers
	}
	return n
}

func sessionTitle(title, storyTitle string) string {
	if title != "" {
		return title
	}
	return storyTitle
}

func joinThemes(themes []string) string {
	if len(themes) == 0 {
		return "adventure"
	}
	return strings.Join(themes, ", ")
}

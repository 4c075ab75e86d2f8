package models

import (
	"time"

	"gorm.io/gorm"
)

// Session lifecycle statuses.
const (
	SessionStatusWaiting   = "waiting"
	SessionStatusActive    = "active"
	SessionStatusPaused    = "paused"
	SessionStatusCompleted = "completed"
	SessionStatusArchived  = "archived"
)

// Player roles within a session.
const (
	RoleHost      = "host"
	RolePlayer    = "player"
	RoleSpectator = "spectator"
)

// Story event types.
const (
	EventTypeNarration  = "narration"
	EventTypeDialogue   = "dialogue"
	EventTypeAction     = "action"
	EventTypeCombat     = "combat"
	EventTypeDiscovery  = "discovery"
	EventTypeTransition = "transition"
	EventTypeSystem     = "system"
)

// Story is an authored world definition. Authoring CRUD lives outside this
// service; the engine only reads stories to build generation context.
type Story struct {
	ID          string         `gorm:"primaryKey;size:36" json:"id"`
	AuthorID    string         `gorm:"index;size:36" json:"author_id"`
	Title       string         `gorm:"size:200" json:"title"`
	Description string         `gorm:"type:text" json:"description"`
	WorldConfig WorldConfig    `gorm:"serializer:json;type:text" json:"world_config"`
	AISettings  AISettings     `gorm:"serializer:json;type:text" json:"ai_settings"`
	IsPublic    bool           `json:"is_public"`
	IsPublished bool           `json:"is_published"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	DeletedAt   gorm.DeletedAt `gorm:"index" json:"-"`
}

// WorldConfig describes the world a story takes place in.
type WorldConfig struct {
	Setting       string   `json:"setting,omitempty"`
	Themes        []string `json:"themes,omitempty"`
	Tone          string   `json:"tone,omitempty"`
	ContentRating string   `json:"content_rating,omitempty"`
}

// AISettings selects and tunes the generation backend for a story.
type AISettings struct {
	Provider    string  `json:"provider,omitempty"`
	Model       string  `json:"model,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
}

// Character is an NPC or player character defined within a story.
type Character struct {
	ID            string    `gorm:"primaryKey;size:36" json:"id"`
	StoryID       string    `gorm:"index;size:36" json:"story_id"`
	Name          string    `gorm:"size:100" json:"name"`
	Title         string    `gorm:"size:100" json:"title"`
	Description   string    `gorm:"type:text" json:"description"`
	CharacterType string    `gorm:"size:32" json:"character_type"`
	CreatedAt     time.Time `json:"created_at"`
}

// Session is a live playthrough of a story. Status moves along
// waiting -> active <-> paused -> completed -> archived; the lifecycle
// guards live in internal/session.
type Session struct {
	ID          string `gorm:"primaryKey;size:36" json:"id"`
	StoryID     string `gorm:"index;size:36" json:"story_id"`
	HostID      string `gorm:"index;size:36" json:"host_id"`
	Title       string `gorm:"size:200" json:"title"`
	Description string `gorm:"type:text" json:"description"`
	Status      string `gorm:"size:20" json:"status"`

	CurrentState SessionState `gorm:"serializer:json;type:text" json:"current_state"`
	AIContext    AIContext    `gorm:"serializer:json;type:text" json:"ai_context"`

	MaxPlayers      int  `json:"max_players"`
	IsPublic        bool `json:"is_public"`
	AllowSpectators bool `json:"allow_spectators"`

	StartedAt      *time.Time `json:"started_at"`
	EndedAt        *time.Time `json:"ended_at"`
	LastActivityAt time.Time  `json:"last_activity_at"`

	// TurnCount advances once per completed generated turn; EventCount
	// always equals the number of persisted StoryEvent rows for this
	// session. Both are mutated only inside the engine's turn commit.
	TurnCount  int `json:"turn_count"`
	EventCount int `json:"event_count"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SessionState is the mutable scene snapshot carried by a session.
type SessionState struct {
	Scene             string            `json:"scene,omitempty"`
	LocationID        string            `json:"location_id,omitempty"`
	PresentCharacters []string          `json:"present_characters,omitempty"`
	WorldState        map[string]string `json:"world_state,omitempty"`
}

// AIContext is the rolling conversation memory for a session.
type AIContext struct {
	ConversationHistory []string `json:"conversation_history,omitempty"`
	MemoryHighlights    []string `json:"memory_highlights,omitempty"`
}

// SessionPlayer links a participant to a session.
type SessionPlayer struct {
	ID           string      `gorm:"primaryKey;size:36" json:"id"`
	SessionID    string      `gorm:"index;size:36" json:"session_id"`
	UserID       string      `gorm:"index;size:36" json:"user_id"`
	CharacterID  string      `gorm:"size:36" json:"character_id"`
	Role         string      `gorm:"size:20" json:"role"`
	PlayerState  PlayerState `gorm:"serializer:json;type:text" json:"player_state"`
	JoinedAt     time.Time   `json:"joined_at"`
	LastActiveAt time.Time   `json:"last_active_at"`
	LeftAt       *time.Time  `json:"left_at"`
}

// PlayerState holds per-player presence data.
type PlayerState struct {
	IsOnline bool `json:"is_online"`
}

// IsHost reports whether the player holds the host role.
func (p *SessionPlayer) IsHost() bool {
	return p.Role == RoleHost
}

// StoryEvent is one append-only entry in a session's narrative log.
// Events are immutable once written; per-session ordering is creation
// time.
type StoryEvent struct {
	ID          string `gorm:"primaryKey;size:36" json:"id"`
	SessionID   string `gorm:"index;size:36" json:"session_id"`
	CharacterID string `gorm:"size:36" json:"character_id"`
	PlayerID    string `gorm:"size:36" json:"player_id"`

	EventType string        `gorm:"size:50" json:"event_type"`
	Content   string        `gorm:"type:text" json:"content"`
	Metadata  EventMetadata `gorm:"serializer:json;type:text" json:"event_metadata"`

	IsAIGenerated bool   `json:"is_ai_generated"`
	AIModel       string `gorm:"size:50" json:"ai_model"`
	TokensUsed    int    `json:"tokens_used"`

	CreatedAt time.Time `gorm:"index" json:"created_at"`
}

// EventMetadata carries the per-kind payload of an event. Exactly the
// field matching the event type is set; the rest stay nil.
type EventMetadata struct {
	Narration  *NarrationMeta  `json:"narration_meta,omitempty"`
	Action     *ActionMeta     `json:"action_meta,omitempty"`
	Transition *TransitionMeta `json:"transition_meta,omitempty"`
	System     *SystemMeta     `json:"system_meta,omitempty"`
}

// NarrationMeta is the parsed shape of a generated narration event.
type NarrationMeta struct {
	Narration string         `json:"narration,omitempty"`
	Dialogue  []DialogueLine `json:"dialogue,omitempty"`
	Actions   []string       `json:"actions,omitempty"`
}

// DialogueLine is one attributed spoken line.
type DialogueLine struct {
	Speaker string `json:"speaker"`
	Text    string `json:"text"`
}

// ActionMeta carries extras attached to a player action event.
type ActionMeta struct {
	Parameters map[string]string `json:"parameters,omitempty"`
}

// TransitionMeta records a scene change.
type TransitionMeta struct {
	FromLocationID string `json:"from_location_id,omitempty"`
	ToLocationID   string `json:"to_location_id,omitempty"`
}

// SystemMeta tags service-originated events.
type SystemMeta struct {
	Reason string `json:"reason,omitempty"`
}

package engine

import (
	"strings"
	"unicode/utf8"

	"storyforge/server/internal/models"
)

const (
	// How many trailing events the bundle carries, and how wide each
	// one-line summary may be.
	contextEventLimit      = 5
	contextSummaryLen      = 100
	defaultSceneText       = "The adventure begins..."
	openingSceneSeedLength = 500
)

// ContextCharacter is the slice of a character the bundle exposes.
type ContextCharacter struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Title string `json:"title,omitempty"`
}

// ContextEvent is a one-line summary of a recent story event.
type ContextEvent struct {
	Type    string `json:"type"`
	Summary string `json:"summary"`
}

// StoryContext is the bounded natural-language bundle injected ahead of
// the conversation as a system message. Built exclusively from stored
// session and story state: identical inputs render byte-identical
// prompts.
type StoryContext struct {
	StoryID          string             `json:"story_id"`
	StoryTitle       string             `json:"story_title"`
	World            models.WorldConfig `json:"world"`
	CurrentScene     string             `json:"current_scene"`
	ActiveCharacters []ContextCharacter `json:"active_characters"`
	RecentEvents     []ContextEvent     `json:"recent_events"`
	MemoryHighlights []string           `json:"memory_highlights,omitempty"`
}

// BuildStoryContext assembles the bundle from a story, its session, the
// story's characters, and the session's event log in creation order.
// Only the trailing contextEventLimit events are kept.
func BuildStoryContext(story *models.Story, sess *models.Session, characters []models.Character, events []models.StoryEvent) *StoryContext {
	scene := sess.CurrentState.Scene
	if scene == "" {
		scene = defaultSceneText
	}

	chars := make([]ContextCharacter, 0, len(characters))
	for _, c := range characters {
		chars = append(chars, ContextCharacter{ID: c.ID, Name: c.Name, Title: c.Title})
	}

	if len(events) > contextEventLimit {
		events = events[len(events)-contextEventLimit:]
	}
	recent := make([]ContextEvent, 0, len(events))
	for _, e := range events {
		recent = append(recent, ContextEvent{
			Type:    e.EventType,
			Summary: truncateRunes(e.Content, contextSummaryLen),
		})
	}

	return &StoryContext{
		StoryID:          story.ID,
		StoryTitle:       story.Title,
		World:            story.WorldConfig,
		CurrentScene:     scene,
		ActiveCharacters: chars,
		RecentEvents:     recent,
		MemoryHighlights: sess.AIContext.MemoryHighlights,
	}
}

// SystemPrompt renders the bundle as the leading system message. No
// randomness and no clock reads: byte-identical output for identical
// bundles.
func (c *StoryContext) SystemPrompt() string {
	var b strings.Builder
	b.WriteString("You are the Game Master for an interactive story titled '")
	b.WriteString(c.StoryTitle)
	b.WriteString("'.\n\n## World Setting\n")

	if c.World.Setting != "" {
		b.WriteString("Setting: " + c.World.Setting + "\n")
	}
	if len(c.World.Themes) > 0 {
		b.WriteString("Themes: " + strings.Join(c.World.Themes, ", ") + "\n")
	}
	if c.World.Tone != "" {
		b.WriteString("Tone: " + c.World.Tone + "\n")
	}

	b.WriteString("\n## Current Scene\n")
	b.WriteString(c.CurrentScene)
	b.WriteString("\n\n## Active Characters\n")
	for _, ch := range c.ActiveCharacters {
		b.WriteString("- " + ch.Name)
		if ch.Title != "" {
			b.WriteString(", " + ch.Title)
		}
		b.WriteString("\n")
	}

	if len(c.RecentEvents) > 0 {
		b.WriteString("\n## Recent Events\n")
		for _, e := range c.RecentEvents {
			b.WriteString("- " + e.Summary + "\n")
		}
	}

	if len(c.MemoryHighlights) > 0 {
		b.WriteString("\n## Remembered Moments\n")
		for _, m := range c.MemoryHighlights {
			b.WriteString("- " + truncateRunes(m, contextSummaryLen) + "\n")
		}
	}

	return strings.TrimRight(b.String(), "\n")
}

func truncateRunes(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return string(runes[:limit])
}

// Package prompts holds the game-master prompt library: per-mode system
// prompts and variable templates for story beats.
package prompts

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
)

// Template is a named prompt with {{variable}} placeholders.
type Template struct {
	Name        string `json:"name"`
	Content     string `json:"content"`
	Description string `json:"description"`
}

var placeholderRe = regexp.MustCompile(`\{\{(\w+)\}\}`)

// Render substitutes placeholders from vars. Unknown placeholders are
// left in place so a half-filled template is visible in logs.
func (t *Template) Render(vars map[string]string) string {
	return placeholderRe.ReplaceAllStringFunc(t.Content, func(match string) string {
		name := placeholderRe.FindStringSubmatch(match)[1]
		if value, ok := vars[name]; ok {
			return value
		}
		return match
	})
}

// Library is a registry of templates, safe for concurrent reads.
type Library struct {
	mu        sync.RWMutex
	templates map[string]*Template
}

// NewLibrary returns a library seeded with the built-in templates.
func NewLibrary() *Library {
	l := &Library{templates: make(map[string]*Template)}
	for _, t := range builtinTemplates {
		l.templates[t.Name] = t
	}
	return l
}

// Register adds or replaces a template.
func (l *Library) Register(t *Template) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.templates[t.Name] = t
}

// Get retrieves a template by name.
func (l *Library) Get(name string) (*Template, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	t, ok := l.templates[name]
	if !ok {
		return nil, fmt.Errorf("template not found: %s", name)
	}
	return t, nil
}

// Render looks up and renders a template in one step.
func (l *Library) Render(name string, vars map[string]string) (string, error) {
	t, err := l.Get(name)
	if err != nil {
		return "", err
	}
	return t.Render(vars), nil
}

// SystemPrompt returns the game-master system prompt for a mode,
// falling back to the default mode for unknown names.
func SystemPrompt(mode string) string {
	if p, ok := systemPrompts[mode]; ok {
		return p
	}
	return systemPrompts[ModeDefault]
}

// Generation modes.
const (
	ModeDefault     = "default"
	ModeCombat      = "combat"
	ModeDialogue    = "dialogue"
	ModeExploration = "exploration"
)

var systemPrompts = map[string]string{
	ModeDefault: strings.TrimSpace(`
You are an expert Game Master for an interactive storytelling experience. Your role is to:

1. Narrate the story with vivid, immersive descriptions of scenes and events.
2. Play NPCs with distinct personalities, voices, and motivations.
3. React to player actions with logical consequences and new developments.
4. Keep track of the story state, character locations, and plot threads.
5. Always give players meaningful choices and respect their decisions.

## Response Format

Narrate the scene in plain prose. When an NPC speaks, put the line on its own row as:
Character Name: "Their dialogue here"

End with 2-4 possible actions the player could take, one per line:
[Action 1]
[Action 2]

## Guidelines

- Keep responses concise but evocative, 2-4 paragraphs at most.
- Use second person ("You see...", "You feel...").
- Balance description with forward momentum.
- Never break character or reference the AI nature of the experience.`),

	ModeCombat: strings.TrimSpace(`
You are managing a combat encounter. Describe the battlefield, keep the
action flowing, have enemies act intelligently, and make every action
matter. Track health and resources. Offer tactical choices and end the
fight when it resolves naturally.

End every response with the player's options, one per line:
[Attack with weapon]
[Cast a spell]
[Use an item]
[Flee]`),

	ModeDialogue: strings.TrimSpace(`
You are roleplaying an NPC conversation. Stay in character, react
naturally to what players say, share only what the NPC would know, and
give each character a distinct voice. Allow persuasion, intimidation,
and deception to matter.

Format spoken lines as:
NPC Name: "Their spoken dialogue"`),

	ModeExploration: strings.TrimSpace(`
You are guiding exploration. Describe environments with rich sensory
detail, hide clues and dangers for the curious, present multiple paths,
and remember what has already been explored.

End with the player's options, one per line:
[Examine something specific]
[Move to a new area]
[Rest here]`),
}

var builtinTemplates = []*Template{
	{
		Name:        "story_start",
		Description: "Opening scene for a new story",
		Content: strings.TrimSpace(`
Create an opening scene for a story titled "{{title}}".

Setting: {{setting}}
Themes: {{themes}}
Tone: {{tone}}

The opening should:
1. Introduce the protagonist (the player) in a compelling situation
2. Establish the setting and atmosphere
3. Present an initial hook or mystery
4. End with a clear call to action

Begin the story now, ending with 3-4 options for the player's first action.`),
	},
	{
		Name:        "scene_transition",
		Description: "Transition between scenes",
		Content: strings.TrimSpace(`
The player is moving from one scene to another.

Previous scene: {{previous_scene}}
New location: {{new_location}}

Describe the transition and arrival at the new location: the journey
(brief, unless eventful), first impressions, any immediate points of
interest, and options for what to do next.`),
	},
	{
		Name:        "character_introduction",
		Description: "Introduce a new NPC",
		Content: strings.TrimSpace(`
Introduce a new NPC to the scene.

NPC Name: {{name}}
Role: {{role}}
Personality: {{personality}}

Create an entrance that makes them memorable, hints at their
personality, and gives the player a reason to interact with them.`),
	},
}

package engine

import (
	"strings"
	"unicode/utf8"

	"storyforge/server/internal/models"
)

// Speaker segments at or above this length are treated as narration
// containing a colon rather than dialogue.
const maxSpeakerLen = 50

// ParsedNarrative is the structured view of one generated response.
// Fields are zero-valued when the corresponding element did not occur;
// callers treat an empty collection and an absent one as equivalent.
type ParsedNarrative struct {
	Narration string                `json:"narration,omitempty"`
	Dialogue  []models.DialogueLine `json:"dialogue,omitempty"`
	Actions   []string              `json:"actions,omitempty"`
}

// IsEmpty reports whether nothing was extracted.
func (p ParsedNarrative) IsEmpty() bool {
	return p.Narration == "" && len(p.Dialogue) == 0 && len(p.Actions) == 0
}

// ParseNarrative splits generated free text into narration, dialogue
// turns, and suggested actions. It is a line-oriented heuristic, not a
// grammar: each non-blank line is classified by the first matching rule,
// in order:
//
//  1. bracketed action  [Do the thing]
//  2. bullet action     - Do the thing  /  * Do the thing
//  3. dialogue          Speaker: "Spoken line"
//  4. narration         everything else, space-joined in order
//
// A line whose colon-prefix is empty, 50+ characters long, or whose
// remainder is empty falls through to narration. The colon rule will
// happily classify "Note: check the map" as dialogue; that matches the
// persisted shape of existing content and must not be "fixed" here.
func ParseNarrative(content string) ParsedNarrative {
	var (
		narrationLines []string
		dialogue       []models.DialogueLine
		actions        []string
	)

	for _, raw := range strings.Split(content, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
			if action := strings.TrimSpace(line[1 : len(line)-1]); action != "" {
				actions = append(actions, action)
			}
			continue
		}

		if strings.HasPrefix(line, "- ") || strings.HasPrefix(line, "* ") {
			actions = append(actions, line[2:])
			continue
		}

		if speaker, text, ok := splitDialogue(line); ok {
			dialogue = append(dialogue, models.DialogueLine{Speaker: speaker, Text: text})
			continue
		}

		narrationLines = append(narrationLines, line)
	}

	return ParsedNarrative{
		Narration: strings.Join(narrationLines, " "),
		Dialogue:  dialogue,
		Actions:   actions,
	}
}

// splitDialogue applies the colon rule: the line must contain a colon,
// must not open with a quote, and the first-colon split must yield a
// short non-empty speaker and a non-empty remainder.
func splitDialogue(line string) (speaker, text string, ok bool) {
	if strings.HasPrefix(line, `"`) {
		return "", "", false
	}
	idx := strings.Index(line, ":")
	if idx < 0 {
		return "", "", false
	}
	speaker = strings.TrimSpace(line[:idx])
	text = strings.TrimSpace(line[idx+1:])
	if speaker == "" || text == "" || utf8.RuneCountInString(speaker) >= maxSpeakerLen {
		return "", "", false
	}
	return speaker, strings.Trim(text, `"`), true
}

package engine

import (
	"reflect"
	"strings"
	"testing"

	"storyforge/server/internal/models"
)

func TestParseNarrativeMixedBlock(t *testing.T) {
	got := ParseNarrative("[Attack]\n- Flee\nGandalf: \"Run!\"\nThe sky darkens.")

	if want := []string{"Attack", "Flee"}; !reflect.DeepEqual(got.Actions, want) {
		t.Errorf("actions = %v, want %v", got.Actions, want)
	}
	if want := []models.DialogueLine{{Speaker: "Gandalf", Text: "Run!"}}; !reflect.DeepEqual(got.Dialogue, want) {
		t.Errorf("dialogue = %v, want %v", got.Dialogue, want)
	}
	if got.Narration != "The sky darkens." {
		t.Errorf("narration = %q, want %q", got.Narration, "The sky darkens.")
	}
}

func TestParseNarrativeColonAmbiguity(t *testing.T) {
	// The colon rule wins for short prefixes. "Note" is not a known
	// character, and that is fine: the parser does no semantic checks.
	got := ParseNarrative("Note: check the map")

	if got.Narration != "" {
		t.Errorf("narration = %q, want empty", got.Narration)
	}
	want := []models.DialogueLine{{Speaker: "Note", Text: "check the map"}}
	if !reflect.DeepEqual(got.Dialogue, want) {
		t.Errorf("dialogue = %v, want %v", got.Dialogue, want)
	}
}

func TestParseNarrativeLongSpeakerFallsThrough(t *testing.T) {
	prefix := strings.Repeat("a", maxSpeakerLen)
	line := prefix + ": some trailing text"

	got := ParseNarrative(line)
	if len(got.Dialogue) != 0 {
		t.Fatalf("dialogue = %v, want none", got.Dialogue)
	}
	if got.Narration != line {
		t.Errorf("narration = %q, want %q", got.Narration, line)
	}
}

func TestParseNarrativeSpeakerJustUnderLimit(t *testing.T) {
	speaker := strings.Repeat("a", maxSpeakerLen-1)
	got := ParseNarrative(speaker + ": hello")
	if len(got.Dialogue) != 1 || got.Dialogue[0].Speaker != speaker {
		t.Fatalf("dialogue = %v, want speaker of %d chars", got.Dialogue, maxSpeakerLen-1)
	}
}

func TestParseNarrativeQuoteOpenedLineIsNarration(t *testing.T) {
	got := ParseNarrative(`"Strange: very strange," she muttered.`)
	if len(got.Dialogue) != 0 {
		t.Fatalf("dialogue = %v, want none", got.Dialogue)
	}
	if got.Narration == "" {
		t.Fatal("quote-opened line dropped entirely")
	}
}

func TestParseNarrativeEmptyBracketDropped(t *testing.T) {
	got := ParseNarrative("[]\n[  ]\n[Look around]")
	if want := []string{"Look around"}; !reflect.DeepEqual(got.Actions, want) {
		t.Errorf("actions = %v, want %v", got.Actions, want)
	}
}

func TestParseNarrativeEmptyColonSidesFallThrough(t *testing.T) {
	tests := []string{
		": leading colon",
		"Trailing colon:",
	}
	for _, line := range tests {
		got := ParseNarrative(line)
		if len(got.Dialogue) != 0 {
			t.Errorf("ParseNarrative(%q).Dialogue = %v, want none", line, got.Dialogue)
		}
		if got.Narration == "" {
			t.Errorf("ParseNarrative(%q) dropped the line", line)
		}
	}
}

func TestParseNarrativeBulletBeatsColon(t *testing.T) {
	// Bullet classification precedes the dialogue check.
	got := ParseNarrative("- Ask the guard: where is the gate")
	if want := []string{"Ask the guard: where is the gate"}; !reflect.DeepEqual(got.Actions, want) {
		t.Errorf("actions = %v, want %v", got.Actions, want)
	}
	if len(got.Dialogue) != 0 {
		t.Errorf("dialogue = %v, want none", got.Dialogue)
	}
}

func TestParseNarrativeBlankLinesAndOrder(t *testing.T) {
	got := ParseNarrative("The door creaks.\n\n\nDust falls from the beams.\n")
	want := "The door creaks. Dust falls from the beams."
	if got.Narration != want {
		t.Errorf("narration = %q, want %q", got.Narration, want)
	}
}

func TestParseNarrativeStripsSurroundingQuotes(t *testing.T) {
	got := ParseNarrative(`Elara: "Stay close to me."`)
	want := []models.DialogueLine{{Speaker: "Elara", Text: "Stay close to me."}}
	if !reflect.DeepEqual(got.Dialogue, want) {
		t.Errorf("dialogue = %v, want %v", got.Dialogue, want)
	}
}

func TestParseNarrativeEmptyInput(t *testing.T) {
	got := ParseNarrative("")
	if !got.IsEmpty() {
		t.Fatalf("parse of empty input = %+v, want empty", got)
	}
}

func TestParseNarrativeDeterministic(t *testing.T) {
	input := "[Attack]\nMira: \"Hold the line!\"\nThe horde advances.\n- Retreat"
	first := ParseNarrative(input)
	second := ParseNarrative(input)
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("parse not deterministic: %+v vs %+v", first, second)
	}
}

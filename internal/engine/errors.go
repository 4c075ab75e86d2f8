package engine

import "errors"

var (
	// ErrSessionNotFound signals a missing session, or a session whose
	// owning story no longer exists.
	ErrSessionNotFound = errors.New("session not found")
	// ErrStoryNotFound signals a missing story.
	ErrStoryNotFound = errors.New("story not found")
	// ErrSessionNotActive signals a turn submitted outside active status.
	ErrSessionNotActive = errors.New("session is not active")
	// ErrNotAMember signals an action from a non-participant.
	ErrNotAMember = errors.New("not a member of this session")
	// ErrProviderUnavailable signals that no generation backend is
	// configured. Callers recover via the degraded placeholder mode.
	ErrProviderUnavailable = errors.New("generation provider unavailable")
	// ErrGenerationFailure wraps backend-side failures: rate limits,
	// timeouts, malformed responses.
	ErrGenerationFailure = errors.New("generation failed")
	// ErrInsufficientCredits signals the quota pre-check rejected the turn.
	ErrInsufficientCredits = errors.New("insufficient credits")
)

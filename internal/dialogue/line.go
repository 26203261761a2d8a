// Package dialogue sequences conversations: per-line command execution,
// incremental text reveal, choice branching and completion reporting.
package dialogue

// Choice is one selectable option attached to a line. It is terminal
// when both NextConversationID and SceneToLoad are empty.
type Choice struct {
	TextID             string
	NextConversationID string
	SceneToLoad        string
	StateToChange      string // game state name; empty means no change
}

// Line is a single dialogue beat inside a conversation. Lines are
// produced by the conversation data provider and read-only during
// playback.
type Line struct {
	SpeakerID        string
	LineID           string
	AnimationTrigger string
	SoundEffectName  string
	HasChoices       bool
	Choices          []Choice
}

// Provider is the external conversation data source (the CSV-backed
// localization tables).
type Provider interface {
	// GetConversation returns the ordered line sequence for a
	// conversation id, possibly empty.
	GetConversation(id string) []Line
	// GetLine resolves a line id to display text (tags included).
	GetLine(id string) string
	// GetName resolves a speaker id to a display name.
	GetName(id string) string
}

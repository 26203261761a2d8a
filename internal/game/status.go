package game

import "github.com/schoolday-dev/schoolday/internal/chat"

// Status is the client-facing snapshot of a playthrough.
type Status struct {
	ID              string           `json:"id"`
	State           GameState        `json:"state"`
	Scene           string           `json:"scene"`
	FlowID          string           `json:"flow_id"`
	Day             int              `json:"day"`
	StepIndex       int              `json:"step_index"`
	PenaltyPoints   int              `json:"penalty_points"`
	MovementEnabled bool             `json:"movement_enabled"`
	DialogueActive  bool             `json:"dialogue_active"`
	DisplayedText   string           `json:"displayed_text,omitempty"`
	SpeakerName     string           `json:"speaker_name,omitempty"`
	AwaitingChoice  bool             `json:"awaiting_choice"`
	Choices         []string         `json:"choices,omitempty"`
	SelectedChoice  int              `json:"selected_choice"`
	UnreadTotal     int              `json:"unread_total"`
	Rooms           []chat.RoomState `json:"rooms,omitempty"`
	Halted          bool             `json:"halted"`
	Ended           bool             `json:"ended"`
}

// Status assembles the snapshot. Safe to call between Steps.
func (g *Game) Status() Status {
	scene, flowID := g.Scene()
	fs := g.flow.Snapshot()

	st := Status{
		ID:              g.ID,
		State:           g.State(),
		Scene:           scene,
		FlowID:          flowID,
		Day:             fs.Day,
		StepIndex:       fs.StepIndex,
		PenaltyPoints:   fs.PenaltyPoints,
		MovementEnabled: g.MovementEnabled(),
		DialogueActive:  g.dialogue.Active(),
		AwaitingChoice:  g.dialogue.AwaitingChoice(),
		UnreadTotal:     g.chat.TotalUnread(),
		Rooms:           g.chat.Rooms(),
		Halted:          g.flow.Halted(),
		Ended:           g.Ended(),
	}
	if st.DialogueActive {
		st.DisplayedText = g.dialogue.DisplayedText()
		st.SpeakerName = g.dialogue.SpeakerName()
	}
	if st.AwaitingChoice {
		st.Choices = g.dialogue.ChoiceTexts()
		st.SelectedChoice = g.dialogue.SelectedChoice()
	}
	return st
}

package game

import (
	"fmt"
	"log/slog"

	"github.com/schoolday-dev/schoolday/internal/flow"
)

// InputKind names a player input the engine understands.
type InputKind string

const (
	// Dialogue controls.
	InputAdvance    InputKind = "advance"
	InputChoiceUp   InputKind = "choice_up"
	InputChoiceDown InputKind = "choice_down"
	InputConfirm    InputKind = "confirm"

	// Phone controls, subway scene only.
	InputTapChat      InputKind = "tap_chat"
	InputHealthSurvey InputKind = "health_survey"

	// Free-roam NPC interaction.
	InputTalk InputKind = "talk"

	// Scene exit.
	InputLeave InputKind = "leave"
)

// Input is one player action. Arg carries the room id for tap_chat and
// the conversation id for talk.
type Input struct {
	Kind InputKind `json:"kind"`
	Arg  string    `json:"arg,omitempty"`
}

// HandleInput routes a player input to the system that owns it in the
// current scene. Must be called from the driving goroutine, between
// Steps.
func (g *Game) HandleInput(in Input) error {
	switch in.Kind {
	case InputAdvance:
		if !g.dialogue.Active() {
			return fmt.Errorf("no dialogue to advance")
		}
		g.dialogue.Advance()
		return nil

	case InputChoiceUp:
		g.dialogue.Navigate(-1)
		return nil

	case InputChoiceDown:
		g.dialogue.Navigate(1)
		return nil

	case InputConfirm:
		if !g.dialogue.AwaitingChoice() {
			return fmt.Errorf("no choice to confirm")
		}
		g.dialogue.Confirm()
		return nil

	case InputTapChat:
		return g.tapChat(in.Arg)

	case InputTalk:
		return g.talkTo(in.Arg)

	case InputHealthSurvey:
		return g.completeHealthSurvey()

	case InputLeave:
		return g.leaveScene()

	default:
		return fmt.Errorf("unknown input kind %q", in.Kind)
	}
}

// tapChat opens a room's next pending chat session and plays its
// conversation, resuming at the session's progress cursor. Completing
// the conversation completes the session, not the flow event; leaving
// the subway does that.
func (g *Game) tapChat(roomID string) error {
	scene, _ := g.Scene()
	if scene != string(flow.EventChat) {
		return fmt.Errorf("no phone in scene %s", scene)
	}
	if roomID == "" {
		return fmt.Errorf("tap_chat needs a room id")
	}
	if g.dialogue.Active() {
		return fmt.Errorf("a chat is already open")
	}

	sess, ok := g.chat.NextSessionForRoom(roomID)
	if !ok {
		g.chat.MarkRoomRead(roomID)
		return nil
	}
	if !g.chat.StartSession(sess.ConversationID) {
		return fmt.Errorf("session %s refused to start", sess.ConversationID)
	}
	g.chat.MarkRoomRead(roomID)

	convID := sess.ConversationID
	g.dialogue.OnLineShown = func(int) {
		g.chat.AdvanceSession(convID)
	}
	ok = g.dialogue.StartAt(convID, sess.ProgressIndex, nil, func(int) {
		g.dialogue.OnLineShown = nil
		g.chat.CompleteSession(convID)
	})
	if !ok {
		// Broken data: complete the session so the gate cannot wedge.
		g.dialogue.OnLineShown = nil
		slog.Warn("chat session has no conversation", "conversation", convID)
		g.chat.CompleteSession(convID)
	}
	return nil
}

// talkTo starts a free-roam conversation from an NPC trigger. Its
// completion stays inside the game; the flow event only ends when the
// player leaves the scene.
func (g *Game) talkTo(conversationID string) error {
	scene, _ := g.Scene()
	if scene != string(flow.EventFreeRoam) {
		return fmt.Errorf("no one to talk to in scene %s", scene)
	}
	if conversationID == "" {
		return fmt.Errorf("talk needs a conversation id")
	}
	if g.dialogue.Active() {
		return fmt.Errorf("a conversation is already open")
	}

	if !g.dialogue.Start(conversationID, nil, func(int) {
		slog.Debug("free-roam conversation finished", "conversation", conversationID)
	}) {
		return fmt.Errorf("conversation %s not found", conversationID)
	}
	return nil
}

// completeHealthSurvey records the daily health survey; doing it before
// leaving the subway avoids the tardiness penalty.
func (g *Game) completeHealthSurvey() error {
	scene, _ := g.Scene()
	if scene != string(flow.EventChat) {
		return fmt.Errorf("no survey in scene %s", scene)
	}
	day := g.flow.Snapshot().Day

	g.mu.Lock()
	g.healthSurvey[day] = true
	g.mu.Unlock()

	slog.Info("health survey done", "day", day)
	return nil
}

// HealthSurveyDone reports whether the given day's survey was filed.
func (g *Game) HealthSurveyDone(day int) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.healthSurvey[day]
}

// leaveScene exits the current scene. The subway refuses to let the
// player out while chat sessions are pending, and skipping the health
// survey costs a penalty point.
func (g *Game) leaveScene() error {
	scene, _ := g.Scene()
	switch scene {
	case string(flow.EventChat):
		if g.dialogue.Active() {
			return fmt.Errorf("finish the open chat first")
		}
		if g.chat.HasPendingSessions() {
			return fmt.Errorf("unread chats remain")
		}
		penalty := 1
		if g.HealthSurveyDone(g.flow.Snapshot().Day) {
			penalty = 0
		}
		g.queueComplete(penalty)
		return nil

	case string(flow.EventFreeRoam):
		if g.dialogue.Active() {
			return fmt.Errorf("finish the conversation first")
		}
		g.queueComplete(0)
		return nil

	default:
		return fmt.Errorf("cannot leave scene %s", scene)
	}
}

// Package game assembles the full engine for one playthrough: the
// frame scheduler, the day flow, dialogue, the phone messenger, the
// minigames and persistence, exposed behind a single stepped facade.
package game

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/schoolday-dev/schoolday/internal/chat"
	"github.com/schoolday-dev/schoolday/internal/cutscene"
	"github.com/schoolday-dev/schoolday/internal/dialogue"
	"github.com/schoolday-dev/schoolday/internal/flow"
	"github.com/schoolday-dev/schoolday/internal/locale"
	"github.com/schoolday-dev/schoolday/internal/minigame"
	"github.com/schoolday-dev/schoolday/internal/sched"
)

// Store is the persistence surface one playthrough needs.
type Store interface {
	flow.Store
	chat.Store
}

// segmentSource adapts the locale schedule to the messenger.
type segmentSource struct {
	locale *locale.Manager
}

func (s segmentSource) ChatSegmentsFor(day int, state string) []chat.Segment {
	raw := s.locale.SegmentsFor(day, state)
	out := make([]chat.Segment, len(raw))
	for i, seg := range raw {
		out[i] = chat.Segment{
			RoomID:         seg.RoomID,
			ConversationID: seg.ConversationID,
			Priority:       seg.Priority,
			Notify:         seg.Notify,
		}
	}
	return out
}

// Game is one playthrough. Step and HandleInput must be called from a
// single driving goroutine; read accessors are safe from anywhere.
type Game struct {
	ID string

	sched    *sched.Scheduler
	stage    *cutscene.SceneStage
	dialogue *dialogue.Manager
	flow     *flow.Manager
	chat     *chat.Service
	locale   *locale.Manager
	games    *minigame.Registry
	store    Store

	mu              sync.Mutex
	state           GameState
	scene           string
	sceneFlowID     string
	pendingComplete []int
	healthSurvey    map[int]bool
	started         bool
	ended           bool
}

// NewGame wires a playthrough from its parts. A nil timeline uses the
// built-in schedule and a nil registry the shipped games.
func NewGame(id string, tl flow.Timeline, loc *locale.Manager, games *minigame.Registry, store Store) *Game {
	if tl == nil {
		tl = flow.DefaultTimeline()
	}
	if games == nil {
		games = minigame.DefaultRegistry()
	}
	s := sched.New()
	stage := cutscene.NewSceneStage()

	g := &Game{
		ID:           id,
		sched:        s,
		stage:        stage,
		locale:       loc,
		games:        games,
		store:        store,
		chat:         chat.NewService(segmentSource{locale: loc}, store),
		healthSurvey: make(map[int]bool),
		state:        StateSubway,
	}
	g.dialogue = dialogue.NewManager(loc, stage, cutscene.NewRunner(stage), s)
	g.dialogue.OnStateChange = func(state string) {
		g.ChangeState(GameState(state))
	}
	g.flow = flow.NewManager(tl, store, g)
	return g
}

// Scheduler exposes the frame scheduler, mainly for tests.
func (g *Game) Scheduler() *sched.Scheduler {
	return g.sched
}

// Stage exposes the scene stage for populating characters.
func (g *Game) Stage() *cutscene.SceneStage {
	return g.stage
}

// Dialogue exposes the dialogue manager.
func (g *Game) Dialogue() *dialogue.Manager {
	return g.dialogue
}

// Flow exposes the day flow manager.
func (g *Game) Flow() *flow.Manager {
	return g.flow
}

// Chat exposes the messenger service.
func (g *Game) Chat() *chat.Service {
	return g.chat
}

// Start plays the first event of the timeline. Calling it twice is a
// no-op.
func (g *Game) Start() {
	g.mu.Lock()
	if g.started {
		g.mu.Unlock()
		return
	}
	g.started = true
	g.mu.Unlock()

	g.flow.PlayCurrent()
}

// Load restores a saved playthrough and resumes at its flow pointer.
func (g *Game) Load() error {
	progress, ok, err := g.store.LoadProgress()
	if err != nil {
		return fmt.Errorf("load progress: %w", err)
	}
	if ok {
		g.flow.Restore(progress)
	}
	chatData, ok, err := g.store.LoadChat()
	if err != nil {
		return fmt.Errorf("load chat: %w", err)
	}
	if ok {
		g.chat.Restore(chatData)
	}

	g.mu.Lock()
	g.started = true
	g.mu.Unlock()

	g.flow.PlayCurrent()
	return nil
}

// Save persists the current flow and messenger state.
func (g *Game) Save() error {
	if err := g.store.SaveProgress(g.flow.Snapshot()); err != nil {
		return fmt.Errorf("save progress: %w", err)
	}
	if err := g.store.SaveChat(g.chat.Snapshot()); err != nil {
		return fmt.Errorf("save chat: %w", err)
	}
	return nil
}

// Step advances the simulation by dt seconds, then applies any event
// completions the scenes queued during the frame.
func (g *Game) Step(dt float64) {
	g.sched.Step(dt)

	for {
		g.mu.Lock()
		if len(g.pendingComplete) == 0 {
			g.mu.Unlock()
			return
		}
		delta := g.pendingComplete[0]
		g.pendingComplete = g.pendingComplete[1:]
		g.mu.Unlock()

		g.flow.CompleteCurrentEvent(delta)
	}
}

// queueComplete schedules the current event's completion for the end
// of the frame. Scene tasks must use this instead of completing the
// flow directly, so they are never torn down mid-run.
func (g *Game) queueComplete(penaltyDelta int) {
	g.mu.Lock()
	g.pendingComplete = append(g.pendingComplete, penaltyDelta)
	g.mu.Unlock()
}

// CompleteScene reports the outcome of an externally hosted minigame.
// delta is the penalty to apply, zero on a win. The built-in stub for
// the same flow id is cancelled so the event completes exactly once.
func (g *Game) CompleteScene(delta int) error {
	g.mu.Lock()
	if g.ended {
		g.mu.Unlock()
		return errors.New("game has ended")
	}
	if g.scene != string(flow.EventMinigame) {
		scene := g.scene
		g.mu.Unlock()
		return fmt.Errorf("scene %q cannot be completed externally", scene)
	}
	if len(g.pendingComplete) > 0 {
		g.mu.Unlock()
		return errors.New("scene is already completing")
	}
	g.mu.Unlock()

	g.sched.CancelAll()
	g.queueComplete(delta)
	return nil
}

// EnterEvent implements flow.Director: it loads the scene for the
// selected event and kicks off its runner.
func (g *Game) EnterEvent(ev *flow.Event, day int) {
	scene := string(ev.Type)

	g.mu.Lock()
	g.scene = scene
	g.sceneFlowID = ev.ID
	g.mu.Unlock()

	g.ForceStateByScene(scene)

	switch ev.Type {
	case flow.EventStory:
		g.enterStory(ev.ID)
	case flow.EventChat:
		// The subway scene idles on player input; segment activation
		// already happened in the state change.
	case flow.EventFreeRoam:
		// Free roam idles until the player leaves.
	case flow.EventMinigame:
		g.enterMinigame(ev.ID)
	default:
		slog.Warn("unknown event type", "type", ev.Type, "id", ev.ID)
		g.queueComplete(0)
	}
}

// ForceStateByScene applies the state a scene kind forces, if any.
func (g *Game) ForceStateByScene(scene string) {
	if state, ok := stateForScene(scene); ok {
		g.ChangeState(state)
	}
}

// ChangeState switches the high-level state and runs its entry
// effects. Entering the subway activates the day's chat segments.
func (g *Game) ChangeState(state GameState) {
	g.mu.Lock()
	g.state = state
	g.mu.Unlock()

	slog.Info("state changed", "state", state)
	if state == StateSubway {
		day := g.flow.Snapshot().Day
		g.chat.ActivateSegmentsFor(day, string(StateSubway))
	}
}

// State returns the current high-level state.
func (g *Game) State() GameState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// Scene returns the loaded scene kind and the flow id it serves.
func (g *Game) Scene() (string, string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.scene, g.sceneFlowID
}

// MovementEnabled reports whether the player may walk in the current
// state. Dialogue always blocks movement.
func (g *Game) MovementEnabled() bool {
	if g.dialogue.Active() {
		return false
	}
	return g.State().AllowsMovement()
}

// Ended reports whether the final day has been played out.
func (g *Game) Ended() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.ended
}

// enterStory starts the event's conversation. An event with no
// conversation is logged and completed immediately so the flow never
// wedges on missing content.
func (g *Game) enterStory(flowID string) {
	if flowID == "" || !g.locale.HasConversation(flowID) {
		slog.Warn("story event has no conversation", "id", flowID)
		g.queueComplete(0)
		return
	}
	ok := g.dialogue.Start(flowID, nil, func(penaltyDelta int) {
		g.queueComplete(penaltyDelta)
	})
	if !ok {
		g.queueComplete(0)
	}
}

// enterMinigame resolves and runs the event's minigame. Losing costs a
// penalty point; an unroutable id completes for free.
func (g *Game) enterMinigame(flowID string) {
	mg := g.games.Resolve(flowID)
	if mg == nil {
		slog.Warn("no minigame for event", "id", flowID)
		g.queueComplete(0)
		return
	}
	g.sched.Go(func(t *sched.Task) error {
		won, err := mg.Play(t, flowID)
		if err != nil {
			return err
		}
		penalty := 0
		if !won {
			penalty = 1
		}
		g.queueComplete(penalty)
		return nil
	})
}

// AdvanceDay moves to the next day after the current one halts, or
// marks the game ended after the final day.
func (g *Game) AdvanceDay() bool {
	if !g.flow.Halted() {
		slog.Warn("day advance requested while events remain")
		return false
	}
	if !g.flow.AdvanceDay() {
		g.mu.Lock()
		g.ended = true
		g.mu.Unlock()
		slog.Info("game over", "id", g.ID)
		return false
	}
	g.flow.PlayCurrent()
	return true
}

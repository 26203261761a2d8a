package flow

import (
	"log/slog"
	"sync"

	"github.com/expr-lang/expr/vm"
)

// Flag keys published to the store whenever an event is selected, so
// the entered scene can read back which event it serves.
const (
	FlagFlowID   = "FLOW_ID"
	FlagFlowType = "FLOW_TYPE"
)

// DefaultPenaltyThreshold is the penalty level that triggers the
// after-school cleaning scene.
const DefaultPenaltyThreshold = 3

// State is the persisted flow progress.
type State struct {
	Day              int `json:"day"`
	StepIndex        int `json:"step_index"`
	PenaltyPoints    int `json:"penalty_points"`
	PenaltyThreshold int `json:"penalty_threshold"`
}

// Director receives the selected event and is responsible for entering
// its scene. It may call back into the manager synchronously.
type Director interface {
	EnterEvent(ev *Event, day int)
}

// Store persists flow progress and scene handoff flags.
type Store interface {
	SaveProgress(State) error
	LoadProgress() (State, bool, error)
	SetFlag(key, value string) error
	Flag(key string) (string, error)
}

// Manager owns the flow pointer: which day, which step, how many
// penalty points. All progression goes through CompleteCurrentEvent.
type Manager struct {
	mu       sync.Mutex
	timeline Timeline
	state    State
	halted   bool

	director Director
	store    Store
}

// NewManager creates a manager positioned at day one, step zero.
func NewManager(tl Timeline, store Store, director Director) *Manager {
	return &Manager{
		timeline: tl,
		director: director,
		store:    store,
		state: State{
			Day:              1,
			StepIndex:        0,
			PenaltyPoints:    0,
			PenaltyThreshold: DefaultPenaltyThreshold,
		},
	}
}

// Snapshot returns the current flow state.
func (m *Manager) Snapshot() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Halted reports whether the current day's events are exhausted.
func (m *Manager) Halted() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.halted
}

// Restore overwrites the flow state from a loaded save.
func (m *Manager) Restore(s State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.PenaltyThreshold <= 0 {
		s.PenaltyThreshold = DefaultPenaltyThreshold
	}
	m.state = s
	m.halted = false
}

// CurrentEvent returns the event under the pointer without advancing
// or evaluating conditions, or nil past the end of the day.
func (m *Manager) CurrentEvent() *Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	events := m.timeline[m.state.Day]
	if m.state.StepIndex < 0 || m.state.StepIndex >= len(events) {
		return nil
	}
	return events[m.state.StepIndex]
}

// Timeline returns the schedule the manager runs.
func (m *Manager) Timeline() Timeline {
	return m.timeline
}

// PlayCurrent skips past ineligible events at the pointer, selects the
// first runnable one, publishes its flags and hands it to the director.
// It returns the selected event, or nil when the day is exhausted.
func (m *Manager) PlayCurrent() *Event {
	m.mu.Lock()
	events := m.timeline[m.state.Day]

	for m.state.StepIndex < len(events) && !m.eligible(events[m.state.StepIndex]) {
		slog.Info("skipping event",
			"day", m.state.Day,
			"step", m.state.StepIndex,
			"id", events[m.state.StepIndex].ID)
		m.state.StepIndex++
	}

	if m.state.StepIndex >= len(events) {
		m.halted = true
		day := m.state.Day
		m.mu.Unlock()
		slog.Info("day complete", "day", day)
		return nil
	}

	ev := events[m.state.StepIndex]
	day := m.state.Day
	m.halted = false
	m.mu.Unlock()

	m.setFlag(FlagFlowType, string(ev.Type))
	m.setFlag(FlagFlowID, ev.ID)

	slog.Info("entering event", "day", day, "type", ev.Type, "id", ev.ID)
	if m.director != nil {
		m.director.EnterEvent(ev, day)
	}
	return ev
}

// CompleteCurrentEvent records the finished event's penalty delta,
// advances the pointer and immediately plays the next event. Negative
// deltas are clamped to zero.
func (m *Manager) CompleteCurrentEvent(penaltyDelta int) *Event {
	m.mu.Lock()
	if penaltyDelta < 0 {
		slog.Warn("negative penalty delta clamped", "delta", penaltyDelta)
		penaltyDelta = 0
	}
	m.state.PenaltyPoints += penaltyDelta
	m.state.StepIndex++
	state := m.state
	m.mu.Unlock()

	m.saveProgress(state)
	return m.PlayCurrent()
}

// AdvanceDay moves to the next day's first event. The caller decides
// when a day transition happens; completing the last event only halts.
func (m *Manager) AdvanceDay() bool {
	m.mu.Lock()
	if m.state.Day >= m.timeline.Days() {
		m.mu.Unlock()
		slog.Info("no further days", "day", m.state.Day)
		return false
	}
	m.state.Day++
	m.state.StepIndex = 0
	m.halted = false
	state := m.state
	m.mu.Unlock()

	m.saveProgress(state)
	return true
}

// DebugSkip advances past the current event without a penalty and
// plays whatever comes next.
func (m *Manager) DebugSkip() *Event {
	m.mu.Lock()
	m.state.StepIndex++
	state := m.state
	m.mu.Unlock()

	slog.Info("debug skip", "day", state.Day, "step", state.StepIndex)
	m.saveProgress(state)
	return m.PlayCurrent()
}

// DebugJump repositions the pointer to an arbitrary day and step and
// plays from there.
func (m *Manager) DebugJump(day, step int) *Event {
	m.mu.Lock()
	m.state.Day = day
	m.state.StepIndex = step
	m.halted = false
	state := m.state
	m.mu.Unlock()

	slog.Info("debug jump", "day", day, "step", step)
	m.saveProgress(state)
	return m.PlayCurrent()
}

// eligible evaluates the event's condition against the flow state.
// Evaluation errors are logged and treated as false so a bad condition
// skips its event instead of wedging the timeline. Caller holds mu.
func (m *Manager) eligible(ev *Event) bool {
	if ev.Condition == "" {
		return true
	}
	if ev.program == nil {
		if err := ev.compile(); err != nil {
			slog.Warn("condition failed to compile", "id", ev.ID, "error", err)
			return false
		}
	}

	env := map[string]interface{}{
		"day":               m.state.Day,
		"step_index":        m.state.StepIndex,
		"penalty_points":    m.state.PenaltyPoints,
		"penalty_threshold": m.state.PenaltyThreshold,
	}
	result, err := vm.Run(ev.program, env)
	if err != nil {
		slog.Warn("condition evaluation failed", "id", ev.ID, "error", err)
		return false
	}
	ok, isBool := result.(bool)
	if !isBool {
		slog.Warn("condition is not boolean", "id", ev.ID, "condition", ev.Condition)
		return false
	}
	return ok
}

func (m *Manager) setFlag(key, value string) {
	if m.store == nil {
		return
	}
	if err := m.store.SetFlag(key, value); err != nil {
		slog.Error("failed to set flag", "key", key, "error", err)
	}
}

func (m *Manager) saveProgress(s State) {
	if m.store == nil {
		return
	}
	if err := m.store.SaveProgress(s); err != nil {
		slog.Error("failed to save progress", "error", err)
	}
}

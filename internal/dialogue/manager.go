package dialogue

import (
	"log/slog"
	"strings"

	"github.com/schoolday-dev/schoolday/internal/cutscene"
	"github.com/schoolday-dev/schoolday/internal/sched"
	"github.com/schoolday-dev/schoolday/internal/script"
)

// DefaultTypingSpeed is the per-rune reveal delay in seconds.
const DefaultTypingSpeed = 0.03

// choiceRevealDelay is the short pause between a fully typed line and
// its choices appearing.
const choiceRevealDelay = 0.1

// Phase is the manager's playback state.
type Phase int

const (
	// PhaseIdle means no dialogue is active.
	PhaseIdle Phase = iota
	// PhaseCommands means the current line's embedded commands are
	// running; advance input is ignored.
	PhaseCommands
	// PhaseTyping means the text reveal is in progress; advance input
	// completes it immediately.
	PhaseTyping
	// PhaseLineDone means the line is fully shown and the manager waits
	// for an advance input.
	PhaseLineDone
	// PhaseChoice means the manager waits for a choice selection.
	PhaseChoice
)

// CompletionFunc reports dialogue completion to whichever flow started
// it. The penalty delta is always 0 for plain dialogue.
type CompletionFunc func(penaltyDelta int)

// Manager drives one conversation at a time. All methods must be called
// from the frame-loop driver, between scheduler steps; the manager holds
// no lock of its own.
type Manager struct {
	provider Provider
	stage    cutscene.Stage
	runner   *cutscene.Runner
	sched    *sched.Scheduler

	// TypingSpeed is the seconds-per-rune reveal delay.
	TypingSpeed float64

	// OnSceneLoad is invoked when a committed choice requests a scene
	// transition. Optional.
	OnSceneLoad func(scene string)
	// OnStateChange is invoked when a committed choice requests a game
	// state change. Optional.
	OnStateChange func(state string)
	// OnLineShown is invoked with the line index each time a line begins
	// playback. Optional; chained conversations restart the index at 0.
	OnLineShown func(index int)

	active     bool
	phase      Phase
	lines      []Line
	idx        int
	current    Line
	fullText   string
	displayed  []rune
	lineTask   *sched.Task
	choiceIdx  int
	choices    []Choice
	speaker    cutscene.Actor
	speakerNm  string
	defaultSpk cutscene.Actor
	cache      map[string]cutscene.Actor
	onComplete CompletionFunc
}

// NewManager creates a dialogue manager bound to its collaborators.
func NewManager(provider Provider, stage cutscene.Stage, runner *cutscene.Runner, s *sched.Scheduler) *Manager {
	return &Manager{
		provider:    provider,
		stage:       stage,
		runner:      runner,
		sched:       s,
		TypingSpeed: DefaultTypingSpeed,
		cache:       make(map[string]cutscene.Actor),
	}
}

// Active reports whether a dialogue is in progress.
func (m *Manager) Active() bool { return m.active }

// CurrentPhase returns the playback phase.
func (m *Manager) CurrentPhase() Phase { return m.phase }

// DisplayedText returns the text revealed so far, tags stripped.
func (m *Manager) DisplayedText() string { return string(m.displayed) }

// SpeakerName returns the resolved display name of the current speaker.
func (m *Manager) SpeakerName() string { return m.speakerNm }

// CurrentSpeaker returns the resolved speaker actor, which may be the
// caller-supplied default.
func (m *Manager) CurrentSpeaker() cutscene.Actor { return m.speaker }

// AwaitingChoice reports whether the manager waits on a selection.
func (m *Manager) AwaitingChoice() bool { return m.phase == PhaseChoice }

// SelectedChoice returns the highlighted choice index.
func (m *Manager) SelectedChoice() int { return m.choiceIdx }

// ChoiceTexts returns the display text of the pending choices.
func (m *Manager) ChoiceTexts() []string {
	out := make([]string, len(m.choices))
	for i, c := range m.choices {
		out[i] = m.provider.GetLine(c.TextID)
	}
	return out
}

// Start begins playing a conversation. The first line appears on the
// next frame so the input that opened the dialogue is not consumed.
// onComplete is invoked exactly once when the dialogue ends, whichever
// path ends it. Missing conversations log an error and leave the
// manager idle.
func (m *Manager) Start(conversationID string, defaultSpeaker cutscene.Actor, onComplete CompletionFunc) bool {
	return m.StartAt(conversationID, 0, defaultSpeaker, onComplete)
}

// StartAt begins a conversation at the given line index, clamped to the
// valid range. Used to resume a chat session at its progress cursor.
func (m *Manager) StartAt(conversationID string, startIndex int, defaultSpeaker cutscene.Actor, onComplete CompletionFunc) bool {
	lines := m.provider.GetConversation(conversationID)
	if len(lines) == 0 {
		slog.Error("dialogue: conversation not found", "conversation", conversationID)
		return false
	}
	if startIndex < 0 {
		startIndex = 0
	}
	if startIndex > len(lines)-1 {
		startIndex = len(lines) - 1
	}

	m.stopLineTask()
	m.active = true
	m.lines = lines
	m.idx = startIndex
	m.displayed = nil
	m.fullText = ""
	m.choices = nil
	m.choiceIdx = 0
	m.defaultSpk = defaultSpeaker
	m.onComplete = onComplete
	m.refreshCache()

	m.startLine()
	return true
}

// Advance is the player's "next" input. During typing it completes the
// reveal immediately; on a finished line it moves to the next line or
// ends the dialogue. It is ignored while commands run or while a choice
// is pending.
func (m *Manager) Advance() {
	if !m.active {
		return
	}

	switch m.phase {
	case PhaseTyping:
		m.stopLineTask()
		m.displayed = []rune(m.fullText)
		if m.current.HasChoices && len(m.current.Choices) > 0 {
			m.enterChoices()
			return
		}
		if m.idx >= len(m.lines) {
			m.End()
			return
		}
		m.phase = PhaseLineDone

	case PhaseLineDone:
		if m.idx >= len(m.lines) {
			m.End()
			return
		}
		m.startLine()
	}
}

// Navigate moves the choice highlight by delta, clamped to the valid
// range. No-op outside choice phase.
func (m *Manager) Navigate(delta int) {
	if m.phase != PhaseChoice {
		return
	}
	m.choiceIdx += delta
	if m.choiceIdx < 0 {
		m.choiceIdx = 0
	}
	if m.choiceIdx > len(m.choices)-1 {
		m.choiceIdx = len(m.choices) - 1
	}
}

// Confirm commits the highlighted choice: optional scene load
// (terminal), optional state change, optional chained conversation, or
// plain dialogue end.
func (m *Manager) Confirm() {
	if m.phase != PhaseChoice {
		return
	}
	if m.choiceIdx < 0 || m.choiceIdx >= len(m.choices) {
		return
	}
	choice := m.choices[m.choiceIdx]
	m.choices = nil

	if choice.SceneToLoad != "" {
		if m.OnSceneLoad != nil {
			m.OnSceneLoad(choice.SceneToLoad)
		}
		m.End()
		return
	}

	if choice.StateToChange != "" && m.OnStateChange != nil {
		m.OnStateChange(choice.StateToChange)
	}

	if choice.NextConversationID != "" {
		next := m.provider.GetConversation(choice.NextConversationID)
		if len(next) == 0 {
			slog.Error("dialogue: chained conversation not found", "conversation", choice.NextConversationID)
			m.phase = PhaseLineDone
			m.idx = len(m.lines) // next advance ends the dialogue
			return
		}
		m.lines = next
		m.idx = 0
		m.startLine()
		return
	}

	m.End()
}

// End stops the dialogue outright: any in-flight command or typing task
// is canceled, per-session state cleared, and the completion callback
// fired once.
func (m *Manager) End() {
	if !m.active {
		return
	}

	m.stopLineTask()
	m.active = false
	m.phase = PhaseIdle
	m.lines = nil
	m.choices = nil
	m.speaker = nil
	m.defaultSpk = nil

	done := m.onComplete
	m.onComplete = nil
	if done != nil {
		done(0)
	}
}

// startLine begins playback of lines[idx] on a fresh task and bumps the
// line cursor.
func (m *Manager) startLine() {
	line := m.lines[m.idx]
	if m.OnLineShown != nil {
		m.OnLineShown(m.idx)
	}
	m.idx++
	m.current = line
	m.phase = PhaseCommands
	m.displayed = nil

	m.speaker = m.resolveSpeaker(line.SpeakerID)
	m.speakerNm = m.provider.GetName(line.SpeakerID)

	if line.AnimationTrigger != "" && m.speaker != nil {
		m.speaker.Trigger(line.AnimationTrigger)
	}
	if line.SoundEffectName != "" {
		if !m.stage.PlaySound(line.SoundEffectName) {
			slog.Warn("dialogue: sound effect not found", "clip", line.SoundEffectName)
		}
	}

	raw := m.provider.GetLine(line.LineID)
	m.fullText = script.Strip(raw)

	m.lineTask = m.sched.Go(func(t *sched.Task) error {
		if err := m.runner.Execute(t, raw); err != nil {
			return err
		}

		m.phase = PhaseTyping
		for _, r := range m.fullText {
			m.displayed = append(m.displayed, r)
			if err := t.Sleep(m.TypingSpeed); err != nil {
				return err
			}
		}

		if line.HasChoices && len(line.Choices) > 0 {
			if err := t.Sleep(choiceRevealDelay); err != nil {
				return err
			}
			m.enterChoices()
			return nil
		}

		m.phase = PhaseLineDone
		return nil
	})
}

func (m *Manager) enterChoices() {
	m.phase = PhaseChoice
	m.choices = m.current.Choices
	m.choiceIdx = 0
}

func (m *Manager) stopLineTask() {
	if m.lineTask != nil && !m.lineTask.Done() {
		m.sched.Cancel(m.lineTask)
	}
	m.lineTask = nil
}

// resolveSpeaker looks a speaker id up in the character cache: exact id
// first, then with the NAME_ prefix stripped, then once more after a
// cache refresh, finally falling back to the caller-supplied default.
// The refresh-then-retry order matters: the cache goes stale whenever a
// scene reloads.
func (m *Manager) resolveSpeaker(id string) cutscene.Actor {
	if a, ok := m.cache[id]; ok {
		return a
	}

	stripped := strings.TrimPrefix(id, "NAME_")
	if a, ok := m.cache[stripped]; ok {
		return a
	}

	m.refreshCache()
	if a, ok := m.cache[id]; ok {
		return a
	}
	if a, ok := m.cache[stripped]; ok {
		return a
	}

	return m.defaultSpk
}

// RefreshCache re-snapshots the stage's character roster. Called
// automatically at dialogue start and on failed lookups; scene hosts
// call it after reload.
func (m *Manager) RefreshCache() {
	m.refreshCache()
}

func (m *Manager) refreshCache() {
	m.cache = m.stage.Characters()
}

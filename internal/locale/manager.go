// Package locale loads the game's narrative data tables from CSV and
// serves localized text. It backs the dialogue system's data provider
// seam and owns the runtime language switch.
package locale

import (
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/schoolday-dev/schoolday/internal/dialogue"
)

// Language selects which text column the lookup tables serve.
type Language string

const (
	Korean  Language = "KOR"
	English Language = "ENG"
)

// Text id prefixes routing rows of the localization table.
const (
	namePrefix = "NAME_"
	linePrefix = "LINE_"
)

// ChatSegment is one scheduled burst of phone-chat content, activated
// when the game reaches the matching day and state.
type ChatSegment struct {
	Day            int
	State          string
	RoomID         string
	ConversationID string
	Priority       int
	Notify         bool
}

type entry struct {
	kor string
	eng string
}

// Manager holds the loaded tables and answers localized lookups. It is
// safe for concurrent use.
type Manager struct {
	mu            sync.RWMutex
	language      Language
	names         map[string]entry
	lines         map[string]entry
	conversations map[string][]dialogue.Line
	segments      []ChatSegment
	onChange      []func(Language)
}

// NewManager creates an empty manager defaulting to Korean.
func NewManager() *Manager {
	return &Manager{
		language:      Korean,
		names:         make(map[string]entry),
		lines:         make(map[string]entry),
		conversations: make(map[string][]dialogue.Line),
	}
}

// Language returns the active language.
func (m *Manager) Language() Language {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.language
}

// SetLanguage switches the active language and notifies subscribers.
func (m *Manager) SetLanguage(lang Language) {
	m.mu.Lock()
	if lang != Korean && lang != English {
		m.mu.Unlock()
		slog.Warn("unknown language ignored", "language", lang)
		return
	}
	m.language = lang
	subs := append([]func(Language){}, m.onChange...)
	m.mu.Unlock()

	for _, fn := range subs {
		fn(lang)
	}
}

// ToggleLanguage flips between Korean and English.
func (m *Manager) ToggleLanguage() {
	if m.Language() == Korean {
		m.SetLanguage(English)
	} else {
		m.SetLanguage(Korean)
	}
}

// OnLanguageChanged registers a callback fired after every switch.
func (m *Manager) OnLanguageChanged(fn func(Language)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onChange = append(m.onChange, fn)
}

func (m *Manager) pick(e entry) string {
	if m.language == English {
		return e.eng
	}
	return e.kor
}

// GetLine returns the localized text for a line id. A missing id is
// logged and returned as-is so broken data stays visible in play.
func (m *Manager) GetLine(id string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if e, ok := m.lines[id]; ok {
		return m.pick(e)
	}
	slog.Warn("line id not found", "id", id)
	return id
}

// GetName returns the localized display name for a speaker id, or the
// id itself when missing.
func (m *Manager) GetName(id string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if e, ok := m.names[id]; ok {
		return m.pick(e)
	}
	return id
}

// GetConversation returns the ordered lines of a conversation, or nil
// when the id is unknown.
func (m *Manager) GetConversation(id string) []dialogue.Line {
	m.mu.RLock()
	defer m.mu.RUnlock()
	lines, ok := m.conversations[id]
	if !ok {
		slog.Error("conversation not found", "id", id)
		return nil
	}
	return lines
}

// HasConversation reports whether a conversation id is loaded.
func (m *Manager) HasConversation(id string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.conversations[id]
	return ok
}

// ChatRoomIDs returns every room id referenced by a chat segment, in
// sorted order.
func (m *Manager) ChatRoomIDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	seen := make(map[string]bool)
	var ids []string
	for _, seg := range m.segments {
		if !seen[seg.RoomID] {
			seen[seg.RoomID] = true
			ids = append(ids, seg.RoomID)
		}
	}
	sort.Strings(ids)
	return ids
}

// SegmentsFor returns the chat segments scheduled for the given day and
// state. Duplicate (room, conversation) pairs are merged keeping the
// lowest priority and OR-ing the notify flag, and the result is sorted
// by ascending priority.
func (m *Manager) SegmentsFor(day int, state string) []ChatSegment {
	m.mu.RLock()
	defer m.mu.RUnlock()

	type key struct{ room, conv string }
	merged := make(map[key]ChatSegment)
	var order []key
	for _, seg := range m.segments {
		if seg.Day != day || seg.State != state {
			continue
		}
		k := key{seg.RoomID, seg.ConversationID}
		if prev, ok := merged[k]; ok {
			if seg.Priority < prev.Priority {
				prev.Priority = seg.Priority
			}
			prev.Notify = prev.Notify || seg.Notify
			merged[k] = prev
			continue
		}
		merged[k] = seg
		order = append(order, k)
	}

	out := make([]ChatSegment, 0, len(order))
	for _, k := range order {
		out = append(out, merged[k])
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Priority < out[j].Priority })
	return out
}

// LoadDir loads the three data tables from a directory. Missing files
// are logged and skipped so a partial data set still boots.
func (m *Manager) LoadDir(dir string) error {
	load := func(name string, fn func(io.Reader) error) error {
		f, err := os.Open(filepath.Join(dir, name))
		if err != nil {
			if os.IsNotExist(err) {
				slog.Warn("data file missing", "file", name)
				return nil
			}
			return fmt.Errorf("open %s: %w", name, err)
		}
		defer f.Close()
		if err := fn(f); err != nil {
			return fmt.Errorf("load %s: %w", name, err)
		}
		return nil
	}

	if err := load("Localization.csv", m.LoadLocalization); err != nil {
		return err
	}
	if err := load("Conversations.csv", m.LoadConversations); err != nil {
		return err
	}
	return load("ChatSegments.csv", m.LoadChatSegments)
}

// LoadLocalization reads localization rows (ID, KOR, ENG). Row ids
// starting with NAME_ land in the name table and keep the prefix
// stripped key as well; everything else is a line.
func (m *Manager) LoadLocalization(r io.Reader) error {
	rows, err := readAll(r)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for i, row := range rows {
		if len(row) < 3 {
			slog.Warn("localization row malformed", "row", i+1)
			continue
		}
		id := strings.TrimSpace(row[0])
		if id == "" || id == "ID" {
			continue
		}
		e := entry{kor: row[1], eng: row[2]}
		if strings.HasPrefix(id, namePrefix) {
			m.names[id] = e
			m.names[strings.TrimPrefix(id, namePrefix)] = e
		} else {
			m.lines[id] = e
		}
	}
	return nil
}

// LoadConversations reads conversation rows (Conversation_ID, Order,
// Speaker_ID, Line_ID, Anim, Sfx, Choices). Choices are encoded as
// semicolon-separated quads of textID|nextConversation|scene|state.
// Rows are sorted per conversation by their Order column.
func (m *Manager) LoadConversations(r io.Reader) error {
	rows, err := readAll(r)
	if err != nil {
		return err
	}

	type ordered struct {
		order int
		line  dialogue.Line
	}
	byConv := make(map[string][]ordered)

	for i, row := range rows {
		if len(row) < 4 {
			slog.Warn("conversation row malformed", "row", i+1)
			continue
		}
		convID := strings.TrimSpace(row[0])
		if convID == "" || convID == "Conversation_ID" {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(row[1]))
		if err != nil {
			slog.Warn("conversation row has bad order", "row", i+1, "conversation", convID)
			continue
		}
		line := dialogue.Line{
			SpeakerID: strings.TrimSpace(row[2]),
			LineID:    strings.TrimSpace(row[3]),
		}
		if len(row) > 4 {
			line.AnimationTrigger = strings.TrimSpace(row[4])
		}
		if len(row) > 5 {
			line.SoundEffectName = strings.TrimSpace(row[5])
		}
		if len(row) > 6 {
			line.Choices = parseChoices(row[6])
			line.HasChoices = len(line.Choices) > 0
		}
		byConv[convID] = append(byConv[convID], ordered{order: n, line: line})
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for id, rows := range byConv {
		sort.SliceStable(rows, func(i, j int) bool { return rows[i].order < rows[j].order })
		lines := make([]dialogue.Line, len(rows))
		for i, r := range rows {
			lines[i] = r.line
		}
		m.conversations[id] = lines
	}
	return nil
}

// LoadChatSegments reads chat segment rows (Day, State, Room_ID,
// Conversation_ID, Priority, Notify).
func (m *Manager) LoadChatSegments(r io.Reader) error {
	rows, err := readAll(r)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for i, row := range rows {
		if len(row) < 6 {
			slog.Warn("chat segment row malformed", "row", i+1)
			continue
		}
		if strings.TrimSpace(row[0]) == "Day" {
			continue
		}
		day, err := strconv.Atoi(strings.TrimSpace(row[0]))
		if err != nil {
			slog.Warn("chat segment row has bad day", "row", i+1)
			continue
		}
		prio, err := strconv.Atoi(strings.TrimSpace(row[4]))
		if err != nil {
			slog.Warn("chat segment row has bad priority", "row", i+1)
			continue
		}
		notify, _ := strconv.ParseBool(strings.TrimSpace(strings.ToLower(row[5])))
		m.segments = append(m.segments, ChatSegment{
			Day:            day,
			State:          strings.TrimSpace(row[1]),
			RoomID:         strings.TrimSpace(row[2]),
			ConversationID: strings.TrimSpace(row[3]),
			Priority:       prio,
			Notify:         notify,
		})
	}
	return nil
}

func parseChoices(raw string) []dialogue.Choice {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	var choices []dialogue.Choice
	for _, part := range strings.Split(raw, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		fields := strings.Split(part, "|")
		c := dialogue.Choice{TextID: strings.TrimSpace(fields[0])}
		if len(fields) > 1 {
			c.NextConversationID = strings.TrimSpace(fields[1])
		}
		if len(fields) > 2 {
			c.SceneToLoad = strings.TrimSpace(fields[2])
		}
		if len(fields) > 3 {
			c.StateToChange = strings.TrimSpace(fields[3])
		}
		choices = append(choices, c)
	}
	return choices
}

func readAll(r io.Reader) ([][]string, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	rows, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse csv: %w", err)
	}
	return rows, nil
}

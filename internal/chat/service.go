// Package chat manages the phone messenger: rooms with unread badges
// and chat sessions activated by day/state segments. A session wraps
// one conversation and is completed at most once.
package chat

import (
	"log/slog"
	"sort"
	"sync"
)

// RoomState is one messenger room's persistent state.
type RoomState struct {
	RoomID      string `json:"room_id"`
	UnreadCount int    `json:"unread_count"`
}

// SessionState tracks one conversation's lifecycle inside a room.
// Sessions are keyed by conversation id, one session per conversation.
// ProgressIndex counts lines already shown, so a session left
// mid-conversation resumes where it stopped.
type SessionState struct {
	ConversationID string `json:"conversation_id"`
	RoomID         string `json:"room_id"`
	Priority       int    `json:"priority"`
	Activated      bool   `json:"activated"`
	Completed      bool   `json:"completed"`
	ProgressIndex  int    `json:"progress_index"`
}

// SaveData is the serializable snapshot of the whole messenger.
type SaveData struct {
	Rooms    []RoomState    `json:"rooms"`
	Sessions []SessionState `json:"sessions"`
	ActiveID string         `json:"active_id"`
}

// Segment is the subset of a chat schedule entry the service needs.
type Segment struct {
	RoomID         string
	ConversationID string
	Priority       int
	Notify         bool
}

// SegmentSource supplies the scheduled segments for a day and state.
type SegmentSource interface {
	ChatSegmentsFor(day int, state string) []Segment
}

// Store persists the messenger snapshot.
type Store interface {
	SaveChat(SaveData) error
	LoadChat() (SaveData, bool, error)
}

// Service is the messenger backend. Safe for concurrent use.
type Service struct {
	mu       sync.Mutex
	rooms    map[string]*RoomState
	sessions map[string]*SessionState
	activeID string

	source   SegmentSource
	store    Store
	onChange []func()
}

// NewService creates an empty messenger backed by the given schedule
// source and store. Both may be nil in tests.
func NewService(source SegmentSource, store Store) *Service {
	return &Service{
		rooms:    make(map[string]*RoomState),
		sessions: make(map[string]*SessionState),
		source:   source,
		store:    store,
	}
}

// OnChanged registers a callback fired after any mutation.
func (s *Service) OnChanged(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onChange = append(s.onChange, fn)
}

func (s *Service) notifyChanged() {
	s.mu.Lock()
	subs := append([]func(){}, s.onChange...)
	s.mu.Unlock()
	for _, fn := range subs {
		fn()
	}
}

// EnsureRoom creates a room when missing and returns it.
func (s *Service) EnsureRoom(roomID string) RoomState {
	s.mu.Lock()
	r := s.ensureRoomLocked(roomID)
	out := *r
	s.mu.Unlock()
	return out
}

func (s *Service) ensureRoomLocked(roomID string) *RoomState {
	if r, ok := s.rooms[roomID]; ok {
		return r
	}
	r := &RoomState{RoomID: roomID}
	s.rooms[roomID] = r
	return r
}

// Room returns a room's state by id.
func (s *Service) Room(roomID string) (RoomState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[roomID]
	if !ok {
		return RoomState{}, false
	}
	return *r, true
}

// Rooms returns all rooms sorted by id.
func (s *Service) Rooms() []RoomState {
	s.mu.Lock()
	out := make([]RoomState, 0, len(s.rooms))
	for _, r := range s.rooms {
		out = append(out, *r)
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].RoomID < out[j].RoomID })
	return out
}

// TotalUnread sums unread counts across rooms, for the app badge.
func (s *Service) TotalUnread() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, r := range s.rooms {
		n += r.UnreadCount
	}
	return n
}

// AddUnread bumps a room's unread badge.
func (s *Service) AddUnread(roomID string, n int) {
	s.mu.Lock()
	r := s.ensureRoomLocked(roomID)
	r.UnreadCount += n
	s.mu.Unlock()
	s.notifyChanged()
}

// MarkRoomRead clears a room's unread badge.
func (s *Service) MarkRoomRead(roomID string) {
	s.mu.Lock()
	if r, ok := s.rooms[roomID]; ok {
		r.UnreadCount = 0
	}
	s.mu.Unlock()
	s.notifyChanged()
}

// Session returns a session by conversation id.
func (s *Service) Session(conversationID string) (SessionState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[conversationID]
	if !ok {
		return SessionState{}, false
	}
	return *sess, true
}

// HasActiveSession reports whether a session is currently running.
func (s *Service) HasActiveSession() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeID != ""
}

// ActiveSession returns the running session, if any.
func (s *Service) ActiveSession() (SessionState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.activeID == "" {
		return SessionState{}, false
	}
	sess, ok := s.sessions[s.activeID]
	if !ok {
		return SessionState{}, false
	}
	return *sess, true
}

// NextSessionForRoom returns the highest priority activated,
// uncompleted session in a room.
func (s *Service) NextSessionForRoom(roomID string) (SessionState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var best *SessionState
	for _, sess := range s.sessions {
		if sess.RoomID != roomID || !sess.Activated || sess.Completed {
			continue
		}
		if best == nil || sess.Priority < best.Priority {
			best = sess
		}
	}
	if best == nil {
		return SessionState{}, false
	}
	return *best, true
}

// SessionsForRoom returns every session bound to a room, sorted by
// ascending priority.
func (s *Service) SessionsForRoom(roomID string) []SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]SessionState, 0)
	for _, sess := range s.sessions {
		if sess.RoomID == roomID {
			out = append(out, *sess)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].ConversationID < out[j].ConversationID
	})
	return out
}

// HasPendingSessions reports whether any activated session is still
// uncompleted.
func (s *Service) HasPendingSessions() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sess := range s.sessions {
		if sess.Activated && !sess.Completed {
			return true
		}
	}
	return false
}

// StartSession marks a session active. Only one session runs at a time
// and completed sessions cannot restart.
func (s *Service) StartSession(conversationID string) bool {
	s.mu.Lock()
	sess, ok := s.sessions[conversationID]
	switch {
	case !ok:
		s.mu.Unlock()
		slog.Warn("unknown chat session", "conversation", conversationID)
		return false
	case sess.Completed:
		s.mu.Unlock()
		slog.Warn("completed chat session refused", "conversation", conversationID)
		return false
	case s.activeID != "" && s.activeID != conversationID:
		s.mu.Unlock()
		slog.Warn("chat session already active", "active", s.activeID, "requested", conversationID)
		return false
	}
	s.activeID = conversationID
	s.mu.Unlock()

	s.persist()
	s.notifyChanged()
	return true
}

// AdvanceSession bumps a session's progress cursor by one line.
// Completed or unknown sessions are left untouched. Returns the new
// cursor value.
func (s *Service) AdvanceSession(conversationID string) int {
	s.mu.Lock()
	sess, ok := s.sessions[conversationID]
	if !ok || sess.Completed {
		var cur int
		if ok {
			cur = sess.ProgressIndex
		}
		s.mu.Unlock()
		return cur
	}
	sess.ProgressIndex++
	cur := sess.ProgressIndex
	s.mu.Unlock()

	s.persist()
	s.notifyChanged()
	return cur
}

// CompleteSession marks a session finished and clears the active slot,
// clearing the room's unread badge along the way. Completing an already
// completed session is a no-op.
func (s *Service) CompleteSession(conversationID string) {
	s.mu.Lock()
	sess, ok := s.sessions[conversationID]
	if !ok || sess.Completed {
		s.mu.Unlock()
		return
	}
	sess.Completed = true
	if s.activeID == conversationID {
		s.activeID = ""
	}
	if r, ok := s.rooms[sess.RoomID]; ok {
		r.UnreadCount = 0
	}
	s.mu.Unlock()

	s.persist()
	s.notifyChanged()
}

// ActivateSegmentsFor ensures rooms and sessions exist for every
// segment scheduled at the given day and state. A notification badge is
// added only the first time a session is created; re-activating an
// existing session corrects its room binding without re-notifying.
func (s *Service) ActivateSegmentsFor(day int, state string) int {
	if s.source == nil {
		return 0
	}
	segments := s.source.ChatSegmentsFor(day, state)
	if len(segments) == 0 {
		return 0
	}

	s.mu.Lock()
	created := 0
	for _, seg := range segments {
		s.ensureRoomLocked(seg.RoomID)
		sess, ok := s.sessions[seg.ConversationID]
		if ok {
			sess.Activated = true
			if sess.RoomID != seg.RoomID {
				slog.Warn("chat session rebound to room",
					"conversation", seg.ConversationID,
					"from", sess.RoomID, "to", seg.RoomID)
				sess.RoomID = seg.RoomID
			}
			continue
		}
		s.sessions[seg.ConversationID] = &SessionState{
			ConversationID: seg.ConversationID,
			RoomID:         seg.RoomID,
			Priority:       seg.Priority,
			Activated:      true,
		}
		if seg.Notify {
			s.ensureRoomLocked(seg.RoomID).UnreadCount++
		}
		created++
	}
	s.mu.Unlock()

	if created > 0 {
		s.persist()
	}
	s.notifyChanged()
	return created
}

// ResetAll wipes every room and session. Used when a new game starts.
func (s *Service) ResetAll() {
	s.mu.Lock()
	s.rooms = make(map[string]*RoomState)
	s.sessions = make(map[string]*SessionState)
	s.activeID = ""
	s.mu.Unlock()

	s.persist()
	s.notifyChanged()
}

// Snapshot returns the serializable messenger state.
func (s *Service) Snapshot() SaveData {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Service) snapshotLocked() SaveData {
	data := SaveData{ActiveID: s.activeID}
	for _, r := range s.rooms {
		data.Rooms = append(data.Rooms, *r)
	}
	for _, sess := range s.sessions {
		data.Sessions = append(data.Sessions, *sess)
	}
	sort.Slice(data.Rooms, func(i, j int) bool { return data.Rooms[i].RoomID < data.Rooms[j].RoomID })
	sort.Slice(data.Sessions, func(i, j int) bool {
		return data.Sessions[i].ConversationID < data.Sessions[j].ConversationID
	})
	return data
}

// Restore replaces the messenger state from a loaded snapshot.
func (s *Service) Restore(data SaveData) {
	s.mu.Lock()
	s.rooms = make(map[string]*RoomState, len(data.Rooms))
	for _, r := range data.Rooms {
		room := r
		s.rooms[r.RoomID] = &room
	}
	s.sessions = make(map[string]*SessionState, len(data.Sessions))
	for _, sess := range data.Sessions {
		session := sess
		s.sessions[sess.ConversationID] = &session
	}
	s.activeID = data.ActiveID
	s.mu.Unlock()

	s.notifyChanged()
}

func (s *Service) persist() {
	if s.store == nil {
		return
	}
	s.mu.Lock()
	data := s.snapshotLocked()
	s.mu.Unlock()
	if err := s.store.SaveChat(data); err != nil {
		slog.Error("failed to save chat state", "error", err)
	}
}

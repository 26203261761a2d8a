// Package api exposes the engine over HTTP. Each playthrough runs in
// memory behind a per-game lock, stepped by a background loop, with
// sqlite underneath for saves.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/schoolday-dev/schoolday/internal/db"
	"github.com/schoolday-dev/schoolday/internal/flow"
	"github.com/schoolday-dev/schoolday/internal/game"
	"github.com/schoolday-dev/schoolday/internal/locale"
	mw "github.com/schoolday-dev/schoolday/internal/middleware"
	"github.com/schoolday-dev/schoolday/internal/minigame"
	"github.com/schoolday-dev/schoolday/internal/validation"
)

// stepInterval is the background tick driving live games.
const stepInterval = 50 * time.Millisecond

// session is one live playthrough. The mutex serializes the step loop
// against request handlers, since the engine wants a single driver.
type session struct {
	mu   sync.Mutex
	game *game.Game
}

// Server handles HTTP requests.
type Server struct {
	router      chi.Router
	db          *db.DB
	locale      *locale.Manager
	games       map[string]*session
	gamesMu     sync.RWMutex
	rateLimiter *mw.RateLimiter
	timeline    flow.Timeline
}

// NewServer creates a new API server.
func NewServer(database *db.DB, loc *locale.Manager) *Server {
	s := &Server{
		router:      chi.NewRouter(),
		db:          database,
		locale:      loc,
		games:       make(map[string]*session),
		rateLimiter: mw.NewRateLimiter(),
	}

	s.setupRoutes()
	return s
}

// SetTimeline replaces the schedule used for new games. Games created
// before the call keep the schedule they started with. Not synchronized
// with request handling: call during startup, before the server serves.
func (s *Server) SetTimeline(tl flow.Timeline) {
	s.timeline = tl
}

// setupRoutes configures all API routes.
func (s *Server) setupRoutes() {
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.SetHeader("Content-Type", "application/json"))
	s.router.Use(s.rateLimiter.Middleware)
	s.router.Use(mw.SecurityHeadersMiddleware)
	s.router.Use(mw.MaxBodySizeMiddleware(1024 * 1024)) // 1MB max

	// Public endpoint (no auth required)
	s.router.Post("/api/games", s.createGame)

	// Protected endpoints (auth required)
	s.router.Group(func(r chi.Router) {
		r.Use(mw.AuthMiddleware)
		r.Get("/api/games", s.listGames)
		r.Get("/api/games/{id}", s.getGame)
		r.Delete("/api/games/{id}", s.deleteGame)
		r.Post("/api/games/{id}/input", s.sendInput)
		r.Post("/api/games/{id}/step", s.stepGame)
		r.Post("/api/games/{id}/advance-day", s.advanceDay)
		r.Post("/api/games/{id}/complete", s.completeScene)
		r.Post("/api/games/{id}/save", s.saveGame)
		r.Post("/api/games/{id}/load", s.loadGame)
		r.Post("/api/games/{id}/language", s.setLanguage)
		r.Get("/api/games/{id}/timeline", s.getTimeline)
		r.Get("/api/games/{id}/chat/rooms", s.getChatRooms)
		r.Get("/api/games/{id}/chat/rooms/{room}", s.getChatRoom)

		r.Group(func(r chi.Router) {
			r.Use(mw.RequireRole("dev"))
			r.Post("/api/games/{id}/debug/skip", s.debugSkip)
			r.Post("/api/games/{id}/debug/jump", s.debugJump)
		})
	})
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// StartLoop steps every live game on a fixed tick until ctx ends.
func (s *Server) StartLoop(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(stepInterval)
		defer ticker.Stop()
		last := time.Now()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				dt := now.Sub(last).Seconds()
				last = now
				s.stepAll(dt)
			}
		}
	}()
}

func (s *Server) stepAll(dt float64) {
	s.gamesMu.RLock()
	sessions := make([]*session, 0, len(s.games))
	for _, sess := range s.games {
		sessions = append(sessions, sess)
	}
	s.gamesMu.RUnlock()

	for _, sess := range sessions {
		sess.mu.Lock()
		sess.game.Step(dt)
		sess.mu.Unlock()
	}
}

// Response wraps API responses.
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError writes an error response (sanitized).
func writeError(w http.ResponseWriter, status int, message string) {
	if status >= 500 {
		message = "Internal server error"
	}
	writeJSON(w, status, Response{
		Success: false,
		Error:   message,
	})
}

// getUserID extracts user ID from context.
func getUserID(r *http.Request) string {
	userID, ok := r.Context().Value("user_id").(string)
	if !ok {
		return ""
	}
	return userID
}

// checkGameOwnership verifies user owns the game.
func (s *Server) checkGameOwnership(w http.ResponseWriter, r *http.Request, gameID string) bool {
	userID := getUserID(r)
	if userID == "" {
		writeError(w, http.StatusUnauthorized, "Missing user ID")
		return false
	}

	isOwner, err := s.db.IsGameOwner(gameID, userID)
	if err != nil || !isOwner {
		writeError(w, http.StatusForbidden, "Access denied")
		return false
	}
	return true
}

// lookupSession validates the id, checks ownership and returns the
// live session. Writes the error response itself on failure.
func (s *Server) lookupSession(w http.ResponseWriter, r *http.Request) (*session, string, bool) {
	gameID := chi.URLParam(r, "id")
	if err := validation.ValidateGameID(gameID); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid game ID")
		return nil, "", false
	}
	if !s.checkGameOwnership(w, r, gameID) {
		return nil, "", false
	}

	s.gamesMu.RLock()
	sess, ok := s.games[gameID]
	s.gamesMu.RUnlock()
	if !ok {
		writeError(w, http.StatusNotFound, "Game not found")
		return nil, "", false
	}
	return sess, gameID, true
}

// createGame starts a new playthrough. The response carries a session
// token scoped to the new game's owner.
func (s *Server) createGame(w http.ResponseWriter, r *http.Request) {
	gameID := uuid.New().String()
	userID := uuid.New().String()

	if err := s.db.CreateGame(gameID); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create game")
		return
	}
	if err := s.db.SaveGameOwnership(gameID, userID); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save game")
		return
	}

	token, err := mw.GenerateToken(userID, "player")
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to issue token")
		return
	}

	g := game.NewGame(gameID, s.timeline, s.locale, minigame.HostedRegistry(), s.db.StoreFor(gameID))
	g.Start()

	s.gamesMu.Lock()
	s.games[gameID] = &session{game: g}
	s.gamesMu.Unlock()

	slog.Info("game created", "id", gameID)
	writeJSON(w, http.StatusCreated, Response{
		Success: true,
		Data: map[string]interface{}{
			"game_id": gameID,
			"token":   token,
			"status":  g.Status(),
		},
	})
}

// listGames lists all games owned by the user.
func (s *Server) listGames(w http.ResponseWriter, r *http.Request) {
	userID := getUserID(r)
	if userID == "" {
		writeError(w, http.StatusUnauthorized, "Missing user ID")
		return
	}

	gameIDs, err := s.db.GetUserGames(userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list games")
		return
	}

	writeJSON(w, http.StatusOK, Response{
		Success: true,
		Data:    gameIDs,
	})
}

// getGame gets a game's current status.
func (s *Server) getGame(w http.ResponseWriter, r *http.Request) {
	sess, _, ok := s.lookupSession(w, r)
	if !ok {
		return
	}

	sess.mu.Lock()
	status := sess.game.Status()
	sess.mu.Unlock()

	writeJSON(w, http.StatusOK, Response{
		Success: true,
		Data:    status,
	})
}

// deleteGame removes a playthrough and its saves.
func (s *Server) deleteGame(w http.ResponseWriter, r *http.Request) {
	sess, gameID, ok := s.lookupSession(w, r)
	if !ok {
		return
	}

	sess.mu.Lock()
	sess.game.Scheduler().CancelAll()
	sess.mu.Unlock()

	s.gamesMu.Lock()
	delete(s.games, gameID)
	s.gamesMu.Unlock()

	if err := s.db.DeleteGame(gameID); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to delete game")
		return
	}

	writeJSON(w, http.StatusOK, Response{
		Success: true,
		Data:    "Game deleted",
	})
}

// sendInput routes a player input into the game.
func (s *Server) sendInput(w http.ResponseWriter, r *http.Request) {
	sess, _, ok := s.lookupSession(w, r)
	if !ok {
		return
	}

	var req game.Input
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	switch req.Kind {
	case game.InputTapChat:
		if err := validation.ValidateRoomID(req.Arg); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid room ID")
			return
		}
	case game.InputTalk:
		if err := validation.ValidateConversationID(req.Arg); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid conversation ID")
			return
		}
	}

	sess.mu.Lock()
	err := sess.game.HandleInput(req)
	status := sess.game.Status()
	sess.mu.Unlock()

	if err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, Response{
		Success: true,
		Data:    status,
	})
}

// stepGame advances a game manually, for clients that drive their own
// clock instead of relying on the background loop.
func (s *Server) stepGame(w http.ResponseWriter, r *http.Request) {
	sess, _, ok := s.lookupSession(w, r)
	if !ok {
		return
	}

	var req struct {
		Seconds float64 `json:"seconds"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Seconds <= 0 || req.Seconds > 10 {
		writeError(w, http.StatusBadRequest, "Seconds must be in (0, 10]")
		return
	}

	sess.mu.Lock()
	sess.game.Step(req.Seconds)
	status := sess.game.Status()
	sess.mu.Unlock()

	writeJSON(w, http.StatusOK, Response{
		Success: true,
		Data:    status,
	})
}

// advanceDay moves a halted game to the next day.
func (s *Server) advanceDay(w http.ResponseWriter, r *http.Request) {
	sess, _, ok := s.lookupSession(w, r)
	if !ok {
		return
	}

	sess.mu.Lock()
	advanced := sess.game.AdvanceDay()
	status := sess.game.Status()
	sess.mu.Unlock()

	if !advanced && !status.Ended {
		writeError(w, http.StatusConflict, "Day is not finished")
		return
	}
	writeJSON(w, http.StatusOK, Response{
		Success: true,
		Data:    status,
	})
}

// completeScene lets an external minigame host report its outcome.
func (s *Server) completeScene(w http.ResponseWriter, r *http.Request) {
	sess, _, ok := s.lookupSession(w, r)
	if !ok {
		return
	}

	var req struct {
		PenaltyDelta int `json:"penalty_delta"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.PenaltyDelta < 0 || req.PenaltyDelta > 10 {
		writeError(w, http.StatusBadRequest, "penalty_delta must be between 0 and 10")
		return
	}

	sess.mu.Lock()
	err := sess.game.CompleteScene(req.PenaltyDelta)
	if err == nil {
		sess.game.Step(0)
	}
	status := sess.game.Status()
	sess.mu.Unlock()

	if err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, Response{
		Success: true,
		Data:    status,
	})
}

// saveGame persists the playthrough.
func (s *Server) saveGame(w http.ResponseWriter, r *http.Request) {
	sess, _, ok := s.lookupSession(w, r)
	if !ok {
		return
	}

	sess.mu.Lock()
	err := sess.game.Save()
	sess.mu.Unlock()

	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save game")
		return
	}
	writeJSON(w, http.StatusOK, Response{
		Success: true,
		Data:    "Game saved",
	})
}

// loadGame restores the playthrough from its latest save.
func (s *Server) loadGame(w http.ResponseWriter, r *http.Request) {
	sess, _, ok := s.lookupSession(w, r)
	if !ok {
		return
	}

	sess.mu.Lock()
	err := sess.game.Load()
	status := sess.game.Status()
	sess.mu.Unlock()

	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load game")
		return
	}
	writeJSON(w, http.StatusOK, Response{
		Success: true,
		Data:    status,
	})
}

// setLanguage switches the localization language.
func (s *Server) setLanguage(w http.ResponseWriter, r *http.Request) {
	if _, _, ok := s.lookupSession(w, r); !ok {
		return
	}

	var req struct {
		Language string `json:"language"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	lang := locale.Language(req.Language)
	if lang != locale.Korean && lang != locale.English {
		writeError(w, http.StatusBadRequest, "Language must be KOR or ENG")
		return
	}

	s.locale.SetLanguage(lang)
	writeJSON(w, http.StatusOK, Response{
		Success: true,
		Data:    req.Language,
	})
}

// getTimeline returns the game's day schedule.
func (s *Server) getTimeline(w http.ResponseWriter, r *http.Request) {
	sess, _, ok := s.lookupSession(w, r)
	if !ok {
		return
	}

	writeJSON(w, http.StatusOK, Response{
		Success: true,
		Data:    sess.game.Flow().Timeline(),
	})
}

// getChatRooms returns the messenger room list with badges.
func (s *Server) getChatRooms(w http.ResponseWriter, r *http.Request) {
	sess, _, ok := s.lookupSession(w, r)
	if !ok {
		return
	}

	sess.mu.Lock()
	rooms := sess.game.Chat().Rooms()
	unread := sess.game.Chat().TotalUnread()
	sess.mu.Unlock()

	writeJSON(w, http.StatusOK, Response{
		Success: true,
		Data: map[string]interface{}{
			"rooms":        rooms,
			"total_unread": unread,
		},
	})
}

// getChatRoom returns one room with its sessions.
func (s *Server) getChatRoom(w http.ResponseWriter, r *http.Request) {
	sess, _, ok := s.lookupSession(w, r)
	if !ok {
		return
	}

	roomID := chi.URLParam(r, "room")
	if err := validation.ValidateRoomID(roomID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	sess.mu.Lock()
	room, found := sess.game.Chat().Room(roomID)
	sessions := sess.game.Chat().SessionsForRoom(roomID)
	sess.mu.Unlock()

	if !found {
		writeError(w, http.StatusNotFound, "Room not found")
		return
	}
	writeJSON(w, http.StatusOK, Response{
		Success: true,
		Data: map[string]interface{}{
			"room":     room,
			"sessions": sessions,
		},
	})
}

// debugSkip skips the current event without a penalty.
func (s *Server) debugSkip(w http.ResponseWriter, r *http.Request) {
	sess, _, ok := s.lookupSession(w, r)
	if !ok {
		return
	}

	sess.mu.Lock()
	sess.game.Flow().DebugSkip()
	status := sess.game.Status()
	sess.mu.Unlock()

	writeJSON(w, http.StatusOK, Response{
		Success: true,
		Data:    status,
	})
}

// debugJump repositions the flow pointer.
func (s *Server) debugJump(w http.ResponseWriter, r *http.Request) {
	sess, _, ok := s.lookupSession(w, r)
	if !ok {
		return
	}

	var req struct {
		Day  int `json:"day"`
		Step int `json:"step"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := validation.ValidateDay(req.Day); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid day")
		return
	}
	if err := validation.ValidateStep(req.Step); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid step")
		return
	}

	sess.mu.Lock()
	sess.game.Flow().DebugJump(req.Day, req.Step)
	status := sess.game.Status()
	sess.mu.Unlock()

	writeJSON(w, http.StatusOK, Response{
		Success: true,
		Data:    status,
	})
}

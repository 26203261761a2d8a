// Package db persists playthroughs in sqlite: flow progress, the
// messenger snapshot, scene handoff flags and ownership.
package db

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"

	_ "github.com/mattn/go-sqlite3"

	"github.com/schoolday-dev/schoolday/internal/chat"
	"github.com/schoolday-dev/schoolday/internal/flow"
)

// ErrNotFound is returned when a game id has no row.
var ErrNotFound = sql.ErrNoRows

// DB wraps the sqlite connection.
type DB struct {
	conn *sql.DB
	mu   sync.RWMutex
}

// NewDB opens (or creates) the database and runs migrations. Use
// ":memory:" for a throwaway store.
func NewDB(dbPath string) (*DB, error) {
	conn, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}
	if err := conn.Ping(); err != nil {
		return nil, err
	}

	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		return nil, err
	}
	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// migrate runs database migrations
func (db *DB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS games (
		id TEXT PRIMARY KEY,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS flow_states (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		game_id TEXT NOT NULL,
		day INTEGER NOT NULL,
		step_index INTEGER NOT NULL,
		penalty_points INTEGER NOT NULL,
		penalty_threshold INTEGER NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (game_id) REFERENCES games(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS chat_saves (
		game_id TEXT PRIMARY KEY,
		data_json TEXT NOT NULL,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (game_id) REFERENCES games(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS flags (
		game_id TEXT NOT NULL,
		key TEXT NOT NULL,
		value TEXT NOT NULL,
		PRIMARY KEY (game_id, key),
		FOREIGN KEY (game_id) REFERENCES games(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS game_ownership (
		game_id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (game_id) REFERENCES games(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_flow_states_game_id ON flow_states(game_id);
	CREATE INDEX IF NOT EXISTS idx_game_ownership_user_id ON game_ownership(user_id);
	`

	_, err := db.conn.Exec(schema)
	return err
}

// CreateGame registers a game id.
func (db *DB) CreateGame(gameID string) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	_, err := db.conn.Exec(`
		INSERT INTO games (id) VALUES (?)
		ON CONFLICT(id) DO UPDATE SET updated_at = CURRENT_TIMESTAMP
	`, gameID)
	return err
}

// GameExists reports whether a game id is registered.
func (db *DB) GameExists(gameID string) (bool, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	var one int
	err := db.conn.QueryRow("SELECT 1 FROM games WHERE id = ?", gameID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// GetGameList returns all game IDs, most recently updated first.
func (db *DB) GetGameList() ([]string, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	rows, err := db.conn.Query("SELECT id FROM games ORDER BY updated_at DESC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var gameIDs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		gameIDs = append(gameIDs, id)
	}
	return gameIDs, rows.Err()
}

// DeleteGame deletes a game and all its data.
func (db *DB) DeleteGame(gameID string) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	_, err := db.conn.Exec("DELETE FROM games WHERE id = ?", gameID)
	return err
}

// SaveGameOwnership records which user owns a game.
func (db *DB) SaveGameOwnership(gameID, userID string) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	_, err := db.conn.Exec(`
		INSERT OR REPLACE INTO game_ownership (game_id, user_id)
		VALUES (?, ?)
	`, gameID, userID)
	return err
}

// GetGameOwner returns the owner of a game.
func (db *DB) GetGameOwner(gameID string) (string, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	var userID string
	err := db.conn.QueryRow(`
		SELECT user_id FROM game_ownership WHERE game_id = ?
	`, gameID).Scan(&userID)
	if err != nil {
		return "", err
	}
	return userID, nil
}

// IsGameOwner checks if user owns the game.
func (db *DB) IsGameOwner(gameID, userID string) (bool, error) {
	owner, err := db.GetGameOwner(gameID)
	if err != nil {
		return false, err
	}
	return owner == userID, nil
}

// GetUserGames returns all games owned by a user.
func (db *DB) GetUserGames(userID string) ([]string, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	rows, err := db.conn.Query(`
		SELECT game_id FROM game_ownership WHERE user_id = ? ORDER BY created_at DESC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var gameIDs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		gameIDs = append(gameIDs, id)
	}
	return gameIDs, rows.Err()
}

// SaveFlowState appends a flow progress row; loading takes the latest.
func (db *DB) SaveFlowState(gameID string, state flow.State) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	tx, err := db.conn.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		UPDATE games SET updated_at = CURRENT_TIMESTAMP WHERE id = ?
	`, gameID)
	if err != nil {
		return err
	}

	_, err = tx.Exec(`
		INSERT INTO flow_states (game_id, day, step_index, penalty_points, penalty_threshold)
		VALUES (?, ?, ?, ?, ?)
	`, gameID, state.Day, state.StepIndex, state.PenaltyPoints, state.PenaltyThreshold)
	if err != nil {
		return err
	}

	return tx.Commit()
}

// LoadFlowState returns the latest flow progress for a game. The bool
// is false when the game has never been saved.
func (db *DB) LoadFlowState(gameID string) (flow.State, bool, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	var state flow.State
	err := db.conn.QueryRow(`
		SELECT day, step_index, penalty_points, penalty_threshold
		FROM flow_states
		WHERE game_id = ?
		ORDER BY id DESC
		LIMIT 1
	`, gameID).Scan(&state.Day, &state.StepIndex, &state.PenaltyPoints, &state.PenaltyThreshold)
	if err == sql.ErrNoRows {
		return flow.State{}, false, nil
	}
	if err != nil {
		return flow.State{}, false, err
	}
	return state, true, nil
}

// SaveChatState upserts the messenger snapshot as JSON.
func (db *DB) SaveChatState(gameID string, data chat.SaveData) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	blob, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal chat state: %w", err)
	}

	_, err = db.conn.Exec(`
		INSERT INTO chat_saves (game_id, data_json, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(game_id) DO UPDATE SET
			data_json = excluded.data_json,
			updated_at = CURRENT_TIMESTAMP
	`, gameID, string(blob))
	return err
}

// LoadChatState returns the messenger snapshot for a game.
func (db *DB) LoadChatState(gameID string) (chat.SaveData, bool, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	var blob string
	err := db.conn.QueryRow(`
		SELECT data_json FROM chat_saves WHERE game_id = ?
	`, gameID).Scan(&blob)
	if err == sql.ErrNoRows {
		return chat.SaveData{}, false, nil
	}
	if err != nil {
		return chat.SaveData{}, false, err
	}

	var data chat.SaveData
	if err := json.Unmarshal([]byte(blob), &data); err != nil {
		return chat.SaveData{}, false, fmt.Errorf("unmarshal chat state: %w", err)
	}
	return data, true, nil
}

// SetFlag upserts a scene handoff flag.
func (db *DB) SetFlag(gameID, key, value string) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	_, err := db.conn.Exec(`
		INSERT INTO flags (game_id, key, value)
		VALUES (?, ?, ?)
		ON CONFLICT(game_id, key) DO UPDATE SET value = excluded.value
	`, gameID, key, value)
	return err
}

// GetFlag returns a flag's value, empty when unset.
func (db *DB) GetFlag(gameID, key string) (string, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	var value string
	err := db.conn.QueryRow(`
		SELECT value FROM flags WHERE game_id = ? AND key = ?
	`, gameID, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return value, nil
}

// GameStore scopes the database to one game id, satisfying the
// engine's persistence interfaces.
type GameStore struct {
	db     *DB
	gameID string
}

// StoreFor returns a per-game store.
func (db *DB) StoreFor(gameID string) *GameStore {
	return &GameStore{db: db, gameID: gameID}
}

// SaveProgress implements flow.Store.
func (s *GameStore) SaveProgress(state flow.State) error {
	return s.db.SaveFlowState(s.gameID, state)
}

// LoadProgress implements flow.Store.
func (s *GameStore) LoadProgress() (flow.State, bool, error) {
	return s.db.LoadFlowState(s.gameID)
}

// SetFlag implements flow.Store.
func (s *GameStore) SetFlag(key, value string) error {
	return s.db.SetFlag(s.gameID, key, value)
}

// Flag implements flow.Store.
func (s *GameStore) Flag(key string) (string, error) {
	return s.db.GetFlag(s.gameID, key)
}

// SaveChat implements chat.Store.
func (s *GameStore) SaveChat(data chat.SaveData) error {
	return s.db.SaveChatState(s.gameID, data)
}

// LoadChat implements chat.Store.
func (s *GameStore) LoadChat() (chat.SaveData, bool, error) {
	return s.db.LoadChatState(s.gameID)
}

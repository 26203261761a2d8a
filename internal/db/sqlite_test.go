package db

import (
	"testing"

	"github.com/schoolday-dev/schoolday/internal/chat"
	"github.com/schoolday-dev/schoolday/internal/flow"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	db, err := NewDB(":memory:")
	if err != nil {
		t.Fatalf("NewDB: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// TestCreateAndListGames tests game registration.
func TestCreateAndListGames(t *testing.T) {
	db := testDB(t)

	if err := db.CreateGame("g1"); err != nil {
		t.Fatalf("CreateGame: %v", err)
	}
	if err := db.CreateGame("g2"); err != nil {
		t.Fatalf("CreateGame: %v", err)
	}

	exists, err := db.GameExists("g1")
	if err != nil || !exists {
		t.Errorf("Expected g1 to exist, got %v %v", exists, err)
	}
	exists, _ = db.GameExists("nope")
	if exists {
		t.Error("Expected missing game to not exist")
	}

	ids, err := db.GetGameList()
	if err != nil {
		t.Fatalf("GetGameList: %v", err)
	}
	if len(ids) != 2 {
		t.Errorf("Expected 2 games, got %d", len(ids))
	}
}

// TestFlowStateLatestWins tests that loads see the newest save.
func TestFlowStateLatestWins(t *testing.T) {
	db := testDB(t)
	db.CreateGame("g1")

	first := flow.State{Day: 1, StepIndex: 2, PenaltyPoints: 0, PenaltyThreshold: 3}
	second := flow.State{Day: 2, StepIndex: 5, PenaltyPoints: 1, PenaltyThreshold: 3}
	if err := db.SaveFlowState("g1", first); err != nil {
		t.Fatalf("SaveFlowState: %v", err)
	}
	if err := db.SaveFlowState("g1", second); err != nil {
		t.Fatalf("SaveFlowState: %v", err)
	}

	got, ok, err := db.LoadFlowState("g1")
	if err != nil || !ok {
		t.Fatalf("LoadFlowState: %v %v", ok, err)
	}
	if got != second {
		t.Errorf("Expected latest state %+v, got %+v", second, got)
	}
}

// TestLoadFlowStateMissing tests the never-saved case.
func TestLoadFlowStateMissing(t *testing.T) {
	db := testDB(t)
	db.CreateGame("g1")

	_, ok, err := db.LoadFlowState("g1")
	if err != nil {
		t.Fatalf("LoadFlowState: %v", err)
	}
	if ok {
		t.Error("Expected no saved state")
	}
}

// TestChatStateRoundTrip tests the JSON snapshot upsert.
func TestChatStateRoundTrip(t *testing.T) {
	db := testDB(t)
	db.CreateGame("g1")

	data := chat.SaveData{
		Rooms: []chat.RoomState{{RoomID: "R", UnreadCount: 2}},
		Sessions: []chat.SessionState{
			{ConversationID: "C", RoomID: "R", Priority: 1, Activated: true},
		},
		ActiveID: "C",
	}
	if err := db.SaveChatState("g1", data); err != nil {
		t.Fatalf("SaveChatState: %v", err)
	}

	// Overwrite with a newer snapshot.
	data.Rooms[0].UnreadCount = 0
	if err := db.SaveChatState("g1", data); err != nil {
		t.Fatalf("SaveChatState: %v", err)
	}

	got, ok, err := db.LoadChatState("g1")
	if err != nil || !ok {
		t.Fatalf("LoadChatState: %v %v", ok, err)
	}
	if got.ActiveID != "C" || len(got.Rooms) != 1 || got.Rooms[0].UnreadCount != 0 {
		t.Errorf("Unexpected loaded snapshot: %+v", got)
	}
}

// TestFlags tests flag upsert and missing-key default.
func TestFlags(t *testing.T) {
	db := testDB(t)
	db.CreateGame("g1")

	if err := db.SetFlag("g1", "FLOW_ID", "D1_OPEN"); err != nil {
		t.Fatalf("SetFlag: %v", err)
	}
	if err := db.SetFlag("g1", "FLOW_ID", "D1_NEXT"); err != nil {
		t.Fatalf("SetFlag: %v", err)
	}

	got, err := db.GetFlag("g1", "FLOW_ID")
	if err != nil {
		t.Fatalf("GetFlag: %v", err)
	}
	if got != "D1_NEXT" {
		t.Errorf("Expected D1_NEXT, got %q", got)
	}

	got, err = db.GetFlag("g1", "MISSING")
	if err != nil || got != "" {
		t.Errorf("Expected empty for missing flag, got %q %v", got, err)
	}
}

// TestOwnership tests the owner bookkeeping.
func TestOwnership(t *testing.T) {
	db := testDB(t)
	db.CreateGame("g1")
	db.CreateGame("g2")

	db.SaveGameOwnership("g1", "alice")
	db.SaveGameOwnership("g2", "alice")

	ok, err := db.IsGameOwner("g1", "alice")
	if err != nil || !ok {
		t.Errorf("Expected alice to own g1, got %v %v", ok, err)
	}
	ok, _ = db.IsGameOwner("g1", "bob")
	if ok {
		t.Error("Expected bob to not own g1")
	}

	games, err := db.GetUserGames("alice")
	if err != nil {
		t.Fatalf("GetUserGames: %v", err)
	}
	if len(games) != 2 {
		t.Errorf("Expected 2 games for alice, got %d", len(games))
	}
}

// TestGameStoreScoping tests that per-game stores do not leak across
// ids.
func TestGameStoreScoping(t *testing.T) {
	db := testDB(t)
	db.CreateGame("g1")
	db.CreateGame("g2")

	s1 := db.StoreFor("g1")
	s2 := db.StoreFor("g2")

	s1.SaveProgress(flow.State{Day: 3, PenaltyThreshold: 3})
	s2.SaveProgress(flow.State{Day: 5, PenaltyThreshold: 3})
	s1.SetFlag("FLOW_ID", "A")
	s2.SetFlag("FLOW_ID", "B")

	st, ok, err := s1.LoadProgress()
	if err != nil || !ok || st.Day != 3 {
		t.Errorf("Unexpected g1 progress: %+v %v %v", st, ok, err)
	}
	flag, _ := s2.Flag("FLOW_ID")
	if flag != "B" {
		t.Errorf("Expected B, got %q", flag)
	}
}

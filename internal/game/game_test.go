package game

import (
	"strings"
	"testing"

	"github.com/schoolday-dev/schoolday/internal/chat"
	"github.com/schoolday-dev/schoolday/internal/flow"
	"github.com/schoolday-dev/schoolday/internal/locale"
	"github.com/schoolday-dev/schoolday/internal/minigame"
	"github.com/schoolday-dev/schoolday/internal/sched"
)

type memGameStore struct {
	progress    flow.State
	hasProgress bool
	chatData    chat.SaveData
	hasChat     bool
	flags       map[string]string
}

func newMemGameStore() *memGameStore {
	return &memGameStore{flags: make(map[string]string)}
}

func (s *memGameStore) SaveProgress(st flow.State) error {
	s.progress = st
	s.hasProgress = true
	return nil
}

func (s *memGameStore) LoadProgress() (flow.State, bool, error) {
	return s.progress, s.hasProgress, nil
}

func (s *memGameStore) SetFlag(key, value string) error {
	s.flags[key] = value
	return nil
}

func (s *memGameStore) Flag(key string) (string, error) {
	return s.flags[key], nil
}

func (s *memGameStore) SaveChat(data chat.SaveData) error {
	s.chatData = data
	s.hasChat = true
	return nil
}

func (s *memGameStore) LoadChat() (chat.SaveData, bool, error) {
	return s.chatData, s.hasChat, nil
}

const testLocalization = `ID,KOR,ENG
NAME_MOM,엄마,Mom
NAME_MINJI,민지,Minji
LINE_MOM_1,일어나,Wake up
LINE_MOM_2,지각하겠다,You will be late
LINE_OPEN_1,수업 시작,Class begins
LINE_MINJI_1,같이 먹자,Eat with me
`

const testConversations = `Conversation_ID,Order,Speaker_ID,Line_ID,Anim,Sfx,Choices
D1_MOM_CHAT,1,NAME_MOM,LINE_MOM_1,,,
D1_MOM_CHAT,2,NAME_MOM,LINE_MOM_2,,,
DAY1_CLASSOPEN,1,NAME_MOM,LINE_OPEN_1,,,
D1_FREEROAM_MINJI,1,NAME_MINJI,LINE_MINJI_1,,,
`

const testSegments = `Day,State,Room_ID,Conversation_ID,Priority,Notify
1,Subway,ROOM_MOM,D1_MOM_CHAT,1,true
`

func testLocale(t *testing.T) *locale.Manager {
	t.Helper()
	loc := locale.NewManager()
	if err := loc.LoadLocalization(strings.NewReader(testLocalization)); err != nil {
		t.Fatalf("LoadLocalization: %v", err)
	}
	if err := loc.LoadConversations(strings.NewReader(testConversations)); err != nil {
		t.Fatalf("LoadConversations: %v", err)
	}
	if err := loc.LoadChatSegments(strings.NewReader(testSegments)); err != nil {
		t.Fatalf("LoadChatSegments: %v", err)
	}
	return loc
}

func newTestGame(t *testing.T) (*Game, *memGameStore) {
	t.Helper()
	store := newMemGameStore()
	g := NewGame("test", nil, testLocale(t), nil, store)
	return g, store
}

func stepN(g *Game, n int, dt float64) {
	for i := 0; i < n; i++ {
		g.Step(dt)
	}
}

// playOpenDialogue drives the active dialogue to its end.
func playOpenDialogue(t *testing.T, g *Game) {
	t.Helper()
	for i := 0; i < 200 && g.Dialogue().Active(); i++ {
		g.Step(0.05)
		if g.Dialogue().Active() && !g.Dialogue().AwaitingChoice() {
			g.Dialogue().Advance()
		}
	}
	if g.Dialogue().Active() {
		t.Fatal("dialogue did not finish")
	}
}

// TestStartEntersSubway tests the first timeline event.
func TestStartEntersSubway(t *testing.T) {
	g, store := newTestGame(t)
	g.Start()

	if g.State() != StateSubway {
		t.Errorf("Expected Subway state, got %q", g.State())
	}
	scene, _ := g.Scene()
	if scene != "CHAT" {
		t.Errorf("Expected CHAT scene, got %q", scene)
	}
	if store.flags[flow.FlagFlowType] != "CHAT" {
		t.Errorf("Expected FLOW_TYPE flag, got %q", store.flags[flow.FlagFlowType])
	}
	if g.Chat().TotalUnread() != 1 {
		t.Errorf("Expected 1 unread from segment notify, got %d", g.Chat().TotalUnread())
	}
}

// TestSubwayGateBlocksWithPendingChats tests the exit gate.
func TestSubwayGateBlocksWithPendingChats(t *testing.T) {
	g, _ := newTestGame(t)
	g.Start()

	if err := g.HandleInput(Input{Kind: InputLeave}); err == nil {
		t.Fatal("Expected leave refused with pending chats")
	}
}

// TestSubwayChatThenLeaveWithSurvey tests the clean morning: read the
// chat, file the survey, leave with no penalty.
func TestSubwayChatThenLeaveWithSurvey(t *testing.T) {
	g, _ := newTestGame(t)
	g.Start()

	if err := g.HandleInput(Input{Kind: InputTapChat, Arg: "ROOM_MOM"}); err != nil {
		t.Fatalf("tap_chat: %v", err)
	}
	playOpenDialogue(t, g)

	sess, _ := g.Chat().Session("D1_MOM_CHAT")
	if !sess.Completed {
		t.Fatal("Expected chat session completed")
	}
	if g.Chat().TotalUnread() != 0 {
		t.Errorf("Expected no unread after reading, got %d", g.Chat().TotalUnread())
	}

	if err := g.HandleInput(Input{Kind: InputHealthSurvey}); err != nil {
		t.Fatalf("health_survey: %v", err)
	}
	if err := g.HandleInput(Input{Kind: InputLeave}); err != nil {
		t.Fatalf("leave: %v", err)
	}
	g.Step(0.016)

	st := g.Flow().Snapshot()
	if st.PenaltyPoints != 0 {
		t.Errorf("Expected no penalty, got %d", st.PenaltyPoints)
	}
	scene, _ := g.Scene()
	if scene != "FREEROAM" {
		t.Errorf("Expected FREEROAM next, got %q", scene)
	}
	if g.State() != StateLunchFreeTime {
		t.Errorf("Expected free-roam state, got %q", g.State())
	}
}

// TestSubwayLeaveWithoutSurveyPenalty tests the tardiness penalty.
func TestSubwayLeaveWithoutSurveyPenalty(t *testing.T) {
	g, _ := newTestGame(t)
	g.Start()

	g.HandleInput(Input{Kind: InputTapChat, Arg: "ROOM_MOM"})
	playOpenDialogue(t, g)

	if err := g.HandleInput(Input{Kind: InputLeave}); err != nil {
		t.Fatalf("leave: %v", err)
	}
	g.Step(0.016)

	if got := g.Flow().Snapshot().PenaltyPoints; got != 1 {
		t.Errorf("Expected 1 penalty point, got %d", got)
	}
}

// TestStoryWithConversationPlaysDialogue tests the story scene path
// and that a story event with no conversation completes itself.
func TestStoryWithConversationPlaysDialogue(t *testing.T) {
	g, _ := newTestGame(t)
	g.Start()

	// Clear the subway and free roam to reach DAY1_CLASSOPEN.
	g.HandleInput(Input{Kind: InputTapChat, Arg: "ROOM_MOM"})
	playOpenDialogue(t, g)
	g.HandleInput(Input{Kind: InputHealthSurvey})
	g.HandleInput(Input{Kind: InputLeave})
	g.Step(0.016)
	g.HandleInput(Input{Kind: InputLeave})
	g.Step(0.016)

	scene, flowID := g.Scene()
	if scene != "STORY" || flowID != "DAY1_CLASSOPEN" {
		t.Fatalf("Expected DAY1_CLASSOPEN story, got %s %s", scene, flowID)
	}
	stepN(g, 2, 0.05)
	if !g.Dialogue().Active() {
		t.Fatal("Expected class-open dialogue running")
	}
	if g.MovementEnabled() {
		t.Error("Expected movement blocked during dialogue")
	}
	playOpenDialogue(t, g)
	g.Step(0.016)

	// D1_CLASS1_START has no conversation in the test data, so it and
	// every later story event complete themselves; the flow lands on
	// the lunch tetris minigame once its stub finishes.
	stepN(g, 10, 0.05)
	st := g.Flow().Snapshot()
	if st.StepIndex <= 3 {
		t.Errorf("Expected flow past the missing-content events, got step %d", st.StepIndex)
	}
}

// TestMinigameLossAddsPenalty tests the minigame penalty path.
func TestMinigameLossAddsPenalty(t *testing.T) {
	store := newMemGameStore()
	loc := testLocale(t)
	g := NewGame("test", nil, loc, nil, store)

	g.games.Register("LUNCH_", &failingGame{})

	g.Flow().DebugJump(1, 6) // LUNCH_Tetris1
	stepN(g, 3, 0.05)

	if got := g.Flow().Snapshot().PenaltyPoints; got != 1 {
		t.Errorf("Expected 1 penalty from lost minigame, got %d", got)
	}
}

// TestCompleteSceneExternal tests the host callback for minigames
// running outside the engine.
func TestCompleteSceneExternal(t *testing.T) {
	g, _ := newTestGame(t)

	g.Flow().DebugJump(1, 6) // LUNCH_Tetris1
	if err := g.CompleteScene(2); err != nil {
		t.Fatalf("CompleteScene: %v", err)
	}
	g.Step(0)

	snap := g.Flow().Snapshot()
	if snap.PenaltyPoints != 2 {
		t.Errorf("Expected 2 penalty points, got %d", snap.PenaltyPoints)
	}
	if snap.StepIndex != 7 {
		t.Errorf("Expected step 7 after completion, got %d", snap.StepIndex)
	}
}

// TestCompleteSceneRejectedOutsideMinigame tests the scene guard.
func TestCompleteSceneRejectedOutsideMinigame(t *testing.T) {
	g, _ := newTestGame(t)
	g.Start() // CHAT scene

	if err := g.CompleteScene(0); err == nil {
		t.Error("Expected error completing a chat scene externally")
	}
}

// TestChatResumesAtSavedLine tests that a chat left mid-conversation
// picks up at its progress cursor after a reload.
func TestChatResumesAtSavedLine(t *testing.T) {
	g, store := newTestGame(t)
	g.Start()

	g.HandleInput(Input{Kind: InputTapChat, Arg: "ROOM_MOM"})
	g.Step(0.05) // first line begins
	g.HandleInput(Input{Kind: InputAdvance})

	sess, _ := g.Chat().Session("D1_MOM_CHAT")
	if sess.ProgressIndex != 1 {
		t.Fatalf("Expected progress cursor 1 after first line, got %d", sess.ProgressIndex)
	}
	if err := g.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}

	restored := NewGame("test", nil, testLocale(t), nil, store)
	if err := restored.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	sess, ok := restored.Chat().Session("D1_MOM_CHAT")
	if !ok || sess.ProgressIndex != 1 || sess.Completed {
		t.Fatalf("Unexpected restored session: %+v", sess)
	}

	if err := restored.HandleInput(Input{Kind: InputTapChat, Arg: "ROOM_MOM"}); err != nil {
		t.Fatalf("tap_chat after reload: %v", err)
	}
	// Advancing mid-typing completes the reveal; as this is the last
	// line, the dialogue and the session end with it.
	restored.Step(0.05)
	restored.HandleInput(Input{Kind: InputAdvance})
	if got := restored.Dialogue().DisplayedText(); got != "지각하겠다" {
		t.Errorf("Expected resume on the second line, got %q", got)
	}
	sess, _ = restored.Chat().Session("D1_MOM_CHAT")
	if !sess.Completed {
		t.Error("Expected session completed after its last line")
	}
}

// TestFreeRoamTalkDialogue tests NPC conversations triggered during
// free roam: they run and end without touching the flow.
func TestFreeRoamTalkDialogue(t *testing.T) {
	g, _ := newTestGame(t)
	g.Start()

	if err := g.HandleInput(Input{Kind: InputTalk, Arg: "D1_FREEROAM_MINJI"}); err == nil {
		t.Fatal("Expected talk refused on the subway")
	}

	// Clear the subway to reach free roam.
	g.HandleInput(Input{Kind: InputTapChat, Arg: "ROOM_MOM"})
	playOpenDialogue(t, g)
	g.HandleInput(Input{Kind: InputHealthSurvey})
	g.HandleInput(Input{Kind: InputLeave})
	g.Step(0.016)

	before := g.Flow().Snapshot().StepIndex
	if err := g.HandleInput(Input{Kind: InputTalk, Arg: "D1_FREEROAM_MINJI"}); err != nil {
		t.Fatalf("talk: %v", err)
	}
	g.Step(0.05)
	if !g.Dialogue().Active() {
		t.Fatal("Expected free-roam dialogue running")
	}
	if err := g.HandleInput(Input{Kind: InputLeave}); err == nil {
		t.Error("Expected leave refused mid-conversation")
	}

	playOpenDialogue(t, g)
	g.Step(0.016)
	if got := g.Flow().Snapshot().StepIndex; got != before {
		t.Errorf("Expected flow untouched by the conversation, got step %d", got)
	}

	if err := g.HandleInput(Input{Kind: InputLeave}); err != nil {
		t.Fatalf("leave: %v", err)
	}
	g.Step(0.016)
	if got := g.Flow().Snapshot().StepIndex; got != before+1 {
		t.Errorf("Expected leave to complete the event, got step %d", got)
	}

	if err := g.HandleInput(Input{Kind: InputTalk, Arg: "NOT_A_CONVO"}); err == nil {
		t.Error("Expected error for missing conversation")
	}
}

// TestHostedMinigameWaitsForExternalReport tests that hosted games
// never complete by stepping alone.
func TestHostedMinigameWaitsForExternalReport(t *testing.T) {
	store := newMemGameStore()
	g := NewGame("test", nil, testLocale(t), minigame.HostedRegistry(), store)

	g.Flow().DebugJump(1, 6) // LUNCH_Tetris1
	stepN(g, 20, 0.05)

	if got := g.Flow().Snapshot().StepIndex; got != 6 {
		t.Fatalf("Expected hosted minigame still pending, got step %d", got)
	}
	if err := g.CompleteScene(0); err != nil {
		t.Fatalf("CompleteScene: %v", err)
	}
	g.Step(0)
	if got := g.Flow().Snapshot().StepIndex; got != 7 {
		t.Errorf("Expected step 7 after host report, got %d", got)
	}
}

type failingGame struct{}

func (f *failingGame) Name() string { return "always-lose" }

func (f *failingGame) Play(t *sched.Task, flowID string) (bool, error) {
	_, err := t.WaitFrame()
	return false, err
}

// TestDayExhaustionAndAdvance tests halting at day end and moving on.
func TestDayExhaustionAndAdvance(t *testing.T) {
	g, _ := newTestGame(t)
	g.Start()

	if g.AdvanceDay() {
		t.Error("Expected advance refused while events remain")
	}

	// Jump to the last event of day 1 and complete it.
	g.Flow().DebugJump(1, 14)
	g.Flow().CompleteCurrentEvent(0)

	if !g.Flow().Halted() {
		t.Fatal("Expected flow halted at day end")
	}
	if !g.AdvanceDay() {
		t.Fatal("Expected day advance")
	}
	if got := g.Flow().Snapshot().Day; got != 2 {
		t.Errorf("Expected day 2, got %d", got)
	}
}

// TestSaveLoadRoundTrip tests persistence through the store.
func TestSaveLoadRoundTrip(t *testing.T) {
	store := newMemGameStore()
	loc := testLocale(t)
	g := NewGame("a", nil, loc, nil, store)
	g.Start()
	g.Flow().DebugJump(2, 3)
	if err := g.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}

	restored := NewGame("a", nil, loc, nil, store)
	if err := restored.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	st := restored.Flow().Snapshot()
	if st.Day != 2 || st.StepIndex != 3 {
		t.Errorf("Unexpected restored state: %+v", st)
	}
}

// TestStatusSnapshot tests the client-facing view.
func TestStatusSnapshot(t *testing.T) {
	g, _ := newTestGame(t)
	g.Start()

	st := g.Status()
	if st.ID != "test" || st.Day != 1 || st.Scene != "CHAT" {
		t.Errorf("Unexpected status: %+v", st)
	}
	if st.UnreadTotal != 1 || len(st.Rooms) != 1 {
		t.Errorf("Expected room badge in status, got %+v", st)
	}
	if st.MovementEnabled {
		t.Error("Expected no movement in the subway")
	}
}

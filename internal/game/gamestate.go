package game

// GameState is the high-level mode the player is in. It decides
// movement and which systems are live, and chat segments key on it.
type GameState string

const (
	// Shared across all days.
	StateSubway          GameState = "Subway"
	StateMorningSlippers GameState = "Morning_Slippers"
	StateMorningAssembly GameState = "Morning_Assembly"

	// Weekday routine.
	StateClassIntro1     GameState = "Class_Intro_1"
	StateClassMinigame1  GameState = "Class_Minigame_1"
	StateClassOutro1     GameState = "Class_Outro_1"
	StateLunchRun        GameState = "Lunch_Run"
	StateLunchTetris     GameState = "Lunch_Tetris"
	StateLunchFreeTime   GameState = "Lunch_FreeTime"
	StateClassIntro2     GameState = "Class_Intro_2"
	StateClassMinigame2  GameState = "Class_Minigame_2"
	StateClassOutro2     GameState = "Class_Outro_2"
	StateClosingAssembly GameState = "Closing_Assembly"
	StateAfterSchool     GameState = "AfterSchool"
	StateGoHome          GameState = "GoHome"

	// Final day.
	StateDay5BigCleaning     GameState = "Day5_BigCleaning"
	StateDay5LockerCleaning  GameState = "Day5_LockerCleaning"
	StateDay5BagPacking      GameState = "Day5_BagPacking"
	StateDay5FreeTime        GameState = "Day5_FreeTime"
	StateDay5ClosingAssembly GameState = "Day5_ClosingAssembly"
	StateDay5LunchChoice     GameState = "Day5_LunchChoice"
	StateDay5EndingCredits   GameState = "Day5_EndingCredits"
)

// movementStates are the states where the player walks freely.
var movementStates = map[GameState]bool{
	StateMorningSlippers: true,
	StateLunchFreeTime:   true,
	StateDay5FreeTime:    true,
}

// AllowsMovement reports whether the player controller is enabled in
// this state.
func (s GameState) AllowsMovement() bool {
	return movementStates[s]
}

// stateForScene maps a loaded scene kind to the state it forces.
// Story and minigame scenes keep whatever state is already set.
func stateForScene(scene string) (GameState, bool) {
	switch scene {
	case "CHAT":
		return StateSubway, true
	case "FREEROAM":
		return StateLunchFreeTime, true
	}
	return "", false
}

// Package flow drives the day timeline: an ordered list of scene events
// per in-game day, with data-driven conditions deciding which events
// actually run.
package flow

import (
	"fmt"
	"io"
	"os"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"gopkg.in/yaml.v3"
)

// EventType names the scene family an event hands control to.
type EventType string

const (
	EventChat     EventType = "CHAT"
	EventFreeRoam EventType = "FREEROAM"
	EventStory    EventType = "STORY"
	EventMinigame EventType = "MINIGAME"
)

// Event is one timeline entry. Condition, when set, is an expression
// over the flow state; an event whose condition is false gets skipped.
type Event struct {
	Type      EventType `yaml:"type" json:"type"`
	ID        string    `yaml:"id" json:"id"`
	Note      string    `yaml:"note,omitempty" json:"note,omitempty"`
	Condition string    `yaml:"condition,omitempty" json:"condition,omitempty"`

	program *vm.Program
}

// compile pre-compiles the condition expression.
func (e *Event) compile() error {
	if e.Condition == "" {
		return nil
	}
	program, err := expr.Compile(e.Condition)
	if err != nil {
		return fmt.Errorf("invalid condition %q: %w", e.Condition, err)
	}
	e.program = program
	return nil
}

// Timeline maps a day number to its ordered events.
type Timeline map[int][]*Event

// Compile pre-compiles every event condition in the timeline.
func (tl Timeline) Compile() error {
	for day, events := range tl {
		for i, ev := range events {
			if err := ev.compile(); err != nil {
				return fmt.Errorf("day %d event %d: %w", day, i, err)
			}
		}
	}
	return nil
}

// Days returns the highest day number present, zero when empty.
func (tl Timeline) Days() int {
	max := 0
	for day := range tl {
		if day > max {
			max = day
		}
	}
	return max
}

type timelineFile struct {
	Days []struct {
		Day    int      `yaml:"day"`
		Events []*Event `yaml:"events"`
	} `yaml:"days"`
}

// LoadTimeline parses a YAML timeline and compiles its conditions.
func LoadTimeline(r io.Reader) (Timeline, error) {
	var file timelineFile
	dec := yaml.NewDecoder(r)
	if err := dec.Decode(&file); err != nil {
		return nil, fmt.Errorf("parse timeline: %w", err)
	}

	tl := make(Timeline, len(file.Days))
	for _, d := range file.Days {
		if d.Day < 1 {
			return nil, fmt.Errorf("invalid day number %d", d.Day)
		}
		if _, dup := tl[d.Day]; dup {
			return nil, fmt.Errorf("duplicate day %d", d.Day)
		}
		tl[d.Day] = d.Events
	}
	if err := tl.Compile(); err != nil {
		return nil, err
	}
	return tl, nil
}

// LoadTimelineFile loads a timeline from disk.
func LoadTimelineFile(path string) (Timeline, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open timeline: %w", err)
	}
	defer f.Close()
	return LoadTimeline(f)
}

// cleaningCondition gates the after-school cleaning scene on the
// accumulated penalty points.
const cleaningCondition = "penalty_points >= penalty_threshold"

// DefaultTimeline builds the built-in five day schedule: four full
// school days and a short final day.
func DefaultTimeline() Timeline {
	tl := make(Timeline, 5)
	for day := 1; day <= 4; day++ {
		d := day
		tl[day] = []*Event{
			{Type: EventChat, ID: "", Note: "morning subway"},
			{Type: EventFreeRoam, ID: "", Note: "arrive at school"},
			{Type: EventStory, ID: fmt.Sprintf("DAY%d_CLASSOPEN", d)},
			{Type: EventStory, ID: fmt.Sprintf("D%d_CLASS1_START", d)},
			{Type: EventMinigame, ID: "", Note: "first class activity"},
			{Type: EventStory, ID: fmt.Sprintf("D%d_CLASS1_END", d)},
			{Type: EventMinigame, ID: fmt.Sprintf("LUNCH_Tetris%d", d)},
			{Type: EventFreeRoam, ID: fmt.Sprintf("D%d_LUNCH_FREEROAM", d)},
			{Type: EventStory, ID: fmt.Sprintf("D%d_CLASS2_START", d)},
			{Type: EventMinigame, ID: fmt.Sprintf("CLASS2_D%d", d)},
			{Type: EventStory, ID: fmt.Sprintf("D%d_CLASS2_END", d)},
			{Type: EventStory, ID: fmt.Sprintf("D%d_DISMISSAL", d)},
			{Type: EventStory, ID: fmt.Sprintf("D%d_AFTERSCHOOL", d)},
			{Type: EventStory, ID: fmt.Sprintf("D%d_CLEANING", d), Condition: cleaningCondition},
			{Type: EventChat, ID: fmt.Sprintf("D%d_CHAT_TO_HOME", d)},
		}
	}
	tl[5] = []*Event{
		{Type: EventChat, ID: "D5_CHAT_TO_SCHOOL"},
		{Type: EventFreeRoam, ID: "D5_BEFORE_ASSEMBLY"},
		{Type: EventStory, ID: "D5_ASSEMBLY"},
		{Type: EventMinigame, ID: "BIG_CLEANING_D5"},
		{Type: EventStory, ID: "D5_BIG_CLEANING_AFTER"},
		{Type: EventStory, ID: "D5_DISMISSAL"},
		{Type: EventStory, ID: "D5_LUNCH_WITH_FRIENDS"},
		{Type: EventChat, ID: "D5_CHAT_TO_HOME"},
	}
	if err := tl.Compile(); err != nil {
		// The built-in conditions are constants; a compile failure here
		// is a programming error.
		panic(err)
	}
	return tl
}

// Package minigame routes minigame events to their implementations by
// flow id prefix. The games themselves are opaque to the engine: they
// run on the scheduler and report success or failure.
package minigame

import (
	"log/slog"
	"strings"

	"github.com/schoolday-dev/schoolday/internal/sched"
)

// Minigame is one playable activity.
type Minigame interface {
	// Name identifies the game in logs and API payloads.
	Name() string
	// Play runs the game on the scheduler task and reports success.
	Play(t *sched.Task, flowID string) (bool, error)
}

// Registry maps flow id prefixes to games.
type Registry struct {
	prefixes []string
	games    map[string]Minigame
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{games: make(map[string]Minigame)}
}

// Register binds a flow id prefix to a game. Longer prefixes win when
// several match.
func (r *Registry) Register(prefix string, game Minigame) {
	if _, dup := r.games[prefix]; !dup {
		r.prefixes = append(r.prefixes, prefix)
	}
	r.games[prefix] = game
}

// Resolve returns the game for a flow id, or nil when no prefix
// matches.
func (r *Registry) Resolve(flowID string) Minigame {
	var best string
	for _, prefix := range r.prefixes {
		if strings.HasPrefix(flowID, prefix) && len(prefix) > len(best) {
			best = prefix
		}
	}
	if best == "" {
		return nil
	}
	return r.games[best]
}

// DefaultRegistry wires the shipped games under their schedule
// prefixes: tetris at lunch, pixel painting in class.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	tetris := &StubGame{GameName: "tetris"}
	paint := &StubGame{GameName: "pixel-paint"}
	r.Register("LUNCH_", tetris)
	r.Register("CLASS1_", paint)
	r.Register("CLASS2_", paint)
	r.Register("BIG_CLEANING_", &StubGame{GameName: "big-cleaning"})
	return r
}

// HostedRegistry wires every schedule prefix to hosted games: the
// engine idles while an external host runs the game and reports the
// outcome through the scene completion callback.
func HostedRegistry() *Registry {
	r := NewRegistry()
	r.Register("LUNCH_", &HostedGame{GameName: "tetris"})
	paint := &HostedGame{GameName: "pixel-paint"}
	r.Register("CLASS1_", paint)
	r.Register("CLASS2_", paint)
	r.Register("BIG_CLEANING_", &HostedGame{GameName: "big-cleaning"})
	return r
}

// HostedGame runs outside the engine. Play idles until the task is
// canceled, which happens when the host reports the outcome; the
// outcome itself arrives through that report, never from Play.
type HostedGame struct {
	GameName string
}

// Name implements Minigame.
func (g *HostedGame) Name() string {
	return g.GameName
}

// Play implements Minigame.
func (g *HostedGame) Play(t *sched.Task, flowID string) (bool, error) {
	slog.Info("hosted minigame started", "game", g.GameName, "id", flowID)
	for {
		if _, err := t.WaitFrame(); err != nil {
			return false, err
		}
	}
}

// StubGame is a placeholder implementation that finishes after one
// frame with a configurable outcome.
type StubGame struct {
	GameName string
	Fail     bool
}

// Name implements Minigame.
func (g *StubGame) Name() string {
	return g.GameName
}

// Play implements Minigame.
func (g *StubGame) Play(t *sched.Task, flowID string) (bool, error) {
	slog.Info("minigame started", "game", g.GameName, "id", flowID)
	if _, err := t.WaitFrame(); err != nil {
		return false, err
	}
	return !g.Fail, nil
}

package cutscene

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/schoolday-dev/schoolday/internal/sched"
	"github.com/schoolday-dev/schoolday/internal/script"
)

// minDuration guards interpolation against zero-length tweens.
const minDuration = 0.0001

// Runner executes the fixed command vocabulary embedded in dialogue
// lines. Commands run strictly left to right; each suspending command
// completes before the next starts.
type Runner struct {
	stage Stage
}

// NewRunner creates a runner bound to a stage.
func NewRunner(stage Stage) *Runner {
	return &Runner{stage: stage}
}

// Execute extracts every tag from raw and runs them in source order on
// the calling task. Unknown commands are ignored; a malformed tag is
// skipped with a warning so the sequence keeps moving. Only cancellation
// aborts the whole run.
func (r *Runner) Execute(t *sched.Task, raw string) error {
	for _, tag := range script.Extract(raw) {
		if err := r.run(t, tag); err != nil {
			if errors.Is(err, sched.ErrCanceled) {
				return err
			}
			slog.Warn("cutscene: tag skipped", "cmd", tag.Cmd, "args", tag.Args, "error", err)
		}
	}
	return nil
}

func (r *Runner) run(t *sched.Task, tag script.Tag) error {
	switch tag.Cmd {
	case "wait":
		// [wait:0.5]
		seconds, err := argF(tag.Args, 0)
		if err != nil {
			return err
		}
		return t.Sleep(seconds)

	case "anim":
		// [anim:SWORD,Stretch]
		if len(tag.Args) < 2 {
			return fmt.Errorf("anim wants 2 args, got %d", len(tag.Args))
		}
		actor, ok := r.stage.Character(tag.Args[0])
		if !ok {
			return fmt.Errorf("character not found: %s", tag.Args[0])
		}
		actor.Trigger(tag.Args[1])
		return nil

	case "move":
		// [move:PLAYER,3.2,1.0,0.6]
		if len(tag.Args) < 4 {
			return fmt.Errorf("move wants 4 args, got %d", len(tag.Args))
		}
		actor, ok := r.stage.Character(tag.Args[0])
		if !ok {
			return fmt.Errorf("character not found: %s", tag.Args[0])
		}
		x, err := argF(tag.Args, 1)
		if err != nil {
			return err
		}
		y, err := argF(tag.Args, 2)
		if err != nil {
			return err
		}
		dur, err := argF(tag.Args, 3)
		if err != nil {
			return err
		}
		return tween(t, actor, x, y, dur)

	case "door":
		// [door:ClassDoor,Close]
		if len(tag.Args) < 2 {
			return fmt.Errorf("door wants 2 args, got %d", len(tag.Args))
		}
		obj, ok := r.stage.Object(tag.Args[0])
		if !ok {
			// Reported but non-fatal: a missing door must not stall the scene.
			return fmt.Errorf("scene object not found: %s", tag.Args[0])
		}
		obj.Trigger(tag.Args[1])
		return nil

	case "pass":
		// [pass:Cat,-8,1,8,1,2.0]
		if len(tag.Args) < 6 {
			return fmt.Errorf("pass wants 6 args, got %d", len(tag.Args))
		}
		var v [5]float64
		for i := 0; i < 5; i++ {
			f, err := argF(tag.Args, i+1)
			if err != nil {
				return err
			}
			v[i] = f
		}
		ent, ok := r.stage.Spawn(tag.Args[0], v[0], v[1])
		if !ok {
			return fmt.Errorf("prefab not found: %s", tag.Args[0])
		}
		err := tween(t, ent, v[2], v[3], v[4])
		r.stage.Despawn(ent)
		return err

	case "sfx":
		// [sfx:door]
		if len(tag.Args) < 1 {
			return fmt.Errorf("sfx wants 1 arg, got %d", len(tag.Args))
		}
		if !r.stage.PlaySound(tag.Args[0]) {
			slog.Debug("cutscene: sfx clip missing", "clip", tag.Args[0])
		}
		return nil

	default:
		slog.Debug("cutscene: unknown command ignored", "cmd", tag.Cmd)
		return nil
	}
}

// tween linearly interpolates an actor to (x, y) over dur seconds of
// game time, suspending until arrival. Progress is normalized elapsed
// time clamped at completion.
func tween(t *sched.Task, actor Actor, x, y, dur float64) error {
	sx, sy := actor.Position()
	if dur < minDuration {
		dur = minDuration
	}

	progress := 0.0
	for progress < 1 {
		dt, err := t.WaitFrame()
		if err != nil {
			return err
		}
		progress += dt / dur
		if progress > 1 {
			progress = 1
		}
		actor.SetPosition(lerp(sx, x, progress), lerp(sy, y, progress))
	}
	return nil
}

func lerp(a, b, t float64) float64 {
	return a + (b-a)*t
}

func argF(args []string, idx int) (float64, error) {
	if idx >= len(args) {
		return 0, fmt.Errorf("missing arg %d", idx)
	}
	f, err := strconv.ParseFloat(args[idx], 64)
	if err != nil {
		return 0, fmt.Errorf("arg %d not a number: %q", idx, args[idx])
	}
	return f, nil
}

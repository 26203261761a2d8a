// Package sched provides the cooperative frame scheduler the engine runs
// on. Tasks suspend mid-execution (waits, tweens, typing reveals) and are
// resumed by a single-threaded Step loop, so exactly one task executes at
// any moment and game time only advances when the loop says so.
package sched

import (
	"errors"
	"log/slog"
)

// ErrCanceled is returned from a suspension point after the task's owner
// canceled it. Task functions must unwind when they see it.
var ErrCanceled = errors.New("sched: task canceled")

// Task is one cooperative routine. Its methods may only be called from
// inside the task function itself.
type Task struct {
	s        *Scheduler
	resume   chan float64
	yielded  chan struct{}
	canceled bool
	done     bool
	err      error
}

// Scheduler steps tasks through simulated game time. Go, Step and Cancel
// must be called from the single driving goroutine (or from inside a
// running task, which is serialized with the driver by construction).
type Scheduler struct {
	now     float64
	tasks   []*Task
	stepped []*Task // tasks scheduled for the current Step pass
}

// New creates an empty scheduler at time zero.
func New() *Scheduler {
	return &Scheduler{}
}

// Now returns accumulated game time in seconds.
func (s *Scheduler) Now() float64 {
	return s.now
}

// Running returns the number of live tasks.
func (s *Scheduler) Running() int {
	n := 0
	for _, t := range s.tasks {
		if !t.done {
			n++
		}
	}
	return n
}

// Go starts fn as a cooperative task. The function body does not run
// until the next Step, which also gives callers the one-frame input
// deferral dialogue start relies on.
func (s *Scheduler) Go(fn func(t *Task) error) *Task {
	t := &Task{
		s:       s,
		resume:  make(chan float64),
		yielded: make(chan struct{}),
	}
	s.tasks = append(s.tasks, t)

	go func() {
		dt := <-t.resume
		_ = dt
		if t.canceled {
			t.err = ErrCanceled
		} else {
			t.err = fn(t)
		}
		t.done = true
		t.yielded <- struct{}{}
	}()

	return t
}

// Step advances game time by dt seconds and resumes every task that was
// alive when the pass started, in start order, running each until it
// suspends or finishes. Tasks started during the pass first run on the
// next Step.
func (s *Scheduler) Step(dt float64) {
	s.now += dt

	s.stepped = s.stepped[:0]
	s.stepped = append(s.stepped, s.tasks...)

	for _, t := range s.stepped {
		if t.done {
			continue
		}
		t.resume <- dt
		<-t.yielded
	}

	s.compact()
}

// Cancel stops a parked task: its pending suspension point returns
// ErrCanceled and the task unwinds before Cancel returns. Canceling a
// finished task is a no-op. Must not be called from inside the task
// being canceled.
func (s *Scheduler) Cancel(t *Task) {
	if t == nil || t.done {
		return
	}
	t.canceled = true
	t.resume <- 0
	<-t.yielded
	s.compact()
}

// CancelAll stops every live task. Used when a scene or dialogue tears
// down and all pending continuations must die with it.
func (s *Scheduler) CancelAll() {
	for _, t := range s.tasks {
		if !t.done {
			s.Cancel(t)
		}
	}
}

func (s *Scheduler) compact() {
	live := s.tasks[:0]
	for _, t := range s.tasks {
		if !t.done {
			live = append(live, t)
		}
	}
	s.tasks = live
}

// Done reports whether the task has finished or been canceled.
func (t *Task) Done() bool {
	return t.done
}

// Err returns the task function's result once Done.
func (t *Task) Err() error {
	return t.err
}

// WaitFrame suspends until the next Step and returns that frame's dt.
func (t *Task) WaitFrame() (float64, error) {
	t.yielded <- struct{}{}
	dt := <-t.resume
	if t.canceled {
		return 0, ErrCanceled
	}
	return dt, nil
}

// Sleep suspends for the given duration of game time. A zero or negative
// duration still waits one frame.
func (t *Task) Sleep(seconds float64) error {
	deadline := t.s.now + seconds
	for {
		if _, err := t.WaitFrame(); err != nil {
			return err
		}
		if t.s.now >= deadline {
			return nil
		}
	}
}

// Now returns current game time; convenience mirror of Scheduler.Now.
func (t *Task) Now() float64 {
	return t.s.now
}

// Spawn starts a sibling task on the same scheduler.
func (t *Task) Spawn(fn func(t *Task) error) *Task {
	return t.s.Go(fn)
}

// LogDone is a helper for fire-and-forget tasks: it logs non-cancel
// errors and swallows ErrCanceled.
func LogDone(name string, err error) {
	if err != nil && !errors.Is(err, ErrCanceled) {
		slog.Error("task failed", "task", name, "error", err)
	}
}

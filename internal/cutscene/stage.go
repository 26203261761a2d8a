// Package cutscene interprets the tag mini-language against the objects
// of the current scene: characters animate and move, doors trigger,
// transient props pass through, sounds fire.
package cutscene

import "log/slog"

// Actor is anything on stage that can receive animation triggers and be
// positioned.
type Actor interface {
	Trigger(name string)
	Position() (x, y float64)
	SetPosition(x, y float64)
}

// Stage exposes the scene objects command tags act upon. Lookups report
// absence instead of failing; the runner decides how loudly to complain.
type Stage interface {
	// Character resolves a character id ("PLAYER", "SWORD").
	Character(id string) (Actor, bool)
	// Characters returns a snapshot of the current character roster.
	// Callers cache it and re-request when stale.
	Characters() map[string]Actor
	// Object resolves a named scene object ("ClassDoor").
	Object(name string) (Actor, bool)
	// Spawn creates a transient entity from a prefab name at a position.
	Spawn(prefab string, x, y float64) (Actor, bool)
	// Despawn removes a previously spawned transient entity.
	Despawn(a Actor)
	// PlaySound fires a one-shot clip; false when the clip is unknown.
	PlaySound(clip string) bool
}

// SceneActor is the in-memory Actor used by the engine's headless scenes.
type SceneActor struct {
	ID       string
	X, Y     float64
	Triggers []string
}

// Trigger records an animation trigger firing.
func (a *SceneActor) Trigger(name string) {
	a.Triggers = append(a.Triggers, name)
}

// LastTrigger returns the most recent trigger, or "".
func (a *SceneActor) LastTrigger() string {
	if len(a.Triggers) == 0 {
		return ""
	}
	return a.Triggers[len(a.Triggers)-1]
}

// Position returns the actor's current position.
func (a *SceneActor) Position() (float64, float64) {
	return a.X, a.Y
}

// SetPosition moves the actor.
func (a *SceneActor) SetPosition(x, y float64) {
	a.X, a.Y = x, y
}

// SceneStage is the engine-internal Stage: a registry of characters and
// named objects plus a sound sink. It replaces scene-graph lookups with
// plain maps.
type SceneStage struct {
	characters map[string]*SceneActor
	objects    map[string]*SceneActor
	transients []*SceneActor
	sounds     []string
	clips      map[string]bool // known sfx clips; nil means accept all
}

// NewSceneStage creates an empty stage.
func NewSceneStage() *SceneStage {
	return &SceneStage{
		characters: make(map[string]*SceneActor),
		objects:    make(map[string]*SceneActor),
	}
}

// AddCharacter registers a character actor. Empty ids are ignored, same
// as unidentified actors never making it into the registry.
func (s *SceneStage) AddCharacter(id string) *SceneActor {
	if id == "" {
		return nil
	}
	a := &SceneActor{ID: id}
	s.characters[id] = a
	return a
}

// AddObject registers a named scene object.
func (s *SceneStage) AddObject(name string) *SceneActor {
	a := &SceneActor{ID: name}
	s.objects[name] = a
	return a
}

// SetClips restricts PlaySound to a known clip set.
func (s *SceneStage) SetClips(names ...string) {
	s.clips = make(map[string]bool, len(names))
	for _, n := range names {
		s.clips[n] = true
	}
}

// Character implements Stage.
func (s *SceneStage) Character(id string) (Actor, bool) {
	a, ok := s.characters[id]
	if !ok {
		return nil, false
	}
	return a, true
}

// Characters implements Stage.
func (s *SceneStage) Characters() map[string]Actor {
	out := make(map[string]Actor, len(s.characters))
	for id, a := range s.characters {
		out[id] = a
	}
	return out
}

// Object implements Stage.
func (s *SceneStage) Object(name string) (Actor, bool) {
	a, ok := s.objects[name]
	if !ok {
		return nil, false
	}
	return a, true
}

// Spawn implements Stage.
func (s *SceneStage) Spawn(prefab string, x, y float64) (Actor, bool) {
	a := &SceneActor{ID: prefab, X: x, Y: y}
	s.transients = append(s.transients, a)
	return a, true
}

// Despawn implements Stage.
func (s *SceneStage) Despawn(a Actor) {
	for i, tr := range s.transients {
		if tr == a {
			s.transients = append(s.transients[:i], s.transients[i+1:]...)
			return
		}
	}
}

// Transients returns currently live spawned entities.
func (s *SceneStage) Transients() []*SceneActor {
	return s.transients
}

// PlaySound implements Stage.
func (s *SceneStage) PlaySound(clip string) bool {
	if s.clips != nil && !s.clips[clip] {
		slog.Debug("stage: unknown sfx clip", "clip", clip)
		return false
	}
	s.sounds = append(s.sounds, clip)
	return true
}

// Sounds returns every clip fired so far.
func (s *SceneStage) Sounds() []string {
	return s.sounds
}

package player

import (
	"errors"
	"time"
)

// State is the lifecycle state of the playback engine.
type State int

const (
	// StateIdle means no source is loaded.
	StateIdle State = iota
	// StateLoaded means a source is open but playback has not started.
	StateLoaded
	// StatePlaying means audio is being decoded and output.
	StatePlaying
	// StatePaused means a source is loaded and playback is suspended.
	StatePaused
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoaded:
		return "loaded"
	case StatePlaying:
		return "playing"
	case StatePaused:
		return "paused"
	default:
		return "unknown"
	}
}

var (
	// ErrInvalidState reports an operation that is not valid in the current
	// lifecycle state. It is advisory; the engine state is unchanged.
	ErrInvalidState = errors.New("player: operation not valid in current state")
	// ErrUnsupportedFormat reports a source the engine cannot decode.
	ErrUnsupportedFormat = errors.New("player: unsupported audio format")
)

// Snapshot is a consistent read of the engine's observable state. State and
// position are captured together under one lock so callers never see a torn
// view.
type Snapshot struct {
	State    State         `json:"state"`
	Path     string        `json:"path,omitempty"`
	Position time.Duration `json:"position"`
	Duration time.Duration `json:"duration"`
	Volume   float64       `json:"volume"`
}

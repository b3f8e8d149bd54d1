package domain

import (
	"context"
	"time"
)

// PlaybackState is the lifecycle state of the playback session
type PlaybackState int

const (
	// StateIdle means no item is loaded
	StateIdle PlaybackState = iota
	// StateLoading means a URL is being resolved and a handle opened
	StateLoading
	// StateReady means the handle is attached and positioned but not playing
	StateReady
	// StatePlaying means the engine reports a playing rate
	StatePlaying
	// StatePaused means the engine stopped after having been ready
	StatePaused
)

// String returns a human-readable label for the state
func (s PlaybackState) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateLoading:
		return "Loading"
	case StateReady:
		return "Ready"
	case StatePlaying:
		return "Playing"
	case StatePaused:
		return "Paused"
	default:
		return "Unknown"
	}
}

// Engine opens playback handles for servable URLs
type Engine interface {
	Open(ctx context.Context, url string) (PlayerHandle, error)
}

// PlayerHandle is one open media stream in the playback engine.
// Callbacks registered with OnRateChange and OnEnd are delivered serially
// on a goroutine owned by the handle.
type PlayerHandle interface {
	// ID returns an identifier unique to this handle
	ID() string

	Play() error
	Pause() error
	Seek(offset time.Duration) error
	SetMuted(muted bool) error

	// Position returns the current playback offset
	Position() time.Duration

	// Duration returns the total length, false while unknown
	Duration() (time.Duration, bool)

	// Rate returns 0 when paused or stopped, otherwise the playback speed
	Rate() float64

	// OnRateChange subscribes to rate transitions. The returned func unsubscribes.
	OnRateChange(fn func(rate float64)) (unsubscribe func())

	// OnEnd subscribes to the end of the current item. The returned func unsubscribes.
	OnEnd(fn func()) (unsubscribe func())

	// AttachLayer shows the video on target, sized to its bounds, aspect preserved
	AttachLayer(target *RenderTarget) (Layer, error)

	// Close releases the handle. Further calls return ErrEngineClosed.
	Close() error
}

// Layer is a visual layer attached to a RenderTarget
type Layer interface {
	Detach() error
}

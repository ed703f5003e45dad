package player

import (
	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/speaker"
)

// Output abstracts the audio device so the engine can be tested without
// opening a real speaker. The production implementation wraps gopxl/beep's
// speaker package, which runs decode and mixing on its own goroutine.
type Output interface {
	// Init opens the device at the given sample rate and buffer size.
	// Calling Init again after a successful call is a no-op.
	Init(rate beep.SampleRate, bufferSize int) error
	// Play adds a streamer to the device mix.
	Play(s beep.Streamer)
	// Clear drops everything currently in the mix.
	Clear()
	// Lock and Unlock guard mutation of streamers the device is reading.
	Lock()
	Unlock()
}

type speakerOutput struct {
	initialized bool
}

// NewSpeakerOutput returns the default Output backed by the system audio
// device.
func NewSpeakerOutput() Output {
	return &speakerOutput{}
}

func (o *speakerOutput) Init(rate beep.SampleRate, bufferSize int) error {
	if o.initialized {
		return nil
	}
	if err := speaker.Init(rate, bufferSize); err != nil {
		return err
	}
	o.initialized = true
	return nil
}

func (o *speakerOutput) Play(s beep.Streamer) { speaker.Play(s) }
func (o *speakerOutput) Clear()               { speaker.Clear() }
func (o *speakerOutput) Lock()                { speaker.Lock() }
func (o *speakerOutput) Unlock()              { speaker.Unlock() }

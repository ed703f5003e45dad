package player

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/gopxl/beep/v2"
	"github.com/sirupsen/logrus"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// fakeSource is a seekable silent source of a fixed sample length.
type fakeSource struct {
	length int
	pos    int
	closed bool
}

func (f *fakeSource) Stream(samples [][2]float64) (int, bool) {
	if f.pos >= f.length {
		return 0, false
	}
	n := len(samples)
	if remaining := f.length - f.pos; n > remaining {
		n = remaining
	}
	for i := 0; i < n; i++ {
		samples[i] = [2]float64{}
	}
	f.pos += n
	return n, true
}

func (f *fakeSource) Err() error    { return nil }
func (f *fakeSource) Len() int      { return f.length }
func (f *fakeSource) Position() int { return f.pos }

func (f *fakeSource) Seek(p int) error {
	if p < 0 || p > f.length {
		return fmt.Errorf("seek out of range: %d", p)
	}
	f.pos = p
	return nil
}

func (f *fakeSource) Close() error {
	f.closed = true
	return nil
}

// fakeOutput stands in for the audio device. Nothing is consumed until the
// test drains it, which plays the role of the device goroutine.
type fakeOutput struct {
	mu        sync.Mutex
	initCount int
	streamer  beep.Streamer
}

func (o *fakeOutput) Init(rate beep.SampleRate, bufferSize int) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.initCount++
	return nil
}

func (o *fakeOutput) Play(s beep.Streamer) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.streamer = s
}

func (o *fakeOutput) Clear() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.streamer = nil
}

func (o *fakeOutput) Lock()   { o.mu.Lock() }
func (o *fakeOutput) Unlock() { o.mu.Unlock() }

// drain consumes the queued streamer to exhaustion, firing any end-of-track
// callback exactly as the real device would.
func (o *fakeOutput) drain() {
	o.mu.Lock()
	s := o.streamer
	o.mu.Unlock()
	if s == nil {
		return
	}
	buf := make([][2]float64, 512)
	for {
		if _, ok := s.Stream(buf); !ok {
			return
		}
	}
}

const testRate = 44100

func newTestEngine(t *testing.T, source *fakeSource) (*Engine, *fakeOutput) {
	t.Helper()
	out := &fakeOutput{}
	opener := func(path string) (beep.StreamSeekCloser, beep.Format, error) {
		if path == "missing.mp3" {
			return nil, beep.Format{}, ErrUnsupportedFormat
		}
		return source, beep.Format{SampleRate: testRate, NumChannels: 2, Precision: 2}, nil
	}
	engine := NewEngine(testLogger(),
		WithOutput(out),
		WithOpener(opener),
		WithSampleRate(testRate, 100*time.Millisecond))
	return engine, out
}

func TestLifecycleTransitions(t *testing.T) {
	source := &fakeSource{length: testRate * 2}
	engine, _ := newTestEngine(t, source)

	t.Run("pause with nothing loaded fails", func(t *testing.T) {
		if err := engine.Pause(); !errors.Is(err, ErrInvalidState) {
			t.Errorf("Expected ErrInvalidState, got %v", err)
		}
		if engine.State() != StateIdle {
			t.Errorf("Expected Idle after failed pause, got %s", engine.State())
		}
	})

	t.Run("resume with nothing loaded fails", func(t *testing.T) {
		if err := engine.Resume(); !errors.Is(err, ErrInvalidState) {
			t.Errorf("Expected ErrInvalidState, got %v", err)
		}
	})

	t.Run("load then play", func(t *testing.T) {
		if err := engine.Load("song.mp3"); err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		if engine.State() != StateLoaded {
			t.Fatalf("Expected Loaded, got %s", engine.State())
		}
		if engine.IsPlaying() {
			t.Error("Expected no audible output after Load")
		}
		if err := engine.Play(); err != nil {
			t.Fatalf("Play failed: %v", err)
		}
		if engine.State() != StatePlaying {
			t.Errorf("Expected Playing, got %s", engine.State())
		}
	})

	t.Run("pause resume cycle", func(t *testing.T) {
		if err := engine.Pause(); err != nil {
			t.Fatalf("Pause failed: %v", err)
		}
		if engine.State() != StatePaused {
			t.Errorf("Expected Paused, got %s", engine.State())
		}
		// Pausing twice is invalid.
		if err := engine.Pause(); !errors.Is(err, ErrInvalidState) {
			t.Errorf("Expected ErrInvalidState on double pause, got %v", err)
		}
		if err := engine.Resume(); err != nil {
			t.Fatalf("Resume failed: %v", err)
		}
		if engine.State() != StatePlaying {
			t.Errorf("Expected Playing after resume, got %s", engine.State())
		}
		if err := engine.Resume(); !errors.Is(err, ErrInvalidState) {
			t.Errorf("Expected ErrInvalidState on double resume, got %v", err)
		}
	})

	t.Run("stop always succeeds", func(t *testing.T) {
		engine.Stop()
		if engine.State() != StateIdle {
			t.Errorf("Expected Idle after stop, got %s", engine.State())
		}
		if !source.closed {
			t.Error("Expected source to be closed on stop")
		}
		// Stop from Idle is a no-op.
		engine.Stop()
		if engine.State() != StateIdle {
			t.Errorf("Expected Idle after second stop, got %s", engine.State())
		}
	})
}

func TestLoadAndPlay(t *testing.T) {
	source := &fakeSource{length: testRate}
	engine, out := newTestEngine(t, source)

	if err := engine.LoadAndPlay("song.mp3"); err != nil {
		t.Fatalf("LoadAndPlay failed: %v", err)
	}
	if !engine.IsPlaying() {
		t.Error("Expected Playing state")
	}
	if out.initCount == 0 {
		t.Error("Expected output device to be initialized")
	}
}

func TestLoadFailureLeavesEngineIdle(t *testing.T) {
	source := &fakeSource{length: testRate}
	engine, _ := newTestEngine(t, source)

	if err := engine.LoadAndPlay("missing.mp3"); !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("Expected ErrUnsupportedFormat, got %v", err)
	}
	if engine.State() != StateIdle {
		t.Errorf("Expected Idle after failed load, got %s", engine.State())
	}
}

func TestLoadReplacesActiveSource(t *testing.T) {
	first := &fakeSource{length: testRate}
	engine, _ := newTestEngine(t, first)

	if err := engine.LoadAndPlay("one.mp3"); err != nil {
		t.Fatalf("LoadAndPlay failed: %v", err)
	}
	if err := engine.LoadAndPlay("two.mp3"); err != nil {
		t.Fatalf("LoadAndPlay failed: %v", err)
	}
	if !first.closed {
		t.Error("Expected first source to be closed when replaced")
	}
}

func TestSeek(t *testing.T) {
	source := &fakeSource{length: testRate * 10} // ten seconds
	engine, _ := newTestEngine(t, source)

	t.Run("with nothing loaded fails", func(t *testing.T) {
		if err := engine.Seek(time.Second); !errors.Is(err, ErrInvalidState) {
			t.Errorf("Expected ErrInvalidState, got %v", err)
		}
	})

	if err := engine.Load("song.mp3"); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	t.Run("positions within the track", func(t *testing.T) {
		if err := engine.Seek(3 * time.Second); err != nil {
			t.Fatalf("Seek failed: %v", err)
		}
		if got := engine.Position(); got != 3*time.Second {
			t.Errorf("Expected position 3s, got %s", got)
		}
	})

	t.Run("clamps negative offsets to start", func(t *testing.T) {
		if err := engine.Seek(-5 * time.Second); err != nil {
			t.Fatalf("Seek failed: %v", err)
		}
		if got := engine.Position(); got != 0 {
			t.Errorf("Expected position 0, got %s", got)
		}
	})

	t.Run("clamps past the end to duration", func(t *testing.T) {
		if err := engine.Seek(time.Hour); err != nil {
			t.Fatalf("Seek failed: %v", err)
		}
		if got := engine.Position(); got != engine.Duration() {
			t.Errorf("Expected position %s, got %s", engine.Duration(), got)
		}
	})

	t.Run("preserves paused state", func(t *testing.T) {
		engine.Seek(0)
		if err := engine.Play(); err != nil {
			t.Fatalf("Play failed: %v", err)
		}
		if err := engine.Pause(); err != nil {
			t.Fatalf("Pause failed: %v", err)
		}
		if err := engine.Seek(5 * time.Second); err != nil {
			t.Fatalf("Seek failed: %v", err)
		}
		if engine.State() != StatePaused {
			t.Errorf("Expected Paused after seek, got %s", engine.State())
		}
	})
}

func TestSetVolume(t *testing.T) {
	source := &fakeSource{length: testRate}
	engine, _ := newTestEngine(t, source)

	cases := []struct {
		name  string
		level float64
		want  float64
	}{
		{"mid scale", 0.5, 0.5},
		{"below range clamps to zero", -0.5, 0},
		{"above range clamps to one", 1.5, 1},
		{"exact zero", 0, 0},
		{"exact one", 1, 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			engine.SetVolume(tc.level)
			if got := engine.Volume(); got != tc.want {
				t.Errorf("SetVolume(%v): expected %v, got %v", tc.level, tc.want, got)
			}
		})
	}

	t.Run("applies to the active source", func(t *testing.T) {
		if err := engine.LoadAndPlay("song.mp3"); err != nil {
			t.Fatalf("LoadAndPlay failed: %v", err)
		}
		engine.SetVolume(0)
		engine.mu.Lock()
		silent := engine.volume.Silent
		engine.mu.Unlock()
		if !silent {
			t.Error("Expected zero volume to silence the active source")
		}
		engine.SetVolume(0.25)
		engine.mu.Lock()
		silent = engine.volume.Silent
		engine.mu.Unlock()
		if silent {
			t.Error("Expected nonzero volume to unmute the active source")
		}
	})
}

func TestFinishedNotification(t *testing.T) {
	source := &fakeSource{length: 2048}
	engine, out := newTestEngine(t, source)

	if err := engine.LoadAndPlay("song.mp3"); err != nil {
		t.Fatalf("LoadAndPlay failed: %v", err)
	}

	out.drain()

	select {
	case <-engine.Finished():
	case <-time.After(time.Second):
		t.Fatal("Expected end-of-track notification")
	}
	if engine.State() != StateIdle {
		t.Errorf("Expected Idle after natural end, got %s", engine.State())
	}
}

func TestStopSuppressesFinished(t *testing.T) {
	source := &fakeSource{length: 2048}
	engine, out := newTestEngine(t, source)

	if err := engine.LoadAndPlay("song.mp3"); err != nil {
		t.Fatalf("LoadAndPlay failed: %v", err)
	}

	// Capture the queued streamer, stop, then drain it anyway: the stale
	// callback must not be reported as a track finish.
	out.mu.Lock()
	stale := out.streamer
	out.mu.Unlock()

	engine.Stop()

	buf := make([][2]float64, 512)
	for {
		if _, ok := stale.Stream(buf); !ok {
			break
		}
	}

	select {
	case <-engine.Finished():
		t.Fatal("Stopped session must not deliver an end-of-track notification")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestSnapshot(t *testing.T) {
	source := &fakeSource{length: testRate * 4}
	engine, _ := newTestEngine(t, source)

	snap := engine.Snapshot()
	if snap.State != StateIdle || snap.Path != "" || snap.Duration != 0 {
		t.Errorf("Unexpected idle snapshot: %+v", snap)
	}

	if err := engine.LoadAndPlay("song.mp3"); err != nil {
		t.Fatalf("LoadAndPlay failed: %v", err)
	}
	engine.SetVolume(0.7)
	engine.Seek(2 * time.Second)

	snap = engine.Snapshot()
	if snap.State != StatePlaying {
		t.Errorf("Expected Playing, got %s", snap.State)
	}
	if snap.Path != "song.mp3" {
		t.Errorf("Expected path song.mp3, got %q", snap.Path)
	}
	if snap.Position != 2*time.Second {
		t.Errorf("Expected position 2s, got %s", snap.Position)
	}
	if snap.Duration != 4*time.Second {
		t.Errorf("Expected duration 4s, got %s", snap.Duration)
	}
	if snap.Volume != 0.7 {
		t.Errorf("Expected volume 0.7, got %v", snap.Volume)
	}
}

package fsm

import (
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/voxlink/pkg/audio/playback"
)

const (
	defaultCompletionBound    = 15 * time.Second
	defaultCompletionInterval = 250 * time.Millisecond
	defaultCompletionChecks   = 8
)

// ProgressProbe reports what the output device is doing.
type ProgressProbe interface {
	Progress() playback.Progress
}

// WatchOption configures a [CompletionWatch].
type WatchOption func(*CompletionWatch)

// WithCompletionBound sets how long speaking may last without the
// authoritative end signal before the probe is consulted. Default 15 s.
func WithCompletionBound(d time.Duration) WatchOption {
	return func(w *CompletionWatch) {
		if d > 0 {
			w.bound = d
		}
	}
}

// WithCompletionPolling sets the probe interval and the number of probes per
// check. Defaults 250 ms and 8.
func WithCompletionPolling(interval time.Duration, checks int) WatchOption {
	return func(w *CompletionWatch) {
		if interval > 0 {
			w.interval = interval
		}
		if checks > 0 {
			w.checks = checks
		}
	}
}

// CompletionWatch is the fallback for a missing end-of-output signal. Once
// the machine has been speaking for the bound, it polls the playback probe
// and fires [EventAudioFinished] when playback stops advancing, is paused or
// has nothing active. If playback is still advancing after the bounded
// number of checks the watch re-arms.
//
// This is a heuristic: wall-clock polling can misjudge completion when the
// process is throttled or the device clock stalls. The authoritative signal
// always takes precedence because leaving speaking disarms the watch.
type CompletionWatch struct {
	m        *Machine
	probe    ProgressProbe
	bound    time.Duration
	interval time.Duration
	checks   int

	mu    sync.Mutex
	gen   uint64
	timer *time.Timer
	unsub func()
}

// NewCompletionWatch returns a watch over m using probe. Call [CompletionWatch.Attach]
// to follow the machine automatically.
func NewCompletionWatch(m *Machine, probe ProgressProbe, opts ...WatchOption) *CompletionWatch {
	w := &CompletionWatch{
		m:        m,
		probe:    probe,
		bound:    defaultCompletionBound,
		interval: defaultCompletionInterval,
		checks:   defaultCompletionChecks,
	}
	for _, o := range opts {
		o(w)
	}
	return w
}

// Attach arms the watch whenever the machine enters speaking and disarms it
// when it leaves.
func (w *CompletionWatch) Attach() {
	unsub := w.m.Subscribe(func(from, to State, _ Event) {
		switch {
		case to == StateSpeaking:
			w.Arm()
		case from == StateSpeaking:
			w.Disarm()
		}
	})
	w.mu.Lock()
	w.unsub = unsub
	w.mu.Unlock()
}

// Detach stops following the machine and disarms.
func (w *CompletionWatch) Detach() {
	w.mu.Lock()
	unsub := w.unsub
	w.unsub = nil
	w.mu.Unlock()
	if unsub != nil {
		unsub()
	}
	w.Disarm()
}

// Arm starts (or restarts) the bound timer.
func (w *CompletionWatch) Arm() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.gen++
	gen := w.gen
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.bound, func() { w.check(gen) })
}

// Disarm cancels any pending timer or probe loop.
func (w *CompletionWatch) Disarm() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.gen++
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
}

func (w *CompletionWatch) current(gen uint64) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.gen == gen
}

func (w *CompletionWatch) check(gen uint64) {
	if !w.current(gen) || w.m.State() != StateSpeaking {
		return
	}

	prev := w.probe.Progress()
	for i := 0; i < w.checks; i++ {
		time.Sleep(w.interval)
		if !w.current(gen) || w.m.State() != StateSpeaking {
			return
		}
		p := w.probe.Progress()
		if !p.Active || p.Paused || p.Position <= prev.Position {
			slog.Info("fsm: speech completion inferred from playback progress",
				"active", p.Active,
				"paused", p.Paused,
				"position", p.Position,
			)
			if !w.current(gen) {
				return
			}
			_, _ = w.m.Fire(EventAudioFinished)
			return
		}
		prev = p
	}

	// Still advancing: give playback another bound.
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.gen == gen {
		w.timer = time.AfterFunc(w.bound, func() { w.check(gen) })
	}
}

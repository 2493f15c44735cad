// Package playback plays decoded speech segments strictly in arrival order.
//
// A [Queue] runs at most one playback loop at a time. The loop dequeues the
// head segment, plays it to its natural end on a [Sink], waits a short gap to
// avoid clicks at segment boundaries and continues until the queue drains.
// The first segment of a run fires the started notification and a natural
// drain fires the ended notification. [Queue.Stop] aborts the run, discards
// everything queued and suppresses the ended notification.
package playback

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/voxlink/pkg/audio"
)

const defaultGap = 5 * time.Millisecond

// Segment is a decoded audio buffer owned by the queue until played.
type Segment struct {
	Samples    []int16
	SampleRate int
	Channels   int
}

// Duration returns the natural length of the segment.
func (s Segment) Duration() time.Duration {
	return audio.SamplesDuration(len(s.Samples), s.SampleRate, s.Channels)
}

// Sink is an output device. Play blocks until seg has finished playing or
// ctx is cancelled, in which case it stops output immediately.
type Sink interface {
	Play(ctx context.Context, seg Segment) error
}

// Muter is implemented by sinks that can be silenced without stopping.
type Muter interface {
	SetMuted(muted bool) error
}

// Progress is a snapshot of what the output device is doing.
type Progress struct {
	// Position is how far into the current run playback has advanced.
	Position time.Duration
	Paused   bool
	Active   bool
}

// ProgressReporter is implemented by sinks that can report device-side
// progress. Without it the queue reports wall-clock progress.
type ProgressReporter interface {
	Progress() Progress
}

// Option configures a [Queue].
type Option func(*Queue)

// WithGap sets the pause between consecutive segments. Default 5 ms.
func WithGap(d time.Duration) Option {
	return func(q *Queue) {
		if d >= 0 {
			q.gap = d
		}
	}
}

// Queue is a FIFO of segments with a single consumer. All methods are safe
// for concurrent use.
type Queue struct {
	sink Sink
	gap  time.Duration

	// playMu guarantees that an aborted Play has returned before the next
	// run's first Play begins.
	playMu sync.Mutex

	mu        sync.Mutex
	items     []Segment
	running   bool
	runID     uint64
	cancel    context.CancelFunc
	muted     bool
	playing   bool
	segStart  time.Time
	played    time.Duration
	onStarted func()
	onEnded   func()
}

// New returns a queue that plays on sink.
func New(sink Sink, opts ...Option) *Queue {
	q := &Queue{sink: sink, gap: defaultGap}
	for _, o := range opts {
		o(q)
	}
	return q
}

// OnStarted registers fn to run when a run plays its first segment. It
// replaces any earlier registration.
func (q *Queue) OnStarted(fn func()) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.onStarted = fn
}

// OnEnded registers fn to run when a run drains naturally.
func (q *Queue) OnEnded(fn func()) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.onEnded = fn
}

// Enqueue appends seg and starts the playback loop if none is running.
// Empty segments are ignored.
func (q *Queue) Enqueue(seg Segment) {
	if len(seg.Samples) == 0 {
		return
	}
	if seg.SampleRate <= 0 {
		seg.SampleRate = audio.SampleRate
	}
	if seg.Channels <= 0 {
		seg.Channels = audio.Channels
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, seg)
	if q.running {
		return
	}
	q.running = true
	q.runID++
	q.played = 0
	ctx, cancel := context.WithCancel(context.Background())
	q.cancel = cancel
	go q.run(ctx, q.runID)
}

// Stop halts the current segment immediately, discards queued segments and
// suppresses the ended notification of the aborted run.
func (q *Queue) Stop() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = nil
	if !q.running {
		return
	}
	q.runID++
	q.running = false
	q.playing = false
	if q.cancel != nil {
		q.cancel()
		q.cancel = nil
	}
	slog.Debug("playback: stopped")
}

// Pending returns the number of segments waiting to be played, excluding
// the one currently playing.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Running reports whether a playback loop is active.
func (q *Queue) Running() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.running
}

// SetMuted silences or restores output. Sinks that implement [Muter] are
// told directly; the flag is also reported through [Queue.Progress].
func (q *Queue) SetMuted(muted bool) error {
	q.mu.Lock()
	q.muted = muted
	q.mu.Unlock()
	if m, ok := q.sink.(Muter); ok {
		return m.SetMuted(muted)
	}
	return nil
}

// Muted reports the mute flag.
func (q *Queue) Muted() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.muted
}

// Progress reports device progress when the sink supports it, otherwise the
// wall-clock position within the current run.
func (q *Queue) Progress() Progress {
	if pr, ok := q.sink.(ProgressReporter); ok {
		return pr.Progress()
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	pos := q.played
	if q.playing {
		pos += time.Since(q.segStart)
	}
	return Progress{Position: pos, Paused: q.muted, Active: q.playing}
}

func (q *Queue) run(ctx context.Context, id uint64) {
	first := true
	for {
		q.mu.Lock()
		if q.runID != id {
			q.mu.Unlock()
			return
		}
		if len(q.items) == 0 {
			q.running = false
			q.cancel()
			q.cancel = nil
			ended := q.onEnded
			q.mu.Unlock()
			slog.Debug("playback: drained")
			if ended != nil {
				ended()
			}
			return
		}
		seg := q.items[0]
		q.items[0] = Segment{}
		q.items = q.items[1:]
		started := q.onStarted
		q.mu.Unlock()

		if first {
			first = false
			if started != nil {
				started()
			}
		}

		q.playMu.Lock()
		q.mu.Lock()
		aborted := q.runID != id
		if !aborted {
			q.playing = true
			q.segStart = time.Now()
		}
		q.mu.Unlock()
		var err error
		if !aborted {
			err = q.sink.Play(ctx, seg)
		}
		q.playMu.Unlock()

		q.mu.Lock()
		if q.runID == id {
			q.playing = false
			q.played += seg.Duration()
		}
		q.mu.Unlock()

		if ctx.Err() != nil {
			return
		}
		if err != nil && !errors.Is(err, context.Canceled) {
			slog.Warn("playback: segment failed", "err", err, "samples", len(seg.Samples))
		}

		if q.gap > 0 {
			t := time.NewTimer(q.gap)
			select {
			case <-ctx.Done():
				t.Stop()
				return
			case <-t.C:
			}
		}
	}
}

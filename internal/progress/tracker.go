package progress

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Config controls per-submission buffering and sink batching for the Tracker.
//   - TimelineCap: maximum stored events per submission (default 500). Events
//     past the cap are dropped from the stored timeline but still fanned out
//     to live subscribers and sinks.
//   - SubscriberBuffer: capacity of each subscriber channel (default 100).
//   - SinkBuffer: size of the internal sink channel (default 4096).
//   - MaxBatchEvents: flush once this many events queue for sinks (default 1000).
//   - MaxBatchWait: flush after this duration even if the batch is small (default 500ms).
//   - SinkTimeout: per-sink timeout while flushing (default 10s).
//   - BaseContext: parent context passed to sink calls (defaults to context.Background()).
//   - Logger: optional structured logger used for warnings.
type Config struct {
	TimelineCap      int
	SubscriberBuffer int
	SinkBuffer       int
	MaxBatchEvents   int
	MaxBatchWait     time.Duration
	SinkTimeout      time.Duration
	BaseContext      context.Context
	Logger           *zap.Logger
}

const (
	defaultTimelineCap      = 500
	defaultSubscriberBuffer = 100
	defaultSinkBuffer       = 4096
	defaultMaxBatchEvents   = 1000
	defaultMaxBatchWait     = 500 * time.Millisecond
	defaultSinkTimeout      = 10 * time.Second
	dropLogInterval         = 5 * time.Second
)

// Tracker is the process-wide progress bus. It stores a capped per-submission
// timeline, tracks the current step and completion flag, fans events out to
// live subscriber channels, and forwards every event to registered sinks on a
// background goroutine. It is safe for concurrent use and never blocks
// emitters on slow consumers.
//
// A Tracker is constructed once at startup and passed by reference to the
// worker pool and the HTTP handlers; there is no package-level instance.
type Tracker struct {
	cfg    Config
	logger *zap.Logger

	mu        sync.Mutex
	timelines map[string][]Event
	current   map[string]Event
	completed map[string]bool
	subs      map[string][]chan Event

	sinks       []Sink
	events      chan Event
	stopCh      chan struct{}
	doneCh      chan struct{}
	dropLimiter rateLimiter
	dropped     atomic.Int64
	closed      atomic.Bool

	closeOnce sync.Once
	closeCtx  context.Context
}

// NewTracker initializes a Tracker and starts the background sink goroutine.
// The returned Tracker is immediately ready to accept events.
func NewTracker(cfg Config, sinks ...Sink) *Tracker {
	if cfg.TimelineCap <= 0 {
		cfg.TimelineCap = defaultTimelineCap
	}
	if cfg.SubscriberBuffer <= 0 {
		cfg.SubscriberBuffer = defaultSubscriberBuffer
	}
	if cfg.SinkBuffer <= 0 {
		cfg.SinkBuffer = defaultSinkBuffer
	}
	if cfg.MaxBatchEvents <= 0 {
		cfg.MaxBatchEvents = defaultMaxBatchEvents
	}
	if cfg.MaxBatchWait <= 0 {
		cfg.MaxBatchWait = defaultMaxBatchWait
	}
	if cfg.SinkTimeout <= 0 {
		cfg.SinkTimeout = defaultSinkTimeout
	}
	if cfg.BaseContext == nil {
		cfg.BaseContext = context.Background()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	t := &Tracker{
		cfg:         cfg,
		logger:      logger,
		timelines:   make(map[string][]Event),
		current:     make(map[string]Event),
		completed:   make(map[string]bool),
		subs:        make(map[string][]chan Event),
		sinks:       append([]Sink(nil), sinks...),
		events:      make(chan Event, cfg.SinkBuffer),
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
		dropLimiter: rateLimiter{interval: dropLogInterval},
	}
	go t.run()
	return t
}

// Emit records an event for a submission and fans it out. All bookkeeping
// happens atomically under one lock: the event is appended to the timeline
// (unless the cap is reached), becomes the current step, sets the completion
// flag for completion events, and is offered to every subscriber channel with
// a non-blocking send. A full or abandoned subscriber channel drops the event
// for that subscriber only; the emitter is never blocked or failed by
// consumer state.
func (t *Tracker) Emit(submissionID string, kind Kind, data map[string]any) Event {
	if data == nil {
		data = map[string]any{}
	}
	evt := Event{
		SubmissionID: submissionID,
		Type:         kind,
		Timestamp:    time.Now().UTC(),
		Data:         data,
	}

	t.mu.Lock()
	if len(t.timelines[submissionID]) < t.cfg.TimelineCap {
		t.timelines[submissionID] = append(t.timelines[submissionID], evt)
	}
	t.current[submissionID] = evt
	if kind == KindCompletion {
		t.completed[submissionID] = true
	}
	for _, ch := range t.subs[submissionID] {
		select {
		case ch <- evt:
		default:
		}
	}
	t.mu.Unlock()

	t.forwardToSinks(evt)
	return evt
}

// Subscribe registers a new subscriber channel for a submission and returns
// it together with a snapshot of the stored timeline. Registration and the
// snapshot happen under the same lock acquisition, so a subscriber that
// replays the snapshot and then drains the channel observes every event
// exactly once, in emit order.
func (t *Tracker) Subscribe(submissionID string) (chan Event, []Event) {
	ch := make(chan Event, t.cfg.SubscriberBuffer)
	t.mu.Lock()
	defer t.mu.Unlock()
	t.subs[submissionID] = append(t.subs[submissionID], ch)
	replay := append([]Event(nil), t.timelines[submissionID]...)
	return ch, replay
}

// Unsubscribe removes the matching subscriber channel. Once a completed
// submission has no subscribers left, all of its state is released.
// Unsubscribing an unknown channel or submission is a no-op.
func (t *Tracker) Unsubscribe(submissionID string, ch chan Event) {
	t.mu.Lock()
	defer t.mu.Unlock()
	subs := t.subs[submissionID]
	for i, existing := range subs {
		if existing == ch {
			subs = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	if len(subs) == 0 {
		delete(t.subs, submissionID)
		if t.completed[submissionID] {
			delete(t.timelines, submissionID)
			delete(t.current, submissionID)
			delete(t.completed, submissionID)
		}
	} else {
		t.subs[submissionID] = subs
	}
}

// Events returns a copy of the stored timeline for a submission. Unknown
// submissions yield an empty slice; no state is created by reads.
func (t *Tracker) Events(submissionID string) []Event {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Event(nil), t.timelines[submissionID]...)
}

// CurrentStep returns the most recently emitted event for a submission. The
// current step survives the timeline cap, so it reflects the latest emit even
// after the timeline stops growing.
func (t *Tracker) CurrentStep(submissionID string) (Event, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	evt, ok := t.current[submissionID]
	return evt, ok
}

// IsCompleted reports whether a completion event has been emitted for the
// submission. It never resets to false while the state is retained.
func (t *Tracker) IsCompleted(submissionID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.completed[submissionID]
}

func (t *Tracker) forwardToSinks(evt Event) {
	if len(t.sinks) == 0 || t.closed.Load() {
		return
	}
	select {
	case t.events <- evt:
	default:
		t.dropped.Add(1)
		if t.dropLimiter.Allow(time.Now()) {
			count := t.dropped.Swap(0)
			t.logger.Warn("progress events dropped from sink pipeline", zap.Int64("dropped", count))
		}
	}
}

// Close drains remaining sink events, flushes sinks, and blocks until the
// background goroutine exits. It is safe to call multiple times; subsequent
// calls are ignored once shutdown begins. Subscriber and timeline state is
// left untouched; process exit reclaims it.
func (t *Tracker) Close(ctx context.Context) error {
	if t == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	t.closeOnce.Do(func() {
		t.closed.Store(true)
		t.closeCtx = ctx
		close(t.stopCh)
	})
	select {
	case <-t.doneCh:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("progress tracker close wait: %w", ctx.Err())
	}
}

func (t *Tracker) run() {
	defer close(t.doneCh)
	batch := make([]Event, 0, t.cfg.MaxBatchEvents)
	timer := time.NewTimer(t.cfg.MaxBatchWait)
	timer.Stop()
	timerActive := false
	for {
		select {
		case evt := <-t.events:
			batch = t.enqueueEvent(batch, evt, timer, &timerActive)
		case <-timer.C:
			timerActive = false
			if len(batch) > 0 {
				t.flush(batch)
				batch = batch[:0]
			}
		case <-t.stopCh:
			t.handleStop(batch, timer, &timerActive)
			return
		}
	}
}

func (t *Tracker) enqueueEvent(batch []Event, evt Event, timer *time.Timer, timerActive *bool) []Event {
	batch = append(batch, evt)
	if len(batch) >= t.cfg.MaxBatchEvents {
		t.flush(batch)
		batch = batch[:0]
		t.stopTimer(timer, timerActive)
	} else if t.cfg.MaxBatchWait > 0 {
		t.resetTimer(timer, timerActive)
	}
	return batch
}

func (t *Tracker) handleStop(batch []Event, timer *time.Timer, timerActive *bool) {
	t.stopTimer(timer, timerActive)
	for {
		select {
		case evt := <-t.events:
			batch = append(batch, evt)
			if len(batch) >= t.cfg.MaxBatchEvents {
				t.flush(batch)
				batch = batch[:0]
			}
		default:
			if len(batch) > 0 {
				t.flush(batch)
			}
			t.closeSinks()
			return
		}
	}
}

func (t *Tracker) resetTimer(timer *time.Timer, timerActive *bool) {
	if t.cfg.MaxBatchWait <= 0 {
		return
	}
	if *timerActive {
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
	}
	timer.Reset(t.cfg.MaxBatchWait)
	*timerActive = true
}

func (t *Tracker) stopTimer(timer *time.Timer, timerActive *bool) {
	if !*timerActive {
		return
	}
	if !timer.Stop() {
		select {
		case <-timer.C:
		default:
		}
	}
	*timerActive = false
}

func (t *Tracker) flush(batch []Event) {
	if len(batch) == 0 {
		return
	}
	copyBatch := append([]Event(nil), batch...)
	baseCtx := t.cfg.BaseContext
	for _, sink := range t.sinks {
		if sink == nil {
			continue
		}
		ctx := baseCtx
		cancel := func() {}
		if t.cfg.SinkTimeout > 0 {
			ctx, cancel = context.WithTimeout(baseCtx, t.cfg.SinkTimeout)
		}
		if err := sink.Consume(ctx, copyBatch); err != nil {
			t.logger.Warn("progress sink consume failed", zap.Error(err))
		}
		cancel()
	}
}

func (t *Tracker) closeSinks() {
	ctx := t.closeCtx
	if ctx == nil {
		ctx = context.Background()
	}
	for _, sink := range t.sinks {
		if sink == nil {
			continue
		}
		if err := sink.Close(ctx); err != nil {
			t.logger.Warn("progress sink close failed", zap.Error(err))
		}
	}
}

type rateLimiter struct {
	interval time.Duration
	last     atomic.Int64
}

func (r *rateLimiter) Allow(now time.Time) bool {
	if r == nil || r.interval <= 0 {
		return true
	}
	nano := now.UnixNano()
	last := r.last.Load()
	if nano-last < r.interval.Nanoseconds() {
		return false
	}
	return r.last.CompareAndSwap(last, nano)
}

package mpv

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/dexterlb/mpvipc"

	"github.com/mmcdole/kinoview/internal/adapter"
	"github.com/mmcdole/kinoview/internal/domain"
)

// Properties whose changes drive rate and end-of-item callbacks
var observed = []string{"pause", "speed", "eof-reached", "duration"}

const commandTimeout = 5 * time.Second

// Handle is one mpv process playing one file
type Handle struct {
	id         string
	conn       *mpvipc.Connection
	proc       adapter.PlayerProcess
	socketPath string
	logger     *slog.Logger

	mu          sync.Mutex
	paused      bool
	speed       float64
	eof         bool
	timePos     float64
	duration    float64
	hasDuration bool
	lastRate    float64
	closed      bool

	loaded chan error // receives the load outcome once

	subMu   sync.Mutex
	nextSub int
	rateFns map[int]func(float64)
	endFns  map[int]func()

	events       chan *mpvipc.Event
	stopEvents   chan struct{}
	connDone     chan struct{}
	dispatchDone chan struct{}
}

func newHandle(id string, conn *mpvipc.Connection, proc adapter.PlayerProcess, socketPath string, logger *slog.Logger) *Handle {
	events, stop := conn.NewEventListener()
	h := &Handle{
		id:           id,
		conn:         conn,
		proc:         proc,
		socketPath:   socketPath,
		logger:       logger.With("handle", id),
		paused:       true,
		speed:        1,
		loaded:       make(chan error, 1),
		rateFns:      make(map[int]func(float64)),
		endFns:       make(map[int]func()),
		events:       events,
		stopEvents:   stop,
		connDone:     make(chan struct{}),
		dispatchDone: make(chan struct{}),
	}
	go func() {
		conn.WaitUntilClosed()
		close(h.connDone)
	}()
	go h.dispatch()
	return h
}

// call runs one IPC command bounded by ctx
func (h *Handle) call(ctx context.Context, args ...interface{}) (interface{}, error) {
	type result struct {
		data interface{}
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		data, err := h.conn.Call(args...)
		ch <- result{data, err}
	}()

	select {
	case r := <-ch:
		return r.data, r.err
	case <-h.connDone:
		return nil, fmt.Errorf("mpv: connection closed")
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (h *Handle) getFloat(ctx context.Context, name string) (float64, bool) {
	data, err := h.call(ctx, "get_property", name)
	v, ok := data.(float64)
	return v, err == nil && ok
}

func (h *Handle) getBool(ctx context.Context, name string) (bool, bool) {
	data, err := h.call(ctx, "get_property", name)
	v, ok := data.(bool)
	return v, err == nil && ok
}

// load observes playback properties, loads url and waits for file-loaded
func (h *Handle) load(ctx context.Context, url string) error {
	for i, name := range observed {
		if _, err := h.call(ctx, "observe_property", i+1, name); err != nil {
			return fmt.Errorf("mpv: observe %s: %w", name, err)
		}
	}
	if _, err := h.call(ctx, "loadfile", url, "replace"); err != nil {
		return fmt.Errorf("mpv: loadfile: %w", err)
	}

	select {
	case err := <-h.loaded:
		if err != nil {
			return err
		}
	case <-h.dispatchDone:
		return fmt.Errorf("mpv: connection lost while loading")
	case <-ctx.Done():
		return fmt.Errorf("mpv: waiting for file-loaded: %w", ctx.Err())
	}

	// The duration observation may trail file-loaded
	if v, ok := h.getFloat(ctx, "duration"); ok && v > 0 {
		h.mu.Lock()
		h.duration = v
		h.hasDuration = true
		h.mu.Unlock()
	}
	return nil
}

// dispatch applies events and delivers callbacks on its own goroutine
func (h *Handle) dispatch() {
	defer close(h.dispatchDone)
	defer func() {
		select {
		case h.stopEvents <- struct{}{}:
		default:
		}
	}()

loop:
	for {
		select {
		case ev, ok := <-h.events:
			if !ok {
				break loop
			}
			h.handleEvent(ev)
		case <-h.connDone:
			break loop
		}
	}

	// Connection gone: the player quit or crashed, report it as stopped
	h.mu.Lock()
	changed := h.lastRate != 0
	h.lastRate = 0
	h.paused = true
	h.mu.Unlock()
	if changed {
		h.fireRate(0)
	}
}

func (h *Handle) handleEvent(ev *mpvipc.Event) {
	switch ev.Name {
	case "file-loaded":
		h.signalLoaded(nil)
	case "end-file":
		if ev.Reason == "error" {
			h.signalLoaded(fmt.Errorf("mpv: cannot open file: %w", domain.ErrNotStreamable))
		}
	case "property-change":
		h.refresh()
	}
}

func (h *Handle) signalLoaded(err error) {
	select {
	case h.loaded <- err:
	default:
	}
}

// refresh re-reads the observed properties. Listener delivery order is not
// guaranteed, so a change event is only a signal and mpv holds the values.
func (h *Handle) refresh() {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	paused, okPause := h.getBool(ctx, "pause")
	speed, okSpeed := h.getFloat(ctx, "speed")
	eof, okEOF := h.getBool(ctx, "eof-reached")
	duration, okDuration := h.getFloat(ctx, "duration")

	h.mu.Lock()
	wasEOF := h.eof
	if okPause {
		h.paused = paused
	}
	if okSpeed {
		h.speed = speed
	}
	// eof-reached is unavailable while nothing is loaded
	h.eof = okEOF && eof
	if okDuration && duration > 0 {
		h.duration = duration
		h.hasDuration = true
	}

	rate := h.rateLocked()
	rateChanged := rate != h.lastRate
	h.lastRate = rate
	ended := !wasEOF && h.eof
	h.mu.Unlock()

	if rateChanged {
		h.fireRate(rate)
	}
	if ended {
		h.fireEnd()
	}
}

func (h *Handle) rateLocked() float64 {
	if h.paused || h.eof {
		return 0
	}
	return h.speed
}

func (h *Handle) fireRate(rate float64) {
	h.subMu.Lock()
	fns := make([]func(float64), 0, len(h.rateFns))
	for _, fn := range h.rateFns {
		fns = append(fns, fn)
	}
	h.subMu.Unlock()

	for _, fn := range fns {
		fn(rate)
	}
}

func (h *Handle) fireEnd() {
	h.subMu.Lock()
	fns := make([]func(), 0, len(h.endFns))
	for _, fn := range h.endFns {
		fns = append(fns, fn)
	}
	h.subMu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

func (h *Handle) isClosed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

func (h *Handle) set(name string, value interface{}) error {
	if h.isClosed() {
		return domain.ErrEngineClosed
	}
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()
	if _, err := h.call(ctx, "set_property", name, value); err != nil {
		return fmt.Errorf("mpv: set %s: %w", name, err)
	}
	return nil
}

// === domain.PlayerHandle ===

func (h *Handle) ID() string { return h.id }

func (h *Handle) Play() error { return h.set("pause", false) }

func (h *Handle) Pause() error { return h.set("pause", true) }

func (h *Handle) SetMuted(muted bool) error { return h.set("mute", muted) }

func (h *Handle) Seek(offset time.Duration) error {
	if h.isClosed() {
		return domain.ErrEngineClosed
	}
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()
	if _, err := h.call(ctx, "seek", offset.Seconds(), "absolute"); err != nil {
		return fmt.Errorf("mpv: seek: %w", err)
	}
	h.mu.Lock()
	h.timePos = offset.Seconds()
	h.eof = false
	h.mu.Unlock()
	return nil
}

// Position asks mpv for time-pos, falling back to the last known value.
// At end of file it reports the full duration.
func (h *Handle) Position() time.Duration {
	h.mu.Lock()
	if h.eof && h.hasDuration {
		d := h.duration
		h.mu.Unlock()
		return seconds(d)
	}
	h.mu.Unlock()

	if !h.isClosed() {
		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		v, ok := h.getFloat(ctx, "time-pos")
		cancel()
		if ok {
			h.mu.Lock()
			h.timePos = v
			h.mu.Unlock()
			return seconds(v)
		}
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return seconds(h.timePos)
}

func (h *Handle) Duration() (time.Duration, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.hasDuration {
		return 0, false
	}
	return seconds(h.duration), true
}

func (h *Handle) Rate() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.rateLocked()
}

func (h *Handle) OnRateChange(fn func(rate float64)) func() {
	h.subMu.Lock()
	defer h.subMu.Unlock()
	h.nextSub++
	id := h.nextSub
	h.rateFns[id] = fn
	return func() {
		h.subMu.Lock()
		delete(h.rateFns, id)
		h.subMu.Unlock()
	}
}

func (h *Handle) OnEnd(fn func()) func() {
	h.subMu.Lock()
	defer h.subMu.Unlock()
	h.nextSub++
	id := h.nextSub
	h.endFns[id] = fn
	return func() {
		h.subMu.Lock()
		delete(h.endFns, id)
		h.subMu.Unlock()
	}
}

// AttachLayer shows the video window sized to the target, aspect preserved
func (h *Handle) AttachLayer(target *domain.RenderTarget) (domain.Layer, error) {
	if target == nil {
		return nil, fmt.Errorf("mpv: nil render target")
	}
	props := []property{
		{"keepaspect", true},
		{"force-window", "yes"},
		{"vid", "auto"},
	}
	if w, ht := target.Bounds(); w > 0 && ht > 0 {
		props = append(props, property{"geometry", fmt.Sprintf("%dx%d", w, ht)})
	}
	if t := strings.TrimSpace(target.Title); t != "" {
		props = append(props, property{"title", t})
	}

	for _, p := range props {
		if err := h.set(p.name, p.value); err != nil {
			return nil, err
		}
	}
	return &layer{h: h}, nil
}

// Close quits mpv and releases the socket
func (h *Handle) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return domain.ErrEngineClosed
	}
	h.closed = true
	h.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	_, _ = h.call(ctx, "quit")
	cancel()

	// The dispatcher is not awaited: a callback in flight may be blocked on
	// the caller's own lock
	err := h.conn.Close()

	select {
	case <-h.proc.Done():
	case <-time.After(2 * time.Second):
		h.logger.Warn("mpv did not quit, killing")
		_ = h.proc.Kill()
	}
	_ = os.Remove(h.socketPath)
	return err
}

type property struct {
	name  string
	value interface{}
}

// layer is the video window of a handle
type layer struct {
	h    *Handle
	once sync.Once
}

// Detach hides the video window, playback continues
func (l *layer) Detach() error {
	var err error
	l.once.Do(func() {
		if l.h.isClosed() {
			return
		}
		if err = l.h.set("vid", "no"); err != nil {
			return
		}
		err = l.h.set("force-window", "no")
	})
	return err
}

func seconds(v float64) time.Duration {
	return time.Duration(v * float64(time.Second))
}

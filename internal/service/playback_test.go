package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/mmcdole/kinoview/internal/domain"
	"github.com/mmcdole/kinoview/internal/store"
)

// recorder is an ordered log shared by the fakes
type recorder struct {
	mu  sync.Mutex
	ops []string
}

func (r *recorder) add(format string, args ...interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ops = append(r.ops, fmt.Sprintf(format, args...))
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.ops...)
}

func (r *recorder) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ops = nil
}

func (r *recorder) index(op string) int {
	for i, o := range r.snapshot() {
		if o == op {
			return i
		}
	}
	return -1
}

// fakeHandle is a scripted playback handle
type fakeHandle struct {
	id  string
	rec *recorder

	mu          sync.Mutex
	rate        float64
	position    time.Duration
	duration    time.Duration
	hasDuration bool
	muted       bool
	closed      bool
	detached    bool
	seeks       []time.Duration
	plays       int
	pauses      int

	nextSub int
	rateFns map[int]func(float64)
	endFns  map[int]func()
	// every rate callback ever registered, to replay deliveries already in flight
	allRateFns []func(float64)
	allEndFns  []func()
}

func (h *fakeHandle) ID() string { return h.id }

func (h *fakeHandle) Play() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.plays++
	h.rate = 1
	h.rec.add("%s play", h.id)
	return nil
}

func (h *fakeHandle) Pause() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.pauses++
	h.rate = 0
	h.rec.add("%s pause", h.id)
	return nil
}

func (h *fakeHandle) Seek(offset time.Duration) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.position = offset
	h.seeks = append(h.seeks, offset)
	h.rec.add("%s seek %v", h.id, offset)
	return nil
}

func (h *fakeHandle) SetMuted(muted bool) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.muted = muted
	h.rec.add("%s muted %v", h.id, muted)
	return nil
}

func (h *fakeHandle) Position() time.Duration {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.position
}

func (h *fakeHandle) Duration() (time.Duration, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.duration, h.hasDuration
}

func (h *fakeHandle) Rate() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.rate
}

func (h *fakeHandle) OnRateChange(fn func(float64)) func() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextSub++
	id := h.nextSub
	h.rateFns[id] = fn
	h.allRateFns = append(h.allRateFns, fn)
	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		delete(h.rateFns, id)
	}
}

func (h *fakeHandle) OnEnd(fn func()) func() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextSub++
	id := h.nextSub
	h.endFns[id] = fn
	h.allEndFns = append(h.allEndFns, fn)
	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		delete(h.endFns, id)
	}
}

func (h *fakeHandle) AttachLayer(target *domain.RenderTarget) (domain.Layer, error) {
	h.rec.add("%s attach %dx%d", h.id, target.Width, target.Height)
	return fakeLayer{h}, nil
}

func (h *fakeHandle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return domain.ErrEngineClosed
	}
	h.closed = true
	h.rec.add("%s close", h.id)
	return nil
}

type fakeLayer struct{ h *fakeHandle }

func (l fakeLayer) Detach() error {
	l.h.mu.Lock()
	defer l.h.mu.Unlock()
	l.h.detached = true
	return nil
}

// fireRate simulates the engine reporting a rate transition
func (h *fakeHandle) fireRate(rate float64) {
	h.mu.Lock()
	h.rate = rate
	fns := make([]func(float64), 0, len(h.rateFns))
	for _, fn := range h.rateFns {
		fns = append(fns, fn)
	}
	h.mu.Unlock()
	for _, fn := range fns {
		fn(rate)
	}
}

func (h *fakeHandle) fireEnd() {
	h.mu.Lock()
	fns := make([]func(), 0, len(h.endFns))
	for _, fn := range h.endFns {
		fns = append(fns, fn)
	}
	h.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

func (h *fakeHandle) subscriptions() (int, int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.rateFns), len(h.endFns)
}

func (h *fakeHandle) setPosition(d time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.position = d
}

// fakeEngine opens fake handles with a fixed duration
type fakeEngine struct {
	rec      *recorder
	duration time.Duration

	mu      sync.Mutex
	handles []*fakeHandle
	urls    []string
}

func (e *fakeEngine) Open(ctx context.Context, url string) (domain.PlayerHandle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	h := &fakeHandle{
		id:          fmt.Sprintf("h%d", len(e.handles)+1),
		rec:         e.rec,
		duration:    e.duration,
		hasDuration: e.duration > 0,
		rateFns:     make(map[int]func(float64)),
		endFns:      make(map[int]func()),
	}
	e.handles = append(e.handles, h)
	e.urls = append(e.urls, url)
	return h, nil
}

func (e *fakeEngine) opened() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.handles)
}

func (e *fakeEngine) last() *fakeHandle {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.handles[len(e.handles)-1]
}

// fakeProxy resolves stream URLs, optionally holding an item until released
type fakeProxy struct {
	rec *recorder
	err error

	mu       sync.Mutex
	gates    map[string]chan struct{}
	entered  chan string
	resolves int
	starts   int
	stops    int
	creds    domain.Credentials
}

func (p *fakeProxy) ResolveURL(ctx context.Context, item domain.MediaItem) (string, error) {
	p.mu.Lock()
	p.resolves++
	gate := p.gates[item.ID]
	entered := p.entered
	p.mu.Unlock()

	if entered != nil {
		entered <- item.ID
	}
	if gate != nil {
		<-gate
	}
	if p.err != nil {
		return "", p.err
	}
	return "http://127.0.0.1:9/stream/" + item.ID, nil
}

func (p *fakeProxy) StartServing(item domain.MediaItem, creds domain.Credentials) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.starts++
	p.creds = creds
	p.rec.add("proxy start %s", item.ID)
}

func (p *fakeProxy) StopServing(item domain.MediaItem) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stops++
	p.rec.add("proxy stop %s", item.ID)
}

func (p *fakeProxy) counts() (resolves, starts, stops int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.resolves, p.starts, p.stops
}

// recordingStore logs position store calls before delegating
type recordingStore struct {
	domain.PositionStore
	rec *recorder
}

func (s recordingStore) SetPosition(item domain.MediaItem, offset, duration *time.Duration) error {
	s.rec.add("store set %s offset=%s duration=%s", item.ID, fmtDur(offset), fmtDur(duration))
	return s.PositionStore.SetPosition(item, offset, duration)
}

func (s recordingStore) DeletePosition(item domain.MediaItem) error {
	s.rec.add("store delete %s", item.ID)
	return s.PositionStore.DeletePosition(item)
}

func fmtDur(d *time.Duration) string {
	if d == nil {
		return "nil"
	}
	return d.String()
}

type fakeToolbar struct {
	mu          sync.Mutex
	ready       int
	rateChanged int
	ended       int
	unavailable []error
}

func (t *fakeToolbar) OnPlayerReady()   { t.mu.Lock(); t.ready++; t.mu.Unlock() }
func (t *fakeToolbar) OnRateChanged()   { t.mu.Lock(); t.rateChanged++; t.mu.Unlock() }
func (t *fakeToolbar) OnPlaybackEnded() { t.mu.Lock(); t.ended++; t.mu.Unlock() }
func (t *fakeToolbar) OnPlaybackUnavailable(item domain.MediaItem, err error) {
	t.mu.Lock()
	t.unavailable = append(t.unavailable, err)
	t.mu.Unlock()
}

func (t *fakeToolbar) counts() (ready, rateChanged, ended, unavailable int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.ready, t.rateChanged, t.ended, len(t.unavailable)
}

type staticMute bool

func (m staticMute) AudioMute() bool { return bool(m) }

type fixture struct {
	c       *PlaybackCoordinator
	rec     *recorder
	engine  *fakeEngine
	proxy   *fakeProxy
	store   *store.LibraryStore
	toolbar *fakeToolbar
	target  *domain.RenderTarget
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	rec := &recorder{}
	st, err := store.NewLibraryStore("", "https://cloud.example.com")
	if err != nil {
		t.Fatalf("NewLibraryStore() error = %v", err)
	}
	t.Cleanup(func() { st.Close() })

	f := &fixture{
		rec:     rec,
		engine:  &fakeEngine{rec: rec, duration: 120 * time.Second},
		proxy:   &fakeProxy{rec: rec, gates: map[string]chan struct{}{}},
		store:   st,
		toolbar: &fakeToolbar{},
		target:  &domain.RenderTarget{Title: "clip", Width: 640, Height: 360},
	}
	f.c = NewPlaybackCoordinator(
		f.engine,
		f.proxy,
		recordingStore{PositionStore: st, rec: rec},
		staticMute(true),
		domain.Credentials{User: "alice", Password: "secret"},
		nil,
	)
	return f
}

func (f *fixture) start(item domain.MediaItem) {
	f.c.Start(context.Background(), item, f.target, f.toolbar)
}

func video(id string) domain.MediaItem {
	return domain.MediaItem{ID: id, Account: "alice", FileName: id + ".mp4", Class: domain.ClassVideo, ContentType: "video/mp4"}
}

func dur(d time.Duration) *time.Duration { return &d }

func TestStartIsIdempotent(t *testing.T) {
	f := newFixture(t)
	item := video("a")

	f.start(item)
	f.start(item)

	if got := f.engine.opened(); got != 1 {
		t.Fatalf("handles opened = %d, want 1", got)
	}
	rate, end := f.engine.last().subscriptions()
	if rate != 1 || end != 1 {
		t.Fatalf("subscriptions = %d rate, %d end; want 1 each", rate, end)
	}
	if ready, _, _, _ := f.toolbar.counts(); ready != 1 {
		t.Fatalf("OnPlayerReady called %d times, want 1", ready)
	}
	if f.c.State() != domain.StateReady {
		t.Fatalf("state = %v, want Ready", f.c.State())
	}
}

func TestStartStepsInOrder(t *testing.T) {
	f := newFixture(t)
	item := video("a")
	if err := f.store.SetPosition(item, dur(45*time.Second), nil); err != nil {
		t.Fatalf("SetPosition() error = %v", err)
	}

	f.start(item)

	ops := []string{
		"h1 muted true",
		"h1 seek 0s",
		"h1 attach 640x360",
		"store set a offset=nil duration=2m0s",
		"h1 seek 45s",
	}
	last := -1
	for _, op := range ops {
		i := f.rec.index(op)
		if i < 0 {
			t.Fatalf("missing %q in %v", op, f.rec.snapshot())
		}
		if i < last {
			t.Fatalf("%q out of order in %v", op, f.rec.snapshot())
		}
		last = i
	}

	pos, ok := f.store.GetPosition(item)
	if !ok || pos.Offset != 45*time.Second || pos.Duration != 120*time.Second {
		t.Fatalf("stored position = %+v, %v", pos, ok)
	}
	if got := f.c.CurrentTime(); got != 45*time.Second {
		t.Fatalf("CurrentTime() = %v, want 45s", got)
	}
}

func TestRemoveThenStartDropsOldCallbacks(t *testing.T) {
	f := newFixture(t)
	a, b := video("a"), video("b")

	f.start(a)
	old := f.engine.last()
	old.mu.Lock()
	staleRate, staleEnd := old.allRateFns[0], old.allEndFns[0]
	old.mu.Unlock()

	f.c.Remove()
	if rate, end := old.subscriptions(); rate != 0 || end != 0 {
		t.Fatalf("old handle still has %d rate and %d end subscriptions", rate, end)
	}

	f.start(b)
	_, rateBefore, endedBefore, _ := f.toolbar.counts()
	f.rec.reset()

	// Deliveries already in flight from the removed handle
	old.setPosition(30 * time.Second)
	staleRate(0)
	staleRate(1)
	staleEnd()

	if _, rate, ended, _ := f.toolbar.counts(); rate != rateBefore || ended != endedBefore {
		t.Fatalf("stale callbacks reached the toolbar")
	}
	if ops := f.rec.snapshot(); len(ops) != 0 {
		t.Fatalf("stale callbacks caused %v", ops)
	}
	if _, ok := f.store.GetPosition(a); ok {
		t.Fatalf("position stored for removed item")
	}
	if item, _ := f.c.ActiveItem(); item.ID != "b" {
		t.Fatalf("active item = %q, want b", item.ID)
	}
}

func TestLivePhotoPauseKeepsPositions(t *testing.T) {
	f := newFixture(t)
	item := video("live")
	item.LivePhoto = true

	f.start(item)
	h := f.engine.last()
	f.rec.reset()

	h.setPosition(3 * time.Second)
	h.fireRate(0)
	h.setPosition(120 * time.Second)
	h.fireRate(0.5)

	for _, op := range f.rec.snapshot() {
		if len(op) >= 5 && op[:5] == "store" {
			t.Fatalf("live pairing touched the position store: %v", f.rec.snapshot())
		}
	}
}

func TestScenarioPlayPauseRemove(t *testing.T) {
	f := newFixture(t)
	item := video("a")

	f.start(item)
	h := f.engine.last()
	if len(h.seeks) != 1 || h.seeks[0] != 0 {
		t.Fatalf("seeks after start = %v, want [0s]", h.seeks)
	}

	h.fireRate(1)
	if len(h.seeks) != 1 {
		t.Fatalf("rate 1 without a stored position seeked: %v", h.seeks)
	}
	if f.c.State() != domain.StatePlaying {
		t.Fatalf("state = %v, want Playing", f.c.State())
	}

	h.setPosition(45 * time.Second)
	h.fireRate(0)
	pos, ok := f.store.GetPosition(item)
	if !ok || pos.Offset != 45*time.Second || pos.Duration != 120*time.Second {
		t.Fatalf("stored position = %+v, %v; want 45s of 2m0s", pos, ok)
	}
	if f.c.State() != domain.StatePaused {
		t.Fatalf("state = %v, want Paused", f.c.State())
	}

	f.c.Remove()
	if rate, end := h.subscriptions(); rate != 0 || end != 0 {
		t.Fatalf("subscriptions after remove = %d rate, %d end", rate, end)
	}
	if _, _, stops := f.proxy.counts(); stops != 1 {
		t.Fatalf("proxy stopped %d times, want 1", stops)
	}
	if !h.closed || !h.detached {
		t.Fatalf("handle closed=%v detached=%v", h.closed, h.detached)
	}
	if f.c.State() != domain.StateIdle {
		t.Fatalf("state = %v, want Idle", f.c.State())
	}
	if _, ok := f.c.ActiveItem(); ok {
		t.Fatalf("active item survived Remove")
	}
}

func TestPauseAtEndDeletesPosition(t *testing.T) {
	f := newFixture(t)
	item := video("a")
	if err := f.store.SetPosition(item, dur(100*time.Second), nil); err != nil {
		t.Fatalf("SetPosition() error = %v", err)
	}

	f.start(item)
	h := f.engine.last()
	h.setPosition(120 * time.Second)
	h.fireRate(0)
	h.fireEnd()

	if _, ok := f.store.GetPosition(item); ok {
		t.Fatalf("position kept after reaching the end")
	}
	if h.Position() != 0 {
		t.Fatalf("end of item did not rewind, position %v", h.Position())
	}
	if _, _, ended, _ := f.toolbar.counts(); ended != 1 {
		t.Fatalf("OnPlaybackEnded called %d times", ended)
	}
}

func TestBackgroundPausesVideoOnly(t *testing.T) {
	f := newFixture(t)
	item := video("a")

	f.start(item)
	h := f.engine.last()
	if err := f.c.Play(); err != nil {
		t.Fatalf("Play() error = %v", err)
	}

	f.c.OnApplicationBackground()
	if h.pauses != 1 || h.closed {
		t.Fatalf("background: pauses=%d closed=%v", h.pauses, h.closed)
	}
	if rate, end := h.subscriptions(); rate != 1 || end != 1 {
		t.Fatalf("background removed subscriptions")
	}

	if err := f.c.Play(); err != nil {
		t.Fatalf("Play() error = %v", err)
	}
	resolves, starts, _ := f.proxy.counts()
	if resolves != 1 || starts != 2 || h.plays != 2 {
		t.Fatalf("resume: resolves=%d starts=%d plays=%d", resolves, starts, h.plays)
	}
	if f.proxy.creds.User != "alice" {
		t.Fatalf("credentials not passed to proxy")
	}

	audio := domain.MediaItem{ID: "song", Account: "alice", FileName: "song.mp3", Class: domain.ClassAudio}
	f.start(audio)
	ah := f.engine.last()
	f.c.OnApplicationBackground()
	if ah.pauses != 0 {
		t.Fatalf("audio paused on background")
	}
}

func TestPlayPauseDriveProxy(t *testing.T) {
	f := newFixture(t)
	f.start(video("a"))
	f.rec.reset()

	if err := f.c.Play(); err != nil {
		t.Fatalf("Play() error = %v", err)
	}
	if err := f.c.Pause(); err != nil {
		t.Fatalf("Pause() error = %v", err)
	}

	want := []string{"proxy start a", "h1 play", "h1 pause", "proxy stop a"}
	got := f.rec.snapshot()
	if len(got) != len(want) {
		t.Fatalf("ops = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("ops = %v, want %v", got, want)
		}
	}
}

func TestRateOneReturnsToStoredPosition(t *testing.T) {
	f := newFixture(t)
	item := video("a")
	if err := f.store.SetPosition(item, dur(45*time.Second), nil); err != nil {
		t.Fatalf("SetPosition() error = %v", err)
	}

	f.start(item)
	h := f.engine.last()
	if err := f.c.Seek(80 * time.Second); err != nil {
		t.Fatalf("Seek() error = %v", err)
	}
	f.rec.reset()

	h.fireRate(1)
	if h.Position() != 45*time.Second {
		t.Fatalf("position = %v, want stored 45s", h.Position())
	}
	if f.rec.index("h1 muted true") < 0 {
		t.Fatalf("mute not re-applied: %v", f.rec.snapshot())
	}
}

func TestRemoveWhilePlayingSavesPosition(t *testing.T) {
	f := newFixture(t)
	item := video("a")

	f.start(item)
	h := f.engine.last()
	if err := f.c.Play(); err != nil {
		t.Fatalf("Play() error = %v", err)
	}
	h.setPosition(30 * time.Second)

	f.c.Remove()

	pos, ok := f.store.GetPosition(item)
	if !ok || pos.Offset != 30*time.Second {
		t.Fatalf("stored position = %+v, %v; want 30s", pos, ok)
	}
}

func TestResolutionFailureReportsUnavailable(t *testing.T) {
	f := newFixture(t)
	f.proxy.err = domain.ErrNotStreamable

	f.start(video("a"))

	if f.engine.opened() != 0 {
		t.Fatalf("handle opened despite resolution failure")
	}
	if f.c.State() != domain.StateIdle {
		t.Fatalf("state = %v, want Idle", f.c.State())
	}
	f.toolbar.mu.Lock()
	defer f.toolbar.mu.Unlock()
	if len(f.toolbar.unavailable) != 1 || !errors.Is(f.toolbar.unavailable[0], domain.ErrNotStreamable) {
		t.Fatalf("unavailable = %v", f.toolbar.unavailable)
	}
}

func TestSupersededResolutionIsDiscarded(t *testing.T) {
	f := newFixture(t)
	gate := make(chan struct{})
	f.proxy.gates["a"] = gate
	f.proxy.entered = make(chan string, 2)

	done := make(chan struct{})
	go func() {
		defer close(done)
		f.start(video("a"))
	}()
	if id := <-f.proxy.entered; id != "a" {
		t.Fatalf("resolving %q, want a", id)
	}
	if f.c.State() != domain.StateLoading {
		t.Fatalf("state = %v, want Loading", f.c.State())
	}

	f.start(video("b"))
	<-f.proxy.entered
	close(gate)
	<-done

	if item, _ := f.c.ActiveItem(); item.ID != "b" {
		t.Fatalf("active item = %q, want b", item.ID)
	}
	if f.engine.opened() != 2 {
		t.Fatalf("opened = %d, want 2", f.engine.opened())
	}
	late := f.engine.last()
	if late.id != "h2" || !late.closed {
		t.Fatalf("late handle %s closed=%v, want h2 closed", late.id, late.closed)
	}
	if ready, _, _, _ := f.toolbar.counts(); ready != 1 {
		t.Fatalf("OnPlayerReady called %d times, want 1", ready)
	}
}

func TestIdleOperationsAreNoops(t *testing.T) {
	f := newFixture(t)

	if err := f.c.Play(); err != nil {
		t.Fatalf("Play() error = %v", err)
	}
	if err := f.c.Pause(); err != nil {
		t.Fatalf("Pause() error = %v", err)
	}
	if err := f.c.Seek(time.Second); err != nil {
		t.Fatalf("Seek() error = %v", err)
	}
	f.c.Remove()
	f.c.OnApplicationBackground()
	f.c.Start(context.Background(), video("a"), nil, f.toolbar)

	if resolves, starts, stops := f.proxy.counts(); resolves+starts+stops != 0 {
		t.Fatalf("idle operations reached the proxy")
	}
	if _, ok := f.c.Duration(); ok {
		t.Fatalf("Duration() known while idle")
	}
}

func TestObserveTime(t *testing.T) {
	f := newFixture(t)
	f.start(video("a"))
	f.engine.last().setPosition(12 * time.Second)

	ticks := make(chan time.Duration, 16)
	f.c.ObserveTime(5*time.Millisecond, func(d time.Duration) {
		select {
		case ticks <- d:
		default:
		}
	})

	select {
	case d := <-ticks:
		if d != 12*time.Second {
			t.Fatalf("observed %v, want 12s", d)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("time observer never fired")
	}
	f.c.Remove()
}

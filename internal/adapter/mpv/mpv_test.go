package mpv

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/mmcdole/kinoview/internal/adapter"
	"github.com/mmcdole/kinoview/internal/domain"
)

var (
	_ domain.Engine       = (*Engine)(nil)
	_ domain.PlayerHandle = (*Handle)(nil)
)

// fakeMPV answers the subset of the IPC protocol the engine uses
type fakeMPV struct {
	t        *testing.T
	ln       net.Listener
	failLoad bool

	writeMu sync.Mutex
	conn    net.Conn

	mu       sync.Mutex
	props    map[string]interface{}
	observed map[string]int64
	commands [][]interface{}
	options  []string

	done     chan struct{}
	doneOnce sync.Once
}

func (f *fakeMPV) Done() <-chan struct{} { return f.done }

func (f *fakeMPV) Kill() error {
	f.doneOnce.Do(func() { close(f.done) })
	return nil
}

type fakeSpawner struct {
	t        *testing.T
	failLoad bool

	mu   sync.Mutex
	last *fakeMPV
}

func (s *fakeSpawner) Spawn(socketPath string, options []string) (adapter.PlayerProcess, error) {
	ln, err := net.Listen("unix", socketPath)
	if err != nil {
		return nil, err
	}
	f := &fakeMPV{
		t:        s.t,
		ln:       ln,
		failLoad: s.failLoad,
		props: map[string]interface{}{
			"pause":       true,
			"speed":       1.0,
			"eof-reached": false,
			"time-pos":    nil,
			"duration":    nil,
			"mute":        false,
		},
		observed: make(map[string]int64),
		options:  options,
		done:     make(chan struct{}),
	}
	go f.serve()
	s.t.Cleanup(func() {
		_ = ln.Close()
		f.Kill()
	})

	s.mu.Lock()
	s.last = f
	s.mu.Unlock()
	return f, nil
}

func (s *fakeSpawner) fake() *fakeMPV {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

func (f *fakeMPV) serve() {
	conn, err := f.ln.Accept()
	if err != nil {
		return
	}
	f.writeMu.Lock()
	f.conn = conn
	f.writeMu.Unlock()

	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		var req struct {
			Command   []interface{} `json:"command"`
			RequestID int64         `json:"request_id"`
		}
		if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
			continue
		}
		f.mu.Lock()
		f.commands = append(f.commands, req.Command)
		f.mu.Unlock()
		f.handle(req.RequestID, req.Command)
	}
}

func (f *fakeMPV) send(v interface{}) {
	data, _ := json.Marshal(v)
	f.writeMu.Lock()
	defer f.writeMu.Unlock()
	if f.conn != nil {
		_, _ = f.conn.Write(append(data, '\n'))
	}
}

func (f *fakeMPV) reply(id int64, data interface{}, errStr string) {
	f.send(map[string]interface{}{"request_id": id, "error": errStr, "data": data})
}

// setProp changes a property and emits the change if observed
func (f *fakeMPV) setProp(name string, value interface{}) {
	f.mu.Lock()
	f.props[name] = value
	id, ok := f.observed[name]
	f.mu.Unlock()
	if ok {
		f.send(map[string]interface{}{"event": "property-change", "id": id, "name": name, "data": value})
	}
}

func (f *fakeMPV) prop(name string) interface{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.props[name]
}

func (f *fakeMPV) handle(id int64, cmd []interface{}) {
	if len(cmd) == 0 {
		f.reply(id, nil, "invalid parameter")
		return
	}
	switch cmd[0] {
	case "observe_property":
		name, _ := cmd[2].(string)
		f.mu.Lock()
		f.observed[name] = int64(cmd[1].(float64))
		f.mu.Unlock()
		f.reply(id, nil, "success")
		f.setProp(name, f.prop(name))
	case "loadfile":
		f.reply(id, nil, "success")
		if f.failLoad {
			f.send(map[string]interface{}{"event": "end-file", "reason": "error", "file_error": "loading failed"})
			return
		}
		f.send(map[string]interface{}{"event": "file-loaded"})
		f.setProp("time-pos", 0.0)
		f.setProp("duration", 120.0)
	case "set_property":
		name, _ := cmd[1].(string)
		f.reply(id, nil, "success")
		f.setProp(name, cmd[2])
	case "get_property":
		name, _ := cmd[1].(string)
		v := f.prop(name)
		if v == nil {
			f.reply(id, nil, "property unavailable")
			return
		}
		f.reply(id, v, "success")
	case "seek":
		f.reply(id, nil, "success")
		f.setProp("time-pos", cmd[1])
		f.setProp("eof-reached", false)
	case "quit":
		f.reply(id, nil, "success")
		_ = f.conn.Close()
		f.Kill()
	default:
		f.reply(id, nil, "invalid parameter")
	}
}

func newTestEngine(t *testing.T, failLoad bool) (*Engine, *fakeSpawner) {
	t.Helper()
	dir, err := os.MkdirTemp("", "kv")
	if err != nil {
		t.Fatalf("temp dir: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })

	sp := &fakeSpawner{t: t, failLoad: failLoad}
	return NewEngine(sp, Options{SocketDir: dir, OpenTimeout: 5 * time.Second}, nil), sp
}

func openHandle(t *testing.T) (*Handle, *fakeMPV) {
	t.Helper()
	e, sp := newTestEngine(t, false)
	ph, err := e.Open(context.Background(), "http://127.0.0.1:1/stream/abc")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	h := ph.(*Handle)
	t.Cleanup(func() { _ = h.Close() })
	return h, sp.fake()
}

func waitRate(t *testing.T, ch <-chan float64, want float64) {
	t.Helper()
	select {
	case got := <-ch:
		if got != want {
			t.Fatalf("rate = %v, want %v", got, want)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for rate %v", want)
	}
}

func TestOpenLoadsFile(t *testing.T) {
	h, f := openHandle(t)

	d, ok := h.Duration()
	if !ok || d != 120*time.Second {
		t.Fatalf("Duration() = %v, %v; want 120s", d, ok)
	}
	if h.Rate() != 0 {
		t.Fatalf("Rate() = %v, want 0 while paused", h.Rate())
	}

	want := map[string]bool{"idle=yes": false, "pause=yes": false, "keep-open=yes": false, "vid=no": false}
	for _, opt := range f.options {
		if _, ok := want[opt]; ok {
			want[opt] = true
		}
	}
	for opt, seen := range want {
		if !seen {
			t.Fatalf("option %q not passed to mpv", opt)
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	var loaded bool
	for _, cmd := range f.commands {
		if cmd[0] == "loadfile" && cmd[1] == "http://127.0.0.1:1/stream/abc" {
			loaded = true
		}
	}
	if !loaded {
		t.Fatalf("loadfile not sent: %v", f.commands)
	}
}

func TestOpenFailsWhenFileCannotLoad(t *testing.T) {
	e, _ := newTestEngine(t, true)
	_, err := e.Open(context.Background(), "http://127.0.0.1:1/missing")
	if !errors.Is(err, domain.ErrNotStreamable) {
		t.Fatalf("Open() error = %v, want ErrNotStreamable", err)
	}
}

func TestRateChangeCallbacks(t *testing.T) {
	h, f := openHandle(t)

	rates := make(chan float64, 8)
	h.OnRateChange(func(r float64) { rates <- r })

	if err := h.Play(); err != nil {
		t.Fatalf("Play() error = %v", err)
	}
	waitRate(t, rates, 1)

	f.setProp("speed", 2.0)
	waitRate(t, rates, 2)

	if err := h.Pause(); err != nil {
		t.Fatalf("Pause() error = %v", err)
	}
	waitRate(t, rates, 0)
}

func TestStaleChangeEventDoesNotFlipRate(t *testing.T) {
	h, f := openHandle(t)

	rates := make(chan float64, 8)
	h.OnRateChange(func(r float64) { rates <- r })

	if err := h.Play(); err != nil {
		t.Fatalf("Play() error = %v", err)
	}
	waitRate(t, rates, 1)

	// A change event carrying an old value; mpv itself is still playing
	f.mu.Lock()
	id := f.observed["pause"]
	f.mu.Unlock()
	f.send(map[string]interface{}{"event": "property-change", "id": id, "name": "pause", "data": true})

	select {
	case r := <-rates:
		t.Fatalf("rate changed to %v on a stale event", r)
	case <-time.After(200 * time.Millisecond):
	}
	if h.Rate() != 1 {
		t.Fatalf("Rate() = %v, want 1", h.Rate())
	}
}

func TestEndOfItem(t *testing.T) {
	h, f := openHandle(t)

	rates := make(chan float64, 8)
	ended := make(chan struct{}, 1)
	h.OnRateChange(func(r float64) { rates <- r })
	h.OnEnd(func() { ended <- struct{}{} })

	if err := h.Play(); err != nil {
		t.Fatalf("Play() error = %v", err)
	}
	waitRate(t, rates, 1)

	f.setProp("eof-reached", true)
	waitRate(t, rates, 0)
	select {
	case <-ended:
	case <-time.After(2 * time.Second):
		t.Fatalf("end callback not delivered")
	}
}

func TestUnsubscribe(t *testing.T) {
	h, _ := openHandle(t)

	rates := make(chan float64, 8)
	unsubscribe := h.OnRateChange(func(r float64) { rates <- r })
	unsubscribe()

	if err := h.Play(); err != nil {
		t.Fatalf("Play() error = %v", err)
	}
	select {
	case r := <-rates:
		t.Fatalf("unsubscribed callback received rate %v", r)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestSeekAndPosition(t *testing.T) {
	h, _ := openHandle(t)

	if err := h.Seek(45 * time.Second); err != nil {
		t.Fatalf("Seek() error = %v", err)
	}
	if got := h.Position(); got != 45*time.Second {
		t.Fatalf("Position() = %v, want 45s", got)
	}
}

func TestAttachAndDetachLayer(t *testing.T) {
	h, f := openHandle(t)

	l, err := h.AttachLayer(&domain.RenderTarget{Title: "clip.mp4", Width: 640, Height: 360})
	if err != nil {
		t.Fatalf("AttachLayer() error = %v", err)
	}
	if got := f.prop("geometry"); got != "640x360" {
		t.Fatalf("geometry = %v", got)
	}
	if got := f.prop("keepaspect"); got != true {
		t.Fatalf("keepaspect = %v", got)
	}
	if got := f.prop("vid"); got != "auto" {
		t.Fatalf("vid = %v", got)
	}

	if err := l.Detach(); err != nil {
		t.Fatalf("Detach() error = %v", err)
	}
	if got := f.prop("vid"); got != "no" {
		t.Fatalf("vid after detach = %v", got)
	}
}

func TestCloseQuitsPlayer(t *testing.T) {
	h, f := openHandle(t)

	if err := h.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	select {
	case <-f.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("player did not quit")
	}
	if err := h.Play(); !errors.Is(err, domain.ErrEngineClosed) {
		t.Fatalf("Play() after Close error = %v, want ErrEngineClosed", err)
	}
	if err := h.Close(); !errors.Is(err, domain.ErrEngineClosed) {
		t.Fatalf("second Close() error = %v, want ErrEngineClosed", err)
	}
}

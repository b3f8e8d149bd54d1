// Package mpv drives an external mpv process over its JSON IPC socket.
package mpv

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/dexterlb/mpvipc"
	"github.com/google/uuid"

	"github.com/mmcdole/kinoview/internal/adapter"
	"github.com/mmcdole/kinoview/internal/domain"
)

// Spawner starts a player process serving IPC on socketPath
type Spawner interface {
	Spawn(socketPath string, options []string) (adapter.PlayerProcess, error)
}

// Options configures the engine
type Options struct {
	SocketDir   string        // Where IPC sockets are created, os.TempDir() when empty
	OpenTimeout time.Duration // Upper bound for spawn + load
	Extra       []string      // Additional mpv options ("key=value")
}

// baseOptions start mpv idle, paused and windowless until a layer is attached
var baseOptions = []string{
	"idle=yes",
	"pause=yes",
	"keep-open=yes",
	"force-window=no",
	"vid=no",
	"terminal=no",
	"input-default-bindings=no",
	"osc=yes",
}

// Engine implements domain.Engine with one mpv process per handle
type Engine struct {
	spawner Spawner
	opts    Options
	logger  *slog.Logger
}

// NewEngine creates an engine
func NewEngine(spawner Spawner, opts Options, logger *slog.Logger) *Engine {
	if opts.SocketDir == "" {
		opts.SocketDir = os.TempDir()
	}
	if opts.OpenTimeout <= 0 {
		opts.OpenTimeout = 30 * time.Second
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Engine{spawner: spawner, opts: opts, logger: logger}
}

// Open spawns mpv, loads url and waits until the file is loaded
func (e *Engine) Open(ctx context.Context, url string) (domain.PlayerHandle, error) {
	ctx, cancel := context.WithTimeout(ctx, e.opts.OpenTimeout)
	defer cancel()

	id := uuid.NewString()
	socketPath := filepath.Join(e.opts.SocketDir, "kinoview-"+id[:8]+".sock")
	_ = os.Remove(socketPath)

	options := append(append([]string{}, baseOptions...), e.opts.Extra...)
	proc, err := e.spawner.Spawn(socketPath, options)
	if err != nil {
		return nil, err
	}

	conn, err := connect(ctx, socketPath, proc)
	if err != nil {
		_ = proc.Kill()
		return nil, err
	}

	h := newHandle(id, conn, proc, socketPath, e.logger)
	if err := h.load(ctx, url); err != nil {
		_ = h.Close()
		return nil, err
	}

	e.logger.Debug("mpv handle ready", "handle", id, "url", url)
	return h, nil
}

// connect waits for mpv to create its IPC socket
func connect(ctx context.Context, socketPath string, proc adapter.PlayerProcess) (*mpvipc.Connection, error) {
	conn := mpvipc.NewConnection(socketPath)
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()

	for {
		err := conn.Open()
		if err == nil {
			return conn, nil
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("mpv: connect %s: %w: %v", socketPath, ctx.Err(), err)
		case <-proc.Done():
			return nil, fmt.Errorf("mpv: exited before opening its socket")
		case <-ticker.C:
		}
	}
}

package adapter

import (
	"fmt"
	"log/slog"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
)

// Launcher starts mpv-compatible players with a JSON IPC socket
type Launcher struct {
	command string   // configured player command, empty for auto-detection
	args    []string // additional arguments for the player
	logger  *slog.Logger
}

// launchPath defines a single way to launch a player
type launchPath struct {
	path         string // Command path: "/usr/bin/mpv", "mpv", "iina-cli"
	argSeparator string // Separator before player options (e.g., "--" for iina-cli)
}

// playerConfig defines how a player accepts mpv options
type playerConfig struct {
	optionPrefix string                  // Prefix for mpv options (e.g., "--" or "--mpv-")
	platforms    map[string][]launchPath // Platform -> launch paths to try in order
}

// players registry - single source of truth for all player configuration
var players = map[string]playerConfig{
	"mpv": {
		optionPrefix: "--",
		platforms: map[string][]launchPath{
			"darwin":  {{path: "mpv"}, {path: "/opt/homebrew/bin/mpv"}, {path: "/usr/local/bin/mpv"}},
			"linux":   {{path: "mpv"}},
			"windows": {{path: "mpv"}},
		},
	},
	"iina-cli": {
		optionPrefix: "--mpv-",
		platforms: map[string][]launchPath{
			"darwin": {{path: "iina-cli", argSeparator: "--"}},
		},
	},
	"celluloid": {
		optionPrefix: "--mpv-",
		platforms: map[string][]launchPath{
			"linux": {{path: "celluloid"}},
		},
	},
}

// candidatePlayers defines the preferred player order for each platform
var candidatePlayers = map[string][]string{
	"darwin":  {"mpv", "iina-cli"},
	"linux":   {"mpv", "celluloid"},
	"windows": {"mpv"},
}

// PlayerProcess is a running player
type PlayerProcess interface {
	// Done is closed when the process exits
	Done() <-chan struct{}
	// Kill terminates the process
	Kill() error
}

// NewLauncher creates a new Launcher
func NewLauncher(command string, args []string, logger *slog.Logger) *Launcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Launcher{
		command: command,
		args:    args,
		logger:  logger,
	}
}

// resolved is a player binary found on this system
type resolved struct {
	name   string
	path   string
	config playerConfig
	launch launchPath
}

// playerName normalizes a command to a registry key
func playerName(command string) string {
	base := filepath.Base(command)
	// Strip any extension (for Windows .exe)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	return strings.ToLower(base)
}

// Resolve finds the player binary: the configured command first, then the
// platform candidates in order
func (l *Launcher) Resolve() (name, path string, err error) {
	r, err := l.resolve()
	if err != nil {
		return "", "", err
	}
	return r.name, r.path, nil
}

func (l *Launcher) resolve() (resolved, error) {
	// Tier 1: User configured a specific player
	if l.command != "" {
		name := playerName(l.command)
		cfg, ok := players[name]
		if !ok {
			// Unknown wrapper, assume it takes plain mpv options
			cfg = players["mpv"]
		}
		path, err := exec.LookPath(l.command)
		if err != nil {
			return resolved{}, fmt.Errorf("configured player %q: %w", l.command, err)
		}
		lp := launchPath{path: path}
		if paths, ok := cfg.platforms[runtime.GOOS]; ok && len(paths) > 0 {
			lp.argSeparator = paths[0].argSeparator
		}
		return resolved{name: name, path: path, config: cfg, launch: lp}, nil
	}

	// Tier 2: Try candidate chain
	candidates, ok := candidatePlayers[runtime.GOOS]
	if !ok {
		candidates = candidatePlayers["linux"] // default
	}
	for _, name := range candidates {
		cfg, exists := players[name]
		if !exists {
			continue
		}
		launchPaths, ok := cfg.platforms[runtime.GOOS]
		if !ok {
			l.logger.Debug("player not available on this platform", "player", name, "platform", runtime.GOOS)
			continue
		}
		for _, lp := range launchPaths {
			path, err := exec.LookPath(lp.path)
			if err != nil {
				l.logger.Debug("launch path not available", "player", name, "path", lp.path, "error", err)
				continue
			}
			lp.path = path
			return resolved{name: name, path: path, config: cfg, launch: lp}, nil
		}
	}

	return resolved{}, fmt.Errorf("no mpv-compatible player found")
}

// buildArgs turns mpv options ("key=value") into command line arguments
func buildArgs(r resolved, socketPath string, options, extra []string) []string {
	var args []string
	args = append(args, extra...)
	if r.launch.argSeparator != "" {
		args = append(args, r.launch.argSeparator)
	}
	args = append(args, r.config.optionPrefix+"input-ipc-server="+socketPath)
	for _, opt := range options {
		args = append(args, r.config.optionPrefix+strings.TrimPrefix(opt, "--"))
	}
	return args
}

// Spawn starts the player idle with its IPC server on socketPath
func (l *Launcher) Spawn(socketPath string, options []string) (PlayerProcess, error) {
	r, err := l.resolve()
	if err != nil {
		return nil, err
	}

	args := buildArgs(r, socketPath, options, l.args)
	l.logger.Info("launching player", "player", r.name, "path", r.path, "args", args)

	cmd := exec.Command(r.path, args...)
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", r.name, err)
	}

	p := &process{cmd: cmd, done: make(chan struct{})}
	go func() {
		p.err = cmd.Wait()
		close(p.done)
		l.logger.Debug("player exited", "player", r.name, "error", p.err)
	}()
	return p, nil
}

// process wraps a started player command
type process struct {
	cmd  *exec.Cmd
	done chan struct{}
	err  error
	once sync.Once
}

func (p *process) Done() <-chan struct{} { return p.done }

func (p *process) Kill() error {
	var err error
	p.once.Do(func() {
		select {
		case <-p.done:
			return
		default:
		}
		err = p.cmd.Process.Kill()
	})
	return err
}

package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/mmcdole/kinoview/internal/adapter"
	"github.com/mmcdole/kinoview/internal/adapter/mpv"
	"github.com/mmcdole/kinoview/internal/adapter/source"
	"github.com/mmcdole/kinoview/internal/adapter/source/nextcloud"
	"github.com/mmcdole/kinoview/internal/domain"
	"github.com/mmcdole/kinoview/internal/library"
	"github.com/mmcdole/kinoview/internal/proxy"
	"github.com/mmcdole/kinoview/internal/search"
	"github.com/mmcdole/kinoview/internal/service"
	"github.com/mmcdole/kinoview/internal/store"
	"github.com/mmcdole/kinoview/internal/tui"
	"github.com/mmcdole/kinoview/internal/tui/styles"
)

// Version is set at build time via -ldflags
var Version = "dev"

// clearSpinnerLine clears the spinner line from the terminal
const clearSpinnerLine = "\r                                    \r"

func main() {
	var showVersion, logout bool
	flag.BoolVar(&showVersion, "v", false, "print version")
	flag.BoolVar(&showVersion, "version", false, "print version")
	flag.BoolVar(&logout, "logout", false, "forget the server and clear cached data")
	flag.Parse()

	if showVersion {
		fmt.Printf("kinoview %s\n", Version)
		return
	}

	if err := run(logout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(logout bool) error {
	cfg, err := adapter.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger, logFile, err := adapter.SetupLogger(&cfg.Logging)
	if err != nil {
		// Fall back to null logger if file logging fails
		logger = adapter.NullLogger()
	} else {
		defer logFile.Close()
	}
	slog.SetDefault(logger)

	logger.Info("starting kinoview", "version", Version)

	session := service.NewSessionService(cfg.Storage.Path, cfg.Proxy.CacheDir)
	if logout {
		if err := session.Logout(); err != nil {
			return fmt.Errorf("logout failed: %w", err)
		}
		fmt.Println("✓ Logged out and cache cleared.")
		return nil
	}

	if !cfg.IsConfigured() {
		return runSetupFlow(cfg, logger)
	}

	client, err := source.NewClientFromConfig(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to create server client: %w", err)
	}

	// Library cache, one database per server
	libraryStore, err := store.NewLibraryStore(cfg.Storage.Path, cfg.Server.URL)
	if err != nil {
		return fmt.Errorf("failed to open library store: %w", err)
	}
	defer libraryStore.Close()

	positions, err := store.NewPositionStore(cfg.Storage.PositionsBackend, cfg.Storage.Path, libraryStore, logger.With("component", "positions"))
	if err != nil {
		return fmt.Errorf("failed to open position store: %w", err)
	}
	defer positions.Close()

	creds := client.Credentials()
	streamProxy, err := proxy.New(proxy.Config{
		Addr:       cfg.Proxy.Addr,
		CacheDir:   cfg.Proxy.CacheDir,
		StorageDir: cfg.Proxy.StorageDir,
		ChunkSize:  cfg.Proxy.ChunkSize,
		MaxItems:   cfg.Proxy.MaxItems,
	}, creds, logger.With("component", "proxy"))
	if err != nil {
		return fmt.Errorf("failed to create streaming proxy: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := streamProxy.Close(ctx); err != nil {
			logger.Warn("proxy shutdown failed", "error", err)
		}
	}()

	// Create launcher (uses configured player or auto-detects)
	launcher := adapter.NewLauncher(cfg.Player.Command, cfg.Player.Args, logger)
	name, path, err := launcher.Resolve()
	if err != nil {
		return fmt.Errorf("no player found: %w", err)
	}
	logger.Info("using player", "name", name, "path", path)
	engine := mpv.NewEngine(launcher, mpv.Options{
		SocketDir:   filepath.Join(os.TempDir(), "kinoview"),
		OpenTimeout: cfg.Player.OpenTimeout,
		Extra:       cfg.Player.Options,
	}, logger.With("component", "mpv"))

	prefs := adapter.NewPreferences(cfg.Preferences, logger)
	prefs.Watch()

	// Create services
	librarySvc := library.NewService(client, libraryStore, logger)
	searchSvc := search.NewService(logger)
	coordinator := service.NewPlaybackCoordinator(engine, streamProxy, positions, prefs, creds, logger.With("component", "playback"))
	defer coordinator.Remove()

	model := tui.NewModel(tui.Options{
		Library:     librarySvc,
		Player:      coordinator,
		Search:      searchSvc,
		Preferences: prefs,
		Logout:      session.Logout,
		Target:      domain.RenderTarget{Width: cfg.Player.Width, Height: cfg.Player.Height},
		Logger:      logger.With("component", "tui"),
	})

	p := tea.NewProgram(
		model,
		tea.WithAltScreen(),
		tea.WithReportFocus(),
	)

	logger.Info("starting TUI")

	final, err := p.Run()
	if err != nil {
		logger.Error("TUI error", "error", err)
		return fmt.Errorf("TUI error: %w", err)
	}
	if m, ok := final.(tui.Model); ok && m.QuitMessage() != "" {
		fmt.Println(m.QuitMessage())
	}

	logger.Info("shutting down")
	return nil
}

// runSetupFlow handles the initial setup when not configured
func runSetupFlow(cfg *adapter.Config, logger *slog.Logger) error {
	fmt.Println()
	fmt.Println("Welcome to kinoview!")
	fmt.Println()

	// Loop until we get a reachable server
	var serverURL string
	for {
		input, err := nextcloud.PromptForServerURL()
		if err != nil {
			return err
		}
		if input == "" {
			fmt.Println("Server URL cannot be empty. Please try again.")
			continue
		}

		fmt.Println()
		if err := detectServerWithSpinner(input); err != nil {
			fmt.Printf("\n✗ Could not reach a Nextcloud server: %v\n", err)
			fmt.Println("Please check the URL and try again.")
			fmt.Println()
			continue
		}
		serverURL = input
		break
	}

	ctx := context.Background()
	result, err := source.NewAuthFlow(logger).Run(ctx, serverURL)
	if err != nil {
		return fmt.Errorf("authentication failed: %w", err)
	}

	cfg.Server.URL = serverURL
	cfg.Server.User = result.Username
	cfg.Server.Token = result.Token
	cfg.Server.UserID = result.UserID

	if err := adapter.SaveConfig(cfg); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}

	fmt.Println()
	fmt.Println("✓ Configuration saved!")
	fmt.Println()
	fmt.Println("Run kinoview again to start the application.")

	return nil
}

// detectServerWithSpinner checks status.php with a visual spinner
func detectServerWithSpinner(serverURL string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	type result struct {
		status *nextcloud.ServerStatus
		err    error
	}
	resultCh := make(chan result, 1)

	go func() {
		status, err := nextcloud.DetectServer(ctx, serverURL)
		resultCh <- result{status, err}
	}()

	frame := 0
	fmt.Printf("\r%s Contacting server...", styles.SpinnerFrames[frame])

	ticker := time.NewTicker(80 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case res := <-resultCh:
			fmt.Print(clearSpinnerLine)
			if res.err != nil {
				return res.err
			}
			fmt.Printf("✓ Detected: %s %s\n", res.status.ProductName, res.status.VersionString)
			return nil

		case <-ticker.C:
			frame++
			fmt.Printf("\r%s Contacting server...", styles.SpinnerFrames[frame%len(styles.SpinnerFrames)])

		case <-ctx.Done():
			fmt.Print(clearSpinnerLine)
			return fmt.Errorf("server did not answer in time")
		}
	}
}

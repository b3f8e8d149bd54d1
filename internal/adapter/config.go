package adapter

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Player      PlayerConfig      `mapstructure:"player"`
	Proxy       ProxyConfig       `mapstructure:"proxy"`
	Storage     StorageConfig     `mapstructure:"storage"`
	Preferences PreferencesConfig `mapstructure:"preferences"`
	UI          UIConfig          `mapstructure:"ui"`
	Logging     LoggingConfig     `mapstructure:"logging"`
}

// ServerConfig holds Nextcloud server configuration
type ServerConfig struct {
	URL    string `mapstructure:"url"`     // Server URL
	User   string `mapstructure:"user"`    // Login name
	Token  string `mapstructure:"token"`   // App password
	UserID string `mapstructure:"user_id"` // User id used in WebDAV paths
}

// PlayerConfig holds mpv configuration
type PlayerConfig struct {
	Command     string        `mapstructure:"command"` // empty for auto-detection
	Args        []string      `mapstructure:"args"`
	Options     []string      `mapstructure:"options"` // extra mpv options, "key=value"
	OpenTimeout time.Duration `mapstructure:"open_timeout"`
	Width       int           `mapstructure:"width"`
	Height      int           `mapstructure:"height"`
}

// ProxyConfig holds the local caching proxy configuration
type ProxyConfig struct {
	Addr       string `mapstructure:"addr"`
	CacheDir   string `mapstructure:"cache_dir"`
	StorageDir string `mapstructure:"storage_dir"` // offline copies
	ChunkSize  int64  `mapstructure:"chunk_size"`
	MaxItems   int    `mapstructure:"max_items"`
}

// StorageConfig holds local database configuration
type StorageConfig struct {
	Path             string `mapstructure:"path"`
	PositionsBackend string `mapstructure:"positions_backend"` // "bolt" or "sqlite"
}

// PreferencesConfig holds user preferences
type PreferencesConfig struct {
	AudioMute       bool   `mapstructure:"audio_mute"`
	ShowHiddenFiles bool   `mapstructure:"show_hidden_files"`
	DirectoryOnTop  bool   `mapstructure:"directory_on_top"`
	FavoriteOnTop   bool   `mapstructure:"favorite_on_top"`
	Sort            string `mapstructure:"sort"` // "name", "date" or "size"
	Ascending       bool   `mapstructure:"ascending"`
}

// UIConfig holds UI configuration
type UIConfig struct {
	Theme string `mapstructure:"theme"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	File  string `mapstructure:"file"`
	Level string `mapstructure:"level"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Player: PlayerConfig{
			Command:     "",
			Args:        []string{},
			Options:     []string{},
			OpenTimeout: 30 * time.Second,
			Width:       1280,
			Height:      720,
		},
		Proxy: ProxyConfig{
			Addr:       "127.0.0.1:0",
			CacheDir:   filepath.Join(defaultCachePath(), "stream"),
			StorageDir: filepath.Join(defaultDataPath(), "offline"),
			ChunkSize:  2 << 20,
			MaxItems:   16,
		},
		Storage: StorageConfig{
			Path:             defaultCachePath(),
			PositionsBackend: "bolt",
		},
		Preferences: PreferencesConfig{
			AudioMute:       false,
			ShowHiddenFiles: false,
			DirectoryOnTop:  true,
			FavoriteOnTop:   true,
			Sort:            "name",
			Ascending:       true,
		},
		UI: UIConfig{
			Theme: "default",
		},
		Logging: LoggingConfig{
			File:  filepath.Join(defaultDataPath(), "kinoview.log"),
			Level: "INFO",
		},
	}
}

// defaultDataPath returns the default data directory for the current OS
func defaultDataPath() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("APPDATA"), "kinoview")
	default:
		home, _ := os.UserHomeDir()
		return filepath.Join(home, ".local", "share", "kinoview")
	}
}

// defaultConfigPath returns the default config file path for the current OS
func defaultConfigPath() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("APPDATA"), "kinoview")
	default:
		home, _ := os.UserHomeDir()
		return filepath.Join(home, ".config", "kinoview")
	}
}

// ConfigFile returns the path SaveConfig writes to
func ConfigFile() string {
	return filepath.Join(defaultConfigPath(), "config.yaml")
}

// LoadConfig loads configuration from file and environment
func LoadConfig() (*Config, error) {
	cfg := DefaultConfig()

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(defaultConfigPath())
	viper.AddConfigPath(".")

	// Environment variable overrides (KINOVIEW_SERVER_URL, ...)
	viper.SetEnvPrefix("KINOVIEW")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
	bindEnv()

	// Read config file if it exists
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found is OK, use defaults
	}

	if err := viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("error parsing config: %w", err)
	}

	return cfg, nil
}

// bindEnv registers keys so AutomaticEnv can override values absent from the file
func bindEnv() {
	for _, key := range []string{
		"server.url", "server.user", "server.token", "server.user_id",
		"player.command", "proxy.addr", "storage.positions_backend",
		"preferences.audio_mute", "logging.level",
	} {
		_ = viper.BindEnv(key)
	}
}

// SaveConfig saves the current configuration to file
func SaveConfig(cfg *Config) error {
	// Set server fields individually to ensure correct key names (snake_case)
	viper.Set("server.url", cfg.Server.URL)
	viper.Set("server.user", cfg.Server.User)
	viper.Set("server.token", cfg.Server.Token)
	viper.Set("server.user_id", cfg.Server.UserID)

	// Set player fields
	viper.Set("player.command", cfg.Player.Command)
	viper.Set("player.args", cfg.Player.Args)
	viper.Set("player.options", cfg.Player.Options)
	viper.Set("player.open_timeout", cfg.Player.OpenTimeout.String())
	viper.Set("player.width", cfg.Player.Width)
	viper.Set("player.height", cfg.Player.Height)

	// Set proxy fields
	viper.Set("proxy.addr", cfg.Proxy.Addr)
	viper.Set("proxy.cache_dir", cfg.Proxy.CacheDir)
	viper.Set("proxy.storage_dir", cfg.Proxy.StorageDir)
	viper.Set("proxy.chunk_size", cfg.Proxy.ChunkSize)
	viper.Set("proxy.max_items", cfg.Proxy.MaxItems)

	// Set storage fields
	viper.Set("storage.path", cfg.Storage.Path)
	viper.Set("storage.positions_backend", cfg.Storage.PositionsBackend)

	// Set preferences
	setPreferences(cfg.Preferences)

	// Set UI fields
	viper.Set("ui.theme", cfg.UI.Theme)

	// Set logging fields
	viper.Set("logging.file", cfg.Logging.File)
	viper.Set("logging.level", cfg.Logging.Level)

	return writeConfig()
}

func setPreferences(p PreferencesConfig) {
	viper.Set("preferences.audio_mute", p.AudioMute)
	viper.Set("preferences.show_hidden_files", p.ShowHiddenFiles)
	viper.Set("preferences.directory_on_top", p.DirectoryOnTop)
	viper.Set("preferences.favorite_on_top", p.FavoriteOnTop)
	viper.Set("preferences.sort", p.Sort)
	viper.Set("preferences.ascending", p.Ascending)
}

func writeConfig() error {
	configPath := defaultConfigPath()

	// Ensure config directory exists
	if err := os.MkdirAll(configPath, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := viper.WriteConfigAs(ConfigFile()); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// IsConfigured returns true if the server URL and app password are set
func (c *Config) IsConfigured() bool {
	return c.Server.URL != "" && c.Server.User != "" && c.Server.Token != ""
}

// defaultCachePath returns the default cache directory path for the current OS
func defaultCachePath() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("LOCALAPPDATA"), "kinoview", "cache")
	default:
		home, _ := os.UserHomeDir()
		return filepath.Join(home, ".local", "share", "kinoview", "cache")
	}
}

// ClearServerConfig removes all server-related configuration (URL, credentials)
// while preserving other settings (player, proxy, UI, logging, preferences)
func ClearServerConfig() error {
	viper.Set("server.url", "")
	viper.Set("server.user", "")
	viper.Set("server.token", "")
	viper.Set("server.user_id", "")
	return writeConfig()
}

// ClearCache removes all cached data
func ClearCache(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{defaultCachePath()}
	}
	for _, p := range paths {
		if p == "" {
			continue
		}
		if err := os.RemoveAll(p); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to clear cache: %w", err)
		}
	}
	return nil
}

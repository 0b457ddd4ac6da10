// Package config loads buildwire configuration.
//
// Sources, highest priority first:
//  1. Environment variables (BUILDWIRE_*, nested keys joined with "_")
//  2. Config file (JSON, YAML or TOML; ~/.config/buildwire/config.yaml by default)
//  3. Built-in defaults
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/spf13/viper"

	"github.com/codefionn/buildwire/internal/consts"
)

const envPrefix = "BUILDWIRE"

// SocketConfig controls the unix socket the server listens on.
type SocketConfig struct {
	// Path overrides the per-project socket path when non-empty.
	Path           string `mapstructure:"path"`
	Permissions    string `mapstructure:"permissions"`
	MaxConnections int    `mapstructure:"max_connections"`
	StateDir       string `mapstructure:"state_dir"`
}

// AuthConfig controls token authentication of new channels.
type AuthConfig struct {
	TokenRequired bool `mapstructure:"token_required"`
	// TokenFile overrides the token file written next to the socket.
	TokenFile string `mapstructure:"token_file"`
}

// ChannelConfig tunes every accepted channel.
type ChannelConfig struct {
	ReadTimeout       time.Duration `mapstructure:"read_timeout"`
	PropertiesTTL     time.Duration `mapstructure:"properties_ttl"`
	PropertiesTimeout time.Duration `mapstructure:"properties_timeout"`
	CapabilityTimeout time.Duration `mapstructure:"capability_timeout"`
}

// WebSocketConfig enables the websocket gateway when Addr is set.
type WebSocketConfig struct {
	Addr string `mapstructure:"addr"`
}

// EngineConfig configures the reference engine that runs command lines.
type EngineConfig struct {
	// Shell runs each command line as "<shell> -c <line>".
	Shell string `mapstructure:"shell"`
}

// DebugConfig enables profiling of the server process.
type DebugConfig struct {
	// Pprof mounts /debug/pprof on the websocket gateway.
	Pprof            bool   `mapstructure:"pprof"`
	CPUProfile       string `mapstructure:"cpu_profile"`
	HeapProfile      string `mapstructure:"heap_profile"`
	GoroutineProfile string `mapstructure:"goroutine_profile"`
}

// Config represents application configuration
type Config struct {
	LogLevel  string          `mapstructure:"log_level"` // debug, info, warn, error, none
	LogPath   string          `mapstructure:"log_path"`
	Socket    SocketConfig    `mapstructure:"socket"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Channel   ChannelConfig   `mapstructure:"channel"`
	WebSocket WebSocketConfig `mapstructure:"websocket"`
	Engine    EngineConfig    `mapstructure:"engine"`
	Debug     DebugConfig     `mapstructure:"debug"`
}

func defaultConfigDir() string {
	switch runtime.GOOS {
	case "windows":
		if appData := strings.TrimSpace(os.Getenv("APPDATA")); appData != "" {
			return filepath.Join(appData, "buildwire")
		}
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, "AppData", "Roaming", "buildwire")
	default:
		if configHome := strings.TrimSpace(os.Getenv("XDG_CONFIG_HOME")); configHome != "" {
			return filepath.Join(configHome, "buildwire")
		}
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, ".config", "buildwire")
	}
}

func defaultStateDir() string {
	switch runtime.GOOS {
	case "linux":
		if stateHome := strings.TrimSpace(os.Getenv("XDG_STATE_HOME")); stateHome != "" {
			return filepath.Join(stateHome, "buildwire")
		}
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, ".local", "state", "buildwire")
	case "windows":
		if localAppData := strings.TrimSpace(os.Getenv("LOCALAPPDATA")); localAppData != "" {
			return filepath.Join(localAppData, "buildwire")
		}
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, "AppData", "Local", "buildwire")
	default:
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, ".config", "buildwire", "state")
	}
}

// GetConfigPath returns the default config file path.
func GetConfigPath() string {
	return filepath.Join(defaultConfigDir(), "config.yaml")
}

// DefaultConfig returns default configuration
func DefaultConfig() *Config {
	stateDir := defaultStateDir()

	return &Config{
		LogLevel: "info",
		LogPath:  filepath.Join(stateDir, "buildwire.log"),
		Socket: SocketConfig{
			Permissions:    "0600",
			MaxConnections: consts.DefaultMaxConnections,
			StateDir:       stateDir,
		},
		Auth: AuthConfig{
			TokenRequired: true,
		},
		Channel: ChannelConfig{
			ReadTimeout:       consts.DefaultReadPollInterval,
			PropertiesTTL:     consts.DefaultPropertiesTTL,
			PropertiesTimeout: consts.DefaultPropertiesTimeout,
			CapabilityTimeout: consts.DefaultCapabilityTimeout,
		},
		Engine: EngineConfig{
			Shell: defaultShell(),
		},
	}
}

func defaultShell() string {
	if runtime.GOOS == "windows" {
		return "cmd"
	}
	if shell := strings.TrimSpace(os.Getenv("SHELL")); shell != "" {
		return shell
	}
	return "/bin/sh"
}

func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("log_level", cfg.LogLevel)
	v.SetDefault("log_path", cfg.LogPath)
	v.SetDefault("socket.path", cfg.Socket.Path)
	v.SetDefault("socket.permissions", cfg.Socket.Permissions)
	v.SetDefault("socket.max_connections", cfg.Socket.MaxConnections)
	v.SetDefault("socket.state_dir", cfg.Socket.StateDir)
	v.SetDefault("auth.token_required", cfg.Auth.TokenRequired)
	v.SetDefault("auth.token_file", cfg.Auth.TokenFile)
	v.SetDefault("channel.read_timeout", cfg.Channel.ReadTimeout)
	v.SetDefault("channel.properties_ttl", cfg.Channel.PropertiesTTL)
	v.SetDefault("channel.properties_timeout", cfg.Channel.PropertiesTimeout)
	v.SetDefault("channel.capability_timeout", cfg.Channel.CapabilityTimeout)
	v.SetDefault("websocket.addr", cfg.WebSocket.Addr)
	v.SetDefault("engine.shell", cfg.Engine.Shell)
	v.SetDefault("debug.pprof", cfg.Debug.Pprof)
	v.SetDefault("debug.cpu_profile", cfg.Debug.CPUProfile)
	v.SetDefault("debug.heap_profile", cfg.Debug.HeapProfile)
	v.SetDefault("debug.goroutine_profile", cfg.Debug.GoroutineProfile)
}

// Load loads configuration from the file at path (if it exists) and the environment.
// An empty path skips the file.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v, DefaultConfig())

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("failed to read config %s: %w", path, err)
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the server cannot run with.
func (c *Config) Validate() error {
	if c.Socket.MaxConnections <= 0 {
		return fmt.Errorf("socket.max_connections must be positive, got %d", c.Socket.MaxConnections)
	}
	if c.Channel.ReadTimeout <= 0 {
		return fmt.Errorf("channel.read_timeout must be positive, got %s", c.Channel.ReadTimeout)
	}
	if strings.TrimSpace(c.Engine.Shell) == "" {
		return errors.New("engine.shell must not be empty")
	}
	if c.Socket.Permissions != "" {
		if _, err := strconv.ParseUint(c.Socket.Permissions, 8, 32); err != nil {
			return fmt.Errorf("socket.permissions %q is not an octal mode: %w", c.Socket.Permissions, err)
		}
	}
	return nil
}

// FileMode returns the socket permissions as an os.FileMode, 0600 when unset.
func (s SocketConfig) FileMode() os.FileMode {
	mode, err := strconv.ParseUint(s.Permissions, 8, 32)
	if err != nil || s.Permissions == "" {
		return 0600
	}
	return os.FileMode(mode)
}

// ServerDir returns the per-project directory holding the socket and token file.
// Each absolute project directory hashes to its own directory under the state dir.
func (s SocketConfig) ServerDir(projectDir string) (string, error) {
	abs, err := filepath.Abs(projectDir)
	if err != nil {
		return "", fmt.Errorf("failed to resolve project dir: %w", err)
	}
	sum := xxhash.Sum64String(filepath.Clean(abs))
	return filepath.Join(s.StateDir, "server", strconv.FormatUint(sum, 16)), nil
}

// PathFor returns the socket path for projectDir, honouring an explicit Path.
func (s SocketConfig) PathFor(projectDir string) (string, error) {
	if s.Path != "" {
		return expandHome(s.Path), nil
	}
	dir, err := s.ServerDir(projectDir)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "sock"), nil
}

// TokenPathFor returns the token file path for projectDir.
func (c *Config) TokenPathFor(projectDir string) (string, error) {
	if c.Auth.TokenFile != "" {
		return expandHome(c.Auth.TokenFile), nil
	}
	socketPath, err := c.Socket.PathFor(projectDir)
	if err != nil {
		return "", err
	}
	return filepath.Join(filepath.Dir(socketPath), "token.json"), nil
}

func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}

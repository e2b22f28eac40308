package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"
)

// FileName is the config file looked up in the config directory.
const FileName = "cmdcenter.toml"

// EnvPrefix prefixes every environment override.
const EnvPrefix = "CMDCENTER"

// Config holds host configuration.
type Config struct {
	Plugins PluginsConfig `mapstructure:"plugins" toml:"plugins"`
	Store   StoreConfig   `mapstructure:"store" toml:"store"`
	Server  ServerConfig  `mapstructure:"server" toml:"server"`
	Sandbox SandboxConfig `mapstructure:"sandbox" toml:"sandbox"`
	Log     LogConfig     `mapstructure:"log" toml:"log"`
	Lua     LuaConfig     `mapstructure:"lua" toml:"lua"`
	Tracing TracingConfig `mapstructure:"tracing" toml:"tracing"`
}

// PluginsConfig locates plugin bundles.
type PluginsConfig struct {
	Dir   string `mapstructure:"dir" toml:"dir"`
	Watch bool   `mapstructure:"watch" toml:"watch" comment:"Reload descriptors when the plugins directory changes"`
}

// StoreConfig locates the SQLite database.
type StoreConfig struct {
	Path string `mapstructure:"path" toml:"path"`
}

// ServerConfig configures the bridge listener.
type ServerConfig struct {
	Addr      string `mapstructure:"addr" toml:"addr" comment:"Bind to loopback; surfaces are local"`
	TokenFile string `mapstructure:"token_file" toml:"token_file" comment:"Where the UI shell's bridge token is written on start"`
}

// SandboxConfig configures surface isolation.
type SandboxConfig struct {
	BridgeScript string `mapstructure:"bridge_script" toml:"bridge_script" comment:"Preload script injected into isolated surfaces"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level       string `mapstructure:"level" toml:"level"`
	Development bool   `mapstructure:"development" toml:"development"`
}

// LuaConfig sizes plugin service VMs.
type LuaConfig struct {
	CallStackSize int `mapstructure:"call_stack_size" toml:"call_stack_size"`
	RegistrySize  int `mapstructure:"registry_size" toml:"registry_size"`
}

// TracingConfig configures span export.
type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled" toml:"enabled"`
	SampleRatio float64 `mapstructure:"sample_ratio" toml:"sample_ratio"`
	Endpoint    string  `mapstructure:"endpoint" toml:"endpoint" comment:"OTLP/HTTP collector host:port; empty keeps spans in process"`
	Insecure    bool    `mapstructure:"insecure" toml:"insecure"`
}

// Dir returns the config directory: $CMDCENTER_HOME, else the user config
// directory.
func Dir() string {
	if home := os.Getenv(EnvPrefix + "_HOME"); home != "" {
		return home
	}
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "cmdcenter")
	}
	return filepath.Join(os.TempDir(), "cmdcenter")
}

// DataDir returns where plugins and the database live by default.
func DataDir() string {
	if home := os.Getenv(EnvPrefix + "_HOME"); home != "" {
		return home
	}
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "cmdcenter")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".local", "share", "cmdcenter")
	}
	return filepath.Join(os.TempDir(), "cmdcenter")
}

// DefaultPath returns the config file path used when none is given.
func DefaultPath() string {
	return filepath.Join(Dir(), FileName)
}

// Default returns the built-in configuration.
func Default() Config {
	data := DataDir()
	return Config{
		Plugins: PluginsConfig{Dir: filepath.Join(data, "plugins"), Watch: true},
		Store:   StoreConfig{Path: filepath.Join(data, "cmdcenter.db")},
		Server:  ServerConfig{Addr: "127.0.0.1:7777", TokenFile: filepath.Join(data, "shell.token")},
		Sandbox: SandboxConfig{BridgeScript: filepath.Join(data, "bridge.js")},
		Log:     LogConfig{Level: "info"},
		Lua:     LuaConfig{CallStackSize: 256, RegistrySize: 20 * 1024},
		Tracing: TracingConfig{SampleRatio: 1},
	}
}

func setDefaults(v *viper.Viper, c Config) {
	v.SetDefault("plugins.dir", c.Plugins.Dir)
	v.SetDefault("plugins.watch", c.Plugins.Watch)
	v.SetDefault("store.path", c.Store.Path)
	v.SetDefault("server.addr", c.Server.Addr)
	v.SetDefault("server.token_file", c.Server.TokenFile)
	v.SetDefault("sandbox.bridge_script", c.Sandbox.BridgeScript)
	v.SetDefault("log.level", c.Log.Level)
	v.SetDefault("log.development", c.Log.Development)
	v.SetDefault("lua.call_stack_size", c.Lua.CallStackSize)
	v.SetDefault("lua.registry_size", c.Lua.RegistrySize)
	v.SetDefault("tracing.enabled", c.Tracing.Enabled)
	v.SetDefault("tracing.sample_ratio", c.Tracing.SampleRatio)
	v.SetDefault("tracing.endpoint", c.Tracing.Endpoint)
	v.SetDefault("tracing.insecure", c.Tracing.Insecure)
}

// Load reads configuration. An empty path means $CMDCENTER_CONFIG, else
// DefaultPath, and a missing default file is not an error. A path given
// explicitly must exist.
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v, Default())
	v.SetConfigType("toml")

	explicit := path != ""
	if !explicit {
		path = os.Getenv(EnvPrefix + "_CONFIG")
		explicit = path != ""
	}
	if !explicit {
		path = DefaultPath()
	}
	v.SetConfigFile(path)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		switch {
		case errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist):
			if explicit {
				return Config{}, fmt.Errorf("%w: %s", ErrFileNotFound, path)
			}
		default:
			return Config{}, &ParseError{Path: path, Err: err}
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate checks values that would fail later in less obvious ways.
func (c Config) Validate() error {
	var errs []error
	if c.Plugins.Dir == "" {
		errs = append(errs, &ValidationError{Key: "plugins.dir", Message: "must not be empty", Value: c.Plugins.Dir})
	}
	if c.Store.Path == "" {
		errs = append(errs, &ValidationError{Key: "store.path", Message: "must not be empty", Value: c.Store.Path})
	}
	if c.Server.Addr == "" {
		errs = append(errs, &ValidationError{Key: "server.addr", Message: "must not be empty", Value: c.Server.Addr})
	}
	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, &ValidationError{Key: "log.level", Message: "unknown level", Value: c.Log.Level})
	}
	if c.Lua.CallStackSize <= 0 {
		errs = append(errs, &ValidationError{Key: "lua.call_stack_size", Message: "must be positive", Value: c.Lua.CallStackSize})
	}
	if c.Lua.RegistrySize <= 0 {
		errs = append(errs, &ValidationError{Key: "lua.registry_size", Message: "must be positive", Value: c.Lua.RegistrySize})
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		errs = append(errs, &ValidationError{Key: "tracing.sample_ratio", Message: "must be between 0 and 1", Value: c.Tracing.SampleRatio})
	}
	return errors.Join(errs...)
}

// Marshal renders c as TOML.
func Marshal(c Config) ([]byte, error) {
	return toml.Marshal(c)
}

// WriteDefault writes the built-in configuration to path. It refuses to
// overwrite an existing file unless force is set.
func WriteDefault(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%w: %s", ErrFileExists, path)
		}
	}
	data, err := Marshal(Default())
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("mkdir config dir: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

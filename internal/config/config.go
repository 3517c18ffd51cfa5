// Package config loads runtime settings for the sitemon daemon and CLI.
// Rule groups are not configured here; they live in the encrypted store.
package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"github.com/eliteGoblin/focusd/site_mon/internal/policy"
)

const envPrefix = "SITEMON_"

// AppConfig holds configuration values parsed from environment variables.
type AppConfig struct {
	// Env is the runtime environment, either "dev" or "prod".
	Env string `koanf:"env" validate:"required,oneof=dev prod"`

	// LogLevel controls log verbosity: "debug", "info", "warn", or "error".
	LogLevel string `koanf:"log_level" validate:"required,oneof=debug info warn error"`

	// LogFile is the daemon log path; empty means <data_dir>/sitemon.log.
	LogFile string `koanf:"log_file"`

	// DataDir holds the encrypted settings database and its key.
	DataDir string `koanf:"data_dir" validate:"required"`

	// DevToolsAddr is the browser remote-debugging endpoint.
	DevToolsAddr string `koanf:"devtools_addr" validate:"required,host_port"`

	// ListenAddr is where the block page server binds.
	ListenAddr string `koanf:"listen_addr" validate:"required,host_port"`

	// BlockPageBase is the address prefix tabs are redirected to.
	BlockPageBase string `koanf:"block_page_base" validate:"required,url,block_page"`

	TickInterval       time.Duration `koanf:"tick_interval" validate:"gte=1s"`
	ConfigPollInterval time.Duration `koanf:"config_poll_interval" validate:"gte=100ms"`

	// BrowserProcesses are process-name fragments; a pass is skipped while
	// none of them runs. Empty disables the check.
	BrowserProcesses []string `koanf:"browser_processes"`

	// DecisionCacheSize bounds the verdict cache; 0 disables it.
	DecisionCacheSize int `koanf:"decision_cache_size" validate:"gte=0"`

	// ApplyConcurrency bounds parallel tab navigations within one pass.
	ApplyConcurrency int `koanf:"apply_concurrency" validate:"gte=1,lte=32"`
}

// LogPath resolves the daemon log file.
func (c *AppConfig) LogPath() string {
	if c.LogFile != "" {
		return c.LogFile
	}
	return filepath.Join(c.DataDir, "sitemon.log")
}

// DEFAULT_APP_CONFIG defines the defaults every environment override is
// layered on.
var DEFAULT_APP_CONFIG = AppConfig{
	Env:                "prod",
	LogLevel:           "info",
	DataDir:            defaultDataDir(),
	DevToolsAddr:       "127.0.0.1:9222",
	ListenAddr:         "127.0.0.1:7770",
	BlockPageBase:      "http://127.0.0.1:7770/blocked",
	TickInterval:       30 * time.Second,
	ConfigPollInterval: 2 * time.Second,
	BrowserProcesses:   []string{"chrome", "chromium", "brave", "msedge"},
	DecisionCacheSize:  4096,
	ApplyConcurrency:   4,
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "sitemon")
	}
	return filepath.Join(home, ".local", "share", "sitemon")
}

// validHostPort accepts "host:port" with a non-empty host and a port in
// 1..65535. Unlike ip_port the host may be a name such as localhost.
func validHostPort(fl validator.FieldLevel) bool {
	host, port, err := net.SplitHostPort(fl.Field().String())
	if err != nil || host == "" || port == "" {
		return false
	}
	portNum, err := strconv.ParseUint(port, 10, 16)
	return err == nil && portNum > 0
}

// envLoader loads SITEMON_* variables, lower-cased without the prefix.
// Comma-separated values become lists. Replaced in tests.
var envLoader = func(k *koanf.Koanf) error {
	return k.Load(env.Provider(".", env.Opt{
		Prefix: envPrefix,
		TransformFunc: func(key, value string) (string, any) {
			key = strings.ToLower(strings.TrimPrefix(key, envPrefix))
			value = strings.TrimSpace(value)

			if strings.Contains(value, ",") {
				parts := strings.Split(value, ",")
				out := parts[:0]
				for _, p := range parts {
					if p = strings.TrimSpace(p); p != "" {
						out = append(out, p)
					}
				}
				return key, out
			}

			return key, value
		},
	}), nil)
}

// defaultLoader loads DEFAULT_APP_CONFIG via the structs provider.
var defaultLoader = func(k *koanf.Koanf) error {
	return k.Load(structs.Provider(DEFAULT_APP_CONFIG, "koanf"), nil)
}

// validBlockPage accepts a base the block page codec can recognise when the
// browser echoes it back.
func validBlockPage(fl validator.FieldLevel) bool {
	_, err := policy.NewBlockPage(fl.Field().String())
	return err == nil
}

// registerValidation registers the custom "host_port" and "block_page" tags.
var registerValidation = func(v *validator.Validate) error {
	if err := v.RegisterValidation("host_port", validHostPort); err != nil {
		return err
	}
	return v.RegisterValidation("block_page", validBlockPage)
}

// Load layers environment variables over the defaults, then validates.
func Load() (*AppConfig, error) {
	k := koanf.New(".")

	if err := defaultLoader(k); err != nil {
		return nil, fmt.Errorf("error loading default config: %w", err)
	}

	if err := envLoader(k); err != nil {
		return nil, fmt.Errorf("error loading env: %w", err)
	}

	var cfg AppConfig
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("error unmarshalling config: %w", err)
	}

	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := registerValidation(validate); err != nil {
		return nil, fmt.Errorf("error registering validation: %w", err)
	}

	if err := validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}

	return &cfg, nil
}

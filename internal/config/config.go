package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/matheus3301/pairchat/internal/conn"
	"github.com/matheus3301/pairchat/internal/realtime"
	"github.com/matheus3301/pairchat/internal/reconcile"
	"github.com/matheus3301/pairchat/internal/restapi"
)

// Duration is a time.Duration written as a string ("5s") in config files.
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config represents the global ~/.pairchat/config.toml.
type Config struct {
	DefaultSession string         `toml:"default_session" validate:"omitempty,max=32"`
	Log            LogConfig      `toml:"log"`
	Server         ServerConfig   `toml:"server"`
	Realtime       RealtimeConfig `toml:"realtime"`
	Sync           SyncConfig     `toml:"sync"`
}

type LogConfig struct {
	Level string `toml:"level" validate:"omitempty,oneof=debug info warn error"`
}

// ServerConfig holds the backend endpoints.
type ServerConfig struct {
	RealtimeURL        string   `toml:"realtime_url" validate:"required,url,startswith=ws"`
	MessageServiceURL  string   `toml:"message_service_url" validate:"required,http_url"`
	RealtimeServiceURL string   `toml:"realtime_service_url" validate:"required,http_url"`
	RequestTimeout     Duration `toml:"request_timeout" validate:"gt=0"`
}

// RealtimeConfig holds the connection and delivery timings.
type RealtimeConfig struct {
	OpenTimeout       Duration `toml:"open_timeout" validate:"gt=0"`
	HeartbeatInterval Duration `toml:"heartbeat_interval" validate:"gt=0"`
	HeartbeatCheck    Duration `toml:"heartbeat_check" validate:"gt=0"`
	HeartbeatTimeout  Duration `toml:"heartbeat_timeout" validate:"gtfield=HeartbeatInterval"`
	AckTimeout        Duration `toml:"ack_timeout" validate:"gt=0"`
	ReconnectMin      Duration `toml:"reconnect_min" validate:"gt=0"`
	ReconnectMax      Duration `toml:"reconnect_max" validate:"gtefield=ReconnectMin"`
	ReceiptDelay      Duration `toml:"receipt_delay" validate:"gte=0"`
}

// SyncConfig holds paging, caching and resync settings.
type SyncConfig struct {
	HistoryPageSize      int      `toml:"history_page_size" validate:"min=1,max=100"`
	ConversationPageSize int      `toml:"conversation_page_size" validate:"min=1,max=100"`
	CacheTTL             Duration `toml:"cache_ttl" validate:"gte=0"`
	ResyncMin            Duration `toml:"resync_min" validate:"gt=0"`
	ResyncMax            Duration `toml:"resync_max" validate:"gtefield=ResyncMin"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Log: LogConfig{Level: "info"},
		Server: ServerConfig{
			RealtimeURL:        "ws://localhost:8083/ws/chat",
			MessageServiceURL:  "http://localhost:8082/api/v1/messages",
			RealtimeServiceURL: "http://localhost:8083/api/chat",
			RequestTimeout:     Duration(10 * time.Second),
		},
		Realtime: RealtimeConfig{
			OpenTimeout:       Duration(10 * time.Second),
			HeartbeatInterval: Duration(5 * time.Second),
			HeartbeatCheck:    Duration(time.Second),
			HeartbeatTimeout:  Duration(10 * time.Second),
			AckTimeout:        Duration(30 * time.Second),
			ReconnectMin:      Duration(time.Second),
			ReconnectMax:      Duration(30 * time.Second),
			ReceiptDelay:      Duration(100 * time.Millisecond),
		},
		Sync: SyncConfig{
			HistoryPageSize:      30,
			ConversationPageSize: 20,
			CacheTTL:             Duration(5 * time.Minute),
			ResyncMin:            Duration(2 * time.Second),
			ResyncMax:            Duration(30 * time.Second),
		},
	}
}

// Load reads config from the given path on top of the defaults. Returns an
// error if the file is missing.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}

// Resolve builds the effective configuration: defaults, then the config file
// if it exists, then .env files, then PAIRCHAT_* environment variables. The
// result is validated.
func Resolve(path string, envFiles ...string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		cfg, err = Default(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}

	var existing []string
	for _, f := range envFiles {
		if _, err := os.Stat(f); err == nil {
			existing = append(existing, f)
		}
	}
	if len(existing) > 0 {
		// godotenv.Load never overrides variables already set in the process.
		if err := godotenv.Load(existing...); err != nil {
			return nil, fmt.Errorf("load env files: %w", err)
		}
	}

	if err := ApplyEnv(cfg, os.LookupEnv); err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides cfg with PAIRCHAT_* variables found by lookup.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	strs := map[string]*string{
		"PAIRCHAT_DEFAULT_SESSION":      &cfg.DefaultSession,
		"PAIRCHAT_LOG_LEVEL":            &cfg.Log.Level,
		"PAIRCHAT_REALTIME_URL":         &cfg.Server.RealtimeURL,
		"PAIRCHAT_MESSAGE_SERVICE_URL":  &cfg.Server.MessageServiceURL,
		"PAIRCHAT_REALTIME_SERVICE_URL": &cfg.Server.RealtimeServiceURL,
	}
	for key, dst := range strs {
		if v, ok := lookup(key); ok && v != "" {
			*dst = strings.TrimSpace(v)
		}
	}

	durations := map[string]*Duration{
		"PAIRCHAT_REQUEST_TIMEOUT": &cfg.Server.RequestTimeout,
		"PAIRCHAT_ACK_TIMEOUT":     &cfg.Realtime.AckTimeout,
	}
	for key, dst := range durations {
		v, ok := lookup(key)
		if !ok || v == "" {
			continue
		}
		if err := dst.UnmarshalText([]byte(v)); err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
	}
	return nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints and reports every violation.
func Validate(cfg *Config) error {
	err := validate.Struct(cfg)
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s: failed %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value()))
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}

// ConnConfig returns the connection manager settings.
func (c *Config) ConnConfig() conn.Config {
	cc := conn.DefaultConfig(c.Server.RealtimeURL)
	cc.OpenTimeout = c.Realtime.OpenTimeout.Std()
	cc.HeartbeatInterval = c.Realtime.HeartbeatInterval.Std()
	cc.HeartbeatCheck = c.Realtime.HeartbeatCheck.Std()
	cc.HeartbeatTimeout = c.Realtime.HeartbeatTimeout.Std()
	cc.BackoffMin = c.Realtime.ReconnectMin.Std()
	cc.BackoffMax = c.Realtime.ReconnectMax.Std()
	return cc
}

// RealtimeConfig returns the realtime service settings.
func (c *Config) RealtimeConfig() realtime.Config {
	return realtime.Config{Conn: c.ConnConfig(), AckTimeout: c.Realtime.AckTimeout.Std()}
}

// RESTConfig returns the REST client settings.
func (c *Config) RESTConfig() restapi.Config {
	return restapi.Config{
		MessageServiceURL:  c.Server.MessageServiceURL,
		RealtimeServiceURL: c.Server.RealtimeServiceURL,
		Timeout:            c.Server.RequestTimeout.Std(),
		CacheTTL:           c.Sync.CacheTTL.Std(),
	}
}

// ReconcileConfig returns the reconciler settings.
func (c *Config) ReconcileConfig() reconcile.Config {
	return reconcile.Config{
		HistoryPageSize:      c.Sync.HistoryPageSize,
		ConversationPageSize: c.Sync.ConversationPageSize,
		ResyncMin:            c.Sync.ResyncMin.Std(),
		ResyncMax:            c.Sync.ResyncMax.Std(),
		TypingTTL:            reconcile.DefaultConfig().TypingTTL,
	}
}

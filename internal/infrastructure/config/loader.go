package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"

	"twitchbot/internal/infrastructure/logger"
)

// ErrMisconfigured wraps every startup configuration failure. The process
// exits with status 1 when it sees it.
var ErrMisconfigured = errors.New("misconfigured")

const envPrefix = "ENV_"

type Database struct {
	Driver string `toml:"driver" json:"driver" validate:"oneof=sqlite3 pgx"`
	DSN    string `toml:"dsn" json:"dsn"`
}

type Metrics struct {
	Addr string `toml:"addr" json:"addr"`
}

type Tracing struct {
	ServiceName string `toml:"service_name" json:"service_name"`
}

type Config struct {
	Nick     string   `toml:"nick" json:"nick" validate:"required"`
	OAuth    string   `toml:"oauth" json:"oauth" validate:"required"`
	ClientID string   `toml:"client_id" json:"client_id"`
	Prefix   string   `toml:"prefix" json:"prefix" validate:"required"`
	Owner    string   `toml:"owner" json:"owner"`
	Channels []string `toml:"channels" json:"channels"`

	DefaultBalance  int `toml:"default_balance" json:"default_balance" validate:"gte=0"`
	LoyaltyInterval int `toml:"loyalty_interval" json:"loyalty_interval" validate:"gte=0"`
	LoyaltyAmount   int `toml:"loyalty_amount" json:"loyalty_amount"`

	ModsFolder     string `toml:"mods_folder" json:"mods_folder"`
	CommandsFolder string `toml:"commands_folder" json:"commands_folder"`

	CommandServerEnabled  bool   `toml:"command_server_enabled" json:"command_server_enabled"`
	CommandServerHost     string `toml:"command_server_host" json:"command_server_host"`
	CommandServerPort     int    `toml:"command_server_port" json:"command_server_port"`
	CommandServerPassword string `toml:"command_server_password" json:"command_server_password"`

	DisableWhispers                 bool     `toml:"disable_whispers" json:"disable_whispers"`
	UseCommandWhitelist             bool     `toml:"use_command_whitelist" json:"use_command_whitelist"`
	CommandWhitelist                []string `toml:"command_whitelist" json:"command_whitelist"`
	SendMessageOnWhitelistDeny      bool     `toml:"send_message_on_command_whitelist_deny" json:"send_message_on_command_whitelist_deny"`
	SendMessageOnDisabledCommandUse bool     `toml:"send_message_on_disabled_command_use" json:"send_message_on_disabled_command_use"`
	EnableCooldownBypassPermissions bool     `toml:"enable_cooldown_bypass_permissions" json:"enable_cooldown_bypass_permissions"`

	DataDir       string `toml:"data_dir" json:"data_dir"`
	IRCAddr       string `toml:"irc_addr" json:"irc_addr"`
	PubSubURL     string `toml:"pubsub_url" json:"pubsub_url"`
	PubSubEnabled bool   `toml:"pubsub_enabled" json:"pubsub_enabled"`
	HandlerLimit  int    `toml:"handler_limit" json:"handler_limit" validate:"gte=0"`
	HandlerQueue  int    `toml:"handler_queue" json:"handler_queue" validate:"gte=0"`

	Database Database      `toml:"database" json:"database"`
	Logging  logger.Config `toml:"logging" json:"logging"`
	Metrics  Metrics       `toml:"metrics" json:"metrics"`
	Tracing  Tracing       `toml:"tracing" json:"tracing"`
}

// Default returns a config with every optional key set.
func Default() *Config {
	return &Config{
		Prefix:          "!",
		DefaultBalance:  0,
		LoyaltyInterval: 0,
		LoyaltyAmount:   0,
		ModsFolder:      "mods",
		CommandsFolder:  "commands",
		DataDir:         "data",
		IRCAddr:         "irc.chat.twitch.tv:6697",
		PubSubURL:       "wss://pubsub-edge.twitch.tv",
		HandlerLimit:    64,
		HandlerQueue:    1024,
		Database:        Database{Driver: "sqlite3"},
		Logging:         logger.DefaultConfig(),
		Tracing:         Tracing{ServiceName: "twitchbot"},
	}
}

// Load reads .env, then the config file at path (TOML, or JSON for a .json
// extension). A missing file leaves the defaults in place.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	if strings.TrimSpace(path) != "" {
		if err := decodeFile(path, cfg); err != nil {
			return nil, err
		}
	}

	if err := resolveEnv(reflect.ValueOf(cfg).Elem(), ""); err != nil {
		return nil, err
	}

	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMisconfigured, err)
	}
	return cfg, nil
}

func decodeFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("%w: read %s: %v", ErrMisconfigured, path, err)
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		absPath = path
	}

	if strings.EqualFold(filepath.Ext(path), ".json") {
		if err := json.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("%w: parse %s: %v", ErrMisconfigured, absPath, err)
		}
		return nil
	}
	if _, err := toml.Decode(string(data), cfg); err != nil {
		return fmt.Errorf("%w: parse %s: %v", ErrMisconfigured, absPath, err)
	}
	return nil
}

// resolveEnv replaces every string starting with ENV_ by the environment
// variable named after the prefix.
func resolveEnv(v reflect.Value, path string) error {
	switch v.Kind() {
	case reflect.Struct:
		t := v.Type()
		for i := 0; i < v.NumField(); i++ {
			field := t.Field(i)
			if !field.IsExported() {
				continue
			}
			name := field.Name
			if path != "" {
				name = path + "." + name
			}
			if err := resolveEnv(v.Field(i), name); err != nil {
				return err
			}
		}
	case reflect.Slice:
		for i := 0; i < v.Len(); i++ {
			if err := resolveEnv(v.Index(i), fmt.Sprintf("%s[%d]", path, i)); err != nil {
				return err
			}
		}
	case reflect.String:
		raw := v.String()
		if !strings.HasPrefix(raw, envPrefix) || !v.CanSet() {
			return nil
		}
		key := strings.TrimPrefix(raw, envPrefix)
		val, ok := os.LookupEnv(key)
		if !ok {
			return fmt.Errorf("%w: %s references unset environment variable %s", ErrMisconfigured, path, key)
		}
		v.SetString(val)
	}
	return nil
}

func (c *Config) normalize() {
	c.Nick = strings.ToLower(strings.TrimSpace(c.Nick))
	c.Owner = strings.ToLower(strings.TrimSpace(c.Owner))
	c.OAuth = strings.TrimSpace(c.OAuth)
	if c.OAuth != "" && !strings.HasPrefix(c.OAuth, "oauth:") {
		c.OAuth = "oauth:" + c.OAuth
	}
	if strings.TrimSpace(c.Prefix) == "" {
		c.Prefix = "!"
	}
	c.Channels = SanitizeChannels(c.Channels)
	for i, name := range c.CommandWhitelist {
		c.CommandWhitelist[i] = strings.ToLower(strings.TrimSpace(name))
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite3"
	}
	if c.Database.DSN == "" && c.Database.Driver == "sqlite3" {
		c.Database.DSN = filepath.Join(c.DataDir, "bot.db")
	}
	if c.Logging.Level == "" {
		c.Logging.Level = logger.LevelInfo
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

// Validate validates the loaded configuration
func (c *Config) Validate() error {
	validate := validator.New(validator.WithRequiredStructEnabled())
	return validate.Struct(c)
}

// OAuthToken returns the token without the oauth: prefix, as helix and
// PubSub expect it.
func (c *Config) OAuthToken() string {
	return strings.TrimPrefix(c.OAuth, "oauth:")
}

// SanitizeChannels lowercases, strips '#', splits comma lists and dedupes.
func SanitizeChannels(input []string) []string {
	var result []string
	seen := make(map[string]struct{})
	for _, raw := range input {
		for _, part := range strings.Split(raw, ",") {
			channel := NormalizeChannel(part)
			if channel == "" {
				continue
			}
			if _, ok := seen[channel]; ok {
				continue
			}
			seen[channel] = struct{}{}
			result = append(result, channel)
		}
	}
	return result
}

func NormalizeChannel(value string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(value), "#"))
}

package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestLoadTOML(t *testing.T) {
	t.Setenv("TEST_BOT_OAUTH", "abc123")
	path := writeFile(t, "config.toml", `
nick = "DemoBot"
oauth = "ENV_TEST_BOT_OAUTH"
owner = "Alice"
channels = ["#Demo", "other,demo"]
command_whitelist = [" !Ping "]

[database]
driver = "sqlite3"

[logging]
level = "debug"
format = "json"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Nick != "demobot" {
		t.Errorf("nick = %q", cfg.Nick)
	}
	if cfg.OAuth != "oauth:abc123" {
		t.Errorf("oauth = %q", cfg.OAuth)
	}
	if cfg.OAuthToken() != "abc123" {
		t.Errorf("token = %q", cfg.OAuthToken())
	}
	if cfg.Owner != "alice" {
		t.Errorf("owner = %q", cfg.Owner)
	}
	if len(cfg.Channels) != 2 || cfg.Channels[0] != "demo" || cfg.Channels[1] != "other" {
		t.Errorf("channels = %v", cfg.Channels)
	}
	if cfg.CommandWhitelist[0] != "!ping" {
		t.Errorf("whitelist = %v", cfg.CommandWhitelist)
	}
	if cfg.Prefix != "!" {
		t.Errorf("prefix default = %q", cfg.Prefix)
	}
	if cfg.Database.DSN != filepath.Join("data", "bot.db") {
		t.Errorf("dsn = %q", cfg.Database.DSN)
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("logging = %+v", cfg.Logging)
	}
}

func TestLoadJSON(t *testing.T) {
	path := writeFile(t, "config.json", `{"nick":"bot","oauth":"oauth:x","prefix":"?","channels":["a"]}`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Prefix != "?" || cfg.Channels[0] != "a" {
		t.Fatalf("unexpected config: %+v", cfg)
	}
}

func TestLoadMisconfigured(t *testing.T) {
	tests := []struct {
		name string
		file string
		body string
	}{
		{"missing nick", "c.toml", `oauth = "x"`},
		{"missing oauth", "c.toml", `nick = "bot"`},
		{"unset env", "c.toml", "nick = \"bot\"\noauth = \"ENV_DEFINITELY_NOT_SET_42\""},
		{"bad driver", "c.toml", "nick = \"bot\"\noauth = \"x\"\n[database]\ndriver = \"mysql\""},
		{"bad toml", "c.toml", `nick = `},
		{"bad json", "c.json", `{"nick":`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeFile(t, tt.file, tt.body))
			if !errors.Is(err, ErrMisconfigured) {
				t.Fatalf("expected ErrMisconfigured, got %v", err)
			}
		})
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	// Defaults alone lack nick/oauth.
	if !errors.Is(err, ErrMisconfigured) {
		t.Fatalf("expected ErrMisconfigured, got %v", err)
	}
}

func TestSanitizeChannels(t *testing.T) {
	got := SanitizeChannels([]string{" #Foo ", "bar,#foo", "", "BAZ"})
	want := []string{"foo", "bar", "baz"}
	if len(got) != len(want) {
		t.Fatalf("got %v want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v want %v", got, want)
		}
	}
}

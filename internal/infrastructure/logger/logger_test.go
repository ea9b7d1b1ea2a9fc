package logger

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"default", DefaultConfig(), false},
		{"json debug", Config{Level: LevelDebug, Format: "json"}, false},
		{"bad level", Config{Level: "loud", Format: "text"}, true},
		{"bad format", Config{Level: LevelInfo, Format: "xml"}, true},
		{"empty", Config{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestInitJSONWithScopes(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: LevelInfo, Format: "json", Output: &buf})

	User("demo", "alice").Info("hello")
	Debug("hidden")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected one line, got %d: %q", len(lines), buf.String())
	}
	var rec map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &rec); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if rec["channel"] != "demo" || rec["user"] != "alice" || rec["msg"] != "hello" {
		t.Fatalf("unexpected record: %v", rec)
	}
}

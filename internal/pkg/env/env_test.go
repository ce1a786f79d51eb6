package env

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestGet(t *testing.T) {
	t.Setenv("RELAY_TEST_VALUE", "set")
	if got := Get("RELAY_TEST_VALUE", "default"); got != "set" {
		t.Errorf("got %q, want %q", got, "set")
	}
	if got := Get("RELAY_TEST_MISSING", "default"); got != "default" {
		t.Errorf("got %q, want %q", got, "default")
	}
}

func TestGetInt(t *testing.T) {
	t.Setenv("RELAY_TEST_PORT", "3004")
	v, err := GetInt("RELAY_TEST_PORT", 3003)
	if err != nil || v != 3004 {
		t.Fatalf("got %d, %v", v, err)
	}

	v, err = GetInt("RELAY_TEST_PORT_MISSING", 3003)
	if err != nil || v != 3003 {
		t.Fatalf("got %d, %v", v, err)
	}

	t.Setenv("RELAY_TEST_PORT", "not-a-port")
	if _, err := GetInt("RELAY_TEST_PORT", 3003); err == nil {
		t.Fatal("expected error for invalid integer")
	}
}

func TestGetBool(t *testing.T) {
	t.Setenv("RELAY_TEST_BOOL", "true")
	v, err := GetBool("RELAY_TEST_BOOL", false)
	if err != nil || !v {
		t.Fatalf("got %v, %v", v, err)
	}

	t.Setenv("RELAY_TEST_BOOL", "maybe")
	if _, err := GetBool("RELAY_TEST_BOOL", false); err == nil {
		t.Fatal("expected error for invalid bool")
	}
}

func TestGetDuration(t *testing.T) {
	t.Setenv("RELAY_TEST_DELAY", "1500ms")
	v, err := GetDuration("RELAY_TEST_DELAY", time.Second)
	if err != nil || v != 1500*time.Millisecond {
		t.Fatalf("got %v, %v", v, err)
	}

	v, err = GetDuration("RELAY_TEST_DELAY_MISSING", time.Second)
	if err != nil || v != time.Second {
		t.Fatalf("got %v, %v", v, err)
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.env")
	if err := os.WriteFile(path, []byte("RELAY_DOTENV_A=from-file\nRELAY_DOTENV_B=from-file\n"), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}

	t.Setenv("RELAY_DOTENV_B", "from-process")
	// Registers cleanup for the variable the file introduces.
	t.Setenv("RELAY_DOTENV_A", "")
	os.Unsetenv("RELAY_DOTENV_A")

	if err := LoadDotEnv(path); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := os.Getenv("RELAY_DOTENV_A"); got != "from-file" {
		t.Errorf("RELAY_DOTENV_A: got %q", got)
	}
	if got := os.Getenv("RELAY_DOTENV_B"); got != "from-process" {
		t.Errorf("existing variable was overridden: got %q", got)
	}
}

func TestLoadDotEnv_MissingFileIgnored(t *testing.T) {
	if err := LoadDotEnv(filepath.Join(t.TempDir(), "absent.env")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		raw  string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelWarn},
		{"verbose", slog.LevelWarn},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			t.Setenv("LOG_LEVEL", tt.raw)
			if got := ParseLogLevel(slog.LevelWarn); got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

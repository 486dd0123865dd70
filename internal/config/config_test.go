package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{EnvPort, EnvLogLevel, EnvDataDir, EnvSettings, EnvProfile,
		EnvTransport, EnvHTTPTimeout, EnvDownloadDir, EnvSentryDSN, EnvHeadless} {
		t.Setenv(k, "")
	}
}

func TestFromEnv_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Port() != DefaultPort {
		t.Errorf("Port() = %d, want %d", cfg.Port(), DefaultPort)
	}
	if cfg.Profile() != DefaultProfile {
		t.Errorf("Profile() = %q, want %q", cfg.Profile(), DefaultProfile)
	}
	if cfg.Transport() != TransportHTTP {
		t.Errorf("Transport() = %q, want %q", cfg.Transport(), TransportHTTP)
	}
	if cfg.HTTPTimeout() != DefaultHTTPTimeout {
		t.Errorf("HTTPTimeout() = %v, want %v", cfg.HTTPTimeout(), DefaultHTTPTimeout)
	}
	if cfg.Headless() {
		t.Error("Headless() = true, want false")
	}
}

func TestFromEnv_Overrides(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	t.Setenv(EnvPort, "9001")
	t.Setenv(EnvDataDir, dir)
	t.Setenv(EnvProfile, "Prod")
	t.Setenv(EnvTransport, "GRPC")
	t.Setenv(EnvHTTPTimeout, "15s")
	t.Setenv(EnvHeadless, "true")

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Port() != 9001 {
		t.Errorf("Port() = %d, want 9001", cfg.Port())
	}
	if cfg.Profile() != "Prod" {
		t.Errorf("Profile() = %q, want Prod", cfg.Profile())
	}
	if cfg.Transport() != TransportGRPC {
		t.Errorf("Transport() = %q, want %q", cfg.Transport(), TransportGRPC)
	}
	if cfg.HTTPTimeout() != 15*time.Second {
		t.Errorf("HTTPTimeout() = %v, want 15s", cfg.HTTPTimeout())
	}
	if !cfg.Headless() {
		t.Error("Headless() = false, want true")
	}
	if got, want := cfg.DBPath(), filepath.Join(dir, DBFilename); got != want {
		t.Errorf("DBPath() = %q, want %q", got, want)
	}
	if got, want := cfg.SettingsPath(), filepath.Join(dir, SettingsFilename); got != want {
		t.Errorf("SettingsPath() = %q, want %q", got, want)
	}
	if got, want := cfg.DownloadDir(), filepath.Join(dir, "download"); got != want {
		t.Errorf("DownloadDir() = %q, want %q", got, want)
	}
	if got, want := cfg.LogsDir(), filepath.Join(dir, "logs"); got != want {
		t.Errorf("LogsDir() = %q, want %q", got, want)
	}
}

func TestFromEnv_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"port not a number", EnvPort, "abc"},
		{"port out of range", EnvPort, "70000"},
		{"unknown transport", EnvTransport, "smtp"},
		{"bad timeout", EnvHTTPTimeout, "soon"},
		{"negative timeout", EnvHTTPTimeout, "-1s"},
		{"bad headless", EnvHeadless, "maybe"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(tt.key, tt.value)

			if _, err := FromEnv(); err == nil {
				t.Fatalf("FromEnv() with %s=%q: expected error", tt.key, tt.value)
			}
		})
	}
}

func TestNew_LoadsDotEnv(t *testing.T) {
	clearEnv(t)
	os.Unsetenv(EnvProfile)
	t.Cleanup(func() { os.Unsetenv(EnvProfile) })

	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte(EnvProfile+"=Staging\n"), 0644); err != nil {
		t.Fatalf("write .env: %v", err)
	}
	t.Chdir(dir)

	cfg, err := New()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Profile() != "Staging" {
		t.Errorf("Profile() = %q, want Staging", cfg.Profile())
	}
}

func TestNew_MissingDotEnvIsFine(t *testing.T) {
	clearEnv(t)
	t.Chdir(t.TempDir())

	if _, err := New(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

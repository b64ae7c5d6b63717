package config

import (
	"log/slog"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Port != "8080" {
		t.Errorf("Port = %q, want 8080", cfg.Port)
	}
	if cfg.DefaultView != "battery-info" {
		t.Errorf("DefaultView = %q", cfg.DefaultView)
	}
	if cfg.Backend.Mode != BackendNone {
		t.Errorf("Backend.Mode = %q", cfg.Backend.Mode)
	}
	if cfg.Timing.CommandDelay != 1500*time.Millisecond {
		t.Errorf("CommandDelay = %v", cfg.Timing.CommandDelay)
	}
	if cfg.Artifacts.Timeout != 10*time.Second {
		t.Errorf("Artifacts.Timeout = %v", cfg.Artifacts.Timeout)
	}
	if !cfg.IsDevelopment() {
		t.Error("expected wildcard origin to count as development")
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "9000")
	t.Setenv("ALLOWED_ORIGINS", "https://shell.example.com, https://ops.example.com")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("BACKEND_MODE", "GRPC")
	t.Setenv("BACKEND_ADDR", "127.0.0.1:7070")
	t.Setenv("CONNECT_DELAY", "2s")
	t.Setenv("ARTIFACT_WATCH", "yes")
	t.Setenv("ARTIFACT_DIR", "./web/artifacts")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Port != "9000" {
		t.Errorf("Port = %q", cfg.Port)
	}
	if len(cfg.AllowedOrigins) != 2 || cfg.AllowedOrigins[1] != "https://ops.example.com" {
		t.Errorf("AllowedOrigins = %v", cfg.AllowedOrigins)
	}
	if cfg.LogLevel != slog.LevelDebug {
		t.Errorf("LogLevel = %v", cfg.LogLevel)
	}
	if cfg.Backend.Mode != BackendGRPC {
		t.Errorf("Backend.Mode = %q", cfg.Backend.Mode)
	}
	if cfg.Timing.ConnectDelay != 2*time.Second {
		t.Errorf("ConnectDelay = %v", cfg.Timing.ConnectDelay)
	}
	if !cfg.Artifacts.Watch {
		t.Error("expected ARTIFACT_WATCH to be enabled")
	}
	if cfg.IsDevelopment() {
		t.Error("explicit origins should not count as development")
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"unknown backend", map[string]string{"BACKEND_MODE": "serial"}},
		{"backend without addr", map[string]string{"BACKEND_MODE": "websocket"}},
		{"watch without dir", map[string]string{"ARTIFACT_WATCH": "true"}},
		{"inverted sim delay", map[string]string{"SIM_DELAY_MIN": "2s", "SIM_DELAY_MAX": "1s"}},
		{"empty port", map[string]string{"PORT": ""}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			if _, err := Load(); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestMalformedValuesFallBack(t *testing.T) {
	t.Setenv("EVENT_BACKLOG", "lots")
	t.Setenv("BACKEND_TIMEOUT", "soon")
	t.Setenv("LOG_LEVEL", "chatty")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.EventBacklog != 256 || cfg.Backend.Timeout != 30*time.Second || cfg.LogLevel != slog.LevelInfo {
		t.Errorf("unexpected fallbacks: %+v", cfg)
	}
}

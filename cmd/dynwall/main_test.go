package main

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/Urpagin/DynamicWallpaper/internal/config"
)

func TestSetupLogger(t *testing.T) {
	// Save original globals.
	origLevel := logLevel
	origFormat := logFormat
	t.Cleanup(func() {
		logLevel = origLevel
		logFormat = origFormat
	})

	for _, tc := range []struct {
		name      string
		logLevel  string
		logFormat string
	}{
		{name: "debug/text", logLevel: "debug", logFormat: "text"},
		{name: "info/json", logLevel: "info", logFormat: "json"},
		{name: "warn/text", logLevel: "warn", logFormat: "text"},
		{name: "error/text", logLevel: "error", logFormat: "text"},
		{name: "unknown/text", logLevel: "unknown", logFormat: "text"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			logLevel = tc.logLevel
			logFormat = tc.logFormat

			logger := setupLogger()
			if logger == nil {
				t.Fatal("setupLogger returned nil")
			}
		})
	}
}

func testMainLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestLoadConfig_WithExplicitPath(t *testing.T) {
	origCfgFile := cfgFile
	t.Cleanup(func() { cfgFile = origCfgFile })

	tmpDir := t.TempDir()
	configContent := []byte(`client:
  endpoint: "http://images.example.com:4000"
  directory: "` + filepath.Join(tmpDir, "wallpapers") + `"
  parallel: 4
server:
  listen_addr: "127.0.0.1:4000"
`)
	cfgPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(cfgPath, configContent, 0o600); err != nil {
		t.Fatalf("failed to write temp config: %v", err)
	}

	cfgFile = cfgPath

	cfg, err := loadConfig(testMainLogger())
	if err != nil {
		t.Fatalf("loadConfig returned error: %v", err)
	}
	if cfg.Client.Endpoint != "http://images.example.com:4000" {
		t.Errorf("unexpected endpoint: %q", cfg.Client.Endpoint)
	}
	if cfg.Client.Parallel != 4 {
		t.Errorf("unexpected parallel: %d", cfg.Client.Parallel)
	}
}

func TestLoadConfig_MissingExplicitFile(t *testing.T) {
	origCfgFile := cfgFile
	t.Cleanup(func() { cfgFile = origCfgFile })

	cfgFile = filepath.Join(t.TempDir(), "nonexistent.yaml")

	if _, err := loadConfig(testMainLogger()); err == nil {
		t.Fatal("expected error for missing explicit config file, got nil")
	}
}

func TestLoadConfig_MissingDefaultFallsBack(t *testing.T) {
	origCfgFile := cfgFile
	t.Cleanup(func() { cfgFile = origCfgFile })

	cfgFile = ""
	t.Setenv("HOME", t.TempDir())

	cfg, err := loadConfig(testMainLogger())
	if err != nil {
		t.Fatalf("expected defaults when no config file exists, got error: %v", err)
	}
	if cfg.Client.Directory != config.DefaultDirectory {
		t.Errorf("expected default directory %q, got %q", config.DefaultDirectory, cfg.Client.Directory)
	}
	if cfg.Server.ListenAddr != config.DefaultListenAddr {
		t.Errorf("expected default listen addr %q, got %q", config.DefaultListenAddr, cfg.Server.ListenAddr)
	}
}

func TestApplySyncFlags(t *testing.T) {
	origEndpoint := syncEndpoint
	origParallel := syncParallel
	t.Cleanup(func() {
		syncEndpoint = origEndpoint
		syncParallel = origParallel
	})

	if err := syncCmd.Flags().Set("endpoint", "http://override.example.com"); err != nil {
		t.Fatalf("failed to set endpoint flag: %v", err)
	}
	if err := syncCmd.Flags().Set("parallel", "3"); err != nil {
		t.Fatalf("failed to set parallel flag: %v", err)
	}

	cfg := config.Default()
	cfg.Client.Endpoint = "http://from-config.example.com"
	cfg.Client.Directory = "/from/config"

	applySyncFlags(syncCmd, cfg)

	if cfg.Client.Endpoint != "http://override.example.com" {
		t.Errorf("expected flag to override endpoint, got %q", cfg.Client.Endpoint)
	}
	if cfg.Client.Parallel != 3 {
		t.Errorf("expected flag to override parallel, got %d", cfg.Client.Parallel)
	}
	// Flags that were not set leave the config value alone.
	if cfg.Client.Directory != "/from/config" {
		t.Errorf("expected directory to stay %q, got %q", "/from/config", cfg.Client.Directory)
	}
}

func TestSetupSignalHandler(t *testing.T) {
	ctx, cancel := setupSignalHandler()
	if ctx == nil {
		t.Fatal("setupSignalHandler returned nil context")
	}

	cancel()

	<-ctx.Done()
	if err := ctx.Err(); err == nil {
		t.Fatal("expected context error after cancel, got nil")
	}
}

func TestVersionCmd(t *testing.T) {
	t.Helper()
	// versionCmd.Run simply prints version info; should not panic.
	versionCmd.Run(versionCmd, []string{})
}

package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Urpagin/DynamicWallpaper/internal/catalog"
	"github.com/Urpagin/DynamicWallpaper/internal/config"
	"github.com/Urpagin/DynamicWallpaper/internal/index"
	"github.com/Urpagin/DynamicWallpaper/internal/installer"
	"github.com/Urpagin/DynamicWallpaper/internal/server"
	"github.com/Urpagin/DynamicWallpaper/internal/sync"
	"github.com/Urpagin/DynamicWallpaper/internal/systemduser"
	"github.com/spf13/cobra"
)

var (
	// Set by goreleaser
	version = "dev"
	commit  = "none"
	date    = "unknown"

	// Global flags
	cfgFile   string
	logLevel  string
	logFormat string

	// Sync command flags
	syncEndpoint  string
	syncDirectory string
	syncUser      string
	syncPassword  string
	syncParallel  int
	dryRun        bool

	// Serve command flags
	serveListen    string
	serveImageDir  string
	serveAssetsDir string

	// Install command flags
	installEndpoint  string
	installDirectory string
	installUser      string
	installPassword  string
	installInterval  time.Duration
	installPostCmd   string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "dynwall",
	Short: "Keep a local wallpaper directory in sync with a remote image server",
	Long: `dynwall mirrors a directory of wallpapers from a remote image server and can
also run the server side itself.

The sync command performs one reconciliation cycle: it fetches the remote
catalog, downloads images that are missing locally and deletes local files
that left the catalog. The serve command hosts the catalog and accepts
uploads, silently discarding files whose content is already stored.`,
	SilenceUsage: true,
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run one reconciliation cycle against the remote catalog",
	Long: `Sync fetches the catalog from the configured endpoint, compares it with the
local directory by filename, downloads the missing images in parallel and
removes local files that are no longer listed.

Flags override their config-file counterparts. With --dry-run the plan is
logged and nothing is downloaded or deleted.`,
	RunE: runSync,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the image server",
	Long: `Serve hosts the image directory over HTTP: the catalog under /images,
individual files under /images/{filename}, uploads on /upload and deletions
on /delete/{filename}.

On startup every stored file is hashed into an in-memory digest index;
uploads whose content is already indexed are discarded without a second
copy ever touching the disk.`,
	RunE: runServe,
}

var installCmd = &cobra.Command{
	Use:   "install",
	Short: "Install a systemd user timer that runs sync periodically",
	Long: `Install writes a oneshot service and a timer unit to
~/.config/systemd/user, reloads the user daemon and enables the timer.

The generated service runs "dynwall sync" with the flags given here. An
optional post command (for example a wallpaper setter such as feh) runs
after every successful sync.`,
	RunE: runInstall,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("dynwall %s\n", version)
		fmt.Printf("  commit: %s\n", commit)
		fmt.Printf("  built:  %s\n", date)
	},
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/dynwall/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format (text, json)")

	// Sync command flags
	syncCmd.Flags().StringVar(&syncEndpoint, "endpoint", "", "image server base URL, e.g. http://example.com:4000")
	syncCmd.Flags().StringVar(&syncDirectory, "directory", "", "local directory to mirror the catalog into")
	syncCmd.Flags().StringVar(&syncUser, "user", "", "basic auth user")
	syncCmd.Flags().StringVar(&syncPassword, "password", "", "basic auth password")
	syncCmd.Flags().IntVar(&syncParallel, "parallel", 0, "maximum concurrent downloads")
	syncCmd.Flags().BoolVar(&dryRun, "dry-run", false, "log the plan without downloading or deleting anything")

	// Serve command flags
	serveCmd.Flags().StringVar(&serveListen, "listen", "", "listen address, e.g. 0.0.0.0:4000")
	serveCmd.Flags().StringVar(&serveImageDir, "image-dir", "", "directory the served images live in")
	serveCmd.Flags().StringVar(&serveAssetsDir, "assets-dir", "", "directory holding the static index page")

	// Install command flags
	installCmd.Flags().StringVar(&installEndpoint, "endpoint", "", "image server base URL the timer will sync from")
	installCmd.Flags().StringVar(&installDirectory, "directory", config.DefaultDirectory, "local directory the timer will sync into")
	installCmd.Flags().StringVar(&installUser, "user", "", "basic auth user")
	installCmd.Flags().StringVar(&installPassword, "password", "", "basic auth password")
	installCmd.Flags().DurationVar(&installInterval, "interval", installer.DefaultInterval, "how often the timer runs a sync")
	installCmd.Flags().StringVar(&installPostCmd, "post-cmd", "", "command to run after each successful sync")
	_ = installCmd.MarkFlagRequired("endpoint")

	// Add commands
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(installCmd)
	rootCmd.AddCommand(versionCmd)
}

func runSync(cmd *cobra.Command, args []string) error {
	ctx, cancel := setupSignalHandler()
	defer cancel()

	logger := setupLogger()

	cfg, err := loadConfig(logger)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	applySyncFlags(cmd, cfg)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if cfg.Client.Endpoint == "" {
		return errors.New("an endpoint is required: pass --endpoint or set client.endpoint in the config")
	}

	var creds *catalog.Credentials
	if cfg.Client.HasCredentials() {
		creds = &catalog.Credentials{User: cfg.Client.User, Password: cfg.Client.Password}
	}
	catalogClient := catalog.NewHTTPClient(cfg.Client.Endpoint, creds, cfg.Client.HTTPTimeout.Std())

	engine := sync.NewEngine(cfg, catalogClient, logger, dryRun)
	if err := engine.Run(ctx); err != nil {
		logger.Error("sync failed", "error", err)
		return err
	}
	return nil
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := setupSignalHandler()
	defer cancel()

	logger := setupLogger()

	cfg, err := loadConfig(logger)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	applyServeFlags(cmd, cfg)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if err := os.MkdirAll(cfg.Server.ImageDir, 0755); err != nil {
		return fmt.Errorf("failed to create image directory: %w", err)
	}

	idx, err := index.Build(cfg.Server.ImageDir, logger)
	if err != nil {
		return fmt.Errorf("failed to build digest index: %w", err)
	}

	srv := server.New(cfg, idx, logger)
	if err := srv.Start(ctx); err != nil {
		logger.Error("server failed", "error", err)
		return err
	}
	return nil
}

func runInstall(cmd *cobra.Command, args []string) error {
	ctx, cancel := setupSignalHandler()
	defer cancel()

	logger := setupLogger()

	inst, err := installer.New(systemduser.NewClient(), logger)
	if err != nil {
		return err
	}

	opts := installer.Options{
		Endpoint:  installEndpoint,
		Directory: installDirectory,
		User:      installUser,
		Password:  installPassword,
		Interval:  installInterval,
		PostCmd:   installPostCmd,
	}
	if err := inst.Install(ctx, opts); err != nil {
		logger.Error("install failed", "error", err)
		return err
	}
	return nil
}

// applySyncFlags lets explicitly set sync flags override the config file.
func applySyncFlags(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("endpoint") {
		cfg.Client.Endpoint = syncEndpoint
	}
	if flags.Changed("directory") {
		cfg.Client.Directory = syncDirectory
	}
	if flags.Changed("user") {
		cfg.Client.User = syncUser
	}
	if flags.Changed("password") {
		cfg.Client.Password = syncPassword
	}
	if flags.Changed("parallel") {
		cfg.Client.Parallel = syncParallel
	}
}

// applyServeFlags lets explicitly set serve flags override the config file.
func applyServeFlags(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("listen") {
		cfg.Server.ListenAddr = serveListen
	}
	if flags.Changed("image-dir") {
		cfg.Server.ImageDir = serveImageDir
	}
	if flags.Changed("assets-dir") {
		cfg.Server.AssetsDir = serveAssetsDir
	}
}

func setupLogger() *slog.Logger {
	var level slog.Level
	badLevel := level.UnmarshalText([]byte(logLevel)) != nil
	if badLevel {
		level = slog.LevelInfo
	}

	// Create handler based on format
	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: level}

	if logFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	if badLevel {
		logger.Warn("unknown log level, using info", "value", logLevel)
	}
	return logger
}

func loadConfig(logger *slog.Logger) (*config.Config, error) {
	// Determine config file path
	configPath := cfgFile
	explicit := configPath != ""
	if !explicit {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get user home directory: %w", err)
		}
		configPath = fmt.Sprintf("%s/.config/dynwall/config.yaml", home)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		// A missing default config is fine; flags and defaults carry the day.
		if !explicit && errors.Is(err, fs.ErrNotExist) {
			logger.Debug("no config file found, using defaults", "path", configPath)
			return config.Default(), nil
		}
		return nil, err
	}

	logger.Debug("configuration loaded",
		"path", configPath,
		"endpoint", cfg.Client.Endpoint,
		"directory", cfg.Client.Directory,
		"listen_addr", cfg.Server.ListenAddr,
		"image_dir", cfg.Server.ImageDir)

	return cfg, nil
}

func setupSignalHandler() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigCh
		cancel()
	}()

	return ctx, cancel
}

// Package installer writes the systemd user units that run dynwall sync on
// a timer and enables them through systemctl --user.
package installer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/Urpagin/DynamicWallpaper/internal/systemduser"
)

const (
	// ServiceUnit is the oneshot unit that runs a single sync cycle.
	ServiceUnit = "dynwall-sync.service"
	// TimerUnit fires ServiceUnit periodically.
	TimerUnit = "dynwall-sync.timer"

	// DefaultInterval is how often the timer triggers a sync when no
	// interval is given.
	DefaultInterval = 15 * time.Minute
)

// Options describes the sync job the generated units will run.
type Options struct {
	// Executable is the dynwall binary the service invokes. Empty means
	// the currently running binary.
	Executable string
	Endpoint   string
	Directory  string
	User       string
	Password   string
	Interval   time.Duration
	// PostCmd runs after each successful sync, e.g. a wallpaper setter.
	PostCmd string
}

func (o Options) validate() error {
	if o.Endpoint == "" {
		return errors.New("endpoint is required")
	}
	if o.Directory == "" {
		return errors.New("directory is required")
	}
	return nil
}

// Installer places unit files in the user's systemd directory and enables
// the timer.
type Installer struct {
	systemd systemduser.Systemd
	logger  *slog.Logger
	unitDir string
}

// New creates an installer targeting ~/.config/systemd/user.
func New(systemd systemduser.Systemd, logger *slog.Logger) (*Installer, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve home directory: %w", err)
	}
	return &Installer{
		systemd: systemd,
		logger:  logger,
		unitDir: filepath.Join(home, ".config", "systemd", "user"),
	}, nil
}

// Install writes the service and timer units, reloads the user daemon and
// enables the timer so the first sync starts right away.
func (i *Installer) Install(ctx context.Context, opts Options) error {
	if err := opts.validate(); err != nil {
		return err
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Executable == "" {
		exe, err := os.Executable()
		if err != nil {
			return fmt.Errorf("failed to locate the running binary: %w", err)
		}
		opts.Executable = exe
	}

	ok, err := i.systemd.IsAvailable(ctx)
	if err != nil {
		return fmt.Errorf("systemctl --user is not usable: %w", err)
	}
	if !ok {
		return errors.New("systemctl --user is not usable")
	}

	if err := os.MkdirAll(i.unitDir, 0755); err != nil {
		return fmt.Errorf("failed to create unit directory %s: %w", i.unitDir, err)
	}

	servicePath := filepath.Join(i.unitDir, ServiceUnit)
	if err := os.WriteFile(servicePath, []byte(renderService(opts)), 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", servicePath, err)
	}
	timerPath := filepath.Join(i.unitDir, TimerUnit)
	if err := os.WriteFile(timerPath, []byte(renderTimer(opts.Interval)), 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", timerPath, err)
	}
	i.logger.Info("unit files written", "dir", i.unitDir, "service", ServiceUnit, "timer", TimerUnit)

	if err := i.systemd.DaemonReload(ctx); err != nil {
		return fmt.Errorf("failed to reload systemd user daemon: %w", err)
	}
	if err := i.systemd.EnableNow(ctx, TimerUnit); err != nil {
		return fmt.Errorf("failed to enable %s: %w", TimerUnit, err)
	}

	if state, err := i.systemd.IsActive(ctx, TimerUnit); err == nil {
		i.logger.Info("sync timer enabled", "unit", TimerUnit, "state", state, "interval", opts.Interval)
	}
	return nil
}

// renderService produces the oneshot unit running a single sync cycle.
func renderService(opts Options) string {
	args := []string{
		unitQuote(opts.Executable),
		"sync",
		"--endpoint", unitQuote(opts.Endpoint),
		"--directory", unitQuote(opts.Directory),
	}
	if opts.User != "" {
		args = append(args, "--user", unitQuote(opts.User))
	}
	if opts.Password != "" {
		args = append(args, "--password", unitQuote(opts.Password))
	}

	var b strings.Builder
	b.WriteString("[Unit]\n")
	b.WriteString("Description=Synchronize the wallpaper directory with the remote catalog\n")
	b.WriteString("After=network-online.target\n")
	b.WriteString("Wants=network-online.target\n")
	b.WriteString("\n[Service]\n")
	b.WriteString("Type=oneshot\n")
	fmt.Fprintf(&b, "ExecStart=%s\n", strings.Join(args, " "))
	if opts.PostCmd != "" {
		fmt.Fprintf(&b, "ExecStartPost=%s\n", opts.PostCmd)
	}
	b.WriteString("\n[Install]\n")
	b.WriteString("WantedBy=default.target\n")
	return b.String()
}

// renderTimer produces the timer unit that fires the sync service.
func renderTimer(interval time.Duration) string {
	var b strings.Builder
	b.WriteString("[Unit]\n")
	b.WriteString("Description=Periodic wallpaper synchronization\n")
	b.WriteString("\n[Timer]\n")
	b.WriteString("OnBootSec=1min\n")
	fmt.Fprintf(&b, "OnUnitActiveSec=%s\n", interval)
	b.WriteString("Persistent=true\n")
	b.WriteString("\n[Install]\n")
	b.WriteString("WantedBy=timers.target\n")
	return b.String()
}

// unitQuote quotes a value for an Exec line when it contains characters
// systemd would split or mangle.
func unitQuote(s string) string {
	if s != "" && !strings.ContainsAny(s, " \t\"'\\") {
		return s
	}
	return strconv.Quote(s)
}

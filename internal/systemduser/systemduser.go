// Package systemduser shells out to systemctl --user so the installer can
// manage the sync service and timer units.
package systemduser

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// Systemd provides operations for interacting with systemd user units
type Systemd interface {
	// DaemonReload reloads systemd user configuration
	DaemonReload(ctx context.Context) error
	// EnableNow enables the units and starts them immediately
	EnableNow(ctx context.Context, units ...string) error
	// IsActive returns the activation state of a unit, e.g. "active" or "inactive"
	IsActive(ctx context.Context, unit string) (string, error)
	// IsAvailable checks if systemctl --user is accessible
	IsAvailable(ctx context.Context) (bool, error)
}

// Client implements Systemd by shelling out to systemctl --user
type Client struct{}

// NewClient creates a new systemd client
func NewClient() *Client {
	return &Client{}
}

// DaemonReload reloads systemd user daemon configuration
func (c *Client) DaemonReload(ctx context.Context) error {
	cmd := exec.CommandContext(ctx, "systemctl", "--user", "daemon-reload")
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("systemctl daemon-reload failed: %w: %s", err, string(output))
	}
	return nil
}

// EnableNow enables the units and starts them in one call
func (c *Client) EnableNow(ctx context.Context, units ...string) error {
	if len(units) == 0 {
		return nil
	}

	args := append([]string{"--user", "enable", "--now"}, units...)
	cmd := exec.CommandContext(ctx, "systemctl", args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("systemctl enable --now failed: %w: %s", err, string(output))
	}
	return nil
}

// IsActive returns the activation state of a unit
func (c *Client) IsActive(ctx context.Context, unit string) (string, error) {
	cmd := exec.CommandContext(ctx, "systemctl", "--user", "is-active", unit)
	output, err := cmd.Output()
	status := strings.TrimSpace(string(output))

	if err != nil {
		// is-active returns non-zero for inactive units, but that's not an error
		return status, nil
	}

	return status, nil
}

// IsAvailable checks if systemctl --user is accessible
func (c *Client) IsAvailable(ctx context.Context) (bool, error) {
	cmd := exec.CommandContext(ctx, "systemctl", "--user", "status")
	err := cmd.Run()

	// systemctl status returns non-zero for degraded systems, but it's still available
	// We only care if the command can run at all
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			// Exit codes 1-3 are normal for systemctl status
			if exitErr.ExitCode() <= 3 {
				return true, nil
			}
		}
		return false, fmt.Errorf("systemctl --user not available: %w", err)
	}

	return true, nil
}

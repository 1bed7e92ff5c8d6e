// Package activation detects systemd socket activation so the image
// server can inherit its listener from a dynwall.socket unit instead of
// binding the configured address itself.
package activation

import (
	"fmt"
	"net"
	"os"
	"strconv"
)

// Systemd hands activated sockets to the spawned process starting at fd 3
// (0, 1 and 2 are the standard streams).
const listenFDStart = 3

// First returns the first systemd-activated listener, or nil when the
// process was not socket-activated. Any additional activated sockets are
// closed; the image server only ever binds one address.
func First() (net.Listener, error) {
	listeners, err := Listeners()
	if err != nil {
		return nil, err
	}
	if len(listeners) == 0 {
		return nil, nil
	}
	for _, extra := range listeners[1:] {
		_ = extra.Close()
	}
	return listeners[0], nil
}

// Listeners returns all listeners passed by systemd socket activation.
// It returns nil without error when activation is absent or addressed to a
// different process, so callers can fall back to binding themselves.
func Listeners() ([]net.Listener, error) {
	count, err := activatedFDs()
	if err != nil {
		return nil, err
	}
	if count < 1 {
		return nil, nil
	}

	listeners := make([]net.Listener, 0, count)
	for i := 0; i < count; i++ {
		fd := listenFDStart + i
		file := os.NewFile(uintptr(fd), fmt.Sprintf("systemd-socket-%d", i))
		if file == nil {
			return nil, fmt.Errorf("opening activated fd %d", fd)
		}

		listener, err := net.FileListener(file)
		// The listener duplicates the descriptor, so the file is closed
		// regardless of the outcome.
		_ = file.Close()
		if err != nil {
			return nil, fmt.Errorf("creating listener from fd %d: %w", fd, err)
		}
		listeners = append(listeners, listener)
	}

	// Clear the activation variables so child processes do not mistake
	// themselves for the activated service.
	_ = os.Unsetenv("LISTEN_PID")
	_ = os.Unsetenv("LISTEN_FDS")
	_ = os.Unsetenv("LISTEN_FDNAMES")

	return listeners, nil
}

// activatedFDs parses LISTEN_PID and LISTEN_FDS and reports how many
// descriptors systemd passed to this process. Zero means no activation.
func activatedFDs() (int, error) {
	pidStr := os.Getenv("LISTEN_PID")
	if pidStr == "" {
		return 0, nil
	}
	pid, err := strconv.Atoi(pidStr)
	if err != nil {
		return 0, fmt.Errorf("invalid LISTEN_PID %q: %w", pidStr, err)
	}
	if pid != os.Getpid() {
		return 0, nil
	}

	fdsStr := os.Getenv("LISTEN_FDS")
	if fdsStr == "" {
		return 0, nil
	}
	count, err := strconv.Atoi(fdsStr)
	if err != nil {
		return 0, fmt.Errorf("invalid LISTEN_FDS %q: %w", fdsStr, err)
	}
	return count, nil
}

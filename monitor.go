package main

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"
)

const (
	deviceChangeDebounce = 300 * time.Millisecond
	devicePollInterval   = 5 * time.Second
	trackFailureLimit    = 3
)

// StartDeviceMonitor starts monitoring device connections using
// adb track-devices. onChange fires (debounced) whenever the device
// set changes.
func (a *App) StartDeviceMonitor(ctx context.Context, onChange func()) {
	a.deviceMonitorMu.Lock()
	defer a.deviceMonitorMu.Unlock()

	// Stop existing monitor if running
	if a.deviceMonitorCancel != nil {
		a.deviceMonitorCancel()
	}

	mctx, cancel := context.WithCancel(ctx)
	a.deviceMonitorCancel = cancel

	go a.runDeviceMonitor(mctx, onChange)
}

// StopDeviceMonitor stops the device monitor
func (a *App) StopDeviceMonitor() {
	a.deviceMonitorMu.Lock()
	defer a.deviceMonitorMu.Unlock()

	if a.deviceMonitorCancel != nil {
		a.deviceMonitorCancel()
		a.deviceMonitorCancel = nil
	}
}

// runDeviceMonitor runs the device monitoring loop. It prefers the
// track-devices stream and falls back to polling when the stream
// cannot be established.
func (a *App) runDeviceMonitor(ctx context.Context, onChange func()) {
	// Debounce timer to avoid rapid-fire triggers while devices settle
	var debounceTimer *time.Timer
	var debounceMu sync.Mutex

	notify := func() {
		debounceMu.Lock()
		if debounceTimer != nil {
			debounceTimer.Stop()
		}
		debounceTimer = time.AfterFunc(deviceChangeDebounce, onChange)
		debounceMu.Unlock()
	}

	reconnect := RetryPolicy{Mode: RetryBackoffExponential, Initial: time.Second, Max: 30 * time.Second}
	failures := 0

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		err := a.streamDeviceChanges(ctx, notify)
		if ctx.Err() != nil {
			return
		}
		if err == nil {
			failures = 0
			continue
		}

		failures++
		LogWarn("monitor").Err(err).Int("failures", failures).Msg("Device stream lost")

		if failures >= trackFailureLimit {
			// Some bridge builds lack track-devices; poll instead.
			LogWarn("monitor").Msg("Falling back to device polling")
			a.pollDeviceChanges(ctx, notify)
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(reconnect.Delay(failures)):
		}
	}
}

// streamDeviceChanges consumes one adb track-devices session. Each
// payload is a 4-hex-char length prefix followed by the device list.
func (a *App) streamDeviceChanges(ctx context.Context, notify func()) error {
	cmd := a.newAdbCommand(ctx, "track-devices")
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to create pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start track-devices: %w", err)
	}

	LogInfo("monitor").Msg("Device monitor started")

	buf := make([]byte, 4)
	for {
		select {
		case <-ctx.Done():
			cmd.Process.Kill()
			cmd.Wait()
			return nil
		default:
		}

		if _, err := io.ReadFull(stdout, buf); err != nil {
			break
		}

		var length int
		fmt.Sscanf(string(buf), "%04x", &length)

		if length > 0 {
			data := make([]byte, length)
			if _, err := io.ReadFull(stdout, data); err != nil {
				break
			}
		}

		notify()
	}

	cmd.Wait()
	return fmt.Errorf("track-devices stream ended")
}

// pollDeviceChanges watches for device set changes with a plain ticker.
func (a *App) pollDeviceChanges(ctx context.Context, notify func()) {
	ticker := time.NewTicker(devicePollInterval)
	defer ticker.Stop()

	last := ""
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			devices, err := a.GetDevices(false)
			if err != nil {
				LogDebug("monitor").Err(err).Msg("Device poll failed")
				continue
			}
			sig := deviceSetSignature(devices)
			if sig != last {
				last = sig
				notify()
			}
		}
	}
}

func deviceSetSignature(devices []Device) string {
	ids := make([]string, 0, len(devices))
	for _, d := range devices {
		ids = append(ids, d.ID+":"+d.State)
	}
	sort.Strings(ids)
	return strings.Join(ids, ",")
}

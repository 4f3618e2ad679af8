package main

import (
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"runtime"
	"strings"
	"sync"
	"time"
)

// deviceIDPattern validates deviceId formats:
// - USB serials: alphanumeric, e.g. "1234567890ABCDEF", "emulator-5554"
// - wireless devices: IP:port, e.g. "192.168.1.100:5555"
// - mDNS devices: e.g. "adb-xxxxx._adb-tls-connect._tcp."
var deviceIDPattern = regexp.MustCompile(`^[a-zA-Z0-9._:\-]+$`)

// ValidateDeviceID checks that a device ID is safe to pass to adb.
func ValidateDeviceID(deviceId string) error {
	if deviceId == "" {
		return fmt.Errorf("device ID cannot be empty")
	}
	if len(deviceId) > 256 {
		return fmt.Errorf("device ID too long (max 256 characters)")
	}
	if !deviceIDPattern.MatchString(deviceId) {
		return fmt.Errorf("invalid device ID format: contains illegal characters")
	}
	dangerousPatterns := []string{";", "&&", "||", "|", "`", "$", "(", ")", "{", "}", "<", ">", "!", "'", "\"", "\\"}
	for _, p := range dangerousPatterns {
		if strings.Contains(deviceId, p) {
			return fmt.Errorf("invalid device ID format: contains dangerous character '%s'", p)
		}
	}
	return nil
}

// adbNode is one raw line of `adb devices -l` output.
type adbNode struct {
	id         string
	state      string
	isWireless bool
	isMDNS     bool
	hasUSB     bool
	model      string
	serial     string // resolved hardware serial
}

// parseDeviceNodes parses the raw output of `adb devices -l`.
func parseDeviceNodes(output string) []*adbNode {
	var nodes []*adbNode
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "List of devices attached") || strings.HasPrefix(line, "*") {
			continue
		}
		parts := strings.Fields(line)
		if len(parts) < 2 {
			continue
		}
		node := &adbNode{
			id:    parts[0],
			state: parts[1],
		}
		for _, p := range parts[2:] {
			if strings.Contains(p, ":") {
				kv := strings.SplitN(p, ":", 2)
				if kv[0] == "model" {
					node.model = kv[1]
				}
				if kv[0] == "usb" {
					node.hasUSB = true
				}
			}
		}
		node.isWireless = strings.Contains(node.id, ":") || strings.Contains(node.id, "._tcp") || strings.Contains(node.id, "._adb-tls-connect")
		if node.hasUSB {
			node.isWireless = false
		}
		node.isMDNS = strings.Contains(node.id, "._tcp") || strings.Contains(node.id, "._adb-tls-connect")
		nodes = append(nodes, node)
	}
	return nodes
}

// mdnsSerialRe extracts the hardware serial from mDNS IDs (adb-SERIAL-...).
var mdnsSerialRe = regexp.MustCompile(`adb-([a-zA-Z0-9]+)-`)

// GetDevices enumerates connected devices. The returned slice keeps the
// adb enumeration order; multiple adb entries for the same hardware
// serial (USB + wireless) collapse into one Device.
func (a *App) GetDevices(forceLog bool) ([]Device, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if a.adbPath == "" {
		return nil, fmt.Errorf("ADB path is not initialized")
	}

	cmd := a.newAdbCommand(ctx, "devices", "-l")
	output, err := cmd.CombinedOutput()
	if err != nil {
		return nil, fmt.Errorf("failed to run adb devices (path: %s): %w, output: %s", a.adbPath, err, string(output))
	}

	nodes := parseDeviceNodes(string(output))

	// Offline wireless devices are worth one reconnect attempt.
	for _, node := range nodes {
		if node.isWireless && node.state == "offline" {
			a.tryAutoReconnect(node.id)
		}
	}

	// Phase 1: resolve the hardware serial for every node.
	var wg sync.WaitGroup
	for _, n := range nodes {
		wg.Add(1)
		go func(node *adbNode) {
			defer wg.Done()

			// Authorised devices can be asked directly.
			if node.state == "device" {
				sCtx, sCancel := context.WithTimeout(ctx, 3*time.Second)
				defer sCancel()
				c := a.newAdbCommand(sCtx, "-s", node.id, "shell", "getprop ro.serialno")
				out, err := c.Output()
				if err == nil {
					s := strings.TrimSpace(string(out))
					if s != "" {
						node.serial = s
						return
					}
				}
			}

			if node.isMDNS {
				matches := mdnsSerialRe.FindStringSubmatch(node.id)
				if len(matches) > 1 {
					node.serial = matches[1]
					return
				}
			}

			if !node.isWireless {
				node.serial = node.id
			}
		}(n)
	}
	wg.Wait()

	// Phase 2: group nodes by resolved serial, in enumeration order.
	deviceMap := make(map[string]*Device)
	var finalDevices []*Device

	for _, n := range nodes {
		serialKey := n.serial
		if serialKey == "" {
			serialKey = n.id
		}

		d, exists := deviceMap[serialKey]
		if !exists {
			d = &Device{
				ID:     n.id,
				Serial: serialKey,
				State:  n.state,
				IDs:    []string{n.id},
				Model:  strings.TrimSpace(strings.ReplaceAll(n.model, "_", " ")),
			}
			if n.isWireless {
				d.Type = "wireless"
				d.WifiAddr = n.id
			} else {
				d.Type = "wired"
			}
			deviceMap[serialKey] = d
			finalDevices = append(finalDevices, d)
		} else {
			d.IDs = append(d.IDs, n.id)
			// Prefer an online (and ideally wired) entry as the primary ID.
			if n.state == "device" {
				if d.State != "device" || n.hasUSB {
					d.State = "device"
					d.ID = n.id
				}
			}
			if n.isWireless {
				if !strings.Contains(d.WifiAddr, ":") || strings.Contains(n.id, ":") {
					d.WifiAddr = n.id
				}
				if d.Type == "wired" {
					d.Type = "both"
				} else if d.Type == "" {
					d.Type = "wireless"
				}
			} else if n.hasUSB {
				if d.Type == "wireless" {
					d.Type = "both"
				} else if d.Type == "" {
					d.Type = "wired"
				}
			}
		}
	}

	// Phase 3: enrich online devices with brand/model props.
	for i := range finalDevices {
		dev := finalDevices[i]
		if dev.State != "device" {
			continue
		}
		wg.Add(1)
		go func(d *Device) {
			defer wg.Done()
			pCtx, pCancel := context.WithTimeout(ctx, 5*time.Second)
			defer pCancel()
			cmd := a.newAdbCommand(pCtx, "-s", d.ID, "shell", "getprop ro.product.manufacturer; getprop ro.product.model")
			out, err := cmd.Output()
			if err == nil {
				parts := strings.Split(string(out), "\n")
				if len(parts) >= 1 && strings.TrimSpace(parts[0]) != "" {
					d.Brand = strings.TrimSpace(parts[0])
				}
				if len(parts) >= 2 && strings.TrimSpace(parts[1]) != "" {
					m := strings.TrimSpace(parts[1])
					d.Model = strings.ReplaceAll(m, "_", " ")
				}
			} else {
				a.Log("Failed to fetch props for %s: %v", d.ID, err)
			}
			d.LastActive = time.Now().Unix()
		}(dev)
	}
	wg.Wait()

	// Refresh the ID-to-serial mapping used by callers that accept either.
	newIdToSerial := make(map[string]string)
	for _, d := range finalDevices {
		newIdToSerial[d.ID] = d.Serial
		newIdToSerial[d.Serial] = d.Serial
		for _, id := range d.IDs {
			newIdToSerial[id] = d.Serial
		}
	}
	a.idToSerialMu.Lock()
	a.idToSerial = newIdToSerial
	a.idToSerialMu.Unlock()

	if forceLog || len(finalDevices) != a.lastDevCount {
		a.Log("GetDevices returning %d devices (prev: %d)", len(finalDevices), a.lastDevCount)
		a.lastDevCount = len(finalDevices)
	}

	result := make([]Device, len(finalDevices))
	for i, d := range finalDevices {
		result[i] = *d
	}

	return result, nil
}

// GetDeviceInfo returns detailed information about a device.
func (a *App) GetDeviceInfo(deviceId string) (DeviceInfo, error) {
	var info DeviceInfo
	info.Props = make(map[string]string)

	if err := ValidateDeviceID(deviceId); err != nil {
		return info, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	cmd := a.newAdbCommand(ctx, "-s", deviceId, "shell", "getprop")
	output, err := cmd.Output()
	if err != nil {
		return info, fmt.Errorf("failed to read device props: %w", err)
	}

	for _, line := range strings.Split(string(output), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		parts := strings.SplitN(line, "]: [", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimPrefix(parts[0], "[")
		val := strings.TrimSuffix(parts[1], "]")
		info.Props[key] = val

		switch key {
		case "ro.product.model":
			info.Model = val
		case "ro.product.brand":
			info.Brand = val
		case "ro.product.manufacturer":
			info.Manufacturer = val
		case "ro.build.version.release":
			info.AndroidVer = val
		case "ro.build.version.sdk":
			info.SDK = val
		case "ro.product.cpu.abi":
			info.ABI = val
		case "ro.serialno":
			info.Serial = val
		}
	}

	return info, nil
}

// GetDeviceState returns the adb connection state ("device", "offline",
// "unauthorized") for one device.
func (a *App) GetDeviceState(deviceId string) (string, error) {
	if err := ValidateDeviceID(deviceId); err != nil {
		return "", err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	cmd := a.newAdbCommand(ctx, "-s", deviceId, "get-state")
	output, err := cmd.CombinedOutput()
	state := strings.TrimSpace(string(output))
	if err != nil {
		return state, fmt.Errorf("get-state failed: %w, output: %s", err, state)
	}
	return state, nil
}

// WaitForDeviceReady polls a device until it is connected and the shell
// responds, or the timeout elapses.
func (a *App) WaitForDeviceReady(deviceId string, timeout time.Duration) error {
	if err := ValidateDeviceID(deviceId); err != nil {
		return err
	}

	deadline := time.Now().Add(timeout)
	policy := RetryPolicy{Mode: RetryBackoffFixed, Initial: time.Second, Max: time.Second}
	for attempt := 1; ; attempt++ {
		state, _ := a.GetDeviceState(deviceId)
		if state == "device" {
			ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			out, err := a.newAdbCommand(ctx, "-s", deviceId, "shell", "echo ready").CombinedOutput()
			cancel()
			if err == nil && strings.Contains(string(out), "ready") {
				return nil
			}
		}
		delay := policy.Delay(attempt)
		if time.Now().Add(delay).After(deadline) {
			return fmt.Errorf("device %s not ready after %s (state: %s)", deviceId, timeout, state)
		}
		time.Sleep(delay)
	}
}

// tryAutoReconnect attempts to reconnect to a wireless device if it's offline.
func (a *App) tryAutoReconnect(address string) {
	if address == "" || (!strings.Contains(address, ":") && !strings.Contains(address, "._tcp")) {
		return
	}

	a.reconnectMu.Lock()
	last, ok := a.reconnectCooldown[address]
	if ok && time.Since(last) < 30*time.Second {
		a.reconnectMu.Unlock()
		return
	}
	a.reconnectCooldown[address] = time.Now()
	a.reconnectMu.Unlock()

	go func() {
		a.Log("Auto-reconnecting to wireless device: %s", address)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		cmd := a.newAdbCommand(ctx, "connect", address)
		_ = cmd.Run()
	}()
}

// RestartAdbServer kills and restarts the ADB server. The track-devices
// monitor loses its stream when the server dies and reconnects on its
// own, so no other cleanup is needed here.
func (a *App) RestartAdbServer() (string, error) {
	a.Log("Restarting ADB server...")

	if runtime.GOOS == "windows" {
		_ = exec.Command("taskkill", "/F", "/IM", "adb.exe", "/T").Run()
	} else {
		_ = exec.Command("killall", "adb").Run()
		_ = a.newAdbCommand(nil, "kill-server").Run()
	}
	time.Sleep(500 * time.Millisecond)

	startCmd := a.newAdbCommand(nil, "start-server")
	output, err := startCmd.CombinedOutput()
	if err != nil {
		return string(output), fmt.Errorf("failed to start adb server: %w", err)
	}

	a.restartMu.Lock()
	a.serverRestarts++
	a.restartMu.Unlock()
	metrics.ServerRestarts.Inc()

	LogWarn("device").Msg("ADB server restarted")
	return "ADB server restarted successfully", nil
}

// ServerRestartCount returns how many times this process restarted the
// ADB server.
func (a *App) ServerRestartCount() int {
	a.restartMu.Lock()
	defer a.restartMu.Unlock()
	return a.serverRestarts
}

// RunAdbCommand executes an arbitrary ADB command with a default 30s timeout.
func (a *App) RunAdbCommand(deviceId string, fullCmd string) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return a.RunAdbCommandWithContext(ctx, deviceId, fullCmd)
}

// RunAdbCommandWithContext executes an arbitrary ADB command with context
// for timeout control. Commands starting with "shell " keep the rest of
// the line as a single shell argument.
func (a *App) RunAdbCommandWithContext(ctx context.Context, deviceId string, fullCmd string) (string, error) {
	if err := ValidateDeviceID(deviceId); err != nil {
		return "", fmt.Errorf("invalid device ID: %w", err)
	}

	fullCmd = strings.TrimSpace(fullCmd)
	if fullCmd == "" {
		return "", nil
	}

	var args []string
	args = append(args, "-s", deviceId)

	if strings.HasPrefix(fullCmd, "shell ") {
		shellArgs := strings.TrimPrefix(fullCmd, "shell ")
		args = append(args, "shell", shellArgs)
	} else {
		args = append(args, strings.Fields(fullCmd)...)
	}

	cmd := a.newAdbCommand(ctx, args...)
	output, err := cmd.CombinedOutput()
	res := string(output)
	if err != nil {
		return res, fmt.Errorf("command failed: %w, output: %s", err, res)
	}
	return strings.TrimSpace(res), nil
}

package main

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"
)

var ownerComponentPattern = regexp.MustCompile(`ComponentInfo\{([^}]+)\}`)

// HasDeviceOwner reports whether a device-owner management profile is set.
// The policy dump prints a "Device Owner:" block only when one exists, so
// the check is a plain substring match. The owner component is returned
// when it can be extracted from the block.
func (a *App) HasDeviceOwner(deviceId string) (bool, string, error) {
	if err := ValidateDeviceID(deviceId); err != nil {
		return false, "", err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cmd := a.newAdbCommand(ctx, "-s", deviceId, "shell", "dumpsys", "device_policy")
	output, err := cmd.CombinedOutput()
	if err != nil {
		return false, "", fmt.Errorf("failed to query device policy: %w, output: %s", err, string(output))
	}

	dump := string(output)
	if !strings.Contains(dump, "Device Owner:") {
		return false, "", nil
	}
	return true, parseOwnerComponent(dump), nil
}

// parseOwnerComponent extracts the admin component from the Device Owner
// block of a device_policy dump. Returns "" when the block carries no
// ComponentInfo line.
func parseOwnerComponent(dump string) string {
	idx := strings.Index(dump, "Device Owner:")
	if idx < 0 {
		return ""
	}
	if m := ownerComponentPattern.FindStringSubmatch(dump[idx:]); len(m) > 1 {
		return m[1]
	}
	return ""
}

// SetDeviceOwner assigns the admin component as device owner via dpm.
// dpm reports most failures in its output rather than its exit code, so
// the combined output is scanned for error markers.
func (a *App) SetDeviceOwner(deviceId, component string) (string, error) {
	if err := ValidateDeviceID(deviceId); err != nil {
		return "", err
	}
	if component == "" {
		return "", fmt.Errorf("no owner component specified")
	}

	a.Log("Setting device owner %s on %s", component, deviceId)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cmd := a.newAdbCommand(ctx, "-s", deviceId, "shell", "dpm", "set-device-owner", component)
	output, err := cmd.CombinedOutput()
	outStr := string(output)

	detail := strings.TrimSpace(outStr)
	if hint := ownerFailureHint(outStr); hint != "" {
		detail += " (hint: " + hint + ")"
	}

	if err != nil {
		return outStr, fmt.Errorf("dpm set-device-owner failed: %w, output: %s", err, detail)
	}
	if outputIndicatesFailure(outStr) {
		return outStr, fmt.Errorf("dpm set-device-owner rejected: %s", detail)
	}

	LogInfo("owner").Str("device", deviceId).Str("component", component).Msg("Device owner assigned")
	return outStr, nil
}

// outputIndicatesFailure matches the error markers dpm and friends print
// on a zero exit code. The match is case-insensitive because the casing
// varies across Android releases.
func outputIndicatesFailure(output string) bool {
	lower := strings.ToLower(output)
	return strings.Contains(lower, "error") || strings.Contains(lower, "failure")
}

// ownerFailureHints maps distinctive fragments of known dpm rejection
// messages to a remediation hint. dpm reports these as free-form
// exception text, so matching is by lowercased substring.
var ownerFailureHints = map[string]string{
	"several users":               "remove secondary users from the device and retry",
	"some accounts":               "remove all accounts from the device and retry",
	"device owner is already set": "remove the existing owner or factory reset the device",
	"unknown admin":               "install the admin app before assigning ownership",
}

// ownerFailureHint returns the remediation hint for a recognized dpm
// failure message, or "" when the output matches none.
func ownerFailureHint(output string) string {
	lower := strings.ToLower(output)
	for fragment, hint := range ownerFailureHints {
		if strings.Contains(lower, fragment) {
			return hint
		}
	}
	return ""
}

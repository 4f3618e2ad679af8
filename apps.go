package main

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// installFailurePattern extracts the raw code from adb install output such as
// "Failure [INSTALL_FAILED_VERSION_DOWNGRADE]".
var installFailurePattern = regexp.MustCompile(`INSTALL_FAILED_([A-Z_]+)`)

// InstallError is a structured install failure with a remediation hint.
type InstallError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	Suggestion string `json:"suggestion,omitempty"`
	Output     string `json:"output,omitempty"`
}

func (e *InstallError) Error() string {
	if e.Suggestion != "" {
		return fmt.Sprintf("install failed (%s): %s. %s", e.Code, e.Message, e.Suggestion)
	}
	return fmt.Sprintf("install failed (%s): %s", e.Code, e.Message)
}

// installErrorHints maps well-known INSTALL_FAILED_* codes to a readable
// message and a remediation hint reported alongside the failure.
var installErrorHints = map[string]struct {
	code       string
	message    string
	suggestion string
}{
	"INSTALL_FAILED_ALREADY_EXISTS": {
		"ALREADY_EXISTS",
		"app already installed",
		"uninstall the existing app first or reinstall with -r",
	},
	"INSTALL_FAILED_VERSION_DOWNGRADE": {
		"VERSION_DOWNGRADE",
		"cannot downgrade app version",
		"uninstall the existing app first or install a newer build",
	},
	"INSTALL_FAILED_INSUFFICIENT_STORAGE": {
		"INSUFFICIENT_STORAGE",
		"not enough storage space on device",
		"free up storage on the device",
	},
	"INSTALL_FAILED_INVALID_APK": {
		"INVALID_APK",
		"APK file is invalid or corrupted",
		"re-download or rebuild the APK",
	},
	"INSTALL_FAILED_INCOMPATIBLE_SDK": {
		"INCOMPATIBLE_SDK",
		"APK requires a newer Android version",
		"use a build that matches the device SDK level",
	},
	"INSTALL_FAILED_MISSING_SHARED_LIBRARY": {
		"MISSING_LIBRARY",
		"required shared library not found on device",
		"check device compatibility",
	},
	"INSTALL_FAILED_NO_MATCHING_ABIS": {
		"NO_MATCHING_ABIS",
		"APK architecture does not match the device",
		"use an APK built for the device ABI or a universal APK",
	},
	"INSTALL_FAILED_PERMISSION_MODEL": {
		"PERMISSION_MODEL",
		"permission model incompatibility",
		"grant the required permissions manually after install",
	},
}

// parseInstallError classifies adb install output into an InstallError.
func parseInstallError(output string) *InstallError {
	upper := strings.ToUpper(output)

	for pattern, hint := range installErrorHints {
		if strings.Contains(upper, pattern) {
			return &InstallError{
				Code:       hint.code,
				Message:    hint.message,
				Suggestion: hint.suggestion,
				Output:     strings.TrimSpace(output),
			}
		}
	}

	if matches := installFailurePattern.FindStringSubmatch(upper); len(matches) > 1 {
		return &InstallError{
			Code:       matches[1],
			Message:    fmt.Sprintf("installation failed: %s", matches[1]),
			Suggestion: "check device logs for details",
			Output:     strings.TrimSpace(output),
		}
	}

	return &InstallError{
		Code:       "UNKNOWN",
		Message:    "unknown installation error",
		Suggestion: "verify the APK file and the ADB connection",
		Output:     strings.TrimSpace(output),
	}
}

// IsPackageInstalled reports whether packageName is present on the device.
// pm list packages matches substrings, so the output is compared exactly.
func (a *App) IsPackageInstalled(deviceId, packageName string) (bool, error) {
	if err := ValidateDeviceID(deviceId); err != nil {
		return false, err
	}
	if packageName == "" {
		return false, fmt.Errorf("no package specified")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cmd := a.newAdbCommand(ctx, "-s", deviceId, "shell", "pm", "list", "packages", packageName)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return false, fmt.Errorf("failed to list packages: %w, output: %s", err, string(output))
	}

	for _, line := range strings.Split(string(output), "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "package:") && strings.TrimPrefix(line, "package:") == packageName {
			return true, nil
		}
	}
	return false, nil
}

// InstalledPackageVersion returns the versionName and versionCode that
// dumpsys package reports for an installed package.
func (a *App) InstalledPackageVersion(deviceId, packageName string) (string, int64, error) {
	if err := ValidateDeviceID(deviceId); err != nil {
		return "", 0, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cmd := a.newAdbCommand(ctx, "-s", deviceId, "shell", "dumpsys", "package", packageName)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return "", 0, fmt.Errorf("failed to query package info: %w, output: %s", err, string(output))
	}

	versionName, versionCode := parsePackageVersion(string(output))
	if versionName == "" && versionCode == 0 {
		return "", 0, fmt.Errorf("package %s not installed", packageName)
	}
	return versionName, versionCode, nil
}

// parsePackageVersion extracts versionName= and versionCode= lines from
// dumpsys package output. versionCode lines may carry extra fields such as
// minSdk/targetSdk after the number.
func parsePackageVersion(output string) (string, int64) {
	var versionName string
	var versionCode int64

	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "versionName=") && versionName == "" {
			versionName = strings.TrimPrefix(line, "versionName=")
		} else if strings.HasPrefix(line, "versionCode=") && versionCode == 0 {
			fields := strings.Fields(strings.TrimPrefix(line, "versionCode="))
			if len(fields) > 0 {
				fmt.Sscanf(fields[0], "%d", &versionCode)
			}
		}
	}
	return versionName, versionCode
}

// UninstallPackage removes a package from the device. When the standard
// uninstall is rejected it retries as a user-0 uninstall, which works on
// carrier and multi-user builds where the plain form reports Failure.
func (a *App) UninstallPackage(deviceId, packageName string) (string, error) {
	if err := ValidateDeviceID(deviceId); err != nil {
		return "", err
	}

	a.Log("Uninstalling %s from %s", packageName, deviceId)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	cmd := a.newAdbCommand(ctx, "-s", deviceId, "uninstall", packageName)
	output, err := cmd.CombinedOutput()
	outStr := string(output)

	if err == nil && !strings.Contains(outStr, "Failure") {
		return outStr, nil
	}

	LogDebug("apps").Str("package", packageName).Str("output", strings.TrimSpace(outStr)).Msg("Standard uninstall failed, trying pm uninstall --user 0")
	cmd2 := a.newAdbCommand(ctx, "-s", deviceId, "shell", "pm", "uninstall", "-k", "--user", "0", packageName)
	output2, err2 := cmd2.CombinedOutput()
	outStr2 := string(output2)
	if err2 != nil || strings.Contains(outStr2, "Failure") {
		return outStr2, fmt.Errorf("failed to uninstall %s: %s", packageName, strings.TrimSpace(outStr2))
	}

	return outStr2, nil
}

// InstallAPK installs an APK with -r so an existing install is replaced.
// adb exits zero on some install failures, so the output is checked for
// Failure markers as well.
func (a *App) InstallAPK(deviceId string, path string) (string, error) {
	if err := ValidateDeviceID(deviceId); err != nil {
		return "", err
	}

	a.Log("Installing APK %s to device %s", path, deviceId)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	cmd := a.newAdbCommand(ctx, "-s", deviceId, "install", "-r", path)
	output, err := cmd.CombinedOutput()
	outStr := string(output)

	if err != nil || strings.Contains(outStr, "Failure") {
		instErr := parseInstallError(outStr)
		LogWarn("apps").
			Str("device", deviceId).
			Str("apk", path).
			Str("code", instErr.Code).
			Msg("APK install failed")
		return outStr, instErr
	}

	return outStr, nil
}


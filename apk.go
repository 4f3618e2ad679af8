package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"Drover/pkg/cache"
)

// ScanAPKDir lists the .apk files in a directory with their badging info.
// Files whose badging cannot be read are still listed, with the version
// marked unknown, so a missing aapt binary does not hide the directory
// contents.
func (a *App) ScanAPKDir(dir string) ([]APKInfo, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read APK directory %s: %w", dir, err)
	}

	var apks []APKInfo
	for _, entry := range entries {
		if entry.IsDir() || !strings.EqualFold(filepath.Ext(entry.Name()), ".apk") {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		info, err := entry.Info()
		if err != nil {
			continue
		}

		apk := APKInfo{
			Path:        path,
			VersionName: "unknown",
			SizeBytes:   info.Size(),
			ModTime:     info.ModTime().Unix(),
		}
		if badging, err := a.apkBadging(path); err == nil {
			apk.Package = badging.Package
			apk.VersionName = badging.VersionName
			apk.VersionCode = badging.VersionCode
		} else {
			LogDebug("apk").Str("path", path).Err(err).Msg("Badging unavailable")
		}
		apks = append(apks, apk)
	}
	return apks, nil
}

// InspectAPK reads the badging info for a single APK file. The version
// stays "unknown" when aapt is unavailable or the badging dump fails.
func (a *App) InspectAPK(path string) (APKInfo, error) {
	info, err := os.Stat(path)
	if err != nil {
		return APKInfo{}, fmt.Errorf("failed to stat APK %s: %w", path, err)
	}
	if info.IsDir() || !strings.EqualFold(filepath.Ext(path), ".apk") {
		return APKInfo{}, fmt.Errorf("not an APK file: %s", path)
	}

	apk := APKInfo{
		Path:        path,
		VersionName: "unknown",
		SizeBytes:   info.Size(),
		ModTime:     info.ModTime().Unix(),
	}
	if badging, err := a.apkBadging(path); err == nil {
		apk.Package = badging.Package
		apk.VersionName = badging.VersionName
		apk.VersionCode = badging.VersionCode
	} else {
		LogDebug("apk").Str("path", path).Err(err).Msg("Badging unavailable")
	}
	return apk, nil
}

// ResolveAPK picks the APK to install for a profile. An explicit APKPath
// wins; otherwise the newest matching APK in APKDir is chosen. Returns
// (nil, nil) when no APK is available, which callers treat as a skip.
func (a *App) ResolveAPK(profile Profile) (*APKInfo, error) {
	if profile.APKPath != "" {
		apk, err := a.InspectAPK(profile.APKPath)
		if err != nil {
			LogWarn("apk").Str("path", profile.APKPath).Err(err).Msg("Configured APK not usable")
			return nil, nil
		}
		return &apk, nil
	}

	if profile.APKDir == "" {
		return nil, nil
	}

	apks, err := a.ScanAPKDir(profile.APKDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	// Keep only APKs whose package matches the profile. APKs with no
	// badging info stay as candidates when nothing better matches.
	var matching, unidentified []APKInfo
	for _, apk := range apks {
		switch {
		case apk.Package == profile.Package:
			matching = append(matching, apk)
		case apk.Package == "":
			unidentified = append(unidentified, apk)
		}
	}
	candidates := matching
	if len(candidates) == 0 {
		candidates = unidentified
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	best := newestAPK(candidates)
	return &best, nil
}

// newestAPK orders candidates by versionName (numeric-aware), breaking
// ties with the file modification time.
func newestAPK(apks []APKInfo) APKInfo {
	sorted := make([]APKInfo, len(apks))
	copy(sorted, apks)
	sort.SliceStable(sorted, func(i, j int) bool {
		if c := compareVersionNames(sorted[i].VersionName, sorted[j].VersionName); c != 0 {
			return c > 0
		}
		return sorted[i].ModTime > sorted[j].ModTime
	})
	return sorted[0]
}

// compareVersionNames compares dotted version strings segment by segment,
// numerically where both segments are numbers. "unknown" sorts below any
// real version. Returns 1, -1 or 0.
func compareVersionNames(a, b string) int {
	if a == b {
		return 0
	}
	if a == "unknown" || a == "" {
		return -1
	}
	if b == "unknown" || b == "" {
		return 1
	}

	as := strings.FieldsFunc(a, func(r rune) bool { return r == '.' || r == '-' })
	bs := strings.FieldsFunc(b, func(r rune) bool { return r == '.' || r == '-' })

	for i := 0; i < len(as) || i < len(bs); i++ {
		var sa, sb string
		if i < len(as) {
			sa = as[i]
		}
		if i < len(bs) {
			sb = bs[i]
		}
		na, errA := strconv.Atoi(sa)
		nb, errB := strconv.Atoi(sb)
		switch {
		case errA == nil && errB == nil:
			if na != nb {
				if na > nb {
					return 1
				}
				return -1
			}
		default:
			if sa != sb {
				if sa > sb {
					return 1
				}
				return -1
			}
		}
	}
	return 0
}

// apkBadging returns the aapt badging info for a local APK, consulting
// the persistent cache first.
func (a *App) apkBadging(path string) (cache.Badging, error) {
	var badging cache.Badging

	info, err := os.Stat(path)
	if err != nil {
		return badging, fmt.Errorf("failed to stat APK: %w", err)
	}

	key := fmt.Sprintf("%s|%d|%d", path, info.Size(), info.ModTime().Unix())
	if a.cacheService != nil {
		if cached, ok := a.cacheService.GetBadging(key); ok {
			return cached, nil
		}
	}

	if a.aaptPath == "" {
		return badging, fmt.Errorf("aapt not available")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cmd := a.newAaptCommand(ctx, "dump", "badging", path)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return badging, fmt.Errorf("failed to run aapt: %w, output: %s", err, string(output))
	}

	outputStr := string(output)
	badging = cache.Badging{
		Package:   parsePackageNameFromAapt(outputStr),
		Label:     parseLabelFromAapt(outputStr),
		MinSdk:    parseSdkVersionFromAapt(outputStr, "sdkVersion:"),
		TargetSdk: parseSdkVersionFromAapt(outputStr, "targetSdkVersion:"),
		SizeBytes: info.Size(),
		ModTime:   info.ModTime().Unix(),
	}
	badging.VersionName, badging.VersionCode = parseVersionFromAapt(outputStr)
	if badging.VersionName == "" {
		badging.VersionName = "unknown"
	}

	if a.cacheService != nil {
		a.cacheService.SetBadging(key, badging)
		go a.saveCache()
	}
	return badging, nil
}

func parsePackageNameFromAapt(output string) string {
	for _, line := range strings.Split(output, "\n") {
		if strings.HasPrefix(line, "package:") {
			for _, part := range strings.Fields(line) {
				if strings.HasPrefix(part, "name=") {
					return strings.Trim(strings.TrimPrefix(part, "name="), "'\"")
				}
			}
			return ""
		}
	}
	return ""
}

func parseVersionFromAapt(output string) (versionName, versionCode string) {
	for _, line := range strings.Split(output, "\n") {
		if strings.HasPrefix(line, "package:") {
			for _, part := range strings.Fields(line) {
				if strings.HasPrefix(part, "versionCode=") {
					versionCode = strings.Trim(strings.TrimPrefix(part, "versionCode="), "'\"")
				}
				if strings.HasPrefix(part, "versionName=") {
					versionName = strings.Trim(strings.TrimPrefix(part, "versionName="), "'\"")
				}
			}
			return
		}
	}
	return
}

func parseSdkVersionFromAapt(output, prefix string) string {
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, prefix) {
			return strings.Trim(strings.TrimPrefix(line, prefix), "'\"")
		}
	}
	return ""
}

func parseLabelFromAapt(output string) string {
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "application-label:") {
			return strings.Trim(strings.TrimPrefix(line, "application-label:"), "'\"")
		}
	}
	return ""
}

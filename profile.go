package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/tidwall/gjson"
)

// The launcher shipped to provisioned devices. These are the values the
// built-in profile carries; custom profiles override them.
const (
	DefaultLauncherPackage   = "com.hmdm.launcher"
	DefaultLauncherComponent = "com.hmdm.launcher/.AdminReceiver"
)

var profileNamePattern = regexp.MustCompile(`[^a-zA-Z0-9_-]`)

// DefaultProfile returns the built-in provisioning profile. It scans the
// working directory for launcher APKs, which matches how operators drop
// an APK next to the binary.
func DefaultProfile() Profile {
	return Profile{
		Name:           "default",
		Description:    "Built-in launcher provisioning profile",
		Package:        DefaultLauncherPackage,
		OwnerComponent: DefaultLauncherComponent,
		APKDir:         ".",
	}
}

// profilesPath returns the path to the profiles directory
func (a *App) profilesPath() string {
	var configDir string
	if a.cacheService != nil {
		configDir = a.cacheService.ConfigDir()
	} else {
		base, err := os.UserConfigDir()
		if err != nil {
			base = os.TempDir()
		}
		configDir = filepath.Join(base, "Drover")
	}
	profilesPath := filepath.Join(configDir, "profiles")
	_ = os.MkdirAll(profilesPath, 0755)
	return profilesPath
}

// ValidateProfileManifest checks a raw profile document before it is
// unmarshaled, so a broken manifest reports the missing field instead of
// a zero-value struct.
func ValidateProfileManifest(data []byte) error {
	if !gjson.ValidBytes(data) {
		return fmt.Errorf("profile manifest is not valid JSON")
	}
	if !gjson.GetBytes(data, "name").Exists() || gjson.GetBytes(data, "name").String() == "" {
		return fmt.Errorf("profile manifest missing required field: name")
	}
	if !gjson.GetBytes(data, "package").Exists() || gjson.GetBytes(data, "package").String() == "" {
		return fmt.Errorf("profile manifest missing required field: package")
	}
	if !gjson.GetBytes(data, "ownerComponent").Exists() || gjson.GetBytes(data, "ownerComponent").String() == "" {
		return fmt.Errorf("profile manifest missing required field: ownerComponent")
	}
	component := gjson.GetBytes(data, "ownerComponent").String()
	if !strings.Contains(component, "/") {
		return fmt.Errorf("ownerComponent %q must be package/receiver", component)
	}
	return nil
}

// SaveProfile saves a profile to file
func (a *App) SaveProfile(profile Profile) error {
	if profile.Name == "" {
		return fmt.Errorf("profile name is required")
	}
	if profile.Package == "" {
		return fmt.Errorf("profile package is required")
	}
	if !strings.Contains(profile.OwnerComponent, "/") {
		return fmt.Errorf("ownerComponent %q must be package/receiver", profile.OwnerComponent)
	}

	safeName := profileNamePattern.ReplaceAllString(profile.Name, "_")
	filePath := filepath.Join(a.profilesPath(), safeName+".json")

	data, err := json.MarshalIndent(profile, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal profile: %w", err)
	}

	if err := os.WriteFile(filePath, data, 0644); err != nil {
		return fmt.Errorf("failed to write profile file: %w", err)
	}

	return nil
}

// LoadProfiles loads all saved profiles plus the built-in default. A
// saved profile named "default" shadows the built-in one.
func (a *App) LoadProfiles() ([]Profile, error) {
	profilesPath := a.profilesPath()

	entries, err := os.ReadDir(profilesPath)
	if err != nil {
		if os.IsNotExist(err) {
			return []Profile{DefaultProfile()}, nil
		}
		return nil, fmt.Errorf("failed to read profiles directory: %w", err)
	}

	profiles := make([]Profile, 0)
	seenDefault := false
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}

		filePath := filepath.Join(profilesPath, entry.Name())
		data, err := os.ReadFile(filePath)
		if err != nil {
			continue
		}

		if err := ValidateProfileManifest(data); err != nil {
			LogWarn("profile").Str("file", entry.Name()).Err(err).Msg("Skipping invalid profile manifest")
			continue
		}

		var profile Profile
		if err := json.Unmarshal(data, &profile); err != nil {
			continue
		}
		if profile.Name == "default" {
			seenDefault = true
		}
		profiles = append(profiles, profile)
	}

	if !seenDefault {
		profiles = append([]Profile{DefaultProfile()}, profiles...)
	}
	return profiles, nil
}

// GetProfile resolves a profile by name. An empty name falls back to the
// configured default profile, then to the built-in one.
func (a *App) GetProfile(name string) (Profile, error) {
	if name == "" {
		if a.cacheService != nil {
			name = a.cacheService.GetDefaultProfile()
		}
		if name == "" {
			name = "default"
		}
	}

	profiles, err := a.LoadProfiles()
	if err != nil {
		return Profile{}, err
	}
	for _, p := range profiles {
		if p.Name == name {
			return p, nil
		}
	}
	return Profile{}, fmt.Errorf("profile not found: %s", name)
}

// SetDefaultProfileName records which profile an empty profile name
// resolves to. The choice persists across restarts.
func (a *App) SetDefaultProfileName(name string) error {
	if _, err := a.GetProfile(name); err != nil {
		return err
	}
	if a.cacheService == nil {
		return fmt.Errorf("settings storage unavailable")
	}
	a.cacheService.SetDefaultProfile(name)
	if err := a.cacheService.SaveSettings(); err != nil {
		return fmt.Errorf("failed to persist default profile: %w", err)
	}
	return nil
}

// DeleteProfile deletes a saved profile
func (a *App) DeleteProfile(name string) error {
	safeName := profileNamePattern.ReplaceAllString(name, "_")
	filePath := filepath.Join(a.profilesPath(), safeName+".json")

	if err := os.Remove(filePath); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("profile not found")
		}
		return fmt.Errorf("failed to delete profile: %w", err)
	}

	return nil
}

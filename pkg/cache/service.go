package cache

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
)

// Badging holds the aapt badging result for one local APK file. Entries
// are keyed by path plus size and mtime, so a rebuilt APK at the same
// path gets a fresh entry.
type Badging struct {
	Package     string `json:"package"`
	Label       string `json:"label"`
	VersionName string `json:"versionName"`
	VersionCode string `json:"versionCode"`
	MinSdk      string `json:"minSdk"`
	TargetSdk   string `json:"targetSdk"`
	SizeBytes   int64  `json:"sizeBytes"`
	ModTime     int64  `json:"modTime"`
}

// Settings represents persistent application settings
type Settings struct {
	DefaultProfile  string           `json:"defaultProfile"`
	LastProvisioned map[string]int64 `json:"lastProvisioned"`
}

// Service manages application cache and settings persistence
type Service struct {
	// Paths
	configDir    string
	cachePath    string
	settingsPath string

	// Badging cache
	badging   map[string]Badging
	badgingMu sync.RWMutex

	// Settings state (kept in sync with file)
	lastProvisioned map[string]int64
	lastProvMu      sync.RWMutex

	defaultProfile string
	profileMu      sync.RWMutex

	// Logger function (optional)
	logFunc func(format string, args ...interface{})
}

// Config for creating a new cache Service
type Config struct {
	ConfigDir string
	LogFunc   func(format string, args ...interface{})
}

// New creates a new cache Service instance
func New(cfg Config) (*Service, error) {
	configDir := cfg.ConfigDir
	if configDir == "" {
		var err error
		configDir, err = os.UserConfigDir()
		if err != nil {
			configDir = os.TempDir()
		}
		configDir = filepath.Join(configDir, "Drover")
	}

	if err := os.MkdirAll(configDir, 0755); err != nil {
		return nil, err
	}

	s := &Service{
		configDir:       configDir,
		cachePath:       filepath.Join(configDir, "badging_cache.json"),
		settingsPath:    filepath.Join(configDir, "settings.json"),
		badging:         make(map[string]Badging),
		lastProvisioned: make(map[string]int64),
		logFunc:         cfg.LogFunc,
	}

	// Load persisted data
	s.loadCache()
	s.loadSettings()

	return s, nil
}

// log writes a log message if logFunc is set
func (s *Service) log(format string, args ...interface{}) {
	if s.logFunc != nil {
		s.logFunc(format, args...)
	}
}

// ========================================
// Badging Cache Methods
// ========================================

// GetBadging returns a cached badging entry if it exists
func (s *Service) GetBadging(key string) (Badging, bool) {
	s.badgingMu.RLock()
	defer s.badgingMu.RUnlock()
	b, exists := s.badging[key]
	return b, exists
}

// SetBadging caches the badging result for an APK
func (s *Service) SetBadging(key string, b Badging) {
	s.badgingMu.Lock()
	s.badging[key] = b
	s.badgingMu.Unlock()
}

// ClearBadgingCache clears the entire badging cache
func (s *Service) ClearBadgingCache() {
	s.badgingMu.Lock()
	s.badging = make(map[string]Badging)
	s.badgingMu.Unlock()
}

// SaveCache persists the badging cache to disk
func (s *Service) SaveCache() error {
	s.badgingMu.RLock()
	data, err := json.Marshal(s.badging)
	s.badgingMu.RUnlock()

	if err != nil {
		s.log("Error marshaling cache: %v", err)
		return err
	}

	if err := os.WriteFile(s.cachePath, data, 0644); err != nil {
		s.log("Error saving cache to %s: %v", s.cachePath, err)
		return err
	}
	return nil
}

func (s *Service) loadCache() {
	s.badgingMu.Lock()
	defer s.badgingMu.Unlock()

	data, err := os.ReadFile(s.cachePath)
	if err != nil {
		return
	}

	_ = json.Unmarshal(data, &s.badging)
}

// ========================================
// Settings Methods
// ========================================

// GetLastProvisioned returns the last successful provisioning timestamp
// for a device serial
func (s *Service) GetLastProvisioned(serial string) int64 {
	s.lastProvMu.RLock()
	defer s.lastProvMu.RUnlock()
	return s.lastProvisioned[serial]
}

// SetLastProvisioned updates the last provisioning timestamp for a serial
func (s *Service) SetLastProvisioned(serial string, timestamp int64) {
	s.lastProvMu.Lock()
	s.lastProvisioned[serial] = timestamp
	s.lastProvMu.Unlock()
}

// GetAllLastProvisioned returns a copy of all provisioning timestamps
func (s *Service) GetAllLastProvisioned() map[string]int64 {
	s.lastProvMu.RLock()
	defer s.lastProvMu.RUnlock()
	result := make(map[string]int64, len(s.lastProvisioned))
	for k, v := range s.lastProvisioned {
		result[k] = v
	}
	return result
}

// GetDefaultProfile returns the default profile name
func (s *Service) GetDefaultProfile() string {
	s.profileMu.RLock()
	defer s.profileMu.RUnlock()
	return s.defaultProfile
}

// SetDefaultProfile sets the default profile name
func (s *Service) SetDefaultProfile(name string) {
	s.profileMu.Lock()
	s.defaultProfile = name
	s.profileMu.Unlock()
}

// SaveSettings persists settings to disk
func (s *Service) SaveSettings() error {
	s.lastProvMu.RLock()
	lastProvisioned := make(map[string]int64)
	for k, v := range s.lastProvisioned {
		lastProvisioned[k] = v
	}
	s.lastProvMu.RUnlock()

	s.profileMu.RLock()
	defaultProfile := s.defaultProfile
	s.profileMu.RUnlock()

	settings := Settings{
		DefaultProfile:  defaultProfile,
		LastProvisioned: lastProvisioned,
	}

	data, err := json.Marshal(settings)
	if err != nil {
		return err
	}
	return os.WriteFile(s.settingsPath, data, 0644)
}

func (s *Service) loadSettings() {
	if s.settingsPath == "" {
		return
	}
	data, err := os.ReadFile(s.settingsPath)
	if err != nil {
		return
	}
	var settings Settings
	if err := json.Unmarshal(data, &settings); err != nil {
		return
	}

	s.lastProvMu.Lock()
	if settings.LastProvisioned != nil {
		s.lastProvisioned = settings.LastProvisioned
	}
	s.lastProvMu.Unlock()

	s.profileMu.Lock()
	s.defaultProfile = settings.DefaultProfile
	s.profileMu.Unlock()
}

// ========================================
// Path Accessors
// ========================================

// ConfigDir returns the configuration directory path
func (s *Service) ConfigDir() string {
	return s.configDir
}

// CachePath returns the cache file path
func (s *Service) CachePath() string {
	return s.cachePath
}

// SettingsPath returns the settings file path
func (s *Service) SettingsPath() string {
	return s.settingsPath
}

// ========================================
// Shutdown
// ========================================

// Close saves all caches and settings before shutdown
func (s *Service) Close() error {
	if err := s.SaveCache(); err != nil {
		s.log("Error saving cache on close: %v", err)
	}
	if err := s.SaveSettings(); err != nil {
		s.log("Error saving settings on close: %v", err)
	}
	return nil
}

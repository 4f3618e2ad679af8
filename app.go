package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/spf13/viper"
	"golang.org/x/time/rate"

	"Drover/pkg/cache"
)

// App struct
type App struct {
	ctx      context.Context
	adbPath  string
	aaptPath string

	// Generic mutex for shared state
	mu sync.Mutex

	version string

	// Persistent badging cache, settings, and provisioning timestamps
	cacheService *cache.Service

	// Provisioning run history
	store *RunStore

	// Runtime logs
	runtimeLogs []string
	logsMu      sync.Mutex

	// Device tracking
	lastDevCount int
	idToSerial   map[string]string
	idToSerialMu sync.RWMutex

	// Wireless stability
	reconnectCooldown map[string]time.Time
	reconnectMu       sync.Mutex

	// ADB server restart accounting
	serverRestarts int
	restartMu      sync.Mutex

	// One provisioning pass at a time per process
	provisionMu sync.Mutex

	// Paces heavy per-device adb operations during a pass
	limiter *rate.Limiter

	// Backoff for transient adb failures during a pass
	retry RetryPolicy

	// Device monitor
	deviceMonitorCancel context.CancelFunc
	deviceMonitorMu     sync.Mutex

	// Progress streaming
	wsHub  *wsHub
	events *EventPublisher
}

// NewApp creates a new App instance
func NewApp(version string) *App {
	return &App{
		idToSerial:        make(map[string]string),
		reconnectCooldown: make(map[string]time.Time),
		limiter:           rate.NewLimiter(rate.Limit(4), 4),
		retry:             DefaultRetryPolicy(),
		version:           version,
	}
}

// startup wires the App's runtime dependencies. It is called once after
// configuration is loaded and before any command runs.
func (a *App) startup(ctx context.Context) {
	a.ctx = ctx
	a.setupBinaries()
	a.initPersistentCache()
	a.initRunStore()
	a.initEventPublisher()

	if limit := viper.GetFloat64("provision.rate_limit"); limit > 0 {
		a.limiter = rate.NewLimiter(rate.Limit(limit), int(limit))
	}

	a.retry = NewRetryPolicy(
		RetryBackoffMode(viper.GetString("provision.retry_mode")),
		time.Duration(viper.GetInt("provision.retry_initial_ms"))*time.Millisecond,
		time.Duration(viper.GetInt("provision.retry_max_ms"))*time.Millisecond,
		viper.GetInt("provision.retries"),
	)
}

// Shutdown releases everything startup acquired.
func (a *App) Shutdown(ctx context.Context) {
	LogAppState(StateShuttingDown, nil)
	a.StopDeviceMonitor()
	if a.events != nil {
		a.events.Close()
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			LogWarn("app").Err(err).Msg("Failed to close run store")
		}
	}
	if a.cacheService != nil {
		if err := a.cacheService.Close(); err != nil {
			LogWarn("app").Err(err).Msg("Failed to flush cache service")
		}
	}
	LogAppState(StateStopped, nil)
	CloseLogger()
}

// GetAppVersion returns the application version
func (a *App) GetAppVersion() string {
	return a.version
}

// Log adds a message to the runtime log ring. The last 1000 entries stay
// queryable over the serve API while structured output goes to zerolog.
func (a *App) Log(format string, args ...interface{}) {
	text := fmt.Sprintf(format, args...)
	a.logsMu.Lock()
	a.runtimeLogs = append(a.runtimeLogs, fmt.Sprintf("[%s] %s", time.Now().Format("15:04:05"), text))
	if len(a.runtimeLogs) > 1000 {
		a.runtimeLogs = a.runtimeLogs[len(a.runtimeLogs)-1000:]
	}
	a.logsMu.Unlock()
	LogDebug("app").Msg(text)
}

// GetBackendLogs returns a copy of the runtime log ring
func (a *App) GetBackendLogs() []string {
	a.logsMu.Lock()
	defer a.logsMu.Unlock()
	logs := make([]string, len(a.runtimeLogs))
	copy(logs, a.runtimeLogs)
	return logs
}

// Initialization functions

func (a *App) initPersistentCache() {
	svc, err := cache.New(cache.Config{
		ConfigDir: viper.GetString("data.dir"),
		LogFunc:   a.Log,
	})
	if err != nil {
		LogWarn("app").Err(err).Msg("Persistent cache unavailable, running in-memory")
		return
	}
	a.cacheService = svc
	LogDebug("app").
		Str("cache", svc.CachePath()).
		Str("settings", svc.SettingsPath()).
		Msg("Persistent cache ready")
}

func (a *App) initRunStore() {
	dataDir := viper.GetString("data.dir")
	if dataDir == "" && a.cacheService != nil {
		dataDir = a.cacheService.ConfigDir()
	}
	if dataDir == "" {
		base, err := os.UserConfigDir()
		if err != nil {
			base = os.TempDir()
		}
		dataDir = filepath.Join(base, "Drover")
	}

	store, err := NewRunStore(dataDir)
	if err != nil {
		LogWarn("app").Err(err).Msg("Run history store unavailable")
		return
	}
	a.store = store

	if days := viper.GetInt("history.retention_days"); days > 0 {
		go func() {
			removed, err := store.CleanupOldRuns(time.Duration(days) * 24 * time.Hour)
			if err != nil {
				LogWarn("app").Err(err).Msg("Run history cleanup failed")
				return
			}
			if removed > 0 {
				LogInfo("app").Int("removed", removed).Msg("Pruned old provisioning runs")
				if err := store.VacuumDatabase(); err != nil {
					LogWarn("app").Err(err).Msg("History compaction failed")
				}
			}
		}()
	}
}

func (a *App) initEventPublisher() {
	url := viper.GetString("nats.url")
	if url == "" {
		return
	}
	subject := viper.GetString("nats.subject")
	pub, err := NewEventPublisher(url, subject)
	if err != nil {
		LogWarn("app").Str("url", url).Err(err).Msg("NATS publisher unavailable")
		return
	}
	a.events = pub
	LogInfo("app").Str("url", url).Msg("Publishing provisioning events to NATS")
}

// Binary resolution

// setupBinaries resolves the adb and aapt executables. Configured paths
// win, then PATH, then the usual SDK install locations.
func (a *App) setupBinaries() {
	a.adbPath = resolveADB(viper.GetString("adb.path"))
	if a.adbPath == "" {
		LogError("app").Msg("adb not found: set adb.path or install platform-tools")
	} else {
		LogInfo("app").Str("path", a.adbPath).Msg("Using adb")
	}

	a.aaptPath = resolveAAPT(viper.GetString("aapt.path"))
	if a.aaptPath == "" {
		LogDebug("app").Msg("aapt not found, APK badging disabled")
	} else {
		LogDebug("app").Str("path", a.aaptPath).Msg("Using aapt")
	}
}

// sdkRoots lists the usual Android SDK install locations.
func sdkRoots() []string {
	var roots []string
	for _, env := range []string{"ANDROID_HOME", "ANDROID_SDK_ROOT"} {
		if v := os.Getenv(env); v != "" {
			roots = append(roots, v)
		}
	}
	if home, err := os.UserHomeDir(); err == nil {
		switch runtime.GOOS {
		case "darwin":
			roots = append(roots, filepath.Join(home, "Library", "Android", "sdk"))
		case "windows":
			roots = append(roots, filepath.Join(home, "AppData", "Local", "Android", "Sdk"))
		default:
			roots = append(roots, filepath.Join(home, "Android", "Sdk"))
		}
	}
	return roots
}

func exeName(name string) string {
	if runtime.GOOS == "windows" {
		return name + ".exe"
	}
	return name
}

func resolveADB(configured string) string {
	if configured != "" {
		return configured
	}
	if path, err := exec.LookPath("adb"); err == nil {
		return path
	}
	for _, root := range sdkRoots() {
		candidate := filepath.Join(root, "platform-tools", exeName("adb"))
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	return ""
}

func resolveAAPT(configured string) string {
	if configured != "" {
		return configured
	}
	if path, err := exec.LookPath("aapt"); err == nil {
		return path
	}
	for _, root := range sdkRoots() {
		matches, err := filepath.Glob(filepath.Join(root, "build-tools", "*", exeName("aapt")))
		if err != nil || len(matches) == 0 {
			continue
		}
		// Highest build-tools version wins.
		sort.Sort(sort.Reverse(sort.StringSlice(matches)))
		return matches[0]
	}
	return ""
}

// Command helper functions

// newAdbCommand creates an exec.Cmd with a clean environment to avoid proxy issues
func (a *App) newAdbCommand(ctx context.Context, args ...string) *exec.Cmd {
	var cmd *exec.Cmd
	if ctx != nil {
		cmd = exec.CommandContext(ctx, a.adbPath, args...)
	} else {
		cmd = exec.Command(a.adbPath, args...)
	}
	cmd.Env = cleanEnviron()
	return cmd
}

// newAaptCommand creates an exec.Cmd for aapt with the same clean environment
func (a *App) newAaptCommand(ctx context.Context, args ...string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, a.aaptPath, args...)
	cmd.Env = cleanEnviron()
	return cmd
}

// cleanEnviron strips proxy variables from the inherited environment. A
// configured proxy can hijack adb's localhost TCP traffic.
func cleanEnviron() []string {
	env := os.Environ()
	newEnv := make([]string, 0, len(env))
	proxyVars := []string{"HTTP_PROXY", "HTTPS_PROXY", "ALL_PROXY", "NO_PROXY", "http_proxy", "https_proxy", "all_proxy", "no_proxy"}

	for _, e := range env {
		isProxy := false
		for _, v := range proxyVars {
			if len(e) > len(v) && e[:len(v)+1] == v+"=" {
				isProxy = true
				break
			}
		}
		if !isProxy {
			newEnv = append(newEnv, e)
		}
	}
	return newEnv
}

// Persistence helpers

func (a *App) saveCache() {
	if a.cacheService == nil {
		return
	}
	if err := a.cacheService.SaveCache(); err != nil {
		a.Log("Error saving badging cache: %v", err)
	}
}

func (a *App) saveSettings() {
	if a.cacheService == nil {
		return
	}
	if err := a.cacheService.SaveSettings(); err != nil {
		a.Log("Error saving settings: %v", err)
	}
}

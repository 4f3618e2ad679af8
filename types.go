package main

// Device represents a connected ADB device
type Device struct {
	ID         string   `json:"id"`
	Serial     string   `json:"serial"`
	State      string   `json:"state"` // "device", "offline", "unauthorized"
	Model      string   `json:"model"`
	Brand      string   `json:"brand"`
	Type       string   `json:"type"` // "wired", "wireless", or "both"
	IDs        []string `json:"ids"`  // All adb IDs for this device (e.g. [serial, 192.168.1.1:5555])
	WifiAddr   string   `json:"wifiAddr"`
	LastActive int64    `json:"lastActive"`
}

// DeviceInfo contains detailed information about a device
type DeviceInfo struct {
	Model        string            `json:"model"`
	Brand        string            `json:"brand"`
	Manufacturer string            `json:"manufacturer"`
	AndroidVer   string            `json:"androidVer"`
	SDK          string            `json:"sdk"`
	ABI          string            `json:"abi"`
	Serial       string            `json:"serial"`
	Props        map[string]string `json:"props"`
}

// DeviceStatus is the derived provisioning state of one device. It is
// computed fresh on every query and never persisted.
type DeviceStatus struct {
	DeviceID         string `json:"deviceId"`
	Serial           string `json:"serial"`
	Model            string `json:"model"`
	State            string `json:"state"`
	OwnerSet         bool   `json:"ownerSet"`
	OwnerComponent   string `json:"ownerComponent,omitempty"`
	PackageInstalled bool   `json:"packageInstalled"`
	InstalledVersion string `json:"installedVersion"` // "N/A" when the package is absent
	CheckedAt        int64  `json:"checkedAt"`
	Error            string `json:"error,omitempty"`
}

// StatusSummary aggregates the status of all connected devices.
type StatusSummary struct {
	TotalDevices   int            `json:"totalDevices"`
	OwnerCount     int            `json:"ownerCount"`
	InstalledCount int            `json:"installedCount"`
	Statuses       []DeviceStatus `json:"statuses"`
}

// Provisioning outcome classes for a single device.
const (
	OutcomeProvisioned    = "provisioned"
	OutcomeAlreadyOwner   = "already-owner"
	OutcomeSkippedFilter  = "skipped-filtered"
	OutcomeSkippedNoAPK   = "skipped-no-apk"
	OutcomeSkippedOffline = "skipped-offline"
	OutcomeFailed         = "failed"
)

// ProvisionResult is the outcome of the provisioning pass for one device.
type ProvisionResult struct {
	DeviceID   string   `json:"deviceId"`
	Serial     string   `json:"serial"`
	Model      string   `json:"model"`
	Outcome    string   `json:"outcome"`
	Steps      []string `json:"steps,omitempty"` // Actions performed, e.g. "uninstall", "install", "set-owner"
	Error      string   `json:"error,omitempty"`
	DurationMs int64    `json:"durationMs"`
}

// RunSummary is the aggregate result of one bulk-provisioning pass.
type RunSummary struct {
	RunID          string            `json:"runId"`
	Profile        string            `json:"profile"`
	StartedAt      int64             `json:"startedAt"`
	FinishedAt     int64             `json:"finishedAt"`
	TotalDevices   int               `json:"totalDevices"`
	Provisioned    int               `json:"provisioned"`
	AlreadyOwner   int               `json:"alreadyOwner"`
	Skipped        int               `json:"skipped"`
	Failed         int               `json:"failed"`
	ServerRestarts int               `json:"serverRestarts"`
	DryRun         bool              `json:"dryRun,omitempty"`
	Results        []ProvisionResult `json:"results"`
}

// Profile is a named provisioning target.
type Profile struct {
	Name           string `json:"name"`
	Description    string `json:"description,omitempty"`
	Package        string `json:"package"`
	OwnerComponent string `json:"ownerComponent"`
	APKPath        string `json:"apkPath,omitempty"`
	APKDir         string `json:"apkDir,omitempty"`
	FilterScript   string `json:"filterScript,omitempty"`
}

// APKInfo describes an inspected APK file.
type APKInfo struct {
	Path        string `json:"path"`
	Package     string `json:"package"`
	VersionName string `json:"versionName"` // "unknown" when badging fails
	VersionCode string `json:"versionCode"`
	SizeBytes   int64  `json:"sizeBytes"`
	ModTime     int64  `json:"modTime"`
}

// Provisioning progress event types.
const (
	EventRunStarted    = "run_started"
	EventDeviceResult  = "device_result"
	EventRunFinished   = "run_finished"
	EventServerRestart = "server_restart"
)

// ProvisionEvent is the wire form of a provisioning progress event,
// pushed to WebSocket clients and published to NATS when configured.
type ProvisionEvent struct {
	Type      string `json:"type"` // "run_started", "device_result", "run_finished", "server_restart"
	RunID     string `json:"runId"`
	Profile   string `json:"profile,omitempty"`
	DeviceID  string `json:"deviceId,omitempty"`
	Outcome   string `json:"outcome,omitempty"`
	Detail    string `json:"detail,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

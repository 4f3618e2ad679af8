package types

// Device represents an Android device
type Device struct {
	ID         string   `json:"id"`
	Serial     string   `json:"serial"`
	State      string   `json:"state"`
	Model      string   `json:"model"`
	Brand      string   `json:"brand"`
	Type       string   `json:"type"` // "wired", "wireless", or "both"
	IDs        []string `json:"ids"`
	WifiAddr   string   `json:"wifiAddr"`
	LastActive int64    `json:"lastActive"`
}

// DeviceInfo contains detailed device information
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

// DeviceStatus is the provisioning state of one connected device
type DeviceStatus struct {
	DeviceID         string `json:"deviceId"`
	Serial           string `json:"serial"`
	Model            string `json:"model"`
	State            string `json:"state"`
	OwnerSet         bool   `json:"ownerSet"`
	OwnerComponent   string `json:"ownerComponent,omitempty"`
	PackageInstalled bool   `json:"packageInstalled"`
	InstalledVersion string `json:"installedVersion"`
	CheckedAt        int64  `json:"checkedAt"`
	Error            string `json:"error,omitempty"`
}

// StatusSummary aggregates the status of all connected devices
type StatusSummary struct {
	TotalDevices   int            `json:"totalDevices"`
	OwnerCount     int            `json:"ownerCount"`
	InstalledCount int            `json:"installedCount"`
	Statuses       []DeviceStatus `json:"statuses"`
}

// ProvisionResult is the outcome of provisioning one device
type ProvisionResult struct {
	DeviceID   string   `json:"deviceId"`
	Serial     string   `json:"serial"`
	Model      string   `json:"model"`
	Outcome    string   `json:"outcome"`
	Steps      []string `json:"steps,omitempty"`
	Error      string   `json:"error,omitempty"`
	DurationMs int64    `json:"durationMs"`
}

// RunSummary aggregates the results of one provisioning pass
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
	DryRun         bool              `json:"dryRun"`
	Results        []ProvisionResult `json:"results"`
}

// Profile is a named provisioning target
type Profile struct {
	Name           string `json:"name"`
	Description    string `json:"description,omitempty"`
	Package        string `json:"package"`
	OwnerComponent string `json:"ownerComponent"`
	APKPath        string `json:"apkPath,omitempty"`
	APKDir         string `json:"apkDir,omitempty"`
	FilterScript   string `json:"filterScript,omitempty"`
}

// APKInfo describes a local APK file
type APKInfo struct {
	Path        string `json:"path"`
	Package     string `json:"package"`
	VersionName string `json:"versionName"`
	VersionCode string `json:"versionCode"`
	SizeBytes   int64  `json:"sizeBytes"`
	ModTime     int64  `json:"modTime"`
}

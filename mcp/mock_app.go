package mcp

import (
	"context"
	"errors"
	"sync"
)

// MockCall records a method call for verification
type MockCall struct {
	Method string
	Args   []interface{}
}

// MockDroverApp is a mock implementation of DroverApp for testing
type MockDroverApp struct {
	mu    sync.Mutex
	Calls []MockCall

	// Device Inspection
	GetDevicesResult           []Device
	GetDevicesError            error
	GetDeviceInfoResult        DeviceInfo
	GetDeviceInfoError         error
	CollectStatusSummaryResult StatusSummary
	CollectStatusSummaryError  error

	// Provisioning
	ProvisionProfileResult *RunSummary
	ProvisionProfileError  error

	// Run History
	ListRunsResult      []RunSummary
	ListRunsError       error
	GetRunResult        *RunSummary
	GetRunError         error
	DeviceHistoryResult []ProvisionResult
	DeviceHistoryError  error

	// Profiles
	LoadProfilesResult []Profile
	LoadProfilesError  error
	GetProfileResult   Profile
	GetProfileError    error

	// APK Inspection
	InspectAPKResult APKInfo
	InspectAPKError  error
	ScanAPKDirResult []APKInfo
	ScanAPKDirError  error

	// Raw ADB
	RunAdbCommandResult string
	RunAdbCommandError  error

	// Utility
	AppVersion string
}

// NewMockDroverApp creates a new MockDroverApp with sensible defaults
func NewMockDroverApp() *MockDroverApp {
	return &MockDroverApp{
		Calls:      make([]MockCall, 0),
		AppVersion: "1.0.0-test",
		// Default empty results
		GetDevicesResult:   []Device{},
		LoadProfilesResult: []Profile{SampleProfile("default")},
		GetProfileResult:   SampleProfile("default"),
	}
}

// recordCall records a method call
func (m *MockDroverApp) recordCall(method string, args ...interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, MockCall{Method: method, Args: args})
}

// GetCalls returns all recorded calls
func (m *MockDroverApp) GetCalls() []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]MockCall{}, m.Calls...)
}

// ResetCalls clears all recorded calls
func (m *MockDroverApp) ResetCalls() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = make([]MockCall, 0)
}

// GetLastCall returns the last recorded call
func (m *MockDroverApp) GetLastCall() *MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Calls) == 0 {
		return nil
	}
	return &m.Calls[len(m.Calls)-1]
}

// WasMethodCalled checks if a method was called
func (m *MockDroverApp) WasMethodCalled(method string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, call := range m.Calls {
		if call.Method == method {
			return true
		}
	}
	return false
}

// GetLastCallByMethod returns the last call to a specific method
func (m *MockDroverApp) GetLastCallByMethod(method string) *MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.Calls) - 1; i >= 0; i-- {
		if m.Calls[i].Method == method {
			return &m.Calls[i]
		}
	}
	return nil
}

// === Device Inspection ===

func (m *MockDroverApp) GetDevices(forceLog bool) ([]Device, error) {
	m.recordCall("GetDevices", forceLog)
	return m.GetDevicesResult, m.GetDevicesError
}

func (m *MockDroverApp) GetDeviceInfo(deviceId string) (DeviceInfo, error) {
	m.recordCall("GetDeviceInfo", deviceId)
	return m.GetDeviceInfoResult, m.GetDeviceInfoError
}

func (m *MockDroverApp) CollectStatusSummary(packageName string) (StatusSummary, error) {
	m.recordCall("CollectStatusSummary", packageName)
	return m.CollectStatusSummaryResult, m.CollectStatusSummaryError
}

// === Provisioning ===

func (m *MockDroverApp) ProvisionProfile(ctx context.Context, profileName string, dryRun bool, deviceIds []string) (*RunSummary, error) {
	m.recordCall("ProvisionProfile", profileName, dryRun, deviceIds)
	return m.ProvisionProfileResult, m.ProvisionProfileError
}

// === Run History ===

func (m *MockDroverApp) ListRuns(profile string, limit int) ([]RunSummary, error) {
	m.recordCall("ListRuns", profile, limit)
	return m.ListRunsResult, m.ListRunsError
}

func (m *MockDroverApp) GetRun(runId string) (*RunSummary, error) {
	m.recordCall("GetRun", runId)
	return m.GetRunResult, m.GetRunError
}

func (m *MockDroverApp) DeviceHistory(serial string, limit int) ([]ProvisionResult, error) {
	m.recordCall("DeviceHistory", serial, limit)
	return m.DeviceHistoryResult, m.DeviceHistoryError
}

// === Profiles ===

func (m *MockDroverApp) LoadProfiles() ([]Profile, error) {
	m.recordCall("LoadProfiles")
	return m.LoadProfilesResult, m.LoadProfilesError
}

func (m *MockDroverApp) GetProfile(name string) (Profile, error) {
	m.recordCall("GetProfile", name)
	return m.GetProfileResult, m.GetProfileError
}

// === APK Inspection ===

func (m *MockDroverApp) InspectAPK(path string) (APKInfo, error) {
	m.recordCall("InspectAPK", path)
	return m.InspectAPKResult, m.InspectAPKError
}

func (m *MockDroverApp) ScanAPKDir(dir string) ([]APKInfo, error) {
	m.recordCall("ScanAPKDir", dir)
	return m.ScanAPKDirResult, m.ScanAPKDirError
}

// === Raw ADB ===

func (m *MockDroverApp) RunAdbCommand(deviceId string, command string) (string, error) {
	m.recordCall("RunAdbCommand", deviceId, command)
	return m.RunAdbCommandResult, m.RunAdbCommandError
}

// === Utility ===

func (m *MockDroverApp) GetAppVersion() string {
	m.recordCall("GetAppVersion")
	return m.AppVersion
}

// === Test Helper Functions ===

// SetupWithDevices configures mock with sample devices
func (m *MockDroverApp) SetupWithDevices(devices ...Device) *MockDroverApp {
	m.GetDevicesResult = devices
	return m
}

// SetupWithError configures a specific method to return an error
func (m *MockDroverApp) SetupWithError(method string, err error) *MockDroverApp {
	switch method {
	case "GetDevices":
		m.GetDevicesError = err
	case "GetDeviceInfo":
		m.GetDeviceInfoError = err
	case "CollectStatusSummary":
		m.CollectStatusSummaryError = err
	case "ProvisionProfile":
		m.ProvisionProfileError = err
	case "ListRuns":
		m.ListRunsError = err
	case "GetRun":
		m.GetRunError = err
	case "DeviceHistory":
		m.DeviceHistoryError = err
	case "LoadProfiles":
		m.LoadProfilesError = err
	case "GetProfile":
		m.GetProfileError = err
	case "InspectAPK":
		m.InspectAPKError = err
	case "ScanAPKDir":
		m.ScanAPKDirError = err
	case "RunAdbCommand":
		m.RunAdbCommandError = err
	}
	return m
}

// Common test errors
var (
	ErrDeviceNotFound   = errors.New("device not found")
	ErrDeviceOffline    = errors.New("device offline")
	ErrProfileNotFound  = errors.New("profile not found")
	ErrStoreUnavailable = errors.New("history store unavailable")
	ErrTimeout          = errors.New("operation timed out")
)

// Sample test data factories

// SampleDevice returns a sample device for testing
func SampleDevice(id string) Device {
	return Device{
		ID:         id,
		Serial:     id,
		State:      "device",
		Model:      "Pixel 6",
		Brand:      "Google",
		Type:       "wired",
		IDs:        []string{id},
		LastActive: 1700000000000,
	}
}

// SampleDeviceInfo returns sample device info for testing
func SampleDeviceInfo() DeviceInfo {
	return DeviceInfo{
		Model:        "Pixel 6",
		Brand:        "Google",
		Manufacturer: "Google",
		AndroidVer:   "14",
		SDK:          "34",
		ABI:          "arm64-v8a",
		Serial:       "abc123",
		Props:        map[string]string{"ro.build.id": "AP1A.240405.002"},
	}
}

// SampleProfile returns a sample provisioning profile for testing
func SampleProfile(name string) Profile {
	return Profile{
		Name:           name,
		Package:        "com.hmdm.launcher",
		OwnerComponent: "com.hmdm.launcher/.AdminReceiver",
	}
}

// SampleStatusSummary returns a sample status summary for testing
func SampleStatusSummary() StatusSummary {
	return StatusSummary{
		TotalDevices:   2,
		OwnerCount:     1,
		InstalledCount: 1,
		Statuses: []DeviceStatus{
			{
				DeviceID:         "device1",
				Serial:           "device1",
				Model:            "Pixel 6",
				State:            "device",
				OwnerSet:         true,
				OwnerComponent:   "com.hmdm.launcher/.AdminReceiver",
				PackageInstalled: true,
				InstalledVersion: "6.19",
				CheckedAt:        1700000000000,
			},
			{
				DeviceID:         "device2",
				Serial:           "device2",
				Model:            "Pixel 6",
				State:            "device",
				InstalledVersion: "N/A",
				CheckedAt:        1700000000000,
			},
		},
	}
}

// SampleRunSummary returns a sample provisioning run for testing
func SampleRunSummary(id string) RunSummary {
	return RunSummary{
		RunID:        id,
		Profile:      "default",
		StartedAt:    1700000000000,
		FinishedAt:   1700000012000,
		TotalDevices: 2,
		Provisioned:  1,
		AlreadyOwner: 1,
		Results: []ProvisionResult{
			{
				DeviceID:   "device1",
				Serial:     "device1",
				Outcome:    "provisioned",
				Steps:      []string{"uninstall", "install", "set-owner"},
				DurationMs: 9500,
			},
			{
				DeviceID:   "device2",
				Serial:     "device2",
				Outcome:    "already-owner",
				DurationMs: 1200,
			},
		},
	}
}

// SampleAPKInfo returns a sample APK description for testing
func SampleAPKInfo(path string) APKInfo {
	return APKInfo{
		Path:        path,
		Package:     "com.hmdm.launcher",
		VersionName: "6.19",
		VersionCode: "619",
		SizeBytes:   12582912,
		ModTime:     1700000000,
	}
}

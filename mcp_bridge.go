package main

import (
	"context"
	"errors"
	"fmt"

	"Drover/mcp"
)

// MCPBridge bridges the main App to the MCP server
type MCPBridge struct {
	app *App
}

// NewMCPBridge creates a new MCP bridge
func NewMCPBridge(app *App) *MCPBridge {
	return &MCPBridge{app: app}
}

// Implement mcp.DroverApp interface

func (b *MCPBridge) GetDevices(forceLog bool) ([]mcp.Device, error) {
	devices, err := b.app.GetDevices(forceLog)
	if err != nil {
		return nil, err
	}
	result := make([]mcp.Device, len(devices))
	for i, d := range devices {
		result[i] = mcp.Device{
			ID:         d.ID,
			Serial:     d.Serial,
			State:      d.State,
			Model:      d.Model,
			Brand:      d.Brand,
			Type:       d.Type,
			IDs:        d.IDs,
			WifiAddr:   d.WifiAddr,
			LastActive: d.LastActive,
		}
	}
	return result, nil
}

func (b *MCPBridge) GetDeviceInfo(deviceId string) (mcp.DeviceInfo, error) {
	info, err := b.app.GetDeviceInfo(deviceId)
	if err != nil {
		return mcp.DeviceInfo{}, err
	}
	return mcp.DeviceInfo{
		Model:        info.Model,
		Brand:        info.Brand,
		Manufacturer: info.Manufacturer,
		AndroidVer:   info.AndroidVer,
		SDK:          info.SDK,
		ABI:          info.ABI,
		Serial:       info.Serial,
		Props:        info.Props,
	}, nil
}

func (b *MCPBridge) CollectStatusSummary(packageName string) (mcp.StatusSummary, error) {
	summary, err := b.app.CollectStatusSummary(packageName)
	if err != nil {
		return mcp.StatusSummary{}, err
	}
	statuses := make([]mcp.DeviceStatus, len(summary.Statuses))
	for i, s := range summary.Statuses {
		statuses[i] = mcp.DeviceStatus{
			DeviceID:         s.DeviceID,
			Serial:           s.Serial,
			Model:            s.Model,
			State:            s.State,
			OwnerSet:         s.OwnerSet,
			OwnerComponent:   s.OwnerComponent,
			PackageInstalled: s.PackageInstalled,
			InstalledVersion: s.InstalledVersion,
			CheckedAt:        s.CheckedAt,
			Error:            s.Error,
		}
	}
	return mcp.StatusSummary{
		TotalDevices:   summary.TotalDevices,
		OwnerCount:     summary.OwnerCount,
		InstalledCount: summary.InstalledCount,
		Statuses:       statuses,
	}, nil
}

// ProvisionProfile resolves the named profile, loads its filter hook when
// one is configured, and runs a provisioning pass. A partial summary is
// returned alongside the error so callers can report both.
func (b *MCPBridge) ProvisionProfile(ctx context.Context, profileName string, dryRun bool, deviceIds []string) (*mcp.RunSummary, error) {
	profile, err := b.app.GetProfile(profileName)
	if err != nil {
		return nil, err
	}

	var hook *DeviceHook
	if profile.FilterScript != "" {
		hook, err = LoadDeviceHook(profile.FilterScript)
		if err != nil {
			return nil, fmt.Errorf("failed to load filter script: %w", err)
		}
	}

	summary, err := b.app.RunProvisionPass(ctx, ProvisionOptions{
		Profile: profile,
		DryRun:  dryRun,
		Hook:    hook,
		Devices: deviceIds,
	})
	return b.convertSummaryToMCP(summary), err
}

func (b *MCPBridge) ListRuns(profile string, limit int) ([]mcp.RunSummary, error) {
	if b.app.store == nil {
		return nil, errors.New("history store unavailable")
	}
	runs, err := b.app.store.ListRuns(profile, limit)
	if err != nil {
		return nil, err
	}
	result := make([]mcp.RunSummary, len(runs))
	for i := range runs {
		result[i] = *b.convertSummaryToMCP(&runs[i])
	}
	return result, nil
}

func (b *MCPBridge) GetRun(runId string) (*mcp.RunSummary, error) {
	if b.app.store == nil {
		return nil, errors.New("history store unavailable")
	}
	run, err := b.app.store.GetRun(runId)
	if err != nil {
		return nil, err
	}
	return b.convertSummaryToMCP(run), nil
}

func (b *MCPBridge) DeviceHistory(serial string, limit int) ([]mcp.ProvisionResult, error) {
	if b.app.store == nil {
		return nil, errors.New("history store unavailable")
	}
	results, err := b.app.store.DeviceHistory(serial, limit)
	if err != nil {
		return nil, err
	}
	converted := make([]mcp.ProvisionResult, len(results))
	for i, r := range results {
		converted[i] = b.convertResultToMCP(r)
	}
	return converted, nil
}

func (b *MCPBridge) LoadProfiles() ([]mcp.Profile, error) {
	profiles, err := b.app.LoadProfiles()
	if err != nil {
		return nil, err
	}
	result := make([]mcp.Profile, len(profiles))
	for i, p := range profiles {
		result[i] = b.convertProfileToMCP(p)
	}
	return result, nil
}

func (b *MCPBridge) GetProfile(name string) (mcp.Profile, error) {
	profile, err := b.app.GetProfile(name)
	if err != nil {
		return mcp.Profile{}, err
	}
	return b.convertProfileToMCP(profile), nil
}

func (b *MCPBridge) InspectAPK(path string) (mcp.APKInfo, error) {
	apk, err := b.app.InspectAPK(path)
	if err != nil {
		return mcp.APKInfo{}, err
	}
	return b.convertAPKToMCP(apk), nil
}

func (b *MCPBridge) ScanAPKDir(dir string) ([]mcp.APKInfo, error) {
	apks, err := b.app.ScanAPKDir(dir)
	if err != nil {
		return nil, err
	}
	result := make([]mcp.APKInfo, len(apks))
	for i, apk := range apks {
		result[i] = b.convertAPKToMCP(apk)
	}
	return result, nil
}

func (b *MCPBridge) RunAdbCommand(deviceId string, command string) (string, error) {
	return b.app.RunAdbCommand(deviceId, command)
}

func (b *MCPBridge) GetAppVersion() string {
	return b.app.GetAppVersion()
}

// Type conversion helpers

func (b *MCPBridge) convertSummaryToMCP(s *RunSummary) *mcp.RunSummary {
	if s == nil {
		return nil
	}
	results := make([]mcp.ProvisionResult, len(s.Results))
	for i, r := range s.Results {
		results[i] = b.convertResultToMCP(r)
	}
	return &mcp.RunSummary{
		RunID:          s.RunID,
		Profile:        s.Profile,
		StartedAt:      s.StartedAt,
		FinishedAt:     s.FinishedAt,
		TotalDevices:   s.TotalDevices,
		Provisioned:    s.Provisioned,
		AlreadyOwner:   s.AlreadyOwner,
		Skipped:        s.Skipped,
		Failed:         s.Failed,
		ServerRestarts: s.ServerRestarts,
		DryRun:         s.DryRun,
		Results:        results,
	}
}

func (b *MCPBridge) convertResultToMCP(r ProvisionResult) mcp.ProvisionResult {
	return mcp.ProvisionResult{
		DeviceID:   r.DeviceID,
		Serial:     r.Serial,
		Model:      r.Model,
		Outcome:    r.Outcome,
		Steps:      r.Steps,
		Error:      r.Error,
		DurationMs: r.DurationMs,
	}
}

func (b *MCPBridge) convertProfileToMCP(p Profile) mcp.Profile {
	return mcp.Profile{
		Name:           p.Name,
		Description:    p.Description,
		Package:        p.Package,
		OwnerComponent: p.OwnerComponent,
		APKPath:        p.APKPath,
		APKDir:         p.APKDir,
		FilterScript:   p.FilterScript,
	}
}

func (b *MCPBridge) convertAPKToMCP(a APKInfo) mcp.APKInfo {
	return mcp.APKInfo{
		Path:        a.Path,
		Package:     a.Package,
		VersionName: a.VersionName,
		VersionCode: a.VersionCode,
		SizeBytes:   a.SizeBytes,
		ModTime:     a.ModTime,
	}
}

// StartMCPServer starts the MCP server with the given app
func StartMCPServer(app *App) {
	bridge := NewMCPBridge(app)
	mcpServer := mcp.NewMCPServer(bridge)
	if err := mcpServer.Start(); err != nil {
		LogError("mcp").Err(err).Msg("Failed to start MCP server")
	}
}

package main

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// deviceActions is the slice of device behavior the provisioning engine
// drives. The App implements it; engine tests substitute a scripted fake.
type deviceActions interface {
	GetDevices(forceLog bool) ([]Device, error)
	HasDeviceOwner(deviceId string) (bool, string, error)
	IsPackageInstalled(deviceId, packageName string) (bool, error)
	UninstallPackage(deviceId, packageName string) (string, error)
	InstallAPK(deviceId, path string) (string, error)
	SetDeviceOwner(deviceId, component string) (string, error)
	ResolveAPK(profile Profile) (*APKInfo, error)
	RestartAdbServer() (string, error)
	WaitForDeviceReady(deviceId string, timeout time.Duration) error
}

// ProvisionOptions configures one bulk-provisioning pass.
type ProvisionOptions struct {
	Profile Profile
	DryRun  bool
	Hook    *DeviceHook
	// Devices restricts the pass to the listed device IDs. Empty means
	// every connected device.
	Devices []string
}

// provisionEngine executes one pass over the connected devices. It is
// single-use: the restart budget and counters reset with each new engine.
type provisionEngine struct {
	actions   deviceActions
	limiter   *rate.Limiter
	emit      func(ProvisionEvent)
	retry     RetryPolicy
	restarted bool
	restarts  int
	runID     string
}

// RunProvisionPass executes one bulk-provisioning pass over all connected
// devices. Only one pass runs at a time per process; a second call while
// one is active fails immediately instead of queueing.
func (a *App) RunProvisionPass(ctx context.Context, opts ProvisionOptions) (*RunSummary, error) {
	if !a.provisionMu.TryLock() {
		return nil, fmt.Errorf("a provisioning pass is already running")
	}
	defer a.provisionMu.Unlock()

	engine := &provisionEngine{
		actions: a,
		limiter: a.limiter,
		emit:    a.publishEvent,
		retry:   a.retry,
	}

	summary, err := engine.run(ctx, opts)

	if summary != nil && !opts.DryRun {
		metricsObserveRun(summary)
		if a.store != nil {
			if saveErr := a.store.SaveRun(summary); saveErr != nil {
				LogError("provision").Err(saveErr).Msg("Failed to persist run history")
			}
		}
		if a.cacheService != nil {
			now := time.Now().Unix()
			for _, r := range summary.Results {
				if r.Outcome == OutcomeProvisioned && r.Serial != "" {
					a.cacheService.SetLastProvisioned(r.Serial, now)
				}
			}
			go a.saveSettings()
		}
	}
	return summary, err
}

func (e *provisionEngine) run(ctx context.Context, opts ProvisionOptions) (*RunSummary, error) {
	e.runID = uuid.New().String()
	summary := &RunSummary{
		RunID:     e.runID,
		Profile:   opts.Profile.Name,
		StartedAt: time.Now().UnixMilli(),
		DryRun:    opts.DryRun,
		Results:   []ProvisionResult{},
	}

	timer := StartOperation("provision", "bulk_pass")
	timer.AddDetail("runId", e.runID)
	timer.AddDetail("profile", opts.Profile.Name)

	e.send(ProvisionEvent{Type: EventRunStarted, RunID: e.runID, Profile: opts.Profile.Name})

	devices, err := e.enumerateDevices()
	if err != nil {
		summary.FinishedAt = time.Now().UnixMilli()
		e.send(ProvisionEvent{Type: EventRunFinished, RunID: e.runID, Detail: "enumeration failed"})
		timer.EndWithError(err)
		return summary, err
	}

	if len(opts.Devices) > 0 {
		requested := make(map[string]bool, len(opts.Devices))
		for _, id := range opts.Devices {
			requested[id] = true
		}
		filtered := make([]Device, 0, len(opts.Devices))
		for _, d := range devices {
			if requested[d.ID] {
				filtered = append(filtered, d)
			}
		}
		devices = filtered
	}

	summary.TotalDevices = len(devices)
	if len(devices) == 0 {
		LogInfo("provision").Msg("No devices connected")
		summary.FinishedAt = time.Now().UnixMilli()
		e.send(ProvisionEvent{Type: EventRunFinished, RunID: e.runID, Detail: "no devices"})
		timer.End()
		return summary, nil
	}

	for _, device := range devices {
		if ctx.Err() != nil {
			summary.FinishedAt = time.Now().UnixMilli()
			e.send(ProvisionEvent{Type: EventRunFinished, RunID: e.runID, Detail: "canceled"})
			timer.EndWithError(ctx.Err())
			return summary, ctx.Err()
		}

		LogInfo("provision").Str("device", device.ID).Str("model", device.Model).Msg("Processing device")
		result := e.provisionDevice(ctx, device, opts)

		summary.Results = append(summary.Results, result)
		tallyResult(summary, result)
		e.send(ProvisionEvent{
			Type:     EventDeviceResult,
			RunID:    e.runID,
			DeviceID: device.ID,
			Outcome:  result.Outcome,
			Detail:   result.Error,
		})
		if opts.Hook != nil {
			opts.Hook.OnResult(result)
		}
	}

	summary.ServerRestarts = e.restarts
	summary.FinishedAt = time.Now().UnixMilli()
	e.send(ProvisionEvent{Type: EventRunFinished, RunID: e.runID})

	timer.AddDetail("provisioned", summary.Provisioned)
	timer.AddDetail("failed", summary.Failed)
	timer.End()
	return summary, nil
}

// enumerateDevices lists connected devices, retrying transient failures
// with the engine's backoff policy.
func (e *provisionEngine) enumerateDevices() ([]Device, error) {
	devices, err := e.actions.GetDevices(true)
	if err == nil {
		return devices, nil
	}

	for attempt := 1; attempt <= e.retry.MaxRetries; attempt++ {
		LogWarn("provision").Err(err).Int("attempt", attempt).Msg("Device enumeration failed, retrying")
		time.Sleep(e.retry.Delay(attempt))
		devices, err = e.actions.GetDevices(true)
		if err == nil {
			return devices, nil
		}
	}
	return nil, fmt.Errorf("failed to enumerate devices: %w", err)
}

// provisionDevice walks one device through the provisioning sequence:
// filter, owner check, APK resolution, uninstall, install, owner
// assignment. Every failure is contained to this device.
func (e *provisionEngine) provisionDevice(ctx context.Context, device Device, opts ProvisionOptions) (result ProvisionResult) {
	started := time.Now()
	result = ProvisionResult{DeviceID: device.ID, Serial: device.Serial, Model: device.Model}
	defer func() {
		result.DurationMs = time.Since(started).Milliseconds()
	}()

	if device.State != "device" {
		result.Outcome = OutcomeSkippedOffline
		result.Error = fmt.Sprintf("device state is %q", device.State)
		return result
	}

	if opts.Hook != nil {
		verdict, err := opts.Hook.FilterDevice(device)
		if err != nil {
			// A broken filter fails open so a script typo cannot halt a
			// provisioning run.
			LogWarn("provision").Str("device", device.ID).Err(err).Msg("Filter hook error, device passes")
		} else if verdict.Skip {
			LogInfo("provision").Str("device", device.ID).Str("reason", verdict.Reason).Msg("Device filtered out")
			result.Outcome = OutcomeSkippedFilter
			result.Error = verdict.Reason
			return result
		}
	}

	ownerSet, component, err := e.actions.HasDeviceOwner(device.ID)
	if err != nil {
		e.recoverOnce(device.ID, fmt.Sprintf("owner query failed on %s: %v", device.ID, err))
		result.Outcome = OutcomeFailed
		result.Error = err.Error()
		return result
	}
	if ownerSet {
		LogInfo("provision").Str("device", device.ID).Str("component", component).Msg("Device already has a device owner")
		result.Outcome = OutcomeAlreadyOwner
		return result
	}

	apk, err := e.actions.ResolveAPK(opts.Profile)
	if err != nil {
		result.Outcome = OutcomeFailed
		result.Error = fmt.Sprintf("APK resolution failed: %v", err)
		return result
	}
	if apk == nil {
		LogInfo("provision").Str("device", device.ID).Msg("No APK available, skipping installation")
		result.Outcome = OutcomeSkippedNoAPK
		return result
	}

	installed, err := e.actions.IsPackageInstalled(device.ID, opts.Profile.Package)
	if err != nil {
		result.Outcome = OutcomeFailed
		result.Error = fmt.Sprintf("package query failed: %v", err)
		return result
	}

	if opts.DryRun {
		if installed {
			result.Steps = append(result.Steps, "uninstall")
		}
		result.Steps = append(result.Steps, "install", "set-owner")
		result.Outcome = OutcomeProvisioned
		return result
	}

	if installed {
		// The package is present but unmanaged, so replace it outright.
		if err := e.pace(ctx, &result); err != nil {
			return result
		}
		if _, err := e.actions.UninstallPackage(device.ID, opts.Profile.Package); err != nil {
			// Best-effort: install -r below overwrites it anyway.
			LogWarn("provision").Str("device", device.ID).Err(err).Msg("Uninstall failed, continuing")
		}
		result.Steps = append(result.Steps, "uninstall")
	}

	if err := e.pace(ctx, &result); err != nil {
		return result
	}
	if _, err := e.actions.InstallAPK(device.ID, apk.Path); err != nil {
		result.Outcome = OutcomeFailed
		result.Error = err.Error()
		return result
	}
	result.Steps = append(result.Steps, "install")

	ownerSet, _, err = e.actions.HasDeviceOwner(device.ID)
	if err != nil {
		e.recoverOnce(device.ID, fmt.Sprintf("owner re-query failed on %s: %v", device.ID, err))
		result.Outcome = OutcomeFailed
		result.Error = err.Error()
		return result
	}
	if !ownerSet {
		if err := e.pace(ctx, &result); err != nil {
			return result
		}
		if _, err := e.actions.SetDeviceOwner(device.ID, opts.Profile.OwnerComponent); err != nil {
			e.recoverOnce(device.ID, fmt.Sprintf("owner assignment failed on %s: %v", device.ID, err))
			result.Outcome = OutcomeFailed
			result.Error = err.Error()
			return result
		}
		result.Steps = append(result.Steps, "set-owner")
	}

	result.Outcome = OutcomeProvisioned
	return result
}

// pace blocks on the shared rate limiter before a heavy device operation.
// A canceled context marks the device failed.
func (e *provisionEngine) pace(ctx context.Context, result *ProvisionResult) error {
	if e.limiter == nil {
		return nil
	}
	if err := e.limiter.Wait(ctx); err != nil {
		result.Outcome = OutcomeFailed
		result.Error = fmt.Sprintf("pass canceled: %v", err)
		return err
	}
	return nil
}

// recoverOnce restarts the ADB server in response to a failed owner
// assignment or an unexpected pass error. The restart runs at most once
// per run; a stuck server rarely recovers from repeated kicks, and
// restarting drops every connected device mid-pass.
func (e *provisionEngine) recoverOnce(deviceID, reason string) {
	if e.restarted {
		LogDebug("provision").Str("reason", reason).Msg("Server restart budget already spent this run")
		return
	}
	e.restarted = true
	e.restarts++

	LogWarn("provision").Str("reason", reason).Msg("Attempting ADB server restart")
	e.send(ProvisionEvent{Type: EventServerRestart, RunID: e.runID, Detail: reason})
	if _, err := e.actions.RestartAdbServer(); err != nil {
		LogError("provision").Err(err).Msg("ADB server restart failed")
		return
	}

	// The restart drops every connection. Wait for the triggering device
	// to come back so the rest of the pass talks to a live server.
	if err := e.actions.WaitForDeviceReady(deviceID, 30*time.Second); err != nil {
		LogWarn("provision").Str("device", deviceID).Err(err).Msg("Device did not come back after server restart")
	}
}

// send delivers a progress event to the configured sink, if any.
func (e *provisionEngine) send(event ProvisionEvent) {
	if e.emit == nil {
		return
	}
	event.Timestamp = time.Now().UnixMilli()
	e.emit(event)
}

// tallyResult folds one device result into the run counters.
func tallyResult(summary *RunSummary, r ProvisionResult) {
	switch r.Outcome {
	case OutcomeProvisioned:
		summary.Provisioned++
	case OutcomeAlreadyOwner:
		summary.AlreadyOwner++
	case OutcomeSkippedFilter, OutcomeSkippedNoAPK, OutcomeSkippedOffline:
		summary.Skipped++
	case OutcomeFailed:
		summary.Failed++
	}
}

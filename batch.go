package main

import (
	"sort"
	"sync"
	"time"
)

// statusActions is the device surface the status collector reads.
// Split out so tests can script it.
type statusActions interface {
	GetDevices(forceLog bool) ([]Device, error)
	HasDeviceOwner(deviceId string) (bool, string, error)
	IsPackageInstalled(deviceId, packageName string) (bool, error)
	InstalledPackageVersion(deviceId, packageName string) (string, int64, error)
}

// CollectStatusSummary computes the provisioning status of every
// connected device in parallel.
func (a *App) CollectStatusSummary(packageName string) (StatusSummary, error) {
	return collectStatusSummary(a, packageName)
}

func collectStatusSummary(actions statusActions, packageName string) (StatusSummary, error) {
	summary := StatusSummary{Statuses: []DeviceStatus{}}

	devices, err := actions.GetDevices(false)
	if err != nil {
		return summary, err
	}

	summary.TotalDevices = len(devices)
	if len(devices) == 0 {
		return summary, nil
	}

	var wg sync.WaitGroup
	resultsChan := make(chan DeviceStatus, len(devices))

	for _, device := range devices {
		wg.Add(1)
		go func(d Device) {
			defer wg.Done()
			resultsChan <- collectDeviceStatus(actions, d, packageName)
		}(device)
	}

	// Wait for all queries to complete
	go func() {
		wg.Wait()
		close(resultsChan)
	}()

	for ds := range resultsChan {
		summary.Statuses = append(summary.Statuses, ds)
		if ds.OwnerSet {
			summary.OwnerCount++
		}
		if ds.PackageInstalled {
			summary.InstalledCount++
		}
	}

	// Fan-out scrambles completion order
	sort.Slice(summary.Statuses, func(i, j int) bool {
		return summary.Statuses[i].DeviceID < summary.Statuses[j].DeviceID
	})

	return summary, nil
}

// collectDeviceStatus derives one device's provisioning state.
func collectDeviceStatus(actions statusActions, device Device, packageName string) DeviceStatus {
	status := DeviceStatus{
		DeviceID:         device.ID,
		Serial:           device.Serial,
		Model:            device.Model,
		State:            device.State,
		InstalledVersion: "N/A",
		CheckedAt:        time.Now().UnixMilli(),
	}

	if device.State != "device" {
		return status
	}

	ownerSet, component, err := actions.HasDeviceOwner(device.ID)
	if err != nil {
		status.Error = err.Error()
		return status
	}
	status.OwnerSet = ownerSet
	status.OwnerComponent = component

	installed, err := actions.IsPackageInstalled(device.ID, packageName)
	if err != nil {
		status.Error = err.Error()
		return status
	}
	status.PackageInstalled = installed

	if installed {
		version, _, err := actions.InstalledPackageVersion(device.ID, packageName)
		if err == nil && version != "" {
			status.InstalledVersion = version
		}
	}

	return status
}

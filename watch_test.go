package main

import (
	"context"
	"testing"
	"time"
)

type fakeWatchActions struct {
	devices    []Device
	enumErr    error
	passErr    error
	passCalls  [][]string
	outcomeFor map[string]string
}

func (f *fakeWatchActions) GetDevices(forceLog bool) ([]Device, error) {
	if f.enumErr != nil {
		return nil, f.enumErr
	}
	return f.devices, nil
}

func (f *fakeWatchActions) RunProvisionPass(ctx context.Context, opts ProvisionOptions) (*RunSummary, error) {
	f.passCalls = append(f.passCalls, opts.Devices)
	if f.passErr != nil {
		return nil, f.passErr
	}
	summary := &RunSummary{RunID: "watch-test"}
	for _, id := range opts.Devices {
		outcome := f.outcomeFor[id]
		if outcome == "" {
			outcome = OutcomeProvisioned
		}
		summary.Results = append(summary.Results, ProvisionResult{DeviceID: id, Outcome: outcome})
	}
	return summary, nil
}

func newTestWatchController(actions *fakeWatchActions) *watchController {
	return &watchController{
		actions:  actions,
		opts:     WatchOptions{Profile: testProfile(), Cooldown: time.Minute},
		trigger:  make(chan struct{}, 1),
		attempts: make(map[string]time.Time),
	}
}

func TestWatchPassCoversOnlineDevices(t *testing.T) {
	fake := &fakeWatchActions{
		devices: []Device{
			{ID: "dev1", State: "device"},
			{ID: "dev2", State: "offline"},
			{ID: "dev3", State: "device"},
		},
	}
	w := newTestWatchController(fake)

	w.runEligiblePass(context.Background())

	if len(fake.passCalls) != 1 {
		t.Fatalf("expected 1 pass, got %d", len(fake.passCalls))
	}
	got := fake.passCalls[0]
	if len(got) != 2 || got[0] != "dev1" || got[1] != "dev3" {
		t.Fatalf("expected pass over dev1,dev3, got %v", got)
	}
}

func TestWatchCooldownBlocksReattempt(t *testing.T) {
	fake := &fakeWatchActions{
		devices:    []Device{{ID: "dev1", State: "device"}},
		outcomeFor: map[string]string{"dev1": OutcomeFailed},
	}
	w := newTestWatchController(fake)

	w.runEligiblePass(context.Background())
	w.runEligiblePass(context.Background())

	if len(fake.passCalls) != 1 {
		t.Fatalf("expected cooldown to block the second pass, got %d passes", len(fake.passCalls))
	}

	// Expired cooldown makes the device eligible again.
	w.attempts["dev1"] = time.Now().Add(-2 * w.opts.Cooldown)
	w.runEligiblePass(context.Background())

	if len(fake.passCalls) != 2 {
		t.Fatalf("expected reattempt after cooldown expiry, got %d passes", len(fake.passCalls))
	}
}

func TestWatchSkippedDeviceStaysEligible(t *testing.T) {
	fake := &fakeWatchActions{
		devices:    []Device{{ID: "dev1", State: "device"}},
		outcomeFor: map[string]string{"dev1": OutcomeSkippedNoAPK},
	}
	w := newTestWatchController(fake)

	w.runEligiblePass(context.Background())
	w.runEligiblePass(context.Background())

	if len(fake.passCalls) != 2 {
		t.Fatalf("expected skipped device to stay eligible, got %d passes", len(fake.passCalls))
	}
}

func TestWatchProvisionedDeviceEntersCooldown(t *testing.T) {
	fake := &fakeWatchActions{
		devices: []Device{{ID: "dev1", State: "device"}},
	}
	w := newTestWatchController(fake)

	w.runEligiblePass(context.Background())
	w.runEligiblePass(context.Background())

	if len(fake.passCalls) != 1 {
		t.Fatalf("expected provisioned device to enter cooldown, got %d passes", len(fake.passCalls))
	}
}

func TestWatchSeededCooldownMatchesBySerial(t *testing.T) {
	fake := &fakeWatchActions{
		devices: []Device{
			{ID: "192.168.1.50:5555", Serial: "R58M123ABC", State: "device"},
			{ID: "dev2", Serial: "dev2", State: "device"},
		},
	}
	w := newTestWatchController(fake)
	// Entries restored from settings are keyed by serial, not adb ID.
	w.attempts["R58M123ABC"] = time.Now()

	w.runEligiblePass(context.Background())

	if len(fake.passCalls) != 1 {
		t.Fatalf("expected 1 pass, got %d", len(fake.passCalls))
	}
	got := fake.passCalls[0]
	if len(got) != 1 || got[0] != "dev2" {
		t.Fatalf("expected only dev2 to be eligible, got %v", got)
	}
}

func TestWatchEnumerationErrorSkipsPass(t *testing.T) {
	fake := &fakeWatchActions{enumErr: context.DeadlineExceeded}
	w := newTestWatchController(fake)

	w.runEligiblePass(context.Background())

	if len(fake.passCalls) != 0 {
		t.Fatalf("expected no pass on enumeration error, got %d", len(fake.passCalls))
	}
}

func TestRequestPassCoalesces(t *testing.T) {
	w := newTestWatchController(&fakeWatchActions{})

	w.requestPass()
	w.requestPass()
	w.requestPass()

	if got := len(w.trigger); got != 1 {
		t.Fatalf("expected coalesced trigger of 1, got %d", got)
	}
}

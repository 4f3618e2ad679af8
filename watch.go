package main

import (
	"context"
	"time"
)

const (
	defaultWatchCooldown = 5 * time.Minute
	defaultWatchPassGap  = 15 * time.Second
)

// WatchOptions configure automatic provisioning in watch mode.
type WatchOptions struct {
	Profile Profile
	Hook    *DeviceHook
	// Cooldown is the minimum gap between provisioning attempts for one
	// device. Devices that were merely skipped are exempt, so a freshly
	// dropped APK picks them up on the next trigger.
	Cooldown time.Duration
	// PassGap is the minimum gap between automatic passes.
	PassGap time.Duration
}

// watchActions is what the watch controller needs from the App.
type watchActions interface {
	GetDevices(forceLog bool) ([]Device, error)
	RunProvisionPass(ctx context.Context, opts ProvisionOptions) (*RunSummary, error)
}

// watchController turns device-set and APK-directory changes into
// provisioning passes over the eligible devices.
type watchController struct {
	actions  watchActions
	opts     WatchOptions
	trigger  chan struct{}
	attempts map[string]time.Time
	lastPass time.Time
}

// RunWatch provisions devices automatically as they appear. It blocks
// until ctx is canceled.
func (a *App) RunWatch(ctx context.Context, opts WatchOptions) error {
	if opts.Cooldown <= 0 {
		opts.Cooldown = defaultWatchCooldown
	}
	if opts.PassGap <= 0 {
		opts.PassGap = defaultWatchPassGap
	}

	w := &watchController{
		actions:  a,
		opts:     opts,
		trigger:  make(chan struct{}, 1),
		attempts: make(map[string]time.Time),
	}

	// Devices provisioned just before a restart stay inside their
	// cooldown window.
	if a.cacheService != nil {
		for serial, ts := range a.cacheService.GetAllLastProvisioned() {
			if t := time.Unix(ts, 0); time.Since(t) < opts.Cooldown {
				w.attempts[serial] = t
			}
		}
	}

	a.StartDeviceMonitor(ctx, w.requestPass)
	defer a.StopDeviceMonitor()

	if opts.Profile.APKDir != "" {
		watcher := NewAPKWatcher(func(action, path string) {
			// A removed APK leaves a dead badging entry behind.
			if action == "delete" && a.cacheService != nil {
				a.cacheService.ClearBadgingCache()
			}
			w.requestPass()
		})
		if err := watcher.Start(opts.Profile.APKDir); err != nil {
			LogWarn("watch").Err(err).Str("dir", opts.Profile.APKDir).Msg("APK watcher unavailable")
		} else {
			defer watcher.Stop()
		}
	}

	LogInfo("watch").Str("profile", opts.Profile.Name).Msg("Watch mode started")

	// Pick up devices already attached.
	w.requestPass()

	return w.loop(ctx)
}

// requestPass schedules a pass. Requests arriving while one is pending
// or running coalesce into a single followup pass.
func (w *watchController) requestPass() {
	select {
	case w.trigger <- struct{}{}:
	default:
	}
}

func (w *watchController) loop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.trigger:
		}

		if wait := w.opts.PassGap - time.Since(w.lastPass); wait > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
			}
		}

		w.runEligiblePass(ctx)
	}
}

// runEligiblePass provisions every online device that is not inside its
// cooldown window.
func (w *watchController) runEligiblePass(ctx context.Context) {
	eligible, err := w.eligibleDevices()
	if err != nil {
		LogWarn("watch").Err(err).Msg("Device enumeration failed")
		return
	}
	if len(eligible) == 0 {
		return
	}

	w.lastPass = time.Now()
	summary, err := w.actions.RunProvisionPass(ctx, ProvisionOptions{
		Profile: w.opts.Profile,
		Hook:    w.opts.Hook,
		Devices: eligible,
	})
	if err != nil {
		LogWarn("watch").Err(err).Msg("Automatic pass failed")
		return
	}
	w.recordAttempts(summary)
}

func (w *watchController) eligibleDevices() ([]string, error) {
	devices, err := w.actions.GetDevices(false)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	ids := make([]string, 0, len(devices))
	for _, d := range devices {
		if d.State != "device" {
			continue
		}
		// Seeded entries are keyed by serial, live ones by adb ID.
		last, ok := w.attempts[d.ID]
		if !ok {
			last, ok = w.attempts[d.Serial]
		}
		if ok && now.Sub(last) < w.opts.Cooldown {
			continue
		}
		ids = append(ids, d.ID)
	}
	return ids, nil
}

// recordAttempts marks devices the pass actually worked on. Skip
// outcomes stay unmarked so the next trigger reconsiders them.
func (w *watchController) recordAttempts(summary *RunSummary) {
	if summary == nil {
		return
	}
	now := time.Now()
	for _, r := range summary.Results {
		switch r.Outcome {
		case OutcomeProvisioned, OutcomeAlreadyOwner, OutcomeFailed:
			w.attempts[r.DeviceID] = now
		}
	}
}

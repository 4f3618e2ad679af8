package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// writeHookScript writes a hook script to a temp file and returns its path.
func writeHookScript(t *testing.T, code string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "hook.js")
	if err := os.WriteFile(path, []byte(code), 0644); err != nil {
		t.Fatalf("failed to write hook script: %v", err)
	}
	return path
}

func TestLoadDeviceHookErrors(t *testing.T) {
	tests := []struct {
		name    string
		code    string
		wantErr string
	}{
		{
			name:    "no hook object",
			code:    `var somethingElse = 1;`,
			wantErr: "does not define a hook object",
		},
		{
			name:    "no filterDevice",
			code:    `var hook = { onResult: function(r) {} };`,
			wantErr: "does not define filterDevice",
		},
		{
			name:    "filterDevice not a function",
			code:    `var hook = { filterDevice: 42 };`,
			wantErr: "not a function",
		},
		{
			name:    "syntax error",
			code:    `var hook = {`,
			wantErr: "failed to run",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeHookScript(t, tt.code)
			_, err := LoadDeviceHook(path)
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %v, want substring %q", err, tt.wantErr)
			}
		})
	}
}

func TestFilterDeviceBooleanVerdicts(t *testing.T) {
	hook, err := LoadDeviceHook(writeHookScript(t, `
var hook = {
    filterDevice: function(device) {
        return device.model !== "Pixel 4";
    }
};`))
	if err != nil {
		t.Fatalf("LoadDeviceHook failed: %v", err)
	}

	verdict, err := hook.FilterDevice(Device{ID: "a", Model: "Pixel 7"})
	if err != nil {
		t.Fatalf("FilterDevice failed: %v", err)
	}
	if verdict.Skip {
		t.Error("expected Pixel 7 to pass the filter")
	}

	verdict, err = hook.FilterDevice(Device{ID: "b", Model: "Pixel 4"})
	if err != nil {
		t.Fatalf("FilterDevice failed: %v", err)
	}
	if !verdict.Skip {
		t.Error("expected Pixel 4 to be skipped")
	}
}

func TestFilterDeviceObjectVerdict(t *testing.T) {
	hook, err := LoadDeviceHook(writeHookScript(t, `
var hook = {
    filterDevice: function(device) {
        if (device.serial.indexOf("TEST") === 0) {
            return { skip: true, reason: "test farm device" };
        }
        return { skip: false };
    }
};`))
	if err != nil {
		t.Fatalf("LoadDeviceHook failed: %v", err)
	}

	verdict, err := hook.FilterDevice(Device{ID: "x", Serial: "TEST001"})
	if err != nil {
		t.Fatalf("FilterDevice failed: %v", err)
	}
	if !verdict.Skip || verdict.Reason != "test farm device" {
		t.Errorf("verdict = %+v", verdict)
	}

	verdict, err = hook.FilterDevice(Device{ID: "y", Serial: "R58M1"})
	if err != nil {
		t.Fatalf("FilterDevice failed: %v", err)
	}
	if verdict.Skip {
		t.Errorf("verdict = %+v", verdict)
	}
}

func TestFilterDeviceUndefinedAllows(t *testing.T) {
	hook, err := LoadDeviceHook(writeHookScript(t, `
var hook = {
    filterDevice: function(device) {}
};`))
	if err != nil {
		t.Fatalf("LoadDeviceHook failed: %v", err)
	}

	verdict, err := hook.FilterDevice(Device{ID: "a"})
	if err != nil {
		t.Fatalf("FilterDevice failed: %v", err)
	}
	if verdict.Skip {
		t.Error("undefined return should allow the device")
	}
}

func TestFilterDeviceHelpers(t *testing.T) {
	hook, err := LoadDeviceHook(writeHookScript(t, `
var hook = {
    filterDevice: function(device) {
        var m = matchRegex("^SM-", device.model);
        if (m !== null) {
            return { skip: true, reason: "samsung excluded" };
        }
        return true;
    }
};`))
	if err != nil {
		t.Fatalf("LoadDeviceHook failed: %v", err)
	}

	verdict, err := hook.FilterDevice(Device{ID: "a", Model: "SM-G990B"})
	if err != nil {
		t.Fatalf("FilterDevice failed: %v", err)
	}
	if !verdict.Skip || verdict.Reason != "samsung excluded" {
		t.Errorf("verdict = %+v", verdict)
	}

	verdict, err = hook.FilterDevice(Device{ID: "b", Model: "Pixel 7"})
	if err != nil {
		t.Fatalf("FilterDevice failed: %v", err)
	}
	if verdict.Skip {
		t.Errorf("verdict = %+v", verdict)
	}
}

func TestFilterDeviceScriptError(t *testing.T) {
	hook, err := LoadDeviceHook(writeHookScript(t, `
var hook = {
    filterDevice: function(device) {
        throw new Error("boom");
    }
};`))
	if err != nil {
		t.Fatalf("LoadDeviceHook failed: %v", err)
	}

	if _, err := hook.FilterDevice(Device{ID: "a"}); err == nil {
		t.Error("expected script error to propagate")
	}
}

func TestOnResultCallback(t *testing.T) {
	// The script records results it has seen; a later filter call reads
	// the recorded state, which proves onResult ran in the same VM.
	hook, err := LoadDeviceHook(writeHookScript(t, `
var seen = [];
var hook = {
    filterDevice: function(device) {
        return { skip: seen.length > 0, reason: "already handled " + seen.length };
    },
    onResult: function(result) {
        seen.push(result.deviceId);
    }
};`))
	if err != nil {
		t.Fatalf("LoadDeviceHook failed: %v", err)
	}

	verdict, err := hook.FilterDevice(Device{ID: "a"})
	if err != nil || verdict.Skip {
		t.Fatalf("first filter call: verdict=%+v err=%v", verdict, err)
	}

	hook.OnResult(ProvisionResult{DeviceID: "a", Outcome: OutcomeProvisioned})

	verdict, err = hook.FilterDevice(Device{ID: "b"})
	if err != nil {
		t.Fatalf("second filter call failed: %v", err)
	}
	if !verdict.Skip {
		t.Error("expected filter to observe state recorded by onResult")
	}
}

func TestOnResultWithoutCallbackIsNoop(t *testing.T) {
	hook, err := LoadDeviceHook(writeHookScript(t, `
var hook = { filterDevice: function(device) { return true; } };`))
	if err != nil {
		t.Fatalf("LoadDeviceHook failed: %v", err)
	}
	// Must not panic.
	hook.OnResult(ProvisionResult{DeviceID: "a"})
}

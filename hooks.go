package main

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"sync"
	"time"

	"github.com/dop251/goja"
	"github.com/tidwall/gjson"
)

const hookCallTimeout = 5 * time.Second

// FilterVerdict is a filter hook's decision for one device.
type FilterVerdict struct {
	Skip   bool   `json:"skip"`
	Reason string `json:"reason,omitempty"`
}

// DeviceHook wraps a compiled filter script. A script defines a global
// `hook` object:
//
//	var hook = {
//	    // Required. Return true to provision the device, false to skip
//	    // it, or {skip: true, reason: "..."} for a reasoned skip.
//	    filterDevice: function(device) { return true; },
//
//	    // Optional. Called with the result of every processed device.
//	    onResult: function(result) {}
//	};
type DeviceHook struct {
	path string

	vm         *goja.Runtime
	mu         sync.Mutex // goja.Runtime is not thread safe
	filterFunc goja.Callable
	resultFunc goja.Callable
}

// LoadDeviceHook compiles a filter script into an isolated VM.
func LoadDeviceHook(path string) (*DeviceHook, error) {
	code, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read hook script: %w", err)
	}

	vm := goja.New()
	injectHookHelpers(vm)

	if _, err := vm.RunString(string(code)); err != nil {
		return nil, fmt.Errorf("hook script failed to run: %w", err)
	}

	hookObj := vm.Get("hook")
	if hookObj == nil || goja.IsUndefined(hookObj) {
		return nil, fmt.Errorf("hook script does not define a hook object")
	}
	obj := hookObj.ToObject(vm)

	filterVal := obj.Get("filterDevice")
	if filterVal == nil || goja.IsUndefined(filterVal) {
		return nil, fmt.Errorf("hook object does not define filterDevice")
	}
	filterFunc, ok := goja.AssertFunction(filterVal)
	if !ok {
		return nil, fmt.Errorf("filterDevice is not a function")
	}

	var resultFunc goja.Callable
	if resultVal := obj.Get("onResult"); resultVal != nil && !goja.IsUndefined(resultVal) {
		resultFunc, _ = goja.AssertFunction(resultVal)
	}

	LogInfo("hooks").Str("path", path).Msg("Filter hook loaded")
	return &DeviceHook{
		path:       path,
		vm:         vm,
		filterFunc: filterFunc,
		resultFunc: resultFunc,
	}, nil
}

// FilterDevice asks the script whether a device should be provisioned.
// A script error fails open: the device is processed and the error is
// returned for logging.
func (h *DeviceHook) FilterDevice(device Device) (verdict FilterVerdict, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("filter hook panicked: %v", r)
		}
	}()

	h.mu.Lock()
	defer h.mu.Unlock()

	// Clear interrupt state a previous timeout may have left behind.
	h.vm.ClearInterrupt()
	timer := time.AfterFunc(hookCallTimeout, func() { h.vm.Interrupt("hook timeout") })
	defer timer.Stop()

	deviceObj, err := toVMValue(h.vm, device)
	if err != nil {
		return FilterVerdict{}, err
	}

	resultVal, err := h.filterFunc(goja.Undefined(), deviceObj)
	if err != nil {
		return FilterVerdict{}, fmt.Errorf("filterDevice failed: %w", err)
	}

	if resultVal == nil || goja.IsUndefined(resultVal) || goja.IsNull(resultVal) {
		return FilterVerdict{}, nil
	}

	exported := resultVal.Export()
	if allow, ok := exported.(bool); ok {
		return FilterVerdict{Skip: !allow}, nil
	}

	jsonBytes, err := json.Marshal(exported)
	if err != nil {
		return FilterVerdict{}, fmt.Errorf("failed to read filter verdict: %w", err)
	}
	if err := json.Unmarshal(jsonBytes, &verdict); err != nil {
		return FilterVerdict{}, fmt.Errorf("failed to read filter verdict: %w", err)
	}
	return verdict, nil
}

// OnResult feeds a device result to the script's optional onResult
// callback. Script errors are logged, never propagated.
func (h *DeviceHook) OnResult(result ProvisionResult) {
	if h.resultFunc == nil {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			LogWarn("hooks").Str("path", h.path).Msgf("Result hook panicked: %v", r)
		}
	}()

	h.mu.Lock()
	defer h.mu.Unlock()

	h.vm.ClearInterrupt()
	timer := time.AfterFunc(hookCallTimeout, func() { h.vm.Interrupt("hook timeout") })
	defer timer.Stop()

	resultObj, err := toVMValue(h.vm, result)
	if err != nil {
		LogWarn("hooks").Str("path", h.path).Err(err).Msg("Result hook conversion failed")
		return
	}
	if _, err := h.resultFunc(goja.Undefined(), resultObj); err != nil {
		LogWarn("hooks").Str("path", h.path).Err(err).Msg("Result hook failed")
	}
}

// toVMValue converts a Go value through its JSON form so scripts see the
// wire field names.
func toVMValue(vm *goja.Runtime, v interface{}) (goja.Value, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal hook argument: %w", err)
	}
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to unmarshal hook argument: %w", err)
	}
	return vm.ToValue(m), nil
}

// injectHookHelpers installs the helper functions available to scripts.
func injectHookHelpers(vm *goja.Runtime) {
	vm.Set("log", func(message string, level ...string) {
		lvl := "info"
		if len(level) > 0 && level[0] != "" {
			lvl = level[0]
		}
		switch lvl {
		case "debug":
			LogDebug("hooks").Msg(message)
		case "warn":
			LogWarn("hooks").Msg(message)
		case "error":
			LogError("hooks").Msg(message)
		default:
			LogInfo("hooks").Msg(message)
		}
	})

	vm.Set("matchRegex", func(regexStr, text string) interface{} {
		re, err := regexp.Compile(regexStr)
		if err != nil {
			return nil
		}
		matches := re.FindStringSubmatch(text)
		if matches == nil {
			return nil
		}
		return matches
	})

	vm.Set("jsonPath", func(obj interface{}, path string) interface{} {
		jsonBytes, err := json.Marshal(obj)
		if err != nil {
			return nil
		}
		result := gjson.GetBytes(jsonBytes, path)
		if !result.Exists() {
			return nil
		}
		return result.Value()
	})

	vm.Set("formatTime", func(timestamp int64, format string) string {
		if format == "" {
			format = "2006-01-02 15:04:05"
		}
		return time.Unix(timestamp, 0).Format(format)
	})
}

package mcp

import (
	"context"
	"reflect"
	"strings"
	"testing"
)

// ==================== provision_run ====================

func TestHandleProvisionRun_DryRun(t *testing.T) {
	mock := NewMockDroverApp()
	summary := SampleRunSummary("run-1")
	summary.DryRun = true
	mock.ProvisionProfileResult = &summary
	server := NewMCPServer(mock)

	result, err := server.handleProvisionRun(context.Background(), makeToolRequest(map[string]interface{}{
		"profile": "default",
		"dry_run": true,
	}))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	text := getTextContent(result)
	if !strings.Contains(text, "run-1") {
		t.Error("Result should contain the run ID")
	}
	if !strings.Contains(text, "dry run") {
		t.Error("Result should mention the dry run")
	}
	if !strings.Contains(text, "Provisioned: 1") {
		t.Error("Result should contain outcome counters")
	}

	// Dry runs skip the confirmation prompt entirely
	lastCall := mock.GetLastCallByMethod("ProvisionProfile")
	if lastCall == nil {
		t.Fatal("ProvisionProfile should have been called")
	}
	if lastCall.Args[0] != "default" || lastCall.Args[1] != true {
		t.Errorf("Expected (default, true), got %v", lastCall.Args)
	}
}

func TestHandleProvisionRun_DeviceRestriction(t *testing.T) {
	mock := NewMockDroverApp()
	summary := SampleRunSummary("run-2")
	mock.ProvisionProfileResult = &summary
	server := NewMCPServer(mock)

	_, err := server.handleProvisionRun(context.Background(), makeToolRequest(map[string]interface{}{
		"dry_run": true,
		"devices": "serial1, serial2 ,serial3",
	}))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	lastCall := mock.GetLastCallByMethod("ProvisionProfile")
	if lastCall == nil {
		t.Fatal("ProvisionProfile should have been called")
	}
	want := []string{"serial1", "serial2", "serial3"}
	if got, ok := lastCall.Args[2].([]string); !ok || !reflect.DeepEqual(got, want) {
		t.Errorf("Expected devices %v, got %v", want, lastCall.Args[2])
	}
}

func TestHandleProvisionRun_Error(t *testing.T) {
	mock := NewMockDroverApp()
	mock.SetupWithError("ProvisionProfile", ErrTimeout)
	server := NewMCPServer(mock)

	_, err := server.handleProvisionRun(context.Background(), makeToolRequest(map[string]interface{}{
		"dry_run": true,
	}))
	if err == nil {
		t.Error("Expected error, got nil")
	}
}

func TestHandleProvisionRun_PartialSummarySurvivesError(t *testing.T) {
	mock := NewMockDroverApp()
	summary := SampleRunSummary("run-3")
	mock.ProvisionProfileResult = &summary
	mock.ProvisionProfileError = ErrTimeout
	server := NewMCPServer(mock)

	result, err := server.handleProvisionRun(context.Background(), makeToolRequest(map[string]interface{}{
		"dry_run": true,
	}))
	if err != nil {
		t.Fatalf("A partial summary should not surface as a handler error: %v", err)
	}

	text := getTextContent(result)
	if !strings.Contains(text, "run-3") {
		t.Error("Result should contain the partial run")
	}
	if !strings.Contains(text, "Run ended with error") {
		t.Error("Result should mention the run error")
	}
}

func TestHandleProvisionRun_RequiresConfirmation(t *testing.T) {
	mock := NewMockDroverApp()
	summary := SampleRunSummary("run-4")
	mock.ProvisionProfileResult = &summary
	server := NewMCPServer(mock)

	// Without an active MCP session the confirmation request fails, and
	// the pass must not start.
	_, err := server.handleProvisionRun(context.Background(), makeToolRequest(map[string]interface{}{
		"profile": "default",
	}))
	if err == nil {
		t.Log("Confirmation unexpectedly succeeded without a session")
	}
	if mock.WasMethodCalled("ProvisionProfile") {
		t.Error("ProvisionProfile must not run without confirmation")
	}
}

// ==================== run_history ====================

func TestHandleRunHistory_ListRuns(t *testing.T) {
	mock := NewMockDroverApp()
	mock.ListRunsResult = []RunSummary{
		SampleRunSummary("run-1"),
		SampleRunSummary("run-2"),
	}
	server := NewMCPServer(mock)

	result, err := server.handleRunHistory(context.Background(), makeToolRequest(nil))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	text := getTextContent(result)
	if !strings.Contains(text, "2 run(s)") {
		t.Errorf("Result should mention 2 runs, got: %s", text)
	}
	if !strings.Contains(text, "run-2") {
		t.Error("Result should list run-2")
	}

	lastCall := mock.GetLastCallByMethod("ListRuns")
	if lastCall == nil || lastCall.Args[1] != 10 {
		t.Errorf("Expected default limit 10, got %v", lastCall)
	}
}

func TestHandleRunHistory_LimitArg(t *testing.T) {
	mock := NewMockDroverApp()
	mock.ListRunsResult = []RunSummary{SampleRunSummary("run-1")}
	server := NewMCPServer(mock)

	_, err := server.handleRunHistory(context.Background(), makeToolRequest(map[string]interface{}{
		"limit": float64(5),
	}))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	lastCall := mock.GetLastCallByMethod("ListRuns")
	if lastCall == nil || lastCall.Args[1] != 5 {
		t.Errorf("Expected limit 5, got %v", lastCall)
	}
}

func TestHandleRunHistory_SpecificRun(t *testing.T) {
	mock := NewMockDroverApp()
	run := SampleRunSummary("run-abc")
	mock.GetRunResult = &run
	server := NewMCPServer(mock)

	result, err := server.handleRunHistory(context.Background(), makeToolRequest(map[string]interface{}{
		"run_id": "run-abc",
	}))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	text := getTextContent(result)
	if !strings.Contains(text, "run-abc") {
		t.Error("Result should contain the run ID")
	}
	if !strings.Contains(text, "Total devices: 2") {
		t.Error("Result should contain the run detail")
	}

	lastCall := mock.GetLastCallByMethod("GetRun")
	if lastCall == nil || lastCall.Args[0] != "run-abc" {
		t.Errorf("Expected GetRun(run-abc), got %v", lastCall)
	}
}

func TestHandleRunHistory_DeviceSerial(t *testing.T) {
	mock := NewMockDroverApp()
	mock.DeviceHistoryResult = []ProvisionResult{
		{DeviceID: "serial1", Outcome: "provisioned", DurationMs: 9000},
		{DeviceID: "serial1", Outcome: "failed", Error: "install timed out", DurationMs: 120000},
	}
	server := NewMCPServer(mock)

	result, err := server.handleRunHistory(context.Background(), makeToolRequest(map[string]interface{}{
		"serial": "serial1",
	}))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	text := getTextContent(result)
	if !strings.Contains(text, "serial1") {
		t.Error("Result should contain the serial")
	}
	if !strings.Contains(text, "install timed out") {
		t.Error("Result should contain the recorded error")
	}
}

func TestHandleRunHistory_NoRuns(t *testing.T) {
	mock := NewMockDroverApp()
	server := NewMCPServer(mock)

	result, err := server.handleRunHistory(context.Background(), makeToolRequest(nil))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	text := getTextContent(result)
	if !strings.Contains(text, "No recorded runs") {
		t.Errorf("Result should indicate no runs, got: %s", text)
	}
}

func TestHandleRunHistory_StoreError(t *testing.T) {
	mock := NewMockDroverApp()
	mock.SetupWithError("ListRuns", ErrStoreUnavailable)
	server := NewMCPServer(mock)

	_, err := server.handleRunHistory(context.Background(), makeToolRequest(nil))
	if err == nil {
		t.Error("Expected error, got nil")
	}
}

// ==================== apk_inspect ====================

func TestHandleAPKInspect_File(t *testing.T) {
	mock := NewMockDroverApp()
	mock.InspectAPKResult = SampleAPKInfo("/apks/launcher.apk")
	server := NewMCPServer(mock)

	result, err := server.handleAPKInspect(context.Background(), makeToolRequest(map[string]interface{}{
		"path": "/apks/launcher.apk",
	}))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	text := getTextContent(result)
	if !strings.Contains(text, "com.hmdm.launcher") {
		t.Error("Result should contain the package name")
	}
	if !strings.Contains(text, "6.19") {
		t.Error("Result should contain the version name")
	}
}

func TestHandleAPKInspect_Directory(t *testing.T) {
	mock := NewMockDroverApp()
	mock.ScanAPKDirResult = []APKInfo{
		SampleAPKInfo("/apks/launcher-6.18.apk"),
		SampleAPKInfo("/apks/launcher-6.19.apk"),
	}
	server := NewMCPServer(mock)

	result, err := server.handleAPKInspect(context.Background(), makeToolRequest(map[string]interface{}{
		"dir": "/apks",
	}))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	text := getTextContent(result)
	if !strings.Contains(text, "2 APK(s)") {
		t.Errorf("Result should mention 2 APKs, got: %s", text)
	}
}

func TestHandleAPKInspect_MissingArgs(t *testing.T) {
	mock := NewMockDroverApp()
	server := NewMCPServer(mock)

	_, err := server.handleAPKInspect(context.Background(), makeToolRequest(nil))
	if err == nil {
		t.Error("Expected error for missing path and dir")
	}
}

func TestHandleAPKInspect_EmptyDirectory(t *testing.T) {
	mock := NewMockDroverApp()
	server := NewMCPServer(mock)

	result, err := server.handleAPKInspect(context.Background(), makeToolRequest(map[string]interface{}{
		"dir": "/apks",
	}))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	text := getTextContent(result)
	if !strings.Contains(text, "No APK files") {
		t.Errorf("Result should indicate an empty directory, got: %s", text)
	}
}

func TestHandleAPKInspect_Error(t *testing.T) {
	mock := NewMockDroverApp()
	mock.SetupWithError("InspectAPK", ErrTimeout)
	server := NewMCPServer(mock)

	_, err := server.handleAPKInspect(context.Background(), makeToolRequest(map[string]interface{}{
		"path": "/apks/launcher.apk",
	}))
	if err == nil {
		t.Error("Expected error, got nil")
	}
}

// ==================== profile_list ====================

func TestHandleProfileList_Success(t *testing.T) {
	mock := NewMockDroverApp()
	server := NewMCPServer(mock)

	result, err := server.handleProfileList(context.Background(), makeToolRequest(nil))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	text := getTextContent(result)
	if !strings.Contains(text, "default") {
		t.Error("Result should contain the default profile")
	}
	if !strings.Contains(text, "com.hmdm.launcher") {
		t.Error("Result should contain the profile's package")
	}
}

func TestHandleProfileList_Error(t *testing.T) {
	mock := NewMockDroverApp()
	mock.SetupWithError("LoadProfiles", ErrProfileNotFound)
	server := NewMCPServer(mock)

	_, err := server.handleProfileList(context.Background(), makeToolRequest(nil))
	if err == nil {
		t.Error("Expected error, got nil")
	}
}

// ==================== helpers ====================

func TestSplitDeviceList(t *testing.T) {
	tests := []struct {
		name string
		raw  interface{}
		want []string
	}{
		{"empty string", "", nil},
		{"single", "serial1", []string{"serial1"}},
		{"spaced commas", " serial1 , serial2 ,", []string{"serial1", "serial2"}},
		{"not a string", 42, nil},
		{"nil", nil, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := splitDeviceList(tt.raw); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("splitDeviceList(%v) = %v, want %v", tt.raw, got, tt.want)
			}
		})
	}
}

func TestFormatRunSummary_Nil(t *testing.T) {
	if got := formatRunSummary(nil); !strings.Contains(got, "No run summary") {
		t.Errorf("Nil summary should format to a placeholder, got: %s", got)
	}
}

package mcp

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
)

// Helper to create a ReadResourceRequest
func makeResourceRequest(uri string) mcp.ReadResourceRequest {
	return mcp.ReadResourceRequest{
		Params: mcp.ReadResourceParams{
			URI: uri,
		},
	}
}

// Helper to get text from resource contents
func getResourceText(contents []mcp.ResourceContents) string {
	if len(contents) == 0 {
		return ""
	}
	if tc, ok := contents[0].(mcp.TextResourceContents); ok {
		return tc.Text
	}
	return ""
}

// ==================== drover://devices ====================

func TestHandleDevicesResource_Success(t *testing.T) {
	mock := NewMockDroverApp()
	mock.SetupWithDevices(
		SampleDevice("device1"),
		SampleDevice("device2"),
	)
	server := NewMCPServer(mock)

	contents, err := server.handleDevicesResource(context.Background(), makeResourceRequest("drover://devices"))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if len(contents) == 0 {
		t.Fatal("Expected at least one content item")
	}

	text := getResourceText(contents)

	// Should be valid JSON
	var devices []Device
	if err := json.Unmarshal([]byte(text), &devices); err != nil {
		t.Fatalf("Result should be valid JSON: %v", err)
	}

	if len(devices) != 2 {
		t.Errorf("Expected 2 devices, got %d", len(devices))
	}

	if tc, ok := contents[0].(mcp.TextResourceContents); !ok || tc.MIMEType != "application/json" {
		t.Errorf("Expected application/json contents, got %+v", contents[0])
	}
}

func TestHandleDevicesResource_Empty(t *testing.T) {
	mock := NewMockDroverApp()
	mock.GetDevicesResult = []Device{}
	server := NewMCPServer(mock)

	contents, err := server.handleDevicesResource(context.Background(), makeResourceRequest("drover://devices"))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	text := getResourceText(contents)

	var devices []Device
	if err := json.Unmarshal([]byte(text), &devices); err != nil {
		t.Fatalf("Result should be valid JSON: %v", err)
	}

	if len(devices) != 0 {
		t.Errorf("Expected 0 devices, got %d", len(devices))
	}
}

func TestHandleDevicesResource_Error(t *testing.T) {
	mock := NewMockDroverApp()
	mock.SetupWithError("GetDevices", ErrDeviceOffline)
	server := NewMCPServer(mock)

	_, err := server.handleDevicesResource(context.Background(), makeResourceRequest("drover://devices"))
	if err == nil {
		t.Error("Expected error, got nil")
	}
}

// ==================== drover://devices/{deviceId} ====================

func TestHandleDeviceInfoResource_Success(t *testing.T) {
	mock := NewMockDroverApp()
	mock.GetDeviceInfoResult = SampleDeviceInfo()
	server := NewMCPServer(mock)

	contents, err := server.handleDeviceInfoResource(context.Background(), makeResourceRequest("drover://devices/device1"))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	text := getResourceText(contents)

	var info DeviceInfo
	if err := json.Unmarshal([]byte(text), &info); err != nil {
		t.Fatalf("Result should be valid JSON: %v", err)
	}

	if info.Model != "Pixel 6" {
		t.Errorf("Expected model Pixel 6, got %s", info.Model)
	}

	lastCall := mock.GetLastCallByMethod("GetDeviceInfo")
	if lastCall == nil || lastCall.Args[0] != "device1" {
		t.Errorf("Expected GetDeviceInfo(device1), got %v", lastCall)
	}
}

func TestHandleDeviceInfoResource_InvalidURI(t *testing.T) {
	mock := NewMockDroverApp()
	server := NewMCPServer(mock)

	_, err := server.handleDeviceInfoResource(context.Background(), makeResourceRequest("drover://devices"))
	if err == nil {
		t.Error("Expected error for URI without a device ID")
	}
	if err != nil && !strings.Contains(err.Error(), "invalid URI") {
		t.Errorf("Expected invalid URI error, got: %v", err)
	}
	if mock.WasMethodCalled("GetDeviceInfo") {
		t.Error("GetDeviceInfo should not be called for an invalid URI")
	}
}

func TestHandleDeviceInfoResource_Error(t *testing.T) {
	mock := NewMockDroverApp()
	mock.SetupWithError("GetDeviceInfo", ErrDeviceNotFound)
	server := NewMCPServer(mock)

	_, err := server.handleDeviceInfoResource(context.Background(), makeResourceRequest("drover://devices/ghost"))
	if err == nil {
		t.Error("Expected error, got nil")
	}
}

// ==================== drover://profiles ====================

func TestHandleProfilesResource_Success(t *testing.T) {
	mock := NewMockDroverApp()
	server := NewMCPServer(mock)

	contents, err := server.handleProfilesResource(context.Background(), makeResourceRequest("drover://profiles"))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	text := getResourceText(contents)

	var profiles []Profile
	if err := json.Unmarshal([]byte(text), &profiles); err != nil {
		t.Fatalf("Result should be valid JSON: %v", err)
	}

	if len(profiles) != 1 || profiles[0].Name != "default" {
		t.Errorf("Expected the default profile, got %+v", profiles)
	}
}

func TestHandleProfilesResource_Error(t *testing.T) {
	mock := NewMockDroverApp()
	mock.SetupWithError("LoadProfiles", ErrProfileNotFound)
	server := NewMCPServer(mock)

	_, err := server.handleProfilesResource(context.Background(), makeResourceRequest("drover://profiles"))
	if err == nil {
		t.Error("Expected error, got nil")
	}
}

// Package mcp provides the MCP (Model Context Protocol) server implementation
// for Drover. This allows external MCP clients to inspect the device fleet,
// check provisioning status, and drive provisioning runs over stdio.
package mcp

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"

	"Drover/pkg/types"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// Type aliases from shared types package
// This avoids code duplication and ensures type consistency
type (
	Device          = types.Device
	DeviceInfo      = types.DeviceInfo
	DeviceStatus    = types.DeviceStatus
	StatusSummary   = types.StatusSummary
	ProvisionResult = types.ProvisionResult
	RunSummary      = types.RunSummary
	Profile         = types.Profile
	APKInfo         = types.APKInfo
)

// DroverApp interface defines the methods that the MCP server needs from the
// main App. This allows loose coupling between MCP and the main application.
type DroverApp interface {
	// Device Inspection
	GetDevices(forceLog bool) ([]Device, error)
	GetDeviceInfo(deviceId string) (DeviceInfo, error)
	CollectStatusSummary(packageName string) (StatusSummary, error)

	// Provisioning
	ProvisionProfile(ctx context.Context, profileName string, dryRun bool, deviceIds []string) (*RunSummary, error)

	// Run History
	ListRuns(profile string, limit int) ([]RunSummary, error)
	GetRun(runId string) (*RunSummary, error)
	DeviceHistory(serial string, limit int) ([]ProvisionResult, error)

	// Profiles
	LoadProfiles() ([]Profile, error)
	GetProfile(name string) (Profile, error)

	// APK Inspection
	InspectAPK(path string) (APKInfo, error)
	ScanAPKDir(dir string) ([]APKInfo, error)

	// Raw ADB
	RunAdbCommand(deviceId string, command string) (string, error)

	// Utility
	GetAppVersion() string
}

// MCPServer wraps the MCP server and provides Drover-specific functionality
type MCPServer struct {
	app       DroverApp
	server    *server.MCPServer
	stdio     *server.StdioServer
	mu        sync.Mutex
	isRunning bool
}

// NewMCPServer creates a new MCP server for Drover
func NewMCPServer(app DroverApp) *MCPServer {
	mcpServer := server.NewMCPServer(
		"drover-provisioner",
		app.GetAppVersion(),
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(true, true),
		server.WithElicitation(), // Enable elicitation for provisioning runs
		server.WithLogging(),
	)

	s := &MCPServer{
		app:    app,
		server: mcpServer,
	}

	// Register all tools
	s.registerTools()

	// Register resources
	s.registerResources()

	return s
}

// registerTools registers all MCP tools
func (s *MCPServer) registerTools() {
	// Device Inspection Tools
	s.registerDeviceTools()

	// Provisioning and History Tools
	s.registerProvisionTools()
}

// registerResources registers all MCP resources
func (s *MCPServer) registerResources() {
	// Device list resource
	s.server.AddResource(
		mcp.NewResource(
			"drover://devices",
			"Connected Android devices",
			mcp.WithMIMEType("application/json"),
		),
		s.handleDevicesResource,
	)

	// Device info resource template
	s.server.AddResourceTemplate(
		mcp.NewResourceTemplate(
			"drover://devices/{deviceId}",
			"Device information",
		),
		s.handleDeviceInfoResource,
	)

	// Profile list resource
	s.server.AddResource(
		mcp.NewResource(
			"drover://profiles",
			"Provisioning profiles",
			mcp.WithMIMEType("application/json"),
		),
		s.handleProfilesResource,
	)
}

// Start starts the MCP server (blocking - for CLI mode)
// This method blocks until the server shuts down
func (s *MCPServer) Start() error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return fmt.Errorf("MCP server is already running")
	}
	s.isRunning = true
	s.mu.Unlock()

	return s.run()
}

// StartAsync starts the MCP server in a goroutine (non-blocking)
func (s *MCPServer) StartAsync() error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return fmt.Errorf("MCP server is already running")
	}
	s.isRunning = true
	s.mu.Unlock()

	go s.run()
	return nil
}

// run runs the MCP server (blocking)
func (s *MCPServer) run() error {
	s.stdio = server.NewStdioServer(s.server)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt)

	go func() {
		<-sigChan
		cancel()
	}()

	fmt.Fprintln(os.Stderr, "[MCP] Drover MCP Server started")
	err := s.stdio.Listen(ctx, os.Stdin, os.Stdout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "[MCP] Server error: %v\n", err)
	}

	s.mu.Lock()
	s.isRunning = false
	s.mu.Unlock()

	return err
}

// Stop stops the MCP server
func (s *MCPServer) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	// The server will stop when stdin is closed or context is cancelled
	s.isRunning = false
}

// IsRunning returns whether the MCP server is running
func (s *MCPServer) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isRunning
}

// requestConfirmation requests user confirmation for operations that modify
// devices. A provisioning pass uninstalls, reinstalls, and reassigns the
// device owner across the whole fleet, so it never runs unconfirmed.
func (s *MCPServer) requestConfirmation(ctx context.Context, operation, details string) (bool, error) {
	elicitationRequest := mcp.ElicitationRequest{
		Params: mcp.ElicitationParams{
			Message: fmt.Sprintf("⚠️ Dangerous Operation: %s\n\nDetails: %s\n\nDo you want to proceed?", operation, details),
			RequestedSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"confirm": map[string]any{
						"type":        "boolean",
						"description": "Confirm to proceed with this operation",
					},
				},
				"required": []string{"confirm"},
			},
		},
	}

	result, err := s.server.RequestElicitation(ctx, elicitationRequest)
	if err != nil {
		return false, fmt.Errorf("failed to request confirmation: %w", err)
	}

	if result.Action != mcp.ElicitationResponseActionAccept {
		return false, nil
	}

	data, ok := result.Content.(map[string]any)
	if !ok {
		return false, fmt.Errorf("unexpected response format")
	}

	confirm, ok := data["confirm"].(bool)
	if !ok {
		return false, fmt.Errorf("invalid confirmation response")
	}

	return confirm, nil
}

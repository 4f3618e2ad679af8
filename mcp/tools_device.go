package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
)

// registerDeviceTools registers device inspection tools
func (s *MCPServer) registerDeviceTools() {
	// device_list - List connected devices
	s.server.AddTool(
		mcp.NewTool("device_list",
			mcp.WithDescription("List all connected Android devices"),
		),
		s.handleDeviceList,
	)

	// device_info - Get device information
	s.server.AddTool(
		mcp.NewTool("device_info",
			mcp.WithDescription("Get detailed information about a specific device"),
			mcp.WithString("device_id",
				mcp.Required(),
				mcp.Description("Device ID to get information for"),
			),
		),
		s.handleDeviceInfo,
	)

	// status_report - Fleet-wide provisioning status
	s.server.AddTool(
		mcp.NewTool("status_report",
			mcp.WithDescription("Report device-owner and package install status for every connected device"),
			mcp.WithString("package",
				mcp.Description("Package name to check (defaults to the profile's package)"),
			),
			mcp.WithString("profile",
				mcp.Description("Profile whose package to check when no package is given (defaults to the default profile)"),
			),
		),
		s.handleStatusReport,
	)

	// adb_execute - Execute arbitrary ADB command
	s.server.AddTool(
		mcp.NewTool("adb_execute",
			mcp.WithDescription("Execute an arbitrary ADB command on a device. Supports shell commands (e.g., 'shell dumpsys device_policy') and other ADB subcommands."),
			mcp.WithString("device_id",
				mcp.Required(),
				mcp.Description("Device ID to execute the command on"),
			),
			mcp.WithString("command",
				mcp.Required(),
				mcp.Description("ADB command to execute (e.g., 'shell pm list packages', 'shell getprop ro.build.version.sdk')"),
			),
		),
		s.handleAdbExecute,
	)
}

// Tool handlers

func (s *MCPServer) handleDeviceList(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	devices, err := s.app.GetDevices(false)
	if err != nil {
		return nil, fmt.Errorf("failed to get devices: %w", err)
	}

	if len(devices) == 0 {
		return &mcp.CallToolResult{
			Content: []mcp.Content{
				mcp.NewTextContent("No devices connected"),
			},
		}, nil
	}

	// Format device list
	result := fmt.Sprintf("Found %d device(s):\n\n", len(devices))
	for i, d := range devices {
		connType := ""
		if d.Type == "wireless" || d.Type == "both" {
			connType = " [wireless]"
		}
		result += fmt.Sprintf("%d. %s (%s)%s\n   Model: %s, Brand: %s, State: %s\n",
			i+1, d.ID, d.Serial, connType, d.Model, d.Brand, d.State)
	}

	// Also include JSON for structured access
	jsonData, _ := json.MarshalIndent(devices, "", "  ")

	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.NewTextContent(result),
			mcp.NewTextContent(fmt.Sprintf("\nJSON data:\n```json\n%s\n```", string(jsonData))),
		},
	}, nil
}

func (s *MCPServer) handleDeviceInfo(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.GetArguments()
	deviceID, ok := args["device_id"].(string)
	if !ok || deviceID == "" {
		return nil, fmt.Errorf("device_id is required")
	}

	info, err := s.app.GetDeviceInfo(deviceID)
	if err != nil {
		return nil, fmt.Errorf("failed to get device info: %w", err)
	}

	result := fmt.Sprintf("Device: %s\n\n", deviceID)
	result += fmt.Sprintf("Model: %s\n", info.Model)
	result += fmt.Sprintf("Brand: %s\n", info.Brand)
	result += fmt.Sprintf("Manufacturer: %s\n", info.Manufacturer)
	result += fmt.Sprintf("Android Version: %s\n", info.AndroidVer)
	result += fmt.Sprintf("SDK Level: %s\n", info.SDK)
	result += fmt.Sprintf("ABI: %s\n", info.ABI)
	result += fmt.Sprintf("Serial: %s\n", info.Serial)

	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.NewTextContent(result),
		},
	}, nil
}

func (s *MCPServer) handleStatusReport(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.GetArguments()
	packageName, _ := args["package"].(string)
	if packageName == "" {
		profileName, _ := args["profile"].(string)
		profile, err := s.app.GetProfile(profileName)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve profile: %w", err)
		}
		packageName = profile.Package
	}

	summary, err := s.app.CollectStatusSummary(packageName)
	if err != nil {
		return nil, fmt.Errorf("failed to collect status: %w", err)
	}

	if summary.TotalDevices == 0 {
		return &mcp.CallToolResult{
			Content: []mcp.Content{
				mcp.NewTextContent("No devices connected"),
			},
		}, nil
	}

	result := fmt.Sprintf("Status for %s across %d device(s): %d with owner, %d installed\n\n",
		packageName, summary.TotalDevices, summary.OwnerCount, summary.InstalledCount)
	for i, st := range summary.Statuses {
		owner := "no owner"
		if st.OwnerSet {
			owner = "owner set"
			if st.OwnerComponent != "" {
				owner = fmt.Sprintf("owner set (%s)", st.OwnerComponent)
			}
		}
		installed := "not installed"
		if st.PackageInstalled {
			installed = fmt.Sprintf("installed %s", st.InstalledVersion)
		}
		result += fmt.Sprintf("%d. %s [%s] %s, %s\n", i+1, st.DeviceID, st.State, owner, installed)
		if st.Error != "" {
			result += fmt.Sprintf("   Error: %s\n", st.Error)
		}
	}

	// Also include JSON for structured access
	jsonData, _ := json.MarshalIndent(summary, "", "  ")

	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.NewTextContent(result),
			mcp.NewTextContent(fmt.Sprintf("\nJSON data:\n```json\n%s\n```", string(jsonData))),
		},
	}, nil
}

func (s *MCPServer) handleAdbExecute(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.GetArguments()
	deviceID, ok := args["device_id"].(string)
	if !ok || deviceID == "" {
		return nil, fmt.Errorf("device_id is required")
	}

	command, ok := args["command"].(string)
	if !ok || command == "" {
		return nil, fmt.Errorf("command is required")
	}

	output, err := s.app.RunAdbCommand(deviceID, command)
	if err != nil {
		return &mcp.CallToolResult{
			Content: []mcp.Content{
				mcp.NewTextContent(fmt.Sprintf("Command failed: %v\n\nOutput:\n%s", err, output)),
			},
			IsError: true,
		}, nil
	}

	result := fmt.Sprintf("Command: adb -s %s %s\n\n", deviceID, command)
	if output == "" {
		result += "Command executed successfully (no output)"
	} else {
		result += fmt.Sprintf("Output:\n%s", output)
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.NewTextContent(result),
		},
	}, nil
}

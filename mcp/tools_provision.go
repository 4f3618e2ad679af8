package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
)

// registerProvisionTools registers provisioning, history, and APK tools
func (s *MCPServer) registerProvisionTools() {
	// provision_run - Run a bulk provisioning pass
	s.server.AddTool(
		mcp.NewTool("provision_run",
			mcp.WithDescription(`Run a bulk provisioning pass: for every target device, install the profile's APK and assign its device owner.

Devices already reporting a device owner are left untouched. Devices with no
usable APK source are skipped. A confirmation prompt is shown unless dry_run
is set.

PARAMETERS:
  profile: Profile name (defaults to the configured default profile)
  dry_run: Plan the pass without touching any device
  devices: Comma-separated device serials to restrict the pass (optional)

RETURNS: Run summary with per-device outcomes.`),
			mcp.WithString("profile",
				mcp.Description("Profile name (defaults to the configured default profile)"),
			),
			mcp.WithBoolean("dry_run",
				mcp.Description("Plan the pass without touching any device"),
			),
			mcp.WithString("devices",
				mcp.Description("Comma-separated device serials to restrict the pass (optional)"),
			),
		),
		s.handleProvisionRun,
	)

	// run_history - Query recorded provisioning runs
	s.server.AddTool(
		mcp.NewTool("run_history",
			mcp.WithDescription("Query recorded provisioning runs. Give run_id for one run's detail, serial for one device's history, or neither to list recent runs."),
			mcp.WithString("run_id",
				mcp.Description("Run ID to fetch in full detail"),
			),
			mcp.WithString("serial",
				mcp.Description("Device serial whose past outcomes to list"),
			),
			mcp.WithString("profile",
				mcp.Description("Only list runs for this profile"),
			),
			mcp.WithNumber("limit",
				mcp.Description("Maximum entries to return (default: 10)"),
			),
		),
		s.handleRunHistory,
	)

	// apk_inspect - Inspect a local APK file or directory
	s.server.AddTool(
		mcp.NewTool("apk_inspect",
			mcp.WithDescription("Inspect a local APK file (badging info) or list the APKs in a directory"),
			mcp.WithString("path",
				mcp.Description("Path to an APK file"),
			),
			mcp.WithString("dir",
				mcp.Description("Directory to scan for APK files"),
			),
		),
		s.handleAPKInspect,
	)

	// profile_list - List provisioning profiles
	s.server.AddTool(
		mcp.NewTool("profile_list",
			mcp.WithDescription("List all provisioning profiles, including the built-in default"),
		),
		s.handleProfileList,
	)
}

// Tool handlers

func (s *MCPServer) handleProvisionRun(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.GetArguments()
	profileName, _ := args["profile"].(string)
	dryRun, _ := args["dry_run"].(bool)
	deviceIds := splitDeviceList(args["devices"])

	// A real pass uninstalls, reinstalls, and reassigns the device owner
	// on every target device. Dry runs skip the confirmation.
	if !dryRun {
		label := profileName
		if label == "" {
			label = "(default)"
		}
		target := "all connected devices"
		if len(deviceIds) > 0 {
			target = strings.Join(deviceIds, ", ")
		}
		confirmed, err := s.requestConfirmation(ctx, "Provision Devices",
			fmt.Sprintf("Profile: %s\nTargets: %s\n\nThis reinstalls the launcher and reassigns the device owner on every target device!", label, target))
		if err != nil {
			return nil, err
		}
		if !confirmed {
			return &mcp.CallToolResult{
				Content: []mcp.Content{
					mcp.NewTextContent("Provisioning cancelled by user"),
				},
			}, nil
		}
	}

	summary, err := s.app.ProvisionProfile(ctx, profileName, dryRun, deviceIds)
	if err != nil && summary == nil {
		return nil, fmt.Errorf("provisioning failed: %w", err)
	}

	result := formatRunSummary(summary)
	if err != nil {
		result += fmt.Sprintf("\nRun ended with error: %v\n", err)
	}

	jsonData, _ := json.MarshalIndent(summary, "", "  ")

	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.NewTextContent(result),
			mcp.NewTextContent(fmt.Sprintf("\nJSON data:\n```json\n%s\n```", string(jsonData))),
		},
	}, nil
}

func (s *MCPServer) handleRunHistory(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.GetArguments()
	runID, _ := args["run_id"].(string)
	serial, _ := args["serial"].(string)
	limit := 10
	if raw, ok := args["limit"].(float64); ok && raw > 0 {
		limit = int(raw)
	}

	if runID != "" {
		summary, err := s.app.GetRun(runID)
		if err != nil {
			return nil, fmt.Errorf("failed to get run: %w", err)
		}
		jsonData, _ := json.MarshalIndent(summary, "", "  ")
		return &mcp.CallToolResult{
			Content: []mcp.Content{
				mcp.NewTextContent(formatRunSummary(summary)),
				mcp.NewTextContent(fmt.Sprintf("\nJSON data:\n```json\n%s\n```", string(jsonData))),
			},
		}, nil
	}

	if serial != "" {
		results, err := s.app.DeviceHistory(serial, limit)
		if err != nil {
			return nil, fmt.Errorf("failed to get device history: %w", err)
		}
		if len(results) == 0 {
			return &mcp.CallToolResult{
				Content: []mcp.Content{
					mcp.NewTextContent(fmt.Sprintf("No recorded outcomes for device %s", serial)),
				},
			}, nil
		}
		result := fmt.Sprintf("Last %d outcome(s) for %s:\n\n", len(results), serial)
		for i, r := range results {
			result += fmt.Sprintf("%d. [%s] %.1fs\n", i+1, r.Outcome, float64(r.DurationMs)/1000)
			if r.Error != "" {
				result += fmt.Sprintf("   Error: %s\n", r.Error)
			}
		}
		jsonData, _ := json.MarshalIndent(results, "", "  ")
		return &mcp.CallToolResult{
			Content: []mcp.Content{
				mcp.NewTextContent(result),
				mcp.NewTextContent(fmt.Sprintf("\nJSON data:\n```json\n%s\n```", string(jsonData))),
			},
		}, nil
	}

	profileFilter, _ := args["profile"].(string)
	runs, err := s.app.ListRuns(profileFilter, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	if len(runs) == 0 {
		return &mcp.CallToolResult{
			Content: []mcp.Content{
				mcp.NewTextContent("No recorded runs"),
			},
		}, nil
	}

	result := fmt.Sprintf("Found %d run(s):\n\n", len(runs))
	for i, run := range runs {
		started := time.UnixMilli(run.StartedAt).Format(time.RFC3339)
		result += fmt.Sprintf("%d. %s (profile %q) at %s\n   %d device(s): %d provisioned, %d already owner, %d skipped, %d failed\n",
			i+1, run.RunID, run.Profile, started,
			run.TotalDevices, run.Provisioned, run.AlreadyOwner, run.Skipped, run.Failed)
	}
	jsonData, _ := json.MarshalIndent(runs, "", "  ")

	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.NewTextContent(result),
			mcp.NewTextContent(fmt.Sprintf("\nJSON data:\n```json\n%s\n```", string(jsonData))),
		},
	}, nil
}

func (s *MCPServer) handleAPKInspect(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.GetArguments()
	path, _ := args["path"].(string)
	dir, _ := args["dir"].(string)
	if path == "" && dir == "" {
		return nil, fmt.Errorf("path or dir is required")
	}

	if path != "" {
		apk, err := s.app.InspectAPK(path)
		if err != nil {
			return nil, fmt.Errorf("failed to inspect APK: %w", err)
		}
		result := fmt.Sprintf("APK: %s\n\n", apk.Path)
		result += fmt.Sprintf("Package: %s\n", apk.Package)
		result += fmt.Sprintf("Version Name: %s\n", apk.VersionName)
		result += fmt.Sprintf("Version Code: %s\n", apk.VersionCode)
		result += fmt.Sprintf("Size: %d bytes\n", apk.SizeBytes)
		return &mcp.CallToolResult{
			Content: []mcp.Content{
				mcp.NewTextContent(result),
			},
		}, nil
	}

	apks, err := s.app.ScanAPKDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to scan APK directory: %w", err)
	}
	if len(apks) == 0 {
		return &mcp.CallToolResult{
			Content: []mcp.Content{
				mcp.NewTextContent(fmt.Sprintf("No APK files in %s", dir)),
			},
		}, nil
	}

	result := fmt.Sprintf("Found %d APK(s) in %s:\n\n", len(apks), dir)
	for i, apk := range apks {
		result += fmt.Sprintf("%d. %s\n   Package: %s, Version: %s (%s), Size: %d bytes\n",
			i+1, apk.Path, apk.Package, apk.VersionName, apk.VersionCode, apk.SizeBytes)
	}
	jsonData, _ := json.MarshalIndent(apks, "", "  ")

	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.NewTextContent(result),
			mcp.NewTextContent(fmt.Sprintf("\nJSON data:\n```json\n%s\n```", string(jsonData))),
		},
	}, nil
}

func (s *MCPServer) handleProfileList(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	profiles, err := s.app.LoadProfiles()
	if err != nil {
		return nil, fmt.Errorf("failed to load profiles: %w", err)
	}

	result := fmt.Sprintf("Found %d profile(s):\n\n", len(profiles))
	for i, p := range profiles {
		result += fmt.Sprintf("%d. %s\n   Package: %s, Owner: %s\n", i+1, p.Name, p.Package, p.OwnerComponent)
		if p.APKPath != "" {
			result += fmt.Sprintf("   APK: %s\n", p.APKPath)
		}
		if p.APKDir != "" {
			result += fmt.Sprintf("   APK directory: %s\n", p.APKDir)
		}
	}
	jsonData, _ := json.MarshalIndent(profiles, "", "  ")

	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.NewTextContent(result),
			mcp.NewTextContent(fmt.Sprintf("\nJSON data:\n```json\n%s\n```", string(jsonData))),
		},
	}, nil
}

// formatRunSummary renders a run summary as readable text
func formatRunSummary(summary *RunSummary) string {
	if summary == nil {
		return "No run summary available"
	}

	status := "finished"
	if summary.DryRun {
		status = "finished (dry run)"
	}
	result := fmt.Sprintf("Run %s (profile %q) %s in %.1fs\n\n",
		summary.RunID, summary.Profile, status, float64(summary.FinishedAt-summary.StartedAt)/1000)
	result += fmt.Sprintf("Total devices: %d\n", summary.TotalDevices)
	result += fmt.Sprintf("Provisioned: %d\n", summary.Provisioned)
	result += fmt.Sprintf("Already owner: %d\n", summary.AlreadyOwner)
	result += fmt.Sprintf("Skipped: %d\n", summary.Skipped)
	result += fmt.Sprintf("Failed: %d\n", summary.Failed)
	result += fmt.Sprintf("Server restarts: %d\n", summary.ServerRestarts)

	if len(summary.Results) > 0 {
		result += "\n"
		for i, r := range summary.Results {
			result += fmt.Sprintf("%d. %s [%s] %.1fs\n", i+1, r.DeviceID, r.Outcome, float64(r.DurationMs)/1000)
			if r.Error != "" {
				result += fmt.Sprintf("   Error: %s\n", r.Error)
			}
		}
	}
	return result
}

// splitDeviceList parses the comma-separated devices argument
func splitDeviceList(raw interface{}) []string {
	str, ok := raw.(string)
	if !ok || str == "" {
		return nil
	}
	var ids []string
	for _, part := range strings.Split(str, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			ids = append(ids, trimmed)
		}
	}
	return ids
}

package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	outputJSON     bool
	profileName    string
	statusPackage  string
	dryRun         bool
	assumeYes      bool
	deviceList     []string
	historySerial  string
	historyProfile string
	historyLimit   int
	logLines       int
	logList        bool
)

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List connected devices",
	Long: `List the devices adb currently sees, one row per physical device.

USB and wireless connections that share a hardware serial are collapsed
into a single entry so a device plugged in over both transports is not
counted twice.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		devices, err := app.GetDevices(true)
		if err != nil {
			return err
		}
		if outputJSON {
			return printJSON(devices)
		}
		if len(devices) == 0 {
			fmt.Println("No devices connected.")
			return nil
		}
		fmt.Printf("%-28s %-18s %-12s %-10s %s\n", "ID", "SERIAL", "STATE", "TYPE", "MODEL")
		for _, d := range devices {
			fmt.Printf("%-28s %-18s %-12s %-10s %s\n", d.ID, d.Serial, d.State, d.Type, d.Model)
		}
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Report device-owner and launcher status for every device",
	Long: `Check each connected device for an active device owner and for the
launcher package, and print one line per device plus fleet totals.

The package to look for comes from the selected profile unless --package
overrides it.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		pkg := statusPackage
		if pkg == "" {
			profile, err := app.GetProfile(profileName)
			if err != nil {
				return err
			}
			pkg = profile.Package
		}

		summary, err := app.CollectStatusSummary(pkg)
		if err != nil {
			return err
		}
		if outputJSON {
			return printJSON(summary)
		}
		if summary.TotalDevices == 0 {
			fmt.Println("No devices connected.")
			return nil
		}

		for _, s := range summary.Statuses {
			owner := "no owner"
			if s.OwnerSet {
				owner = "owner set"
				if s.OwnerComponent != "" {
					owner = "owner " + s.OwnerComponent
				}
			}
			installed := "not installed"
			if s.PackageInstalled {
				installed = "installed"
				if s.InstalledVersion != "" && s.InstalledVersion != "N/A" {
					installed = "installed " + s.InstalledVersion
				}
			}
			fmt.Printf("%-28s [%s] %s, %s\n", s.DeviceID, s.State, owner, installed)
			if s.Error != "" {
				fmt.Printf("    error: %s\n", s.Error)
			}
		}
		fmt.Printf("\n%d device(s): %d with owner, %d with %s installed\n",
			summary.TotalDevices, summary.OwnerCount, summary.InstalledCount, pkg)
		return nil
	},
}

var provisionCmd = &cobra.Command{
	Use:   "provision",
	Short: "Run one bulk provisioning pass over connected devices",
	Long: `Provision every eligible connected device with the selected profile:
install the launcher APK and assign its admin receiver as device owner.

Devices that already have a device owner are left untouched. A filter
script configured on the profile decides per-device eligibility before
any change is made. Use --devices to restrict the pass to specific
serials and --dry-run to preview decisions without touching devices.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		profile, err := app.GetProfile(profileName)
		if err != nil {
			return err
		}

		var hook *DeviceHook
		if profile.FilterScript != "" {
			hook, err = LoadDeviceHook(profile.FilterScript)
			if err != nil {
				return fmt.Errorf("failed to load filter script: %w", err)
			}
		}

		if !dryRun && !assumeYes {
			fmt.Printf("Provision profile %q (%s) on %s.\n", profile.Name, profile.Package, describeTargets(deviceList))
			fmt.Println("This reinstalls the launcher and assigns the device owner on every eligible device.")
			answer := promptForConfirmation("Continue? [y/N]: ")
			if answer != "y" && answer != "yes" {
				fmt.Println("Aborted.")
				return nil
			}
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		summary, err := app.RunProvisionPass(ctx, ProvisionOptions{
			Profile: profile,
			DryRun:  dryRun,
			Hook:    hook,
			Devices: deviceList,
		})
		if summary != nil {
			if outputJSON {
				if jsonErr := printJSON(summary); jsonErr != nil {
					return jsonErr
				}
			} else {
				printRunSummary(summary)
			}
		}
		return err
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch for devices and provision them as they appear",
	Long: `Keep polling adb for connected devices and run a provisioning pass
whenever new ones appear. Each device gets a cooldown after an attempt
so a flapping USB connection is not hammered with reinstalls.

Runs until interrupted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		profile, err := app.GetProfile(profileName)
		if err != nil {
			return err
		}

		var hook *DeviceHook
		if profile.FilterScript != "" {
			hook, err = LoadDeviceHook(profile.FilterScript)
			if err != nil {
				return fmt.Errorf("failed to load filter script: %w", err)
			}
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		cooldown := time.Duration(viper.GetInt("watch.cooldown_minutes")) * time.Minute
		fmt.Printf("Watching for devices (profile %q, cooldown %s). Press Ctrl-C to stop.\n", profile.Name, cooldown)

		err = app.RunWatch(ctx, WatchOptions{Profile: profile, Hook: hook, Cooldown: cooldown})
		if errors.Is(err, context.Canceled) {
			fmt.Println("Watch stopped.")
			return nil
		}
		return err
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP API and WebSocket event stream",
	Long: `Start an HTTP server exposing the fleet over a JSON API: device
listings, status sweeps, provisioning runs, run history, APK
inspection, and a WebSocket feed of live provisioning events.

Prometheus metrics are served on /metrics.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return app.RunServe(ctx, viper.GetString("serve.addr"))
	},
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the fleet to MCP clients over stdio",
	Long: `Run a Model Context Protocol server on stdin/stdout so AI assistants
can list devices, check status, inspect APKs, and drive provisioning
runs. Console logging is redirected away from stdout, which the MCP
transport owns.`,
	Run: func(cmd *cobra.Command, args []string) {
		StartMCPServer(app)
	},
}

var historyCmd = &cobra.Command{
	Use:   "history [run-id]",
	Short: "Show recorded provisioning runs",
	Long: `Browse the run history kept in the local database. Without arguments
the most recent runs are listed. Pass a run ID for the full per-device
breakdown of one run, or --serial for everything recorded about a
single device.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if app.store == nil {
			return errors.New("run history store unavailable")
		}

		if len(args) == 1 {
			run, err := app.store.GetRun(args[0])
			if err != nil {
				return err
			}
			if outputJSON {
				return printJSON(run)
			}
			printRunSummary(run)
			return nil
		}

		if historySerial != "" {
			results, err := app.store.DeviceHistory(historySerial, historyLimit)
			if err != nil {
				return err
			}
			if outputJSON {
				return printJSON(results)
			}
			if len(results) == 0 {
				fmt.Printf("No recorded attempts for %s.\n", historySerial)
				return nil
			}
			fmt.Printf("Last %d attempt(s) for %s, newest first:\n", len(results), historySerial)
			for _, r := range results {
				printDeviceResult(r)
			}
			return nil
		}

		runs, err := app.store.ListRuns(historyProfile, historyLimit)
		if err != nil {
			return err
		}
		if outputJSON {
			return printJSON(runs)
		}
		if len(runs) == 0 {
			fmt.Println("No recorded runs.")
			return nil
		}
		for _, run := range runs {
			started := time.UnixMilli(run.StartedAt).Format("2006-01-02 15:04:05")
			note := ""
			if run.DryRun {
				note = " (dry run)"
			}
			fmt.Printf("%s  %s  profile %q%s: %d device(s), %d provisioned, %d failed\n",
				run.RunID, started, run.Profile, note, run.TotalDevices, run.Provisioned, run.Failed)
		}
		return nil
	},
}

var inspectCmd = &cobra.Command{
	Use:   "inspect <apk-or-dir>",
	Short: "Inspect an APK file or scan a directory of APKs",
	Long: `Read package name, version, and size from an APK via aapt badging.
Pointing at a directory scans every .apk in it, which is how the
provisioner decides which file matches a profile's package.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		target := args[0]
		info, err := os.Stat(target)
		if err != nil {
			return err
		}

		if info.IsDir() {
			apks, err := app.ScanAPKDir(target)
			if err != nil {
				return err
			}
			if outputJSON {
				return printJSON(apks)
			}
			if len(apks) == 0 {
				fmt.Printf("No APK files in %s\n", target)
				return nil
			}
			for _, apk := range apks {
				pkg := apk.Package
				if pkg == "" {
					pkg = "(badging unavailable)"
				}
				fmt.Printf("%-40s %s %s (%d bytes)\n", filepath.Base(apk.Path), pkg, apk.VersionName, apk.SizeBytes)
			}
			return nil
		}

		apk, err := app.InspectAPK(target)
		if err != nil {
			return err
		}
		if outputJSON {
			return printJSON(apk)
		}
		fmt.Printf("Path:          %s\n", apk.Path)
		fmt.Printf("Package:       %s\n", apk.Package)
		fmt.Printf("Version name:  %s\n", apk.VersionName)
		fmt.Printf("Version code:  %s\n", apk.VersionCode)
		fmt.Printf("Size:          %d bytes\n", apk.SizeBytes)
		return nil
	},
}

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Print recent entries from the persistent log file",
	RunE: func(cmd *cobra.Command, args []string) error {
		if logList {
			files, err := ListLogFiles()
			if err != nil {
				fmt.Println("No persisted logs. Enable log.file in the config to keep them.")
				return nil
			}
			if dir := GetLogDir(); dir != "" {
				fmt.Printf("Log directory: %s\n", dir)
			}
			for _, f := range files {
				fmt.Println(f)
			}
			return nil
		}

		lines, err := ReadRecentLogs(logLines)
		if err != nil {
			if strings.Contains(err.Error(), "not initialized") {
				fmt.Println("No persisted logs. Enable log.file in the config to keep them.")
				return nil
			}
			return err
		}
		if len(lines) == 0 {
			fmt.Println("No persisted logs. Enable log.file in the config to keep them.")
			return nil
		}
		for _, line := range lines {
			fmt.Println(line)
		}
		return nil
	},
}

var restartServerCmd = &cobra.Command{
	Use:   "restart-server",
	Short: "Restart the adb server",
	Long: `Kill and restart the adb server. Useful when adb stops seeing devices
that are physically connected, which happens with large USB hubs.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		out, err := app.RestartAdbServer()
		if err != nil {
			return err
		}
		if out != "" {
			fmt.Println(out)
		}
		fmt.Println("ADB server restarted.")
		return nil
	},
}

func init() {
	devicesCmd.Flags().BoolVar(&outputJSON, "json", false, "print JSON instead of a table")

	statusCmd.Flags().StringVar(&profileName, "profile", "", "profile whose package to check (default profile when empty)")
	statusCmd.Flags().StringVar(&statusPackage, "package", "", "check this package instead of the profile's")
	statusCmd.Flags().BoolVar(&outputJSON, "json", false, "print JSON instead of per-device lines")

	provisionCmd.Flags().StringVar(&profileName, "profile", "", "profile to provision (default profile when empty)")
	provisionCmd.Flags().BoolVar(&dryRun, "dry-run", false, "report decisions without touching devices")
	provisionCmd.Flags().StringSliceVar(&deviceList, "devices", nil, "restrict the pass to these serials (comma separated)")
	provisionCmd.Flags().BoolVarP(&assumeYes, "yes", "y", false, "skip the confirmation prompt")
	provisionCmd.Flags().BoolVar(&outputJSON, "json", false, "print the run summary as JSON")

	watchCmd.Flags().StringVar(&profileName, "profile", "", "profile to provision (default profile when empty)")
	watchCmd.Flags().Int("cooldown", 5, "minutes before a device is retried after an attempt")
	viper.BindPFlag("watch.cooldown_minutes", watchCmd.Flags().Lookup("cooldown"))

	serveCmd.Flags().String("addr", ":8556", "listen address for the HTTP API")
	viper.BindPFlag("serve.addr", serveCmd.Flags().Lookup("addr"))

	historyCmd.Flags().StringVar(&historySerial, "serial", "", "show attempts for this device serial")
	historyCmd.Flags().StringVar(&historyProfile, "profile", "", "only list runs of this profile")
	historyCmd.Flags().IntVar(&historyLimit, "limit", 10, "maximum entries to show")
	historyCmd.Flags().BoolVar(&outputJSON, "json", false, "print JSON instead of formatted lines")

	inspectCmd.Flags().BoolVar(&outputJSON, "json", false, "print JSON instead of formatted fields")

	logsCmd.Flags().IntVar(&logLines, "lines", 50, "number of log lines to print")
	logsCmd.Flags().BoolVar(&logList, "list", false, "list log files instead of printing entries")
}

// printJSON writes v to stdout with indentation, for --json output.
func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// printRunSummary renders one provisioning run for the terminal.
func printRunSummary(summary *RunSummary) {
	if summary == nil {
		return
	}
	status := "finished"
	if summary.DryRun {
		status = "finished (dry run)"
	}
	elapsed := float64(summary.FinishedAt-summary.StartedAt) / 1000
	fmt.Printf("\nRun %s, profile %q, %s in %.1fs\n", summary.RunID, summary.Profile, status, elapsed)
	fmt.Printf("  devices: %d  provisioned: %d  already owner: %d  skipped: %d  failed: %d\n",
		summary.TotalDevices, summary.Provisioned, summary.AlreadyOwner, summary.Skipped, summary.Failed)
	if summary.ServerRestarts > 0 {
		fmt.Printf("  adb server restarts: %d\n", summary.ServerRestarts)
	}
	for _, r := range summary.Results {
		printDeviceResult(r)
	}
}

func printDeviceResult(r ProvisionResult) {
	label := r.DeviceID
	if r.Model != "" {
		label += " (" + r.Model + ")"
	}
	fmt.Printf("  %-36s %-18s %.1fs\n", label, r.Outcome, float64(r.DurationMs)/1000)
	if len(r.Steps) > 0 {
		fmt.Printf("      steps: %s\n", strings.Join(r.Steps, ", "))
	}
	if r.Error != "" {
		fmt.Printf("      error: %s\n", r.Error)
	}
}

func describeTargets(devices []string) string {
	if len(devices) == 0 {
		return "all connected devices"
	}
	if len(devices) == 1 {
		return "device " + devices[0]
	}
	return fmt.Sprintf("%d selected devices", len(devices))
}

// promptForConfirmation reads a line from stdin and returns it lowercased
// and trimmed.
func promptForConfirmation(prompt string) string {
	fmt.Print(prompt)
	reader := bufio.NewReader(os.Stdin)
	answer, _ := reader.ReadString('\n')
	return strings.TrimSpace(strings.ToLower(answer))
}

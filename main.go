package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var version = "dev" // set by the linker
var cfgFile string

// app is the shared application instance the commands run against. It is
// built in PersistentPreRunE, after viper has read the configuration.
var app *App

func main() {
	if err := rootCmd.Execute(); err != nil {
		// The error is already printed by Cobra on failure.
		os.Exit(1)
	}
}

var rootCmd *cobra.Command

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd = newRootCmd()

	// Defaults, overridable by the config file, environment, and flags.
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.file", false)
	viper.SetDefault("serve.addr", ":8556")
	viper.SetDefault("watch.cooldown_minutes", 5)
	viper.SetDefault("history.retention_days", 90)
	viper.SetDefault("provision.rate_limit", 4)
	viper.SetDefault("provision.retry_mode", "linear")
	viper.SetDefault("provision.retries", 2)
	viper.SetDefault("provision.retry_initial_ms", 1000)
	viper.SetDefault("provision.retry_max_ms", 30000)
	viper.SetDefault("nats.subject", "drover.events")
}

// newRootCmd creates and configures a new root cobra command.
// This function is used to create the main application command as well as
// fresh instances for isolated testing.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "drover",
		Short: "Drover provisions fleets of Android devices over ADB.",
		Long: `Drover discovers Android devices attached via ADB, reports their
provisioning state, and installs a launcher APK plus device-owner
assignment across the whole fleet in one pass.

Profiles describe what to install and which component becomes device
owner. Besides one-shot passes, Drover can watch for new devices and
provision them as they appear, serve an HTTP/WebSocket API, and expose
the fleet to MCP clients over stdio.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Viper has already read the config by this point.
			return setupApp(cmd)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if app != nil {
				app.Shutdown(context.Background())
			}
		},
	}

	// Add subcommands to the newly created root command.
	cmd.AddCommand(devicesCmd)
	cmd.AddCommand(statusCmd)
	cmd.AddCommand(provisionCmd)
	cmd.AddCommand(watchCmd)
	cmd.AddCommand(serveCmd)
	cmd.AddCommand(mcpCmd)
	cmd.AddCommand(historyCmd)
	cmd.AddCommand(inspectCmd)
	cmd.AddCommand(logsCmd)
	cmd.AddCommand(restartServerCmd)

	// Set version
	cmd.Version = version

	// Define flags
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.drover.yaml or ./.drover.yaml)")
	cmd.PersistentFlags().String("adb", "", "path to the adb binary (default: PATH, then SDK locations)")
	cmd.PersistentFlags().String("aapt", "", "path to the aapt binary used for APK badging")
	cmd.PersistentFlags().String("log-level", "info", `log level ("debug", "info", "warn", "error")`)
	cmd.PersistentFlags().String("data-dir", "", "directory for settings, caches, and run history")

	// Bind flags to viper
	viper.BindPFlag("adb.path", cmd.PersistentFlags().Lookup("adb"))
	viper.BindPFlag("aapt.path", cmd.PersistentFlags().Lookup("aapt"))
	viper.BindPFlag("log.level", cmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("data.dir", cmd.PersistentFlags().Lookup("data-dir"))

	return cmd
}

// setupApp initializes the logger and builds the shared App instance.
func setupApp(cmd *cobra.Command) error {
	logCfg := DefaultLogConfig()
	if viper.GetBool("log.file") {
		logCfg = PersistentLogConfig(resolveDataDir())
	}
	logCfg.Level = ParseLogLevel(viper.GetString("log.level"))

	// The MCP stdio transport owns stdout, so console logging is
	// disabled there and the file sink keeps the record.
	if cmd.Name() == "mcp" {
		logCfg.Console = false
	}

	if err := InitLogger(logCfg); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	LogAppState(StateStarting, map[string]interface{}{"version": version, "command": cmd.Name()})

	app = NewApp(version)
	app.startup(cmd.Context())
	LogAppState(StateReady, nil)
	return nil
}

// resolveDataDir mirrors the App's data directory resolution for use
// before the App exists.
func resolveDataDir() string {
	if dir := viper.GetString("data.dir"); dir != "" {
		return dir
	}
	base, err := os.UserConfigDir()
	if err != nil {
		base = os.TempDir()
	}
	return filepath.Join(base, "Drover")
}

// initConfig reads in a configuration file and environment variables.
// It uses Viper to search for a config file (.drover.yaml) in the home
// and current directories. If a config file is not found, it attempts to
// create a default one. It also binds environment variables prefixed
// with "DROVER".
func initConfig() {
	if cfgFile != "" {
		// Use config file from the flag.
		viper.SetConfigFile(cfgFile)
	} else {
		// Find home directory.
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)

		// Search config in home directory and current directory with name ".drover" (without extension).
		viper.AddConfigPath(home)
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName(".drover")
	}

	viper.SetEnvPrefix("DROVER")
	viper.AutomaticEnv() // read in environment variables that match

	// If a config file is found, read it in.
	if err := viper.ReadInConfig(); err != nil {
		// If the config file is not found, we can create one with default values
		// to make configuration discoverable for the user.
		if _, ok := err.(viper.ConfigFileNotFoundError); ok && cfgFile == "" {
			// We only do this if no config file was found and none was specified via flag.
			// We'll attempt to write a default config to the current directory.
			const defaultConfigPath = ".drover.yaml"
			defaultContent := `# Drover configuration file.
# This file is automatically generated with default values.
# You can modify these settings to configure Drover.

adb:
  # Path to the adb binary. Empty means: use PATH, then the usual
  # Android SDK platform-tools locations.
  path: ""

aapt:
  # Path to the aapt binary used to read APK badging info. Empty means:
  # use PATH, then the newest SDK build-tools. Without aapt, APK
  # versions report as "unknown".
  path: ""

log:
  # Log level: "debug", "info", "warn", "error".
  level: info
  # Also write a size-rotated log file under the data directory.
  file: false

data:
  # Directory for settings, the badging cache, and run history.
  # Empty means the user config directory (e.g. ~/.config/Drover).
  dir: ""

serve:
  # Listen address for the HTTP/WebSocket API.
  addr: ":8556"

watch:
  # Minimum minutes between provisioning attempts for the same device.
  cooldown_minutes: 5

history:
  # Provisioning runs older than this many days are pruned at startup.
  retention_days: 90

provision:
  # Maximum heavy device operations (install, uninstall, owner
  # assignment) per second across the fleet.
  rate_limit: 4
  # Backoff for transient adb failures (device enumeration, readiness
  # waits). Mode: "fixed", "linear", or "exponential".
  retry_mode: linear
  retries: 2
  retry_initial_ms: 1000
  retry_max_ms: 30000

# Optional NATS event publishing. Leave url empty to disable.
nats:
  url: ""
  subject: drover.events
`
			// If writing fails (e.g., due to permissions), we don't treat it as a
			// fatal error. The app will simply run with the default values set in memory.
			// The notice goes to stderr because stdout may carry MCP traffic.
			if err := os.WriteFile(defaultConfigPath, []byte(defaultContent), 0644); err == nil {
				fmt.Fprintln(os.Stderr, "No config file found. Created a default '.drover.yaml' in the current directory.")
			}
		}
	}
}

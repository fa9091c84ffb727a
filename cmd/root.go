package cmd

import (
	"os"

	"stargate/internal/config"
	"stargate/pkg/logging"

	"github.com/spf13/cobra"
)

// Exit codes for CLI commands.
const (
	// ExitCodeSuccess indicates successful execution.
	ExitCodeSuccess = 0
	// ExitCodeError indicates a general error.
	ExitCodeError = 1
)

var (
	configPath string
	logLevel   string

	// cfg is the loaded configuration, available to all subcommands after
	// the persistent pre-run.
	cfg config.Config
)

// rootCmd represents the base command for the stargate application.
var rootCmd = &cobra.Command{
	Use:   "stargate",
	Short: "Connect your machine to the ShapeDiver platform",
	Long: `stargate authenticates against the ShapeDiver platform and registers
this machine as a client with the Stargate gateway, serving data requests
from ShapeDiver Apps against your models.`,
	// SilenceUsage prevents Cobra from printing the usage message on errors
	// that are handled by the application.
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		cfg = loaded

		level := cfg.LogLevel
		if logLevel != "" {
			level = logLevel
		}
		logging.Init(logging.ParseLevel(level), os.Stderr)
		return nil
	},
}

// SetVersion sets the version for the root command. Called from the main
// package to inject the build version.
func SetVersion(v string) {
	rootCmd.Version = v
}

// GetVersion returns the current version of the application.
func GetVersion() string {
	return rootCmd.Version
}

// Execute is the main entry point for the CLI application.
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "stargate version %s\n" .Version}}`)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(ExitCodeError)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default is $HOME/.config/stargate/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")

	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newConnectCmd())
}

package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/devpulse/devpulse/internal/config"
	"github.com/devpulse/devpulse/internal/logging"
)

var (
	// Version information (set by build flags)
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"

	cfgFile string
	verbose bool
	logger  *logrus.Logger
	cfg     *config.Config
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "devpulse",
	Short: "DevPulse - team commit sync and sprint analytics",
	Long: `DevPulse mirrors a team's GitHub repositories into Postgres, enriches
every commit, and serves sprint analytics over HTTP.`,
	Version: Version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return err
		}

		logCfg := logging.Config{
			Level:      logging.ParseLevel(cfg.Logging.Level),
			OutputFile: cfg.Logging.OutputFile,
			JSONFormat: cfg.Logging.JSONFormat,
		}
		if verbose {
			logCfg.Level = logging.DEBUG
			logCfg.JSONFormat = false
		}
		if err := logging.Initialize(logCfg); err != nil {
			return err
		}
		logger = logging.Service(logCfg)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: .devpulse/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	rootCmd.SetVersionTemplate(`DevPulse {{.Version}}
Build time: ` + BuildTime + `
Git commit: ` + GitCommit + `
`)

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(syncCmd)
}

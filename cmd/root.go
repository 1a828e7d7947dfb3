package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/andresmejia3/faced/internal/config"
	"github.com/andresmejia3/faced/internal/detector"
	"github.com/andresmejia3/faced/internal/logger"
	"github.com/andresmejia3/faced/internal/pipeline"
	"github.com/andresmejia3/faced/internal/utils"
	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	// AppConfig is the effective configuration, loaded before any subcommand runs
	AppConfig *config.Config
	// cfgFile is an optional config file path
	cfgFile string

	// newDetector builds the backend; tests swap it for a fake
	newDetector = detector.New
)

// Version is the application version.
const Version = "0.1.0"

// flagKeys maps command line flags onto config keys so that a flag, when
// given, wins over env and file values.
var flagKeys = map[string]string{
	"log-level": "log.level",
	"json-logs": "log.json",
	"backend":   "detector.backend",
	"cascade":   "detector.cascade",
	"addr":      "server.addr",
	"stroke":    "detection.stroke",
}

var rootCmd = &cobra.Command{
	Use:           "faced",
	Short:         "Face detection & annotation tool",
	Version:       Version, // This enables the --version flag
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		v, err := config.New(cfgFile)
		if err != nil {
			return err
		}
		if err := bindFlags(v, cmd); err != nil {
			return err
		}
		AppConfig, err = config.Load(v)
		if err != nil {
			return err
		}
		return logger.Initialize(AppConfig.Log.JSON, AppConfig.Log.Level)
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logger.Logger.Sync()
	},
}

func bindFlags(v *viper.Viper, cmd *cobra.Command) error {
	for name, key := range flagKeys {
		if f := cmd.Flags().Lookup(name); f != nil {
			if err := v.BindPFlag(key, f); err != nil {
				return errors.Wrapf(err, "failed to bind --%s", name)
			}
		}
	}
	return nil
}

// newPipeline loads the configured detector. The caller closes the detector.
func newPipeline(cfg *config.Config) (*pipeline.Pipeline, detector.Detector, error) {
	d, err := newDetector(cfg.DetectorOptions())
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to load detector")
	}
	return pipeline.New(d, pipeline.WithStroke(cfg.Detection.Stroke)), d, nil
}

func Execute() {
	// Create a context that listens for Ctrl+C (SIGINT) or Kill (SIGTERM)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// This tells Cobra not to print the version in the help text, which is cleaner.
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		utils.ShowError(os.Stderr, "Command failed", err)
		stop()
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file (YAML, TOML or JSON)")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().Bool("json-logs", false, "Emit logs as JSON")
	rootCmd.PersistentFlags().String("backend", "pigo", "Detector backend: pigo, gocv")
	rootCmd.PersistentFlags().String("cascade", "cascade/facefinder", "Path to the cascade model file")
	rootCmd.PersistentFlags().Int("stroke", pipeline.DefaultStroke, "Outline width in pixels")
}

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"hf-fetch/config"
)

var (
	logLevelFlag  string
	modelsDirFlag string

	// current is set by the root pre-run hook and released by execute
	current *app
)

var rootCmd = &cobra.Command{
	Use:           "hf-fetch",
	Short:         "Resumable downloader for model repositories on the Hugging Face hub",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadConfig()
		if err != nil {
			return fmt.Errorf("configuration error: %w", err)
		}
		if modelsDirFlag != "" {
			cfg.ModelsDir = modelsDirFlag
		}

		a, err := newApp(cfg, logLevelFlag)
		if err != nil {
			return err
		}
		current = a

		a.logger.Debug("configuration loaded",
			zap.String("models_dir", cfg.ModelsDir),
			zap.String("endpoint", cfg.Endpoint),
			zap.String("token", maskString(cfg.Token)),
			zap.Int("max_concurrent", cfg.MaxConcurrent))
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", "", "Logging level (DEBUG, INFO, WARN, ERROR), overrides HFFETCH_LOG_LEVEL")
	rootCmd.PersistentFlags().StringVar(&modelsDirFlag, "dir", "", "Models directory, overrides HFFETCH_MODELS_DIR")
}

// signalContext is cancelled on SIGINT or SIGTERM
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/shpitdev/email-batch-validator/internal/batch"
	"github.com/shpitdev/email-batch-validator/internal/config"
	"github.com/shpitdev/email-batch-validator/pkg/pipeline/redact"
)

var (
	cfg        *config.Config
	logger     *zap.Logger
	configPath string
)

var rootCmd = &cobra.Command{
	Use:           "validator",
	Short:         "Batch email validation client",
	Long:          "Submits batches of email addresses to the validation API, streams results back and keeps the local session and history up to date.",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load(configPath)
		if err != nil {
			return usageError(fmt.Errorf("load config: %w", err))
		}
		cfg = c

		l, err := config.InitLogger(cfg.Log)
		if err != nil {
			return usageError(fmt.Errorf("init logger: %w", err))
		}
		logger = l
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default: ./config.yaml or the user config dir)")
	rootCmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return usageError(err)
	})
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "error: %s\n", redact.Secrets(err.Error()))
	}
	os.Exit(exitCode(err))
}

// exitError carries the process exit code for an error.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func usageError(err error) error {
	return &exitError{code: 2, err: err}
}

// exitCode maps an error to the process exit status: 2 for configuration and pre-flight
// rejections, 1 for run failures.
func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	if batch.IsPreflight(err) {
		return 2
	}
	return 1
}

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"prionotify/internal/app"
)

var (
	configFlag string
	envFlag    string
	rootCmd    = &cobra.Command{
		Use:           "prionotify",
		Short:         "Forward priority Telegram messages to an alert chat",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          func(cmd *cobra.Command, args []string) error { return runBot(cmd.Context()) },
	}
)

func main() {
	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "path to config (.json, .yaml or .yml)")
	rootCmd.PersistentFlags().StringVar(&envFlag, "env-file", ".env", "dotenv file loaded before the environment is read")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "run",
		Short: "Run the notifier until SIGINT or SIGTERM",
		Args:  cobra.NoArgs,
		RunE:  func(cmd *cobra.Command, args []string) error { return runBot(cmd.Context()) },
	})

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		cancel()
		os.Exit(1)
	}
}

func options() app.Options {
	return app.Options{ConfigPath: configFlag, EnvFile: envFlag}
}

func runBot(ctx context.Context) error {
	a, err := app.NewApp(options())
	if err != nil {
		return err
	}
	if err := a.Start(ctx); err != nil {
		stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = a.Stop(stopCtx, app.StopFatalError)
		return fmt.Errorf("start: %w", err)
	}

	select {
	case <-ctx.Done():
	case <-a.Done():
	}
	reason := app.StopSignal
	if ctx.Err() == nil {
		reason = app.StopFatalError
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	_ = a.Stop(stopCtx, reason)
	if reason == app.StopFatalError {
		return a.Err()
	}
	return nil
}

// Package cmd defines the pagecapture CLI commands.
package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/pagecapture/internal/config"
	"github.com/JakeFAU/pagecapture/internal/server"
)

// buildApp is the application factory. Tests replace it to inject fakes.
var buildApp = func(ctx context.Context, cfg config.Config) (*server.App, error) {
	return server.Build(ctx, cfg)
}

// newRootCmd creates the root command and attaches the subcommands.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pagecapture",
		Short: "Batch screenshot capture for lists of URLs.",
		Long: `pagecapture renders every URL of a spreadsheet in a headless browser at
each configured device viewport, writes the screenshots into a locale/device
directory tree and packages the tree as a zip archive.

Run it as an HTTP service with "serve" or for a single file with "capture".`,
		SilenceUsage: true,
	}
	cmd.PersistentFlags().String("config", "", "config file (YAML); PAGECAPTURE_* env vars override it")
	cmd.AddCommand(newServeCmd(), newCaptureCmd())
	return cmd
}

func loadConfig(cmd *cobra.Command) (config.Config, error) {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return config.Config{}, fmt.Errorf("read --config flag: %w", err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "pagecapture: %v\n", err)
		os.Exit(1)
	}
}

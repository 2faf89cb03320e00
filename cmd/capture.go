package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/pagecapture/internal/progress"
)

func newCaptureCmd() *cobra.Command {
	var inputPath string
	cmd := &cobra.Command{
		Use:   "capture",
		Short: "Capture one spreadsheet in the foreground",
		Long: `Reads the URL columns of an .xlsx or .csv file, captures every URL at
every configured viewport and prints progress as it goes. Exits non-zero when
the job aborts.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCapture(cmd, inputPath)
		},
	}
	cmd.Flags().StringVarP(&inputPath, "input", "i", "", "spreadsheet with the URL columns (.xlsx or .csv)")
	_ = cmd.MarkFlagRequired("input")
	return cmd
}

func runCapture(cmd *cobra.Command, inputPath string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := buildApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := app.Close(context.Background()); cerr != nil {
			zap.L().Warn("failed to close application", zap.Error(cerr))
		}
	}()

	out := cmd.OutOrStdout()
	c, err := app.CaptureFile(ctx, inputPath, linePrinter{w: out})
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(out, "Archive: %s (%d captured, %d failed)\n", c.ArchivePath, c.Succeeded, c.Failed)
	return nil
}

// linePrinter writes each event's message on its own line.
type linePrinter struct {
	w io.Writer
}

func (p linePrinter) Emit(evt progress.Event) {
	_, _ = fmt.Fprintln(p.w, evt.Message())
}

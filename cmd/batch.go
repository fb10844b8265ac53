package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/support934/smartgecode-saas/internal/auth"
	"github.com/support934/smartgecode-saas/internal/engine"
	"github.com/support934/smartgecode-saas/internal/model"
	"github.com/support934/smartgecode-saas/pkg/geocode"
)

// batchOptions are the inputs of a local batch run.
type batchOptions struct {
	In     string
	Out    string
	Email  string
	Format string
}

var batchOpts batchOptions

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Geocode a CSV or XLSX file locally and write the results",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := cfg.Validate("batch"); err != nil {
			return err
		}
		return runBatch(ctx, batchOpts, nil)
	},
}

// runBatch submits the file as one job, waits for it, and writes the
// results. client overrides the configured geocoder when set.
func runBatch(ctx context.Context, opts batchOptions, client geocode.Client) error {
	data, err := os.ReadFile(opts.In)
	if err != nil {
		return eris.Wrapf(err, "read %s", opts.In)
	}

	st, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close() //nolint:errcheck

	guard, err := newGuard(st)
	if err != nil {
		return err
	}
	notifier, closeNotifier := newNotifier()
	defer closeNotifier()

	if client == nil {
		client = newGeocoder(nil)
	}
	eng := engine.New(engineConfig(), engine.Deps{
		Store:    st,
		Client:   client,
		Guard:    guard,
		Notifier: notifier,
	})

	sub, err := eng.SubmitBatch(ctx, engine.Upload{
		Filename:   filepath.Base(opts.In),
		Data:       data,
		OwnerEmail: opts.Email,
	}, auth.Anonymous("cli"))
	if err != nil {
		return err
	}
	zap.L().Info("batch submitted", zap.String("job_id", sub.JobID), zap.Int("total_rows", sub.TotalRows))

	// Ctrl-C cancels the job; partial results are still written.
	stopCancel := context.AfterFunc(ctx, func() {
		if err := eng.Cancel(context.Background(), sub.JobID, opts.Email); err != nil {
			zap.L().Debug("cancel batch", zap.Error(err))
		}
	})
	eng.Wait()
	stopCancel()

	// Use a fresh context: ctx may already be cancelled.
	readCtx := context.WithoutCancel(ctx)
	status, err := eng.PollStatus(readCtx, sub.JobID, opts.Email)
	if err != nil {
		return err
	}

	d, err := eng.DownloadResults(readCtx, sub.JobID, opts.Email, opts.Format)
	if err != nil {
		return err
	}
	if err := writeOutput(opts.Out, d.Body); err != nil {
		return err
	}

	zap.L().Info("batch finished",
		zap.String("job_id", sub.JobID),
		zap.String("status", string(status.Status)),
		zap.Int("processed_rows", status.ProcessedRows),
		zap.Int("total_rows", status.TotalRows),
	)
	if status.Status != model.JobStatusComplete {
		return eris.Errorf("batch %s ended %s: %s", sub.JobID, status.Status, status.Error)
	}
	return nil
}

func writeOutput(path string, body []byte) error {
	if path == "" || path == "-" {
		_, err := os.Stdout.Write(body)
		return eris.Wrap(err, "write stdout")
	}
	return eris.Wrapf(os.WriteFile(path, body, 0o644), "write %s", path)
}

func init() {
	batchCmd.Flags().StringVar(&batchOpts.In, "in", "", "input CSV or XLSX file")
	batchCmd.Flags().StringVar(&batchOpts.Out, "out", "", "output file (default stdout)")
	batchCmd.Flags().StringVar(&batchOpts.Email, "email", "", "owner email recorded on the job")
	batchCmd.Flags().StringVar(&batchOpts.Format, "format", engine.FormatCSV, "output format: csv or geojson")
	_ = batchCmd.MarkFlagRequired("in")
	rootCmd.AddCommand(batchCmd)
}

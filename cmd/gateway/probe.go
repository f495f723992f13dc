package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/angeloszaimis/ocr-gateway/config"
	"github.com/angeloszaimis/ocr-gateway/pkg/logger"
)

func newProbeCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "probe",
		Short: "Poll every backend's health endpoint once",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.load()
			if err != nil {
				return err
			}
			log := logger.NewWithWriter(cmd.ErrOrStderr(), cfg.Logging.Level, false, cfg.Server.Environment)
			return runProbe(cmd.Context(), cfg, log, cmd.OutOrStdout())
		},
	}
}

type probeResult struct {
	id  string
	url string
	err error
}

// runProbe polls each backend once, concurrently, and prints one line per
// backend. It fails when any backend is unhealthy.
func runProbe(ctx context.Context, cfg *config.Config, log *slog.Logger, out io.Writer) error {
	a, err := newApp(cfg, log)
	if err != nil {
		return err
	}

	descriptors := a.registry.All()
	results := make([]probeResult, len(descriptors))

	var g errgroup.Group
	for i, d := range descriptors {
		g.Go(func() error {
			results[i] = probeResult{id: d.ID, url: d.HealthURL(), err: a.monitor.Probe(ctx, d)}
			return nil
		})
	}
	g.Wait()

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "BACKEND\tSTATUS\tURL\tDETAIL")

	failed := 0
	for _, r := range results {
		status, detail := "healthy", "-"
		if r.err != nil {
			status, detail = "unhealthy", r.err.Error()
			failed++
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", r.id, status, r.url, detail)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d backends unhealthy", failed, len(results))
	}
	return nil
}

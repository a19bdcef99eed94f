// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/pdiddy/irb-engine/internal/logging"
	"github.com/pdiddy/irb-engine/internal/telemetry"
)

var workCmd = &cobra.Command{
	Use:   "work",
	Short: "Process pending background jobs",
	Long: `Work starts the worker pool, dispatches every pending job in the outbox
(analysis runs, evidence recomputations, submission notifications), and waits
until they finish. With --poll it keeps polling the outbox until interrupted.`,
	RunE: runWork,
}

func init() {
	workCmd.Flags().Duration("poll", 0, "keep running and poll the outbox at this interval")
	workCmd.Flags().Bool("metrics", false, "print collected metrics when done")

	rootCmd.AddCommand(workCmd)
}

func runWork(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer provider.Shutdown(context.Background())
	metrics, err := telemetry.New(provider)
	if err != nil {
		return err
	}

	a, err := openApp(metrics)
	if err != nil {
		return err
	}
	defer a.Close()
	if err := a.registerHandlers(ctx); err != nil {
		return err
	}

	log := logging.New("work")
	a.pool.Start(ctx)
	defer a.pool.Stop()

	poll, _ := cmd.Flags().GetDuration("poll")
	total := 0
	for {
		n, err := a.pool.Resume(ctx)
		total += n
		if err != nil {
			return err
		}
		if err := a.pool.Drain(ctx); err != nil {
			return err
		}
		if n > 0 {
			log.Info("batch finished", "jobs", n)
		}
		if poll <= 0 {
			break
		}
		select {
		case <-ctx.Done():
			log.Info("stopping", "processed", total)
			return nil
		case <-time.After(poll):
		}
	}

	counts, err := a.store.Jobs().JobCounts(ctx)
	if err != nil {
		return err
	}
	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "Processed %d job(s). Outbox:", total)
	for _, status := range []string{"pending", "done", "failed"} {
		fmt.Fprintf(w, " %s=%d", status, counts[status])
	}
	fmt.Fprintln(w)

	if dump, _ := cmd.Flags().GetBool("metrics"); dump {
		var rm metricdata.ResourceMetrics
		if err := reader.Collect(ctx, &rm); err != nil {
			return fmt.Errorf("collecting metrics: %w", err)
		}
		printMetrics(w, rm)
	}
	return nil
}

// printMetrics writes counter and histogram totals, one line per data point.
func printMetrics(w io.Writer, rm metricdata.ResourceMetrics) {
	var lines []string
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			switch data := m.Data.(type) {
			case metricdata.Sum[int64]:
				for _, dp := range data.DataPoints {
					lines = append(lines, fmt.Sprintf("%s%s %d", m.Name, attrs(dp.Attributes.ToSlice()), dp.Value))
				}
			case metricdata.Histogram[float64]:
				for _, dp := range data.DataPoints {
					lines = append(lines, fmt.Sprintf("%s%s count=%d sum=%.2f", m.Name, attrs(dp.Attributes.ToSlice()), dp.Count, dp.Sum))
				}
			}
		}
	}
	sort.Strings(lines)
	for _, l := range lines {
		fmt.Fprintln(w, l)
	}
}

func attrs(kvs []attribute.KeyValue) string {
	if len(kvs) == 0 {
		return ""
	}
	parts := make([]string, len(kvs))
	for i, kv := range kvs {
		parts[i] = string(kv.Key) + "=" + kv.Value.Emit()
	}
	return "{" + strings.Join(parts, ",") + "}"
}

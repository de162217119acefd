package cli

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/scalytics/cdcbridge/internal/cdcloop"
	"github.com/scalytics/cdcbridge/internal/metrics"
)

var cdcMetricsAddr string

func init() {
	cdcCmd.Flags().StringVar(&cdcMetricsAddr, "metrics-addr", ":9090", "address to serve /metrics on, empty to disable")
}

var cdcCmd = &cobra.Command{
	Use:   "cdc",
	Short: "Run the steady-state CDC loop until interrupted",
	RunE:  runCDC,
}

func runCDC(cmd *cobra.Command, args []string) error {
	printHeader("cdcbridge cdc")

	svc, err := newServices()
	if err != nil {
		return err
	}
	defer svc.close()

	if cdcMetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		server := &http.Server{Addr: cdcMetricsAddr, Handler: mux}
		go func() {
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				fmt.Fprintf(os.Stderr, "metrics server: %v\n", err)
			}
		}()
		defer server.Close()
		fmt.Printf("Metrics: http://%s/metrics\n", cdcMetricsAddr)
	}

	driver := cdcloop.New(cdcloop.Config{
		PollInterval:      svc.cfg.Loop.NormalPollInterval,
		StatsEveryNCycles: svc.cfg.Loop.StatsEveryNCycles,
		BatchCap:          svc.cfg.Loop.BatchCap,
		MaxSendFailures:   svc.cfg.Loop.MaxSendFailures,
	}, svc.cat, svc.reader, svc.store, svc.dispatcher, svc.ingestor, svc.errors)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Printf("Sources: %d enabled, poll interval %s\n", len(svc.cat.Enabled()), svc.cfg.Loop.NormalPollInterval)
	err = driver.Run(ctx)
	if err != nil && err != context.Canceled {
		return err
	}
	return nil
}

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/percolate-dev/percolate-core/pkg/metrics"
)

var (
	serveAddr        string
	serveMetricsAddr string

	replicateMetricsAddr string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the primary replication endpoint and metrics server",
	RunE: func(cmd *cobra.Command, args []string) error {
		h, err := requireHandle()
		if err != nil {
			return err
		}

		collector := metrics.NewCollector(h.store, h.log, nil)
		collector.Start()
		defer collector.Stop()

		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", metrics.Handler())
			mux.Handle("/healthz", metrics.HealthHandler())
			mux.Handle("/readyz", metrics.ReadyHandler())
			mux.Handle("/livez", metrics.LivenessHandler())
			if err := http.ListenAndServe(serveMetricsAddr, mux); err != nil && err != http.ErrServerClosed {
				fmt.Fprintf(os.Stderr, "metrics server: %v\n", err)
			}
		}()

		ctx, cancel := context.WithCancel(cmd.Context())
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

		errCh := make(chan error, 1)
		go func() { errCh <- h.Serve(ctx, serveAddr) }()

		fmt.Printf("serving replication on %s, metrics on %s. Press Ctrl+C to stop.\n", serveAddr, serveMetricsAddr)

		select {
		case <-sigCh:
			fmt.Println("\nshutting down...")
			cancel()
			<-errCh
		case err := <-errCh:
			cancel()
			if err != nil {
				return err
			}
		}
		fmt.Println("shutdown complete")
		return nil
	},
}

var replicatePrimaryAddr string

var replicateCmd = &cobra.Command{
	Use:   "replicate",
	Short: "Run as a replication follower of a primary",
	RunE: func(cmd *cobra.Command, args []string) error {
		h, err := requireHandle()
		if err != nil {
			return err
		}
		addr := replicatePrimaryAddr
		if addr == "" {
			addr = h.cfg.ReplicationPrimaryAddr
		}

		go func() {
			mux := http.NewServeMux()
			mux.Handle("/healthz", metrics.HealthHandler())
			mux.Handle("/readyz", metrics.ReadyHandler())
			mux.Handle("/livez", metrics.LivenessHandler())
			if err := http.ListenAndServe(replicateMetricsAddr, mux); err != nil && err != http.ErrServerClosed {
				fmt.Fprintf(os.Stderr, "metrics server: %v\n", err)
			}
		}()
		go pollReplicationHealth(h)

		ctx, cancel := context.WithCancel(cmd.Context())
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

		errCh := make(chan error, 1)
		go func() { errCh <- h.Replicate(ctx, addr) }()

		fmt.Printf("following primary at %s. Press Ctrl+C to stop.\n", addr)

		select {
		case <-sigCh:
			fmt.Println("\nshutting down...")
			cancel()
			<-errCh
		case err := <-errCh:
			cancel()
			if err != nil {
				return err
			}
		}
		fmt.Println("shutdown complete")
		return nil
	},
}

// pollReplicationHealth samples the follower's connection state every
// second and republishes it as the "replication-stream" health component,
// the one GetReadiness blocks on for a follower node. h.follower is only
// assigned once Replicate starts, so the first few ticks are a no-op.
func pollReplicationHealth(h *Handle) {
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()
	for range ticker.C {
		if h.follower == nil {
			continue
		}
		st := h.follower.Status()
		if st.Connected {
			metrics.RegisterComponent("replication-stream", true, "")
		} else {
			metrics.RegisterComponent("replication-stream", false, st.Reason)
		}
	}
}

var walStatusCmd = &cobra.Command{
	Use:   "wal-status",
	Short: "Report this node's write-ahead log and replication status",
	RunE: func(cmd *cobra.Command, args []string) error {
		h, err := requireHandle()
		if err != nil {
			return err
		}
		return printJSON(h.WalStatus())
	},
}

var (
	vacuumSchema      string
	vacuumMaxEntities int
)

var vacuumCmd = &cobra.Command{
	Use:   "vacuum",
	Short: "Run one physical cleanup pass over tombstoned entities",
	RunE: func(cmd *cobra.Command, args []string) error {
		h, err := requireHandle()
		if err != nil {
			return err
		}
		report, err := h.Vacuum(vacuumSchema, vacuumMaxEntities)
		if err != nil {
			return err
		}
		return printJSON(report)
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", ":7670", "replication listen address")
	serveCmd.Flags().StringVar(&serveMetricsAddr, "metrics-addr", ":9090", "metrics/health listen address")

	replicateCmd.Flags().StringVar(&replicatePrimaryAddr, "primary", "", "primary address (defaults to --replication-primary / P8_REPLICATION_PRIMARY)")
	replicateCmd.Flags().StringVar(&replicateMetricsAddr, "metrics-addr", ":9090", "health listen address")

	vacuumCmd.Flags().StringVar(&vacuumSchema, "schema", "", "limit to one schema, empty means all")
	vacuumCmd.Flags().IntVar(&vacuumMaxEntities, "max-entities", 0, "cap entities purged per pass, 0 means unbounded")
}

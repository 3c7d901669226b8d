// agentd is the ticket worker: it registers with the control plane for one
// ticket, waits for activation, and plans, implements and reviews the work
// through LLM-driven agent phases.
package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"agentd/pkg/logx"
	"agentd/pkg/supervisor"
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		opts        supervisor.Options
		metricsAddr string
	)

	root := &cobra.Command{
		Use:           "agentd --ticket-id <id> --server-url <url>",
		Short:         "Worker agent that serves one ticket end to end",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := logx.NewLogger("agentd")

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if metricsAddr != "" {
				go serveMetrics(metricsAddr, logger)
			}

			s, err := supervisor.New(opts, logger)
			if err != nil {
				return err
			}

			logger.Info("serving ticket %s against %s", opts.TicketID, opts.ServerURL)
			if err := s.Run(ctx); err != nil && ctx.Err() == nil {
				return err
			}
			logger.Info("shutting down")
			return nil
		},
	}

	root.Flags().StringVar(&opts.TicketID, "ticket-id", "", "ticket to serve (required)")
	root.Flags().StringVar(&opts.ServerURL, "server-url", "", "control plane base URL (required)")
	root.Flags().StringVar(&opts.RepoDir, "repo", "./workspace", "checkout directory for the agent's working copy")
	root.Flags().StringVar(&opts.ConfigDir, "config", ".", "directory holding settings.json and prompts/")
	root.Flags().StringVar(&metricsAddr, "metrics-addr", "", "listen address for prometheus metrics (disabled when empty)")
	_ = root.MarkFlagRequired("ticket-id")
	_ = root.MarkFlagRequired("server-url")

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "agentd: %v\n", err)
		return 1
	}
	return 0
}

func serveMetrics(addr string, logger *logx.Logger) {
	srv := &http.Server{
		Addr:              addr,
		Handler:           metricsMux(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	logger.Info("metrics listening on %s", addr)
	if err := srv.ListenAndServe(); err != nil {
		logger.Warn("metrics server stopped: %v", err)
	}
}

func metricsMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

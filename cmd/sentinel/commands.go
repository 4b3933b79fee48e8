package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/eddiefleurent/putspread_sentinel/internal/dashboard"
	"github.com/eddiefleurent/putspread_sentinel/internal/monitor"
	"github.com/eddiefleurent/putspread_sentinel/internal/report"
	"github.com/eddiefleurent/putspread_sentinel/internal/strategy"
)

type rootOptions struct {
	configPath string
	dryRun     bool
}

func newRootCmd(out, errOut io.Writer) *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:   "sentinel",
		Short: "Bull put spread screener and open spread monitor",
		Long: `sentinel screens an underlying (SPY by default) for bull put credit spreads
when the trend and volatility gates pass, and watches open spreads for
profit, loss and delta drift exits. It never places orders.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(out)
	root.SetErr(errOut)

	root.PersistentFlags().StringVar(&opts.configPath, "config", "config.yaml", "path to configuration file")
	root.PersistentFlags().BoolVar(&opts.dryRun, "dry-run", false, "use simulated market data and print alerts instead of sending them")

	root.AddCommand(newScreenCmd(opts, out, errOut))
	root.AddCommand(newMonitorCmd(opts, out, errOut))
	root.AddCommand(newServeCmd(opts, out, errOut))
	return root
}

func (o *rootOptions) open(out, errOut io.Writer) (*app, error) {
	return newApp(o.configPath, o.dryRun, out, errOut)
}

func newScreenCmd(opts *rootOptions, out, errOut io.Writer) *cobra.Command {
	var csvPath string

	cmd := &cobra.Command{
		Use:   "screen",
		Short: "Run the entry gates and rank bull put spread candidates",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := opts.open(out, errOut)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			runScreen(ctx, a, csvPath)
			return nil
		},
	}
	cmd.Flags().StringVar(&csvPath, "csv", "", "also write the ranked candidates to this CSV file")
	return cmd
}

// runScreen screens, prints the ranked table, then journals and exports.
// Every outcome is a normal exit.
func runScreen(ctx context.Context, a *app, csvPath string) strategy.ScreenResult {
	res := a.screener(true).ScreenForSpreads(ctx, a.today())

	fmt.Fprintf(a.out, "Screen %s %s: %s\n", res.Symbol, res.Date, res.Status)
	if !res.Technicals.Pass {
		fmt.Fprintf(a.out, "  technicals: %s\n", res.Technicals.Reason)
	}
	if res.Volatility != nil && !res.Volatility.Pass {
		fmt.Fprintf(a.out, "  volatility: %s\n", res.Volatility.Reason)
	}
	if res.Status == strategy.StatusCandidateFound {
		report.CandidatesTable(a.out, res.Candidates)
	}

	if id, err := a.journal.RecordScreen(ctx, res); err != nil {
		a.logger.WithError(err).Warn("Failed to journal screen run")
	} else if id != "" {
		a.logger.WithField("run_id", id).Debug("Screen run journaled")
	}

	if csvPath != "" {
		if err := report.ExportCandidatesCSV(csvPath, res.Candidates); err != nil {
			a.logger.WithError(err).Warn("Failed to export candidates")
		} else {
			a.logger.WithField("path", csvPath).Info("Candidates exported")
		}
	}
	return res
}

func newMonitorCmd(opts *rootOptions, out, errOut io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "monitor",
		Short: "Evaluate open spreads and send exit alerts",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := opts.open(out, errOut)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			runMonitor(ctx, a)
			return nil
		},
	}
}

func runMonitor(ctx context.Context, a *app) monitor.Result {
	res := a.monitor(true).MonitorPositions(ctx, a.today())

	switch res.Status {
	case monitor.StatusNoStore:
		fmt.Fprintf(a.out, "No open positions file at %s\n", a.cfg.Storage.Path)
	case monitor.StatusNoPositions:
		fmt.Fprintln(a.out, "No open positions to monitor.")
	default:
		report.EvaluationsTable(a.out, res.Evaluations)
		fmt.Fprintf(a.out, "Evaluated %d, skipped %d, inactive %d, alerts sent %d\n",
			len(res.Evaluations), res.Skipped, res.Inactive, res.AlertsSent)
	}

	if id, err := a.journal.RecordMonitor(ctx, res); err != nil {
		a.logger.WithError(err).Warn("Failed to journal monitor run")
	} else if id != "" {
		a.logger.WithField("run_id", id).Debug("Monitor run journaled")
	}
	return res
}

func newServeCmd(opts *rootOptions, out, errOut io.Writer) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the read-only status API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := opts.open(out, errOut)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			if addr == "" {
				addr = a.cfg.Server.Addr
			}
			srv := newStatusServer(a, addr)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			errCh := make(chan error, 1)
			go func() { errCh <- srv.Start() }()

			select {
			case err := <-errCh:
				if err != nil && !errors.Is(err, http.ErrServerClosed) {
					return fmt.Errorf("status server: %w", err)
				}
				return nil
			case <-ctx.Done():
			}

			a.logger.Info("Shutting down status server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from server.addr)")
	return cmd
}

// newStatusServer wires a dashboard whose runs never notify.
func newStatusServer(a *app, addr string) *dashboard.Server {
	var history dashboard.RunHistory
	if a.journal.Enabled() {
		history = a.journal
	}
	return dashboard.NewServer(
		dashboard.Config{Addr: addr, AuthToken: a.cfg.Server.AuthToken, Today: a.cfg.Today},
		a.screener(false),
		a.monitor(false),
		history,
		a.logger,
	)
}

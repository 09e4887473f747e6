package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/vivacius/asistenciacampo/internal/attendance"
)

// AgentOptions holds flags for the agent command.
type AgentOptions struct {
	ClientOptions
	NoTracking bool
}

// NewAgentCommand creates the agent command.
func NewAgentCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &AgentOptions{ClientOptions: ClientOptions{RootOptions: rootOpts}}

	cmd := &cobra.Command{
		Use:   "agent",
		Short: "Run the background sync and tracking loops",
		Long: `Run the loops a field device keeps alive while the app is open:

  - connectivity probing against the gateway
  - queue draining on reconnect and on every sync interval
  - hourly location samples (disable with --no-tracking)

Example:
  asistencia agent --at 4.6097,-74.0817,10
  asistencia agent --no-tracking --verbose`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAgent(opts, cmd)
		},
	}

	addClientFlags(cmd, &opts.ClientOptions)
	cmd.Flags().StringVar(&opts.At, "at", "", "GPS fix reported to the tracker as lat,lon[,accuracy_m]")
	cmd.Flags().BoolVar(&opts.NoTracking, "no-tracking", false, "disable periodic location samples")
	return cmd
}

func runAgent(opts *AgentOptions, cmd *cobra.Command) error {
	ctx, cancel := context.WithCancel(commandContext(cmd))
	defer cancel()

	c, err := openClient(ctx, &opts.ClientOptions, cmd)
	if err != nil {
		return err
	}
	defer c.Close()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan) // Prevent signal handler leak

	go func() {
		select {
		case sig := <-sigChan:
			c.logger.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	g, gctx := errgroup.WithContext(ctx)
	if !opts.Offline {
		g.Go(func() error { return c.prober.Run(gctx) })
	}
	g.Go(func() error { return c.sched.Run(gctx) })
	if !opts.NoTracking {
		tracker := attendance.NewTracker(c.svc, c.clock, c.cfg.TrackingInterval, c.logger)
		g.Go(func() error { return tracker.Run(gctx) })
	}

	c.logger.Info("agent starting",
		"db", c.cfg.DBPath,
		"gateway", c.cfg.GatewayURL,
		"sync_interval", c.cfg.SyncInterval,
		"tracking", !opts.NoTracking,
	)
	fmt.Fprintln(cmd.OutOrStdout(), "Agent started. Press Ctrl-C to stop.")

	if err := g.Wait(); err != nil {
		return WrapExitError(ExitFailure, "agent error", err)
	}

	c.logger.Info("agent stopped gracefully")
	return nil
}

package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/vivacius/asistenciacampo/internal/attendance"
	"github.com/vivacius/asistenciacampo/internal/store"
)

// NewTodayCommand creates the today command.
func NewTodayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ClientOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "today",
		Short: "Show today's merged attendance",
		Long: `Show today's events for the signed-in user, newest first.

Confirmed events come from the gateway when it is reachable and from the
last saved snapshot otherwise; queued events are merged in.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runToday(opts, cmd)
		},
	}

	addClientFlags(cmd, opts)
	return cmd
}

func runToday(opts *ClientOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	ctx := commandContext(cmd)
	c, err := openClient(ctx, opts, cmd)
	if err != nil {
		return err
	}
	defer c.Close()

	sum, err := c.svc.Today(ctx)
	if err != nil {
		return formatter.Fail("", err)
	}
	if formatter.Format == "json" {
		return formatter.Success(sum)
	}

	w := formatter.Writer
	fmt.Fprintf(w, "%s  %s  (%s)\n", sum.UserID, sum.Date, sum.Source)
	if len(sum.Events) == 0 {
		fmt.Fprintln(w, "  no events")
	}
	for _, e := range sum.Events {
		line := fmt.Sprintf("  %s  %-5s  %-9s  zone %-7s", e.Timestamp.In(c.cfg.Location).Format("15:04:05"), e.Kind, e.State, e.ZoneStatus)
		if e.Inconsistent {
			line += "  ! " + e.Note
		}
		fmt.Fprintln(w, strings.TrimRight(line, " "))
	}
	for _, f := range sum.FollowUps {
		fmt.Fprintf(w, "  follow-up %d  session %s  %s\n", int(f.Slot), f.SessionID, f.State)
	}

	switch sum.State {
	case attendance.StateSessionOpen:
		fmt.Fprintf(w, "Session open since %s", sum.OpenSession.Timestamp.In(c.cfg.Location).Format("15:04"))
		if sum.FollowUpIn > 0 {
			fmt.Fprintf(w, ", follow-up 1 available in %s", attendance.FormatRemaining(sum.FollowUpIn))
		} else if !sum.CanExit {
			fmt.Fprint(w, ", follow-up 1 required before exit")
		}
		fmt.Fprintln(w)
	default:
		fmt.Fprintln(w, "No open session")
	}
	fmt.Fprintf(w, "Hours worked: %.2f (%.2f including the open session)\n", sum.HoursWorked, sum.HoursSoFar)
	fmt.Fprintf(w, "Pending sync: %d\n", sum.Pending)
	return nil
}

// NewPendingCommand creates the pending command.
func NewPendingCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ClientOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:           "pending",
		Short:         "Show the number of entities waiting for sync",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPending(opts, cmd)
		},
	}

	addClientFlags(cmd, opts)
	return cmd
}

// PendingResult is the output of the pending command.
type PendingResult struct {
	Total  int          `json:"total"`
	Counts store.Counts `json:"counts"`
}

func runPending(opts *ClientOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	ctx := commandContext(cmd)
	opts.Offline = true
	c, err := openClient(ctx, opts, cmd)
	if err != nil {
		return err
	}
	defer c.Close()

	counts, err := c.store.Counts(ctx)
	if err != nil {
		return formatter.Fail("", err)
	}
	res := PendingResult{Total: counts.Total(), Counts: counts}

	if formatter.Format == "json" {
		return formatter.Success(res)
	}
	fmt.Fprintf(formatter.Writer, "%d pending (%d attendance, %d follow-ups, %d locations)\n",
		res.Total, counts.Events, counts.FollowUps, counts.Locations)
	return nil
}

// NewSyncCommand creates the sync command.
func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ClientOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Push queued entities to the gateway now",
		Long: `Push every queued attendance event, follow-up and location sample to the
gateway, ignoring retry delays. Items that fail stay queued.

Exits with code 1 when any item failed or the gateway is unreachable.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(opts, cmd)
		},
	}

	addClientFlags(cmd, opts)
	return cmd
}

func runSync(opts *ClientOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	ctx := commandContext(cmd)
	c, err := openClient(ctx, opts, cmd)
	if err != nil {
		return err
	}
	defer c.Close()

	res, err := c.svc.RunSync(ctx)
	if err != nil {
		return formatter.Fail("", err)
	}

	switch {
	case res.Offline:
		_ = formatter.Error(ErrCodeSyncFailed, "gateway unreachable, nothing synced", nil)
		return NewExitError(ExitFailure, "gateway unreachable")
	case res.Failed > 0:
		_ = formatter.Error(ErrCodeSyncFailed, fmt.Sprintf("%d synced, %d failed", res.Synced, res.Failed), res.Errors)
		return NewExitError(ExitFailure, fmt.Sprintf("%d items failed to sync", res.Failed))
	}

	if formatter.Format == "json" {
		return formatter.Success(res)
	}
	fmt.Fprintf(formatter.Writer, "✓ %d synced, %d failed\n", res.Synced, res.Failed)
	return nil
}

package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/vivacius/asistenciacampo/internal/record"
)

// NewMarkCommand creates the mark command.
func NewMarkCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ClientOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "mark <entry|exit>",
		Short: "Record a clock-in or clock-out",
		Long: `Record an entry or exit for the signed-in user.

The photo is mandatory. The GPS fix is optional; without it the event is
recorded with no coordinate and an unknown zone. When the gateway is not
reachable the event is queued locally and synced later.

An exit is refused while the open session has no mandatory follow-up.

Example:
  asistencia mark entry --photo ./selfie.jpg --at 4.6097,-74.0817,8
  asistencia mark exit --photo ./selfie.jpg --offline`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMark(opts, args[0], cmd)
		},
	}

	addClientFlags(cmd, opts)
	addCaptureFlags(cmd, opts)
	return cmd
}

func runMark(opts *ClientOptions, kindArg string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	kind, err := record.ParseKind(kindArg)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid kind", err)
	}

	ctx := commandContext(cmd)
	c, err := openClient(ctx, opts, cmd)
	if err != nil {
		return err
	}
	defer c.Close()

	res, err := c.svc.SubmitAttendance(ctx, kind)
	if err != nil {
		return formatter.Fail(res.Error, err)
	}

	if formatter.Format == "json" {
		return formatter.Success(res)
	}
	w := formatter.Writer
	fmt.Fprintf(w, "✓ %s recorded at %s (%s)\n", kind, res.Event.Timestamp.In(c.cfg.Location).Format("15:04:05"), stateLabel(res.Queued))
	if res.Coordinates != nil {
		fmt.Fprintf(w, "  location: %.6f,%.6f ±%.0fm\n", res.Coordinates.Lat, res.Coordinates.Lon, res.Coordinates.AccuracyM)
	} else {
		fmt.Fprintln(w, "  location: unavailable")
	}
	fmt.Fprintf(w, "  zone: %s\n", zoneLabel(res.Zone, res.ZoneStatus))
	if res.Event.Inconsistent {
		fmt.Fprintf(w, "  ! %s\n", res.Event.Note)
	}
	if res.HoursWorked != nil {
		fmt.Fprintf(w, "  hours worked today: %.2f\n", *res.HoursWorked)
	}
	return nil
}

// NewFollowUpCommand creates the followup command.
func NewFollowUpCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ClientOptions{RootOptions: rootOpts}
	var session string

	cmd := &cobra.Command{
		Use:   "followup <1|2>",
		Short: "Capture follow-up evidence for the open session",
		Long: `Capture a follow-up photo for the session opened by the latest entry.

Follow-up 1 is mandatory and becomes available once the minimum dwell time
has passed since the entry. Follow-up 2 is optional and requires follow-up 1.

Example:
  asistencia followup 1 --photo ./field.jpg`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFollowUp(opts, args[0], session, cmd)
		},
	}

	addClientFlags(cmd, opts)
	cmd.Flags().StringVar(&opts.Photo, "photo", "", "path of the captured photo (JPEG or PNG)")
	cmd.Flags().StringVar(&session, "session", "", "entry id of the session (default: the open session)")
	return cmd
}

func runFollowUp(opts *ClientOptions, slotArg, session string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	n, err := strconv.Atoi(slotArg)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid follow-up number", err)
	}
	slot, err := record.ParseSlot(n)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid follow-up number", err)
	}

	ctx := commandContext(cmd)
	c, err := openClient(ctx, opts, cmd)
	if err != nil {
		return err
	}
	defer c.Close()

	res, err := c.svc.SubmitFollowUp(ctx, slot, session)
	if err != nil {
		return formatter.Fail(res.Error, err)
	}

	if formatter.Format == "json" {
		return formatter.Success(res)
	}
	fmt.Fprintf(formatter.Writer, "✓ follow-up %d recorded for session %s (%s)\n",
		int(res.FollowUp.Slot), res.FollowUp.SessionID, stateLabel(res.Queued))
	return nil
}

// NewLocateCommand creates the locate command.
func NewLocateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ClientOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "locate",
		Short: "Store a manual location sample",
		Long: `Store a location sample with origin "manual".

Example:
  asistencia locate --at 4.6097,-74.0817,12`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLocate(opts, cmd)
		},
	}

	addClientFlags(cmd, opts)
	cmd.Flags().StringVar(&opts.At, "at", "", "GPS fix as lat,lon[,accuracy_m]")
	_ = cmd.MarkFlagRequired("at")
	return cmd
}

func runLocate(opts *ClientOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	ctx := commandContext(cmd)
	c, err := openClient(ctx, opts, cmd)
	if err != nil {
		return err
	}
	defer c.Close()

	res, err := c.svc.CaptureLocation(ctx, record.OriginManual)
	if err != nil {
		return formatter.Fail(res.Error, err)
	}

	if formatter.Format == "json" {
		return formatter.Success(res)
	}
	fmt.Fprintf(formatter.Writer, "✓ location stored (%s), zone: %s\n",
		stateLabel(res.Queued), zoneLabel(res.Sample.Zone, res.Sample.ZoneStatus))
	return nil
}

func stateLabel(queued bool) string {
	if queued {
		return "queued for sync"
	}
	return "confirmed"
}

func zoneLabel(zone *record.Zone, status record.ZoneStatus) string {
	if zone != nil {
		return fmt.Sprintf("%s (%s)", zone.Name, zone.Code)
	}
	switch status {
	case record.ZoneOutside:
		return "outside every zone"
	default:
		return "unknown"
	}
}

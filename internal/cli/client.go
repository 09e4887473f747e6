package cli

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/vivacius/asistenciacampo/internal/attendance"
	"github.com/vivacius/asistenciacampo/internal/capture"
	"github.com/vivacius/asistenciacampo/internal/clock"
	"github.com/vivacius/asistenciacampo/internal/config"
	"github.com/vivacius/asistenciacampo/internal/gateway/httpclient"
	"github.com/vivacius/asistenciacampo/internal/netstate"
	"github.com/vivacius/asistenciacampo/internal/reconcile"
	"github.com/vivacius/asistenciacampo/internal/store"
	"github.com/vivacius/asistenciacampo/internal/syncer"
)

// probeTimeout bounds one reachability check of the gateway.
const probeTimeout = 5 * time.Second

// ClientOptions holds the flags shared by the field client commands.
// Empty values fall back to the ASISTENCIA_* environment.
type ClientOptions struct {
	*RootOptions
	Database   string
	GatewayURL string
	UserID     string
	Offline    bool
	Photo      string
	At         string

	// Clock overrides the wall clock (for testing).
	Clock clock.Clock
}

func addClientFlags(cmd *cobra.Command, opts *ClientOptions) {
	cmd.Flags().StringVar(&opts.Database, "db", "", "path to the local SQLite database (default $ASISTENCIA_DB)")
	cmd.Flags().StringVar(&opts.GatewayURL, "gateway", "", "gateway base URL (default $ASISTENCIA_GATEWAY_URL)")
	cmd.Flags().StringVar(&opts.UserID, "user", "", "signed-in user id (default $ASISTENCIA_USER_ID)")
	cmd.Flags().BoolVar(&opts.Offline, "offline", false, "do not contact the gateway")
}

func addCaptureFlags(cmd *cobra.Command, opts *ClientOptions) {
	cmd.Flags().StringVar(&opts.Photo, "photo", "", "path of the captured photo (JPEG or PNG)")
	cmd.Flags().StringVar(&opts.At, "at", "", "GPS fix as lat,lon[,accuracy_m]; omitted means no fix")
}

// fieldClient is the wired client core.
type fieldClient struct {
	cfg     *config.Client
	store   *store.Store
	gateway *httpclient.Client
	net     *netstate.Monitor
	prober  *netstate.Prober
	engine  *reconcile.Engine
	sched   *syncer.Scheduler
	svc     *attendance.Service
	clock   clock.Clock
	logger  *slog.Logger
}

func newLogger(verbose bool, w io.Writer) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// openClient loads configuration, opens the local store and wires the
// components. Unless --offline is set, the gateway is probed once so the
// connectivity state is known before the command runs.
func openClient(ctx context.Context, opts *ClientOptions, cmd *cobra.Command) (*fieldClient, error) {
	cfg, err := config.LoadClient()
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid configuration", err)
	}
	if opts.Database != "" {
		cfg.DBPath = opts.Database
	}
	if opts.GatewayURL != "" {
		cfg.GatewayURL = opts.GatewayURL
	}
	if opts.UserID != "" {
		cfg.UserID = opts.UserID
	}

	logger := newLogger(opts.Verbose, cmd.ErrOrStderr())
	clk := opts.Clock
	if clk == nil {
		clk = clock.System{}
	}

	logger.Debug("opening database", "path", cfg.DBPath)
	st, err := store.Open(ctx, cfg.DBPath, store.WithLogger(logger))
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}

	var camera capture.Camera = capture.FileCamera{Path: opts.Photo}
	var locator capture.Locator
	if opts.At != "" {
		coord, err := capture.ParseCoordinate(opts.At)
		if err != nil {
			st.Close()
			return nil, WrapExitError(ExitCommandError, "invalid --at", err)
		}
		locator = capture.StaticLocator{Coord: coord}
	}

	c := &fieldClient{
		cfg:     cfg,
		store:   st,
		gateway: httpclient.New(cfg.GatewayURL),
		net:     netstate.NewMonitor(false),
		clock:   clk,
		logger:  logger,
	}
	c.prober = netstate.NewProber(c.net, c.gateway.Ping, clk, cfg.ProbeInterval, probeTimeout, logger)
	c.engine = reconcile.New(st, c.gateway, c.net, clk, logger)
	c.sched = syncer.New(st, c.gateway, c.net, clk,
		syncer.WithInterval(cfg.SyncInterval),
		syncer.WithRecorder(c.engine),
		syncer.WithLogger(logger),
	)
	capturer := capture.New(camera, locator,
		capture.WithTimeout(cfg.CaptureTimeout),
		capture.WithMaxDimension(cfg.PhotoMaxDim),
		capture.WithLogger(logger),
	)
	c.svc = attendance.NewService(c.engine, c.sched, st, capturer, clk, attendance.StaticUser(cfg.UserID),
		attendance.WithLocation(cfg.Location),
		attendance.WithRules(attendance.Rules{MinDwell: cfg.MinDwell}),
		attendance.WithTrackingInterval(cfg.TrackingInterval),
		attendance.WithLogger(logger),
	)

	if !opts.Offline {
		c.prober.Probe(ctx)
	}
	newFormatter(opts.RootOptions, cmd).VerboseLog("gateway %s online=%v user=%q", cfg.GatewayURL, c.net.Online(), cfg.UserID)
	return c, nil
}

func (c *fieldClient) Close() {
	if err := c.store.Close(); err != nil {
		c.logger.Error("error closing database", "error", err)
	}
}

func newFormatter(opts *RootOptions, cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

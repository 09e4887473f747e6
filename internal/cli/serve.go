package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/httplog/v3"
	"github.com/spf13/cobra"

	"github.com/vivacius/asistenciacampo/internal/blobstore"
	"github.com/vivacius/asistenciacampo/internal/config"
	"github.com/vivacius/asistenciacampo/internal/gateway"
	"github.com/vivacius/asistenciacampo/internal/gateway/httpapi"
	"github.com/vivacius/asistenciacampo/internal/gateway/memory"
	"github.com/vivacius/asistenciacampo/internal/gateway/postgres"
	"github.com/vivacius/asistenciacampo/internal/geofence"
)

// shutdownTimeout bounds graceful HTTP shutdown.
const shutdownTimeout = 10 * time.Second

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Backend string
	Port    int
	Zones   string

	// Ready, if set, receives the bound address once the listener is open
	// (for testing).
	Ready chan<- string
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the remote data gateway over HTTP",
		Long: `Run the gateway the field clients sync against.

The postgres backend stores records in PostgreSQL and photos under
STORAGE_BASE_PATH. The memory backend keeps everything in process and is
meant for demos and local testing. Zones are seeded from a YAML file.

Example:
  asistencia serve --zones ./zones.yaml
  asistencia serve --backend memory --port 9090 --zones ./zones.yaml`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Backend, "backend", "", "gateway backend: postgres|memory (default $GATEWAY_BACKEND)")
	cmd.Flags().IntVar(&opts.Port, "port", 0, "listen port; -1 picks a free one (default $APP_PORT)")
	cmd.Flags().StringVar(&opts.Zones, "zones", "", "YAML file of zones to seed (default $ZONES_FILE)")
	return cmd
}

// newServerLogger returns an ECS JSON logger, concise outside production.
func newServerLogger(cfg *config.Server, verbose bool, w io.Writer) *slog.Logger {
	level, _ := config.ParseLevel(cfg.App.LogLevel)
	if verbose {
		level = slog.LevelDebug
	}
	logFormat := httplog.SchemaECS.Concise(cfg.App.Env != "production")
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: logFormat.ReplaceAttr,
	})).With(
		slog.String("app", "asistencia-gateway"),
		slog.String("env", cfg.App.Env),
	)
}

func runServe(opts *ServeOptions, cmd *cobra.Command) error {
	if opts.Backend != "" {
		os.Setenv("GATEWAY_BACKEND", opts.Backend)
	}
	cfg, err := config.LoadServer()
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid configuration", err)
	}
	if opts.Zones != "" {
		cfg.ZonesFile = opts.Zones
	}
	port := cfg.App.Port
	if opts.Port != 0 {
		port = opts.Port
	}

	logger := newServerLogger(cfg, opts.Verbose, cmd.ErrOrStderr())

	var zones []geofence.Zone
	if cfg.ZonesFile != "" {
		zones, err = geofence.LoadFile(cfg.ZonesFile)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to load zones", err)
		}
		logger.Info("zones loaded", "file", cfg.ZonesFile, "count", len(zones))
	}

	ctx, cancel := context.WithCancel(commandContext(cmd))
	defer cancel()

	gw, blobs, closeGateway, err := openGateway(ctx, cfg, zones, logger)
	if err != nil {
		return err
	}
	defer closeGateway()

	api := httpapi.NewServer(gw, httpapi.Options{
		Blobs:          blobs,
		AllowedOrigins: cfg.CORSOrigins,
		Logger:         logger,
	})

	addr := fmt.Sprintf(":%d", port)
	if port < 0 {
		addr = "127.0.0.1:0"
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to listen", err)
	}
	srv := &http.Server{
		Handler:           api.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan) // Prevent signal handler leak

	go func() {
		select {
		case sig := <-sigChan:
			logger.Info("received signal, shutting down", "signal", sig.String())
		case <-ctx.Done():
		}
		cancel()
		shutdownCtx, done := context.WithTimeout(context.Background(), shutdownTimeout)
		defer done()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown failed", "error", err)
		}
	}()

	logger.Info("gateway listening", "addr", ln.Addr().String(), "backend", cfg.Backend)
	fmt.Fprintf(cmd.OutOrStdout(), "Gateway running at http://%s\n", ln.Addr())
	if opts.Ready != nil {
		opts.Ready <- ln.Addr().String()
	}

	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return WrapExitError(ExitFailure, "server error", err)
	}
	logger.Info("gateway stopped gracefully")
	return nil
}

// openGateway builds the configured backend. The returned func releases it.
func openGateway(ctx context.Context, cfg *config.Server, zones []geofence.Zone, logger *slog.Logger) (gateway.Gateway, blobstore.Storage, func(), error) {
	switch cfg.Backend {
	case config.BackendMemory:
		return memory.New(zones...), nil, func() {}, nil

	case config.BackendPostgres:
		blobs, err := blobstore.NewLocal(cfg.Storage.BasePath, cfg.Storage.BaseURL)
		if err != nil {
			return nil, nil, nil, WrapExitError(ExitCommandError, "failed to initialize blob storage", err)
		}
		pool, err := postgres.Connect(ctx, cfg.DatabaseURL())
		if err != nil {
			return nil, nil, nil, WrapExitError(ExitCommandError, "failed to connect to database", err)
		}
		gw := postgres.New(pool, blobs, logger)
		if err := gw.Migrate(ctx); err != nil {
			pool.Close()
			return nil, nil, nil, WrapExitError(ExitCommandError, "failed to migrate database", err)
		}
		if len(zones) > 0 {
			if err := gw.SeedZones(ctx, zones); err != nil {
				pool.Close()
				return nil, nil, nil, WrapExitError(ExitCommandError, "failed to seed zones", err)
			}
		}
		return gw, blobs, pool.Close, nil

	default:
		return nil, nil, nil, NewExitError(ExitCommandError, fmt.Sprintf("unknown backend %q", cfg.Backend))
	}
}

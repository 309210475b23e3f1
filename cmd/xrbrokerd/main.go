package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"

	"github.com/xrbroker/xrbrokerd/internal/adminapi"
	"github.com/xrbroker/xrbrokerd/internal/broker/arbiter"
	"github.com/xrbroker/xrbrokerd/internal/broker/collab"
	"github.com/xrbroker/xrbrokerd/internal/broker/dispatch"
	"github.com/xrbroker/xrbrokerd/internal/broker/handlers"
	"github.com/xrbroker/xrbrokerd/internal/broker/mainloop"
	"github.com/xrbroker/xrbrokerd/internal/broker/noop"
	"github.com/xrbroker/xrbrokerd/internal/broker/session"
	"github.com/xrbroker/xrbrokerd/internal/logger"
	metricsprom "github.com/xrbroker/xrbrokerd/internal/metrics/prometheus"
	"github.com/xrbroker/xrbrokerd/internal/shm"
	"github.com/xrbroker/xrbrokerd/pkg/config"
)

// Build-time variables injected via ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

const shutdownTimeout = 5 * time.Second

var configPath string

func main() {
	root := &cobra.Command{
		Use:   "xrbrokerd",
		Short: "xrbrokerd is the session/resource broker daemon for XR clients",
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to config file (default: built-in defaults + XRBROKERD_* env)")

	root.AddCommand(newServeCmd())
	root.AddCommand(newVersionCmd())
	root.AddCommand(newCheckConfigCmd())
	root.AddCommand(newInitCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Printf("xrbrokerd %s (commit: %s, built: %s)\n", version, commit, date)
			return nil
		},
	}
}

func newCheckConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check-config",
		Short: "Load and validate configuration without starting the daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			fmt.Printf("config OK: socket=%s max_clients=%d log_level=%s metrics.enabled=%v admin_api.enabled=%v\n",
				cfg.SocketPath, cfg.MaxClients, cfg.LogLevel, cfg.Metrics.Enabled, cfg.AdminAPI.Enabled)
			return nil
		},
	}
}

func newInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init <path>",
		Short: "Write a starting config file with default values",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.Save(config.Defaults(), args[0]); err != nil {
				return err
			}
			fmt.Printf("wrote default config to %s\n", args[0])
			return nil
		},
	}
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the broker daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(ctx context.Context) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger.SetLevel(parseLevel(cfg.LogLevel))

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	brokerMetrics := metricsprom.New(reg)

	var shmBacking interface{ Fd() int }
	pb, err := shm.NewPosixBacking()
	if err != nil {
		logger.Warn(ctx, "shared-memory backing unavailable, instance_get_shm_fd will fail", "error", err)
	} else {
		shmBacking = pb
		defer pb.Close()
	}

	region := shm.NewRegion()

	broker := handlers.New(noop.SpaceOverseer{}, noop.SystemCompositor{}, region, brokerMetrics)
	broker.ShmBacking = shmBacking
	broker.Devices[0] = noop.NewDevice(0, "head")
	// No real compositor/device backend is wired into this tree (spec §1:
	// device drivers and compositor internals are out of scope). The
	// session lifecycle and wire protocol run end to end against the null
	// implementation in internal/broker/noop until a platform-specific
	// backend is substituted here.
	broker.NewCompositor = func(client *session.ClientState) collab.Compositor {
		return noop.NewCompositor()
	}

	ab := arbiter.New(broker, noop.SystemCompositor{})
	broker.Arbiter = ab

	d := dispatch.New(brokerMetrics)
	broker.RegisterHandlers(d)

	acceptor, activated, err := mainloop.ActivationListener()
	if err != nil {
		return fmt.Errorf("socket activation: %w", err)
	}
	if !activated {
		acceptor, err = mainloop.ListenUnix(cfg.SocketPath)
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
		logger.Info(ctx, "listening", "socket", cfg.SocketPath)
	} else {
		logger.Info(ctx, "listening on socket-activated fd")
	}

	server := mainloop.New(acceptor, d, broker)

	var httpSrv *http.Server
	if cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		httpSrv = &http.Server{Addr: cfg.Metrics.Addr, Handler: mux}
		go func() {
			logger.Info(ctx, "metrics server listening", "addr", cfg.Metrics.Addr)
			if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error(ctx, "metrics server failed", "error", err)
			}
		}()
	}

	var grpcSrv *grpc.Server
	if cfg.AdminAPI.Enabled {
		lis, err := net.Listen("tcp", cfg.AdminAPI.Addr)
		if err != nil {
			return fmt.Errorf("admin api listen: %w", err)
		}
		grpcSrv = grpc.NewServer()
		adminapi.Register(grpcSrv, &adminapi.Server{Broker: broker, Arbiter: ab})
		go func() {
			logger.Info(ctx, "admin api listening", "addr", cfg.AdminAPI.Addr)
			if err := grpcSrv.Serve(lis); err != nil {
				logger.Error(ctx, "admin api server failed", "error", err)
			}
		}()
	}

	runErr := server.Run(ctx)

	if httpSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		_ = httpSrv.Shutdown(shutdownCtx)
		cancel()
	}
	if grpcSrv != nil {
		grpcSrv.GracefulStop()
	}

	if runErr != nil && ctx.Err() == nil {
		return runErr
	}
	return nil
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

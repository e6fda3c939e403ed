package start

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime/pprof"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/alpacahq/seriesdb/frontend"
	"github.com/alpacahq/seriesdb/internal/di"
	"github.com/alpacahq/seriesdb/metrics"
	"github.com/alpacahq/seriesdb/utils"
	"github.com/alpacahq/seriesdb/utils/log"
)

const (
	usage                 = "start"
	short                 = "Start a seriesdb server"
	long                  = "This command starts a seriesdb server and copies the series catalogs of its peer"
	example               = "seriesdb start --config <path>"
	defaultConfigFilePath = "./seriesdb.yml"
	configDesc            = "set the path for the seriesdb YAML configuration file"
)

var (
	// Cmd is the start command.
	Cmd = &cobra.Command{
		Use:        usage,
		Short:      short,
		Long:       long,
		Aliases:    []string{"s"},
		SuggestFor: []string{"boot", "up"},
		Example:    example,
		RunE:       executeStart,
	}
	// configFilePath set flag for a path to the config file.
	configFilePath string
)

// nolint:gochecknoinits // cobra's standard way to initialize flags
func init() {
	Cmd.Flags().StringVarP(&configFilePath, "config", "c", defaultConfigFilePath, configDesc)
}

// executeStart implements the start command.
func executeStart(cmd *cobra.Command, _ []string) error {
	// Attempt to read config file.
	data, err := os.ReadFile(configFilePath)
	if err != nil {
		return fmt.Errorf("failed to read configuration file error: %w", err)
	}

	// Don't output command usage if args(=only the filepath to the config at the moment) are correct
	cmd.SilenceUsage = true

	log.Info("using %v for configuration", configFilePath)
	config, err := utils.ParseConfig(data)
	if err != nil {
		return fmt.Errorf("failed to parse configuration file error: %w", err)
	}
	log.SetLevel(config.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	go dumpStacksOnSignal(ctx)

	// Initialize seriesdb services.
	// --------------------------------
	log.Info("initializing seriesdb...")
	start := time.Now()

	c := di.NewContainer(config)
	defer c.Close()
	if err = c.OpenCatalogs(); err != nil {
		return fmt.Errorf("open catalogs: %w", err)
	}

	grpcLn, err := net.Listen("tcp", config.GRPCListenURL)
	if err != nil {
		return fmt.Errorf("failed to start GRPC server - error: %w", err)
	}

	startupTime := time.Since(start)
	metrics.StartupTime.Set(startupTime.Seconds())
	log.Info("startup time: %s", startupTime)

	// resolved here, the container getters are not safe for concurrent use
	svc := c.Services()
	g, gctx := errgroup.WithContext(ctx)

	for _, db := range config.Databases {
		dir := c.DatabaseDir(db.Name)
		gauge := metrics.DiskUsage.WithLabelValues(db.Name)
		g.Go(func() error {
			metrics.StartDiskUsageMonitor(gctx, gauge, dir, config.DiskUsageMonitorInterval)
			return nil
		})
	}

	g.Go(func() error {
		log.Info("launching gRPC admin and initial sync server on %s...", config.GRPCListenURL)
		return svc.GRPCServer.Serve(grpcLn)
	})

	g.Go(func() error {
		log.Info("launching utility service on %s...", config.ListenURL)
		if err := svc.HTTPServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("utility API server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		svc.Scheduler.Run(gctx)
		return nil
	})

	g.Go(func() error {
		startInitialSyncs(gctx, config, svc)
		return nil
	})

	log.Info("enabling query access...")
	frontend.Queryable.Store(true)
	svc.Health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	g.Go(func() error {
		<-gctx.Done()
		log.Info("initiating graceful shutdown...")
		frontend.Queryable.Store(false)
		svc.Health.Shutdown()
		svc.Manager.Close()
		// idle sessions stop on this tick; the rest keep their progress file for resume
		svc.Scheduler.TickAll()

		log.Info("waiting a grace period of %v to shutdown...", config.StopGracePeriod)
		time.Sleep(config.StopGracePeriod)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := svc.HTTPServer.Shutdown(shutdownCtx); err != nil {
			log.Error("failed to shutdown the utility API server: %v", err)
		}
		svc.GRPCServer.GracefulStop()
		log.Info("shutdown gRPC server...")
		return nil
	})

	if err = g.Wait(); err != nil {
		return err
	}
	log.Info("exiting...")
	return nil
}

// startInitialSyncs applies the on_startup policy once the peer answers.
func startInitialSyncs(ctx context.Context, cfg *utils.Config, svc di.Services) {
	policy := cfg.Replication.InitSync.OnStartup
	if cfg.Replication.PeerHost == "" || policy == utils.OnStartupOff {
		return
	}
	if svc.WaitForPeer != nil {
		log.Info("waiting for peer %s...", cfg.Replication.PeerHost)
		if err := svc.WaitForPeer.Run(ctx); err != nil {
			log.Error("peer %s is not available, initial syncs are not started: %v", cfg.Replication.PeerHost, err)
			return
		}
	}

	mgr := svc.Manager
	var err error
	switch policy {
	case utils.OnStartupFresh:
		err = mgr.StartAll(ctx)
	case utils.OnStartupAuto:
		err = mgr.ResumeInterrupted(ctx)
	}
	if err != nil {
		log.Error("failed to start initial syncs on startup: %v", err)
	}
	for _, db := range mgr.Databases() {
		log.Info("initial sync of %s: %s", db, mgr.Progress(db))
	}
}

func dumpStacksOnSignal(ctx context.Context) {
	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, syscall.SIGUSR1)
	defer signal.Stop(signalChan)
	for {
		select {
		case <-ctx.Done():
			return
		case <-signalChan:
			log.Info("dumping stack traces due to SIGUSR1 request")
			if err := pprof.Lookup("goroutine").WriteTo(os.Stdout, 1); err != nil {
				log.Error("failed to write goroutine pprof: %v", err)
			}
		}
	}
}

package cmd

import (
	"database/sql"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"k8s.io/klog/v2"
	"k8s.io/klog/v2/textlogger"

	"github.com/scoutflo/kubdev-orchestrator/internal/config"
	"github.com/scoutflo/kubdev-orchestrator/internal/telemetry"
	"github.com/scoutflo/kubdev-orchestrator/pkg/gateway"
	"github.com/scoutflo/kubdev-orchestrator/pkg/health"
	"github.com/scoutflo/kubdev-orchestrator/pkg/notify"
	"github.com/scoutflo/kubdev-orchestrator/pkg/orchestrator"
	"github.com/scoutflo/kubdev-orchestrator/pkg/reconciler"
	"github.com/scoutflo/kubdev-orchestrator/pkg/record"
	"github.com/scoutflo/kubdev-orchestrator/pkg/record/migrations"
	"github.com/scoutflo/kubdev-orchestrator/pkg/spec"
)

const healthPort = 8082

var rootCmd = &cobra.Command{
	Use:   "kubdev-orchestrator [options]",
	Short: "Environment Orchestrator for per-user Kubernetes dev environments",
	Long: `
Environment Orchestrator

Provisions, reconciles, and tears down per-user KubeDevEnvironment
custom resources. Construction and lifecycle wiring only: the request
surface that drives Create/Start/Stop/Restart/Delete lives outside this
binary, per the orchestrator's scope.

  # run with defaults (in-cluster config, local Postgres)
  kubdev-orchestrator

  # point at an out-of-cluster API server
  kubdev-orchestrator --cluster-api-address https://10.0.0.1:6443 --cluster-verify-tls=false

Health checks are available on port 8082.`,
	Run: func(cmd *cobra.Command, args []string) {
		run()
	},
}

func init() {
	config.BindFlags(rootCmd.Flags(), viper.GetViper())
}

// Execute runs the root command, panicking on an unrecoverable startup
// error, matching the teacher's own top-level error handling.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		panic(err)
	}
}

func run() {
	cfg := config.Load(viper.GetViper())
	initLogging(cfg.LogLevel)

	checker := health.NewHealthChecker()
	mux := http.NewServeMux()
	health.AttachHealthEndpoints(mux, checker)

	gw, err := gateway.New(gateway.Options{
		APIAddressOverride: cfg.ClusterAPIAddress,
		VerifyTLS:          cfg.ClusterVerifyTLS,
		PlatformDomain:     cfg.PlatformDomain,
	})
	if err != nil {
		panic(fmt.Errorf("building cluster gateway: %w", err))
	}

	sqlDB, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		panic(fmt.Errorf("opening record store database: %w", err))
	}
	applied, err := migrations.Apply(sqlDB)
	if err != nil {
		panic(err)
	}
	klog.V(0).Infof("applied %d record store migration(s)", applied)
	_ = sqlDB.Close()

	store, err := record.Open(cfg.DatabaseURL)
	if err != nil {
		panic(fmt.Errorf("opening record store: %w", err))
	}
	defer store.Close()

	notifier := notify.NewSlackPoster(cfg.NotificationWebhookURL)
	metrics := telemetry.New()
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))

	go func() {
		klog.V(0).Infof("health/metrics server listening on port %d", healthPort)
		if err := http.ListenAndServe(fmt.Sprintf(":%d", healthPort), mux); err != nil {
			klog.Errorf("health server stopped: %v", err)
		}
	}()

	recon := reconciler.New(gw, store, notifier, cfg.ReconcilerPollInterval, cfg.ReconcilerMaxWait, cfg.PlatformDomain, metrics.ReconcilerTicks, metrics.ReconcilerOutcome)

	orch := orchestrator.New(gw, store, notifier, nil, recon, orchestrator.Options{
		CRNamespace: cfg.CRNamespace,
		DefaultResources: spec.ResourceDefaults{
			CPU:     cfg.DefaultCPU,
			Memory:  cfg.DefaultMemory,
			Storage: cfg.DefaultStorage,
		},
		MaxPods:              cfg.MaxPods,
		EnvironmentTTL:       time.Duration(cfg.EnvironmentTimeoutHours) * time.Hour,
		PlatformDomain:       cfg.PlatformDomain,
		StreamPollInterval:   cfg.StreamPollInterval,
		StreamMaxWait:        cfg.StreamMaxWait,
		StreamHeartbeatEvery: cfg.StreamHeartbeatEvery,
	})
	orch.SetMetrics(metrics)
	_ = orch // constructed and held ready for the out-of-scope request surface to invoke

	checker.SetReady(true)
	klog.V(0).Infof("orchestrator ready: cr-namespace=%s max-pods=%d", cfg.CRNamespace, cfg.MaxPods)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	klog.V(0).Infof("received signal %v, shutting down", sig)
	checker.SetReady(false)
}

func initLogging(logLevel int) {
	if logLevel < 0 {
		logLevel = 2
	}

	loggerConfig := textlogger.NewConfig(
		textlogger.Output(os.Stderr),
		textlogger.Verbosity(logLevel),
	)
	logger := textlogger.NewLogger(loggerConfig)
	klog.SetLoggerWithOptions(logger)

	flagSet := flag.NewFlagSet("kubdev-orchestrator", flag.ContinueOnError)
	klog.InitFlags(flagSet)
	if err := flagSet.Parse([]string{"--v", strconv.Itoa(logLevel)}); err != nil {
		fmt.Fprintf(os.Stderr, "error parsing log level: %v\n", err)
	}

	klog.V(0).Infof("logging initialized with level %d", logLevel)
}

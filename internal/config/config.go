// Package config loads the orchestrator's runtime configuration from
// flags and environment variables.
package config

import (
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config holds every runtime knob listed in the external interfaces
// section of the orchestrator's specification.
type Config struct {
	LogLevel int

	CRNamespace string

	DefaultCPU     string
	DefaultMemory  string
	DefaultStorage string
	MaxPods        int

	EnvironmentTimeoutHours int

	ClusterAPIAddress string
	ClusterVerifyTLS  bool

	PlatformDomain string

	NotificationWebhookURL string

	ReconcilerPollInterval time.Duration
	ReconcilerMaxWait      time.Duration

	StreamPollInterval   time.Duration
	StreamMaxWait        time.Duration
	StreamHeartbeatEvery time.Duration

	DatabaseURL   string
	MigrationsDir string
}

// BindFlags registers the flags recognized by the root command and
// binds them into v so that environment variables take precedence
// only when a flag was left at its default.
func BindFlags(flags *pflag.FlagSet, v *viper.Viper) {
	flags.Int("log-level", 2, "klog verbosity (0-9)")
	flags.String("cr-namespace", "kubdev-users", "namespace where KubeDevEnvironment custom resources are created")
	flags.String("default-cpu", "500m", "default CPU resource-quota limit")
	flags.String("default-memory", "1Gi", "default memory resource-quota limit")
	flags.String("default-storage", "5Gi", "default storage resource-quota limit")
	flags.Int("max-pods", 5, "default pod-count ceiling on the namespace quota")
	flags.Int("environment-timeout-hours", 24, "hours after creation an environment's record expires")
	flags.String("cluster-api-address", "", "override for the cluster API address (empty uses in-cluster/kubeconfig resolution)")
	flags.Bool("cluster-verify-tls", true, "verify the cluster API server's TLS certificate")
	flags.String("platform-domain", "kubdev.example.com", "domain suffix used to construct ingress-derived access URLs")
	flags.String("notification-webhook-url", "", "outgoing webhook URL for lifecycle notifications")
	flags.Duration("reconciler-poll-interval", 30*time.Second, "Status Reconciler poll cadence")
	flags.Duration("reconciler-max-wait", 300*time.Second, "Status Reconciler total convergence budget")
	flags.Duration("stream-poll-interval", 2*time.Second, "Progress Stream inline poll cadence")
	flags.Duration("stream-max-wait", 90*time.Second, "Progress Stream inline wait budget")
	flags.Duration("stream-heartbeat-every", 10*time.Second, "Progress Stream heartbeat cadence")
	flags.String("database-url", "postgres://localhost:5432/kubdev?sslmode=disable", "Environment Record Store connection string")
	flags.String("migrations-dir", "pkg/record/migrations/sql", "source-tree directory of Record Store schema migrations; not read at runtime, since the migrations are embedded in the binary")

	_ = v.BindPFlags(flags)
}

// Load builds a Config from a viper instance already populated by
// BindFlags and, optionally, environment variables.
func Load(v *viper.Viper) *Config {
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	return &Config{
		LogLevel:                v.GetInt("log-level"),
		CRNamespace:             v.GetString("cr-namespace"),
		DefaultCPU:              v.GetString("default-cpu"),
		DefaultMemory:           v.GetString("default-memory"),
		DefaultStorage:          v.GetString("default-storage"),
		MaxPods:                 v.GetInt("max-pods"),
		EnvironmentTimeoutHours: v.GetInt("environment-timeout-hours"),
		ClusterAPIAddress:       v.GetString("cluster-api-address"),
		ClusterVerifyTLS:        v.GetBool("cluster-verify-tls"),
		PlatformDomain:          v.GetString("platform-domain"),
		NotificationWebhookURL:  v.GetString("notification-webhook-url"),
		ReconcilerPollInterval:  v.GetDuration("reconciler-poll-interval"),
		ReconcilerMaxWait:       v.GetDuration("reconciler-max-wait"),
		StreamPollInterval:      v.GetDuration("stream-poll-interval"),
		StreamMaxWait:           v.GetDuration("stream-max-wait"),
		StreamHeartbeatEvery:    v.GetDuration("stream-heartbeat-every"),
		DatabaseURL:             v.GetString("database-url"),
		MigrationsDir:           v.GetString("migrations-dir"),
	}
}

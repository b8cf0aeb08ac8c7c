package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"os"
	"time"

	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/quantfoundry/modelgate/internal/audit"
	"github.com/quantfoundry/modelgate/internal/canary"
	"github.com/quantfoundry/modelgate/internal/config"
	"github.com/quantfoundry/modelgate/internal/gates"
	"github.com/quantfoundry/modelgate/internal/marathon"
	"github.com/quantfoundry/modelgate/internal/pointer"
	"github.com/quantfoundry/modelgate/internal/release"
	"github.com/quantfoundry/modelgate/internal/version"
)

// Process exit codes. Scripts branch on these: 2 means the operation was
// refused or the decision came back NotReady, 1 means something broke.
const (
	exitOK          = 0
	exitOperational = 1
	exitRefused     = 2
)

var (
	operator string // attributed on the audit trail
	logLevel string

	// exitCode lets commands that succeeded mechanically still signal a
	// NotReady decision.
	exitCode = exitOK
)

var rootCmd = &cobra.Command{
	Use:   "modelgatectl",
	Short: "Operator CLI for the model release controller",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if level, err := logrus.ParseLevel(logLevel); err == nil {
			logrus.SetLevel(level)
		}
	},
}

func Execute() {
	rootCmd.SilenceUsage = true
	if err := rootCmd.Execute(); err != nil {
		os.Exit(exitCodeFor(err))
	}
	os.Exit(exitCode)
}

func init() {
	defaultOperator := os.Getenv("USER")
	if defaultOperator == "" {
		defaultOperator = "operator"
	}
	rootCmd.PersistentFlags().StringVar(&operator, "operator", defaultOperator, "operator name recorded on the audit trail")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log", "warning", "log level (debug, info, warning, error)")
}

func exitCodeFor(err error) int {
	if err == nil {
		return exitOK
	}
	var se *pointer.SwapError
	switch {
	case errors.As(err, &se):
		return exitOperational
	case errors.Is(err, version.ErrNotFound),
		errors.Is(err, version.ErrUnknownModelType),
		errors.Is(err, canary.ErrInvalidFraction),
		errors.Is(err, marathon.ErrInvalidDuration),
		errors.Is(err, marathon.ErrAlreadyRunning),
		errors.Is(err, marathon.ErrNotRunning),
		errors.Is(err, marathon.ErrRunSuperseded):
		return exitRefused
	}
	return exitOperational
}

// buildController wires the same stack the service runs, from the same
// environment, so CLI operations act on the live deployment root.
func buildController(ctx context.Context) (*release.Controller, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	policy, err := config.LoadPolicy(cfg.PolicyPath)
	if err != nil {
		return nil, nil, err
	}

	var cleanups []func()
	cleanup := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}

	versions := version.NewStore(cfg.VersionsDir(), policy)
	backups := pointer.NewBackupLog(cfg.BackupsDir())

	var store pointer.Store
	switch cfg.PointerBackend {
	case config.BackendPG:
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		cleanups = append(cleanups, func() { db.Close() })
		if err := db.Ping(); err != nil {
			cleanup()
			return nil, nil, err
		}
		pg := pointer.NewPGStore(db)
		if err := pg.EnsureSchema(ctx); err != nil {
			cleanup()
			return nil, nil, err
		}
		store = pg
	case config.BackendMemory:
		store = pointer.NewMemoryStore()
	default:
		store = pointer.NewFSStore(cfg.PointersDir(), cfg.VersionsDir())
	}
	manager := pointer.NewManager(store, versions, backups, policy.TypeNames())

	canaryCtl := canary.NewController(cfg.CanaryPath(), policy.CanaryFraction)

	var prober gates.HealthProber
	if cfg.HealthURL != "" {
		client, err := gates.NewHealthClient(gates.HealthClientConfig{
			URL:     cfg.HealthURL,
			Timeout: 5 * time.Second,
			Retries: 2,
		})
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		prober = client
	}
	var drift gates.DriftChecker
	if len(cfg.DriftCommand) > 0 {
		drift = gates.NewExecDriftChecker(cfg.DriftCommand)
	}
	evaluator := gates.NewEvaluator(
		gates.NewRegistryReader(cfg.RegistryPath),
		prober,
		drift,
		gates.NewShadowCounter(cfg.ShadowDir),
		policy.Gates,
	)

	monitor := marathon.NewMonitor(cfg.MarathonDir(), cfg.ReportsDir(), evaluator, canaryCtl)

	var producer audit.Producer
	if len(cfg.KafkaBrokers) > 0 {
		kp, err := audit.NewKafkaProducer(audit.KafkaProducerConfig{
			Brokers: cfg.KafkaBrokers,
			Topic:   cfg.KafkaTopic,
		})
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		cleanups = append(cleanups, func() { kp.Close() })
		producer = kp
	}
	var archiver audit.Archiver
	if cfg.ReportBucket != "" {
		s3a, err := audit.NewS3Archiver(ctx, cfg.ReportBucket, cfg.ReportPrefix)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		archiver = s3a
	}
	trail := audit.NewTrail(audit.NewFileLog(cfg.AuditDir()), producer, archiver, logrus.StandardLogger())

	return release.New(versions, manager, canaryCtl, monitor, evaluator, trail, policy), cleanup, nil
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

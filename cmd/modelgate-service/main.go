package main

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"

	"github.com/quantfoundry/modelgate/internal/audit"
	"github.com/quantfoundry/modelgate/internal/canary"
	"github.com/quantfoundry/modelgate/internal/config"
	"github.com/quantfoundry/modelgate/internal/gates"
	"github.com/quantfoundry/modelgate/internal/httpserver"
	"github.com/quantfoundry/modelgate/internal/marathon"
	"github.com/quantfoundry/modelgate/internal/pointer"
	"github.com/quantfoundry/modelgate/internal/release"
	"github.com/quantfoundry/modelgate/internal/version"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("config load: %v", err)
	}
	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		logrus.SetLevel(level)
	}

	policy, err := config.LoadPolicy(cfg.PolicyPath)
	if err != nil {
		logrus.Fatalf("release policy: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	versions := version.NewStore(cfg.VersionsDir(), policy)
	backups := pointer.NewBackupLog(cfg.BackupsDir())

	var store pointer.Store
	switch cfg.PointerBackend {
	case config.BackendPG:
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			logrus.Fatalf("db open: %v", err)
		}
		defer db.Close()
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(30 * time.Minute)
		if err := db.Ping(); err != nil {
			logrus.Fatalf("db ping: %v", err)
		}
		pg := pointer.NewPGStore(db)
		if err := pg.EnsureSchema(ctx); err != nil {
			logrus.Fatalf("db schema: %v", err)
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
			logrus.Fatalf("health client: %v", err)
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
			logrus.Fatalf("kafka producer: %v", err)
		}
		defer kp.Close()
		producer = kp
	}
	var archiver audit.Archiver
	if cfg.ReportBucket != "" {
		s3a, err := audit.NewS3Archiver(ctx, cfg.ReportBucket, cfg.ReportPrefix)
		if err != nil {
			logrus.Fatalf("s3 archiver: %v", err)
		}
		archiver = s3a
	}
	trail := audit.NewTrail(audit.NewFileLog(cfg.AuditDir()), producer, archiver, logrus.StandardLogger())

	ctrl := release.New(versions, manager, canaryCtl, monitor, evaluator, trail, policy)

	if cfg.Watcher {
		logrus.WithField("poll_sec", cfg.WatcherPollInterval).Info("starting marathon watcher")
		go release.RunWatcher(ctx, ctrl, release.WatcherConfig{
			PollInterval: time.Duration(cfg.WatcherPollInterval) * time.Second,
			Logger:       logrus.StandardLogger(),
		})
	}

	httpServer := &http.Server{
		Addr:    cfg.Addr,
		Handler: httpserver.New(ctrl).Router(),
	}
	go func() {
		logrus.WithFields(logrus.Fields{
			"addr":    cfg.Addr,
			"backend": cfg.PointerBackend,
		}).Info("modelgate service listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.Fatalf("http server error: %v", err)
		}
	}()

	waitForShutdown(cancel, httpServer)
}

func waitForShutdown(cancel context.CancelFunc, srv *http.Server) {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	cancel()
	ctx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(ctx); err != nil {
		logrus.Warnf("graceful shutdown failed: %v", err)
	}
}

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// PointerBackend selects how deployment pointers are persisted.
const (
	BackendFS     = "fs"
	BackendPG     = "pg"
	BackendMemory = "memory"
)

type Config struct {
	Addr       string
	DeployRoot string

	// Collaborator endpoints consumed by the gate evaluator.
	RegistryPath string
	ShadowDir    string
	HealthURL    string
	DriftCommand []string

	// Release policy document (YAML); empty means compiled-in defaults.
	PolicyPath string

	PointerBackend string
	DatabaseURL    string

	KafkaBrokers []string
	KafkaTopic   string

	ReportBucket string
	ReportPrefix string

	Watcher             bool
	WatcherPollInterval int // seconds

	LogLevel string
}

const (
	defaultAddr       = ":8070"
	defaultDeployRoot = "deploy"
	defaultKafkaTopic = "model-release-events"
	defaultPollSec    = 60
)

func Load() (Config, error) {
	cfg := Config{
		Addr:                getEnv("MODELGATE_ADDR", defaultAddr),
		DeployRoot:          getEnv("MODELGATE_DEPLOY_ROOT", defaultDeployRoot),
		RegistryPath:        os.Getenv("MODELGATE_REGISTRY_PATH"),
		ShadowDir:           os.Getenv("MODELGATE_SHADOW_DIR"),
		HealthURL:           os.Getenv("MODELGATE_HEALTH_URL"),
		DriftCommand:        strings.Fields(os.Getenv("MODELGATE_DRIFT_CMD")),
		PolicyPath:          os.Getenv("MODELGATE_POLICY_FILE"),
		PointerBackend:      getEnv("MODELGATE_POINTER_BACKEND", BackendFS),
		DatabaseURL:         firstNonEmpty(os.Getenv("MODELGATE_DATABASE_URL"), os.Getenv("DATABASE_URL")),
		KafkaBrokers:        parseCSV(os.Getenv("MODELGATE_KAFKA_BROKERS")),
		KafkaTopic:          getEnv("MODELGATE_KAFKA_TOPIC", defaultKafkaTopic),
		ReportBucket:        os.Getenv("MODELGATE_REPORT_BUCKET"),
		ReportPrefix:        os.Getenv("MODELGATE_REPORT_PREFIX"),
		Watcher:             getBool("MODELGATE_WATCHER", false),
		WatcherPollInterval: getInt("MODELGATE_WATCHER_POLL_SEC", defaultPollSec),
		LogLevel:            getEnv("MODELGATE_LOG_LEVEL", "info"),
	}
	if cfg.RegistryPath == "" {
		cfg.RegistryPath = filepath.Join(cfg.DeployRoot, "registry.json")
	}
	if cfg.ShadowDir == "" {
		cfg.ShadowDir = filepath.Join(cfg.DeployRoot, "shadow")
	}
	switch cfg.PointerBackend {
	case BackendFS, BackendMemory:
	case BackendPG:
		if cfg.DatabaseURL == "" {
			return Config{}, fmt.Errorf("DATABASE_URL or MODELGATE_DATABASE_URL required for pg pointer backend")
		}
	default:
		return Config{}, fmt.Errorf("unknown pointer backend %q", cfg.PointerBackend)
	}
	return cfg, nil
}

// Deployment-root layout. Versions are written by the training
// collaborator; everything else is owned by this service.

func (c Config) VersionsDir() string { return filepath.Join(c.DeployRoot, "versions") }
func (c Config) PointersDir() string { return filepath.Join(c.DeployRoot, "current") }
func (c Config) BackupsDir() string  { return filepath.Join(c.DeployRoot, "backups") }
func (c Config) MarathonDir() string { return filepath.Join(c.DeployRoot, "marathon") }
func (c Config) ReportsDir() string  { return filepath.Join(c.DeployRoot, "reports") }
func (c Config) AuditDir() string    { return filepath.Join(c.DeployRoot, "audit") }
func (c Config) CanaryPath() string  { return filepath.Join(c.DeployRoot, "canary_policy.json") }

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func getInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func parseCSV(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Package config loads node configuration from environment variables and
// the command line, following the teacher's env-first pattern with a small
// set of flags layered on top for the launch contract in spec §6.3.
package config

import (
	"os"
	"strconv"

	flag "github.com/spf13/pflag"
)

// Config is the fully resolved configuration for one node process.
type Config struct {
	Port      int
	BaseURL   string
	Version   string
	Database  DatabaseConfig
	Telemetry TelemetryConfig
	Skills    SkillsConfig
	LLM       LLMConfig
}

// DatabaseConfig controls the store backend. Every node defaults to an
// embedded SQLite file named by its own port (spec §6.4); setting URL opts
// a node into the shared Postgres backend instead, useful when the
// registry itself needs to be shared across nodes on different hosts
// rather than a shared local file.
type DatabaseConfig struct {
	// URL, if set, is a postgres:// DSN and switches the store backend
	// from SQLite to Postgres via pgx.
	URL            string
	MaxConnections int
	SQLitePath     string
}

type TelemetryConfig struct {
	Enabled      bool
	OTLPEndpoint string
	ServiceName  string
	Insecure     bool
	SampleRatio  float64

	// NodePort and Version are stamped from Config after flags are parsed
	// so every span this node emits carries its own port and build
	// version as resource attributes.
	NodePort int
	Version  string
}

// SkillsConfig points at the skill directory the Skill Manager scans for
// SKILL.md front-matter (spec §4.7).
type SkillsConfig struct {
	Dir string
}

// LLMConfig configures the genai-backed model client (internal/llm).
type LLMConfig struct {
	APIKey          string
	Model           string
	BackupModel     string
	MaxTurns        int
	CompactionModel string
}

const (
	DefaultPort            = 8000
	DefaultMaxTurns        = 10
	DefaultModel           = "gemini-2.0-flash"
	DefaultCompactionModel = "gemini-2.0-flash"
	DefaultSkillsDir       = "./.swarm/skills"
	DefaultServiceName     = "swarmnode"
)

// Load resolves configuration from the environment, then applies flag
// overrides parsed from args (typically os.Args[1:]). The only flag the
// launch contract requires is --port; the rest exist for local testing and
// swarmctl's multi-node launcher.
func Load(args []string) (Config, error) {
	cfg := Config{
		Port:    envInt("SWARMNODE_PORT", DefaultPort),
		Version: envStr("SWARMNODE_VERSION", "0.1.0"),
		Database: DatabaseConfig{
			URL:            envStr("DATABASE_URL", ""),
			MaxConnections: envInt("DATABASE_MAX_CONNECTIONS", 10),
			SQLitePath:     envStr("SWARMNODE_SQLITE_PATH", ""),
		},
		Telemetry: TelemetryConfig{
			Enabled:      envBool("OTEL_ENABLED", false),
			OTLPEndpoint: envStr("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
			ServiceName:  envStr("OTEL_SERVICE_NAME", DefaultServiceName),
			Insecure:     envBool("OTEL_INSECURE", true),
			SampleRatio:  envFloat("OTEL_SAMPLE_RATIO", 1.0),
		},
		Skills: SkillsConfig{
			Dir: envStr("SWARMNODE_SKILLS_DIR", DefaultSkillsDir),
		},
		LLM: LLMConfig{
			APIKey:          envStr("GEMINI_API_KEY", ""),
			Model:           envStr("SWARMNODE_MODEL", DefaultModel),
			BackupModel:     envStr("SWARMNODE_BACKUP_MODEL", ""),
			MaxTurns:        envInt("SWARMNODE_MAX_TURNS", DefaultMaxTurns),
			CompactionModel: envStr("SWARMNODE_COMPACTION_MODEL", DefaultCompactionModel),
		},
	}

	fs := flag.NewFlagSet("swarmnode", flag.ContinueOnError)
	port := fs.Int("port", cfg.Port, "HTTP port this node listens on")
	baseURL := fs.String("base-url", "", "advertised base URL for this node (defaults to http://localhost:<port>)")
	skillsDir := fs.String("skills-dir", cfg.Skills.Dir, "directory scanned for SKILL.md files")
	dbURL := fs.String("database-url", cfg.Database.URL, "postgres DSN; empty selects the embedded SQLite backend")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	cfg.Port = *port
	cfg.Skills.Dir = *skillsDir
	cfg.Database.URL = *dbURL
	if *baseURL != "" {
		cfg.BaseURL = *baseURL
	} else {
		cfg.BaseURL = "http://localhost:" + strconv.Itoa(cfg.Port)
	}
	if cfg.Database.SQLitePath == "" {
		cfg.Database.SQLitePath = "swarmnode_" + strconv.Itoa(cfg.Port) + ".db"
	}
	cfg.Telemetry.NodePort = cfg.Port
	cfg.Telemetry.Version = cfg.Version

	return cfg, nil
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

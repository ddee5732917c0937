// Package profile carries the process-level configuration resolved from
// flags and environment before any component starts.
package profile

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Profile is configuration to start the service.
type Profile struct {
	// Mode is demo, dev, or prod.
	Mode string
	// Data is the directory holding the database and usage logs.
	Data string
	// DSN is the database path; derived from Data when empty.
	DSN string
	// Driver is the database driver; sqlite is the only supported one.
	Driver string
	// Version is the service version at startup.
	Version string

	// OpenAIAPIKey is the default provider key; accounts may override it.
	OpenAIAPIKey string
	// OpenAIBaseURL overrides the provider endpoint (optional).
	OpenAIBaseURL string
	// OpenAITimeout is the per-request timeout in seconds.
	OpenAITimeout int

	// UsageLogPath is the TSV usage log location; derived from Data when empty.
	UsageLogPath string
	// AuditLogPath is the JSON-line audit log location; derived from Data when empty.
	AuditLogPath string
}

func (p *Profile) IsDev() bool {
	return p.Mode != "prod"
}

// getEnvOrDefault returns environment variable value or default value.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvOrDefaultInt returns environment variable value as int or default value.
func getEnvOrDefaultInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// FromEnv loads configuration from environment variables.
func (p *Profile) FromEnv() {
	p.OpenAIAPIKey = getEnvOrDefault("TGPOST_OPENAI_API_KEY", "")
	p.OpenAIBaseURL = getEnvOrDefault("TGPOST_OPENAI_BASE_URL", "")
	p.OpenAITimeout = getEnvOrDefaultInt("TGPOST_OPENAI_TIMEOUT_SECONDS", 120)
	p.UsageLogPath = getEnvOrDefault("TGPOST_USAGE_LOG", "")
	p.AuditLogPath = getEnvOrDefault("TGPOST_AUDIT_LOG", "")
}

func checkDataDir(dataDir string) (string, error) {
	// Convert to absolute path if relative path is supplied.
	if !filepath.IsAbs(dataDir) {
		relativeDir := filepath.Join(filepath.Dir(os.Args[0]), dataDir)
		absDir, err := filepath.Abs(relativeDir)
		if err != nil {
			return "", err
		}
		dataDir = absDir
	}

	// Trim trailing \ or / in case user supplies
	dataDir = strings.TrimRight(dataDir, "\\/")
	if _, err := os.Stat(dataDir); err != nil {
		return "", errors.Wrapf(err, "unable to access data folder %s", dataDir)
	}
	return dataDir, nil
}

func (p *Profile) Validate() error {
	if p.Mode != "demo" && p.Mode != "dev" && p.Mode != "prod" {
		p.Mode = "demo"
	}
	if p.Driver == "" {
		p.Driver = "sqlite"
	}
	if p.Driver != "sqlite" {
		return errors.Errorf("unsupported driver %q", p.Driver)
	}

	if p.Mode == "prod" && p.Data == "" {
		p.Data = "/var/opt/tgpost"
	}
	if p.Data == "" {
		p.Data = "."
	}

	dataDir, err := checkDataDir(p.Data)
	if err != nil {
		slog.Error("failed to check data dir", slog.String("data", p.Data), slog.String("error", err.Error()))
		return err
	}
	p.Data = dataDir

	if p.DSN == "" {
		p.DSN = filepath.Join(dataDir, fmt.Sprintf("tgpost_%s.db", p.Mode))
	}
	if p.UsageLogPath == "" {
		p.UsageLogPath = filepath.Join(dataDir, "llm_usage.tsv")
	}
	if p.AuditLogPath == "" {
		p.AuditLogPath = filepath.Join(dataDir, "audit.jsonl")
	}
	return nil
}

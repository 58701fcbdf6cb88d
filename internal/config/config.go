// Package config loads ledgerd runtime options from INI files with
// environment variable overrides. config/setting.ini selects the active
// environment; config/<env>/ledger.ini carries that environment's values.
package config

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	settingsFile     = "config/setting.ini"
	defaultEnv       = "dev"
	envConfigPattern = "config/%s/ledger.ini"
)

// Settings contains global toggles such as the active environment.
type Settings struct {
	Environment string
	Defaults    map[string]string
}

// Config describes runtime options for ledgerd.
type Config struct {
	Environment string
	ListenAddr  string

	// Storage backend: bolt (default), sqlite, postgres or memory.
	StoreBackend string
	StorePath    string
	PostgresDSN  string

	LogFile  string
	LogLevel string

	// Deduction retry budget
	CommitAttempts     int
	CompensateAttempts int
	RetryBaseDelay     time.Duration

	// Per-user lock registry idle cache size
	LockCacheSize int

	// Optional YAML rate table overriding the built-in model prices
	PricingFile string
}

// Load reads the current environment and the matching ledger config file.
func Load(root string) (Config, error) {
	if root == "" {
		root = "."
	}
	s, err := loadSettings(root)
	if err != nil {
		return Config{}, err
	}

	envValues, err := parseINI(filepath.Join(root, fmt.Sprintf(envConfigPattern, s.Environment)))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			envValues = map[string]string{}
		} else {
			return Config{}, err
		}
	}

	merged := make(map[string]string)
	for k, v := range s.Defaults {
		merged[k] = v
	}
	for k, v := range envValues {
		merged[k] = v
	}

	cfg := Config{
		Environment:        s.Environment,
		ListenAddr:         firstNonEmpty(os.Getenv("TOKLEDGER_LISTEN_ADDR"), merged["listen_addr"], ":8091"),
		StoreBackend:       strings.ToLower(firstNonEmpty(os.Getenv("TOKLEDGER_STORE_BACKEND"), merged["store_backend"], "bolt")),
		StorePath:          firstNonEmpty(os.Getenv("TOKLEDGER_STORE_PATH"), merged["store_path"], defaultStorePath()),
		PostgresDSN:        firstNonEmpty(os.Getenv("TOKLEDGER_POSTGRES_DSN"), merged["postgres_dsn"]),
		LogFile:            firstNonEmpty(os.Getenv("TOKLEDGER_LOG_FILE"), merged["log_file"]),
		LogLevel:           firstNonEmpty(merged["log_level"], "info"),
		CommitAttempts:     parseOptionalInt(firstNonEmpty(os.Getenv("TOKLEDGER_COMMIT_ATTEMPTS"), merged["commit_attempts"]), 3),
		CompensateAttempts: parseOptionalInt(firstNonEmpty(os.Getenv("TOKLEDGER_COMPENSATE_ATTEMPTS"), merged["compensate_attempts"]), 2),
		LockCacheSize:      parseOptionalInt(firstNonEmpty(os.Getenv("TOKLEDGER_LOCK_CACHE_SIZE"), merged["lock_cache_size"]), 4096),
		PricingFile:        firstNonEmpty(os.Getenv("TOKLEDGER_PRICING_FILE"), merged["pricing_file"]),
	}

	switch cfg.StoreBackend {
	case "bolt", "sqlite", "postgres", "memory":
	default:
		return Config{}, fmt.Errorf("invalid store_backend %q", cfg.StoreBackend)
	}
	if cfg.StoreBackend == "postgres" && cfg.PostgresDSN == "" {
		return Config{}, errors.New("store_backend postgres requires postgres_dsn")
	}

	cfg.RetryBaseDelay = 50 * time.Millisecond
	if v := firstNonEmpty(os.Getenv("TOKLEDGER_RETRY_BASE_DELAY"), merged["retry_base_delay"]); v != "" {
		dur, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid retry_base_delay %q: %w", v, err)
		}
		cfg.RetryBaseDelay = dur
	}

	return cfg, nil
}

func defaultStorePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "data/ledger.db"
	}
	return filepath.Join(home, ".tokligence", "ledger.db")
}

func loadSettings(root string) (Settings, error) {
	values, err := parseINI(filepath.Join(root, settingsFile))
	if errors.Is(err, os.ErrNotExist) {
		return Settings{Environment: defaultEnv, Defaults: map[string]string{}}, nil
	}
	if err != nil {
		return Settings{}, err
	}
	env := values["environment"]
	if env == "" {
		env = defaultEnv
	}
	defaults := make(map[string]string)
	for k, v := range values {
		if k == "environment" {
			continue
		}
		defaults[k] = v
	}
	return Settings{Environment: env, Defaults: defaults}, nil
}

func parseINI(path string) (map[string]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	values := make(map[string]string)
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, ";") {
			continue
		}
		if strings.HasPrefix(line, "[") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		val := strings.TrimSpace(parts[1])
		if key == "" {
			continue
		}
		values[strings.ToLower(key)] = val
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return values, nil
}

func parseOptionalInt(v string, fallback int) int {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	if parsed, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
		return parsed
	}
	return fallback
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

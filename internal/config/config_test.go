package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfigs(t *testing.T, setting, env string) string {
	t.Helper()
	tmp := t.TempDir()
	if err := os.MkdirAll(filepath.Join(tmp, "config", "dev"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if setting != "" {
		if err := os.WriteFile(filepath.Join(tmp, "config", "setting.ini"), []byte(setting), 0o644); err != nil {
			t.Fatalf("write setting: %v", err)
		}
	}
	if env != "" {
		if err := os.WriteFile(filepath.Join(tmp, "config", "dev", "ledger.ini"), []byte(env), 0o644); err != nil {
			t.Fatalf("write env config: %v", err)
		}
	}
	return tmp
}

func TestLoadMergesBaseAndEnv(t *testing.T) {
	setting := "environment=dev\nlog_level=debug\nlisten_addr=:7000\n"
	env := "listen_addr=:9000\nstore_backend=sqlite\nstore_path=/tmp/ledger.sqlite\ncommit_attempts=5\nretry_base_delay=25ms\n"
	tmp := writeConfigs(t, setting, env)

	cfg, err := Load(tmp)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Environment != "dev" {
		t.Fatalf("unexpected environment %s", cfg.Environment)
	}
	if cfg.ListenAddr != ":9000" {
		t.Fatalf("env config must win over base, got %s", cfg.ListenAddr)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("expected log level from base config, got %s", cfg.LogLevel)
	}
	if cfg.StoreBackend != "sqlite" || cfg.StorePath != "/tmp/ledger.sqlite" {
		t.Fatalf("unexpected storage config %s %s", cfg.StoreBackend, cfg.StorePath)
	}
	if cfg.CommitAttempts != 5 {
		t.Fatalf("unexpected commit attempts %d", cfg.CommitAttempts)
	}
	if cfg.RetryBaseDelay != 25*time.Millisecond {
		t.Fatalf("unexpected retry delay %s", cfg.RetryBaseDelay)
	}
}

func TestLoadDefaults(t *testing.T) {
	tmp := writeConfigs(t, "environment=dev\n", "")

	cfg, err := Load(tmp)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ListenAddr != ":8091" {
		t.Fatalf("unexpected default listen addr %s", cfg.ListenAddr)
	}
	if cfg.StoreBackend != "bolt" {
		t.Fatalf("unexpected default backend %s", cfg.StoreBackend)
	}
	if cfg.CommitAttempts != 3 || cfg.CompensateAttempts != 2 {
		t.Fatalf("unexpected retry defaults %d/%d", cfg.CommitAttempts, cfg.CompensateAttempts)
	}
	if cfg.RetryBaseDelay != 50*time.Millisecond {
		t.Fatalf("unexpected default retry delay %s", cfg.RetryBaseDelay)
	}
	if cfg.LockCacheSize != 4096 {
		t.Fatalf("unexpected default lock cache size %d", cfg.LockCacheSize)
	}
	if cfg.LogLevel != "info" {
		t.Fatalf("unexpected default log level %s", cfg.LogLevel)
	}
}

func TestLoadWithoutConfigFiles(t *testing.T) {
	cfg, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("Load must tolerate missing config files: %v", err)
	}
	if cfg.Environment != "dev" {
		t.Fatalf("expected dev fallback, got %s", cfg.Environment)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	tmp := writeConfigs(t, "environment=dev\n", "listen_addr=:9000\nstore_backend=bolt\n")

	os.Setenv("TOKLEDGER_LISTEN_ADDR", ":9999")
	os.Setenv("TOKLEDGER_STORE_BACKEND", "memory")
	t.Cleanup(func() {
		os.Unsetenv("TOKLEDGER_LISTEN_ADDR")
		os.Unsetenv("TOKLEDGER_STORE_BACKEND")
	})

	cfg, err := Load(tmp)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ListenAddr != ":9999" {
		t.Fatalf("env var must win, got %s", cfg.ListenAddr)
	}
	if cfg.StoreBackend != "memory" {
		t.Fatalf("env var must win, got %s", cfg.StoreBackend)
	}
}

func TestLoadInvalidBackend(t *testing.T) {
	tmp := writeConfigs(t, "environment=dev\n", "store_backend=etcd\n")
	if _, err := Load(tmp); err == nil {
		t.Fatalf("expected error for unknown backend")
	}
}

func TestLoadPostgresRequiresDSN(t *testing.T) {
	tmp := writeConfigs(t, "environment=dev\n", "store_backend=postgres\n")
	if _, err := Load(tmp); err == nil {
		t.Fatalf("expected error for postgres without dsn")
	}

	tmp = writeConfigs(t, "environment=dev\n", "store_backend=postgres\npostgres_dsn=postgres://localhost/ledger\n")
	cfg, err := Load(tmp)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.PostgresDSN != "postgres://localhost/ledger" {
		t.Fatalf("unexpected dsn %s", cfg.PostgresDSN)
	}
}

func TestLoadInvalidRetryDelay(t *testing.T) {
	tmp := writeConfigs(t, "environment=dev\n", "retry_base_delay=soon\n")
	if _, err := Load(tmp); err == nil {
		t.Fatalf("expected error for invalid duration")
	}
}

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// writeEnv writes app.env into a temp dir and blanks the environment keys
// the tests assert on, so the file values win.
func writeEnv(t *testing.T, body string) string {
	t.Helper()
	for _, k := range []string{"DATABASE_URL", "JWT_SECRET", "KAFKA_BROKERS", "REQUEST_TIMEOUT", "DB_MAX_CONNS", "SERVER_ADDRESS"} {
		t.Setenv(k, "")
	}
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "app.env"), []byte(body), 0o600); err != nil {
		t.Fatalf("write app.env: %v", err)
	}
	return dir
}

func TestLoadConfig_FileAndDefaults(t *testing.T) {
	dir := writeEnv(t, "DATABASE_URL=postgres://localhost/barter\nJWT_SECRET=file-secret\nKAFKA_BROKERS=k1:9092, k2:9092\nREQUEST_TIMEOUT=3s\n")

	cfg, err := LoadConfig(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.DatabaseURL != "postgres://localhost/barter" || cfg.JWTSecret != "file-secret" {
		t.Fatalf("unexpected required settings %+v", cfg)
	}
	if cfg.ServerAddress != ":8080" || cfg.MigrationURL != "file://migrations" || cfg.DBMaxConns != 10 {
		t.Fatalf("defaults not applied: %+v", cfg)
	}
	if cfg.RequestTimeout != 3*time.Second || cfg.ExpireAfter != 30*24*time.Hour {
		t.Fatalf("unexpected durations %v %v", cfg.RequestTimeout, cfg.ExpireAfter)
	}
	if b := cfg.Brokers(); len(b) != 2 || b[1] != "k2:9092" {
		t.Fatalf("unexpected brokers %v", b)
	}
	if o := cfg.NotifyOptions(); len(o.KafkaBrokers) != 2 || o.KafkaTopic != cfg.KafkaTopic {
		t.Fatalf("unexpected notify options %+v", o)
	}
}

func TestLoadConfig_EnvironmentOverridesFile(t *testing.T) {
	dir := writeEnv(t, "DATABASE_URL=postgres://file\nJWT_SECRET=file-secret\n")
	t.Setenv("JWT_SECRET", "env-secret")
	t.Setenv("DB_MAX_CONNS", "25")

	cfg, err := LoadConfig(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.JWTSecret != "env-secret" || cfg.DBMaxConns != 25 {
		t.Fatalf("env override not applied: %+v", cfg)
	}
}

func TestLoadConfig_MissingFileUsesEnvironment(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://env")
	t.Setenv("JWT_SECRET", "s")
	cfg, err := LoadConfig(t.TempDir())
	if err != nil || cfg.DatabaseURL != "postgres://env" {
		t.Fatalf("load: %+v err=%v", cfg, err)
	}
}

func TestLoadConfig_RequiredSettings(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("JWT_SECRET", "")
	_, err := LoadConfig(t.TempDir())
	if err == nil || !strings.Contains(err.Error(), "DATABASE_URL") || !strings.Contains(err.Error(), "JWT_SECRET") {
		t.Fatalf("expected both required settings reported, got %v", err)
	}
}

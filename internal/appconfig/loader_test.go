package appconfig

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const (
	testAccessSecret  = "access-secret-0123456789abcdef0123456789"
	testRefreshSecret = "refresh-secret-0123456789abcdef012345678"
)

func setSecrets(t *testing.T) {
	t.Helper()
	t.Setenv("RENTAUTH_AUTH_ACCESS_SECRET", testAccessSecret)
	t.Setenv("RENTAUTH_AUTH_REFRESH_SECRET", testRefreshSecret)
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	setSecrets(t)

	cfg, err := Load("", "")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.HTTPAddr != ":8080" {
		t.Fatalf("http_addr = %q", cfg.Server.HTTPAddr)
	}
	if cfg.Auth.AccessTTL != 15*time.Minute || cfg.Auth.RefreshTTL != 168*time.Hour {
		t.Fatalf("ttls = %v / %v", cfg.Auth.AccessTTL, cfg.Auth.RefreshTTL)
	}
	if cfg.DB.Driver != "sqlite" || !cfg.DB.AutoMigrate {
		t.Fatalf("db = %+v", cfg.DB)
	}

	engineCfg := cfg.EngineConfig()
	if err := engineCfg.Validate(); err != nil {
		t.Fatalf("engine config invalid: %v", err)
	}
	if string(engineCfg.JWT.AccessSecret) != testAccessSecret {
		t.Fatal("access secret not carried over")
	}
	if engineCfg.Lockout.Threshold != 5 || engineCfg.DefaultRole != "customer" {
		t.Fatalf("engine config = %+v", engineCfg.Lockout)
	}
	if engineCfg.Audit.DeliveryTimeout != 5*time.Second {
		t.Fatalf("audit delivery timeout = %v", engineCfg.Audit.DeliveryTimeout)
	}
}

func TestLoadRequiresSecrets(t *testing.T) {
	t.Setenv("RENTAUTH_AUTH_ACCESS_SECRET", "")
	t.Setenv("RENTAUTH_AUTH_REFRESH_SECRET", "")

	_, err := Load("", "")
	if err == nil {
		t.Fatal("expected validation error")
	}
	if !strings.Contains(err.Error(), "AccessSecret") {
		t.Fatalf("error does not name the field: %v", err)
	}
}

func TestLoadRejectsEqualSecrets(t *testing.T) {
	t.Setenv("RENTAUTH_AUTH_ACCESS_SECRET", testAccessSecret)
	t.Setenv("RENTAUTH_AUTH_REFRESH_SECRET", testAccessSecret)

	if _, err := Load("", ""); err == nil || !strings.Contains(err.Error(), "RefreshSecret") {
		t.Fatalf("err = %v, want RefreshSecret failure", err)
	}
}

func TestLoadYAMLThenEnv(t *testing.T) {
	setSecrets(t)
	path := writeFile(t, "config.yml", `
server:
  http_addr: ":9000"
auth:
  access_ttl: 5m
  registration_roles: [agent, fleet_manager]
  lockout_track_ip: true
redis:
  enable: true
  addr: "localhost:6379"
`)
	t.Setenv("RENTAUTH_SERVER_HTTP_ADDR", ":9100")

	cfg, err := Load(path, "")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.HTTPAddr != ":9100" {
		t.Fatalf("env did not win over yaml: %q", cfg.Server.HTTPAddr)
	}
	if cfg.Auth.AccessTTL != 5*time.Minute {
		t.Fatalf("access_ttl = %v", cfg.Auth.AccessTTL)
	}
	if got := cfg.Auth.RegistrationRoles; len(got) != 2 || got[1] != "fleet_manager" {
		t.Fatalf("registration_roles = %v", got)
	}
	if !cfg.EngineConfig().Lockout.TrackIP {
		t.Fatal("track ip not carried over")
	}
	if !cfg.Redis.Enable || cfg.Redis.Addr != "localhost:6379" {
		t.Fatalf("redis = %+v", cfg.Redis)
	}
}

func TestLoadRedisNeedsAddr(t *testing.T) {
	setSecrets(t)
	t.Setenv("RENTAUTH_REDIS_ENABLE", "true")

	if _, err := Load("", ""); err == nil || !strings.Contains(err.Error(), "Addr") {
		t.Fatalf("err = %v, want Addr failure", err)
	}
}

func TestLoadMissingConfigFile(t *testing.T) {
	setSecrets(t)
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yml"), ""); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestLoadDotEnv(t *testing.T) {
	t.Cleanup(func() {
		os.Unsetenv("RENTAUTH_AUTH_ACCESS_SECRET")
		os.Unsetenv("RENTAUTH_AUTH_REFRESH_SECRET")
		os.Unsetenv("RENTAUTH_LOG_LEVEL")
	})
	os.Unsetenv("RENTAUTH_AUTH_ACCESS_SECRET")
	os.Unsetenv("RENTAUTH_AUTH_REFRESH_SECRET")
	os.Unsetenv("RENTAUTH_LOG_LEVEL")

	path := writeFile(t, ".env", strings.Join([]string{
		"RENTAUTH_AUTH_ACCESS_SECRET=" + testAccessSecret,
		"RENTAUTH_AUTH_REFRESH_SECRET=" + testRefreshSecret,
		"RENTAUTH_LOG_LEVEL=debug",
	}, "\n"))

	cfg, err := Load("", path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Log.Level != "debug" {
		t.Fatalf("log level = %q", cfg.Log.Level)
	}
}

func TestLoadDotEnvIfPresentSkipsMissingFile(t *testing.T) {
	setSecrets(t)
	if _, err := LoadDotEnvIfPresent("", filepath.Join(t.TempDir(), ".env")); err != nil {
		t.Fatalf("LoadDotEnvIfPresent: %v", err)
	}
}

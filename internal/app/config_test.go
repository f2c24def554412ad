package app

import (
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
)

func envViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix("QUIZLMS")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	return v
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(viper.New())
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Addr != ":8080" || cfg.DB.Driver != "postgres" {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if cfg.DB.Pool.ConnMaxLifetime != 30*time.Minute {
		t.Fatalf("expected 30m lifetime, got %s", cfg.DB.Pool.ConnMaxLifetime)
	}
	if cfg.SessionCodeAttempts != 10 || !cfg.AutoPublishOnComplete || !cfg.NotifyOutbox {
		t.Fatalf("unexpected session defaults %+v", cfg)
	}
	if cfg.SweepInterval != 0 || len(cfg.CORSOrigins) != 0 {
		t.Fatalf("sweeper and cors should be off by default: %+v", cfg)
	}
}

func TestLoadConfigFromEnvironment(t *testing.T) {
	t.Setenv("QUIZLMS_DB_DRIVER", "SQLite")
	t.Setenv("QUIZLMS_DB_DSN", "file:quiz.db")
	t.Setenv("QUIZLMS_SWEEP_INTERVAL", "30s")
	t.Setenv("QUIZLMS_AUTO_PUBLISH_ON_COMPLETE", "false")
	t.Setenv("QUIZLMS_CORS_ORIGINS", "https://a.example, https://b.example")

	cfg, err := LoadConfig(envViper())
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.DB.Driver != "sqlite" || cfg.DB.DSN != "file:quiz.db" {
		t.Fatalf("db settings not read from env: %+v", cfg.DB)
	}
	if cfg.SweepInterval != 30*time.Second {
		t.Fatalf("expected 30s sweep interval, got %s", cfg.SweepInterval)
	}
	if cfg.AutoPublishOnComplete {
		t.Fatalf("expected auto publish disabled")
	}
	if len(cfg.CORSOrigins) != 2 || cfg.CORSOrigins[1] != "https://b.example" {
		t.Fatalf("unexpected cors origins %q", cfg.CORSOrigins)
	}
}

func TestLoadConfigRejectsInvalidValues(t *testing.T) {
	cases := map[string]map[string]any{
		"driver":   {"db-driver": "mysql"},
		"attempts": {"session-code-attempts": 0},
		"sweep":    {"sweep-interval": -time.Second},
	}
	for name, overrides := range cases {
		t.Run(name, func(t *testing.T) {
			v := viper.New()
			for k, val := range overrides {
				v.Set(k, val)
			}
			if _, err := LoadConfig(v); err == nil {
				t.Fatalf("expected error for %v", overrides)
			}
		})
	}
}

func TestValidateServe(t *testing.T) {
	cfg, err := LoadConfig(viper.New())
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if err := cfg.ValidateServe(); err == nil {
		t.Fatalf("expected missing jwt secret to fail")
	}
	cfg.JWTSecret = "s3cret"
	if err := cfg.ValidateServe(); err != nil {
		t.Fatalf("ValidateServe: %v", err)
	}
}

package config

import (
	"strings"
	"testing"
	"time"
)

func validLocal() Config {
	return Config{
		App:    AppConfig{Env: "local", Port: 8080},
		DB:     DBConfig{Host: "localhost", Port: 5432, User: "postgres", Password: "x", Name: "campaigns"},
		Redis:  RedisConfig{Host: "localhost", Port: 6379},
		Auth:   AuthConfig{JWTSecret: "secret"},
		Twilio: TwilioConfig{PublicBaseURL: "https://hooks.example/"},
	}
}

func TestValidate_ReportsMissingRequired(t *testing.T) {
	c := Config{}
	err := c.Validate()
	if err == nil {
		t.Fatalf("expected validation error")
	}
	for _, want := range []string{"APP_ENV", "DB_HOST", "REDIS_HOST", "JWT_SECRET", "PUBLIC_BASE_URL"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("expected %s in %q", want, err)
		}
	}
}

func TestValidate_ProductionRequiresSSLMode(t *testing.T) {
	c := validLocal()
	c.App.Env = "production"
	c.Auth.JWTIssuer, c.Auth.JWTAudience = "iss", "aud"
	c.Twilio.AccountSID, c.Twilio.AuthToken, c.Twilio.ValidateSignature = "AC1", "tok", true
	err := c.Validate()
	if err == nil || !strings.Contains(err.Error(), "DB_SSLMODE") {
		t.Fatalf("expected DB_SSLMODE error, got %v", err)
	}
}

func TestValidate_LocalDefaults(t *testing.T) {
	c := validLocal()
	if err := c.Validate(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if c.DB.SSLMode != "disable" {
		t.Fatalf("expected sslmode disable default, got %q", c.DB.SSLMode)
	}
	if c.Dialer.DedupeWindow != 10*time.Minute || c.Dialer.StaleThreshold != 15*time.Minute {
		t.Fatalf("unexpected dialer windows: %+v", c.Dialer)
	}
	if c.Dialer.EnqueueBatch != 100 || c.Dialer.MaxRetries != 3 {
		t.Fatalf("unexpected dialer sizes: %+v", c.Dialer)
	}
	if c.Twilio.PublicBaseURL != "https://hooks.example" {
		t.Fatalf("expected trailing slash trimmed, got %q", c.Twilio.PublicBaseURL)
	}
	if c.RedisKey("hangups") != "campaign:hangups" {
		t.Fatalf("unexpected redis key %q", c.RedisKey("hangups"))
	}
}

func TestValidate_ProductionKeepsSignatures(t *testing.T) {
	c := validLocal()
	c.App.Env = "production"
	c.DB.SSLMode = "require"
	c.Auth.JWTIssuer, c.Auth.JWTAudience = "iss", "aud"
	c.Twilio.AccountSID, c.Twilio.AuthToken = "AC1", "tok"
	err := c.Validate()
	if err == nil || !strings.Contains(err.Error(), "TWILIO_VALIDATE_SIGNATURE") {
		t.Fatalf("expected signature toggle rejected, got %v", err)
	}
}

func TestLoad_FromEnv(t *testing.T) {
	for k, v := range map[string]string{
		"APP_ENV":                "dev",
		"APP_PORT":               "9000",
		"DB_HOST":                "db",
		"DB_PORT":                "5432",
		"DB_USER":                "u",
		"DB_NAME":                "n",
		"REDIS_HOST":             "redis",
		"REDIS_PORT":             "6379",
		"JWT_SECRET":             "s",
		"PUBLIC_BASE_URL":        "https://hooks.example",
		"DIALER_DEDUPE_WINDOW":   "5m",
		"DIALER_WORKERS":         "8",
		"SCHEDULER_IVR_SPEC":     "off",
		"AUDIO_S3_PATH_STYLE":    "true",
		"DIALER_DETECT_MACHINES": "1",
	} {
		t.Setenv(k, v)
	}
	c, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.HTTPAddr() != ":9000" || c.RedisAddr() != "redis:6379" {
		t.Fatalf("unexpected addrs: %s %s", c.HTTPAddr(), c.RedisAddr())
	}
	if c.Dialer.DedupeWindow != 5*time.Minute || c.Dialer.Workers != 8 || !c.Dialer.DetectMachines {
		t.Fatalf("unexpected dialer config: %+v", c.Dialer)
	}
	if c.Scheduler.IVRSpec != "" || c.Scheduler.ActivationSpec != "@every 1m" {
		t.Fatalf("unexpected scheduler specs: %+v", c.Scheduler)
	}
	if !c.Audio.PathStyle || !c.Twilio.ValidateSignature || !c.Metrics.Enabled {
		t.Fatalf("unexpected toggles: %+v %+v %+v", c.Audio, c.Twilio, c.Metrics)
	}
}

func TestLoad_RejectsBadValues(t *testing.T) {
	t.Setenv("APP_PORT", "eighty")
	t.Setenv("DB_PORT", "5432")
	t.Setenv("REDIS_PORT", "6379")
	t.Setenv("DIALER_BACKOFF_MAX", "soon")
	_, err := Load()
	if err == nil {
		t.Fatalf("expected parse errors")
	}
	if !strings.Contains(err.Error(), "APP_PORT") || !strings.Contains(err.Error(), "DIALER_BACKOFF_MAX") {
		t.Fatalf("expected both errors reported, got %v", err)
	}
}

package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds everything the api and worker processes need.
// All values come from env (or an env-file loaded by the process runner).
// Components receive their section at construction; nothing below cmd/
// reads the environment.
type Config struct {
	App       AppConfig
	DB        DBConfig
	Redis     RedisConfig
	Auth      AuthConfig
	Twilio    TwilioConfig
	Dialer    DialerConfig
	Scheduler SchedulerConfig
	Audio     AudioConfig
	Metrics   MetricsConfig
}

type AppConfig struct {
	Env  string
	Port int
}

type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string

	// Accepts: disable, require, verify-ca, verify-full
	SSLMode string
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	// KeyPrefix namespaces every key this service writes.
	KeyPrefix string
}

type AuthConfig struct {
	JWTSecret       string
	JWTIssuer       string
	JWTAudience     string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
}

type TwilioConfig struct {
	AccountSID string
	AuthToken  string
	APIBaseURL string
	// PublicBaseURL is the externally reachable origin used for callbacks
	// and for signature validation.
	PublicBaseURL     string
	ValidateSignature bool
}

type DialerConfig struct {
	MaxRetries       int
	ProviderAttempts int
	BackoffInitial   time.Duration
	BackoffMax       time.Duration
	DedupeWindow     time.Duration
	StaleThreshold   time.Duration
	EnqueueBatch     int
	// WorkspaceConcurrency caps in-flight calls per workspace; 0 disables the cap.
	WorkspaceConcurrency int
	Workers              int
	DetectMachines       bool
	HangupMaxAttempts    int
}

// SchedulerConfig holds cron specs; an empty spec disables that job.
type SchedulerConfig struct {
	ActivationSpec string
	StaleSweepSpec string
	IVRSpec        string
	IVRBatch       int
}

type AudioConfig struct {
	Bucket    string
	Region    string
	Endpoint  string
	PathStyle bool
	URLTTL    time.Duration
	// PublicBaseURL serves recordings directly when no bucket is configured.
	PublicBaseURL string
}

type MetricsConfig struct {
	Enabled bool
	Path    string
}

func Load() (Config, error) {
	c := Config{}
	var parseErrs []error

	c.App.Env = strings.TrimSpace(os.Getenv("APP_ENV"))
	{
		n, err := mustInt("APP_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.App.Port = n
	}

	c.DB.Host = strings.TrimSpace(os.Getenv("DB_HOST"))
	{
		n, err := mustInt("DB_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.DB.Port = n
	}
	c.DB.User = strings.TrimSpace(os.Getenv("DB_USER"))
	c.DB.Password = os.Getenv("DB_PASSWORD")
	c.DB.Name = strings.TrimSpace(os.Getenv("DB_NAME"))
	c.DB.SSLMode = strings.TrimSpace(os.Getenv("DB_SSLMODE"))

	c.Redis.Host = strings.TrimSpace(os.Getenv("REDIS_HOST"))
	{
		n, err := mustInt("REDIS_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Redis.Port = n
	}
	c.Redis.Password = os.Getenv("REDIS_PASSWORD")
	c.Redis.KeyPrefix = strings.TrimSpace(os.Getenv("REDIS_KEY_PREFIX"))

	c.Auth.JWTSecret = os.Getenv("JWT_SECRET")
	c.Auth.JWTIssuer = strings.TrimSpace(os.Getenv("JWT_ISSUER"))
	c.Auth.JWTAudience = strings.TrimSpace(os.Getenv("JWT_AUDIENCE"))
	// Duration env vars are optional; defaults applied in Validate().
	c.Auth.AccessTokenTTL, parseErrs = optionalDuration(parseErrs, "JWT_ACCESS_TTL")
	c.Auth.RefreshTokenTTL, parseErrs = optionalDuration(parseErrs, "JWT_REFRESH_TTL")

	c.Twilio.AccountSID = strings.TrimSpace(os.Getenv("TWILIO_ACCOUNT_SID"))
	c.Twilio.AuthToken = os.Getenv("TWILIO_AUTH_TOKEN")
	c.Twilio.APIBaseURL = strings.TrimSpace(os.Getenv("TWILIO_API_BASE_URL"))
	c.Twilio.PublicBaseURL = strings.TrimSpace(os.Getenv("PUBLIC_BASE_URL"))
	c.Twilio.ValidateSignature, parseErrs = optionalBool(parseErrs, "TWILIO_VALIDATE_SIGNATURE", true)

	c.Dialer.MaxRetries, parseErrs = optionalInt(parseErrs, "DIALER_MAX_RETRIES")
	c.Dialer.ProviderAttempts, parseErrs = optionalInt(parseErrs, "DIALER_PROVIDER_ATTEMPTS")
	c.Dialer.BackoffInitial, parseErrs = optionalDuration(parseErrs, "DIALER_BACKOFF_INITIAL")
	c.Dialer.BackoffMax, parseErrs = optionalDuration(parseErrs, "DIALER_BACKOFF_MAX")
	c.Dialer.DedupeWindow, parseErrs = optionalDuration(parseErrs, "DIALER_DEDUPE_WINDOW")
	c.Dialer.StaleThreshold, parseErrs = optionalDuration(parseErrs, "DIALER_STALE_THRESHOLD")
	c.Dialer.EnqueueBatch, parseErrs = optionalInt(parseErrs, "DIALER_ENQUEUE_BATCH")
	c.Dialer.WorkspaceConcurrency, parseErrs = optionalInt(parseErrs, "DIALER_WORKSPACE_CONCURRENCY")
	c.Dialer.Workers, parseErrs = optionalInt(parseErrs, "DIALER_WORKERS")
	c.Dialer.DetectMachines, parseErrs = optionalBool(parseErrs, "DIALER_DETECT_MACHINES", false)
	c.Dialer.HangupMaxAttempts, parseErrs = optionalInt(parseErrs, "HANGUP_MAX_ATTEMPTS")

	c.Scheduler.ActivationSpec = cronSpec("SCHEDULER_ACTIVATION_SPEC", "@every 1m")
	c.Scheduler.StaleSweepSpec = cronSpec("SCHEDULER_STALE_SWEEP_SPEC", "@every 1m")
	c.Scheduler.IVRSpec = cronSpec("SCHEDULER_IVR_SPEC", "*/15 * * * * *")
	c.Scheduler.IVRBatch, parseErrs = optionalInt(parseErrs, "SCHEDULER_IVR_BATCH")

	c.Audio.Bucket = strings.TrimSpace(os.Getenv("AUDIO_S3_BUCKET"))
	c.Audio.Region = strings.TrimSpace(os.Getenv("AUDIO_S3_REGION"))
	c.Audio.Endpoint = strings.TrimSpace(os.Getenv("AUDIO_S3_ENDPOINT"))
	c.Audio.PathStyle, parseErrs = optionalBool(parseErrs, "AUDIO_S3_PATH_STYLE", false)
	c.Audio.URLTTL, parseErrs = optionalDuration(parseErrs, "AUDIO_URL_TTL")
	c.Audio.PublicBaseURL = strings.TrimSpace(os.Getenv("AUDIO_PUBLIC_BASE_URL"))

	c.Metrics.Enabled, parseErrs = optionalBool(parseErrs, "METRICS_ENABLED", true)
	c.Metrics.Path = envOr("METRICS_PATH", "/metrics")

	if err := joinErrors(parseErrs); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate reports every problem at once and fills defaults for optional values.
func (c *Config) Validate() error {
	var errs []error

	if c.App.Env == "" {
		errs = append(errs, errors.New("APP_ENV is required"))
	} else if !isValidEnv(c.App.Env) {
		errs = append(errs, fmt.Errorf("APP_ENV must be one of local, dev, staging, production, got %q", c.App.Env))
	}
	if c.App.Port <= 0 || c.App.Port > 65535 {
		errs = append(errs, fmt.Errorf("APP_PORT must be a valid port, got %d", c.App.Port))
	}

	if c.DB.Host == "" {
		errs = append(errs, errors.New("DB_HOST is required"))
	}
	if c.DB.Port <= 0 || c.DB.Port > 65535 {
		errs = append(errs, fmt.Errorf("DB_PORT must be a valid port, got %d", c.DB.Port))
	}
	if c.DB.User == "" {
		errs = append(errs, errors.New("DB_USER is required"))
	}
	if c.DB.Name == "" {
		errs = append(errs, errors.New("DB_NAME is required"))
	}
	if c.DB.SSLMode == "" {
		if c.IsProduction() {
			errs = append(errs, errors.New("DB_SSLMODE is required in production"))
		} else {
			c.DB.SSLMode = "disable"
		}
	}
	if c.DB.SSLMode != "" && !isValidSSLMode(c.DB.SSLMode) {
		errs = append(errs, fmt.Errorf("DB_SSLMODE must be one of disable, require, verify-ca, verify-full, got %q", c.DB.SSLMode))
	}

	if c.Redis.Host == "" {
		errs = append(errs, errors.New("REDIS_HOST is required"))
	}
	if c.Redis.Port <= 0 || c.Redis.Port > 65535 {
		errs = append(errs, fmt.Errorf("REDIS_PORT must be a valid port, got %d", c.Redis.Port))
	}
	if c.Redis.KeyPrefix == "" {
		c.Redis.KeyPrefix = "campaign"
	}

	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.IsProduction() {
		if c.Auth.JWTIssuer == "" {
			errs = append(errs, errors.New("JWT_ISSUER is required in production"))
		}
		if c.Auth.JWTAudience == "" {
			errs = append(errs, errors.New("JWT_AUDIENCE is required in production"))
		}
	}
	if c.Auth.AccessTokenTTL <= 0 {
		c.Auth.AccessTokenTTL = 15 * time.Minute
	}
	if c.Auth.RefreshTokenTTL <= 0 {
		c.Auth.RefreshTokenTTL = 30 * 24 * time.Hour
	}
	if c.Auth.RefreshTokenTTL <= c.Auth.AccessTokenTTL {
		errs = append(errs, errors.New("JWT_REFRESH_TTL must be greater than JWT_ACCESS_TTL"))
	}

	if c.Twilio.PublicBaseURL == "" {
		errs = append(errs, errors.New("PUBLIC_BASE_URL is required"))
	} else if !strings.HasPrefix(c.Twilio.PublicBaseURL, "http://") && !strings.HasPrefix(c.Twilio.PublicBaseURL, "https://") {
		errs = append(errs, fmt.Errorf("PUBLIC_BASE_URL must be an absolute http(s) URL, got %q", c.Twilio.PublicBaseURL))
	}
	c.Twilio.PublicBaseURL = strings.TrimRight(c.Twilio.PublicBaseURL, "/")
	if c.Twilio.AccountSID == "" && c.IsProduction() {
		errs = append(errs, errors.New("TWILIO_ACCOUNT_SID is required in production"))
	}
	if c.Twilio.AccountSID != "" && c.Twilio.AuthToken == "" {
		errs = append(errs, errors.New("TWILIO_AUTH_TOKEN is required when TWILIO_ACCOUNT_SID is set"))
	}
	if c.IsProduction() && !c.Twilio.ValidateSignature {
		errs = append(errs, errors.New("TWILIO_VALIDATE_SIGNATURE cannot be disabled in production"))
	}

	d := &c.Dialer
	if d.MaxRetries <= 0 {
		d.MaxRetries = 3
	}
	if d.ProviderAttempts <= 0 {
		d.ProviderAttempts = 3
	}
	if d.BackoffInitial <= 0 {
		d.BackoffInitial = 200 * time.Millisecond
	}
	if d.BackoffMax <= 0 {
		d.BackoffMax = 5 * time.Second
	}
	if d.BackoffMax < d.BackoffInitial {
		errs = append(errs, errors.New("DIALER_BACKOFF_MAX must not be less than DIALER_BACKOFF_INITIAL"))
	}
	if d.DedupeWindow <= 0 {
		d.DedupeWindow = 10 * time.Minute
	}
	if d.StaleThreshold <= 0 {
		d.StaleThreshold = 15 * time.Minute
	}
	if d.EnqueueBatch <= 0 {
		d.EnqueueBatch = 100
	}
	if d.WorkspaceConcurrency < 0 {
		errs = append(errs, fmt.Errorf("DIALER_WORKSPACE_CONCURRENCY must not be negative, got %d", d.WorkspaceConcurrency))
	}
	if d.Workers <= 0 {
		d.Workers = 4
	}
	if d.HangupMaxAttempts <= 0 {
		d.HangupMaxAttempts = 5
	}

	if c.Scheduler.IVRBatch <= 0 {
		c.Scheduler.IVRBatch = 10
	}

	if c.Audio.URLTTL <= 0 {
		c.Audio.URLTTL = 15 * time.Minute
	}
	if c.Audio.Bucket != "" && c.Audio.Region == "" {
		errs = append(errs, errors.New("AUDIO_S3_REGION is required when AUDIO_S3_BUCKET is set"))
	}

	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	} else if !strings.HasPrefix(c.Metrics.Path, "/") {
		errs = append(errs, fmt.Errorf("METRICS_PATH must start with /, got %q", c.Metrics.Path))
	}

	return joinErrors(errs)
}

func (c Config) IsProduction() bool {
	return c.App.Env == "production"
}

func (c Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.App.Port)
}

func (c Config) PostgresDSN() string {
	// Avoid logging this string; it contains secrets.
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host,
		c.DB.Port,
		c.DB.User,
		c.DB.Password,
		c.DB.Name,
		c.DB.SSLMode,
	)
}

func (c Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

// RedisKey joins the configured prefix and name.
func (c Config) RedisKey(name string) string {
	return c.Redis.KeyPrefix + ":" + name
}

func mustInt(key string) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, fmt.Errorf("%s is required", key)
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", key, v)
	}
	return n, nil
}

func optionalInt(errs []error, key string) (int, []error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, errs
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, append(errs, fmt.Errorf("%s must be an integer, got %q", key, v))
	}
	return n, errs
}

func optionalDuration(errs []error, key string) (time.Duration, []error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, errs
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, append(errs, fmt.Errorf("%s must be a duration, got %q", key, v))
	}
	return d, errs
}

func optionalBool(errs []error, key string, def bool) (bool, []error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, errs
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def, append(errs, fmt.Errorf("%s must be a boolean, got %q", key, v))
	}
	return b, errs
}

func envOr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

// cronSpec returns "" for "off" so a job can be disabled from env.
func cronSpec(key, def string) string {
	v := envOr(key, def)
	if strings.EqualFold(v, "off") {
		return ""
	}
	return v
}

func appendParseErr(errs []error, n int, err error) (int, []error) {
	if err != nil {
		errs = append(errs, err)
	}
	return n, errs
}

func isValidEnv(v string) bool {
	switch v {
	case "local", "dev", "staging", "production":
		return true
	default:
		return false
	}
}

func isValidSSLMode(v string) bool {
	switch v {
	case "disable", "require", "verify-ca", "verify-full":
		return true
	default:
		return false
	}
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	if len(errs) == 1 {
		return errs[0]
	}
	var b strings.Builder
	b.WriteString("config errors:\n")
	for _, e := range errs {
		b.WriteString("- ")
		b.WriteString(e.Error())
		b.WriteString("\n")
	}
	return errors.New(strings.TrimSpace(b.String()))
}

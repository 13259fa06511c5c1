package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/kookbook/kookbook/internal/auth"
	httpx "github.com/kookbook/kookbook/internal/http"
	"github.com/kookbook/kookbook/internal/logger"
	"github.com/kookbook/kookbook/internal/ratelimit"
	"github.com/kookbook/kookbook/internal/server"
	"github.com/kookbook/kookbook/internal/store"
	memorystore "github.com/kookbook/kookbook/internal/store/memory"
	postgresstore "github.com/kookbook/kookbook/internal/store/postgres"
	"github.com/kookbook/kookbook/internal/telemetry"
	"github.com/kookbook/kookbook/internal/upload"
)

type ServeCmd struct {
	// Server configuration
	Listen string `help:"HTTP server listen address" default:"0.0.0.0:8080" env:"KOOKBOOK_LISTEN"`
	Cert   string `help:"path to TLS cert file (plain HTTP when unset)" default:"" env:"KOOKBOOK_TLS_CERT"`
	Key    string `help:"path to TLS key file (plain HTTP when unset)" default:"" env:"KOOKBOOK_TLS_KEY"`

	// CORS configuration
	CORSOrigins []string `help:"allowed CORS origins for API requests" default:"http://localhost:3000" env:"KOOKBOOK_CORS_ORIGINS"`

	MaxBodyBytes int64  `help:"maximum request body size in bytes for state-changing requests" default:"1048576" env:"KOOKBOOK_MAX_BODY_BYTES"`
	LogLevel     string `help:"log level override (trace, debug, info, warn, error)" default:"" env:"KOOKBOOK_LOG_LEVEL"`

	// Observability
	Tracing          bool    `help:"enable tracing and metrics export over OTLP" default:"false" env:"KOOKBOOK_TRACING"`
	TraceSampleRatio float64 `help:"fraction of root traces sampled" default:"1.0" env:"KOOKBOOK_TRACE_SAMPLE_RATIO"`

	Session   SessionFlags   `embed:""`
	RateLimit RateLimitFlags `embed:"" prefix:"rate-limit-"`
	Admin     AdminFlags     `embed:"" prefix:"admin-"`
	Upload    UploadFlags    `embed:"" prefix:"upload-"`

	ActivityPruneInterval time.Duration `help:"interval between removals of activity entries older than 90 days" default:"1h" env:"KOOKBOOK_ACTIVITY_PRUNE_INTERVAL"`

	// Store configuration
	StoreType     string             `help:"store type (memory or postgres)" default:"memory" env:"KOOKBOOK_STORE_TYPE" enum:"memory,postgres"`
	PostgresStore PostgresStoreFlags `embed:"" prefix:"postgres-"`
}

// SessionFlags configures token signing and session cookies.
type SessionFlags struct {
	JWTSecret           string        `help:"HMAC secret for signing session tokens (at least 32 characters)" name:"jwt-secret" env:"KOOKBOOK_JWT_SECRET"`
	AccessTTL           time.Duration `help:"access token lifetime" default:"15m" env:"KOOKBOOK_ACCESS_TTL"`
	RefreshTTL          time.Duration `help:"refresh token lifetime" default:"168h" env:"KOOKBOOK_REFRESH_TTL"`
	SecureCookies       string        `help:"when to mark session cookies Secure (auto, always, never)" default:"auto" env:"KOOKBOOK_SECURE_COOKIES" enum:"auto,always,never"`
	TrustForwardedProto bool          `help:"trust X-Forwarded-Proto when deciding whether a request used HTTPS" default:"false" env:"KOOKBOOK_TRUST_FORWARDED_PROTO"`
	BcryptCost          int           `help:"bcrypt cost for password hashes" default:"10" env:"KOOKBOOK_BCRYPT_COST"`
}

func (s *SessionFlags) Validate() error {
	if s.JWTSecret == "" {
		return errors.New("JWT secret is required (--jwt-secret or KOOKBOOK_JWT_SECRET)")
	}
	if len(s.JWTSecret) < auth.MinSecretLength {
		return auth.ErrSecretTooShort
	}
	if _, err := auth.ParseSecurePolicy(s.SecureCookies); err != nil {
		return err
	}
	if s.AccessTTL < 0 || s.RefreshTTL < 0 {
		return errors.New("token lifetimes must not be negative")
	}
	return nil
}

// RateLimitFlags configures the per-IP request limits.
type RateLimitFlags struct {
	Window        time.Duration `help:"rate limit window" default:"15m" env:"KOOKBOOK_RATE_LIMIT_WINDOW"`
	SweepInterval time.Duration `help:"interval between sweeps of expired rate limit entries" default:"5m" env:"KOOKBOOK_RATE_LIMIT_SWEEP_INTERVAL"`
	Auth          int           `help:"maximum auth requests per window" default:"20" env:"KOOKBOOK_RATE_LIMIT_AUTH"`
	Write         int           `help:"maximum write requests per window" default:"50" env:"KOOKBOOK_RATE_LIMIT_WRITE"`
	Read          int           `help:"maximum read requests per window" default:"100" env:"KOOKBOOK_RATE_LIMIT_READ"`
	Policy        string        `help:"YAML rate limit policy file applied over the flags" default:"" env:"KOOKBOOK_RATE_LIMIT_POLICY" type:"existingfile"`
}

// Config builds the limiter configuration from the flags and the optional policy file.
func (r *RateLimitFlags) Config() (ratelimit.Config, error) {
	cfg := ratelimit.Config{
		Window:        r.Window,
		SweepInterval: r.SweepInterval,
		Max: map[ratelimit.Class]int{
			ratelimit.ClassAuth:  r.Auth,
			ratelimit.ClassWrite: r.Write,
			ratelimit.ClassRead:  r.Read,
		},
	}

	if r.Policy != "" {
		var err error
		if cfg, err = ratelimit.LoadPolicyFile(r.Policy, cfg); err != nil {
			return ratelimit.Config{}, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return ratelimit.Config{}, fmt.Errorf("invalid rate limit configuration: %w", err)
	}
	return cfg, nil
}

// AdminFlags creates an administrator account at startup.
type AdminFlags struct {
	Email    string `help:"email of an admin account created at startup when missing" default:"" env:"KOOKBOOK_ADMIN_EMAIL"`
	Password string `help:"password for the bootstrap admin account" default:"" env:"KOOKBOOK_ADMIN_PASSWORD"`
}

func (a *AdminFlags) Enabled() bool {
	return a.Email != ""
}

func (a *AdminFlags) Validate() error {
	if a.Email == "" && a.Password == "" {
		return nil
	}
	if a.Email == "" || a.Password == "" {
		return errors.New("admin email and password must be set together (--admin-email, --admin-password)")
	}
	if len(a.Password) < auth.MinPasswordLength {
		return fmt.Errorf("admin password must be at least %d characters", auth.MinPasswordLength)
	}
	return nil
}

// UploadFlags configures image upload storage.
type UploadFlags struct {
	Dir           string `help:"directory where uploaded images are stored" default:"./uploads" env:"KOOKBOOK_UPLOAD_DIR"`
	PublicURLBase string `help:"URL prefix under which stored images are served" default:"/api/v1/uploads" env:"KOOKBOOK_UPLOAD_PUBLIC_URL_BASE"`
	MaxBytes      int64  `help:"maximum size of an uploaded image in bytes" default:"5242880" env:"KOOKBOOK_UPLOAD_MAX_BYTES"`
}

func (u *UploadFlags) Validate() error {
	if u.Dir == "" {
		return errors.New("upload directory is required (--upload-dir)")
	}
	if u.MaxBytes <= 0 {
		return errors.New("upload max bytes must be positive")
	}
	return nil
}

type PostgresStoreFlags struct {
	// Connection Configuration
	ConnString string `help:"PostgreSQL connection string" env:"POSTGRES_CONNECTION_STRING"`

	// Connection Pool Configuration
	MaxConns            int32 `help:"maximum number of connections in pool" default:"20"`
	MinConns            int32 `help:"minimum number of connections in pool" default:"2"`
	MaxConnLifetime     int32 `help:"maximum connection lifetime in seconds" default:"3600"`
	MaxConnIdleTime     int32 `help:"maximum connection idle time in seconds" default:"1800"`
	ConnectRetryTimeout int32 `help:"how long to retry the initial connection in seconds" default:"30"`

	// Migration Configuration
	AutoMigrate bool `help:"run database migrations on startup" default:"false" env:"KOOKBOOK_POSTGRES_AUTO_MIGRATE"`
}

func (s *PostgresStoreFlags) Validate() error {
	if s.ConnString == "" {
		return errors.New("PostgreSQL connection string is required (--postgres-conn-string or POSTGRES_CONNECTION_STRING)")
	}
	if s.MinConns > s.MaxConns {
		return fmt.Errorf("postgres min conns (%d) must not exceed max conns (%d)", s.MinConns, s.MaxConns)
	}
	return nil
}

func (c *ServeCmd) Run(ctx context.Context, globals *Globals) error {
	log, err := logger.Setup(globals.Debug, c.LogLevel)
	if err != nil {
		return err
	}

	log.Info().Str("version", globals.Version).Bool("debug", globals.Debug).Msg("Starting server")

	if err := c.Session.Validate(); err != nil {
		return fmt.Errorf("failed to validate session flags: %w", err)
	}
	if err := c.Admin.Validate(); err != nil {
		return fmt.Errorf("failed to validate admin flags: %w", err)
	}
	if err := c.Upload.Validate(); err != nil {
		return fmt.Errorf("failed to validate upload flags: %w", err)
	}
	if c.ActivityPruneInterval <= 0 {
		return errors.New("activity prune interval must be positive")
	}
	limiterCfg, err := c.RateLimit.Config()
	if err != nil {
		return err
	}

	codec, err := auth.NewTokenCodec(c.Session.JWTSecret, c.Session.AccessTTL, c.Session.RefreshTTL)
	if err != nil {
		return fmt.Errorf("failed to create token codec: %w", err)
	}
	policy, err := auth.ParseSecurePolicy(c.Session.SecureCookies)
	if err != nil {
		return err
	}
	hasher := auth.NewHasher(c.Session.BcryptCost)

	// Setup telemetry if enabled
	if c.Tracing {
		log.Info().Float64("sample_ratio", c.TraceSampleRatio).Msg("Tracing is enabled")
		shutdown, err := telemetry.InitTelemetry(ctx, telemetry.Config{
			ServiceName: "kookbook",
			Version:     globals.Version,
			SampleRatio: c.TraceSampleRatio,
		})
		if err != nil {
			log.Warn().Err(err).Msg("Failed to initialize telemetry, continuing without metrics")
			shutdown = func(ctx context.Context) error { return nil }
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(shutdownCtx); err != nil {
				log.Error().Err(err).Msg("Failed to shutdown telemetry")
			}
		}()
	}

	stores, closeStores, err := c.createStores(ctx, log)
	if err != nil {
		return err
	}
	defer closeStores()

	if c.Admin.Enabled() {
		if err := bootstrapAdmin(ctx, stores.Users, hasher, c.Admin.Email, c.Admin.Password); err != nil {
			return fmt.Errorf("failed to bootstrap admin account: %w", err)
		}
	}

	uploads, err := upload.Open(upload.Config{
		Dir:           c.Upload.Dir,
		PublicURLBase: c.Upload.PublicURLBase,
		MaxBytes:      c.Upload.MaxBytes,
	})
	if err != nil {
		return err
	}
	defer uploads.Close()

	stopRetention := startActivityRetention(ctx, stores.Activity, c.ActivityPruneInterval)
	defer stopRetention()

	limiter, err := ratelimit.New(limiterCfg)
	if err != nil {
		return fmt.Errorf("failed to create rate limiter: %w", err)
	}
	limiter.Start(ctx)
	defer limiter.Stop()

	if err := telemetry.GetMetrics().RegisterRateLimitEntries(limiter.Len); err != nil {
		log.Warn().Err(err).Msg("Failed to register rate limit gauge")
	}

	maxBody := c.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = httpx.DefaultMaxBodyBytes
	}

	srv, err := server.NewServer(server.Config{
		Stores:       stores,
		Codec:        codec,
		Cookies:      auth.NewCookieManager(policy, c.Session.TrustForwardedProto),
		Hasher:       hasher,
		Limiter:      limiter,
		Uploads:      uploads,
		Logger:       log,
		CORSOrigins:  c.CORSOrigins,
		MaxBodyBytes: maxBody,
		Tracing:      c.Tracing,
	})
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	if err := c.validateTLS(); err != nil {
		return err
	}

	log.Info().
		Str("store", c.StoreType).
		Strs("cors_origins", c.CORSOrigins).
		Str("secure_cookies", string(policy)).
		Str("upload_dir", c.Upload.Dir).
		Msg("Server configured")

	return serveUntilDone(ctx, log, configureHTTPServer(c.Listen, srv.Handler()), c.Cert, c.Key)
}

func (c *ServeCmd) validateTLS() error {
	if c.Cert == "" && c.Key == "" {
		return nil
	}
	if c.Cert == "" || c.Key == "" {
		return errors.New("TLS certificate and key must be set together (--cert and --key)")
	}
	if _, err := os.Stat(c.Cert); err != nil {
		return fmt.Errorf("TLS certificate not found at %s: %w", c.Cert, err)
	}
	if _, err := os.Stat(c.Key); err != nil {
		return fmt.Errorf("TLS key not found at %s: %w", c.Key, err)
	}
	return nil
}

// createStores returns the configured stores and a function releasing them.
func (c *ServeCmd) createStores(ctx context.Context, log zerolog.Logger) (store.Stores, func(), error) {
	switch c.StoreType {
	case "postgres":
		pool, err := c.createPostgresPool(ctx)
		if err != nil {
			return store.Stores{}, nil, err
		}
		log.Info().Msg("Using PostgreSQL stores")
		return postgresstore.NewStores(pool), pool.Close, nil

	default:
		log.Info().Msg("Using in-memory stores")
		return memorystore.NewStores(), func() {}, nil
	}
}

// createPostgresPool connects to PostgreSQL and runs migrations when enabled.
func (c *ServeCmd) createPostgresPool(ctx context.Context) (*pgxpool.Pool, error) {
	if err := c.PostgresStore.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate postgres flags: %w", err)
	}

	pool, err := postgresstore.NewPool(ctx, &postgresstore.PoolConfig{
		ConnString:          c.PostgresStore.ConnString,
		MaxConns:            c.PostgresStore.MaxConns,
		MinConns:            c.PostgresStore.MinConns,
		MaxConnLifetime:     c.PostgresStore.MaxConnLifetime,
		MaxConnIdleTime:     c.PostgresStore.MaxConnIdleTime,
		ConnectRetryTimeout: c.PostgresStore.ConnectRetryTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}

	if c.PostgresStore.AutoMigrate {
		if err := postgresstore.RunMigrations(ctx, pool); err != nil {
			pool.Close()
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
	}

	return pool, nil
}

package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/me/owl/internal/auth"
	"github.com/me/owl/internal/captcha"
	"github.com/me/owl/internal/config"
	"github.com/me/owl/internal/intake"
	"github.com/me/owl/internal/ipkey"
	"github.com/me/owl/internal/logging"
	"github.com/me/owl/internal/metrics"
	"github.com/me/owl/internal/params"
	"github.com/me/owl/internal/ratelimit"
	"github.com/me/owl/internal/registry"
	"github.com/me/owl/internal/server"
	"github.com/me/owl/internal/store"
)

func main() {
	configFile := flag.String("config", "", "Path to server config file (YAML)")
	addr := flag.String("addr", "", "Listen address (overrides config)")
	logLevel := flag.String("log-level", "", "Log level (debug, info, warn, error)")
	logFormat := flag.String("log-format", "", "Log format (text, json)")
	dbPath := flag.String("db", "", "SQLite database path (overrides config)")
	debug := flag.Bool("debug", false, "Shorthand for --log-level=debug")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	if *addr != "" {
		cfg.Addr = *addr
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	if *logFormat != "" {
		cfg.LogFormat = *logFormat
	}
	if *dbPath != "" {
		cfg.DB.Driver, cfg.DB.Path = "sqlite", *dbPath
	}
	if *debug {
		cfg.LogLevel = "debug"
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config:\n%v\n", err)
		os.Exit(1)
	}

	logger := logging.NewLogger(logging.ParseLevel(cfg.LogLevel), cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Open store and run migrations.
	st, err := openStore(ctx, cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open database: %v\n", err)
		os.Exit(1)
	}
	defer st.Close()

	if err := st.Migrate(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "migrate database: %v\n", err)
		os.Exit(1)
	}
	logger.Info("database ready", "driver", cfg.DB.Driver)

	schema := params.DefaultSchema()
	if cfg.SchemaPath != "" {
		if schema, err = params.LoadSchema(cfg.SchemaPath); err != nil {
			fmt.Fprintf(os.Stderr, "load schema: %v\n", err)
			os.Exit(1)
		}
	}
	logger.Info("parameter schema loaded", "version", schema.Version, "args", len(schema.Args))

	hasher, err := ipkey.NewHasher(cfg.IPHashSecret)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ip hasher: %v\n", err)
		os.Exit(1)
	}

	m := metrics.New()

	regClient := registry.NewClient(registry.ClientConfig{BaseURL: cfg.Registry.BaseURL, Timeout: cfg.Registry.Timeout}, logger)
	fileRule := registry.DefaultFileRule()
	if cfg.Registry.FileHost != "" {
		fileRule.Host = cfg.Registry.FileHost
	}
	validatorOpts := []registry.Option{
		registry.WithObserver(func(o registry.Outcome) { m.Validated(string(o)) }),
	}
	if cfg.Registry.CacheBytes > 0 {
		validatorOpts = append(validatorOpts, registry.WithCache(cfg.Registry.CacheBytes, int(cfg.Registry.CacheTTL.Seconds())))
	}
	validator := registry.NewValidator(regClient, fileRule, logger, validatorOpts...)

	var verifier captcha.Verifier = captcha.Disabled{}
	if cfg.Captcha.Secret != "" {
		verifier = captcha.NewSiteVerifier(captcha.Config{Secret: cfg.Captcha.Secret, VerifyURL: cfg.Captcha.VerifyURL}, logger)
	} else {
		logger.Warn("captcha verification disabled", "hint", "set captcha.secret or OWL_CAPTCHA_SECRET")
	}

	ceilings := ratelimit.Ceilings{User: cfg.RateLimit.UserCeiling, IP: cfg.RateLimit.IPCeiling, Window: cfg.RateLimit.Window}
	svc := intake.New(intake.Deps{
		Store:     st,
		Hasher:    hasher,
		Limiter:   ratelimit.New(st, ceilings),
		Captcha:   verifier,
		Schema:    schema,
		Validator: validator,
		Recorder:  m,
	}, logger)

	serverOpts := []server.Option{server.WithMetrics(m)}
	if cfg.Throttle.RPS > 0 {
		serverOpts = append(serverOpts, server.WithThrottle(ratelimit.NewThrottle(cfg.Throttle.RPS, cfg.Throttle.Burst)))
	}

	var authn auth.Authenticator
	if cfg.Auth.IssuerURL != "" {
		oidcAuth, err := auth.NewOIDCAuthenticator(ctx, auth.OIDCConfig{
			IssuerURL:     cfg.Auth.IssuerURL,
			ClientID:      cfg.Auth.ClientID,
			ClientSecret:  cfg.Auth.ClientSecret,
			RedirectURL:   cfg.Auth.RedirectURL,
			PostLoginURL:  cfg.Auth.PostLoginURL,
			SecureCookies: cfg.Auth.SecureCookies,
		}, logger)
		if err != nil {
			fmt.Fprintf(os.Stderr, "oidc: %v\n", err)
			os.Exit(1)
		}
		authn = oidcAuth
		serverOpts = append(serverOpts, server.WithLoginFlow(oidcAuth))
		logger.Info("oidc authentication enabled", "issuer", cfg.Auth.IssuerURL)
	} else {
		authn = auth.NewStaticAuthenticator(cfg.Auth.StaticTokens)
		logger.Warn("no identity provider configured; using static tokens", "tokens", len(cfg.Auth.StaticTokens))
	}
	if len(cfg.Admins) > 0 {
		logger.Info("admin users from config", "admins", cfg.Admins)
	}

	srv := server.New(cfg, st, svc, authn, logger, serverOpts...)

	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("server starting", "addr", cfg.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		fmt.Fprintf(os.Stderr, "shutdown error: %v\n", err)
		os.Exit(1)
	}
	logger.Info("server stopped")
}

func openStore(ctx context.Context, cfg config.ServerConfig, logger *slog.Logger) (store.Store, error) {
	if cfg.DB.Driver == "postgres" {
		pool := store.DefaultPoolConfig()
		if cfg.DB.MaxConns > 0 {
			pool.MaxConns = cfg.DB.MaxConns
		}
		if cfg.DB.MinConns > 0 {
			pool.MinConns = cfg.DB.MinConns
		}
		return store.NewPostgresStore(ctx, cfg.DB.URL, pool, logger)
	}
	return store.NewSQLiteStore(cfg.DB.Path, logger)
}

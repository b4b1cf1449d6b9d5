package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"callrelay/internal/accounts"
	"callrelay/internal/audit"
	"callrelay/internal/auth"
	"callrelay/internal/calls"
	"callrelay/internal/config"
	"callrelay/internal/history"
	"callrelay/internal/presence"
	"callrelay/internal/signaling"
	"callrelay/internal/telephony"
	"callrelay/pkg/logger"
	"callrelay/pkg/utils"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
)

// devVerificationCode is accepted by the static verifier in local/dev.
const devVerificationCode = "000000"

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		log.Error("auth init failed", "err", err)
		os.Exit(1)
	}

	db, err := utils.OpenPostgres(rootCtx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
	if err != nil {
		log.Error("postgres init failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	var schema []string
	schema = append(schema, accounts.Schema...)
	schema = append(schema, history.Schema...)
	schema = append(schema, audit.Schema...)
	if err := utils.EnsureSchema(rootCtx, db, schema...); err != nil {
		log.Error("schema init failed", "err", err)
		os.Exit(1)
	}

	rdb, err := utils.OpenRedis(rootCtx, utils.RedisConfig{Addr: cfg.RedisAddr()})
	if err != nil {
		log.Error("redis init failed", "err", err)
		os.Exit(1)
	}
	defer rdb.Close()

	verifier, err := newVerifier(cfg, log)
	if err != nil {
		log.Error("verifier init failed", "err", err)
		os.Exit(1)
	}

	accountRepo, err := accounts.NewPostgresRepo(db)
	if err != nil {
		log.Error("accounts init failed", "err", err)
		os.Exit(1)
	}
	accountSvc := accounts.NewService(accountRepo, verifier, authManager, accounts.Options{
		DefaultRegion: cfg.Phone.DefaultRegion,
		AdminMobiles:  cfg.Auth.AdminMobiles,
	}, log)

	historyRepo, err := history.NewPostgresRepo(db)
	if err != nil {
		log.Error("history init failed", "err", err)
		os.Exit(1)
	}
	historySvc := history.NewService(historyRepo)

	auditRepo, err := audit.NewPostgresRepo(db)
	if err != nil {
		log.Error("audit init failed", "err", err)
		os.Exit(1)
	}

	mirror, err := presence.NewRedisMirror(rdb, cfg.Redis.PresenceLeaseTTL)
	if err != nil {
		log.Error("presence mirror init failed", "err", err)
		os.Exit(1)
	}
	dir := presence.NewDirectory(log, presence.WithMirror(mirror))

	coord := calls.NewCoordinator(dir, historySvc, log,
		calls.WithRingTimeout(cfg.Signaling.RingTimeout),
		calls.WithAccounts(accountSvc),
	)
	defer coord.Shutdown()

	relay := signaling.NewRelay(dir, coord, func(raw string) string {
		if canonical, err := accountSvc.Canonicalize(raw); err == nil {
			return canonical
		}
		return raw
	}, log)

	// Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))

	registerRoutes(r, routeDeps{
		auth:      authManager,
		accounts:  accountSvc,
		history:   historySvc,
		directory: dir,
		calls:     coord,
		audit:     audit.NewService(auditRepo),
		ws:        signaling.NewHandler(auth.NewGate(authManager), relay, cfg.Signaling, log),
		ready: func(ctx context.Context) error {
			return utils.HealthCheck(ctx, db, 2*time.Second)
		},
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env, "verifier", verifier.Name())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated", "live_calls", len(coord.Sessions()))

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	// Hijacked websocket connections are not tracked by Shutdown; they end with the process.
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}

	_ = logger.ShutdownFlush(shutdownCtx, 2*time.Second)
}

// newVerifier picks Twilio Verify when configured. The static verifier is refused
// outside local/dev.
func newVerifier(cfg config.Config, log *slog.Logger) (telephony.Verifier, error) {
	if cfg.Twilio.Enabled() {
		v, err := telephony.NewTwilioVerify(cfg.Twilio)
		if err != nil {
			return nil, err
		}
		return v, nil
	}
	if !cfg.IsLocal() {
		return nil, errors.New("twilio verify is required outside local/dev")
	}
	log.Warn("using static verification code", "code", devVerificationCode)
	return telephony.NewStaticVerifier(devVerificationCode, log), nil
}

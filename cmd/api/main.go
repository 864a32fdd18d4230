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

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"

	"dialer-platform/internal/activity"
	"dialer-platform/internal/auth"
	"dialer-platform/internal/bridge"
	"dialer-platform/internal/calls"
	"dialer-platform/internal/campaigns"
	"dialer-platform/internal/config"
	"dialer-platform/internal/contacts"
	"dialer-platform/internal/dialer"
	"dialer-platform/internal/httpapi"
	"dialer-platform/internal/queue"
	"dialer-platform/internal/telephony"
	"dialer-platform/pkg/logger"
	"dialer-platform/pkg/utils"
)

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

	rdb, err := utils.OpenRedis(rootCtx, utils.RedisConfig{Addr: cfg.RedisAddr()})
	if err != nil {
		log.Error("redis init failed", "err", err)
		os.Exit(1)
	}
	defer rdb.Close()

	// Repositories.
	campaignRepo := campaigns.NewRepository(db)
	contactRepo := contacts.NewRepository(db)
	callRepo := calls.NewRepository(db)
	queueRepo := queue.NewRepository(db)
	activityRepo := activity.NewPostgresRepo(db)

	activities := activity.NewService(activityRepo)

	// Telephony gateway.
	gateway, err := telephony.NewTwilioGateway(telephony.TwilioConfig{
		AccountSID: cfg.Twilio.AccountSID,
		AuthToken:  cfg.Twilio.AuthToken,
	})
	if err != nil {
		log.Error("telephony init failed", "err", err)
		os.Exit(1)
	}

	var limiter dialer.SlotLimiter = dialer.UnlimitedSlots{}
	if cfg.Twilio.MaxConcurrentDials > 0 {
		limiter = dialer.NewRedisSlotLimiter(rdb, cfg.Twilio.MaxConcurrentDials)
	}

	// The scheduler and the dialer reference each other: the scheduler
	// hands ready sessions to the dialer, the dialer reports completions
	// back. Wire the scheduler first with a late-bound dialer handle.
	dialerHandle := &dialerRef{}
	scheduler := queue.NewScheduler(
		campaignRepo,
		contactRepo,
		callRepo,
		queueRepo,
		queue.NewRedisCache(rdb),
		dialerHandle,
		log,
	).WithActivityLog(activities)

	contextCache := dialer.NewRedisContextCache(rdb)

	dialSvc := dialer.NewService(
		callRepo,
		contactRepo,
		gateway,
		limiter,
		contextCache,
		scheduler,
		dialer.Config{
			PublicURL:  cfg.App.PublicURL,
			FromNumber: cfg.Twilio.FromNumber,
		},
		log,
	)
	dialerHandle.svc = dialSvc

	bridgeManager := bridge.NewManager(
		callRepo,
		scheduler,
		&bridge.RealtimeDialer{APIKey: cfg.Realtime.APIKey, Model: cfg.RealtimeModel()},
		bridge.DefaultRegistry(),
		log,
	).WithContextCache(contextCache)

	// Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))

	registerRoutes(r, routeDeps{
		authMW: auth.RequireAccessToken(authManager),
		api: httpapi.Handlers{
			Auth:       authManager,
			Queue:      scheduler,
			Calls:      callRepo,
			Tools:      bridgeManager.Tools(),
			Activities: activities,
		},
		streams:  httpapi.StreamHandlers{Bridge: bridgeManager},
		webhooks: httpapi.WebhookHandlers{Dialer: dialSvc, PublicURL: cfg.App.PublicURL},
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		// Websocket connections live past these; they are hijacked out of
		// the server's write deadline handling.
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	scheduler.Shutdown()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}

	_ = logger.ShutdownFlush(shutdownCtx, 2*time.Second)
}

// dialerRef breaks the scheduler/dialer construction cycle.
type dialerRef struct {
	svc *dialer.Service
}

func (d *dialerRef) DialQueued(ctx context.Context, ev queue.ReadyEvent) error {
	if d.svc == nil {
		return errors.New("dialer not wired")
	}
	return d.svc.DialQueued(ctx, ev)
}

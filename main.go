package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"golang.org/x/sync/errgroup"

	_ "LIBRA-backend/docs"
	"LIBRA-backend/internal/library/inventory"
	"LIBRA-backend/internal/library/loans"
	"LIBRA-backend/internal/library/reminders"
	"LIBRA-backend/internal/library/scheduler"
	"LIBRA-backend/internal/notify"
	"LIBRA-backend/internal/platform/auth"
	"LIBRA-backend/internal/platform/clock"
	"LIBRA-backend/internal/platform/db"
	"LIBRA-backend/internal/platform/ids"
	"LIBRA-backend/internal/platform/requestid"
)

// @title        LIBRA 图书借阅 API
// @version      1.0
// @description  社内図書の貸出・返却と返却リマインド
// @BasePath     /api/v1
// @securityDefinitions.apikey BearerAuth
// @in           header
// @name         Authorization
func main() {
	// 設定読み込み
	path := os.Getenv("LIBRARY_CONFIG")
	if path == "" {
		path = "config/config.yaml"
	}
	cfg, err := db.LoadConfig(path)
	if err != nil {
		log.Fatalf("[ERROR] load config: %v", err)
	}

	// 動作モード取得
	mode := cfg.Mode
	log.Printf("[INFO] mode:%s\n", mode)

	logger := newLogger(mode)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		log.Fatalf("[ERROR] %v", err)
	}
	log.Println("[INFO] bye")
}

func newLogger(mode string) *slog.Logger {
	if mode == "release" {
		return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func run(cfg *db.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	conn, err := db.Connect(cfg.DB)
	if err != nil {
		return err
	}
	defer conn.Close()
	log.Printf("[INFO] connected to DB: %s", cfg.DB.DBName)

	if err := db.Migrate(ctx, conn); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	loc, err := time.LoadLocation(cfg.Scheduler.Timezone)
	if err != nil {
		return fmt.Errorf("scheduler timezone: %w", err)
	}

	clk := clock.NewSystem()
	idgen := ids.NewULID()

	// 在庫
	bookStore := inventory.NewStore(conn)
	ledger := inventory.NewLedger(bookStore,
		inventory.WithLogger(logger.With("component", "ledger")),
		inventory.WithClampOverflow(cfg.Inventory.ClampReleaseOverflow),
	)
	books := inventory.NewService(bookStore, ledger, clk)

	// 貸出
	loanSvc := loans.NewService(loans.NewStore(conn), ledger,
		loans.WithClock(clk),
		loans.WithIDGen(idgen),
		loans.WithLogger(logger.With("component", "loans")),
		loans.WithLocation(loc),
	)

	// 通知
	var sender notify.Sender = notify.LogSender{Logger: logger.With("component", "notify")}
	if cfg.WeChat.Enabled() {
		sender = notify.NewWeChat(notify.WeChatConfig{
			BaseURL: cfg.WeChat.BaseURL,
			AppID:   cfg.WeChat.AppID,
			Secret:  cfg.WeChat.Secret,
			Templates: map[notify.TemplateKind]string{
				notify.KindDueSoon: cfg.WeChat.DueSoonTemplateID,
				notify.KindOverdue: cfg.WeChat.OverdueTemplateID,
			},
			Page: cfg.WeChat.Page,
		}, &http.Client{Timeout: cfg.Reminder.DeliveryTimeout}, notify.NewTokenCache(5*time.Minute, clk), logger.With("component", "wechat"))
		log.Println("[INFO] notification: wechat subscribe message")
	} else {
		log.Println("[WARN] wechat appid/secret not set, notifications are logged only")
	}

	engine := reminders.NewEngine(loanSvc, sender,
		reminders.WithPolicy(reminders.Policy{RemindBeforeDays: cfg.Reminder.RemindBeforeDays}),
		reminders.WithClock(clk),
		reminders.WithDeliveryTimeout(cfg.Reminder.DeliveryTimeout),
		reminders.WithDedupeWindow(cfg.Reminder.DedupeWindow),
		reminders.WithLogger(logger.With("component", "reminders")),
	)

	driver := scheduler.NewDriver(scheduler.Config{
		Location:            loc,
		SweepHour:           cfg.Scheduler.SweepHour,
		SweepMinute:         cfg.Scheduler.SweepMinute,
		ReportHour:          cfg.Scheduler.ReportHour,
		ReportMinute:        cfg.Scheduler.ReportMinute,
		CatchUpOnStart:      cfg.Scheduler.CatchUpOnStart,
		OverdueIntervalDays: cfg.Reminder.OverdueIntervalDays,
	}, engine, loanSvc, scheduler.NewStore(conn),
		scheduler.WithClock(clk),
		scheduler.WithIDGen(idgen),
		scheduler.WithLogger(logger.With("component", "scheduler")),
	)
	if err := driver.Init(); err != nil {
		return err
	}

	accounts := auth.NewStore(conn)
	authSvc := auth.NewService(accounts, []byte(cfg.Auth.JWTSecret), cfg.Auth.TokenTTL, clk, auth.WithLocation(loc))

	r := newRouter(cfg, accounts, authSvc, books, loanSvc, engine, driver)

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	var certFile, keyFile string
	if cfg.Certificate.Cert != "" && cfg.Certificate.Key != "" {
		// TLS設定
		certFile = fmt.Sprintf("config/tls/%s/%s", cfg.Mode, cfg.Certificate.Cert)
		keyFile = fmt.Sprintf("config/tls/%s/%s", cfg.Mode, cfg.Certificate.Key)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		var err error
		if certFile != "" {
			log.Printf("[INFO] listening on https://%s", cfg.Server.Addr)
			err = srv.ListenAndServeTLS(certFile, keyFile)
		} else {
			log.Printf("[INFO] listening on http://%s", cfg.Server.Addr)
			err = srv.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})

	if cfg.Scheduler.Disabled {
		log.Println("[WARN] scheduler disabled by config")
	} else {
		g.Go(func() error { return driver.Start(gctx) })
	}

	// Graceful shutdown
	g.Go(func() error {
		<-gctx.Done()
		log.Println("[INFO] shutting down...")
		sctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		var errs []error
		if err := srv.Shutdown(sctx); err != nil {
			errs = append(errs, fmt.Errorf("http shutdown: %w", err))
		}
		if err := driver.Stop(sctx); err != nil {
			errs = append(errs, err)
		}
		return errors.Join(errs...)
	})

	return g.Wait()
}

func newRouter(cfg *db.Config, accounts auth.AccountLookup, authSvc *auth.Service, books *inventory.Service,
	loanSvc *loans.Service, engine *reminders.Engine, driver *scheduler.Driver) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery(), requestid.Middleware())
	_ = r.SetTrustedProxies(nil)

	if cfg.Mode == "dev" {
		// CORS（開発中のみ必要）
		origins := cfg.Server.AllowOrigins
		if len(origins) == 0 {
			origins = []string{"http://localhost:3000"}
		}
		r.Use(cors.New(cors.Config{
			AllowOrigins:     origins,
			AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", requestid.Header},
			ExposeHeaders:    []string{"Content-Length", "Content-Disposition", requestid.Header},
			AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowCredentials: true,
		}))
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	// ヘルス
	scheduler.RegisterRoutes(r, driver)

	// /api/v1
	api := r.Group("/api/v1")
	auth.RegisterRoutes(api, authSvc)
	inventory.RegisterRoutes(api, books)

	secret := []byte(cfg.Auth.JWTSecret)
	user := api.Group("")
	user.Use(auth.RequireAuth(secret, accounts))
	loans.RegisterRoutes(user, loanSvc)

	admin := api.Group("/admin")
	admin.Use(auth.RequireAuth(secret, accounts), auth.RequireRole(auth.RoleAdmin))
	auth.RegisterAdminRoutes(admin, authSvc)
	inventory.RegisterAdminRoutes(admin, books)
	loans.RegisterAdminRoutes(admin, loanSvc)
	reminders.RegisterAdminRoutes(admin, engine)
	scheduler.RegisterAdminRoutes(admin, driver)

	return r
}

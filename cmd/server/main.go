package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"spabook/internal/booking"
	"spabook/internal/config"
	"spabook/internal/dashboard"
	"spabook/internal/delivery"
	"spabook/internal/eventsystem"
	"spabook/internal/httpapi"
	"spabook/internal/metrics"
	"spabook/internal/models"
	"spabook/internal/notify"
	"spabook/internal/pagecache"
	"spabook/internal/purchases"
	"spabook/internal/reminders"
	"spabook/internal/sheets"
	"spabook/internal/storage/sqlite"
	"spabook/internal/subscriptions"
	"spabook/internal/vouchers"
)

func main() {
	cfg, err := config.Load("")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger := newLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	database, err := sqlite.NewDB(cfg.Database.Path, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("open db error")
	}
	defer database.Close()

	if cfg.Database.SeedPath != "" {
		if err := database.LoadSeedFile(ctx, cfg.Database.SeedPath); err != nil {
			logger.Fatal().Err(err).Str("path", cfg.Database.SeedPath).Msg("seed catalog error")
		}
	}

	var (
		rdb   *redis.Client
		cache pagecache.Cache
	)
	if cfg.Redis.Address != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.Redis.Address, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		defer rdb.Close()
		cache = pagecache.NewRedisCache(rdb, cfg.CacheTTL())
	} else {
		cache = pagecache.NewMemoryCache(cfg.CacheTTL())
	}

	sender, telegram := newDelivery(ctx, cfg, logger)

	var opts []eventsystem.Option
	if cfg.Monitoring.PrometheusEnabled {
		metrics.Register()
		opts = append(opts, eventsystem.WithMetrics())
	}
	if cfg.Sheets.Enabled {
		client, err := sheets.NewClient(ctx, cfg.Sheets.CredentialsFile, cfg.Sheets.SpreadsheetID)
		if err != nil {
			logger.Error().Err(err).Msg("sheets ledger disabled")
		} else {
			opts = append(opts, eventsystem.WithHandlerSet(eventsystem.HandlerSet{
				Handler: sheets.NewLedger(client, cfg.Sheets.Sheet, logger),
				Types:   sheets.LedgerTypes,
			}))
		}
	}

	system := eventsystem.New(
		notify.NewHandler(database, sender, cfg.Notifications.DefaultLanguage, logger),
		dashboard.NewHandler(cache, logger),
		logger,
		opts...,
	)
	system.Initialize()

	voucherSvc := vouchers.NewService(database, system, cfg.Vouchers.ValidityMonths, logger)
	purchaseSvc := purchases.NewService(database, logger)
	services := httpapi.Services{
		Bookings:      booking.NewService(database, voucherSvc, system, logger),
		Vouchers:      voucherSvc,
		Subscriptions: subscriptions.NewService(database, logger),
		Purchases:     purchaseSvc,
	}

	if cfg.Reminders.Enabled {
		rem := reminders.NewService(reminders.Config{
			CheckInterval:              cfg.ReminderInterval(),
			LookAhead:                  cfg.ReminderLookAhead(),
			MaxConcurrentNotifications: cfg.Reminders.MaxConcurrent,
			Language:                   cfg.Notifications.DefaultLanguage,
		}, database, sender, logger)
		rem.Start()
		defer rem.Stop()
	}

	if cfg.Reports.Enabled {
		var docs purchases.DocumentSender
		if telegram != nil && len(cfg.Notifications.Telegram.Admins) > 0 {
			docs = telegram.Documents(cfg.Notifications.Telegram.Admins)
		}
		reporter := purchases.NewReporter(purchaseSvc, docs, purchases.ReportConfig{
			Dir:        cfg.Reports.Dir,
			RunOnStart: cfg.Reports.RunOnStart,
		})
		reporter.Start()
		defer reporter.Stop()
		services.Reporter = reporter
	}

	backups := sqlite.NewBackupService(database, sqlite.BackupConfig{
		Enabled:       cfg.Backup.Enabled,
		Interval:      cfg.BackupInterval(),
		Dir:           cfg.Backup.Path,
		RetentionDays: cfg.Backup.RetentionDays,
	}, logger)
	go backups.Start(ctx)

	grants := make(map[string]httpapi.Grant)
	for _, k := range cfg.ActiveAPIKeys() {
		grants[k.Key] = httpapi.Grant{Role: k.Role, UserID: k.UserID}
	}
	api := httpapi.New(services, httpapi.NewKeyRing(grants, logger), logger,
		httpapi.WithPageCache(cache))

	grpcHealth := health.NewServer()
	go startHealthServer(ctx, cfg.Monitoring.HealthCheckPort, database, rdb, grpcHealth, &logger)
	if cfg.Monitoring.GRPCHealthPort != 0 {
		go startGRPCHealth(ctx, cfg.Monitoring.GRPCHealthPort, grpcHealth, &logger)
	}
	if cfg.Monitoring.PrometheusEnabled {
		go startMetricsServer(ctx, cfg.Monitoring.PrometheusPort, &logger)
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           http.TimeoutHandler(api.Handler(), cfg.RequestTimeout(), `{"error":"request timed out","code":"timeout"}`),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		grpcHealth.Shutdown()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()

	logger.Info().Int("port", cfg.Server.Port).Msg("spabook api started")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error().Err(err).Msg("api server error")
	}
	logger.Info().Msg("spabook api stopped")
}

func newLogger(cfg *config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Log.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	var logger zerolog.Logger
	if cfg.Log.Format == "json" {
		logger = zerolog.New(os.Stdout)
	} else {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	}
	return logger.Level(level).With().Timestamp().Logger()
}

// newDelivery registers a channel for every configured gateway and starts the
// template watcher. The telegram channel is returned for report uploads.
func newDelivery(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*delivery.Service, *delivery.TelegramChannel) {
	n := cfg.Notifications
	catalog, err := delivery.LoadCatalog(n.TemplatesPath)
	if err != nil {
		logger.Fatal().Err(err).Str("path", n.TemplatesPath).Msg("load templates error")
	}

	svc := delivery.NewService(catalog, delivery.Config{
		Rate:        n.RatePerSecond,
		Burst:       n.Burst,
		RetryDelays: cfg.NotificationRetryDelays(),
	}, logger)

	if n.Email.URL != "" {
		svc.Register(models.MethodEmail, delivery.NewEmailChannel(n.Email.URL, n.Email.APIKey, n.Email.From, 0))
	}
	if n.SMS.URL != "" {
		svc.Register(models.MethodSMS, delivery.NewSMSChannel(n.SMS.URL, n.SMS.APIKey, n.SMS.Sender, 0))
	}

	var tg *delivery.TelegramChannel
	if n.Telegram.BotToken != "" {
		tg, err = delivery.NewTelegramChannel(n.Telegram.BotToken)
		if err != nil {
			logger.Error().Err(err).Msg("telegram channel disabled")
		} else {
			svc.Register(models.MethodTelegram, tg)
		}
	}

	watcher := delivery.NewTemplateWatcher(n.TemplatesPath, 30*time.Second, svc.SetCatalog, logger)
	if err := watcher.Start(ctx); err != nil {
		logger.Warn().Err(err).Msg("template watcher not started")
	}
	return svc, tg
}

func startHealthServer(ctx context.Context, port int, database *sqlite.DB, rdb *redis.Client, grpcHealth *health.Server, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		ctxPing, cancel := context.WithTimeout(ctx, time.Second)
		defer cancel()
		if err := database.PingContext(ctxPing); err != nil {
			grpcHealth.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
			http.Error(w, "db not ready", http.StatusServiceUnavailable)
			return
		}
		if rdb != nil {
			if err := rdb.Ping(ctxPing).Err(); err != nil {
				grpcHealth.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
				http.Error(w, "redis not ready", http.StatusServiceUnavailable)
				return
			}
		}
		grpcHealth.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error().Err(err).Msg("health server error")
	}
}

func startGRPCHealth(ctx context.Context, port int, grpcHealth *health.Server, logger *zerolog.Logger) {
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		logger.Error().Err(err).Msg("grpc health listen error")
		return
	}
	srv := grpc.NewServer()
	healthpb.RegisterHealthServer(srv, grpcHealth)
	go func() {
		<-ctx.Done()
		srv.GracefulStop()
	}()
	if err := srv.Serve(lis); err != nil {
		logger.Error().Err(err).Msg("grpc health server error")
	}
}

func startMetricsServer(ctx context.Context, port int, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error().Err(err).Msg("metrics server error")
	}
}

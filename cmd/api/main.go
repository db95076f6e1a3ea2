package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"hotelbook/internal/api"
	"hotelbook/internal/broker"
	"hotelbook/internal/cache"
	"hotelbook/internal/calendar"
	"hotelbook/internal/config"
	"hotelbook/internal/database"
	"hotelbook/internal/database/postgres"
	"hotelbook/internal/domain"
	"hotelbook/internal/events"
	"hotelbook/internal/export"
	"hotelbook/internal/google"
	"hotelbook/internal/logging"
	"hotelbook/internal/metrics"
	"hotelbook/internal/models"
	"hotelbook/internal/repository"
	"hotelbook/internal/service"
	"hotelbook/internal/worker"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v2"
)

// store is what the process needs from either backing database.
type store interface {
	domain.Repository
	worker.OutboxStore
	SeedCatalog(ctx context.Context, seed *models.CatalogSeed) error
	ProvisionAvailability(ctx context.Context, rt *models.RoomType, from time.Time, days int) (int, error)
	Close() error
}

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	cfg, logger, closer, err := loadConfigAndLogger()
	if err != nil {
		return err
	}
	if closer != nil {
		defer (func() { _ = closer.Close() })()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	seed, err := loadCatalog(cfg, &logger)
	if err != nil {
		return err
	}

	db, sqliteDB, err := initDatabase(ctx, cfg, &logger)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := seedCatalog(ctx, db, seed, cfg.Catalog.ProvisionDays, &logger); err != nil {
		return err
	}

	catalog := cache.NewCatalog(db, cfg.Catalog.CacheSize, cfg.Catalog.CacheTTL)
	defer catalog.Stop()
	go reloadCatalogOnHangup(ctx, cfg, db, catalog, &logger)

	redisClient := initRedis(ctx, cfg, &logger)
	if redisClient != nil {
		defer func() { _ = repository.Close(redisClient) }()
	}

	eventBus := events.NewEventBus()
	bookingService := service.NewBookingService(db, catalog, initIdempotencyStore(redisClient, &logger), eventBus, service.Options{
		MaxStayNights:     cfg.Booking.MaxStayNights,
		TaxRate:           cfg.Booking.TaxRate,
		ServiceFeeRate:    cfg.Booking.ServiceFeeRate,
		DefaultCurrency:   cfg.Booking.DefaultCurrency,
		ReferenceAttempts: cfg.Booking.ReferenceAttempts,
		IdempotencyTTL:    cfg.Booking.IdempotencyTTL,
		RateLimitAttempts: cfg.Booking.RateLimitAttempts,
		RateLimitWindow:   cfg.Booking.RateLimitWindow,
	}, logging.Component(&logger, "booking"))

	exporter := export.NewExporter(bookingService, catalog, cfg.Exports.Path, logging.Component(&logger, "export"))
	if propertyID := os.Getenv("EXPORT_PROPERTY"); propertyID != "" {
		return runExport(ctx, exporter, propertyID, &logger)
	}

	if cfg.Outbox.Enabled {
		sinks, closeSinks := initSinks(ctx, cfg, &logger)
		defer closeSinks()
		outboxWorker := worker.NewOutboxWorker(db, sinks, redisClient, worker.Options{
			PollInterval: cfg.Outbox.PollInterval,
			BatchSize:    cfg.Outbox.BatchSize,
			Retry:        worker.RetryPolicyFromConfig(cfg.Outbox),
		}, logging.Component(&logger, "outbox"))
		subscribeBookingEvents(eventBus, outboxWorker)
		go outboxWorker.Start(ctx)

		if sqliteDB != nil {
			reportFailedOutbox(ctx, sqliteDB, &logger)
		}
	}

	if cfg.Backup.Enabled && sqliteDB != nil {
		backupService := database.NewBackupService(sqliteDB, cfg.Backup, logging.Component(&logger, "backup"))
		go backupService.Start(ctx)
	}

	startMetrics(ctx, cfg, &logger)

	var grpcServer *api.GRPCServer
	if cfg.API.GRPC.Enabled {
		grpcServer, err = api.NewGRPCServer(&cfg.API, bookingService, &logger)
		if err != nil {
			logger.Error().Err(err).Msg("create grpc server")
			return err
		}
	}
	httpServer := api.NewHTTPServer(cfg.API, bookingService, exporter, bookingService, &logger)

	return startServers(ctx, grpcServer, httpServer, cfg, &logger)
}

func loadConfigAndLogger() (*config.Config, zerolog.Logger, io.Closer, error) {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, zerolog.Logger{}, nil, fmt.Errorf("load config: %w", err)
	}

	baseLogger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return nil, zerolog.Logger{}, nil, fmt.Errorf("init logger: %w", err)
	}
	logger := baseLogger.With().Str("component", "api-main").Logger()

	return cfg, logger, closer, nil
}

func loadCatalog(cfg *config.Config, logger *zerolog.Logger) (*models.CatalogSeed, error) {
	catalogPath := os.Getenv("CATALOG_PATH")
	if catalogPath == "" {
		catalogPath = cfg.Catalog.SeedPath
	}
	data, err := os.ReadFile(catalogPath)
	if err != nil {
		logger.Error().Err(err).Str("catalog_path", catalogPath).Msg("read catalog")
		return nil, err
	}

	var seed models.CatalogSeed
	if err := yaml.Unmarshal(data, &seed); err != nil {
		logger.Error().Err(err).Str("catalog_path", catalogPath).Msg("parse catalog")
		return nil, err
	}
	if err := validateCatalog(&seed); err != nil {
		logger.Error().Err(err).Str("catalog_path", catalogPath).Msg("invalid catalog")
		return nil, err
	}

	logger.Info().
		Int("properties", len(seed.Properties)).
		Int("room_types", len(seed.RoomTypes)).
		Int("promo_codes", len(seed.PromoCodes)).
		Msg("catalog loaded")
	return &seed, nil
}

func validateCatalog(seed *models.CatalogSeed) error {
	properties := make(map[string]bool, len(seed.Properties))
	for _, p := range seed.Properties {
		if p.ID == "" {
			return errors.New("property without id")
		}
		properties[p.ID] = true
	}
	for _, rt := range seed.RoomTypes {
		switch {
		case rt.ID == "":
			return errors.New("room type without id")
		case !properties[rt.PropertyID]:
			return fmt.Errorf("room type %s references unknown property %q", rt.ID, rt.PropertyID)
		case rt.TotalRooms < 1 || rt.MaxOccupancy < 1:
			return fmt.Errorf("room type %s needs positive total_rooms and max_occupancy", rt.ID)
		case rt.BasePricePerNight <= 0:
			return fmt.Errorf("room type %s needs a positive base_price_per_night", rt.ID)
		}
	}
	for _, pc := range seed.PromoCodes {
		if pc.DiscountType != models.DiscountPercentage && pc.DiscountType != models.DiscountFixed {
			return fmt.Errorf("promo code %s has unknown discount_type %q", pc.Code, pc.DiscountType)
		}
	}
	return nil
}

// initDatabase opens the configured store. The SQLite handle is also returned so the
// backup service can use it; it is nil on PostgreSQL.
func initDatabase(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (store, *database.DB, error) {
	if cfg.Database.Driver == "postgres" {
		pg, err := postgres.Connect(ctx, cfg.Database.Postgres.DSN(), logging.Component(logger, "postgres"))
		if err != nil {
			logger.Error().Err(err).Str("host", cfg.Database.Postgres.Host).Msg("init database")
			return nil, nil, err
		}
		return pg, nil, nil
	}

	db, err := database.NewDB(cfg.Database.Path, logging.Component(logger, "database"))
	if err != nil {
		logger.Error().Err(err).Str("db_path", cfg.Database.Path).Msg("init database")
		return nil, nil, err
	}
	return db, db, nil
}

func seedCatalog(ctx context.Context, db store, seed *models.CatalogSeed, days int, logger *zerolog.Logger) error {
	if err := db.SeedCatalog(ctx, seed); err != nil {
		return fmt.Errorf("seed catalog: %w", err)
	}

	today := calendar.Date(time.Now())
	for i := range seed.RoomTypes {
		created, err := db.ProvisionAvailability(ctx, &seed.RoomTypes[i], today, days)
		if err != nil {
			return fmt.Errorf("provision availability: %w", err)
		}
		if created > 0 {
			logger.Info().Str("room_type_id", seed.RoomTypes[i].ID).Int("nights", created).Msg("availability provisioned")
		}
	}
	return nil
}

// reloadCatalogOnHangup re-seeds the catalog file on SIGHUP and drops cached entries.
func reloadCatalogOnHangup(ctx context.Context, cfg *config.Config, db store, catalog *cache.Catalog, logger *zerolog.Logger) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			seed, err := loadCatalog(cfg, logger)
			if err != nil {
				continue
			}
			if err := seedCatalog(ctx, db, seed, cfg.Catalog.ProvisionDays, logger); err != nil {
				logger.Error().Err(err).Msg("catalog reload failed")
				continue
			}
			catalog.Purge()
			logger.Info().Msg("catalog reloaded")
		}
	}
}

func initRedis(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) *redis.Client {
	if cfg.Redis.Address == "" {
		return nil
	}

	redisClient := repository.NewRedisClient(cfg.Redis)
	if err := repository.Ping(ctx, redisClient); err != nil {
		logger.Warn().Err(err).Msg("redis connection failed, continuing without redis")
		_ = redisClient.Close()
		return nil
	}

	logger.Info().Str("addr", cfg.Redis.Address).Msg("redis connected")
	return redisClient
}

// initIdempotencyStore prefers Redis and falls back to process memory while it is down.
func initIdempotencyStore(redisClient *redis.Client, logger *zerolog.Logger) domain.IdempotencyStore {
	memory := repository.NewMemoryIdempotencyStore()
	if redisClient == nil {
		return memory
	}
	return repository.NewFailoverIdempotencyStore(repository.NewRedisIdempotencyStore(redisClient), memory, logging.Component(logger, "idempotency"))
}

func initSinks(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) ([]domain.EventSink, func()) {
	var (
		sinks   []domain.EventSink
		closers []io.Closer
	)

	if cfg.Outbox.Kafka.Enabled {
		kafkaSink := broker.NewKafkaSink(cfg.Outbox.Kafka.Brokers, cfg.Outbox.Kafka.Topic)
		sinks = append(sinks, kafkaSink)
		closers = append(closers, kafkaSink)
		logger.Info().Strs("brokers", cfg.Outbox.Kafka.Brokers).Str("topic", cfg.Outbox.Kafka.Topic).Msg("kafka sink enabled")
	}

	if cfg.Outbox.Sheets.Enabled {
		sheetsSink, err := google.NewSheetsSink(ctx, cfg.Outbox.Sheets.CredentialsFile, cfg.Outbox.Sheets.SpreadsheetID, cfg.Outbox.Sheets.SheetName)
		if err == nil {
			err = sheetsSink.TestConnection(ctx)
		}
		if err != nil {
			logger.Warn().Err(err).Msg("google sheets init failed, continuing without sheets")
		} else {
			if err := sheetsSink.EnsureHeader(ctx); err != nil {
				logger.Warn().Err(err).Msg("google sheets header check failed")
			}
			if err := sheetsSink.WarmUpCache(ctx); err != nil {
				logger.Warn().Err(err).Msg("google sheets cache warm-up failed")
			}
			sinks = append(sinks, sheetsSink)
			logger.Info().Str("spreadsheet_id", cfg.Outbox.Sheets.SpreadsheetID).Msg("google sheets sink enabled")
		}
	}

	if len(sinks) == 0 {
		logger.Warn().Msg("outbox has no sinks; events are marked delivered without leaving the process")
	}

	return sinks, func() {
		for _, c := range closers {
			if err := c.Close(); err != nil {
				logger.Warn().Err(err).Msg("close outbox sink")
			}
		}
	}
}

// subscribeBookingEvents wakes the relay as soon as a booking change is committed.
func subscribeBookingEvents(bus *events.EventBus, outboxWorker *worker.OutboxWorker) {
	wake := func(*events.Event) error {
		outboxWorker.Notify()
		return nil
	}
	bus.Subscribe(events.EventBookingCreated, wake)
	bus.Subscribe(events.EventBookingCancelled, wake)
}

func reportFailedOutbox(ctx context.Context, db *database.DB, logger *zerolog.Logger) {
	failed, err := db.GetFailedOutboxEvents(ctx)
	if err != nil {
		logger.Warn().Err(err).Msg("list failed outbox events")
		return
	}
	if len(failed) > 0 {
		logger.Warn().Int("count", len(failed)).Str("latest_booking_id", failed[0].BookingID).Msg("outbox holds undelivered events")
	}
}

func runExport(ctx context.Context, exporter *export.Exporter, propertyID string, logger *zerolog.Logger) error {
	from, to, err := exportRange(os.Getenv("EXPORT_FROM"), os.Getenv("EXPORT_TO"))
	if err != nil {
		return err
	}
	path, err := exporter.SaveManifest(ctx, propertyID, from, to)
	if err != nil {
		logger.Error().Err(err).Str("property_id", propertyID).Msg("export manifest")
		return err
	}
	logger.Info().Str("file_path", path).Msg("manifest exported")
	return nil
}

// exportRange defaults to the next 30 nights starting today.
func exportRange(fromRaw, toRaw string) (time.Time, time.Time, error) {
	from := calendar.Date(time.Now())
	if s := strings.TrimSpace(fromRaw); s != "" {
		d, err := calendar.ParseDate(s)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("EXPORT_FROM: %w", err)
		}
		from = d
	}
	to := from.AddDate(0, 0, 30)
	if s := strings.TrimSpace(toRaw); s != "" {
		d, err := calendar.ParseDate(s)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("EXPORT_TO: %w", err)
		}
		to = d
	}
	return from, to, nil
}

func startMetrics(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) {
	if !cfg.Monitoring.PrometheusEnabled {
		return
	}

	metrics.Register()
	go startMetricsServer(ctx, cfg.Monitoring.PrometheusPort, logger)
}

func startServers(
	ctx context.Context,
	grpcServer *api.GRPCServer,
	httpServer *api.HTTPServer,
	cfg *config.Config,
	logger *zerolog.Logger,
) error {
	if grpcServer != nil {
		go func() {
			if err := grpcServer.Serve(); err != nil {
				logger.Error().Err(err).Msg("grpc server stopped")
			}
		}()
	}

	go func() {
		if !cfg.API.HTTP.Enabled {
			return
		}
		if err := httpServer.Start(); err != nil {
			logger.Error().Err(err).Msg("http server stopped")
		}
	}()

	ev := logger.Info().Int("http_port", cfg.API.HTTP.Port)
	if grpcServer != nil {
		ev = ev.Str("grpc_addr", grpcServer.Addr())
	}
	ev.Msg("API server started")

	<-ctx.Done()
	logger.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if grpcServer != nil {
		grpcServer.Shutdown(shutdownCtx)
	}
	_ = httpServer.Shutdown(shutdownCtx)

	logger.Info().Msg("API server stopped")
	return nil
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

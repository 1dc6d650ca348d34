package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/logger"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/rajivgeraev/cardtrade-api/internal/apperr"
	"github.com/rajivgeraev/cardtrade-api/internal/config"
	"github.com/rajivgeraev/cardtrade-api/internal/db"
	"github.com/rajivgeraev/cardtrade-api/internal/events"
	applog "github.com/rajivgeraev/cardtrade-api/internal/logger"
	"github.com/rajivgeraev/cardtrade-api/internal/natsbus"
	"github.com/rajivgeraev/cardtrade-api/internal/services/inventory"
	"github.com/rajivgeraev/cardtrade-api/internal/services/invite"
	"github.com/rajivgeraev/cardtrade-api/internal/services/request"
	"github.com/rajivgeraev/cardtrade-api/internal/services/trade"
	"github.com/rajivgeraev/cardtrade-api/internal/store"
	"github.com/rajivgeraev/cardtrade-api/internal/store/memory"
	"github.com/rajivgeraev/cardtrade-api/internal/store/postgres"
	"github.com/rajivgeraev/cardtrade-api/internal/utils"
	"github.com/rajivgeraev/cardtrade-api/internal/valuation"
	"github.com/rajivgeraev/cardtrade-api/internal/websocket"
)

func main() {
	// Загружаем конфигурацию
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("❌ Ошибка конфигурации: %v", err)
	}

	zl, err := applog.New(cfg.IsDevelopment())
	if err != nil {
		log.Fatalf("❌ Ошибка инициализации логгера: %v", err)
	}
	defer func() { _ = zl.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, zl); err != nil {
		zl.Fatal("service stopped with error", zap.Error(err))
	}
}

func run(ctx context.Context, cfg *config.Config, zl *zap.Logger) error {
	jwtService := utils.NewJWTService(cfg.JWTSecret)

	// Хранилище и оценка предметов
	st, valuer, cleanup, err := openStore(ctx, cfg, zl)
	if err != nil {
		return err
	}
	defer cleanup()

	// Сервисы обменов связаны через интерфейсы, поэтому хаб создается раньше сервиса обменов
	var rooms roomAuthorizer
	hub := websocket.NewManager(&rooms, zl)
	defer hub.Shutdown()

	emitters := events.Multi{hub}
	if cfg.NATS.URL != "" {
		bus, err := natsbus.Connect(cfg.NATS, zl)
		if err != nil {
			return err
		}
		defer bus.Close()
		if err := bus.Relay(hub); err != nil {
			return err
		}
		emitters = append(emitters, bus)
	}
	dispatcher := events.NewDispatcher(emitters, events.StoreNotifier{Store: st}, zl)

	tradeService := trade.NewTradeService(st, valuer, dispatcher, jwtService, cfg.Trade, zl)
	requestService := request.NewRequestService(st, tradeService, dispatcher, jwtService, cfg.Trade.PendingTTL, zl)
	inviteService := invite.NewInviteService(st, tradeService, dispatcher, jwtService, zl)
	inventoryService := inventory.NewInventoryService(st, jwtService, zl)

	tradeService.SetRequestReleaser(requestService)
	tradeService.AddObserver(inviteService)
	rooms.trades = tradeService

	// Создаём экземпляр Fiber
	app := fiber.New(fiber.Config{
		AppName:      "Card Trade API",
		ErrorHandler: errorHandler,
	})

	// Добавляем middleware
	app.Use(recover.New())
	app.Use(logger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOrigins(cfg.CORSOrigins),
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowCredentials: false,
	}))

	app.Get("/health", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	// Регистрируем маршруты
	requestService.SetupRoutes(app)
	inviteService.SetupRoutes(app)
	tradeService.SetupRoutes(app)
	inventoryService.SetupRoutes(app)

	// WebSocket работает на отдельном порту поверх net/http
	mux := http.NewServeMux()
	mux.Handle("/ws", hub.Handler(jwtService, cfg.CORSOrigins))
	wsServer := &http.Server{
		Addr:              cfg.WSAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 2)
	go func() {
		zl.Info("websocket server started", zap.String("addr", cfg.WSAddr))
		if err := wsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	go func() {
		zl.Info("✅ Card Trade API запущен", zap.String("addr", cfg.HTTPAddr))
		if err := app.Listen(cfg.HTTPAddr, fiber.ListenConfig{DisableStartupMessage: true}); err != nil {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		zl.Info("shutting down")
	case err := <-errCh:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := wsServer.Shutdown(shutdownCtx); err != nil {
		zl.Warn("websocket server shutdown", zap.Error(err))
	}
	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		zl.Warn("http server shutdown", zap.Error(err))
	}
	return nil
}

// openStore выбирает хранилище и источник цен по STORE_DRIVER
func openStore(ctx context.Context, cfg *config.Config, zl *zap.Logger) (store.Store, valuation.Valuer, func(), error) {
	if cfg.StoreDriver == "memory" {
		st := memory.New()
		if cfg.IsDevelopment() {
			seedDemo(st, utils.NewJWTService(cfg.JWTSecret), zl)
		}
		zl.Warn("using in-memory store, data is not persisted")
		return st, valuation.RecordValuer{}, func() {}, nil
	}

	pool, err := db.InitDB(cfg, zl)
	if err != nil {
		return nil, nil, nil, err
	}
	migrateCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := db.Migrate(migrateCtx, pool); err != nil {
		pool.Close()
		return nil, nil, nil, err
	}

	prices, closePrices, err := priceSource(ctx, cfg, pool, zl)
	if err != nil {
		pool.Close()
		return nil, nil, nil, err
	}
	valuer := valuation.CatalogValuer{Source: prices, Fallback: valuation.RecordValuer{}}

	cleanup := func() {
		closePrices()
		pool.Close()
	}
	return postgres.New(pool), valuer, cleanup, nil
}

// priceSource возвращает цены каталога, закэшированные в Redis, если он настроен
func priceSource(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool, zl *zap.Logger) (valuation.PriceSource, func(), error) {
	catalog := postgres.NewCatalogPrices(pool)
	if cfg.Redis.URL == "" {
		return catalog, func() {}, nil
	}

	opts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		return nil, nil, err
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, err
	}

	cache := valuation.NewRedisCache(client, catalog, cfg.Redis.PriceCacheTTL, zl)
	return cache, func() { _ = client.Close() }, nil
}

func allowedOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"*"}
	}
	return origins
}

// roomAuthorizer откладывает проверку доступа к комнате до создания сервиса обменов
type roomAuthorizer struct {
	trades *trade.TradeService
}

func (r *roomAuthorizer) CanJoinRoom(ctx context.Context, userID uuid.UUID, room string) (bool, error) {
	return r.trades.CanJoinRoom(ctx, userID, room)
}

// errorHandler обрабатывает ошибки Fiber
func errorHandler(c fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Внутренняя ошибка сервера"

	// Проверяем, является ли ошибка из Fiber
	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
		message = fe.Message
	}

	// Отправляем ошибку в JSON
	return c.Status(code).JSON(fiber.Map{
		"error": message,
		"code":  apperr.Code(kindForStatus(code)),
	})
}

func kindForStatus(status int) apperr.Kind {
	switch status {
	case fiber.StatusNotFound:
		return apperr.KindNotFound
	case fiber.StatusBadRequest, fiber.StatusMethodNotAllowed, fiber.StatusRequestEntityTooLarge:
		return apperr.KindInvalid
	case fiber.StatusUnauthorized, fiber.StatusForbidden:
		return apperr.KindForbidden
	}
	return apperr.KindInternal
}

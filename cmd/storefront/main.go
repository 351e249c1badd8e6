// cmd/storefront/main.go
package main

import (
	"context"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"

	"storefront/internal/pkg/bootstrap"
	"storefront/internal/pkg/config"
	"storefront/internal/pkg/database"
	"storefront/internal/pkg/logger"
	"storefront/internal/pkg/mq"
	cartapp "storefront/internal/service/cart/application"
	cartinfra "storefront/internal/service/cart/infrastructure"
	cartifaces "storefront/internal/service/cart/interfaces"
	inventoryapp "storefront/internal/service/inventory/application"
	inventoryinfra "storefront/internal/service/inventory/infrastructure"
	inventoryifaces "storefront/internal/service/inventory/interfaces"
	orderapp "storefront/internal/service/order/application"
	orderinfra "storefront/internal/service/order/infrastructure"
	orderifaces "storefront/internal/service/order/interfaces"
	promoapp "storefront/internal/service/promotion/application"
	promodomain "storefront/internal/service/promotion/domain"
	promoinfra "storefront/internal/service/promotion/infrastructure"
	"storefront/internal/service/promotion/infrastructure/rule"
	promoifaces "storefront/internal/service/promotion/interfaces"
)

const serviceName = "storefront"

// main 是应用的组装根：创建并组装所有依赖项，然后启动服务。
func main() {
	cfg := config.Load()

	db, err := database.Open(cfg.MySQLDSN)
	if err != nil {
		logger.Logger().Fatal().Err(err).Msg("failed to connect database")
	}
	if err := db.AutoMigrate(
		&promoinfra.GiftRuleModel{},
		&promoinfra.GiftConditionModel{},
		&promoinfra.GiftProductModel{},
		&promoinfra.GiftRuleUsageModel{},
		&cartinfra.CartItemModel{},
		&inventoryinfra.ProductModel{},
		&inventoryinfra.StockMovementModel{},
		&orderinfra.OrderModel{},
		&orderinfra.OrderItemModel{},
		&orderinfra.VoucherModel{},
		&orderinfra.UserVoucherModel{},
		&orderinfra.OrderSettingsModel{},
	); err != nil {
		logger.Logger().Fatal().Err(err).Msg("failed to migrate schema")
	}

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	eventWriter := mq.NewKafkaWriter(cfg.KafkaBrokers, cfg.EventsTopic)

	tracer := otel.Tracer(serviceName)
	txRunner := database.NewGormTxRunner(db)

	// promotion
	celEngine, err := rule.NewCELEngine()
	if err != nil {
		logger.Logger().Fatal().Err(err).Msg("failed to build expression engine")
	}
	evaluator := promodomain.NewEvaluator(celEngine)
	ruleRepo := promoinfra.NewGormGiftRuleRepository(db)
	usageRepo := promoinfra.NewGormGiftUsageRepository(db)

	// inventory
	productRepo := inventoryinfra.NewGormProductRepository(db)
	productReader := inventoryinfra.NewPromotionProductReader(productRepo)
	ledger := inventoryapp.NewStockLedger(productRepo, tracer)
	productService := inventoryapp.NewProductService(productRepo, tracer)

	promoService := promoapp.NewPromotionService(ruleRepo, usageRepo, productReader, evaluator, txRunner, tracer)
	giftValidator := promoapp.NewGiftValidator(ruleRepo, usageRepo, productReader, evaluator, tracer)

	// cart
	cartRepo := cartinfra.NewGormCartRepository(db)
	cartService := cartapp.NewCartService(
		cartRepo, ruleRepo, usageRepo, productReader,
		promoService, giftValidator, evaluator, tracer,
	)

	// order
	settingsRepo := orderinfra.NewSettingsCache(orderinfra.NewGormSettingsRepository(db), rdb, cfg.SettingsCacheTTL)
	notifier := orderinfra.NewKafkaNotifier(eventWriter)
	orderService := orderapp.NewOrderService(
		orderinfra.NewGormOrderRepository(db),
		orderinfra.NewGormVoucherRepository(db),
		settingsRepo,
		cartRepo,
		productRepo,
		ledger,
		giftValidator,
		ruleRepo,
		usageRepo,
		productReader,
		notifier,
		txRunner,
		tracer,
	)

	bootstrap.StartService(bootstrap.AppInfo{
		ServiceName:    serviceName,
		Port:           cfg.HTTPPort,
		JaegerEndpoint: cfg.JaegerEndpoint,
		RegisterHandlers: func(appCtx bootstrap.AppCtx) {
			promoifaces.NewPromotionHandler(promoService).RegisterRoutes(appCtx.Mux)
			cartifaces.NewCartHandler(cartService).RegisterRoutes(appCtx.Mux)
			inventoryifaces.NewInventoryHandler(productService, ledger).RegisterRoutes(appCtx.Mux)
			orderifaces.NewOrderHandler(orderService).RegisterRoutes(appCtx.Mux)
		},
		OnShutdown: func(ctx context.Context) {
			if err := eventWriter.Close(); err != nil {
				logger.Logger().Error().Err(err).Msg("failed to close kafka writer")
			}
			if err := rdb.Close(); err != nil {
				logger.Logger().Error().Err(err).Msg("failed to close redis client")
			}
		},
	})
}

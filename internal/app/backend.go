// internal/app/backend.go
package app

import (
	"context"
	"fmt"

	"healthwallet-service/internal/config"
	"healthwallet-service/internal/db"
	"healthwallet-service/internal/domain/topup"
	"healthwallet-service/internal/domain/wallet"
	"healthwallet-service/internal/pkg/gateway"
	"healthwallet-service/internal/pkg/ratelimit"
	"healthwallet-service/internal/pkg/session"
	"healthwallet-service/internal/repository/memory"
	mongorepo "healthwallet-service/internal/repository/mongo"
	"healthwallet-service/internal/repository/postgres"
	"healthwallet-service/internal/service/ledger"
	loyaltySvc "healthwallet-service/internal/service/loyalty"
	"healthwallet-service/internal/service/reconcile"
	topupSvc "healthwallet-service/internal/service/topup"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Infra holds the stores and shared clients. Redis and Mongo are optional;
// without them the limiter, lease and callback archive stay in process.
type Infra struct {
	Store       wallet.Store
	Postgres    *postgres.WalletStore
	Redis       redis.UniversalClient
	Limiter     ratelimit.Limiter
	Locker      ratelimit.Locker
	Revocations session.Revocations
	Callbacks   topup.CallbackLog

	closers []func(context.Context) error
}

// OpenInfra connects everything cfg enables. Call Close when done, even
// after an error.
func OpenInfra(ctx context.Context, cfg config.AppConfig, logger *zap.Logger) (*Infra, error) {
	infra := &Infra{}

	switch cfg.StoreDriver {
	case config.StoreMemory:
		logger.Warn("using in-memory wallet store; data is lost on restart")
		infra.Store = memory.NewStore()
	case config.StorePostgres:
		pool, err := db.ConnectDB(ctx, cfg.Postgres)
		if err != nil {
			return infra, err
		}
		infra.closers = append(infra.closers, func(context.Context) error {
			pool.Close()
			return nil
		})
		pg := postgres.NewWalletStore(pool)
		if cfg.AutoMigrate {
			if err := pg.Migrate(ctx); err != nil {
				return infra, err
			}
			logger.Info("wallet schema migrated")
		}
		infra.Postgres = pg
		infra.Store = pg
		logger.Info("connected to PostgreSQL")
	default:
		return infra, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}

	if len(cfg.Redis.Addresses) > 0 {
		client, err := db.NewRedis(cfg.Redis)
		if err != nil {
			return infra, err
		}
		infra.closers = append(infra.closers, func(context.Context) error { return client.Close() })
		infra.Redis = client
		infra.Limiter = ratelimit.NewRedisLimiter(client, "topup", cfg.TopUpRateLimit, cfg.TopUpRateWindow)
		infra.Locker = ratelimit.NewRedisLocker(client)
		infra.Revocations = session.NewManager(client)
		logger.Info("connected to Redis", zap.Strings("addresses", cfg.Redis.Addresses))
	} else {
		logger.Warn("redis not configured; rate limits and sweep lease are per process")
		infra.Limiter = ratelimit.NewMemoryLimiter(cfg.TopUpRateLimit, cfg.TopUpRateWindow)
		infra.Locker = ratelimit.NewLocalLocker()
		infra.Revocations = session.NewMemoryRevocations()
	}

	if cfg.MongoURI != "" {
		archive, err := mongorepo.NewCallbackLog(ctx, cfg.MongoURI, cfg.MongoDB)
		if err != nil {
			return infra, err
		}
		infra.closers = append(infra.closers, archive.Close)
		infra.Callbacks = archive
		logger.Info("payment callbacks archived to MongoDB", zap.String("database", cfg.MongoDB))
	} else {
		infra.Callbacks = memory.NewCallbackLog()
	}

	return infra, nil
}

// Close releases connections in reverse order of opening.
func (i *Infra) Close(ctx context.Context) error {
	var first error
	for n := len(i.closers) - 1; n >= 0; n-- {
		if err := i.closers[n](ctx); err != nil && first == nil {
			first = err
		}
	}
	i.closers = nil
	return first
}

// Services is the wallet domain wired over an Infra.
type Services struct {
	Tiers     *loyaltySvc.TierTable
	Ledger    *ledger.Service
	Vouchers  *loyaltySvc.VoucherService
	TopUp     *topupSvc.Service
	Reconcile *reconcile.Service
	Sweeper   *topupSvc.Sweeper
	Gateways  *gateway.Registry
}

// NewServices builds the domain services. publisher may be nil when no
// clients can be connected, as in the CLI.
func NewServices(cfg config.AppConfig, infra *Infra, publisher ledger.Publisher, logger *zap.Logger) (*Services, error) {
	tiers, err := loyaltySvc.NewTierTable(loyaltySvc.DefaultTiers())
	if err != nil {
		return nil, err
	}

	gateways := gatewayRegistry(cfg, logger)

	ledgerService := ledger.NewService(infra.Store, tiers, publisher, logger)
	voucherService := loyaltySvc.NewVoucherService(infra.Store, ledgerService, tiers, logger)
	topupService := topupSvc.NewService(infra.Store, gateways, infra.Limiter, cfg.TopUp, logger)
	reconcileService := reconcile.NewService(
		infra.Store,
		gateways,
		ledgerService,
		infra.Callbacks,
		publisher,
		cfg.PointsDivisor,
		logger,
	)

	return &Services{
		Tiers:     tiers,
		Ledger:    ledgerService,
		Vouchers:  voucherService,
		TopUp:     topupService,
		Reconcile: reconcileService,
		Sweeper:   topupSvc.NewSweeper(topupService, infra.Locker, cfg.SweepInterval, logger),
		Gateways:  gateways,
	}, nil
}

func gatewayRegistry(cfg config.AppConfig, logger *zap.Logger) *gateway.Registry {
	var gws []gateway.Gateway
	if cfg.VNPayEnabled() {
		gws = append(gws, gateway.NewVNPay(cfg.VNPay))
	} else {
		logger.Warn("VNPAY credentials missing; VNPAY top-ups disabled")
	}
	if cfg.MoMoEnabled() {
		gws = append(gws, gateway.NewMoMo(cfg.MoMo, nil))
	} else {
		logger.Warn("MoMo credentials missing; MoMo top-ups disabled")
	}
	return gateway.NewRegistry(gws...)
}

// SeedVouchers upserts the configured catalog.
func SeedVouchers(ctx context.Context, cfg config.AppConfig, vouchers *loyaltySvc.VoucherService) (int, error) {
	catalog, err := loyaltySvc.Catalog(cfg.VoucherCatalogPath)
	if err != nil {
		return 0, err
	}
	return vouchers.SeedCatalog(ctx, catalog)
}

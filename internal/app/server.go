// internal/app/server.go
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"healthwallet-service/internal/config"
	chargeHandler "healthwallet-service/internal/handlers/charge"
	paymentHandler "healthwallet-service/internal/handlers/payment"
	topupHandler "healthwallet-service/internal/handlers/topup"
	voucherHandler "healthwallet-service/internal/handlers/voucher"
	walletHandler "healthwallet-service/internal/handlers/wallet"
	wsHandler "healthwallet-service/internal/handlers/websocket"
	"healthwallet-service/internal/middleware"
	"healthwallet-service/internal/pkg/jwt"
	"healthwallet-service/internal/pkg/tracing"
	"healthwallet-service/internal/websocket"
	wsHandlers "healthwallet-service/internal/websocket/handler"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type Server struct {
	cfg    config.AppConfig
	engine *gin.Engine
	logger *zap.Logger
}

func NewServer(cfg config.AppConfig, logger *zap.Logger) *Server {
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	return &Server{cfg: cfg, engine: gin.New(), logger: logger}
}

// Start serves until ctx is cancelled, then drains HTTP and background
// workers before returning.
func (s *Server) Start(ctx context.Context) error {
	logger := s.logger

	// ----- Tracing -----
	shutdownTracing, err := tracing.Init(s.cfg.Tracing)
	if err != nil {
		return fmt.Errorf("failed to initialise tracing: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			logger.Warn("failed to flush traces", zap.Error(err))
		}
	}()

	// ----- Stores, Redis, Mongo -----
	infra, err := OpenInfra(ctx, s.cfg, logger)
	defer func() {
		cctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		if err := infra.Close(cctx); err != nil {
			logger.Warn("failed to close connections", zap.Error(err))
		}
	}()
	if err != nil {
		return fmt.Errorf("failed to open infrastructure: %w", err)
	}

	// ----- JWT -----
	verifier, err := jwt.LoadVerifier(s.cfg.JWT)
	if err != nil {
		return fmt.Errorf("failed to load JWT verifier: %w", err)
	}

	// ----- WebSocket Hub -----
	hub := websocket.NewHub(verifier, infra.Revocations, logger)

	// ----- Services (Usecases) -----
	services, err := NewServices(s.cfg, infra, hub, logger)
	if err != nil {
		return err
	}
	hub.RegisterHandler(wsHandlers.NewWalletHandler(services.Ledger))

	if s.cfg.SeedDefaultVouchers || s.cfg.VoucherCatalogPath != "" {
		if _, err := SeedVouchers(ctx, s.cfg, services.Vouchers); err != nil {
			return fmt.Errorf("failed to seed voucher catalog: %w", err)
		}
	}

	// ----- Handlers -----
	handlers := buildHandlers(s.cfg, infra, services, verifier, hub, logger)

	// ----- Middlewares -----
	s.engine.Use(
		middleware.RecoveryMiddleware(logger),
		middleware.TracingMiddleware(s.cfg.Tracing.ServiceName),
		middleware.LoggingMiddleware(logger),
		middleware.CORSMiddleware(s.cfg.AllowedOrigins),
	)

	// ----- Router -----
	SetupRouter(s.engine, logger, handlers)

	// ----- Run -----
	httpServer := &http.Server{Addr: s.cfg.HTTPAddr, Handler: s.engine}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})
	g.Go(func() error {
		return services.Sweeper.Run(gctx)
	})
	g.Go(func() error {
		logger.Info("server running", zap.String("addr", s.cfg.HTTPAddr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down server")
		sctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(sctx)
	})

	return g.Wait()
}

func buildHandlers(cfg config.AppConfig, infra *Infra, services *Services, verifier *jwt.Verifier, hub *websocket.Hub, logger *zap.Logger) *Handlers {
	return &Handlers{
		WalletHandler:  walletHandler.NewWalletHandler(services.Ledger, services.Tiers),
		TopUpHandler:   topupHandler.NewTopUpHandler(services.TopUp, services.Reconcile),
		WebhookHandler: paymentHandler.NewWebhookHandler(services.Reconcile, logger),
		VoucherHandler: voucherHandler.NewVoucherHandler(services.Vouchers),
		ChargeHandler:  chargeHandler.NewChargeHandler(services.Ledger),
		WSHandler:      wsHandler.NewWebSocketHandler(hub, cfg.AllowedOrigins, logger),
		AuthMiddleware: middleware.NewAuthMiddleware(verifier, infra.Revocations, cfg.InternalAPIKey, logger),
	}
}

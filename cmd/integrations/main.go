package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"

	cacheadapter "github.com/smallbiznis/valora-integrations/internal/adapter/cache"
	"github.com/smallbiznis/valora-integrations/internal/audit"
	"github.com/smallbiznis/valora-integrations/internal/bootstrap"
	"github.com/smallbiznis/valora-integrations/internal/config"
	"github.com/smallbiznis/valora-integrations/internal/domain"
	httptransport "github.com/smallbiznis/valora-integrations/internal/http"
	"github.com/smallbiznis/valora-integrations/internal/http/handler"
	apimiddleware "github.com/smallbiznis/valora-integrations/internal/middleware"
	"github.com/smallbiznis/valora-integrations/internal/provider"
	"github.com/smallbiznis/valora-integrations/internal/repository"
	"github.com/smallbiznis/valora-integrations/internal/scheduler"
	"github.com/smallbiznis/valora-integrations/internal/server"
	"github.com/smallbiznis/valora-integrations/internal/service/integration"
	"github.com/smallbiznis/valora-integrations/internal/telemetry"
	"github.com/smallbiznis/valora-integrations/internal/vault"
)

func main() {
	app := fx.New(
		fx.Provide(
			newConfig,
			newLogger,
			newTelemetry,
			newSnowflake,
			newPGXPool,
			newIntegrationRepository,
			newTokenRepository,
			newConsentRepository,
			newAuditRepository,
			newRedisClient,
			newStateStore,
			newProviderRegistry,
			newCipher,
			newTokenVault,
			newAuditSink,
			newRateLimiter,
			newManager,
			newRefreshSweeper,
			handler.NewIntegrationHandler,
			httptransport.NewRouter,
			server.NewHTTPServer,
		),
		fx.Invoke(useTelemetry, runMigrations, startRefreshSweeper, startHTTPServer),
	)

	app.Run()
}

func newConfig() (config.Config, error) {
	return config.Load()
}

func newLogger(cfg config.Config) (*zap.Logger, error) {
	var (
		logger *zap.Logger
		err    error
	)
	if cfg.Environment == "development" {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		return nil, err
	}
	zap.ReplaceGlobals(logger)
	return logger, nil
}

func newTelemetry(lc fx.Lifecycle, cfg config.Config, logger *zap.Logger) (*telemetry.Provider, error) {
	provider, err := telemetry.New(context.Background(), cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("telemetry init: %w", err)
	}

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			return provider.Shutdown(stopCtx)
		},
	})

	return provider, nil
}

func newSnowflake() (*snowflake.Node, error) {
	node, err := snowflake.NewNode(1)
	return node, err
}

func newPGXPool(lc fx.Lifecycle, cfg config.Config) (*pgxpool.Pool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			pool.Close()
			return nil
		},
	})

	return pool, nil
}

func newIntegrationRepository(pool *pgxpool.Pool, node *snowflake.Node) repository.IntegrationRepository {
	return repository.NewPostgresIntegrationRepo(pool, node)
}

func newTokenRepository(pool *pgxpool.Pool) repository.TokenRepository {
	return repository.NewPostgresTokenRepo(pool)
}

func newConsentRepository(pool *pgxpool.Pool) repository.ConsentRepository {
	return repository.NewPostgresConsentRepo(pool)
}

func newAuditRepository(pool *pgxpool.Pool, node *snowflake.Node) repository.AuditRepository {
	return repository.NewPostgresAuditRepo(pool, node)
}

func newRedisClient(lc fx.Lifecycle, cfg config.Config) (redis.UniversalClient, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return client.Close()
		},
	})
	return client, nil
}

func newStateStore(client redis.UniversalClient) repository.StateStore {
	return cacheadapter.NewRedisStateStore(client)
}

func newProviderRegistry(cfg config.Config) *provider.Registry {
	httpClient := &http.Client{Timeout: cfg.ProviderTimeout}

	var adapters []provider.Adapter
	for name, creds := range cfg.Providers {
		switch name {
		case domain.ProviderGoogle:
			adapters = append(adapters, provider.NewGoogle(httpClient, creds.ClientID, creds.ClientSecret))
		case domain.ProviderMicrosoft:
			adapters = append(adapters, provider.NewMicrosoft(httpClient, creds.ClientID, creds.ClientSecret))
		case domain.ProviderZoom:
			adapters = append(adapters, provider.NewZoom(httpClient, creds.ClientID, creds.ClientSecret))
		case domain.ProviderSlack:
			adapters = append(adapters, provider.NewSlack(httpClient, creds.ClientID, creds.ClientSecret))
		}
	}
	return provider.NewRegistry(adapters...)
}

func newCipher(cfg config.Config) (*vault.Cipher, error) {
	return vault.NewCipher(cfg.EncryptionKeys)
}

func newTokenVault(cipher *vault.Cipher, tokens repository.TokenRepository) *vault.TokenVault {
	return vault.New(cipher, tokens)
}

func newAuditSink(repo repository.AuditRepository, logger *zap.Logger) audit.Sink {
	return audit.NewRepositorySink(repo, logger)
}

func newRateLimiter(cfg config.Config) *apimiddleware.RateLimiter {
	return apimiddleware.NewRateLimiter(cfg.RateLimitRPM)
}

func newManager(
	registry *provider.Registry,
	stateStore repository.StateStore,
	integrations repository.IntegrationRepository,
	consents repository.ConsentRepository,
	tokens *vault.TokenVault,
	sink audit.Sink,
	cfg config.Config,
	logger *zap.Logger,
) integration.Manager {
	return integration.NewManager(registry, stateStore, integrations, consents, tokens, sink, cfg, logger)
}

func newRefreshSweeper(
	integrations repository.IntegrationRepository,
	manager integration.Manager,
	cfg config.Config,
	logger *zap.Logger,
) *scheduler.RefreshSweeper {
	return scheduler.NewRefreshSweeper(integrations, manager, cfg, logger)
}

func runMigrations(cfg config.Config, logger *zap.Logger) error {
	return bootstrap.RunMigrations(cfg, logger)
}

func startRefreshSweeper(lc fx.Lifecycle, sweeper *scheduler.RefreshSweeper) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			return sweeper.Start()
		},
		OnStop: func(context.Context) error {
			sweeper.Stop()
			return nil
		},
	})
}

func startHTTPServer(lc fx.Lifecycle, srv *server.HTTPServer, cfg config.Config, logger *zap.Logger) {
	addr := ":" + cfg.HTTPPort
	var (
		cancel context.CancelFunc
		done   chan struct{}
	)

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			runCtx, stop := context.WithCancel(context.Background())
			cancel = stop
			done = make(chan struct{})

			go func() {
				if err := srv.Run(runCtx, addr); err != nil {
					logger.Error("http server stopped", zap.Error(err))
				}
				close(done)
			}()

			return nil
		},
		OnStop: func(ctx context.Context) error {
			if cancel != nil {
				cancel()
			}
			if done == nil {
				return nil
			}
			select {
			case <-done:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
	})
}

func useTelemetry(*telemetry.Provider) {}

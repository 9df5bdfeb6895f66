// Package app wires configuration into a ready-to-use claim service.
package app

import (
	"context"
	"fmt"

	"github.com/pegged-token/claimer/internal/adapter"
	"github.com/pegged-token/claimer/internal/api"
	"github.com/pegged-token/claimer/internal/circuitbreaker"
	"github.com/pegged-token/claimer/internal/config"
	"github.com/pegged-token/claimer/internal/lock"
	"github.com/pegged-token/claimer/internal/logging"
	"github.com/pegged-token/claimer/internal/service"
	"github.com/pegged-token/claimer/internal/storage"
	"github.com/pegged-token/claimer/internal/types"
)

// App holds the long-lived dependencies of a claimer process
type App struct {
	Config   *config.Config
	Service  *service.ClaimService
	Ledger   *adapter.SolanaAdapter
	Postgres *storage.PostgresDB
	Redis    *storage.RedisCache
	Audit    *storage.ClaimAuditRepository

	closers []func()
}

// New connects to every configured backend and builds the claim service.
// The caller must Close the returned App.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	a := &App{Config: cfg}
	logger := logging.GetGlobalLogger()

	if cfg.Database.Postgres.Enabled {
		pg, err := storage.NewPostgresDB(ctx, &cfg.Database.Postgres)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to Postgres: %w", err)
		}
		a.Postgres = pg
		a.Audit = storage.NewClaimAuditRepository(pg)
		a.closers = append(a.closers, pg.Close)
		logger.Info("Postgres connection established")
	}

	if cfg.Database.Redis.Enabled {
		rc, err := storage.NewRedisCache(ctx, &cfg.Database.Redis)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to connect to Redis: %w", err)
		}
		a.Redis = rc
		a.closers = append(a.closers, func() { _ = rc.Close() })
		logger.Info("Redis connection established")
	}

	store, err := a.recordStore()
	if err != nil {
		a.Close()
		return nil, err
	}

	treasury, err := loadTreasury(&cfg.Solana)
	if err != nil {
		a.Close()
		return nil, err
	}

	ledger, err := adapter.NewSolanaAdapter(adapter.SolanaAdapterConfig{
		Network:           cfg.Solana.Network,
		RPCURL:            cfg.Solana.RPCURL,
		MintAddress:       cfg.Solana.MintAddress,
		Timeout:           cfg.Solana.Timeout,
		ConfirmTimeout:    cfg.Solana.ConfirmTimeout,
		BreakerThreshold:  cfg.Solana.BreakerThreshold,
		RequestsPerSecond: cfg.Solana.RequestsPerSec,
	})
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to create Solana adapter: %w", err)
	}
	a.Ledger = ledger

	var opts []service.Option
	var locker lock.Locker = lock.NewLocalLocker()
	if a.Redis != nil {
		locker = lock.NewRedisLocker(a.Redis.Client(), cfg.Claim.LockTTL)
		opts = append(opts, service.WithBalanceCache(storage.NewBalanceCache(a.Redis, cfg.Claim.StatsCacheTTL)))
	}
	if a.Audit != nil {
		opts = append(opts, service.WithAuditor(a.Audit))
	}

	a.Service = service.NewClaimService(store, ledger, treasury, locker, service.ClaimServiceConfig{
		Account:      cfg.Store.Account,
		StoreTimeout: cfg.Store.Timeout,
		LockWait:     cfg.Claim.LockWait,
	}, opts...)

	logger.WithFields(map[string]interface{}{
		"store":    cfg.Store.Kind,
		"account":  cfg.Store.Account,
		"network":  ledger.Network(),
		"mint":     ledger.Mint(),
		"treasury": treasury.Address(),
		"lock":     fmt.Sprintf("%T", locker),
	}).Info("Claim service initialized")

	return a, nil
}

// recordStore selects the configured account record backend
func (a *App) recordStore() (storage.RecordStore, error) {
	switch a.Config.Store.Kind {
	case types.StorePostgres:
		if a.Postgres == nil {
			return nil, fmt.Errorf("record store %q requires Postgres", a.Config.Store.Kind)
		}
		return storage.WithMetrics(storage.NewAccountRepository(a.Postgres)), nil
	case types.StorePocketBase:
		return storage.WithMetrics(storage.NewPocketBaseStore(&a.Config.Store.PocketBase, a.Config.Store.Timeout)), nil
	default:
		return nil, fmt.Errorf("unknown record store %q", a.Config.Store.Kind)
	}
}

// loadTreasury reads the treasury credential once at startup
func loadTreasury(cfg *config.SolanaConfig) (*adapter.Treasury, error) {
	if cfg.TreasuryKeyFile != "" {
		t, err := adapter.LoadTreasuryFile(cfg.TreasuryKeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load treasury key file: %w", err)
		}
		return t, nil
	}
	t, err := adapter.ParseTreasury(cfg.TreasuryKey)
	if err != nil {
		return nil, fmt.Errorf("failed to parse treasury key: %w", err)
	}
	return t, nil
}

// HealthChecks returns the dependency probes served on /health
func (a *App) HealthChecks() map[string]api.HealthCheck {
	checks := map[string]api.HealthCheck{
		"ledger": func(ctx context.Context) error {
			if stats := a.Ledger.BreakerStats(); stats.State == circuitbreaker.StateOpen {
				return fmt.Errorf("ledger circuit breaker is open since %s", stats.LastStateChange)
			}
			return nil
		},
	}
	if a.Postgres != nil {
		checks["postgres"] = a.Postgres.Ping
	}
	if a.Redis != nil {
		checks["redis"] = a.Redis.Ping
	}
	return checks
}

// Close releases connections in reverse order of creation
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

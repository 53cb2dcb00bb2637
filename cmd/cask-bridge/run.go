package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/devblac/cask-bridge/internal/bridge"
	"github.com/devblac/cask-bridge/internal/chain"
	"github.com/devblac/cask-bridge/internal/config"
	"github.com/devblac/cask-bridge/internal/health"
	"github.com/devblac/cask-bridge/internal/logging"
	"github.com/devblac/cask-bridge/internal/metrics"
	"github.com/devblac/cask-bridge/internal/registry"
	"github.com/devblac/cask-bridge/internal/sink"
	"github.com/devblac/cask-bridge/internal/storage"
	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var (
	flagHealth  string
	flagMetrics string
)

func init() {
	runCmd.Flags().StringVar(&flagHealth, "health", "", "Health check HTTP address (e.g., :8080)")
	runCmd.Flags().StringVar(&flagMetrics, "metrics", "", "Metrics HTTP address (e.g., :9090)")
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Subscribe to the subscriptions contract and forward events to webhooks",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		log := logging.ForVerbose(cfg.Verbose, cfg.LogLevel)
		ctx := cmd.Context()

		chainID, contract, err := resolveChain(ctx, cfg)
		if err != nil {
			return err
		}
		log.Info("chain resolved", "chain_id", chainID, "contract", contract.Hex(), "environment", cfg.Chain.Environment)

		contractABI, err := chain.LoadABI(cfg.Chain.ABIPath)
		if err != nil {
			return err
		}
		decoder, err := chain.NewDecoder(contractABI)
		if err != nil {
			return err
		}

		var mtr *metrics.Metrics
		if flagMetrics != "" {
			mtr = metrics.Init()
			log.Info("metrics enabled", "addr", flagMetrics)
		}

		watcher := chain.NewWatcher(chain.DialWebsocket(cfg.Chain.WSURL), decoder, chain.Options{
			Contract:       contract,
			ChainID:        chainID,
			ReconnectDelay: cfg.ReconnectDelay(),
			MaxReconnects:  cfg.Chain.Reconnect.MaxAttempts,
			Logger:         log,
			Metrics:        mtr,
		})

		opts := bridge.Options{
			Opener:   watcher,
			Sender:   sink.NewDispatcher(cfg.WebhookTimeout(), log),
			SourceID: fmt.Sprintf("%d:%s", chainID, contract.Hex()),
			Metrics:  mtr,
			Logger:   log,
		}
		checker := health.Checker{}

		if cfg.DBPath != "" {
			journal, err := storage.Open(cfg.DBPath)
			if err != nil {
				return fmt.Errorf("open storage: %w", err)
			}
			defer journal.Close()
			opts.Journal = journal
			checker.DBPing = journal.Ping
			log.Info("delivery journal enabled", "path", cfg.DBPath)
		}

		var store *registry.RedisStore
		if cfg.Mode() == config.ModeMulti {
			store, err = registry.NewRedisStore(cfg.Multi.RedisURL, cfg.Multi.MapKey, log)
			if err != nil {
				return err
			}
			defer store.Close()
			if err := store.Ping(ctx); err != nil {
				return fmt.Errorf("%w: %v", registry.ErrRegistryUnavailable, err)
			}
			checker.RegistryPing = store.Ping
		}

		svc := bridge.New(opts)
		checker.ChainPing = health.NewSubscriptionChecker(svc).Ping

		g, gctx := errgroup.WithContext(ctx)
		gctx, cancel := context.WithCancel(gctx)
		defer cancel()
		g.Go(func() error {
			defer cancel()
			if store != nil {
				return svc.RunMultiTenant(gctx, store)
			}
			return svc.RunSingleTenant(gctx, cfg.Single.Providers, cfg.Single.Endpoint)
		})

		if flagHealth != "" {
			healthSrv := health.Serve(flagHealth, checker)
			log.Info("health check enabled", "addr", flagHealth)
			g.Go(func() error {
				<-gctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				return health.Shutdown(shutdownCtx, healthSrv)
			})
		}

		if flagMetrics != "" {
			mux := http.NewServeMux()
			mux.Handle("/metrics", metrics.Handler())
			metricsSrv := &http.Server{Addr: flagMetrics, Handler: mux, ReadHeaderTimeout: 3 * time.Second}
			g.Go(func() error {
				if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("metrics server error", "error", err)
				}
				return nil
			})
			g.Go(func() error {
				<-gctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				return metricsSrv.Shutdown(shutdownCtx)
			})
		}

		if err := g.Wait(); err != nil {
			mtr.Errors()
			log.Error("bridge stopped", "error", err)
			return err
		}
		log.Info("shutdown complete")
		return nil
	},
}

// resolveChain determines the chain id (config override or node query) and the
// subscriptions contract for it.
func resolveChain(ctx context.Context, cfg *config.Config) (uint64, common.Address, error) {
	chainID := cfg.Chain.ChainID
	if chainID == 0 {
		queryCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
		defer cancel()
		id, err := chain.FetchChainID(queryCtx, cfg.Chain.WSURL)
		if err != nil {
			return 0, common.Address{}, fmt.Errorf("resolve chain id: %w", err)
		}
		chainID = id
	}
	contract, err := cfg.ContractFor(chainID)
	if err != nil {
		return 0, common.Address{}, fmt.Errorf("resolve contract: %w", err)
	}
	return chainID, contract, nil
}

package main

import (
	"context"
	"fmt"
	"time"

	"github.com/devblac/cask-bridge/internal/bridge"
	"github.com/devblac/cask-bridge/internal/chain"
	"github.com/devblac/cask-bridge/internal/config"
	"github.com/devblac/cask-bridge/internal/logging"
	"github.com/devblac/cask-bridge/internal/registry"
	"github.com/spf13/cobra"
)

const defaultCheckTimeout = 8 * time.Second

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate config, resolve the contract and ping the chain node and registry",
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()

		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("config invalid: %w", err)
		}
		fmt.Fprintf(out, "config OK (version %d, %s mode)\n", cfg.Version, cfg.Mode())

		ctx, cancel := context.WithTimeout(cmd.Context(), defaultCheckTimeout)
		defer cancel()

		failures := 0

		nodeID, err := chain.FetchChainID(ctx, cfg.Chain.WSURL)
		if err != nil {
			failures++
			fmt.Fprintf(out, "- chain node: ERROR %v\n", err)
		} else {
			fmt.Fprintf(out, "- chain node: chainId %d OK\n", nodeID)
			if cfg.Chain.ChainID != 0 && cfg.Chain.ChainID != nodeID {
				failures++
				fmt.Fprintf(out, "- chain node: configured chain_id %d does not match node\n", cfg.Chain.ChainID)
			}
		}

		chainID := cfg.Chain.ChainID
		if chainID == 0 {
			chainID = nodeID
		}
		if contract, err := cfg.ContractFor(chainID); err != nil {
			failures++
			fmt.Fprintf(out, "- contract: ERROR %v\n", err)
		} else {
			fmt.Fprintf(out, "- contract: %s (%s)\n", contract.Hex(), cfg.Chain.Environment)
		}

		if contractABI, err := chain.LoadABI(cfg.Chain.ABIPath); err != nil {
			failures++
			fmt.Fprintf(out, "- abi: ERROR %v\n", err)
		} else if _, err := chain.NewDecoder(contractABI); err != nil {
			failures++
			fmt.Fprintf(out, "- abi: ERROR %v\n", err)
		} else {
			fmt.Fprintf(out, "- abi: %d events OK\n", len(chain.Variants))
		}

		switch cfg.Mode() {
		case config.ModeMulti:
			n, err := checkRegistry(ctx, cfg)
			if err != nil {
				failures++
				fmt.Fprintf(out, "- registry %s: ERROR %v\n", cfg.Multi.MapKey, err)
			} else {
				fmt.Fprintf(out, "- registry %s: %d providers OK\n", cfg.Multi.MapKey, n)
			}
		default:
			providers, err := bridge.ParseProviders(cfg.Single.Providers)
			if err != nil {
				failures++
				fmt.Fprintf(out, "- providers: ERROR %v\n", err)
			} else {
				fmt.Fprintf(out, "- providers: %d -> %s\n", len(providers), cfg.Single.Endpoint)
			}
		}

		if failures > 0 {
			return fmt.Errorf("validate: %d check(s) failed", failures)
		}

		fmt.Fprintln(out, "validate: success")
		return nil
	},
}

func checkRegistry(ctx context.Context, cfg *config.Config) (int, error) {
	store, err := registry.NewRedisStore(cfg.Multi.RedisURL, cfg.Multi.MapKey, logging.ForVerbose(cfg.Verbose, cfg.LogLevel))
	if err != nil {
		return 0, err
	}
	defer store.Close()
	if err := store.Ping(ctx); err != nil {
		return 0, err
	}
	providers, err := store.Providers(ctx)
	if err != nil {
		return 0, err
	}
	return len(providers), nil
}

package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/spf13/cobra"
)

var flagForce bool

func init() {
	initCmd.Flags().BoolVar(&flagForce, "force", false, "Overwrite an existing config file")
}

const sampleConfig = `version: 1

chain:
  ws_url: ${WEBSOCKET_PROVIDER}
  environment: production
  # chain_id: 137          # queried from the node when unset
  # contract: "0x..."      # overrides the deployments table
  # abi_path: ./abi/CaskSubscriptions.json
  deployments:
    production:
      137: "0x0000000000000000000000000000000000000000"
  reconnect:
    delay: 5s
    max_attempts: 0        # 0 retries forever

# Single-tenant: every listed provider posts to one endpoint.
single:
  providers: "0x0000000000000000000000000000000000000000"
  endpoint: https://example.com/cask/webhook

# Multi-tenant: providers and endpoints live in a Redis hash. Use instead of single.
# multi:
#   redis_url: redis://localhost:6379/0
#   map_key: CaskProviderMap

webhook:
  timeout: 15s

verbose: false
# db_path: ./cask-bridge.db  # delivery journal for state/export
`

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a sample config file",
	RunE: func(cmd *cobra.Command, args []string) error {
		if !flagForce {
			if _, err := os.Stat(cfgPath); err == nil {
				return fmt.Errorf("%s already exists (use --force to overwrite)", cfgPath)
			} else if !errors.Is(err, fs.ErrNotExist) {
				return fmt.Errorf("stat %s: %w", cfgPath, err)
			}
		}
		if err := os.WriteFile(cfgPath, []byte(sampleConfig), 0o644); err != nil {
			return fmt.Errorf("write config: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", cfgPath)
		return nil
	},
}

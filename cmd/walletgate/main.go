package main

import (
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "walletgate",
		Short: "Wallet authentication and session service",
		Long: `walletgate authenticates browser users with a wallet extension or a
zero-knowledge OAuth login, keeps one resolved wallet per browser session and
runs the time-boxed unlock window.

Example:
  walletgate serve --config walletgate.yaml
  walletgate address --token eyJ... --salt 1234`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(newServeCmd(), newAddressCmd())
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		log.Error().Err(err).Msg("walletgate failed")
		os.Exit(1)
	}
}

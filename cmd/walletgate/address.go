package main

import (
	"fmt"

	"github.com/layer-3/walletgate/adapters/tokenizer"
	"github.com/layer-3/walletgate/core"
	"github.com/spf13/cobra"
)

func newAddressCmd() *cobra.Command {
	var token, salt string

	cmd := &cobra.Command{
		Use:   "address",
		Short: "Print the zk identity address of an identity token and salt",
		RunE: func(cmd *cobra.Command, _ []string) error {
			claims, err := tokenizer.NewIDTokenDecoder().Decode(token)
			if err != nil {
				return err
			}

			address, err := core.DeriveAddress(claims, salt)
			if err != nil {
				return err
			}

			_, err = fmt.Fprintln(cmd.OutOrStdout(), address)
			return err
		},
	}

	cmd.Flags().StringVar(&token, "token", "", "identity token (JWT) issued by the provider")
	cmd.Flags().StringVar(&salt, "salt", "", "user salt as a decimal integer")
	_ = cmd.MarkFlagRequired("token")
	_ = cmd.MarkFlagRequired("salt")

	return cmd
}

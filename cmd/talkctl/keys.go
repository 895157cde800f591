package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"talk.mini/talk/internal/identity"
)

func newKeygenCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate an ed25519 key and print its public key",
		RunE: func(cmd *cobra.Command, args []string) error {
			priv, err := identity.GenerateKeyFile(out)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Key generated: %s\n%s\n", out, identity.GetPublicKeyHex(priv))
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "talk_key.pem", "output file")
	return cmd
}

func newPubkeyCmd(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "pubkey",
		Short: "Print the public key of --key in hex",
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := identity.LoadIdentity(g.keyFile)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), id.PublicKeyHex())
			return nil
		},
	}
}

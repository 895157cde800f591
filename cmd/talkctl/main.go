// Command talkctl signs talk transactions and broadcasts them to a node.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"talk.mini/talk/internal/tendermint"
	"talk.mini/talk/internal/types"
)

type globalOptions struct {
	keyFile string
	rpcAddr string
	sync    bool
}

// client connects to --rpc, falling back to $TALK_TENDERMINT_RPC.
func (g *globalOptions) client() (*tendermint.BroadcastClient, error) {
	addr := g.rpcAddr
	if addr == "" {
		addr = os.Getenv("TALK_TENDERMINT_RPC")
	}
	return tendermint.NewBroadcastClient(addr)
}

func newRootCmd() *cobra.Command {
	g := &globalOptions{}

	root := &cobra.Command{
		Use:           "talkctl",
		Short:         "Post messages and likes to a talk network",
		Version:       types.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.CompletionOptions.DisableDefaultCmd = true

	root.PersistentFlags().StringVarP(&g.keyFile, "key", "k", "talk_key.pem", "ed25519 private key (PEM)")
	root.PersistentFlags().StringVar(&g.rpcAddr, "rpc", "", "Tendermint RPC address (default $TALK_TENDERMINT_RPC or http://localhost:26657)")
	root.PersistentFlags().BoolVar(&g.sync, "sync", false, "return after CheckTx instead of waiting for the block")

	root.AddCommand(newKeygenCmd(), newPubkeyCmd(g), newPostCmd(g), newLikeCmd(g), newStatusCmd(g))
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// Command talkd runs a talk replica: the ABCI application Tendermint drives
// plus the operator HTTP API.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"talk.mini/talk/internal/types"
)

func newRootCmd() *cobra.Command {
	var opts options

	cmd := &cobra.Command{
		Use:           "talkd",
		Short:         "Run a talk ledger replica",
		Version:       types.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), opts)
		},
	}
	cmd.CompletionOptions.DisableDefaultCmd = true

	cmd.Flags().StringVarP(&opts.configPath, "config", "c", "", "config file path (default $TALK_CONFIG_FILE)")
	cmd.Flags().BoolVar(&opts.initNode, "init-node", false, "run `tendermint init` in the Tendermint home when needed")
	cmd.Flags().BoolVar(&opts.withNode, "with-node", false, "start a Tendermint node process pointed at our socket")
	return cmd
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

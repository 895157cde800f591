package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"talk.mini/talk/internal/identity"
	"talk.mini/talk/internal/types"
)

const broadcastTimeout = 30 * time.Second

func newPostCmd(g *globalOptions) *cobra.Command {
	var p types.PostPayload
	cmd := &cobra.Command{
		Use:   "post",
		Short: "Post a message, optionally as a reply",
		RunE: func(cmd *cobra.Command, args []string) error {
			return submit(cmd, g, types.TxPost, func(id *identity.Identity) any {
				if p.User == "" {
					p.User = id.PublicKeyHex()
				}
				return p
			})
		},
	}
	cmd.Flags().Uint64Var(&p.ID, "id", 0, "message id below 1000000000, 0 to let the ledger choose")
	cmd.Flags().Uint64Var(&p.ReplyTo, "reply-to", 0, "id of the message replied to")
	cmd.Flags().StringVarP(&p.User, "user", "u", "", "author (default: the key's public key hex)")
	cmd.Flags().StringVarP(&p.Content, "content", "m", "", "message text")
	return cmd
}

func newLikeCmd(g *globalOptions) *cobra.Command {
	var p types.LikePayload
	cmd := &cobra.Command{
		Use:   "like",
		Short: "Like a message",
		RunE: func(cmd *cobra.Command, args []string) error {
			return submit(cmd, g, types.TxLike, func(id *identity.Identity) any {
				if p.User == "" {
					p.User = id.PublicKeyHex()
				}
				return p
			})
		},
	}
	cmd.Flags().Uint64Var(&p.ID, "id", 0, "id of the message to like")
	cmd.Flags().StringVarP(&p.User, "user", "u", "", "liking user (default: the key's public key hex)")
	cmd.MarkFlagRequired("id")
	return cmd
}

// submit signs the payload with --key and broadcasts it.
func submit(cmd *cobra.Command, g *globalOptions, txType types.TxType, payload func(*identity.Identity) any) error {
	id, err := identity.LoadIdentity(g.keyFile)
	if err != nil {
		return err
	}

	tx, err := types.NewTransaction(txType, payload(id))
	if err != nil {
		return err
	}
	signed, err := tx.Sign(id)
	if err != nil {
		return err
	}

	client, err := g.client()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), broadcastTimeout)
	defer cancel()

	out := cmd.OutOrStdout()
	if g.sync {
		res, err := client.BroadcastSignedTransaction(ctx, signed)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "accepted %s\n", res.Hash)
		return nil
	}

	res, err := client.BroadcastSignedTransactionCommit(ctx, signed)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "committed %s at height %d\n", res.Hash, res.Height)
	if len(res.Data) > 0 {
		fmt.Fprintf(out, "%s\n", res.Data)
	}
	return nil
}

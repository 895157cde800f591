package tendermint

import (
	"context"
	"encoding/json"
	"fmt"

	rpchttp "github.com/tendermint/tendermint/rpc/client/http"
	tmtypes "github.com/tendermint/tendermint/types"

	"talk.mini/talk/internal/abci"
	"talk.mini/talk/internal/types"
)

// DefaultRPCAddress is the Tendermint RPC endpoint used when none is configured.
const DefaultRPCAddress = "http://localhost:26657"

// BroadcastResult describes a transaction accepted by the network.
type BroadcastResult struct {
	Hash   string
	Height int64
	// Data is the DeliverTx payload, the message as stored. Empty for sync
	// broadcasts.
	Data []byte
}

// BroadcastClient submits transactions to a Tendermint node.
type BroadcastClient struct {
	rpc *rpchttp.HTTP
}

// NewBroadcastClient connects to the RPC endpoint at rpcAddr
// (e.g. "http://localhost:26657").
func NewBroadcastClient(rpcAddr string) (*BroadcastClient, error) {
	if rpcAddr == "" {
		rpcAddr = DefaultRPCAddress
	}
	c, err := rpchttp.New(rpcAddr, "/websocket")
	if err != nil {
		return nil, fmt.Errorf("create rpc client: %w", err)
	}
	return &BroadcastClient{rpc: c}, nil
}

// BroadcastTxSync returns once CheckTx has accepted the transaction.
func (bc *BroadcastClient) BroadcastTxSync(ctx context.Context, tx []byte) (*BroadcastResult, error) {
	res, err := bc.rpc.BroadcastTxSync(ctx, tmtypes.Tx(tx))
	if err != nil {
		return nil, fmt.Errorf("broadcast_tx_sync: %w", err)
	}
	if err := abci.ErrorForCode(res.Code, res.Log); err != nil {
		return nil, fmt.Errorf("check tx: %w", err)
	}
	return &BroadcastResult{Hash: res.Hash.String()}, nil
}

// BroadcastTxCommit waits until the transaction is in a block. A rejection
// from either CheckTx or DeliverTx comes back as an error that matches the
// ledger sentinels with errors.Is.
func (bc *BroadcastClient) BroadcastTxCommit(ctx context.Context, tx []byte) (*BroadcastResult, error) {
	res, err := bc.rpc.BroadcastTxCommit(ctx, tmtypes.Tx(tx))
	if err != nil {
		return nil, fmt.Errorf("broadcast_tx_commit: %w", err)
	}
	if err := abci.ErrorForCode(res.CheckTx.Code, res.CheckTx.Log); err != nil {
		return nil, fmt.Errorf("check tx: %w", err)
	}
	if err := abci.ErrorForCode(res.DeliverTx.Code, res.DeliverTx.Log); err != nil {
		return nil, fmt.Errorf("deliver tx: %w", err)
	}
	return &BroadcastResult{
		Hash:   res.Hash.String(),
		Height: res.Height,
		Data:   res.DeliverTx.Data,
	}, nil
}

// BroadcastSignedTransaction marshals signedTx and broadcasts it in sync mode.
func (bc *BroadcastClient) BroadcastSignedTransaction(ctx context.Context, signedTx *types.SignedTransaction) (*BroadcastResult, error) {
	txBytes, err := json.Marshal(signedTx)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal transaction: %w", err)
	}
	return bc.BroadcastTxSync(ctx, txBytes)
}

// BroadcastSignedTransactionCommit is like BroadcastSignedTransaction but waits for commit.
func (bc *BroadcastClient) BroadcastSignedTransactionCommit(ctx context.Context, signedTx *types.SignedTransaction) (*BroadcastResult, error) {
	txBytes, err := json.Marshal(signedTx)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal transaction: %w", err)
	}
	return bc.BroadcastTxCommit(ctx, txBytes)
}

// LatestHeight asks the node for its latest block height.
func (bc *BroadcastClient) LatestHeight(ctx context.Context) (int64, error) {
	st, err := bc.rpc.Status(ctx)
	if err != nil {
		return 0, fmt.Errorf("status: %w", err)
	}
	return st.SyncInfo.LatestBlockHeight, nil
}

package main

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tmabci "github.com/tendermint/tendermint/abci/types"
	ctypes "github.com/tendermint/tendermint/rpc/core/types"
	rpctypes "github.com/tendermint/tendermint/rpc/jsonrpc/types"

	"talk.mini/talk/internal/abci"
	"talk.mini/talk/internal/identity"
	"talk.mini/talk/internal/ledger"
	"talk.mini/talk/internal/types"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

// fakeNode answers broadcast_tx_commit by running the transaction through a
// real application, and records the transactions it saw.
func fakeNode(t *testing.T, app *abci.ABCIApplication) (*httptest.Server, *[][]byte) {
	t.Helper()
	var seen [][]byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpctypes.RPCRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		var params struct {
			Tx string `json:"tx"`
		}
		require.NoError(t, json.Unmarshal(req.Params, &params))
		tx, err := base64.StdEncoding.DecodeString(params.Tx)
		require.NoError(t, err)
		seen = append(seen, tx)

		check := app.CheckTx(tmabci.RequestCheckTx{Tx: tx})
		res := &ctypes.ResultBroadcastTxCommit{CheckTx: check, Hash: []byte{0x01}, Height: 1}
		if check.Code == abci.CodeTypeOK {
			res.DeliverTx = app.DeliverTx(tmabci.RequestDeliverTx{Tx: tx})
			app.Commit()
		}
		json.NewEncoder(w).Encode(rpctypes.NewRPCSuccessResponse(req.ID, res))
	}))
	t.Cleanup(srv.Close)
	return srv, &seen
}

func TestKeygenAndPubkey(t *testing.T) {
	key := filepath.Join(t.TempDir(), "k.pem")

	out, err := execute(t, "keygen", "--out", key)
	require.NoError(t, err)
	assert.Contains(t, out, "Key generated: "+key)

	id, err := identity.LoadIdentity(key)
	require.NoError(t, err)
	assert.Contains(t, out, id.PublicKeyHex())

	out, err = execute(t, "pubkey", "--key", key)
	require.NoError(t, err)
	assert.Equal(t, id.PublicKeyHex()+"\n", out)
}

func TestPostAndLike(t *testing.T) {
	key := filepath.Join(t.TempDir(), "k.pem")
	_, err := execute(t, "keygen", "--out", key)
	require.NoError(t, err)
	id, err := identity.LoadIdentity(key)
	require.NoError(t, err)

	l := ledger.New(ledger.NewMemoryBackend())
	app, err := abci.NewABCIApplication(l, nil, nil)
	require.NoError(t, err)
	node, seen := fakeNode(t, app)

	out, err := execute(t, "post", "--key", key, "--rpc", node.URL, "--content", "hello")
	require.NoError(t, err)
	assert.Contains(t, out, "committed 01 at height 1")
	assert.Contains(t, out, `"id":1000000000`)

	_, err = execute(t, "like", "--key", key, "--rpc", node.URL, "--id", "1000000000")
	require.NoError(t, err)

	_, err = execute(t, "like", "--key", key, "--rpc", node.URL, "--id", "1000000000")
	require.Error(t, err)
	assert.ErrorIs(t, err, ledger.ErrConflict)
	assert.True(t, strings.HasSuffix(err.Error(), id.PublicKeyHex()+" has already liked that post"))

	require.Len(t, *seen, 3)
	st, err := types.DecodeSignedTransaction((*seen)[0])
	require.NoError(t, err)
	assert.Equal(t, id.PublicKeyHex(), st.SignerHex())

	m, ok, err := l.Message(ledger.ReservedIDStart)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint64(1), m.Likes)
}

func TestPostAsAnotherUserIsRejected(t *testing.T) {
	key := filepath.Join(t.TempDir(), "k.pem")
	_, err := execute(t, "keygen", "--out", key)
	require.NoError(t, err)

	app, err := abci.NewABCIApplication(ledger.New(ledger.NewMemoryBackend()), nil, nil)
	require.NoError(t, err)
	node, _ := fakeNode(t, app)

	_, err = execute(t, "post", "--key", key, "--rpc", node.URL, "--user", "alice", "--content", "forged")
	assert.ErrorIs(t, err, ledger.ErrAuthorization)
	assert.Contains(t, err.Error(), "missing authority of alice")
}

func TestLikeRequiresID(t *testing.T) {
	_, err := execute(t, "like")
	assert.Error(t, err)
}

func TestStatusPrintsHeight(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpctypes.RPCRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "status", req.Method)
		res := &ctypes.ResultStatus{SyncInfo: ctypes.SyncInfo{LatestBlockHeight: 42}}
		json.NewEncoder(w).Encode(rpctypes.NewRPCSuccessResponse(req.ID, res))
	}))
	defer srv.Close()

	out, err := execute(t, "status", "--rpc", srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "height 42\n", out)
}

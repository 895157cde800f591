package abci

import (
	"crypto/sha256"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tmabci "github.com/tendermint/tendermint/abci/types"

	"talk.mini/talk/internal/events"
	"talk.mini/talk/internal/identity"
	"talk.mini/talk/internal/ledger"
	"talk.mini/talk/internal/metrics"
	"talk.mini/talk/internal/types"
)

func newIdentity(t *testing.T, name string) *identity.Identity {
	t.Helper()
	id, err := identity.LoadOrCreateIdentity(filepath.Join(t.TempDir(), name+".pem"))
	require.NoError(t, err)
	return id
}

func signTx(t *testing.T, signer types.Signer, txType types.TxType, payload any) []byte {
	t.Helper()
	tx, err := types.NewTransaction(txType, payload)
	require.NoError(t, err)
	stx, err := tx.Sign(signer)
	require.NoError(t, err)
	raw, err := json.Marshal(stx)
	require.NoError(t, err)
	return raw
}

func newApp(t *testing.T, keyring *identity.Keyring, hub *events.Hub) *ABCIApplication {
	t.Helper()
	app, err := NewABCIApplication(ledger.New(ledger.NewMemoryBackend()), keyring, hub)
	require.NoError(t, err)
	return app
}

func TestPostCheckAndDeliver(t *testing.T) {
	id := newIdentity(t, "alice")
	app := newApp(t, nil, nil)

	raw := signTx(t, id, types.TxPost, types.PostPayload{User: id.PublicKeyHex(), Content: "hi"})

	check := app.CheckTx(tmabci.RequestCheckTx{Tx: raw})
	require.Equal(t, CodeTypeOK, check.Code, check.Log)

	app.BeginBlock(tmabci.RequestBeginBlock{})
	deliver := app.DeliverTx(tmabci.RequestDeliverTx{Tx: raw})
	require.Equal(t, CodeTypeOK, deliver.Code, deliver.Log)

	var msg types.Message
	require.NoError(t, json.Unmarshal(deliver.Data, &msg))
	assert.Equal(t, ledger.ReservedIDStart, msg.ID)
	assert.Equal(t, "hi", msg.Content)

	// staged until the block commits
	_, ok, err := app.ledger.Message(msg.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	app.Commit()
	stored, ok, err := app.ledger.Message(msg.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, msg, stored)
}

func TestCheckTxRejectsInvalidSignature(t *testing.T) {
	a := newIdentity(t, "a")
	b := newIdentity(t, "b")
	app := newApp(t, nil, nil)

	tx, err := types.NewTransaction(types.TxPost, types.PostPayload{User: a.PublicKeyHex()})
	require.NoError(t, err)
	stx, err := tx.Sign(b)
	require.NoError(t, err)
	// claim A's key while keeping B's signature
	stx.PublicKey = a.PublicKey()
	raw, err := json.Marshal(stx)
	require.NoError(t, err)

	resp := app.CheckTx(tmabci.RequestCheckTx{Tx: raw})
	assert.Equal(t, CodeTypeAuthError, resp.Code)
	assert.Equal(t, "invalid signature", resp.Log)

	dresp := app.DeliverTx(tmabci.RequestDeliverTx{Tx: raw})
	assert.Equal(t, CodeTypeAuthError, dresp.Code)
}

func TestCheckTxCodes(t *testing.T) {
	alice := newIdentity(t, "alice")
	mallory := newIdentity(t, "mallory")
	keyring, err := identity.NewKeyring(map[string]string{"alice": alice.PublicKeyHex()})
	require.NoError(t, err)
	app := newApp(t, keyring, nil)

	tests := []struct {
		name string
		raw  []byte
		code uint32
		log  string
	}{
		{
			name: "not json",
			raw:  []byte("{nope"),
			code: CodeTypeEncodingError,
		},
		{
			name: "registered name with its key",
			raw:  signTx(t, alice, types.TxPost, types.PostPayload{User: "alice", Content: "hi"}),
			code: CodeTypeOK,
		},
		{
			name: "registered name with another key",
			raw:  signTx(t, mallory, types.TxPost, types.PostPayload{User: "alice"}),
			code: CodeTypeAuthError,
			log:  "missing authority of alice",
		},
		{
			name: "unregistered key identity",
			raw:  signTx(t, mallory, types.TxLike, types.LikePayload{ID: 1, User: mallory.PublicKeyHex()}),
			code: CodeTypeOK,
		},
		{
			name: "reserved id",
			raw:  signTx(t, alice, types.TxPost, types.PostPayload{ID: ledger.ReservedIDStart, User: "alice"}),
			code: CodeTypeValidationError,
			log:  "supplied id 1000000000 too large",
		},
		{
			name: "missing reply target outranks the id bound",
			raw:  signTx(t, alice, types.TxPost, types.PostPayload{ID: ledger.ReservedIDStart, ReplyTo: 5, User: "alice"}),
			code: CodeTypeReferenceError,
			log:  "reply target 5 does not exist",
		},
		{
			name: "unknown type",
			raw:  signTx(t, alice, types.TxType("delete"), types.LikePayload{ID: 1, User: "alice"}),
			code: CodeTypeInvalidTx,
		},
		{
			name: "like with a payload of the wrong shape",
			raw:  signTx(t, alice, types.TxLike, map[string]any{"id": "one"}),
			code: CodeTypeEncodingError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := app.CheckTx(tmabci.RequestCheckTx{Tx: tt.raw})
			assert.Equal(t, tt.code, resp.Code, resp.Log)
			if tt.log != "" {
				assert.Equal(t, tt.log, resp.Log)
			}
		})
	}
}

func TestDeliverTxMapsLedgerErrors(t *testing.T) {
	id := newIdentity(t, "alice")
	user := id.PublicKeyHex()
	app := newApp(t, nil, nil)

	post := app.DeliverTx(tmabci.RequestDeliverTx{Tx: signTx(t, id, types.TxPost, types.PostPayload{ID: 10, User: user})})
	require.Equal(t, CodeTypeOK, post.Code, post.Log)

	resp := app.DeliverTx(tmabci.RequestDeliverTx{Tx: signTx(t, id, types.TxPost, types.PostPayload{ReplyTo: 99, User: user})})
	assert.Equal(t, CodeTypeReferenceError, resp.Code)
	assert.Equal(t, "reply target 99 does not exist", resp.Log)

	resp = app.DeliverTx(tmabci.RequestDeliverTx{Tx: signTx(t, id, types.TxPost, types.PostPayload{ID: 10, User: user})})
	assert.Equal(t, CodeTypeConflictError, resp.Code)

	resp = app.DeliverTx(tmabci.RequestDeliverTx{Tx: signTx(t, id, types.TxLike, types.LikePayload{ID: 11, User: user})})
	assert.Equal(t, CodeTypeReferenceError, resp.Code)
	assert.Equal(t, "no post exists with id: 11", resp.Log)

	// identical logical likes still travel as distinct bytes
	first := signTx(t, id, types.TxLike, types.LikePayload{ID: 10, User: user})
	second := signTx(t, id, types.TxLike, types.LikePayload{ID: 10, User: user})
	assert.NotEqual(t, first, second)

	resp = app.DeliverTx(tmabci.RequestDeliverTx{Tx: first})
	require.Equal(t, CodeTypeOK, resp.Code, resp.Log)
	resp = app.DeliverTx(tmabci.RequestDeliverTx{Tx: second})
	assert.Equal(t, CodeTypeConflictError, resp.Code)
	assert.Equal(t, user+" has already liked that post", resp.Log)

	assert.ErrorIs(t, ErrorForCode(resp.Code, resp.Log), ledger.ErrConflict)
	app.Commit()
	require.NoError(t, app.ledger.Audit())
}

func TestAppHashAndCommit(t *testing.T) {
	id := newIdentity(t, "alice")
	backend := ledger.NewMemoryBackend()
	app, err := NewABCIApplication(ledger.New(backend), nil, nil)
	require.NoError(t, err)

	ok := signTx(t, id, types.TxPost, types.PostPayload{User: id.PublicKeyHex(), Content: "one"})
	rejected := signTx(t, id, types.TxPost, types.PostPayload{User: "someone else"})

	require.Equal(t, CodeTypeOK, app.DeliverTx(tmabci.RequestDeliverTx{Tx: ok}).Code)
	require.Equal(t, CodeTypeAuthError, app.DeliverTx(tmabci.RequestDeliverTx{Tx: rejected}).Code)

	want := sha256.Sum256(ok)
	commit := app.Commit()
	assert.Equal(t, want[:], commit.Data, "only successful transactions feed the app hash")

	info := app.Info(tmabci.RequestInfo{})
	assert.Equal(t, int64(1), info.LastBlockHeight)
	assert.Equal(t, want[:], info.LastBlockAppHash)

	stored, err := backend.LastCommit()
	require.NoError(t, err)
	assert.Equal(t, int64(1), stored.Height)

	// a restarted application resumes at the stored commit
	restarted, err := NewABCIApplication(ledger.New(backend), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), restarted.Info(tmabci.RequestInfo{}).LastBlockHeight)
}

func TestDeliverTxPublishesEvents(t *testing.T) {
	id := newIdentity(t, "alice")
	user := id.PublicKeyHex()
	hub := events.NewHub()
	sub, unsubscribe := hub.Subscribe()
	defer unsubscribe()
	app := newApp(t, nil, hub)

	require.Equal(t, CodeTypeOK, app.DeliverTx(tmabci.RequestDeliverTx{Tx: signTx(t, id, types.TxPost, types.PostPayload{ID: 1, User: user, Content: "x"})}).Code)
	require.Equal(t, CodeTypeOK, app.DeliverTx(tmabci.RequestDeliverTx{Tx: signTx(t, id, types.TxLike, types.LikePayload{ID: 1, User: user})}).Code)
	require.NotEqual(t, CodeTypeOK, app.DeliverTx(tmabci.RequestDeliverTx{Tx: signTx(t, id, types.TxLike, types.LikePayload{ID: 1, User: user})}).Code)

	select {
	case ev := <-sub:
		t.Fatalf("event %+v published before commit", ev)
	default:
	}
	app.Commit()

	ev := <-sub
	assert.Equal(t, events.KindMessagePosted, ev.Kind)
	assert.Equal(t, uint64(1), ev.Message.ID)

	ev = <-sub
	assert.Equal(t, events.KindMessageLiked, ev.Kind)
	assert.Equal(t, uint64(1), ev.Message.Likes)

	select {
	case ev := <-sub:
		t.Fatalf("rejected transaction published %+v", ev)
	default:
	}
}

func TestDeliverTxCountsUndecodablePayloads(t *testing.T) {
	id := newIdentity(t, "alice")
	app := newApp(t, nil, nil)
	rejected := metrics.OperationsTotal.WithLabelValues(string(types.TxLike), metrics.ResultRejected)
	before := testutil.ToFloat64(rejected)

	resp := app.DeliverTx(tmabci.RequestDeliverTx{Tx: signTx(t, id, types.TxLike, map[string]any{"id": "one"})})
	assert.Equal(t, CodeTypeEncodingError, resp.Code)
	assert.Equal(t, before+1, testutil.ToFloat64(rejected))
}

func TestQueryReturnsOK(t *testing.T) {
	app := newApp(t, nil, nil)
	assert.Equal(t, CodeTypeOK, app.Query(tmabci.RequestQuery{Path: "/messages"}).Code)
}

func TestErrorForCode(t *testing.T) {
	assert.NoError(t, ErrorForCode(CodeTypeOK, ""))
	assert.ErrorIs(t, ErrorForCode(CodeTypeReferenceError, "reply target 1 does not exist"), ledger.ErrReference)
	assert.EqualError(t, ErrorForCode(CodeTypeAuthError, "missing authority of bob"), "missing authority of bob")
	assert.EqualError(t, ErrorForCode(CodeTypeInternalError, ""), "transaction rejected")
}

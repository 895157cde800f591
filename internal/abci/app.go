// Package abci contains the ABCI application that connects the talk ledger to
// the Tendermint consensus engine. CheckTx admits transactions to the mempool
// after the stateless checks; DeliverTx applies them to the ledger in block
// order, so every replica reaches the same state. A block's operations are
// staged until Commit writes them together with the new height, so a replica
// that stops mid-block restarts at the previous commit and replays the block.
package abci

import (
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	abci "github.com/tendermint/tendermint/abci/types"

	"talk.mini/talk/internal/events"
	"talk.mini/talk/internal/identity"
	"talk.mini/talk/internal/ledger"
	"talk.mini/talk/internal/metrics"
	"talk.mini/talk/internal/types"
)

const (
	CodeTypeOK              uint32 = 0
	CodeTypeEncodingError   uint32 = 1
	CodeTypeAuthError       uint32 = 2
	CodeTypeInvalidTx       uint32 = 3
	CodeTypeValidationError uint32 = 4
	CodeTypeReferenceError  uint32 = 5
	CodeTypeConflictError   uint32 = 6
	CodeTypeInternalError   uint32 = 7
)

// ABCIApplication implements the ABCI interface.
type ABCIApplication struct {
	abci.BaseApplication

	ledger  *ledger.Ledger
	keyring *identity.Keyring
	hub     *events.Hub

	mu      sync.Mutex
	height  int64
	appHash []byte
	pending []events.Event // published once the block is durable
}

// NewABCIApplication resumes from the last commit stored in the ledger's
// backend. keyring and hub may be nil.
func NewABCIApplication(l *ledger.Ledger, keyring *identity.Keyring, hub *events.Hub) (*ABCIApplication, error) {
	info, err := l.Backend().LastCommit()
	if err != nil {
		return nil, err
	}
	metrics.BlockHeight.Set(float64(info.Height))
	return &ABCIApplication{
		ledger:  l,
		keyring: keyring,
		hub:     hub,
		height:  info.Height,
		appHash: info.AppHash,
	}, nil
}

func (app *ABCIApplication) Info(req abci.RequestInfo) abci.ResponseInfo {
	app.mu.Lock()
	defer app.mu.Unlock()
	return abci.ResponseInfo{
		Data:             "talk",
		Version:          types.Version,
		LastBlockHeight:  app.height,
		LastBlockAppHash: app.appHash,
	}
}

func (app *ABCIApplication) Query(req abci.RequestQuery) abci.ResponseQuery {
	return abci.ResponseQuery{Code: CodeTypeOK}
}

// decoded is a transaction that passed the signature check.
type decoded struct {
	signed *types.SignedTransaction
	tx     *types.Transaction
}

func decode(raw []byte) (*decoded, uint32, string) {
	signed, err := types.DecodeSignedTransaction(raw)
	if err != nil {
		return nil, CodeTypeEncodingError, "failed to decode signed tx"
	}
	if !signed.Verify() {
		return nil, CodeTypeAuthError, "invalid signature"
	}
	tx, err := signed.GetTransaction()
	if err != nil {
		return nil, CodeTypeEncodingError, "failed to decode inner tx"
	}
	return &decoded{signed: signed, tx: tx}, CodeTypeOK, ""
}

// authorizer returns the oracle for the transaction's signer.
func (app *ABCIApplication) authorizer(d *decoded) ledger.Authorizer {
	pub := d.signed.PublicKey
	if app.keyring == nil {
		signer := d.signed.SignerHex()
		return ledger.AuthorizerFunc(func(user string) bool { return user == signer })
	}
	return ledger.AuthorizerFunc(func(user string) bool { return app.keyring.Authorizes(user, pub) })
}

func (app *ABCIApplication) BeginBlock(req abci.RequestBeginBlock) abci.ResponseBeginBlock {
	app.ledger.BeginBlock()
	return abci.ResponseBeginBlock{}
}

func (app *ABCIApplication) CheckTx(req abci.RequestCheckTx) abci.ResponseCheckTx {
	code, reason := app.check(req.Tx)
	metrics.CheckTxTotal.WithLabelValues(resultLabel(code)).Inc()
	return abci.ResponseCheckTx{Code: code, Log: reason}
}

func (app *ABCIApplication) check(raw []byte) (uint32, string) {
	d, code, reason := decode(raw)
	if code != CodeTypeOK {
		return code, reason
	}
	auth := app.authorizer(d)

	switch d.tx.Type {
	case types.TxPost:
		var p types.PostPayload
		if err := json.Unmarshal(d.tx.Payload, &p); err != nil {
			return CodeTypeEncodingError, "failed to decode post payload"
		}
		if !auth.Authorized(p.User) {
			return CodeTypeAuthError, "missing authority of " + p.User
		}
		if err := ledger.ValidatePost(p); err != nil {
			// a missing reply target outranks the id bound
			if p.ReplyTo != 0 {
				if _, ok, lookupErr := app.ledger.Message(p.ReplyTo); lookupErr == nil && !ok {
					return CodeTypeReferenceError, fmt.Sprintf("reply target %d does not exist", p.ReplyTo)
				}
			}
			return codeFor(err), err.Error()
		}
	case types.TxLike:
		var p types.LikePayload
		if err := json.Unmarshal(d.tx.Payload, &p); err != nil {
			return CodeTypeEncodingError, "failed to decode like payload"
		}
		if !auth.Authorized(p.User) {
			return CodeTypeAuthError, "missing authority of " + p.User
		}
	default:
		return CodeTypeInvalidTx, "unknown transaction type"
	}
	return CodeTypeOK, ""
}

func (app *ABCIApplication) DeliverTx(req abci.RequestDeliverTx) abci.ResponseDeliverTx {
	started := time.Now()
	app.ledger.BeginBlock()

	d, code, reason := decode(req.Tx)
	if code != CodeTypeOK {
		metrics.ObserveDeliver("unknown", resultLabel(code), started)
		return abci.ResponseDeliverTx{Code: code, Log: reason}
	}
	auth := app.authorizer(d)

	var (
		msg  types.Message
		kind events.Kind
		err  error
	)
	switch d.tx.Type {
	case types.TxPost:
		var p types.PostPayload
		if err := json.Unmarshal(d.tx.Payload, &p); err != nil {
			metrics.ObserveDeliver(string(d.tx.Type), resultLabel(CodeTypeEncodingError), started)
			return abci.ResponseDeliverTx{Code: CodeTypeEncodingError, Log: "failed to decode post payload"}
		}
		msg, err = app.ledger.Post(auth, p)
		kind = events.KindMessagePosted
	case types.TxLike:
		var p types.LikePayload
		if err := json.Unmarshal(d.tx.Payload, &p); err != nil {
			metrics.ObserveDeliver(string(d.tx.Type), resultLabel(CodeTypeEncodingError), started)
			return abci.ResponseDeliverTx{Code: CodeTypeEncodingError, Log: "failed to decode like payload"}
		}
		msg, err = app.ledger.Like(auth, p.ID, p.User)
		kind = events.KindMessageLiked
	default:
		metrics.ObserveDeliver("unknown", resultLabel(CodeTypeInvalidTx), started)
		return abci.ResponseDeliverTx{Code: CodeTypeInvalidTx, Log: "unknown transaction type"}
	}

	op := string(d.tx.Type)
	if err != nil {
		code := codeFor(err)
		if code == CodeTypeInternalError {
			log.WithError(err).WithField("op", op).Error("ledger operation failed")
		}
		metrics.ObserveDeliver(op, resultLabel(code), started)
		return abci.ResponseDeliverTx{Code: code, Log: err.Error()}
	}

	app.mu.Lock()
	h := sha256.New()
	h.Write(app.appHash)
	h.Write(req.Tx)
	app.appHash = h.Sum(nil)
	app.pending = append(app.pending, events.Event{Kind: kind, Message: msg})
	app.mu.Unlock()

	metrics.ObserveDeliver(op, metrics.ResultOK, started)

	data, _ := json.Marshal(msg)
	return abci.ResponseDeliverTx{Code: CodeTypeOK, Data: data}
}

func (app *ABCIApplication) Commit() abci.ResponseCommit {
	app.mu.Lock()
	defer app.mu.Unlock()

	app.height++
	info := types.CommitInfo{Height: app.height, AppHash: app.appHash}
	if err := app.ledger.CommitBlock(info); err != nil {
		// no error path in Commit
		log.WithError(err).WithField("height", app.height).Fatal("persist block")
	}
	if app.hub != nil {
		for _, ev := range app.pending {
			app.hub.Publish(ev)
		}
	}
	app.pending = nil
	metrics.BlockHeight.Set(float64(app.height))
	log.WithFields(log.Fields{"height": app.height}).Debug("block committed")
	return abci.ResponseCommit{Data: app.appHash}
}

// codeFor maps a ledger failure to its result code.
func codeFor(err error) uint32 {
	kind, ok := ledger.KindOf(err)
	if !ok {
		return CodeTypeInternalError
	}
	switch kind {
	case ledger.KindAuthorization:
		return CodeTypeAuthError
	case ledger.KindValidation:
		return CodeTypeValidationError
	case ledger.KindReference:
		return CodeTypeReferenceError
	case ledger.KindConflict:
		return CodeTypeConflictError
	}
	return CodeTypeInternalError
}

func resultLabel(code uint32) string {
	switch code {
	case CodeTypeOK:
		return metrics.ResultOK
	case CodeTypeInternalError:
		return metrics.ResultError
	default:
		return metrics.ResultRejected
	}
}

var codeKinds = map[uint32]ledger.Kind{
	CodeTypeAuthError:       ledger.KindAuthorization,
	CodeTypeValidationError: ledger.KindValidation,
	CodeTypeReferenceError:  ledger.KindReference,
	CodeTypeConflictError:   ledger.KindConflict,
}

// ErrorForCode rebuilds the failure a result code and log describe, so clients
// can match it with errors.Is against the ledger sentinels. OK yields nil.
func ErrorForCode(code uint32, reason string) error {
	if code == CodeTypeOK {
		return nil
	}
	if kind, ok := codeKinds[code]; ok {
		return &ledger.Error{Kind: kind, Reason: reason}
	}
	if reason == "" {
		reason = "transaction rejected"
	}
	return errors.New(reason)
}

// Package rpc implements the client RPC surface (§6.2): a framed TCP
// listener, independent of the peer mesh, that accepts signed
// transactions and read-only queries from a console client.
package rpc

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/suprabook/chainbook/crypto"
	"github.com/suprabook/chainbook/execution"
	"github.com/suprabook/chainbook/mempool"
	"github.com/suprabook/chainbook/model/chain"
	"github.com/suprabook/chainbook/model/flow"
	"github.com/suprabook/chainbook/model/ledger"
	"github.com/suprabook/chainbook/network"
)

// ErrTransportLost is returned to an in-flight request whose connection
// died, or whose submission was dropped, before a result could be
// produced (§7 Transport).
var ErrTransportLost = errors.New("transport lost")

// ErrRequestTimedOut is returned when a submitted transaction's
// containing block never committed within the configured deadline —
// this layer's only timeout, distinct from the pacemaker's view timer.
var ErrRequestTimedOut = errors.New("request timed out waiting for commit")

// Submitter is the thin slice of the replica the RPC engine needs: admit
// a transaction into the mempool and gossip it to peers (§4.5, §6.1).
// consensus/replica.Replica satisfies this directly.
type Submitter interface {
	SubmitTx(tx *ledger.Transaction) mempool.AdmitResult
}

// Engine is the client RPC surface. It never mutates ledger or
// clearinghouse state directly: reads go through exec.Snapshot() (§5)
// and writes go through Submitter into the mempool, resolved once the
// replica's commit path calls OnCommitted (the concrete mechanism
// behind "Transaction errors are surfaced on the RPC reply when the
// containing block commits", §7).
type Engine struct {
	log       zerolog.Logger
	exec      *execution.State
	submitter Submitter

	faucetPub crypto.PublicKey
	faucetSK  crypto.PrivateKey

	commitTimeout time.Duration

	mu      sync.Mutex
	pending map[flow.Identifier]chan execution.TxResult
}

// New constructs an RPC engine settling drips from the faucet keypair
// configured at boot (§6.5) and resolving submissions against exec.
func New(log zerolog.Logger, exec *execution.State, submitter Submitter, faucetPub crypto.PublicKey, faucetSK crypto.PrivateKey, commitTimeout time.Duration) *Engine {
	return &Engine{
		log:           log.With().Str("component", "rpc").Logger(),
		exec:          exec,
		submitter:     submitter,
		faucetPub:     faucetPub,
		faucetSK:      faucetSK,
		commitTimeout: commitTimeout,
		pending:       make(map[flow.Identifier]chan execution.TxResult),
	}
}

// OnCommitted implements consensus/replica.CommitObserver: it resolves
// every pending client submission whose transaction is in this block, in
// block order (§4.3 "applied to the ledger ... in block order"); any tx
// nobody is waiting on (peer-relayed, or one whose wait already timed
// out) is simply not present in pending.
func (e *Engine) OnCommitted(block *chain.Block, results []execution.TxResult) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i := range block.Txs {
		id := block.Txs[i].ID()
		ch, ok := e.pending[id]
		if !ok {
			continue
		}
		delete(e.pending, id)
		ch <- results[i]
		close(ch)
	}
}

// register installs a wait channel for tx's id before submission, so
// there is no window between submit and OnCommitted racing the register.
func (e *Engine) register(id flow.Identifier) chan execution.TxResult {
	ch := make(chan execution.TxResult, 1)
	e.mu.Lock()
	e.pending[id] = ch
	e.mu.Unlock()
	return ch
}

func (e *Engine) unregister(id flow.Identifier) {
	e.mu.Lock()
	delete(e.pending, id)
	e.mu.Unlock()
}

// submitAndWait admits tx, gossips it, and blocks until its containing
// block commits or the commit deadline elapses (§7 Transaction-error
// propagation policy).
func (e *Engine) submitAndWait(ctx context.Context, tx *ledger.Transaction) (execution.TxResult, error) {
	id := tx.ID()
	ch := e.register(id)

	res := e.submitter.SubmitTx(tx)
	if res.Status == mempool.Rejected {
		e.unregister(id)
		return execution.TxResult{}, res.Reason
	}

	select {
	case r := <-ch:
		return r, nil
	case <-time.After(e.commitTimeout):
		e.unregister(id)
		return execution.TxResult{}, ErrRequestTimedOut
	case <-ctx.Done():
		e.unregister(id)
		return execution.TxResult{}, ErrTransportLost
	}
}

// Drip signs and submits a faucet Drip transaction crediting to with the
// fixed per-asset drip amount, on the faucet's behalf (§4.6 item 4,
// §6.2 drip). The faucet's nonce is read from the latest published
// snapshot, matching how any other sender's next nonce is discovered.
func (e *Engine) Drip(ctx context.Context, asset ledger.AssetID, to crypto.PublicKey) (*Response, error) {
	nonce := e.faucetNonce()
	tx := &ledger.Transaction{
		Sender: e.faucetPub,
		Nonce:  nonce,
		Class:  ledger.ClassNormal,
		Payload: ledger.Payload{
			Kind: ledger.KindDrip,
			Drip: &ledger.Drip{Asset: asset, To: to},
		},
	}
	tx.Sign(e.faucetSK)

	result, err := e.submitAndWait(ctx, tx)
	if err != nil {
		return errResponse(err), nil
	}
	if result.Outcome == execution.Rejected || result.Err != nil {
		return errResponse(errOrRejected(result)), nil
	}
	return &Response{Ok: true}, nil
}

func (e *Engine) faucetNonce() uint64 {
	snap := e.exec.Snapshot()
	for i := range snap.Accounts {
		if snap.Accounts[i].PublicKey == e.faucetPub {
			return snap.Accounts[i].NextNonce
		}
	}
	return 0
}

// SubmitTx forwards an already client-signed transaction (place_limit,
// place_market, cancel, transfer — §6.2) and waits for its commit
// outcome.
func (e *Engine) SubmitTx(ctx context.Context, tx *ledger.Transaction) (*Response, error) {
	result, err := e.submitAndWait(ctx, tx)
	if err != nil {
		return errResponse(err), nil
	}
	if result.Outcome == execution.Rejected {
		return errResponse(result.Err), nil
	}
	resp := &Response{Ok: result.Err == nil}
	if result.Err != nil {
		resp.Error = result.Err.Error()
	}
	if result.Place != nil {
		orderID := result.Place.OrderID
		resp.OrderID = &orderID
		resp.Residual = result.Place.Residual
		resp.Fills = make([]Fill, len(result.Place.Fills))
		for i, f := range result.Place.Fills {
			resp.Fills[i] = Fill{MakerOrderID: f.MakerOrderID, Price: f.Price, Qty: f.Qty}
		}
	}
	return resp, nil
}

// QueryBalance reads owner's balances off the latest published snapshot
// (§5, §6.2).
func (e *Engine) QueryBalance(owner crypto.PublicKey) *Response {
	return &Response{Ok: true, Balances: e.exec.Snapshot().Balances(owner)}
}

// ListMarkets reads every configured market off the latest snapshot.
func (e *Engine) ListMarkets() *Response {
	return &Response{Ok: true, Markets: e.exec.Snapshot().Markets}
}

// QueryOpenOrders reads owner's resting orders off the latest snapshot.
func (e *Engine) QueryOpenOrders(owner crypto.PublicKey) *Response {
	return &Response{Ok: true, Orders: e.exec.Snapshot().OpenOrders(owner)}
}

func errResponse(err error) *Response {
	return &Response{Ok: false, Error: err.Error()}
}

func errOrRejected(r execution.TxResult) error {
	if r.Err != nil {
		return r.Err
	}
	return errors.New("transaction rejected")
}

// Listen accepts framed client connections on ln until ctx is canceled.
// Every connection is handled on its own goroutine; there is no
// per-request deadline at this layer beyond commitTimeout (§5 "Inbound
// RPC requests carry no deadline at this layer").
func (e *Engine) Listen(ctx context.Context, ln net.Listener) {
	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
				e.log.Error().Err(err).Msg("could not accept rpc connection")
				return
			}
		}
		go e.serveConn(ctx, conn)
	}
}

func (e *Engine) serveConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	log := e.log.With().Str("remote_addr", conn.RemoteAddr().String()).Logger()
	for {
		frame, err := network.ReadFrame(conn)
		if err != nil {
			log.Debug().Err(err).Msg("rpc connection closed")
			return
		}
		req, err := DecodeRequest(frame)
		if err != nil {
			log.Warn().Err(err).Msg("dropping malformed rpc request")
			continue
		}
		resp := e.dispatch(ctx, req)
		out, err := EncodeResponse(resp)
		if err != nil {
			log.Error().Err(err).Msg("could not encode rpc response")
			return
		}
		if err := network.WriteFrame(conn, out); err != nil {
			log.Debug().Err(err).Msg("could not write rpc response")
			return
		}
	}
}

func (e *Engine) dispatch(ctx context.Context, req *Request) *Response {
	switch req.Cmd {
	case CmdDrip:
		resp, _ := e.Drip(ctx, req.DripAsset, req.DripTo)
		return resp
	case CmdQueryBalance:
		return e.QueryBalance(req.Owner)
	case CmdListMarkets:
		return e.ListMarkets()
	case CmdSubmitTx:
		if req.Tx == nil {
			return errResponse(errors.New("missing tx"))
		}
		resp, _ := e.SubmitTx(ctx, req.Tx)
		return resp
	case CmdQueryOpenOrders:
		return e.QueryOpenOrders(req.Owner)
	default:
		return errResponse(errors.Errorf("unknown command (%d)", req.Cmd))
	}
}

package rpc

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/suprabook/chainbook/crypto"
	"github.com/suprabook/chainbook/execution"
	"github.com/suprabook/chainbook/mempool"
	"github.com/suprabook/chainbook/model/chain"
	"github.com/suprabook/chainbook/model/ledger"
)

// fakeSubmitter lets tests control exactly what AdmitResult SubmitTx
// returns and whether/when the engine's OnCommitted is invoked for it.
type fakeSubmitter struct {
	result   mempool.AdmitResult
	onSubmit func(tx *ledger.Transaction)
}

func (f *fakeSubmitter) SubmitTx(tx *ledger.Transaction) mempool.AdmitResult {
	if f.onSubmit != nil {
		f.onSubmit(tx)
	}
	return f.result
}

func newTestEngine(t *testing.T, submitter Submitter, timeout time.Duration) (*Engine, crypto.PublicKey, crypto.PrivateKey) {
	t.Helper()
	faucetPub, faucetSK, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	exec := execution.New(zerolog.Nop(), faucetPub, nil)
	e := New(zerolog.Nop(), exec, submitter, faucetPub, faucetSK, timeout)
	return e, faucetPub, faucetSK
}

func TestSubmitTxResolvesOnCommit(t *testing.T) {
	var engine *Engine
	sub := &fakeSubmitter{
		result: mempool.AdmitResult{Status: mempool.Admitted},
		onSubmit: func(tx *ledger.Transaction) {
			go func() {
				block := &chain.Block{Txs: []ledger.Transaction{*tx}}
				engine.OnCommitted(block, []execution.TxResult{{Outcome: execution.Applied}})
			}()
		},
	}
	engine, _, sk := newTestEngine(t, sub, time.Second)

	pub, _, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	tx := &ledger.Transaction{Sender: pub, Nonce: 0}
	tx.Sign(sk)

	resp, err := engine.SubmitTx(context.Background(), tx)
	require.NoError(t, err)
	assert.True(t, resp.Ok)
}

func TestSubmitTxRejectedAtAdmission(t *testing.T) {
	sub := &fakeSubmitter{result: mempool.AdmitResult{Status: mempool.Rejected, Reason: mempool.ErrNonceTooLow}}
	engine, _, sk := newTestEngine(t, sub, time.Second)

	pub, _, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	tx := &ledger.Transaction{Sender: pub, Nonce: 0}
	tx.Sign(sk)

	resp, err := engine.SubmitTx(context.Background(), tx)
	require.NoError(t, err)
	assert.False(t, resp.Ok)
	assert.Equal(t, mempool.ErrNonceTooLow.Error(), resp.Error)
}

func TestSubmitTxTimesOutIfNeverCommitted(t *testing.T) {
	sub := &fakeSubmitter{result: mempool.AdmitResult{Status: mempool.Admitted}}
	engine, _, sk := newTestEngine(t, sub, 20*time.Millisecond)

	pub, _, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	tx := &ledger.Transaction{Sender: pub, Nonce: 0}
	tx.Sign(sk)

	resp, err := engine.SubmitTx(context.Background(), tx)
	require.NoError(t, err)
	assert.False(t, resp.Ok)
	assert.Equal(t, ErrRequestTimedOut.Error(), resp.Error)
}

func TestSubmitTxSurfacesApplicationError(t *testing.T) {
	var engine *Engine
	appErr := execution.ErrInsufficientFunds
	sub := &fakeSubmitter{
		result: mempool.AdmitResult{Status: mempool.Admitted},
		onSubmit: func(tx *ledger.Transaction) {
			go func() {
				block := &chain.Block{Txs: []ledger.Transaction{*tx}}
				engine.OnCommitted(block, []execution.TxResult{{Outcome: execution.Applied, Err: appErr}})
			}()
		},
	}
	engine, _, sk := newTestEngine(t, sub, time.Second)

	pub, _, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	tx := &ledger.Transaction{Sender: pub, Nonce: 0}
	tx.Sign(sk)

	resp, err := engine.SubmitTx(context.Background(), tx)
	require.NoError(t, err)
	assert.False(t, resp.Ok)
	assert.Equal(t, appErr.Error(), resp.Error)
}

func TestDripSignsFromFaucetAccount(t *testing.T) {
	var engine *Engine
	var captured *ledger.Transaction
	sub := &fakeSubmitter{
		result: mempool.AdmitResult{Status: mempool.Admitted},
		onSubmit: func(tx *ledger.Transaction) {
			captured = tx
			go func() {
				block := &chain.Block{Txs: []ledger.Transaction{*tx}}
				engine.OnCommitted(block, []execution.TxResult{{Outcome: execution.Applied}})
			}()
		},
	}
	var faucetPub crypto.PublicKey
	engine, faucetPub, _ = newTestEngine(t, sub, time.Second)

	to, _, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	resp, err := engine.Drip(context.Background(), 0, to)
	require.NoError(t, err)
	assert.True(t, resp.Ok)
	require.NotNil(t, captured)
	assert.Equal(t, faucetPub, captured.Sender)
	assert.True(t, captured.VerifySignature(), "drip transaction must be validly signed by the faucet key")
}

func TestQueryBalanceReadsSnapshot(t *testing.T) {
	sub := &fakeSubmitter{}
	engine, faucetPub, _ := newTestEngine(t, sub, time.Second)

	resp := engine.QueryBalance(faucetPub)
	assert.True(t, resp.Ok)
	require.NotEmpty(t, resp.Balances)
}

func TestRequestResponseEncodeRoundTrip(t *testing.T) {
	pub, _, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	req := &Request{Cmd: CmdQueryBalance, Owner: pub}
	data, err := EncodeRequest(req)
	require.NoError(t, err)

	decoded, err := DecodeRequest(data)
	require.NoError(t, err)
	assert.Equal(t, req.Cmd, decoded.Cmd)
	assert.Equal(t, req.Owner, decoded.Owner)

	resp := &Response{Ok: true, Balances: []ledger.Balance{{Asset: 0, Amount: 5}}}
	rdata, err := EncodeResponse(resp)
	require.NoError(t, err)
	rdecoded, err := DecodeResponse(rdata)
	require.NoError(t, err)
	assert.Equal(t, resp.Ok, rdecoded.Ok)
	assert.Equal(t, resp.Balances, rdecoded.Balances)
}

// Package rpc implements the client RPC surface (§6.2): a framed TCP
// listener, independent of the peer mesh, that accepts signed
// transactions and read-only queries from a console client.
package rpc

import (
	"encoding/json"

	"github.com/pkg/errors"

	"github.com/suprabook/chainbook/crypto"
	"github.com/suprabook/chainbook/model/book"
	"github.com/suprabook/chainbook/model/ledger"
)

// Command identifies which client RPC call a Request carries (§6.2).
// create_account has no entry: it is client-local and never reaches
// the server.
type Command uint8

const (
	CmdDrip Command = iota + 1
	CmdQueryBalance
	CmdListMarkets
	CmdSubmitTx
	CmdQueryOpenOrders
)

// Request is the tagged union of every client RPC call; only the fields
// relevant to Cmd are populated.
type Request struct {
	Cmd       Command             `json:"cmd"`
	DripAsset ledger.AssetID      `json:"drip_asset,omitempty"`
	DripTo    crypto.PublicKey    `json:"drip_to,omitempty"`
	Owner     crypto.PublicKey    `json:"owner,omitempty"`
	Tx        *ledger.Transaction `json:"tx,omitempty"`
}

// Fill mirrors clearinghouse.Fill, dropping TakerOrderID since it always
// equals the reply's own OrderID.
type Fill struct {
	MakerOrderID uint64 `json:"maker_order_id"`
	Price        uint64 `json:"price"`
	Qty          uint64 `json:"qty"`
}

// Response is the tagged union of every reply. Ok is false iff the
// request failed, either at admission (protocol/validation error) or as
// a recorded transaction-error once its block committed (§7).
type Response struct {
	Ok       bool             `json:"ok"`
	Error    string           `json:"error,omitempty"`
	Balances []ledger.Balance `json:"balances,omitempty"`
	Markets  []book.Market    `json:"markets,omitempty"`
	Orders   []book.Order     `json:"orders,omitempty"`
	OrderID  *uint64          `json:"order_id,omitempty"`
	Fills    []Fill           `json:"fills,omitempty"`
	Residual uint64           `json:"residual,omitempty"`
}

// EncodeRequest/DecodeRequest and EncodeResponse/DecodeResponse frame
// the client RPC tagged unions; transmission uses the same 4-byte
// length-prefixed framing as the peer protocol (network.Connection),
// just with this package's own payload shape instead of the consensus
// message set (§6.2 "Connection is a framed stream identical to peer
// framing").

func EncodeRequest(r *Request) ([]byte, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, errors.Wrap(err, "could not encode rpc request")
	}
	return data, nil
}

func DecodeRequest(raw []byte) (*Request, error) {
	var r Request
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, errors.Wrap(err, "could not decode rpc request")
	}
	return &r, nil
}

func EncodeResponse(r *Response) ([]byte, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, errors.Wrap(err, "could not encode rpc response")
	}
	return data, nil
}

func DecodeResponse(raw []byte) (*Response, error) {
	var r Response
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, errors.Wrap(err, "could not decode rpc response")
	}
	return &r, nil
}

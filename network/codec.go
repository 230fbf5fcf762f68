package network

import (
	"encoding/json"

	"github.com/pkg/errors"

	"github.com/suprabook/chainbook/model/chain"
	"github.com/suprabook/chainbook/model/ledger"
)

// envelope is the canonical tagged union transmitted on the wire: the
// channel it is routed to, a code identifying the payload type, and the
// payload's JSON encoding. Every payload type below encodes without maps
// and with fixed field order, which is what keeps the encoding
// deterministic (§6.1) — the 4-byte length prefix that frames envelopes
// on the TCP connection is applied one layer up, in Connection.
type envelope struct {
	Channel Channel         `json:"channel"`
	Code    Code            `json:"code"`
	Data    json.RawMessage `json:"data"`
}

// Encode turns a typed message bound for a channel into wire bytes.
func Encode(channel Channel, v interface{}) ([]byte, error) {
	var code Code
	switch v.(type) {
	case *chain.Block:
		code = CodeProposal
	case *chain.Vote:
		code = CodeVote
	case *chain.NewView:
		code = CodeNewView
	case *chain.QuorumCertificate:
		code = CodeQCAnnounce
	case *ledger.Transaction:
		code = CodeClientTx
	default:
		return nil, errors.Errorf("invalid encode type (%T)", v)
	}

	data, err := json.Marshal(v)
	if err != nil {
		return nil, errors.Wrap(err, "could not encode payload")
	}

	env := envelope{Channel: channel, Code: code, Data: data}
	out, err := json.Marshal(env)
	if err != nil {
		return nil, errors.Wrap(err, "could not encode envelope")
	}
	return out, nil
}

// Decode parses wire bytes back into the channel it targets and a typed
// message.
func Decode(raw []byte) (Channel, interface{}, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return 0, nil, errors.Wrap(err, "could not decode envelope")
	}

	var v interface{}
	switch env.Code {
	case CodeProposal:
		v = &chain.Block{}
	case CodeVote:
		v = &chain.Vote{}
	case CodeNewView:
		v = &chain.NewView{}
	case CodeQCAnnounce:
		v = &chain.QuorumCertificate{}
	case CodeClientTx:
		v = &ledger.Transaction{}
	default:
		return 0, nil, errors.Errorf("invalid message code (%d)", env.Code)
	}

	if err := json.Unmarshal(env.Data, v); err != nil {
		return 0, nil, errors.Wrap(err, "could not decode payload")
	}
	return env.Channel, v, nil
}

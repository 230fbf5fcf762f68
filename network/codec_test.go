package network

import (
	"bytes"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/suprabook/chainbook/crypto"
	"github.com/suprabook/chainbook/model/chain"
	"github.com/suprabook/chainbook/model/flow"
	"github.com/suprabook/chainbook/model/ledger"
)

func TestEncodeDecodeBlockRoundTrip(t *testing.T) {
	_, sk, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	b := &chain.Block{ParentID: flow.ZeroID, View: 3, Height: 3}
	b.Sign(1, sk)

	raw, err := Encode(ChannelConsensus, b)
	require.NoError(t, err)

	channel, v, err := Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, ChannelConsensus, channel)

	decoded, ok := v.(*chain.Block)
	require.True(t, ok)
	assert.Equal(t, b.ID(), decoded.ID())
}

func TestEncodeDecodeTransactionRoundTrip(t *testing.T) {
	pub, sk, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	tx := &ledger.Transaction{Sender: pub, Nonce: 4}
	tx.Sign(sk)

	raw, err := Encode(ChannelConsensus, tx)
	require.NoError(t, err)

	_, v, err := Decode(raw)
	require.NoError(t, err)
	decoded, ok := v.(*ledger.Transaction)
	require.True(t, ok)
	assert.Equal(t, tx.ID(), decoded.ID())
}

func TestEncodeRejectsUnknownType(t *testing.T) {
	_, err := Encode(ChannelConsensus, "not a valid payload")
	assert.Error(t, err)
}

func TestDecodeRejectsMalformedEnvelope(t *testing.T) {
	_, _, err := Decode([]byte("not json"))
	assert.Error(t, err)
}

func TestReadWriteFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	payload := []byte("hello frame")
	require.NoError(t, WriteFrame(&buf, payload))

	got, err := ReadFrame(&buf)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestFramingOverNetPipe(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	payload := []byte(`{"hello":"world"}`)
	go func() {
		_ = WriteFrame(client, payload)
	}()

	_ = server.SetDeadline(time.Now().Add(2 * time.Second))
	got, err := ReadFrame(server)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

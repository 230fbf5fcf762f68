package main

import (
	"fmt"

	"github.com/suprabook/chainbook/model/chain"
	"github.com/suprabook/chainbook/network"
)

// addressBook derives every validator's consensus and RPC listen
// addresses from a fixed base port, so a local multi-process run needs
// no address configuration beyond the ports the operator picked. This is
// a CLI/bootstrap collaborator concern (§1, §6.3) — the validator
// roster's public keys, not its network addresses, are what the spec's
// env surface (§6.4) fixes.
type addressBook struct {
	n            uint32
	consensusBase int
	rpcBase       int
}

func newAddressBook(n uint32, consensusBase, rpcBase int) *addressBook {
	return &addressBook{n: n, consensusBase: consensusBase, rpcBase: rpcBase}
}

func (a *addressBook) consensusAddr(id chain.ValidatorID) string {
	return fmt.Sprintf("127.0.0.1:%d", a.consensusBase+int(id))
}

func (a *addressBook) rpcAddr(id chain.ValidatorID) string {
	return fmt.Sprintf("127.0.0.1:%d", a.rpcBase+int(id))
}

// peers returns every validator other than self, for Middleware's fixed
// dial list (§1 "the validator roster is fixed at boot").
func (a *addressBook) peers(self chain.ValidatorID) []network.Peer {
	out := make([]network.Peer, 0, a.n-1)
	for i := uint32(0); i < a.n; i++ {
		id := chain.ValidatorID(i)
		if id == self {
			continue
		}
		out = append(out, network.Peer{ID: id, Address: a.consensusAddr(id)})
	}
	return out
}

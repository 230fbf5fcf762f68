// Package stub provides an in-process Network implementation that wires
// registered engines directly together without TCP, for deterministic
// replica/consensus tests. Adapted from the teacher's network/stub.Hub.
package stub

import (
	"sync"

	"github.com/suprabook/chainbook/model/chain"
	"github.com/suprabook/chainbook/network"
)

// Hub plugs any number of in-process Networks together so that a Publish
// or Unicast from one reaches the others synchronously, without sockets.
type Hub struct {
	mu       sync.Mutex
	networks map[chain.ValidatorID]*Network
}

// NewHub returns an empty Hub.
func NewHub() *Hub {
	return &Hub{networks: make(map[chain.ValidatorID]*Network)}
}

func (h *Hub) plug(id chain.ValidatorID, n *Network) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.networks[id] = n
}

func (h *Hub) deliver(channel network.Channel, msg interface{}, originID, targetID chain.ValidatorID) {
	h.mu.Lock()
	target, ok := h.networks[targetID]
	h.mu.Unlock()
	if !ok {
		return
	}
	target.deliver(channel, msg, originID)
}

func (h *Hub) broadcast(channel network.Channel, msg interface{}, originID chain.ValidatorID) {
	h.mu.Lock()
	targets := make([]*Network, 0, len(h.networks))
	for id, n := range h.networks {
		if id == originID {
			continue
		}
		targets = append(targets, n)
	}
	h.mu.Unlock()
	for _, n := range targets {
		n.deliver(channel, msg, originID)
	}
}

// Network is the per-node handle plugged into a Hub; it satisfies
// network.Network so replica code can be wired identically whether it
// runs over real TCP middleware or this stub.
type Network struct {
	hub  *Hub
	self chain.ValidatorID

	mu      sync.Mutex
	engines map[network.Channel]network.Engine
}

// NewNetwork creates a stub network for validator id and plugs it into hub.
func NewNetwork(hub *Hub, self chain.ValidatorID) *Network {
	n := &Network{hub: hub, self: self, engines: make(map[network.Channel]network.Engine)}
	hub.plug(self, n)
	return n
}

func (n *Network) Register(channel network.Channel, engine network.Engine) (network.Conduit, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.engines[channel] = engine
	return &conduit{net: n, channel: channel}, nil
}

func (n *Network) deliver(channel network.Channel, msg interface{}, originID chain.ValidatorID) {
	n.mu.Lock()
	engine, ok := n.engines[channel]
	n.mu.Unlock()
	if !ok {
		return
	}
	_ = engine.Process(originID, msg)
}

type conduit struct {
	net     *Network
	channel network.Channel
}

func (c *conduit) Unicast(msg interface{}, targetID chain.ValidatorID) error {
	c.net.hub.deliver(c.channel, msg, c.net.self, targetID)
	return nil
}

func (c *conduit) Publish(msg interface{}) error {
	c.net.hub.broadcast(c.channel, msg, c.net.self)
	return nil
}

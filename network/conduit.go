package network

import "github.com/suprabook/chainbook/model/chain"

// Engine is anything that can receive messages delivered off the wire,
// addressed by the validator that sent them.
type Engine interface {
	Process(originID chain.ValidatorID, msg interface{}) error
}

// Conduit is the handle an Engine gets back from Network.Register; it is
// the only way an engine talks back out onto the network.
type Conduit interface {
	// Unicast sends msg to a single peer.
	Unicast(msg interface{}, targetID chain.ValidatorID) error
	// Publish broadcasts msg to every connected peer.
	Publish(msg interface{}) error
}

// Network registers engines against channels and hands back a Conduit
// each can use to send. A single Middleware instance backs every
// registered channel, multiplexing by Channel in the envelope.
type Network interface {
	Register(channel Channel, engine Engine) (Conduit, error)
}

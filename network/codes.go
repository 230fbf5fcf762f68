// Package network implements the length-prefixed peer wire protocol
// (§6.1) and the TCP transport that carries it, adapted from the
// teacher's network/trickle/middleware.Middleware.
package network

// Code identifies a message kind on the wire (§6.1).
type Code uint8

const (
	CodeProposal Code = iota + 1
	CodeVote
	CodeNewView
	CodeQCAnnounce
	CodeClientTx
)

func (c Code) String() string {
	switch c {
	case CodeProposal:
		return "proposal"
	case CodeVote:
		return "vote"
	case CodeNewView:
		return "new_view"
	case CodeQCAnnounce:
		return "qc_announce"
	case CodeClientTx:
		return "client_tx"
	default:
		return "unknown"
	}
}

// Channel identifies which engine on a node a message is routed to, the
// same role flow-go's network.Register channel argument plays.
type Channel uint8

const (
	ChannelConsensus Channel = iota + 1
	ChannelClientRPC
)

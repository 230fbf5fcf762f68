package network

import (
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/suprabook/chainbook/model/chain"
)

// Peer is one entry in the fixed validator address book (§1: the
// validator roster is fixed at boot, no dynamic membership).
type Peer struct {
	ID      chain.ValidatorID
	Address string
}

// Middleware owns one TCP listener and one outbound dialer per peer with
// auto-reconnect, framing messages and routing them to the engine
// registered for their channel. Adapted directly from the teacher's
// network/trickle/middleware.Middleware, generalized from a random-peer
// gossip overlay to chainbook's fixed validator roster.
type Middleware struct {
	log       zerolog.Logger
	self      chain.ValidatorID
	peers     []Peer
	reconnect time.Duration

	mu      sync.Mutex
	conns   map[chain.ValidatorID]*Connection
	engines map[Channel]Engine

	ln   net.Listener
	wg   sync.WaitGroup
	stop chan struct{}
}

// New starts listening on address and prepares a middleware that will
// dial every peer in the roster once Start is called.
func New(log zerolog.Logger, self chain.ValidatorID, address string, peers []Peer, reconnect time.Duration) (*Middleware, error) {
	ln, err := net.Listen("tcp", address)
	if err != nil {
		return nil, errors.Wrapf(err, "could not listen on address (%s)", address)
	}

	m := &Middleware{
		log:       log.With().Str("component", "middleware").Logger(),
		self:      self,
		peers:     peers,
		reconnect: reconnect,
		conns:     make(map[chain.ValidatorID]*Connection),
		engines:   make(map[Channel]Engine),
		ln:        ln,
		stop:      make(chan struct{}),
	}
	return m, nil
}

// Addr returns the address the listener is actually bound to, useful
// when New was called with a ":0" port and the caller needs to learn
// which port the OS assigned.
func (m *Middleware) Addr() string {
	return m.ln.Addr().String()
}

// Register binds an engine to a channel and returns its conduit.
func (m *Middleware) Register(channel Channel, engine Engine) (Conduit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.engines[channel]; ok {
		return nil, errors.Errorf("channel already registered (%d)", channel)
	}
	m.engines[channel] = engine
	return &conduit{mw: m, channel: channel}, nil
}

// Start launches the accept loop and one reconnecting dialer per peer.
func (m *Middleware) Start() {
	m.wg.Add(1)
	go m.host()
	for _, p := range m.peers {
		m.wg.Add(1)
		go m.dialLoop(p)
	}
}

// Stop tears down the listener, every connection, and waits for all
// background goroutines to exit.
func (m *Middleware) Stop() {
	close(m.stop)
	_ = m.ln.Close()
	m.mu.Lock()
	for _, conn := range m.conns {
		conn.Close()
	}
	m.mu.Unlock()
	m.wg.Wait()
}

func (m *Middleware) host() {
	defer m.wg.Done()
	log := m.log.With().Str("listen_address", m.ln.Addr().String()).Logger()
	for {
		conn, err := m.ln.Accept()
		if err != nil {
			select {
			case <-m.stop:
				log.Debug().Msg("stopped accepting connections")
			default:
				log.Error().Err(err).Msg("could not accept connection")
			}
			return
		}
		m.wg.Add(1)
		go m.handleInbound(conn)
	}
}

// dialLoop retries with a fixed reconnect interval and unbounded
// attempts, per §5's "Outbound connections retry with a fixed reconnect
// interval".
func (m *Middleware) dialLoop(p Peer) {
	defer m.wg.Done()
	log := m.log.With().Uint32("peer_id", uint32(p.ID)).Str("address", p.Address).Logger()
	for {
		select {
		case <-m.stop:
			return
		default:
		}

		conn, err := net.Dial("tcp", p.Address)
		if err != nil {
			log.Debug().Err(err).Msg("could not dial peer, will retry")
			select {
			case <-time.After(m.reconnect):
				continue
			case <-m.stop:
				return
			}
		}

		m.handle(p.ID, conn)

		select {
		case <-time.After(m.reconnect):
		case <-m.stop:
			return
		}
	}
}

func (m *Middleware) handleInbound(netc net.Conn) {
	defer m.wg.Done()
	// the handshake is a single frame carrying the peer's claimed
	// ValidatorID; in production this would be signed, but §1 treats
	// membership as fixed and pre-shared so a bare identity suffices.
	id, err := m.readHandshake(netc)
	if err != nil {
		m.log.Debug().Err(err).Msg("handshake failed, dropping connection")
		_ = netc.Close()
		return
	}
	m.handle(id, netc)
}

func (m *Middleware) handle(peerID chain.ValidatorID, netc net.Conn) {
	log := m.log.With().
		Uint32("peer_id", uint32(peerID)).
		Str("remote_addr", netc.RemoteAddr().String()).
		Logger()

	conn := NewConnection(log, netc)
	if err := m.writeHandshake(netc); err != nil {
		log.Debug().Err(err).Msg("could not send handshake")
		conn.Close()
		return
	}

	m.add(peerID, conn)
	defer m.remove(peerID)

	conn.Process()
	log.Info().Msg("connection established")

	for {
		select {
		case <-conn.Done():
			log.Info().Msg("connection closed")
			return
		case frame := <-conn.Inbound():
			channel, msg, err := Decode(frame)
			if err != nil {
				log.Warn().Err(err).Msg("dropping malformed frame")
				continue
			}
			m.mu.Lock()
			engine, ok := m.engines[channel]
			m.mu.Unlock()
			if !ok {
				log.Warn().Uint8("channel", uint8(channel)).Msg("no engine registered for channel")
				continue
			}
			if err := engine.Process(peerID, msg); err != nil {
				log.Error().Err(err).Msg("engine could not process message")
			}
		}
	}
}

func (m *Middleware) add(id chain.ValidatorID, conn *Connection) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conns[id] = conn
}

func (m *Middleware) remove(id chain.ValidatorID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.conns, id)
}

func (m *Middleware) send(channel Channel, msg interface{}, targetID chain.ValidatorID) error {
	frame, err := Encode(channel, msg)
	if err != nil {
		return errors.Wrap(err, "could not encode message")
	}
	m.mu.Lock()
	conn, ok := m.conns[targetID]
	m.mu.Unlock()
	if !ok {
		return errors.Errorf("no connection to peer (id: %d)", targetID)
	}
	return conn.Send(frame)
}

func (m *Middleware) publish(channel Channel, msg interface{}) error {
	frame, err := Encode(channel, msg)
	if err != nil {
		return errors.Wrap(err, "could not encode message")
	}
	m.mu.Lock()
	conns := make([]*Connection, 0, len(m.conns))
	for _, c := range m.conns {
		conns = append(conns, c)
	}
	m.mu.Unlock()
	var firstErr error
	for _, c := range conns {
		if err := c.Send(frame); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// readHandshake/writeHandshake exchange a single 4-byte ValidatorID
// frame before streaming begins, so the accept side learns who dialed.
func (m *Middleware) readHandshake(conn net.Conn) (chain.ValidatorID, error) {
	frame, err := readFrame(conn)
	if err != nil {
		return 0, err
	}
	if len(frame) != 4 {
		return 0, errors.New("invalid handshake frame")
	}
	return chain.ValidatorID(uint32(frame[0])<<24 | uint32(frame[1])<<16 | uint32(frame[2])<<8 | uint32(frame[3])), nil
}

func (m *Middleware) writeHandshake(conn net.Conn) error {
	id := uint32(m.self)
	frame := []byte{byte(id >> 24), byte(id >> 16), byte(id >> 8), byte(id)}
	return writeFrame(conn, frame)
}

// conduit is the per-channel handle handed back by Register.
type conduit struct {
	mw      *Middleware
	channel Channel
}

func (c *conduit) Unicast(msg interface{}, targetID chain.ValidatorID) error {
	return c.mw.send(c.channel, msg, targetID)
}

func (c *conduit) Publish(msg interface{}) error {
	return c.mw.publish(c.channel, msg)
}

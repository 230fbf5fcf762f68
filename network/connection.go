package network

import (
	"encoding/binary"
	"io"
	"net"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// maxFrameSize bounds a single message so a misbehaving or compromised
// peer cannot force unbounded memory growth via the length prefix.
const maxFrameSize = 16 << 20 // 16 MiB

// Connection frames messages on a single net.Conn with a 4-byte
// big-endian length prefix (§6.1) and fans inbound frames out to a
// buffered channel that the owning Middleware drains.
type Connection struct {
	log      zerolog.Logger
	conn     net.Conn
	inbound  chan []byte
	outbound chan []byte
	done     chan struct{}
	once     sync.Once
}

// NewConnection wraps a raw TCP connection for framed read/write.
func NewConnection(log zerolog.Logger, conn net.Conn) *Connection {
	return &Connection{
		log:      log,
		conn:     conn,
		inbound:  make(chan []byte, 16),
		outbound: make(chan []byte, 16),
		done:     make(chan struct{}),
	}
}

// Process starts the connection's read and write pumps. It returns
// immediately; Inbound() yields decoded frames until the connection dies.
func (c *Connection) Process() {
	go c.recvLoop()
	go c.sendLoop()
}

// Inbound returns the channel of raw frames received from the peer.
func (c *Connection) Inbound() <-chan []byte { return c.inbound }

// Done returns a channel closed once the connection has died.
func (c *Connection) Done() <-chan struct{} { return c.done }

// Send enqueues a raw frame for transmission, returning an error if the
// connection has already closed.
func (c *Connection) Send(frame []byte) error {
	select {
	case <-c.done:
		return errors.New("connection closed")
	case c.outbound <- frame:
		return nil
	}
}

// Close tears down the connection; safe to call more than once.
func (c *Connection) Close() {
	c.once.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

func (c *Connection) recvLoop() {
	defer c.Close()
	for {
		frame, err := readFrame(c.conn)
		if err != nil {
			if err != io.EOF {
				c.log.Debug().Err(err).Msg("connection read failed")
			}
			return
		}
		select {
		case c.inbound <- frame:
		case <-c.done:
			return
		}
	}
}

func (c *Connection) sendLoop() {
	defer c.Close()
	for {
		select {
		case frame := <-c.outbound:
			if err := writeFrame(c.conn, frame); err != nil {
				c.log.Debug().Err(err).Msg("connection write failed")
				return
			}
		case <-c.done:
			return
		}
	}
}

// ReadFrame and WriteFrame expose the same 4-byte length-prefixed
// framing peer connections use (§6.1) so the client RPC listener can
// speak "a framed stream identical to peer framing" (§6.2) without
// duplicating the wire format.
func ReadFrame(r io.Reader) ([]byte, error) { return readFrame(r) }
func WriteFrame(w io.Writer, data []byte) error { return writeFrame(w, data) }

func readFrame(r io.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	size := binary.BigEndian.Uint32(lenBuf[:])
	if size > maxFrameSize {
		return nil, errors.Errorf("frame too large (%d bytes)", size)
	}
	buf := make([]byte, size)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func writeFrame(w io.Writer, data []byte) error {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(data)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := w.Write(data)
	return err
}

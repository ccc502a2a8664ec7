package transport

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"
)

// UDPNetwork is the production Network: SWIM over UDP and gossip over
// TCP with a 4-byte big-endian length prefix per frame.
type UDPNetwork struct {
	log    *zap.Logger
	dialer net.Dialer
}

// NewUDPNetwork returns a Network on real sockets.
func NewUDPNetwork(log *zap.Logger) *UDPNetwork {
	if log == nil {
		log = zap.NewNop()
	}
	return &UDPNetwork{
		log:    log.Named("transport"),
		dialer: net.Dialer{Timeout: 5 * time.Second},
	}
}

func (n *UDPNetwork) ListenSwim(addr string, readTimeout time.Duration) (SwimSocket, error) {
	conn, err := net.ListenPacket("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("binding swim socket %s: %w", addr, err)
	}
	return &udpSocket{conn: conn, readTimeout: readTimeout}, nil
}

func (n *UDPNetwork) ListenGossip(addr string) (GossipReceiver, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("binding gossip listener %s: %w", addr, err)
	}
	r := &tcpReceiver{
		ln:     ln,
		frames: make(chan []byte, 64),
		done:   make(chan struct{}),
		conns:  make(map[net.Conn]struct{}),
		log:    n.log,
	}
	r.wg.Add(1)
	go r.acceptLoop()
	return r, nil
}

func (n *UDPNetwork) GossipSender() GossipSender {
	return &tcpSender{dialer: &n.dialer}
}

type udpSocket struct {
	conn        net.PacketConn
	readTimeout time.Duration
}

func (s *udpSocket) SendTo(payload []byte, addr string) error {
	if len(payload) > MaxDatagramSize {
		return fmt.Errorf("%w: %d bytes", ErrTooLarge, len(payload))
	}
	ua, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return fmt.Errorf("resolving %s: %w", addr, err)
	}
	if _, err := s.conn.WriteTo(payload, ua); err != nil {
		if errors.Is(err, net.ErrClosed) {
			return ErrClosed
		}
		return err
	}
	return nil
}

func (s *udpSocket) ReceiveFrom(buf []byte) (int, string, error) {
	if s.readTimeout > 0 {
		if err := s.conn.SetReadDeadline(time.Now().Add(s.readTimeout)); err != nil {
			if errors.Is(err, net.ErrClosed) {
				return 0, "", ErrClosed
			}
			return 0, "", err
		}
	}
	n, from, err := s.conn.ReadFrom(buf)
	if err != nil {
		var ne net.Error
		switch {
		case errors.Is(err, net.ErrClosed):
			return 0, "", ErrClosed
		case errors.As(err, &ne) && ne.Timeout():
			return 0, "", ErrTimeout
		}
		return 0, "", err
	}
	return n, from.String(), nil
}

func (s *udpSocket) LocalAddr() string { return s.conn.LocalAddr().String() }

func (s *udpSocket) Close() error { return s.conn.Close() }

type tcpReceiver struct {
	ln     net.Listener
	frames chan []byte
	done   chan struct{}
	once   sync.Once
	wg     sync.WaitGroup
	log    *zap.Logger

	mu    sync.Mutex
	conns map[net.Conn]struct{}
}

func (r *tcpReceiver) acceptLoop() {
	defer r.wg.Done()
	for {
		conn, err := r.ln.Accept()
		if err != nil {
			select {
			case <-r.done:
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			r.log.Debug("accept failed", zap.Error(err))
			continue
		}
		r.mu.Lock()
		r.conns[conn] = struct{}{}
		r.mu.Unlock()

		r.wg.Add(1)
		go r.serve(conn)
	}
}

func (r *tcpReceiver) serve(conn net.Conn) {
	defer r.wg.Done()
	defer func() {
		r.mu.Lock()
		delete(r.conns, conn)
		r.mu.Unlock()
		conn.Close()
	}()

	br := bufio.NewReader(conn)
	for {
		frame, err := ReadFrame(br)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				r.log.Debug("gossip connection ended", zap.String("addr", conn.RemoteAddr().String()), zap.Error(err))
			}
			return
		}
		select {
		case r.frames <- frame:
		case <-r.done:
			return
		}
	}
}

func (r *tcpReceiver) Receive() ([]byte, error) {
	select {
	case f := <-r.frames:
		return f, nil
	case <-r.done:
		return nil, ErrClosed
	}
}

func (r *tcpReceiver) Addr() string { return r.ln.Addr().String() }

func (r *tcpReceiver) Close() error {
	var err error
	r.once.Do(func() {
		close(r.done)
		err = r.ln.Close()
		r.mu.Lock()
		for c := range r.conns {
			c.Close()
		}
		r.mu.Unlock()
		r.wg.Wait()
	})
	return err
}

type tcpSender struct {
	dialer *net.Dialer
}

func (s *tcpSender) Send(ctx context.Context, addr string, payload []byte) error {
	conn, err := s.dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrUnreachable, addr, err)
	}
	defer conn.Close()

	if dl, ok := ctx.Deadline(); ok {
		_ = conn.SetWriteDeadline(dl)
	}
	return WriteFrame(conn, payload)
}

// WriteFrame writes payload with its length prefix.
func WriteFrame(w io.Writer, payload []byte) error {
	if len(payload) > MaxFrameSize {
		return fmt.Errorf("%w: %d bytes", ErrTooLarge, len(payload))
	}
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(payload)))
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

// ReadFrame reads one length-prefixed frame.
func ReadFrame(r io.Reader) ([]byte, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	size := binary.BigEndian.Uint32(hdr[:])
	if size > MaxFrameSize {
		return nil, fmt.Errorf("%w: frame of %d bytes", ErrTooLarge, size)
	}
	buf := make([]byte, size)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

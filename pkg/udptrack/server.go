package udptrack

import (
	"errors"
	"net"
	"time"

	"github.com/rs/zerolog"

	"github.com/Calbabreaker/micap/pkg/protocol"
	"github.com/Calbabreaker/micap/pkg/registry"
)

// ListenPort is the fixed UDP port the server binds, per §6.
const ListenPort = 5828

// MulticastGroup is the multicast address the server joins, per §6.
const MulticastGroup = "239.255.0.123"

const upkeepInterval = time.Second

const maxDatagramSize = 256

// TransportError wraps a non-would-block socket failure. Per §7 this is
// fatal to the owning task and must be surfaced to the caller of Update.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string { return "udptrack: transport error: " + e.Err.Error() }
func (e *TransportError) Unwrap() error { return e.Err }

// Server owns the tracker UDP socket, session bookkeeping, and the upkeep
// timer (§4.C).
type Server struct {
	conn     *net.UDPConn
	registry *registry.Registry
	log      zerolog.Logger

	sessions    map[string]*Session // keyed by address.String()
	macToAddr   map[string]string
	ignoreAddrs map[string]bool

	lastUpkeep time.Time
}

// Listen joins the multicast group on port 5828, which also lets the socket
// receive ordinary unicast datagrams addressed to it (§4.C: the devices
// handshake via multicast but subsequent traffic is unicast back to the
// address observed on that handshake).
func Listen(reg *registry.Registry, log zerolog.Logger) (*Server, error) {
	addr := &net.UDPAddr{IP: net.ParseIP(MulticastGroup), Port: ListenPort}
	conn, err := net.ListenMulticastUDP("udp4", nil, addr)
	if err != nil {
		return nil, err
	}
	if err := conn.SetReadBuffer(maxDatagramSize * 64); err != nil {
		log.Warn().Err(err).Msg("failed to set udp read buffer size")
	}

	return &Server{
		conn:        conn,
		registry:    reg,
		log:         log.With().Str("component", "udptrack").Logger(),
		sessions:    make(map[string]*Session),
		macToAddr:   make(map[string]string),
		ignoreAddrs: make(map[string]bool),
		lastUpkeep:  time.Now(),
	}, nil
}

// Close releases the socket.
func (s *Server) Close() error {
	return s.conn.Close()
}

// Update drains all currently available datagrams and, once per second,
// runs upkeep (timeout propagation, ping issuance, dead-session reaping).
// It implements §4.C update().
func (s *Server) Update(now time.Time) error {
	if now.Sub(s.lastUpkeep) > upkeepInterval {
		s.upkeep(now)
		s.lastUpkeep = now
	}

	// A deadline a moment from now turns ReadFromUDP into a near non-blocking
	// poll: any datagram already queued is returned instantly, and once the
	// queue is empty the read fails with a timeout, which isWouldBlock treats
	// as "no more data right now" rather than a transport failure. (A deadline
	// that has already passed would fail every read before returning data.)
	if err := s.conn.SetReadDeadline(time.Now().Add(time.Millisecond)); err != nil {
		return &TransportError{Err: err}
	}

	buf := make([]byte, maxDatagramSize)
	for {
		n, addr, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			if isWouldBlock(err) {
				return nil
			}
			return &TransportError{Err: err}
		}
		s.handleDatagram(buf[:n], addr, now)
	}
}

func (s *Server) upkeep(now time.Time) {
	for key, sess := range s.sessions {
		sess.PropagateTimeout(now)
		if id, should := sess.IssuePing(now); should {
			s.sendPing(sess, id)
		}
		if sess.AllTrackersRemoved() {
			s.log.Info().Str("mac", MacString(sess.Mac)).Msg("session torn down, all trackers removed")
			delete(s.sessions, key)
			delete(s.macToAddr, MacString(sess.Mac))
			s.ignoreAddrs[key] = true
		}
	}
}

func (s *Server) sendPing(sess *Session, id byte) {
	buf, err := protocol.Serialize(&protocol.Packet{Kind: protocol.KindPingPong, Seq: 0, PingID: id})
	if err != nil {
		return
	}
	if _, err := s.conn.WriteToUDP(buf, sess.Address); err != nil {
		s.log.Warn().Err(err).Msg("failed to send ping")
	}
}

func (s *Server) handleDatagram(buf []byte, addr *net.UDPAddr, now time.Time) {
	key := addr.String()
	if s.ignoreAddrs[key] {
		return
	}

	p, err := protocol.Parse(buf)
	if err != nil {
		s.log.Trace().Err(err).Str("addr", key).Msg("dropping malformed datagram")
		return
	}

	if p.Kind == protocol.KindHandshake {
		s.handleHandshake(p, addr, now)
		return
	}

	sess, ok := s.sessions[key]
	if !ok {
		s.log.Trace().Str("addr", key).Msg("dropping packet from unknown source")
		return
	}

	if !sess.CheckSequence(p.Seq) {
		s.log.Trace().Str("addr", key).Uint32("seq", p.Seq).Msg("dropping out-of-order packet")
		return
	}
	sess.Touch(now)

	switch p.Kind {
	case protocol.KindPingPong:
		sess.OnPong(p.PingID, now)
	case protocol.KindTrackerStatus:
		sess.OnTrackerStatus(p.StatusIndex, p.Status)
		s.ackTrackerStatus(addr, p)
	case protocol.KindTrackerData:
		for _, e := range p.Entries {
			sess.OnTrackerData(e.LocalIndex, e.Quat, e.Accel, now)
		}
	case protocol.KindBatteryLevel:
		sess.OnBattery(float64(p.Battery))
	}
}

func (s *Server) ackTrackerStatus(addr *net.UDPAddr, p *protocol.Packet) {
	buf, err := protocol.Serialize(p)
	if err != nil {
		return
	}
	if _, err := s.conn.WriteToUDP(buf, addr); err != nil {
		s.log.Warn().Err(err).Msg("failed to ack tracker status")
	}
}

func (s *Server) handleHandshake(p *protocol.Packet, addr *net.UDPAddr, now time.Time) {
	macKey := MacString(p.Mac)
	if prevAddrKey, known := s.macToAddr[macKey]; known {
		sess := s.sessions[prevAddrKey]
		if sess != nil {
			if prevAddrKey != addr.String() {
				delete(s.sessions, prevAddrKey)
				s.log.Info().Str("mac", macKey).Str("from", prevAddrKey).Str("to", addr.String()).
					Msg("device migrated address")
			}
			sess.OnHandshake(addr, now)
			s.sessions[addr.String()] = sess
			s.macToAddr[macKey] = addr.String()
		}
	} else {
		sess := NewSession(s.registry, p.Mac, addr, now)
		s.sessions[addr.String()] = sess
		s.macToAddr[macKey] = addr.String()
		s.log.Info().Str("mac", macKey).Str("addr", addr.String()).Msg("new device session")
	}

	if _, err := s.conn.WriteToUDP(protocol.HandshakeResponse[:], addr); err != nil {
		s.log.Warn().Err(err).Msg("failed to reply to handshake")
	}
}

func isWouldBlock(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return false
}

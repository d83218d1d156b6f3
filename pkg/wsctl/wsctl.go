// Package wsctl implements the local JSON WebSocket control plane the UI
// shell attaches to (§4.I): a single accepted connection, an initial
// snapshot on connect, a feed-batched per-tick outbound burst, and inbound
// commands queued for the main loop to apply.
package wsctl

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/Calbabreaker/micap/internal/config"
	"github.com/Calbabreaker/micap/pkg/registry"
)

// ListenAddr is the fixed local control-plane address (§6).
const ListenAddr = "127.0.0.1:8298"

// Command is an inbound message from the UI, queued for the main loop.
type Command struct {
	Kind string // "SerialSend", "RemoveTracker", or "UpdateConfig"

	SerialSendData  []byte
	RemoveTrackerID string
	UpdateConfig    *config.GlobalConfig
}

// Server owns the single accepted connection and its send/receive queues.
type Server struct {
	log      zerolog.Logger
	upgrader websocket.Upgrader
	http     *http.Server
	listener net.Listener

	mu      sync.Mutex
	conn    *websocket.Conn
	connID  uuid.UUID
	pending [][]byte

	inbound chan Command
}

// New binds addr (pass ListenAddr in production) and constructs a server;
// call Serve to start accepting connections. Binding eagerly lets callers
// (and tests using "127.0.0.1:0") learn the resolved Addr() before Serve
// runs.
func New(log zerolog.Logger, addr string) (*Server, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("binding control plane listener: %w", err)
	}

	s := &Server{
		log:      log.With().Str("component", "wsctl").Logger(),
		inbound:  make(chan Command, 64),
		listener: listener,
	}
	s.upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleUpgrade)
	s.http = &http.Server{Handler: mux}
	return s, nil
}

// Addr returns the resolved listen address, useful when addr's port was 0.
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// ConnID returns the id of the currently attached connection, or uuid.Nil
// if none is attached. The main loop polls this once per tick to detect a
// freshly accepted connection and send it an InitialState message (§4.I).
func (s *Server) ConnID() uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return uuid.Nil
	}
	return s.connID
}

// Serve blocks accepting connections until ctx is canceled.
func (s *Server) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.http.Serve(s.listener)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return s.http.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	if s.conn != nil {
		s.mu.Unlock()
		s.log.Warn().Str("addr", r.RemoteAddr).Msg("refusing additional connection, one is already active")
		http.Error(w, "already connected", http.StatusConflict)
		return
	}
	s.mu.Unlock()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("upgrade failed")
		return
	}

	id := uuid.New()
	s.mu.Lock()
	s.conn = conn
	s.connID = id
	s.mu.Unlock()

	s.log.Info().Str("conn_id", id.String()).Msg("control plane connection accepted")
	go s.readLoop(conn, id)
}

func (s *Server) readLoop(conn *websocket.Conn, id uuid.UUID) {
	defer func() {
		s.mu.Lock()
		if s.conn == conn {
			s.conn = nil
		}
		s.mu.Unlock()
		conn.Close()
		s.log.Info().Str("conn_id", id.String()).Msg("control plane connection closed")
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		cmd, err := parseInbound(data)
		if err != nil {
			s.log.Warn().Err(err).Str("conn_id", id.String()).Msg("dropping malformed inbound message")
			continue
		}
		s.inbound <- cmd
	}
}

func parseInbound(data []byte) (Command, error) {
	var env inboundEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Command{}, fmt.Errorf("parsing envelope: %w", err)
	}

	switch env.Type {
	case "SerialSend":
		var p serialSendPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return Command{}, fmt.Errorf("parsing SerialSend: %w", err)
		}
		return Command{Kind: "SerialSend", SerialSendData: p.Data}, nil
	case "RemoveTracker":
		var p removeTrackerPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return Command{}, fmt.Errorf("parsing RemoveTracker: %w", err)
		}
		return Command{Kind: "RemoveTracker", RemoveTrackerID: p.ID}, nil
	case "UpdateConfig":
		var p updateConfigPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return Command{}, fmt.Errorf("parsing UpdateConfig: %w", err)
		}
		return Command{Kind: "UpdateConfig", UpdateConfig: &p.Config}, nil
	default:
		return Command{}, fmt.Errorf("unknown inbound message type %q", env.Type)
	}
}

// Commands returns the channel the main loop drains each tick.
func (s *Server) Commands() <-chan Command {
	return s.inbound
}

// SendInitialState emits the InitialState message to whatever connection is
// currently attached, if any.
func (s *Server) SendInitialState(cfg, defaultCfg *config.GlobalConfig, serialPort string, trackers []*registry.Tracker) {
	snapshots := make([]TrackerSnapshot, 0, len(trackers))
	for _, t := range trackers {
		snapshots = append(snapshots, snapshotOf(t))
	}
	payload := initialStatePayload{
		Config:        cfg,
		DefaultConfig: defaultCfg,
		SerialPort:    serialPort,
		Trackers:      snapshots,
	}
	s.enqueue(typeInitialState, payload)
}

// QueueTrackerUpdates enqueues a TrackerUpdate message per tracker whose
// WasUpdated flag is set (§4.I "Per tick").
func (s *Server) QueueTrackerUpdates(trackers []*registry.Tracker) {
	for _, t := range trackers {
		if !t.WasUpdated() {
			continue
		}
		s.enqueue(typeTrackerUpdate, snapshotOf(t))
	}
}

// QueueSkeletonUpdate enqueues a full bone snapshot.
func (s *Server) QueueSkeletonUpdate(bones []BoneSnapshot) {
	s.enqueue(typeSkeletonUpdate, bones)
}

// QueueConfigUpdate enqueues the just-applied config.
func (s *Server) QueueConfigUpdate(cfg *config.GlobalConfig) {
	s.enqueue(typeConfigUpdate, cfg)
}

// QueueSerialLog enqueues a line of serial-port activity from the companion.
func (s *Server) QueueSerialLog(line string) {
	s.enqueue(typeSerialLog, map[string]string{"line": line})
}

// QueueSerialPortChanged enqueues a serial port attach/detach notification.
func (s *Server) QueueSerialPortChanged(port string) {
	s.enqueue(typeSerialPortChanged, map[string]string{"port": port})
}

// QueueError enqueues a single-line server error string (§4.F).
func (s *Server) QueueError(msg string) {
	s.enqueue(typeError, map[string]string{"message": msg})
}

func (s *Server) enqueue(typ string, data any) {
	buf, err := marshalEnvelope(typ, data)
	if err != nil {
		s.log.Warn().Err(err).Str("type", typ).Msg("failed to encode outbound message")
		return
	}
	s.mu.Lock()
	s.pending = append(s.pending, buf)
	s.mu.Unlock()
}

// Flush writes every message queued since the last Flush to the attached
// connection, in order, and clears the queue. A no-op when nothing is
// attached (§4.I messages are simply dropped until a client connects).
func (s *Server) Flush() error {
	s.mu.Lock()
	conn := s.conn
	pending := s.pending
	s.pending = nil
	s.mu.Unlock()

	if conn == nil || len(pending) == 0 {
		return nil
	}

	for _, msg := range pending {
		if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return fmt.Errorf("writing control plane burst: %w", err)
		}
	}
	return nil
}

// Close shuts down the HTTP listener and any attached connection.
func (s *Server) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
	return s.http.Shutdown(ctx)
}

package signaling

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/pairwire/signal-relay/internal/metrics"
	"github.com/pairwire/signal-relay/internal/ratelimit"
)

const wsWriteWait = 1 * time.Second

const (
	DefaultMaxMessageBytes      = int64(64 * 1024)
	DefaultMaxMessagesPerSecond = 50
)

// Config wires together the runtime dependencies for the signaling server.
type Config struct {
	// Registry owns room and cleanup state. Required.
	Registry *Registry

	Metrics *metrics.Metrics
	Logger  *slog.Logger

	// IdleTimeout closes connections that produce neither messages nor pong
	// replies for this long. Zero disables the read deadline.
	IdleTimeout time.Duration
	// PingInterval is how often the server pings each connection so pongs can
	// refresh the idle deadline. Zero disables server pings.
	PingInterval time.Duration

	// MaxMessageBytes caps a single inbound frame. Zero means the default.
	MaxMessageBytes int64
	// MaxMessagesPerSecond caps inbound signaling traffic per connection.
	// Zero means the default; negative disables the limiter.
	MaxMessagesPerSecond int

	// CheckOrigin overrides the websocket upgrade origin policy. Nil accepts
	// all origins; deployments enforce the allow-list in the outer
	// httpserver origin middleware.
	CheckOrigin func(r *http.Request) bool
}

// Server upgrades HTTP requests to websocket signaling connections and runs
// the per-connection dispatch loop against the shared Registry.
type Server struct {
	registry *Registry
	metrics  *metrics.Metrics
	log      *slog.Logger

	idleTimeout  time.Duration
	pingInterval time.Duration

	maxMessageBytes      int64
	maxMessagesPerSecond int

	upgrader websocket.Upgrader
}

func NewServer(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	maxBytes := cfg.MaxMessageBytes
	if maxBytes == 0 {
		maxBytes = DefaultMaxMessageBytes
	}
	perSecond := cfg.MaxMessagesPerSecond
	if perSecond == 0 {
		perSecond = DefaultMaxMessagesPerSecond
	}
	checkOrigin := cfg.CheckOrigin
	if checkOrigin == nil {
		checkOrigin = func(r *http.Request) bool { return true }
	}

	return &Server{
		registry:             cfg.Registry,
		metrics:              cfg.Metrics,
		log:                  logger,
		idleTimeout:          cfg.IdleTimeout,
		pingInterval:         cfg.PingInterval,
		maxMessageBytes:      maxBytes,
		maxMessagesPerSecond: perSecond,
		upgrader: websocket.Upgrader{
			CheckOrigin: checkOrigin,
		},
	}
}

func (s *Server) inc(name string) {
	if s.metrics != nil {
		s.metrics.Inc(name)
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	c := &conn{
		id: uuid.NewString(),
		ws: ws,
	}
	c.log = s.log.With("conn_id", c.id, "remote_addr", ws.RemoteAddr().String())

	s.inc(metrics.ConnectionOpened)
	c.log.Info("client connected")

	s.handleConn(c)
}

func (s *Server) handleConn(c *conn) {
	defer func() {
		// The read loop has exited, so no further messages from this
		// connection can race with the cleanup.
		s.registry.LeaveAll(c)
		c.close()
		s.inc(metrics.ConnectionClosed)
		c.log.Info("client disconnected")
	}()

	// Tell the remote side the relay is ready before it issues a join.
	if err := c.Send(statusMessage(ServerMessageSuccess, StatusConnectedPeerServer, "")); err != nil {
		return
	}

	c.ws.SetReadLimit(s.maxMessageBytes)
	if s.idleTimeout > 0 {
		_ = c.ws.SetReadDeadline(time.Now().Add(s.idleTimeout))
		c.ws.SetPongHandler(func(string) error {
			return c.ws.SetReadDeadline(time.Now().Add(s.idleTimeout))
		})
	}

	stopPing := s.startPing(c)
	defer stopPing()

	var limiter *ratelimit.TokenBucket
	if s.maxMessagesPerSecond > 0 {
		limiter = ratelimit.NewTokenBucket(
			ratelimit.RealClock{},
			int64(s.maxMessagesPerSecond),
			int64(s.maxMessagesPerSecond),
		)
	}

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				c.closeWith(websocket.CloseNormalClosure, "idle timeout")
			} else if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.log.Debug("read failed", "err", err)
			}
			return
		}
		if limiter != nil && !limiter.Allow(1) {
			s.inc(metrics.DropReasonRateLimited)
			c.closeWith(websocket.ClosePolicyViolation, "rate limit exceeded")
			return
		}
		s.dispatch(c, data)
	}
}

// startPing runs the keepalive ping loop and returns its stop function.
func (s *Server) startPing(c *conn) func() {
	if s.pingInterval <= 0 {
		return func() {}
	}

	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(s.pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := c.writeControl(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()
	return func() { close(done) }
}

// dispatch processes one inbound frame. Protocol failures are answered on the
// originating connection only; nothing here ends the connection.
func (s *Server) dispatch(c *conn, data []byte) {
	msg, err := ParseClientMessage(data)
	if err != nil {
		s.inc(metrics.ParseError)
		c.log.Debug("unparseable message", "err", err)
		_ = c.Send(errorMessage(StatusInvalidMessage, ""))
		return
	}
	if msg.ID == "" {
		_ = c.Send(errorMessage(StatusIDNotFound, ""))
		return
	}

	switch msg.Type {
	case ClientMessageJoin:
		res, err := s.registry.Join(c, msg.ID)
		if err != nil {
			s.fail(c, err, msg.ID, "", "")
			return
		}
		switch res.Outcome {
		case JoinFirstOccupant:
			_ = c.Send(statusMessage(ServerMessageSuccess, StatusWaitingOther, msg.ID))
		case JoinPairComplete:
			s.push(res.Initiator, payloadMessage(ServerMessageRequestOffer, nil, msg.ID))
			_ = c.Send(statusMessage(ServerMessageSuccess, StatusConnectionStarted, msg.ID))
		}

	case ClientMessageOffer:
		peer, err := s.registry.SubmitOffer(c, msg.ID, msg.Data)
		if err != nil {
			s.fail(c, err, msg.ID, StatusNoWaitingOffer, StatusInvalidOffer)
			return
		}
		s.push(peer, payloadMessage(ServerMessageRequestAnswer, msg.Data, msg.ID))
		_ = c.Send(successAck(msg.ID))

	case ClientMessageAnswer:
		peer, err := s.registry.SubmitAnswer(c, msg.ID, msg.Data)
		if err != nil {
			s.fail(c, err, msg.ID, StatusNoWaitingAnswer, StatusInvalidAnswer)
			return
		}
		s.push(peer, payloadMessage(ServerMessageSDPAnswer, msg.Data, msg.ID))
		_ = c.Send(successAck(msg.ID))

	case ClientMessageCandidate:
		peer, err := s.registry.RelayCandidate(c, msg.ID)
		if err != nil {
			s.fail(c, err, msg.ID, StatusNoWaitingCandidate, "")
			return
		}
		s.push(peer, payloadMessage(ServerMessageCandidate, msg.Data, msg.ID))
		_ = c.Send(successAck(msg.ID))

	case ClientMessageDisconnect:
		// Leaving an unknown room is a no-op and needs no reply.
		s.registry.Leave(c, msg.ID)
	}
}

// fail converts a registry error to the protocol's error reply. outOfOrder
// and invalidPayload name the per-operation status strings for those kinds.
func (s *Server) fail(c *conn, err error, roomID, outOfOrder, invalidPayload string) {
	s.inc(metrics.ProtocolError)
	_ = c.Send(errorMessage(registryErrorStatus(err, outOfOrder, invalidPayload), roomID))
}

func registryErrorStatus(err error, outOfOrder, invalidPayload string) string {
	switch {
	case errors.Is(err, ErrRoomNotFound):
		return StatusUndefinedID
	case errors.Is(err, ErrRoomFull):
		return StatusRoomFull
	case errors.Is(err, ErrOutOfOrder):
		return outOfOrder
	case errors.Is(err, ErrPermissionDenied):
		return StatusPermissionDenied
	case errors.Is(err, ErrInvalidPayload):
		return invalidPayload
	default:
		return StatusInvalidMessage
	}
}

func (s *Server) push(p Peer, msg ServerMessage) {
	if p == nil {
		return
	}
	// Fire and forget: a slow or dying peer is detected by its own read
	// loop, never by the sender.
	_ = p.Send(msg)
}

// conn wraps a single websocket connection. It implements Peer.
type conn struct {
	id  string
	ws  *websocket.Conn
	log *slog.Logger

	writeMu   sync.Mutex
	closeOnce sync.Once
}

func (c *conn) ID() string { return c.id }

func (c *conn) Send(msg ServerMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

func (c *conn) writeControl(messageType int, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteControl(messageType, data, time.Now().Add(wsWriteWait))
}

func (c *conn) closeWith(code int, reason string) {
	_ = c.writeControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason))
}

func (c *conn) close() {
	c.closeOnce.Do(func() {
		_ = c.ws.Close()
	})
}

package realtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"marketchat/cmd/internal/metrics"
	v1 "marketchat/shared/contracts/chat/v1"

	"github.com/coder/websocket"
)

// Deps are the persistence collaborators of the Gateway.
type Deps struct {
	Messages      MessageStore
	Conversations ConversationStore
	// Reconciler is optional; without it failed summary updates are only logged.
	Reconciler *Reconciler
}

// Gateway is the WebSocket entrypoint of the chat core.
//
// It enforces origin policy, subprotocol selection, rate limits and heartbeats,
// and routes validated envelopes to the registry, hub, typing tracker and ingestor.
type Gateway struct {
	log  *slog.Logger
	opts Options

	// Derived for websocket.Accept origin checks.
	// Accept() authorizes same-host origins by default, but for cross-origin it requires OriginPatterns.
	originPatterns []string

	hub           *Hub
	registry      *Registry
	presence      *Presence
	typing        *TypingTracker
	ingest        *Ingestor
	conversations ConversationStore

	now func() time.Time
}

// NewGateway wires a Gateway. It fails when a store is missing or an allowed
// origin is not a valid http(s) origin.
func NewGateway(log *slog.Logger, deps Deps, opts Options) (*Gateway, error) {
	if log == nil {
		log = slog.Default()
	}
	if deps.Messages == nil {
		return nil, errors.New("realtime: message store is required")
	}
	if deps.Conversations == nil {
		return nil, errors.New("realtime: conversation store is required")
	}
	if err := validateOrigins(opts.AllowedOrigins); err != nil {
		return nil, fmt.Errorf("realtime: %w", err)
	}
	opts = opts.withDefaults()

	hub := NewHub(log)
	g := &Gateway{
		log:            log,
		opts:           opts,
		originPatterns: deriveOriginPatterns(opts.AllowedOrigins),
		hub:            hub,
		registry:       NewRegistry(),
		presence:       NewPresence(log, hub),
		typing:         NewTypingTracker(hub, opts.TypingTTL),
		ingest:         NewIngestor(log, deps.Messages, deps.Conversations, hub, deps.Reconciler, opts.StoreTimeout),
		conversations:  deps.Conversations,
		now:            func() time.Time { return time.Now().UTC() },
	}
	return g, nil
}

// Hub exposes the room router.
func (g *Gateway) Hub() *Hub { return g.hub }

// Registry exposes the connection registry.
func (g *Gateway) Registry() *Registry { return g.registry }

// ServeHTTP adapter so it can be mounted as http.Handler.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.HandleWS(w, r)
}

// HandleWS upgrades an HTTP request to a WebSocket session and runs the chat loop.
func (g *Gateway) HandleWS(w http.ResponseWriter, r *http.Request) {
	if err := g.enforceOrigin(r); err != nil {
		g.log.Info("ws.reject.origin", "err", err, "origin", r.Header.Get("Origin"), "remote", r.RemoteAddr)
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols:   []string{v1.Subprotocol},
		OriginPatterns: g.originPatterns,

		// Dev-only escape hatch.
		InsecureSkipVerify: g.opts.DevInsecure,
	})
	if err != nil {
		g.log.Error("ws.accept.fail", "err", err)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") }()

	if sp := conn.Subprotocol(); sp != v1.Subprotocol {
		g.log.Info("ws.reject.subprotocol", "got", sp, "want", v1.Subprotocol)
		_ = conn.Close(websocket.StatusProtocolError, "subprotocol required")
		return
	}

	conn.SetReadLimit(maxFrameBytes)

	sessionID, err := NewSessionID(g.now())
	if err != nil {
		g.log.Error("ws.session_id.fail", "err", err)
		_ = conn.Close(websocket.StatusInternalError, "internal error")
		return
	}
	client := g.connect(sessionID)
	g.log.Info("ws.connect", "session_id", sessionID, "remote", r.RemoteAddr)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	var closeOnce sync.Once

	// shutdown is idempotent. It does NOT close client.Send.
	// Room and registry removal happen before client.Close.
	shutdown := func(code websocket.StatusCode, reason string) {
		closeOnce.Do(func() {
			g.disconnect(client)

			client.Close()
			_ = conn.Close(code, reason)
			cancel()
			g.log.Info("ws.disconnect", "session_id", sessionID, "reason", reason)
		})
	}

	rl := NewRateLimiter(g.opts.RateEvents, g.opts.RateWindow)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)

		for {
			select {
			case <-ctx.Done():
				return
			case <-client.Done():
				return
			case env := <-client.Send:
				if err := writeEnvelope(ctx, conn, env, g.opts.WriteTimeout); err != nil {
					g.log.Info("ws.write.fail", "session_id", sessionID, "close_status", websocket.CloseStatus(err), "err", err)
					shutdown(websocket.StatusAbnormalClosure, "write failed")
					return
				}
			}
		}
	}()

	heartbeatDone := make(chan struct{})
	go func() {
		defer close(heartbeatDone)

		t := time.NewTicker(g.opts.HeartbeatEvery)
		defer t.Stop()

		failures := 0
		for {
			select {
			case <-ctx.Done():
				return
			case <-client.Done():
				return
			case <-t.C:
				hbCtx, hbCancel := context.WithTimeout(ctx, g.opts.HeartbeatTimeout)
				err := conn.Ping(hbCtx)
				hbCancel()

				if err != nil {
					failures++
					g.log.Info("ws.ping.fail", "session_id", sessionID, "failures", failures, "err", err)
					if failures >= wsMaxPingFailures {
						shutdown(websocket.StatusGoingAway, "heartbeat failed")
						return
					}
					continue
				}
				failures = 0
			}
		}
	}()

readLoop:
	for {
		env, err := g.read(ctx, conn)
		if err != nil {
			switch classifyReadErr(err) {
			case readErrClose:
				shutdown(websocket.StatusNormalClosure, "peer closed")
				break readLoop
			case readErrCtxDone:
				shutdown(websocket.StatusNormalClosure, "context done")
				break readLoop
			case readErrConnClosed:
				shutdown(websocket.StatusAbnormalClosure, "conn closed")
				break readLoop
			case readErrBadJSON:
				metrics.EventsTotal.WithLabelValues("invalid", "error").Inc()
				g.sendError(client, "bad_json", "invalid JSON")
				continue readLoop
			default:
				g.log.Info("ws.read.fail", "session_id", sessionID, "err", err)
				shutdown(websocket.StatusAbnormalClosure, "read failed")
				break readLoop
			}
		}

		if ok, retry := rl.Allow(g.now()); !ok {
			metrics.RateLimitHits.Inc()
			g.log.Warn("ws.rate_limited", "session_id", sessionID, "retry_after", retry)
			g.sendError(client, "rate_limited", "too many events")
			shutdown(websocket.StatusPolicyViolation, "rate limited")
			break readLoop
		}

		g.dispatch(ctx, client, env)
	}

	shutdown(websocket.StatusNormalClosure, "bye")
	<-writerDone

	select {
	case <-heartbeatDone:
	case <-time.After(wsCloseGrace):
	}
}

func (g *Gateway) read(ctx context.Context, conn *websocket.Conn) (v1.Envelope, error) {
	if g.opts.ReadIdleTimeout <= 0 {
		return readEnvelope(ctx, conn)
	}
	readCtx, readCancel := context.WithTimeout(ctx, g.opts.ReadIdleTimeout)
	defer readCancel()
	return readEnvelope(readCtx, conn)
}

// connect registers a fresh, unbound client with the hub.
func (g *Gateway) connect(sessionID string) *Client {
	c := NewClient(sessionID, g.opts.SendQueueSize)
	g.hub.Register(c)
	return c
}

// disconnect tears down everything the client held: typing indicators, room
// memberships and its registry slot. user:offline is broadcast only when the
// slot still pointed at this client.
// Joins still in flight on the read loop are refused once it returns.
func (g *Gateway) disconnect(c *Client) {
	c.life.Lock()
	defer c.life.Unlock()
	c.markClosed()

	g.typing.ClearSession(c.SessionID)
	g.hub.Unregister(c.SessionID)

	id := c.unbind()
	if id.IsZero() {
		return
	}
	if g.registry.Unbind(id, c) {
		g.presence.Offline(id)
	}
}

// ---- send helpers ----

func (g *Gateway) send(c *Client, typ string, payload any) bool {
	if c.offer(newEnvelope(typ, payload, g.now())) {
		return true
	}
	g.log.Debug("ws.send.drop", "session_id", c.SessionID, "type", typ)
	return false
}

func (g *Gateway) sendError(c *Client, code, msg string) {
	g.send(c, v1.TypeError, v1.ErrorPayload{Code: code, Message: msg})
}

// EmitToIdentity delivers an event to the connection currently bound to id.
// It reports false when id is offline or its queue is full.
func (g *Gateway) EmitToIdentity(id Identity, typ string, payload any) bool {
	c, ok := g.registry.Lookup(id)
	if !ok {
		return false
	}
	return g.send(c, typ, payload)
}

// EmitToRoom delivers an event to every member of a room and returns the delivery count.
func (g *Gateway) EmitToRoom(room, typ string, payload any) int {
	return g.hub.Broadcast(room, newEnvelope(typ, payload, g.now()))
}

// ---- read error classification ----

type readErrKind uint8

const (
	readErrUnknown readErrKind = iota
	readErrClose
	readErrCtxDone
	readErrConnClosed
	readErrBadJSON
)

func classifyReadErr(err error) readErrKind {
	var bad *badJSONError
	if errors.As(err, &bad) {
		return readErrBadJSON
	}
	if websocket.CloseStatus(err) != -1 {
		return readErrClose
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return readErrCtxDone
	}
	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) {
		return readErrConnClosed
	}
	return readErrUnknown
}

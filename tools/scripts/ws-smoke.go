// Package main provides a CI-friendly WebSocket smoke test for the marketchat gateway.
//
// It validates:
//   - handshake + subprotocol selection
//   - user:join / partner:join presence
//   - conversation:join acknowledgements
//   - typing:start fanout to the other member
//   - message:send -> message:received for every member
//   - optional guest send with a generated anonymous id
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	v1 "marketchat/shared/contracts/chat/v1"

	"github.com/coder/websocket"
	"github.com/google/uuid"
)

const maxReadBytes = 1 << 20 // 1MiB

type smokeClient struct {
	name string
	conn *websocket.Conn

	inbox chan v1.Envelope
	errCh chan error
}

func main() {
	var (
		wsURL     = flag.String("url", "ws://127.0.0.1:8080/ws", "WebSocket URL")
		origin    = flag.String("origin", "http://localhost:3000", "Origin header to send (browser-like WS handshake)")
		convID    = flag.String("conv", "smoke-conv-1", "Conversation ID to join")
		userID    = flag.String("user", "smoke-buyer", "Buyer user id")
		partnerID = flag.String("partner", "smoke-seller", "Seller partner id")
		text      = flag.String("text", "is this still available?", "Message text to send")
		guest     = flag.Bool("guest", true, "Also send a message as a generated guest")
		timeout   = flag.Duration("timeout", 7*time.Second, "Per-step timeout")
		verbose   = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	if err := validateWSURL(*wsURL); err != nil {
		fatalf("invalid -url: %v", err)
	}
	if err := validateOrigin(*origin); err != nil {
		fatalf("invalid -origin: %v", err)
	}

	root := context.Background()

	buyer := mustConnect(root, "buyer", *wsURL, *origin, *timeout)
	defer closeWS(buyer.conn)

	seller := mustConnect(root, "seller", *wsURL, *origin, *timeout)
	defer closeWS(seller.conn)

	mustBind(root, buyer, v1.TypeUserJoin, v1.UserJoinPayload{UserID: *userID}, *userID, *timeout)
	mustBind(root, seller, v1.TypePartnerJoin, v1.PartnerJoinPayload{PartnerID: *partnerID}, *partnerID, *timeout)

	mustJoin(root, buyer, *convID, *timeout)
	mustJoin(root, seller, *convID, *timeout)

	mustWrite(root, seller.conn, envelope(v1.TypeTypingStart, v1.TypingStartPayload{
		ConversationID: *convID,
		Username:       *partnerID,
	}), *timeout)
	typing := buyer.mustReadUntilType(root, v1.TypeTypingActive, *timeout)
	var tp v1.TypingActivePayload
	mustUnmarshal(buyer, typing, &tp)
	if tp.ConversationID != *convID || tp.Username != *partnerID {
		fatalf("typing:active mismatch (buyer): %+v", tp)
	}

	mustWrite(root, buyer.conn, envelope(v1.TypeMessageSend, v1.MessageSendPayload{
		ConversationID: *convID,
		Content:        *text,
		SenderType:     v1.SenderTypeUser,
		UserID:         *userID,
		UserName:       *userID,
	}), *timeout)

	var msgID string
	for _, c := range []*smokeClient{buyer, seller} {
		m := mustAssertReceived(root, c, *convID, *text, *timeout)
		if m.Sender == nil || m.Sender.ID != *userID {
			fatalf("message:received sender mismatch (%s): %+v", c.name, m.Sender)
		}
		msgID = m.ID
	}

	if *guest {
		mustGuestSend(root, *wsURL, *origin, *convID, seller, *timeout)
	}

	if *verbose {
		fmt.Printf("buyer=%s seller=%s origin=%q\n", *userID, *partnerID, *origin)
	}
	fmt.Printf("OK: conv_id=%s message_id=%s guest=%v\n", *convID, msgID, *guest)
}

func mustGuestSend(parent context.Context, wsURL, origin, convID string, observer *smokeClient, stepTimeout time.Duration) {
	g := mustConnect(parent, "guest", wsURL, origin, stepTimeout)
	defer closeWS(g.conn)

	anonID := uuid.NewString()
	mustWrite(parent, g.conn, envelope(v1.TypeGuestJoin, v1.GuestJoinPayload{AnonymousID: anonID}), stepTimeout)
	mustJoin(parent, g, convID, stepTimeout)

	text := "guest question " + anonID[:8]
	mustWrite(parent, g.conn, envelope(v1.TypeMessageSend, v1.MessageSendPayload{
		ConversationID: convID,
		Content:        text,
		SenderType:     v1.SenderTypeGuest,
		AnonymousID:    anonID,
		AnonymousName:  "Smoke Guest",
	}), stepTimeout)

	m := mustAssertReceived(parent, observer, convID, text, stepTimeout)
	if m.SenderType != v1.StoredSenderAnonymous || m.AnonymousSender == nil || m.AnonymousSender.ID != anonID {
		fatalf("guest message mismatch (%s): %+v", observer.name, m)
	}
}

func validateWSURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("missing host")
	}
	if strings.TrimSpace(u.Path) == "" {
		return errors.New("missing path")
	}
	return nil
}

func validateOrigin(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("origin must be http/https, got: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("origin missing host")
	}
	return nil
}

func mustConnect(parent context.Context, name, wsURL, origin string, stepTimeout time.Duration) *smokeClient {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	h := http.Header{}
	if strings.TrimSpace(origin) != "" {
		h.Set("Origin", origin)
	}

	conn, resp, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		Subprotocols: []string{v1.Subprotocol},
		HTTPHeader:   h,
	})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		fatalf("connect %s: %v", name, err)
	}
	if got := conn.Subprotocol(); got != v1.Subprotocol {
		fatalf("subprotocol mismatch (%s): got=%q want=%q", name, got, v1.Subprotocol)
	}

	conn.SetReadLimit(maxReadBytes)

	c := &smokeClient{
		name:  name,
		conn:  conn,
		inbox: make(chan v1.Envelope, 512),
		errCh: make(chan error, 1),
	}
	c.startReadLoop()
	return c
}

func (c *smokeClient) startReadLoop() {
	go func() {
		defer close(c.inbox)

		for {
			_, data, err := c.conn.Read(context.Background())
			if err != nil {
				c.fail(err)
				return
			}

			var env v1.Envelope
			if err := json.Unmarshal(data, &env); err != nil {
				c.fail(fmt.Errorf("bad json: %w", err))
				return
			}
			if env.V != v1.Version {
				c.fail(fmt.Errorf("unexpected protocol version %q", env.V))
				return
			}

			select {
			case c.inbox <- env:
			default:
				c.fail(errors.New("inbox overflow: consumer too slow"))
				return
			}
		}
	}()
}

func (c *smokeClient) fail(err error) {
	select {
	case c.errCh <- err:
	default:
	}
}

// mustReadUntilType skips unrelated events (presence of other smoke clients, acks)
// until typ arrives. Server error events abort the run.
func (c *smokeClient) mustReadUntilType(parent context.Context, typ string, stepTimeout time.Duration) v1.Envelope {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			fatalf("timeout waiting for %s (%s)", typ, c.name)
		case err := <-c.errCh:
			fatalf("read loop failed (%s): %v", c.name, err)
		case env, ok := <-c.inbox:
			if !ok {
				fatalf("connection closed waiting for %s (%s)", typ, c.name)
			}
			if env.Type == typ {
				return env
			}
			if env.Type == v1.TypeError || env.Type == v1.TypeMessageError {
				fatalf("server reported %s while waiting for %s (%s): %s", env.Type, typ, c.name, string(env.Payload))
			}
		}
	}
}

func mustBind(parent context.Context, c *smokeClient, typ string, payload any, wantID string, stepTimeout time.Duration) {
	mustWrite(parent, c.conn, envelope(typ, payload), stepTimeout)

	// user:online is broadcast to every connection, the joining one included.
	for {
		env := c.mustReadUntilType(parent, v1.TypeUserOnline, stepTimeout)
		var p v1.PresencePayload
		mustUnmarshal(c, env, &p)
		if p.UserID == wantID {
			return
		}
	}
}

func mustJoin(parent context.Context, c *smokeClient, convID string, stepTimeout time.Duration) {
	mustWrite(parent, c.conn, envelope(v1.TypeConversationJoin, v1.ConversationPayload{ConversationID: convID}), stepTimeout)

	ack := c.mustReadUntilType(parent, v1.TypeConversationJoined, stepTimeout)
	var p v1.ConversationPayload
	mustUnmarshal(c, ack, &p)
	if p.ConversationID != convID {
		fatalf("conversation:joined mismatch (%s): got=%q want=%q", c.name, p.ConversationID, convID)
	}
}

func mustAssertReceived(parent context.Context, c *smokeClient, convID, text string, stepTimeout time.Duration) v1.MessageView {
	for {
		env := c.mustReadUntilType(parent, v1.TypeMessageReceived, stepTimeout)
		var p v1.MessageReceivedPayload
		mustUnmarshal(c, env, &p)
		if p.Message.Content != text {
			continue
		}
		if p.ConversationID != convID || p.Message.ConversationID != convID {
			fatalf("message:received conv mismatch (%s): %+v", c.name, p)
		}
		if strings.TrimSpace(p.Message.ID) == "" || p.Message.CreatedAt.IsZero() {
			fatalf("message:received missing id/createdAt (%s): %+v", c.name, p.Message)
		}
		return p.Message
	}
}

func envelope(typ string, payload any) v1.Envelope {
	return v1.Envelope{
		V:       v1.Version,
		Type:    typ,
		ID:      uuid.NewString(),
		TS:      time.Now().UTC(),
		Payload: mustJSON(payload),
	}
}

func mustWrite(parent context.Context, conn *websocket.Conn, env v1.Envelope, stepTimeout time.Duration) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	b, err := json.Marshal(env)
	if err != nil {
		fatalf("marshal %s: %v", env.Type, err)
	}
	if err := conn.Write(ctx, websocket.MessageText, b); err != nil {
		fatalf("write %s: %v", env.Type, err)
	}
}

func mustUnmarshal(c *smokeClient, env v1.Envelope, dst any) {
	if err := json.Unmarshal(env.Payload, dst); err != nil {
		fatalf("unmarshal %s payload (%s): %v", env.Type, c.name, err)
	}
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		fatalf("marshal: %v", err)
	}
	return b
}

func closeWS(conn *websocket.Conn) {
	_ = conn.Close(websocket.StatusNormalClosure, "smoke done")
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FAIL: "+format+"\n", args...)
	os.Exit(1)
}

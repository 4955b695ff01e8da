package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	v1 "marketchat/shared/contracts/chat/v1"

	"github.com/coder/websocket"
)

func TestWSGateway_MessageRoundTrip(t *testing.T) {
	t.Parallel()

	st := NewInMemoryStore()
	gw := newTestGateway(t, Deps{Messages: st, Conversations: st}, func(o *Options) {
		o.AllowedOrigins = []string{"http://localhost:3000"}
	})
	ts := startWSTestServer(t, gw)
	defer ts.Close()

	user := mustDialWS(t, ts.URL, "http://localhost:3000")
	defer func() { _ = user.Close(websocket.StatusNormalClosure, "bye") }()
	partner := mustDialWS(t, ts.URL, "http://localhost:3000")
	defer func() { _ = partner.Close(websocket.StatusNormalClosure, "bye") }()

	writeEnvelopeWS(t, user, inbound(t, v1.TypeUserJoin, v1.UserJoinPayload{UserID: "u1"}))
	readUntilType(t, user, v1.TypeUserOnline, 5)
	writeEnvelopeWS(t, partner, inbound(t, v1.TypePartnerJoin, v1.PartnerJoinPayload{PartnerID: "p1"}))
	readUntilType(t, partner, v1.TypeUserOnline, 5)

	for _, c := range []*websocket.Conn{user, partner} {
		writeEnvelopeWS(t, c, inbound(t, v1.TypeConversationJoin, v1.ConversationPayload{ConversationID: "c1"}))
		readUntilType(t, c, v1.TypeConversationJoined, 5)
	}

	writeEnvelopeWS(t, partner, inbound(t, v1.TypeTypingStart, v1.TypingStartPayload{ConversationID: "c1", Username: "shop"}))
	typing := readUntilType(t, user, v1.TypeTypingActive, 5)
	if p := mustDecode[v1.TypingActivePayload](t, typing); p.Username != "shop" {
		t.Fatalf("typing payload=%+v", p)
	}

	writeEnvelopeWS(t, user, inbound(t, v1.TypeMessageSend, v1.MessageSendPayload{
		ConversationID: "c1",
		Content:        "is this still available?",
		SenderType:     v1.SenderTypeUser,
		UserID:         "u1",
		UserName:       "Alice",
	}))

	for _, c := range []*websocket.Conn{user, partner} {
		env := readUntilType(t, c, v1.TypeMessageReceived, 10)
		p := mustDecode[v1.MessageReceivedPayload](t, env)
		if p.Message.Content != "is this still available?" || p.Message.Sender == nil || p.Message.Sender.ID != "u1" {
			t.Fatalf("message payload=%+v", p)
		}
	}
}

func TestWSGateway_DisconnectBroadcastsOffline(t *testing.T) {
	t.Parallel()

	gw := newTestGateway(t, Deps{}, func(o *Options) {
		o.OriginRequired = false
	})
	ts := startWSTestServer(t, gw)
	defer ts.Close()

	observer := mustDialWS(t, ts.URL, "")
	defer func() { _ = observer.Close(websocket.StatusNormalClosure, "bye") }()
	user := mustDialWS(t, ts.URL, "")

	writeEnvelopeWS(t, user, inbound(t, v1.TypeUserJoin, v1.UserJoinPayload{UserID: "u1"}))
	readUntilType(t, observer, v1.TypeUserOnline, 5)

	_ = user.Close(websocket.StatusNormalClosure, "bye")
	env := readUntilType(t, observer, v1.TypeUserOffline, 5)
	if p := mustDecode[v1.PresencePayload](t, env); p.UserID != "u1" {
		t.Fatalf("offline payload=%+v", p)
	}
}

func TestWSGateway_BadJSONKeepsConnection(t *testing.T) {
	t.Parallel()

	gw := newTestGateway(t, Deps{}, func(o *Options) {
		o.OriginRequired = false
	})
	ts := startWSTestServer(t, gw)
	defer ts.Close()

	c := mustDialWS(t, ts.URL, "")
	defer func() { _ = c.Close(websocket.StatusNormalClosure, "bye") }()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.Write(ctx, websocket.MessageText, []byte("{not json")); err != nil {
		t.Fatalf("write: %v", err)
	}
	env := readUntilType(t, c, v1.TypeError, 5)
	if p := mustDecode[v1.ErrorPayload](t, env); p.Code != "bad_json" {
		t.Fatalf("error payload=%+v", p)
	}

	writeEnvelopeWS(t, c, inbound(t, v1.TypeConversationJoin, v1.ConversationPayload{ConversationID: "c1"}))
	readUntilType(t, c, v1.TypeConversationJoined, 5)
}

func TestWSGateway_RejectsForeignOrigin(t *testing.T) {
	t.Parallel()

	gw := newTestGateway(t, Deps{}, func(o *Options) {
		o.AllowedOrigins = []string{"https://shop.example.com"}
	})
	ts := startWSTestServer(t, gw)
	defer ts.Close()

	conn, resp, err := dialWS(t, ts.URL, "https://evil.example.net")
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err == nil {
		_ = conn.Close(websocket.StatusNormalClosure, "bye")
		t.Fatalf("expected dial to fail")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got resp=%v err=%v", resp, err)
	}
}

func TestWSGateway_RateLimitClosesConnection(t *testing.T) {
	t.Parallel()

	gw := newTestGateway(t, Deps{}, func(o *Options) {
		o.OriginRequired = false
		o.RateEvents = 3
		o.RateWindow = time.Minute
	})
	ts := startWSTestServer(t, gw)
	defer ts.Close()

	c := mustDialWS(t, ts.URL, "")
	defer func() { _ = c.Close(websocket.StatusNormalClosure, "bye") }()

	for i := 0; i < 4; i++ {
		writeEnvelopeWS(t, c, inbound(t, v1.TypeTypingStop, v1.ConversationPayload{ConversationID: "c1"}))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for {
		_, _, err := c.Read(ctx)
		if err == nil {
			continue
		}
		if got := websocket.CloseStatus(err); got != websocket.StatusPolicyViolation {
			t.Fatalf("close status=%v err=%v want policy violation", got, err)
		}
		return
	}
}

// ---- helpers ----

func startWSTestServer(t *testing.T, gw *Gateway) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.Handle("/ws", gw)
	return httptest.NewServer(mux)
}

func dialWS(t *testing.T, baseHTTPURL string, origin string) (*websocket.Conn, *http.Response, error) {
	t.Helper()

	u, err := url.Parse(baseHTTPURL)
	if err != nil {
		t.Fatalf("url.Parse: %v", err)
	}
	u.Scheme = "ws"
	u.Path = "/ws"

	h := http.Header{}
	if strings.TrimSpace(origin) != "" {
		h.Set("Origin", origin)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return websocket.Dial(ctx, u.String(), &websocket.DialOptions{
		Subprotocols: []string{v1.Subprotocol},
		HTTPHeader:   h,
	})
}

func mustDialWS(t *testing.T, baseHTTPURL string, origin string) *websocket.Conn {
	t.Helper()
	conn, resp, err := dialWS(t, baseHTTPURL, origin)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return conn
}

func writeEnvelopeWS(t *testing.T, conn *websocket.Conn, env v1.Envelope) {
	t.Helper()
	b, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, b); err != nil {
		t.Fatalf("conn.Write: %v", err)
	}
}

func readUntilType(t *testing.T, conn *websocket.Conn, typ string, maxReads int) v1.Envelope {
	t.Helper()
	if maxReads <= 0 {
		maxReads = 1
	}
	for i := 0; i < maxReads; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_, b, err := conn.Read(ctx)
		cancel()
		if err != nil {
			t.Fatalf("conn.Read: %v", err)
		}
		var env v1.Envelope
		if err := json.Unmarshal(b, &env); err != nil {
			t.Fatalf("unmarshal envelope: %v", err)
		}
		if env.Type == typ {
			return env
		}
	}
	t.Fatalf("did not receive envelope type %q", typ)
	return v1.Envelope{}
}

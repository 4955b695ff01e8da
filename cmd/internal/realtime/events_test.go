package realtime

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestParseSendRequest(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name      string
		raw       string
		wantField string // empty means valid
		wantAnon  bool
	}{
		{name: "user", raw: `{"conversationId":"c1","content":"hi","senderType":"user","userId":"u1"}`},
		{name: "partner stored as user", raw: `{"conversationId":"c1","content":"hi","senderType":"partner","userId":"p1"}`},
		{name: "guest with anonymous id", raw: `{"conversationId":"c1","content":"hi","senderType":"guest","anonymousId":"g1"}`, wantAnon: true},
		{name: "guest without anonymous id falls back to user id", raw: `{"conversationId":"c1","content":"hi","senderType":"guest","userId":"u1"}`},
		{name: "guest without any id", raw: `{"conversationId":"c1","content":"hi","senderType":"guest"}`, wantField: "userId"},
		{name: "missing conversation", raw: `{"content":"hi","senderType":"user","userId":"u1"}`, wantField: "conversationId"},
		{name: "blank content", raw: `{"conversationId":"c1","content":"   ","senderType":"user","userId":"u1"}`, wantField: "content"},
		{name: "too long", raw: `{"conversationId":"c1","content":"` + strings.Repeat("a", maxMessageChars+1) + `","senderType":"user","userId":"u1"}`, wantField: "content"},
		{name: "unknown sender type", raw: `{"conversationId":"c1","content":"hi","senderType":"admin","userId":"u1"}`, wantField: "senderType"},
		{name: "missing sender type", raw: `{"conversationId":"c1","content":"hi","userId":"u1"}`, wantField: "senderType"},
		{name: "bare string payload", raw: `"c1"`, wantField: "payload"},
		{name: "missing payload", raw: ``, wantField: "payload"},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			req, err := parseSendRequest(json.RawMessage(tc.raw))
			if tc.wantField == "" {
				if err != nil {
					t.Fatalf("parseSendRequest: %v", err)
				}
				if req.Anonymous() != tc.wantAnon {
					t.Fatalf("Anonymous()=%v want %v", req.Anonymous(), tc.wantAnon)
				}
				return
			}

			var ie *InputError
			if !errors.As(err, &ie) {
				t.Fatalf("err=%v want *InputError", err)
			}
			if ie.Field != tc.wantField {
				t.Fatalf("field=%q want %q", ie.Field, tc.wantField)
			}
			if !errors.Is(err, ErrInvalidInput) {
				t.Fatalf("InputError must wrap ErrInvalidInput")
			}
		})
	}
}

func TestParseSendRequest_TrimsFields(t *testing.T) {
	t.Parallel()

	req, err := parseSendRequest(json.RawMessage(`{"conversationId":" c1 ","content":"  hi  ","senderType":"user","userId":" u1 ","userName":" Alice "}`))
	if err != nil {
		t.Fatalf("parseSendRequest: %v", err)
	}
	if req.ConversationID != "c1" || req.UserID != "u1" || req.UserName != "Alice" {
		t.Fatalf("fields not trimmed: %+v", req)
	}
	if req.Content != "  hi  " {
		t.Fatalf("content=%q want it kept as sent", req.Content)
	}
}

func TestParseSendRequest_BlankContent(t *testing.T) {
	t.Parallel()

	for _, content := range []string{"", "   ", "\n\t "} {
		raw := mustRaw(t, map[string]string{"conversationId": "c1", "content": content, "senderType": "user", "userId": "u1"})
		if _, err := parseSendRequest(raw); !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("content %q: err=%v want ErrInvalidInput", content, err)
		}
	}
}

func TestParseTypingStart_DisplayName(t *testing.T) {
	t.Parallel()

	cases := []struct {
		raw  string
		want string
	}{
		{`{"conversationId":"c1","username":"alice","anonymousName":"Guest 7"}`, "alice"},
		{`{"conversationId":"c1","anonymousName":"Guest 7"}`, "Guest 7"},
		{`{"conversationId":"c1"}`, "Someone"},
	}
	for _, tc := range cases {
		req, err := parseTypingStart(json.RawMessage(tc.raw))
		if err != nil {
			t.Fatalf("parseTypingStart(%s): %v", tc.raw, err)
		}
		if req.DisplayName != tc.want {
			t.Fatalf("DisplayName=%q want %q", req.DisplayName, tc.want)
		}
	}
}

func TestParseIdentityJoins(t *testing.T) {
	t.Parallel()

	id, err := parseUserJoin(json.RawMessage(`{"userId":"u1"}`))
	if err != nil || id != UserIdentity("u1") {
		t.Fatalf("user join: id=%v err=%v", id, err)
	}
	id, err = parsePartnerJoin(json.RawMessage(`{"partnerId":"p1"}`))
	if err != nil || id != PartnerIdentity("p1") {
		t.Fatalf("partner join: id=%v err=%v", id, err)
	}
	id, err = parseGuestJoin(json.RawMessage(`{"anonymousId":"g1"}`))
	if err != nil || id != GuestIdentity("g1") || id.Room() != "guest:g1" || id.RegistryKey() != "guest:g1" {
		t.Fatalf("guest join: id=%v err=%v", id, err)
	}
	if key := UserIdentity("guest:g1").RegistryKey(); key == id.RegistryKey() {
		t.Fatalf("user key %q collides with guest key", key)
		t.Fatalf("guest join: id=%v err=%v", id, err)
	}
	if _, err := parseUserJoin(json.RawMessage(`{"userId":""}`)); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("empty userId: err=%v", err)
	}
}

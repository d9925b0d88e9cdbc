package upstream

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"nhooyr.io/websocket"
)

// gatewayHandler accepts one session, checks the hello, sends the negotiation
// frame and then each scripted frame, and finally closes with the given code.
func gatewayHandler(t *testing.T, negotiate string, frames []string, closeStatus websocket.StatusCode) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			t.Errorf("accept: %v", err)
			return
		}
		ctx := r.Context()

		_, data, err := conn.Read(ctx)
		if err != nil {
			t.Errorf("read hello: %v", err)
			return
		}
		var h hello
		if err := json.Unmarshal(data, &h); err != nil || h.Action != "watch" {
			t.Errorf("bad hello: %s", data)
			return
		}

		if err := conn.Write(ctx, websocket.MessageText, []byte(negotiate)); err != nil {
			return
		}
		for _, f := range frames {
			if err := conn.Write(ctx, websocket.MessageText, []byte(f)); err != nil {
				return
			}
		}
		_ = conn.Close(closeStatus, "")
	}
}

func testGateway(t *testing.T, handler http.HandlerFunc) string {
	t.Helper()
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)
	return "ws" + strings.TrimPrefix(ts.URL, "http")
}

func drain(t *testing.T, c *Conn, n int) []Message {
	t.Helper()
	var out []Message
	timeout := time.After(3 * time.Second)
	for len(out) < n {
		select {
		case msg, ok := <-c.Events():
			if !ok {
				t.Fatalf("events channel closed after %d of %d messages", len(out), n)
			}
			out = append(out, msg)
		case <-timeout:
			t.Fatalf("timed out after %d of %d messages", len(out), n)
		}
	}
	return out
}

func TestDialNegotiatesAndStreams(t *testing.T) {
	frames := []string{
		`{"event":"chat","user":{"user_id":"7000000000000000001","nickname":"Alice","unique_id":"alice123"},"comment":"hello"}`,
		`{"event":"gift","user":{"user_id":"7000000000000000001"},"gift":{"gift_id":5,"name":"Rose","diamond_count":1,"repeat_count":2}}`,
		`{"event":"streamEnd"}`,
	}
	url := testGateway(t, gatewayHandler(t, `{"event":"connected","room_id":"room-7"}`, frames, websocket.StatusNormalClosure))

	conn, err := Dial(context.Background(), Config{GatewayURL: url, Username: "streamer"})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	if conn.RoomID() != "room-7" {
		t.Fatalf("RoomID() = %q, want room-7", conn.RoomID())
	}

	msgs := drain(t, conn, 3)
	if msgs[0].Kind != KindChat || msgs[0].Comment != "hello" || msgs[0].User.Nickname != "Alice" {
		t.Fatalf("first message = %+v", msgs[0])
	}
	if msgs[1].Kind != KindGift || msgs[1].Gift.ID != 5 || msgs[1].Gift.RepeatCount != 2 {
		t.Fatalf("second message = %+v", msgs[1])
	}
	if msgs[2].Kind != KindStreamEnd {
		t.Fatalf("third message = %+v", msgs[2])
	}

	// normal closure ends the stream without an error message
	select {
	case msg, ok := <-conn.Events():
		if ok {
			t.Fatalf("unexpected trailing message %+v", msg)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("events channel never closed")
	}
}

func TestDialRejectedByGateway(t *testing.T) {
	url := testGateway(t, gatewayHandler(t, `{"event":"error","message":"no such room"}`, nil, websocket.StatusNormalClosure))

	if _, err := Dial(context.Background(), Config{GatewayURL: url, Username: "streamer"}); err == nil {
		t.Fatal("expected a rejection error")
	} else if !strings.Contains(err.Error(), "no such room") {
		t.Fatalf("err = %v, want gateway message included", err)
	}
}

func TestDialValidation(t *testing.T) {
	if _, err := Dial(context.Background(), Config{GatewayURL: "ws://127.0.0.1:1"}); err == nil {
		t.Fatal("expected an error without a username")
	}
	if _, err := Dial(context.Background(), Config{Username: "streamer"}); err == nil {
		t.Fatal("expected an error without a gateway url")
	}
}

func TestReadLoopSkipsMalformedFrames(t *testing.T) {
	frames := []string{
		`not json at all`,
		`{"event":"mystery"}`,
		`{"event":"gift","user":{"user_id":"7000000000000000001"}}`,
		`{"event":"roomUser","viewer_count":9}`,
	}
	url := testGateway(t, gatewayHandler(t, `{"event":"connected","room_id":"r"}`, frames, websocket.StatusNormalClosure))

	conn, err := Dial(context.Background(), Config{GatewayURL: url, Username: "streamer"})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	// malformed junk, an unknown event and a gift without a gift body are all
	// dropped; only the roomUser frame survives
	msgs := drain(t, conn, 1)
	if msgs[0].Kind != KindRoomUser || msgs[0].ViewerCount != 9 {
		t.Fatalf("message = %+v", msgs[0])
	}
}

func TestAbnormalCloseDeliversError(t *testing.T) {
	url := testGateway(t, gatewayHandler(t, `{"event":"connected","room_id":"r"}`, nil, websocket.StatusInternalError))

	conn, err := Dial(context.Background(), Config{GatewayURL: url, Username: "streamer"})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	msgs := drain(t, conn, 1)
	if msgs[0].Kind != KindError || msgs[0].Err == nil {
		t.Fatalf("message = %+v, want a terminal error", msgs[0])
	}
}

func TestConvert(t *testing.T) {
	user := &User{ID: "7000000000000000001", Nickname: "Alice"}

	tests := []struct {
		name string
		in   frame
		want Kind
		ok   bool
	}{
		{name: "chat", in: frame{Event: "chat", User: user, Comment: "hi"}, want: KindChat, ok: true},
		{name: "gift", in: frame{Event: "gift", User: user, Gift: &Gift{ID: 1}}, want: KindGift, ok: true},
		{name: "gift without body", in: frame{Event: "gift", User: user}, ok: false},
		{name: "like", in: frame{Event: "like", LikeCount: 2}, want: KindLike, ok: true},
		{name: "member", in: frame{Event: "member", User: user}, want: KindMember, ok: true},
		{name: "social", in: frame{Event: "social", User: user, Action: "join"}, want: KindSocial, ok: true},
		{name: "envelope", in: frame{Event: "envelope", User: user}, want: KindEnvelope, ok: true},
		{name: "raw", in: frame{Event: "raw", Name: "barrage", Payload: []byte("x")}, want: KindRaw, ok: true},
		{name: "raw without name", in: frame{Event: "raw", Payload: []byte("x")}, ok: false},
		{name: "raw without payload", in: frame{Event: "raw", Name: "barrage"}, ok: false},
		{name: "streamEnd", in: frame{Event: "streamEnd"}, want: KindStreamEnd, ok: true},
		{name: "unknown", in: frame{Event: "heartbeat"}, ok: false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			msg, ok := convert(tc.in)
			if ok != tc.ok {
				t.Fatalf("ok = %t, want %t", ok, tc.ok)
			}
			if ok && msg.Kind != tc.want {
				t.Fatalf("Kind = %q, want %q", msg.Kind, tc.want)
			}
		})
	}
}

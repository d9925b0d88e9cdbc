package upstream

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"nhooyr.io/websocket"
)

// Kind tags the variants of the inbound upstream event stream.
type Kind string

const (
	KindChat      Kind = "chat"
	KindGift      Kind = "gift"
	KindLike      Kind = "like"
	KindMember    Kind = "member"
	KindFollow    Kind = "follow"
	KindShare     Kind = "share"
	KindSubscribe Kind = "subscribe"
	KindSuperFan  Kind = "superFan"
	KindRoomUser  Kind = "roomUser"
	KindSocial    Kind = "social"
	KindEnvelope  Kind = "envelope"
	KindRaw       Kind = "raw"
	KindStreamEnd Kind = "streamEnd"
	KindError     Kind = "error"
)

// User carries whatever identity and badge data the gateway attached to an
// event. Badge schemas vary across platform client versions; all fields are
// best-effort.
type User struct {
	ID        string  `json:"user_id"`
	Nickname  string  `json:"nickname"`
	Handle    string  `json:"unique_id"`
	Level     int     `json:"level"`
	Grade     int     `json:"grade"`
	Badges    []Badge `json:"badges"`
	BadgeBlob string  `json:"badge_blob"`
}

type Badge struct {
	Level       int    `json:"level"`
	DisplayType string `json:"display_type"`
	ImageURL    string `json:"image_url"`
	Name        string `json:"name"`
}

type Gift struct {
	ID           int    `json:"gift_id"`
	Name         string `json:"name"`
	DiamondCount int    `json:"diamond_count"`
	RepeatCount  int    `json:"repeat_count"`
	Combo        bool   `json:"combo"`
	ComboEnd     bool   `json:"combo_end"`
}

// Message is the tagged union delivered on Conn.Events. Exactly one variant's
// fields are meaningful, selected by Kind.
type Message struct {
	Kind Kind

	User    User
	Comment string
	Gift    Gift

	LikeCount      int
	TotalLikeCount int
	ViewerCount    int

	// Social action reported by the platform ("join", "follow", "share").
	Action string

	// Raw payload and its upstream message-type name (Kind == KindRaw).
	RawName string
	Raw     []byte

	Err error
}

type Config struct {
	GatewayURL  string
	Username    string
	Token       string
	DialTimeout time.Duration
}

// frame is the opaque JSON envelope the gateway speaks. The platform wire
// protocol itself is decoded on the far side of this boundary.
type frame struct {
	Event   string `json:"event"`
	RoomID  string `json:"room_id,omitempty"`
	Message string `json:"message,omitempty"`

	User    *User  `json:"user,omitempty"`
	Comment string `json:"comment,omitempty"`
	Gift    *Gift  `json:"gift,omitempty"`

	LikeCount      int `json:"like_count,omitempty"`
	TotalLikeCount int `json:"total_like_count,omitempty"`
	ViewerCount    int `json:"viewer_count,omitempty"`

	Action string `json:"action,omitempty"`

	Name    string `json:"name,omitempty"`
	Payload []byte `json:"payload,omitempty"`
}

type hello struct {
	Action   string `json:"action"`
	Username string `json:"username"`
	Token    string `json:"token,omitempty"`
}

// Conn is one upstream session. Events() closes when the session ends, after
// any terminal error message has been delivered.
type Conn struct {
	ws     *websocket.Conn
	events chan Message
	cancel context.CancelFunc
	roomID string

	closeOnce sync.Once
}

// Dial establishes the single upstream session: WebSocket connect, hello
// frame, then a connected/error frame from the gateway. On success the read
// loop is already running and delivering into Events.
func Dial(ctx context.Context, cfg Config) (*Conn, error) {
	username := strings.TrimSpace(cfg.Username)
	if username == "" {
		return nil, errors.New("upstream: username is required")
	}
	gateway := strings.TrimSpace(cfg.GatewayURL)
	if gateway == "" {
		return nil, errors.New("upstream: gateway url is required")
	}

	timeout := cfg.DialTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	dialCtx, cancelDial := context.WithTimeout(ctx, timeout)
	defer cancelDial()

	ws, _, err := websocket.Dial(dialCtx, gateway, nil)
	if err != nil {
		return nil, fmt.Errorf("upstream: dial %s: %w", gateway, err)
	}
	ws.SetReadLimit(1 << 22)

	data, err := json.Marshal(hello{Action: "watch", Username: username, Token: cfg.Token})
	if err != nil {
		_ = ws.Close(websocket.StatusInternalError, "encode hello")
		return nil, fmt.Errorf("upstream: encode hello: %w", err)
	}
	if err := ws.Write(dialCtx, websocket.MessageText, data); err != nil {
		_ = ws.Close(websocket.StatusInternalError, "send hello")
		return nil, fmt.Errorf("upstream: send hello: %w", err)
	}

	// session negotiation: the gateway answers with connected{room_id} or an
	// error frame before any event traffic.
	_, first, err := ws.Read(dialCtx)
	if err != nil {
		_ = ws.Close(websocket.StatusInternalError, "negotiate")
		return nil, fmt.Errorf("upstream: negotiate: %w", err)
	}
	var f frame
	if err := json.Unmarshal(first, &f); err != nil {
		_ = ws.Close(websocket.StatusInternalError, "negotiate")
		return nil, fmt.Errorf("upstream: negotiate decode: %w", err)
	}
	switch f.Event {
	case "connected":
	case "error":
		_ = ws.Close(websocket.StatusNormalClosure, "rejected")
		return nil, fmt.Errorf("upstream: gateway rejected session: %s", f.Message)
	default:
		_ = ws.Close(websocket.StatusProtocolError, "unexpected frame")
		return nil, fmt.Errorf("upstream: unexpected negotiation frame %q", f.Event)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	c := &Conn{
		ws:     ws,
		events: make(chan Message, 64),
		cancel: cancel,
		roomID: f.RoomID,
	}
	go c.readLoop(runCtx)

	log.Printf("upstream: session established for %s (room %s)", username, f.RoomID)
	return c, nil
}

// Events returns the single inbound channel. It is closed when the session
// ends; a KindError message precedes the close on abnormal termination.
func (c *Conn) Events() <-chan Message { return c.events }

func (c *Conn) RoomID() string { return c.roomID }

// Close tears the session down. Idempotent; safe while the read loop drains.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.cancel()
		_ = c.ws.Close(websocket.StatusNormalClosure, "disconnect")
	})
	return nil
}

func (c *Conn) readLoop(ctx context.Context) {
	defer close(c.events)

	for {
		_, data, err := c.ws.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			status := websocket.CloseStatus(err)
			if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
				return
			}
			c.deliver(ctx, Message{Kind: KindError, Err: err})
			return
		}

		var f frame
		if err := json.Unmarshal(data, &f); err != nil {
			// malformed envelope: drop this frame, keep the session
			continue
		}
		msg, ok := convert(f)
		if !ok {
			continue
		}
		if !c.deliver(ctx, msg) {
			return
		}
	}
}

func (c *Conn) deliver(ctx context.Context, msg Message) bool {
	select {
	case c.events <- msg:
		return true
	case <-ctx.Done():
		return false
	}
}

// convert maps an envelope frame onto the typed union. Unknown frame kinds are
// dropped whole, never partially forwarded.
func convert(f frame) (Message, bool) {
	user := User{}
	if f.User != nil {
		user = *f.User
	}

	switch f.Event {
	case "chat":
		return Message{Kind: KindChat, User: user, Comment: f.Comment}, true
	case "gift":
		if f.Gift == nil {
			return Message{}, false
		}
		return Message{Kind: KindGift, User: user, Gift: *f.Gift}, true
	case "like":
		return Message{Kind: KindLike, User: user, LikeCount: f.LikeCount, TotalLikeCount: f.TotalLikeCount}, true
	case "member":
		return Message{Kind: KindMember, User: user}, true
	case "follow":
		return Message{Kind: KindFollow, User: user}, true
	case "share":
		return Message{Kind: KindShare, User: user}, true
	case "subscribe":
		return Message{Kind: KindSubscribe, User: user}, true
	case "superFan":
		return Message{Kind: KindSuperFan, User: user}, true
	case "roomUser":
		return Message{Kind: KindRoomUser, ViewerCount: f.ViewerCount}, true
	case "social":
		return Message{Kind: KindSocial, User: user, Action: f.Action}, true
	case "envelope":
		return Message{Kind: KindEnvelope, User: user}, true
	case "raw":
		if f.Name == "" || len(f.Payload) == 0 {
			return Message{}, false
		}
		return Message{Kind: KindRaw, RawName: f.Name, Raw: f.Payload}, true
	case "streamEnd":
		return Message{Kind: KindStreamEnd}, true
	default:
		return Message{}, false
	}
}

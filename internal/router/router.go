package router

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/you/liveoverlay/internal/badge"
	"github.com/you/liveoverlay/internal/core"
	"github.com/you/liveoverlay/internal/dedup"
	"github.com/you/liveoverlay/internal/identity"
	"github.com/you/liveoverlay/internal/rawscan"
	"github.com/you/liveoverlay/internal/upstream"
)

// Broadcaster delivers a canonical event to every live subscriber.
type Broadcaster interface {
	Broadcast(core.Event)
}

// State is the upstream connection state.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
)

type upstreamConn interface {
	Events() <-chan upstream.Message
	RoomID() string
	Close() error
}

type dialFunc func(ctx context.Context, cfg upstream.Config) (upstreamConn, error)

type Config struct {
	GatewayURL  string
	DialTimeout time.Duration

	// TokenProvider returns the current upstream auth token, empty when none
	// is configured.
	TokenProvider func() string

	// OnSuppressed observes dedup suppressions by namespace ("gift",
	// "rawEntrance"). Optional.
	OnSuppressed func(namespace string)
}

// Router owns the upstream session and the per-session tables, normalizes the
// upstream stream into canonical events and hands them to the broadcaster.
// Identity cache, dedup tables and combo state live exactly as long as one
// connection; Connect discards and recreates them.
type Router struct {
	cfg  Config
	out  Broadcaster
	dial dialFunc

	// ctl serializes the Connect/Disconnect control path end to end. Held
	// across teardown and dial so overlapping Connect calls cannot both
	// install a session; mu alone only guards the state fields.
	ctl sync.Mutex

	mu       sync.Mutex
	state    State
	username string
	epoch    uint64
	sess     *session
}

// session is the arena for one upstream connection.
type session struct {
	epoch     uint64
	conn      upstreamConn
	idents    *identity.Cache
	gifts     *dedup.Table
	entrances *dedup.Table
	scanner   *rawscan.Scanner

	// pending combo counts keyed by userID|giftID, folded until the terminal
	// combo event arrives
	combos map[string]int
}

func New(cfg Config, out Broadcaster) *Router {
	return &Router{
		cfg: cfg,
		out: out,
		dial: func(ctx context.Context, c upstream.Config) (upstreamConn, error) {
			return upstream.Dial(ctx, c)
		},
	}
}

// Connect establishes a new upstream session for username, tearing down any
// existing session first. On failure it emits a canonical error event, leaves
// the state Disconnected and returns the error; a later Connect is accepted.
func (r *Router) Connect(ctx context.Context, username string) error {
	username = strings.TrimSpace(username)
	if username == "" {
		return errors.New("router: username is required")
	}

	r.ctl.Lock()
	defer r.ctl.Unlock()

	r.teardown()

	r.mu.Lock()
	r.state = Connecting
	r.username = username
	r.mu.Unlock()

	token := ""
	if r.cfg.TokenProvider != nil {
		token = strings.TrimSpace(r.cfg.TokenProvider())
	}

	conn, err := r.dial(ctx, upstream.Config{
		GatewayURL:  r.cfg.GatewayURL,
		Username:    username,
		Token:       token,
		DialTimeout: r.cfg.DialTimeout,
	})
	if err != nil {
		r.mu.Lock()
		r.state = Disconnected
		r.mu.Unlock()
		log.Printf("router: connect %s: %v", username, err)
		r.out.Broadcast(core.Event{Type: core.EventError, Message: err.Error()})
		return err
	}

	r.mu.Lock()
	r.epoch++
	idents := identity.NewCache()
	entrances := dedup.NewTable(dedup.DefaultWindow, dedup.DefaultRetention)
	sess := &session{
		epoch:     r.epoch,
		conn:      conn,
		idents:    idents,
		gifts:     dedup.NewTable(dedup.DefaultWindow, dedup.DefaultRetention),
		entrances: entrances,
		scanner:   rawscan.New(idents, entrances),
		combos:    make(map[string]int),
	}
	sess.scanner.OnSuppressed = func() { r.suppressed("rawEntrance") }
	r.sess = sess
	r.state = Connected
	r.mu.Unlock()

	r.out.Broadcast(core.Event{Type: core.EventConnected, RoomID: conn.RoomID()})
	go r.run(sess)
	return nil
}

// Disconnect tears down the current session. Idempotent, safe when not
// connected and safe concurrently with in-flight event processing: events
// still draining from the torn-down connection fail the epoch check and are
// dropped.
func (r *Router) Disconnect() {
	r.ctl.Lock()
	defer r.ctl.Unlock()
	r.teardown()
}

func (r *Router) teardown() {
	r.mu.Lock()
	sess := r.sess
	r.sess = nil
	wasConnected := r.state == Connected
	r.state = Disconnected
	r.mu.Unlock()

	if sess != nil {
		_ = sess.conn.Close()
	}
	if wasConnected {
		r.out.Broadcast(core.Event{Type: core.EventDisconnected})
	}
}

// Reconnect re-establishes the current session, e.g. after an auth token
// rotation.
func (r *Router) Reconnect(ctx context.Context) error {
	r.mu.Lock()
	username := r.username
	active := r.state != Disconnected
	r.mu.Unlock()

	if !active || username == "" {
		return errors.New("router: no active session to reconnect")
	}
	return r.Connect(ctx, username)
}

// Status reports the connection state and current username for the subscriber
// snapshot.
func (r *Router) Status() (connected bool, username string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state == Connected, r.username
}

func (r *Router) run(sess *session) {
	for msg := range sess.conn.Events() {
		ev, ok := r.normalize(sess, msg, time.Now())
		if !ok {
			continue
		}
		if !r.current(sess) {
			return
		}
		r.out.Broadcast(ev)
	}

	// upstream closed the session on its own
	r.mu.Lock()
	if r.sess != sess {
		r.mu.Unlock()
		return
	}
	r.sess = nil
	r.state = Disconnected
	r.mu.Unlock()
	r.out.Broadcast(core.Event{Type: core.EventDisconnected})
}

func (r *Router) current(sess *session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sess == sess
}

func (r *Router) suppressed(namespace string) {
	if r.cfg.OnSuppressed != nil {
		r.cfg.OnSuppressed(namespace)
	}
}

// normalize applies the uniform policy: cache identity opportunistically, then
// the type-specific transform. The second return is false when nothing is
// emitted for this upstream message.
func (r *Router) normalize(sess *session, msg upstream.Message, now time.Time) (core.Event, bool) {
	if msg.User.ID != "" && msg.User.Nickname != "" {
		sess.idents.Put(msg.User.ID, msg.User.Nickname, msg.User.Handle)
	}

	switch msg.Kind {
	case upstream.KindChat:
		ev := eventFromUser(core.EventChat, msg.User)
		ev.Comment = msg.Comment
		return ev, true

	case upstream.KindGift:
		return r.normalizeGift(sess, msg, now)

	case upstream.KindLike:
		ev := eventFromUser(core.EventLike, msg.User)
		ev.LikeCount = msg.LikeCount
		ev.TotalLikeCount = msg.TotalLikeCount
		return ev, true

	case upstream.KindMember:
		return memberEvent(msg.User), true

	case upstream.KindFollow:
		return eventFromUser(core.EventFollow, msg.User), true

	case upstream.KindShare:
		return eventFromUser(core.EventShare, msg.User), true

	case upstream.KindSubscribe:
		return eventFromUser(core.EventSubscribe, msg.User), true

	case upstream.KindSuperFan:
		return eventFromUser(core.EventSuperFan, msg.User), true

	case upstream.KindRoomUser:
		return core.Event{Type: core.EventRoomUser, ViewerCount: msg.ViewerCount}, true

	case upstream.KindSocial:
		switch strings.ToLower(msg.Action) {
		case "join", "joined":
			// the platform reports some entrances only as a social signal;
			// normalize both shapes to MemberMessage
			return memberEvent(msg.User), true
		case "follow":
			return eventFromUser(core.EventFollow, msg.User), true
		case "share":
			return eventFromUser(core.EventShare, msg.User), true
		default:
			return core.Event{}, false
		}

	case upstream.KindEnvelope:
		// identity already cached above; no canonical variant for envelopes
		return core.Event{}, false

	case upstream.KindRaw:
		if msg.RawName != "barrage" {
			return core.Event{}, false
		}
		ev, ok := sess.scanner.Scan(msg.Raw, now)
		if !ok {
			return core.Event{}, false
		}
		return ev, true

	case upstream.KindStreamEnd:
		return core.Event{Type: core.EventStreamEnd}, true

	case upstream.KindError:
		message := "upstream error"
		if msg.Err != nil {
			message = msg.Err.Error()
		}
		return core.Event{Type: core.EventError, Message: message}, true

	default:
		return core.Event{}, false
	}
}

// normalizeGift folds combo sequences: non-terminal combo events only update
// the pending count, and exactly one GiftMessage is emitted per combo once
// the terminal (or non-combo) event arrives, carrying the final repeat count.
// The emitted event then passes through gift dedup to absorb upstream
// redelivery.
func (r *Router) normalizeGift(sess *session, msg upstream.Message, now time.Time) (core.Event, bool) {
	comboKey := fmt.Sprintf("%s|%d", msg.User.ID, msg.Gift.ID)

	if msg.Gift.Combo && !msg.Gift.ComboEnd {
		if msg.Gift.RepeatCount > 0 {
			sess.combos[comboKey] = msg.Gift.RepeatCount
		}
		return core.Event{}, false
	}

	repeat := msg.Gift.RepeatCount
	if repeat <= 0 {
		repeat = sess.combos[comboKey]
	}
	if repeat <= 0 {
		repeat = 1
	}
	delete(sess.combos, comboKey)

	if sess.gifts.Suppress(dedup.GiftKey(msg.User.ID, msg.Gift.ID, repeat), now) {
		r.suppressed("gift")
		return core.Event{}, false
	}

	ev := eventFromUser(core.EventGift, msg.User)
	ev.GiftID = msg.Gift.ID
	ev.GiftName = msg.Gift.Name
	ev.RepeatCount = repeat
	ev.DiamondCount = msg.Gift.DiamondCount
	return ev, true
}

func memberEvent(u upstream.User) core.Event {
	ev := eventFromUser(core.EventMember, u)
	ev.IsVIP = ev.Level >= core.VIPLevel
	return ev
}

func eventFromUser(t core.EventType, u upstream.User) core.Event {
	return core.Event{
		Type:     t,
		Nickname: u.Nickname,
		Handle:   u.Handle,
		UserID:   u.ID,
		Level:    badge.Level(u),
	}
}

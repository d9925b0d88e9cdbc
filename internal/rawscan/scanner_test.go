package rawscan

import (
	"testing"
	"time"

	"github.com/you/liveoverlay/internal/core"
	"github.com/you/liveoverlay/internal/dedup"
	"github.com/you/liveoverlay/internal/identity"
)

func newScanner() *Scanner {
	return New(identity.NewCache(), dedup.NewTable(dedup.DefaultWindow, dedup.DefaultRetention))
}

func TestScanEmitsHighLevelEntry(t *testing.T) {
	s := newScanner()
	now := time.Unix(1_700_000_000, 0)

	payload := []byte(`{"type":"barrage","text":"张三丰 来了","uid":"7000000000000000001","badge":"grade_badge_lv25"}`)
	ev, ok := s.Scan(payload, now)
	if !ok {
		t.Fatal("expected an entrance event")
	}
	if ev.Type != core.EventHighLevelEntry {
		t.Fatalf("Type = %q, want %q", ev.Type, core.EventHighLevelEntry)
	}
	if ev.UserID != "7000000000000000001" {
		t.Fatalf("UserID = %q", ev.UserID)
	}
	if ev.Level != 25 {
		t.Fatalf("Level = %d, want 25", ev.Level)
	}
	if !ev.IsVIP {
		t.Fatal("entrance events are VIP by construction")
	}
	if ev.Nickname != "张三丰" {
		t.Fatalf("Nickname = %q, want 张三丰", ev.Nickname)
	}
}

func TestScanDedupWindow(t *testing.T) {
	s := newScanner()
	suppressed := 0
	s.OnSuppressed = func() { suppressed++ }
	now := time.Unix(1_700_000_000, 0)
	payload := []byte("join_animation 7000000000000000001 lv30")

	if _, ok := s.Scan(payload, now); !ok {
		t.Fatal("first scan must emit")
	}
	if _, ok := s.Scan(payload, now.Add(1900*time.Millisecond)); ok {
		t.Fatal("replay within the window must be suppressed")
	}
	if suppressed != 1 {
		t.Fatalf("suppressed = %d, want 1", suppressed)
	}
	if _, ok := s.Scan(payload, now.Add(2500*time.Millisecond)); !ok {
		t.Fatal("replay after the window must emit again")
	}
	if suppressed != 1 {
		t.Fatalf("suppressed = %d, want 1", suppressed)
	}
}

func TestScanDiscards(t *testing.T) {
	s := newScanner()
	now := time.Unix(1_700_000_000, 0)

	tests := []struct {
		name    string
		payload string
	}{
		{name: "no entrance indicator", payload: "7000000000000000001 lv30 said hi"},
		{name: "no platform user id", payload: "somebody 来了 lv30"},
		{name: "short user id", payload: "entrance 70000001 lv30"},
		{name: "level below threshold", payload: "entrance 7000000000000000001 lv15"},
		{name: "no level at all", payload: "welcome 7000000000000000001"},
		{name: "empty", payload: ""},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, ok := s.Scan([]byte(tc.payload), now); ok {
				t.Fatalf("Scan(%q) emitted, want discard", tc.payload)
			}
		})
	}
}

func TestScanUsesCachedIdentity(t *testing.T) {
	idents := identity.NewCache()
	idents.Put("7000000000000000001", "Alice", "alice123")
	s := New(idents, dedup.NewTable(dedup.DefaultWindow, dedup.DefaultRetention))

	ev, ok := s.Scan([]byte("entrance 7000000000000000001 lv22 欢迎"), time.Unix(1_700_000_000, 0))
	if !ok {
		t.Fatal("expected an entrance event")
	}
	if ev.Nickname != "Alice" || ev.Handle != "alice123" {
		t.Fatalf("cached identity not used: %+v", ev)
	}
}

func TestGuessNickname(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "longest han run wins", in: "用户 张三丰 来了", want: "张三丰"},
		{name: "system fragment skipped", in: "欢迎 小明 进入直播间", want: "小明"},
		{name: "single rune too short", in: "王 came in", want: ""},
		{name: "ascii only", in: "alice joined the room", want: ""},
		{name: "run over fifteen runes dropped", in: "一二三四五六七八九十一二三四五六 小红", want: "小红"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := guessNickname(tc.in); got != tc.want {
				t.Fatalf("guessNickname(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

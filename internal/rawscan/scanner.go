package rawscan

import (
	"regexp"
	"strings"
	"time"
	"unicode"

	"github.com/you/liveoverlay/internal/badge"
	"github.com/you/liveoverlay/internal/core"
	"github.com/you/liveoverlay/internal/dedup"
	"github.com/you/liveoverlay/internal/identity"
)

// Scanner extracts high-level entrance events from raw "barrage" payloads the
// typed event path does not fully decode. Everything here is best-effort: a
// failure on one payload discards only that payload.
type Scanner struct {
	idents    *identity.Cache
	entrances *dedup.Table
	minLevel  int

	// OnSuppressed observes entrance dedup suppressions. Optional.
	OnSuppressed func()
}

const entranceSource = "rawEntrance"

// Platform user ids are 19-digit strings with a fixed leading digit.
var userIDPattern = regexp.MustCompile(`7\d{18}`)

// Substrings that mark an entrance/join signal inside a raw payload.
var entranceIndicators = []string{
	"来了",
	"进入",
	"进直播间",
	"入场",
	"join",
	"join_animation",
	"entrance",
	"welcome",
}

// System-message fragments that disqualify a nickname candidate.
var nicknameBlocklist = []string{
	"来了",
	"欢迎",
	"加入",
	"进入",
	"等级",
	"勋章",
	"直播间",
	"粉丝团",
}

func New(idents *identity.Cache, entrances *dedup.Table) *Scanner {
	return &Scanner{
		idents:    idents,
		entrances: entrances,
		minLevel:  core.VIPLevel,
	}
}

// Scan runs the entrance pipeline over one raw payload. The second return is
// false whenever the payload is discarded, for any reason; a panic inside the
// heuristics discards the payload silently instead of taking the session down.
func (s *Scanner) Scan(payload []byte, now time.Time) (ev core.Event, ok bool) {
	defer func() {
		if recover() != nil {
			ev = core.Event{}
			ok = false
		}
	}()

	text := string(payload)
	if !hasEntranceIndicator(text) {
		return core.Event{}, false
	}

	userID := userIDPattern.FindString(text)
	if userID == "" {
		return core.Event{}, false
	}

	// this path exists to surface high-level entrances the typed path misses
	level := badge.ScanText(text)
	if level < s.minLevel {
		return core.Event{}, false
	}

	if s.entrances.Suppress(dedup.EntranceKey(entranceSource, userID), now) {
		if s.OnSuppressed != nil {
			s.OnSuppressed()
		}
		return core.Event{}, false
	}

	nickname, handle := "", ""
	if entry, hit := s.idents.Get(userID); hit {
		nickname, handle = entry.Nickname, entry.Handle
	} else {
		nickname = guessNickname(text)
	}

	return core.Event{
		Type:     core.EventHighLevelEntry,
		UserID:   userID,
		Level:    level,
		Nickname: nickname,
		Handle:   handle,
		IsVIP:    true,
	}, true
}

func hasEntranceIndicator(text string) bool {
	lower := strings.ToLower(text)
	for _, ind := range entranceIndicators {
		if strings.Contains(lower, ind) {
			return true
		}
	}
	return false
}

// guessNickname picks the longest contiguous run of Han characters (2-15
// runes) that is not a known system-message fragment. Empty when no candidate
// survives; the emitted event is best-effort, not authoritative.
func guessNickname(text string) string {
	var (
		candidates []string
		run        []rune
	)
	flush := func() {
		if n := len(run); n >= 2 && n <= 15 {
			candidates = append(candidates, string(run))
		}
		run = run[:0]
	}
	for _, r := range text {
		if unicode.Is(unicode.Han, r) {
			run = append(run, r)
			continue
		}
		flush()
	}
	flush()

	best := ""
	for _, cand := range candidates {
		if blockedNickname(cand) {
			continue
		}
		if len([]rune(cand)) > len([]rune(best)) {
			best = cand
		}
	}
	return best
}

func blockedNickname(cand string) bool {
	for _, frag := range nicknameBlocklist {
		if strings.Contains(cand, frag) {
			return true
		}
	}
	return false
}

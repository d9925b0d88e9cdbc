package badge

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/you/liveoverlay/internal/upstream"
)

// The platform ships several badge schemas depending on client version; the
// same level can appear in a display type, an image URL, a badge name or an
// opaque serialized blob. Every rule runs against every candidate string and
// the maximum hit wins, never the first.
var levelPatterns = []*regexp.Regexp{
	regexp.MustCompile(`grade_badge_lv(\d{1,2})`),
	regexp.MustCompile(`grade_(\d{1,2})`),
	regexp.MustCompile(`level[-_ ]?(\d{1,2})`),
	regexp.MustCompile(`lv(\d{1,2})`),
	regexp.MustCompile(`user_grade\D{0,8}(\d{1,2})`),
}

// ScanText runs the whole pattern table over s and returns the maximum level
// found, 0 when nothing matches. Pure and deterministic.
func ScanText(s string) int {
	if s == "" {
		return 0
	}
	s = strings.ToLower(s)

	best := 0
	for _, re := range levelPatterns {
		for _, m := range re.FindAllStringSubmatch(s, -1) {
			n, err := strconv.Atoi(m[1])
			if err != nil {
				continue
			}
			if n > best {
				best = n
			}
		}
	}
	return best
}

// Level derives a user's level from every badge field shape the gateway may
// deliver: explicit numeric level/grade fields, per-badge level fields, and
// pattern hits across display types, image URLs, badge names and the raw
// badge blob. Maximum across all sources; 0 when nothing matches.
func Level(u upstream.User) int {
	best := 0
	consider := func(n int) {
		if n > best {
			best = n
		}
	}

	consider(u.Level)
	consider(u.Grade)
	for _, b := range u.Badges {
		consider(b.Level)
		consider(ScanText(b.DisplayType))
		consider(ScanText(b.ImageURL))
		consider(ScanText(b.Name))
	}
	consider(ScanText(u.BadgeBlob))
	return best
}

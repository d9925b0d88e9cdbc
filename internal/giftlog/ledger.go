package giftlog

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/pkg/errors"

	"github.com/you/liveoverlay/internal/core"
	"github.com/you/liveoverlay/internal/hub"
)

// The ledger archives gift events only; chat is never persisted. It is the
// boundary feed for the external leaderboard-sync service.
const schema = `CREATE TABLE IF NOT EXISTS gifts (
  ts TEXT NOT NULL,
  user_id TEXT NOT NULL,
  nickname TEXT NOT NULL DEFAULT '',
  gift_id INTEGER NOT NULL,
  gift_name TEXT NOT NULL DEFAULT '',
  repeat_count INTEGER NOT NULL DEFAULT 1,
  diamond_count INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS gifts_user_idx ON gifts (user_id);`

// Writer is anything gift events can be archived to.
type Writer interface {
	Write(core.Event) error
}

type Ledger struct {
	db *sql.DB
}

func Open(path string) (*Ledger, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "open sqlite")
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "apply schema")
	}
	if _, err := db.Exec(`PRAGMA journal_mode=wal;`); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "set WAL")
	}
	if _, err := db.Exec(`PRAGMA busy_timeout=5000;`); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "set busy timeout")
	}
	return &Ledger{db: db}, nil
}

func (l *Ledger) Close() error { return l.db.Close() }

func (l *Ledger) Ping() error { return l.db.Ping() }

func (l *Ledger) String() string { return fmt.Sprintf("Ledger{%p}", l.db) }

// Write archives one gift event. Non-gift events are ignored.
func (l *Ledger) Write(ev core.Event) error {
	if ev.Type != core.EventGift {
		return nil
	}
	const q = `INSERT INTO gifts (ts, user_id, nickname, gift_id, gift_name, repeat_count, diamond_count)
VALUES (?, ?, ?, ?, ?, ?, ?);`
	ts := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := l.db.Exec(q, ts, ev.UserID, ev.Nickname, ev.GiftID, ev.GiftName, ev.RepeatCount, ev.DiamondCount)
	return errors.Wrap(err, "insert gift")
}

// Leaderboard returns the top gifters by total diamond value. Diamond totals
// weight each gift by its repeat count.
func (l *Ledger) Leaderboard(ctx context.Context, limit int) ([]hub.LeaderboardEntry, error) {
	if limit <= 0 {
		limit = 10
	}
	const q = `SELECT user_id,
  MAX(nickname) AS nickname,
  SUM(diamond_count * repeat_count) AS diamonds,
  COUNT(*) AS gifts
FROM gifts
GROUP BY user_id
ORDER BY diamonds DESC
LIMIT ?;`

	rows, err := l.db.QueryContext(ctx, q, limit)
	if err != nil {
		return nil, errors.Wrap(err, "query leaderboard")
	}
	defer rows.Close()

	var out []hub.LeaderboardEntry
	for rows.Next() {
		var entry hub.LeaderboardEntry
		if err := rows.Scan(&entry.UserID, &entry.Nickname, &entry.Diamonds, &entry.Gifts); err != nil {
			return nil, errors.Wrap(err, "scan leaderboard row")
		}
		out = append(out, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate leaderboard")
	}
	return out, nil
}

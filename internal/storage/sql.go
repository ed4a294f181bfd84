package storage

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"tgsbot/pkg/logx"
)

// placeholder styles
const (
	bindQuestion = iota // sqlite: ?
	bindDollar          // postgres: $1, $2, ...
)

// sqlRegistry implements Registry on database/sql. Queries are written with
// '?' placeholders and rebound for the active driver.
type sqlRegistry struct {
	db     *sql.DB
	bind   int
	log    logx.Logger
	closed atomic.Bool
	now    func() time.Time
}

func newSQLRegistry(db *sql.DB, bind int, log logx.Logger) *sqlRegistry {
	return &sqlRegistry{db: db, bind: bind, log: log, now: time.Now}
}

func (r *sqlRegistry) q(query string) string {
	return rebind(r.bind, query)
}

func rebind(style int, query string) string {
	if style != bindDollar {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

func (r *sqlRegistry) usable() error {
	if r == nil || r.db == nil || r.closed.Load() {
		return ErrClosed
	}
	return nil
}

func (r *sqlRegistry) AddOrTouchUser(ctx context.Context, u User) error {
	if err := r.usable(); err != nil {
		return err
	}
	now := r.now().UTC()
	_, err := r.db.ExecContext(ctx, r.q(`
		INSERT INTO users(user_id, username, first_name, last_name, is_banned, join_date, last_activity)
		VALUES(?, ?, ?, ?, 0, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			username = excluded.username,
			first_name = excluded.first_name,
			last_name = excluded.last_name,
			last_activity = excluded.last_activity`),
		u.ID, u.Username, u.FirstName, u.LastName, now, now,
	)
	return err
}

func (r *sqlRegistry) IsBanned(ctx context.Context, id int64) (bool, error) {
	if err := r.usable(); err != nil {
		return false, err
	}
	var banned int
	err := r.db.QueryRowContext(ctx, r.q(`SELECT is_banned FROM users WHERE user_id = ?`), id).Scan(&banned)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return banned != 0, nil
}

func (r *sqlRegistry) Ban(ctx context.Context, id int64) (bool, error) {
	return r.setBanned(ctx, id, 1)
}

func (r *sqlRegistry) Unban(ctx context.Context, id int64) (bool, error) {
	return r.setBanned(ctx, id, 0)
}

func (r *sqlRegistry) setBanned(ctx context.Context, id int64, v int) (bool, error) {
	if err := r.usable(); err != nil {
		return false, err
	}
	res, err := r.db.ExecContext(ctx, r.q(`UPDATE users SET is_banned = ? WHERE user_id = ?`), v, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *sqlRegistry) ListActiveRecipients(ctx context.Context) ([]int64, error) {
	if err := r.usable(); err != nil {
		return nil, err
	}
	rows, err := r.db.QueryContext(ctx, r.q(`SELECT user_id FROM users WHERE is_banned = 0 ORDER BY user_id`))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (r *sqlRegistry) RecordConversion(ctx context.Context, id int64, fileCount int) error {
	if err := r.usable(); err != nil {
		return err
	}
	_, err := r.db.ExecContext(ctx,
		r.q(`INSERT INTO conversions(user_id, file_count, conversion_date) VALUES(?, ?, ?)`),
		id, fileCount, r.now().UTC(),
	)
	return err
}

func (r *sqlRegistry) Stats(ctx context.Context) (Stats, error) {
	if err := r.usable(); err != nil {
		return Stats{}, err
	}
	var st Stats
	err := r.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM users),
			(SELECT COUNT(*) FROM users WHERE is_banned = 1),
			(SELECT COUNT(*) FROM conversions),
			(SELECT COALESCE(SUM(file_count), 0) FROM conversions)`,
	).Scan(&st.TotalUsers, &st.BannedUsers, &st.TotalConversions, &st.TotalFiles)
	if err != nil {
		return Stats{}, err
	}
	st.ActiveUsers = st.TotalUsers - st.BannedUsers
	return st, nil
}

func (r *sqlRegistry) Close() error {
	if r == nil || r.db == nil || !r.closed.CompareAndSwap(false, true) {
		return nil
	}
	return r.db.Close()
}

package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"lifejourney/internal/recurrence"
	logx "lifejourney/pkg/logx"

	_ "modernc.org/sqlite"
)

//go:embed migrations.sql
var migrationsFS embed.FS

const dateLayout = "2006-01-02"

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger

	opCount    atomic.Uint64
	pruneEvery uint64
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log, pruneEvery: 500}

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()))
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	log.Debug("sqlite store opened", logx.String("path", path))
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

const itemColumns = `id, owner_id, kind, title, notes, pattern, next_occurrence, last_processed, revision, created_at, updated_at`

func (s *sqliteStore) CreateItem(ctx context.Context, it Item) error {
	pat, err := json.Marshal(it.Pattern)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	if it.CreatedAt.IsZero() {
		it.CreatedAt = now
	}
	if it.UpdatedAt.IsZero() {
		it.UpdatedAt = it.CreatedAt
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO items(`+itemColumns+`) VALUES(?,?,?,?,?,?,?,?,?,?,?)`,
		it.ID, it.OwnerID, string(it.Kind), it.Title, nullStr(it.Notes), string(pat),
		formatDate(it.NextOccurrence), nullDate(it.LastProcessed), it.Revision,
		formatTS(it.CreatedAt), formatTS(it.UpdatedAt),
	)
	if err != nil && strings.Contains(err.Error(), "UNIQUE constraint") {
		return fmt.Errorf("%w: item %s exists", ErrConflict, it.ID)
	}
	return err
}

func (s *sqliteStore) GetItem(ctx context.Context, id string) (Item, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM items WHERE id = ?`, id)
	it, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Item{}, ErrNotFound
	}
	return it, err
}

func (s *sqliteStore) ListItemsByOwner(ctx context.Context, ownerID string) ([]Item, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+itemColumns+` FROM items WHERE owner_id = ? ORDER BY next_occurrence, id`, ownerID)
	if err != nil {
		return nil, err
	}
	return collectItems(rows)
}

func (s *sqliteStore) ListDue(ctx context.Context, q DueQuery) ([]Item, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+itemColumns+` FROM items WHERE next_occurrence <= ? AND id > ? ORDER BY id LIMIT ?`,
		formatDate(q.Through), q.AfterID, limit)
	if err != nil {
		return nil, err
	}
	return collectItems(rows)
}

func (s *sqliteStore) UpdateItem(ctx context.Context, it Item) (Item, error) {
	pat, err := json.Marshal(it.Pattern)
	if err != nil {
		return Item{}, err
	}
	if it.UpdatedAt.IsZero() {
		it.UpdatedAt = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE items SET owner_id=?, kind=?, title=?, notes=?, pattern=?, next_occurrence=?, last_processed=?,
		 revision=revision+1, updated_at=?
		 WHERE id=? AND revision=?`,
		it.OwnerID, string(it.Kind), it.Title, nullStr(it.Notes), string(pat),
		formatDate(it.NextOccurrence), nullDate(it.LastProcessed), formatTS(it.UpdatedAt),
		it.ID, it.Revision,
	)
	if err != nil {
		return Item{}, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, gerr := s.GetItem(ctx, it.ID); errors.Is(gerr, ErrNotFound) {
			return Item{}, ErrNotFound
		}
		return Item{}, ErrConflict
	}
	return s.GetItem(ctx, it.ID)
}

func (s *sqliteStore) AdvanceIfUnchanged(ctx context.Context, a Advance) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE items SET next_occurrence=?, last_processed=?, revision=revision+1, updated_at=?
		 WHERE id=? AND next_occurrence=? AND revision=?`,
		formatDate(a.Next), nullDate(a.Processed), formatTS(time.Now().UTC()),
		a.ID, formatDate(a.ExpectedNext), a.ExpectedRevision,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *sqliteStore) DeleteItem(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM items WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *sqliteStore) PutOwner(ctx context.Context, o Owner) error {
	now := formatTS(time.Now().UTC())
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO owners(id, name, phone, telegram_chat_id, reminders_enabled, timezone, created_at, updated_at)
		 VALUES(?,?,?,?,?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET name=excluded.name, phone=excluded.phone,
		   telegram_chat_id=excluded.telegram_chat_id, reminders_enabled=excluded.reminders_enabled,
		   timezone=excluded.timezone, updated_at=excluded.updated_at`,
		o.ID, o.Name, nullStr(o.Phone), o.TelegramChatID, o.RemindersEnabled, nullStr(o.Timezone), now, now,
	)
	return err
}

func (s *sqliteStore) GetOwner(ctx context.Context, id string) (Owner, error) {
	var (
		o                Owner
		phone, tz        sql.NullString
		created, updated string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, phone, telegram_chat_id, reminders_enabled, timezone, created_at, updated_at FROM owners WHERE id = ?`, id,
	).Scan(&o.ID, &o.Name, &phone, &o.TelegramChatID, &o.RemindersEnabled, &tz, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return Owner{}, ErrNotFound
	}
	if err != nil {
		return Owner{}, err
	}
	o.Phone = phone.String
	o.Timezone = tz.String
	o.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
	o.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updated)
	return o, nil
}

func (s *sqliteStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit(at, actor, action, target, ok, fail, err, took_ms, meta)
		 VALUES(?,?,?,?,?,?,?,?,?)`,
		formatTS(e.At), nullStr(e.Actor), e.Action, nullStr(e.Target), e.OK, e.Fail,
		nullStr(e.Error), e.TookMS, nullStr(e.MetaJSON),
	)
	return err
}

func (s *sqliteStore) PutDedup(ctx context.Context, key string, until time.Time) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if key == "" {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO dedup(key, until) VALUES(?,?)
		 ON CONFLICT(key) DO UPDATE SET until=excluded.until`,
		key, until.UnixMilli(),
	)
	if err == nil && s.opCount.Add(1)%s.pruneEvery == 0 {
		pctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		if perr := s.pruneExpired(pctx); perr != nil {
			s.log.Debug("dedup prune failed", logx.Err(perr))
		}
		cancel()
	}
	return err
}

func (s *sqliteStore) GetDedup(ctx context.Context, key string) (time.Time, bool, error) {
	if s == nil || s.db == nil {
		return time.Time{}, false, ErrDisabled
	}
	if key == "" {
		return time.Time{}, false, nil
	}
	var ms int64
	err := s.db.QueryRowContext(ctx, `SELECT until FROM dedup WHERE key = ?`, key).Scan(&ms)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return time.UnixMilli(ms), true, nil
}

func (s *sqliteStore) pruneExpired(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM dedup WHERE until < ?`, time.Now().UnixMilli())
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(r rowScanner) (Item, error) {
	var (
		it               Item
		kind, pat        string
		notes, processed sql.NullString
		next             string
		created, updated string
	)
	if err := r.Scan(&it.ID, &it.OwnerID, &kind, &it.Title, &notes, &pat, &next, &processed,
		&it.Revision, &created, &updated); err != nil {
		return Item{}, err
	}
	it.Kind = ItemKind(kind)
	it.Notes = notes.String
	var p recurrence.Pattern
	if err := json.Unmarshal([]byte(pat), &p); err != nil {
		return Item{}, fmt.Errorf("item %s: decode pattern: %w", it.ID, err)
	}
	it.Pattern = p
	var err error
	if it.NextOccurrence, err = recurrence.ParseDate(next); err != nil {
		return Item{}, fmt.Errorf("item %s: next_occurrence: %w", it.ID, err)
	}
	if processed.Valid && processed.String != "" {
		if it.LastProcessed, err = recurrence.ParseDate(processed.String); err != nil {
			return Item{}, fmt.Errorf("item %s: last_processed: %w", it.ID, err)
		}
	}
	it.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
	it.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updated)
	return it, nil
}

func collectItems(rows *sql.Rows) ([]Item, error) {
	defer rows.Close()
	out := make([]Item, 0)
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

func formatDate(t time.Time) string { return t.Format(dateLayout) }

func nullDate(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.Format(dateLayout)
}

func formatTS(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}

package audit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteLog persists chains in SQLite. The head comparison and the insert
// run inside one immediate transaction, which is what makes concurrent
// appends resolve to exactly one winner.
type SQLiteLog struct {
	db *sql.DB
}

var _ Log = (*SQLiteLog)(nil)

func NewSQLiteLog(dbPath string) (*SQLiteLog, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit database: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA synchronous=NORMAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	l := &SQLiteLog{db: db}
	if err := l.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize audit schema: %w", err)
	}
	return l, nil
}

// NewSQLiteLogWithDB reuses an already opened handle (shared with the
// session store).
func NewSQLiteLogWithDB(db *sql.DB) (*SQLiteLog, error) {
	l := &SQLiteLog{db: db}
	if err := l.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize audit schema: %w", err)
	}
	return l, nil
}

func (l *SQLiteLog) initSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS audit_events (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			event_id TEXT NOT NULL,
			conversation_id TEXT NOT NULL,
			actor TEXT NOT NULL,
			action TEXT NOT NULL,
			ts TIMESTAMP NOT NULL,
			prev_hash TEXT NOT NULL,
			hash TEXT NOT NULL,
			erased INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_conversation ON audit_events(conversation_id, seq)`,
	}
	for _, stmt := range statements {
		if _, err := l.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func (l *SQLiteLog) Append(ctx context.Context, rec Record, expectedPrev string) (AppendResult, error) {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return Conflict, fmt.Errorf("begin append tx: %w", err)
	}
	defer tx.Rollback()

	var head string
	err = tx.QueryRowContext(ctx,
		`SELECT hash FROM audit_events WHERE conversation_id = ? ORDER BY seq DESC LIMIT 1`,
		rec.ConversationID).Scan(&head)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return Conflict, fmt.Errorf("read chain head: %w", err)
	}
	if head != expectedPrev {
		return Conflict, nil
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO audit_events (event_id, conversation_id, actor, action, ts, prev_hash, hash, erased)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.EventID, rec.ConversationID, string(rec.Actor), rec.Action,
		rec.Timestamp.UTC().Format(time.RFC3339Nano), rec.PrevHash, rec.Hash, boolToInt(rec.Erased))
	if err != nil {
		return Conflict, fmt.Errorf("insert audit event: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return Conflict, fmt.Errorf("commit append: %w", err)
	}
	return Appended, nil
}

func (l *SQLiteLog) Latest(ctx context.Context, conversationID string) (Record, bool, error) {
	row := l.db.QueryRowContext(ctx,
		`SELECT event_id, conversation_id, actor, action, ts, prev_hash, hash, erased
		 FROM audit_events WHERE conversation_id = ? ORDER BY seq DESC LIMIT 1`, conversationID)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, fmt.Errorf("read latest: %w", err)
	}
	return rec, true, nil
}

func (l *SQLiteLog) History(ctx context.Context, conversationID string, limit int) ([]Record, error) {
	query := `SELECT event_id, conversation_id, actor, action, ts, prev_hash, hash, erased
		 FROM audit_events WHERE conversation_id = ? ORDER BY seq ASC`
	rows, err := l.db.QueryContext(ctx, query, conversationID)
	if err != nil {
		return nil, fmt.Errorf("read history: %w", err)
	}
	defer rows.Close()
	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan history row: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history: %w", err)
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (l *SQLiteLog) Close() error { return l.db.Close() }

// DB exposes the handle so other stores can share the same database file.
func (l *SQLiteLog) DB() *sql.DB { return l.db }

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (Record, error) {
	var rec Record
	var actor, ts string
	var erased int
	if err := row.Scan(&rec.EventID, &rec.ConversationID, &actor, &rec.Action, &ts, &rec.PrevHash, &rec.Hash, &erased); err != nil {
		return Record{}, err
	}
	parsed, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return Record{}, fmt.Errorf("parse timestamp %q: %w", ts, err)
	}
	rec.Actor = Actor(actor)
	rec.Timestamp = parsed
	rec.Erased = erased != 0
	return rec, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

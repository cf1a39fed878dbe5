package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore persists sessions as JSON documents with a revision column
// for optimistic concurrency.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open session database: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA synchronous=NORMAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize session schema: %w", err)
	}
	return s, nil
}

// NewSQLiteStoreWithDB reuses an already opened handle.
func NewSQLiteStoreWithDB(db *sql.DB) (*SQLiteStore, error) {
	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize session schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			conversation_id TEXT PRIMARY KEY,
			state TEXT NOT NULL,
			outcome TEXT NOT NULL DEFAULT '',
			doc TEXT NOT NULL,
			revision INTEGER NOT NULL,
			last_activity TIMESTAMP NOT NULL,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_outcome ON sessions(outcome, last_activity)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStore) Load(ctx context.Context, conversationID string) (Session, bool, error) {
	var doc string
	err := s.db.QueryRowContext(ctx,
		`SELECT doc FROM sessions WHERE conversation_id = ?`, conversationID).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, false, nil
	}
	if err != nil {
		return Session{}, false, fmt.Errorf("load session: %w", err)
	}
	var sess Session
	if err := json.Unmarshal([]byte(doc), &sess); err != nil {
		return Session{}, false, fmt.Errorf("decode session doc: %w", err)
	}
	return sess, true, nil
}

func (s *SQLiteStore) Save(ctx context.Context, sess Session) (SaveResult, error) {
	next := sess
	next.Revision = sess.Revision + 1
	doc, err := json.Marshal(next)
	if err != nil {
		return SaveConflict, fmt.Errorf("encode session doc: %w", err)
	}
	la := next.LastActivity.UTC().Format(time.RFC3339Nano)
	ca := next.CreatedAt.UTC().Format(time.RFC3339Nano)

	if sess.Revision == 0 {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO sessions (conversation_id, state, outcome, doc, revision, last_activity, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			next.ConversationID, string(next.State), string(next.Outcome), string(doc), next.Revision, la, ca)
		if err != nil {
			// Primary-key violation means another worker created it first.
			return SaveConflict, nil
		}
		return Saved, nil
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET state = ?, outcome = ?, doc = ?, revision = ?, last_activity = ?
		 WHERE conversation_id = ? AND revision = ?`,
		string(next.State), string(next.Outcome), string(doc), next.Revision, la,
		next.ConversationID, sess.Revision)
	if err != nil {
		return SaveConflict, fmt.Errorf("update session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return SaveConflict, fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return SaveConflict, nil
	}
	return Saved, nil
}

func (s *SQLiteStore) Active(ctx context.Context) ([]Session, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT doc FROM sessions WHERE outcome = ''`)
	if err != nil {
		return nil, fmt.Errorf("list active sessions: %w", err)
	}
	defer rows.Close()
	var out []Session
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("scan session row: %w", err)
		}
		var sess Session
		if err := json.Unmarshal([]byte(doc), &sess); err != nil {
			return nil, fmt.Errorf("decode session doc: %w", err)
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

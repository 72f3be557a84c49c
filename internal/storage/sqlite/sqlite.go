package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/michaelbrown/smartdj/internal/storage"

	_ "modernc.org/sqlite"
)

// timeLayout is fixed-width so created_at sorts lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

const defaultListLimit = 50

const turnColumns = `id, user_id, persona, message, reply, actions, results, failure, created_at`

// SQLiteStore implements storage.Store backed by a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

var _ storage.Store = (*SQLiteStore)(nil)

// Open creates or opens a SQLite database at the given path and runs migrations.
// Use ":memory:" for an in-memory database (useful for testing).
func Open(dbPath string) (*SQLiteStore, error) {
	if dbPath != ":memory:" {
		dir := filepath.Dir(dbPath)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if dbPath == ":memory:" {
		// Every pooled connection would otherwise get its own empty database.
		db.SetMaxOpenConns(1)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) RecordTurn(ctx context.Context, t *storage.Turn) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	t.CreatedAt = t.CreatedAt.UTC()

	actions := rawOrEmpty(t.Actions)
	results := rawOrEmpty(t.Results)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO turns (`+turnColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.UserID, t.Persona, t.Message, t.Reply, actions, results, t.Failure,
		t.CreatedAt.Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("inserting turn: %w", err)
	}

	for i, o := range t.Outcomes {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO turn_actions (turn_id, position, kind, detail, status)
			VALUES (?, ?, ?, ?, ?)`,
			t.ID, i, o.Kind, o.Detail, o.Status,
		)
		if err != nil {
			return fmt.Errorf("inserting turn action: %w", err)
		}
	}

	return tx.Commit()
}

func (s *SQLiteStore) GetTurn(ctx context.Context, id string) (*storage.Turn, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: empty turn id", storage.ErrNotFound)
	}

	// Try exact match first, then prefix match
	row := s.db.QueryRowContext(ctx, `SELECT `+turnColumns+` FROM turns WHERE id = ?`, id)
	t, err := scanTurn(row)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("querying turn: %w", err)
	}

	if t == nil {
		rows, err := s.db.QueryContext(ctx, `SELECT `+turnColumns+` FROM turns WHERE id LIKE ? || '%' LIMIT 2`, id)
		if err != nil {
			return nil, fmt.Errorf("querying turn: %w", err)
		}
		matches, err := collectTurns(rows)
		if err != nil {
			return nil, err
		}

		switch len(matches) {
		case 0:
			return nil, fmt.Errorf("%w: turn %s", storage.ErrNotFound, id)
		case 1:
			t = &matches[0]
		default:
			return nil, fmt.Errorf("ambiguous turn prefix %q", id)
		}
	}

	if err := s.loadOutcomes(ctx, []*storage.Turn{t}); err != nil {
		return nil, err
	}
	return t, nil
}

func (s *SQLiteStore) ListTurns(ctx context.Context, opts storage.TurnListOptions) ([]storage.Turn, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}

	query := `SELECT ` + turnColumns + ` FROM turns`
	var args []any

	if opts.UserID != "" {
		query += ` WHERE user_id = ?`
		args = append(args, opts.UserID)
	}

	query += ` ORDER BY created_at DESC, rowid DESC LIMIT ? OFFSET ?`
	args = append(args, limit, opts.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing turns: %w", err)
	}
	turns, err := collectTurns(rows)
	if err != nil {
		return nil, err
	}

	ptrs := make([]*storage.Turn, len(turns))
	for i := range turns {
		ptrs[i] = &turns[i]
	}
	if err := s.loadOutcomes(ctx, ptrs); err != nil {
		return nil, err
	}
	return turns, nil
}

func (s *SQLiteStore) DeleteTurns(ctx context.Context, userID string) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	// Delete actions first (foreign key), then turns
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM turn_actions WHERE turn_id IN (SELECT id FROM turns WHERE user_id = ?)`, userID); err != nil {
		return 0, fmt.Errorf("deleting turn actions: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM turns WHERE user_id = ?`, userID)
	if err != nil {
		return 0, fmt.Errorf("deleting turns: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), tx.Commit()
}

func (s *SQLiteStore) ActionStats(ctx context.Context, userID string) ([]storage.ActionStat, error) {
	query := `
		SELECT a.kind, a.status, COUNT(*)
		FROM turn_actions a JOIN turns t ON t.id = a.turn_id`
	var args []any
	if userID != "" {
		query += ` WHERE t.user_id = ?`
		args = append(args, userID)
	}
	query += ` GROUP BY a.kind, a.status ORDER BY a.kind, a.status`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("aggregating actions: %w", err)
	}
	defer rows.Close()

	stats := []storage.ActionStat{}
	for rows.Next() {
		var st storage.ActionStat
		if err := rows.Scan(&st.Kind, &st.Status, &st.Count); err != nil {
			return nil, err
		}
		stats = append(stats, st)
	}
	return stats, rows.Err()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// loadOutcomes fills Outcomes for each turn in one query per turn.
func (s *SQLiteStore) loadOutcomes(ctx context.Context, turns []*storage.Turn) error {
	for _, t := range turns {
		rows, err := s.db.QueryContext(ctx, `
			SELECT kind, detail, status FROM turn_actions WHERE turn_id = ? ORDER BY position`, t.ID)
		if err != nil {
			return fmt.Errorf("loading turn actions: %w", err)
		}
		for rows.Next() {
			var o storage.ActionOutcome
			if err := rows.Scan(&o.Kind, &o.Detail, &o.Status); err != nil {
				rows.Close()
				return err
			}
			t.Outcomes = append(t.Outcomes, o)
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return err
		}
	}
	return nil
}

// Scanner interface to work with both *sql.Row and *sql.Rows
type scanner interface {
	Scan(dest ...any) error
}

func scanTurn(s scanner) (*storage.Turn, error) {
	var t storage.Turn
	var actions, results, createdAt string
	err := s.Scan(&t.ID, &t.UserID, &t.Persona, &t.Message, &t.Reply,
		&actions, &results, &t.Failure, &createdAt)
	if err != nil {
		return nil, err
	}
	t.Actions = []byte(actions)
	t.Results = []byte(results)
	t.CreatedAt, _ = time.Parse(timeLayout, createdAt)
	return &t, nil
}

func collectTurns(rows *sql.Rows) ([]storage.Turn, error) {
	defer rows.Close()

	turns := []storage.Turn{}
	for rows.Next() {
		t, err := scanTurn(rows)
		if err != nil {
			return nil, err
		}
		turns = append(turns, *t)
	}
	return turns, rows.Err()
}

func rawOrEmpty(b []byte) string {
	if len(b) == 0 {
		return "[]"
	}
	return string(b)
}

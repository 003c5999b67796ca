package chatstore

import (
	"context"
	"database/sql"
	"regexp"
	"strings"
	"sync"
	"time"

	_ "github.com/glebarez/go-sqlite"
	"github.com/google/uuid"
)

// SQLiteStore is a file-backed MessageStore for single-node
// deployments. SQLite has no regex operator, so pattern deletes scan
// candidate senders and match in process.
type SQLiteStore struct {
	path   string
	openDB sqlOpenFunc

	initOnce sync.Once
	initErr  error
	db       *sql.DB
}

func NewSQLiteStore(path string) (MessageStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, ErrInvalidInput
	}
	return &SQLiteStore{
		path:   path,
		openDB: sql.Open,
	}, nil
}

func (s *SQLiteStore) Name() string { return "sqlite" }

func (s *SQLiteStore) ensureReady() error {
	if s == nil {
		return ErrInvalidInput
	}
	s.initOnce.Do(func() {
		db, err := s.openDB("sqlite", "file:"+s.path+"?_busy_timeout=10000&_fk=1")
		if err != nil {
			s.initErr = err
			return
		}
		if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS chataudit_messages (
			id TEXT PRIMARY KEY,
			query_id TEXT NOT NULL,
			original_query_id TEXT NOT NULL DEFAULT '',
			message TEXT NOT NULL,
			response_text TEXT NOT NULL DEFAULT '',
			sender TEXT NOT NULL,
			sender_role TEXT NOT NULL DEFAULT '',
			team TEXT NOT NULL DEFAULT '',
			ts TEXT NOT NULL,
			is_system INTEGER NOT NULL DEFAULT 0,
			action_type TEXT NOT NULL
		)`); err != nil {
			_ = db.Close()
			s.initErr = err
			return
		}
		if _, err := db.Exec(`CREATE INDEX IF NOT EXISTS chataudit_messages_query_id_ts_idx ON chataudit_messages (query_id, ts)`); err != nil {
			_ = db.Close()
			s.initErr = err
			return
		}
		s.db = db
	})
	return s.initErr
}

func (s *SQLiteStore) Store(ctx context.Context, msg Message) error {
	if strings.TrimSpace(msg.QueryID) == "" {
		return ErrInvalidInput
	}
	if err := ValidateMessage(msg); err != nil {
		return err
	}
	if err := s.ensureReady(); err != nil {
		return err
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO chataudit_messages (id, query_id, original_query_id, message, response_text, sender, sender_role, team, ts, is_system, action_type)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.ID,
		msg.QueryID,
		msg.OriginalQueryID,
		msg.Message,
		msg.ResponseText,
		msg.Sender,
		msg.SenderRole,
		msg.Team,
		msg.Timestamp.UTC().Format(time.RFC3339Nano),
		boolToInt(msg.IsSystemMessage),
		msg.ActionType,
	)
	if err != nil {
		return err
	}
	messagesStored.WithLabelValues(s.Name()).Inc()
	return nil
}

func (s *SQLiteStore) Messages(ctx context.Context, queryID string) ([]Message, error) {
	if strings.TrimSpace(queryID) == "" {
		return nil, ErrInvalidInput
	}
	if err := s.ensureReady(); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, query_id, original_query_id, message, response_text, sender, sender_role, team, ts, is_system, action_type
		FROM chataudit_messages
		WHERE query_id = ?
		ORDER BY ts ASC, id ASC`, queryID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Message, 0)
	for rows.Next() {
		var msg Message
		var ts string
		var isSystem int
		if err := rows.Scan(
			&msg.ID,
			&msg.QueryID,
			&msg.OriginalQueryID,
			&msg.Message,
			&msg.ResponseText,
			&msg.Sender,
			&msg.SenderRole,
			&msg.Team,
			&ts,
			&isSystem,
			&msg.ActionType,
		); err != nil {
			return nil, err
		}
		if parsed, parseErr := time.Parse(time.RFC3339Nano, ts); parseErr == nil {
			msg.Timestamp = parsed
		}
		msg.IsSystemMessage = isSystem != 0
		out = append(out, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	messagesRetrieved.WithLabelValues(s.Name()).Add(float64(len(out)))
	return out, nil
}

func (s *SQLiteStore) DeleteMatching(ctx context.Context, filter DeleteFilter) (int64, error) {
	if filter.Empty() {
		return 0, ErrInvalidInput
	}
	pattern := strings.TrimSpace(filter.SenderPattern)
	var senderRe *regexp.Regexp
	if pattern != "" {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return 0, ErrInvalidPattern
		}
		senderRe = re
	}
	if err := s.ensureReady(); err != nil {
		return 0, err
	}

	var removed int64
	if len(filter.QueryIDs) > 0 {
		placeholders := strings.TrimRight(strings.Repeat("?,", len(filter.QueryIDs)), ",")
		args := make([]any, 0, len(filter.QueryIDs)*2)
		for _, id := range filter.QueryIDs {
			args = append(args, id)
		}
		for _, id := range filter.QueryIDs {
			args = append(args, id)
		}
		result, err := s.db.ExecContext(ctx,
			"DELETE FROM chataudit_messages WHERE query_id IN ("+placeholders+") OR original_query_id IN ("+placeholders+")",
			args...)
		if err != nil {
			return 0, err
		}
		count, err := result.RowsAffected()
		if err != nil {
			return 0, err
		}
		removed += count
	}

	if senderRe != nil {
		rows, err := s.db.QueryContext(ctx, "SELECT id, sender FROM chataudit_messages")
		if err != nil {
			return removed, err
		}
		matched := make([]string, 0)
		for rows.Next() {
			var id, sender string
			if scanErr := rows.Scan(&id, &sender); scanErr != nil {
				continue
			}
			if senderRe.MatchString(sender) {
				matched = append(matched, id)
			}
		}
		closeErr := rows.Err()
		_ = rows.Close()
		if closeErr != nil {
			return removed, closeErr
		}
		for _, id := range matched {
			result, execErr := s.db.ExecContext(ctx, "DELETE FROM chataudit_messages WHERE id = ?", id)
			if execErr != nil {
				return removed, execErr
			}
			count, countErr := result.RowsAffected()
			if countErr != nil {
				return removed, countErr
			}
			removed += count
		}
	}
	messagesDeleted.WithLabelValues(s.Name()).Add(float64(removed))
	return removed, nil
}

func (s *SQLiteStore) Counts(ctx context.Context) (StoreCounts, error) {
	if err := s.ensureReady(); err != nil {
		return StoreCounts{}, err
	}
	var counts StoreCounts
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*), COUNT(DISTINCT query_id) FROM chataudit_messages",
	).Scan(&counts.Messages, &counts.Queries)
	if err != nil {
		return StoreCounts{}, err
	}
	return counts, nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}

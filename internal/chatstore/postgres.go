package chatstore

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

const (
	postgresMessagesTableName = "chataudit_messages"
	postgresOperationTimeout  = 5 * time.Second
)

type sqlOpenFunc func(driverName, dsn string) (*sql.DB, error)

// PostgresStore persists messages in a single table, created on first
// use. The connection is opened lazily so constructing a store never
// blocks on the database being reachable.
type PostgresStore struct {
	dsn       string
	tableName string
	openDB    sqlOpenFunc

	initOnce sync.Once
	initErr  error
	db       *sql.DB
}

func NewPostgresStore(dsn string) (MessageStore, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, ErrInvalidInput
	}
	return &PostgresStore{
		dsn:       dsn,
		tableName: postgresMessagesTableName,
		openDB:    sql.Open,
	}, nil
}

func (s *PostgresStore) Name() string { return "postgres" }

func (s *PostgresStore) ensureReady() error {
	if s == nil {
		return ErrInvalidInput
	}
	s.initOnce.Do(func() {
		db, err := s.openDB("postgres", s.dsn)
		if err != nil {
			s.initErr = err
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), postgresOperationTimeout)
		defer cancel()

		query := fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				id TEXT PRIMARY KEY,
				query_id TEXT NOT NULL,
				original_query_id TEXT NOT NULL DEFAULT '',
				message TEXT NOT NULL,
				response_text TEXT NOT NULL DEFAULT '',
				sender TEXT NOT NULL,
				sender_role TEXT NOT NULL DEFAULT '',
				team TEXT NOT NULL DEFAULT '',
				ts TIMESTAMPTZ NOT NULL,
				is_system BOOLEAN NOT NULL DEFAULT FALSE,
				action_type TEXT NOT NULL
			)`, postgresQuoteIdentifier(s.tableName))
		if _, err := db.ExecContext(ctx, query); err != nil {
			_ = db.Close()
			s.initErr = err
			return
		}
		indexName := s.tableName + "_query_id_ts_idx"
		indexQuery := fmt.Sprintf(
			"CREATE INDEX IF NOT EXISTS %s ON %s (query_id, ts)",
			postgresQuoteIdentifier(indexName),
			postgresQuoteIdentifier(s.tableName),
		)
		if _, err := db.ExecContext(ctx, indexQuery); err != nil {
			_ = db.Close()
			s.initErr = err
			return
		}
		s.db = db
	})
	return s.initErr
}

func (s *PostgresStore) Store(ctx context.Context, msg Message) error {
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
	ctx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()

	query := fmt.Sprintf(`
		INSERT INTO %s (id, query_id, original_query_id, message, response_text, sender, sender_role, team, ts, is_system, action_type)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`, postgresQuoteIdentifier(s.tableName))
	_, err := s.db.ExecContext(ctx, query,
		msg.ID,
		msg.QueryID,
		msg.OriginalQueryID,
		msg.Message,
		msg.ResponseText,
		msg.Sender,
		msg.SenderRole,
		msg.Team,
		msg.Timestamp,
		msg.IsSystemMessage,
		msg.ActionType,
	)
	if err != nil {
		return err
	}
	messagesStored.WithLabelValues(s.Name()).Inc()
	return nil
}

func (s *PostgresStore) Messages(ctx context.Context, queryID string) ([]Message, error) {
	if strings.TrimSpace(queryID) == "" {
		return nil, ErrInvalidInput
	}
	if err := s.ensureReady(); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()

	query := fmt.Sprintf(`
		SELECT id, query_id, original_query_id, message, response_text, sender, sender_role, team, ts, is_system, action_type
		FROM %s
		WHERE query_id = $1
		ORDER BY ts ASC, id ASC`, postgresQuoteIdentifier(s.tableName))
	rows, err := s.db.QueryContext(ctx, query, queryID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Message, 0)
	for rows.Next() {
		var msg Message
		if err := rows.Scan(
			&msg.ID,
			&msg.QueryID,
			&msg.OriginalQueryID,
			&msg.Message,
			&msg.ResponseText,
			&msg.Sender,
			&msg.SenderRole,
			&msg.Team,
			&msg.Timestamp,
			&msg.IsSystemMessage,
			&msg.ActionType,
		); err != nil {
			return nil, err
		}
		out = append(out, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	messagesRetrieved.WithLabelValues(s.Name()).Add(float64(len(out)))
	return out, nil
}

func (s *PostgresStore) DeleteMatching(ctx context.Context, filter DeleteFilter) (int64, error) {
	if filter.Empty() {
		return 0, ErrInvalidInput
	}
	pattern := strings.TrimSpace(filter.SenderPattern)
	if pattern != "" {
		if _, err := regexp.Compile(pattern); err != nil {
			return 0, ErrInvalidPattern
		}
	}
	if err := s.ensureReady(); err != nil {
		return 0, err
	}
	ctx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()

	conditions := make([]string, 0, 2)
	args := make([]any, 0, 2)
	if len(filter.QueryIDs) > 0 {
		args = append(args, pq.Array(filter.QueryIDs))
		idx := len(args)
		conditions = append(conditions, fmt.Sprintf("query_id = ANY($%d) OR original_query_id = ANY($%d)", idx, idx))
	}
	if pattern != "" {
		args = append(args, pattern)
		conditions = append(conditions, fmt.Sprintf("sender ~ $%d", len(args)))
	}
	query := fmt.Sprintf(
		"DELETE FROM %s WHERE (%s)",
		postgresQuoteIdentifier(s.tableName),
		strings.Join(conditions, ") OR ("),
	)
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	removed, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	messagesDeleted.WithLabelValues(s.Name()).Add(float64(removed))
	return removed, nil
}

func (s *PostgresStore) Counts(ctx context.Context) (StoreCounts, error) {
	if err := s.ensureReady(); err != nil {
		return StoreCounts{}, err
	}
	ctx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()

	query := fmt.Sprintf(
		"SELECT COUNT(*), COUNT(DISTINCT query_id) FROM %s",
		postgresQuoteIdentifier(s.tableName),
	)
	var counts StoreCounts
	if err := s.db.QueryRowContext(ctx, query).Scan(&counts.Messages, &counts.Queries); err != nil {
		return StoreCounts{}, err
	}
	return counts, nil
}

func (s *PostgresStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func postgresQuoteIdentifier(identifier string) string {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return "\"\""
	}
	return `"` + strings.ReplaceAll(identifier, `"`, `""`) + `"`
}

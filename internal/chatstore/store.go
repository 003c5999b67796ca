package chatstore

import (
	"context"
	"errors"
	"strings"
	"time"
)

var (
	ErrNotFound       = errors.New("not found")
	ErrInvalidInput   = errors.New("invalid input")
	ErrInvalidPattern = errors.New("invalid sender pattern")
	ErrStoreClosed    = errors.New("store closed")
)

const ActionChatMessage = "chat_message"

// Message is one chat record as the storage backends persist it.
// OriginalQueryID is populated when a record was migrated between
// query threads; isolation checks accept either field.
type Message struct {
	ID              string    `json:"id"`
	QueryID         string    `json:"queryId"`
	OriginalQueryID string    `json:"originalQueryId,omitempty"`
	Message         string    `json:"message"`
	ResponseText    string    `json:"responseText"`
	Sender          string    `json:"sender"`
	SenderRole      string    `json:"senderRole"`
	Team            string    `json:"team"`
	Timestamp       time.Time `json:"timestamp"`
	IsSystemMessage bool      `json:"isSystemMessage"`
	ActionType      string    `json:"actionType"`
}

// DeleteFilter selects records whose queryId or originalQueryId is in
// QueryIDs, or whose sender matches SenderPattern (a regular
// expression). An empty field disables that predicate.
type DeleteFilter struct {
	QueryIDs      []string
	SenderPattern string
}

// Matches reports whether the filter selects the given message.
func (f DeleteFilter) Matches(msg Message, senderMatch func(string) bool) bool {
	for _, id := range f.QueryIDs {
		if id != "" && (msg.QueryID == id || msg.OriginalQueryID == id) {
			return true
		}
	}
	if senderMatch != nil && senderMatch(msg.Sender) {
		return true
	}
	return false
}

// Empty reports whether the filter selects nothing.
func (f DeleteFilter) Empty() bool {
	return len(f.QueryIDs) == 0 && strings.TrimSpace(f.SenderPattern) == ""
}

// StoreCounts is a point-in-time size summary for dashboards.
type StoreCounts struct {
	Messages int64 `json:"messages"`
	Queries  int64 `json:"queries"`
}

// MessageStore is the primary persistence contract. Messages returns
// records for one query in timestamp order. DeleteMatching returns the
// number of rows removed.
type MessageStore interface {
	Store(ctx context.Context, msg Message) error
	Messages(ctx context.Context, queryID string) ([]Message, error)
	DeleteMatching(ctx context.Context, filter DeleteFilter) (int64, error)
	Counts(ctx context.Context) (StoreCounts, error)
	Name() string
	Close() error
}

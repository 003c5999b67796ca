package chatstore

import (
	"context"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// MemoryStore is an in-process MessageStore used for development and
// tests. All operations are safe for concurrent use.
type MemoryStore struct {
	mu       sync.RWMutex
	closed   bool
	byQuery  map[string][]Message
	validate bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byQuery:  map[string][]Message{},
		validate: true,
	}
}

func (s *MemoryStore) Name() string { return "memory" }

func (s *MemoryStore) Store(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(msg.QueryID) == "" {
		return ErrInvalidInput
	}
	if s.validate {
		if err := ValidateMessage(msg); err != nil {
			return err
		}
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	s.byQuery[msg.QueryID] = append(s.byQuery[msg.QueryID], msg)
	messagesStored.WithLabelValues(s.Name()).Inc()
	return nil
}

func (s *MemoryStore) Messages(ctx context.Context, queryID string) ([]Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(queryID) == "" {
		return nil, ErrInvalidInput
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}
	stored := s.byQuery[queryID]
	out := make([]Message, len(stored))
	copy(out, stored)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	messagesRetrieved.WithLabelValues(s.Name()).Add(float64(len(out)))
	return out, nil
}

func (s *MemoryStore) DeleteMatching(ctx context.Context, filter DeleteFilter) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if filter.Empty() {
		return 0, ErrInvalidInput
	}
	senderMatch, err := compileSenderPattern(filter.SenderPattern)
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrStoreClosed
	}
	var removed int64
	for queryID, stored := range s.byQuery {
		kept := stored[:0]
		for _, msg := range stored {
			if filter.Matches(msg, senderMatch) {
				removed++
				continue
			}
			kept = append(kept, msg)
		}
		if len(kept) == 0 {
			delete(s.byQuery, queryID)
			continue
		}
		s.byQuery[queryID] = kept
	}
	messagesDeleted.WithLabelValues(s.Name()).Add(float64(removed))
	return removed, nil
}

func (s *MemoryStore) Counts(ctx context.Context) (StoreCounts, error) {
	if err := ctx.Err(); err != nil {
		return StoreCounts{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return StoreCounts{}, ErrStoreClosed
	}
	counts := StoreCounts{Queries: int64(len(s.byQuery))}
	for _, stored := range s.byQuery {
		counts.Messages += int64(len(stored))
	}
	return counts, nil
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func compileSenderPattern(pattern string) (func(string) bool, error) {
	pattern = strings.TrimSpace(pattern)
	if pattern == "" {
		return nil, nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, ErrInvalidPattern
	}
	return re.MatchString, nil
}

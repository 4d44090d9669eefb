package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/zwy923/onebox/internal/model"
)

type key struct {
	account string
	id      string
}

// MemoryStore keeps messages in process memory.
type MemoryStore struct {
	mu   sync.RWMutex
	msgs map[key]model.Message
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{msgs: make(map[key]model.Message)}
}

func (s *MemoryStore) Index(_ context.Context, msg *model.Message) error {
	if msg.Account == "" || msg.ID == "" {
		return fmt.Errorf("index message: account and id are required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key{msg.Account, msg.ID}
	stored := *msg
	if prev, ok := s.msgs[k]; ok && prev.Read {
		stored.Read = true
	}
	s.msgs[k] = stored
	return nil
}

func (s *MemoryStore) Get(_ context.Context, account, id string) (*model.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msg, ok := s.msgs[key{account, id}]
	if !ok {
		return nil, fmt.Errorf("get %s/%s: %w", account, id, ErrNotFound)
	}
	return &msg, nil
}

func (s *MemoryStore) Search(_ context.Context, q Query) ([]model.Message, error) {
	term := strings.ToLower(q.Term)

	s.mu.RLock()
	out := make([]model.Message, 0)
	for _, msg := range s.msgs {
		if q.Account != "" && msg.Account != q.Account {
			continue
		}
		if q.Folder != "" && msg.Folder != q.Folder {
			continue
		}
		if q.Category != "" && msg.Category != q.Category {
			continue
		}
		if term != "" &&
			!strings.Contains(strings.ToLower(msg.Subject), term) &&
			!strings.Contains(strings.ToLower(msg.Body), term) {
			continue
		}
		out = append(out, msg)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].ReceivedAt.Equal(out[j].ReceivedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].ReceivedAt.After(out[j].ReceivedAt)
	})
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (s *MemoryStore) SetCategory(_ context.Context, account, id string, c model.Category) (model.Category, error) {
	if !c.Valid() {
		return "", fmt.Errorf("set category: %w: %q", model.ErrUnknownCategory, c)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key{account, id}
	msg, ok := s.msgs[k]
	if !ok {
		return "", fmt.Errorf("set category %s/%s: %w", account, id, ErrNotFound)
	}
	prev := msg.Category
	msg.Category = c
	s.msgs[k] = msg
	return prev, nil
}

func (s *MemoryStore) MarkRead(_ context.Context, account, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key{account, id}
	msg, ok := s.msgs[k]
	if !ok {
		return fmt.Errorf("mark read %s/%s: %w", account, id, ErrNotFound)
	}
	msg.Read = true
	s.msgs[k] = msg
	return nil
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

package store

import (
	"context"
	"sort"

	lru "github.com/hashicorp/golang-lru/v2"

	"prompt2web_server/internal/types"
)

// Memory keeps the most recent records in an LRU. It is the default for
// local development; contents are lost on restart.
type Memory struct {
	cache *lru.Cache[string, types.ProjectRecord]
}

var _ Store = (*Memory)(nil)

func NewMemory(size int) (*Memory, error) {
	if size <= 0 {
		size = 1024
	}
	cache, err := lru.New[string, types.ProjectRecord](size)
	if err != nil {
		return nil, err
	}
	return &Memory{cache: cache}, nil
}

func (m *Memory) Create(_ context.Context, rec types.ProjectRecord) error {
	rec.Files = rec.Files.Clone()
	m.cache.Add(rec.ID, rec)
	return nil
}

func (m *Memory) List(_ context.Context, accountID string) ([]types.ProjectRecord, error) {
	var out []types.ProjectRecord
	for _, id := range m.cache.Keys() {
		rec, ok := m.cache.Peek(id)
		if ok && rec.AccountID == accountID {
			out = append(out, rec)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (m *Memory) Get(_ context.Context, accountID, id string) (types.ProjectRecord, error) {
	rec, ok := m.cache.Get(id)
	if !ok || rec.AccountID != accountID {
		return types.ProjectRecord{}, ErrNotFound
	}
	rec.Files = rec.Files.Clone()
	return rec, nil
}

func (m *Memory) Close() error {
	m.cache.Purge()
	return nil
}

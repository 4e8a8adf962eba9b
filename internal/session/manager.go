package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"prompt2web_server/internal/ai"
	"prompt2web_server/internal/store"
	"prompt2web_server/internal/types"
)

// Guard serializes generations per account. Acquire returns ErrBusy when
// the key is already held.
type Guard interface {
	Acquire(ctx context.Context, key string) (release func(), err error)
}

// MemoryGuard works within a single process.
type MemoryGuard struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func NewMemoryGuard() *MemoryGuard {
	return &MemoryGuard{held: map[string]struct{}{}}
}

func (g *MemoryGuard) Acquire(_ context.Context, key string) (func(), error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.held[key]; ok {
		return nil, ErrBusy
	}
	g.held[key] = struct{}{}
	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			delete(g.held, key)
			g.mu.Unlock()
		})
	}, nil
}

// releaseScript deletes the lock only if we still own it.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisGuard shares the busy check across replicas. The TTL bounds how long
// a crashed replica can hold an account.
type RedisGuard struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisGuard(rdb *redis.Client, ttl time.Duration) *RedisGuard {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &RedisGuard{rdb: rdb, ttl: ttl}
}

func (g *RedisGuard) Acquire(ctx context.Context, key string) (func(), error) {
	lockKey := "lock:generate:" + key
	token := uuid.NewString()
	ok, err := g.rdb.SetNX(ctx, lockKey, token, g.ttl).Result()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrBusy
	}
	var once sync.Once
	return func() {
		once.Do(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = releaseScript.Run(ctx, g.rdb, []string{lockKey}, token).Err()
		})
	}, nil
}

// Manager keeps one Session per account.
type Manager struct {
	guard       Guard
	store       store.Store
	idleTimeout time.Duration

	mu       sync.Mutex
	sessions map[string]*Session
}

func NewManager(guard Guard, st store.Store, idleTimeout time.Duration) *Manager {
	if guard == nil {
		guard = NewMemoryGuard()
	}
	return &Manager{
		guard:       guard,
		store:       st,
		idleTimeout: idleTimeout,
		sessions:    map[string]*Session{},
	}
}

// Session returns the account's session, creating it on first use.
func (m *Manager) Session(accountID string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[accountID]
	if !ok {
		s = New(Options{AccountID: accountID, IdleTimeout: m.idleTimeout, Store: m.store})
		m.sessions[accountID] = s
	}
	return s
}

// Run executes a generation for accountID, rejecting it with ErrBusy while
// another is in flight for the same account.
func (m *Manager) Run(ctx context.Context, accountID string, req types.GenerationRequest, provider ai.Provider, updates chan<- Update) (*Outcome, error) {
	release, err := m.guard.Acquire(ctx, accountID)
	if err != nil {
		if updates != nil {
			close(updates)
		}
		return nil, err
	}
	defer release()
	return m.Session(accountID).Run(ctx, req, provider, updates)
}

// Cancel aborts the account's in-flight generation, if any.
func (m *Manager) Cancel(accountID string) bool {
	m.mu.Lock()
	s, ok := m.sessions[accountID]
	m.mu.Unlock()
	if !ok {
		return false
	}
	return s.Cancel()
}

// Wait blocks until every session's background persistence has finished.
func (m *Manager) Wait() {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()
	for _, s := range sessions {
		s.Wait()
	}
}

package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/park285/cheese-connect/internal/domain"
)

// memoryStore keeps everything in process. Used for development and tests
// when neither Redis nor Postgres is configured. One mutex serialises every
// scope, so it never reports ErrConflict.
type memoryStore struct {
	mu sync.Mutex

	games   map[string]*domain.Game
	moves   map[string][]domain.Move
	byUser  map[string][]string // userID -> game ids, creation order
	queue   map[time.Duration]map[string]domain.QueueEntry
	ratings map[string]float64
}

func NewMemoryStore() Store {
	return &memoryStore{
		games:   make(map[string]*domain.Game),
		moves:   make(map[string][]domain.Move),
		byUser:  make(map[string][]string),
		queue:   make(map[time.Duration]map[string]domain.QueueEntry),
		ratings: make(map[string]float64),
	}
}

func (m *memoryStore) CreateGame(ctx context.Context, g *domain.Game) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createGameLocked(g)
}

func (m *memoryStore) createGameLocked(g *domain.Game) error {
	if g == nil || strings.TrimSpace(g.ID) == "" {
		return ErrNotFound
	}
	if _, exists := m.games[g.ID]; exists {
		return ErrDuplicate
	}
	m.games[g.ID] = g.Clone()
	for _, uid := range []string{g.Player1ID, g.Player2ID} {
		if uid != "" {
			m.byUser[uid] = append(m.byUser[uid], g.ID)
		}
	}
	return nil
}

func (m *memoryStore) FetchGame(ctx context.Context, gameID string) (*domain.Game, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.games[gameID]
	if !ok {
		return nil, ErrNotFound
	}
	return g.Clone(), nil
}

func (m *memoryStore) FetchMoves(ctx context.Context, gameID string) ([]domain.Move, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.games[gameID]; !ok {
		return nil, ErrNotFound
	}
	return append([]domain.Move(nil), m.moves[gameID]...), nil
}

func (m *memoryStore) GamesByUser(ctx context.Context, userID string) ([]*domain.Game, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := m.byUser[userID]
	out := make([]*domain.Game, 0, len(ids))
	for _, id := range ids {
		if g, ok := m.games[id]; ok {
			out = append(out, g.Clone())
		}
	}
	return out, nil
}

type memGameTx struct {
	game    *domain.Game
	moves   []domain.Move
	pending []domain.Move
	updated *domain.Game
}

func (tx *memGameTx) Game() *domain.Game   { return tx.game.Clone() }
func (tx *memGameTx) Moves() []domain.Move { return append([]domain.Move(nil), tx.moves...) }

func (tx *memGameTx) AppendMove(mv domain.Move) error {
	if err := checkNextOrder(append(tx.moves, tx.pending...), mv); err != nil {
		return err
	}
	tx.pending = append(tx.pending, mv)
	return nil
}

func (tx *memGameTx) UpdateGame(g *domain.Game) error {
	if g == nil || g.ID != tx.game.ID {
		return ErrNotFound
	}
	tx.updated = g.Clone()
	return nil
}

func (m *memoryStore) WithGame(ctx context.Context, gameID string, fn func(tx GameTx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.games[gameID]
	if !ok {
		return ErrNotFound
	}
	tx := &memGameTx{game: g.Clone(), moves: append([]domain.Move(nil), m.moves[gameID]...)}
	if err := fn(tx); err != nil {
		return err
	}
	if len(tx.pending) > 0 {
		m.moves[gameID] = append(m.moves[gameID], tx.pending...)
	}
	if tx.updated != nil {
		m.games[gameID] = tx.updated
	}
	return nil
}

type memBucketTx struct {
	limit   time.Duration
	entries map[string]domain.QueueEntry
	inserts []domain.QueueEntry
	deletes []string
	games   []*domain.Game
}

func (tx *memBucketTx) TimeLimit() time.Duration { return tx.limit }

func (tx *memBucketTx) FetchQueueEntry(userID string) (*domain.QueueEntry, error) {
	if e, ok := tx.entries[userID]; ok {
		return &e, nil
	}
	return nil, nil
}

func (tx *memBucketTx) FindOpponent(excludeUser string) (*domain.QueueEntry, error) {
	return oldestExcept(tx.entries, excludeUser), nil
}

func (tx *memBucketTx) InsertQueueEntry(e domain.QueueEntry) error {
	if _, ok := tx.entries[e.UserID]; ok {
		return ErrDuplicate
	}
	tx.inserts = append(tx.inserts, e)
	return nil
}

func (tx *memBucketTx) DeleteQueueEntry(userID string) error {
	if _, ok := tx.entries[userID]; !ok {
		return ErrNotFound
	}
	tx.deletes = append(tx.deletes, userID)
	return nil
}

func (tx *memBucketTx) CreateGame(g *domain.Game) error {
	tx.games = append(tx.games, g.Clone())
	return nil
}

func (m *memoryStore) WithBucket(ctx context.Context, timeLimit time.Duration, fn func(tx BucketTx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	snapshot := make(map[string]domain.QueueEntry, len(m.queue[timeLimit]))
	for k, v := range m.queue[timeLimit] {
		snapshot[k] = v
	}
	tx := &memBucketTx{limit: timeLimit, entries: snapshot}
	if err := fn(tx); err != nil {
		return err
	}
	for _, g := range tx.games {
		if _, exists := m.games[g.ID]; exists {
			return ErrDuplicate
		}
	}
	for _, g := range tx.games {
		_ = m.createGameLocked(g)
	}
	bucket := m.queue[timeLimit]
	if bucket == nil {
		bucket = make(map[string]domain.QueueEntry)
		m.queue[timeLimit] = bucket
	}
	for _, uid := range tx.deletes {
		delete(bucket, uid)
	}
	for _, e := range tx.inserts {
		bucket[e.UserID] = e
	}
	return nil
}

func (m *memoryStore) QueuedBuckets(ctx context.Context, userID string) ([]time.Duration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []time.Duration
	for limit, bucket := range m.queue {
		if _, ok := bucket[userID]; ok {
			out = append(out, limit)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (m *memoryStore) Rating(ctx context.Context, userID string) (float64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.ratings[userID]
	return r, ok, nil
}

func (m *memoryStore) UpdateRating(ctx context.Context, userID string, rating float64) error {
	m.mu.Lock()
	m.ratings[userID] = rating
	m.mu.Unlock()
	return nil
}

func (m *memoryStore) Close() error { return nil }

func oldestExcept(entries map[string]domain.QueueEntry, excludeUser string) *domain.QueueEntry {
	var best *domain.QueueEntry
	for uid, e := range entries {
		if uid == excludeUser {
			continue
		}
		e := e
		if best == nil || e.JoinedAt.Before(best.JoinedAt) || (e.JoinedAt.Equal(best.JoinedAt) && e.UserID < best.UserID) {
			best = &e
		}
	}
	return best
}

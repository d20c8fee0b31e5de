package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/park285/cheese-connect/internal/domain"
)

// DefaultGameTTL bounds how long finished or abandoned games stay in Redis.
const DefaultGameTTL = 30 * 24 * time.Hour

type redisStore struct {
	rdb *redis.Client
	ttl time.Duration
}

// OpenRedis connects to REDIS_URL and verifies the connection.
func OpenRedis(ctx context.Context, redisURL string) (*redis.Client, error) {
	if strings.TrimSpace(redisURL) == "" {
		return nil, fmt.Errorf("REDIS_URL required for redis store")
	}
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return rdb, nil
}

// NewRedisStore wraps an existing client. ttl <= 0 selects DefaultGameTTL.
func NewRedisStore(rdb *redis.Client, ttl time.Duration) Store {
	if ttl <= 0 {
		ttl = DefaultGameTTL
	}
	return &redisStore{rdb: rdb, ttl: ttl}
}

func gameKey(id string) string          { return "c4:game:" + strings.TrimSpace(id) }
func movesKey(id string) string         { return "c4:game:" + strings.TrimSpace(id) + ":moves" }
func idxUserKey(userID string) string   { return "c4:index:user:" + strings.TrimSpace(userID) }
func queuedIdxKey(userID string) string { return "c4:index:queued:" + strings.TrimSpace(userID) }
func bucketKey(limit time.Duration) string {
	return "c4:queue:" + strconv.FormatInt(int64(limit/time.Second), 10)
}
func bucketEntriesKey(limit time.Duration) string { return bucketKey(limit) + ":entries" }

const ratingsKey = "c4:ratings"

func (s *redisStore) CreateGame(ctx context.Context, g *domain.Game) error {
	if g == nil || strings.TrimSpace(g.ID) == "" {
		return ErrNotFound
	}
	raw, err := json.Marshal(g)
	if err != nil {
		return err
	}
	ok, err := s.rdb.SetNX(ctx, gameKey(g.ID), raw, s.ttl).Result()
	if err != nil {
		return err
	}
	if !ok {
		return ErrDuplicate
	}
	pipe := s.rdb.TxPipeline()
	s.indexGame(ctx, pipe, g)
	_, err = pipe.Exec(ctx)
	return err
}

func (s *redisStore) indexGame(ctx context.Context, pipe redis.Pipeliner, g *domain.Game) {
	for _, uid := range []string{g.Player1ID, g.Player2ID} {
		if strings.TrimSpace(uid) == "" {
			continue
		}
		pipe.SAdd(ctx, idxUserKey(uid), g.ID)
		pipe.Expire(ctx, idxUserKey(uid), s.ttl)
	}
}

func (s *redisStore) FetchGame(ctx context.Context, gameID string) (*domain.Game, error) {
	return loadGame(ctx, s.rdb, gameID)
}

type redisGetter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func loadGame(ctx context.Context, c redisGetter, gameID string) (*domain.Game, error) {
	raw, err := c.Get(ctx, gameKey(gameID)).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var g domain.Game
	if err := json.Unmarshal(raw, &g); err != nil {
		return nil, fmt.Errorf("decode game %s: %w", gameID, err)
	}
	return &g, nil
}

func decodeMoves(raws []string) ([]domain.Move, error) {
	out := make([]domain.Move, 0, len(raws))
	for _, r := range raws {
		var mv domain.Move
		if err := json.Unmarshal([]byte(r), &mv); err != nil {
			return nil, fmt.Errorf("decode move: %w", err)
		}
		out = append(out, mv)
	}
	return out, nil
}

func (s *redisStore) FetchMoves(ctx context.Context, gameID string) ([]domain.Move, error) {
	n, err := s.rdb.Exists(ctx, gameKey(gameID)).Result()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, ErrNotFound
	}
	raws, err := s.rdb.LRange(ctx, movesKey(gameID), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	return decodeMoves(raws)
}

func (s *redisStore) GamesByUser(ctx context.Context, userID string) ([]*domain.Game, error) {
	ids, err := s.rdb.SMembers(ctx, idxUserKey(userID)).Result()
	if err != nil {
		return nil, err
	}
	sort.Strings(ids)
	out := make([]*domain.Game, 0, len(ids))
	for _, id := range ids {
		g, err := s.FetchGame(ctx, id)
		if errors.Is(err, ErrNotFound) {
			// expired; drop the dangling index entry
			_ = s.rdb.SRem(ctx, idxUserKey(userID), id).Err()
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, nil
}

type redisGameTx struct {
	game    *domain.Game
	moves   []domain.Move
	pending []domain.Move
	updated *domain.Game
}

func (tx *redisGameTx) Game() *domain.Game   { return tx.game.Clone() }
func (tx *redisGameTx) Moves() []domain.Move { return append([]domain.Move(nil), tx.moves...) }

func (tx *redisGameTx) AppendMove(mv domain.Move) error {
	if err := checkNextOrder(append(tx.Moves(), tx.pending...), mv); err != nil {
		return err
	}
	tx.pending = append(tx.pending, mv)
	return nil
}

func (tx *redisGameTx) UpdateGame(g *domain.Game) error {
	if g == nil || g.ID != tx.game.ID {
		return ErrNotFound
	}
	tx.updated = g.Clone()
	return nil
}

func (s *redisStore) WithGame(ctx context.Context, gameID string, fn func(tx GameTx) error) error {
	gk, mk := gameKey(gameID), movesKey(gameID)
	err := s.rdb.Watch(ctx, func(tx *redis.Tx) error {
		g, err := loadGame(ctx, tx, gameID)
		if err != nil {
			return err
		}
		raws, err := tx.LRange(ctx, mk, 0, -1).Result()
		if err != nil {
			return err
		}
		moves, err := decodeMoves(raws)
		if err != nil {
			return err
		}
		gtx := &redisGameTx{game: g, moves: moves}
		if err := fn(gtx); err != nil {
			return err
		}
		if len(gtx.pending) == 0 && gtx.updated == nil {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			for _, mv := range gtx.pending {
				raw, err := json.Marshal(mv)
				if err != nil {
					return err
				}
				pipe.RPush(ctx, mk, raw)
			}
			if len(gtx.pending) > 0 {
				pipe.Expire(ctx, mk, s.ttl)
			}
			if gtx.updated != nil {
				raw, err := json.Marshal(gtx.updated)
				if err != nil {
					return err
				}
				pipe.Set(ctx, gk, raw, s.ttl)
			}
			return nil
		})
		return err
	}, gk, mk)
	if errors.Is(err, redis.TxFailedErr) {
		return ErrConflict
	}
	return err
}

type redisBucketTx struct {
	ctx     context.Context
	tx      *redis.Tx
	limit   time.Duration
	inserts []domain.QueueEntry
	deletes []string
	games   []*domain.Game
}

func (b *redisBucketTx) TimeLimit() time.Duration { return b.limit }

func (b *redisBucketTx) FetchQueueEntry(userID string) (*domain.QueueEntry, error) {
	raw, err := b.tx.HGet(b.ctx, bucketEntriesKey(b.limit), userID).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var e domain.QueueEntry
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, fmt.Errorf("decode queue entry: %w", err)
	}
	return &e, nil
}

func (b *redisBucketTx) FindOpponent(excludeUser string) (*domain.QueueEntry, error) {
	// oldest first; the excluded user can occupy at most one slot
	members, err := b.tx.ZRange(b.ctx, bucketKey(b.limit), 0, 1).Result()
	if err != nil {
		return nil, err
	}
	for _, uid := range members {
		if uid == excludeUser {
			continue
		}
		return b.FetchQueueEntry(uid)
	}
	return nil, nil
}

func (b *redisBucketTx) InsertQueueEntry(e domain.QueueEntry) error {
	existing, err := b.FetchQueueEntry(e.UserID)
	if err != nil {
		return err
	}
	if existing != nil {
		return ErrDuplicate
	}
	b.inserts = append(b.inserts, e)
	return nil
}

func (b *redisBucketTx) DeleteQueueEntry(userID string) error {
	existing, err := b.FetchQueueEntry(userID)
	if err != nil {
		return err
	}
	if existing == nil {
		return ErrNotFound
	}
	b.deletes = append(b.deletes, userID)
	return nil
}

func (b *redisBucketTx) CreateGame(g *domain.Game) error {
	b.games = append(b.games, g.Clone())
	return nil
}

func (s *redisStore) WithBucket(ctx context.Context, timeLimit time.Duration, fn func(tx BucketTx) error) error {
	zk, hk := bucketKey(timeLimit), bucketEntriesKey(timeLimit)
	seconds := strconv.FormatInt(int64(timeLimit/time.Second), 10)
	err := s.rdb.Watch(ctx, func(tx *redis.Tx) error {
		btx := &redisBucketTx{ctx: ctx, tx: tx, limit: timeLimit}
		if err := fn(btx); err != nil {
			return err
		}
		if len(btx.inserts) == 0 && len(btx.deletes) == 0 && len(btx.games) == 0 {
			return nil
		}
		_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			for _, g := range btx.games {
				raw, err := json.Marshal(g)
				if err != nil {
					return err
				}
				pipe.Set(ctx, gameKey(g.ID), raw, s.ttl)
				s.indexGame(ctx, pipe, g)
			}
			for _, uid := range btx.deletes {
				pipe.ZRem(ctx, zk, uid)
				pipe.HDel(ctx, hk, uid)
				pipe.SRem(ctx, queuedIdxKey(uid), seconds)
			}
			for _, e := range btx.inserts {
				raw, err := json.Marshal(e)
				if err != nil {
					return err
				}
				pipe.ZAdd(ctx, zk, redis.Z{Score: float64(e.JoinedAt.UnixMicro()), Member: e.UserID})
				pipe.HSet(ctx, hk, e.UserID, raw)
				pipe.SAdd(ctx, queuedIdxKey(e.UserID), seconds)
			}
			return nil
		})
		return err
	}, zk, hk)
	if errors.Is(err, redis.TxFailedErr) {
		return ErrConflict
	}
	return err
}

func (s *redisStore) QueuedBuckets(ctx context.Context, userID string) ([]time.Duration, error) {
	members, err := s.rdb.SMembers(ctx, queuedIdxKey(userID)).Result()
	if err != nil {
		return nil, err
	}
	out := make([]time.Duration, 0, len(members))
	for _, m := range members {
		n, err := strconv.ParseInt(m, 10, 64)
		if err != nil {
			continue
		}
		out = append(out, time.Duration(n)*time.Second)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (s *redisStore) Rating(ctx context.Context, userID string) (float64, bool, error) {
	v, err := s.rdb.HGet(ctx, ratingsKey, userID).Float64()
	if err == redis.Nil {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return v, true, nil
}

func (s *redisStore) UpdateRating(ctx context.Context, userID string, rating float64) error {
	return s.rdb.HSet(ctx, ratingsKey, userID, strconv.FormatFloat(rating, 'f', -1, 64)).Err()
}

func (s *redisStore) Close() error {
	if s == nil || s.rdb == nil {
		return nil
	}
	return s.rdb.Close()
}

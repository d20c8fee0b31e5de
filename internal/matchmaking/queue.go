// Package matchmaking pairs players waiting in the same time-control bucket.
package matchmaking

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/park285/cheese-connect/internal/domain"
	"github.com/park285/cheese-connect/internal/metrics"
	"github.com/park285/cheese-connect/internal/obslog"
	"github.com/park285/cheese-connect/internal/store"
)

var (
	ErrAlreadyQueued = errors.New("already queued for this time limit")
	ErrNotQueued     = errors.New("not queued for this time limit")
	ErrInvalidArgs   = errors.New("invalid arguments")
	ErrTransient     = errors.New("temporary failure, try again")
)

// MaxTimeLimit caps the per-move clock a bucket may use.
const MaxTimeLimit = 30 * 24 * time.Hour

// Notifier is told when a match forms. Errors are logged only.
type Notifier interface {
	MatchFound(ctx context.Context, g *domain.Game) error
}

// JoinResult holds either the created game or the new queue entry.
type JoinResult struct {
	Game  *domain.Game
	Entry *domain.QueueEntry
}

func (r *JoinResult) Matched() bool { return r != nil && r.Game != nil }

type Queue struct {
	store    store.Store
	notifier Notifier
	now      func() time.Time
}

func NewQueue(st store.Store) *Queue {
	return &Queue{store: st, now: func() time.Time { return time.Now().UTC() }}
}

func (q *Queue) AttachNotifier(n Notifier) { q.notifier = n }

// SetClock replaces the time source.
func (q *Queue) SetClock(now func() time.Time) {
	if now != nil {
		q.now = now
	}
}

func validate(userID string, timeLimit time.Duration) error {
	if strings.TrimSpace(userID) == "" {
		return fmt.Errorf("%w: user is required", ErrInvalidArgs)
	}
	if timeLimit < time.Second || timeLimit > MaxTimeLimit {
		return fmt.Errorf("%w: time limit %s out of range", ErrInvalidArgs, timeLimit)
	}
	if timeLimit%time.Second != 0 {
		return fmt.Errorf("%w: time limit must be whole seconds", ErrInvalidArgs)
	}
	return nil
}

// Join matches user with the longest-waiting player of the bucket, or
// queues user when the bucket holds nobody else.
func (q *Queue) Join(ctx context.Context, user domain.Player, timeLimit time.Duration) (*JoinResult, error) {
	user.ID = strings.TrimSpace(user.ID)
	if err := validate(user.ID, timeLimit); err != nil {
		return nil, err
	}

	var res *JoinResult
	attempt := func() error {
		res = nil
		return q.store.WithBucket(ctx, timeLimit, func(tx store.BucketTx) error {
			existing, err := tx.FetchQueueEntry(user.ID)
			if err != nil {
				return err
			}
			if existing != nil {
				return ErrAlreadyQueued
			}
			now := q.now()
			opp, err := tx.FindOpponent(user.ID)
			if err != nil {
				return err
			}
			if opp != nil {
				g := domain.NewGame(opp.Player(), user, timeLimit, now)
				if err := tx.DeleteQueueEntry(opp.UserID); err != nil {
					return err
				}
				if err := tx.CreateGame(g); err != nil {
					return err
				}
				res = &JoinResult{Game: g}
				return nil
			}
			e := domain.QueueEntry{UserID: user.ID, UserName: user.Name, TimeLimit: timeLimit, JoinedAt: now}
			if err := tx.InsertQueueEntry(e); err != nil {
				if errors.Is(err, store.ErrDuplicate) {
					return ErrAlreadyQueued
				}
				return err
			}
			res = &JoinResult{Entry: &e}
			return nil
		})
	}

	if err := q.retryOnce(attempt, "join", user.ID, timeLimit); err != nil {
		return nil, err
	}

	if res.Matched() {
		metrics.ObserveQueue("match")
		obslog.L().Info("queue_match",
			zap.String("game_id", res.Game.ID),
			zap.String("player1_id", res.Game.Player1ID),
			zap.String("player2_id", res.Game.Player2ID),
			zap.Duration("time_limit", timeLimit),
		)
		if q.notifier != nil {
			if err := q.notifier.MatchFound(ctx, res.Game); err != nil {
				metrics.ObserveNotifyError()
				obslog.L().Warn("notify_error", zap.String("game_id", res.Game.ID), zap.Error(err))
			}
		}
		return res, nil
	}
	metrics.ObserveQueue("join")
	obslog.L().Info("queue_join", zap.String("user_id", user.ID), zap.Duration("time_limit", timeLimit))
	return res, nil
}

// Leave removes the user's entry from one bucket.
func (q *Queue) Leave(ctx context.Context, userID string, timeLimit time.Duration) error {
	userID = strings.TrimSpace(userID)
	if err := validate(userID, timeLimit); err != nil {
		return err
	}
	attempt := func() error {
		return q.store.WithBucket(ctx, timeLimit, func(tx store.BucketTx) error {
			err := tx.DeleteQueueEntry(userID)
			if errors.Is(err, store.ErrNotFound) {
				return ErrNotQueued
			}
			return err
		})
	}
	if err := q.retryOnce(attempt, "leave", userID, timeLimit); err != nil {
		return err
	}
	metrics.ObserveQueue("leave")
	obslog.L().Info("queue_leave", zap.String("user_id", userID), zap.Duration("time_limit", timeLimit))
	return nil
}

// Status lists the buckets the user currently waits in.
func (q *Queue) Status(ctx context.Context, userID string) ([]time.Duration, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, fmt.Errorf("%w: user is required", ErrInvalidArgs)
	}
	return q.store.QueuedBuckets(ctx, userID)
}

func (q *Queue) retryOnce(attempt func() error, op, userID string, timeLimit time.Duration) error {
	err := attempt()
	if !errors.Is(err, store.ErrConflict) {
		return err
	}
	metrics.ObserveConflict("bucket")
	obslog.L().Warn("queue_conflict", zap.String("op", op), zap.String("user_id", userID), zap.Duration("time_limit", timeLimit))
	err = attempt()
	if errors.Is(err, store.ErrConflict) {
		return fmt.Errorf("%w: %v", ErrTransient, err)
	}
	return err
}

// Package store is the persistence boundary of the game core. Every engine
// offers two serialised scopes: one per game (move append + game update) and
// one per time-control bucket (find-and-consume of queue entries).
package store

import (
	"context"
	"errors"
	"time"

	"github.com/park285/cheese-connect/internal/domain"
)

var (
	// ErrConflict means a concurrent writer won the race; re-read and retry.
	ErrConflict = errors.New("concurrent write conflict")
	ErrNotFound = errors.New("not found")
	// ErrDuplicate is returned when a uniqueness constraint rejects an insert.
	ErrDuplicate = errors.New("duplicate entry")
)

// Store is implemented by every persistence engine.
type Store interface {
	CreateGame(ctx context.Context, g *domain.Game) error
	FetchGame(ctx context.Context, gameID string) (*domain.Game, error)
	FetchMoves(ctx context.Context, gameID string) ([]domain.Move, error)
	GamesByUser(ctx context.Context, userID string) ([]*domain.Game, error)

	// WithGame loads the game and its move log and runs fn with exclusive write
	// access to that game. Writes made through the GameTx are applied only when
	// fn returns nil, and either all of them land or none do. A lost race
	// surfaces as ErrConflict.
	WithGame(ctx context.Context, gameID string, fn func(tx GameTx) error) error

	// WithBucket runs fn with exclusive access to one time-control bucket under
	// the same all-or-nothing contract as WithGame.
	WithBucket(ctx context.Context, timeLimit time.Duration, fn func(tx BucketTx) error) error

	// QueuedBuckets lists the time limits userID is currently queued in.
	QueuedBuckets(ctx context.Context, userID string) ([]time.Duration, error)

	Rating(ctx context.Context, userID string) (float64, bool, error)
	UpdateRating(ctx context.Context, userID string, rating float64) error

	Close() error
}

// GameTx is the view of one game inside WithGame. Reads reflect the state at
// the start of the scope.
type GameTx interface {
	Game() *domain.Game
	Moves() []domain.Move
	// AppendMove fails with ErrConflict when m.Order is not len(Moves())+1.
	AppendMove(m domain.Move) error
	UpdateGame(g *domain.Game) error
}

// BucketTx is the view of one time-control bucket inside WithBucket. Reads
// reflect the state at the start of the scope.
type BucketTx interface {
	TimeLimit() time.Duration
	FetchQueueEntry(userID string) (*domain.QueueEntry, error)
	// FindOpponent returns the longest-waiting entry whose user is not excludeUser.
	FindOpponent(excludeUser string) (*domain.QueueEntry, error)
	InsertQueueEntry(e domain.QueueEntry) error
	DeleteQueueEntry(userID string) error
	CreateGame(g *domain.Game) error
}

func checkNextOrder(moves []domain.Move, m domain.Move) error {
	if m.Order != len(moves)+1 {
		return ErrConflict
	}
	return nil
}

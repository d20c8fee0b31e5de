package rating

import (
	"context"
	"fmt"
	"math"

	"go.uber.org/zap"

	"github.com/park285/cheese-connect/internal/obslog"
)

const (
	// KFactor is fixed for every game.
	KFactor = 32
	// DefaultRating is assigned to a player with no stored rating.
	DefaultRating = 1200.0
)

// Expected returns the expected score of a player rated `rating` against `opponent`.
func Expected(rating, opponent float64) float64 {
	return 1 / (1 + math.Pow(10, (opponent-rating)/400))
}

// Elo returns the post-game ratings for a decisive result.
func Elo(winner, loser float64) (newWinner, newLoser float64) {
	expectedWinner := Expected(winner, loser)
	expectedLoser := 1 - expectedWinner
	newWinner = winner + KFactor*(1-expectedWinner)
	newLoser = loser + KFactor*(0-expectedLoser)
	return newWinner, newLoser
}

// Store is the slice of persistence the updater needs.
type Store interface {
	Rating(ctx context.Context, userID string) (float64, bool, error)
	UpdateRating(ctx context.Context, userID string, rating float64) error
}

// Updater applies Elo adjustments and persists them immediately.
type Updater struct {
	store Store
}

func NewUpdater(store Store) *Updater {
	return &Updater{store: store}
}

// Current returns the stored rating or DefaultRating.
func (u *Updater) Current(ctx context.Context, userID string) (float64, error) {
	r, ok, err := u.store.Rating(ctx, userID)
	if err != nil {
		return 0, err
	}
	if !ok {
		return DefaultRating, nil
	}
	return r, nil
}

// Apply updates both players after winnerID beat loserID. There is no
// rollback: a failure after the winner's write leaves the pair half applied,
// and the error says which write failed.
func (u *Updater) Apply(ctx context.Context, winnerID, loserID string) (float64, float64, error) {
	if winnerID == "" || loserID == "" {
		return 0, 0, fmt.Errorf("rating update needs both players (winner=%q loser=%q)", winnerID, loserID)
	}
	w, err := u.Current(ctx, winnerID)
	if err != nil {
		return 0, 0, fmt.Errorf("load winner rating: %w", err)
	}
	l, err := u.Current(ctx, loserID)
	if err != nil {
		return 0, 0, fmt.Errorf("load loser rating: %w", err)
	}
	nw, nl := Elo(w, l)
	if err := u.store.UpdateRating(ctx, winnerID, nw); err != nil {
		return 0, 0, fmt.Errorf("store winner rating: %w", err)
	}
	if err := u.store.UpdateRating(ctx, loserID, nl); err != nil {
		return 0, 0, fmt.Errorf("store loser rating (winner already updated): %w", err)
	}
	obslog.L().Info("rating_update",
		zap.String("winner_id", winnerID),
		zap.Float64("winner_before", w),
		zap.Float64("winner_after", nw),
		zap.String("loser_id", loserID),
		zap.Float64("loser_before", l),
		zap.Float64("loser_after", nl),
	)
	return nw, nl, nil
}

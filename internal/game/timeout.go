package game

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/park285/cheese-connect/internal/board"
	"github.com/park285/cheese-connect/internal/domain"
	"github.com/park285/cheese-connect/internal/metrics"
	"github.com/park285/cheese-connect/internal/obslog"
	"github.com/park285/cheese-connect/internal/store"
)

// SweepTimeouts completes every game of userID whose active player ran out
// of time and returns the games resolved by this call. Games already
// resolved, or resolved concurrently by another sweep, are skipped. A game
// that could not be resolved does not stop the sweep; the first such error
// is returned alongside the games that were.
func (s *Service) SweepTimeouts(ctx context.Context, userID string) ([]*domain.Game, error) {
	games, err := s.store.GamesByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	now := s.now()
	var resolved []*domain.Game
	var firstErr error
	for _, g := range games {
		if !g.Expired(now) {
			continue
		}
		done, err := s.adjudicate(ctx, g.ID, now)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return resolved, err
			}
			obslog.L().Warn("game_timeout_error", zap.String("game_id", g.ID), zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
		}
		if done != nil {
			resolved = append(resolved, done)
		}
	}
	return resolved, firstErr
}

// adjudicate re-checks expiry inside the game scope, so a game that moved or
// finished in the meantime is left alone.
func (s *Service) adjudicate(ctx context.Context, gameID string, now time.Time) (*domain.Game, error) {
	var done *domain.Game
	attempt := func() error {
		done = nil
		return s.store.WithGame(ctx, gameID, func(tx store.GameTx) error {
			g := tx.Game()
			if !g.Expired(now) {
				return nil
			}
			loser := playerFor(g, board.NextPlayer(len(tx.Moves()), false))
			winner := g.Opponent(loser.ID)
			g.IsComplete = true
			g.Winner = domain.TimeoutLabel(winner)
			g.WinnerID = winner.ID
			g.Outcome = domain.OutcomeTimeout
			g.UpdatedAt = now
			done = g
			return tx.UpdateGame(g)
		})
	}
	err := attempt()
	if errors.Is(err, store.ErrConflict) {
		metrics.ObserveConflict("game")
		err = attempt()
		if errors.Is(err, store.ErrConflict) {
			return nil, fmt.Errorf("%w: %v", ErrTransient, err)
		}
	}
	if err != nil || done == nil {
		return nil, err
	}
	obslog.L().Info("game_timeout",
		zap.String("game_id", done.ID),
		zap.String("winner_id", done.WinnerID),
		zap.String("winner", done.Winner),
	)
	return done, s.finish(ctx, done)
}

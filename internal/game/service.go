// Package game runs move submission and timeout adjudication on top of the
// store. All rule checks are re-done inside the store's per-game scope.
package game

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/park285/cheese-connect/internal/board"
	"github.com/park285/cheese-connect/internal/domain"
	"github.com/park285/cheese-connect/internal/metrics"
	"github.com/park285/cheese-connect/internal/obslog"
	"github.com/park285/cheese-connect/internal/rating"
	"github.com/park285/cheese-connect/internal/render"
	"github.com/park285/cheese-connect/internal/store"
)

// DefaultTimeLimit is the historical per-move clock.
const DefaultTimeLimit = 24 * time.Hour

// notifyTimeout bounds one finish notification, including the board render.
const notifyTimeout = 15 * time.Second

type Config struct {
	// RateTimeoutWins applies Elo to games decided by the clock.
	RateTimeoutWins  bool
	DefaultTimeLimit time.Duration
}

type BoardRenderer interface {
	RenderPNG(ctx context.Context, b board.Board, opts render.Options) ([]byte, error)
}

// Notifier is told about finished games. Errors are logged only.
type Notifier interface {
	GameFinished(ctx context.Context, g *domain.Game, image []byte) error
}

type Service struct {
	store    store.Store
	ratings  *rating.Updater
	renderer BoardRenderer
	notifier Notifier
	cfg      Config
	now      func() time.Time
	pending  sync.WaitGroup
}

func NewService(st store.Store, cfg Config) (*Service, error) {
	if st == nil {
		return nil, fmt.Errorf("game store is required")
	}
	if cfg.DefaultTimeLimit <= 0 {
		cfg.DefaultTimeLimit = DefaultTimeLimit
	}
	return &Service{
		store:   st,
		ratings: rating.NewUpdater(st),
		cfg:     cfg,
		now:     func() time.Time { return time.Now().UTC() },
	}, nil
}

func (s *Service) AttachRenderer(r BoardRenderer) { s.renderer = r }
func (s *Service) AttachNotifier(n Notifier)      { s.notifier = n }

// Wait blocks until every finish notification in flight has been delivered
// or given up on.
func (s *Service) Wait() { s.pending.Wait() }

// SetClock replaces the time source.
func (s *Service) SetClock(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

func (s *Service) Config() Config { return s.cfg }

// CreateGame starts a game between two distinct users.
func (s *Service) CreateGame(ctx context.Context, p1, p2 domain.Player, timeLimit time.Duration) (*domain.Game, error) {
	p1.ID, p2.ID = strings.TrimSpace(p1.ID), strings.TrimSpace(p2.ID)
	if p1.ID == "" || p2.ID == "" {
		return nil, fmt.Errorf("%w: both players are required", ErrInvalidArgs)
	}
	if p1.ID == p2.ID {
		return nil, fmt.Errorf("%w: cannot play against yourself", ErrInvalidArgs)
	}
	if timeLimit <= 0 {
		return nil, fmt.Errorf("%w: time limit must be positive", ErrInvalidArgs)
	}
	g := domain.NewGame(p1, p2, timeLimit, s.now())
	if err := s.store.CreateGame(ctx, g); err != nil {
		return nil, fmt.Errorf("create game: %w", err)
	}
	obslog.L().Info("game_create",
		zap.String("game_id", g.ID),
		zap.String("player1_id", g.Player1ID),
		zap.String("player2_id", g.Player2ID),
		zap.Duration("time_limit", g.TimeLimit),
	)
	return g, nil
}

func (s *Service) GetGame(ctx context.Context, gameID string) (*domain.Game, error) {
	return s.store.FetchGame(ctx, gameID)
}

// GameWithMoves returns the game together with its move log in move order.
func (s *Service) GameWithMoves(ctx context.Context, gameID string) (*domain.Game, []domain.Move, error) {
	g, err := s.store.FetchGame(ctx, gameID)
	if err != nil {
		return nil, nil, err
	}
	moves, err := s.store.FetchMoves(ctx, gameID)
	if err != nil {
		return nil, nil, err
	}
	return g, moves, nil
}

// Board reconstructs the grid from the move log.
func (s *Service) Board(ctx context.Context, gameID string) (board.Board, error) {
	moves, err := s.store.FetchMoves(ctx, gameID)
	if err != nil {
		return board.Board{}, err
	}
	return board.Reconstruct(moves), nil
}

// Turn returns the player expected to move, or nil once the game is complete.
func (s *Service) Turn(ctx context.Context, gameID string) (*domain.Player, error) {
	g, err := s.store.FetchGame(ctx, gameID)
	if err != nil {
		return nil, err
	}
	moves, err := s.store.FetchMoves(ctx, gameID)
	if err != nil {
		return nil, err
	}
	cell := board.NextPlayer(len(moves), g.IsComplete)
	if cell == board.Empty {
		return nil, nil
	}
	p := playerFor(g, cell)
	return &p, nil
}

func playerFor(g *domain.Game, c board.Cell) domain.Player {
	if c == board.Player2 {
		return g.Player2()
	}
	return g.Player1()
}

// SubmitMove validates and appends one move. On a lost race the whole
// check-and-append runs once more against fresh state.
func (s *Service) SubmitMove(ctx context.Context, gameID, userID string, row, col int) (*domain.Move, error) {
	userID = strings.TrimSpace(userID)
	var (
		mv       domain.Move
		finished *domain.Game
	)
	attempt := func() error {
		finished = nil
		return s.store.WithGame(ctx, gameID, func(tx store.GameTx) error {
			g := tx.Game()
			moves := tx.Moves()
			if g.IsComplete {
				return ErrGameComplete
			}
			if !g.HasPlayer(userID) {
				return ErrNotParticipant
			}
			expected := board.NextPlayer(len(moves), false)
			if playerFor(g, expected).ID != userID {
				return ErrWrongTurn
			}
			b := board.Reconstruct(moves)
			if err := b.Place(row, col, expected); err != nil {
				return err
			}
			now := s.now()
			mv = domain.Move{
				GameID:    g.ID,
				PlayerID:  userID,
				Row:       row,
				Column:    col,
				Order:     len(moves) + 1,
				CreatedAt: now,
			}
			if err := tx.AppendMove(mv); err != nil {
				return err
			}
			if w := b.Winner(); w != board.Empty {
				winner := playerFor(g, w)
				g.Winner = winner.ID
				g.WinnerID = winner.ID
				g.Outcome = domain.OutcomeFourInRow
				g.IsComplete = true
				finished = g
			}
			g.UpdatedAt = now
			return tx.UpdateGame(g)
		})
	}

	err := attempt()
	if errors.Is(err, store.ErrConflict) {
		metrics.ObserveConflict("game")
		obslog.L().Warn("game_move_conflict", zap.String("game_id", gameID), zap.String("user_id", userID))
		err = attempt()
		if errors.Is(err, store.ErrConflict) {
			metrics.ObserveMove(metrics.MoveFailed)
			return nil, fmt.Errorf("%w: %v", ErrTransient, err)
		}
	}
	if err != nil {
		metrics.ObserveMove(moveResult(err))
		return nil, err
	}
	metrics.ObserveMove(metrics.MoveAccepted)

	obslog.L().Info("game_move",
		zap.String("game_id", gameID),
		zap.String("user_id", userID),
		zap.Int("row", row),
		zap.Int("column", col),
		zap.Int("move_order", mv.Order),
	)
	if finished != nil {
		if err := s.finish(ctx, finished); err != nil {
			return &mv, err
		}
	}
	return &mv, nil
}

// moveResult separates rule rejections from infrastructure failures.
func moveResult(err error) string {
	switch {
	case errors.Is(err, board.ErrIllegalPlacement), errors.Is(err, ErrWrongTurn),
		errors.Is(err, ErrGameComplete), errors.Is(err, store.ErrNotFound):
		return metrics.MoveRejected
	}
	return metrics.MoveFailed
}

// finish runs the post-commit side effects of a completed game.
func (s *Service) finish(ctx context.Context, g *domain.Game) error {
	obslog.L().Info("game_finish",
		zap.String("game_id", g.ID),
		zap.String("winner_id", g.WinnerID),
		zap.String("outcome", string(g.Outcome)),
	)
	metrics.ObserveFinish(string(g.Outcome))
	var rateErr error
	if g.Outcome == domain.OutcomeFourInRow || s.cfg.RateTimeoutWins {
		loser := g.Opponent(g.WinnerID)
		if _, _, err := s.ratings.Apply(ctx, g.WinnerID, loser.ID); err != nil {
			obslog.L().Error("rating_update_error", zap.String("game_id", g.ID), zap.Error(err))
			rateErr = fmt.Errorf("%w: game %s: %v", ErrRatingInconsistent, g.ID, err)
		}
	}
	s.notifyFinished(g)
	return rateErr
}

// notifyFinished posts in the background so a slow bridge never holds up the
// move or sweep that finished the game. The caller's context is not reused
// because it ends with the request.
func (s *Service) notifyFinished(g *domain.Game) {
	if s.notifier == nil {
		return
	}
	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
		defer cancel()
		s.postFinished(ctx, g)
	}()
}

func (s *Service) postFinished(ctx context.Context, g *domain.Game) {
	var img []byte
	if s.renderer != nil {
		if data, err := s.BoardImage(ctx, g.ID); err == nil {
			img = data
		} else {
			obslog.L().Warn("board_render_error", zap.String("game_id", g.ID), zap.Error(err))
		}
	}
	if err := s.notifier.GameFinished(ctx, g, img); err != nil {
		metrics.ObserveNotifyError()
		obslog.L().Warn("notify_error", zap.String("game_id", g.ID), zap.Error(err))
	}
}

// Rating returns the user's current rating, DefaultRating if unrated.
func (s *Service) Rating(ctx context.Context, userID string) (float64, error) {
	return s.ratings.Current(ctx, userID)
}

// BoardImage renders the current board as PNG.
func (s *Service) BoardImage(ctx context.Context, gameID string) ([]byte, error) {
	if s.renderer == nil {
		return nil, fmt.Errorf("board renderer not configured")
	}
	g, err := s.store.FetchGame(ctx, gameID)
	if err != nil {
		return nil, err
	}
	moves, err := s.store.FetchMoves(ctx, gameID)
	if err != nil {
		return nil, err
	}
	b := board.Reconstruct(moves)
	opts := render.Options{
		Title:  fmt.Sprintf("%s vs %s", g.Player1().DisplayName(), g.Player2().DisplayName()),
		Status: statusLine(g, len(moves)),
	}
	if n := len(moves); n > 0 {
		last := moves[n-1]
		for _, m := range moves {
			if m.Order > last.Order {
				last = m
			}
		}
		opts.Highlight = &render.Coord{Row: last.Row, Column: last.Column}
	}
	return s.renderer.RenderPNG(ctx, b, opts)
}

func statusLine(g *domain.Game, moveCount int) string {
	if g.IsComplete {
		if g.Outcome == domain.OutcomeTimeout {
			return g.Winner
		}
		if g.WinnerID != "" {
			w := g.Player1()
			if g.WinnerID == g.Player2ID {
				w = g.Player2()
			}
			return fmt.Sprintf("%s wins", w.DisplayName())
		}
		return "finished"
	}
	p := playerFor(g, board.NextPlayer(moveCount, false))
	return fmt.Sprintf("%s to move", p.DisplayName())
}

// ListGames resolves expired clocks first, then returns the user's games
// most recently updated first.
func (s *Service) ListGames(ctx context.Context, userID string) ([]*domain.Game, error) {
	if _, err := s.SweepTimeouts(ctx, userID); err != nil {
		return nil, err
	}
	games, err := s.store.GamesByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(games, func(i, j int) bool {
		if !games[i].UpdatedAt.Equal(games[j].UpdatedAt) {
			return games[i].UpdatedAt.After(games[j].UpdatedAt)
		}
		return games[i].ID < games[j].ID
	})
	return games, nil
}

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/park285/cheese-connect/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS c4_games (
    id           TEXT PRIMARY KEY,
    player1_id   TEXT NOT NULL,
    player1_name TEXT NOT NULL DEFAULT '',
    player2_id   TEXT NOT NULL,
    player2_name TEXT NOT NULL DEFAULT '',
    winner       TEXT NOT NULL DEFAULT '',
    winner_id    TEXT NOT NULL DEFAULT '',
    outcome      TEXT NOT NULL DEFAULT '',
    is_complete  BOOLEAN NOT NULL DEFAULT FALSE,
    time_limit_s BIGINT NOT NULL,
    created_at   TIMESTAMPTZ NOT NULL,
    updated_at   TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS c4_games_player1_idx ON c4_games (player1_id);
CREATE INDEX IF NOT EXISTS c4_games_player2_idx ON c4_games (player2_id);
CREATE TABLE IF NOT EXISTS c4_moves (
    game_id    TEXT NOT NULL REFERENCES c4_games (id) ON DELETE CASCADE,
    player_id  TEXT NOT NULL,
    row_idx    INTEGER NOT NULL,
    col_idx    INTEGER NOT NULL,
    move_order INTEGER NOT NULL,
    created_at TIMESTAMPTZ NOT NULL,
    UNIQUE (game_id, move_order)
);
CREATE TABLE IF NOT EXISTS c4_queue (
    user_id      TEXT NOT NULL,
    user_name    TEXT NOT NULL DEFAULT '',
    time_limit_s BIGINT NOT NULL,
    joined_at    TIMESTAMPTZ NOT NULL,
    PRIMARY KEY (time_limit_s, user_id)
);
CREATE TABLE IF NOT EXISTS c4_ratings (
    user_id TEXT PRIMARY KEY,
    rating  DOUBLE PRECISION NOT NULL
);
`

const (
	pgUniqueViolation      = "23505"
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
)

type postgresStore struct {
	db *sql.DB
}

// OpenPostgres opens DATABASE_URL, pings it and applies the schema.
func OpenPostgres(ctx context.Context, databaseURL string) (Store, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(8)
	db.SetConnMaxLifetime(30 * time.Minute)
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	s := &postgresStore{db: db}
	if err := s.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Migrate creates the tables when they are missing.
func (s *postgresStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

func (s *postgresStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// mapPQError folds constraint and serialisation failures into store errors.
func mapPQError(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch string(pqErr.Code) {
		case pgUniqueViolation, pgSerializationFailure, pgDeadlockDetected:
			return fmt.Errorf("%w: %s", ErrConflict, pqErr.Message)
		}
	}
	return err
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const gameColumns = `id, player1_id, player1_name, player2_id, player2_name, winner, winner_id, outcome, is_complete, time_limit_s, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanGame(row rowScanner) (*domain.Game, error) {
	var (
		g       domain.Game
		outcome string
		limitS  int64
	)
	err := row.Scan(&g.ID, &g.Player1ID, &g.Player1Name, &g.Player2ID, &g.Player2Name,
		&g.Winner, &g.WinnerID, &outcome, &g.IsComplete, &limitS, &g.CreatedAt, &g.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	g.Outcome = domain.Outcome(outcome)
	g.TimeLimit = time.Duration(limitS) * time.Second
	return &g, nil
}

func insertGame(ctx context.Context, ex execer, g *domain.Game) error {
	_, err := ex.ExecContext(ctx, `INSERT INTO c4_games (`+gameColumns+`)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		g.ID, g.Player1ID, g.Player1Name, g.Player2ID, g.Player2Name,
		g.Winner, g.WinnerID, string(g.Outcome), g.IsComplete,
		int64(g.TimeLimit/time.Second), g.CreatedAt, g.UpdatedAt)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && string(pqErr.Code) == pgUniqueViolation {
		return ErrDuplicate
	}
	return err
}

func loadMoves(ctx context.Context, q querier, gameID string) ([]domain.Move, error) {
	rows, err := q.QueryContext(ctx, `SELECT game_id, player_id, row_idx, col_idx, move_order, created_at
        FROM c4_moves WHERE game_id = $1 ORDER BY move_order`, gameID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Move
	for rows.Next() {
		var mv domain.Move
		if err := rows.Scan(&mv.GameID, &mv.PlayerID, &mv.Row, &mv.Column, &mv.Order, &mv.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, mv)
	}
	return out, rows.Err()
}

func (s *postgresStore) CreateGame(ctx context.Context, g *domain.Game) error {
	if g == nil || strings.TrimSpace(g.ID) == "" {
		return ErrNotFound
	}
	return insertGame(ctx, s.db, g)
}

func (s *postgresStore) FetchGame(ctx context.Context, gameID string) (*domain.Game, error) {
	return scanGame(s.db.QueryRowContext(ctx, `SELECT `+gameColumns+` FROM c4_games WHERE id = $1`, gameID))
}

func (s *postgresStore) FetchMoves(ctx context.Context, gameID string) ([]domain.Move, error) {
	if _, err := s.FetchGame(ctx, gameID); err != nil {
		return nil, err
	}
	return loadMoves(ctx, s.db, gameID)
}

func (s *postgresStore) GamesByUser(ctx context.Context, userID string) ([]*domain.Game, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+gameColumns+` FROM c4_games
        WHERE player1_id = $1 OR player2_id = $1 ORDER BY created_at`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.Game
	for rows.Next() {
		g, err := scanGame(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

// inTx runs fn inside a transaction and commits only when fn succeeds.
func (s *postgresStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return mapPQError(err)
	}
	return mapPQError(tx.Commit())
}

type pgGameTx struct {
	game    *domain.Game
	moves   []domain.Move
	pending []domain.Move
	updated *domain.Game
}

func (tx *pgGameTx) Game() *domain.Game   { return tx.game.Clone() }
func (tx *pgGameTx) Moves() []domain.Move { return append([]domain.Move(nil), tx.moves...) }

func (tx *pgGameTx) AppendMove(mv domain.Move) error {
	if err := checkNextOrder(append(tx.Moves(), tx.pending...), mv); err != nil {
		return err
	}
	tx.pending = append(tx.pending, mv)
	return nil
}

func (tx *pgGameTx) UpdateGame(g *domain.Game) error {
	if g == nil || g.ID != tx.game.ID {
		return ErrNotFound
	}
	tx.updated = g.Clone()
	return nil
}

func (s *postgresStore) WithGame(ctx context.Context, gameID string, fn func(tx GameTx) error) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		g, err := scanGame(tx.QueryRowContext(ctx, `SELECT `+gameColumns+` FROM c4_games WHERE id = $1 FOR UPDATE`, gameID))
		if err != nil {
			return err
		}
		moves, err := loadMoves(ctx, tx, gameID)
		if err != nil {
			return err
		}
		gtx := &pgGameTx{game: g, moves: moves}
		if err := fn(gtx); err != nil {
			return err
		}
		for _, mv := range gtx.pending {
			if _, err := tx.ExecContext(ctx, `INSERT INTO c4_moves (game_id, player_id, row_idx, col_idx, move_order, created_at)
                VALUES ($1,$2,$3,$4,$5,$6)`, mv.GameID, mv.PlayerID, mv.Row, mv.Column, mv.Order, mv.CreatedAt); err != nil {
				return err
			}
		}
		if u := gtx.updated; u != nil {
			if _, err := tx.ExecContext(ctx, `UPDATE c4_games SET winner=$2, winner_id=$3, outcome=$4, is_complete=$5, updated_at=$6
                WHERE id=$1`, u.ID, u.Winner, u.WinnerID, string(u.Outcome), u.IsComplete, u.UpdatedAt); err != nil {
				return err
			}
		}
		return nil
	})
}

type pgBucketTx struct {
	ctx   context.Context
	tx    *sql.Tx
	limit time.Duration
}

func (b *pgBucketTx) TimeLimit() time.Duration { return b.limit }
func (b *pgBucketTx) seconds() int64           { return int64(b.limit / time.Second) }

func scanEntry(row rowScanner) (*domain.QueueEntry, error) {
	var (
		e      domain.QueueEntry
		limitS int64
	)
	err := row.Scan(&e.UserID, &e.UserName, &limitS, &e.JoinedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	e.TimeLimit = time.Duration(limitS) * time.Second
	return &e, nil
}

func (b *pgBucketTx) FetchQueueEntry(userID string) (*domain.QueueEntry, error) {
	return scanEntry(b.tx.QueryRowContext(b.ctx, `SELECT user_id, user_name, time_limit_s, joined_at
        FROM c4_queue WHERE time_limit_s = $1 AND user_id = $2`, b.seconds(), userID))
}

func (b *pgBucketTx) FindOpponent(excludeUser string) (*domain.QueueEntry, error) {
	return scanEntry(b.tx.QueryRowContext(b.ctx, `SELECT user_id, user_name, time_limit_s, joined_at
        FROM c4_queue WHERE time_limit_s = $1 AND user_id <> $2
        ORDER BY joined_at, user_id LIMIT 1`, b.seconds(), excludeUser))
}

func (b *pgBucketTx) InsertQueueEntry(e domain.QueueEntry) error {
	_, err := b.tx.ExecContext(b.ctx, `INSERT INTO c4_queue (user_id, user_name, time_limit_s, joined_at)
        VALUES ($1,$2,$3,$4)`, e.UserID, e.UserName, b.seconds(), e.JoinedAt)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && string(pqErr.Code) == pgUniqueViolation {
		return ErrDuplicate
	}
	return err
}

func (b *pgBucketTx) DeleteQueueEntry(userID string) error {
	res, err := b.tx.ExecContext(b.ctx, `DELETE FROM c4_queue WHERE time_limit_s = $1 AND user_id = $2`, b.seconds(), userID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (b *pgBucketTx) CreateGame(g *domain.Game) error {
	return insertGame(b.ctx, b.tx, g)
}

func (s *postgresStore) WithBucket(ctx context.Context, timeLimit time.Duration, fn func(tx BucketTx) error) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		// one advisory lock per bucket serialises find-and-consume
		if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(timeLimit/time.Second)); err != nil {
			return err
		}
		return fn(&pgBucketTx{ctx: ctx, tx: tx, limit: timeLimit})
	})
}

func (s *postgresStore) QueuedBuckets(ctx context.Context, userID string) ([]time.Duration, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT time_limit_s FROM c4_queue WHERE user_id = $1 ORDER BY time_limit_s`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []time.Duration
	for rows.Next() {
		var n int64
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		out = append(out, time.Duration(n)*time.Second)
	}
	return out, rows.Err()
}

func (s *postgresStore) Rating(ctx context.Context, userID string) (float64, bool, error) {
	var r float64
	err := s.db.QueryRowContext(ctx, `SELECT rating FROM c4_ratings WHERE user_id = $1`, userID).Scan(&r)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return r, true, nil
}

func (s *postgresStore) UpdateRating(ctx context.Context, userID string, rating float64) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO c4_ratings (user_id, rating) VALUES ($1, $2)
        ON CONFLICT (user_id) DO UPDATE SET rating = EXCLUDED.rating`, userID, rating)
	return err
}

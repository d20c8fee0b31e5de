package game

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image/png"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/park285/cheese-connect/internal/board"
	"github.com/park285/cheese-connect/internal/domain"
	"github.com/park285/cheese-connect/internal/metrics"
	"github.com/park285/cheese-connect/internal/render"
	"github.com/park285/cheese-connect/internal/store"
)

var (
	alice = domain.Player{ID: "u-alice", Name: "alice"}
	bob   = domain.Player{ID: "u-bob", Name: "bob"}
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newRedisStore(t *testing.T) store.Store {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	return store.NewRedisStore(redis.NewClient(&redis.Options{Addr: mr.Addr()}), time.Hour)
}

func backends() map[string]func(t *testing.T) store.Store {
	return map[string]func(t *testing.T) store.Store{
		"memory": func(*testing.T) store.Store { return store.NewMemoryStore() },
		"redis":  newRedisStore,
	}
}

func newTestService(t *testing.T, st store.Store, cfg Config) (*Service, *testClock) {
	t.Helper()
	svc, err := NewService(st, cfg)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	clock := &testClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	svc.SetClock(clock.Now)
	return svc, clock
}

type placement struct {
	user     domain.Player
	row, col int
}

// row 3 for alice, row 0 for bob; alice completes (3,0)-(3,3) on move 7
var horizontalWin = []placement{
	{alice, 3, 0}, {bob, 0, 0},
	{alice, 3, 1}, {bob, 0, 1},
	{alice, 3, 2}, {bob, 0, 2},
	{alice, 3, 3},
}

func play(t *testing.T, svc *Service, gameID string, moves []placement) *domain.Move {
	t.Helper()
	var last *domain.Move
	for i, p := range moves {
		mv, err := svc.SubmitMove(context.Background(), gameID, p.user.ID, p.row, p.col)
		if err != nil {
			t.Fatalf("move %d (%s %d,%d): %v", i+1, p.user.ID, p.row, p.col, err)
		}
		if mv.Order != i+1 {
			t.Fatalf("move %d got order %d", i+1, mv.Order)
		}
		last = mv
	}
	return last
}

func TestHorizontalWinCompletesAndRates(t *testing.T) {
	for name, open := range backends() {
		t.Run(name, func(t *testing.T) {
			svc, _ := newTestService(t, open(t), Config{})
			ctx := context.Background()
			g, err := svc.CreateGame(ctx, alice, bob, time.Hour)
			if err != nil {
				t.Fatalf("CreateGame: %v", err)
			}
			play(t, svc, g.ID, horizontalWin)

			got, err := svc.GetGame(ctx, g.ID)
			if err != nil {
				t.Fatalf("GetGame: %v", err)
			}
			if !got.IsComplete || got.Winner != alice.ID || got.WinnerID != alice.ID || got.Outcome != domain.OutcomeFourInRow {
				t.Fatalf("unexpected final state: %+v", got)
			}
			if ra, _ := svc.Rating(ctx, alice.ID); ra != 1216 {
				t.Fatalf("winner rating=%v want 1216", ra)
			}
			if rb, _ := svc.Rating(ctx, bob.ID); rb != 1184 {
				t.Fatalf("loser rating=%v want 1184", rb)
			}
			turn, err := svc.Turn(ctx, g.ID)
			if err != nil || turn != nil {
				t.Fatalf("expected no turn after completion, got %+v err=%v", turn, err)
			}
		})
	}
}

func TestSubmitOnCompleteGameNeverAppends(t *testing.T) {
	for name, open := range backends() {
		t.Run(name, func(t *testing.T) {
			svc, _ := newTestService(t, open(t), Config{})
			ctx := context.Background()
			g, _ := svc.CreateGame(ctx, alice, bob, time.Hour)
			play(t, svc, g.ID, horizontalWin)

			for _, p := range []placement{{bob, 1, 0}, {alice, 1, 0}} {
				if _, err := svc.SubmitMove(ctx, g.ID, p.user.ID, p.row, p.col); !errors.Is(err, ErrGameComplete) {
					t.Fatalf("expected ErrGameComplete, got %v", err)
				}
			}
			b, _ := svc.Board(ctx, g.ID)
			if n := b.Count(); n != len(horizontalWin) {
				t.Fatalf("expected %d pieces, got %d", len(horizontalWin), n)
			}
		})
	}
}

func TestRejectedMovesLeaveNoTrace(t *testing.T) {
	for name, open := range backends() {
		t.Run(name, func(t *testing.T) {
			svc, clock := newTestService(t, open(t), Config{})
			ctx := context.Background()
			g, _ := svc.CreateGame(ctx, alice, bob, time.Hour)
			clock.Advance(time.Minute)

			cases := []struct {
				name string
				user string
				row  int
				col  int
				want error
			}{
				{"wrong turn", bob.ID, 0, 0, ErrWrongTurn},
				{"outsider", "u-carol", 0, 0, ErrNotParticipant},
				{"out of bounds", alice.ID, 8, 0, board.ErrOutOfBounds},
				{"negative", alice.ID, -1, 3, board.ErrOutOfBounds},
				{"floating", alice.ID, 4, 4, board.ErrUnsupported},
			}
			for _, tc := range cases {
				_, err := svc.SubmitMove(ctx, g.ID, tc.user, tc.row, tc.col)
				if !errors.Is(err, tc.want) {
					t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, err)
				}
			}

			got, _ := svc.GetGame(ctx, g.ID)
			if !got.UpdatedAt.Equal(g.UpdatedAt) {
				t.Fatalf("updated_at changed by rejected moves: %v -> %v", g.UpdatedAt, got.UpdatedAt)
			}
			b, _ := svc.Board(ctx, g.ID)
			if b.Count() != 0 {
				t.Fatalf("rejected move was stored")
			}

			if _, err := svc.SubmitMove(ctx, g.ID, alice.ID, 0, 0); err != nil {
				t.Fatalf("first legal move: %v", err)
			}
			if _, err := svc.SubmitMove(ctx, g.ID, bob.ID, 0, 0); !errors.Is(err, board.ErrCellOccupied) {
				t.Fatalf("expected ErrCellOccupied, got %v", err)
			}
			if _, err := svc.SubmitMove(ctx, g.ID, bob.ID, 0, 0); !errors.Is(err, board.ErrIllegalPlacement) {
				t.Fatalf("occupied cell should be an illegal placement, got %v", err)
			}
		})
	}
}

func TestOutsiderIsWrongTurn(t *testing.T) {
	if !errors.Is(ErrNotParticipant, ErrWrongTurn) {
		t.Fatalf("ErrNotParticipant should match ErrWrongTurn")
	}
}

func TestTurnAlternatesAndRestartsClock(t *testing.T) {
	svc, clock := newTestService(t, store.NewMemoryStore(), Config{})
	ctx := context.Background()
	g, _ := svc.CreateGame(ctx, alice, bob, time.Hour)

	want := []domain.Player{alice, bob, alice, bob}
	cells := [][2]int{{0, 0}, {1, 0}, {0, 1}, {1, 1}}
	for i, p := range want {
		turn, err := svc.Turn(ctx, g.ID)
		if err != nil || turn == nil || turn.ID != p.ID {
			t.Fatalf("step %d: expected %s, got %+v err=%v", i, p.ID, turn, err)
		}
		clock.Advance(10 * time.Minute)
		if _, err := svc.SubmitMove(ctx, g.ID, p.ID, cells[i][0], cells[i][1]); err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
		got, _ := svc.GetGame(ctx, g.ID)
		if !got.UpdatedAt.Equal(clock.Now()) {
			t.Fatalf("step %d: updated_at=%v want %v", i, got.UpdatedAt, clock.Now())
		}
	}
}

type failingRatings struct {
	store.Store
}

func (f failingRatings) UpdateRating(ctx context.Context, userID string, r float64) error {
	return errors.New("ratings table unavailable")
}

func TestRatingFailureIsDistinct(t *testing.T) {
	svc, _ := newTestService(t, failingRatings{store.NewMemoryStore()}, Config{})
	ctx := context.Background()
	g, _ := svc.CreateGame(ctx, alice, bob, time.Hour)
	play(t, svc, g.ID, horizontalWin[:6])

	mv, err := svc.SubmitMove(ctx, g.ID, alice.ID, 3, 3)
	if !errors.Is(err, ErrRatingInconsistent) {
		t.Fatalf("expected ErrRatingInconsistent, got %v", err)
	}
	if errors.Is(err, board.ErrIllegalPlacement) || errors.Is(err, ErrWrongTurn) {
		t.Fatalf("rating failure must not look like a validation error: %v", err)
	}
	if mv == nil || mv.Order != 7 {
		t.Fatalf("committed move should be returned, got %+v", mv)
	}
	got, _ := svc.GetGame(ctx, g.ID)
	if !got.IsComplete {
		t.Fatalf("game should stay complete")
	}
}

type conflictingStore struct {
	store.Store
	mu        sync.Mutex
	conflicts int
}

func (c *conflictingStore) WithGame(ctx context.Context, id string, fn func(store.GameTx) error) error {
	c.mu.Lock()
	if c.conflicts > 0 {
		c.conflicts--
		c.mu.Unlock()
		return store.ErrConflict
	}
	c.mu.Unlock()
	return c.Store.WithGame(ctx, id, fn)
}

func TestConflictRetriedOnceThenTransient(t *testing.T) {
	st := &conflictingStore{Store: store.NewMemoryStore()}
	svc, _ := newTestService(t, st, Config{})
	ctx := context.Background()
	g, _ := svc.CreateGame(ctx, alice, bob, time.Hour)

	st.conflicts = 1
	if _, err := svc.SubmitMove(ctx, g.ID, alice.ID, 0, 0); err != nil {
		t.Fatalf("single conflict should be absorbed: %v", err)
	}
	st.conflicts = 2
	_, err := svc.SubmitMove(ctx, g.ID, bob.ID, 1, 0)
	if !errors.Is(err, ErrTransient) {
		t.Fatalf("expected ErrTransient, got %v", err)
	}
	b, _ := svc.Board(ctx, g.ID)
	if b.Count() != 1 {
		t.Fatalf("transient failure must not append, count=%d", b.Count())
	}
}

func TestMoveResultClassifies(t *testing.T) {
	cases := map[error]string{
		board.ErrOutOfBounds:              metrics.MoveRejected,
		ErrNotParticipant:                 metrics.MoveRejected,
		ErrGameComplete:                   metrics.MoveRejected,
		store.ErrNotFound:                 metrics.MoveRejected,
		errors.New("connection reset"):    metrics.MoveFailed,
		fmt.Errorf("%w: x", ErrTransient): metrics.MoveFailed,
	}
	for err, want := range cases {
		if got := moveResult(err); got != want {
			t.Errorf("moveResult(%v) = %s, want %s", err, got, want)
		}
	}
}

func TestConcurrentSubmitsSerialise(t *testing.T) {
	svc, _ := newTestService(t, newRedisStore(t), Config{})
	ctx := context.Background()
	g, _ := svc.CreateGame(ctx, alice, bob, time.Hour)

	var wg sync.WaitGroup
	errs := make([]error, 4)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.SubmitMove(ctx, g.ID, alice.ID, 0, i)
		}(i)
	}
	wg.Wait()

	ok := 0
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ErrWrongTurn), errors.Is(err, ErrTransient):
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	b, _ := svc.Board(ctx, g.ID)
	if ok != 1 || b.Count() != 1 {
		t.Fatalf("expected exactly one accepted move, ok=%d pieces=%d", ok, b.Count())
	}
}

func TestCreateGameValidation(t *testing.T) {
	svc, _ := newTestService(t, store.NewMemoryStore(), Config{})
	ctx := context.Background()
	cases := []struct {
		p1, p2 domain.Player
		limit  time.Duration
	}{
		{alice, alice, time.Hour},
		{domain.Player{}, bob, time.Hour},
		{alice, bob, 0},
		{alice, bob, -time.Minute},
	}
	for i, tc := range cases {
		if _, err := svc.CreateGame(ctx, tc.p1, tc.p2, tc.limit); !errors.Is(err, ErrInvalidArgs) {
			t.Fatalf("case %d: expected ErrInvalidArgs, got %v", i, err)
		}
	}
}

type recordingNotifier struct {
	mu    sync.Mutex
	games []*domain.Game
	image []byte
}

func (r *recordingNotifier) GameFinished(ctx context.Context, g *domain.Game, image []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.games = append(r.games, g)
	r.image = image
	return errors.New("bridge down")
}

func TestFinishedGameNotifiesWithImage(t *testing.T) {
	svc, _ := newTestService(t, store.NewMemoryStore(), Config{})
	n := &recordingNotifier{}
	svc.AttachRenderer(render.NewRenderer())
	svc.AttachNotifier(n)
	ctx := context.Background()
	g, _ := svc.CreateGame(ctx, alice, bob, time.Hour)
	play(t, svc, g.ID, horizontalWin)
	svc.Wait()

	if len(n.games) != 1 || n.games[0].WinnerID != alice.ID {
		t.Fatalf("expected one finish notification, got %+v", n.games)
	}
	if _, err := png.Decode(bytes.NewReader(n.image)); err != nil {
		t.Fatalf("notification image: %v", err)
	}
}

type stalledNotifier struct {
	release chan struct{}
	done    chan error
}

func (n *stalledNotifier) GameFinished(ctx context.Context, g *domain.Game, image []byte) error {
	select {
	case <-n.release:
	case <-ctx.Done():
	}
	n.done <- ctx.Err()
	return nil
}

func TestWinningMoveDoesNotWaitForNotifier(t *testing.T) {
	svc, _ := newTestService(t, store.NewMemoryStore(), Config{})
	n := &stalledNotifier{release: make(chan struct{}), done: make(chan error, 1)}
	svc.AttachNotifier(n)
	ctx, cancel := context.WithCancel(context.Background())
	g, _ := svc.CreateGame(ctx, alice, bob, time.Hour)

	finished := make(chan error, 1)
	go func() {
		for _, p := range horizontalWin {
			if _, err := svc.SubmitMove(ctx, g.ID, p.user.ID, p.row, p.col); err != nil {
				finished <- err
				return
			}
		}
		finished <- nil
	}()
	select {
	case err := <-finished:
		if err != nil {
			t.Fatalf("SubmitMove: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("winning move blocked on the notifier")
	}

	// the request context ending must not cut the notification short
	cancel()
	close(n.release)
	svc.Wait()
	if err := <-n.done; err != nil {
		t.Fatalf("notification context ended early: %v", err)
	}
	stored, _ := svc.GetGame(context.Background(), g.ID)
	if !stored.IsComplete || stored.WinnerID != alice.ID {
		t.Fatalf("unexpected game %+v", stored)
	}
}

func TestBoardImageWithoutRenderer(t *testing.T) {
	svc, _ := newTestService(t, store.NewMemoryStore(), Config{})
	g, _ := svc.CreateGame(context.Background(), alice, bob, time.Hour)
	if _, err := svc.BoardImage(context.Background(), g.ID); err == nil {
		t.Fatalf("expected error without renderer")
	}
}

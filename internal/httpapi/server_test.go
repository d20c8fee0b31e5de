package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"image/png"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttputil"

	"github.com/park285/cheese-connect/internal/domain"
	"github.com/park285/cheese-connect/internal/game"
	"github.com/park285/cheese-connect/internal/matchmaking"
	"github.com/park285/cheese-connect/internal/msgcat"
	"github.com/park285/cheese-connect/internal/render"
	"github.com/park285/cheese-connect/internal/store"
	"github.com/park285/cheese-connect/pkg/gamedto"
)

type testAPI struct {
	t      *testing.T
	client *fasthttp.Client
	store  store.Store
}

func newTestAPI(t *testing.T, opts ...func(*Server)) *testAPI {
	t.Helper()
	st := store.NewMemoryStore()
	games, err := game.NewService(st, game.Config{})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	games.AttachRenderer(render.NewRenderer())
	msgs, err := msgcat.New("")
	if err != nil {
		t.Fatalf("msgcat: %v", err)
	}
	srv := NewServer(games, matchmaking.NewQueue(st), msgs)
	for _, opt := range opts {
		opt(srv)
	}
	t.Cleanup(srv.Close)

	ln := fasthttputil.NewInmemoryListener()
	t.Cleanup(func() { _ = ln.Close() })
	go func() { _ = fasthttp.Serve(ln, srv.Handler()) }()
	return &testAPI{t: t, store: st, client: &fasthttp.Client{Dial: func(string) (net.Conn, error) { return ln.Dial() }}}
}

func (a *testAPI) do(method, path, user, body string) (int, []byte) {
	a.t.Helper()
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)
	req.Header.SetMethod(method)
	req.SetRequestURI("http://api.test" + path)
	if user != "" {
		req.Header.Set(headerUserID, user)
		req.Header.Set(headerUserName, "name-"+user)
	}
	if body != "" {
		req.Header.SetContentType("application/json")
		req.SetBodyString(body)
	}
	if err := a.client.DoTimeout(req, resp, 5*time.Second); err != nil {
		a.t.Fatalf("%s %s: %v", method, path, err)
	}
	return resp.StatusCode(), append([]byte(nil), resp.Body()...)
}

func decodeInto[T any](t *testing.T, raw []byte) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		t.Fatalf("decode %s: %v", raw, err)
	}
	return v
}

func TestPing(t *testing.T) {
	a := newTestAPI(t)
	status, body := a.do(fasthttp.MethodGet, "/ping", "", "")
	if status != fasthttp.StatusOK || string(body) != "pong" {
		t.Fatalf("ping: %d %s", status, body)
	}
}

func TestGameFlowOverHTTP(t *testing.T) {
	a := newTestAPI(t)

	status, body := a.do(fasthttp.MethodPost, "/api/games", "alice", `{"opponent_id":"bob","opponent_name":"Bob"}`)
	if status != fasthttp.StatusCreated {
		t.Fatalf("create: %d %s", status, body)
	}
	g := decodeInto[gamedto.Game](t, body)
	if g.Player1.ID != "alice" || g.Player2.Name != "Bob" || g.TimeLimitSeconds != 86400 {
		t.Fatalf("unexpected game %+v", g)
	}

	status, body = a.do(fasthttp.MethodGet, "/api/games/"+g.ID+"/turn", "", "")
	turn := decodeInto[gamedto.Turn](t, body)
	if status != fasthttp.StatusOK || turn.Player == nil || turn.Player.ID != "alice" {
		t.Fatalf("turn: %d %s", status, body)
	}

	status, body = a.do(fasthttp.MethodPost, "/api/games/"+g.ID+"/moves", "bob", `{"row":0,"column":0}`)
	derr := decodeInto[gamedto.DomainError](t, body)
	if status != fasthttp.StatusBadRequest || derr.Code != gamedto.CodeWrongTurn || derr.Message != "It is not your turn." {
		t.Fatalf("wrong turn: %d %s", status, body)
	}

	status, body = a.do(fasthttp.MethodPost, "/api/games/"+g.ID+"/moves", "alice", `{"row":9,"column":1}`)
	derr = decodeInto[gamedto.DomainError](t, body)
	if status != fasthttp.StatusBadRequest || derr.Code != gamedto.CodeOutOfBounds {
		t.Fatalf("out of bounds: %d %s", status, body)
	}

	status, body = a.do(fasthttp.MethodPost, "/api/games/"+g.ID+"/moves", "alice", `{"row":4,"column":4}`)
	derr = decodeInto[gamedto.DomainError](t, body)
	if status != fasthttp.StatusBadRequest || derr.Code != gamedto.CodeIllegalPlacement {
		t.Fatalf("unsupported: %d %s", status, body)
	}

	status, body = a.do(fasthttp.MethodPost, "/api/games/"+g.ID+"/moves", "alice", `{"row":0}`)
	if status != fasthttp.StatusBadRequest {
		t.Fatalf("missing column: %d %s", status, body)
	}

	status, body = a.do(fasthttp.MethodPost, "/api/games/"+g.ID+"/moves", "alice", `{"row":0,"column":0}`)
	mv := decodeInto[gamedto.Move](t, body)
	if status != fasthttp.StatusCreated || mv.MoveOrder != 1 || mv.PlayerID != "alice" {
		t.Fatalf("move: %d %s", status, body)
	}

	status, body = a.do(fasthttp.MethodGet, "/api/games/"+g.ID+"/board", "", "")
	b := decodeInto[gamedto.Board](t, body)
	if status != fasthttp.StatusOK || len(b.Cells) != 8 || b.Cells[0][0] != 1 {
		t.Fatalf("board: %d %s", status, body)
	}

	status, body = a.do(fasthttp.MethodGet, "/api/games/"+g.ID+"/board.png", "", "")
	if status != fasthttp.StatusOK {
		t.Fatalf("board.png: %d", status)
	}
	if _, err := png.Decode(bytes.NewReader(body)); err != nil {
		t.Fatalf("board.png decode: %v", err)
	}

	status, body = a.do(fasthttp.MethodGet, "/api/games", "bob", "")
	list := decodeInto[[]gamedto.Game](t, body)
	if status != fasthttp.StatusOK || len(list) != 1 || list[0].ID != g.ID {
		t.Fatalf("list: %d %s", status, body)
	}

	status, body = a.do(fasthttp.MethodGet, "/api/users/alice/rating", "", "")
	r := decodeInto[gamedto.Rating](t, body)
	if status != fasthttp.StatusOK || r.Rating != 1200 {
		t.Fatalf("rating: %d %s", status, body)
	}
}

func TestGameViewListsMovesWithAuthors(t *testing.T) {
	a := newTestAPI(t)
	ctx := context.Background()
	alice := domain.Player{ID: "alice", Name: "Alice"}
	g := domain.NewGame(alice, domain.Player{}, time.Hour, time.Now())
	if err := a.store.CreateGame(ctx, g); err != nil {
		t.Fatalf("CreateGame: %v", err)
	}
	err := a.store.WithGame(ctx, g.ID, func(tx store.GameTx) error {
		if err := tx.AppendMove(domain.Move{GameID: g.ID, PlayerID: alice.ID, Row: 0, Column: 0, Order: 1}); err != nil {
			return err
		}
		// the second seat's user record is gone
		return tx.AppendMove(domain.Move{GameID: g.ID, Row: 0, Column: 1, Order: 2})
	})
	if err != nil {
		t.Fatalf("seed moves: %v", err)
	}

	status, body := a.do(fasthttp.MethodGet, "/api/games/"+g.ID, "", "")
	view := decodeInto[gamedto.Game](t, body)
	if status != fasthttp.StatusOK || len(view.Moves) != 2 {
		t.Fatalf("game: %d %s", status, body)
	}
	first, second := view.Moves[0], view.Moves[1]
	if first.MoveOrder != 1 || first.PlayerID != "alice" || first.PlayerName != "Alice" || first.Row != 0 || first.Column != 0 {
		t.Fatalf("unexpected first move %+v", first)
	}
	if second.MoveOrder != 2 || second.PlayerID != "" || second.PlayerName != domain.DeletedUserLabel || second.Column != 1 {
		t.Fatalf("unexpected second move %+v", second)
	}

}

func TestMissingGameAndIdentity(t *testing.T) {
	a := newTestAPI(t)
	status, body := a.do(fasthttp.MethodGet, "/api/games/nope", "", "")
	if status != fasthttp.StatusNotFound || decodeInto[gamedto.DomainError](t, body).Code != gamedto.CodeNotFound {
		t.Fatalf("missing game: %d %s", status, body)
	}
	status, _ = a.do(fasthttp.MethodGet, "/api/games", "", "")
	if status != fasthttp.StatusUnauthorized {
		t.Fatalf("expected 401 without user header, got %d", status)
	}
	status, _ = a.do(fasthttp.MethodPut, "/api/games", "alice", "")
	if status != fasthttp.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", status)
	}
	status, body = a.do(fasthttp.MethodPost, "/api/games", "alice", `{"opponent_id":"alice"}`)
	if status != fasthttp.StatusBadRequest || decodeInto[gamedto.DomainError](t, body).Code != gamedto.CodeInvalidArgs {
		t.Fatalf("self play: %d %s", status, body)
	}
	status, _ = a.do(fasthttp.MethodPost, "/api/games", "alice", `{not json`)
	if status != fasthttp.StatusBadRequest {
		t.Fatalf("bad json: %d", status)
	}
}

func TestMatchmakingOverHTTP(t *testing.T) {
	a := newTestAPI(t)

	status, body := a.do(fasthttp.MethodPost, "/api/matchmaking", "w", `{"time_limit_days":2}`)
	jr := decodeInto[gamedto.JoinResponse](t, body)
	if status != fasthttp.StatusAccepted || !jr.Queued || jr.Message != "Waiting for an opponent (2-day moves)." {
		t.Fatalf("queue: %d %s", status, body)
	}

	status, body = a.do(fasthttp.MethodPost, "/api/matchmaking", "w", `{"time_limit_days":2}`)
	derr := decodeInto[gamedto.DomainError](t, body)
	if status != fasthttp.StatusBadRequest || derr.Code != gamedto.CodeAlreadyQueued || derr.Message != "You are already waiting for a 2-day game." {
		t.Fatalf("already queued: %d %s", status, body)
	}

	status, body = a.do(fasthttp.MethodGet, "/api/matchmaking", "w", "")
	qs := decodeInto[gamedto.QueueStatus](t, body)
	if status != fasthttp.StatusOK || len(qs.TimeLimitDays) != 1 || qs.TimeLimitDays[0] != 2 {
		t.Fatalf("status: %d %s", status, body)
	}

	status, body = a.do(fasthttp.MethodPost, "/api/matchmaking", "j", `{"time_limit_days":2}`)
	jr = decodeInto[gamedto.JoinResponse](t, body)
	if status != fasthttp.StatusCreated || jr.Game == nil || jr.Game.Player1.ID != "w" || jr.Game.Player2.ID != "j" {
		t.Fatalf("match: %d %s", status, body)
	}

	status, body = a.do(fasthttp.MethodDelete, "/api/matchmaking?time_limit_days=2", "w", "")
	derr = decodeInto[gamedto.DomainError](t, body)
	if status != fasthttp.StatusBadRequest || derr.Code != gamedto.CodeNotQueued {
		t.Fatalf("leave after match: %d %s", status, body)
	}

	if status, body = a.do(fasthttp.MethodPost, "/api/matchmaking", "x", ""); status != fasthttp.StatusAccepted {
		t.Fatalf("default bucket: %d %s", status, body)
	}
	if status, body = a.do(fasthttp.MethodDelete, "/api/matchmaking", "x", `{"time_limit_days":1}`); status != fasthttp.StatusOK {
		t.Fatalf("leave: %d %s", status, body)
	}
}

func TestRateLimitPerCaller(t *testing.T) {
	a := newTestAPI(t, func(s *Server) { s.EnableRateLimit(0.001, 2) })
	for i := 0; i < 2; i++ {
		if status, _ := a.do(fasthttp.MethodGet, "/api/matchmaking", "u1", ""); status != fasthttp.StatusOK {
			t.Fatalf("request %d status=%d", i+1, status)
		}
	}
	status, body := a.do(fasthttp.MethodGet, "/api/matchmaking", "u1", "")
	if status != fasthttp.StatusTooManyRequests {
		t.Fatalf("third request status=%d", status)
	}
	if e := decodeInto[gamedto.DomainError](t, body); e.Code != gamedto.CodeRateLimited || !e.Retryable {
		t.Fatalf("unexpected body %+v", e)
	}
	if status, _ := a.do(fasthttp.MethodGet, "/api/matchmaking", "u2", ""); status != fasthttp.StatusOK {
		t.Fatalf("other caller limited: %d", status)
	}
	if status, _ := a.do(fasthttp.MethodGet, "/ping", "u1", ""); status != fasthttp.StatusOK {
		t.Fatalf("ping must bypass the limiter: %d", status)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	a := newTestAPI(t)
	a.do(fasthttp.MethodGet, "/api/games/nope", "", "")
	status, body := a.do(fasthttp.MethodGet, "/metrics", "", "")
	if status != fasthttp.StatusOK {
		t.Fatalf("status=%d", status)
	}
	if !strings.Contains(string(body), `route="/api/games/{id}"`) {
		t.Fatalf("scrape lacks templated route:\n%s", body)
	}
}

func TestRouteLabel(t *testing.T) {
	cases := map[string]string{
		"/ping":                    "/ping",
		"/api/games":               "/api/games",
		"/api/games/abc":           "/api/games/{id}",
		"/api/games/abc/board.png": "/api/games/{id}/board.png",
		"/api/users/u1/rating":     "/api/users/{id}/rating",
		"/wp-login.php":            "other",
	}
	for in, want := range cases {
		if got := routeLabel(in); got != want {
			t.Errorf("routeLabel(%q) = %q, want %q", in, got, want)
		}
	}
}

// Package httpapi exposes the game core over HTTP. Authentication happens
// upstream; the caller is identified by the X-User-Id and X-User-Name headers.
package httpapi

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/park285/cheese-connect/internal/domain"
	"github.com/park285/cheese-connect/internal/game"
	"github.com/park285/cheese-connect/internal/matchmaking"
	"github.com/park285/cheese-connect/internal/metrics"
	"github.com/park285/cheese-connect/internal/msgcat"
	"github.com/park285/cheese-connect/internal/notify"
	"github.com/park285/cheese-connect/internal/obslog"
	"github.com/park285/cheese-connect/pkg/gamedto"
)

const (
	headerUserID   = "X-User-Id"
	headerUserName = "X-User-Name"
)

type Server struct {
	games   *game.Service
	queue   *matchmaking.Queue
	msgs    *msgcat.Catalog
	now     func() time.Time
	limiter *limiter
	metrics fasthttp.RequestHandler
}

func NewServer(games *game.Service, queue *matchmaking.Queue, msgs *msgcat.Catalog) *Server {
	return &Server{games: games, queue: queue, msgs: msgs, now: time.Now, metrics: metrics.Handler()}
}

// EnableRateLimit caps each caller (user id, or remote IP without one) at
// rps requests per second. Call Close to stop the idle-bucket collector.
func (s *Server) EnableRateLimit(rps float64, burst int) {
	if rps <= 0 {
		return
	}
	if burst < 1 {
		burst = 1
	}
	s.limiter = newLimiter(rate.Limit(rps), burst, 2*time.Minute)
	go s.limiter.gc(30 * time.Second)
}

func (s *Server) Close() {
	if s.limiter != nil {
		s.limiter.close()
	}
}

// Handler returns the routed handler wrapped with rate limiting, request
// logging and request metrics.
func (s *Server) Handler() fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		start := time.Now()
		if s.limited(ctx) {
			writeJSON(ctx, fasthttp.StatusTooManyRequests, gamedto.DomainError{
				Code:      gamedto.CodeRateLimited,
				Message:   s.msgs.Text("errors.rate_limited", nil, "too many requests"),
				Retryable: true,
			})
		} else {
			s.route(ctx)
		}
		elapsed := time.Since(start)
		metrics.ObserveRequest(string(ctx.Method()), routeLabel(string(ctx.Path())), ctx.Response.StatusCode(), elapsed)
		obslog.L().Info("http_request",
			zap.ByteString("method", ctx.Method()),
			zap.ByteString("path", ctx.Path()),
			zap.Int("status", ctx.Response.StatusCode()),
			zap.Duration("elapsed", elapsed),
		)
	}
}

func (s *Server) limited(ctx *fasthttp.RequestCtx) bool {
	if s.limiter == nil {
		return false
	}
	switch string(ctx.Path()) {
	case "/ping", "/metrics":
		return false
	}
	key := caller(ctx).ID
	if key == "" {
		key = "ip:" + clientIP(ctx.RemoteAddr())
	}
	return !s.limiter.allow(key)
}

// routeLabel replaces identifiers in a path so metric cardinality stays bounded.
func routeLabel(path string) string {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	switch {
	case len(parts) >= 3 && parts[0] == "api" && parts[1] == "games":
		parts[2] = "{id}"
	case len(parts) == 4 && parts[0] == "api" && parts[1] == "users":
		parts[2] = "{id}"
	}
	switch parts[0] {
	case "api", "ping", "metrics", "":
		return "/" + strings.Join(parts, "/")
	}
	return "other"
}

func (s *Server) route(ctx *fasthttp.RequestCtx) {
	path := strings.Trim(string(ctx.Path()), "/")
	parts := strings.Split(path, "/")
	method := string(ctx.Method())

	switch {
	case path == "ping":
		ctx.SetStatusCode(fasthttp.StatusOK)
		ctx.SetBodyString("pong")
	case path == "metrics":
		s.onlyGet(ctx, method, func() { s.metrics(ctx) })
	case path == "api/games":
		switch method {
		case fasthttp.MethodPost:
			s.createGame(ctx)
		case fasthttp.MethodGet:
			s.listGames(ctx)
		default:
			methodNotAllowed(ctx)
		}
	case len(parts) == 3 && parts[0] == "api" && parts[1] == "games":
		s.onlyGet(ctx, method, func() { s.getGame(ctx, parts[2]) })
	case len(parts) == 4 && parts[0] == "api" && parts[1] == "games":
		id := parts[2]
		switch parts[3] {
		case "board":
			s.onlyGet(ctx, method, func() { s.getBoard(ctx, id) })
		case "board.png":
			s.onlyGet(ctx, method, func() { s.getBoardImage(ctx, id) })
		case "turn":
			s.onlyGet(ctx, method, func() { s.getTurn(ctx, id) })
		case "moves":
			if method != fasthttp.MethodPost {
				methodNotAllowed(ctx)
				return
			}
			s.submitMove(ctx, id)
		default:
			notFound(ctx)
		}
	case len(parts) == 4 && parts[0] == "api" && parts[1] == "users" && parts[3] == "rating":
		s.onlyGet(ctx, method, func() { s.getRating(ctx, parts[2]) })
	case path == "api/matchmaking":
		switch method {
		case fasthttp.MethodPost:
			s.joinQueue(ctx)
		case fasthttp.MethodGet:
			s.queueStatus(ctx)
		case fasthttp.MethodDelete:
			s.leaveQueue(ctx)
		default:
			methodNotAllowed(ctx)
		}
	default:
		notFound(ctx)
	}
}

func (s *Server) onlyGet(ctx *fasthttp.RequestCtx, method string, fn func()) {
	if method != fasthttp.MethodGet {
		methodNotAllowed(ctx)
		return
	}
	fn()
}

func caller(ctx *fasthttp.RequestCtx) domain.Player {
	return domain.Player{
		ID:   strings.TrimSpace(string(ctx.Request.Header.Peek(headerUserID))),
		Name: strings.TrimSpace(string(ctx.Request.Header.Peek(headerUserName))),
	}
}

// requireCaller writes 401 and returns false when no user header is present.
func (s *Server) requireCaller(ctx *fasthttp.RequestCtx) (domain.Player, bool) {
	p := caller(ctx)
	if p.ID == "" {
		writeJSON(ctx, fasthttp.StatusUnauthorized, gamedto.DomainError{
			Code:    gamedto.CodeInvalidArgs,
			Message: headerUserID + " header is required",
		})
		return p, false
	}
	return p, true
}

func (s *Server) createGame(ctx *fasthttp.RequestCtx) {
	me, ok := s.requireCaller(ctx)
	if !ok {
		return
	}
	var req gamedto.CreateGameRequest
	if !s.decode(ctx, &req) {
		return
	}
	limit, err := s.timeLimit(req.TimeLimitDays)
	if err != nil {
		s.fail(ctx, err, nil)
		return
	}
	g, err := s.games.CreateGame(ctx, me, domain.Player{ID: req.OpponentID, Name: req.OpponentName}, limit)
	if err != nil {
		s.fail(ctx, err, nil)
		return
	}
	writeJSON(ctx, fasthttp.StatusCreated, s.gameView(g))
}

func (s *Server) listGames(ctx *fasthttp.RequestCtx) {
	me, ok := s.requireCaller(ctx)
	if !ok {
		return
	}
	games, err := s.games.ListGames(ctx, me.ID)
	if err != nil {
		s.fail(ctx, err, nil)
		return
	}
	out := make([]gamedto.Game, 0, len(games))
	for _, g := range games {
		out = append(out, s.gameView(g))
	}
	writeJSON(ctx, fasthttp.StatusOK, out)
}

func (s *Server) getGame(ctx *fasthttp.RequestCtx, id string) {
	g, moves, err := s.games.GameWithMoves(ctx, id)
	if err != nil {
		s.fail(ctx, err, nil)
		return
	}
	view := s.gameView(g)
	view.Moves = make([]gamedto.Move, 0, len(moves))
	for _, mv := range moves {
		view.Moves = append(view.Moves, moveView(g.Participant(mv.PlayerID), mv))
	}
	writeJSON(ctx, fasthttp.StatusOK, view)
}

func (s *Server) getBoard(ctx *fasthttp.RequestCtx, id string) {
	b, err := s.games.Board(ctx, id)
	if err != nil {
		s.fail(ctx, err, nil)
		return
	}
	writeJSON(ctx, fasthttp.StatusOK, gamedto.Board{GameID: id, Cells: b.Grid()})
}

func (s *Server) getBoardImage(ctx *fasthttp.RequestCtx, id string) {
	data, err := s.games.BoardImage(ctx, id)
	if err != nil {
		s.fail(ctx, err, nil)
		return
	}
	ctx.SetStatusCode(fasthttp.StatusOK)
	ctx.SetContentType("image/png")
	ctx.SetBody(data)
}

func (s *Server) getTurn(ctx *fasthttp.RequestCtx, id string) {
	p, err := s.games.Turn(ctx, id)
	if err != nil {
		s.fail(ctx, err, nil)
		return
	}
	out := gamedto.Turn{GameID: id}
	if p != nil {
		out.Player = &gamedto.Player{ID: p.ID, Name: p.DisplayName()}
	}
	writeJSON(ctx, fasthttp.StatusOK, out)
}

func (s *Server) submitMove(ctx *fasthttp.RequestCtx, id string) {
	me, ok := s.requireCaller(ctx)
	if !ok {
		return
	}
	var req gamedto.MoveRequest
	if !s.decode(ctx, &req) {
		return
	}
	if req.Row == nil || req.Column == nil {
		s.fail(ctx, fmt.Errorf("%w: row and column are required", game.ErrInvalidArgs), nil)
		return
	}
	mv, err := s.games.SubmitMove(ctx, id, me.ID, *req.Row, *req.Column)
	if err != nil {
		s.fail(ctx, err, errorContext{"Row": *req.Row, "Column": *req.Column})
		return
	}
	writeJSON(ctx, fasthttp.StatusCreated, moveView(me, *mv))
}

func (s *Server) getRating(ctx *fasthttp.RequestCtx, userID string) {
	r, err := s.games.Rating(ctx, userID)
	if err != nil {
		s.fail(ctx, err, nil)
		return
	}
	writeJSON(ctx, fasthttp.StatusOK, gamedto.Rating{UserID: userID, Rating: r})
}

func (s *Server) joinQueue(ctx *fasthttp.RequestCtx) {
	me, ok := s.requireCaller(ctx)
	if !ok {
		return
	}
	var req gamedto.QueueRequest
	if !s.decode(ctx, &req) {
		return
	}
	limit, err := s.timeLimit(req.TimeLimitDays)
	if err != nil {
		s.fail(ctx, err, nil)
		return
	}
	days := errorContext{"Days": notify.FormatDays(limit)}
	res, err := s.queue.Join(ctx, me, limit)
	if err != nil {
		s.fail(ctx, err, days)
		return
	}
	if res.Matched() {
		g := s.gameView(res.Game)
		writeJSON(ctx, fasthttp.StatusCreated, gamedto.JoinResponse{Game: &g})
		return
	}
	writeJSON(ctx, fasthttp.StatusAccepted, gamedto.JoinResponse{
		Queued:  true,
		Message: s.msgs.Text("queue.waiting", map[string]any(days), "queued"),
	})
}

func (s *Server) leaveQueue(ctx *fasthttp.RequestCtx) {
	me, ok := s.requireCaller(ctx)
	if !ok {
		return
	}
	var req gamedto.QueueRequest
	if v := ctx.QueryArgs().Peek("time_limit_days"); len(v) > 0 {
		f, err := fasthttp.ParseUfloat(v)
		if err != nil {
			s.fail(ctx, fmt.Errorf("%w: time_limit_days must be a number", matchmaking.ErrInvalidArgs), nil)
			return
		}
		req.TimeLimitDays = f
	} else if len(ctx.PostBody()) > 0 && !s.decode(ctx, &req) {
		return
	}
	limit, err := s.timeLimit(req.TimeLimitDays)
	if err != nil {
		s.fail(ctx, err, nil)
		return
	}
	days := errorContext{"Days": notify.FormatDays(limit)}
	if err := s.queue.Leave(ctx, me.ID, limit); err != nil {
		s.fail(ctx, err, days)
		return
	}
	writeJSON(ctx, fasthttp.StatusOK, map[string]string{
		"message": s.msgs.Text("queue.left", map[string]any(days), "left"),
	})
}

func (s *Server) queueStatus(ctx *fasthttp.RequestCtx) {
	me, ok := s.requireCaller(ctx)
	if !ok {
		return
	}
	buckets, err := s.queue.Status(ctx, me.ID)
	if err != nil {
		s.fail(ctx, err, nil)
		return
	}
	out := gamedto.QueueStatus{TimeLimitDays: make([]float64, 0, len(buckets))}
	for _, b := range buckets {
		out.TimeLimitDays = append(out.TimeLimitDays, b.Hours()/24)
	}
	writeJSON(ctx, fasthttp.StatusOK, out)
}

// timeLimit converts days to a whole-second duration; zero selects the default.
func (s *Server) timeLimit(days float64) (time.Duration, error) {
	if days == 0 {
		return s.games.Config().DefaultTimeLimit, nil
	}
	if days < 0 || math.IsNaN(days) || math.IsInf(days, 0) {
		return 0, fmt.Errorf("%w: time_limit_days must be positive", game.ErrInvalidArgs)
	}
	seconds := math.Round(days * 24 * 3600)
	if seconds < 1 || seconds > matchmaking.MaxTimeLimit.Seconds() {
		return 0, fmt.Errorf("%w: time_limit_days out of range", game.ErrInvalidArgs)
	}
	return time.Duration(seconds) * time.Second, nil
}

func moveView(author domain.Player, mv domain.Move) gamedto.Move {
	return gamedto.Move{
		GameID:     mv.GameID,
		PlayerID:   mv.PlayerID,
		PlayerName: author.DisplayName(),
		Row:        mv.Row,
		Column:     mv.Column,
		MoveOrder:  mv.Order,
		CreatedAt:  mv.CreatedAt,
	}
}

func (s *Server) gameView(g *domain.Game) gamedto.Game {
	return gamedto.Game{
		ID:                   g.ID,
		Player1:              gamedto.Player{ID: g.Player1ID, Name: g.Player1().DisplayName()},
		Player2:              gamedto.Player{ID: g.Player2ID, Name: g.Player2().DisplayName()},
		Winner:               g.Winner,
		WinnerID:             g.WinnerID,
		Outcome:              string(g.Outcome),
		IsComplete:           g.IsComplete,
		TimeLimitSeconds:     int64(g.TimeLimit / time.Second),
		TimeRemainingSeconds: int64(g.TimeRemaining(s.now()) / time.Second),
		CreatedAt:            g.CreatedAt,
		UpdatedAt:            g.UpdatedAt,
	}
}

func (s *Server) decode(ctx *fasthttp.RequestCtx, v any) bool {
	body := ctx.PostBody()
	if len(body) == 0 {
		return true
	}
	if err := json.Unmarshal(body, v); err != nil {
		s.fail(ctx, fmt.Errorf("%w: malformed JSON body", game.ErrInvalidArgs), errorContext{"Detail": "malformed JSON body"})
		return false
	}
	return true
}

func (s *Server) fail(ctx *fasthttp.RequestCtx, err error, data errorContext) {
	status, body := toDomainError(s.msgs, err, data)
	writeJSON(ctx, status, body)
}

func writeJSON(ctx *fasthttp.RequestCtx, status int, v any) {
	raw, err := json.Marshal(v)
	if err != nil {
		ctx.Error(`{"code":"internal","message":"encode response"}`, fasthttp.StatusInternalServerError)
		return
	}
	ctx.SetStatusCode(status)
	ctx.SetContentType("application/json")
	ctx.SetBody(raw)
}

func notFound(ctx *fasthttp.RequestCtx) {
	writeJSON(ctx, fasthttp.StatusNotFound, gamedto.DomainError{Code: gamedto.CodeNotFound, Message: "no such route"})
}

func methodNotAllowed(ctx *fasthttp.RequestCtx) {
	writeJSON(ctx, fasthttp.StatusMethodNotAllowed, gamedto.DomainError{Code: gamedto.CodeInvalidArgs, Message: "method not allowed"})
}

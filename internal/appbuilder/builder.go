// Package appbuilder wires configuration into the store, services and HTTP server.
package appbuilder

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/park285/cheese-connect/internal/config"
	"github.com/park285/cheese-connect/internal/game"
	"github.com/park285/cheese-connect/internal/httpapi"
	"github.com/park285/cheese-connect/internal/matchmaking"
	"github.com/park285/cheese-connect/internal/msgcat"
	"github.com/park285/cheese-connect/internal/notify"
	"github.com/park285/cheese-connect/internal/obslog"
	"github.com/park285/cheese-connect/internal/render"
	"github.com/park285/cheese-connect/internal/store"
)

type Deps struct {
	Store    store.Store
	Games    *game.Service
	Queue    *matchmaking.Queue
	Messages *msgcat.Catalog
	Server   *httpapi.Server

	socket *notify.Socket
}

// Close stops background work and releases the store connection.
func (d *Deps) Close() error {
	if d == nil {
		return nil
	}
	if d.Server != nil {
		d.Server.Close()
	}
	if d.Games != nil {
		d.Games.Wait()
	}
	if d.socket != nil {
		_ = d.socket.Close()
	}
	if d.Store == nil {
		return nil
	}
	return d.Store.Close()
}

func New(ctx context.Context, cfg *config.AppConfig) (*Deps, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}

	st, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	msgs, err := msgcat.New(cfg.MessagesDir)
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("load messages: %w", err)
	}

	games, err := game.NewService(st, game.Config{
		RateTimeoutWins:  cfg.RateTimeoutWins,
		DefaultTimeLimit: cfg.DefaultTimeLimit,
	})
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	games.AttachRenderer(render.NewRenderer())

	queue := matchmaking.NewQueue(st)

	deps := &Deps{Store: st, Games: games, Queue: queue, Messages: msgs}
	if sender := deps.notifySender(cfg); sender != nil {
		n := notify.NewRoomNotifier(sender, cfg.NotifyRoom, msgs)
		games.AttachNotifier(n)
		queue.AttachNotifier(n)
	}

	deps.Server = httpapi.NewServer(games, queue, msgs)
	deps.Server.EnableRateLimit(cfg.RateLimitRPS, cfg.RateLimitBurst)

	obslog.L().Info("app_wired",
		zap.String("store", cfg.StoreBackend),
		zap.Duration("default_time_limit", cfg.DefaultTimeLimit),
		zap.Bool("rate_timeout_wins", cfg.RateTimeoutWins),
		zap.Bool("notify", cfg.NotifyEnabled()),
		zap.Float64("rate_limit_rps", cfg.RateLimitRPS),
	)
	return deps, nil
}

// notifySender prefers the WebSocket transport when configured and falls
// back to HTTP delivery when both are set.
func (d *Deps) notifySender(cfg *config.AppConfig) notify.Sender {
	var httpSender notify.Sender
	if cfg.NotifyURL != "" {
		httpSender = notify.NewClient(cfg.NotifyURL)
	}
	if cfg.NotifyWSURL == "" {
		return httpSender
	}
	d.socket = notify.NewSocket(cfg.NotifyWSURL)
	if httpSender == nil {
		return d.socket
	}
	return notify.Fallback{Primary: d.socket, Secondary: httpSender}
}

func openStore(ctx context.Context, cfg *config.AppConfig) (store.Store, error) {
	switch cfg.StoreBackend {
	case config.BackendRedis:
		cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		rdb, err := store.OpenRedis(cctx, cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("init redis store: %w", err)
		}
		return store.NewRedisStore(rdb, cfg.GameTTL), nil
	case config.BackendPostgres:
		st, err := store.OpenPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("init postgres store: %w", err)
		}
		return st, nil
	case config.BackendMemory:
		obslog.L().Warn("memory_store", zap.String("note", "state is lost on restart"))
		return store.NewMemoryStore(), nil
	}
	return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
}

package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/park285/cheese-connect/internal/appbuilder"
	appcfg "github.com/park285/cheese-connect/internal/config"
	"github.com/park285/cheese-connect/internal/obslog"
)

func main() {
	if err := obslog.InitFromEnv(); err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer obslog.Sync()

	cfg, err := appcfg.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deps, err := appbuilder.New(ctx, cfg)
	if err != nil {
		log.Fatalf("init error: %v", err)
	}
	defer func() {
		if err := deps.Close(); err != nil {
			obslog.L().Warn("store_close", zap.Error(err))
		}
	}()

	srv := &fasthttp.Server{
		Handler:      deps.Server.Handler(),
		Name:         "connect-server",
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		obslog.L().Info("http_listen", zap.String("addr", cfg.ListenAddr))
		return srv.ListenAndServe(cfg.ListenAddr)
	})
	g.Go(func() error {
		<-gctx.Done()
		obslog.L().Info("shutdown")
		sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.ShutdownWithContext(sctx)
	})
	if err := g.Wait(); err != nil {
		obslog.L().Error("http_serve", zap.Error(err))
	}
}

package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/daovote/govdash/src/aggregator"
	"github.com/daovote/govdash/src/config"
	"github.com/daovote/govdash/src/data"
	"github.com/daovote/govdash/src/notify"
	"github.com/daovote/govdash/src/scheduler"
	"github.com/daovote/govdash/src/sources"
	"github.com/daovote/govdash/src/sources/discourse"
	"github.com/daovote/govdash/src/sources/snapshot"
	"github.com/daovote/govdash/src/sources/tally"
	"github.com/daovote/govdash/src/store"
	"github.com/daovote/govdash/src/webpush"
	"github.com/daovote/govdash/src/webserver"
)

func main() {
	cfg := config.Load()

	db := data.MustMySQL(cfg.MySQLDSN)
	data.Migrate(db)
	rdb := data.MustRedis(cfg.RedisURL)

	adapters := []sources.Adapter{
		tally.New(cfg.TallyAPIKey, cfg.TallyOrgSlug),
		snapshot.New(cfg.SnapshotSpace),
		discourse.New(cfg.ForumURL, cfg.ForumCategory),
	}
	agg := aggregator.New(adapters...)
	st := store.New(db)

	push, err := webpush.NewTransport(cfg.VAPIDSubject, cfg.VAPIDPublicKey, cfg.VAPIDPrivateKey)
	if err != nil {
		log.Fatalf("vapid: %v", err)
	}
	notifier := notify.New(st, push, rdb, cfg.BaseURL)
	pipeline := scheduler.NewPipeline(st, adapters, notifier)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.PollInterval > 0 {
		go pipeline.Start(ctx, time.Duration(cfg.PollInterval)*time.Minute)
	}

	router := webserver.New(cfg, webserver.Deps{
		Aggregator: agg,
		Adapters:   adapters,
		Store:      st,
		Notifier:   notifier,
		Pipeline:   pipeline,
		Push:       push,
	})
	httpSrv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		log.Printf("govdash listening on :%s", cfg.Port)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http: %v", err)
		}
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	<-sigs

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown: %v", err)
	}
}

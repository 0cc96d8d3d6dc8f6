package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/wyliodrin/async-tracing-monitor/internal/config"
	"github.com/wyliodrin/async-tracing-monitor/internal/instrument"
	"github.com/wyliodrin/async-tracing-monitor/internal/journal"
	"github.com/wyliodrin/async-tracing-monitor/internal/orchestrator"
	"github.com/wyliodrin/async-tracing-monitor/internal/stateengine"
	"github.com/wyliodrin/async-tracing-monitor/internal/store/jsonfile"
	"github.com/wyliodrin/async-tracing-monitor/internal/uiserver"
)

var version = "dev"

func main() {
	fmt.Printf("async-tracing-monitor %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	if err := os.MkdirAll(cfg.StorageDir, 0o755); err != nil {
		log.Fatalf("storage dir: %v", err)
	}

	db, err := jsonfile.Open(cfg.StorageDir)
	if err != nil {
		log.Printf("store: %v — starting from an empty store (spec.md §4.2 fallback)", err)
		db = jsonfile.New(cfg.StorageDir)
	}

	j, err := journal.Open(cfg.JournalPath())
	if err != nil {
		log.Fatalf("journal: %v", err)
	}
	defer j.Close()

	engine := stateengine.New(db)
	defer engine.Close()

	orch := orchestrator.New(engine, instrument.NewGRPCDialer(), j, nil)
	handler, ui := uiserver.New(orch)
	orch.SetSnapshotSink(ui.Broadcast)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	orch.ReconcilePIDs(ctx)
	orch.ReconnectAll(ctx)

	go orch.Run(ctx)

	srv := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: handler,
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Printf("listening on %s", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http: %v", err)
		}
	}()

	<-sigCh
	log.Println("shutting down…")
	cancel()

	shutCtx, shutCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutCancel()
	if err := srv.Shutdown(shutCtx); err != nil {
		log.Printf("shutdown: %v", err)
	}
}

package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"auditcore.org/internal/httpapi"
	"auditcore.org/internal/obs"
	"auditcore.org/internal/rbac"
	"auditcore.org/internal/store/memory"
	"auditcore.org/internal/store/pg"
)

var version = "0.3.1"

func main() {
	obs.Init()

	// PostgreSQL when a DSN is configured, in-memory store otherwise
	// (local development and demos).
	var (
		store rbac.Store
		db    *sql.DB
	)
	if dsn := os.Getenv("AUDITCORE_PG_DSN"); dsn != "" {
		pgStore, err := pg.Open(dsn)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		store = pgStore
		db = pgStore.DB()
	} else {
		log.Println("AUDITCORE_PG_DSN not set, using in-memory store")
		store = memory.NewStore()
	}

	svc, err := rbac.NewService(store)
	if err != nil {
		log.Fatalf("init service: %v", err)
	}

	api := httpapi.New(httpapi.ReadyProbe{DB: db}, version, svc)

	srv := &http.Server{
		Addr:              ":8080",
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting auditcore-api %s on %s", version, srv.Addr)

	// graceful shutdown
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	if db != nil {
		_ = db.Close()
	}
	log.Println("Stopped")
}

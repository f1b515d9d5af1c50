package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
)

func main() {
	logger := log.New(os.Stdout, "doccrud ", log.LstdFlags|log.Lmicroseconds)
	ctx := context.Background()

	cfg, err := loadConfig(os.Getenv)
	if err != nil {
		logger.Fatalf("invalid configuration: %v", err)
	}

	connectCtx, cancelConnect := context.WithTimeout(ctx, 10*time.Second)
	store, err := openStore(connectCtx, cfg)
	cancelConnect()
	if err != nil {
		logger.Fatalf("could not open %s store: %v", cfg.Backend, err)
	}
	logger.Printf("connected to %s store", cfg.Backend)

	if err := ensureIndexes(ctx, store); err != nil {
		// the duplicate check on create still applies without the constraint
		logger.Printf("could not ensure unique constraints: %v", err)
	}

	server := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      newAPI(store, logger),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Printf("server is listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("could not listen: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit
	logger.Println("server is shutting down")

	ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctxShutdown); err != nil {
		logger.Printf("server forced to shutdown: %v", err)
	}
	if err := store.Close(ctxShutdown); err != nil {
		logger.Printf("could not close store: %v", err)
	}

	logger.Println("server stopped")
}

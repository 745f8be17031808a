package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/lcalzada-xor/snuffle/internal/app"
	"github.com/lcalzada-xor/snuffle/internal/config"
)

func main() {
	cfg := config.Load()

	application, err := app.New(cfg)
	if err != nil {
		log.Fatalf("startup failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("shutting down...")
		cancel()
	}()

	if err := application.Run(ctx); err != nil {
		log.Fatalf("run failed: %v", err)
	}
}

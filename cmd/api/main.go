package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/DandaAkhilReddy/agentchains-sub001/internal/app/bootstrap"
)

// API process entrypoint.
// Data flow:
// 1) Load config.
// 2) Build module wiring (ports + adapters + transfer engine).
// 3) Serve until interrupted.
func main() {
	log.Println("agentchains billing ledger starting")
	app, err := bootstrap.BuildAPI()
	if err != nil {
		log.Fatalf("bootstrap api failed: %v", err)
	}
	defer func() {
		if err := app.Close(); err != nil {
			log.Printf("api shutdown close failed: %v", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := app.Run(ctx); err != nil {
		log.Fatalf("agentchains billing ledger stopped with error: %v", err)
	}
}

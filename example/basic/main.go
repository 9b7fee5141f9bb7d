package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/ghalamif/AegisBridge"
)

func main() {
	flow, err := aegisbridge.Conf("../../data/bridge.yaml")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := flow.Run(ctx); err != nil {
		log.Fatalf("bridge exited: %v", err)
	}
}

package main

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/ghalamif/AegisBridge/pkg/aegisbridge"
)

func main() {
	flow, err := aegisbridge.Conf("../../data/bridge.yaml")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	flow.Config().Report.Console = false

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	flow.OnCycle("stdout", func(r *aegisbridge.Report) error {
		fmt.Printf("%s cycle=%d elapsed=%.4fs failures=%d overrun=%t\n",
			r.Started.Format(time.RFC3339Nano),
			r.CycleIndex,
			r.ElapsedSeconds(),
			r.Failures(),
			r.Overrun,
		)
		return nil
	})

	if err := flow.Run(ctx); err != nil {
		log.Fatalf("runtime error: %v", err)
	}
}

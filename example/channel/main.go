package main

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"sync"
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

	reporter, reports, closeReports := aegisbridge.NewChannelReporter("failures", 32)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		failureWorker(reports)
	}()

	err = flow.Run(ctx, aegisbridge.WithReporter(reporter))
	closeReports()
	wg.Wait()
	if err != nil {
		log.Fatalf("runtime error: %v", err)
	}
}

func failureWorker(reports <-chan *aegisbridge.Report) {
	for r := range reports {
		for _, res := range r.Results {
			if !res.Ok() {
				fmt.Printf("cycle %d: %s %s -> %s: %v\n", r.CycleIndex, res.Kind, res.Link.SourceTag, res.Link.TargetTag, res.Err)
			}
		}
	}
}

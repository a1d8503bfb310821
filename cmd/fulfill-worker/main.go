package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/BearBump/FulfillBox/config"
)

func main() {
	cfg, err := config.LoadConfig(os.Getenv("configPath"))
	if err != nil {
		panic(fmt.Sprintf("failed to parse config, %v", err))
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	opts := workerOpts{swaggerPath: os.Getenv("swaggerPath")}

	if err := RunFulfillWorker(ctx, cfg, defaultWorkerFactories(), opts); err != nil && err != context.Canceled {
		panic(err)
	}
}

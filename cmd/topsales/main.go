package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"mit.edu/dsg/topsales/cmd/topsales/cmd"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := cmd.RootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"chainweaver/internal/cli"
)

func main() {
	// Cancelling stops scheduling new steps; running actions finish.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := cli.Run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

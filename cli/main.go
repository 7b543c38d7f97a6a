package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := newApp()
	if err := a.rootCmd().ExecuteContext(ctx); err != nil {
		newPrinter(os.Stdout, os.Stderr).Error(err)
		stop()
		os.Exit(1)
	}
}

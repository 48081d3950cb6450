package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/cookidump/cookidump/cmd"
)

func main() {
	// a second signal kills the process the default way
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	cmd.Execute(ctx)
}

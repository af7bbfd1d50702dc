// lt2 exposes a local HTTP server to the internet through a relay.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"lt2/cmd"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := cmd.Execute(ctx, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "lt2: %v\n", err)
		os.Exit(1)
	}
}

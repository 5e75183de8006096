// Copyright 2026 The Tessera Authors
// SPDX-License-Identifier: Apache-2.0

// Tessera administers a Tessera repository.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/tessera-data/tessera/cmd/tessera/commands"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return commands.Root(os.Stdout, os.Stderr).Execute(ctx, os.Args[1:])
}

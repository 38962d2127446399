package main

import (
	"context"
	"fmt"
	"os"

	"github.com/transcribomatic/gateway/cmd"
)

func main() {
	app := cmd.RootCommand()

	if err := app.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

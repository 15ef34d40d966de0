package main

import (
	"fmt"
	"os"

	"github.com/hitoshi/ballotgate/internal/app"
)

func main() {
	if err := app.Execute(os.Stdout, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "ballotgate: %v\n", err)
		os.Exit(1)
	}
}

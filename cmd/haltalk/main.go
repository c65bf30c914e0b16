package main

import (
	"fmt"
	"os"

	"github.com/drblury/haltalk/internal/cli"
)

func main() {
	if err := cli.BuildCLI().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "haltalk:", err)
		os.Exit(1)
	}
}

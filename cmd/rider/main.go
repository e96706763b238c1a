package main

import (
	"fmt"
	"os"

	"github.com/asquebay/zuvees-sync/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "rider:", err)
		os.Exit(1)
	}
}

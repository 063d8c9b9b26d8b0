package main

import (
	"os"

	"github.com/stock-sync/internal/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
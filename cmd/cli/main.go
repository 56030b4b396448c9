package main

import (
	"os"

	"github.com/br00tm/infrawatch/internal/cli/commands"
)

func main() {
	if err := commands.NewRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

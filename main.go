package main

import (
	"os"

	"github.com/cychiuae/syvault/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

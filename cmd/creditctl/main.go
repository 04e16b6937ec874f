package main

import (
	"os"

	"github.com/inaiurai/credits/cmd/creditctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

package main

import (
	"os"

	"github.com/rustyeddy/fxassist/cmd/fxassist/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

package main

import (
	"os"

	"github.com/solatis/aadnode/cmd/aadnode/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

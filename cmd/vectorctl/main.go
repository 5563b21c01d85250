package main

import (
	"os"

	"github.com/Zereker/vectorstore/cmd/vectorctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

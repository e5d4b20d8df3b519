package main

import (
	"os"

	"github.com/srilekha18-11/RAG/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}

package main

import (
	"os"

	"github.com/MHGanainy/mvp-backend-sub000/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}

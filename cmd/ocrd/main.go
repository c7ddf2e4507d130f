package main

import (
	"os"

	"ocrd/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}

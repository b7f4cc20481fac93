package main

import (
	"os"

	"graphedit/internal/ui/cli"
)

func main() {
	os.Exit(cli.Run(os.Args[1:]))
}

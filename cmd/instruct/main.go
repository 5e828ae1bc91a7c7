package main

import (
	"os"

	"Instruct/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}

package main

import (
	"os"

	"github.com/kuhlman-labs/mgit/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}

package main

import (
	"os"

	"github.com/auditmesh/consensus/apps/auditctl/cli"
)

func main() {
	os.Exit(cli.Run())
}

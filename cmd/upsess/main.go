// upsess - resumable upload session engine CLI
package main

import (
	"os"

	"github.com/rescale/upsess/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}

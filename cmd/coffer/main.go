// Command coffer runs the Coffer credit economy service.
package main

import (
	"fmt"
	"os"

	"github.com/xraph/coffer/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "coffer:", err)
		os.Exit(1)
	}
}

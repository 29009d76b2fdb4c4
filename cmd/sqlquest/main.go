// Sqlquest evaluates SQL learning exercises in sandbox databases.
package main

import (
	"fmt"
	"os"

	"github.com/swamp-dev/sqlquest/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

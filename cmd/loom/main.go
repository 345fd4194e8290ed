// loom prepares and compiles mobile app platforms.
package main

import (
	"os"

	"loom/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}

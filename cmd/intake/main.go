// Command intake runs a patient intake interview in the terminal.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"waitroom-intake/cmd/intake/commands"
)

// Version information (set at build time)
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	_ = godotenv.Load()
	commands.SetVersion(version, commit, date)

	if err := commands.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// cortex is the CLI for the cortex personal AI agent supervisor.
package main

import (
	"os"

	"github.com/metahuman-os/cortex/internal/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}

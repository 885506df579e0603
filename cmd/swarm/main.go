// Command swarm supervises long-running interactive agent processes.
package main

import (
	"os"

	"github.com/agentswarm/swarm/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}

// dock is the drydock CLI for managing agent terminal sessions.
package main

import (
	"github.com/drydock-sh/drydock/internal/cli"
)

func main() {
	cli.Execute()
}

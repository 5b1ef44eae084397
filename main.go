// The main package for the follower-audit executable.
package main

import (
	"github.com/JakeFAU/follower-audit/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}

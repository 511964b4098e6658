// The main package for the navguard executable.
package main

import (
	"github.com/navguard/navguard/cmd"
)

// main is the entry point of the application.
// It defers all execution to the Cobra CLI library.
func main() {
	cmd.Execute()
}

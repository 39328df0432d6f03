// The main package for the genealogy-crawler executable.
package main

import (
	"github.com/JakeFAU/genealogy-crawler/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}

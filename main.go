// The main package for the disclosure-monitor executable.
package main

import (
	"os"

	"github.com/JakeFAU/disclosure-monitor/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}

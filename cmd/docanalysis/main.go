// Package main provides the entry point for the docanalysis CLI.
package main

import (
	"os"

	"github.com/mythorath/DocAnalysisTool/cmd/docanalysis/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}

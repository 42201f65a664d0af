// DevQA API server: test management with live execution updates.
package main

import (
	"os"

	"devqa/api/cmd/api/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

package main

import (
	"os"

	"ErrandDispatchPlatform/services/tracker-agent/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

package main

import (
	"os"

	"github.com/sireskandari/Aransite/cmd/timelapsed/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

package main

import (
	"os"

	"notify-realtime/cmd/notifyctl/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}

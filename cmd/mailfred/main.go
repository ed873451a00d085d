package main

import (
	"fmt"
	"os"

	"mailfred-go/cmd/mailfred/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

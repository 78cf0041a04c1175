// Package main provides the entry point for the chat CLI.
package main

import (
	"fmt"
	"os"

	"github.com/Searchable-no/searchableapp-sub001/cmd/chat/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

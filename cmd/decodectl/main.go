// Command decodectl works with descriptor rule tables and token streams
// offline: it validates a table, shows how a code resolves in a given
// context, and decodes streams read from a file or stdin.
package main

import (
	"fmt"
	"os"
)

func main() {
	rootCmd := NewRootCommand(os.Stdin, os.Stdout, os.Stderr)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// Command typesync keeps a local copy of a Monkeytype account's typing test
// results up to date and serves a progress dashboard over it.
package main

import "os"

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

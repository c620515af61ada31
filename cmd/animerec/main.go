// Command animerec builds the anime catalogue index and serves recommendations
// from the command line, a terminal UI, or a small web front end.
package main

import "os"

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

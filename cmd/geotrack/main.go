// ABOUTME: Entry point for the geotrack CLI
// ABOUTME: Executes the root command and maps failure to a non-zero exit code

package main

import "os"

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// Package main is the plugin hub entry point: the HTTP server and the
// operator CLI share one binary.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// Package main is the entry point for the fabric packet stream tool.
package main

import (
	"fmt"
	"os"

	"github.com/msg-fabric/msg-fabric-packet-stream-sub000/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

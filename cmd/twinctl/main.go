// Package main is twinctl, an offline companion to semtwin. It evaluates
// selector documents against twin dumps, validates selectors and derived
// rule files and prints the data subjects a selector subscribes to.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := NewRootCommand().Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

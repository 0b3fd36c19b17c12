// Package main provides callsim, a command-line driver that runs a scripted
// call session against in-memory collaborators.
//
// It exercises the whole session stack: joining, device acquisition with
// retry, active speaker focus, manual pinning, recording to a directory and
// teardown. Use it to inspect log output and layout transitions without a
// media environment.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

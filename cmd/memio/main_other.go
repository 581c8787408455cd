//go:build !((linux && !android) || darwin)

package main

import (
	"fmt"
	"os"
)

// The inspection CLI works over manifest files and region files, which only
// exist on the POSIX file-backed platform.
func main() {
	fmt.Fprintln(os.Stderr, "memio: the inspection CLI is only available on POSIX platforms")
	os.Exit(1)
}

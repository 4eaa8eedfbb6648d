// Command senseid runs a Sensei index node.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "senseid:", err)
		os.Exit(1)
	}
}

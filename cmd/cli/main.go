// Command crmsync runs sync and publish jobs from schedulers and operator shells.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := NewRootCommand(nil).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

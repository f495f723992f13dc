// Command gateway routes OCR uploads to GPU-pinned backends chosen by the
// client and keeps track of which of them are healthy.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

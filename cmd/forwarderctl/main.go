// Command forwarderctl runs the forwarding pipeline outside Lambda: forward a
// stored message, rewrite local message files, or receive mail over SMTP.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}

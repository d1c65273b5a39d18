// Command scanflow submits website audits to the backend and follows them to
// completion, from the terminal or through a local HTTP API.
package main

import "os"

func main() {
	if err := Execute(); err != nil {
		os.Exit(1)
	}
}

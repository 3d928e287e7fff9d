// Command callbridge answers Twilio phone calls and talks to the caller
// through a speech-to-text, chat completion and text-to-speech loop.
//
// Usage:
//
//	callbridge [serve] [--env-file .env]
//	callbridge persona [--file persona.yaml]
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

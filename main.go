package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := execute(rootCmd); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// execute runs cmd and releases the app opened by the pre-run hook whether or
// not the command failed. Cobra skips post-run hooks after an error.
func execute(cmd *cobra.Command) error {
	defer func() {
		if current != nil {
			current.close()
			current = nil
		}
	}()
	return cmd.Execute()
}

// maskString masks sensitive information for logging
func maskString(s string) string {
	if s == "" {
		return "(none)"
	}
	if len(s) <= 8 {
		return "***"
	}
	return s[:4] + "***" + s[len(s)-4:]
}

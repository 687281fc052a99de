package cli

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
)

var (
	lookupEnv = os.LookupEnv

	promptIn  io.Reader = os.Stdin
	promptOut io.Writer = os.Stderr
)

// IsNonInteractive reports whether prompts should be skipped and defaults used.
func IsNonInteractive() bool {
	if nonInteractive {
		return true
	}
	if _, ok := lookupEnv("DANMU_NON_INTERACTIVE"); ok {
		return true
	}
	return !hasTTY()
}

// IsInteractive reports whether the session can prompt for user input.
func IsInteractive() bool {
	return !IsNonInteractive()
}

// confirm asks a yes/no question. Anything but y or yes is no.
func confirm(prompt string) bool {
	fmt.Fprintf(promptOut, "%s [y/N]: ", prompt)
	line, err := bufio.NewReader(promptIn).ReadString('\n')
	if err != nil && line == "" {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true
	default:
		return false
	}
}

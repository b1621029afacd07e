// Package util holds small terminal helpers shared by the commands.
package util

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
)

// AskYN prompts the user for yes/no confirmation
func AskYN(prompt string, defaultYes bool) bool {
	return Ask(os.Stdin, os.Stdout, prompt, defaultYes)
}

// Ask writes prompt to w and reads one answer line from r. An empty answer
// or end of input returns defaultYes.
func Ask(r io.Reader, w io.Writer, prompt string, defaultYes bool) bool {
	if defaultYes {
		fmt.Fprintf(w, "%s [Y/n]: ", prompt)
	} else {
		fmt.Fprintf(w, "%s [y/N]: ", prompt)
	}

	response, _ := bufio.NewReader(r).ReadString('\n')
	response = strings.ToLower(strings.TrimSpace(response))

	if response == "" {
		return defaultYes
	}

	return response == "y" || response == "yes"
}

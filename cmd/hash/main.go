// Package main prints the bcrypt hash of a password read from stdin, in the form the
// users table stores, for seeding accounts without running the server.
package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/api-monitor/api-monitor/internal/identity"
)

func main() {
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		fmt.Fprintf(os.Stderr, "failed to read password: %v\n", err)
		os.Exit(1)
	}

	hash, err := identity.HashPassword(strings.TrimRight(line, "\r\n"))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	fmt.Println(hash)
}
